package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	KeySize   = 32 // 256-bit key for both supported algorithms
	NonceSize = 12 // 96-bit nonce, unique per encryption
	Overhead  = 16 // Authentication tag appended to every ciphertext
)

// Algorithm names an authenticated cipher usable by a Cipher.
type Algorithm string

const (
	AES256GCM        Algorithm = "aes-256-gcm"
	ChaCha20Poly1305 Algorithm = "chacha20-poly1305"
)

var (
	ErrInvalidKey           = errors.New("invalid encryption key")
	ErrDecrypt              = errors.New("failed to decrypt data")
	ErrUnsupportedAlgorithm = errors.New("unsupported cipher algorithm")
)

// ParseAlgorithm maps a configuration string to an Algorithm.
// An empty string selects AES-256-GCM.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case "", AES256GCM:
		return AES256GCM, nil
	case ChaCha20Poly1305:
		return ChaCha20Poly1305, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, s)
}

// Cipher holds the symmetric key of a store and performs authenticated
// encryption of single values. It is immutable after construction and
// safe for concurrent use.
//
// Every call to Encrypt draws a fresh random nonce; callers cannot choose
// the nonce, so a nonce is never reused under the same key.
type Cipher struct {
	alg  Algorithm
	aead cipher.AEAD
	rand io.Reader
}

type Option func(*Cipher)

// WithRand replaces the nonce source. Only meant for tests.
func WithRand(r io.Reader) Option {
	return func(c *Cipher) {
		c.rand = r
	}
}

// NewCipher creates an AES-256-GCM cipher from a 32-byte key.
func NewCipher(key []byte, opts ...Option) (*Cipher, error) {
	return NewCipherWith(AES256GCM, key, opts...)
}

// NewCipherWith creates a cipher for the given algorithm from a 32-byte key.
//
// The algorithm is not recorded in the data file. A file written with one
// algorithm fails every decryption when opened with the other.
func NewCipherWith(alg Algorithm, key []byte, opts ...Option) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrInvalidKey, KeySize, len(key))
	}

	var aead cipher.AEAD
	switch alg {
	case AES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		aead, err = cipher.NewGCM(block)
		if err != nil {
			return nil, err
		}
	case ChaCha20Poly1305:
		var err error
		aead, err = chacha20poly1305.New(key)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}

	c := &Cipher{alg: alg, aead: aead, rand: rand.Reader}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Cipher) Algorithm() Algorithm {
	return c.alg
}

// String never includes key material.
func (c *Cipher) String() string {
	return "secret.Cipher(" + string(c.alg) + ")"
}

// Encrypt seals plaintext under a freshly generated nonce and returns the
// ciphertext (plaintext length + Overhead) together with that nonce.
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, [NonceSize]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(c.rand, nonce[:]); err != nil {
		return nil, nonce, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return c.aead.Seal(nil, nonce[:], plaintext, nil), nonce, nil
}

// Decrypt opens ciphertext sealed under nonce. Any authentication failure
// is reported as ErrDecrypt; no partial plaintext is ever returned.
func (c *Cipher) Decrypt(ciphertext []byte, nonce [NonceSize]byte) ([]byte, error) {
	plaintext, err := c.aead.Open(nil, nonce[:], ciphertext, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}
