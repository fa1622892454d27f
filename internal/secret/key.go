package secret

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/eknkc/basex"
)

// KeyEnvVar is the environment variable holding the base62 encoded key.
const KeyEnvVar = "AKVDB_KEY"

const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

var ErrMissingKey = errors.New("encryption key is not set")

var base62 = mustEncoding(base62Alphabet)

func mustEncoding(alphabet string) *basex.Encoding {
	enc, err := basex.NewEncoding(alphabet)
	if err != nil {
		panic(err)
	}
	return enc
}

// EncodeKey returns the base62 text form of key.
func EncodeKey(key []byte) string {
	return base62.Encode(key)
}

// ParseKey decodes a base62 key and checks its length.
// The decode error itself is not wrapped so no part of the text leaks into logs.
func ParseKey(text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrMissingKey
	}
	key, err := base62.Decode(text)
	if err != nil {
		return nil, fmt.Errorf("%w: not valid base62", ErrInvalidKey)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrInvalidKey, KeySize, len(key))
	}
	return key, nil
}

// KeyFromEnv reads and decodes the key stored in KeyEnvVar.
func KeyFromEnv() ([]byte, error) {
	text, ok := os.LookupEnv(KeyEnvVar)
	if !ok {
		return nil, fmt.Errorf("%w: expected a key in %s", ErrMissingKey, KeyEnvVar)
	}
	return ParseKey(text)
}

// GenerateKey returns a fresh random key and its base62 text form.
func GenerateKey() ([]byte, string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, "", fmt.Errorf("failed to generate key: %w", err)
	}
	return key, EncodeKey(key), nil
}
