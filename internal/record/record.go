package record

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/0xRadioAc7iv/go-akvdb/internal/secret"
)

const (
	ChecksumSize = 32
	NonceSize    = secret.NonceSize

	// Checksum (32) + Nonce (12) + KeySize (4) + ValueSize (4)
	HeaderSize = ChecksumSize + NonceSize + 4 + 4
)

// largest body chunk allocated up front; the rest grows as bytes arrive
const maxBodyPrealloc = 1 << 20

var (
	// ErrTruncated reports a stream that ended partway through a record.
	ErrTruncated = errors.New("record truncated")
	// ErrCorrupted reports a complete record whose checksum does not match.
	ErrCorrupted = errors.New("record checksum mismatch")
	ErrTooLarge  = errors.New("record field exceeds 4GiB")
)

// Sealer encrypts a value under a fresh nonce.
type Sealer interface {
	Encrypt(plaintext []byte) ([]byte, [NonceSize]byte, error)
}

// Opener decrypts a value sealed by a Sealer.
type Opener interface {
	Decrypt(ciphertext []byte, nonce [NonceSize]byte) ([]byte, error)
}

// DiskRecord is one framed entry of the log exactly as stored on disk.
type DiskRecord struct {
	Checksum  [ChecksumSize]byte // BLAKE3 of Key ++ Value
	Nonce     [NonceSize]byte
	KeySize   uint32 // Length of Key in Bytes
	ValueSize uint32 // Length of the encrypted Value in Bytes, tag included
	Key       []byte // plaintext
	Value     []byte // ciphertext
}

// KeyValuePair is the decoded view of a DiskRecord, with Value decrypted.
type KeyValuePair struct {
	Key   []byte
	Value []byte
}

// Size returns the number of bytes the record occupies in the log.
func (r *DiskRecord) Size() int64 {
	return HeaderSize + int64(r.KeySize) + int64(r.ValueSize)
}

// CreateRecord encrypts value and frames it together with key.
func CreateRecord(key, value []byte, s Sealer) (*DiskRecord, error) {
	if uint64(len(key)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: key is %d bytes", ErrTooLarge, len(key))
	}

	ciphertext, nonce, err := s.Encrypt(value)
	if err != nil {
		return nil, err
	}
	if uint64(len(ciphertext)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: value is %d bytes", ErrTooLarge, len(ciphertext))
	}

	return &DiskRecord{
		Checksum:  CalculateChecksum(key, ciphertext),
		Nonce:     nonce,
		KeySize:   uint32(len(key)),
		ValueSize: uint32(len(ciphertext)),
		Key:       key,
		Value:     ciphertext,
	}, nil
}

func EncodeRecordToBytes(record *DiskRecord) ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.Grow(int(record.Size()))

	buf.Write(record.Checksum[:])
	buf.Write(record.Nonce[:])
	if err := binary.Write(buf, binary.LittleEndian, record.KeySize); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, record.ValueSize); err != nil {
		return nil, err
	}
	buf.Write(record.Key)
	buf.Write(record.Value)

	return buf.Bytes(), nil
}

// Encode encrypts value and returns the complete on-disk bytes of a record.
func Encode(key, value []byte, s Sealer) ([]byte, error) {
	rec, err := CreateRecord(key, value, s)
	if err != nil {
		return nil, err
	}
	return EncodeRecordToBytes(rec)
}

// ReadRecord reads one record from r and verifies its checksum.
//
// It returns io.EOF, unwrapped, when r is exhausted exactly at a record
// boundary. A stream ending anywhere inside the header or body yields
// ErrTruncated. A full record with a bad checksum yields ErrCorrupted.
func ReadRecord(r io.Reader) (*DiskRecord, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%w: partial header", ErrTruncated)
		}
		return nil, err
	}

	rec := &DiskRecord{}
	copy(rec.Checksum[:], header[:ChecksumSize])
	copy(rec.Nonce[:], header[ChecksumSize:ChecksumSize+NonceSize])
	rec.KeySize = binary.LittleEndian.Uint32(header[ChecksumSize+NonceSize:])
	rec.ValueSize = binary.LittleEndian.Uint32(header[ChecksumSize+NonceSize+4:])

	body, err := readBody(r, int64(rec.KeySize)+int64(rec.ValueSize))
	if err != nil {
		return nil, err
	}

	rec.Key = body[:rec.KeySize:rec.KeySize]
	rec.Value = body[rec.KeySize:]

	if !ValidateChecksum(rec.Key, rec.Value, rec.Checksum) {
		return nil, ErrCorrupted
	}
	return rec, nil
}

// readBody reads exactly n bytes without trusting n for the allocation,
// since a damaged length field can claim up to 8GiB.
func readBody(r io.Reader, n int64) ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.Grow(int(min(n, maxBodyPrealloc)))

	copied, err := io.CopyN(buf, r, n)
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("%w: body has %d of %d bytes", ErrTruncated, copied, n)
		}
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeRecordFromBytes(data []byte) (*DiskRecord, error) {
	return ReadRecord(bytes.NewReader(data))
}

// Open decrypts the record's value.
func (r *DiskRecord) Open(o Opener) (*KeyValuePair, error) {
	value, err := o.Decrypt(r.Value, r.Nonce)
	if err != nil {
		return nil, err
	}
	return &KeyValuePair{Key: r.Key, Value: value}, nil
}

// Decode reads, verifies and decrypts one record.
func Decode(r io.Reader, o Opener) (*KeyValuePair, error) {
	rec, err := ReadRecord(r)
	if err != nil {
		return nil, err
	}
	return rec.Open(o)
}
