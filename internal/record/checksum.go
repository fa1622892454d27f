package record

import (
	"crypto/subtle"

	"lukechampine.com/blake3"
)

// CalculateChecksum computes the BLAKE3-256 digest of key followed by the
// stored (encrypted) value.
func CalculateChecksum(key, value []byte) [ChecksumSize]byte {
	var sum [ChecksumSize]byte
	h := blake3.New(ChecksumSize, nil)
	h.Write(key)
	h.Write(value)
	h.Sum(sum[:0])
	return sum
}

// ValidateChecksum returns true if the provided checksum matches the digest of the key-value pair
func ValidateChecksum(key, value []byte, checksum [ChecksumSize]byte) bool {
	expected := CalculateChecksum(key, value)
	return subtle.ConstantTimeCompare(expected[:], checksum[:]) == 1
}
