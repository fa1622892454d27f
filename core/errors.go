package core

import (
	"errors"

	"github.com/0xRadioAc7iv/go-akvdb/internal/datafile"
	"github.com/0xRadioAc7iv/go-akvdb/internal/record"
	"github.com/0xRadioAc7iv/go-akvdb/internal/secret"
)

// Every failure returned by a Store matches one of these with errors.Is,
// or IOError with errors.As.
var (
	// ErrTruncated: the datafile ends partway through a record.
	ErrTruncated = record.ErrTruncated
	// ErrCorrupted: a complete record failed its checksum.
	ErrCorrupted = record.ErrCorrupted
	// ErrDecrypt: a value failed authenticated decryption.
	ErrDecrypt = secret.ErrDecrypt
	// ErrInvalidKey: key material of the wrong length or encoding.
	ErrInvalidKey = secret.ErrInvalidKey
	// ErrNotFound: no record at the requested offset.
	ErrNotFound = datafile.ErrNoRecord

	ErrClosed   = datafile.ErrClosed
	ErrNoCipher = errors.New("store requires a cipher")

	// ErrTailTooLarge: torn-tail recovery would drop more than allowed.
	ErrTailTooLarge = errors.New("truncated record is followed by too much data to drop")
)

type (
	// IOError reports a failed operation on the datafile.
	IOError = datafile.IOError
	// OffsetError carries the offset of the record an error refers to.
	OffsetError = datafile.OffsetError
)
