package datafile

import (
	"errors"
	"fmt"
)

var (
	// ErrNoRecord is returned when an offset does not point inside the datafile.
	ErrNoRecord = errors.New("no record at offset")
	ErrClosed   = errors.New("datafile is closed")
)

// IOError wraps a failed operation on the underlying file.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// OffsetError attaches the starting offset of the record that failed.
type OffsetError struct {
	Offset int64
	Err    error
}

func (e *OffsetError) Error() string {
	return fmt.Sprintf("record at offset %d: %v", e.Offset, e.Err)
}

func (e *OffsetError) Unwrap() error {
	return e.Err
}
