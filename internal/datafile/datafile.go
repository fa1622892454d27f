// Package datafile implements the append-only log backing a store: a single
// file of records written back to back, read either positionally or by a
// sequential checksum-verified scan.
package datafile

import (
	"bufio"
	"errors"
	"io"
	"iter"
	"os"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/0xRadioAc7iv/go-akvdb/internal/record"
	"github.com/0xRadioAc7iv/go-akvdb/internal/utils"
)

type Datafile struct {
	path       string
	syncWrites bool
	logger     *zap.Logger

	mu sync.Mutex // for f and every write to it
	f  *os.File
}

type Option func(*Datafile)

// WithSyncWrites makes every Append fsync before returning.
func WithSyncWrites(sync bool) Option {
	return func(d *Datafile) {
		d.syncWrites = sync
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(d *Datafile) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// Open opens the datafile at path for reading and appending, creating it
// if it does not exist.
func Open(path string, opts ...Option) (*Datafile, error) {
	d := &Datafile{path: path, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(d)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, &IOError{Op: "open", Path: path, Err: err}
	}
	d.f = f

	d.logger.Debug("opened datafile", zap.String("path", path), zap.Bool("syncWrites", d.syncWrites))
	return d, nil
}

func (d *Datafile) Path() string {
	return d.path
}

// Append writes data at the end of the file and returns the offset of its
// first byte.
//
// End-of-file is queried under the same lock that guards the write, so the
// returned offset never depends on where an earlier read left the cursor.
// A failed write is rolled back to the previous end of file.
func (d *Datafile) Append(data []byte) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.f == nil {
		return 0, ErrClosed
	}

	offset, err := d.f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, &IOError{Op: "seek", Path: d.path, Err: err}
	}

	if _, err := d.f.Write(data); err != nil {
		if terr := utils.TruncateAt(d.f, offset); terr != nil {
			d.logger.Error("could not roll back partial append",
				zap.String("path", d.path), zap.Int64("offset", offset), zap.Error(terr))
		}
		return 0, &IOError{Op: "write", Path: d.path, Err: err}
	}

	if d.syncWrites {
		if err := d.f.Sync(); err != nil {
			return 0, &IOError{Op: "sync", Path: d.path, Err: err}
		}
	}

	return offset, nil
}

// file returns the open handle together with the current file size.
func (d *Datafile) file() (*os.File, int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.f == nil {
		return nil, 0, ErrClosed
	}
	info, err := d.f.Stat()
	if err != nil {
		return nil, 0, &IOError{Op: "stat", Path: d.path, Err: err}
	}
	return d.f, info.Size(), nil
}

// Size returns the current length of the file in bytes.
func (d *Datafile) Size() (int64, error) {
	_, size, err := d.file()
	return size, err
}

// readErr classifies an error from record.ReadRecord. Truncation and
// checksum failures keep their identity, anything else came from the file.
func (d *Datafile) readErr(offset int64, err error) error {
	if !errors.Is(err, record.ErrTruncated) && !errors.Is(err, record.ErrCorrupted) {
		err = &IOError{Op: "read", Path: d.path, Err: err}
	}
	return &OffsetError{Offset: offset, Err: err}
}

// ReadRecordAt reads and verifies the raw record starting at offset.
// Reads go through pread and never move the shared file cursor.
func (d *Datafile) ReadRecordAt(offset int64) (*record.DiskRecord, error) {
	f, size, err := d.file()
	if err != nil {
		return nil, err
	}
	if offset < 0 || offset >= size {
		return nil, &OffsetError{Offset: offset, Err: ErrNoRecord}
	}

	rec, err := record.ReadRecord(bufio.NewReader(io.NewSectionReader(f, offset, size-offset)))
	if err != nil {
		return nil, d.readErr(offset, err)
	}
	return rec, nil
}

// ReadAt reads, verifies and decrypts the record starting at offset.
func (d *Datafile) ReadAt(offset int64, o record.Opener) (*record.KeyValuePair, error) {
	rec, err := d.ReadRecordAt(offset)
	if err != nil {
		return nil, err
	}

	kv, err := rec.Open(o)
	if err != nil {
		return nil, &OffsetError{Offset: offset, Err: err}
	}
	return kv, nil
}

// ScanRecords returns an iterator over the raw records starting at from,
// each paired with its starting offset. Checksums are verified but values
// stay encrypted.
//
// The scan is bounded by the file size at the moment iteration starts and
// may be restarted by ranging over the sequence again. It stops at a clean
// end of file; on any other failure it stops and the error is available
// from the returned function.
func (d *Datafile) ScanRecords(from int64) (iter.Seq2[int64, *record.DiskRecord], func() error) {
	var scanErr error

	seq := func(yield func(int64, *record.DiskRecord) bool) {
		scanErr = nil

		f, size, err := d.file()
		if err != nil {
			scanErr = err
			return
		}
		if from < 0 || from > size {
			scanErr = &OffsetError{Offset: from, Err: ErrNoRecord}
			return
		}

		reader := bufio.NewReader(io.NewSectionReader(f, from, size-from))
		offset := from

		for {
			rec, err := record.ReadRecord(reader)
			if err == io.EOF {
				return
			}
			if err != nil {
				scanErr = d.readErr(offset, err)
				return
			}

			if !yield(offset, rec) {
				return
			}
			offset += rec.Size()
		}
	}

	return seq, func() error { return scanErr }
}

// Scan is ScanRecords with every value decrypted through o. A value that
// fails to decrypt stops the scan.
func (d *Datafile) Scan(from int64, o record.Opener) (iter.Seq2[int64, *record.KeyValuePair], func() error) {
	records, recordsErr := d.ScanRecords(from)
	var openErr error

	seq := func(yield func(int64, *record.KeyValuePair) bool) {
		openErr = nil

		for offset, rec := range records {
			kv, err := rec.Open(o)
			if err != nil {
				openErr = &OffsetError{Offset: offset, Err: err}
				return
			}
			if !yield(offset, kv) {
				return
			}
		}
	}

	return seq, func() error {
		if openErr != nil {
			return openErr
		}
		return recordsErr()
	}
}

// Truncate cuts the file down to offset. Used to drop a torn record left by
// an interrupted write.
func (d *Datafile) Truncate(offset int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.f == nil {
		return ErrClosed
	}
	if err := utils.TruncateAt(d.f, offset); err != nil {
		return &IOError{Op: "truncate", Path: d.path, Err: err}
	}
	return nil
}

func (d *Datafile) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.f == nil {
		return ErrClosed
	}
	if err := d.f.Sync(); err != nil {
		return &IOError{Op: "sync", Path: d.path, Err: err}
	}
	return nil
}

// Close syncs and releases the file. Calling it more than once is a no-op.
func (d *Datafile) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.f == nil {
		return nil
	}

	err := multierr.Append(d.f.Sync(), d.f.Close())
	d.f = nil
	if err != nil {
		return &IOError{Op: "close", Path: d.path, Err: err}
	}
	return nil
}
