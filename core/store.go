package core

import (
	"bytes"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/0xRadioAc7iv/go-akvdb/internal/datafile"
	"github.com/0xRadioAc7iv/go-akvdb/internal/record"
	"github.com/0xRadioAc7iv/go-akvdb/internal/secret"
)

// KeyValuePair is a decoded record with its value decrypted.
type KeyValuePair = record.KeyValuePair

var ErrStaleKeyDir = errors.New("keydir entry points at a record for another key")

type Store struct {
	datafile *datafile.Datafile
	cipher   *secret.Cipher
	keyDir   KeyDir
	logger   *zap.Logger
	opts     options
}

// Open opens or creates the datafile at path. The returned Store has an
// empty KeyDir; nothing is read from disk until Load.
func Open(path string, cipher *secret.Cipher, opts ...Option) (*Store, error) {
	if cipher == nil {
		return nil, ErrNoCipher
	}

	o := options{logger: zap.NewNop(), maxTornTail: DefaultMaxTornTail}
	for _, opt := range opts {
		opt(&o)
	}

	df, err := datafile.Open(path,
		datafile.WithSyncWrites(o.syncWrites),
		datafile.WithLogger(o.logger),
	)
	if err != nil {
		return nil, err
	}

	return &Store{
		datafile: df,
		cipher:   cipher,
		keyDir:   make(KeyDir),
		logger:   o.logger,
		opts:     o,
	}, nil
}

func (s *Store) Path() string {
	return s.datafile.Path()
}

// Load rebuilds the KeyDir by scanning the whole datafile. It may be called
// any number of times; each call replaces the KeyDir. On failure the
// previous KeyDir is kept.
func (s *Store) Load() error {
	return s.load(0, make(KeyDir))
}

// LoadFrom replays the records starting at offset onto the current KeyDir.
// It brings a restored snapshot up to date with records written after it.
// offset must be a record boundary. On failure the KeyDir is unchanged.
func (s *Store) LoadFrom(offset int64) error {
	return s.load(offset, s.keyDir.Clone())
}

func (s *Store) load(from int64, keyDir KeyDir) error {
	records := 0

	scan, scanErr := s.datafile.Scan(from, s.cipher)
	for offset, kv := range scan {
		keyDir.Set(kv.Key, offset)
		records++
	}

	if err := scanErr(); err != nil {
		if err := s.recoverTornTail(err); err != nil {
			return err
		}
	}

	s.keyDir = keyDir
	s.logger.Debug("loaded keydir",
		zap.String("path", s.Path()),
		zap.Int64("from", from),
		zap.Int("records", records),
		zap.Int("keys", keyDir.Len()),
	)
	return nil
}

// recoverTornTail truncates the datafile at the record that scanErr reports
// as truncated, if recovery is enabled and the bytes dropped stay within
// the configured limit. Any other error is returned as is.
func (s *Store) recoverTornTail(scanErr error) error {
	var offErr *OffsetError
	if !s.opts.recoverTornTail || !errors.Is(scanErr, ErrTruncated) || !errors.As(scanErr, &offErr) {
		return scanErr
	}

	size, err := s.datafile.Size()
	if err != nil {
		return err
	}
	dropped := size - offErr.Offset

	if dropped > s.opts.maxTornTail {
		s.logger.Error("refusing to drop truncated record, tail is larger than a torn write",
			zap.String("path", s.Path()),
			zap.Int64("offset", offErr.Offset),
			zap.Int64("bytes", dropped),
			zap.Int64("limit", s.opts.maxTornTail),
		)
		return fmt.Errorf("%w: %d bytes after offset %d, limit %d: %w",
			ErrTailTooLarge, dropped, offErr.Offset, s.opts.maxTornTail, scanErr)
	}

	s.logger.Warn("dropping partially written record at end of datafile",
		zap.String("path", s.Path()),
		zap.Int64("offset", offErr.Offset),
		zap.Int64("bytes", dropped),
		zap.Error(scanErr),
	)
	if err := s.datafile.Truncate(offErr.Offset); err != nil {
		return fmt.Errorf("recovering torn tail: %w", err)
	}
	return nil
}

// Get returns the latest value stored for key. A key that was never
// indexed reports ok == false with a nil error. A deleted key is present
// with an empty value.
func (s *Store) Get(key []byte) (value []byte, ok bool, err error) {
	offset, ok := s.keyDir.Lookup(key)
	if !ok {
		return nil, false, nil
	}

	kv, err := s.GetAt(offset)
	if err != nil {
		return nil, false, err
	}
	if !bytes.Equal(kv.Key, key) {
		return nil, false, &OffsetError{Offset: offset, Err: ErrStaleKeyDir}
	}

	return kv.Value, true, nil
}

// GetAt decodes the record starting at offset without consulting the KeyDir.
func (s *Store) GetAt(offset int64) (*KeyValuePair, error) {
	return s.datafile.ReadAt(offset, s.cipher)
}

// Find scans the entire datafile for the last record written for key,
// returning its offset and value. It does not need or touch the KeyDir.
func (s *Store) Find(key []byte) (offset int64, value []byte, ok bool, err error) {
	var found *record.DiskRecord

	// keep going to the end: a later record supersedes an earlier one
	scan, scanErr := s.datafile.ScanRecords(0)
	for at, rec := range scan {
		if bytes.Equal(rec.Key, key) {
			found, offset = rec, at
		}
	}
	if err := scanErr(); err != nil {
		return 0, nil, false, err
	}
	if found == nil {
		return 0, nil, false, nil
	}

	kv, err := found.Open(s.cipher)
	if err != nil {
		return 0, nil, false, &OffsetError{Offset: offset, Err: err}
	}
	return offset, kv.Value, true, nil
}

// Insert encrypts value, appends a new record for key and points the
// KeyDir at it. It returns the offset of the new record.
func (s *Store) Insert(key, value []byte) (int64, error) {
	encoded, err := record.Encode(key, value, s.cipher)
	if err != nil {
		return 0, err
	}

	offset, err := s.datafile.Append(encoded)
	if err != nil {
		return 0, err
	}

	s.keyDir.Set(key, offset)
	return offset, nil
}

// Update is Insert: every write appends a new version.
func (s *Store) Update(key, value []byte) (int64, error) {
	return s.Insert(key, value)
}

// Delete appends an empty value for key. The key stays in the KeyDir and
// reads back as present and empty.
func (s *Store) Delete(key []byte) (int64, error) {
	return s.Insert(key, []byte{})
}

// KeyDir returns a copy of the current index.
func (s *Store) KeyDir() KeyDir {
	return s.keyDir.Clone()
}

// RestoreKeyDir installs a previously saved index in place of a Load.
func (s *Store) RestoreKeyDir(kd KeyDir) {
	s.keyDir = kd.Clone()
}

// Len returns the number of indexed keys.
func (s *Store) Len() int {
	return s.keyDir.Len()
}

func (s *Store) Sync() error {
	return s.datafile.Sync()
}

// Close releases the datafile. Calling it more than once is a no-op.
func (s *Store) Close() error {
	return s.datafile.Close()
}
