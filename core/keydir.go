package core

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/klauspost/compress/zstd"

	"github.com/0xRadioAc7iv/go-akvdb/internal/record"
)

var ErrBadSnapshot = errors.New("invalid keydir snapshot")

// KeyDir is the in-memory index mapping every key to the offset of its
// latest record in the datafile.
//
// It is a derived cache: a full scan of the datafile always rebuilds it,
// later records overwriting earlier ones for the same key.
type KeyDir map[string]int64

func (kd KeyDir) Lookup(key []byte) (int64, bool) {
	offset, ok := kd[string(key)]
	return offset, ok
}

func (kd KeyDir) Set(key []byte, offset int64) {
	kd[string(key)] = offset
}

func (kd KeyDir) Remove(key []byte) {
	delete(kd, string(key))
}

func (kd KeyDir) Len() int {
	return len(kd)
}

// Keys returns all keys in sorted order.
func (kd KeyDir) Keys() []string {
	return slices.Sorted(maps.Keys(kd))
}

func (kd KeyDir) Clone() KeyDir {
	if kd == nil {
		return KeyDir{}
	}
	return maps.Clone(kd)
}

// MarshalBinary serializes the KeyDir as the snapshot magic followed by a
// zstd frame of hint records in key order.
func (kd KeyDir) MarshalBinary() ([]byte, error) {
	raw := &bytes.Buffer{}
	for _, key := range kd.Keys() {
		hint, err := record.CreateHintRecord([]byte(key), kd[key])
		if err != nil {
			return nil, err
		}
		encoded, err := record.EncodeHintRecordToBytes(&hint)
		if err != nil {
			return nil, err
		}
		raw.Write(encoded)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()

	return enc.EncodeAll(raw.Bytes(), []byte(snapshotMagic)), nil
}

// UnmarshalBinary replaces the contents of kd with a snapshot produced by
// MarshalBinary.
func (kd *KeyDir) UnmarshalBinary(data []byte) error {
	if !bytes.HasPrefix(data, []byte(snapshotMagic)) {
		return fmt.Errorf("%w: missing magic", ErrBadSnapshot)
	}

	// an empty KeyDir encodes to no zstd frame at all
	if len(data) == len(snapshotMagic) {
		*kd = make(KeyDir)
		return nil
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return err
	}
	defer dec.Close()

	raw, err := dec.DecodeAll(data[len(snapshotMagic):], nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}

	out := make(KeyDir)
	r := bytes.NewReader(raw)
	for {
		hint, err := record.DecodeHintRecord(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBadSnapshot, err)
		}
		out[string(hint.Key)] = int64(hint.Offset)
	}

	*kd = out
	return nil
}

// UnmarshalKeyDir decodes a snapshot produced by KeyDir.MarshalBinary.
func UnmarshalKeyDir(data []byte) (KeyDir, error) {
	var kd KeyDir
	if err := kd.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return kd, nil
}
