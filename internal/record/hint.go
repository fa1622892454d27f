package record

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// HintRecord is one index snapshot entry: a key and the offset of its
// latest record.
type HintRecord struct {
	KeySize uint32
	Offset  uint64
	Key     []byte
}

// KeySize (4) + Offset (8)
const HintRecordHeaderSizeBytes = 12

func CreateHintRecord(key []byte, offset int64) (HintRecord, error) {
	if uint64(len(key)) > math.MaxUint32 {
		return HintRecord{}, fmt.Errorf("%w: key is %d bytes", ErrTooLarge, len(key))
	}
	if offset < 0 {
		return HintRecord{}, fmt.Errorf("negative offset %d", offset)
	}
	return HintRecord{
		KeySize: uint32(len(key)),
		Offset:  uint64(offset),
		Key:     key,
	}, nil
}

func EncodeHintRecordToBytes(hintRecord *HintRecord) ([]byte, error) {
	buf := &bytes.Buffer{}

	if err := binary.Write(buf, binary.LittleEndian, hintRecord.KeySize); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, hintRecord.Offset); err != nil {
		return nil, err
	}
	buf.Write(hintRecord.Key)

	return buf.Bytes(), nil
}

// DecodeHintRecord reads one hint entry. Like ReadRecord it returns io.EOF
// at a clean boundary and ErrTruncated for a partial entry.
func DecodeHintRecord(r io.Reader) (*HintRecord, error) {
	header := make([]byte, HintRecordHeaderSizeBytes)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%w: partial hint header", ErrTruncated)
		}
		return nil, err
	}

	keySize := binary.LittleEndian.Uint32(header[0:4])
	offset := binary.LittleEndian.Uint64(header[4:12])
	if offset > math.MaxInt64 {
		return nil, fmt.Errorf("hint offset %d out of range", offset)
	}

	key, err := readBody(r, int64(keySize))
	if err != nil {
		return nil, err
	}

	return &HintRecord{
		KeySize: keySize,
		Offset:  offset,
		Key:     key,
	}, nil
}
