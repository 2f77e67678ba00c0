// ABOUTME: Item record codecs for the index file, with CRC32 checksums
// ABOUTME: Fixed-size records point into a data file; inline records carry the payload

package storage

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/nainya/timeindex/pkg/item"
	"github.com/nainya/timeindex/pkg/timestamp"
)

const (
	// FixedRecordSize is the size of an external or shadow index record
	// Layout: IndexTime(8) + DataTime(8) + Offset(8) + Stored(8) + Size(8) + ID(8) +
	// Annotations(8) + Type(4) + Kind(1) + Flags(1) + Reserved(6) + CRC32(4)
	FixedRecordSize = 72

	// InlineHeaderSize is the fixed part of an inline record, before the payload
	// Layout: IndexTime(8) + DataTime(8) + ID(8) + Size(8) + Annotations(8) +
	// Type(4) + Kind(1) + Flags(1) + Reserved(2) + Stored(4)
	// The payload and a CRC32 of header+payload follow.
	InlineHeaderSize = 52

	flagCompressed = 1 << 0
)

// Record is the on-disk form of an item's metadata
type Record struct {
	IndexTime   timestamp.Timestamp
	DataTime    timestamp.Timestamp
	Offset      int64 // payload offset in the data file (fixed records)
	Stored      int64 // payload bytes on disk
	Size        int64 // payload bytes after decompression
	ID          item.ID
	Annotations item.Annotations
	Type        uint32
	Kind        item.Kind
	Compressed  bool
}

// RecordOf captures the metadata of an item bound to a data reference
func RecordOf(it *item.Item) Record {
	r := Record{
		IndexTime:   it.IndexTime,
		DataTime:    it.DataTime,
		Size:        it.Size,
		ID:          it.ID,
		Annotations: it.Annotations,
		Type:        it.Type,
		Kind:        it.Kind,
	}
	if it.Ref != nil {
		r.Offset = it.Ref.Offset
		r.Stored = it.Ref.Size
		r.Compressed = it.Ref.Compressed
	}
	return r
}

// Item rebuilds a payload-less item at pos
func (r Record) Item(pos item.Position) *item.Item {
	return &item.Item{
		IndexTime:   r.IndexTime,
		DataTime:    r.DataTime,
		Kind:        r.Kind,
		Ref:         &item.DataReference{Offset: r.Offset, Size: r.Stored, Compressed: r.Compressed},
		Size:        r.Size,
		Type:        r.Type,
		ID:          r.ID,
		Annotations: r.Annotations,
		Position:    pos,
	}
}

func (r Record) flags() byte {
	if r.Compressed {
		return flagCompressed
	}
	return 0
}

// EncodeFixed serializes a fixed-size record
func (r Record) EncodeFixed() []byte {
	buf := make([]byte, FixedRecordSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(r.IndexTime))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(r.DataTime))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(r.Offset))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(r.Stored))
	binary.LittleEndian.PutUint64(buf[32:40], uint64(r.Size))
	binary.LittleEndian.PutUint64(buf[40:48], uint64(r.ID))
	binary.LittleEndian.PutUint64(buf[48:56], uint64(r.Annotations))
	binary.LittleEndian.PutUint32(buf[56:60], r.Type)
	buf[60] = byte(r.Kind)
	buf[61] = r.flags()
	// bytes 62-67 are reserved
	binary.LittleEndian.PutUint32(buf[68:72], crc32.ChecksumIEEE(buf[:68]))
	return buf
}

// DecodeFixed deserializes a fixed-size record
func DecodeFixed(data []byte) (Record, error) {
	if len(data) < FixedRecordSize {
		return Record{}, ErrTruncated
	}
	if binary.LittleEndian.Uint32(data[68:72]) != crc32.ChecksumIEEE(data[:68]) {
		return Record{}, ErrCorrupted
	}
	return Record{
		IndexTime:   timestamp.Timestamp(binary.LittleEndian.Uint64(data[0:8])),
		DataTime:    timestamp.Timestamp(binary.LittleEndian.Uint64(data[8:16])),
		Offset:      int64(binary.LittleEndian.Uint64(data[16:24])),
		Stored:      int64(binary.LittleEndian.Uint64(data[24:32])),
		Size:        int64(binary.LittleEndian.Uint64(data[32:40])),
		ID:          item.ID(binary.LittleEndian.Uint64(data[40:48])),
		Annotations: item.Annotations(binary.LittleEndian.Uint64(data[48:56])),
		Type:        binary.LittleEndian.Uint32(data[56:60]),
		Kind:        item.Kind(data[60]),
		Compressed:  data[61]&flagCompressed != 0,
	}, nil
}

// EncodeInline serializes a record followed by its stored payload
func (r Record) EncodeInline(payload []byte) []byte {
	total := InlineHeaderSize + len(payload) + 4
	buf := make([]byte, total)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(r.IndexTime))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(r.DataTime))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(r.ID))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(r.Size))
	binary.LittleEndian.PutUint64(buf[32:40], uint64(r.Annotations))
	binary.LittleEndian.PutUint32(buf[40:44], r.Type)
	buf[44] = byte(r.Kind)
	buf[45] = r.flags()
	// bytes 46-47 are reserved
	binary.LittleEndian.PutUint32(buf[48:52], uint32(len(payload)))

	copy(buf[InlineHeaderSize:], payload)
	end := InlineHeaderSize + len(payload)
	binary.LittleEndian.PutUint32(buf[end:end+4], crc32.ChecksumIEEE(buf[:end]))
	return buf
}

// DecodeInlineHeader reads the fixed part of an inline record found at
// offset. The payload follows immediately.
func DecodeInlineHeader(data []byte, offset int64) (Record, error) {
	if len(data) < InlineHeaderSize {
		return Record{}, ErrTruncated
	}
	return Record{
		IndexTime:   timestamp.Timestamp(binary.LittleEndian.Uint64(data[0:8])),
		DataTime:    timestamp.Timestamp(binary.LittleEndian.Uint64(data[8:16])),
		ID:          item.ID(binary.LittleEndian.Uint64(data[16:24])),
		Size:        int64(binary.LittleEndian.Uint64(data[24:32])),
		Annotations: item.Annotations(binary.LittleEndian.Uint64(data[32:40])),
		Type:        binary.LittleEndian.Uint32(data[40:44]),
		Kind:        item.Kind(data[44]),
		Compressed:  data[45]&flagCompressed != 0,
		Stored:      int64(binary.LittleEndian.Uint32(data[48:52])),
		Offset:      offset + InlineHeaderSize,
	}, nil
}

// DecodeInline verifies and deserializes a complete inline record, returning
// the stored payload bytes
func DecodeInline(data []byte, offset int64) (Record, []byte, error) {
	r, err := DecodeInlineHeader(data, offset)
	if err != nil {
		return Record{}, nil, err
	}
	end := InlineHeaderSize + int(r.Stored)
	if len(data) < end+4 {
		return Record{}, nil, ErrTruncated
	}
	if binary.LittleEndian.Uint32(data[end:end+4]) != crc32.ChecksumIEEE(data[:end]) {
		return Record{}, nil, ErrCorrupted
	}
	payload := make([]byte, r.Stored)
	copy(payload, data[InlineHeaderSize:end])
	return r, payload, nil
}

// InlineRecordSize returns the encoded size of an inline record
func InlineRecordSize(stored int64) int64 {
	return InlineHeaderSize + stored + 4
}

func (r Record) String() string {
	return fmt.Sprintf("Record[id=%d index=%s data=%s off=%d stored=%d size=%d %s]",
		r.ID, r.IndexTime, r.DataTime, r.Offset, r.Stored, r.Size, r.Kind)
}
