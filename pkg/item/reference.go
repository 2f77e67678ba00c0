package item

import (
	"encoding/binary"
	"errors"
)

// ErrBadReference is returned for malformed index-reference payloads
var ErrBadReference = errors.New("item: malformed index reference")

// IndexReference points at an item held by another index
type IndexReference struct {
	IndexID  string
	URI      string
	Position Position
}

// EncodeReference serializes a reference as
// [Position(8)] [IDLen(2)] [ID] [URILen(2)] [URI]
func EncodeReference(ref IndexReference) []byte {
	buf := make([]byte, 8+2+len(ref.IndexID)+2+len(ref.URI))
	binary.LittleEndian.PutUint64(buf[0:8], uint64(ref.Position))
	off := 8
	binary.LittleEndian.PutUint16(buf[off:], uint16(len(ref.IndexID)))
	off += 2
	off += copy(buf[off:], ref.IndexID)
	binary.LittleEndian.PutUint16(buf[off:], uint16(len(ref.URI)))
	off += 2
	copy(buf[off:], ref.URI)
	return buf
}

// DecodeReference reverses EncodeReference
func DecodeReference(data []byte) (IndexReference, error) {
	if len(data) < 12 {
		return IndexReference{}, ErrBadReference
	}
	ref := IndexReference{Position: Position(binary.LittleEndian.Uint64(data[0:8]))}
	off := 8
	idLen := int(binary.LittleEndian.Uint16(data[off:]))
	off += 2
	if off+idLen+2 > len(data) {
		return IndexReference{}, ErrBadReference
	}
	ref.IndexID = string(data[off : off+idLen])
	off += idLen
	uriLen := int(binary.LittleEndian.Uint16(data[off:]))
	off += 2
	if off+uriLen != len(data) {
		return IndexReference{}, ErrBadReference
	}
	ref.URI = string(data[off:])
	return ref, nil
}
