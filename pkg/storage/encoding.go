// ABOUTME: Tagged value encoding used by the header file
// ABOUTME: Each value carries a type byte so decoding can verify field order

package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/nainya/timeindex/pkg/timestamp"
)

// Value types
const (
	TYPE_BYTES     = 1
	TYPE_INT64     = 2
	TYPE_UINT64    = 3
	TYPE_TIMESTAMP = 4 // nanoseconds, stored like an int64
	TYPE_BOOL      = 5
)

// Value is a single header field
type Value struct {
	Type uint8
	Str  []byte
	I64  int64
	U64  uint64
	Time timestamp.Timestamp
	Bool bool
}

// NewBytesValue creates a bytes value
func NewBytesValue(data []byte) Value {
	return Value{Type: TYPE_BYTES, Str: data}
}

// NewStringValue creates a bytes value from a string
func NewStringValue(s string) Value {
	return Value{Type: TYPE_BYTES, Str: []byte(s)}
}

// NewInt64Value creates an int64 value
func NewInt64Value(i int64) Value {
	return Value{Type: TYPE_INT64, I64: i}
}

// NewUint64Value creates a uint64 value
func NewUint64Value(u uint64) Value {
	return Value{Type: TYPE_UINT64, U64: u}
}

// NewTimestampValue creates a timestamp value
func NewTimestampValue(t timestamp.Timestamp) Value {
	return Value{Type: TYPE_TIMESTAMP, Time: t}
}

// NewBoolValue creates a bool value
func NewBoolValue(b bool) Value {
	return Value{Type: TYPE_BOOL, Bool: b}
}

// EncodeValues encodes values in order, each prefixed by its type tag
func EncodeValues(vals []Value) []byte {
	out := make([]byte, 0, 256)
	for _, v := range vals {
		out = appendValue(out, v)
	}
	return out
}

func appendValue(out []byte, v Value) []byte {
	out = append(out, v.Type)

	var buf [8]byte
	switch v.Type {
	case TYPE_INT64:
		// Flip sign bit so encoded integers sort like their values
		binary.BigEndian.PutUint64(buf[:], uint64(v.I64)+(1<<63))
		out = append(out, buf[:]...)

	case TYPE_UINT64:
		binary.BigEndian.PutUint64(buf[:], v.U64)
		out = append(out, buf[:]...)

	case TYPE_TIMESTAMP:
		binary.BigEndian.PutUint64(buf[:], uint64(v.Time)+(1<<63))
		out = append(out, buf[:]...)

	case TYPE_BOOL:
		if v.Bool {
			out = append(out, 1)
		} else {
			out = append(out, 0)
		}

	case TYPE_BYTES:
		// Escape and null-terminate
		out = append(out, escapeString(v.Str)...)
		out = append(out, 0)

	default:
		panic(fmt.Sprintf("unknown type: %d", v.Type))
	}
	return out
}

// escapeString escapes null bytes and the escape byte itself
func escapeString(s []byte) []byte {
	escapes := 0
	for _, b := range s {
		if b == 0 || b == 0xFE {
			escapes++
		}
	}
	if escapes == 0 {
		return s
	}

	out := make([]byte, 0, len(s)+escapes)
	for _, b := range s {
		if b == 0 || b == 0xFE {
			out = append(out, 0xFE, b)
		} else {
			out = append(out, b)
		}
	}
	return out
}

// unescapeString reverses escapeString
func unescapeString(s []byte) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == 0xFE && i+1 < len(s) {
			out = append(out, s[i+1])
			i++
		} else {
			out = append(out, s[i])
		}
	}
	return out
}

// DecodeValues decodes every value in data
func DecodeValues(data []byte) ([]Value, error) {
	d := valueDecoder{data: data}
	vals := make([]Value, 0, 16)
	for d.pos < len(d.data) {
		v, err := d.next()
		if err != nil {
			return nil, err
		}
		vals = append(vals, v)
	}
	return vals, nil
}

// valueDecoder reads values one at a time and remembers the first error, so
// fixed field sequences can be decoded without checking after each field
type valueDecoder struct {
	data []byte
	pos  int
	err  error
}

func (d *valueDecoder) next() (Value, error) {
	if d.pos >= len(d.data) {
		return Value{}, ErrTruncated
	}
	typ := d.data[d.pos]
	d.pos++

	switch typ {
	case TYPE_INT64, TYPE_UINT64, TYPE_TIMESTAMP:
		if d.pos+8 > len(d.data) {
			return Value{}, fmt.Errorf("%w: incomplete value at pos %d", ErrTruncated, d.pos)
		}
		u := binary.BigEndian.Uint64(d.data[d.pos : d.pos+8])
		d.pos += 8
		switch typ {
		case TYPE_INT64:
			return NewInt64Value(int64(u - (1 << 63))), nil
		case TYPE_UINT64:
			return NewUint64Value(u), nil
		default:
			return NewTimestampValue(timestamp.Timestamp(int64(u - (1 << 63)))), nil
		}

	case TYPE_BOOL:
		if d.pos >= len(d.data) {
			return Value{}, fmt.Errorf("%w: incomplete bool at pos %d", ErrTruncated, d.pos)
		}
		b := d.data[d.pos] != 0
		d.pos++
		return NewBoolValue(b), nil

	case TYPE_BYTES:
		// Find the unescaped null terminator
		end := d.pos
		for end < len(d.data) && d.data[end] != 0 {
			if d.data[end] == 0xFE {
				end++
			}
			end++
		}
		if end >= len(d.data) {
			return Value{}, fmt.Errorf("%w: unterminated string at pos %d", ErrTruncated, d.pos)
		}
		str := unescapeString(d.data[d.pos:end])
		d.pos = end + 1
		return NewBytesValue(str), nil
	}
	return Value{}, fmt.Errorf("%w: unknown type %d at pos %d", ErrCorrupted, typ, d.pos-1)
}

func (d *valueDecoder) expect(typ uint8) Value {
	if d.err != nil {
		return Value{}
	}
	v, err := d.next()
	if err != nil {
		d.err = err
		return Value{}
	}
	if v.Type != typ {
		d.err = fmt.Errorf("%w: expected type %d, found %d", ErrCorrupted, typ, v.Type)
		return Value{}
	}
	return v
}

func (d *valueDecoder) str() string                    { return string(d.expect(TYPE_BYTES).Str) }
func (d *valueDecoder) i64() int64                     { return d.expect(TYPE_INT64).I64 }
func (d *valueDecoder) u64() uint64                    { return d.expect(TYPE_UINT64).U64 }
func (d *valueDecoder) boolean() bool                  { return d.expect(TYPE_BOOL).Bool }
func (d *valueDecoder) timestamp() timestamp.Timestamp { return d.expect(TYPE_TIMESTAMP).Time }
