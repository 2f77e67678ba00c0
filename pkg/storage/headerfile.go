// ABOUTME: Header file codec and atomic header file replacement
// ABOUTME: Layout: signature, version, tagged values, option tables, CRC32

package storage

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"

	"github.com/nainya/timeindex/pkg/header"
)

const (
	HEADER_SIG     = "TimeIndexHdr" // 12 byte signature
	HEADER_VERSION = 1
)

// EncodeHeader serializes a header
func EncodeHeader(h *header.Header) []byte {
	vals := []Value{
		NewStringValue(h.Name),
		NewStringValue(h.ID),
		NewStringValue(h.URI),
		NewUint64Value(uint64(h.Type)),
		NewTimestampValue(h.StartTime),
		NewTimestampValue(h.EndTime),
		NewTimestampValue(h.FirstIndexTime),
		NewTimestampValue(h.LastIndexTime),
		NewTimestampValue(h.FirstDataTime),
		NewTimestampValue(h.LastDataTime),
		NewInt64Value(h.Length),
		NewBoolValue(h.Terminated),
		NewBoolValue(h.ReadOnly),
		NewStringValue(h.HeaderPath),
		NewStringValue(h.IndexPath),
		NewStringValue(h.DataPath),
		NewStringValue(h.Description),
	}

	opts := h.Options()
	vals = append(vals, NewUint64Value(uint64(len(opts))))
	for _, o := range opts {
		table := h.Table(o)
		vals = append(vals, NewUint64Value(uint64(o)), NewUint64Value(uint64(len(table))))
		for _, k := range sortedKeys(table) {
			vals = append(vals, NewStringValue(k), NewStringValue(table[k]))
		}
	}

	body := EncodeValues(vals)
	out := make([]byte, 0, len(HEADER_SIG)+2+len(body)+4)
	out = append(out, HEADER_SIG...)
	out = binary.LittleEndian.AppendUint16(out, HEADER_VERSION)
	out = append(out, body...)
	return binary.LittleEndian.AppendUint32(out, crc32.ChecksumIEEE(out))
}

// DecodeHeader deserializes a header written by EncodeHeader
func DecodeHeader(data []byte) (*header.Header, error) {
	if len(data) < len(HEADER_SIG)+2+4 {
		return nil, ErrTruncated
	}
	if string(data[:len(HEADER_SIG)]) != HEADER_SIG {
		return nil, fmt.Errorf("%w: bad header signature", ErrCorrupted)
	}
	n := len(data)
	if binary.LittleEndian.Uint32(data[n-4:]) != crc32.ChecksumIEEE(data[:n-4]) {
		return nil, ErrCorrupted
	}
	if v := binary.LittleEndian.Uint16(data[len(HEADER_SIG):]); v != HEADER_VERSION {
		return nil, fmt.Errorf("%w: unsupported header version %d", ErrCorrupted, v)
	}

	d := &valueDecoder{data: data[len(HEADER_SIG)+2 : n-4]}
	h := &header.Header{
		Name:           d.str(),
		ID:             d.str(),
		URI:            d.str(),
		Type:           header.Type(d.u64()),
		StartTime:      d.timestamp(),
		EndTime:        d.timestamp(),
		FirstIndexTime: d.timestamp(),
		LastIndexTime:  d.timestamp(),
		FirstDataTime:  d.timestamp(),
		LastDataTime:   d.timestamp(),
		Length:         d.i64(),
		Terminated:     d.boolean(),
		ReadOnly:       d.boolean(),
		HeaderPath:     d.str(),
		IndexPath:      d.str(),
		DataPath:       d.str(),
		Description:    d.str(),
	}

	nopts := d.u64()
	for i := uint64(0); i < nopts && d.err == nil; i++ {
		o := header.Option(d.u64())
		entries := d.u64()
		for j := uint64(0); j < entries && d.err == nil; j++ {
			k, v := d.str(), d.str()
			if d.err == nil {
				h.SetTableEntry(o, k, v)
			}
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	return h, nil
}

// WriteHeaderFile replaces the header file atomically: write a temp file,
// fsync it, rename over the target, then fsync the directory
func WriteHeaderFile(path string, h *header.Header) error {
	data := EncodeHeader(h)

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open temp header: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write header: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("fsync header: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close header: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename header: %w", err)
	}
	return syncDir(filepath.Dir(path))
}

// ReadHeaderFile loads a header file
func ReadHeaderFile(path string) (*header.Header, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeHeader(data)
}

// syncDir makes a rename or file creation durable
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open directory: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("fsync directory: %w", err)
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
