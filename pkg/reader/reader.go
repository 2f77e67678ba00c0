// ABOUTME: Input readers turn a byte stream into items to append
// ABOUTME: Readers are chosen by name from a compile-time registry

package reader

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/nainya/timeindex/pkg/item"
	"github.com/nainya/timeindex/pkg/timestamp"
)

// Result is one item produced by a reader. Exactly one of Data or Ref is set.
type Result struct {
	Data     []byte
	Ref      *item.DataReference
	DataTime timestamp.Timestamp // Zero lets the index assign one
	Type     uint32
}

// Reader produces results until it returns io.EOF. Readers are not
// restartable.
type Reader interface {
	Read() (Result, error)
}

// Options are reader specific settings
type Options map[string]string

// Int returns an integer option or def
func (o Options) Int(key string, def int) (int, error) {
	v, ok := o[key]
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("reader: option %s=%q is not an integer", key, v)
	}
	return n, nil
}

// Bool returns a boolean option; absent means false
func (o Options) Bool(key string) (bool, error) {
	v, ok := o[key]
	if !ok || v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("reader: option %s=%q is not a boolean", key, v)
	}
	return b, nil
}

// Constructor builds a reader over r
type Constructor func(r io.Reader, opts Options) (Reader, error)

var registry = map[string]Constructor{
	"line":        NewLine,
	"lineref":     NewLineRef,
	"timestamped": NewTimestamped,
}

// New returns the reader registered as name
func New(name string, r io.Reader, opts Options) (Reader, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("reader: unknown reader %q (have %v)", name, Names())
	}
	return ctor(r, opts)
}

// Names lists the registered readers
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
