package storage

import (
	"github.com/nainya/timeindex/pkg/header"
	"github.com/nainya/timeindex/pkg/item"
)

// Memory is the backend of an index that lives only in its cache. Items it
// holds are irreplaceable, so they are never hollowed.
type Memory struct{}

// NewMemory returns the memory backend
func NewMemory() *Memory { return &Memory{} }

func (*Memory) Type() header.Type { return header.Memory }

func (*Memory) Create(h *header.Header) error {
	h.Type = header.Memory
	return nil
}

func (*Memory) Open() (*header.Header, error) { return nil, ErrNotPersistent }

// WriteItem leaves it.Ref unset; the cache holds the only copy
func (*Memory) WriteItem(it *item.Item) error { return nil }

func (*Memory) ReadItem(item.Position, bool) (*item.Item, error) { return nil, ErrNotPersistent }

func (*Memory) Load(LoadStyle, func(*item.Item) error) error { return nil }

func (*Memory) ReadData(*item.DataReference) ([]byte, error) { return nil, ErrUnsupported }

func (*Memory) Flush(*header.Header) error { return nil }

func (*Memory) Lock() error   { return nil }
func (*Memory) Unlock() error { return nil }
func (*Memory) Close() error  { return nil }
