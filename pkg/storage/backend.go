// ABOUTME: Backend is the storage capability injected into an index core
// ABOUTME: One implementation per layout: memory, inline, external, shadow

package storage

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/nainya/timeindex/pkg/header"
	"github.com/nainya/timeindex/pkg/item"
)

// File extensions of the on-disk layouts
const (
	HeaderExt = ".tih"
	IndexExt  = ".tii"
	DataExt   = ".tid"
)

// LoadStyle controls how much of an index is read when it is opened
type LoadStyle uint8

const (
	// LoadNone reads nothing up front; items are fetched on demand
	LoadNone LoadStyle = iota
	// LoadHollow reads every record's metadata but no payload bytes
	LoadHollow
	// LoadAll reads every record and its payload
	LoadAll
)

func (s LoadStyle) String() string {
	switch s {
	case LoadNone:
		return "none"
	case LoadHollow:
		return "hollow"
	case LoadAll:
		return "all"
	default:
		return fmt.Sprintf("loadstyle(%d)", uint8(s))
	}
}

// ParseLoadStyle parses "none", "hollow" or "all"
func ParseLoadStyle(s string) (LoadStyle, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "hollow":
		return LoadHollow, nil
	case "none":
		return LoadNone, nil
	case "all":
		return LoadAll, nil
	}
	return LoadNone, fmt.Errorf("storage: unknown load style %q", s)
}

// Backend persists and retrieves the items and header of one index.
// Implementations are safe for concurrent reads; writes are serialized by
// the caller.
type Backend interface {
	Type() header.Type

	// Create initializes storage for a new index and records its paths in h
	Create(h *header.Header) error

	// Open attaches to existing storage and returns its header, repaired to
	// agree with the stored records
	Open() (*header.Header, error)

	// WriteItem persists it and sets it.Ref when the payload can be reloaded
	WriteItem(it *item.Item) error

	// ReadItem loads the item at pos; without full only metadata is read
	ReadItem(pos item.Position, full bool) (*item.Item, error)

	// Load feeds stored items to fn in position order
	Load(style LoadStyle, fn func(*item.Item) error) error

	// ReadData resolves a data reference to payload bytes
	ReadData(ref *item.DataReference) ([]byte, error)

	Flush(h *header.Header) error
	Lock() error
	Unlock() error
	Close() error
}

// Options configure a backend
type Options struct {
	// Path is the index base path; extensions are added per file
	Path string

	// DataPath names the existing file a shadow index reads payloads from
	DataPath string

	// Compression is "" / "none" or "snappy"
	Compression string

	ReadOnly bool
	Logger   *zerolog.Logger
}

func (o Options) logger() zerolog.Logger {
	if o.Logger == nil {
		return zerolog.Nop()
	}
	return *o.Logger
}

// New returns a backend for typ
func New(typ header.Type, opts Options) (Backend, error) {
	if typ != header.Memory && opts.Path == "" {
		return nil, fmt.Errorf("%w: %s index needs a path", ErrCreate, typ)
	}
	switch typ {
	case header.Memory:
		return NewMemory(), nil
	case header.Inline:
		return newInline(opts)
	case header.External:
		return newExternal(opts)
	case header.Shadow:
		return newShadow(opts)
	}
	return nil, fmt.Errorf("%w: index type %s", ErrUnsupported, typ)
}

// Paths returns the header, index and data file names for a base path. A
// base given with one of the layout extensions has it stripped first.
func Paths(base string) (headerPath, indexPath, dataPath string) {
	switch filepath.Ext(base) {
	case HeaderExt, IndexExt, DataExt:
		base = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return base + HeaderExt, base + IndexExt, base + DataExt
}

// Detect reads the header next to base to learn an existing index's layout
func Detect(base string) (*header.Header, error) {
	hp, _, _ := Paths(base)
	h, err := ReadHeaderFile(hp)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOpen, hp, err)
	}
	return h, nil
}
