// ABOUTME: Header is the mutable descriptive record of one index
// ABOUTME: Identity, temporal bounds, length, flags, paths and an option bag

package header

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nainya/timeindex/pkg/item"
	"github.com/nainya/timeindex/pkg/timestamp"
)

// Type is the storage layout of an index
type Type uint8

const (
	Memory Type = iota
	Inline
	External
	Shadow
)

func (t Type) String() string {
	switch t {
	case Memory:
		return "memory"
	case Inline:
		return "inline"
	case External:
		return "external"
	case Shadow:
		return "shadow"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Persistent reports whether indexes of this type live on disk
func (t Type) Persistent() bool {
	return t != Memory
}

// ParseType parses a layout name
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "memory", "mem":
		return Memory, nil
	case "inline", "file":
		return Inline, nil
	case "external":
		return External, nil
	case "shadow":
		return Shadow, nil
	}
	return Memory, fmt.Errorf("header: unknown index type %q", s)
}

// Option identifies one entry of the option bag
type Option uint16

const (
	// OptionIndexURIs maps ids of referenced indexes to their URIs
	OptionIndexURIs Option = iota + 1
	// OptionTypeNames maps item type tags to names
	OptionTypeNames
	OptionCompression
	OptionLoadStyle
	OptionCachePolicy
)

func (o Option) String() string {
	switch o {
	case OptionIndexURIs:
		return "index-uris"
	case OptionTypeNames:
		return "type-names"
	case OptionCompression:
		return "compression"
	case OptionLoadStyle:
		return "load-style"
	case OptionCachePolicy:
		return "cache-policy"
	default:
		return fmt.Sprintf("option(%d)", uint16(o))
	}
}

// Header describes an index. It is not safe for concurrent use; the owning
// core guards it.
type Header struct {
	Name string
	ID   string
	URI  string
	Type Type

	StartTime timestamp.Timestamp // creation
	EndTime   timestamp.Timestamp // last flush or close

	FirstIndexTime timestamp.Timestamp
	LastIndexTime  timestamp.Timestamp
	FirstDataTime  timestamp.Timestamp
	LastDataTime   timestamp.Timestamp

	Length     int64
	Terminated bool
	ReadOnly   bool

	HeaderPath  string
	IndexPath   string
	DataPath    string
	Description string

	options map[Option]map[string]string
}

// New creates an empty header
func New(name, id, uri string, typ Type) *Header {
	return &Header{
		Name:      name,
		ID:        id,
		URI:       uri,
		Type:      typ,
		StartTime: timestamp.Now(),
	}
}

// Apply accounts for a newly appended item
func (h *Header) Apply(it *item.Item) {
	if h.Length == 0 {
		h.FirstIndexTime = it.IndexTime
		h.FirstDataTime = it.DataTime
	}
	h.LastIndexTime = it.IndexTime
	h.LastDataTime = it.DataTime
	h.Length++
}

// First returns the first timestamp for sel, Zero when empty
func (h *Header) First(sel timestamp.Selector) timestamp.Timestamp {
	if sel == timestamp.DataTime {
		return h.FirstDataTime
	}
	return h.FirstIndexTime
}

// Last returns the last timestamp for sel, Zero when empty
func (h *Header) Last(sel timestamp.Selector) timestamp.Timestamp {
	if sel == timestamp.DataTime {
		return h.LastDataTime
	}
	return h.LastIndexTime
}

// Terminate sets the absorbing terminated flag
func (h *Header) Terminate() {
	h.Terminated = true
}

// Option returns a scalar option, stored under the empty key
func (h *Header) Option(o Option) (string, bool) {
	return h.TableEntry(o, "")
}

// SetOption stores a scalar option
func (h *Header) SetOption(o Option, value string) {
	h.SetTableEntry(o, "", value)
}

// TableEntry returns one entry of a table option
func (h *Header) TableEntry(o Option, key string) (string, bool) {
	t, ok := h.options[o]
	if !ok {
		return "", false
	}
	v, ok := t[key]
	return v, ok
}

// SetTableEntry stores one entry of a table option
func (h *Header) SetTableEntry(o Option, key, value string) {
	if h.options == nil {
		h.options = make(map[Option]map[string]string)
	}
	t, ok := h.options[o]
	if !ok {
		t = make(map[string]string)
		h.options[o] = t
	}
	t[key] = value
}

// Table returns a copy of a table option
func (h *Header) Table(o Option) map[string]string {
	t := h.options[o]
	out := make(map[string]string, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// Options lists the options present, in ascending order
func (h *Header) Options() []Option {
	out := make([]Option, 0, len(h.options))
	for o := range h.options {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clone returns a deep copy
func (h *Header) Clone() *Header {
	c := *h
	c.options = nil
	for o, t := range h.options {
		for k, v := range t {
			c.SetTableEntry(o, k, v)
		}
	}
	return &c
}

func (h *Header) String() string {
	return fmt.Sprintf("Header[%s id=%s type=%s len=%d first=%s last=%s terminated=%t]",
		h.Name, h.ID, h.Type, h.Length, h.FirstIndexTime, h.LastIndexTime, h.Terminated)
}
