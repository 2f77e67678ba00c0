// ABOUTME: Item is one stored record: two timestamps, payload, and metadata
// ABOUTME: Payloads can be hollowed (dropped) while metadata stays resident

package item

import (
	"fmt"

	"github.com/nainya/timeindex/pkg/timestamp"
)

// Position is the ordinal of an item within its index
type Position int64

// NoPosition is returned alongside errors and for unbound items
const NoPosition Position = -1

// ID identifies an item within its index
type ID int64

// Kind tells how the payload bytes are to be interpreted
type Kind uint8

const (
	// KindData is an opaque payload
	KindData Kind = iota
	// KindIndexReference is an encoded pointer to an item in another index
	KindIndexReference
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindIndexReference:
		return "reference"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// DataReference locates payload bytes in storage
type DataReference struct {
	Offset     int64
	Size       int64 // stored size, which differs from Item.Size when compressed
	Compressed bool
}

// Entry is an append request. Exactly one of Data or DataRef is used.
type Entry struct {
	Data        []byte
	DataRef     *DataReference
	DataTime    timestamp.Timestamp // Zero means "use the index time"
	Kind        Kind
	Type        uint32
	Annotations Annotations
}

// Item is a record bound to a position in an index
type Item struct {
	IndexTime timestamp.Timestamp
	DataTime  timestamp.Timestamp

	Kind Kind
	Data []byte         // nil while hollow
	Ref  *DataReference // nil for items that exist only in memory

	Size        int64
	Type        uint32
	ID          ID
	Annotations Annotations
	Position    Position

	// IndexID names the owning index; it is a lookup key, not a pointer
	IndexID string
}

// Timestamp returns the timestamp chosen by sel
func (it *Item) Timestamp(sel timestamp.Selector) timestamp.Timestamp {
	if sel == timestamp.DataTime {
		return it.DataTime
	}
	return it.IndexTime
}

// IsHollow reports whether the payload has been dropped
func (it *Item) IsHollow() bool {
	return it.Data == nil && it.Ref != nil && it.Size > 0
}

// Hollowable reports whether the payload can be dropped and loaded again later
func (it *Item) Hollowable() bool {
	return it.Ref != nil
}

// Hollow drops the payload. It returns false when the payload cannot be
// recovered from storage.
func (it *Item) Hollow() bool {
	if it.Ref == nil {
		return false
	}
	it.Data = nil
	return true
}

// Clone returns a shallow copy; payload bytes are shared and never mutated
func (it *Item) Clone() *Item {
	c := *it
	if it.Ref != nil {
		ref := *it.Ref
		c.Ref = &ref
	}
	return &c
}

// Reference decodes the payload of an index-reference item
func (it *Item) Reference() (IndexReference, error) {
	if it.Kind != KindIndexReference {
		return IndexReference{}, fmt.Errorf("item %d: not an index reference", it.Position)
	}
	if it.Data == nil {
		return IndexReference{}, fmt.Errorf("item %d: reference payload not loaded", it.Position)
	}
	return DecodeReference(it.Data)
}

func (it *Item) String() string {
	state := "loaded"
	if it.IsHollow() {
		state = "hollow"
	}
	return fmt.Sprintf("Item[pos=%d id=%d index=%s data=%s size=%d %s %s]",
		it.Position, it.ID, it.IndexTime, it.DataTime, it.Size, it.Kind, state)
}
