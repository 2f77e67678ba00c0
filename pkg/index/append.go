package index

import (
	"fmt"
	"time"

	"github.com/nainya/timeindex/pkg/header"
	"github.com/nainya/timeindex/pkg/item"
	"github.com/nainya/timeindex/pkg/storage"
	"github.com/nainya/timeindex/pkg/timestamp"
)

// AddItem appends a payload. A Zero dataTime means "use the index time".
func (c *Core) AddItem(data []byte, dataTime timestamp.Timestamp) (item.Position, error) {
	return c.Append(item.Entry{Data: data, DataTime: dataTime})
}

// AddDataReference appends an item whose payload is a byte range of the file
// a shadow index reads from
func (c *Core) AddDataReference(ref item.DataReference, dataTime timestamp.Timestamp) (item.Position, error) {
	if c.typ != header.Shadow {
		return item.NoPosition, c.fail("append", fmt.Errorf("%w: data references need a shadow index", storage.ErrUnsupported))
	}
	return c.Append(item.Entry{DataRef: &ref, DataTime: dataTime})
}

// AddReference appends a pointer to an item of another index and records
// that index's URI in the header
func (c *Core) AddReference(other *item.Item, otherIndex *View, dataTime timestamp.Timestamp) (item.Position, error) {
	if other == nil || otherIndex == nil {
		return item.NoPosition, c.fail("append", fmt.Errorf("%w: reference needs an item and its index", ErrSpecification))
	}
	target := otherIndex.Core()
	ref := item.IndexReference{IndexID: target.ID(), URI: target.URI(), Position: other.Position}
	e := item.Entry{
		Data:     item.EncodeReference(ref),
		DataTime: dataTime,
		Kind:     item.KindIndexReference,
	}
	return c.append("append", e, nil, func() {
		if _, ok := c.hdr.TableEntry(header.OptionIndexURIs, ref.IndexID); !ok {
			c.hdr.SetTableEntry(header.OptionIndexURIs, ref.IndexID, ref.URI)
		}
	})
}

// Append is the general append: payload or data reference, type tag,
// annotations and kind
func (c *Core) Append(e item.Entry) (item.Position, error) {
	return c.append("append", e, nil, nil)
}

// appendPreserving copies an item from another index keeping both of its
// timestamps, as far as index time monotonicity allows
func (c *Core) appendPreserving(src *item.Item) (item.Position, error) {
	e := item.Entry{
		Data:        src.Data,
		DataTime:    src.DataTime,
		Kind:        src.Kind,
		Type:        src.Type,
		Annotations: src.Annotations,
	}
	if c.typ == header.Shadow && src.Ref != nil && !src.Ref.Compressed {
		ref := *src.Ref
		e.Data, e.DataRef = nil, &ref
	}
	indexTime := src.IndexTime
	return c.append("save", e, &indexTime, nil)
}

// append is the single mutation path. Cache insert, backend write and
// header update happen under the write lock so readers never see a length
// without the matching bounds.
func (c *Core) append(op string, e item.Entry, indexTime *timestamp.Timestamp, locked func()) (item.Position, error) {
	start := time.Now()

	c.mu.Lock()
	it, err := c.appendLocked(e, indexTime)
	if err == nil && locked != nil {
		locked()
	}
	c.mu.Unlock()

	c.metrics.RecordIndexOperation(op, err, time.Since(start))
	if err != nil {
		return item.NoPosition, c.fail(op, err)
	}

	c.metrics.RecordAppend(c.typ.String())
	c.log.Debug().
		Int64("position", int64(it.Position)).
		Int64("size", it.Size).
		Str("index_time", it.IndexTime.String()).
		Msg("Item appended")
	if c.events.active() {
		c.events.fire(Event{Kind: ItemAdded, Index: c.name, IndexID: c.id, Position: it.Position, Item: it.Clone()})
	}
	return it.Position, nil
}

// checkWritable orders the state checks from most to least permanent
func (c *Core) checkWritable() error {
	switch {
	case c.hdr.Terminated:
		return ErrTerminated
	case c.closed:
		return ErrClosed
	case !c.activated:
		return ErrActivation
	case c.readOnlyLocked():
		return ErrReadOnly
	}
	return nil
}

func (c *Core) appendLocked(e item.Entry, indexTime *timestamp.Timestamp) (*item.Item, error) {
	if err := c.checkWritable(); err != nil {
		return nil, err
	}
	if e.Data != nil && e.DataRef != nil {
		return nil, fmt.Errorf("%w: entry has both data and a data reference", ErrSpecification)
	}

	// index times never decrease, even if the clock steps back
	now := c.clock()
	if indexTime != nil {
		now = *indexTime
	}
	now = timestamp.Max(now, c.hdr.LastIndexTime)

	dataTime := e.DataTime
	if dataTime.IsZero() {
		dataTime = now
	}

	pos := item.Position(c.hdr.Length)
	it := &item.Item{
		IndexTime:   now,
		DataTime:    dataTime,
		Kind:        e.Kind,
		Data:        e.Data,
		Type:        e.Type,
		ID:          item.ID(pos),
		Annotations: e.Annotations,
		Position:    pos,
		IndexID:     c.id,
	}
	if e.DataRef != nil {
		ref := *e.DataRef
		it.Ref = &ref
		it.Size = ref.Size
	} else {
		if it.Data == nil {
			it.Data = []byte{}
		}
		it.Size = int64(len(it.Data))
	}

	if err := c.backend.WriteItem(it); err != nil {
		return nil, storageError(err, ErrFlush)
	}
	c.cache.Add(it)
	c.hdr.Apply(it)
	return it.Clone(), nil
}
