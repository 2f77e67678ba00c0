package index

import (
	"fmt"

	"github.com/nainya/timeindex/pkg/item"
	"github.com/nainya/timeindex/pkg/timestamp"
)

// GetItem returns a copy of the item at pos with its payload loaded
func (c *Core) GetItem(pos item.Position) (*item.Item, error) {
	c.mu.RLock()
	it, err := c.getLocked(pos)
	c.mu.RUnlock()
	if err != nil {
		return nil, c.fail("get", err)
	}
	if c.events.active() {
		c.events.fire(Event{Kind: ItemAccessed, Index: c.name, IndexID: c.id, Position: pos, Item: it.Clone()})
	}
	return it, nil
}

// getLocked holds the read lock across the load so a concurrent real close
// cannot pull the backend away mid-read
func (c *Core) getLocked(pos item.Position) (*item.Item, error) {
	if c.closed {
		return nil, ErrClosed
	}
	if pos < 0 || int64(pos) >= c.hdr.Length {
		return nil, fmt.Errorf("%w: position %d outside [0, %d)", ErrGetItem, pos, c.hdr.Length)
	}
	it, err := c.cache.Get(pos)
	if err != nil {
		return nil, fmt.Errorf("%w: position %d: %v", ErrGetItem, pos, err)
	}
	return it, nil
}

// GetItemAt returns the item owning time t
func (c *Core) GetItemAt(t timestamp.Timestamp, sel timestamp.Selector, life timestamp.Lifetime) (*item.Item, error) {
	loc, err := c.Locate(t, sel, life)
	if err != nil {
		return nil, err
	}
	if loc.Outcome != Found {
		return nil, c.fail("get", fmt.Errorf("%w: %s %s is %s", ErrGetItem, sel, t, loc.Outcome))
	}
	return c.GetItem(loc.Position)
}

// ReadData resolves a data reference against the index's storage
func (c *Core) ReadData(ref *item.DataReference) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, c.fail("read", ErrClosed)
	}
	data, err := c.backend.ReadData(ref)
	if err != nil {
		return nil, c.fail("read", fmt.Errorf("%w: %v", ErrGetItem, err))
	}
	return data, nil
}
