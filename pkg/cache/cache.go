// ABOUTME: In-memory position -> item cache with payload hollowing
// ABOUTME: Eviction policies only ever drop payloads, never item metadata

package cache

import (
	"errors"
	"fmt"
	"sync"

	"github.com/nainya/timeindex/pkg/item"
)

var (
	// ErrNotCached is returned when an item is absent and no loader can produce it
	ErrNotCached = errors.New("cache: item not cached")

	// ErrCacheClosed is returned after Close
	ErrCacheClosed = errors.New("cache: closed")
)

// Loader fetches an item from storage. With full set the payload is read too,
// otherwise only metadata is required.
type Loader func(pos item.Position, full bool) (*item.Item, error)

// Hollower is what a Policy may call back into
type Hollower interface {
	Hollow(pos item.Position) bool
}

// Cache maps positions to items. It is safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	items    map[item.Position]*item.Item
	length   int64 // highest position seen + 1
	resident int64 // payload bytes held in memory
	loader   Loader
	policy   Policy
	closed   bool
	onHollow func(pos item.Position)
}

// New creates a cache. A nil policy means NoEviction; a nil loader means
// absent items cannot be re-derived.
func New(policy Policy, loader Loader) *Cache {
	if policy == nil {
		policy = NoEviction{}
	}
	c := &Cache{
		items:  make(map[item.Position]*item.Item),
		loader: loader,
		policy: policy,
	}
	policy.Attach(c)
	return c
}

// OnHollow registers fn to be called after a payload has been dropped. It
// must be set before the cache is shared.
func (c *Cache) OnHollow(fn func(pos item.Position)) {
	c.onHollow = fn
}

// Add inserts a newly appended item and returns the new length
func (c *Cache) Add(it *item.Item) int64 {
	n := c.put(it)
	c.policy.Added(it)
	return n
}

// Put inserts an item loaded from storage
func (c *Cache) Put(it *item.Item) {
	c.put(it)
	if it.Data != nil {
		c.policy.Added(it)
	}
}

func (c *Cache) put(it *item.Item) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.items[it.Position]; ok && old.Data != nil {
		c.resident -= int64(len(old.Data))
	}
	c.items[it.Position] = it
	if it.Data != nil {
		c.resident += int64(len(it.Data))
	}
	if int64(it.Position)+1 > c.length {
		c.length = int64(it.Position) + 1
	}
	return c.length
}

// Get returns a copy of the item at pos with its payload loaded
func (c *Cache) Get(pos item.Position) (*item.Item, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrCacheClosed
	}
	it, ok := c.items[pos]
	if ok && !it.IsHollow() {
		out := it.Clone()
		c.mu.Unlock()
		c.policy.Accessed(out)
		return out, nil
	}
	c.mu.Unlock()

	loaded, err := c.load(pos, true)
	if err != nil {
		return nil, err
	}
	c.Put(loaded)
	out := loaded.Clone()
	c.policy.Accessed(out)
	return out, nil
}

// Meta returns a copy of the item at pos without forcing its payload in
func (c *Cache) Meta(pos item.Position) (*item.Item, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrCacheClosed
	}
	if it, ok := c.items[pos]; ok {
		out := it.Clone()
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	loaded, err := c.load(pos, false)
	if err != nil {
		return nil, err
	}
	c.Put(loaded)
	return loaded.Clone(), nil
}

func (c *Cache) load(pos item.Position, full bool) (*item.Item, error) {
	if c.loader == nil {
		return nil, fmt.Errorf("%w: position %d", ErrNotCached, pos)
	}
	it, err := c.loader(pos, full)
	if err != nil {
		return nil, err
	}
	if it.Position != pos {
		return nil, fmt.Errorf("cache: loader returned position %d for %d", it.Position, pos)
	}
	return it, nil
}

// Hollow drops the payload held for pos. It returns false when the item is
// absent, already hollow, or cannot be reloaded from storage.
func (c *Cache) Hollow(pos item.Position) bool {
	if !c.hollow(pos) {
		return false
	}
	if c.onHollow != nil {
		c.onHollow(pos)
	}
	return true
}

func (c *Cache) hollow(pos item.Position) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.items[pos]
	if !ok || it.Data == nil {
		return false
	}
	size := int64(len(it.Data))
	// copy-on-hollow: clones handed out earlier keep their payload
	h := it.Clone()
	if !h.Hollow() {
		return false
	}
	c.items[pos] = h
	c.resident -= size
	return true
}

// Contains reports whether metadata for pos is resident
func (c *Cache) Contains(pos item.Position) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[pos]
	return ok
}

// Len returns the highest cached position + 1
func (c *Cache) Len() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.length
}

// Resident returns the number of payload bytes held in memory
func (c *Cache) Resident() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resident
}

// Close releases all items and stops the policy
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.items = make(map[item.Position]*item.Item)
	c.resident = 0
	c.mu.Unlock()

	c.policy.Close()
}
