// ABOUTME: Core is the engine of one index: header, cache and storage backend
// ABOUTME: One writer at a time appends; readers share the core concurrently

package index

import (
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nainya/timeindex/internal/metrics"
	"github.com/nainya/timeindex/pkg/cache"
	"github.com/nainya/timeindex/pkg/header"
	"github.com/nainya/timeindex/pkg/item"
	"github.com/nainya/timeindex/pkg/storage"
	"github.com/nainya/timeindex/pkg/timestamp"
)

// Clock supplies index timestamps
type Clock func() timestamp.Timestamp

// Core owns the header, cache and backend of one index. Cores are shared
// between views through a Directory and are only really closed when the
// last view goes away.
type Core struct {
	// immutable after construction
	name    string
	id      string
	uri     string
	typ     header.Type
	backend storage.Backend
	cache   *cache.Cache
	clock   Clock
	log     zerolog.Logger
	metrics *metrics.Metrics
	set     settings

	mu        sync.RWMutex
	hdr       *header.Header
	closed    bool
	activated bool

	dir     *Directory
	memo    *memo
	events  events
	refs    *references
	flusher *flusher
}

type coreConfig struct {
	settings settings
	clock    Clock
	log      zerolog.Logger
	metrics  *metrics.Metrics
	resolve  Resolver
}

func newCore(h *header.Header, backend storage.Backend, cfg coreConfig) *Core {
	if cfg.clock == nil {
		cfg.clock = timestamp.Now
	}
	c := &Core{
		name:    h.Name,
		id:      h.ID,
		uri:     h.URI,
		typ:     h.Type,
		backend: backend,
		clock:   cfg.clock,
		log:     cfg.log.With().Str("uri", h.URI).Logger(),
		metrics: cfg.metrics,
		set:     cfg.settings,
		hdr:     h,
		memo:    newMemo(memoCapacity, cfg.metrics),
		refs:    newReferences(cfg.resolve),
	}
	c.cache = cache.New(cfg.settings.newPolicy(), c.load)
	c.cache.OnHollow(func(item.Position) { c.metrics.RecordHollow() })
	return c
}

// load is the cache loader; it reads from the backend and tags the item
func (c *Core) load(pos item.Position, full bool) (*item.Item, error) {
	it, err := c.backend.ReadItem(pos, full)
	if err != nil {
		return nil, err
	}
	it.IndexID = c.id
	c.metrics.RecordCacheLoad()
	return it, nil
}

// preload fills the cache according to the load style
func (c *Core) preload(style storage.LoadStyle) error {
	start := time.Now()
	var n int64
	err := c.backend.Load(style, func(it *item.Item) error {
		it.IndexID = c.id
		c.cache.Put(it)
		n++
		return nil
	})
	c.log.Debug().
		Str("load_style", style.String()).
		Int64("items", n).
		Dur("duration_ms", time.Since(start)).
		Msg("Index loaded")
	return err
}

func (c *Core) fail(op string, err error) error {
	return &Error{Op: op, Index: c.name, URI: c.uri, Err: err}
}

// Name returns the index name
func (c *Core) Name() string { return c.name }

// ID returns the index id
func (c *Core) ID() string { return c.id }

// URI returns the canonical address of the index
func (c *Core) URI() string { return c.uri }

// Type returns the storage layout
func (c *Core) Type() header.Type { return c.typ }

// Header returns a snapshot of the header
func (c *Core) Header() *header.Header {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hdr.Clone()
}

// Length returns the number of items
func (c *Core) Length() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hdr.Length
}

func (c *Core) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *Core) IsActivated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.activated
}

func (c *Core) IsTerminated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hdr.Terminated
}

// IsReadOnly reports whether appends are refused regardless of activation
func (c *Core) IsReadOnly() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.readOnlyLocked()
}

func (c *Core) readOnlyLocked() bool {
	return c.set.readOnly || c.hdr.ReadOnly
}

// Resident returns the payload bytes currently cached
func (c *Core) Resident() int64 {
	return c.cache.Resident()
}

// AsView returns a new whole-index view, adding a handle in the directory
func (c *Core) AsView() (*View, error) {
	if c.dir == nil {
		return nil, c.fail("view", ErrNotFound)
	}
	gate := c.dir.Gate(c.uri)
	gate.Lock()
	defer gate.Unlock()
	return c.newRootViewLocked()
}

// newRootViewLocked must be called with the gate for c.uri held
func (c *Core) newRootViewLocked() (*View, error) {
	if c.IsClosed() {
		return nil, c.fail("view", ErrClosed)
	}
	if _, err := c.dir.AddHandle(c); err != nil {
		return nil, c.fail("view", err)
	}
	return newRootView(c), nil
}

// SetTypeName records a display name for a type tag in the header
func (c *Core) SetTypeName(tag uint32, name string) {
	c.setTableEntry(header.OptionTypeNames, strconv.FormatUint(uint64(tag), 10), name)
}

// TypeName returns the display name recorded for a type tag
func (c *Core) TypeName(tag uint32) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hdr.TableEntry(header.OptionTypeNames, strconv.FormatUint(uint64(tag), 10))
}

func (c *Core) setTableEntry(o header.Option, key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hdr.SetTableEntry(o, key, value)
}
