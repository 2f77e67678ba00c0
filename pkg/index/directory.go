// ABOUTME: Directory shares open cores between handles and counts them
// ABOUTME: A per-URI gate serializes handle changes with the real close

package index

import (
	"fmt"
	"sync"

	"go.uber.org/multierr"

	"github.com/nainya/timeindex/internal/metrics"
)

type entry struct {
	core  *Core
	count int
}

// Directory maps names, ids and URIs to open cores. Construct one per
// process (or per test) and pass it to the factory.
type Directory struct {
	mu     sync.Mutex
	byURI  map[string]*entry
	byID   map[string]*entry
	byName map[string]*entry

	gatesMu sync.Mutex
	gates   map[string]*sync.Mutex

	metrics *metrics.Metrics
}

// NewDirectory creates an empty directory. m may be nil.
func NewDirectory(m *metrics.Metrics) *Directory {
	return &Directory{
		byURI:   make(map[string]*entry),
		byID:    make(map[string]*entry),
		byName:  make(map[string]*entry),
		gates:   make(map[string]*sync.Mutex),
		metrics: m,
	}
}

// Gate returns the mutex serializing handle changes for uri. Gates live as
// long as the directory.
func (d *Directory) Gate(uri string) *sync.Mutex {
	d.gatesMu.Lock()
	defer d.gatesMu.Unlock()
	g, ok := d.gates[uri]
	if !ok {
		g = &sync.Mutex{}
		d.gates[uri] = g
	}
	return g
}

// Register adds c with a handle count of zero
func (d *Directory) Register(c *Core) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.byURI[c.uri]; ok && e.core != c {
		return fmt.Errorf("%w: %s is already open", ErrSpecification, c.uri)
	}
	e := &entry{core: c}
	d.byURI[c.uri] = e
	d.byID[c.id] = e
	d.byName[c.name] = e
	c.dir = d
	d.metrics.IndexOpened(1)
	return nil
}

// Unregister drops c; later lookups will not find it
func (d *Directory) Unregister(c *Core) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.byURI[c.uri]
	if !ok || e.core != c {
		return
	}
	delete(d.byURI, c.uri)
	if d.byID[c.id] == e {
		delete(d.byID, c.id)
	}
	if d.byName[c.name] == e {
		delete(d.byName, c.name)
	}
	d.metrics.IndexOpened(-1)
}

func (d *Directory) entryFor(c *Core) (*entry, error) {
	e, ok := d.byURI[c.uri]
	if !ok || e.core != c {
		return nil, fmt.Errorf("%w: %s is not registered", ErrNotFound, c.uri)
	}
	return e, nil
}

// AddHandle increments the handle count of c
func (d *Directory) AddHandle(c *Core) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, err := d.entryFor(c)
	if err != nil {
		return 0, err
	}
	e.count++
	d.metrics.ViewsChanged(1)
	return e.count, nil
}

// RemoveHandle decrements the handle count of c
func (d *Directory) RemoveHandle(c *Core) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, err := d.entryFor(c)
	if err != nil {
		return 0, err
	}
	if e.count == 0 {
		return 0, fmt.Errorf("%w: %s has no open handles", ErrClose, c.uri)
	}
	e.count--
	d.metrics.ViewsChanged(-1)
	return e.count, nil
}

// Count returns the handle count of c, or -1 when it is not registered
func (d *Directory) Count(c *Core) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, err := d.entryFor(c)
	if err != nil {
		return -1
	}
	return e.count
}

func (d *Directory) lookup(m map[string]*entry, key string) (*Core, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := m[key]
	if !ok {
		return nil, false
	}
	return e.core, true
}

// LookupName returns the most recently registered core called name
func (d *Directory) LookupName(name string) (*Core, bool) { return d.lookup(d.byName, name) }

func (d *Directory) LookupID(id string) (*Core, bool) { return d.lookup(d.byID, id) }

func (d *Directory) LookupURI(uri string) (*Core, bool) { return d.lookup(d.byURI, uri) }

// Len returns the number of registered cores
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.byURI)
}

// CloseAll really closes every registered core whatever its handle count.
// It is the shutdown hook of the process owning the directory.
func (d *Directory) CloseAll() error {
	d.mu.Lock()
	cores := make([]*Core, 0, len(d.byURI))
	for _, e := range d.byURI {
		cores = append(cores, e.core)
	}
	d.mu.Unlock()

	var err error
	for _, c := range cores {
		gate := d.Gate(c.uri)
		gate.Lock()
		if !c.IsClosed() {
			d.mu.Lock()
			if e, ok := d.byURI[c.uri]; ok && e.core == c {
				d.metrics.ViewsChanged(-e.count)
				e.count = 0
			}
			d.mu.Unlock()
			err = multierr.Append(err, c.reallyClose())
		}
		gate.Unlock()
		err = multierr.Append(err, c.refs.closeAll())
	}
	return err
}
