package index

import (
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"

	"github.com/nainya/timeindex/pkg/header"
	"github.com/nainya/timeindex/pkg/item"
)

// Resolver opens the index addressed by uri and returns a view that the
// caller owns
type Resolver func(uri string) (*View, error)

// references tracks the indexes a core opened while following index
// references. Each URI is opened at most once, even under concurrent
// resolution.
type references struct {
	mu      sync.Mutex
	tracked map[string]*View
	group   singleflight.Group
	resolve Resolver
}

func newReferences(resolve Resolver) *references {
	return &references{
		tracked: make(map[string]*View),
		resolve: resolve,
	}
}

func (r *references) lookup(uri string) (*View, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.tracked[uri]
	return v, ok
}

func (r *references) view(uri string) (*View, error) {
	if v, ok := r.lookup(uri); ok {
		return v, nil
	}
	if r.resolve == nil {
		return nil, fmt.Errorf("%w: no resolver for %s", ErrNotFound, uri)
	}

	v, err, _ := r.group.Do(uri, func() (interface{}, error) {
		if v, ok := r.lookup(uri); ok {
			return v, nil
		}
		v, err := r.resolve(uri)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.tracked[uri] = v
		r.mu.Unlock()
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*View), nil
}

func (r *references) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tracked)
}

// closeAll closes every tracked view
func (r *references) closeAll() error {
	r.mu.Lock()
	views := r.tracked
	r.tracked = make(map[string]*View)
	r.mu.Unlock()

	var err error
	for _, v := range views {
		err = multierr.Append(err, v.Close())
	}
	return err
}

// Follow resolves an index-reference item to the item it points at. The
// referenced index is opened on first use and kept until this core closes.
func (c *Core) Follow(it *item.Item) (*item.Item, error) {
	if it == nil || it.Kind != item.KindIndexReference {
		return nil, c.fail("follow", fmt.Errorf("%w: not an index reference", ErrSpecification))
	}
	if it.Data == nil {
		loaded, err := c.GetItem(it.Position)
		if err != nil {
			return nil, err
		}
		it = loaded
	}
	ref, err := it.Reference()
	if err != nil {
		return nil, c.fail("follow", fmt.Errorf("%w: %v", ErrGetItem, err))
	}
	if ref.IndexID == c.id {
		return c.GetItem(ref.Position)
	}

	uri := ref.URI
	if uri == "" {
		c.mu.RLock()
		uri, _ = c.hdr.TableEntry(header.OptionIndexURIs, ref.IndexID)
		c.mu.RUnlock()
	}
	if uri == "" {
		return nil, c.fail("follow", fmt.Errorf("%w: no URI for index %s", ErrNotFound, ref.IndexID))
	}

	v, err := c.refs.view(uri)
	if err != nil {
		return nil, c.fail("follow", err)
	}
	target, err := v.Core().GetItem(ref.Position)
	if err != nil {
		return nil, err
	}
	c.log.Debug().
		Str("target", uri).
		Int64("position", int64(ref.Position)).
		Msg("Followed index reference")
	return target, nil
}
