// ABOUTME: Views are cheap handles onto a shared core with their own cursor
// ABOUTME: Root views follow the growing index; selections have fixed bounds

package index

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"

	"github.com/nainya/timeindex/pkg/header"
	"github.com/nainya/timeindex/pkg/item"
	"github.com/nainya/timeindex/pkg/timestamp"
)

// View exposes a window of a core. Positions taken and returned by view
// methods are relative to the window, except those inside items, which are
// always core positions.
type View struct {
	core     *Core
	start    int64 // core position of the first item
	end      int64 // core position of the last item; unused while live
	live     bool
	interval Interval

	mu     sync.Mutex
	cursor int64
	mark   int64

	closed atomic.Bool
}

func newRootView(c *Core) *View {
	return &View{core: c, live: true}
}

// newSelectionLocked must be called with the gate for c.uri held
func (c *Core) newSelectionLocked(start, end int64, iv Interval) (*View, error) {
	if c.IsClosed() {
		return nil, c.fail("select", ErrClosed)
	}
	if _, err := c.dir.AddHandle(c); err != nil {
		return nil, c.fail("select", err)
	}
	return &View{core: c, start: start, end: end, interval: iv}, nil
}

// Core returns the shared core behind the view
func (v *View) Core() *Core { return v.core }

// Name returns the index name
func (v *View) Name() string { return v.core.name }

// Header returns a snapshot of the index header
func (v *View) Header() *header.Header { return v.core.Header() }

// Interval returns the selection that produced the view, nil for whole-index
// views
func (v *View) Interval() Interval { return v.interval }

func (v *View) IsClosed() bool { return v.closed.Load() }

// Length returns the number of items in the window
func (v *View) Length() int64 {
	if v.live {
		return v.core.Length() - v.start
	}
	if v.end < v.start {
		return 0
	}
	return v.end - v.start + 1
}

// Start returns the core position of the first item in the window
func (v *View) Start() item.Position { return item.Position(v.start) }

// End returns the core position of the last item, or Start-1 when empty
func (v *View) End() item.Position { return item.Position(v.start + v.Length() - 1) }

func clamp(p, n int64) int64 {
	if p >= n {
		p = n - 1
	}
	if p < 0 {
		p = 0
	}
	return p
}

// Position returns the cursor
func (v *View) Position() item.Position {
	v.mu.Lock()
	defer v.mu.Unlock()
	return item.Position(v.cursor)
}

// SetPosition moves the cursor, clamped to the window
func (v *View) SetPosition(p item.Position) *View {
	n := v.Length()
	v.mu.Lock()
	v.cursor = clamp(int64(p), n)
	v.mu.Unlock()
	return v
}

// Forward moves the cursor one item on
func (v *View) Forward() *View {
	return v.step(1)
}

// Backward moves the cursor one item back
func (v *View) Backward() *View {
	return v.step(-1)
}

func (v *View) step(d int64) *View {
	n := v.Length()
	v.mu.Lock()
	v.cursor = clamp(v.cursor+d, n)
	v.mu.Unlock()
	return v
}

// Mark remembers the cursor
func (v *View) Mark() *View {
	v.mu.Lock()
	v.mark = v.cursor
	v.mu.Unlock()
	return v
}

func (v *View) MarkPosition() item.Position {
	v.mu.Lock()
	defer v.mu.Unlock()
	return item.Position(v.mark)
}

// Region returns the interval between the mark and the cursor
func (v *View) Region() EndPointInterval {
	v.mu.Lock()
	defer v.mu.Unlock()
	lo, hi := v.mark, v.cursor
	if lo > hi {
		lo, hi = hi, lo
	}
	return EndPointInterval{Start: AbsolutePosition(lo), End: AbsolutePosition(hi)}
}

// GetItem returns the item under the cursor
func (v *View) GetItem() (*item.Item, error) {
	return v.GetItemAt(v.Position())
}

// GetItemAtMark returns the item at the mark
func (v *View) GetItemAtMark() (*item.Item, error) {
	return v.GetItemAt(v.MarkPosition())
}

// GetItemAt returns the item at window position p
func (v *View) GetItemAt(p item.Position) (*item.Item, error) {
	if v.closed.Load() {
		return nil, v.core.fail("get", ErrClosed)
	}
	if n := v.Length(); p < 0 || int64(p) >= n {
		return nil, v.core.fail("get", fmt.Errorf("%w: position %d outside view of %d", ErrGetItem, p, n))
	}
	return v.core.GetItem(item.Position(v.start + int64(p)))
}

// Each calls fn for every item in the window, stopping at the first error
func (v *View) Each(fn func(*item.Item) error) error {
	n := v.Length()
	for p := int64(0); p < n; p++ {
		it, err := v.GetItemAt(item.Position(p))
		if err != nil {
			return err
		}
		if err := fn(it); err != nil {
			return err
		}
	}
	return nil
}

// Locate finds t within the window. Positions are window positions and times
// owned by items outside the window are TooLow or TooHigh.
func (v *View) Locate(t timestamp.Timestamp, sel timestamp.Selector, life timestamp.Lifetime) (Location, error) {
	if v.closed.Load() {
		return Location{}, v.core.fail("locate", ErrClosed)
	}
	loc, err := v.core.Locate(t, sel, life)
	if err != nil || loc.Outcome != Found {
		return loc, err
	}

	rel := int64(loc.Position) - v.start
	n := v.Length()
	if rel < 0 && loc.Time == t && n > 0 {
		// duplicates of t may continue into the window
		first, err := v.core.timestampAt(item.Position(v.start), sel)
		if err != nil {
			return Location{}, v.core.fail("locate", err)
		}
		if first == t {
			rel = 0
		}
	}
	switch {
	case rel < 0:
		return Location{Outcome: TooLow, Position: item.NoPosition}, nil
	case rel >= n:
		return Location{Outcome: TooHigh, Position: item.NoPosition}, nil
	}
	loc.Position = item.Position(rel)
	return loc, nil
}

// AddItem appends to the underlying index
func (v *View) AddItem(data []byte, dataTime timestamp.Timestamp) (item.Position, error) {
	return v.core.AddItem(data, dataTime)
}

// Append appends an entry to the underlying index
func (v *View) Append(e item.Entry) (item.Position, error) {
	return v.core.Append(e)
}

// Close commits pending writes and releases the view's handle. The last
// handle of a core closes it for real. Closing a view twice is a no-op.
//
// Indexes opened by Follow are shared by every view of the core, so they are
// not closed per view: they stay open until the core's last handle goes, and
// are closed after the real close, outside the gate.
func (v *View) Close() error {
	if !v.closed.CompareAndSwap(false, true) {
		return nil
	}
	c := v.core
	err := c.commit()

	gate := c.dir.Gate(c.uri)
	gate.Lock()
	if c.IsClosed() {
		// closed underneath us by the directory shutdown hook
		gate.Unlock()
		return nil
	}
	last := false
	n, rerr := c.dir.RemoveHandle(c)
	if rerr != nil {
		err = multierr.Append(err, rerr)
	} else if n == 0 {
		last = true
		err = multierr.Append(err, c.reallyClose())
	}
	gate.Unlock()

	if last {
		err = multierr.Append(err, c.refs.closeAll())
	}
	return err
}

func (v *View) String() string {
	if v.interval == nil {
		return fmt.Sprintf("View[%s len=%d]", v.core.name, v.Length())
	}
	return fmt.Sprintf("View[%s %s start=%d len=%d]", v.core.name, v.interval, v.start, v.Length())
}
