// ABOUTME: Selection resolves an interval to fixed bounds within a view
// ABOUTME: Bounds compose: a selection of a selection is relative to its parent

package index

import (
	"fmt"
	"time"

	"github.com/nainya/timeindex/pkg/item"
	"github.com/nainya/timeindex/pkg/timestamp"
)

// Select returns a new view over the part of v described by iv. The new view
// holds its own handle and must be closed. An interval that matches nothing
// yields an empty view, not an error.
func (v *View) Select(iv Interval, sel timestamp.Selector, overlap Overlap, life timestamp.Lifetime) (*View, error) {
	if v.closed.Load() {
		return nil, v.core.fail("select", ErrClosed)
	}
	r := resolver{v: v, n: v.Length(), sel: sel, overlap: overlap, life: life}
	s, e, err := r.bounds(iv)
	if err != nil {
		return nil, v.core.fail("select", err)
	}
	if r.n == 0 || s > e {
		s, e = 0, -1
	}

	c := v.core
	gate := c.dir.Gate(c.uri)
	gate.Lock()
	defer gate.Unlock()
	child, err := c.newSelectionLocked(v.start+s, v.start+e, iv)
	if err != nil {
		return nil, err
	}
	c.log.Debug().
		Str("interval", iv.String()).
		Str("selector", sel.String()).
		Str("overlap", overlap.String()).
		Int64("start", child.start).
		Int64("length", child.Length()).
		Msg("Selection created")
	return child, nil
}

// resolver turns points and spans into window positions of v
type resolver struct {
	v       *View
	n       int64
	sel     timestamp.Selector
	overlap Overlap
	life    timestamp.Lifetime
}

// empty bounds
const none = -1

func (r resolver) bounds(iv Interval) (int64, int64, error) {
	switch iv := iv.(type) {
	case EndPointInterval:
		s, err := r.start(iv.Start)
		if err != nil || s == none {
			return 0, none, err
		}
		e, err := r.end(iv.End)
		if err != nil {
			return 0, none, err
		}
		return s, e, nil

	case MidPointInterval:
		if r.n == 0 {
			return 0, none, nil
		}
		m, mt, err := r.mid(iv.Mid)
		if err != nil {
			return 0, none, err
		}
		s, err := r.before(iv.Before, m, mt)
		if err != nil || s == none {
			return 0, none, err
		}
		e, err := r.after(iv.After, m, mt)
		if err != nil {
			return 0, none, err
		}
		return s, e, nil

	case nil:
		return 0, none, fmt.Errorf("%w: no interval", ErrSpecification)
	}
	return 0, none, fmt.Errorf("%w: unsupported interval %T", ErrSpecification, iv)
}

func (r resolver) ts(p int64) (timestamp.Timestamp, error) {
	return r.v.core.timestampAt(item.Position(r.v.start+p), r.sel)
}

// start resolves the first position, or none when the interval begins
// after the window
func (r resolver) start(p Point) (int64, error) {
	switch p := p.(type) {
	case AbsolutePosition:
		q := int64(p)
		if q >= r.n {
			return none, nil
		}
		if q < 0 {
			q = 0
		}
		return q, nil

	case AbsoluteTime:
		t := timestamp.Timestamp(p)
		loc, err := r.v.Locate(t, r.sel, r.life)
		if err != nil {
			return none, err
		}
		switch loc.Outcome {
		case TooLow:
			return 0, nil
		case TooHigh:
			return none, nil
		}
		q := int64(loc.Position)
		// under continuous lifetimes the located item started before t
		if r.overlap == OverlapStrict && r.life == timestamp.Continuous && loc.Time < t {
			q++
		}
		if q >= r.n {
			return none, nil
		}
		return q, nil
	}
	return none, fmt.Errorf("%w: unsupported point %T", ErrSpecification, p)
}

// end resolves the last position, or none when the interval ends before the
// window
func (r resolver) end(p Point) (int64, error) {
	switch p := p.(type) {
	case AbsolutePosition:
		q := int64(p)
		if q < 0 {
			return none, nil
		}
		if q >= r.n {
			q = r.n - 1
		}
		return q, nil

	case AbsoluteTime:
		t := timestamp.Timestamp(p)
		loc, err := r.v.Locate(t, r.sel, r.life)
		if err != nil {
			return none, err
		}
		switch loc.Outcome {
		case TooHigh:
			return r.n - 1, nil
		case TooLow:
			return none, nil
		}
		q := int64(loc.Position)
		for q+1 < r.n {
			next, err := r.ts(q + 1)
			if err != nil {
				return none, err
			}
			if next != t {
				break
			}
			q++
		}
		tq, err := r.ts(q)
		if err != nil {
			return none, err
		}
		switch {
		case r.life == timestamp.Discrete && tq > t:
			q--
		case r.life == timestamp.Continuous && r.overlap == OverlapStrict && q < r.n-1:
			// the item at q lasts past t
			q--
		}
		return q, nil
	}
	return none, fmt.Errorf("%w: unsupported point %T", ErrSpecification, p)
}

// mid resolves the anchor of a midpoint interval and the time it stands for
func (r resolver) mid(p Point) (int64, timestamp.Timestamp, error) {
	switch p := p.(type) {
	case AbsolutePosition:
		q := clamp(int64(p), r.n)
		t, err := r.ts(q)
		return q, t, err

	case AbsoluteTime:
		t := timestamp.Timestamp(p)
		loc, err := r.v.Locate(t, r.sel, r.life)
		if err != nil {
			return none, 0, err
		}
		switch loc.Outcome {
		case TooLow:
			return 0, t, nil
		case TooHigh:
			return r.n - 1, t, nil
		}
		return int64(loc.Position), t, nil
	}
	return none, 0, fmt.Errorf("%w: unsupported point %T", ErrSpecification, p)
}

func (r resolver) before(s Span, m int64, mt timestamp.Timestamp) (int64, error) {
	switch s := s.(type) {
	case Count:
		if s < 0 {
			return none, fmt.Errorf("%w: negative count %d", ErrSpecification, int64(s))
		}
		q := m - int64(s)
		if q < 0 {
			q = 0
		}
		return q, nil
	case Elapsed:
		if s < 0 {
			return none, fmt.Errorf("%w: negative span %s", ErrSpecification, s)
		}
		return r.start(AbsoluteTime(mt.Add(-time.Duration(s))))
	case nil:
		return m, nil
	}
	return none, fmt.Errorf("%w: unsupported span %T", ErrSpecification, s)
}

func (r resolver) after(s Span, m int64, mt timestamp.Timestamp) (int64, error) {
	switch s := s.(type) {
	case Count:
		if s < 0 {
			return none, fmt.Errorf("%w: negative count %d", ErrSpecification, int64(s))
		}
		q := m + int64(s)
		if q >= r.n {
			q = r.n - 1
		}
		return q, nil
	case Elapsed:
		if s < 0 {
			return none, fmt.Errorf("%w: negative span %s", ErrSpecification, s)
		}
		return r.end(AbsoluteTime(mt.Add(time.Duration(s))))
	case nil:
		return m, nil
	}
	return none, fmt.Errorf("%w: unsupported span %T", ErrSpecification, s)
}
