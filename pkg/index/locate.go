// ABOUTME: Timestamp to position lookup by binary search
// ABOUTME: Discrete and continuous lifetimes attribute in-between times differently

package index

import (
	"fmt"

	"github.com/nainya/timeindex/pkg/item"
	"github.com/nainya/timeindex/pkg/timestamp"
)

// Outcome classifies a lookup
type Outcome uint8

const (
	// Found means Position and Time are valid
	Found Outcome = iota
	// TooLow means the time precedes the first item
	TooLow
	// TooHigh means the time follows the last item, or the index is empty
	TooHigh
)

func (o Outcome) String() string {
	switch o {
	case Found:
		return "found"
	case TooLow:
		return "too_low"
	case TooHigh:
		return "too_high"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(o))
	}
}

// Location is the result of Locate
type Location struct {
	Outcome  Outcome
	Position item.Position
	Time     timestamp.Timestamp // timestamp of the item at Position
}

// Locate finds the position owning time t. Times outside the index bounds
// are reported through the outcome, not as errors.
//
// An exact match resolves to the earliest item carrying t. A time strictly
// between two items resolves to the earlier one under Continuous and to the
// later one under Discrete.
func (c *Core) Locate(t timestamp.Timestamp, sel timestamp.Selector, life timestamp.Lifetime) (Location, error) {
	c.mu.RLock()
	closed := c.closed
	n := c.hdr.Length
	first, last := c.hdr.First(sel), c.hdr.Last(sel)
	c.mu.RUnlock()

	if closed {
		return Location{}, c.fail("locate", ErrClosed)
	}
	loc, err := c.search(t, sel, life, n, first, last)
	if err != nil {
		return Location{}, c.fail("locate", err)
	}
	c.metrics.RecordLocate(loc.Outcome.String())
	return loc, nil
}

func (c *Core) search(t timestamp.Timestamp, sel timestamp.Selector, life timestamp.Lifetime, n int64, first, last timestamp.Timestamp) (Location, error) {
	switch {
	case n == 0:
		return Location{Outcome: TooHigh, Position: item.NoPosition}, nil
	case t < first:
		return Location{Outcome: TooLow, Position: item.NoPosition}, nil
	case t > last:
		return Location{Outcome: TooHigh, Position: item.NoPosition}, nil
	}

	lo, hi := int64(0), n-1
	for lo <= hi {
		mid := lo + (hi-lo)/2
		tm, err := c.timestampAt(item.Position(mid), sel)
		if err != nil {
			return Location{}, err
		}
		if t == tm {
			return c.earliest(item.Position(mid), t, sel)
		}
		if mid+1 < n {
			tn, err := c.timestampAt(item.Position(mid+1), sel)
			if err != nil {
				return Location{}, err
			}
			if t == tn {
				return Location{Outcome: Found, Position: item.Position(mid + 1), Time: tn}, nil
			}
			if tm < t && t < tn {
				if life == timestamp.Continuous {
					return Location{Outcome: Found, Position: item.Position(mid), Time: tm}, nil
				}
				return Location{Outcome: Found, Position: item.Position(mid + 1), Time: tn}, nil
			}
		}
		if t < tm {
			hi = mid - 1
		} else {
			lo = mid + 1
		}
	}
	// only reachable when timestamps for sel are not sorted
	return Location{}, fmt.Errorf("%w: %s not bracketed by any items", ErrNotFound, t)
}

// earliest walks back over items sharing the matched timestamp
func (c *Core) earliest(pos item.Position, t timestamp.Timestamp, sel timestamp.Selector) (Location, error) {
	for pos > 0 {
		prev, err := c.timestampAt(pos-1, sel)
		if err != nil {
			return Location{}, err
		}
		if prev != t {
			break
		}
		pos--
	}
	return Location{Outcome: Found, Position: pos, Time: t}, nil
}

// timestampAt returns one timestamp of the item at pos without loading its
// payload, consulting the memo first
func (c *Core) timestampAt(pos item.Position, sel timestamp.Selector) (timestamp.Timestamp, error) {
	e, ok := c.memo.get(pos)
	if !ok {
		it, err := c.cache.Meta(pos)
		if err != nil {
			return 0, fmt.Errorf("%w: position %d: %v", ErrGetItem, pos, err)
		}
		e = memoEntry{pos: pos, indexTime: it.IndexTime, dataTime: it.DataTime}
		c.memo.put(e)
	}
	if sel == timestamp.DataTime {
		return e.dataTime, nil
	}
	return e.indexTime, nil
}
