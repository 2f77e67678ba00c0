package index

import (
	"fmt"
	"time"

	"github.com/nainya/timeindex/pkg/item"
	"github.com/nainya/timeindex/pkg/timestamp"
)

// Point is one end or the middle of an interval
type Point interface {
	point()
	String() string
}

// AbsolutePosition is a position relative to the view being selected from
type AbsolutePosition item.Position

// AbsoluteTime is resolved to a position through Locate
type AbsoluteTime timestamp.Timestamp

func (AbsolutePosition) point() {}
func (AbsoluteTime) point()     {}

func (p AbsolutePosition) String() string { return fmt.Sprintf("position(%d)", int64(p)) }
func (t AbsoluteTime) String() string     { return "time(" + timestamp.Timestamp(t).String() + ")" }

// Span is a distance from a midpoint
type Span interface {
	span()
	String() string
}

// Count is a number of items
type Count int64

// Elapsed is a duration measured on the selector's timestamps
type Elapsed time.Duration

func (Count) span()   {}
func (Elapsed) span() {}

func (c Count) String() string   { return fmt.Sprintf("count(%d)", int64(c)) }
func (e Elapsed) String() string { return "elapsed(" + time.Duration(e).String() + ")" }

// Interval describes the sub-range a selection exposes
type Interval interface {
	interval()
	String() string
}

// EndPointInterval spans Start to End inclusive
type EndPointInterval struct {
	Start Point
	End   Point
}

// MidPointInterval spans Before ahead of Mid to After past it
type MidPointInterval struct {
	Mid    Point
	Before Span
	After  Span
}

func (EndPointInterval) interval() {}
func (MidPointInterval) interval() {}

func (i EndPointInterval) String() string {
	return fmt.Sprintf("[%s, %s]", i.Start, i.End)
}

func (i MidPointInterval) String() string {
	return fmt.Sprintf("[%s - %s, %s + %s]", i.Mid, i.Before, i.Mid, i.After)
}

// Overlap decides whether items only partly inside an interval are selected
type Overlap uint8

const (
	// OverlapFree includes boundary items that overlap the interval
	OverlapFree Overlap = iota
	// OverlapStrict includes only items wholly inside the interval
	OverlapStrict
)

func (o Overlap) String() string {
	switch o {
	case OverlapFree:
		return "free"
	case OverlapStrict:
		return "strict"
	default:
		return fmt.Sprintf("overlap(%d)", uint8(o))
	}
}

// ParseOverlap parses "free" or "strict"
func ParseOverlap(s string) (Overlap, error) {
	switch s {
	case "free", "FREE", "":
		return OverlapFree, nil
	case "strict", "STRICT":
		return OverlapStrict, nil
	}
	return OverlapFree, fmt.Errorf("%w: unknown overlap %q", ErrSpecification, s)
}
