package timestamp

import "fmt"

// Selector chooses which of an item's two timestamps a search compares against
type Selector uint8

const (
	// IndexTime is the time the item entered the index
	IndexTime Selector = iota
	// DataTime is the time supplied by the producer of the item
	DataTime
)

func (s Selector) String() string {
	switch s {
	case IndexTime:
		return "index"
	case DataTime:
		return "data"
	default:
		return fmt.Sprintf("selector(%d)", uint8(s))
	}
}

// ParseSelector parses "index" or "data"
func ParseSelector(s string) (Selector, error) {
	switch s {
	case "index", "INDEX", "":
		return IndexTime, nil
	case "data", "DATA":
		return DataTime, nil
	}
	return IndexTime, fmt.Errorf("timestamp: unknown selector %q", s)
}

// Lifetime decides which of two bracketing items owns a point in time.
//
// Under Discrete each item is a single instant, so a time strictly between two
// items belongs to the later one. Under Continuous an item lasts until the next
// one starts, so the same time belongs to the earlier one.
type Lifetime uint8

const (
	Discrete Lifetime = iota
	Continuous
)

func (l Lifetime) String() string {
	switch l {
	case Discrete:
		return "discrete"
	case Continuous:
		return "continuous"
	default:
		return fmt.Sprintf("lifetime(%d)", uint8(l))
	}
}

// ParseLifetime parses "discrete" or "continuous"
func ParseLifetime(s string) (Lifetime, error) {
	switch s {
	case "discrete", "DISCRETE", "":
		return Discrete, nil
	case "continuous", "CONTINUOUS":
		return Continuous, nil
	}
	return Discrete, fmt.Errorf("timestamp: unknown lifetime %q", s)
}
