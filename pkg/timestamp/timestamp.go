// ABOUTME: Absolute timestamps used for index and data times
// ABOUTME: Nanosecond resolution, with Zero as the "not set" sentinel

package timestamp

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Timestamp is an absolute point in time, in nanoseconds since the Unix epoch
type Timestamp int64

// Zero marks an unset timestamp (empty index bounds, defaulted data time)
const Zero Timestamp = 0

// Now returns the current wall clock time
func Now() Timestamp {
	return FromTime(time.Now())
}

// FromTime converts a time.Time
func FromTime(t time.Time) Timestamp {
	if t.IsZero() {
		return Zero
	}
	return Timestamp(t.UnixNano())
}

// FromMillis converts milliseconds since the epoch
func FromMillis(ms int64) Timestamp {
	return Timestamp(ms * int64(time.Millisecond))
}

// Time returns the timestamp as a UTC time.Time
func (t Timestamp) Time() time.Time {
	if t == Zero {
		return time.Time{}
	}
	return time.Unix(0, int64(t)).UTC()
}

// Millis returns the timestamp in milliseconds since the epoch
func (t Timestamp) Millis() int64 {
	return int64(t) / int64(time.Millisecond)
}

// IsZero reports whether t is the Zero sentinel
func (t Timestamp) IsZero() bool {
	return t == Zero
}

// Before reports whether t is strictly earlier than u
func (t Timestamp) Before(u Timestamp) bool {
	return t < u
}

// After reports whether t is strictly later than u
func (t Timestamp) After(u Timestamp) bool {
	return t > u
}

// Compare returns -1, 0 or +1
func (t Timestamp) Compare(u Timestamp) int {
	switch {
	case t < u:
		return -1
	case t > u:
		return 1
	default:
		return 0
	}
}

// Add returns t shifted by d
func (t Timestamp) Add(d time.Duration) Timestamp {
	return t + Timestamp(d)
}

// Sub returns the elapsed time t-u
func (t Timestamp) Sub(u Timestamp) time.Duration {
	return time.Duration(t - u)
}

// String formats the timestamp as RFC3339 with nanoseconds
func (t Timestamp) String() string {
	if t == Zero {
		return "zero"
	}
	return t.Time().Format(time.RFC3339Nano)
}

// Max returns the later of t and u
func Max(t, u Timestamp) Timestamp {
	if t > u {
		return t
	}
	return u
}

// Parse accepts RFC3339 (with optional fractional seconds), a bare integer of
// milliseconds since the epoch, or "zero"
func Parse(s string) (Timestamp, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "zero" {
		return Zero, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return FromMillis(ms), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return Zero, fmt.Errorf("timestamp: cannot parse %q: %w", s, err)
	}
	return FromTime(t), nil
}
