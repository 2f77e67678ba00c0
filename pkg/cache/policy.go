// ABOUTME: Eviction policies deciding when cached payloads become hollow
// ABOUTME: Size (LRU byte budget), timeout (idle expiry), and read-once

package cache

import (
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/simplelru"
	gocache "github.com/patrickmn/go-cache"

	"github.com/nainya/timeindex/pkg/item"
)

// Policy observes cache traffic and hollows items through the attached Hollower.
// Hooks are called without the cache lock held.
type Policy interface {
	Attach(h Hollower)
	Added(it *item.Item)
	Accessed(it *item.Item)
	Close()
	String() string
}

// NoEviction keeps every payload resident
type NoEviction struct{}

func (NoEviction) Attach(Hollower) {}
func (NoEviction) Added(*item.Item) {}
func (NoEviction) Accessed(*item.Item) {}
func (NoEviction) Close() {}
func (NoEviction) String() string { return "none" }

// SizePolicy hollows least recently used payloads once the resident payload
// bytes it tracks exceed Limit
type SizePolicy struct {
	mu       sync.Mutex
	limit    int64
	resident int64
	order    *lru.LRU[item.Position, int64]
	victims  []item.Position
	h        Hollower
}

// NewSizePolicy creates a policy with a byte budget
func NewSizePolicy(limit int64) *SizePolicy {
	p := &SizePolicy{limit: limit}
	order, err := lru.NewLRU[item.Position, int64](math.MaxInt32, p.onEvict)
	if err != nil {
		// only errors for size < 1
		panic(err)
	}
	p.order = order
	return p
}

func (p *SizePolicy) onEvict(pos item.Position, size int64) {
	p.resident -= size
	p.victims = append(p.victims, pos)
}

func (p *SizePolicy) Attach(h Hollower) { p.h = h }

func (p *SizePolicy) Added(it *item.Item) {
	if !it.Hollowable() || it.Data == nil {
		return
	}
	p.mu.Lock()
	if old, ok := p.order.Peek(it.Position); ok {
		p.resident -= old
	}
	size := int64(len(it.Data))
	p.order.Add(it.Position, size)
	p.resident += size
	for p.resident > p.limit && p.order.Len() > 1 {
		p.order.RemoveOldest()
	}
	victims := p.victims
	p.victims = nil
	p.mu.Unlock()

	p.hollow(victims)
}

func (p *SizePolicy) Accessed(it *item.Item) {
	if !it.Hollowable() {
		return
	}
	p.mu.Lock()
	_, ok := p.order.Get(it.Position)
	p.mu.Unlock()
	if !ok {
		p.Added(it)
	}
}

func (p *SizePolicy) hollow(victims []item.Position) {
	if p.h == nil {
		return
	}
	for _, pos := range victims {
		p.h.Hollow(pos)
	}
}

// Resident returns the payload bytes currently tracked
func (p *SizePolicy) Resident() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resident
}

func (p *SizePolicy) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.order.Purge()
	p.victims = nil
	p.resident = 0
}

func (p *SizePolicy) String() string { return fmt.Sprintf("size(%d)", p.limit) }

// TimeoutPolicy hollows payloads that have not been touched for Timeout
type TimeoutPolicy struct {
	timeout time.Duration
	idle    *gocache.Cache
	mu      sync.Mutex
	h       Hollower
	closed  bool
}

// NewTimeoutPolicy creates a policy that sweeps every timeout/2
func NewTimeoutPolicy(timeout time.Duration) *TimeoutPolicy {
	sweep := timeout / 2
	if sweep <= 0 {
		sweep = time.Millisecond
	}
	p := &TimeoutPolicy{
		timeout: timeout,
		idle:    gocache.New(timeout, sweep),
	}
	p.idle.OnEvicted(p.onExpired)
	return p
}

func (p *TimeoutPolicy) onExpired(key string, _ interface{}) {
	pos, err := strconv.ParseInt(key, 10, 64)
	if err != nil {
		return
	}
	p.mu.Lock()
	h, closed := p.h, p.closed
	p.mu.Unlock()
	if h != nil && !closed {
		h.Hollow(item.Position(pos))
	}
}

func (p *TimeoutPolicy) Attach(h Hollower) {
	p.mu.Lock()
	p.h = h
	p.mu.Unlock()
}

func (p *TimeoutPolicy) Added(it *item.Item) { p.touch(it) }

func (p *TimeoutPolicy) Accessed(it *item.Item) { p.touch(it) }

func (p *TimeoutPolicy) touch(it *item.Item) {
	if !it.Hollowable() {
		return
	}
	p.idle.Set(strconv.FormatInt(int64(it.Position), 10), nil, gocache.DefaultExpiration)
}

func (p *TimeoutPolicy) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.idle.Flush()
}

func (p *TimeoutPolicy) String() string { return fmt.Sprintf("timeout(%s)", p.timeout) }

// ReadOncePolicy hollows a payload as soon as it has been read once
type ReadOncePolicy struct {
	h Hollower
}

func (p *ReadOncePolicy) Attach(h Hollower) { p.h = h }
func (p *ReadOncePolicy) Added(*item.Item) {}
func (p *ReadOncePolicy) Close() {}
func (p *ReadOncePolicy) String() string { return "readonce" }

func (p *ReadOncePolicy) Accessed(it *item.Item) {
	if p.h != nil && it.Hollowable() {
		p.h.Hollow(it.Position)
	}
}

// ParsePolicy builds a policy from property values
func ParsePolicy(name string, bytes int64, timeout time.Duration) (Policy, error) {
	if err := CheckPolicy(name, bytes, timeout); err != nil {
		return nil, err
	}
	switch name {
	case "size":
		return NewSizePolicy(bytes), nil
	case "timeout":
		return NewTimeoutPolicy(timeout), nil
	case "readonce":
		return &ReadOncePolicy{}, nil
	}
	return NoEviction{}, nil
}

// CheckPolicy reports whether ParsePolicy would accept its arguments without
// building the policy
func CheckPolicy(name string, bytes int64, timeout time.Duration) error {
	switch name {
	case "", "none", "readonce":
		return nil
	case "size":
		if bytes <= 0 {
			return fmt.Errorf("cache: size policy needs a positive byte budget")
		}
		return nil
	case "timeout":
		if timeout <= 0 {
			return fmt.Errorf("cache: timeout policy needs a positive timeout")
		}
		return nil
	}
	return fmt.Errorf("cache: unknown policy %q", name)
}
