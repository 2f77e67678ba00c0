package index

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nainya/timeindex/pkg/item"
)

// EventKind names what happened to an index
type EventKind uint8

const (
	ItemAdded EventKind = iota
	ItemAccessed
	Terminated
	Closed
)

func (k EventKind) String() string {
	switch k {
	case ItemAdded:
		return "item_added"
	case ItemAccessed:
		return "item_accessed"
	case Terminated:
		return "terminated"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("event(%d)", uint8(k))
	}
}

// Event is delivered to callbacks and subscribers
type Event struct {
	Kind     EventKind
	Index    string
	IndexID  string
	Position item.Position // NoPosition for index-level events
	Item     *item.Item    // copy of the item for item events
}

type callback struct {
	kind EventKind
	fn   func(Event)
}

// events fans out notifications. Firing is skipped entirely while nobody
// listens.
type events struct {
	mu        sync.RWMutex
	next      int
	callbacks map[int]callback
	subs      map[int]chan Event
	listeners atomic.Int32
}

func (e *events) active() bool {
	return e.listeners.Load() > 0
}

func (e *events) on(kind EventKind, fn func(Event)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.callbacks == nil {
		e.callbacks = make(map[int]callback)
	}
	id := e.next
	e.next++
	e.callbacks[id] = callback{kind: kind, fn: fn}
	e.listeners.Add(1)

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.callbacks, id)
			e.mu.Unlock()
			e.listeners.Add(-1)
		})
	}
}

func (e *events) subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.subs == nil {
		e.subs = make(map[int]chan Event)
	}
	id := e.next
	e.next++
	e.subs[id] = ch
	e.listeners.Add(1)

	return ch, func() { e.unsubscribe(id) }
}

func (e *events) unsubscribe(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ch, ok := e.subs[id]; ok {
		delete(e.subs, id)
		close(ch)
		e.listeners.Add(-1)
	}
}

// fire runs callbacks synchronously and offers the event to subscribers
// without blocking; a full subscriber misses the event
func (e *events) fire(ev Event) {
	e.mu.RLock()
	var fns []func(Event)
	for _, cb := range e.callbacks {
		if cb.kind == ev.Kind {
			fns = append(fns, cb.fn)
		}
	}
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	e.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// closeSubscribers ends every subscription; used once the core is closed
func (e *events) closeSubscribers() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, ch := range e.subs {
		delete(e.subs, id)
		close(ch)
		e.listeners.Add(-1)
	}
}

// OnEvent registers fn for events of kind and returns a cancel function.
// Callbacks run on the goroutine that caused the event. Closed fires while
// the index is being torn down, so callbacks must not open or close views of
// the same index.
func (c *Core) OnEvent(kind EventKind, fn func(Event)) (cancel func()) {
	return c.events.on(kind, fn)
}

// Subscribe returns a channel receiving every event. Events are dropped
// while the channel is full. The channel is closed by cancel or when the
// core closes.
func (c *Core) Subscribe(buffer int) (<-chan Event, func()) {
	return c.events.subscribe(buffer)
}
