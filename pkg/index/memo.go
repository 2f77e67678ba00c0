package index

import (
	"sync"

	"github.com/google/btree"

	"github.com/nainya/timeindex/internal/metrics"
	"github.com/nainya/timeindex/pkg/item"
	"github.com/nainya/timeindex/pkg/timestamp"
)

// memoCapacity bounds the locate memo; a full memo is cleared and refilled
const memoCapacity = 4096

type memoEntry struct {
	pos       item.Position
	indexTime timestamp.Timestamp
	dataTime  timestamp.Timestamp
}

func memoLess(a, b memoEntry) bool { return a.pos < b.pos }

// memo remembers the timestamps of positions probed by binary searches.
// Positions never move once assigned, so entries never go stale.
type memo struct {
	mu      sync.Mutex
	tree    *btree.BTreeG[memoEntry]
	max     int
	metrics *metrics.Metrics
}

func newMemo(max int, m *metrics.Metrics) *memo {
	return &memo{
		tree:    btree.NewG[memoEntry](16, memoLess),
		max:     max,
		metrics: m,
	}
}

func (m *memo) get(pos item.Position) (memoEntry, bool) {
	m.mu.Lock()
	e, ok := m.tree.Get(memoEntry{pos: pos})
	m.mu.Unlock()
	m.metrics.RecordMemo(ok)
	return e, ok
}

func (m *memo) put(e memoEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tree.Len() >= m.max {
		m.tree.Clear(true)
	}
	m.tree.ReplaceOrInsert(e)
}

func (m *memo) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tree.Len()
}

func (m *memo) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tree.Clear(false)
}
