package index

import (
	"errors"
	"math/rand"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nainya/timeindex/pkg/header"
	"github.com/nainya/timeindex/pkg/storage"
)

func TestRealCloseExactlyOnce(t *testing.T) {
	const handles = 16
	for round := 0; round < 25; round++ {
		f := newTestFactory()
		root := createMemory(t, f, "refcount")
		c := root.Core()

		var closes atomic.Int32
		c.OnEvent(Closed, func(Event) { closes.Add(1) })

		views := make([]*View, handles)
		var g errgroup.Group
		for i := range views {
			i := i
			g.Go(func() error {
				v, err := c.AsView()
				views[i] = v
				return err
			})
		}
		if err := g.Wait(); err != nil {
			t.Fatalf("AsView failed: %v", err)
		}
		if n := f.Directory().Count(c); n != handles+1 {
			t.Fatalf("Expected %d handles, got %d", handles+1, n)
		}

		all := append(views, root)
		rand.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
		var closers errgroup.Group
		for _, v := range all {
			closers.Go(v.Close)
		}
		if err := closers.Wait(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}

		if got := closes.Load(); got != 1 {
			t.Fatalf("Round %d: expected one real close, got %d", round, got)
		}
		if !c.IsClosed() || f.Directory().Len() != 0 {
			t.Fatalf("Round %d: core closed=%v, directory holds %d", round, c.IsClosed(), f.Directory().Len())
		}
	}
}

func TestCloseIsIdempotentPerView(t *testing.T) {
	f := newTestFactory()
	root := createMemory(t, f, "twice")
	c := root.Core()
	other, _ := c.AsView()

	for i := 0; i < 3; i++ {
		if err := root.Close(); err != nil {
			t.Fatalf("Close %d failed: %v", i, err)
		}
	}
	if c.IsClosed() {
		t.Fatal("Repeated closes of one view must not close the core")
	}
	if n := f.Directory().Count(c); n != 1 {
		t.Errorf("Expected 1 handle left, got %d", n)
	}
	other.Close()
	if !c.IsClosed() {
		t.Error("Expected the core to close with its last view")
	}
	if _, err := c.AsView(); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from AsView, got %v", err)
	}
}

func TestAsViewRacingLastClose(t *testing.T) {
	for round := 0; round < 50; round++ {
		f := newTestFactory()
		root := createMemory(t, f, "race")
		c := root.Core()
		var closes atomic.Int32
		c.OnEvent(Closed, func(Event) { closes.Add(1) })

		var late *View
		var g errgroup.Group
		g.Go(root.Close)
		g.Go(func() error {
			v, err := c.AsView()
			if errors.Is(err, ErrClosed) {
				return nil
			}
			late = v
			return err
		})
		if err := g.Wait(); err != nil {
			t.Fatalf("Round %d: %v", round, err)
		}

		if late != nil {
			// the new view kept the core alive
			if _, err := late.Core().Locate(base, 0, 0); err != nil {
				t.Fatalf("Round %d: core torn down under a live view: %v", round, err)
			}
			late.Close()
		}
		if closes.Load() != 1 || !c.IsClosed() {
			t.Fatalf("Round %d: closes=%d closed=%v", round, closes.Load(), c.IsClosed())
		}
	}
}

func TestDirectoryLookups(t *testing.T) {
	f := newTestFactory()
	d := f.Directory()
	v := createMemory(t, f, "lookup")
	c := v.Core()

	if got, ok := d.LookupName("lookup"); !ok || got != c {
		t.Error("LookupName failed")
	}
	if got, ok := d.LookupID(c.ID()); !ok || got != c {
		t.Error("LookupID failed")
	}
	if got, ok := d.LookupURI(c.URI()); !ok || got != c {
		t.Error("LookupURI failed")
	}

	// opening by name shares the core
	w, err := f.Open(Properties{PropName: "lookup"})
	if err != nil {
		t.Fatalf("Open by name failed: %v", err)
	}
	if w.Core() != c || d.Count(c) != 2 {
		t.Errorf("Expected a shared core with 2 handles, got %d", d.Count(c))
	}

	w.Close()
	v.Close()
	if _, ok := d.LookupName("lookup"); ok {
		t.Error("Closed cores must leave the directory")
	}
	if d.Count(c) != -1 {
		t.Errorf("Expected -1 for an unregistered core, got %d", d.Count(c))
	}
	if _, err := d.RemoveHandle(c); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestDirectoryCloseAll(t *testing.T) {
	f := newTestFactory()
	path := filepath.Join(t.TempDir(), "shutdown")
	a, err := f.Create(header.Inline, Properties{PropName: "a", PropIndexPath: path})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	a.AddItem([]byte("kept"), 0)
	b := createMemory(t, f, "b")
	b.Core().AsView()

	if err := f.Directory().CloseAll(); err != nil {
		t.Fatalf("CloseAll failed: %v", err)
	}
	if !a.Core().IsClosed() || !b.Core().IsClosed() || f.Directory().Len() != 0 {
		t.Fatal("Expected every core closed")
	}
	// views closed after shutdown are no-ops
	if err := a.Close(); err != nil {
		t.Errorf("Close after shutdown failed: %v", err)
	}

	h, err := storage.Detect(path)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if h.Length != 1 {
		t.Errorf("Expected the shutdown to flush 1 item, got %d", h.Length)
	}
}

func TestSharedFileIndex(t *testing.T) {
	f := newTestFactory()
	path := filepath.Join(t.TempDir(), "shared")
	w, err := f.Create(header.External, Properties{PropName: "shared", PropIndexPath: path})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	// another spelling of the same index resolves to the same core
	r, err := f.Open(Properties{PropIndexPath: path + storage.IndexExt})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if r.Core() != w.Core() {
		t.Fatal("Expected one core per file")
	}

	w.AddItem([]byte("seen by readers"), 0)
	if r.Length() != 1 {
		t.Errorf("Reader view does not see the append")
	}
	w.Close()
	if _, err := r.GetItemAt(0); err != nil {
		t.Errorf("Reader lost the index when the writer closed: %v", err)
	}
	r.Close()
}

func TestWriteLockRetry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locked")
	first := newTestFactory()
	w, err := first.Create(header.Inline, Properties{PropName: "locked", PropIndexPath: path})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// a second process is simulated by a factory with its own directory
	second := newTestFactory()
	_, err = second.Append(Properties{PropIndexPath: path})
	if !errors.Is(err, ErrWriteLocked) || !IsRetryable(err) {
		t.Fatalf("Expected a retryable ErrWriteLocked, got %v", err)
	}
	if second.Directory().Len() != 0 {
		t.Error("A failed append must not leave the index registered")
	}

	w.Close()
	var v *View
	for attempt := 0; attempt < 5; attempt++ {
		if v, err = second.Append(Properties{PropIndexPath: path}); !IsRetryable(err) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("Append after release failed: %v", err)
	}
	defer v.Close()
	if _, err := v.AddItem([]byte("mine now"), 0); err != nil {
		t.Errorf("AddItem failed: %v", err)
	}
}

func TestPeriodicFlush(t *testing.T) {
	f := newTestFactory()
	path := filepath.Join(t.TempDir(), "flushed")
	v, err := f.Create(header.Inline, Properties{
		PropName:          "flushed",
		PropIndexPath:     path,
		PropFlushInterval: "10ms",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer v.Close()
	v.AddItem([]byte("one"), 0)
	v.AddItem([]byte("two"), 0)

	deadline := time.Now().Add(2 * time.Second)
	for {
		h, err := storage.Detect(path)
		if err == nil && h.Length == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Header never flushed: %v %v", h, err)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
