package index

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/nainya/timeindex/pkg/header"
	"github.com/nainya/timeindex/pkg/item"
	"github.com/nainya/timeindex/pkg/reader"
	"github.com/nainya/timeindex/pkg/storage"
	"github.com/nainya/timeindex/pkg/timestamp"
)

func TestReopenScenario(t *testing.T) {
	words := []string{"first", "second", "third"}
	for _, typ := range []header.Type{header.Inline, header.External} {
		t.Run(typ.String(), func(t *testing.T) {
			f := NewFactory(FactoryOptions{Clock: stepClock(base, 100*time.Millisecond)})
			path := filepath.Join(t.TempDir(), "t")
			v, err := f.Create(typ, Properties{PropName: "t", PropIndexPath: path})
			if err != nil {
				t.Fatalf("Create failed: %v", err)
			}
			for _, w := range words {
				if _, err := v.AddItem([]byte(w), timestamp.Zero); err != nil {
					t.Fatalf("AddItem failed: %v", err)
				}
			}
			first, _ := v.GetItemAt(0)
			if err := v.Close(); err != nil {
				t.Fatalf("Close failed: %v", err)
			}

			r, err := f.Open(Properties{PropIndexPath: path})
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			defer r.Close()

			h := r.Header()
			if h.Length != 3 || h.Name != "t" || h.Type != typ {
				t.Errorf("Unexpected header %s", h)
			}
			if h.FirstDataTime != first.DataTime || h.FirstDataTime != base {
				t.Errorf("Expected first data time %s, got %s", base, h.FirstDataTime)
			}
			it, err := r.GetItemAt(1)
			if err != nil {
				t.Fatalf("GetItem failed: %v", err)
			}
			if string(it.Data) != "second" {
				t.Errorf("Expected %q, got %q", "second", it.Data)
			}
			if d := it.DataTime.Sub(first.DataTime); d != 100*time.Millisecond {
				t.Errorf("Expected data times 100ms apart, got %s", d)
			}
		})
	}
}

func TestMemoryIndexIsGoneAfterClose(t *testing.T) {
	f := newTestFactory()
	v := createMemory(t, f, "t")
	for _, w := range []string{"a", "b", "c"} {
		v.AddItem([]byte(w), 0)
	}
	v.Close()
	if _, err := f.Open(Properties{PropName: "t"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestCreateErrors(t *testing.T) {
	f := newTestFactory()
	dir := t.TempDir()

	tests := []struct {
		name  string
		typ   header.Type
		props Properties
		want  error
	}{
		{"no name", header.Memory, Properties{}, ErrSpecification},
		{"no path", header.Inline, Properties{PropName: "x"}, ErrSpecification},
		{"shadow without data", header.Shadow, Properties{PropName: "x", PropIndexPath: filepath.Join(dir, "s")}, ErrCreate},
		{"bad readonly", header.Memory, Properties{PropName: "x", PropReadOnly: "perhaps"}, ErrSpecification},
		{"bad compression", header.Inline, Properties{PropName: "x", PropIndexPath: filepath.Join(dir, "c"), PropCompression: "lz4"}, ErrSpecification},
		{"size policy without budget", header.Memory, Properties{PropName: "x", PropCachePolicy: "size"}, ErrSpecification},
		{"bad load style", header.Memory, Properties{PropName: "x", PropLoadStyle: "some"}, ErrSpecification},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := f.Create(tt.typ, tt.props)
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
			if v != nil {
				v.Close()
			}
		})
	}

	path := filepath.Join(dir, "dup")
	v, err := f.Create(header.Inline, Properties{PropName: "dup", PropIndexPath: path})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := f.Create(header.Inline, Properties{PropName: "dup", PropIndexPath: path}); !errors.Is(err, ErrCreate) {
		t.Errorf("Expected ErrCreate for an open index, got %v", err)
	}
	v.Close()
	if _, err := f.Create(header.External, Properties{PropName: "dup", PropIndexPath: path}); !errors.Is(err, ErrCreate) {
		t.Errorf("Expected ErrCreate over existing files, got %v", err)
	}
}

func TestOpenErrors(t *testing.T) {
	f := newTestFactory()
	dir := t.TempDir()
	if _, err := f.Open(Properties{}); !errors.Is(err, ErrSpecification) {
		t.Errorf("Expected ErrSpecification, got %v", err)
	}
	if _, err := f.Open(Properties{PropIndexPath: filepath.Join(dir, "missing")}); !errors.Is(err, ErrOpen) {
		t.Errorf("Expected ErrOpen, got %v", err)
	}

	path := filepath.Join(dir, "typed")
	v, _ := f.Create(header.Inline, Properties{PropName: "typed", PropIndexPath: path})
	v.Close()
	if _, err := f.Open(Properties{PropIndexPath: path, PropType: "external"}); !errors.Is(err, ErrSpecification) {
		t.Errorf("Expected ErrSpecification for a type mismatch, got %v", err)
	}
}

func TestSaveKeepsTimestamps(t *testing.T) {
	f := newTestFactory()
	src := createMemory(t, f, "source")
	defer src.Close()
	fillTen(t, src)
	src.Core().SetTypeName(3, "event")

	sel, err := src.Select(EndPointInterval{AbsolutePosition(3), AbsolutePosition(6)}, timestamp.DataTime, OverlapFree, timestamp.Discrete)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	defer sel.Close()

	path := filepath.Join(t.TempDir(), "copy")
	dst, err := f.Save(sel, header.External, Properties{PropName: "copy", PropIndexPath: path})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	defer dst.Close()

	if dst.Length() != 4 {
		t.Fatalf("Expected 4 saved items, got %d", dst.Length())
	}
	for p := 0; p < 4; p++ {
		want, _ := sel.GetItemAt(item.Position(p))
		got, err := dst.GetItemAt(item.Position(p))
		if err != nil {
			t.Fatalf("GetItem %d failed: %v", p, err)
		}
		if got.IndexTime != want.IndexTime || got.DataTime != want.DataTime || string(got.Data) != string(want.Data) {
			t.Errorf("Item %d: want %v, got %v", p, want, got)
		}
		if got.Position != item.Position(p) {
			t.Errorf("Item %d renumbered to %d", p, got.Position)
		}
	}
	if name, ok := dst.Core().TypeName(3); !ok || name != "event" {
		t.Errorf("Expected type names to be copied, got %q", name)
	}

	if _, err := f.Save(sel, header.Shadow, Properties{PropName: "shadowcopy", PropIndexPath: path + "-s"}); !errors.Is(err, storage.ErrUnsupported) {
		t.Errorf("Expected ErrUnsupported for a shadow copy of a memory index, got %v", err)
	}
}

func TestShadowIndexOverLog(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "app.log")
	lines := []string{"GET /", "POST /login", "GET /favicon.ico"}
	if err := os.WriteFile(logPath, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	f := newTestFactory()
	path := filepath.Join(dir, "app")
	v, err := f.Create(header.Shadow, Properties{PropName: "app", PropIndexPath: path, PropDataPath: logPath})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	src, _ := os.Open(logPath)
	defer src.Close()
	r, _ := reader.New("lineref", src, nil)
	n, err := f.Load(v, r)
	if err != nil || n != 3 {
		t.Fatalf("Load returned %d, %v", n, err)
	}

	saved, err := f.Save(v, header.Shadow, Properties{PropName: "app2", PropIndexPath: filepath.Join(dir, "app2")})
	if err != nil {
		t.Fatalf("Shadow save failed: %v", err)
	}
	v.Close()
	defer saved.Close()

	var got []string
	saved.Each(func(it *item.Item) error {
		got = append(got, string(it.Data))
		return nil
	})
	if diff := cmp.Diff(lines, got); diff != "" {
		t.Errorf("Shadow payloads mismatch (-want +got):\n%s", diff)
	}
	if _, err := saved.AddItem([]byte("inline bytes"), 0); err == nil {
		t.Error("Shadow indexes cannot store payload bytes")
	}
}

func TestLoadFromReader(t *testing.T) {
	f := newTestFactory()
	v := createMemory(t, f, "loaded")
	defer v.Close()

	r, _ := reader.New("timestamped", strings.NewReader("3000 c\n1000 a\n2000 b\n"), nil)
	n, err := f.Load(v, r)
	if err != nil || n != 3 {
		t.Fatalf("Load returned %d, %v", n, err)
	}
	it, _ := v.GetItemAt(1)
	if string(it.Data) != "a" || it.DataTime != timestamp.FromMillis(1000) {
		t.Errorf("Unexpected item %v", it)
	}

	bad, _ := reader.New("timestamped", strings.NewReader("4000 d\nnever e\n"), nil)
	n, err = f.Load(v, bad)
	if err == nil || n != 1 {
		t.Errorf("Expected one item then an error, got %d, %v", n, err)
	}
}

func TestFollowReferences(t *testing.T) {
	f := newTestFactory()
	path := filepath.Join(t.TempDir(), "target")
	target, err := f.Create(header.External, Properties{PropName: "target", PropIndexPath: path})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer target.Close()
	fillTen(t, target)
	tc := target.Core()

	refs := createMemory(t, f, "refs")
	rc := refs.Core()
	pointed, _ := target.GetItemAt(4)
	pos, err := rc.AddReference(pointed, target, timestamp.Zero)
	if err != nil {
		t.Fatalf("AddReference failed: %v", err)
	}
	if uri, ok := rc.Header().TableEntry(header.OptionIndexURIs, tc.ID()); !ok || uri != tc.URI() {
		t.Errorf("Expected the target URI in the header, got %q", uri)
	}

	ref, _ := rc.GetItem(pos)
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := rc.Follow(ref)
			if err != nil {
				errs <- err
				return
			}
			if string(got.Data) != "item-4" {
				errs <- fmt.Errorf("followed to %q", got.Data)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	if rc.refs.len() != 1 {
		t.Errorf("Expected one tracked index, got %d", rc.refs.len())
	}
	if n := f.Directory().Count(tc); n != 2 {
		t.Errorf("Expected the target opened once more, got %d handles", n)
	}

	second, err := rc.AsView()
	if err != nil {
		t.Fatalf("AsView failed: %v", err)
	}
	refs.Close()
	if n := f.Directory().Count(tc); n != 2 || rc.refs.len() != 1 {
		t.Errorf("Expected followed indexes kept while a view remains, got %d handles", n)
	}
	second.Close()
	if n := f.Directory().Count(tc); n != 1 {
		t.Errorf("Expected tracked views closed with the referring index, got %d handles", n)
	}

	if _, err := tc.Follow(pointed); !errors.Is(err, ErrSpecification) {
		t.Errorf("Expected ErrSpecification following a data item, got %v", err)
	}
}

func TestFollowMemoryReference(t *testing.T) {
	f := newTestFactory()
	a := createMemory(t, f, "a")
	defer a.Close()
	a.AddItem([]byte("hello"), 0)
	b := createMemory(t, f, "b")
	defer b.Close()

	it, _ := a.GetItemAt(0)
	pos, _ := b.Core().AddReference(it, a, 0)
	ref, _ := b.GetItemAt(pos)
	got, err := b.Core().Follow(ref)
	if err != nil || string(got.Data) != "hello" {
		t.Errorf("Follow returned %v, %v", got, err)
	}

	// a self reference needs no directory
	self, _ := b.Core().AddReference(ref, b, 0)
	selfRef, _ := b.GetItemAt(self)
	back, err := b.Core().Follow(selfRef)
	if err != nil || back.Position != pos {
		t.Errorf("Self follow returned %v, %v", back, err)
	}
}

func TestPropertiesParsing(t *testing.T) {
	p := Properties{
		PropCachePolicy:   "size",
		PropCacheBytes:    "64KB",
		PropFlushInterval: "250ms",
		PropReadOnly:      " true ",
		PropLoadStyle:     "ALL",
		PropCompression:   "Snappy",
	}
	s, err := parseSettings(p)
	if err != nil {
		t.Fatalf("parseSettings failed: %v", err)
	}
	if !s.readOnly || s.flushInterval != 250*time.Millisecond || s.loadStyle != storage.LoadAll || s.compression != "snappy" {
		t.Errorf("Unexpected settings %+v", s)
	}
	policy := s.newPolicy()
	defer policy.Close()
	if policy.String() != "size(64000)" {
		t.Errorf("Expected size(64000), got %s", policy)
	}

	if v, ok := (Properties{PropName: "   "}).Get(PropName); ok {
		t.Errorf("Blank values count as absent, got %q", v)
	}
	c := p.Clone()
	c[PropReadOnly] = "false"
	if p[PropReadOnly] != " true " {
		t.Error("Clone shares storage with the original")
	}
	if _, err := (Properties{PropCacheTimeout: "soon"}).Duration(PropCacheTimeout); !errors.Is(err, ErrSpecification) {
		t.Errorf("Expected ErrSpecification, got %v", err)
	}
}

func TestReopenDoesNotBuildCachePolicy(t *testing.T) {
	f := newTestFactory()
	path := filepath.Join(t.TempDir(), "idle")
	props := Properties{PropName: "idle", PropIndexPath: path, PropCachePolicy: "timeout", PropCacheTimeout: "1m"}
	v, err := f.Create(header.Inline, props)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer v.Close()

	before := runtime.NumGoroutine()
	for i := 0; i < 50; i++ {
		again, err := f.Open(props)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		if again.Core() != v.Core() {
			t.Fatal("Expected the open core to be shared")
		}
		if err := again.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}
	if grown := runtime.NumGoroutine() - before; grown >= 10 {
		t.Errorf("Opening a shared index started %d goroutines", grown)
	}
}
