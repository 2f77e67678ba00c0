package storage

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/nainya/timeindex/pkg/header"
	"github.com/nainya/timeindex/pkg/item"
	"github.com/nainya/timeindex/pkg/timestamp"
)

func makeItems(n int) []*item.Item {
	items := make([]*item.Item, n)
	for i := range items {
		items[i] = &item.Item{
			IndexTime: timestamp.FromMillis(int64(1000 + i*100)),
			DataTime:  timestamp.FromMillis(int64(500 + i*100)),
			Data:      bytes.Repeat([]byte(fmt.Sprintf("item-%d;", i)), 8),
			ID:        item.ID(i),
			Type:      1,
			Position:  item.Position(i),
		}
		items[i].Size = int64(len(items[i].Data))
	}
	return items
}

// writeIndex creates an index of typ under dir holding items, flushed and closed
func writeIndex(t *testing.T, typ header.Type, opts Options, items []*item.Item) {
	t.Helper()
	b, err := New(typ, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h := header.New("test", "id-1", "file://"+opts.Path, typ)
	if err := b.Create(h); err != nil {
		t.Fatalf("Create: %v", err)
	}
	for _, it := range items {
		if err := b.WriteItem(it); err != nil {
			t.Fatalf("WriteItem %d: %v", it.Position, err)
		}
		if it.Ref == nil {
			t.Fatalf("WriteItem %d left no data reference", it.Position)
		}
		h.Apply(it)
	}
	if err := b.Flush(h); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestFileLayoutsReopen(t *testing.T) {
	layouts := []struct {
		typ         header.Type
		compression string
	}{
		{header.Inline, ""},
		{header.Inline, "snappy"},
		{header.External, ""},
		{header.External, "snappy"},
	}
	for _, l := range layouts {
		t.Run(fmt.Sprintf("%s-%s", l.typ, l.compression), func(t *testing.T) {
			opts := Options{Path: filepath.Join(t.TempDir(), "idx"), Compression: l.compression}
			items := makeItems(5)
			writeIndex(t, l.typ, opts, items)

			b, err := New(l.typ, Options{Path: opts.Path})
			if err != nil {
				t.Fatal(err)
			}
			defer b.Close()
			h, err := b.Open()
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			if h.Length != 5 || h.Name != "test" {
				t.Errorf("reopened header: %v", h)
			}
			if h.FirstDataTime != items[0].DataTime || h.LastIndexTime != items[4].IndexTime {
				t.Errorf("bounds not persisted: %v", h)
			}

			// hollow load reads no payload bytes
			var loaded []*item.Item
			err = b.Load(LoadHollow, func(it *item.Item) error {
				loaded = append(loaded, it)
				return nil
			})
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if len(loaded) != 5 {
				t.Fatalf("loaded %d items", len(loaded))
			}
			for i, it := range loaded {
				if !it.IsHollow() {
					t.Errorf("item %d carries payload after hollow load", i)
				}
				if it.IndexTime != items[i].IndexTime || it.Size != items[i].Size || it.ID != items[i].ID {
					t.Errorf("item %d metadata mismatch: %v", i, it)
				}
				data, err := b.ReadData(it.Ref)
				if err != nil {
					t.Fatalf("ReadData %d: %v", i, err)
				}
				if !bytes.Equal(data, items[i].Data) {
					t.Errorf("item %d payload mismatch", i)
				}
			}

			full, err := b.ReadItem(3, true)
			if err != nil {
				t.Fatalf("ReadItem: %v", err)
			}
			if !bytes.Equal(full.Data, items[3].Data) {
				t.Errorf("full read mismatch: %q", full.Data)
			}
			if _, err := b.ReadItem(5, false); !errors.Is(err, ErrOutOfRange) {
				t.Errorf("expected ErrOutOfRange, got %v", err)
			}
		})
	}
}

func TestReadPendingWrites(t *testing.T) {
	b, err := New(header.External, Options{Path: filepath.Join(t.TempDir(), "idx")})
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	if err := b.Create(header.New("p", "id", "", header.External)); err != nil {
		t.Fatal(err)
	}
	it := makeItems(1)[0]
	if err := b.WriteItem(it); err != nil {
		t.Fatal(err)
	}
	// nothing flushed yet; the read must still see the record
	got, err := b.ReadItem(0, true)
	if err != nil {
		t.Fatalf("ReadItem: %v", err)
	}
	if !bytes.Equal(got.Data, it.Data) {
		t.Errorf("payload mismatch")
	}
}

func TestHeaderRepairedFromRecords(t *testing.T) {
	for _, typ := range []header.Type{header.Inline, header.External} {
		t.Run(typ.String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "idx")
			b, err := New(typ, Options{Path: path})
			if err != nil {
				t.Fatal(err)
			}
			h := header.New("r", "id", "", typ)
			if err := b.Create(h); err != nil {
				t.Fatal(err)
			}
			items := makeItems(3)
			for i, it := range items {
				if err := b.WriteItem(it); err != nil {
					t.Fatal(err)
				}
				h.Apply(it)
				if i == 0 {
					// header persisted after the first item only
					if err := b.Flush(h.Clone()); err != nil {
						t.Fatal(err)
					}
				}
			}
			stale := h.Clone()
			stale.Length = 1
			stale.LastIndexTime = items[0].IndexTime
			if err := b.Flush(stale); err != nil {
				t.Fatal(err)
			}
			b.Close()

			b2, _ := New(typ, Options{Path: path})
			defer b2.Close()
			got, err := b2.Open()
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			if got.Length != 3 {
				t.Errorf("length = %d, want 3", got.Length)
			}
			if got.LastIndexTime != items[2].IndexTime {
				t.Errorf("last index time = %s, want %s", got.LastIndexTime, items[2].IndexTime)
			}
		})
	}
}

func TestTornTailDiscarded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx")
	writeIndex(t, header.Inline, Options{Path: path}, makeItems(4))

	_, ip, _ := Paths(path)
	f, err := os.OpenFile(ip, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		t.Fatal(err)
	}
	f.Write([]byte{1, 2, 3, 4, 5, 6, 7})
	f.Close()

	b, _ := New(header.Inline, Options{Path: path})
	defer b.Close()
	h, err := b.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if h.Length != 4 {
		t.Errorf("length = %d, want 4", h.Length)
	}
	// appends continue right after the last good record
	extra := makeItems(5)[4]
	if err := b.WriteItem(extra); err != nil {
		t.Fatal(err)
	}
	got, err := b.ReadItem(4, true)
	if err != nil {
		t.Fatalf("ReadItem: %v", err)
	}
	if !bytes.Equal(got.Data, extra.Data) {
		t.Error("record after repaired tail is unreadable")
	}
}

func TestShadowLayout(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "source.log")
	content := "first line\nsecond line\nthird\n"
	if err := os.WriteFile(source, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "shadow")
	b, err := New(header.Shadow, Options{Path: path, DataPath: source})
	if err != nil {
		t.Fatal(err)
	}
	h := header.New("s", "id", "", header.Shadow)
	if err := b.Create(h); err != nil {
		t.Fatalf("Create: %v", err)
	}

	refs := []item.DataReference{{Offset: 0, Size: 10}, {Offset: 11, Size: 11}, {Offset: 23, Size: 5}}
	for i, ref := range refs {
		ref := ref
		it := &item.Item{IndexTime: timestamp.FromMillis(int64(i)), Ref: &ref, Size: ref.Size, Position: item.Position(i), ID: item.ID(i)}
		if err := b.WriteItem(it); err != nil {
			t.Fatalf("WriteItem: %v", err)
		}
		h.Apply(it)
	}

	bad := &item.Item{Ref: &item.DataReference{Offset: 20, Size: 100}, Size: 100}
	if err := b.WriteItem(bad); err == nil {
		t.Error("expected error for reference beyond the shadowed file")
	}
	if err := b.WriteItem(&item.Item{Data: []byte("x")}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported for inline payload, got %v", err)
	}

	if err := b.Flush(h); err != nil {
		t.Fatal(err)
	}
	b.Close()

	b2, err := New(header.Shadow, Options{Path: path})
	if err != nil {
		t.Fatalf("New without a data path: %v", err)
	}
	defer b2.Close()
	h2, err := b2.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if h2.DataPath != source {
		t.Errorf("data path from header = %q, want %q", h2.DataPath, source)
	}
	it, err := b2.ReadItem(1, true)
	if err != nil {
		t.Fatal(err)
	}
	if string(it.Data) != "second line" {
		t.Errorf("shadow payload = %q", it.Data)
	}

	after, _ := os.ReadFile(source)
	if string(after) != content {
		t.Error("shadowed file was modified")
	}

	orphan, err := New(header.Shadow, Options{Path: filepath.Join(dir, "orphan")})
	if err != nil {
		t.Fatal(err)
	}
	if err := orphan.Create(header.New("o", "id2", "", header.Shadow)); !errors.Is(err, ErrCreate) {
		t.Errorf("expected ErrCreate creating a shadow index without a data path, got %v", err)
	}
}

func TestWriteLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx")
	writeIndex(t, header.External, Options{Path: path}, makeItems(1))

	first, _ := New(header.External, Options{Path: path})
	defer first.Close()
	if _, err := first.Open(); err != nil {
		t.Fatal(err)
	}
	if err := first.Lock(); err != nil {
		t.Fatalf("first Lock: %v", err)
	}

	second, _ := New(header.External, Options{Path: path})
	defer second.Close()
	if _, err := second.Open(); err != nil {
		t.Fatal(err)
	}
	if err := second.Lock(); !errors.Is(err, ErrWriteLocked) {
		t.Fatalf("expected ErrWriteLocked, got %v", err)
	}

	if err := first.Unlock(); err != nil {
		t.Fatal(err)
	}
	if err := second.Lock(); err != nil {
		t.Errorf("Lock after release: %v", err)
	}

	ro, _ := New(header.External, Options{Path: path, ReadOnly: true})
	defer ro.Close()
	if _, err := ro.Open(); err != nil {
		t.Fatal(err)
	}
	if err := ro.Lock(); !errors.Is(err, ErrReadOnly) {
		t.Errorf("expected ErrReadOnly, got %v", err)
	}
	if err := ro.WriteItem(makeItems(1)[0]); !errors.Is(err, ErrReadOnly) {
		t.Errorf("expected ErrReadOnly on write, got %v", err)
	}
}

func TestCreateRefusesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx")
	writeIndex(t, header.Inline, Options{Path: path}, nil)

	b, _ := New(header.Inline, Options{Path: path})
	if err := b.Create(header.New("again", "id", "", header.Inline)); !errors.Is(err, ErrCreate) {
		t.Errorf("expected ErrCreate, got %v", err)
	}
}

func TestMemoryBackend(t *testing.T) {
	b, err := New(header.Memory, Options{})
	if err != nil {
		t.Fatal(err)
	}
	it := makeItems(1)[0]
	if err := b.WriteItem(it); err != nil {
		t.Fatal(err)
	}
	if it.Ref != nil {
		t.Error("memory items must stay irreplaceable")
	}
	if _, err := b.Open(); !errors.Is(err, ErrNotPersistent) {
		t.Errorf("expected ErrNotPersistent, got %v", err)
	}
}

func TestPaths(t *testing.T) {
	h, i, d := Paths("/data/sensor.tii")
	if h != "/data/sensor.tih" || i != "/data/sensor.tii" || d != "/data/sensor.tid" {
		t.Errorf("unexpected paths %s %s %s", h, i, d)
	}
}

func BenchmarkExternalWrite(b *testing.B) {
	be, err := New(header.External, Options{Path: filepath.Join(b.TempDir(), "bench")})
	if err != nil {
		b.Fatal(err)
	}
	defer be.Close()
	if err := be.Create(header.New("bench", "id", "", header.External)); err != nil {
		b.Fatal(err)
	}
	payload := bytes.Repeat([]byte("x"), 256)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		it := &item.Item{Data: payload, Size: 256, Position: item.Position(i), ID: item.ID(i)}
		if err := be.WriteItem(it); err != nil {
			b.Fatal(err)
		}
	}
}
