package item

import (
	"testing"

	"github.com/nainya/timeindex/pkg/timestamp"
)

func TestHollowKeepsMetadata(t *testing.T) {
	it := &Item{
		IndexTime: timestamp.FromMillis(10),
		DataTime:  timestamp.FromMillis(5),
		Data:      []byte("payload"),
		Ref:       &DataReference{Offset: 128, Size: 7},
		Size:      7,
		ID:        3,
		Position:  3,
	}

	if it.IsHollow() {
		t.Fatal("fresh item should not be hollow")
	}
	if !it.Hollow() {
		t.Fatal("item with a data reference must be hollowable")
	}
	if !it.IsHollow() {
		t.Error("expected hollow item")
	}
	if it.Size != 7 || it.Position != 3 || it.Timestamp(timestamp.DataTime) != timestamp.FromMillis(5) {
		t.Errorf("metadata changed by hollowing: %v", it)
	}
}

func TestHollowRefusesMemoryOnlyItems(t *testing.T) {
	it := &Item{Data: []byte("only copy"), Size: 9}
	if it.Hollow() {
		t.Fatal("memory-only item must not be hollowed")
	}
	if string(it.Data) != "only copy" {
		t.Errorf("payload lost: %q", it.Data)
	}
}

func TestCloneDoesNotShareReference(t *testing.T) {
	it := &Item{Ref: &DataReference{Offset: 1, Size: 2}}
	c := it.Clone()
	c.Ref.Offset = 99
	if it.Ref.Offset != 1 {
		t.Errorf("clone mutated original reference")
	}
}

func TestReferenceCodec(t *testing.T) {
	ref := IndexReference{IndexID: "abc", URI: "file:///tmp/x", Position: 42}
	it := &Item{Kind: KindIndexReference, Data: EncodeReference(ref)}

	got, err := it.Reference()
	if err != nil {
		t.Fatalf("Reference: %v", err)
	}
	if got != ref {
		t.Errorf("got %+v, want %+v", got, ref)
	}

	if _, err := DecodeReference([]byte{1, 2, 3}); err != ErrBadReference {
		t.Errorf("expected ErrBadReference, got %v", err)
	}
	if _, err := (&Item{Kind: KindData, Data: []byte("x")}).Reference(); err == nil {
		t.Error("expected error for data item")
	}
}

func TestAnnotations(t *testing.T) {
	var a Annotations
	a = a.Set(0).Set(63)
	if !a.Has(0) || !a.Has(63) || a.Has(5) {
		t.Errorf("unexpected bits %b", a)
	}
	a = a.Clear(0)
	if a.Has(0) {
		t.Error("bit 0 should be cleared")
	}
}
