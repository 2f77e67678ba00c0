package reader

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nainya/timeindex/pkg/item"
	"github.com/nainya/timeindex/pkg/timestamp"
)

func readAll(t *testing.T, r Reader) []Result {
	t.Helper()
	var out []Result
	for {
		res, err := r.Read()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		out = append(out, res)
	}
}

func TestLineReader(t *testing.T) {
	r, err := New("line", strings.NewReader("alpha\nbeta\n\ngamma"), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	got := readAll(t, r)
	want := []Result{{Data: []byte("alpha")}, {Data: []byte("beta")}, {Data: []byte{}}, {Data: []byte("gamma")}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}

	// exhausted readers keep reporting EOF
	if _, err := r.Read(); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF after end, got %v", err)
	}
}

func TestLineReaderMaxLine(t *testing.T) {
	r, err := New("line", strings.NewReader(strings.Repeat("x", 100)+"\n"), Options{"maxline": "10"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := r.Read(); err == nil || errors.Is(err, io.EOF) {
		t.Errorf("Expected a line-too-long error, got %v", err)
	}
}

func TestLineRefReader(t *testing.T) {
	src := "one\r\ntwo\n\nthree"
	r, err := New("lineref", strings.NewReader(src), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	got := readAll(t, r)
	want := []Result{
		{Ref: &item.DataReference{Offset: 0, Size: 3}},
		{Ref: &item.DataReference{Offset: 5, Size: 3}},
		{Ref: &item.DataReference{Offset: 10, Size: 5}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("refs mismatch (-want +got):\n%s", diff)
	}
	for _, res := range got {
		line := src[res.Ref.Offset : res.Ref.Offset+res.Ref.Size]
		if strings.ContainsAny(line, "\r\n") {
			t.Errorf("Reference %+v covers a line terminator: %q", res.Ref, line)
		}
	}
}

func TestTimestampedReader(t *testing.T) {
	src := "1000 first event\n2024-01-02T03:04:05Z\tsecond\n3000\n"
	r, err := New("timestamped", strings.NewReader(src), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	got := readAll(t, r)
	if len(got) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(got))
	}
	if got[0].DataTime != timestamp.FromMillis(1000) || string(got[0].Data) != "first event" {
		t.Errorf("Unexpected first result: %s %q", got[0].DataTime, got[0].Data)
	}
	want, _ := timestamp.Parse("2024-01-02T03:04:05Z")
	if got[1].DataTime != want || string(got[1].Data) != "second" {
		t.Errorf("Unexpected second result: %s %q", got[1].DataTime, got[1].Data)
	}
	if got[2].Data == nil || len(got[2].Data) != 0 {
		t.Errorf("Expected an empty payload, got %q", got[2].Data)
	}
}

func TestTimestampedKeepAndErrors(t *testing.T) {
	r, err := New("timestamped", strings.NewReader("5 five\n"), Options{"keep": "true"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	res, err := r.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(res.Data) != "5 five" {
		t.Errorf("Expected the whole line, got %q", res.Data)
	}

	r, _ = New("timestamped", strings.NewReader("yesterday five\n"), nil)
	if _, err := r.Read(); err == nil {
		t.Error("Expected a parse error")
	}

	if _, err := New("timestamped", strings.NewReader(""), Options{"keep": "maybe"}); err == nil {
		t.Error("Expected a bad option error")
	}
}

func TestUnknownReader(t *testing.T) {
	if _, err := New("mp3", strings.NewReader(""), nil); err == nil {
		t.Error("Expected an error for an unknown reader")
	}
	if diff := cmp.Diff([]string{"line", "lineref", "timestamped"}, Names()); diff != "" {
		t.Errorf("Names mismatch (-want +got):\n%s", diff)
	}
}
