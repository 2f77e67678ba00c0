package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nainya/timeindex/pkg/index"
)

// run executes ti with args and stdin, returning its output
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand(strings.NewReader(stdin), &out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--log-level", "disabled"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, stdin string, args ...string) string {
	t.Helper()
	out, err := run(t, stdin, args...)
	if err != nil {
		t.Fatalf("ti %v failed: %v", args, err)
	}
	return out
}

func TestCreateAppendCat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log")

	out := mustRun(t, "", "create", "inline", path, "--description", "cli test")
	if !strings.HasPrefix(out, "created inline index log") {
		t.Errorf("Unexpected create output %q", out)
	}

	out = mustRun(t, "alpha\nbeta\ngamma\n", "append", path)
	if !strings.Contains(out, "appended 3 items") {
		t.Errorf("Unexpected append output %q", out)
	}

	out = mustRun(t, "", "cat", path)
	if diff := cmp.Diff("alpha\nbeta\ngamma\n", out); diff != "" {
		t.Errorf("cat mismatch (-want +got):\n%s", diff)
	}

	out = mustRun(t, "", "info", path)
	for _, want := range []string{"log", "cli test", "items", "inline"} {
		if !strings.Contains(out, want) {
			t.Errorf("info output lacks %q:\n%s", want, out)
		}
	}
}

func TestTimestampedAppendAndSelect(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "metrics")
	src := filepath.Join(dir, "input.txt")
	lines := "2024-01-01T00:00:00Z cpu=1\n2024-01-01T00:01:00Z cpu=2\n2024-01-01T00:02:00Z cpu=3\n2024-01-01T00:03:00Z cpu=4\n"
	if err := os.WriteFile(src, []byte(lines), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	mustRun(t, "", "create", "external", path, "--compression", "snappy")
	mustRun(t, "", "append", path, src, "--reader", "timestamped")

	out := mustRun(t, "", "select", path, "--start", "2024-01-01T00:00:30Z", "--end", "2024-01-01T00:02:00Z")
	if !strings.Contains(out, `"cpu=2"`) || !strings.Contains(out, `"cpu=3"`) || strings.Contains(out, `"cpu=1"`) || strings.Contains(out, `"cpu=4"`) {
		t.Errorf("Unexpected selection:\n%s", out)
	}

	out = mustRun(t, "", "select", path, "--mid", "1", "--after", "1")
	if !strings.Contains(out, `"cpu=2"`) || !strings.Contains(out, `"cpu=3"`) || strings.Contains(out, `"cpu=4"`) {
		t.Errorf("Unexpected midpoint selection:\n%s", out)
	}

	if _, err := run(t, "", "select", path, "--start", "0"); err == nil {
		t.Error("Expected an error without --end")
	}
}

func TestDumpShowsTimestamps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dumped")
	mustRun(t, "", "create", "inline", path)
	mustRun(t, "1700000000000 first\n", "append", path, "-r", "timestamped")

	out := mustRun(t, "", "dump", path)
	if !strings.Contains(out, "POS") || !strings.Contains(out, "2023-11-14T22:13:20Z") || !strings.Contains(out, `"first"`) {
		t.Errorf("Unexpected dump:\n%s", out)
	}
}

func TestTerminate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "done")
	mustRun(t, "", "create", "inline", path)
	mustRun(t, "one\n", "append", path)
	mustRun(t, "", "terminate", path)

	_, err := run(t, "two\n", "append", path)
	if !errors.Is(err, index.ErrTerminated) {
		t.Errorf("Expected ErrTerminated after terminate, got %v", err)
	}
	if out := mustRun(t, "", "cat", path); out != "one\n" {
		t.Errorf("Unexpected contents %q", out)
	}
}

func TestPropertiesFlags(t *testing.T) {
	dir := t.TempDir()
	propFile := filepath.Join(dir, "props.yaml")
	if err := os.WriteFile(propFile, []byte("name: fromfile\ndescription: yaml\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	path := filepath.Join(dir, "p")

	out := mustRun(t, "", "--properties", propFile, "-p", "description=flag", "create", "inline", path)
	if !strings.Contains(out, "fromfile") {
		t.Errorf("Expected the name from the property file, got %q", out)
	}
	if out := mustRun(t, "", "info", path); !strings.Contains(out, "flag") {
		t.Errorf("Expected -p to override the file:\n%s", out)
	}

	if _, err := run(t, "", "-p", "novalue", "info", path); err == nil {
		t.Error("Expected an error for a malformed property")
	}
	if _, err := run(t, "", "create", "memory", path+"2"); err == nil {
		t.Error("Expected an error creating a memory index")
	}
}

func TestParsePointAndSpan(t *testing.T) {
	p, err := parsePoint("12")
	if err != nil || p != index.AbsolutePosition(12) {
		t.Errorf("parsePoint(12) = %v, %v", p, err)
	}
	if _, err := parsePoint("yesterday"); err == nil {
		t.Error("Expected an error for an unparseable point")
	}
	s, err := parseSpan("90s")
	if err != nil || s != index.Span(index.Elapsed(90e9)) {
		t.Errorf("parseSpan(90s) = %v, %v", s, err)
	}
	if s, err := parseSpan(""); s != nil || err != nil {
		t.Errorf("parseSpan(\"\") = %v, %v", s, err)
	}
}
