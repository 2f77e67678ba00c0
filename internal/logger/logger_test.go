package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestIndexLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: "debug", Output: &buf})

	l.IndexLogger("sensor").LogIndexOperation("append", time.Millisecond, 3, nil)

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	got := lines[0]
	if got["index"] != "sensor" || got["component"] != "index" || got["operation"] != "append" {
		t.Errorf("missing fields: %v", got)
	}
	if got["service"] != "timeindex" {
		t.Errorf("service field = %v", got["service"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: "warn", Output: &buf})

	l.Component("cache").LogIndexOperation("get", time.Millisecond, 1, nil)
	if buf.Len() != 0 {
		t.Errorf("debug line written at warn level: %s", buf.String())
	}

	l.LogIndexOperation("flush", time.Millisecond, 0, errors.New("disk full"))
	lines := decodeLines(t, &buf)
	if len(lines) != 1 || lines[0]["level"] != "error" || lines[0]["error"] != "disk full" {
		t.Errorf("unexpected output: %v", lines)
	}
}

func TestNop(t *testing.T) {
	Nop().Info("ignored").Msg("")
}
