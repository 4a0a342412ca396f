package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestTextFormatterIncludesFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WithLevel(DebugLevel), WithFormatter(&TextFormatter{}), WithOutput(NewWriterOutput(&buf)))
	l.With(Component("ingest")).Info("finalized batch", Int("count", 3))
	out := buf.String()
	if !strings.Contains(out, "INFO finalized batch") {
		t.Fatalf("missing message: %q", out)
	}
	if !strings.Contains(out, "component=ingest") || !strings.Contains(out, "count=3") {
		t.Fatalf("missing fields: %q", out)
	}
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WithFormatter(&JSONFormatter{}), WithOutput(NewWriterOutput(&buf)))
	l.Warn("reorg detected", Uint64("from_height", 100))
	var obj map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &obj); err != nil {
		t.Fatalf("not json: %v", err)
	}
	if obj["level"] != "WARN" || obj["msg"] != "reorg detected" {
		t.Fatalf("unexpected entry: %v", obj)
	}
	if obj["from_height"] != float64(100) {
		t.Fatalf("missing field: %v", obj)
	}
}

func TestLevelGate(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WithLevel(WarnLevel), WithOutput(NewWriterOutput(&buf)))
	l.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info should be gated at warn level: %q", buf.String())
	}
	l.Error("kept")
	if buf.Len() == 0 {
		t.Fatal("error should pass warn gate")
	}
}

func TestParseLevel(t *testing.T) {
	if lvl, err := ParseLevel("debug"); err != nil || lvl != DebugLevel {
		t.Fatalf("parse debug: %v %v", lvl, err)
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestSlogBridge(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WithLevel(DebugLevel), WithOutput(NewWriterOutput(&buf)))
	l.Slog().Info("via slog", "seq", 7)
	if !strings.Contains(buf.String(), "via slog") || !strings.Contains(buf.String(), "seq=7") {
		t.Fatalf("bridge output: %q", buf.String())
	}
}
