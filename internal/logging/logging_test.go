package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestJSONLoggerLevelFilterAndFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, "test", WarnLevel).With(Fields{"conn_id": "c1"})

	logger.Info("dropped", nil)
	logger.Warn("kept", Fields{"status": 404})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 log line, got %d: %q", len(lines), buf.String())
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not json: %v", err)
	}
	if entry["msg"] != "kept" || entry["level"] != "warn" {
		t.Errorf("unexpected entry: %v", entry)
	}
	if entry["component"] != "test" || entry["conn_id"] != "c1" {
		t.Errorf("base fields missing: %v", entry)
	}
	if entry["status"] != float64(404) {
		t.Errorf("call fields missing: %v", entry)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   DebugLevel,
		" WARN ":  WarnLevel,
		"warning": WarnLevel,
		"error":   ErrorLevel,
		"":        InfoLevel,
		"verbose": InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %q, want %q", in, got, want)
		}
	}
}
