package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var entries []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("Expected valid JSON log line, got %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestNew(t *testing.T) {
	for _, env := range []string{"development", "production", "test"} {
		logger := New(env)
		if logger == nil {
			t.Fatalf("Expected logger for env %q", env)
		}
		if logger.GetZerolog() == nil {
			t.Errorf("Expected zerolog instance for env %q", env)
		}
	}

	if got := New("development").GetZerolog().GetLevel(); got != zerolog.DebugLevel {
		t.Errorf("Expected debug level in development, got %s", got)
	}
	if got := New("production").GetZerolog().GetLevel(); got != zerolog.InfoLevel {
		t.Errorf("Expected info level in production, got %s", got)
	}
}

func TestLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, zerolog.DebugLevel)

	logger.Debug("scanning root", map[string]interface{}{"root": "/data"})
	logger.Info("category resolved", map[string]interface{}{"category": "roads"})
	logger.Warn("category load failed", map[string]interface{}{"path": "/data/vias.shp"})
	logger.Error("conversion failed", errors.New("bad header"), map[string]interface{}{"file": "x.shp"})

	entries := decodeLines(t, &buf)
	if len(entries) != 4 {
		t.Fatalf("Expected 4 entries, got %d", len(entries))
	}

	wantLevels := []string{"debug", "info", "warn", "error"}
	for i, want := range wantLevels {
		if entries[i]["level"] != want {
			t.Errorf("Entry %d: expected level %s, got %v", i, want, entries[i]["level"])
		}
	}
	if entries[1]["category"] != "roads" {
		t.Error("Expected info entry to carry category field")
	}
	if entries[3]["error"] != "bad header" {
		t.Error("Expected error entry to carry the error text")
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, zerolog.InfoLevel)

	logger.Debug("hidden", nil)
	if buf.Len() != 0 {
		t.Error("Debug message should not appear at info level")
	}

	logger.Info("shown", nil)
	if !strings.Contains(buf.String(), "shown") {
		t.Error("Info message should appear at info level")
	}
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, zerolog.InfoLevel)

	logger.With(map[string]interface{}{"parcel_id": "28079A00100001"}).Info("analyzing", nil)

	entries := decodeLines(t, &buf)
	if entries[0]["parcel_id"] != "28079A00100001" {
		t.Error("Expected child logger to carry parcel_id")
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, zerolog.InfoLevel)

	logger.WithComponent("registry").Info("registry built", map[string]interface{}{"resolved": 3})

	entries := decodeLines(t, &buf)
	if entries[0]["component"] != "registry" {
		t.Errorf("Expected component field, got %v", entries[0]["component"])
	}
	if entries[0]["resolved"] != float64(3) {
		t.Errorf("Expected resolved field, got %v", entries[0]["resolved"])
	}
}

func TestWithRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, zerolog.InfoLevel)

	logger.WithRequestID("req-12345").Info("request received", nil)

	entries := decodeLines(t, &buf)
	if entries[0]["request_id"] != "req-12345" {
		t.Error("Expected log output to contain request ID")
	}
}

func TestNop(t *testing.T) {
	logger := Nop()
	logger.Info("discarded", map[string]interface{}{"k": "v"})
	logger.WithComponent("crossing").Warn("discarded", nil)
}
