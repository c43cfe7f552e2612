package structlog

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestLoggerWritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger("detector", LevelInfo, &buf)

	log.Info("model installed", Fields{"version": "abc", "sequence": 3})

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["service"] != "detector" || entry["level"] != "INFO" {
		t.Errorf("unexpected entry %v", entry)
	}
	if entry["message"] != "model installed" || entry["version"] != "abc" {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger("detector", LevelWarn, &buf)

	log.Debug("hidden", nil)
	log.Info("hidden", nil)
	log.Warn("visible", nil)

	lines := strings.TrimSpace(buf.String())
	if strings.Count(lines, "\n") != 0 || !strings.Contains(lines, "visible") {
		t.Errorf("expected exactly one line, got %q", buf.String())
	}
}

func TestLoggerCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger("detector", LevelInfo, &buf)

	ctx := ContextWithCorrelationID(context.Background(), "req-42")
	log.WithContext(ctx).Info("scored", nil)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["correlation_id"] != "req-42" {
		t.Errorf("correlation id %v, want req-42", entry["correlation_id"])
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("debug") != LevelDebug || ParseLevel("ERROR") != LevelError {
		t.Error("case-insensitive parsing failed")
	}
	if ParseLevel("nonsense") != LevelInfo {
		t.Error("unknown level must default to INFO")
	}
}
