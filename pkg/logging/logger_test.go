package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
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
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestStructuredLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLoggerWithFormat("test", "0.0.1", WarnLevel, FormatJSON, &buf)

	ctx := context.Background()
	logger.Debug(ctx, "debug", Fields{})
	logger.Info(ctx, "info", Fields{})
	logger.Warn(ctx, "warn", Fields{"k": "v"})

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0]["message"] != "warn" {
		t.Errorf("message = %v, want warn", entries[0]["message"])
	}
	if entries[0]["k"] != "v" {
		t.Errorf("field k = %v, want v", entries[0]["k"])
	}
	if entries[0]["service"] != "test" {
		t.Errorf("service = %v, want test", entries[0]["service"])
	}
}

func TestStructuredLogger_ContextAndError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLoggerWithFormat("test", "0.0.1", DebugLevel, FormatJSON, &buf)

	ctx := WithRequestID(context.Background(), "req-123")
	logger.Error(ctx, "[TEST_ERROR] failed", Fields{"stage": "X"}, errors.New("boom"))

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	entry := entries[0]
	if entry["request_id"] != "req-123" {
		t.Errorf("request_id = %v, want req-123", entry["request_id"])
	}
	if entry["error"] != "boom" {
		t.Errorf("error = %v, want boom", entry["error"])
	}
	if _, ok := entry["file"]; !ok {
		t.Error("expected caller file on error entries")
	}
}

func TestContextLogger_MergeFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLoggerWithFormat("test", "0.0.1", DebugLevel, FormatJSON, &buf)

	scoped := logger.WithFields(Fields{"source": "pm25", "stage": "fetch"})
	scoped.Info(context.Background(), "merged", Fields{"stage": "parse"})

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0]["source"] != "pm25" {
		t.Errorf("source = %v, want pm25", entries[0]["source"])
	}
	if entries[0]["stage"] != "parse" {
		t.Errorf("stage = %v, want parse (call fields override)", entries[0]["stage"])
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   DebugLevel,
		"WARN":    WarnLevel,
		"warning": WarnLevel,
		"error":   ErrorLevel,
		"":        InfoLevel,
		"bogus":   InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
