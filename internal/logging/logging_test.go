package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"whispers/internal/core"
)

var _ core.Logger = Adapter{}

func TestAdapterWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "debug", "json")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	NewAdapter(log).Error("archive deleted event", "event", int64(7), "error", errors.New("disk full"), "dangling")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if entry["level"] != "error" || entry["message"] != "archive deleted event" {
		t.Fatalf("unexpected entry %v", entry)
	}
	if entry["event"] != float64(7) || entry["error"] != "disk full" || entry["extra"] != "dangling" {
		t.Fatalf("unexpected fields %v", entry)
	}
	if entry["service"] != "whispers" {
		t.Fatalf("missing service field: %v", entry)
	}
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "warn", "json")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	a := NewAdapter(log)
	a.Debug("hidden")
	a.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected nothing below warn, got %q", buf.String())
	}
	a.Warn("shown")
	if buf.Len() == 0 {
		t.Fatal("expected warn entry")
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New(nil, "loud", "json"); err == nil {
		t.Fatal("expected parse error")
	}
}
