package memory

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"whispers/internal/blob/core"
)

func TestStoreCreateOnly(t *testing.T) {
	ctx := context.Background()
	s := New()
	md := map[string]string{"event-id": "3"}
	info, err := s.Put(ctx, "events/3/x.json", strings.NewReader("{}"), core.PutOptions{ContentType: "application/json", Metadata: md})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	md["event-id"] = "mutated"
	if info.Size != 2 || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := s.Put(ctx, "events/3/x.json", strings.NewReader("{}"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	got, rc, err := s.Get(ctx, "events/3/x.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	if string(body) != "{}" || got.Metadata["event-id"] != "3" {
		t.Fatalf("stored metadata must not alias caller map: %+v", got)
	}
	if list, _ := s.List(ctx, "events/4/"); len(list) != 0 {
		t.Fatalf("prefix filter failed: %+v", list)
	}
	if ok, _ := s.Delete(ctx, "events/3/x.json"); !ok {
		t.Fatalf("expected delete to report existing blob")
	}
	if _, err := s.Head(ctx, "events/3/x.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New().Put(ctx, "k", strings.NewReader("v"), core.PutOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}
