package archive

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"whispers/internal/blob"
	"whispers/internal/infra/blob/memory"
	"whispers/pkg/domain"
)

func TestArchiveRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	a := New(store)
	a.now = func() time.Time { return time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC) }
	ids := []string{"first", "second"}
	a.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}

	graph := domain.EventGraph{
		Event:     domain.Event{Base: domain.Base{ID: 12}, EventReference: "lake die-off"},
		Locations: []domain.EventLocation{{Base: domain.Base{ID: 1}, EventID: 12}},
	}
	key, err := a.Archive(ctx, graph)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if !strings.HasPrefix(key, "events/12/20240501T083000") || !strings.HasSuffix(key, "-first.json") {
		t.Fatalf("unexpected key %q", key)
	}
	if _, err := a.Archive(ctx, graph); err != nil {
		t.Fatalf("second archive: %v", err)
	}

	infos, err := a.List(ctx, 12)
	if err != nil || len(infos) != 2 {
		t.Fatalf("list: %+v %v", infos, err)
	}
	if infos[0].ContentType != contentType || infos[0].Metadata["event-id"] != "12" || infos[0].Metadata["locations"] != "1" {
		t.Fatalf("unexpected info %+v", infos[0])
	}
	if others, _ := a.List(ctx, 1); len(others) != 0 {
		t.Fatalf("event 1 must not match event 12 archives: %+v", others)
	}

	rec, err := a.Load(ctx, key)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rec.Graph.Event.EventReference != "lake die-off" || len(rec.Graph.Locations) != 1 || !rec.ArchivedAt.Equal(a.now()) {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestLoadMissing(t *testing.T) {
	a := New(memory.New())
	if _, err := a.Load(context.Background(), "events/1/none.json"); !errors.Is(err, blob.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
