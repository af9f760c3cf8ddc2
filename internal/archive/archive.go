// Package archive keeps a JSON copy of every deleted event graph in a blob
// store.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"whispers/internal/blob"
	"whispers/pkg/domain"
)

const contentType = "application/json"

// Record is the archived document.
type Record struct {
	ArchivedAt time.Time         `json:"archived_at"`
	Graph      domain.EventGraph `json:"graph"`
}

// Archiver writes event graphs under events/{id}/.
type Archiver struct {
	store blob.Store
	now   func() time.Time
	newID func() string
}

// New returns an Archiver backed by store.
func New(store blob.Store) *Archiver {
	return &Archiver{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

func prefix(eventID int64) string {
	return "events/" + strconv.FormatInt(eventID, 10) + "/"
}

// Archive stores graph and returns the blob key. Keys sort by archive time
// within an event.
func (a *Archiver) Archive(ctx context.Context, graph domain.EventGraph) (string, error) {
	at := a.now()
	raw, err := json.Marshal(Record{ArchivedAt: at, Graph: graph})
	if err != nil {
		return "", fmt.Errorf("encode event %d: %w", graph.Event.ID, err)
	}
	key := prefix(graph.Event.ID) + at.Format("20060102T150405.000000000Z") + "-" + a.newID() + ".json"
	_, err = a.store.Put(ctx, key, bytes.NewReader(raw), blob.PutOptions{
		ContentType: contentType,
		Metadata: map[string]string{
			"event-id":  strconv.FormatInt(graph.Event.ID, 10),
			"locations": strconv.Itoa(len(graph.Locations)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("archive event %d: %w", graph.Event.ID, err)
	}
	return key, nil
}

// List returns the archived copies of eventID, oldest first.
func (a *Archiver) List(ctx context.Context, eventID int64) ([]blob.Info, error) {
	return a.store.List(ctx, prefix(eventID))
}

// Load reads one archived record.
func (a *Archiver) Load(ctx context.Context, key string) (Record, error) {
	_, rc, err := a.store.Get(ctx, key)
	if err != nil {
		return Record{}, err
	}
	defer func() { _ = rc.Close() }()
	var rec Record
	if err := json.NewDecoder(rc).Decode(&rec); err != nil {
		return Record{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return rec, nil
}
