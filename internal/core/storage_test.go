package core

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func TestOpenPersistentStoreMemory(t *testing.T) {
	st, err := OpenPersistentStore(context.Background(), StorageOptions{Driver: StorageMemory}, NewRulesEngine())
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	if st.Store == nil || st.Locker == nil {
		t.Fatalf("expected store and locker, got %+v", st)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close memory: %v", err)
	}
}

func TestOpenPersistentStoreSQLiteSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	resolver := NewConfigResolver(catalog(t), Settings{})
	opts := StorageOptions{SQLitePath: filepath.Join(t.TempDir(), "nested", "whispers.db")}

	st, err := OpenPersistentStore(ctx, opts, NewDefaultRulesEngine(resolver))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	svc := NewService(st.Store, resolver, WithEventLocker(st.Locker), WithClock(fixedClock()))
	graph := mustCreate(t, svc, mortalityEvent())
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	st, err = OpenPersistentStore(ctx, opts, NewDefaultRulesEngine(resolver))
	if err != nil {
		t.Fatalf("reopen sqlite: %v", err)
	}
	defer st.Close()
	svc = NewService(st.Store, resolver, WithEventLocker(st.Locker), WithClock(fixedClock()))
	reloaded := mustGraph(t, svc, graph.Event.ID)
	if len(reloaded.Locations) != 1 || len(reloaded.EventDiagnoses) != 1 || *reloaded.Event.AffectedCount != 4 {
		t.Fatalf("reloaded graph differs: %+v", reloaded)
	}
	assertConsistent(t, svc)
}

func TestOpenPersistentStoreRejectsBadOptions(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		opts StorageOptions
		want string
	}{
		{StorageOptions{Driver: StorageMemory, Lock: LockAdvisory}, "advisory locks require the postgres driver"},
		{StorageOptions{Driver: "cassandra"}, "unknown storage driver"},
	}
	for _, tc := range cases {
		_, err := OpenPersistentStore(ctx, tc.opts, NewRulesEngine())
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%+v: expected %q, got %v", tc.opts, tc.want, err)
		}
	}
}
