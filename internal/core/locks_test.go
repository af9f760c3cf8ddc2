package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"whispers/pkg/domain"
)

func TestLocalLockerSerializesPerEvent(t *testing.T) {
	l := NewLocalLocker(20 * time.Millisecond)
	ctx := context.Background()

	release, err := l.Lock(ctx, 1)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	other, err := l.Lock(ctx, 2)
	if err != nil {
		t.Fatalf("a different event must not wait: %v", err)
	}
	other()

	_, err = l.Lock(ctx, 1)
	var conflict domain.ConflictError
	if !errors.As(err, &conflict) || conflict.EventID != 1 {
		t.Fatalf("expected conflict on event 1, got %v", err)
	}

	release()
	release()
	again, err := l.Lock(ctx, 1)
	if err != nil {
		t.Fatalf("lock after release: %v", err)
	}
	again()
	if n := l.held(); n != 0 {
		t.Fatalf("expected idle entries to be dropped, %d left", n)
	}
}

func TestLocalLockerHonoursCancellation(t *testing.T) {
	l := NewLocalLocker(time.Second)
	release, err := l.Lock(context.Background(), 3)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.Lock(ctx, 3); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestLocalLockerHandsOffUnderContention(t *testing.T) {
	l := NewLocalLocker(time.Second)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Lock(context.Background(), 9)
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Fatalf("expected exclusive access, saw %d holders", maxSeen)
	}
	if n := l.held(); n != 0 {
		t.Fatalf("expected no lock entries after contention, %d left", n)
	}
}

type refusingLocker struct{}

func (refusingLocker) Lock(_ context.Context, eventID int64) (func(), error) {
	return nil, domain.ConflictError{EventID: eventID, Wait: time.Millisecond}
}

func TestServiceSurfacesLockConflicts(t *testing.T) {
	svc := newTestService(t)
	graph := mustCreate(t, svc, mortalityEvent())

	locked := NewService(svc.Store(), svc.config, WithEventLocker(refusingLocker{}))
	_, _, err := locked.UpdateEvent(context.Background(), owner, graph.Event.ID, EventUpdate{EventReference: ptr("x")})
	var conflict domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	// Creating an event needs no lock.
	if _, _, err := locked.CreateEvent(context.Background(), owner, mortalityEvent()); err != nil {
		t.Fatalf("create: %v", err)
	}
}

// countingLocker records overlapping holders of the same event lock.
type countingLocker struct {
	inner    EventLocker
	mu       sync.Mutex
	active   map[int64]int
	overlaps int
}

func (c *countingLocker) Lock(ctx context.Context, eventID int64) (func(), error) {
	release, err := c.inner.Lock(ctx, eventID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.active[eventID]++
	if c.active[eventID] > 1 {
		c.overlaps++
	}
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		c.active[eventID]--
		c.mu.Unlock()
		release()
	}, nil
}

func TestConcurrentChildMutationsStayConsistent(t *testing.T) {
	locker := &countingLocker{inner: NewLocalLocker(2 * time.Second), active: make(map[int64]int)}
	svc := newTestService(t, WithEventLocker(locker))
	ctx := context.Background()
	p := mortalityEvent()
	p.EventDiagnoses = []EventDiagnosisPayload{{DiagnosisID: dxAvianInfluenza}}
	graph := mustCreate(t, svc, p)
	influenza := eventDiagnosis(t, graph, dxAvianInfluenza)
	speciesID := graph.Species[0].ID

	const rounds = 6
	ops := []func() error{
		func() error {
			_, err := svc.DeleteEventDiagnosis(ctx, owner, influenza.ID)
			return err
		},
	}
	for i := 0; i < rounds; i++ {
		county, dx := countyDane, dxAvianBotulism
		if i%2 == 1 {
			county, dx = countySauk, dxEmaciation
		}
		dead := i + 1
		ops = append(ops,
			func() error {
				_, _, err := svc.CreateEventLocation(ctx, owner, graph.Event.ID, locationPayload(county, "2024-05-02", deadSpecies(spCanadaGoose, dead)))
				return err
			},
			func() error {
				_, _, err := svc.CreateSpeciesDiagnosis(ctx, owner, speciesID, suspect(dx))
				return err
			},
		)
	}

	errs := make([]error, len(ops))
	var wg sync.WaitGroup
	for i, op := range ops {
		wg.Add(1)
		go func(i int, op func() error) {
			defer wg.Done()
			errs[i] = op()
		}(i, op)
	}
	wg.Wait()

	var conflict domain.ConflictError
	for i, err := range errs {
		if err != nil && !errors.As(err, &conflict) {
			t.Fatalf("op %d: unexpected error %v", i, err)
		}
	}
	if locker.overlaps != 0 {
		t.Fatalf("expected serialized event mutations, saw %d overlaps", locker.overlaps)
	}
	assertConsistent(t, svc)

	final := mustGraph(t, svc, graph.Event.ID)
	if got := len(final.Locations); got > rounds+1 {
		t.Fatalf("expected at most %d locations, got %d", rounds+1, got)
	}
	if len(final.EventDiagnoses) == 0 {
		t.Fatalf("expected at least one event diagnosis")
	}
}
