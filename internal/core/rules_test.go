package core

import (
	"context"
	"errors"
	"testing"

	"whispers/internal/infra/persistence/memory"
	"whispers/pkg/domain"
)

// newUncheckedService returns a service whose store commits without running
// any rule, so tests can write inconsistent state directly.
func newUncheckedService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore(NewRulesEngine())
	return NewService(store, NewConfigResolver(catalog(t), Settings{}), WithClock(fixedClock())), store
}

func corrupt(t *testing.T, store domain.PersistentStore, fn func(tx domain.Transaction) error) {
	t.Helper()
	if _, err := store.RunInTransaction(context.Background(), fn); err != nil {
		t.Fatalf("corrupt state: %v", err)
	}
}

func rulesOf(violations []domain.Violation) map[string]bool {
	out := make(map[string]bool, len(violations))
	for _, v := range violations {
		out[v.Rule] = true
	}
	return out
}

func TestRecomputeRepairsBrokenInvariants(t *testing.T) {
	cases := []struct {
		name   string
		rule   string
		damage func(tx domain.Transaction, g domain.EventGraph) error
	}{
		{
			name: "stale aggregates",
			rule: "event_aggregates",
			damage: func(tx domain.Transaction, g domain.EventGraph) error {
				_, err := tx.UpdateEvent(g.Event.ID, func(e *domain.Event) error {
					e.AffectedCount = domain.IntPtr(99)
					e.StartDate = nil
					return nil
				})
				return err
			},
		},
		{
			name: "priority gap",
			rule: "priority_density",
			damage: func(tx domain.Transaction, g domain.EventGraph) error {
				_, err := tx.UpdateEventLocation(g.Locations[0].ID, func(l *domain.EventLocation) error {
					l.Priority = 4
					return nil
				})
				return err
			},
		},
		{
			name: "no event diagnosis",
			rule: "diagnosis_presence",
			damage: func(tx domain.Transaction, g domain.EventGraph) error {
				for _, ed := range g.EventDiagnoses {
					if err := tx.DeleteEventDiagnosis(ed.ID); err != nil {
						return err
					}
				}
				return nil
			},
		},
		{
			name: "undetermined on open event",
			rule: "sentinel_consistency",
			damage: func(tx domain.Transaction, g domain.EventGraph) error {
				_, err := tx.CreateEventDiagnosis(domain.EventDiagnosis{EventID: g.Event.ID, DiagnosisID: dxUndetermined, Priority: 2})
				return err
			},
		},
		{
			name: "confirmed without evidence",
			rule: "suspect_consistency",
			damage: func(tx domain.Transaction, g domain.EventGraph) error {
				_, err := tx.UpdateEventDiagnosis(g.EventDiagnoses[0].ID, func(d *domain.EventDiagnosis) error {
					d.Suspect = false
					return nil
				})
				return err
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, store := newUncheckedService(t)
			p := mortalityEvent(
				locationPayload(countyDane, "2024-05-01", deadSpecies(spMallard, 4, suspect(dxAvianInfluenza))),
				locationPayload(countySauk, "2024-05-02", deadSpecies(spCanadaGoose, 2)),
			)
			p.EventDiagnoses = []EventDiagnosisPayload{{DiagnosisID: dxAvianInfluenza}}
			graph := mustCreate(t, svc, p)
			assertConsistent(t, svc)

			corrupt(t, store, func(tx domain.Transaction) error { return tc.damage(tx, graph) })

			violations, err := svc.CheckInvariants(context.Background())
			if err != nil {
				t.Fatalf("check invariants: %v", err)
			}
			if !rulesOf(violations)[tc.rule] {
				t.Fatalf("expected a %s violation, got %+v", tc.rule, violations)
			}
			for _, v := range violations {
				if v.Severity != domain.SeverityBlock {
					t.Fatalf("expected blocking severity, got %+v", v)
				}
			}

			if _, _, err := svc.RecomputeEvent(context.Background(), admin, graph.Event.ID); err != nil {
				t.Fatalf("recompute: %v", err)
			}
			assertConsistent(t, svc)

			// A second pass changes nothing.
			before := mustGraph(t, svc, graph.Event.ID)
			if _, _, err := svc.RecomputeEvent(context.Background(), admin, graph.Event.ID); err != nil {
				t.Fatalf("recompute again: %v", err)
			}
			after := mustGraph(t, svc, graph.Event.ID)
			if !before.Event.UpdatedAt.Equal(after.Event.UpdatedAt) || len(before.EventDiagnoses) != len(after.EventDiagnoses) {
				t.Fatalf("recompute is not idempotent: %+v -> %+v", before.Event, after.Event)
			}
		})
	}
}

func TestRecomputeAllReportsEveryEvent(t *testing.T) {
	svc, store := newUncheckedService(t)
	first := mustCreate(t, svc, mortalityEvent())
	second := mustCreate(t, svc, mortalityEvent())
	corrupt(t, store, func(tx domain.Transaction) error {
		for _, id := range []int64{first.Event.ID, second.Event.ID} {
			if _, err := tx.UpdateEvent(id, func(e *domain.Event) error {
				e.AffectedCount = nil
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})

	failed, err := svc.RecomputeAll(context.Background(), admin)
	if err != nil || len(failed) != 0 {
		t.Fatalf("recompute all: failed=%v err=%v", failed, err)
	}
	assertConsistent(t, svc)

	failed, err = svc.RecomputeAll(context.Background(), admin)
	if err != nil || len(failed) != 0 {
		t.Fatalf("recompute all on clean data: failed=%v err=%v", failed, err)
	}
}

func TestRecomputeMissingEvent(t *testing.T) {
	svc := newTestService(t)
	_, _, err := svc.RecomputeEvent(context.Background(), admin, 5)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRulesBlockInconsistentWrites(t *testing.T) {
	svc := newTestService(t)
	graph := mustCreate(t, svc, mortalityEvent())

	_, err := svc.Store().RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.UpdateEvent(graph.Event.ID, func(e *domain.Event) error {
			e.AffectedCount = domain.IntPtr(1000)
			return nil
		})
		return err
	})
	var rve domain.RuleViolationError
	if !errors.As(err, &rve) {
		t.Fatalf("expected rule violation, got %v", err)
	}
	if !rulesOf(rve.Result.Violations)["event_aggregates"] {
		t.Fatalf("expected event_aggregates violation: %+v", rve.Result.Violations)
	}
	if got := *mustGraph(t, svc, graph.Event.ID).Event.AffectedCount; got != 4 {
		t.Fatalf("blocked write must not commit, affected=%d", got)
	}
}

func TestRulesEvaluateOnlyTouchedEvents(t *testing.T) {
	svc, store := newUncheckedService(t)
	broken := mustCreate(t, svc, mortalityEvent())
	clean := mustCreate(t, svc, mortalityEvent())
	corrupt(t, store, func(tx domain.Transaction) error {
		_, err := tx.UpdateEvent(broken.Event.ID, func(e *domain.Event) error {
			e.AffectedCount = domain.IntPtr(50)
			return nil
		})
		return err
	})

	engine := NewDefaultRulesEngine(NewConfigResolver(catalog(t), Settings{}))
	err := store.View(context.Background(), func(v domain.TransactionView) error {
		changes := []domain.Change{{Entity: domain.EntityEvent, Action: domain.ActionUpdate, After: clean.Event}}
		res, err := engine.Evaluate(context.Background(), v, changes)
		if err != nil {
			return err
		}
		if len(res.Violations) != 0 {
			t.Errorf("untouched event must not be evaluated: %+v", res.Violations)
		}
		res, err = engine.Evaluate(context.Background(), v, nil)
		if err != nil {
			return err
		}
		if len(res.Violations) != 1 || res.Violations[0].EntityID != broken.Event.ID {
			t.Errorf("expected one violation on event %d: %+v", broken.Event.ID, res.Violations)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}
