package core

import (
	"context"
	"testing"

	"whispers/pkg/domain"
)

func TestComputeAggregates(t *testing.T) {
	svc, store := newUncheckedService(t)
	open := locationPayload(countyDane, "2024-05-03", SpeciesPayload{
		SpeciesID:          spMallard,
		SickCount:          ptr(2),
		SickCountEstimated: ptr(5),
		DeadCount:          ptr(3),
	})
	ended := locationPayload(countySauk, "2024-04-30", deadSpecies(spCanadaGoose, 1))
	ended.EndDate = date("2024-05-20")
	graph := mustCreate(t, svc, mortalityEvent(open, ended))

	var agg Aggregates
	_ = store.View(context.Background(), func(v domain.TransactionView) error {
		agg = ComputeAggregates(v, graph.Event)
		return nil
	})
	if agg.StartDate == nil || agg.StartDate.String() != "2024-04-30" {
		t.Fatalf("expected earliest start 2024-04-30, got %v", agg.StartDate)
	}
	if agg.EndDate != nil {
		t.Fatalf("end date must stay unset while a location is open, got %v", agg.EndDate)
	}
	if agg.AffectedCount == nil || *agg.AffectedCount != 9 {
		t.Fatalf("expected affected 9 (estimated sick 5 + dead 3 + dead 1), got %v", agg.AffectedCount)
	}
	if !agg.Equal(graph.Event) {
		t.Fatalf("stored event should already carry the aggregates: %+v vs %+v", agg, graph.Event)
	}

	corrupt(t, store, func(tx domain.Transaction) error {
		_, err := tx.UpdateEventLocation(graph.Locations[0].ID, func(l *domain.EventLocation) error {
			l.EndDate = date("2024-05-25")
			return nil
		})
		return err
	})
	corrupt(t, store, func(tx domain.Transaction) error {
		ev, err := RecomputeEventAggregates(tx, graph.Event.ID)
		if err != nil {
			return err
		}
		if ev.EndDate == nil || ev.EndDate.String() != "2024-05-25" {
			t.Errorf("expected latest end 2024-05-25, got %v", ev.EndDate)
		}
		again, err := RecomputeEventAggregates(tx, graph.Event.ID)
		if err != nil {
			return err
		}
		if !again.UpdatedAt.Equal(ev.UpdatedAt) {
			t.Errorf("second recompute must not write")
		}
		return nil
	})
}

func TestComputeAggregatesWithoutLocations(t *testing.T) {
	_, store := newUncheckedService(t)
	_ = store.View(context.Background(), func(v domain.TransactionView) error {
		agg := ComputeAggregates(v, domain.Event{Base: domain.Base{ID: 1}, EventType: domain.EventTypeSurveillance})
		if agg.StartDate != nil || agg.EndDate != nil {
			t.Errorf("expected no dates, got %+v", agg)
		}
		if agg.AffectedCount == nil || *agg.AffectedCount != 0 {
			t.Errorf("surveillance events count zero affected, got %v", agg.AffectedCount)
		}
		if ComputeAggregates(v, domain.Event{EventType: 7}).AffectedCount != nil {
			t.Errorf("unknown event types carry no affected count")
		}
		return nil
	})
}

func TestRecomputeEventAggregatesMissingEvent(t *testing.T) {
	_, store := newUncheckedService(t)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := RecomputeEventAggregates(tx, 12)
		return err
	})
	if _, ok := err.(domain.ReferenceError); !ok {
		t.Fatalf("expected reference error, got %v", err)
	}
}
