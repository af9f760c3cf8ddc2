package core

import (
	"whispers/pkg/domain"
)

// Aggregates are the event fields derived from its locations and species.
type Aggregates struct {
	StartDate     *domain.Date
	EndDate       *domain.Date
	AffectedCount *int
}

// ComputeAggregates derives the aggregate fields of event from the children
// visible in view. It does not write anything.
func ComputeAggregates(view domain.RuleView, event domain.Event) Aggregates {
	var out Aggregates
	locations := view.ListEventLocations(event.ID)

	allEnded := len(locations) > 0
	for _, loc := range locations {
		if loc.StartDate != nil && (out.StartDate == nil || loc.StartDate.BeforeDate(*out.StartDate)) {
			start := *loc.StartDate
			out.StartDate = &start
		}
		if loc.EndDate == nil {
			allEnded = false
			continue
		}
		if out.EndDate == nil || loc.EndDate.AfterDate(*out.EndDate) {
			end := *loc.EndDate
			out.EndDate = &end
		}
	}
	if !allEnded {
		out.EndDate = nil
	}

	if event.EventType.CountsAffected() {
		counter := affectedCounter{view: view, eventType: event.EventType}
		total := 0
		for _, loc := range locations {
			total += counter.location(loc)
		}
		out.AffectedCount = &total
	}
	return out
}

// Equal reports whether a matches the aggregate fields stored on event.
func (a Aggregates) Equal(event domain.Event) bool {
	return sameDate(a.StartDate, event.StartDate) &&
		sameDate(a.EndDate, event.EndDate) &&
		sameInt(a.AffectedCount, event.AffectedCount)
}

func sameDate(a, b *domain.Date) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(b.Time)
}

func sameInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// RecomputeEventAggregates rewrites start_date, end_date and affected_count of
// eventID from its persisted children. Running it twice is a no-op.
func RecomputeEventAggregates(tx domain.Transaction, eventID int64) (domain.Event, error) {
	event, ok := tx.FindEvent(eventID)
	if !ok {
		return domain.Event{}, domain.ReferenceError{Entity: domain.EntityEvent, ID: eventID, Parent: domain.EntityEvent, ParentID: eventID}
	}
	agg := ComputeAggregates(tx, event)
	if agg.Equal(event) {
		return event, nil
	}
	return tx.UpdateEvent(eventID, func(e *domain.Event) error {
		e.StartDate = agg.StartDate
		e.EndDate = agg.EndDate
		e.AffectedCount = agg.AffectedCount
		return nil
	})
}
