package core

import (
	"context"
	"fmt"

	"whispers/pkg/domain"
)

// EventAggregatesRule checks that the stored start_date, end_date and
// affected_count of an event match its children.
func EventAggregatesRule() domain.Rule {
	return eventAggregatesRule{}
}

type eventAggregatesRule struct{}

func (eventAggregatesRule) Name() string { return "event_aggregates" }

func (r eventAggregatesRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, ev := range eventsInScope(view, changes) {
		agg := ComputeAggregates(view, ev)
		if agg.Equal(ev) {
			continue
		}
		res.Violations = append(res.Violations, blockEvent(r.Name(), ev.ID, fmt.Sprintf(
			"event %d aggregates are stale: stored start=%s end=%s affected=%s, derived start=%s end=%s affected=%s",
			ev.ID,
			formatDate(ev.StartDate), formatDate(ev.EndDate), formatCount(ev.AffectedCount),
			formatDate(agg.StartDate), formatDate(agg.EndDate), formatCount(agg.AffectedCount),
		)))
	}
	return res, nil
}

func formatDate(d *domain.Date) string {
	if d == nil {
		return "null"
	}
	return d.String()
}

func formatCount(n *int) string {
	if n == nil {
		return "null"
	}
	return fmt.Sprint(*n)
}
