package core

import (
	"context"
	"fmt"

	"whispers/pkg/domain"
)

// DiagnosisPresenceRule requires every event to keep at least one event
// diagnosis.
func DiagnosisPresenceRule() domain.Rule {
	return diagnosisPresenceRule{}
}

type diagnosisPresenceRule struct{}

func (diagnosisPresenceRule) Name() string { return "diagnosis_presence" }

func (r diagnosisPresenceRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, ev := range eventsInScope(view, changes) {
		if len(view.ListEventDiagnoses(ev.ID)) == 0 {
			res.Violations = append(res.Violations, blockEvent(r.Name(), ev.ID, fmt.Sprintf("event %d has no diagnosis", ev.ID)))
		}
	}
	return res, nil
}
