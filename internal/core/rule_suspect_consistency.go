package core

import (
	"context"
	"fmt"

	"whispers/pkg/domain"
)

// SuspectConsistencyRule checks that a non-sentinel event diagnosis is
// confirmed exactly when a species diagnosis of the same kind under the event
// is confirmed. Sentinels must never be suspect.
func SuspectConsistencyRule(config *ConfigResolver) domain.Rule {
	return suspectConsistencyRule{config: config}
}

type suspectConsistencyRule struct {
	config *ConfigResolver
}

func (suspectConsistencyRule) Name() string { return "suspect_consistency" }

func (r suspectConsistencyRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	cfg, err := r.config.Configuration()
	if err != nil {
		return domain.Result{}, err
	}
	res := domain.Result{}
	for _, ev := range eventsInScope(view, changes) {
		confirmed := make(map[int64]bool)
		for _, sd := range domain.EventSpeciesDiagnoses(view, ev.ID) {
			if !sd.Suspect {
				confirmed[sd.DiagnosisID] = true
			}
		}
		for _, ed := range view.ListEventDiagnoses(ev.ID) {
			want := !confirmed[ed.DiagnosisID]
			if cfg.IsSentinel(ed.DiagnosisID) {
				want = false
			}
			if ed.Suspect == want {
				continue
			}
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     r.Name(),
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("event diagnosis %d on event %d has suspect=%t, expected %t", ed.ID, ev.ID, ed.Suspect, want),
				Entity:   domain.EntityEventDiagnosis,
				EntityID: ed.ID,
			})
		}
	}
	return res, nil
}
