package core

import (
	"context"
	"fmt"

	"whispers/pkg/domain"
)

// SentinelConsistencyRule enforces where Pending and Undetermined may appear:
// incomplete events never carry Undetermined, complete events never carry
// Pending, and neither sentinel coexists with a real diagnosis.
func SentinelConsistencyRule(config *ConfigResolver) domain.Rule {
	return sentinelConsistencyRule{config: config}
}

type sentinelConsistencyRule struct {
	config *ConfigResolver
}

func (sentinelConsistencyRule) Name() string { return "sentinel_consistency" }

func (r sentinelConsistencyRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	cfg, err := r.config.Configuration()
	if err != nil {
		return domain.Result{}, err
	}
	res := domain.Result{}
	for _, ev := range eventsInScope(view, changes) {
		var pending, undetermined, real bool
		for _, ed := range view.ListEventDiagnoses(ev.ID) {
			switch ed.DiagnosisID {
			case cfg.PendingID:
				pending = true
			case cfg.UndeterminedID:
				undetermined = true
			default:
				real = true
			}
		}
		if ev.Complete {
			if pending {
				res.Violations = append(res.Violations, blockEvent(r.Name(), ev.ID, fmt.Sprintf("complete event %d still has diagnosis %s", ev.ID, cfg.PendingDiagnosis)))
			}
			if undetermined && real {
				res.Violations = append(res.Violations, blockEvent(r.Name(), ev.ID, fmt.Sprintf("event %d mixes %s with other diagnoses", ev.ID, cfg.UndeterminedDiagnosis)))
			}
			continue
		}
		if undetermined {
			res.Violations = append(res.Violations, blockEvent(r.Name(), ev.ID, fmt.Sprintf("incomplete event %d has diagnosis %s", ev.ID, cfg.UndeterminedDiagnosis)))
		}
		if pending && real {
			res.Violations = append(res.Violations, blockEvent(r.Name(), ev.ID, fmt.Sprintf("event %d mixes %s with other diagnoses", ev.ID, cfg.PendingDiagnosis)))
		}
	}
	return res, nil
}
