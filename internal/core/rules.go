package core

import (
	"whispers/pkg/domain"
)

type (
	Rule        = domain.Rule
	RulesEngine = domain.RulesEngine
)

// NewRulesEngine constructs an empty engine.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}

// NewDefaultRulesEngine builds an engine with the event invariant rules. The
// rules evaluate only the events touched by a transaction; with no changes
// they evaluate every event.
func NewDefaultRulesEngine(config *ConfigResolver) *RulesEngine {
	engine := NewRulesEngine()
	engine.Register(DiagnosisPresenceRule())
	engine.Register(SentinelConsistencyRule(config))
	engine.Register(SuspectConsistencyRule(config))
	engine.Register(EventAggregatesRule())
	engine.Register(PriorityDensityRule())
	return engine
}

// eventsInScope returns the events touched by changes, or all events when
// changes is nil.
func eventsInScope(view domain.RuleView, changes []domain.Change) []domain.Event {
	if changes == nil {
		return view.ListEvents()
	}
	ids := domain.TouchedEvents(view, changes)
	out := make([]domain.Event, 0, len(ids))
	for _, id := range ids {
		if ev, ok := view.FindEvent(id); ok {
			out = append(out, ev)
		}
	}
	return out
}

func blockEvent(rule string, eventID int64, message string) domain.Violation {
	return domain.Violation{
		Rule:     rule,
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   domain.EntityEvent,
		EntityID: eventID,
	}
}
