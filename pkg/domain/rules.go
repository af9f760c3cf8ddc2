package domain

import "context"

// RuleView provides read-only access to domain entities for rule evaluation.
type RuleView interface {
	ListEvents() []Event
	FindEvent(id int64) (Event, bool)
	ListEventLocations(eventID int64) []EventLocation
	ListLocationSpecies(eventLocationID int64) []LocationSpecies
	ListSpeciesDiagnoses(locationSpeciesID int64) []SpeciesDiagnosis
	ListEventDiagnoses(eventID int64) []EventDiagnosis
	ListEventOrganizations(eventID int64) []EventOrganization
	FindEventLocation(id int64) (EventLocation, bool)
	FindLocationSpecies(id int64) (LocationSpecies, bool)
	FindSpeciesDiagnosis(id int64) (SpeciesDiagnosis, bool)
	FindEventDiagnosis(id int64) (EventDiagnosis, bool)
	FindEventOrganization(id int64) (EventOrganization, bool)
}

// Rule defines an evaluation executed within a transaction boundary.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error)
}

// RulesEngine orchestrates rule evaluation.
type RulesEngine struct {
	rules []Rule
}

// NewRulesEngine constructs an engine instance.
func NewRulesEngine() *RulesEngine {
	return &RulesEngine{}
}

// Register appends a rule to the engine.
func (e *RulesEngine) Register(rule Rule) {
	e.rules = append(e.rules, rule)
}

// Rules returns the registered rules in evaluation order.
func (e *RulesEngine) Rules() []Rule {
	return append([]Rule(nil), e.rules...)
}

// Evaluate executes all registered rules and aggregates their results.
func (e *RulesEngine) Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error) {
	var combined Result
	for _, rule := range e.rules {
		res, err := rule.Evaluate(ctx, view, changes)
		if err != nil {
			return Result{}, err
		}
		combined.Merge(res)
	}
	return combined, nil
}

// TouchedEvents returns the ids of events whose subtree appears in changes,
// resolving child records through view. Deleted events are skipped.
func TouchedEvents(view RuleView, changes []Change) []int64 {
	seen := make(map[int64]struct{})
	var out []int64
	add := func(id int64) {
		if id == 0 {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		if _, ok := view.FindEvent(id); !ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, ch := range changes {
		for _, rec := range []any{ch.After, ch.Before} {
			add(eventOf(view, rec))
		}
	}
	return out
}

func eventOf(view RuleView, rec any) int64 {
	switch v := rec.(type) {
	case Event:
		return v.ID
	case EventLocation:
		return v.EventID
	case EventDiagnosis:
		return v.EventID
	case EventOrganization:
		return v.EventID
	case LocationSpecies:
		if loc, ok := view.FindEventLocation(v.EventLocationID); ok {
			return loc.EventID
		}
	case SpeciesDiagnosis:
		if ls, ok := view.FindLocationSpecies(v.LocationSpeciesID); ok {
			if loc, ok := view.FindEventLocation(ls.EventLocationID); ok {
				return loc.EventID
			}
		}
	}
	return 0
}
