package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestResultMergeAndBlocking(t *testing.T) {
	var result Result
	result.Merge(Result{Violations: []Violation{{Rule: "warn", Severity: SeverityWarn}}})
	if result.HasBlocking() {
		t.Fatalf("expected no blocking violations")
	}
	result.Merge(Result{Violations: []Violation{{Rule: "block", Severity: SeverityBlock, Message: "priority gap"}}})
	if !result.HasBlocking() {
		t.Fatalf("expected blocking violation")
	}
	err := RuleViolationError{Result: result}
	if !strings.Contains(err.Error(), "priority gap") {
		t.Fatalf("expected blocking message in error, got %q", err.Error())
	}
	if got := len(result.Blocking()); got != 1 {
		t.Fatalf("expected 1 blocking violation, got %d", got)
	}
}

func TestResultMergeEmptyInput(t *testing.T) {
	original := Result{Violations: []Violation{{Rule: "existing", Severity: SeverityWarn}}}
	original.Merge(Result{})
	if len(original.Violations) != 1 || original.Violations[0].Rule != "existing" {
		t.Fatalf("expected original violations to remain, got %+v", original.Violations)
	}
}

func TestRulesEngineEvaluate(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(staticRule{"warn"})
	res, err := engine.Evaluate(context.Background(), emptyView{}, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(res.Violations) != 1 {
		t.Fatalf("expected violation")
	}
	if len(engine.Rules()) != 1 {
		t.Fatalf("expected registered rule to be listed")
	}
}

func TestRulesEngineEvaluateError(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(errorRule{})
	if _, err := engine.Evaluate(context.Background(), emptyView{}, nil); err == nil {
		t.Fatalf("expected evaluation error")
	}
}

func TestTouchedEventsResolvesChildren(t *testing.T) {
	view := graphView{
		events:    map[int64]Event{7: {Base: Base{ID: 7}}},
		locations: map[int64]EventLocation{3: {Base: Base{ID: 3}, EventID: 7}},
		species:   map[int64]LocationSpecies{5: {Base: Base{ID: 5}, EventLocationID: 3}},
	}
	changes := []Change{
		{Entity: EntitySpeciesDiagnosis, Action: ActionCreate, After: SpeciesDiagnosis{LocationSpeciesID: 5}},
		{Entity: EntityEventLocation, Action: ActionUpdate, After: EventLocation{EventID: 7}},
		{Entity: EntityEvent, Action: ActionDelete, Before: Event{Base: Base{ID: 99}}},
	}
	got := TouchedEvents(view, changes)
	if len(got) != 1 || got[0] != 7 {
		t.Fatalf("expected only event 7, got %v", got)
	}
}

func TestErrorTaxonomy(t *testing.T) {
	var err error = fmt.Errorf("load: %w", NotFoundError{Entity: EntityEvent, ID: 4})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected NotFoundError to match ErrNotFound")
	}
	var nf NotFoundError
	if !errors.As(err, &nf) || nf.ID != 4 {
		t.Fatalf("expected errors.As to expose the id, got %+v", nf)
	}
	verr := NewValidationError("a", "b")
	if !strings.Contains(verr.Error(), "2 problems") {
		t.Fatalf("unexpected validation message %q", verr.Error())
	}
	inv := InvariantError{Op: "recompute", Err: RuleViolationError{}}
	var rv RuleViolationError
	if !errors.As(inv, &rv) {
		t.Fatalf("expected invariant error to unwrap")
	}
	if (ReferenceError{Entity: EntityLocationSpecies, Parent: EntityEventLocation, ParentID: 2}).Error() == "" {
		t.Fatalf("expected reference error text")
	}
}

type staticRule struct{ name string }

func (r staticRule) Name() string { return r.name }

func (r staticRule) Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error) {
	return Result{Violations: []Violation{{Rule: r.name, Severity: SeverityWarn}}}, nil
}

type errorRule struct{}

func (errorRule) Name() string { return "error" }

func (errorRule) Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error) {
	return Result{}, fmt.Errorf("boom")
}

type emptyView struct{ graphView }

type graphView struct {
	events    map[int64]Event
	locations map[int64]EventLocation
	species   map[int64]LocationSpecies
}

func (v graphView) ListEvents() []Event { return nil }
func (v graphView) FindEvent(id int64) (Event, bool) {
	e, ok := v.events[id]
	return e, ok
}
func (graphView) ListEventLocations(int64) []EventLocation       { return nil }
func (graphView) ListLocationSpecies(int64) []LocationSpecies    { return nil }
func (graphView) ListSpeciesDiagnoses(int64) []SpeciesDiagnosis  { return nil }
func (graphView) ListEventDiagnoses(int64) []EventDiagnosis      { return nil }
func (graphView) ListEventOrganizations(int64) []EventOrganization { return nil }
func (v graphView) FindEventLocation(id int64) (EventLocation, bool) {
	l, ok := v.locations[id]
	return l, ok
}
func (v graphView) FindLocationSpecies(id int64) (LocationSpecies, bool) {
	s, ok := v.species[id]
	return s, ok
}
func (graphView) FindSpeciesDiagnosis(int64) (SpeciesDiagnosis, bool) {
	return SpeciesDiagnosis{}, false
}
func (graphView) FindEventDiagnosis(int64) (EventDiagnosis, bool) { return EventDiagnosis{}, false }
func (graphView) FindEventOrganization(int64) (EventOrganization, bool) {
	return EventOrganization{}, false
}
