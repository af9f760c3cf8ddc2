package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope. Reads observe the uncommitted state of
// the transaction itself.
type Transaction interface {
	TransactionView
	Snapshot() TransactionView
	CreateEvent(Event) (Event, error)
	UpdateEvent(id int64, mutator func(*Event) error) (Event, error)
	DeleteEvent(id int64) error
	CreateEventLocation(EventLocation) (EventLocation, error)
	UpdateEventLocation(id int64, mutator func(*EventLocation) error) (EventLocation, error)
	DeleteEventLocation(id int64) error
	CreateLocationSpecies(LocationSpecies) (LocationSpecies, error)
	UpdateLocationSpecies(id int64, mutator func(*LocationSpecies) error) (LocationSpecies, error)
	DeleteLocationSpecies(id int64) error
	CreateSpeciesDiagnosis(SpeciesDiagnosis) (SpeciesDiagnosis, error)
	UpdateSpeciesDiagnosis(id int64, mutator func(*SpeciesDiagnosis) error) (SpeciesDiagnosis, error)
	DeleteSpeciesDiagnosis(id int64) error
	CreateEventDiagnosis(EventDiagnosis) (EventDiagnosis, error)
	UpdateEventDiagnosis(id int64, mutator func(*EventDiagnosis) error) (EventDiagnosis, error)
	DeleteEventDiagnosis(id int64) error
	CreateEventOrganization(EventOrganization) (EventOrganization, error)
	UpdateEventOrganization(id int64, mutator func(*EventOrganization) error) (EventOrganization, error)
	DeleteEventOrganization(id int64) error
}

// TransactionView provides read-only access to snapshot data. Every list is
// sorted by ascending id.
type TransactionView interface {
	RuleView
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetEvent(id int64) (Event, bool)
	ListEvents() []Event
}

// EventGraph is the complete persisted subtree of one event.
type EventGraph struct {
	Event              Event               `json:"event"`
	Locations          []EventLocation     `json:"event_locations"`
	Species            []LocationSpecies   `json:"location_species"`
	SpeciesDiagnoses   []SpeciesDiagnosis  `json:"species_diagnoses"`
	EventDiagnoses     []EventDiagnosis    `json:"event_diagnoses"`
	EventOrganizations []EventOrganization `json:"event_organizations"`
}

// LoadEventGraph collects the subtree of eventID from view.
func LoadEventGraph(view TransactionView, eventID int64) (EventGraph, bool) {
	event, ok := view.FindEvent(eventID)
	if !ok {
		return EventGraph{}, false
	}
	graph := EventGraph{
		Event:              event,
		Locations:          view.ListEventLocations(eventID),
		EventDiagnoses:     view.ListEventDiagnoses(eventID),
		EventOrganizations: view.ListEventOrganizations(eventID),
	}
	for _, loc := range graph.Locations {
		species := view.ListLocationSpecies(loc.ID)
		graph.Species = append(graph.Species, species...)
		for _, ls := range species {
			graph.SpeciesDiagnoses = append(graph.SpeciesDiagnoses, view.ListSpeciesDiagnoses(ls.ID)...)
		}
	}
	return graph, true
}

// EventSpecies lists every LocationSpecies under the event.
func EventSpecies(view RuleView, eventID int64) []LocationSpecies {
	var out []LocationSpecies
	for _, loc := range view.ListEventLocations(eventID) {
		out = append(out, view.ListLocationSpecies(loc.ID)...)
	}
	return out
}

// EventSpeciesDiagnoses lists every SpeciesDiagnosis under the event.
func EventSpeciesDiagnoses(view RuleView, eventID int64) []SpeciesDiagnosis {
	var out []SpeciesDiagnosis
	for _, ls := range EventSpecies(view, eventID) {
		out = append(out, view.ListSpeciesDiagnoses(ls.ID)...)
	}
	return out
}
