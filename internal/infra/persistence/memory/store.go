// Package memory provides an in-memory implementation of the core persistence
// store used for tests and ephemeral environments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"whispers/pkg/domain"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Event aliases domain.Event for in-memory persistence operations.
	Event = domain.Event
	// EventLocation aliases domain.EventLocation.
	EventLocation = domain.EventLocation
	// LocationSpecies aliases domain.LocationSpecies.
	LocationSpecies = domain.LocationSpecies
	// SpeciesDiagnosis aliases domain.SpeciesDiagnosis.
	SpeciesDiagnosis = domain.SpeciesDiagnosis
	// EventDiagnosis aliases domain.EventDiagnosis.
	EventDiagnosis = domain.EventDiagnosis
	// EventOrganization aliases domain.EventOrganization.
	EventOrganization = domain.EventOrganization
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	events      map[int64]Event
	locations   map[int64]EventLocation
	species     map[int64]LocationSpecies
	speciesDiag map[int64]SpeciesDiagnosis
	eventDiag   map[int64]EventDiagnosis
	eventOrgs   map[int64]EventOrganization
	sequences   map[domain.EntityType]int64
}

// Snapshot captures a point-in-time clone of the store state. Each field is
// persisted as its own bucket by the durable backends.
type Snapshot struct {
	Events             map[int64]Event             `json:"events"`
	EventLocations     map[int64]EventLocation     `json:"event_locations"`
	LocationSpecies    map[int64]LocationSpecies   `json:"location_species"`
	SpeciesDiagnoses   map[int64]SpeciesDiagnosis  `json:"species_diagnoses"`
	EventDiagnoses     map[int64]EventDiagnosis    `json:"event_diagnoses"`
	EventOrganizations map[int64]EventOrganization `json:"event_organizations"`
	Sequences          map[domain.EntityType]int64 `json:"sequences"`
}

func newMemoryState() memoryState {
	return memoryState{
		events:      make(map[int64]Event),
		locations:   make(map[int64]EventLocation),
		species:     make(map[int64]LocationSpecies),
		speciesDiag: make(map[int64]SpeciesDiagnosis),
		eventDiag:   make(map[int64]EventDiagnosis),
		eventOrgs:   make(map[int64]EventOrganization),
		sequences:   make(map[domain.EntityType]int64),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	c := state.clone()
	return Snapshot{
		Events:             c.events,
		EventLocations:     c.locations,
		LocationSpecies:    c.species,
		SpeciesDiagnoses:   c.speciesDiag,
		EventDiagnoses:     c.eventDiag,
		EventOrganizations: c.eventOrgs,
		Sequences:          c.sequences,
	}
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := memoryState{
		events:      s.Events,
		locations:   s.EventLocations,
		species:     s.LocationSpecies,
		speciesDiag: s.SpeciesDiagnoses,
		eventDiag:   s.EventDiagnoses,
		eventOrgs:   s.EventOrganizations,
		sequences:   s.Sequences,
	}
	return state.clone()
}

// migrateSnapshot fills missing buckets, drops records whose parent is gone,
// and advances sequences past the highest stored id.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	if snapshot.Events == nil {
		snapshot.Events = map[int64]Event{}
	}
	if snapshot.EventLocations == nil {
		snapshot.EventLocations = map[int64]EventLocation{}
	}
	if snapshot.LocationSpecies == nil {
		snapshot.LocationSpecies = map[int64]LocationSpecies{}
	}
	if snapshot.SpeciesDiagnoses == nil {
		snapshot.SpeciesDiagnoses = map[int64]SpeciesDiagnosis{}
	}
	if snapshot.EventDiagnoses == nil {
		snapshot.EventDiagnoses = map[int64]EventDiagnosis{}
	}
	if snapshot.EventOrganizations == nil {
		snapshot.EventOrganizations = map[int64]EventOrganization{}
	}
	if snapshot.Sequences == nil {
		snapshot.Sequences = map[domain.EntityType]int64{}
	}

	for id, loc := range snapshot.EventLocations {
		if _, ok := snapshot.Events[loc.EventID]; !ok {
			delete(snapshot.EventLocations, id)
		}
	}
	for id, ls := range snapshot.LocationSpecies {
		if _, ok := snapshot.EventLocations[ls.EventLocationID]; !ok {
			delete(snapshot.LocationSpecies, id)
		}
	}
	for id, sd := range snapshot.SpeciesDiagnoses {
		if _, ok := snapshot.LocationSpecies[sd.LocationSpeciesID]; !ok {
			delete(snapshot.SpeciesDiagnoses, id)
		}
	}
	for id, ed := range snapshot.EventDiagnoses {
		if _, ok := snapshot.Events[ed.EventID]; !ok {
			delete(snapshot.EventDiagnoses, id)
		}
	}
	for id, eo := range snapshot.EventOrganizations {
		if _, ok := snapshot.Events[eo.EventID]; !ok {
			delete(snapshot.EventOrganizations, id)
		}
	}

	bump := func(entity domain.EntityType, id int64) {
		if id > snapshot.Sequences[entity] {
			snapshot.Sequences[entity] = id
		}
	}
	for id := range snapshot.Events {
		bump(domain.EntityEvent, id)
	}
	for id := range snapshot.EventLocations {
		bump(domain.EntityEventLocation, id)
	}
	for id := range snapshot.LocationSpecies {
		bump(domain.EntityLocationSpecies, id)
	}
	for id := range snapshot.SpeciesDiagnoses {
		bump(domain.EntitySpeciesDiagnosis, id)
	}
	for id := range snapshot.EventDiagnoses {
		bump(domain.EntityEventDiagnosis, id)
	}
	for id := range snapshot.EventOrganizations {
		bump(domain.EntityEventOrganization, id)
	}
	return snapshot
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.events {
		cloned.events[k] = cloneEvent(v)
	}
	for k, v := range s.locations {
		cloned.locations[k] = cloneLocation(v)
	}
	for k, v := range s.species {
		cloned.species[k] = cloneSpecies(v)
	}
	for k, v := range s.speciesDiag {
		cloned.speciesDiag[k] = cloneSpeciesDiagnosis(v)
	}
	for k, v := range s.eventDiag {
		cloned.eventDiag[k] = v
	}
	for k, v := range s.eventOrgs {
		cloned.eventOrgs[k] = v
	}
	for k, v := range s.sequences {
		cloned.sequences[k] = v
	}
	return cloned
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneIDs(ids []int64) []int64 {
	if ids == nil {
		return nil
	}
	return append([]int64(nil), ids...)
}

func cloneEvent(e Event) Event {
	cp := e
	cp.StartDate = clonePtr(e.StartDate)
	cp.EndDate = clonePtr(e.EndDate)
	cp.AffectedCount = clonePtr(e.AffectedCount)
	cp.QualityCheck = clonePtr(e.QualityCheck)
	cp.ReadCollaborators = cloneIDs(e.ReadCollaborators)
	cp.WriteCollaborators = cloneIDs(e.WriteCollaborators)
	cp.EventGroupIDs = cloneIDs(e.EventGroupIDs)
	return cp
}

func cloneLocation(l EventLocation) EventLocation {
	cp := l
	cp.StartDate = clonePtr(l.StartDate)
	cp.EndDate = clonePtr(l.EndDate)
	cp.CountryID = clonePtr(l.CountryID)
	cp.AdministrativeLevelOneID = clonePtr(l.AdministrativeLevelOneID)
	cp.AdministrativeLevelTwoID = clonePtr(l.AdministrativeLevelTwoID)
	cp.Latitude = clonePtr(l.Latitude)
	cp.Longitude = clonePtr(l.Longitude)
	if l.Comments != nil {
		cp.Comments = append([]domain.Comment(nil), l.Comments...)
	}
	return cp
}

func cloneSpecies(s LocationSpecies) LocationSpecies {
	cp := s
	cp.PopulationCount = clonePtr(s.PopulationCount)
	cp.SickCount = clonePtr(s.SickCount)
	cp.DeadCount = clonePtr(s.DeadCount)
	cp.SickCountEstimated = clonePtr(s.SickCountEstimated)
	cp.DeadCountEstimated = clonePtr(s.DeadCountEstimated)
	return cp
}

func cloneSpeciesDiagnosis(d SpeciesDiagnosis) SpeciesDiagnosis {
	cp := d
	cp.CauseID = clonePtr(d.CauseID)
	cp.BasisID = clonePtr(d.BasisID)
	cp.TestedCount = clonePtr(d.TestedCount)
	cp.PositiveCount = clonePtr(d.PositiveCount)
	cp.OrganizationIDs = cloneIDs(d.OrganizationIDs)
	return cp
}

// sortedValues returns the map values filtered by keep, ordered by id.
func sortedValues[T any](m map[int64]T, keep func(T) bool, clone func(T) T) []T {
	ids := make([]int64, 0, len(m))
	for id, v := range m {
		if keep == nil || keep(v) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, clone(m[id]))
	}
	return out
}

func identity[T any](v T) T { return v }

// Store provides an in-memory transactional store for the core domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// SetNowFunc overrides the clock used to stamp records.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn != nil {
		s.nowFn = fn
	}
}

type transaction struct {
	transactionView
	changes []Change
	now     time.Time
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// RunInTransaction executes fn within a transactional copy of the store state.
// The copy replaces the committed state only when fn succeeds and no rule
// reports a blocking violation.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	return s.Apply(ctx, nil, fn, nil)
}

// Apply runs fn against base, or against the committed state when base is
// nil, and evaluates the rules. When commit is set it receives the resulting
// snapshot before the store adopts it; a commit error discards the
// transaction and leaves the committed state untouched.
func (s *Store) Apply(ctx context.Context, base *Snapshot, fn func(tx Transaction) error, commit func(Snapshot) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var state memoryState
	if base != nil {
		state = memoryStateFromSnapshot(migrateSnapshot(*base))
	} else {
		state = s.state.clone()
	}
	tx := &transaction{
		transactionView: transactionView{state: &state},
		now:             s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil && len(tx.changes) > 0 {
		res, err := s.engine.Evaluate(ctx, tx.transactionView, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	if commit != nil {
		if err := commit(snapshotFromMemoryState(state)); err != nil {
			return result, err
		}
	}
	s.state = state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	return fn(newTransactionView(&snapshot))
}

// ViewSnapshot executes fn against a read-only view of snapshot.
func ViewSnapshot(snapshot Snapshot, fn func(TransactionView) error) error {
	state := memoryStateFromSnapshot(migrateSnapshot(snapshot))
	return fn(newTransactionView(&state))
}

// GetEvent retrieves an event by id from committed state.
func (s *Store) GetEvent(id int64) (Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.state.events[id]
	if !ok {
		return Event{}, false
	}
	return cloneEvent(e), true
}

// ListEvents returns all committed events ordered by id.
func (s *Store) ListEvents() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.state.events, nil, cloneEvent)
}

// View helpers ---------------------------------------------------------------

func (v transactionView) ListEvents() []Event {
	return sortedValues(v.state.events, nil, cloneEvent)
}

func (v transactionView) FindEvent(id int64) (Event, bool) {
	e, ok := v.state.events[id]
	if !ok {
		return Event{}, false
	}
	return cloneEvent(e), true
}

func (v transactionView) ListEventLocations(eventID int64) []EventLocation {
	return sortedValues(v.state.locations, func(l EventLocation) bool { return l.EventID == eventID }, cloneLocation)
}

func (v transactionView) ListLocationSpecies(eventLocationID int64) []LocationSpecies {
	return sortedValues(v.state.species, func(s LocationSpecies) bool { return s.EventLocationID == eventLocationID }, cloneSpecies)
}

func (v transactionView) ListSpeciesDiagnoses(locationSpeciesID int64) []SpeciesDiagnosis {
	return sortedValues(v.state.speciesDiag, func(d SpeciesDiagnosis) bool { return d.LocationSpeciesID == locationSpeciesID }, cloneSpeciesDiagnosis)
}

func (v transactionView) ListEventDiagnoses(eventID int64) []EventDiagnosis {
	return sortedValues(v.state.eventDiag, func(d EventDiagnosis) bool { return d.EventID == eventID }, identity[EventDiagnosis])
}

func (v transactionView) ListEventOrganizations(eventID int64) []EventOrganization {
	return sortedValues(v.state.eventOrgs, func(o EventOrganization) bool { return o.EventID == eventID }, identity[EventOrganization])
}

func (v transactionView) FindEventLocation(id int64) (EventLocation, bool) {
	l, ok := v.state.locations[id]
	if !ok {
		return EventLocation{}, false
	}
	return cloneLocation(l), true
}

func (v transactionView) FindLocationSpecies(id int64) (LocationSpecies, bool) {
	s, ok := v.state.species[id]
	if !ok {
		return LocationSpecies{}, false
	}
	return cloneSpecies(s), true
}

func (v transactionView) FindSpeciesDiagnosis(id int64) (SpeciesDiagnosis, bool) {
	d, ok := v.state.speciesDiag[id]
	if !ok {
		return SpeciesDiagnosis{}, false
	}
	return cloneSpeciesDiagnosis(d), true
}

func (v transactionView) FindEventDiagnosis(id int64) (EventDiagnosis, bool) {
	d, ok := v.state.eventDiag[id]
	return d, ok
}

func (v transactionView) FindEventOrganization(id int64) (EventOrganization, bool) {
	o, ok := v.state.eventOrgs[id]
	return o, ok
}

// Transaction helpers --------------------------------------------------------

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return tx.transactionView
}

func (tx *transaction) nextID(entity domain.EntityType) int64 {
	tx.state.sequences[entity]++
	return tx.state.sequences[entity]
}

func (tx *transaction) stamp(base *domain.Base, entity domain.EntityType) {
	if base.ID == 0 {
		base.ID = tx.nextID(entity)
	} else if base.ID > tx.state.sequences[entity] {
		tx.state.sequences[entity] = base.ID
	}
	base.CreatedAt = tx.now
	base.UpdatedAt = tx.now
}

func notFound(entity domain.EntityType, id int64) error {
	return domain.NotFoundError{Entity: entity, ID: id}
}

func missingParent(entity domain.EntityType, id int64, parent domain.EntityType, parentID int64) error {
	return domain.ReferenceError{Entity: entity, ID: id, Parent: parent, ParentID: parentID}
}

// CreateEvent stores a new event within the transaction.
func (tx *transaction) CreateEvent(e Event) (Event, error) {
	if _, exists := tx.state.events[e.ID]; exists && e.ID != 0 {
		return Event{}, fmt.Errorf("event %d already exists", e.ID)
	}
	tx.stamp(&e.Base, domain.EntityEvent)
	tx.state.events[e.ID] = cloneEvent(e)
	tx.recordChange(Change{Entity: domain.EntityEvent, Action: domain.ActionCreate, After: cloneEvent(e)})
	return cloneEvent(e), nil
}

// UpdateEvent mutates an event using the provided mutator function.
func (tx *transaction) UpdateEvent(id int64, mutator func(*Event) error) (Event, error) {
	current, ok := tx.state.events[id]
	if !ok {
		return Event{}, notFound(domain.EntityEvent, id)
	}
	before := cloneEvent(current)
	if err := mutator(&current); err != nil {
		return Event{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.events[id] = cloneEvent(current)
	tx.recordChange(Change{Entity: domain.EntityEvent, Action: domain.ActionUpdate, Before: before, After: cloneEvent(current)})
	return cloneEvent(current), nil
}

// DeleteEvent removes an event. Children must be deleted first.
func (tx *transaction) DeleteEvent(id int64) error {
	current, ok := tx.state.events[id]
	if !ok {
		return notFound(domain.EntityEvent, id)
	}
	for _, loc := range tx.state.locations {
		if loc.EventID == id {
			return fmt.Errorf("event %d still referenced by event location %d", id, loc.ID)
		}
	}
	for _, ed := range tx.state.eventDiag {
		if ed.EventID == id {
			return fmt.Errorf("event %d still referenced by event diagnosis %d", id, ed.ID)
		}
	}
	for _, eo := range tx.state.eventOrgs {
		if eo.EventID == id {
			return fmt.Errorf("event %d still referenced by event organization %d", id, eo.ID)
		}
	}
	delete(tx.state.events, id)
	tx.recordChange(Change{Entity: domain.EntityEvent, Action: domain.ActionDelete, Before: cloneEvent(current)})
	return nil
}

// CreateEventLocation stores a new location under an existing event.
func (tx *transaction) CreateEventLocation(l EventLocation) (EventLocation, error) {
	if _, ok := tx.state.events[l.EventID]; !ok {
		return EventLocation{}, missingParent(domain.EntityEventLocation, l.ID, domain.EntityEvent, l.EventID)
	}
	if _, exists := tx.state.locations[l.ID]; exists && l.ID != 0 {
		return EventLocation{}, fmt.Errorf("event location %d already exists", l.ID)
	}
	tx.stamp(&l.Base, domain.EntityEventLocation)
	tx.state.locations[l.ID] = cloneLocation(l)
	tx.recordChange(Change{Entity: domain.EntityEventLocation, Action: domain.ActionCreate, After: cloneLocation(l)})
	return cloneLocation(l), nil
}

// UpdateEventLocation mutates an existing location.
func (tx *transaction) UpdateEventLocation(id int64, mutator func(*EventLocation) error) (EventLocation, error) {
	current, ok := tx.state.locations[id]
	if !ok {
		return EventLocation{}, notFound(domain.EntityEventLocation, id)
	}
	before := cloneLocation(current)
	if err := mutator(&current); err != nil {
		return EventLocation{}, err
	}
	if _, ok := tx.state.events[current.EventID]; !ok {
		return EventLocation{}, missingParent(domain.EntityEventLocation, id, domain.EntityEvent, current.EventID)
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.locations[id] = cloneLocation(current)
	tx.recordChange(Change{Entity: domain.EntityEventLocation, Action: domain.ActionUpdate, Before: before, After: cloneLocation(current)})
	return cloneLocation(current), nil
}

// DeleteEventLocation removes a location. Its species must be deleted first.
func (tx *transaction) DeleteEventLocation(id int64) error {
	current, ok := tx.state.locations[id]
	if !ok {
		return notFound(domain.EntityEventLocation, id)
	}
	for _, ls := range tx.state.species {
		if ls.EventLocationID == id {
			return fmt.Errorf("event location %d still referenced by location species %d", id, ls.ID)
		}
	}
	delete(tx.state.locations, id)
	tx.recordChange(Change{Entity: domain.EntityEventLocation, Action: domain.ActionDelete, Before: cloneLocation(current)})
	return nil
}

// CreateLocationSpecies stores species counts under an existing location.
func (tx *transaction) CreateLocationSpecies(s LocationSpecies) (LocationSpecies, error) {
	if _, ok := tx.state.locations[s.EventLocationID]; !ok {
		return LocationSpecies{}, missingParent(domain.EntityLocationSpecies, s.ID, domain.EntityEventLocation, s.EventLocationID)
	}
	if _, exists := tx.state.species[s.ID]; exists && s.ID != 0 {
		return LocationSpecies{}, fmt.Errorf("location species %d already exists", s.ID)
	}
	tx.stamp(&s.Base, domain.EntityLocationSpecies)
	tx.state.species[s.ID] = cloneSpecies(s)
	tx.recordChange(Change{Entity: domain.EntityLocationSpecies, Action: domain.ActionCreate, After: cloneSpecies(s)})
	return cloneSpecies(s), nil
}

// UpdateLocationSpecies mutates existing species counts.
func (tx *transaction) UpdateLocationSpecies(id int64, mutator func(*LocationSpecies) error) (LocationSpecies, error) {
	current, ok := tx.state.species[id]
	if !ok {
		return LocationSpecies{}, notFound(domain.EntityLocationSpecies, id)
	}
	before := cloneSpecies(current)
	if err := mutator(&current); err != nil {
		return LocationSpecies{}, err
	}
	if _, ok := tx.state.locations[current.EventLocationID]; !ok {
		return LocationSpecies{}, missingParent(domain.EntityLocationSpecies, id, domain.EntityEventLocation, current.EventLocationID)
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.species[id] = cloneSpecies(current)
	tx.recordChange(Change{Entity: domain.EntityLocationSpecies, Action: domain.ActionUpdate, Before: before, After: cloneSpecies(current)})
	return cloneSpecies(current), nil
}

// DeleteLocationSpecies removes species counts. Diagnoses must be deleted first.
func (tx *transaction) DeleteLocationSpecies(id int64) error {
	current, ok := tx.state.species[id]
	if !ok {
		return notFound(domain.EntityLocationSpecies, id)
	}
	for _, sd := range tx.state.speciesDiag {
		if sd.LocationSpeciesID == id {
			return fmt.Errorf("location species %d still referenced by species diagnosis %d", id, sd.ID)
		}
	}
	delete(tx.state.species, id)
	tx.recordChange(Change{Entity: domain.EntityLocationSpecies, Action: domain.ActionDelete, Before: cloneSpecies(current)})
	return nil
}

// CreateSpeciesDiagnosis stores a diagnosis under existing species counts.
func (tx *transaction) CreateSpeciesDiagnosis(d SpeciesDiagnosis) (SpeciesDiagnosis, error) {
	if _, ok := tx.state.species[d.LocationSpeciesID]; !ok {
		return SpeciesDiagnosis{}, missingParent(domain.EntitySpeciesDiagnosis, d.ID, domain.EntityLocationSpecies, d.LocationSpeciesID)
	}
	if _, exists := tx.state.speciesDiag[d.ID]; exists && d.ID != 0 {
		return SpeciesDiagnosis{}, fmt.Errorf("species diagnosis %d already exists", d.ID)
	}
	tx.stamp(&d.Base, domain.EntitySpeciesDiagnosis)
	tx.state.speciesDiag[d.ID] = cloneSpeciesDiagnosis(d)
	tx.recordChange(Change{Entity: domain.EntitySpeciesDiagnosis, Action: domain.ActionCreate, After: cloneSpeciesDiagnosis(d)})
	return cloneSpeciesDiagnosis(d), nil
}

// UpdateSpeciesDiagnosis mutates an existing species diagnosis.
func (tx *transaction) UpdateSpeciesDiagnosis(id int64, mutator func(*SpeciesDiagnosis) error) (SpeciesDiagnosis, error) {
	current, ok := tx.state.speciesDiag[id]
	if !ok {
		return SpeciesDiagnosis{}, notFound(domain.EntitySpeciesDiagnosis, id)
	}
	before := cloneSpeciesDiagnosis(current)
	if err := mutator(&current); err != nil {
		return SpeciesDiagnosis{}, err
	}
	if _, ok := tx.state.species[current.LocationSpeciesID]; !ok {
		return SpeciesDiagnosis{}, missingParent(domain.EntitySpeciesDiagnosis, id, domain.EntityLocationSpecies, current.LocationSpeciesID)
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.speciesDiag[id] = cloneSpeciesDiagnosis(current)
	tx.recordChange(Change{Entity: domain.EntitySpeciesDiagnosis, Action: domain.ActionUpdate, Before: before, After: cloneSpeciesDiagnosis(current)})
	return cloneSpeciesDiagnosis(current), nil
}

// DeleteSpeciesDiagnosis removes a species diagnosis.
func (tx *transaction) DeleteSpeciesDiagnosis(id int64) error {
	current, ok := tx.state.speciesDiag[id]
	if !ok {
		return notFound(domain.EntitySpeciesDiagnosis, id)
	}
	delete(tx.state.speciesDiag, id)
	tx.recordChange(Change{Entity: domain.EntitySpeciesDiagnosis, Action: domain.ActionDelete, Before: cloneSpeciesDiagnosis(current)})
	return nil
}

func (tx *transaction) eventDiagnosisTaken(eventID, diagnosisID, exceptID int64) (int64, bool) {
	for _, ed := range tx.state.eventDiag {
		if ed.ID != exceptID && ed.EventID == eventID && ed.DiagnosisID == diagnosisID {
			return ed.ID, true
		}
	}
	return 0, false
}

// CreateEventDiagnosis stores an event-level diagnosis. (event, diagnosis) is unique.
func (tx *transaction) CreateEventDiagnosis(d EventDiagnosis) (EventDiagnosis, error) {
	if _, ok := tx.state.events[d.EventID]; !ok {
		return EventDiagnosis{}, missingParent(domain.EntityEventDiagnosis, d.ID, domain.EntityEvent, d.EventID)
	}
	if _, exists := tx.state.eventDiag[d.ID]; exists && d.ID != 0 {
		return EventDiagnosis{}, fmt.Errorf("event diagnosis %d already exists", d.ID)
	}
	if other, taken := tx.eventDiagnosisTaken(d.EventID, d.DiagnosisID, 0); taken {
		return EventDiagnosis{}, fmt.Errorf("event %d already has diagnosis %d (event diagnosis %d)", d.EventID, d.DiagnosisID, other)
	}
	tx.stamp(&d.Base, domain.EntityEventDiagnosis)
	tx.state.eventDiag[d.ID] = d
	tx.recordChange(Change{Entity: domain.EntityEventDiagnosis, Action: domain.ActionCreate, After: d})
	return d, nil
}

// UpdateEventDiagnosis mutates an existing event diagnosis.
func (tx *transaction) UpdateEventDiagnosis(id int64, mutator func(*EventDiagnosis) error) (EventDiagnosis, error) {
	current, ok := tx.state.eventDiag[id]
	if !ok {
		return EventDiagnosis{}, notFound(domain.EntityEventDiagnosis, id)
	}
	before := current
	if err := mutator(&current); err != nil {
		return EventDiagnosis{}, err
	}
	if _, ok := tx.state.events[current.EventID]; !ok {
		return EventDiagnosis{}, missingParent(domain.EntityEventDiagnosis, id, domain.EntityEvent, current.EventID)
	}
	if other, taken := tx.eventDiagnosisTaken(current.EventID, current.DiagnosisID, id); taken {
		return EventDiagnosis{}, fmt.Errorf("event %d already has diagnosis %d (event diagnosis %d)", current.EventID, current.DiagnosisID, other)
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.eventDiag[id] = current
	tx.recordChange(Change{Entity: domain.EntityEventDiagnosis, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// DeleteEventDiagnosis removes an event diagnosis.
func (tx *transaction) DeleteEventDiagnosis(id int64) error {
	current, ok := tx.state.eventDiag[id]
	if !ok {
		return notFound(domain.EntityEventDiagnosis, id)
	}
	delete(tx.state.eventDiag, id)
	tx.recordChange(Change{Entity: domain.EntityEventDiagnosis, Action: domain.ActionDelete, Before: current})
	return nil
}

// CreateEventOrganization attaches an organization to an existing event.
func (tx *transaction) CreateEventOrganization(o EventOrganization) (EventOrganization, error) {
	if _, ok := tx.state.events[o.EventID]; !ok {
		return EventOrganization{}, missingParent(domain.EntityEventOrganization, o.ID, domain.EntityEvent, o.EventID)
	}
	if _, exists := tx.state.eventOrgs[o.ID]; exists && o.ID != 0 {
		return EventOrganization{}, fmt.Errorf("event organization %d already exists", o.ID)
	}
	tx.stamp(&o.Base, domain.EntityEventOrganization)
	tx.state.eventOrgs[o.ID] = o
	tx.recordChange(Change{Entity: domain.EntityEventOrganization, Action: domain.ActionCreate, After: o})
	return o, nil
}

// UpdateEventOrganization mutates an existing event organization.
func (tx *transaction) UpdateEventOrganization(id int64, mutator func(*EventOrganization) error) (EventOrganization, error) {
	current, ok := tx.state.eventOrgs[id]
	if !ok {
		return EventOrganization{}, notFound(domain.EntityEventOrganization, id)
	}
	before := current
	if err := mutator(&current); err != nil {
		return EventOrganization{}, err
	}
	if _, ok := tx.state.events[current.EventID]; !ok {
		return EventOrganization{}, missingParent(domain.EntityEventOrganization, id, domain.EntityEvent, current.EventID)
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.eventOrgs[id] = current
	tx.recordChange(Change{Entity: domain.EntityEventOrganization, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// DeleteEventOrganization detaches an organization from its event.
func (tx *transaction) DeleteEventOrganization(id int64) error {
	current, ok := tx.state.eventOrgs[id]
	if !ok {
		return notFound(domain.EntityEventOrganization, id)
	}
	delete(tx.state.eventOrgs, id)
	tx.recordChange(Change{Entity: domain.EntityEventOrganization, Action: domain.ActionDelete, Before: current})
	return nil
}
