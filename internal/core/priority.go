package core

import (
	"cmp"
	"slices"
	"strings"

	"whispers/pkg/domain"
)

// Ranked pairs a sibling record with the priority it should hold.
type Ranked[T any] struct {
	Record   T
	Priority int
}

// AssignPriority returns the 1-based rank target should occupy among siblings
// (which must not contain target) and the siblings renumbered around it. The
// walk emits sequential priorities over the siblings in comparator order and
// inserts the target at the first sibling it does not sort after.
func AssignPriority[T any](target T, siblings []T, compare func(a, b T) int) (int, []Ranked[T]) {
	sorted := slices.Clone(siblings)
	slices.SortStableFunc(sorted, compare)
	rank, next := 0, 1
	out := make([]Ranked[T], 0, len(sorted))
	for _, sib := range sorted {
		if rank == 0 && compare(target, sib) <= 0 {
			rank = next
			next++
		}
		out = append(out, Ranked[T]{Record: sib, Priority: next})
		next++
	}
	if rank == 0 {
		rank = next
	}
	return rank, out
}

// Renumber orders records by compare and assigns dense priorities 1..N.
func Renumber[T any](records []T, compare func(a, b T) int) []Ranked[T] {
	sorted := slices.Clone(records)
	slices.SortStableFunc(sorted, compare)
	out := make([]Ranked[T], len(sorted))
	for i, rec := range sorted {
		out[i] = Ranked[T]{Record: rec, Priority: i + 1}
	}
	return out
}

// priorityGroup describes one sibling collection and how to persist ranks.
type priorityGroup[T any] struct {
	id       func(T) int64
	priority func(T) int
	compare  func(a, b T) int
	write    func(id int64, priority int) error
}

// place ranks target among members and persists every changed priority.
func (g priorityGroup[T]) place(target T, members []T) error {
	targetID := g.id(target)
	siblings := make([]T, 0, len(members))
	for _, m := range members {
		if g.id(m) == targetID {
			target = m
			continue
		}
		siblings = append(siblings, m)
	}
	rank, ranked := AssignPriority(target, siblings, g.compare)
	if g.priority(target) != rank {
		if err := g.write(targetID, rank); err != nil {
			return err
		}
	}
	return g.persist(ranked)
}

// renumber rewrites the whole group densely.
func (g priorityGroup[T]) renumber(members []T) error {
	return g.persist(Renumber(members, g.compare))
}

func (g priorityGroup[T]) persist(ranked []Ranked[T]) error {
	for _, r := range ranked {
		if g.priority(r.Record) == r.Priority {
			continue
		}
		if err := g.write(g.id(r.Record), r.Priority); err != nil {
			return err
		}
	}
	return nil
}

func compareNilLowest(a, b *int64) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return cmp.Compare(*a, *b)
}

func compareNames(a, b string) int {
	return strings.Compare(a, b)
}

// affectedCounter computes per-species and per-location affected counts for
// one event type from the transaction's current state.
type affectedCounter struct {
	view      domain.RuleView
	eventType domain.EventType
}

func (c affectedCounter) species(ls domain.LocationSpecies) int {
	switch c.eventType {
	case domain.EventTypeMortalityMorbidity:
		return ls.MortalityAffected()
	case domain.EventTypeSurveillance:
		total := 0
		for _, sd := range c.view.ListSpeciesDiagnoses(ls.ID) {
			total += sd.Positive()
		}
		return total
	}
	return 0
}

func (c affectedCounter) location(loc domain.EventLocation) int {
	total := 0
	for _, ls := range c.view.ListLocationSpecies(loc.ID) {
		total += c.species(ls)
	}
	return total
}

func (p *pipeline) diagnosisName(id int64) string {
	if d, ok := p.ref.Diagnosis(id); ok {
		return d.Name
	}
	return ""
}

func (p *pipeline) counter(eventID int64) (affectedCounter, error) {
	event, ok := p.tx.FindEvent(eventID)
	if !ok {
		return affectedCounter{}, domain.ReferenceError{Entity: domain.EntityEvent, ID: eventID, Parent: domain.EntityEvent, ParentID: eventID}
	}
	return affectedCounter{view: p.tx, eventType: event.EventType}, nil
}

func (p *pipeline) eventDiagnosisGroup() priorityGroup[domain.EventDiagnosis] {
	return priorityGroup[domain.EventDiagnosis]{
		id:       func(d domain.EventDiagnosis) int64 { return d.ID },
		priority: func(d domain.EventDiagnosis) int { return d.Priority },
		compare: func(a, b domain.EventDiagnosis) int {
			if c := compareNames(p.diagnosisName(a.DiagnosisID), p.diagnosisName(b.DiagnosisID)); c != 0 {
				return c
			}
			return cmp.Compare(a.ID, b.ID)
		},
		write: func(id int64, priority int) error {
			_, err := p.tx.UpdateEventDiagnosis(id, func(d *domain.EventDiagnosis) error {
				d.Priority = priority
				return nil
			})
			return err
		},
	}
}

func (p *pipeline) eventOrganizationGroup() priorityGroup[domain.EventOrganization] {
	return priorityGroup[domain.EventOrganization]{
		id:       func(o domain.EventOrganization) int64 { return o.ID },
		priority: func(o domain.EventOrganization) int { return o.Priority },
		compare:  func(a, b domain.EventOrganization) int { return cmp.Compare(a.ID, b.ID) },
		write: func(id int64, priority int) error {
			_, err := p.tx.UpdateEventOrganization(id, func(o *domain.EventOrganization) error {
				o.Priority = priority
				return nil
			})
			return err
		},
	}
}

func (p *pipeline) locationGroup(counter affectedCounter) priorityGroup[domain.EventLocation] {
	adminTwoName := func(l domain.EventLocation) string {
		if l.AdministrativeLevelTwoID == nil {
			return ""
		}
		if a2, ok := p.ref.AdminLevelTwo(*l.AdministrativeLevelTwoID); ok {
			return a2.Name
		}
		return ""
	}
	return priorityGroup[domain.EventLocation]{
		id:       func(l domain.EventLocation) int64 { return l.ID },
		priority: func(l domain.EventLocation) int { return l.Priority },
		compare: func(a, b domain.EventLocation) int {
			if c := compareNames(adminTwoName(a), adminTwoName(b)); c != 0 {
				return c
			}
			if c := cmp.Compare(counter.location(b), counter.location(a)); c != 0 {
				return c
			}
			return cmp.Compare(a.ID, b.ID)
		},
		write: func(id int64, priority int) error {
			_, err := p.tx.UpdateEventLocation(id, func(l *domain.EventLocation) error {
				l.Priority = priority
				return nil
			})
			return err
		},
	}
}

func (p *pipeline) speciesGroup(counter affectedCounter) priorityGroup[domain.LocationSpecies] {
	speciesName := func(ls domain.LocationSpecies) string {
		if sp, ok := p.ref.Species(ls.SpeciesID); ok {
			return sp.Name
		}
		return ""
	}
	return priorityGroup[domain.LocationSpecies]{
		id:       func(ls domain.LocationSpecies) int64 { return ls.ID },
		priority: func(ls domain.LocationSpecies) int { return ls.Priority },
		compare: func(a, b domain.LocationSpecies) int {
			if c := cmp.Compare(counter.species(b), counter.species(a)); c != 0 {
				return c
			}
			if c := compareNames(speciesName(a), speciesName(b)); c != 0 {
				return c
			}
			return cmp.Compare(a.ID, b.ID)
		},
		write: func(id int64, priority int) error {
			_, err := p.tx.UpdateLocationSpecies(id, func(ls *domain.LocationSpecies) error {
				ls.Priority = priority
				return nil
			})
			return err
		},
	}
}

func (p *pipeline) speciesDiagnosisGroup() priorityGroup[domain.SpeciesDiagnosis] {
	return priorityGroup[domain.SpeciesDiagnosis]{
		id:       func(d domain.SpeciesDiagnosis) int64 { return d.ID },
		priority: func(d domain.SpeciesDiagnosis) int { return d.Priority },
		compare: func(a, b domain.SpeciesDiagnosis) int {
			if c := compareNilLowest(a.CauseID, b.CauseID); c != 0 {
				return c
			}
			if c := compareNames(p.diagnosisName(a.DiagnosisID), p.diagnosisName(b.DiagnosisID)); c != 0 {
				return c
			}
			return cmp.Compare(a.ID, b.ID)
		},
		write: func(id int64, priority int) error {
			_, err := p.tx.UpdateSpeciesDiagnosis(id, func(d *domain.SpeciesDiagnosis) error {
				d.Priority = priority
				return nil
			})
			return err
		},
	}
}

// PlaceEventDiagnosis ranks ed among the diagnoses of its event.
func (p *pipeline) PlaceEventDiagnosis(ed domain.EventDiagnosis) error {
	if _, ok := p.tx.FindEvent(ed.EventID); !ok {
		return domain.ReferenceError{Entity: domain.EntityEventDiagnosis, ID: ed.ID, Parent: domain.EntityEvent, ParentID: ed.EventID}
	}
	return p.eventDiagnosisGroup().place(ed, p.tx.ListEventDiagnoses(ed.EventID))
}

// RenumberEventDiagnoses densely renumbers the diagnoses of eventID.
func (p *pipeline) RenumberEventDiagnoses(eventID int64) error {
	return p.eventDiagnosisGroup().renumber(p.tx.ListEventDiagnoses(eventID))
}

// organizationSiblings returns rows of the same event and organization.
func (p *pipeline) organizationSiblings(eventID, organizationID int64) []domain.EventOrganization {
	var out []domain.EventOrganization
	for _, eo := range p.tx.ListEventOrganizations(eventID) {
		if eo.OrganizationID == organizationID {
			out = append(out, eo)
		}
	}
	return out
}

// PlaceEventOrganization ranks eo among rows for the same organization.
func (p *pipeline) PlaceEventOrganization(eo domain.EventOrganization) error {
	if _, ok := p.tx.FindEvent(eo.EventID); !ok {
		return domain.ReferenceError{Entity: domain.EntityEventOrganization, ID: eo.ID, Parent: domain.EntityEvent, ParentID: eo.EventID}
	}
	return p.eventOrganizationGroup().place(eo, p.organizationSiblings(eo.EventID, eo.OrganizationID))
}

// RenumberEventOrganizations renumbers the group of organizationID.
func (p *pipeline) RenumberEventOrganizations(eventID, organizationID int64) error {
	return p.eventOrganizationGroup().renumber(p.organizationSiblings(eventID, organizationID))
}

// PlaceEventLocation ranks loc among the locations of its event.
func (p *pipeline) PlaceEventLocation(loc domain.EventLocation) error {
	counter, err := p.counter(loc.EventID)
	if err != nil {
		return domain.ReferenceError{Entity: domain.EntityEventLocation, ID: loc.ID, Parent: domain.EntityEvent, ParentID: loc.EventID}
	}
	return p.locationGroup(counter).place(loc, p.tx.ListEventLocations(loc.EventID))
}

// RenumberEventLocations densely renumbers the locations of eventID.
func (p *pipeline) RenumberEventLocations(eventID int64) error {
	counter, err := p.counter(eventID)
	if err != nil {
		return err
	}
	return p.locationGroup(counter).renumber(p.tx.ListEventLocations(eventID))
}

// PlaceLocationSpecies ranks ls within its location, then re-ranks the
// event's locations since their affected counts may have moved.
func (p *pipeline) PlaceLocationSpecies(ls domain.LocationSpecies) error {
	loc, ok := p.tx.FindEventLocation(ls.EventLocationID)
	if !ok {
		return domain.ReferenceError{Entity: domain.EntityLocationSpecies, ID: ls.ID, Parent: domain.EntityEventLocation, ParentID: ls.EventLocationID}
	}
	counter, err := p.counter(loc.EventID)
	if err != nil {
		return err
	}
	if err := p.speciesGroup(counter).place(ls, p.tx.ListLocationSpecies(loc.ID)); err != nil {
		return err
	}
	return p.RenumberEventLocations(loc.EventID)
}

// RenumberLocationSpecies densely renumbers the species of a location and the
// locations of its event.
func (p *pipeline) RenumberLocationSpecies(locationID int64) error {
	loc, ok := p.tx.FindEventLocation(locationID)
	if !ok {
		return domain.ReferenceError{Entity: domain.EntityLocationSpecies, Parent: domain.EntityEventLocation, ParentID: locationID}
	}
	counter, err := p.counter(loc.EventID)
	if err != nil {
		return err
	}
	if err := p.speciesGroup(counter).renumber(p.tx.ListLocationSpecies(locationID)); err != nil {
		return err
	}
	return p.RenumberEventLocations(loc.EventID)
}

// PlaceSpeciesDiagnosis ranks sd within its species, then re-ranks the owning
// species and location groups.
func (p *pipeline) PlaceSpeciesDiagnosis(sd domain.SpeciesDiagnosis) error {
	ls, ok := p.tx.FindLocationSpecies(sd.LocationSpeciesID)
	if !ok {
		return domain.ReferenceError{Entity: domain.EntitySpeciesDiagnosis, ID: sd.ID, Parent: domain.EntityLocationSpecies, ParentID: sd.LocationSpeciesID}
	}
	if err := p.speciesDiagnosisGroup().place(sd, p.tx.ListSpeciesDiagnoses(ls.ID)); err != nil {
		return err
	}
	return p.RenumberLocationSpecies(ls.EventLocationID)
}

// RenumberSpeciesDiagnoses densely renumbers the diagnoses of one species and
// the groups above it.
func (p *pipeline) RenumberSpeciesDiagnoses(locationSpeciesID int64) error {
	ls, ok := p.tx.FindLocationSpecies(locationSpeciesID)
	if !ok {
		return domain.ReferenceError{Entity: domain.EntitySpeciesDiagnosis, Parent: domain.EntityLocationSpecies, ParentID: locationSpeciesID}
	}
	if err := p.speciesDiagnosisGroup().renumber(p.tx.ListSpeciesDiagnoses(locationSpeciesID)); err != nil {
		return err
	}
	return p.RenumberLocationSpecies(ls.EventLocationID)
}

// RenumberEvent rewrites every priority group under eventID.
func (p *pipeline) RenumberEvent(eventID int64) error {
	for _, loc := range p.tx.ListEventLocations(eventID) {
		for _, ls := range p.tx.ListLocationSpecies(loc.ID) {
			if err := p.speciesDiagnosisGroup().renumber(p.tx.ListSpeciesDiagnoses(ls.ID)); err != nil {
				return err
			}
		}
		counter, err := p.counter(eventID)
		if err != nil {
			return err
		}
		if err := p.speciesGroup(counter).renumber(p.tx.ListLocationSpecies(loc.ID)); err != nil {
			return err
		}
	}
	if err := p.RenumberEventLocations(eventID); err != nil {
		return err
	}
	if err := p.RenumberEventDiagnoses(eventID); err != nil {
		return err
	}
	orgs := map[int64]struct{}{}
	for _, eo := range p.tx.ListEventOrganizations(eventID) {
		orgs[eo.OrganizationID] = struct{}{}
	}
	for orgID := range orgs {
		if err := p.RenumberEventOrganizations(eventID, orgID); err != nil {
			return err
		}
	}
	return nil
}
