package core

import (
	"context"
	"fmt"

	"whispers/pkg/domain"
)

// resolveEvent finds the event owning a child record in the committed state
// so the lock can be taken before the transaction starts.
func (s *Service) resolveEvent(ctx context.Context, find func(v domain.TransactionView) (int64, error)) (int64, error) {
	var eventID int64
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		var err error
		eventID, err = find(v)
		return err
	})
	return eventID, err
}

func locationEvent(id int64) func(domain.TransactionView) (int64, error) {
	return func(v domain.TransactionView) (int64, error) {
		loc, ok := v.FindEventLocation(id)
		if !ok {
			return 0, domain.NotFoundError{Entity: domain.EntityEventLocation, ID: id}
		}
		return loc.EventID, nil
	}
}

func speciesEvent(id int64) func(domain.TransactionView) (int64, error) {
	return func(v domain.TransactionView) (int64, error) {
		ls, ok := v.FindLocationSpecies(id)
		if !ok {
			return 0, domain.NotFoundError{Entity: domain.EntityLocationSpecies, ID: id}
		}
		return locationEvent(ls.EventLocationID)(v)
	}
}

func speciesDiagnosisEvent(id int64) func(domain.TransactionView) (int64, error) {
	return func(v domain.TransactionView) (int64, error) {
		sd, ok := v.FindSpeciesDiagnosis(id)
		if !ok {
			return 0, domain.NotFoundError{Entity: domain.EntitySpeciesDiagnosis, ID: id}
		}
		return speciesEvent(sd.LocationSpeciesID)(v)
	}
}

// mutateChild resolves the owning event of a child, then runs fn under that
// event's lock against an open (incomplete) event.
func (s *Service) mutateChild(ctx context.Context, op string, req Requester, find func(domain.TransactionView) (int64, error), fn func(p *pipeline, event domain.Event) (int64, error)) (domain.Result, error) {
	eventID, err := s.resolveEvent(ctx, find)
	if err != nil {
		return domain.Result{}, s.observe(ctx, op, req, func(context.Context) (int64, error) { return 0, err })
	}
	return s.mutate(ctx, op, req, eventID, func(p *pipeline) (int64, error) {
		event, err := openEvent(p.tx, eventID)
		if err != nil {
			return eventID, err
		}
		return fn(p, event)
	})
}

func eventExists(id int64) func(domain.TransactionView) (int64, error) {
	return func(v domain.TransactionView) (int64, error) {
		if _, ok := v.FindEvent(id); !ok {
			return 0, domain.NotFoundError{Entity: domain.EntityEvent, ID: id}
		}
		return id, nil
	}
}

func parentChanged(field string) error {
	return domain.NewValidationError(fmt.Sprintf("%s cannot be changed; delete and recreate the record instead", field))
}

// createLocationTree persists a location with its species and diagnoses,
// running the pipeline after each record.
func (s *Service) createLocationTree(p *pipeline, eventID int64, lp LocationPayload) (domain.EventLocation, error) {
	loc, err := p.tx.CreateEventLocation(lp.record(eventID))
	if err != nil {
		return domain.EventLocation{}, err
	}
	if err := p.afterLocation(eventID, &loc); err != nil {
		return loc, err
	}
	for _, sp := range lp.Species {
		if _, err := s.createSpeciesTree(p, loc.ID, sp); err != nil {
			return loc, err
		}
	}
	loc, _ = p.tx.FindEventLocation(loc.ID)
	return loc, nil
}

func (s *Service) createSpeciesTree(p *pipeline, locationID int64, sp SpeciesPayload) (domain.LocationSpecies, error) {
	ls, err := p.tx.CreateLocationSpecies(sp.record(locationID))
	if err != nil {
		return domain.LocationSpecies{}, err
	}
	if err := p.afterSpecies(locationID, &ls); err != nil {
		return ls, err
	}
	for _, dp := range sp.Diagnoses {
		sd, err := p.tx.CreateSpeciesDiagnosis(dp.record(ls.ID))
		if err != nil {
			return ls, err
		}
		if err := p.afterSpeciesDiagnosisSaved(sd, nil); err != nil {
			return ls, err
		}
	}
	ls, _ = p.tx.FindLocationSpecies(ls.ID)
	return ls, nil
}

func (s *Service) createEventDiagnosis(p *pipeline, eventID int64, edp EventDiagnosisPayload) (domain.EventDiagnosis, error) {
	if existing, ok := p.findEventDiagnosis(eventID, edp.DiagnosisID); ok {
		return existing, nil
	}
	ed, err := p.tx.CreateEventDiagnosis(domain.EventDiagnosis{
		EventID:     eventID,
		DiagnosisID: edp.DiagnosisID,
		Suspect:     edp.Suspect,
	})
	if err != nil {
		return domain.EventDiagnosis{}, err
	}
	if err := p.afterEventDiagnosisSaved(ed); err != nil {
		return ed, err
	}
	ed, _ = p.tx.FindEventDiagnosis(ed.ID)
	return ed, nil
}

func (s *Service) createEventOrganization(p *pipeline, eventID, organizationID int64) (domain.EventOrganization, error) {
	eo, err := p.tx.CreateEventOrganization(domain.EventOrganization{EventID: eventID, OrganizationID: organizationID})
	if err != nil {
		return domain.EventOrganization{}, err
	}
	if err := p.PlaceEventOrganization(eo); err != nil {
		return eo, err
	}
	eo, _ = p.tx.FindEventOrganization(eo.ID)
	return eo, nil
}

// deleteSpeciesRow removes a species row and its diagnoses, running the
// diagnosis hooks for each removed diagnosis.
func (s *Service) deleteSpeciesRow(p *pipeline, eventID int64, ls domain.LocationSpecies) error {
	diagnoses := p.tx.ListSpeciesDiagnoses(ls.ID)
	for _, sd := range diagnoses {
		if err := p.tx.DeleteSpeciesDiagnosis(sd.ID); err != nil {
			return err
		}
	}
	if err := p.tx.DeleteLocationSpecies(ls.ID); err != nil {
		return err
	}
	for _, sd := range diagnoses {
		if err := p.OnSpeciesDiagnosisDeleted(sd, eventID); err != nil {
			return err
		}
	}
	return nil
}

// CreateEventLocation adds a location, with nested species, to an open event.
func (s *Service) CreateEventLocation(ctx context.Context, req Requester, eventID int64, lp LocationPayload) (domain.EventLocation, domain.Result, error) {
	geoProblems := s.enrichLocation(ctx, "location", &lp)
	var loc domain.EventLocation
	res, err := s.mutateChild(ctx, "create_event_location", req, eventExists(eventID), func(p *pipeline, event domain.Event) (int64, error) {
		if err := withProblems(s.validate.ValidateLocationPayload(p.cfg, event.EventType, lp), geoProblems); err != nil {
			return 0, err
		}
		var err error
		loc, err = s.createLocationTree(p, eventID, lp)
		return loc.ID, err
	})
	return loc, res, err
}

// UpdateEventLocation applies mutator to a location. The event and priority
// are maintained by the service.
func (s *Service) UpdateEventLocation(ctx context.Context, req Requester, id int64, mutator func(*domain.EventLocation) error) (domain.EventLocation, domain.Result, error) {
	var loc domain.EventLocation
	res, err := s.mutateChild(ctx, "update_event_location", req, locationEvent(id), func(p *pipeline, event domain.Event) (int64, error) {
		updated, err := p.tx.UpdateEventLocation(id, func(l *domain.EventLocation) error {
			eventID, priority := l.EventID, l.Priority
			if err := mutator(l); err != nil {
				return err
			}
			if l.EventID != eventID {
				return parentChanged("event")
			}
			l.ID, l.Priority = id, priority
			return nil
		})
		if err != nil {
			return id, err
		}
		if err := s.validate.ValidateLocation(p.cfg, event.EventType, updated); err != nil {
			return id, err
		}
		if err := p.afterLocation(event.ID, &updated); err != nil {
			return id, err
		}
		loc, _ = p.tx.FindEventLocation(id)
		return id, nil
	})
	return loc, res, err
}

// DeleteEventLocation removes a location and everything under it. The last
// location of an event cannot be removed.
func (s *Service) DeleteEventLocation(ctx context.Context, req Requester, id int64) (domain.Result, error) {
	return s.mutateChild(ctx, "delete_event_location", req, locationEvent(id), func(p *pipeline, event domain.Event) (int64, error) {
		if len(p.tx.ListEventLocations(event.ID)) <= 1 {
			return id, domain.NewValidationError(fmt.Sprintf("event %d must keep at least one location", event.ID))
		}
		for _, ls := range p.tx.ListLocationSpecies(id) {
			if err := s.deleteSpeciesRow(p, event.ID, ls); err != nil {
				return id, err
			}
		}
		if err := p.tx.DeleteEventLocation(id); err != nil {
			return id, err
		}
		return id, p.afterLocation(event.ID, nil)
	})
}

// CreateLocationSpecies adds a species, with nested diagnoses, to a location.
func (s *Service) CreateLocationSpecies(ctx context.Context, req Requester, locationID int64, sp SpeciesPayload) (domain.LocationSpecies, domain.Result, error) {
	var ls domain.LocationSpecies
	res, err := s.mutateChild(ctx, "create_location_species", req, locationEvent(locationID), func(p *pipeline, _ domain.Event) (int64, error) {
		var existing []domain.SpeciesDiagnosis
		for _, sib := range p.tx.ListLocationSpecies(locationID) {
			if sib.SpeciesID == sp.SpeciesID {
				existing = append(existing, p.tx.ListSpeciesDiagnoses(sib.ID)...)
			}
		}
		if err := s.validate.ValidateSpeciesPayload(p.cfg, sp, existing); err != nil {
			return 0, err
		}
		var err error
		ls, err = s.createSpeciesTree(p, locationID, sp)
		return ls.ID, err
	})
	return ls, res, err
}

// UpdateLocationSpecies applies mutator to a species row.
func (s *Service) UpdateLocationSpecies(ctx context.Context, req Requester, id int64, mutator func(*domain.LocationSpecies) error) (domain.LocationSpecies, domain.Result, error) {
	var ls domain.LocationSpecies
	res, err := s.mutateChild(ctx, "update_location_species", req, speciesEvent(id), func(p *pipeline, _ domain.Event) (int64, error) {
		updated, err := p.tx.UpdateLocationSpecies(id, func(row *domain.LocationSpecies) error {
			locationID, priority := row.EventLocationID, row.Priority
			if err := mutator(row); err != nil {
				return err
			}
			if row.EventLocationID != locationID {
				return parentChanged("event_location")
			}
			row.ID, row.Priority = id, priority
			return nil
		})
		if err != nil {
			return id, err
		}
		if err := s.validate.ValidateSpecies(updated); err != nil {
			return id, err
		}
		if err := p.afterSpecies(updated.EventLocationID, &updated); err != nil {
			return id, err
		}
		ls, _ = p.tx.FindLocationSpecies(id)
		return id, nil
	})
	return ls, res, err
}

// DeleteLocationSpecies removes a species row and its diagnoses.
func (s *Service) DeleteLocationSpecies(ctx context.Context, req Requester, id int64) (domain.Result, error) {
	return s.mutateChild(ctx, "delete_location_species", req, speciesEvent(id), func(p *pipeline, event domain.Event) (int64, error) {
		ls, ok := p.tx.FindLocationSpecies(id)
		if !ok {
			return id, domain.NotFoundError{Entity: domain.EntityLocationSpecies, ID: id}
		}
		remaining := 0
		for _, loc := range p.tx.ListEventLocations(event.ID) {
			remaining += len(p.tx.ListLocationSpecies(loc.ID))
		}
		if remaining <= 1 {
			return id, domain.NewValidationError(fmt.Sprintf("event %d must keep at least one species", event.ID))
		}
		if err := s.deleteSpeciesRow(p, event.ID, ls); err != nil {
			return id, err
		}
		return id, p.afterSpecies(ls.EventLocationID, nil)
	})
}

// CreateSpeciesDiagnosis attributes a diagnosis to a species row.
func (s *Service) CreateSpeciesDiagnosis(ctx context.Context, req Requester, locationSpeciesID int64, dp SpeciesDiagnosisPayload) (domain.SpeciesDiagnosis, domain.Result, error) {
	var sd domain.SpeciesDiagnosis
	res, err := s.mutateChild(ctx, "create_species_diagnosis", req, speciesEvent(locationSpeciesID), func(p *pipeline, _ domain.Event) (int64, error) {
		if err := s.validate.structural(dp).err(); err != nil {
			return 0, err
		}
		ls, _ := p.tx.FindLocationSpecies(locationSpeciesID)
		candidate := dp.record(locationSpeciesID)
		if err := s.validate.ValidateSpeciesDiagnosis(p.cfg, p.tx, ls, candidate); err != nil {
			return 0, err
		}
		created, err := p.tx.CreateSpeciesDiagnosis(candidate)
		if err != nil {
			return 0, err
		}
		if err := p.afterSpeciesDiagnosisSaved(created, nil); err != nil {
			return created.ID, err
		}
		sd, _ = p.tx.FindSpeciesDiagnosis(created.ID)
		return created.ID, nil
	})
	return sd, res, err
}

// UpdateSpeciesDiagnosis applies mutator to a species diagnosis. Changing the
// diagnosis re-syncs or retires the event diagnosis it previously matched.
func (s *Service) UpdateSpeciesDiagnosis(ctx context.Context, req Requester, id int64, mutator func(*domain.SpeciesDiagnosis) error) (domain.SpeciesDiagnosis, domain.Result, error) {
	var sd domain.SpeciesDiagnosis
	res, err := s.mutateChild(ctx, "update_species_diagnosis", req, speciesDiagnosisEvent(id), func(p *pipeline, _ domain.Event) (int64, error) {
		before, ok := p.tx.FindSpeciesDiagnosis(id)
		if !ok {
			return id, domain.NotFoundError{Entity: domain.EntitySpeciesDiagnosis, ID: id}
		}
		updated, err := p.tx.UpdateSpeciesDiagnosis(id, func(row *domain.SpeciesDiagnosis) error {
			if err := mutator(row); err != nil {
				return err
			}
			if row.LocationSpeciesID != before.LocationSpeciesID {
				return parentChanged("location_species")
			}
			row.ID, row.Priority = id, before.Priority
			return nil
		})
		if err != nil {
			return id, err
		}
		ls, _ := p.tx.FindLocationSpecies(updated.LocationSpeciesID)
		if err := s.validate.ValidateSpeciesDiagnosis(p.cfg, p.tx, ls, updated); err != nil {
			return id, err
		}
		previous := before.DiagnosisID
		if err := p.afterSpeciesDiagnosisSaved(updated, &previous); err != nil {
			return id, err
		}
		sd, _ = p.tx.FindSpeciesDiagnosis(id)
		return id, nil
	})
	return sd, res, err
}

// DeleteSpeciesDiagnosis removes a species diagnosis. The matching event
// diagnosis goes with it when no other species carries that diagnosis.
func (s *Service) DeleteSpeciesDiagnosis(ctx context.Context, req Requester, id int64) (domain.Result, error) {
	return s.mutateChild(ctx, "delete_species_diagnosis", req, speciesDiagnosisEvent(id), func(p *pipeline, event domain.Event) (int64, error) {
		sd, ok := p.tx.FindSpeciesDiagnosis(id)
		if !ok {
			return id, domain.NotFoundError{Entity: domain.EntitySpeciesDiagnosis, ID: id}
		}
		if err := p.tx.DeleteSpeciesDiagnosis(id); err != nil {
			return id, err
		}
		return id, p.afterSpeciesDiagnosisDeleted(sd, event.ID)
	})
}

// CreateEventDiagnosis attributes a diagnosis to the event. Its suspect flag
// is derived from the species diagnoses of the event.
func (s *Service) CreateEventDiagnosis(ctx context.Context, req Requester, eventID int64, edp EventDiagnosisPayload) (domain.EventDiagnosis, domain.Result, error) {
	var ed domain.EventDiagnosis
	res, err := s.mutateChild(ctx, "create_event_diagnosis", req, eventExists(eventID), func(p *pipeline, _ domain.Event) (int64, error) {
		out := s.validate.structural(edp)
		out = append(out, s.validate.eventDiagnosisProblems(p.cfg, edp.DiagnosisID)...)
		if _, dup := p.findEventDiagnosis(eventID, edp.DiagnosisID); dup {
			out.addf("diagnosis %s is already attributed to event %d", s.validate.diagnosisName(edp.DiagnosisID), eventID)
		}
		if err := out.err(); err != nil {
			return 0, err
		}
		var err error
		ed, err = s.createEventDiagnosis(p, eventID, edp)
		return ed.ID, err
	})
	return ed, res, err
}

// UpdateEventDiagnosis applies mutator to an event diagnosis. Suspect and
// priority are recomputed afterwards.
func (s *Service) UpdateEventDiagnosis(ctx context.Context, req Requester, id int64, mutator func(*domain.EventDiagnosis) error) (domain.EventDiagnosis, domain.Result, error) {
	find := func(v domain.TransactionView) (int64, error) {
		ed, ok := v.FindEventDiagnosis(id)
		if !ok {
			return 0, domain.NotFoundError{Entity: domain.EntityEventDiagnosis, ID: id}
		}
		return ed.EventID, nil
	}
	var ed domain.EventDiagnosis
	res, err := s.mutateChild(ctx, "update_event_diagnosis", req, find, func(p *pipeline, event domain.Event) (int64, error) {
		before, _ := p.tx.FindEventDiagnosis(id)
		updated, err := p.tx.UpdateEventDiagnosis(id, func(row *domain.EventDiagnosis) error {
			if err := mutator(row); err != nil {
				return err
			}
			if row.EventID != before.EventID {
				return parentChanged("event")
			}
			row.ID, row.Priority = id, before.Priority
			return nil
		})
		if err != nil {
			return id, err
		}
		if updated.DiagnosisID != before.DiagnosisID {
			out := s.validate.eventDiagnosisProblems(p.cfg, updated.DiagnosisID)
			for _, sib := range p.tx.ListEventDiagnoses(event.ID) {
				if sib.ID != id && sib.DiagnosisID == updated.DiagnosisID {
					out.addf("diagnosis %s is already attributed to event %d", s.validate.diagnosisName(updated.DiagnosisID), event.ID)
				}
			}
			if err := out.err(); err != nil {
				return id, err
			}
		}
		if err := p.afterEventDiagnosisSaved(updated); err != nil {
			return id, err
		}
		ed, _ = p.tx.FindEventDiagnosis(id)
		return id, nil
	})
	return ed, res, err
}

// DeleteEventDiagnosis removes an event diagnosis. A placeholder replaces the
// last one.
func (s *Service) DeleteEventDiagnosis(ctx context.Context, req Requester, id int64) (domain.Result, error) {
	find := func(v domain.TransactionView) (int64, error) {
		ed, ok := v.FindEventDiagnosis(id)
		if !ok {
			return 0, domain.NotFoundError{Entity: domain.EntityEventDiagnosis, ID: id}
		}
		return ed.EventID, nil
	}
	return s.mutateChild(ctx, "delete_event_diagnosis", req, find, func(p *pipeline, _ domain.Event) (int64, error) {
		ed, _ := p.tx.FindEventDiagnosis(id)
		if err := p.tx.DeleteEventDiagnosis(id); err != nil {
			return id, err
		}
		return id, p.OnEventDiagnosisDeleted(ed)
	})
}

// CreateEventOrganization attaches an organization to an event.
func (s *Service) CreateEventOrganization(ctx context.Context, req Requester, eventID, organizationID int64) (domain.EventOrganization, domain.Result, error) {
	var eo domain.EventOrganization
	res, err := s.mutateChild(ctx, "create_event_organization", req, eventExists(eventID), func(p *pipeline, _ domain.Event) (int64, error) {
		if _, ok := s.ref.Organization(organizationID); !ok {
			return 0, domain.NewValidationError(fmt.Sprintf("organization %d does not exist", organizationID))
		}
		var err error
		eo, err = s.createEventOrganization(p, eventID, organizationID)
		return eo.ID, err
	})
	return eo, res, err
}

// DeleteEventOrganization detaches an organization row from its event.
func (s *Service) DeleteEventOrganization(ctx context.Context, req Requester, id int64) (domain.Result, error) {
	find := func(v domain.TransactionView) (int64, error) {
		eo, ok := v.FindEventOrganization(id)
		if !ok {
			return 0, domain.NotFoundError{Entity: domain.EntityEventOrganization, ID: id}
		}
		return eo.EventID, nil
	}
	return s.mutateChild(ctx, "delete_event_organization", req, find, func(p *pipeline, event domain.Event) (int64, error) {
		eo, _ := p.tx.FindEventOrganization(id)
		if err := p.tx.DeleteEventOrganization(id); err != nil {
			return id, err
		}
		return id, p.RenumberEventOrganizations(event.ID, eo.OrganizationID)
	})
}
