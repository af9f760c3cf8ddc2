package core

import (
	"whispers/pkg/domain"
)

// pipeline runs the consistency steps against one transaction. After each
// child mutation the orchestrator calls priority placement, then the
// diagnosis hooks, then the aggregate recompute.
type pipeline struct {
	tx  domain.Transaction
	cfg Configuration
	ref ReferenceData
	fx  *sideEffects
}

func newPipeline(tx domain.Transaction, cfg Configuration, ref ReferenceData) *pipeline {
	return &pipeline{tx: tx, cfg: cfg, ref: ref, fx: &sideEffects{}}
}

func (p *pipeline) eventOfLocation(locationID int64) (int64, error) {
	loc, ok := p.tx.FindEventLocation(locationID)
	if !ok {
		return 0, domain.NotFoundError{Entity: domain.EntityEventLocation, ID: locationID}
	}
	return loc.EventID, nil
}

func (p *pipeline) eventOfSpecies(locationSpeciesID int64) (int64, error) {
	ls, ok := p.tx.FindLocationSpecies(locationSpeciesID)
	if !ok {
		return 0, domain.NotFoundError{Entity: domain.EntityLocationSpecies, ID: locationSpeciesID}
	}
	loc, ok := p.tx.FindEventLocation(ls.EventLocationID)
	if !ok {
		return 0, domain.ReferenceError{Entity: domain.EntityLocationSpecies, ID: ls.ID, Parent: domain.EntityEventLocation, ParentID: ls.EventLocationID}
	}
	return loc.EventID, nil
}

// afterLocation runs the pipeline for a created, updated or deleted location.
func (p *pipeline) afterLocation(eventID int64, loc *domain.EventLocation) error {
	if loc != nil {
		if err := p.PlaceEventLocation(*loc); err != nil {
			return err
		}
	} else if err := p.RenumberEventLocations(eventID); err != nil {
		return err
	}
	_, err := RecomputeEventAggregates(p.tx, eventID)
	return err
}

// afterSpecies runs the pipeline for a species row under locationID.
func (p *pipeline) afterSpecies(locationID int64, ls *domain.LocationSpecies) error {
	if ls != nil {
		if err := p.PlaceLocationSpecies(*ls); err != nil {
			return err
		}
	} else if err := p.RenumberLocationSpecies(locationID); err != nil {
		return err
	}
	eventID, err := p.eventOfLocation(locationID)
	if err != nil {
		return err
	}
	_, err = RecomputeEventAggregates(p.tx, eventID)
	return err
}

// afterSpeciesDiagnosisSaved runs the pipeline for a created or updated
// species diagnosis. previous is the diagnosis id before an update.
func (p *pipeline) afterSpeciesDiagnosisSaved(sd domain.SpeciesDiagnosis, previous *int64) error {
	if err := p.PlaceSpeciesDiagnosis(sd); err != nil {
		return err
	}
	if err := p.OnSpeciesDiagnosisSaved(sd, previous); err != nil {
		return err
	}
	eventID, err := p.eventOfSpecies(sd.LocationSpeciesID)
	if err != nil {
		return err
	}
	_, err = RecomputeEventAggregates(p.tx, eventID)
	return err
}

// afterSpeciesDiagnosisDeleted runs the pipeline for a deleted species
// diagnosis.
func (p *pipeline) afterSpeciesDiagnosisDeleted(sd domain.SpeciesDiagnosis, eventID int64) error {
	if err := p.RenumberSpeciesDiagnoses(sd.LocationSpeciesID); err != nil {
		return err
	}
	if err := p.OnSpeciesDiagnosisDeleted(sd, eventID); err != nil {
		return err
	}
	_, err := RecomputeEventAggregates(p.tx, eventID)
	return err
}

// afterEventDiagnosisSaved places ed and runs its diagnosis hook.
func (p *pipeline) afterEventDiagnosisSaved(ed domain.EventDiagnosis) error {
	if err := p.PlaceEventDiagnosis(ed); err != nil {
		return err
	}
	return p.OnEventDiagnosisSaved(ed)
}

// recompute re-derives every maintained field of eventID.
func (p *pipeline) recompute(eventID int64) error {
	event, ok := p.tx.FindEvent(eventID)
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityEvent, ID: eventID}
	}
	if err := p.reconcileSentinels(event); err != nil {
		return err
	}
	for _, ed := range p.tx.ListEventDiagnoses(eventID) {
		if err := p.syncSuspect(eventID, ed.DiagnosisID); err != nil {
			return err
		}
	}
	if err := p.RenumberEvent(eventID); err != nil {
		return err
	}
	_, err := RecomputeEventAggregates(p.tx, eventID)
	return err
}
