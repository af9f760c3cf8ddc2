package core

import (
	"whispers/pkg/domain"
)

func (p *pipeline) findEventDiagnosis(eventID, diagnosisID int64) (domain.EventDiagnosis, bool) {
	for _, ed := range p.tx.ListEventDiagnoses(eventID) {
		if ed.DiagnosisID == diagnosisID {
			return ed, true
		}
	}
	return domain.EventDiagnosis{}, false
}

// speciesDiagnosisState reports whether any species diagnosis under eventID
// uses diagnosisID, and whether any of those is confirmed.
func (p *pipeline) speciesDiagnosisState(eventID, diagnosisID int64) (exists, confirmed bool) {
	for _, sd := range domain.EventSpeciesDiagnoses(p.tx, eventID) {
		if sd.DiagnosisID != diagnosisID {
			continue
		}
		exists = true
		if !sd.Suspect {
			return true, true
		}
	}
	return exists, false
}

func (p *pipeline) setSuspect(ed domain.EventDiagnosis, suspect bool) error {
	if ed.Suspect == suspect {
		return nil
	}
	if _, err := p.tx.UpdateEventDiagnosis(ed.ID, func(d *domain.EventDiagnosis) error {
		d.Suspect = suspect
		return nil
	}); err != nil {
		return err
	}
	if ed.Suspect && !suspect && !p.cfg.IsSentinel(ed.DiagnosisID) {
		ed.Suspect = false
		p.fx.confirm(ed)
	}
	return nil
}

// syncSuspect applies the suspect rule to the event diagnosis for
// diagnosisID: confirmed iff some species diagnosis with the same diagnosis is
// confirmed. Sentinels are never suspect. A missing event diagnosis is left
// alone.
func (p *pipeline) syncSuspect(eventID, diagnosisID int64) error {
	ed, ok := p.findEventDiagnosis(eventID, diagnosisID)
	if !ok {
		return nil
	}
	if p.cfg.IsSentinel(diagnosisID) {
		return p.setSuspect(ed, false)
	}
	_, confirmed := p.speciesDiagnosisState(eventID, diagnosisID)
	return p.setSuspect(ed, !confirmed)
}

// OnEventDiagnosisSaved recomputes the suspect flag of ed and retires the
// sentinels it supersedes.
func (p *pipeline) OnEventDiagnosisSaved(ed domain.EventDiagnosis) error {
	event, ok := p.tx.FindEvent(ed.EventID)
	if !ok {
		return domain.ReferenceError{Entity: domain.EntityEventDiagnosis, ID: ed.ID, Parent: domain.EntityEvent, ParentID: ed.EventID}
	}
	if err := p.syncSuspect(ed.EventID, ed.DiagnosisID); err != nil {
		return err
	}
	removed := false
	for _, sib := range p.tx.ListEventDiagnoses(ed.EventID) {
		if sib.ID == ed.ID || sib.DiagnosisID == ed.DiagnosisID {
			continue
		}
		supersede := (sib.DiagnosisID == p.cfg.PendingID && ed.DiagnosisID != p.cfg.PendingID) ||
			(event.Complete && sib.DiagnosisID == p.cfg.UndeterminedID && ed.DiagnosisID != p.cfg.UndeterminedID)
		if !supersede {
			continue
		}
		if err := p.tx.DeleteEventDiagnosis(sib.ID); err != nil {
			return err
		}
		removed = true
	}
	if removed {
		return p.RenumberEventDiagnoses(ed.EventID)
	}
	return nil
}

// OnEventDiagnosisDeleted restores at least one event diagnosis after ed was
// removed, or renumbers the survivors. A deleted event is skipped.
func (p *pipeline) OnEventDiagnosisDeleted(ed domain.EventDiagnosis) error {
	event, ok := p.tx.FindEvent(ed.EventID)
	if !ok {
		return nil
	}
	if len(p.tx.ListEventDiagnoses(ed.EventID)) > 0 {
		return p.RenumberEventDiagnoses(ed.EventID)
	}
	return p.createPlaceholder(event)
}

func (p *pipeline) createPlaceholder(event domain.Event) error {
	diagnosisID := p.cfg.PendingID
	if event.Complete {
		diagnosisID = p.cfg.UndeterminedID
	}
	_, err := p.tx.CreateEventDiagnosis(domain.EventDiagnosis{
		EventID:     event.ID,
		DiagnosisID: diagnosisID,
		Suspect:     false,
		Priority:    1,
	})
	return err
}

// OnSpeciesDiagnosisSaved propagates the suspect flag of sd to the matching
// event diagnosis. previous is the diagnosis id sd held before an update;
// when it differs, that diagnosis is re-synced or retired as well.
func (p *pipeline) OnSpeciesDiagnosisSaved(sd domain.SpeciesDiagnosis, previous *int64) error {
	eventID, err := p.eventOfSpecies(sd.LocationSpeciesID)
	if err != nil {
		return err
	}
	// TODO: decide whether a missing event diagnosis should be created here;
	// syncSuspect leaves that case alone until product settles it.
	if err := p.syncSuspect(eventID, sd.DiagnosisID); err != nil {
		return err
	}
	if previous != nil && *previous != sd.DiagnosisID {
		return p.retireIfOrphaned(eventID, *previous)
	}
	return nil
}

// OnSpeciesDiagnosisDeleted retires the matching event diagnosis when sd was
// the last species diagnosis of its kind under eventID.
func (p *pipeline) OnSpeciesDiagnosisDeleted(sd domain.SpeciesDiagnosis, eventID int64) error {
	return p.retireIfOrphaned(eventID, sd.DiagnosisID)
}

func (p *pipeline) retireIfOrphaned(eventID, diagnosisID int64) error {
	if exists, _ := p.speciesDiagnosisState(eventID, diagnosisID); exists {
		return p.syncSuspect(eventID, diagnosisID)
	}
	ed, ok := p.findEventDiagnosis(eventID, diagnosisID)
	if !ok {
		return nil
	}
	if err := p.tx.DeleteEventDiagnosis(ed.ID); err != nil {
		return err
	}
	return p.OnEventDiagnosisDeleted(ed)
}

// OnEventSaved clears quality_check on incomplete events and swaps the
// sentinel diagnoses when the event is new or its completion flips.
func (p *pipeline) OnEventSaved(event domain.Event, previous *domain.Event) error {
	if !event.Complete && event.QualityCheck != nil {
		updated, err := p.tx.UpdateEvent(event.ID, func(e *domain.Event) error {
			e.QualityCheck = nil
			return nil
		})
		if err != nil {
			return err
		}
		event = updated
	}
	if previous != nil && previous.Complete == event.Complete {
		return nil
	}
	if previous != nil && !previous.Complete && event.Complete {
		completed := event
		p.fx.completed = &completed
	}
	return p.reconcileSentinels(event)
}

// reconcileSentinels enforces the sentinel rules for the current completion
// state of event: the wrong sentinel is dropped, the right one is dropped when
// a real diagnosis exists and created when nothing remains.
func (p *pipeline) reconcileSentinels(event domain.Event) error {
	wrong, right := p.cfg.UndeterminedID, p.cfg.PendingID
	if event.Complete {
		wrong, right = p.cfg.PendingID, p.cfg.UndeterminedID
	}
	diagnoses := p.tx.ListEventDiagnoses(event.ID)
	hasReal := false
	for _, ed := range diagnoses {
		if !p.cfg.IsSentinel(ed.DiagnosisID) {
			hasReal = true
			break
		}
	}
	removed := false
	for _, ed := range diagnoses {
		if ed.DiagnosisID == wrong || (hasReal && ed.DiagnosisID == right) {
			if err := p.tx.DeleteEventDiagnosis(ed.ID); err != nil {
				return err
			}
			removed = true
		}
	}
	if len(p.tx.ListEventDiagnoses(event.ID)) == 0 {
		return p.createPlaceholder(event)
	}
	if removed {
		return p.RenumberEventDiagnoses(event.ID)
	}
	return nil
}
