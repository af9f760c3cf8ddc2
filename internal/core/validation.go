package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"whispers/pkg/domain"
)

// Validator checks payloads and records against structural tags, reference
// data and the event business rules. Every check runs; messages accumulate in
// a stable order.
type Validator struct {
	ref     ReferenceData
	structs *validator.Validate
	now     func() time.Time
}

// NewValidator constructs a validator over ref. now supplies "today" for the
// future start date check.
func NewValidator(ref ReferenceData, now func() time.Time) *Validator {
	if now == nil {
		now = time.Now
	}
	return &Validator{ref: ref, structs: validator.New(validator.WithRequiredStructEnabled()), now: now}
}

type problems []string

func (p *problems) addf(format string, args ...any) {
	*p = append(*p, fmt.Sprintf(format, args...))
}

func (p problems) err() error {
	if len(p) == 0 {
		return nil
	}
	return domain.NewValidationError(p...)
}

// structural runs the validate tags of payload.
func (v *Validator) structural(payload any) problems {
	var out problems
	err := v.structs.Struct(payload)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		out.addf("%v", err)
		return out
	}
	for _, fe := range fieldErrs {
		field := fe.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		if fe.Param() != "" {
			out.addf("%s failed %s=%s", field, fe.Tag(), fe.Param())
		} else {
			out.addf("%s failed %s", field, fe.Tag())
		}
	}
	return out
}

// treeStats summarises a nested payload for the event-wide checks.
type treeStats struct {
	anyStart    bool
	anySpecies  bool
	anyPositive bool
}

// ValidateEventPayload runs the full create gate over p.
func (v *Validator) ValidateEventPayload(cfg Configuration, p EventPayload) error {
	out := v.structural(p)

	for _, orgID := range p.Organizations {
		if _, ok := v.ref.Organization(orgID); !ok {
			out.addf("organization %d does not exist", orgID)
		}
	}
	seenDiagnoses := make(map[int64]bool, len(p.EventDiagnoses))
	for _, ed := range p.EventDiagnoses {
		out = append(out, v.eventDiagnosisProblems(cfg, ed.DiagnosisID)...)
		if seenDiagnoses[ed.DiagnosisID] {
			out.addf("diagnosis %s is listed more than once", v.diagnosisName(ed.DiagnosisID))
		}
		seenDiagnoses[ed.DiagnosisID] = true
	}

	var stats treeStats
	for i, lp := range p.Locations {
		out = append(out, v.locationTreeProblems(cfg, p.EventType, fmt.Sprintf("location %d", i+1), lp, &stats)...)
	}
	if !stats.anyStart {
		out.addf("at least one location must have a start date")
	}
	if !stats.anySpecies {
		out.addf("at least one location must have at least one species")
	}
	if p.EventType == domain.EventTypeMortalityMorbidity && stats.anySpecies && !stats.anyPositive {
		out.addf("mortality/morbidity events require at least one species with a sick or dead count greater than zero")
	}
	if p.Complete {
		out = append(out, v.payloadCompletionProblems(p)...)
	}
	return out.err()
}

// ValidateLocationPayload checks a location added to an existing event.
func (v *Validator) ValidateLocationPayload(cfg Configuration, eventType domain.EventType, lp LocationPayload) error {
	out := v.structural(lp)
	out = append(out, v.locationTreeProblems(cfg, eventType, "location", lp, &treeStats{})...)
	return out.err()
}

// ValidateSpeciesPayload checks a species added to an existing location.
// existing lists the diagnoses already recorded for the same species there.
func (v *Validator) ValidateSpeciesPayload(cfg Configuration, sp SpeciesPayload, existing []domain.SpeciesDiagnosis) error {
	out := v.structural(sp)
	seen := labKeys(v.ref, existing, sp.SpeciesID)
	out = append(out, v.speciesTreeProblems(cfg, "species", sp, seen, &treeStats{})...)
	return out.err()
}

// ValidateSpeciesDiagnosis checks one species diagnosis record in the context
// of its species row.
func (v *Validator) ValidateSpeciesDiagnosis(cfg Configuration, view domain.RuleView, ls domain.LocationSpecies, sd domain.SpeciesDiagnosis) error {
	out := v.speciesDiagnosisProblems(cfg, "species diagnosis", sd)
	out = append(out, v.duplicateLaboratoryProblems(view, ls, sd)...)
	return out.err()
}

// ValidateLocation checks an updated location record.
func (v *Validator) ValidateLocation(cfg Configuration, eventType domain.EventType, loc domain.EventLocation) error {
	return v.locationProblems(cfg, eventType, fmt.Sprintf("location %d", loc.ID), loc).err()
}

// ValidateSpecies checks an updated species record.
func (v *Validator) ValidateSpecies(ls domain.LocationSpecies) error {
	return v.speciesProblems(fmt.Sprintf("species %d", ls.ID), ls).err()
}

// labKey identifies a (species, diagnosis, laboratory) combination.
type labKey [3]int64

func labKeys(ref ReferenceData, diagnoses []domain.SpeciesDiagnosis, speciesID int64) map[labKey]struct{} {
	seen := make(map[labKey]struct{})
	for _, sd := range diagnoses {
		for _, orgID := range sd.OrganizationIDs {
			if org, ok := ref.Organization(orgID); ok && org.Laboratory {
				seen[labKey{speciesID, sd.DiagnosisID, orgID}] = struct{}{}
			}
		}
	}
	return seen
}

func (v *Validator) locationTreeProblems(cfg Configuration, eventType domain.EventType, label string, lp LocationPayload, stats *treeStats) problems {
	loc := lp.record(0)
	if loc.StartDate != nil {
		stats.anyStart = true
	}
	out := v.locationProblems(cfg, eventType, label, loc)
	seen := make(map[labKey]struct{})
	for j, sp := range lp.Species {
		out = append(out, v.speciesTreeProblems(cfg, fmt.Sprintf("%s species %d", label, j+1), sp, seen, stats)...)
	}
	return out
}

func (v *Validator) speciesTreeProblems(cfg Configuration, label string, sp SpeciesPayload, seen map[labKey]struct{}, stats *treeStats) problems {
	stats.anySpecies = true
	ls := sp.record(0)
	if ls.HasPositiveCount() {
		stats.anyPositive = true
	}
	out := v.speciesProblems(label, ls)
	for k, dp := range sp.Diagnoses {
		out = append(out, v.speciesDiagnosisProblems(cfg, fmt.Sprintf("%s diagnosis %d", label, k+1), dp.record(0))...)
		for _, orgID := range dp.OrganizationIDs {
			org, ok := v.ref.Organization(orgID)
			if !ok || !org.Laboratory {
				continue
			}
			key := labKey{sp.SpeciesID, dp.DiagnosisID, orgID}
			if _, dup := seen[key]; dup {
				out.addf("%s repeats diagnosis %d with laboratory %d", label, dp.DiagnosisID, orgID)
			}
			seen[key] = struct{}{}
		}
	}
	return out
}

func (v *Validator) payloadCompletionProblems(p EventPayload) problems {
	var out problems
	for i, lp := range p.Locations {
		label := fmt.Sprintf("location %d", i+1)
		out = append(out, completionLocationProblems(label, lp.record(0))...)
		for j, sp := range lp.Species {
			slabel := fmt.Sprintf("%s species %d", label, j+1)
			if p.EventType == domain.EventTypeMortalityMorbidity && !sp.record(0).HasPositiveCount() {
				out.addf("%s: a complete event requires a nonzero sick or dead count", slabel)
			}
			for k, dp := range sp.Diagnoses {
				out = append(out, completionDiagnosisProblems(fmt.Sprintf("%s diagnosis %d", slabel, k+1), dp.record(0))...)
			}
		}
	}
	return out
}

// CompletionProblems checks the persisted graph of an event that is about to
// be marked complete.
func (v *Validator) CompletionProblems(view domain.RuleView, event domain.Event) error {
	var out problems
	for _, loc := range view.ListEventLocations(event.ID) {
		label := fmt.Sprintf("location %d", loc.ID)
		out = append(out, completionLocationProblems(label, loc)...)
		for _, ls := range view.ListLocationSpecies(loc.ID) {
			slabel := fmt.Sprintf("species %d", ls.ID)
			if event.EventType == domain.EventTypeMortalityMorbidity && !ls.HasPositiveCount() {
				out.addf("%s: a complete event requires a nonzero sick or dead count", slabel)
			}
			for _, sd := range view.ListSpeciesDiagnoses(ls.ID) {
				out = append(out, completionDiagnosisProblems(fmt.Sprintf("species diagnosis %d", sd.ID), sd)...)
			}
		}
	}
	return out.err()
}

func completionLocationProblems(label string, loc domain.EventLocation) problems {
	var out problems
	if loc.EndDate == nil {
		out.addf("%s: a complete event requires an end date", label)
	} else if loc.StartDate != nil && loc.EndDate.BeforeDate(*loc.StartDate) {
		out.addf("%s: end date must be on or after start date", label)
	}
	return out
}

func completionDiagnosisProblems(label string, sd domain.SpeciesDiagnosis) problems {
	var out problems
	if sd.BasisID == nil {
		out.addf("%s: a complete event requires a diagnosis basis", label)
	}
	if sd.CauseID == nil {
		out.addf("%s: a complete event requires a diagnosis cause", label)
	}
	return out
}

// locationProblems checks one location record.
func (v *Validator) locationProblems(cfg Configuration, eventType domain.EventType, label string, loc domain.EventLocation) problems {
	var out problems

	present := make(map[int64]bool, len(loc.Comments))
	for _, c := range loc.Comments {
		if _, ok := v.ref.CommentType(c.CommentType); !ok {
			out.addf("%s: comment type %d does not exist", label, c.CommentType)
		}
		present[c.CommentType] = true
	}
	hasRequired := false
	for _, id := range cfg.RequiredCommentTypeIDs {
		if present[id] {
			hasRequired = true
			break
		}
	}
	if !hasRequired {
		out.addf("%s: requires a comment of type %s", label, strings.Join(cfg.RequiredCommentTypes, ", "))
	}

	if loc.CountryID != nil {
		if _, ok := v.ref.Country(*loc.CountryID); !ok {
			out.addf("%s: country %d does not exist", label, *loc.CountryID)
		}
	}
	if loc.AdministrativeLevelOneID != nil {
		a1, ok := v.ref.AdminLevelOne(*loc.AdministrativeLevelOneID)
		switch {
		case !ok:
			out.addf("%s: administrative level one %d does not exist", label, *loc.AdministrativeLevelOneID)
		case loc.CountryID != nil && a1.CountryID != *loc.CountryID:
			out.addf("%s: administrative level one %s is not in the submitted country", label, a1.Name)
		}
	}
	if loc.AdministrativeLevelTwoID != nil {
		a2, ok := v.ref.AdminLevelTwo(*loc.AdministrativeLevelTwoID)
		switch {
		case !ok:
			out.addf("%s: administrative level two %d does not exist", label, *loc.AdministrativeLevelTwoID)
		case loc.AdministrativeLevelOneID != nil && a2.AdministrativeLevelOneID != *loc.AdministrativeLevelOneID:
			out.addf("%s: administrative level two %s is not in the submitted administrative level one", label, a2.Name)
		}
	}
	if loc.Latitude == nil || loc.Longitude == nil {
		if loc.CountryID == nil || loc.AdministrativeLevelOneID == nil {
			out.addf("%s: latitude and longitude, or country and administrative level one, are required", label)
		}
	}

	if loc.StartDate != nil && eventType == domain.EventTypeMortalityMorbidity {
		if loc.StartDate.AfterDate(domain.DateOf(v.now())) {
			out.addf("%s: start date cannot be in the future", label)
		}
	}
	if loc.StartDate != nil && loc.EndDate != nil && loc.EndDate.BeforeDate(*loc.StartDate) {
		out.addf("%s: end date must be on or after start date", label)
	}
	return out
}

type namedCount struct {
	name  string
	value *int
}

// countProblems reports every count below zero, in argument order.
func countProblems(label string, counts ...namedCount) problems {
	var out problems
	for _, c := range counts {
		if c.value != nil && *c.value < 0 {
			out.addf("%s: %s cannot be negative", label, c.name)
		}
	}
	return out
}

// speciesProblems checks the counts of one species row.
func (v *Validator) speciesProblems(label string, ls domain.LocationSpecies) problems {
	out := countProblems(label,
		namedCount{"population count", ls.PopulationCount},
		namedCount{"sick count", ls.SickCount},
		namedCount{"dead count", ls.DeadCount},
		namedCount{"estimated sick count", ls.SickCountEstimated},
		namedCount{"estimated dead count", ls.DeadCountEstimated},
	)
	if _, ok := v.ref.Species(ls.SpeciesID); !ok {
		out.addf("%s: species %d does not exist", label, ls.SpeciesID)
	}
	if ls.PopulationCount != nil {
		if affected := ls.MortalityAffected(); *ls.PopulationCount < affected {
			out.addf("%s: population count %d is less than the sick and dead total %d", label, *ls.PopulationCount, affected)
		}
	}
	if ls.SickCount != nil && ls.SickCountEstimated != nil && *ls.SickCountEstimated <= *ls.SickCount {
		out.addf("%s: estimated sick count must be greater than known sick count", label)
	}
	if ls.DeadCount != nil && ls.DeadCountEstimated != nil && *ls.DeadCountEstimated <= *ls.DeadCount {
		out.addf("%s: estimated dead count must be greater than known dead count", label)
	}
	return out
}

// speciesDiagnosisProblems checks references and the laboratory confirmation
// rule of one species diagnosis.
func (v *Validator) speciesDiagnosisProblems(cfg Configuration, label string, sd domain.SpeciesDiagnosis) problems {
	out := countProblems(label,
		namedCount{"tested count", sd.TestedCount},
		namedCount{"positive count", sd.PositiveCount},
	)
	if _, ok := v.ref.Diagnosis(sd.DiagnosisID); !ok {
		out.addf("%s: diagnosis %d does not exist", label, sd.DiagnosisID)
	} else if cfg.IsSentinel(sd.DiagnosisID) {
		out.addf("%s: diagnosis %s cannot be attributed to a species", label, v.diagnosisName(sd.DiagnosisID))
	}
	if sd.CauseID != nil {
		if _, ok := v.ref.Cause(*sd.CauseID); !ok {
			out.addf("%s: cause %d does not exist", label, *sd.CauseID)
		}
	}
	var basis domain.DiagnosisBasis
	hasBasis := false
	if sd.BasisID != nil {
		basis, hasBasis = v.ref.Basis(*sd.BasisID)
		if !hasBasis {
			out.addf("%s: basis %d does not exist", label, *sd.BasisID)
		}
	}
	hasLab := false
	for _, orgID := range sd.OrganizationIDs {
		org, ok := v.ref.Organization(orgID)
		if !ok {
			out.addf("%s: organization %d does not exist", label, orgID)
			continue
		}
		hasLab = hasLab || org.Laboratory
	}
	if !sd.Suspect {
		if !hasBasis || !basis.LabConfirmed {
			out.addf("%s: a confirmed diagnosis requires a laboratory-confirmed basis", label)
		}
		if !hasLab {
			out.addf("%s: a confirmed diagnosis requires a laboratory organization", label)
		}
	}
	if sd.TestedCount != nil && sd.PositiveCount != nil && *sd.PositiveCount > *sd.TestedCount {
		out.addf("%s: positive count cannot exceed tested count", label)
	}
	return out
}

// eventDiagnosisProblems rejects unknown diagnoses and the sentinels, which
// are assigned automatically.
func (v *Validator) eventDiagnosisProblems(cfg Configuration, diagnosisID int64) problems {
	var out problems
	if _, ok := v.ref.Diagnosis(diagnosisID); !ok {
		out.addf("diagnosis %d does not exist", diagnosisID)
	} else if cfg.IsSentinel(diagnosisID) {
		out.addf("diagnosis %s is assigned automatically", v.diagnosisName(diagnosisID))
	}
	return out
}

// duplicateLaboratoryProblems reports whether sd repeats an existing
// (species, diagnosis, laboratory) combination within its location.
func (v *Validator) duplicateLaboratoryProblems(view domain.RuleView, ls domain.LocationSpecies, sd domain.SpeciesDiagnosis) problems {
	var out problems
	labs := make(map[int64]bool)
	for _, orgID := range sd.OrganizationIDs {
		if org, ok := v.ref.Organization(orgID); ok && org.Laboratory {
			labs[orgID] = true
		}
	}
	if len(labs) == 0 {
		return nil
	}
	for _, sib := range view.ListLocationSpecies(ls.EventLocationID) {
		if sib.SpeciesID != ls.SpeciesID {
			continue
		}
		for _, other := range view.ListSpeciesDiagnoses(sib.ID) {
			if other.ID == sd.ID || other.DiagnosisID != sd.DiagnosisID {
				continue
			}
			for _, orgID := range other.OrganizationIDs {
				if labs[orgID] {
					out.addf("location %d repeats diagnosis %d for species %d with laboratory %d", ls.EventLocationID, sd.DiagnosisID, ls.SpeciesID, orgID)
				}
			}
		}
	}
	return out
}

func (v *Validator) diagnosisName(id int64) string {
	if d, ok := v.ref.Diagnosis(id); ok {
		return d.Name
	}
	return fmt.Sprint(id)
}
