package core

import (
	"time"

	"whispers/pkg/domain"
)

// Role is the requester's standing used by the reopen and quality-check rules.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleOrgAdmin    Role = "org_admin"
	RoleOrgManager  Role = "org_manager"
	RoleContributor Role = "contributor"
	RoleAnonymous   Role = ""
)

// Requester identifies the user on whose behalf an operation runs.
type Requester struct {
	UserID         int64  `json:"user_id"`
	Email          string `json:"email"`
	OrganizationID int64  `json:"organization_id"`
	Role           Role   `json:"role"`
}

// IsAdmin reports whether the requester has administrative rights.
func (r Requester) IsAdmin() bool { return r.Role == RoleAdmin }

// CanReopen reports whether r may set complete=false on event: the owner, an
// administrator, or an org admin/manager of the owner's organization.
func (r Requester) CanReopen(event domain.Event) bool {
	if r.IsAdmin() || (r.UserID != 0 && r.UserID == event.CreatedBy) {
		return true
	}
	return (r.Role == RoleOrgAdmin || r.Role == RoleOrgManager) &&
		r.OrganizationID != 0 && r.OrganizationID == event.CreatedByOrganization
}

// CommentPayload is a typed location comment.
type CommentPayload struct {
	CommentType int64  `json:"comment_type" validate:"required,gt=0"`
	Text        string `json:"comment" validate:"required"`
}

// SpeciesDiagnosisPayload describes a species diagnosis to create.
type SpeciesDiagnosisPayload struct {
	DiagnosisID     int64   `json:"diagnosis" validate:"required,gt=0"`
	CauseID         *int64  `json:"cause"`
	BasisID         *int64  `json:"basis"`
	Suspect         bool    `json:"suspect"`
	TestedCount     *int    `json:"tested_count"`
	PositiveCount   *int    `json:"positive_count"`
	OrganizationIDs []int64 `json:"organizations" validate:"dive,gt=0"`
}

// SpeciesPayload describes a location species with nested diagnoses.
type SpeciesPayload struct {
	SpeciesID          int64                     `json:"species" validate:"required,gt=0"`
	PopulationCount    *int                      `json:"population_count"`
	SickCount          *int                      `json:"sick_count"`
	DeadCount          *int                      `json:"dead_count"`
	SickCountEstimated *int                      `json:"sick_count_estimated"`
	DeadCountEstimated *int                      `json:"dead_count_estimated"`
	Captive            bool                      `json:"captive"`
	Diagnoses          []SpeciesDiagnosisPayload `json:"new_species_diagnoses" validate:"dive"`
}

// LocationPayload describes an event location with nested species.
type LocationPayload struct {
	Name                     string           `json:"name" validate:"max=128"`
	StartDate                *domain.Date     `json:"start_date"`
	EndDate                  *domain.Date     `json:"end_date"`
	CountryID                *int64           `json:"country"`
	AdministrativeLevelOneID *int64           `json:"administrative_level_one"`
	AdministrativeLevelTwoID *int64           `json:"administrative_level_two"`
	Latitude                 *float64         `json:"latitude" validate:"omitempty,latitude"`
	Longitude                *float64         `json:"longitude" validate:"omitempty,longitude"`
	Flyway                   string           `json:"flyway"`
	Comments                 []CommentPayload `json:"comments" validate:"dive"`
	Species                  []SpeciesPayload `json:"new_location_species" validate:"dive"`
}

// EventDiagnosisPayload describes an event-level diagnosis to create.
type EventDiagnosisPayload struct {
	DiagnosisID int64 `json:"diagnosis" validate:"required,gt=0"`
	Suspect     bool  `json:"suspect"`
}

// EventPayload is the nested create request for an event.
type EventPayload struct {
	EventType          domain.EventType        `json:"event_type" validate:"required,gt=0"`
	EventReference     string                  `json:"event_reference" validate:"max=128"`
	Complete           bool                    `json:"complete"`
	Public             *bool                   `json:"public"`
	ReadCollaborators  []int64                 `json:"new_read_collaborators" validate:"dive,gt=0"`
	WriteCollaborators []int64                 `json:"new_write_collaborators" validate:"dive,gt=0"`
	EventGroupIDs      []int64                 `json:"new_event_groups" validate:"dive,gt=0"`
	Organizations      []int64                 `json:"new_organizations" validate:"dive,gt=0"`
	EventDiagnoses     []EventDiagnosisPayload `json:"new_event_diagnoses" validate:"dive"`
	Locations          []LocationPayload       `json:"new_event_locations" validate:"required,min=1,dive"`
}

// EventUpdate carries the event fields a caller may change. Nil fields are
// left untouched.
type EventUpdate struct {
	EventType          *domain.EventType `json:"event_type,omitempty" validate:"omitempty,gt=0"`
	EventReference     *string           `json:"event_reference,omitempty" validate:"omitempty,max=128"`
	Complete           *bool             `json:"complete,omitempty"`
	Public             *bool             `json:"public,omitempty"`
	QualityCheck       *time.Time        `json:"quality_check,omitempty"`
	ReadCollaborators  *[]int64          `json:"read_collaborators,omitempty"`
	WriteCollaborators *[]int64          `json:"write_collaborators,omitempty"`
	EventGroupIDs      *[]int64          `json:"event_group_ids,omitempty"`
}

// onlyQualityCheck reports whether u touches nothing but quality_check.
func (u EventUpdate) onlyQualityCheck() bool {
	return u.QualityCheck != nil && u.EventType == nil && u.EventReference == nil &&
		u.Complete == nil && u.Public == nil && u.ReadCollaborators == nil &&
		u.WriteCollaborators == nil && u.EventGroupIDs == nil
}

// reopens reports whether u only sets complete=false.
func (u EventUpdate) reopens() bool {
	return u.Complete != nil && !*u.Complete && u.QualityCheck == nil && u.EventType == nil &&
		u.EventReference == nil && u.Public == nil && u.ReadCollaborators == nil &&
		u.WriteCollaborators == nil && u.EventGroupIDs == nil
}

func (u EventUpdate) apply(e *domain.Event) {
	if u.EventType != nil {
		e.EventType = *u.EventType
	}
	if u.EventReference != nil {
		e.EventReference = *u.EventReference
	}
	if u.Complete != nil {
		e.Complete = *u.Complete
	}
	if u.Public != nil {
		e.Public = *u.Public
	}
	if u.QualityCheck != nil {
		qc := u.QualityCheck.UTC()
		e.QualityCheck = &qc
	}
	if u.ReadCollaborators != nil {
		e.ReadCollaborators = append([]int64(nil), (*u.ReadCollaborators)...)
	}
	if u.WriteCollaborators != nil {
		e.WriteCollaborators = append([]int64(nil), (*u.WriteCollaborators)...)
	}
	if u.EventGroupIDs != nil {
		e.EventGroupIDs = append([]int64(nil), (*u.EventGroupIDs)...)
	}
}

func (p LocationPayload) record(eventID int64) domain.EventLocation {
	loc := domain.EventLocation{
		EventID:                  eventID,
		Name:                     p.Name,
		StartDate:                p.StartDate,
		EndDate:                  p.EndDate,
		CountryID:                p.CountryID,
		AdministrativeLevelOneID: p.AdministrativeLevelOneID,
		AdministrativeLevelTwoID: p.AdministrativeLevelTwoID,
		Latitude:                 p.Latitude,
		Longitude:                p.Longitude,
		Flyway:                   p.Flyway,
	}
	for _, c := range p.Comments {
		loc.Comments = append(loc.Comments, domain.Comment{CommentType: c.CommentType, Text: c.Text})
	}
	return loc
}

func (p SpeciesPayload) record(locationID int64) domain.LocationSpecies {
	return domain.LocationSpecies{
		EventLocationID:    locationID,
		SpeciesID:          p.SpeciesID,
		PopulationCount:    p.PopulationCount,
		SickCount:          p.SickCount,
		DeadCount:          p.DeadCount,
		SickCountEstimated: p.SickCountEstimated,
		DeadCountEstimated: p.DeadCountEstimated,
		Captive:            p.Captive,
	}
}

func (p SpeciesDiagnosisPayload) record(locationSpeciesID int64) domain.SpeciesDiagnosis {
	return domain.SpeciesDiagnosis{
		LocationSpeciesID: locationSpeciesID,
		DiagnosisID:       p.DiagnosisID,
		CauseID:           p.CauseID,
		BasisID:           p.BasisID,
		Suspect:           p.Suspect,
		TestedCount:       p.TestedCount,
		PositiveCount:     p.PositiveCount,
		OrganizationIDs:   append([]int64(nil), p.OrganizationIDs...),
	}
}
