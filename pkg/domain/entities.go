// Package domain defines the persistent entities, value types, and rule
// evaluation primitives used by the WHISPers event core.
package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityEvent identifies a wildlife morbidity/mortality or surveillance event.
	EntityEvent EntityType = "event"
	// EntityEventLocation identifies one geographic/time segment of an event.
	EntityEventLocation EntityType = "event_location"
	// EntityLocationSpecies identifies species-level counts within a location.
	EntityLocationSpecies EntityType = "location_species"
	// EntitySpeciesDiagnosis identifies a diagnosis attributed to one location species.
	EntitySpeciesDiagnosis EntityType = "species_diagnosis"
	// EntityEventDiagnosis identifies a diagnosis attributed to the event as a whole.
	EntityEventDiagnosis EntityType = "event_diagnosis"
	// EntityEventOrganization identifies an organization attached to an event.
	EntityEventOrganization EntityType = "event_organization"
	// EntityDiagnosis identifies a reference diagnosis row.
	EntityDiagnosis EntityType = "diagnosis"
)

// EventType enumerates the event categories that drive affected count semantics.
type EventType int64

// Known event types. Any other value is carried through but yields no affected count.
const (
	EventTypeMortalityMorbidity EventType = 1
	EventTypeSurveillance       EventType = 2
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Date is a calendar date without a time component. It serializes as YYYY-MM-DD.
type Date struct {
	time.Time
}

const dateLayout = "2006-01-02"

// NewDate builds a Date at UTC midnight.
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar date in UTC.
func DateOf(t time.Time) Date {
	t = t.UTC()
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate accepts YYYY-MM-DD or an RFC 3339 timestamp.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(dateLayout, s); err == nil {
		return DateOf(t), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q", s)
	}
	return DateOf(t), nil
}

// String renders the date as YYYY-MM-DD.
func (d Date) String() string { return d.Format(dateLayout) }

// BeforeDate reports whether d is strictly earlier than o.
func (d Date) BeforeDate(o Date) bool { return d.Before(o.Time) }

// AfterDate reports whether d is strictly later than o.
func (d Date) AfterDate(o Date) bool { return d.After(o.Time) }

// MarshalJSON implements json.Marshaler.
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Date) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseDate(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Base contains common fields for all domain records.
type Base struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Event is a recorded wildlife morbidity/mortality or surveillance occurrence.
type Event struct {
	Base
	EventType             EventType  `json:"event_type"`
	EventReference        string     `json:"event_reference,omitempty"`
	Complete              bool       `json:"complete"`
	StartDate             *Date      `json:"start_date"`
	EndDate               *Date      `json:"end_date"`
	AffectedCount         *int       `json:"affected_count"`
	Public                bool       `json:"public"`
	QualityCheck          *time.Time `json:"quality_check"`
	CreatedBy             int64      `json:"created_by"`
	CreatedByOrganization int64      `json:"created_by_organization"`
	ReadCollaborators     []int64    `json:"read_collaborators,omitempty"`
	WriteCollaborators    []int64    `json:"write_collaborators,omitempty"`
	EventGroupIDs         []int64    `json:"event_group_ids,omitempty"`
}

// Comment is free text attached to a location under a typed heading.
type Comment struct {
	CommentType int64  `json:"comment_type"`
	Text        string `json:"comment"`
}

// EventLocation is one geographic/time segment of an event.
type EventLocation struct {
	Base
	EventID                  int64     `json:"event"`
	Name                     string    `json:"name,omitempty"`
	StartDate                *Date     `json:"start_date"`
	EndDate                  *Date     `json:"end_date"`
	CountryID                *int64    `json:"country"`
	AdministrativeLevelOneID *int64    `json:"administrative_level_one"`
	AdministrativeLevelTwoID *int64    `json:"administrative_level_two"`
	Latitude                 *float64  `json:"latitude"`
	Longitude                *float64  `json:"longitude"`
	Flyway                   string    `json:"flyway,omitempty"`
	Comments                 []Comment `json:"comments,omitempty"`
	Priority                 int       `json:"priority"`
}

// LocationSpecies holds species-level counts within one event location.
type LocationSpecies struct {
	Base
	EventLocationID    int64 `json:"event_location"`
	SpeciesID          int64 `json:"species"`
	PopulationCount    *int  `json:"population_count"`
	SickCount          *int  `json:"sick_count"`
	DeadCount          *int  `json:"dead_count"`
	SickCountEstimated *int  `json:"sick_count_estimated"`
	DeadCountEstimated *int  `json:"dead_count_estimated"`
	Captive            bool  `json:"captive"`
	Priority           int   `json:"priority"`
}

// SpeciesDiagnosis is a diagnosis attributed to one location species.
type SpeciesDiagnosis struct {
	Base
	LocationSpeciesID int64   `json:"location_species"`
	DiagnosisID       int64   `json:"diagnosis"`
	CauseID           *int64  `json:"cause"`
	BasisID           *int64  `json:"basis"`
	Suspect           bool    `json:"suspect"`
	TestedCount       *int    `json:"tested_count"`
	PositiveCount     *int    `json:"positive_count"`
	OrganizationIDs   []int64 `json:"organizations,omitempty"`
	Priority          int     `json:"priority"`
}

// EventDiagnosis is a diagnosis attributed to the event as a whole.
type EventDiagnosis struct {
	Base
	EventID     int64 `json:"event"`
	DiagnosisID int64 `json:"diagnosis"`
	Suspect     bool  `json:"suspect"`
	Priority    int   `json:"priority"`
}

// EventOrganization attaches an organization to an event.
type EventOrganization struct {
	Base
	EventID        int64 `json:"event"`
	OrganizationID int64 `json:"organization"`
	Priority       int   `json:"priority"`
}

// maxCount returns the larger of a and b with nil treated as zero, floored at zero.
func maxCount(a, b *int) int {
	out := 0
	if a != nil && *a > out {
		out = *a
	}
	if b != nil && *b > out {
		out = *b
	}
	return out
}

// MortalityAffected is the sick plus dead contribution of a species row for
// mortality/morbidity events, preferring estimates when larger.
func (s LocationSpecies) MortalityAffected() int {
	return maxCount(s.DeadCountEstimated, s.DeadCount) + maxCount(s.SickCountEstimated, s.SickCount)
}

// HasPositiveCount reports whether any sick/dead count field is greater than zero.
func (s LocationSpecies) HasPositiveCount() bool {
	for _, v := range []*int{s.SickCount, s.DeadCount, s.SickCountEstimated, s.DeadCountEstimated} {
		if v != nil && *v > 0 {
			return true
		}
	}
	return false
}

// Positive returns the positive count with nil treated as zero.
func (d SpeciesDiagnosis) Positive() int {
	if d.PositiveCount == nil {
		return 0
	}
	return *d.PositiveCount
}

// CountsAffected reports whether event type t carries an affected count at all.
func (t EventType) CountsAffected() bool {
	return t == EventTypeMortalityMorbidity || t == EventTypeSurveillance
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 { return &v }

// DatePtr returns a pointer to d.
func DatePtr(d Date) *Date { return &d }

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured in audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID int64
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// Blocking returns only the blocking violations.
func (r Result) Blocking() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			out = append(out, v)
		}
	}
	return out
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	blocking := e.Result.Blocking()
	if len(blocking) == 0 {
		return "transaction blocked by rules"
	}
	first := blocking[0]
	if len(blocking) == 1 {
		return fmt.Sprintf("transaction blocked by rule %s: %s", first.Rule, first.Message)
	}
	return fmt.Sprintf("transaction blocked by %d rule violations (first %s: %s)", len(blocking), first.Rule, first.Message)
}
