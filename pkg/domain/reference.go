package domain

// Reference rows are read-only lookup data seeded outside the event graph.

// Diagnosis names a disease or condition. "Pending" and "Undetermined" are
// sentinel rows maintained by the consistency pipeline.
type Diagnosis struct {
	ID   int64  `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Species is a wildlife taxon that can be reported at a location.
type Species struct {
	ID   int64  `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Country is the top level of the administrative hierarchy.
type Country struct {
	ID           int64  `json:"id" yaml:"id"`
	Name         string `json:"name" yaml:"name"`
	Abbreviation string `json:"abbreviation" yaml:"abbreviation"`
}

// AdministrativeLevelOne is a state or province of a country.
type AdministrativeLevelOne struct {
	ID        int64  `json:"id" yaml:"id"`
	CountryID int64  `json:"country" yaml:"country"`
	Name      string `json:"name" yaml:"name"`
}

// AdministrativeLevelTwo is a county or district of a level-one unit.
type AdministrativeLevelTwo struct {
	ID                       int64  `json:"id" yaml:"id"`
	AdministrativeLevelOneID int64  `json:"administrative_level_one" yaml:"administrative_level_one"`
	Name                     string `json:"name" yaml:"name"`
}

// DiagnosisCause describes how a diagnosis relates to the observed deaths.
type DiagnosisCause struct {
	ID   int64  `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// DiagnosisBasis describes the evidence for a diagnosis. Only bases with
// LabConfirmed set may back a non-suspect species diagnosis.
type DiagnosisBasis struct {
	ID           int64  `json:"id" yaml:"id"`
	Name         string `json:"name" yaml:"name"`
	LabConfirmed bool   `json:"lab_confirmed" yaml:"lab_confirmed"`
}

// Organization is a participating agency; laboratories may confirm diagnoses.
type Organization struct {
	ID         int64  `json:"id" yaml:"id"`
	Name       string `json:"name" yaml:"name"`
	Laboratory bool   `json:"laboratory" yaml:"laboratory"`
}

// CommentType classifies a free-text location comment.
type CommentType struct {
	ID   int64  `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}
