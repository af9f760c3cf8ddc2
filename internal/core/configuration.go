package core

import (
	"errors"
	"slices"
	"strings"
	"sync"

	"whispers/pkg/domain"
)

// ReferenceData resolves read-only lookup rows by id or name.
type ReferenceData interface {
	Diagnosis(id int64) (domain.Diagnosis, bool)
	DiagnosisByName(name string) (domain.Diagnosis, bool)
	Species(id int64) (domain.Species, bool)
	Country(id int64) (domain.Country, bool)
	CountryByName(name string) (domain.Country, bool)
	AdminLevelOne(id int64) (domain.AdministrativeLevelOne, bool)
	AdminLevelOneByName(countryID int64, name string) (domain.AdministrativeLevelOne, bool)
	AdminLevelTwo(id int64) (domain.AdministrativeLevelTwo, bool)
	AdminLevelTwoByName(adminLevelOneID int64, name string) (domain.AdministrativeLevelTwo, bool)
	Cause(id int64) (domain.DiagnosisCause, bool)
	Basis(id int64) (domain.DiagnosisBasis, bool)
	Organization(id int64) (domain.Organization, bool)
	CommentType(id int64) (domain.CommentType, bool)
	CommentTypeByName(name string) (domain.CommentType, bool)
}

// Settings are operator-supplied names and addresses. Zero values fall back
// to DefaultSettings.
type Settings struct {
	AdminUserID           int64
	AdminEmail            string
	WhispersEmail         string
	PendingDiagnosis      string
	UndeterminedDiagnosis string
	RequiredCommentTypes  []string
}

// DefaultSettings returns the fallback values used for unset settings.
func DefaultSettings() Settings {
	return Settings{
		AdminUserID:           1,
		AdminEmail:            "whispers-admin@localhost",
		WhispersEmail:         "whispers@localhost",
		PendingDiagnosis:      "Pending",
		UndeterminedDiagnosis: "Undetermined",
		RequiredCommentTypes:  []string{"Site description", "History", "Environmental factors", "Clinical signs"},
	}
}

func (s Settings) withDefaults() Settings {
	def := DefaultSettings()
	if s.AdminUserID == 0 {
		s.AdminUserID = def.AdminUserID
	}
	if s.AdminEmail == "" {
		s.AdminEmail = def.AdminEmail
	}
	if s.WhispersEmail == "" {
		s.WhispersEmail = def.WhispersEmail
	}
	if s.PendingDiagnosis == "" {
		s.PendingDiagnosis = def.PendingDiagnosis
	}
	if s.UndeterminedDiagnosis == "" {
		s.UndeterminedDiagnosis = def.UndeterminedDiagnosis
	}
	if s.RequiredCommentTypes == nil {
		s.RequiredCommentTypes = def.RequiredCommentTypes
	}
	return s
}

// Configuration is the resolved form of Settings with reference ids.
type Configuration struct {
	Settings
	PendingID              int64
	UndeterminedID         int64
	RequiredCommentTypeIDs []int64
}

// IsSentinel reports whether diagnosisID is Pending or Undetermined.
func (c Configuration) IsSentinel(diagnosisID int64) bool {
	return diagnosisID == c.PendingID || diagnosisID == c.UndeterminedID
}

// ResolveConfiguration looks up every named reference row in ref. All missing
// names are reported together in a ConfigurationError.
func ResolveConfiguration(ref ReferenceData, settings Settings) (Configuration, error) {
	settings = settings.withDefaults()
	cfg := Configuration{Settings: settings}
	var missing []string
	if ref == nil {
		return cfg, domain.ConfigurationError{Missing: []string{"reference data"}}
	}
	if d, ok := ref.DiagnosisByName(settings.PendingDiagnosis); ok {
		cfg.PendingID = d.ID
	} else {
		missing = append(missing, "diagnosis "+settings.PendingDiagnosis)
	}
	if d, ok := ref.DiagnosisByName(settings.UndeterminedDiagnosis); ok {
		cfg.UndeterminedID = d.ID
	} else {
		missing = append(missing, "diagnosis "+settings.UndeterminedDiagnosis)
	}
	for _, name := range settings.RequiredCommentTypes {
		ct, ok := ref.CommentTypeByName(name)
		if !ok {
			missing = append(missing, "comment type "+name)
			continue
		}
		cfg.RequiredCommentTypeIDs = append(cfg.RequiredCommentTypeIDs, ct.ID)
	}
	if len(missing) > 0 {
		return cfg, domain.ConfigurationError{Missing: missing}
	}
	return cfg, nil
}

// ConfigResolver resolves Configuration on demand and caches the first
// success. Rules and the service share one resolver.
type ConfigResolver struct {
	ref      ReferenceData
	settings Settings

	mu       sync.Mutex
	resolved *Configuration
	reported map[string]struct{}
}

// NewConfigResolver constructs a resolver over ref.
func NewConfigResolver(ref ReferenceData, settings Settings) *ConfigResolver {
	return &ConfigResolver{ref: ref, settings: settings, reported: make(map[string]struct{})}
}

// Reference returns the underlying reference data.
func (r *ConfigResolver) Reference() ReferenceData { return r.ref }

// Settings returns the settings with fallbacks applied.
func (r *ConfigResolver) Settings() Settings { return r.settings.withDefaults() }

// Configuration returns the resolved configuration or a ConfigurationError.
func (r *ConfigResolver) Configuration() (Configuration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resolved != nil {
		return *r.resolved, nil
	}
	cfg, err := ResolveConfiguration(r.ref, r.settings)
	if err != nil {
		return Configuration{}, err
	}
	r.resolved = &cfg
	return cfg, nil
}

// firstReport returns true the first time a distinct ConfigurationError is
// seen, so the operator is alerted once per failure.
func (r *ConfigResolver) firstReport(err error) bool {
	var cfgErr domain.ConfigurationError
	if !errors.As(err, &cfgErr) {
		return false
	}
	missing := slices.Clone(cfgErr.Missing)
	slices.Sort(missing)
	key := strings.Join(missing, "|")
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, seen := r.reported[key]; seen {
		return false
	}
	r.reported[key] = struct{}{}
	return true
}
