// Package refdata loads the read-only lookup rows (diagnoses, species,
// administrative units, organizations) the event core validates against.
package refdata

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"whispers/pkg/domain"
)

//go:embed seed.yaml
var seed []byte

// Document is the YAML layout of a catalog file.
type Document struct {
	Diagnoses []domain.Diagnosis              `yaml:"diagnoses"`
	Species   []domain.Species                `yaml:"species"`
	Causes    []domain.DiagnosisCause         `yaml:"causes"`
	Bases     []domain.DiagnosisBasis         `yaml:"bases"`
	Orgs      []domain.Organization           `yaml:"organizations"`
	Countries []domain.Country                `yaml:"countries"`
	AdminOne  []domain.AdministrativeLevelOne `yaml:"administrative_level_one"`
	AdminTwo  []domain.AdministrativeLevelTwo `yaml:"administrative_level_two"`
	Comments  []domain.CommentType            `yaml:"comment_types"`
}

type table[T any] struct {
	rows []T
	byID map[int64]int
}

func newTable[T any](rows []T, id func(T) int64) (table[T], error) {
	t := table[T]{rows: rows, byID: make(map[int64]int, len(rows))}
	for i, row := range rows {
		key := id(row)
		if key <= 0 {
			return t, fmt.Errorf("row %d has invalid id %d", i+1, key)
		}
		if _, dup := t.byID[key]; dup {
			return t, fmt.Errorf("duplicate id %d", key)
		}
		t.byID[key] = i
	}
	return t, nil
}

func (t table[T]) get(id int64) (T, bool) {
	i, ok := t.byID[id]
	if !ok {
		var zero T
		return zero, false
	}
	return t.rows[i], true
}

func (t table[T]) find(match func(T) bool) (T, bool) {
	for _, row := range t.rows {
		if match(row) {
			return row, true
		}
	}
	var zero T
	return zero, false
}

// Catalog is an immutable in-memory set of reference rows.
type Catalog struct {
	diagnoses table[domain.Diagnosis]
	species   table[domain.Species]
	causes    table[domain.DiagnosisCause]
	bases     table[domain.DiagnosisBasis]
	orgs      table[domain.Organization]
	countries table[domain.Country]
	adminOne  table[domain.AdministrativeLevelOne]
	adminTwo  table[domain.AdministrativeLevelTwo]
	comments  table[domain.CommentType]
	doc       Document
}

// Default returns the catalog embedded in the binary.
func Default() (*Catalog, error) {
	return Load(bytes.NewReader(seed))
}

// Load parses a catalog document.
func Load(r io.Reader) (*Catalog, error) {
	doc, err := decode(r)
	if err != nil {
		return nil, err
	}
	return New(doc)
}

// LoadWithOverride parses the embedded catalog and applies the document at
// path on top of it. An empty path returns the embedded catalog.
func LoadWithOverride(path string) (*Catalog, error) {
	base, err := decode(bytes.NewReader(seed))
	if err != nil {
		return nil, fmt.Errorf("embedded catalog: %w", err)
	}
	if path == "" {
		return New(base)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open reference data: %w", err)
	}
	defer f.Close()
	override, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return New(Merge(base, override))
}

func decode(r io.Reader) (Document, error) {
	var doc Document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return Document{}, fmt.Errorf("decode reference data: %w", err)
	}
	return doc, nil
}

// Merge returns base with every row of override replacing the base row of the
// same id or appended when new.
func Merge(base, override Document) Document {
	return Document{
		Diagnoses: mergeRows(base.Diagnoses, override.Diagnoses, func(r domain.Diagnosis) int64 { return r.ID }),
		Species:   mergeRows(base.Species, override.Species, func(r domain.Species) int64 { return r.ID }),
		Causes:    mergeRows(base.Causes, override.Causes, func(r domain.DiagnosisCause) int64 { return r.ID }),
		Bases:     mergeRows(base.Bases, override.Bases, func(r domain.DiagnosisBasis) int64 { return r.ID }),
		Orgs:      mergeRows(base.Orgs, override.Orgs, func(r domain.Organization) int64 { return r.ID }),
		Countries: mergeRows(base.Countries, override.Countries, func(r domain.Country) int64 { return r.ID }),
		AdminOne:  mergeRows(base.AdminOne, override.AdminOne, func(r domain.AdministrativeLevelOne) int64 { return r.ID }),
		AdminTwo:  mergeRows(base.AdminTwo, override.AdminTwo, func(r domain.AdministrativeLevelTwo) int64 { return r.ID }),
		Comments:  mergeRows(base.Comments, override.Comments, func(r domain.CommentType) int64 { return r.ID }),
	}
}

func mergeRows[T any](base, override []T, id func(T) int64) []T {
	out := slices.Clone(base)
	for _, row := range override {
		i := slices.IndexFunc(out, func(existing T) bool { return id(existing) == id(row) })
		if i >= 0 {
			out[i] = row
		} else {
			out = append(out, row)
		}
	}
	return out
}

// New builds a catalog from doc, checking ids and the administrative
// hierarchy.
func New(doc Document) (*Catalog, error) {
	c := &Catalog{doc: doc}
	var errs []error
	collect := func(section string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", section, err))
		}
	}
	var err error
	c.diagnoses, err = newTable(doc.Diagnoses, func(r domain.Diagnosis) int64 { return r.ID })
	collect("diagnoses", err)
	c.species, err = newTable(doc.Species, func(r domain.Species) int64 { return r.ID })
	collect("species", err)
	c.causes, err = newTable(doc.Causes, func(r domain.DiagnosisCause) int64 { return r.ID })
	collect("causes", err)
	c.bases, err = newTable(doc.Bases, func(r domain.DiagnosisBasis) int64 { return r.ID })
	collect("bases", err)
	c.orgs, err = newTable(doc.Orgs, func(r domain.Organization) int64 { return r.ID })
	collect("organizations", err)
	c.countries, err = newTable(doc.Countries, func(r domain.Country) int64 { return r.ID })
	collect("countries", err)
	c.adminOne, err = newTable(doc.AdminOne, func(r domain.AdministrativeLevelOne) int64 { return r.ID })
	collect("administrative_level_one", err)
	c.adminTwo, err = newTable(doc.AdminTwo, func(r domain.AdministrativeLevelTwo) int64 { return r.ID })
	collect("administrative_level_two", err)
	c.comments, err = newTable(doc.Comments, func(r domain.CommentType) int64 { return r.ID })
	collect("comment_types", err)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	for _, a1 := range doc.AdminOne {
		if _, ok := c.countries.get(a1.CountryID); !ok {
			errs = append(errs, fmt.Errorf("administrative level one %d references missing country %d", a1.ID, a1.CountryID))
		}
	}
	for _, a2 := range doc.AdminTwo {
		if _, ok := c.adminOne.get(a2.AdministrativeLevelOneID); !ok {
			errs = append(errs, fmt.Errorf("administrative level two %d references missing administrative level one %d", a2.ID, a2.AdministrativeLevelOneID))
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return c, nil
}

// Document returns the rows the catalog was built from.
func (c *Catalog) Document() Document { return c.doc }

func sameName(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func (c *Catalog) Diagnosis(id int64) (domain.Diagnosis, bool) { return c.diagnoses.get(id) }

func (c *Catalog) DiagnosisByName(name string) (domain.Diagnosis, bool) {
	return c.diagnoses.find(func(d domain.Diagnosis) bool { return sameName(d.Name, name) })
}

func (c *Catalog) Species(id int64) (domain.Species, bool) { return c.species.get(id) }

func (c *Catalog) Country(id int64) (domain.Country, bool) { return c.countries.get(id) }

// CountryByName matches the name or the abbreviation.
func (c *Catalog) CountryByName(name string) (domain.Country, bool) {
	return c.countries.find(func(r domain.Country) bool {
		return sameName(r.Name, name) || (r.Abbreviation != "" && sameName(r.Abbreviation, name))
	})
}

func (c *Catalog) AdminLevelOne(id int64) (domain.AdministrativeLevelOne, bool) {
	return c.adminOne.get(id)
}

func (c *Catalog) AdminLevelOneByName(countryID int64, name string) (domain.AdministrativeLevelOne, bool) {
	return c.adminOne.find(func(r domain.AdministrativeLevelOne) bool {
		return r.CountryID == countryID && sameName(r.Name, name)
	})
}

func (c *Catalog) AdminLevelTwo(id int64) (domain.AdministrativeLevelTwo, bool) {
	return c.adminTwo.get(id)
}

func (c *Catalog) AdminLevelTwoByName(adminLevelOneID int64, name string) (domain.AdministrativeLevelTwo, bool) {
	return c.adminTwo.find(func(r domain.AdministrativeLevelTwo) bool {
		return r.AdministrativeLevelOneID == adminLevelOneID && sameName(r.Name, name)
	})
}

func (c *Catalog) Cause(id int64) (domain.DiagnosisCause, bool) { return c.causes.get(id) }

func (c *Catalog) Basis(id int64) (domain.DiagnosisBasis, bool) { return c.bases.get(id) }

func (c *Catalog) Organization(id int64) (domain.Organization, bool) { return c.orgs.get(id) }

func (c *Catalog) CommentType(id int64) (domain.CommentType, bool) { return c.comments.get(id) }

func (c *Catalog) CommentTypeByName(name string) (domain.CommentType, bool) {
	return c.comments.find(func(r domain.CommentType) bool { return sameName(r.Name, name) })
}
