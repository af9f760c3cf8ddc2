package refdata

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultCatalogResolvesSeedRows(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatalf("default catalog: %v", err)
	}
	for _, name := range []string{"Pending", "undetermined", " Avian Influenza "} {
		if _, ok := c.DiagnosisByName(name); !ok {
			t.Errorf("expected diagnosis %q", name)
		}
	}
	usa, ok := c.CountryByName("usa")
	if !ok || usa.Name != "United States" {
		t.Fatalf("expected abbreviation lookup, got %+v %v", usa, ok)
	}
	wi, ok := c.AdminLevelOneByName(usa.ID, "Wisconsin")
	if !ok {
		t.Fatalf("expected Wisconsin")
	}
	if _, ok := c.AdminLevelOneByName(2, "Wisconsin"); ok {
		t.Fatalf("Wisconsin must not resolve under Canada")
	}
	if _, ok := c.AdminLevelTwoByName(wi.ID, "dane"); !ok {
		t.Fatalf("expected Dane county")
	}
	lab, ok := c.Organization(1)
	if !ok || !lab.Laboratory {
		t.Fatalf("expected organization 1 to be a laboratory: %+v", lab)
	}
	basis, ok := c.Basis(3)
	if !ok || basis.LabConfirmed {
		t.Fatalf("field signs must not be lab confirmed: %+v", basis)
	}
	if _, ok := c.CommentTypeByName("clinical signs"); !ok {
		t.Fatalf("expected clinical signs comment type")
	}
	if _, ok := c.Species(999); ok {
		t.Fatalf("unexpected species 999")
	}
}

func TestLoadRejectsDuplicateIDs(t *testing.T) {
	_, err := Load(strings.NewReader("diagnoses:\n  - {id: 1, name: A}\n  - {id: 1, name: B}\n"))
	if err == nil || !strings.Contains(err.Error(), "duplicate id 1") {
		t.Fatalf("expected duplicate id error, got %v", err)
	}
}

func TestLoadRejectsBrokenHierarchy(t *testing.T) {
	doc := `
countries:
  - {id: 1, name: United States}
administrative_level_one:
  - {id: 1, country: 9, name: Nowhere}
administrative_level_two:
  - {id: 1, administrative_level_one: 7, name: Lost}
`
	_, err := Load(strings.NewReader(doc))
	if err == nil {
		t.Fatalf("expected hierarchy error")
	}
	for _, want := range []string{"missing country 9", "missing administrative level one 7"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestLoadRejectsUnknownSections(t *testing.T) {
	if _, err := Load(strings.NewReader("diseases: []\n")); err == nil {
		t.Fatalf("expected unknown field error")
	}
}

func TestLoadWithOverrideReplacesAndAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "override.yaml")
	override := `
diagnoses:
  - {id: 1, name: Awaiting results}
organizations:
  - {id: 42, name: State Diagnostic Lab, laboratory: true}
`
	if err := os.WriteFile(path, []byte(override), 0o600); err != nil {
		t.Fatalf("write override: %v", err)
	}
	c, err := LoadWithOverride(path)
	if err != nil {
		t.Fatalf("load override: %v", err)
	}
	if d, _ := c.Diagnosis(1); d.Name != "Awaiting results" {
		t.Fatalf("expected replaced diagnosis, got %+v", d)
	}
	if _, ok := c.DiagnosisByName("Undetermined"); !ok {
		t.Fatalf("base rows must survive the override")
	}
	if org, ok := c.Organization(42); !ok || !org.Laboratory {
		t.Fatalf("expected appended organization, got %+v %v", org, ok)
	}
}

func TestLoadWithOverrideMissingFile(t *testing.T) {
	if _, err := LoadWithOverride(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing override")
	}
	if _, err := LoadWithOverride(""); err != nil {
		t.Fatalf("empty path should load the embedded catalog: %v", err)
	}
}
