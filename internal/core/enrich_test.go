package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whispers/internal/geocode"
)

type stubGeocoder struct {
	match geocode.Match
	err   error
	calls int
}

func (g *stubGeocoder) Reverse(context.Context, float64, float64) (geocode.Match, error) {
	g.calls++
	return g.match, g.err
}

func coordinatesOnly() LocationPayload {
	return LocationPayload{
		StartDate: date("2024-05-01"),
		Latitude:  ptr(43.07),
		Longitude: ptr(-89.40),
		Comments:  []CommentPayload{{CommentType: commentSite, Text: "lakeshore"}},
		Species:   []SpeciesPayload{deadSpecies(spMallard, 2)},
	}
}

func TestCreateEventFillsPlacementFromCoordinates(t *testing.T) {
	geo := &stubGeocoder{match: geocode.Match{
		Country:                "United States",
		AdministrativeLevelOne: "Wisconsin",
		AdministrativeLevelTwo: "Dane",
		Flyway:                 " Mississippi ",
	}}
	svc := newTestService(t, WithGeocoder(geo))

	graph := mustCreate(t, svc, mortalityEvent(coordinatesOnly()))
	loc := graph.Locations[0]
	require.NotNil(t, loc.CountryID)
	require.NotNil(t, loc.AdministrativeLevelOneID)
	require.NotNil(t, loc.AdministrativeLevelTwoID)
	assert.Equal(t, countryUSA, *loc.CountryID)
	assert.Equal(t, adminWisconsin, *loc.AdministrativeLevelOneID)
	assert.Equal(t, countyDane, *loc.AdministrativeLevelTwoID)
	assert.Equal(t, "Mississippi", loc.Flyway)
	assert.Equal(t, 1, geo.calls)

	_, _, err := svc.CreateEventLocation(context.Background(), owner, graph.Event.ID, locationPayload(countyDane, "2024-05-01", deadSpecies(spMallard, 1)))
	require.NoError(t, err)
	assert.Equal(t, 1, geo.calls, "locations without coordinates are not geocoded")
}

func TestCreateEventRejectsPlacementContradictingCoordinates(t *testing.T) {
	geo := &stubGeocoder{match: geocode.Match{Country: "United States", AdministrativeLevelOne: "Wisconsin"}}
	svc := newTestService(t, WithGeocoder(geo))

	lp := coordinatesOnly()
	lp.CountryID = ptr(countryUSA)
	lp.AdministrativeLevelOneID = ptr(adminMinnesota)
	_, _, err := svc.CreateEvent(context.Background(), owner, mortalityEvent(lp))
	requireValidation(t, err, "administrative_level_one does not match coordinates (Wisconsin)")
}

func TestGeocoderFailuresNeverBlock(t *testing.T) {
	for name, geoErr := range map[string]error{
		"unavailable": geocode.ErrUnavailable,
		"bad reply":   errors.New("unexpected status 418"),
	} {
		t.Run(name, func(t *testing.T) {
			svc := newTestService(t, WithGeocoder(&stubGeocoder{err: geoErr}))
			graph := mustCreate(t, svc, mortalityEvent(coordinatesOnly()))
			assert.Nil(t, graph.Locations[0].CountryID)
			assert.Empty(t, graph.Locations[0].Flyway)
		})
	}
}
