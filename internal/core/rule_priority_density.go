package core

import (
	"context"
	"fmt"
	"slices"

	"whispers/pkg/domain"
)

// PriorityDensityRule checks that every sibling group under an event holds
// the priorities 1..N exactly once.
func PriorityDensityRule() domain.Rule {
	return priorityDensityRule{}
}

type priorityDensityRule struct{}

func (priorityDensityRule) Name() string { return "priority_density" }

func (r priorityDensityRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	check := func(entity domain.EntityType, parentID int64, priorities []int) {
		if dense(priorities) {
			return
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     r.Name(),
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("%s priorities under parent %d are not 1..%d: %v", entity, parentID, len(priorities), priorities),
			Entity:   entity,
			EntityID: parentID,
		})
	}
	for _, ev := range eventsInScope(view, changes) {
		locations := view.ListEventLocations(ev.ID)
		check(domain.EntityEventLocation, ev.ID, priorities(locations, func(l domain.EventLocation) int { return l.Priority }))
		check(domain.EntityEventDiagnosis, ev.ID, priorities(view.ListEventDiagnoses(ev.ID), func(d domain.EventDiagnosis) int { return d.Priority }))

		byOrg := make(map[int64][]int)
		for _, eo := range view.ListEventOrganizations(ev.ID) {
			byOrg[eo.OrganizationID] = append(byOrg[eo.OrganizationID], eo.Priority)
		}
		for _, group := range byOrg {
			check(domain.EntityEventOrganization, ev.ID, group)
		}

		for _, loc := range locations {
			species := view.ListLocationSpecies(loc.ID)
			check(domain.EntityLocationSpecies, loc.ID, priorities(species, func(ls domain.LocationSpecies) int { return ls.Priority }))
			for _, ls := range species {
				check(domain.EntitySpeciesDiagnosis, ls.ID, priorities(view.ListSpeciesDiagnoses(ls.ID), func(sd domain.SpeciesDiagnosis) int { return sd.Priority }))
			}
		}
	}
	return res, nil
}

func priorities[T any](records []T, get func(T) int) []int {
	out := make([]int, len(records))
	for i, rec := range records {
		out[i] = get(rec)
	}
	return out
}

func dense(values []int) bool {
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	for i, v := range sorted {
		if v != i+1 {
			return false
		}
	}
	return true
}
