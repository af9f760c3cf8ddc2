package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"whispers/internal/geocode"
)

// enrichLocation fills missing administrative placement of lp from its
// coordinates. Placement that disagrees with the geocoder is returned as
// validation messages. Geocoder failures never block the request.
func (s *Service) enrichLocation(ctx context.Context, label string, lp *LocationPayload) []string {
	if s.geocoder == nil || lp.Latitude == nil || lp.Longitude == nil {
		return nil
	}
	match, err := s.geocoder.Reverse(ctx, *lp.Latitude, *lp.Longitude)
	if err != nil {
		if !errors.Is(err, geocode.ErrUnavailable) {
			s.logger.Warn("reverse geocode", "latitude", *lp.Latitude, "longitude", *lp.Longitude, "error", err)
		}
		return nil
	}
	var out []string
	if match.Country != "" {
		if c, ok := s.ref.CountryByName(match.Country); ok {
			if lp.CountryID == nil {
				lp.CountryID = &c.ID
			} else if *lp.CountryID != c.ID {
				out = append(out, fmt.Sprintf("%s: country does not match coordinates (%s)", label, match.Country))
			}
		}
	}
	if lp.CountryID != nil && match.AdministrativeLevelOne != "" {
		if a1, ok := s.ref.AdminLevelOneByName(*lp.CountryID, match.AdministrativeLevelOne); ok {
			if lp.AdministrativeLevelOneID == nil {
				lp.AdministrativeLevelOneID = &a1.ID
			} else if *lp.AdministrativeLevelOneID != a1.ID {
				out = append(out, fmt.Sprintf("%s: administrative_level_one does not match coordinates (%s)", label, match.AdministrativeLevelOne))
			}
		}
	}
	if lp.AdministrativeLevelOneID != nil && match.AdministrativeLevelTwo != "" {
		if a2, ok := s.ref.AdminLevelTwoByName(*lp.AdministrativeLevelOneID, match.AdministrativeLevelTwo); ok {
			if lp.AdministrativeLevelTwoID == nil {
				lp.AdministrativeLevelTwoID = &a2.ID
			} else if *lp.AdministrativeLevelTwoID != a2.ID {
				out = append(out, fmt.Sprintf("%s: administrative_level_two does not match coordinates (%s)", label, match.AdministrativeLevelTwo))
			}
		}
	}
	if lp.Flyway == "" {
		lp.Flyway = strings.TrimSpace(match.Flyway)
	}
	return out
}
