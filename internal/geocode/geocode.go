// Package geocode resolves coordinates to administrative units and flyways.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrUnavailable is returned when no geocoding service is configured or it
// cannot be reached. Callers skip enrichment on this error.
var ErrUnavailable = errors.New("geocoder unavailable")

// Match is the administrative placement of a coordinate, by name.
type Match struct {
	Country                string `json:"country"`
	AdministrativeLevelOne string `json:"administrative_level_one"`
	AdministrativeLevelTwo string `json:"administrative_level_two"`
	Flyway                 string `json:"flyway"`
}

// Geocoder performs reverse lookups.
type Geocoder interface {
	Reverse(ctx context.Context, latitude, longitude float64) (Match, error)
}

// Noop never resolves anything.
type Noop struct{}

// Reverse implements Geocoder.
func (Noop) Reverse(context.Context, float64, float64) (Match, error) {
	return Match{}, ErrUnavailable
}

// Client queries an HTTP reverse-geocoding endpoint of the form
// GET {base}/reverse?lat=..&lng=.. returning a JSON Match.
type Client struct {
	base *url.URL
	http *http.Client
}

// NewClient constructs a client for baseURL with a per-request timeout.
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("geocoder base url is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse geocoder url: %w", err)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{base: u, http: &http.Client{Timeout: timeout}}, nil
}

// Reverse implements Geocoder. Transport failures and 5xx responses map to
// ErrUnavailable.
func (c *Client) Reverse(ctx context.Context, latitude, longitude float64) (Match, error) {
	u := c.base.JoinPath("reverse")
	q := u.Query()
	q.Set("lat", strconv.FormatFloat(latitude, 'f', -1, 64))
	q.Set("lng", strconv.FormatFloat(longitude, 'f', -1, 64))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Match{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return Match{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode >= 500:
		return Match{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return Match{}, fmt.Errorf("reverse geocode %v,%v: status %d", latitude, longitude, resp.StatusCode)
	}
	var m Match
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return Match{}, fmt.Errorf("decode reverse geocode response: %w", err)
	}
	return m, nil
}
