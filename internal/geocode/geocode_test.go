package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientReverse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/reverse" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("lat") != "43.07" || r.URL.Query().Get("lng") != "-89.4" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Errorf("missing request id header")
		}
		_ = json.NewEncoder(w).Encode(Match{
			Country:                "United States",
			AdministrativeLevelOne: "Wisconsin",
			AdministrativeLevelTwo: "Dane",
			Flyway:                 "Mississippi Flyway",
		})
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL+"/v1", time.Second)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	m, err := c.Reverse(context.Background(), 43.07, -89.4)
	if err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if m.AdministrativeLevelTwo != "Dane" || m.Flyway != "Mississippi Flyway" {
		t.Fatalf("unexpected match %+v", m)
	}
}

func TestClientReverseErrors(t *testing.T) {
	status := http.StatusServiceUnavailable
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	}))
	c, err := NewClient(srv.URL, time.Second)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := c.Reverse(context.Background(), 1, 1); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for 503, got %v", err)
	}
	status = http.StatusBadRequest
	_, err = c.Reverse(context.Background(), 1, 1)
	if err == nil || errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected plain error for 400, got %v", err)
	}
	srv.Close()
	if _, err := c.Reverse(context.Background(), 1, 1); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable when server is gone, got %v", err)
	}
}

func TestNewClientRequiresURL(t *testing.T) {
	if _, err := NewClient(" ", 0); err == nil {
		t.Fatalf("expected error for empty url")
	}
}

func TestNoop(t *testing.T) {
	if _, err := (Noop{}).Reverse(context.Background(), 0, 0); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
