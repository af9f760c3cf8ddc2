package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDateJSONAcceptsDateAndTimestamp(t *testing.T) {
	var payload struct {
		A Date  `json:"a"`
		B *Date `json:"b"`
	}
	if err := json.Unmarshal([]byte(`{"a":"2024-03-05","b":"2024-03-06T23:30:00Z"}`), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.A.String() != "2024-03-05" || payload.B.String() != "2024-03-06" {
		t.Fatalf("unexpected dates %s %s", payload.A, payload.B)
	}
	out, err := json.Marshal(payload.A)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `"2024-03-05"` {
		t.Fatalf("unexpected encoding %s", out)
	}
	if err := json.Unmarshal([]byte(`{"a":"tomorrow"}`), &payload); err == nil {
		t.Fatalf("expected invalid date error")
	}
}

func TestDateOrdering(t *testing.T) {
	a := NewDate(2024, time.January, 1)
	b := DateOf(time.Date(2024, time.January, 2, 18, 0, 0, 0, time.UTC))
	if !a.BeforeDate(b) || !b.AfterDate(a) || a.AfterDate(a) {
		t.Fatalf("unexpected ordering between %s and %s", a, b)
	}
}

func TestLocationSpeciesAffectedCounts(t *testing.T) {
	cases := []struct {
		name    string
		species LocationSpecies
		want    int
		any     bool
	}{
		{"estimates win", LocationSpecies{DeadCount: IntPtr(3), DeadCountEstimated: IntPtr(5), SickCount: IntPtr(1)}, 6, true},
		{"reported win", LocationSpecies{DeadCount: IntPtr(0), DeadCountEstimated: IntPtr(0), SickCount: IntPtr(2), SickCountEstimated: IntPtr(4)}, 4, true},
		{"all nil", LocationSpecies{}, 0, false},
		{"negative floors at zero", LocationSpecies{DeadCount: IntPtr(-2)}, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.species.MortalityAffected(); got != tc.want {
				t.Fatalf("MortalityAffected() = %d, want %d", got, tc.want)
			}
			if got := tc.species.HasPositiveCount(); got != tc.any {
				t.Fatalf("HasPositiveCount() = %v, want %v", got, tc.any)
			}
		})
	}
}

func TestEventTypeCountsAffected(t *testing.T) {
	if !EventTypeMortalityMorbidity.CountsAffected() || !EventTypeSurveillance.CountsAffected() {
		t.Fatalf("expected known event types to carry affected counts")
	}
	if EventType(9).CountsAffected() {
		t.Fatalf("expected unknown event type to carry no affected count")
	}
}
