package memory

import (
	"encoding/json"
	"fmt"
)

// Bucket names used by the durable backends, one row per bucket.
const (
	BucketEvents             = "events"
	BucketEventLocations     = "event_locations"
	BucketLocationSpecies    = "location_species"
	BucketSpeciesDiagnoses   = "species_diagnoses"
	BucketEventDiagnoses     = "event_diagnoses"
	BucketEventOrganizations = "event_organizations"
	BucketSequences          = "sequences"
)

// BucketNames lists every bucket in a stable write order.
var BucketNames = []string{
	BucketEvents,
	BucketEventLocations,
	BucketLocationSpecies,
	BucketSpeciesDiagnoses,
	BucketEventDiagnoses,
	BucketEventOrganizations,
	BucketSequences,
}

func (s *Snapshot) target(bucket string) (any, bool) {
	switch bucket {
	case BucketEvents:
		return &s.Events, true
	case BucketEventLocations:
		return &s.EventLocations, true
	case BucketLocationSpecies:
		return &s.LocationSpecies, true
	case BucketSpeciesDiagnoses:
		return &s.SpeciesDiagnoses, true
	case BucketEventDiagnoses:
		return &s.EventDiagnoses, true
	case BucketEventOrganizations:
		return &s.EventOrganizations, true
	case BucketSequences:
		return &s.Sequences, true
	}
	return nil, false
}

// EncodeBuckets marshals every bucket of the snapshot to JSON.
func (s Snapshot) EncodeBuckets() (map[string][]byte, error) {
	out := make(map[string][]byte, len(BucketNames))
	for _, bucket := range BucketNames {
		target, _ := s.target(bucket)
		data, err := json.Marshal(target)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", bucket, err)
		}
		out[bucket] = data
	}
	return out, nil
}

// DecodeBucket unmarshals payload into the named bucket. Unknown buckets and
// empty payloads are ignored so older databases keep loading.
func (s *Snapshot) DecodeBucket(bucket string, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	target, ok := s.target(bucket)
	if !ok {
		return nil
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("decode %s: %w", bucket, err)
	}
	return nil
}
