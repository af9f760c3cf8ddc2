package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"whispers/internal/notify"
	"whispers/internal/refdata"
	"whispers/pkg/domain"
)

// Seed ids from the embedded reference catalog.
const (
	dxPending          int64 = 1
	dxUndetermined     int64 = 2
	dxAvianInfluenza   int64 = 3
	dxAvianBotulism    int64 = 4
	dxEmaciation       int64 = 6
	spMallard          int64 = 1
	spCanadaGoose      int64 = 2
	spBaldEagle        int64 = 3
	causeOfDeath       int64 = 1
	basisNecropsy      int64 = 1
	basisFieldSigns    int64 = 3
	orgNWHC            int64 = 1
	orgSCWDS           int64 = 2
	orgWDNR            int64 = 3
	countryUSA         int64 = 1
	adminWisconsin     int64 = 1
	adminMinnesota     int64 = 2
	countyDane         int64 = 1
	countySauk         int64 = 2
	commentSite        int64 = 1
	commentGeneralType int64 = 5
)

var (
	owner = Requester{UserID: 10, Email: "owner@example.org", OrganizationID: orgWDNR, Role: RoleContributor}
	admin = Requester{UserID: 1, Email: "admin@example.org", OrganizationID: orgNWHC, Role: RoleAdmin}
)

func catalog(t *testing.T) *refdata.Catalog {
	t.Helper()
	c, err := refdata.Default()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	return c
}

func fixedClock() Clock {
	return ClockFunc(func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) })
}

func newTestService(t *testing.T, opts ...ServiceOption) *Service {
	t.Helper()
	resolver := NewConfigResolver(catalog(t), Settings{})
	return NewInMemoryService(resolver, append([]ServiceOption{WithClock(fixedClock())}, opts...)...)
}

func date(s string) *domain.Date {
	d, err := domain.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return &d
}

func ptr[T any](v T) *T { return &v }

func locationPayload(county int64, start string, species ...SpeciesPayload) LocationPayload {
	return LocationPayload{
		StartDate:                date(start),
		CountryID:                ptr(countryUSA),
		AdministrativeLevelOneID: ptr(adminWisconsin),
		AdministrativeLevelTwoID: ptr(county),
		Comments:                 []CommentPayload{{CommentType: commentSite, Text: "marsh edge"}},
		Species:                  species,
	}
}

func deadSpecies(speciesID int64, dead int, diagnoses ...SpeciesDiagnosisPayload) SpeciesPayload {
	return SpeciesPayload{SpeciesID: speciesID, DeadCount: ptr(dead), Diagnoses: diagnoses}
}

func confirmed(diagnosisID int64, labs ...int64) SpeciesDiagnosisPayload {
	if len(labs) == 0 {
		labs = []int64{orgNWHC}
	}
	return SpeciesDiagnosisPayload{
		DiagnosisID:     diagnosisID,
		CauseID:         ptr(causeOfDeath),
		BasisID:         ptr(basisNecropsy),
		OrganizationIDs: labs,
	}
}

func suspect(diagnosisID int64) SpeciesDiagnosisPayload {
	return SpeciesDiagnosisPayload{
		DiagnosisID: diagnosisID,
		CauseID:     ptr(causeOfDeath),
		BasisID:     ptr(basisFieldSigns),
		Suspect:     true,
	}
}

func mortalityEvent(locations ...LocationPayload) EventPayload {
	if len(locations) == 0 {
		locations = []LocationPayload{locationPayload(countyDane, "2024-05-01", deadSpecies(spMallard, 4))}
	}
	return EventPayload{
		EventType:      domain.EventTypeMortalityMorbidity,
		EventReference: "test event",
		Locations:      locations,
	}
}

func mustCreate(t *testing.T, svc *Service, p EventPayload) domain.EventGraph {
	t.Helper()
	graph, _, err := svc.CreateEvent(context.Background(), owner, p)
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	return graph
}

func mustGraph(t *testing.T, svc *Service, id int64) domain.EventGraph {
	t.Helper()
	graph, err := svc.GetEvent(context.Background(), id)
	if err != nil {
		t.Fatalf("get event %d: %v", id, err)
	}
	return graph
}

func diagnosisIDs(eds []domain.EventDiagnosis) []int64 {
	out := make([]int64, 0, len(eds))
	for _, ed := range eds {
		out = append(out, ed.DiagnosisID)
	}
	return out
}

func eventDiagnosis(t *testing.T, graph domain.EventGraph, diagnosisID int64) domain.EventDiagnosis {
	t.Helper()
	for _, ed := range graph.EventDiagnoses {
		if ed.DiagnosisID == diagnosisID {
			return ed
		}
	}
	t.Fatalf("event %d has no diagnosis %d: %v", graph.Event.ID, diagnosisID, diagnosisIDs(graph.EventDiagnoses))
	return domain.EventDiagnosis{}
}

// assertConsistent runs every invariant over the committed state.
func assertConsistent(t *testing.T, svc *Service) {
	t.Helper()
	violations, err := svc.CheckInvariants(context.Background())
	if err != nil {
		t.Fatalf("check invariants: %v", err)
	}
	if len(violations) != 0 {
		t.Fatalf("unexpected violations: %+v", violations)
	}
}

type captureNotifier struct {
	mu       sync.Mutex
	messages []notify.Message
	err      error
}

func (c *captureNotifier) Notify(_ context.Context, msg notify.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
	return c.err
}

func (c *captureNotifier) kinds() []notify.Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]notify.Kind, 0, len(c.messages))
	for _, m := range c.messages {
		out = append(out, m.Kind)
	}
	return out
}

type captureArchiver struct {
	graphs []domain.EventGraph
	err    error
}

func (c *captureArchiver) Archive(_ context.Context, graph domain.EventGraph) (string, error) {
	c.graphs = append(c.graphs, graph)
	return "events/archived.json", c.err
}
