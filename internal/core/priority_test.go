package core

import (
	"cmp"
	"testing"

	"whispers/pkg/domain"
)

type ranked struct {
	id   int64
	name string
}

func byName(a, b ranked) int {
	if c := compareNames(a.name, b.name); c != 0 {
		return c
	}
	return cmp.Compare(a.id, b.id)
}

func priorityOf(out []Ranked[ranked]) map[int64]int {
	m := make(map[int64]int, len(out))
	for _, r := range out {
		m[r.Record.id] = r.Priority
	}
	return m
}

func TestAssignPriority(t *testing.T) {
	siblings := []ranked{{1, "delta"}, {2, "alpha"}, {3, "charlie"}}

	rank, out := AssignPriority(ranked{9, "bravo"}, siblings, byName)
	if rank != 2 {
		t.Fatalf("expected bravo at 2, got %d", rank)
	}
	want := map[int64]int{2: 1, 3: 3, 1: 4}
	for id, p := range want {
		if got := priorityOf(out)[id]; got != p {
			t.Fatalf("sibling %d: expected %d, got %d (%+v)", id, p, got, out)
		}
	}

	rank, out = AssignPriority(ranked{9, "zulu"}, siblings, byName)
	if rank != 4 {
		t.Fatalf("expected last rank 4, got %d", rank)
	}
	if got := priorityOf(out); got[2] != 1 || got[3] != 2 || got[1] != 3 {
		t.Fatalf("unexpected sibling ranks %v", got)
	}

	rank, out = AssignPriority(ranked{9, "solo"}, nil, byName)
	if rank != 1 || len(out) != 0 {
		t.Fatalf("lone target should rank 1, got %d %v", rank, out)
	}
}

func TestAssignPriorityTiesPlaceTargetFirst(t *testing.T) {
	sameName := func(a, b ranked) int { return compareNames(a.name, b.name) }
	rank, out := AssignPriority(ranked{9, "alpha"}, []ranked{{1, "alpha"}}, sameName)
	if rank != 1 || priorityOf(out)[1] != 2 {
		t.Fatalf("expected target before equal sibling, got %d %v", rank, out)
	}
}

func TestRenumberIsDenseAndStable(t *testing.T) {
	out := Renumber([]ranked{{4, "b"}, {2, "a"}, {7, "b"}, {1, "c"}}, func(a, b ranked) int {
		return compareNames(a.name, b.name)
	})
	got := priorityOf(out)
	want := map[int64]int{2: 1, 4: 2, 7: 3, 1: 4}
	for id, p := range want {
		if got[id] != p {
			t.Fatalf("record %d: expected %d, got %d", id, p, got[id])
		}
	}
}

func TestCompareNilLowest(t *testing.T) {
	one, two := domain.Int64Ptr(1), domain.Int64Ptr(2)
	cases := []struct {
		a, b *int64
		want int
	}{
		{nil, nil, 0},
		{nil, one, -1},
		{one, nil, 1},
		{one, two, -1},
		{two, one, 1},
		{two, domain.Int64Ptr(2), 0},
	}
	for _, tc := range cases {
		if got := compareNilLowest(tc.a, tc.b); got != tc.want {
			t.Fatalf("compareNilLowest(%v, %v) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestSpeciesDiagnosesRankByCauseThenName(t *testing.T) {
	svc := newTestService(t)
	withCause := func(dp SpeciesDiagnosisPayload, cause *int64) SpeciesDiagnosisPayload {
		dp.CauseID = cause
		return dp
	}
	graph := mustCreate(t, svc, mortalityEvent(locationPayload(countyDane, "2024-05-01", deadSpecies(spMallard, 4,
		withCause(suspect(dxAvianInfluenza), domain.Int64Ptr(2)),
		withCause(suspect(dxAvianBotulism), domain.Int64Ptr(2)),
		withCause(suspect(dxEmaciation), nil),
	))))
	got := map[int64]int{}
	for _, sd := range graph.SpeciesDiagnoses {
		got[sd.DiagnosisID] = sd.Priority
	}
	want := map[int64]int{dxEmaciation: 1, dxAvianBotulism: 2, dxAvianInfluenza: 3}
	for id, p := range want {
		if got[id] != p {
			t.Fatalf("diagnosis %d: expected priority %d, got %d (%v)", id, p, got[id], got)
		}
	}
}
