package core

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"whispers/pkg/domain"
)

type captureAudit struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (c *captureAudit) Record(_ context.Context, e AuditEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, e)
}

type observation struct {
	op      string
	success bool
}

type captureMetrics struct {
	mu  sync.Mutex
	obs []observation
}

func (c *captureMetrics) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.obs = append(c.obs, observation{op, success})
}

type captureLogger struct {
	mu    sync.Mutex
	lines []string
}

func (c *captureLogger) log(level, msg string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, fmt.Sprintf("%s %s %v", level, msg, args))
}

func (c *captureLogger) Debug(msg string, args ...any) { c.log("DEBUG", msg, args...) }
func (c *captureLogger) Info(msg string, args ...any)  { c.log("INFO", msg, args...) }
func (c *captureLogger) Warn(msg string, args ...any)  { c.log("WARN", msg, args...) }
func (c *captureLogger) Error(msg string, args ...any) { c.log("ERROR", msg, args...) }

func TestServiceObservability(t *testing.T) {
	audit := &captureAudit{}
	metrics := &captureMetrics{}
	var traceBuf bytes.Buffer
	tracer := NewJSONTracer(&traceBuf)
	logger := &captureLogger{}
	svc := newTestService(t,
		WithAuditRecorder(audit),
		WithMetricsRecorder(metrics),
		WithTracer(tracer),
		WithLogger(logger),
	)
	ctx := context.Background()

	graph := mustCreate(t, svc, mortalityEvent())
	if _, err := svc.GetEvent(ctx, graph.Event.ID); err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := svc.DeleteEventLocation(ctx, owner, graph.Locations[0].ID); err == nil {
		t.Fatalf("expected last-location error")
	}

	if len(audit.entries) != 2 {
		t.Fatalf("reads must not be audited, got %+v", audit.entries)
	}
	created := audit.entries[0]
	if created.Operation != "create_event" || created.Entity != domain.EntityEvent || created.Action != domain.ActionCreate ||
		created.EntityID != graph.Event.ID || created.UserID != owner.UserID || created.Status != AuditStatusSuccess {
		t.Fatalf("unexpected create audit entry %+v", created)
	}
	if !created.Timestamp.Equal(fixedClock().Now()) {
		t.Fatalf("audit timestamp should come from the service clock, got %v", created.Timestamp)
	}
	failed := audit.entries[1]
	if failed.Entity != domain.EntityEventLocation || failed.Action != domain.ActionDelete ||
		failed.Status != AuditStatusError || !strings.Contains(failed.Error, "at least one location") {
		t.Fatalf("unexpected failure audit entry %+v", failed)
	}

	want := []observation{{"create_event", true}, {"get_event", true}, {"delete_event_location", false}}
	if fmt.Sprint(metrics.obs) != fmt.Sprint(want) {
		t.Fatalf("metrics = %v, want %v", metrics.obs, want)
	}

	entries := tracer.Entries()
	if len(entries) != 3 || entries[2].Status != string(AuditStatusError) || entries[2].Error == "" {
		t.Fatalf("unexpected spans %+v", entries)
	}
	scanner := bufio.NewScanner(&traceBuf)
	lines := 0
	for scanner.Scan() {
		var e JSONTraceEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("trace line %q: %v", scanner.Text(), err)
		}
		lines++
	}
	if lines != 3 {
		t.Fatalf("expected 3 trace lines, got %d", lines)
	}

	warned := false
	for _, line := range logger.lines {
		if strings.HasPrefix(line, "WARN operation failed") {
			warned = true
		}
	}
	if !warned {
		t.Fatalf("expected a warning for the failed operation: %v", logger.lines)
	}
}

func TestPrometheusMetricsRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	ctx := context.Background()
	rec.Observe(ctx, "create_event", true, 12*time.Millisecond)
	rec.Observe(ctx, "create_event", false, time.Millisecond)
	rec.Observe(ctx, "create_event", true, time.Millisecond)
	rec.Observe(ctx, "", true, time.Millisecond)

	if got := testutil.ToFloat64(rec.results.WithLabelValues("create_event", "success")); got != 2 {
		t.Fatalf("success count = %v", got)
	}
	if got := testutil.ToFloat64(rec.results.WithLabelValues("create_event", "error")); got != 1 {
		t.Fatalf("error count = %v", got)
	}
	if n := testutil.CollectAndCount(rec.duration, "whispers_core_operation_duration_seconds"); n != 1 {
		t.Fatalf("expected one histogram series, got %d", n)
	}

	if _, err := NewPrometheusMetricsRecorder(reg); err == nil {
		t.Fatalf("registering twice on one registry must fail")
	}
}

func TestLogAuditRecorder(t *testing.T) {
	logger := &captureLogger{}
	rec := NewLogAuditRecorder(logger)
	rec.Record(context.Background(), AuditEntry{
		Operation: "update_event",
		Entity:    domain.EntityEvent,
		Action:    domain.ActionUpdate,
		EntityID:  4,
		Status:    AuditStatusError,
		Error:     "boom",
	})
	if len(logger.lines) != 1 {
		t.Fatalf("expected one line, got %v", logger.lines)
	}
	line := logger.lines[0]
	for _, want := range []string{"INFO audit", "update_event", "error boom"} {
		if !strings.Contains(line, want) {
			t.Fatalf("line %q missing %q", line, want)
		}
	}
	// A nil logger is replaced with a no-op.
	NewLogAuditRecorder(nil).Record(context.Background(), AuditEntry{})
}

func TestJSONTracerWithoutWriter(t *testing.T) {
	tracer := NewJSONTracer(nil)
	_, span := tracer.Start(context.Background(), "check_invariants")
	span.End(errors.New("broken"))
	span.End(nil)
	entries := tracer.Entries()
	if len(entries) != 1 || entries[0].Operation != "check_invariants" || entries[0].Error != "broken" {
		t.Fatalf("unexpected entries %+v", entries)
	}
}

func TestAuditTarget(t *testing.T) {
	cases := map[string]struct {
		entity domain.EntityType
		action domain.Action
		ok     bool
	}{
		"create_species_diagnosis":  {domain.EntitySpeciesDiagnosis, domain.ActionCreate, true},
		"recompute_event":           {domain.EntityEvent, domain.ActionUpdate, true},
		"delete_event_organization": {domain.EntityEventOrganization, domain.ActionDelete, true},
		"get_event":                 {"", "", false},
		"check_invariants":          {"", "", false},
		"create_widget":             {"", "", false},
	}
	for op, want := range cases {
		entity, action, ok := auditTarget(op)
		if entity != want.entity || action != want.action || ok != want.ok {
			t.Fatalf("auditTarget(%q) = %q %q %v", op, entity, action, ok)
		}
	}
}
