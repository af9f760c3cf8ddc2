package core

import (
	"context"
	"strings"
	"time"

	"whispers/pkg/domain"
)

// Clock supplies the current time to the service.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// Logger is the structured logging surface used by the service.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// AuditStatus is the outcome of an audited operation.
type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// AuditEntry describes one service operation.
type AuditEntry struct {
	Operation string
	Entity    domain.EntityType
	Action    domain.Action
	EntityID  int64
	UserID    int64
	Status    AuditStatus
	Error     string
	Duration  time.Duration
	Timestamp time.Time
}

// AuditRecorder receives an entry for every mutating operation.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

type noopAuditRecorder struct{}

func (noopAuditRecorder) Record(context.Context, AuditEntry) {}

// MetricsRecorder observes operation latency and outcome.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) Observe(context.Context, string, bool, time.Duration) {}

// TraceSpan is ended exactly once with the operation error, if any.
type TraceSpan interface {
	End(err error)
}

// Tracer opens a span per service operation.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

type noopTracer struct{}

type noopSpan struct{}

func (noopSpan) End(error) {}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type serviceOptions struct {
	clock    Clock
	logger   Logger
	audit    AuditRecorder
	metrics  MetricsRecorder
	tracer   Tracer
	locker   EventLocker
	geocoder Geocoder
	notifier Notifier
	archiver Archiver
}

func defaultServiceOptions() serviceOptions {
	return serviceOptions{
		clock:   ClockFunc(func() time.Time { return time.Now().UTC() }),
		logger:  noopLogger{},
		audit:   noopAuditRecorder{},
		metrics: noopMetricsRecorder{},
		tracer:  noopTracer{},
	}
}

// ServiceOption configures a Service.
type ServiceOption func(*serviceOptions)

// WithClock overrides the time source.
func WithClock(clock Clock) ServiceOption {
	return func(o *serviceOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger Logger) ServiceOption {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithAuditRecorder sets the audit sink.
func WithAuditRecorder(recorder AuditRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.audit = recorder
		}
	}
}

// WithMetricsRecorder sets the metrics sink.
func WithMetricsRecorder(recorder MetricsRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.metrics = recorder
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(tracer Tracer) ServiceOption {
	return func(o *serviceOptions) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithEventLocker replaces the in-process per-event locker.
func WithEventLocker(locker EventLocker) ServiceOption {
	return func(o *serviceOptions) {
		if locker != nil {
			o.locker = locker
		}
	}
}

// WithGeocoder enables coordinate enrichment of locations.
func WithGeocoder(geocoder Geocoder) ServiceOption {
	return func(o *serviceOptions) {
		o.geocoder = geocoder
	}
}

// WithNotifier sets the post-commit notification dispatcher.
func WithNotifier(notifier Notifier) ServiceOption {
	return func(o *serviceOptions) {
		o.notifier = notifier
	}
}

// WithArchiver sets where deleted event graphs are written.
func WithArchiver(archiver Archiver) ServiceOption {
	return func(o *serviceOptions) {
		o.archiver = archiver
	}
}

// observe wraps one operation with tracing, metrics, logging and auditing.
// fn returns the id of the primary record it touched.
func (s *Service) observe(ctx context.Context, op string, req Requester, fn func(ctx context.Context) (int64, error)) error {
	ctx, span := s.tracer.Start(ctx, op)
	start := s.clock.Now()
	id, err := fn(ctx)
	duration := s.clock.Now().Sub(start)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, duration)
	if err != nil {
		s.logger.Warn("operation failed", "operation", op, "id", id, "user", req.UserID, "error", err)
		s.recordAudit(ctx, op, req, id, duration, err)
		return err
	}
	s.logger.Debug("operation completed", "operation", op, "id", id, "user", req.UserID, "duration", duration)
	s.recordAudit(ctx, op, req, id, duration, nil)
	return nil
}

// recordAudit maps op ("create_event_location") to entity and action and
// records the outcome. Read-only operations are not audited.
func (s *Service) recordAudit(ctx context.Context, op string, req Requester, id int64, duration time.Duration, err error) {
	entity, action, ok := auditTarget(op)
	if !ok {
		return
	}
	entry := AuditEntry{
		Operation: op,
		Entity:    entity,
		Action:    action,
		EntityID:  id,
		UserID:    req.UserID,
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: s.clock.Now(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
	}
	s.audit.Record(ctx, entry)
}

func auditTarget(op string) (domain.EntityType, domain.Action, bool) {
	verb, noun, ok := strings.Cut(op, "_")
	if !ok {
		return "", "", false
	}
	var action domain.Action
	switch verb {
	case "create":
		action = domain.ActionCreate
	case "update", "recompute":
		action = domain.ActionUpdate
	case "delete":
		action = domain.ActionDelete
	default:
		return "", "", false
	}
	switch domain.EntityType(noun) {
	case domain.EntityEvent, domain.EntityEventLocation, domain.EntityLocationSpecies,
		domain.EntitySpeciesDiagnosis, domain.EntityEventDiagnosis, domain.EntityEventOrganization:
		return domain.EntityType(noun), action, true
	}
	return "", "", false
}
