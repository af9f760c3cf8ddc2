package core

import (
	"context"
	"errors"
	"fmt"

	"whispers/internal/infra/persistence/memory"
	"whispers/internal/notify"
	"whispers/pkg/domain"
)

// Service applies nested event mutations as single transactions and keeps
// the derived fields of the event graph consistent.
type Service struct {
	store    domain.PersistentStore
	config   *ConfigResolver
	ref      ReferenceData
	validate *Validator
	renderer *notify.Renderer

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

// NewService constructs a service backed by the supplied store. The store's
// rules engine should come from NewDefaultRulesEngine over the same config.
func NewService(store domain.PersistentStore, config *ConfigResolver, opts ...ServiceOption) *Service {
	o := defaultServiceOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.locker == nil {
		o.locker = NewLocalLocker(DefaultLockTimeout)
	}
	s := &Service{
		store:    store,
		config:   config,
		ref:      config.Reference(),
		clock:    o.clock,
		logger:   o.logger,
		audit:    o.audit,
		metrics:  o.metrics,
		tracer:   o.tracer,
		locker:   o.locker,
		geocoder: o.geocoder,
		notifier: o.notifier,
		archiver: o.archiver,
	}
	s.validate = NewValidator(s.ref, s.clock.Now)
	if s.notifier != nil {
		renderer, err := notify.NewRenderer()
		if err != nil {
			s.logger.Error("load notification templates", "error", err)
		}
		s.renderer = renderer
	}
	return s
}

// NewInMemoryService creates a service over a fresh in-memory store.
func NewInMemoryService(config *ConfigResolver, opts ...ServiceOption) *Service {
	return NewService(memory.NewStore(NewDefaultRulesEngine(config)), config, opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.PersistentStore {
	return s.store
}

// configuration resolves the sentinel configuration and alerts the operator
// on the first occurrence of each distinct failure.
func (s *Service) configuration(ctx context.Context) (Configuration, error) {
	cfg, err := s.config.Configuration()
	if err != nil {
		s.alertConfiguration(ctx, err)
		return Configuration{}, err
	}
	return cfg, nil
}

// mutate runs fn inside one transaction holding the lock of eventID (when
// non-zero), then dispatches the collected side effects.
func (s *Service) mutate(ctx context.Context, op string, req Requester, eventID int64, fn func(p *pipeline) (int64, error)) (domain.Result, error) {
	var res domain.Result
	err := s.observe(ctx, op, req, func(ctx context.Context) (int64, error) {
		cfg, err := s.configuration(ctx)
		if err != nil {
			return 0, err
		}
		var (
			id int64
			fx *sideEffects
		)
		res, id, fx, err = s.commit(ctx, op, cfg, eventID, fn)
		if err != nil {
			return id, err
		}
		s.dispatch(ctx, req, cfg, fx)
		return id, nil
	})
	return res, err
}

func (s *Service) commit(ctx context.Context, op string, cfg Configuration, eventID int64, fn func(p *pipeline) (int64, error)) (domain.Result, int64, *sideEffects, error) {
	if eventID != 0 {
		release, err := s.locker.Lock(ctx, eventID)
		if err != nil {
			return domain.Result{}, eventID, nil, err
		}
		defer release()
	}
	var (
		id int64
		fx *sideEffects
	)
	res, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		p := newPipeline(tx, cfg, s.ref)
		var err error
		id, err = fn(p)
		fx = p.fx
		return err
	})
	if err != nil {
		var rve domain.RuleViolationError
		if errors.As(err, &rve) {
			return res, id, nil, domain.InvariantError{Op: op, Err: rve}
		}
		return res, id, nil, err
	}
	return res, id, fx, nil
}

// openEvent returns the event for a structural mutation, refusing complete
// events.
func openEvent(view domain.TransactionView, eventID int64) (domain.Event, error) {
	event, ok := view.FindEvent(eventID)
	if !ok {
		return domain.Event{}, domain.NotFoundError{Entity: domain.EntityEvent, ID: eventID}
	}
	if event.Complete {
		return domain.Event{}, domain.NewValidationError(fmt.Sprintf("event %d is complete; reopen it before changing its records", eventID))
	}
	return event, nil
}

// CreateEvent validates p and creates the event with its whole subtree. It
// returns the committed graph.
func (s *Service) CreateEvent(ctx context.Context, req Requester, p EventPayload) (domain.EventGraph, domain.Result, error) {
	var geoProblems []string
	for i := range p.Locations {
		geoProblems = append(geoProblems, s.enrichLocation(ctx, fmt.Sprintf("location %d", i+1), &p.Locations[i])...)
	}
	var eventID int64
	res, err := s.mutate(ctx, "create_event", req, 0, func(pl *pipeline) (int64, error) {
		if err := withProblems(s.validate.ValidateEventPayload(pl.cfg, p), geoProblems); err != nil {
			return 0, err
		}
		public := true
		if p.Public != nil {
			public = *p.Public
		}
		created, err := pl.tx.CreateEvent(domain.Event{
			EventType:             p.EventType,
			EventReference:        p.EventReference,
			Public:                public,
			CreatedBy:             req.UserID,
			CreatedByOrganization: req.OrganizationID,
			ReadCollaborators:     append([]int64(nil), p.ReadCollaborators...),
			WriteCollaborators:    append([]int64(nil), p.WriteCollaborators...),
			EventGroupIDs:         append([]int64(nil), p.EventGroupIDs...),
		})
		if err != nil {
			return 0, err
		}
		eventID = created.ID
		if err := pl.OnEventSaved(created, nil); err != nil {
			return eventID, err
		}
		for _, lp := range p.Locations {
			if _, err := s.createLocationTree(pl, eventID, lp); err != nil {
				return eventID, err
			}
		}
		for _, edp := range p.EventDiagnoses {
			if _, err := s.createEventDiagnosis(pl, eventID, edp); err != nil {
				return eventID, err
			}
		}
		orgs := p.Organizations
		if len(orgs) == 0 && req.OrganizationID != 0 {
			orgs = []int64{req.OrganizationID}
		}
		for _, orgID := range orgs {
			if _, err := s.createEventOrganization(pl, eventID, orgID); err != nil {
				return eventID, err
			}
		}
		if p.Complete {
			before, _ := pl.tx.FindEvent(eventID)
			completed, err := pl.tx.UpdateEvent(eventID, func(e *domain.Event) error {
				e.Complete = true
				return nil
			})
			if err != nil {
				return eventID, err
			}
			if err := pl.OnEventSaved(completed, &before); err != nil {
				return eventID, err
			}
		}
		final, _ := pl.tx.FindEvent(eventID)
		pl.fx.created = &final
		return eventID, nil
	})
	if err != nil {
		return domain.EventGraph{}, res, err
	}
	graph, err := s.loadGraph(ctx, eventID)
	return graph, res, err
}

// UpdateEvent applies u to the event. Complete events accept only a
// quality_check change by an administrator or a reopen by the owner or an org
// admin/manager of the owner's organization. Completing runs the completion
// gate against the persisted graph.
func (s *Service) UpdateEvent(ctx context.Context, req Requester, id int64, u EventUpdate) (domain.Event, domain.Result, error) {
	var updated domain.Event
	res, err := s.mutate(ctx, "update_event", req, id, func(pl *pipeline) (int64, error) {
		if err := s.validate.structural(u).err(); err != nil {
			return id, err
		}
		before, ok := pl.tx.FindEvent(id)
		if !ok {
			return id, domain.NotFoundError{Entity: domain.EntityEvent, ID: id}
		}
		if err := checkEventUpdate(req, before, u); err != nil {
			return id, err
		}
		if u.Complete != nil && *u.Complete && !before.Complete {
			after := before
			u.apply(&after)
			if err := s.validate.CompletionProblems(pl.tx, after); err != nil {
				return id, err
			}
		}
		next, err := pl.tx.UpdateEvent(id, func(e *domain.Event) error {
			u.apply(e)
			return nil
		})
		if err != nil {
			return id, err
		}
		if next.EventType != before.EventType {
			if err := pl.RenumberEvent(id); err != nil {
				return id, err
			}
			if _, err := RecomputeEventAggregates(pl.tx, id); err != nil {
				return id, err
			}
		}
		if err := pl.OnEventSaved(next, &before); err != nil {
			return id, err
		}
		updated, _ = pl.tx.FindEvent(id)
		return id, nil
	})
	return updated, res, err
}

func checkEventUpdate(req Requester, before domain.Event, u EventUpdate) error {
	if u.QualityCheck != nil && !req.IsAdmin() {
		return domain.NewValidationError("only administrators may set quality_check")
	}
	if !before.Complete {
		return nil
	}
	switch {
	case u.onlyQualityCheck():
		return nil
	case u.reopens():
		if !req.CanReopen(before) {
			return domain.NewValidationError(fmt.Sprintf("only the owner of event %d or an administrator or manager of its organization may reopen it", before.ID))
		}
		return nil
	}
	return domain.NewValidationError(fmt.Sprintf("event %d is complete; only quality_check may change or the event may be reopened", before.ID))
}

// DeleteEvent removes the event and its subtree, bottom-up, and archives the
// removed graph after commit.
func (s *Service) DeleteEvent(ctx context.Context, req Requester, id int64) (domain.Result, error) {
	return s.mutate(ctx, "delete_event", req, id, func(pl *pipeline) (int64, error) {
		graph, ok := domain.LoadEventGraph(pl.tx, id)
		if !ok {
			return id, domain.NotFoundError{Entity: domain.EntityEvent, ID: id}
		}
		for _, sd := range graph.SpeciesDiagnoses {
			if err := pl.tx.DeleteSpeciesDiagnosis(sd.ID); err != nil {
				return id, err
			}
		}
		for _, ls := range graph.Species {
			if err := pl.tx.DeleteLocationSpecies(ls.ID); err != nil {
				return id, err
			}
		}
		for _, loc := range graph.Locations {
			if err := pl.tx.DeleteEventLocation(loc.ID); err != nil {
				return id, err
			}
		}
		for _, ed := range graph.EventDiagnoses {
			if err := pl.tx.DeleteEventDiagnosis(ed.ID); err != nil {
				return id, err
			}
		}
		for _, eo := range graph.EventOrganizations {
			if err := pl.tx.DeleteEventOrganization(eo.ID); err != nil {
				return id, err
			}
		}
		if err := pl.tx.DeleteEvent(id); err != nil {
			return id, err
		}
		pl.fx.archive = &graph
		return id, nil
	})
}

// GetEvent returns the committed graph of an event.
func (s *Service) GetEvent(ctx context.Context, id int64) (domain.EventGraph, error) {
	var graph domain.EventGraph
	err := s.observe(ctx, "get_event", Requester{}, func(ctx context.Context) (int64, error) {
		var err error
		graph, err = s.loadGraph(ctx, id)
		return id, err
	})
	return graph, err
}

// ListEvents returns every committed event ordered by id.
func (s *Service) ListEvents(ctx context.Context) ([]domain.Event, error) {
	var events []domain.Event
	err := s.observe(ctx, "list_events", Requester{}, func(ctx context.Context) (int64, error) {
		return 0, s.store.View(ctx, func(v domain.TransactionView) error {
			events = v.ListEvents()
			return nil
		})
	})
	return events, err
}

func (s *Service) loadGraph(ctx context.Context, id int64) (domain.EventGraph, error) {
	var graph domain.EventGraph
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		g, ok := domain.LoadEventGraph(v, id)
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityEvent, ID: id}
		}
		graph = g
		return nil
	})
	return graph, err
}

// RecomputeEvent re-derives priorities, sentinel diagnoses, suspect flags and
// aggregates of one event. It repairs data written outside the service.
func (s *Service) RecomputeEvent(ctx context.Context, req Requester, id int64) (domain.Event, domain.Result, error) {
	var event domain.Event
	res, err := s.mutate(ctx, "recompute_event", req, id, func(pl *pipeline) (int64, error) {
		if err := pl.recompute(id); err != nil {
			return id, err
		}
		event, _ = pl.tx.FindEvent(id)
		return id, nil
	})
	return event, res, err
}

// RecomputeAll runs RecomputeEvent for every event and returns the ids that
// failed.
func (s *Service) RecomputeAll(ctx context.Context, req Requester) ([]int64, error) {
	events, err := s.ListEvents(ctx)
	if err != nil {
		return nil, err
	}
	var failed []int64
	var errs []error
	for _, ev := range events {
		if _, _, err := s.RecomputeEvent(ctx, req, ev.ID); err != nil {
			failed = append(failed, ev.ID)
			errs = append(errs, fmt.Errorf("event %d: %w", ev.ID, err))
		}
	}
	return failed, errors.Join(errs...)
}

// CheckInvariants evaluates the event invariants against every committed
// event and returns the violations found.
func (s *Service) CheckInvariants(ctx context.Context) ([]domain.Violation, error) {
	var violations []domain.Violation
	err := s.observe(ctx, "check_invariants", Requester{}, func(ctx context.Context) (int64, error) {
		if _, err := s.configuration(ctx); err != nil {
			return 0, err
		}
		engine := NewDefaultRulesEngine(s.config)
		return 0, s.store.View(ctx, func(v domain.TransactionView) error {
			res, err := engine.Evaluate(ctx, v, nil)
			if err != nil {
				return err
			}
			violations = res.Violations
			return nil
		})
	})
	return violations, err
}

// withProblems folds extra messages into a validation error.
func withProblems(err error, extra []string) error {
	if len(extra) == 0 {
		return err
	}
	if err == nil {
		return domain.NewValidationError(extra...)
	}
	var ve domain.ValidationError
	if errors.As(err, &ve) {
		return domain.NewValidationError(append(append([]string(nil), ve.Messages...), extra...)...)
	}
	return err
}
