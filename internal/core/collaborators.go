package core

import (
	"context"
	"errors"

	"whispers/internal/geocode"
	"whispers/internal/notify"
	"whispers/pkg/domain"
)

type (
	// Geocoder resolves coordinates during location enrichment.
	Geocoder = geocode.Geocoder
	// Notifier delivers post-commit notifications.
	Notifier = notify.Dispatcher
)

// Archiver stores the graph of a deleted event and returns its key.
type Archiver interface {
	Archive(ctx context.Context, graph domain.EventGraph) (string, error)
}

// sideEffects collects work that runs only after a transaction commits.
type sideEffects struct {
	created            *domain.Event
	completed          *domain.Event
	confirmedDiagnoses []domain.EventDiagnosis
	archive            *domain.EventGraph
}

func (e *sideEffects) confirm(ed domain.EventDiagnosis) {
	for _, existing := range e.confirmedDiagnoses {
		if existing.DiagnosisID == ed.DiagnosisID && existing.EventID == ed.EventID {
			return
		}
	}
	e.confirmedDiagnoses = append(e.confirmedDiagnoses, ed)
}

// dispatch runs the collected side effects. Failures are logged and never
// returned since the data is already committed.
func (s *Service) dispatch(ctx context.Context, req Requester, cfg Configuration, fx *sideEffects) {
	if fx == nil {
		return
	}
	if fx.archive != nil && s.archiver != nil {
		key, err := s.archiver.Archive(ctx, *fx.archive)
		if err != nil {
			s.logger.Error("archive deleted event", "event", fx.archive.Event.ID, "error", err)
		} else {
			s.logger.Info("archived deleted event", "event", fx.archive.Event.ID, "key", key)
		}
	}
	if s.notifier == nil || s.renderer == nil {
		return
	}
	recipients := func(extra string) []string {
		out := []string{cfg.WhispersEmail}
		if extra != "" && extra != cfg.WhispersEmail {
			out = append(out, extra)
		}
		return out
	}
	if ev := fx.created; ev != nil {
		s.send(ctx, notify.KindEventCreated, recipients(req.Email), notify.EventCreatedData{
			EventID:   ev.ID,
			UserID:    req.UserID,
			EventType: eventTypeName(ev.EventType),
			Reference: ev.EventReference,
			Locations: s.countLocations(ctx, ev.ID),
		})
	}
	if ev := fx.completed; ev != nil {
		s.send(ctx, notify.KindEventCompleted, recipients(req.Email), notify.EventCompletedData{
			EventID:   ev.ID,
			UserID:    req.UserID,
			Diagnoses: s.diagnosisNames(ctx, ev.ID),
		})
	}
	for _, ed := range fx.confirmedDiagnoses {
		s.send(ctx, notify.KindDiagnosisConfirmed, recipients(""), notify.DiagnosisConfirmedData{
			EventID:   ed.EventID,
			Diagnosis: s.diagnosisName(ed.DiagnosisID),
		})
	}
}

func (s *Service) send(ctx context.Context, kind notify.Kind, to []string, data any) {
	msg, err := s.renderer.Render(kind, to, data)
	if err != nil {
		s.logger.Error("render notification", "kind", kind, "error", err)
		return
	}
	if err := s.notifier.Notify(ctx, msg); err != nil {
		s.logger.Error("send notification", "kind", kind, "message_id", msg.ID, "error", err)
	}
}

// alertConfiguration emails the administrator the first time a distinct
// configuration failure is seen.
func (s *Service) alertConfiguration(ctx context.Context, err error) {
	if !s.config.firstReport(err) {
		return
	}
	var missing []string
	var cfgErr domain.ConfigurationError
	if errors.As(err, &cfgErr) {
		missing = cfgErr.Missing
	}
	s.logger.Error("configuration error", "missing", missing)
	if s.notifier == nil || s.renderer == nil {
		return
	}
	s.send(ctx, notify.KindConfigurationError, []string{s.config.Settings().AdminEmail}, notify.ConfigurationErrorData{Missing: missing})
}

func (s *Service) countLocations(ctx context.Context, eventID int64) int {
	n := 0
	_ = s.store.View(ctx, func(v domain.TransactionView) error {
		n = len(v.ListEventLocations(eventID))
		return nil
	})
	return n
}

func (s *Service) diagnosisNames(ctx context.Context, eventID int64) []string {
	var names []string
	_ = s.store.View(ctx, func(v domain.TransactionView) error {
		for _, ed := range v.ListEventDiagnoses(eventID) {
			names = append(names, s.diagnosisName(ed.DiagnosisID))
		}
		return nil
	})
	return names
}

func (s *Service) diagnosisName(id int64) string {
	if d, ok := s.ref.Diagnosis(id); ok {
		return d.Name
	}
	return ""
}

func eventTypeName(t domain.EventType) string {
	switch t {
	case domain.EventTypeMortalityMorbidity:
		return "Mortality/Morbidity"
	case domain.EventTypeSurveillance:
		return "Surveillance"
	}
	return "Other"
}
