// Package notify renders and dispatches email notifications raised after an
// event transaction commits.
package notify

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"text/template"

	"github.com/google/uuid"
)

//go:embed templates
var templateFS embed.FS

// Kind selects the template set and subject of a message.
type Kind string

const (
	KindEventCreated       Kind = "event_created"
	KindEventCompleted     Kind = "event_completed"
	KindDiagnosisConfirmed Kind = "diagnosis_confirmed"
	KindConfigurationError Kind = "configuration_error"
)

var subjects = map[Kind]string{
	KindEventCreated:       "WHISPers event {{.EventID}} created",
	KindEventCompleted:     "WHISPers event {{.EventID}} completed",
	KindDiagnosisConfirmed: "WHISPers event {{.EventID}}: {{.Diagnosis}} confirmed",
	KindConfigurationError: "WHISPers configuration error",
}

// EventCreatedData feeds the event_created templates.
type EventCreatedData struct {
	EventID   int64
	UserID    int64
	EventType string
	Reference string
	Locations int
}

// EventCompletedData feeds the event_completed templates.
type EventCompletedData struct {
	EventID   int64
	UserID    int64
	Diagnoses []string
}

// DiagnosisConfirmedData feeds the diagnosis_confirmed templates.
type DiagnosisConfirmedData struct {
	EventID   int64
	Diagnosis string
}

// ConfigurationErrorData feeds the configuration_error templates.
type ConfigurationErrorData struct {
	Missing []string
}

// Message is a rendered notification ready for delivery.
type Message struct {
	ID      string
	Kind    Kind
	To      []string
	Subject string
	Text    string
	HTML    string
}

// Dispatcher delivers messages.
type Dispatcher interface {
	Notify(ctx context.Context, msg Message) error
}

type templateSet struct {
	subject *template.Template
	text    *template.Template
	html    *htmltemplate.Template
}

// Renderer turns notification data into messages using the embedded templates.
type Renderer struct {
	sets map[Kind]templateSet
}

// NewRenderer parses every embedded template set.
func NewRenderer() (*Renderer, error) {
	r := &Renderer{sets: make(map[Kind]templateSet, len(subjects))}
	for kind, subject := range subjects {
		dir := "templates/" + string(kind)
		text, err := template.ParseFS(templateFS, dir+"/plaintext.tmpl")
		if err != nil {
			return nil, fmt.Errorf("parse %s plaintext template: %w", kind, err)
		}
		html, err := htmltemplate.ParseFS(templateFS, dir+"/html.tmpl")
		if err != nil {
			return nil, fmt.Errorf("parse %s html template: %w", kind, err)
		}
		subj, err := template.New(string(kind)).Parse(subject)
		if err != nil {
			return nil, fmt.Errorf("parse %s subject: %w", kind, err)
		}
		r.sets[kind] = templateSet{subject: subj, text: text, html: html}
	}
	return r, nil
}

// Render builds a message of kind for the recipients.
func (r *Renderer) Render(kind Kind, to []string, data any) (Message, error) {
	set, ok := r.sets[kind]
	if !ok {
		return Message{}, fmt.Errorf("template %s not found", kind)
	}
	var subject, text, html bytes.Buffer
	if err := set.subject.Execute(&subject, data); err != nil {
		return Message{}, fmt.Errorf("render %s subject: %w", kind, err)
	}
	if err := set.text.Execute(&text, data); err != nil {
		return Message{}, fmt.Errorf("render %s plaintext: %w", kind, err)
	}
	if err := set.html.Execute(&html, data); err != nil {
		return Message{}, fmt.Errorf("render %s html: %w", kind, err)
	}
	return Message{
		ID:      uuid.NewString(),
		Kind:    kind,
		To:      append([]string(nil), to...),
		Subject: subject.String(),
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}
