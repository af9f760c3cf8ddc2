package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

type sendgridClient interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendgridDispatcher delivers messages through the Sendgrid v3 API.
type SendgridDispatcher struct {
	client   sendgridClient
	from     string
	fromName string
}

// NewSendgridDispatcher constructs a dispatcher using apiKey.
func NewSendgridDispatcher(apiKey, from, fromName string) (*SendgridDispatcher, error) {
	if apiKey == "" {
		return nil, errors.New("sendgrid api key is required")
	}
	if from == "" {
		return nil, errors.New("sendgrid sender address is required")
	}
	return &SendgridDispatcher{client: sendgrid.NewSendClient(apiKey), from: from, fromName: fromName}, nil
}

// Notify sends msg to every recipient in one request.
func (d *SendgridDispatcher) Notify(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return nil
	}
	email := mail.NewV3Mail()
	email.SetFrom(mail.NewEmail(d.fromName, d.from))
	email.Subject = msg.Subject
	p := mail.NewPersonalization()
	for _, to := range msg.To {
		p.AddTos(mail.NewEmail("", to))
	}
	email.AddPersonalizations(p)
	email.AddContent(mail.NewContent("text/plain", msg.Text), mail.NewContent("text/html", msg.HTML))
	email.SetHeader("X-Whispers-Message-Id", msg.ID)

	response, err := d.client.SendWithContext(ctx, email)
	if err != nil {
		return fmt.Errorf("send %s via sendgrid: %w", msg.Kind, err)
	}
	if response.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected sendgrid status code: %d, body: %s", response.StatusCode, response.Body)
	}
	return nil
}
