package notify

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
)

// LogDispatcher writes messages to a zerolog logger instead of sending them.
// It is the default when no Sendgrid key is configured.
type LogDispatcher struct {
	logger zerolog.Logger
}

// NewLogDispatcher constructs a dispatcher that logs through logger.
func NewLogDispatcher(logger zerolog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

// Notify logs msg at info level.
func (d *LogDispatcher) Notify(_ context.Context, msg Message) error {
	d.logger.Info().
		Str("message_id", msg.ID).
		Str("kind", string(msg.Kind)).
		Str("to", strings.Join(msg.To, ",")).
		Str("subject", msg.Subject).
		Msg(strings.TrimSpace(msg.Text))
	return nil
}
