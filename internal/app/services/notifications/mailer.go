package notifications

import (
	"context"

	"github.com/civicworks/grantflow/pkg/logger"
	"github.com/google/uuid"
)

// LogMailer writes outbound mail to the log instead of delivering it.
// Default for development and tests; production wires a real transport.
type LogMailer struct {
	log *logger.Logger
}

var _ Mailer = (*LogMailer)(nil)

func NewLogMailer(log *logger.Logger) *LogMailer {
	if log == nil {
		log = logger.NewDefault("mailer")
	}
	return &LogMailer{log: log}
}

func (m *LogMailer) Send(_ context.Context, to, subject, body string) (string, error) {
	id := uuid.NewString()
	m.log.WithField("to", to).
		WithField("subject", subject).
		WithField("message_id", id).
		WithField("bytes", len(body)).
		Info("mail logged instead of sent")
	return id, nil
}
