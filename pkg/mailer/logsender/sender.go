// Package logsender provides a mailer.Sender that only logs messages.
// It is meant for local development and staging environments where no
// email must leave the process.
package logsender

import (
	"context"
	"log/slog"

	"github.com/hybridprotocol/newsletter/pkg/id"
	"github.com/hybridprotocol/newsletter/pkg/mailer"
)

// Sender logs every email and returns a generated message id.
type Sender struct {
	logger *slog.Logger
}

// New creates a log-only sender.
func New(logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{logger: logger}
}

// Send implements mailer.Sender.
func (s *Sender) Send(ctx context.Context, email *mailer.Email) (string, error) {
	if err := email.Validate(); err != nil {
		return "", err
	}

	msgID := "log-" + id.NewULID()
	s.logger.InfoContext(ctx, "email delivered to log",
		slog.String("message_id", msgID),
		slog.String("to", email.To),
		slog.String("subject", email.Subject),
		slog.Int("html_bytes", len(email.HTML)),
		slog.Int("text_bytes", len(email.Text)),
	)
	return msgID, nil
}
