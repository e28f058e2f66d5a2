// Package mail sends the account notification emails.
package mail

import (
	"context"
	"log/slog"
)

// Message is a plain-text email to one recipient.
type Message struct {
	To      string
	Subject string
	Text    string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// ConsoleSender logs messages instead of sending them. Used when no
// SendGrid key is configured.
type ConsoleSender struct {
	logger *slog.Logger
}

// NewConsoleSender creates a ConsoleSender.
func NewConsoleSender(logger *slog.Logger) *ConsoleSender {
	return &ConsoleSender{logger: logger}
}

func (s *ConsoleSender) Send(_ context.Context, msg Message) error {
	s.logger.Info("Email (console sender)", "to", msg.To, "subject", msg.Subject, "body", msg.Text)
	return nil
}
