// Package notify delivers reminder and account emails and runs the periodic
// jobs that flush snoozed reminders and purge expired sessions.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Message is a plain-text email addressed to a single recipient.
type Message struct {
	ToName  string
	To      string
	Subject string
	Body    string
}

// Sender delivers a Message.
type Sender interface {
	Send(ctx context.Context, message Message) error
}

type mailClient interface {
	SendWithContext(ctx context.Context, email *sgmail.SGMailV3) (*rest.Response, error)
}

// SendGridSender sends messages through the SendGrid v3 API.
type SendGridSender struct {
	client mailClient
	from   *sgmail.Email
}

// NewSendGridSender builds a sender for apiKey. from accepts either a bare
// address or the "Name <address>" form.
func NewSendGridSender(apiKey, from string) (*SendGridSender, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("sendgrid api key is empty")
	}
	return newSendGridSender(sendgrid.NewSendClient(apiKey), from)
}

func newSendGridSender(client mailClient, from string) (*SendGridSender, error) {
	address, err := mail.ParseAddress(from)
	if err != nil {
		return nil, fmt.Errorf("parse sender address %q: %w", from, err)
	}
	name := address.Name
	if name == "" {
		name = "MedReminder"
	}
	return &SendGridSender{client: client, from: sgmail.NewEmail(name, address.Address)}, nil
}

// Send implements Sender.
func (s *SendGridSender) Send(ctx context.Context, message Message) error {
	email := sgmail.NewV3Mail()
	email.SetFrom(s.from)
	email.Subject = message.Subject

	personalization := sgmail.NewPersonalization()
	personalization.AddTos(sgmail.NewEmail(message.ToName, message.To))
	email.AddPersonalizations(personalization)
	email.AddContent(sgmail.NewContent("text/plain", message.Body))

	resp, err := s.client.SendWithContext(ctx, email)
	if err != nil {
		return fmt.Errorf("while sending mail through SendGrid: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("non-2XX response while sending mail through SendGrid: %d %s", resp.StatusCode, resp.Body)
	}
	return nil
}

// LogSender writes messages to a logger instead of delivering them. It is
// used when no SendGrid key is configured.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender returns a LogSender. A nil logger uses slog.Default.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

// Send implements Sender.
func (s *LogSender) Send(ctx context.Context, message Message) error {
	s.logger.InfoContext(ctx, "notification",
		"to", message.To,
		"subject", message.Subject,
		"body", message.Body,
	)
	return nil
}
