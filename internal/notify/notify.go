// Package notify delivers escalation alerts to the owning team.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/resolvd/support-ai-platform/internal/ticket"
	"github.com/resolvd/support-ai-platform/pkg/logging"
)

// EscalationNotifier alerts a human channel that a ticket escalated.
// Implementations can be swapped (SendGrid, SES, chat webhook) without
// changing callers.
type EscalationNotifier interface {
	NotifyEscalation(ctx context.Context, t ticket.Ticket, reasons []string, recipient string) error
}

// SendGridConfig holds configuration for SendGrid.
type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// SendGridNotifier sends escalation emails via the SendGrid API.
type SendGridNotifier struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

// NewSendGridNotifier creates a SendGrid-backed notifier. Returns nil
// when no API key is configured.
func NewSendGridNotifier(cfg SendGridConfig, logger *logging.Logger) *SendGridNotifier {
	if cfg.APIKey == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = "Support AI"
	}
	return &SendGridNotifier{
		client:    sendgrid.NewSendClient(cfg.APIKey),
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger,
	}
}

// NotifyEscalation emails the recipient about the escalated ticket.
func (s *SendGridNotifier) NotifyEscalation(ctx context.Context, t ticket.Ticket, reasons []string, recipient string) error {
	if s.client == nil {
		return fmt.Errorf("notify: sendgrid client not configured")
	}
	if recipient == "" {
		return fmt.Errorf("notify: escalation recipient is empty")
	}

	subject := fmt.Sprintf("[Escalated] %s", t.Subject)
	body := fmt.Sprintf(
		"Ticket %s (org %s) was escalated.\n\nPriority: %s\nCategory: %s\nReasons: %s\n",
		t.ID, t.OrgID, t.Priority, t.Category, strings.Join(reasons, ", "),
	)

	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail("", recipient)
	message := mail.NewSingleEmail(from, subject, to, body, body)

	response, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		s.logger.Error("sendgrid send failed", "error", err, "to", recipient)
		return fmt.Errorf("notify: sendgrid send failed: %w", err)
	}
	if response.StatusCode >= 400 {
		s.logger.Error("sendgrid returned error status", "status", response.StatusCode, "to", recipient)
		return fmt.Errorf("notify: sendgrid returned status %d", response.StatusCode)
	}

	s.logger.Info("escalation email sent", "to", recipient, "ticket_id", t.ID.String())
	return nil
}

// StubNotifier logs escalations without sending anything, used when
// email is disabled and in tests.
type StubNotifier struct {
	logger *logging.Logger
}

// NewStubNotifier creates a no-op notifier.
func NewStubNotifier(logger *logging.Logger) *StubNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubNotifier{logger: logger}
}

func (s *StubNotifier) NotifyEscalation(ctx context.Context, t ticket.Ticket, reasons []string, recipient string) error {
	s.logger.Info("escalation notification suppressed (stub)",
		"ticket_id", t.ID.String(),
		"recipient", recipient,
		"reasons", strings.Join(reasons, ","),
	)
	return nil
}

var (
	_ EscalationNotifier = (*SendGridNotifier)(nil)
	_ EscalationNotifier = (*StubNotifier)(nil)
)
