package notify

import (
	"context"
	"fmt"

	"github.com/resend/resend-go/v2"

	"github.com/softaidev/assistant-ledger/pkg/logging"
)

type resendEmails interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// ResendSender sends emails via the Resend API.
type ResendSender struct {
	emails    resendEmails
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

// ResendConfig holds configuration for Resend.
type ResendConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// NewResendSender creates a Resend sender, or nil without an API key.
func NewResendSender(cfg ResendConfig, logger *logging.Logger) *ResendSender {
	if cfg.APIKey == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = DefaultFromName
	}
	return &ResendSender{
		emails:    resend.NewClient(cfg.APIKey).Emails,
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger,
	}
}

// Send sends an email via Resend.
func (s *ResendSender) Send(ctx context.Context, msg EmailMessage) (string, error) {
	if s == nil || s.emails == nil {
		return "", fmt.Errorf("notify: resend client not configured")
	}

	req := &resend.SendEmailRequest{
		From:    fmt.Sprintf("%s <%s>", firstNonEmpty(msg.FromName, s.fromName), firstNonEmpty(msg.From, s.fromEmail)),
		To:      []string{msg.To},
		Subject: msg.Subject,
		Text:    msg.Body,
		Html:    msg.HTML,
		ReplyTo: msg.ReplyTo,
	}
	sent, err := s.emails.SendWithContext(ctx, req)
	if err != nil {
		s.logger.Error("resend send failed", "error", err, "to", msg.To)
		return "", fmt.Errorf("notify: resend send failed: %w", err)
	}

	s.logger.Info("email sent via resend", "to", msg.To, "subject", msg.Subject, "message_id", sent.Id)
	return sent.Id, nil
}

var _ EmailSender = (*ResendSender)(nil)
