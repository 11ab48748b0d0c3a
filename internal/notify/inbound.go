package notify

import (
	"context"
	"strings"

	"github.com/softaidev/assistant-ledger/internal/ledger"
	"github.com/softaidev/assistant-ledger/internal/templates"
)

// InboundDeduper claims provider message ids so webhook retries are processed once.
type InboundDeduper interface {
	// Claim reports true the first time id is seen.
	Claim(ctx context.Context, id string) (bool, error)
}

// InboundEmail is a message delivered to the support inbox by the provider webhook.
type InboundEmail struct {
	MessageID string `json:"message_id"`
	From      string `json:"from_email"`
	FromName  string `json:"from_name,omitempty"`
	To        string `json:"to_email"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

// InboundResult describes what ReceiveEmail did.
type InboundResult struct {
	Duplicate   bool                `json:"duplicate"`
	Record      *ledger.EmailRecord `json:"record,omitempty"`
	Customer    *ledger.Customer    `json:"customer,omitempty"`
	Category    templates.Category  `json:"category,omitempty"`
	AutoReplyID string              `json:"auto_reply_id,omitempty"`
}

// ReceiveEmail records an inbound email, upserts its sender as a customer,
// classifies it and answers with the matching auto-reply. A failed auto-reply
// is returned as *DispatchError alongside the partial result.
//
// The record is keyed on the provider message id and written before the id is
// claimed, so a redelivery after a failed write is processed again while a
// redelivery after a successful one only skips the side effects.
func (d *Dispatcher) ReceiveEmail(ctx context.Context, in InboundEmail) (*InboundResult, error) {
	from := strings.TrimSpace(in.From)
	if err := ledger.ValidateEmail("from_email", from); err != nil {
		return nil, err
	}
	messageID := strings.TrimSpace(in.MessageID)

	rec, err := d.gateway.AppendEmailRecord(ctx, ledger.EmailRecord{
		EmailID:           messageID,
		ProviderMessageID: messageID,
		FromEmail:         from,
		ToEmail:           firstNonEmpty(strings.TrimSpace(in.To), d.cfg.SupportEmail),
		Subject:           in.Subject,
		Body:              in.Body,
		EmailType:         ledger.EmailIncoming,
		Status:            ledger.EmailReceived,
	})
	d.metrics.ObserveWrite("email", err)
	if err != nil {
		d.logger.Error("inbound email record failed", "error", err, "from", from, "message_id", messageID)
		return nil, err
	}

	if messageID != "" && d.dedup != nil {
		first, err := d.dedup.Claim(ctx, messageID)
		if err != nil {
			d.logger.Warn("inbound dedup unavailable, processing anyway", "error", err, "message_id", messageID)
		} else if !first {
			d.metrics.ObserveInboundDuplicate()
			d.logger.Info("duplicate inbound email ignored", "message_id", messageID)
			return &InboundResult{Duplicate: true, Record: rec}, nil
		}
	}
	d.metrics.ObserveEmail(string(ledger.EmailIncoming), string(ledger.EmailReceived))
	result := &InboundResult{Record: rec}

	name := strings.TrimSpace(in.FromName)
	if name == "" {
		name = ledger.NameFromAddress(from)
	}
	customer, err := d.gateway.UpsertCustomer(ctx, ledger.CustomerUpsert{
		Email:  from,
		Name:   name,
		Source: ledger.SourceEmail,
	})
	d.metrics.ObserveWrite("customer", err)
	if err != nil {
		d.logger.Error("inbound customer upsert failed", "error", err, "from", from)
		return result, err
	}
	result.Customer = customer

	result.Category = d.classifier.Classify(ctx, in.Subject, in.Body)
	d.recordActivity(ctx, "New email from "+name, rec.EmailID, map[string]string{
		"from": from, "subject": in.Subject, "category": string(result.Category),
	})

	replyID, err := d.autoReply(ctx, from, result.Category, name)
	result.AutoReplyID = replyID
	return result, err
}
