package notify

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/softaidev/assistant-ledger/internal/ledger"
	"github.com/softaidev/assistant-ledger/internal/observability/metrics"
	"github.com/softaidev/assistant-ledger/internal/templates"
	"github.com/softaidev/assistant-ledger/pkg/logging"
)

const (
	DefaultFromName     = "SoftAIDev Customer Support"
	DefaultSupportEmail = "customersupport@softaidev.com"
)

// ActivityRecorder receives one entry per dispatcher outcome.
type ActivityRecorder interface {
	Record(ctx context.Context, in ledger.NewActivity) (*ledger.ActivityEntry, error)
}

// Config controls addressing and support forwarding.
type Config struct {
	Provider         string
	FromAddress      string
	FromName         string
	SupportEmail     string
	ForwardToSupport bool
}

// Dispatcher sends email through one transport and writes exactly one
// EmailRecord per attempt.
type Dispatcher struct {
	gateway    ledger.Gateway
	sender     EmailSender
	cfg        Config
	activity   ActivityRecorder
	classifier templates.Classifier
	renderer   *templates.Renderer
	dedup      InboundDeduper
	links      DownloadLinker
	metrics    *metrics.LedgerMetrics
	logger     *logging.Logger
	now        func() time.Time
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

func WithActivity(rec ActivityRecorder) Option {
	return func(d *Dispatcher) { d.activity = rec }
}

func WithClassifier(c templates.Classifier) Option {
	return func(d *Dispatcher) {
		if c != nil {
			d.classifier = c
		}
	}
}

func WithRenderer(r *templates.Renderer) Option {
	return func(d *Dispatcher) {
		if r != nil {
			d.renderer = r
		}
	}
}

func WithDeduper(dd InboundDeduper) Option {
	return func(d *Dispatcher) { d.dedup = dd }
}

func WithDownloadLinker(l DownloadLinker) Option {
	return func(d *Dispatcher) { d.links = l }
}

func WithMetrics(m *metrics.LedgerMetrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithLogger(l *logging.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDispatcher wires a transport to the ledger.
func NewDispatcher(gateway ledger.Gateway, sender EmailSender, cfg Config, opts ...Option) *Dispatcher {
	if gateway == nil {
		panic("notify: gateway required")
	}
	if sender == nil {
		panic("notify: email sender required")
	}
	if cfg.SupportEmail == "" {
		cfg.SupportEmail = DefaultSupportEmail
	}
	if cfg.FromAddress == "" {
		cfg.FromAddress = cfg.SupportEmail
	}
	if cfg.FromName == "" {
		cfg.FromName = DefaultFromName
	}
	if cfg.Provider == "" {
		cfg.Provider = "email"
	}
	d := &Dispatcher{
		gateway:    gateway,
		sender:     sender,
		cfg:        cfg,
		classifier: templates.KeywordClassifier{},
		renderer:   templates.MustNewRenderer(),
		logger:     logging.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.Component("notify")
	return d
}

// outbound is one delivery attempt.
type outbound struct {
	to        string
	from      string
	subject   string
	body      string
	html      string
	emailType ledger.EmailType
}

// SendEmail makes one delivery attempt and records its outcome. Malformed
// addresses fail with a *ledger.ValidationError before any network call and
// leave no record. A transport failure is recorded as failed and returned as
// *DispatchError. The returned id is the transport's message id, or the ledger
// id when the transport reported none. If the send succeeded but the record
// could not be written, the id is returned together with the persistence error.
func (d *Dispatcher) SendEmail(ctx context.Context, to, from, subject, body string) (string, error) {
	if err := d.validateAddresses(to, from); err != nil {
		return "", err
	}
	out := outbound{
		to:        strings.TrimSpace(to),
		from:      firstNonEmpty(strings.TrimSpace(from), d.cfg.FromAddress),
		subject:   subject,
		body:      body,
		emailType: ledger.EmailOutgoing,
	}
	id, err := d.deliver(ctx, out)
	if err != nil {
		return id, err
	}
	if qerr := d.maybeForward(ctx, out, from); qerr != nil {
		return id, qerr
	}
	return id, nil
}

// SendAutoReply sends the resolved template for category, then upserts the
// customer with source email.
func (d *Dispatcher) SendAutoReply(ctx context.Context, originalEmail, customerName string, category templates.Category) (string, error) {
	if err := ledger.ValidateEmail("to", originalEmail); err != nil {
		return "", err
	}
	id, sendErr := d.autoReply(ctx, originalEmail, category, customerName)
	_, upsertErr := d.gateway.UpsertCustomer(ctx, ledger.CustomerUpsert{
		Email:  originalEmail,
		Name:   customerName,
		Source: ledger.SourceEmail,
	})
	d.metrics.ObserveWrite("customer", upsertErr)
	if upsertErr != nil {
		d.logger.Error("customer upsert after auto-reply failed", "error", upsertErr, "to", originalEmail)
	}
	return id, joinErrors(sendErr, upsertErr)
}

func (d *Dispatcher) autoReply(ctx context.Context, to string, category templates.Category, name string) (string, error) {
	tpl := templates.Resolve(category, name)
	return d.deliver(ctx, outbound{
		to:        strings.TrimSpace(to),
		from:      d.cfg.SupportEmail,
		subject:   tpl.Subject,
		body:      tpl.Body,
		emailType: ledger.EmailAutoReply,
	})
}

// SendForward delivers a queued support-inbox copy. Forwards are never re-queued.
func (d *Dispatcher) SendForward(ctx context.Context, f ledger.EmailForward) (string, error) {
	if err := ledger.ValidateEmail("forward_to", f.ForwardTo); err != nil {
		return "", err
	}
	html, err := d.renderer.Forward(templates.ForwardData{
		OriginalRecipient: f.OriginalEmail,
		Timestamp:         f.CreatedAt.Format(time.RFC1123),
		Subject:           f.Subject,
		Body:              f.Body,
	})
	if err != nil {
		d.logger.Warn("render forward failed, sending plain text", "error", err)
		html = ""
	}
	return d.deliver(ctx, outbound{
		to:        f.ForwardTo,
		from:      d.cfg.SupportEmail,
		subject:   "[ASSISTANT] " + f.Subject,
		body:      "Forward of email sent to: " + f.OriginalEmail + "\n\n" + f.Body,
		html:      html,
		emailType: ledger.EmailTypeForward,
	})
}

func (d *Dispatcher) validateAddresses(to, from string) error {
	if err := ledger.ValidateEmail("to", to); err != nil {
		return err
	}
	if strings.TrimSpace(from) != "" {
		if err := ledger.ValidateEmail("from", from); err != nil {
			return err
		}
	}
	return nil
}

// deliver performs exactly one transport call and exactly one ledger append.
func (d *Dispatcher) deliver(ctx context.Context, out outbound) (string, error) {
	html := out.html
	if html == "" {
		rendered, err := d.renderer.Layout(out.body)
		if err != nil {
			d.logger.Warn("render layout failed, sending plain text", "error", err)
		} else {
			html = rendered
		}
	}

	messageID, sendErr := d.sender.Send(ctx, EmailMessage{
		To:       out.to,
		From:     out.from,
		FromName: d.cfg.FromName,
		ReplyTo:  d.cfg.SupportEmail,
		Subject:  out.subject,
		Body:     out.body,
		HTML:     html,
	})

	status := ledger.EmailSent
	if sendErr != nil {
		status = ledger.EmailFailed
		messageID = ""
	}
	// The ledger assigns EmailID so a transport that repeats ids cannot
	// collapse two attempts into one record.
	rec, recErr := d.gateway.AppendEmailRecord(ctx, ledger.EmailRecord{
		ProviderMessageID: messageID,
		FromEmail:         out.from,
		ToEmail:           out.to,
		Subject:           out.subject,
		Body:              out.body,
		EmailType:         out.emailType,
		Status:            status,
	})
	d.metrics.ObserveWrite("email", recErr)
	d.metrics.ObserveEmail(string(out.emailType), string(status))
	if recErr != nil {
		d.logger.Error("email record write failed", "error", recErr, "to", out.to, "status", status)
	} else if messageID == "" {
		messageID = rec.EmailID
	}

	if sendErr != nil {
		d.logger.Error("email dispatch failed", "error", sendErr, "provider", d.cfg.Provider, "to", out.to, "type", out.emailType)
		d.recordActivity(ctx, "Failed to send email to "+out.to, messageID, map[string]string{
			"to": out.to, "subject": out.subject, "email_type": string(out.emailType), "status": string(status), "error": sendErr.Error(),
		})
		return "", joinErrors(&DispatchError{Provider: d.cfg.Provider, To: out.to, Err: sendErr}, recErr)
	}

	d.logger.Info("email dispatched", "provider", d.cfg.Provider, "to", out.to, "type", out.emailType, "message_id", messageID)
	d.recordActivity(ctx, "Sent email to "+out.to, messageID, map[string]string{
		"to": out.to, "subject": out.subject, "email_type": string(out.emailType), "status": string(status),
	})
	return messageID, recErr
}

// maybeForward queues a support-inbox copy of a successful outgoing email.
// rawFrom is the sender the caller supplied, before defaulting.
func (d *Dispatcher) maybeForward(ctx context.Context, out outbound, rawFrom string) error {
	if !d.cfg.ForwardToSupport {
		return nil
	}
	support := strings.ToLower(d.cfg.SupportEmail)
	if strings.EqualFold(out.to, support) || strings.Contains(strings.ToLower(rawFrom), support) {
		return nil
	}
	_, err := d.gateway.QueueEmailForward(ctx, ledger.NewEmailForward{
		OriginalEmail: out.to,
		ForwardTo:     d.cfg.SupportEmail,
		Subject:       out.subject,
		Body:          out.body,
	})
	d.metrics.ObserveWrite("email_forward", err)
	if err != nil {
		d.logger.Error("queue support forward failed", "error", err, "to", out.to)
	}
	return err
}

func (d *Dispatcher) recordActivity(ctx context.Context, description, relatedID string, metadata map[string]string) {
	if d.activity == nil {
		return
	}
	if _, err := d.activity.Record(ctx, ledger.NewActivity{
		Type:        ledger.ActivityEmail,
		Description: description,
		RelatedID:   relatedID,
		Metadata:    metadata,
	}); err != nil {
		d.logger.Warn("activity record failed", "error", err, "description", description)
	}
}

// joinErrors keeps a single error unwrapped so callers can errors.As it directly.
func joinErrors(errs ...error) error {
	var nonNil []error
	for _, err := range errs {
		if err != nil {
			nonNil = append(nonNil, err)
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	default:
		return errors.Join(nonNil...)
	}
}
