// Package assistant implements the customer-facing support operations: chat,
// calls, callback requests and the contact form. Each call carries its own
// conversation or call identity; the service holds no per-visitor state.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/softaidev/assistant-ledger/internal/ledger"
	"github.com/softaidev/assistant-ledger/internal/observability/metrics"
	"github.com/softaidev/assistant-ledger/internal/templates"
	"github.com/softaidev/assistant-ledger/pkg/logging"
)

// ActivityRecorder receives one entry per completed operation.
type ActivityRecorder interface {
	Record(ctx context.Context, in ledger.NewActivity) (*ledger.ActivityEntry, error)
}

// Mailer sends the contact form and its acknowledgement.
type Mailer interface {
	SendEmail(ctx context.Context, to, from, subject, body string) (string, error)
	SendAutoReply(ctx context.Context, originalEmail, customerName string, category templates.Category) (string, error)
}

// Service writes support interactions through the ledger.
type Service struct {
	gateway      ledger.Gateway
	activity     ActivityRecorder
	mailer       Mailer
	supportEmail string
	cannedReply  bool
	metrics      *metrics.LedgerMetrics
	logger       *logging.Logger
	now          func() time.Time
}

// Option customises a Service.
type Option func(*Service)

func WithActivity(rec ActivityRecorder) Option {
	return func(s *Service) { s.activity = rec }
}

func WithMailer(m Mailer, supportEmail string) Option {
	return func(s *Service) {
		s.mailer = m
		s.supportEmail = supportEmail
	}
}

// WithCannedReplies answers visitor chat messages from a fixed keyword table.
func WithCannedReplies(enabled bool) Option {
	return func(s *Service) { s.cannedReply = enabled }
}

func WithMetrics(m *metrics.LedgerMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *logging.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService builds a Service over gateway.
func NewService(gateway ledger.Gateway, opts ...Option) *Service {
	if gateway == nil {
		panic("assistant: gateway required")
	}
	s := &Service{
		gateway: gateway,
		logger:  logging.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Component("assistant")
	return s
}

// ChatInput is one message posted to a conversation.
type ChatInput struct {
	ConversationID string             `json:"conversation_id"`
	Sender         ledger.Sender      `json:"sender"`
	Message        string             `json:"message"`
	Visitor        ledger.VisitorInfo `json:"visitor"`
}

// ChatResult holds the stored message and, when canned replies are on, the assistant's answer.
type ChatResult struct {
	Message *ledger.ChatMessage `json:"message"`
	Reply   *ledger.ChatMessage `json:"reply,omitempty"`
}

// PostChatMessage appends a message. A visitor message carrying an email or
// phone also upserts the customer with source chat.
func (s *Service) PostChatMessage(ctx context.Context, in ChatInput) (*ChatResult, error) {
	if in.Sender == "" {
		in.Sender = ledger.SenderVisitor
	}
	msg, err := s.gateway.AppendChatMessage(ctx, ledger.NewChatMessage{
		ConversationID: strings.TrimSpace(in.ConversationID),
		Sender:         in.Sender,
		Message:        strings.TrimSpace(in.Message),
		Visitor:        in.Visitor,
	})
	s.metrics.ObserveWrite("chat", err)
	if err != nil {
		s.logger.Error("chat message write failed", "error", err, "conversation_id", in.ConversationID)
		return nil, err
	}
	res := &ChatResult{Message: msg}

	var upsertErr error
	if in.Sender == ledger.SenderVisitor {
		upsertErr = s.upsertVisitor(ctx, in.Visitor, ledger.SourceChat, "")
		s.record(ctx, ledger.ActivityChat, "Chat message from "+displayName(in.Visitor.Name, "website visitor"), msg.ConversationID, map[string]string{
			"conversation_id": msg.ConversationID,
			"message_id":      msg.ID,
		})
	}

	if s.cannedReply && in.Sender == ledger.SenderVisitor {
		reply, err := s.gateway.AppendChatMessage(ctx, ledger.NewChatMessage{
			ConversationID: msg.ConversationID,
			Sender:         ledger.SenderAssistant,
			Message:        CannedReply(msg.Message),
		})
		s.metrics.ObserveWrite("chat", err)
		if err != nil {
			s.logger.Error("assistant reply write failed", "error", err, "conversation_id", msg.ConversationID)
			return res, errors.Join(upsertErr, err)
		}
		res.Reply = reply
	}
	return res, upsertErr
}

// Greeting is the first assistant line of every conversation.
const Greeting = "Hello! Welcome to SoftAIDev support. How can I assist you today?"

// StartConversation posts the greeting unless the conversation already has messages.
func (s *Service) StartConversation(ctx context.Context, conversationID string, visitor ledger.VisitorInfo) (*ledger.ChatMessage, error) {
	conversationID = strings.TrimSpace(conversationID)
	existing, err := s.gateway.ListChatMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, nil
	}
	msg, err := s.gateway.AppendChatMessage(ctx, ledger.NewChatMessage{
		ConversationID: conversationID,
		Sender:         ledger.SenderAssistant,
		Message:        Greeting,
		Visitor:        visitor,
	})
	s.metrics.ObserveWrite("chat", err)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// ReplyToConversation posts a support agent's answer as the assistant.
func (s *Service) ReplyToConversation(ctx context.Context, conversationID, message string) (*ledger.ChatMessage, error) {
	msg, err := s.gateway.AppendChatMessage(ctx, ledger.NewChatMessage{
		ConversationID: strings.TrimSpace(conversationID),
		Sender:         ledger.SenderAssistant,
		Message:        strings.TrimSpace(message),
	})
	s.metrics.ObserveWrite("chat", err)
	if err != nil {
		s.logger.Error("support reply write failed", "error", err, "conversation_id", conversationID)
		return nil, err
	}
	s.record(ctx, ledger.ActivityChat, "Assistant responded to message", msg.ConversationID, map[string]string{
		"conversation_id": msg.ConversationID,
		"message_id":      msg.ID,
	})
	return msg, nil
}

// CallInput opens a call record.
type CallInput struct {
	CallID       string          `json:"call_id"`
	PhoneNumber  string          `json:"phone_number"`
	CustomerName string          `json:"customer_name"`
	CallType     ledger.CallType `json:"call_type"`
	Summary      string          `json:"summary"`
}

// StartCall records a connected call as in progress.
func (s *Service) StartCall(ctx context.Context, in CallInput) (*ledger.CallRecord, error) {
	if in.CallType == "" {
		in.CallType = ledger.CallIncoming
	}
	if in.CallType == ledger.CallCallbackRequest {
		return nil, &ledger.ValidationError{Field: "call_type", Reason: "use a callback request instead"}
	}
	phone := strings.TrimSpace(in.PhoneNumber)
	if phone == "" {
		phone = "VOIP"
	} else if phone != "VOIP" {
		if err := ledger.ValidatePhone("phone_number", phone); err != nil {
			return nil, err
		}
	}
	name := displayName(in.CustomerName, "Website Visitor")
	summary := in.Summary
	if summary == "" {
		summary = "VOIP call from website"
	}

	rec, err := s.gateway.AppendCallRecord(ctx, ledger.CallRecord{
		CallID:       in.CallID,
		PhoneNumber:  phone,
		CustomerName: name,
		CallType:     in.CallType,
		Status:       ledger.CallInProgress,
		Summary:      summary,
	})
	s.metrics.ObserveWrite("call", err)
	if err != nil {
		s.logger.Error("call record write failed", "error", err, "call_id", in.CallID)
		return nil, err
	}

	var upsertErr error
	if phone != "VOIP" {
		upsertErr = s.upsertVisitor(ctx, ledger.VisitorInfo{Name: in.CustomerName, Phone: phone}, ledger.SourceCall, "")
	}
	s.record(ctx, ledger.ActivityCall, fmt.Sprintf("%s call with %s started", titleCallType(rec.CallType), rec.CustomerName), rec.CallID, map[string]string{
		"call_id": rec.CallID,
		"status":  string(rec.Status),
	})
	return rec, upsertErr
}

// CompleteCall ends a call with its duration in seconds.
func (s *Service) CompleteCall(ctx context.Context, callID string, duration int, summary string) (*ledger.CallRecord, error) {
	if summary == "" {
		summary = "Customer service call completed"
	}
	d := duration
	return s.transition(ctx, callID, ledger.CallUpdate{Status: ledger.CallCompleted, Summary: &summary, Duration: &d},
		fmt.Sprintf("Call completed (%s)", formatDuration(duration)))
}

// DeclineCall rejects a call that was never answered.
func (s *Service) DeclineCall(ctx context.Context, callID, reason string) (*ledger.CallRecord, error) {
	summary := "Call declined"
	if reason = strings.TrimSpace(reason); reason != "" {
		summary += ": " + reason
	}
	return s.transition(ctx, callID, ledger.CallUpdate{Status: ledger.CallDeclined, Summary: &summary}, "Call declined")
}

// MarkMissed closes a call nobody picked up.
func (s *Service) MarkMissed(ctx context.Context, callID string) (*ledger.CallRecord, error) {
	return s.transition(ctx, callID, ledger.CallUpdate{Status: ledger.CallMissed}, "Missed call")
}

func (s *Service) transition(ctx context.Context, callID string, upd ledger.CallUpdate, description string) (*ledger.CallRecord, error) {
	rec, err := s.gateway.UpdateCallStatus(ctx, strings.TrimSpace(callID), upd)
	s.metrics.ObserveWrite("call", err)
	if err != nil {
		s.logger.Warn("call status update rejected", "error", err, "call_id", callID, "status", upd.Status)
		return nil, err
	}
	s.record(ctx, ledger.ActivityCall, description+" with "+rec.CustomerName, rec.CallID, map[string]string{
		"call_id":  rec.CallID,
		"status":   string(rec.Status),
		"duration": fmt.Sprint(rec.Duration),
	})
	return rec, nil
}

// CallbackInput is a visitor asking to be called back.
type CallbackInput struct {
	Name          string `json:"name"`
	Phone         string `json:"phone"`
	Reason        string `json:"reason"`
	PreferredTime string `json:"preferred_time"`
}

// RequestCallback stores a pending callback request and upserts the caller.
func (s *Service) RequestCallback(ctx context.Context, in CallbackInput) (*ledger.CallRecord, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, &ledger.ValidationError{Field: "name", Reason: "required"}
	}
	if err := ledger.ValidatePhone("phone", in.Phone); err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		reason = "general"
	}

	rec, err := s.gateway.AppendCallRecord(ctx, ledger.CallRecord{
		PhoneNumber:  strings.TrimSpace(in.Phone),
		CustomerName: name,
		CallType:     ledger.CallCallbackRequest,
		Status:       ledger.CallPending,
		Summary:      fmt.Sprintf("Callback requested for %s inquiry", reason),
		CallbackRequest: &ledger.CallbackRequest{
			Reason:        reason,
			RequestTime:   s.now().UTC(),
			PreferredTime: strings.TrimSpace(in.PreferredTime),
		},
	})
	s.metrics.ObserveWrite("call", err)
	if err != nil {
		s.logger.Error("callback request write failed", "error", err)
		return nil, err
	}

	upsertErr := s.upsertVisitor(ctx, ledger.VisitorInfo{Name: name, Phone: in.Phone}, ledger.SourceCallbackRequest, "Callback reason: "+reason)
	s.record(ctx, ledger.ActivityCall, "Callback requested by "+name, rec.CallID, map[string]string{
		"call_id": rec.CallID,
		"reason":  reason,
	})
	return rec, upsertErr
}

// ContactForm is the website email form.
type ContactForm struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// ContactResult carries the transport ids of both emails.
type ContactResult struct {
	MessageID   string `json:"message_id"`
	AutoReplyID string `json:"auto_reply_id,omitempty"`
}

// SubmitContactForm mails the form to the support inbox, then acknowledges
// the visitor with the general auto-reply. An auto-reply failure is logged
// and does not fail the submission.
func (s *Service) SubmitContactForm(ctx context.Context, form ContactForm) (*ContactResult, error) {
	if s.mailer == nil {
		return nil, errors.New("assistant: contact form mailer not configured")
	}
	form.Name = strings.TrimSpace(form.Name)
	form.Email = strings.TrimSpace(form.Email)
	form.Subject = strings.TrimSpace(form.Subject)
	form.Message = strings.TrimSpace(form.Message)
	for _, f := range [...]struct{ name, value string }{
		{"name", form.Name}, {"subject", form.Subject}, {"message", form.Message},
	} {
		if f.value == "" {
			return nil, &ledger.ValidationError{Field: f.name, Reason: "required"}
		}
	}
	if err := ledger.ValidateEmail("email", form.Email); err != nil {
		return nil, err
	}

	body := fmt.Sprintf("Name: %s\nEmail: %s\n\n%s", form.Name, form.Email, form.Message)
	id, err := s.mailer.SendEmail(ctx, s.supportEmail, form.Email, "[Website Contact] "+form.Subject, body)
	if err != nil {
		return &ContactResult{MessageID: id}, err
	}
	res := &ContactResult{MessageID: id}

	replyID, err := s.mailer.SendAutoReply(ctx, form.Email, form.Name, templates.CategoryGeneral)
	if err != nil {
		s.logger.Warn("contact form auto-reply failed", "error", err, "to", form.Email)
	}
	res.AutoReplyID = replyID
	return res, nil
}

func (s *Service) upsertVisitor(ctx context.Context, v ledger.VisitorInfo, source ledger.CustomerSource, notes string) error {
	in := ledger.CustomerUpsert{Email: v.Email, Phone: v.Phone, Name: v.Name, Source: source, Notes: notes}
	if in.IdentityKey() == "" {
		return nil
	}
	_, err := s.gateway.UpsertCustomer(ctx, in)
	s.metrics.ObserveWrite("customer", err)
	if err != nil {
		s.logger.Error("customer upsert failed", "error", err, "source", source)
	}
	return err
}

func (s *Service) record(ctx context.Context, typ ledger.ActivityType, description, relatedID string, metadata map[string]string) {
	if s.activity == nil {
		return
	}
	if _, err := s.activity.Record(ctx, ledger.NewActivity{
		Type:        typ,
		Description: description,
		RelatedID:   relatedID,
		Metadata:    metadata,
	}); err != nil {
		s.logger.Warn("activity record failed", "error", err, "description", description)
	}
}

func displayName(name, fallback string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return fallback
}

func titleCallType(t ledger.CallType) string {
	switch t {
	case ledger.CallOutgoing:
		return "Outgoing"
	default:
		return "Incoming"
	}
}

// formatDuration renders seconds as m:ss.
func formatDuration(seconds int) string {
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
