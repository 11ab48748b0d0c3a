package ledger

import (
	"strings"
	"time"
)

// Sender identifies who wrote a chat message.
type Sender string

const (
	SenderVisitor   Sender = "visitor"
	SenderAssistant Sender = "assistant"
)

// CallType classifies a call record.
type CallType string

const (
	CallIncoming        CallType = "incoming"
	CallOutgoing        CallType = "outgoing"
	CallCallbackRequest CallType = "callback_request"
)

// CallStatus is the lifecycle state of a call record.
type CallStatus string

const (
	CallPending    CallStatus = "pending"
	CallInProgress CallStatus = "in_progress"
	CallCompleted  CallStatus = "completed"
	CallMissed     CallStatus = "missed"
	CallDeclined   CallStatus = "declined"
)

// Terminal reports whether no further transition is allowed.
func (s CallStatus) Terminal() bool {
	return s == CallCompleted || s == CallMissed || s == CallDeclined
}

// CanTransition reports whether a call may move from s to next.
func (s CallStatus) CanTransition(next CallStatus) bool {
	switch s {
	case CallPending:
		return next == CallInProgress || next.Terminal()
	case CallInProgress:
		return next == CallCompleted || next == CallMissed
	default:
		return false
	}
}

// EmailType classifies an email record.
type EmailType string

const (
	EmailIncoming    EmailType = "incoming"
	EmailOutgoing    EmailType = "outgoing"
	EmailAutoReply   EmailType = "auto_reply"
	EmailTypeForward EmailType = "forward"
)

// EmailStatus is the delivery state of an email record.
type EmailStatus string

const (
	EmailReceived EmailStatus = "received"
	EmailSent     EmailStatus = "sent"
	EmailPending  EmailStatus = "pending"
	EmailFailed   EmailStatus = "failed"
)

// CustomerSource records the channel a customer first arrived through.
type CustomerSource string

const (
	SourceChat            CustomerSource = "chat"
	SourceEmail           CustomerSource = "email"
	SourceCall            CustomerSource = "call"
	SourceCallbackRequest CustomerSource = "callback_request"
)

// ActivityType groups activity feed entries.
type ActivityType string

const (
	ActivityEmail  ActivityType = "email"
	ActivityChat   ActivityType = "chat"
	ActivityCall   ActivityType = "call"
	ActivitySystem ActivityType = "system"
)

// QueueStatus is the state of a queued forward.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueSent       QueueStatus = "sent"
	QueueFailed     QueueStatus = "failed"
)

// VisitorInfo is denormalized onto every chat message.
type VisitorInfo struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// ChatMessage is one line of a website chat conversation.
type ChatMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Sender         Sender    `json:"sender"`
	Message        string    `json:"message"`
	VisitorName    string    `json:"visitor_name,omitempty"`
	VisitorEmail   string    `json:"visitor_email,omitempty"`
	VisitorPhone   string    `json:"visitor_phone,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// NewChatMessage is the input for AppendChatMessage.
type NewChatMessage struct {
	ConversationID string
	Sender         Sender
	Message        string
	Visitor        VisitorInfo
}

// Validate checks required fields.
func (m NewChatMessage) Validate() error {
	if strings.TrimSpace(m.ConversationID) == "" {
		return invalid("conversation_id", "required")
	}
	if m.Sender != SenderVisitor && m.Sender != SenderAssistant {
		return invalid("sender", "must be visitor or assistant")
	}
	if strings.TrimSpace(m.Message) == "" {
		return invalid("message", "required")
	}
	return nil
}

// ConversationSummary is the newest message of one conversation.
type ConversationSummary struct {
	ConversationID string    `json:"conversation_id"`
	VisitorName    string    `json:"visitor_name,omitempty"`
	VisitorEmail   string    `json:"visitor_email,omitempty"`
	LastSender     Sender    `json:"last_sender"`
	LastMessage    string    `json:"last_message"`
	LastActivity   time.Time `json:"last_activity"`
}

// CallbackRequest carries the details of a visitor asking to be called back.
type CallbackRequest struct {
	Reason        string    `json:"reason"`
	RequestTime   time.Time `json:"request_time"`
	PreferredTime string    `json:"preferred_time,omitempty"`
}

// CallRecord is one call or callback request.
type CallRecord struct {
	CallID          string           `json:"call_id"`
	PhoneNumber     string           `json:"phone_number"`
	CustomerName    string           `json:"customer_name"`
	CallType        CallType         `json:"call_type"`
	Status          CallStatus       `json:"status"`
	Duration        int              `json:"duration"`
	Summary         string           `json:"summary"`
	CallbackRequest *CallbackRequest `json:"callback_request,omitempty"`
	Timestamp       time.Time        `json:"timestamp"`
}

// Validate checks the record before it is appended.
func (c CallRecord) Validate() error {
	switch c.CallType {
	case CallIncoming, CallOutgoing, CallCallbackRequest:
	default:
		return invalid("call_type", "unknown call type")
	}
	switch c.Status {
	case CallPending, CallInProgress, CallCompleted, CallMissed, CallDeclined:
	default:
		return invalid("status", "unknown call status")
	}
	if c.Duration < 0 {
		return invalid("duration", "must not be negative")
	}
	if c.CallType == CallCallbackRequest && strings.TrimSpace(c.PhoneNumber) == "" {
		return invalid("phone_number", "required for callback requests")
	}
	return nil
}

// CallUpdate describes a status transition. Nil fields are left unchanged.
type CallUpdate struct {
	Status   CallStatus
	Summary  *string
	Duration *int
}

// EmailRecord is one inbound or outbound email. EmailID is the ledger key;
// ProviderMessageID is whatever id the transport or inbound webhook reported.
type EmailRecord struct {
	EmailID           string      `json:"email_id"`
	ProviderMessageID string      `json:"provider_message_id,omitempty"`
	FromEmail         string      `json:"from_email"`
	ToEmail           string      `json:"to_email"`
	Subject           string      `json:"subject"`
	Body              string      `json:"body"`
	EmailType         EmailType   `json:"email_type"`
	Status            EmailStatus `json:"status"`
	AISummary         string      `json:"ai_summary,omitempty"`
	Timestamp         time.Time   `json:"timestamp"`
}

// Validate checks the record before it is appended.
func (e EmailRecord) Validate() error {
	switch e.EmailType {
	case EmailIncoming, EmailOutgoing, EmailAutoReply, EmailTypeForward:
	default:
		return invalid("email_type", "unknown email type")
	}
	switch e.Status {
	case EmailReceived, EmailSent, EmailPending, EmailFailed:
	default:
		return invalid("status", "unknown email status")
	}
	if strings.TrimSpace(e.ToEmail) == "" {
		return invalid("to_email", "required")
	}
	return nil
}

// Customer is a person who contacted the business through any channel.
type Customer struct {
	ID           string         `json:"id"`
	IdentityKey  string         `json:"identity_key"`
	Email        string         `json:"email,omitempty"`
	Name         string         `json:"name"`
	Phone        string         `json:"phone,omitempty"`
	Source       CustomerSource `json:"source"`
	Notes        string         `json:"notes,omitempty"`
	FirstContact time.Time      `json:"first_contact"`
	LastContact  time.Time      `json:"last_contact"`
}

// CustomerUpsert is the input for UpsertCustomer.
type CustomerUpsert struct {
	Email  string
	Phone  string
	Name   string
	Source CustomerSource
	Notes  string
}

// IdentityKey is the single durable lookup key for a customer: the
// lower-cased email when present, otherwise the digits of the phone number.
func (u CustomerUpsert) IdentityKey() string {
	if email := strings.ToLower(strings.TrimSpace(u.Email)); email != "" {
		return "email:" + email
	}
	if digits := PhoneDigits(u.Phone); digits != "" {
		return "phone:" + digits
	}
	return ""
}

// Validate checks that the upsert carries an identity and a known source.
func (u CustomerUpsert) Validate() error {
	if u.IdentityKey() == "" {
		return invalid("email", "either email or phone is required")
	}
	switch u.Source {
	case SourceChat, SourceEmail, SourceCall, SourceCallbackRequest:
	default:
		return invalid("source", "unknown customer source")
	}
	return nil
}

// ActivityEntry is one line of the human-readable activity feed.
type ActivityEntry struct {
	ID           string            `json:"id"`
	ActivityType ActivityType      `json:"activity_type"`
	Description  string            `json:"description"`
	RelatedID    string            `json:"related_id,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}

// NewActivity is the input for AppendActivity.
type NewActivity struct {
	Type        ActivityType
	Description string
	RelatedID   string
	Metadata    map[string]string
}

// Validate checks required fields.
func (a NewActivity) Validate() error {
	switch a.Type {
	case ActivityEmail, ActivityChat, ActivityCall, ActivitySystem:
	default:
		return invalid("activity_type", "unknown activity type")
	}
	if strings.TrimSpace(a.Description) == "" {
		return invalid("description", "required")
	}
	return nil
}

// EmailForward is a queued copy of an email destined for the support inbox.
type EmailForward struct {
	ID            string      `json:"id"`
	OriginalEmail string      `json:"original_email"`
	ForwardTo     string      `json:"forward_to"`
	Subject       string      `json:"subject"`
	Body          string      `json:"body"`
	Priority      string      `json:"priority"`
	Status        QueueStatus `json:"status"`
	ErrorMessage  string      `json:"error_message,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	ProcessedAt   *time.Time  `json:"processed_at,omitempty"`
}

// NewEmailForward is the input for QueueEmailForward.
type NewEmailForward struct {
	OriginalEmail string
	ForwardTo     string
	Subject       string
	Body          string
	Priority      string
}

// Validate checks required fields and defaults the priority.
func (f *NewEmailForward) Validate() error {
	if strings.TrimSpace(f.ForwardTo) == "" {
		return invalid("forward_to", "required")
	}
	switch f.Priority {
	case "":
		f.Priority = "normal"
	case "low", "normal", "high":
	default:
		return invalid("priority", "must be low, normal or high")
	}
	return nil
}

func copyMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
