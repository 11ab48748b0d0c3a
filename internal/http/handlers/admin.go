package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/softaidev/assistant-ledger/internal/activity"
	"github.com/softaidev/assistant-ledger/internal/conversations"
	"github.com/softaidev/assistant-ledger/internal/ledger"
	"github.com/softaidev/assistant-ledger/internal/notify"
	"github.com/softaidev/assistant-ledger/internal/templates"
	"github.com/softaidev/assistant-ledger/pkg/logging"
)

const (
	maxListLimit         = 500
	defaultViewMessages  = 500
	maxViewMessages      = 5000
	defaultQueueListSize = 100
)

// AdminHandler serves the support dashboard.
type AdminHandler struct {
	gateway    ledger.Gateway
	dispatcher *notify.Dispatcher
	feed       *activity.Feed
	logger     *logging.Logger
}

func NewAdminHandler(gateway ledger.Gateway, dispatcher *notify.Dispatcher, feed *activity.Feed, logger *logging.Logger) *AdminHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminHandler{gateway: gateway, dispatcher: dispatcher, feed: feed, logger: logger.Component("admin")}
}

// ListConversations returns the newest message of each conversation.
// GET /admin/conversations
func (h *AdminHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.gateway.ListRecentConversations(r.Context(), queryLimit(r, maxListLimit))
	if err != nil {
		writeError(w, h.logger, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": summaries})
}

// ConversationViews groups recent messages into full conversations.
// GET /admin/conversations/views?messages=500
func (h *AdminHandler) ConversationViews(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.URL.Query().Get("messages"))
	if err != nil || n < 1 {
		n = defaultViewMessages
	}
	msgs, err := h.gateway.ListRecentChatMessages(r.Context(), min(n, maxViewMessages))
	if err != nil {
		writeError(w, h.logger, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": conversations.List(msgs)})
}

// ListCalls returns call records newest first.
// GET /admin/calls
func (h *AdminHandler) ListCalls(w http.ResponseWriter, r *http.Request) {
	calls, err := h.gateway.ListCallRecords(r.Context(), queryLimit(r, maxListLimit))
	if err != nil {
		writeError(w, h.logger, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"calls": calls})
}

// ListEmails returns email records newest first.
// GET /admin/emails
func (h *AdminHandler) ListEmails(w http.ResponseWriter, r *http.Request) {
	emails, err := h.gateway.ListEmailRecords(r.Context(), queryLimit(r, maxListLimit))
	if err != nil {
		writeError(w, h.logger, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"emails": emails})
}

type sendEmailRequest struct {
	To      string `json:"to"`
	From    string `json:"from"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// SendEmail sends one outgoing email from the dashboard.
// POST /admin/emails/send
func (h *AdminHandler) SendEmail(w http.ResponseWriter, r *http.Request) {
	var req sendEmailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, r, err, "")
		return
	}
	id, err := h.dispatcher.SendEmail(r.Context(), req.To, req.From, req.Subject, req.Body)
	if err != nil {
		writeError(w, h.logger, r, err, id)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"message_id": id})
}

type autoReplyRequest struct {
	OriginalEmail string `json:"original_email"`
	CustomerName  string `json:"customer_name"`
	Category      string `json:"category"`
}

// SendAutoReply sends a canned reply for a category.
// POST /admin/emails/auto-reply
func (h *AdminHandler) SendAutoReply(w http.ResponseWriter, r *http.Request) {
	var req autoReplyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, r, err, "")
		return
	}
	id, err := h.dispatcher.SendAutoReply(r.Context(), req.OriginalEmail, req.CustomerName, templates.ParseCategory(req.Category))
	if err != nil {
		writeError(w, h.logger, r, err, id)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"message_id": id})
}

// ListCustomers returns customers by last contact, newest first.
// GET /admin/customers
func (h *AdminHandler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.gateway.ListCustomers(r.Context(), queryLimit(r, maxListLimit))
	if err != nil {
		writeError(w, h.logger, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customers": customers})
}

type upsertCustomerRequest struct {
	Email  string                `json:"email"`
	Phone  string                `json:"phone"`
	Name   string                `json:"name"`
	Source ledger.CustomerSource `json:"source"`
	Notes  string                `json:"notes"`
}

// UpsertCustomer creates or refreshes a customer by email or phone.
// POST /admin/customers
func (h *AdminHandler) UpsertCustomer(w http.ResponseWriter, r *http.Request) {
	var req upsertCustomerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, r, err, "")
		return
	}
	if req.Email != "" {
		if err := ledger.ValidateEmail("email", req.Email); err != nil {
			writeError(w, h.logger, r, err, "")
			return
		}
	}
	customer, err := h.gateway.UpsertCustomer(r.Context(), ledger.CustomerUpsert{
		Email:  req.Email,
		Phone:  req.Phone,
		Name:   req.Name,
		Source: req.Source,
		Notes:  req.Notes,
	})
	if err != nil {
		writeError(w, h.logger, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, customer)
}

// ListActivity returns the activity feed, newest first.
// GET /admin/activity
func (h *AdminHandler) ListActivity(w http.ResponseWriter, r *http.Request) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit < 0 {
		limit = 0
	}
	entries, err := h.feed.Recent(r.Context(), min(limit, maxListLimit))
	if err != nil {
		writeError(w, h.logger, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activity": entries})
}

// ListEmailQueue returns queued forwards in one status, oldest first.
// GET /admin/email-queue?status=pending
func (h *AdminHandler) ListEmailQueue(w http.ResponseWriter, r *http.Request) {
	status := ledger.QueueStatus(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status"))))
	switch status {
	case "":
		status = ledger.QueuePending
	case ledger.QueuePending, ledger.QueueProcessing, ledger.QueueSent, ledger.QueueFailed:
	default:
		writeError(w, h.logger, r, &ledger.ValidationError{Field: "status", Reason: "must be pending, processing, sent or failed"}, "")
		return
	}
	limit := defaultQueueListSize
	if r.URL.Query().Has("limit") {
		limit = queryLimit(r, maxListLimit)
	}
	entries, err := h.gateway.ListEmailQueue(r.Context(), status, limit)
	if err != nil {
		writeError(w, h.logger, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

type queueForwardRequest struct {
	OriginalEmail string `json:"original_email"`
	ForwardTo     string `json:"forward_to"`
	Subject       string `json:"subject"`
	Body          string `json:"body"`
	Priority      string `json:"priority"`
}

// QueueForward adds a forward for the queue worker.
// POST /admin/email-queue
func (h *AdminHandler) QueueForward(w http.ResponseWriter, r *http.Request) {
	var req queueForwardRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, r, err, "")
		return
	}
	if err := ledger.ValidateEmail("forward_to", req.ForwardTo); err != nil {
		writeError(w, h.logger, r, err, "")
		return
	}
	entry, err := h.gateway.QueueEmailForward(r.Context(), ledger.NewEmailForward{
		OriginalEmail: req.OriginalEmail,
		ForwardTo:     req.ForwardTo,
		Subject:       req.Subject,
		Body:          req.Body,
		Priority:      req.Priority,
	})
	if err != nil {
		writeError(w, h.logger, r, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// OrderConfirmation emails a purchase confirmation with a signed download link.
// POST /admin/orders/confirmation
func (h *AdminHandler) OrderConfirmation(w http.ResponseWriter, r *http.Request) {
	var p notify.Purchase
	if err := decodeJSON(w, r, &p); err != nil {
		writeError(w, h.logger, r, err, "")
		return
	}
	id, err := h.dispatcher.SendOrderConfirmation(r.Context(), p)
	if err != nil {
		writeError(w, h.logger, r, err, id)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"message_id": id})
}
