package handlers

import (
	"net/http"

	"github.com/softaidev/assistant-ledger/internal/assistant"
	"github.com/softaidev/assistant-ledger/internal/notify"
	"github.com/softaidev/assistant-ledger/pkg/logging"
)

// EmailHandler serves the contact form and the inbound email webhook.
type EmailHandler struct {
	service    *assistant.Service
	dispatcher *notify.Dispatcher
	logger     *logging.Logger
}

func NewEmailHandler(service *assistant.Service, dispatcher *notify.Dispatcher, logger *logging.Logger) *EmailHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &EmailHandler{service: service, dispatcher: dispatcher, logger: logger.Component("email")}
}

// SubmitContact mails the website contact form to support.
// POST /contact
func (h *EmailHandler) SubmitContact(w http.ResponseWriter, r *http.Request) {
	var form assistant.ContactForm
	if err := decodeJSON(w, r, &form); err != nil {
		writeError(w, h.logger, r, err, "")
		return
	}
	res, err := h.service.SubmitContactForm(r.Context(), form)
	if err != nil {
		id := ""
		if res != nil {
			id = res.MessageID
		}
		writeError(w, h.logger, r, err, id)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

// InboundEmail processes a message the provider delivered to the support inbox.
// POST /webhooks/email/inbound
func (h *EmailHandler) InboundEmail(w http.ResponseWriter, r *http.Request) {
	var in notify.InboundEmail
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, h.logger, r, err, "")
		return
	}
	res, err := h.dispatcher.ReceiveEmail(r.Context(), in)
	switch {
	case err == nil:
		status := http.StatusAccepted
		if res.Duplicate {
			status = http.StatusOK
		}
		writeJSON(w, status, res)
	case res != nil && res.Record != nil:
		// The inbound email is stored; a retry would only repeat the follow-ups.
		h.logger.Warn("inbound email stored with follow-up errors", "error", err, "email_id", res.Record.EmailID)
		writeJSON(w, http.StatusAccepted, res)
	default:
		writeError(w, h.logger, r, err, "")
	}
}
