package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/softaidev/assistant-ledger/internal/assistant"
	"github.com/softaidev/assistant-ledger/internal/ledger"
	"github.com/softaidev/assistant-ledger/internal/realtime"
	"github.com/softaidev/assistant-ledger/pkg/logging"
)

// ChatHandler serves the website chat widget.
type ChatHandler struct {
	service *assistant.Service
	gateway ledger.Gateway
	stream  *realtime.StreamHandler
	logger  *logging.Logger
}

// NewChatHandler wires the chat routes. stream may be nil to disable websockets.
func NewChatHandler(service *assistant.Service, gateway ledger.Gateway, stream *realtime.StreamHandler, logger *logging.Logger) *ChatHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ChatHandler{service: service, gateway: gateway, stream: stream, logger: logger.Component("chat")}
}

type postMessageRequest struct {
	Message string             `json:"message"`
	Visitor ledger.VisitorInfo `json:"visitor"`
}

// PostMessage appends one visitor message. The sender is never taken from the
// request body.
// POST /chat/conversations/{conversationID}/messages
func (h *ChatHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, r, err, "")
		return
	}
	res, err := h.service.PostChatMessage(r.Context(), assistant.ChatInput{
		ConversationID: chi.URLParam(r, "conversationID"),
		Sender:         ledger.SenderVisitor,
		Message:        req.Message,
		Visitor:        req.Visitor,
	})
	if err != nil && res == nil {
		writeError(w, h.logger, r, err, "")
		return
	}
	if err != nil {
		h.logger.Warn("chat message stored with follow-up errors", "error", err, "conversation_id", res.Message.ConversationID)
	}
	writeJSON(w, http.StatusCreated, res)
}

type replyRequest struct {
	Message string `json:"message"`
}

// Reply posts a support agent's answer into a conversation.
// POST /admin/conversations/{conversationID}/messages
func (h *ChatHandler) Reply(w http.ResponseWriter, r *http.Request) {
	var req replyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, r, err, "")
		return
	}
	msg, err := h.service.ReplyToConversation(r.Context(), chi.URLParam(r, "conversationID"), req.Message)
	if err != nil {
		writeError(w, h.logger, r, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// ListMessages returns one conversation oldest first.
// GET /chat/conversations/{conversationID}/messages
func (h *ChatHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.gateway.ListChatMessages(r.Context(), chi.URLParam(r, "conversationID"))
	if err != nil {
		writeError(w, h.logger, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// Start posts the greeting into an empty conversation.
// POST /chat/conversations/{conversationID}/start
func (h *ChatHandler) Start(w http.ResponseWriter, r *http.Request) {
	var visitor ledger.VisitorInfo
	if r.ContentLength > 0 {
		if err := decodeJSON(w, r, &visitor); err != nil {
			writeError(w, h.logger, r, err, "")
			return
		}
	}
	msg, err := h.service.StartConversation(r.Context(), chi.URLParam(r, "conversationID"), visitor)
	if err != nil {
		writeError(w, h.logger, r, err, "")
		return
	}
	if msg == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// Stream upgrades to a websocket that pushes new messages.
// GET /chat/conversations/{conversationID}/stream
func (h *ChatHandler) Stream(w http.ResponseWriter, r *http.Request) {
	if h.stream == nil {
		http.Error(w, "realtime stream disabled", http.StatusNotImplemented)
		return
	}
	h.stream.Serve(w, r, chi.URLParam(r, "conversationID"))
}
