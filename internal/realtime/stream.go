package realtime

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/net/websocket"

	"github.com/softaidev/assistant-ledger/internal/ledger"
	"github.com/softaidev/assistant-ledger/pkg/logging"
)

const streamBuffer = 32

// HistoryReader loads the backlog sent when a client connects.
type HistoryReader interface {
	ListChatMessages(ctx context.Context, conversationID string) ([]ledger.ChatMessage, error)
}

// ClientMessage is what a stream client may send.
type ClientMessage struct {
	Type string `json:"type"` // "ping"
}

// ServerMessage is pushed to stream clients.
type ServerMessage struct {
	Type     string               `json:"type"` // "history", "message", "pong", "error"
	Text     string               `json:"text,omitempty"`
	Message  *ledger.ChatMessage  `json:"message,omitempty"`
	Messages []ledger.ChatMessage `json:"messages,omitempty"`
}

// StreamHandler pushes chat inserts for one conversation over a websocket.
type StreamHandler struct {
	broker  Broker
	history HistoryReader
	logger  *logging.Logger
}

// NewStreamHandler builds a handler. history may be nil.
func NewStreamHandler(broker Broker, history HistoryReader, logger *logging.Logger) *StreamHandler {
	return &StreamHandler{broker: broker, history: history, logger: logger.Component("realtime")}
}

// Serve upgrades the request and streams conversationID until the client leaves.
func (h *StreamHandler) Serve(w http.ResponseWriter, r *http.Request, conversationID string) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		http.Error(w, "conversation id required", http.StatusBadRequest)
		return
	}
	websocket.Handler(func(conn *websocket.Conn) {
		h.serveWS(r.Context(), conn, conversationID)
	}).ServeHTTP(w, r)
}

func (h *StreamHandler) serveWS(ctx context.Context, conn *websocket.Conn, conversationID string) {
	events := make(chan ledger.ChatMessage, streamBuffer)
	sub, err := h.broker.Subscribe(conversationID, func(msg ledger.ChatMessage) {
		select {
		case events <- msg:
		default:
			h.logger.Warn("stream client too slow, dropping event", "conversation_id", conversationID, "message_id", msg.ID)
		}
	})
	if err != nil {
		h.logger.Error("stream subscribe failed", "error", err, "conversation_id", conversationID)
		_ = websocket.JSON.Send(conn, ServerMessage{Type: "error", Text: "stream unavailable"})
		return
	}
	defer func() { _ = sub.Unsubscribe() }()

	if h.history != nil {
		msgs, err := h.history.ListChatMessages(ctx, conversationID)
		if err != nil {
			h.logger.Warn("stream history load failed", "error", err, "conversation_id", conversationID)
		} else if len(msgs) > 0 {
			if err := websocket.JSON.Send(conn, ServerMessage{Type: "history", Messages: msgs}); err != nil {
				return
			}
		}
	}

	incoming := make(chan ClientMessage)
	done := make(chan struct{})
	quit := make(chan struct{})
	defer close(quit)
	go func() {
		defer close(done)
		for {
			var msg ClientMessage
			if err := websocket.JSON.Receive(conn, &msg); err != nil {
				return
			}
			select {
			case incoming <- msg:
			case <-quit:
				return
			}
		}
	}()

	h.logger.Debug("stream opened", "conversation_id", conversationID)
	defer h.logger.Debug("stream closed", "conversation_id", conversationID)

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case msg := <-events:
			if err := websocket.JSON.Send(conn, ServerMessage{Type: "message", Message: &msg}); err != nil {
				return
			}
		case in := <-incoming:
			if in.Type == "ping" {
				if err := websocket.JSON.Send(conn, ServerMessage{Type: "pong"}); err != nil {
					return
				}
			}
		}
	}
}
