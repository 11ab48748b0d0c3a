package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/softaidev/assistant-ledger/internal/ledger"
	"github.com/softaidev/assistant-ledger/pkg/logging"
)

// NATSBroker shares chat inserts between API instances.
type NATSBroker struct {
	conn   *nats.Conn
	logger *logging.Logger
}

// NewNATSBroker connects to url, retrying in the background if the server is not up yet.
func NewNATSBroker(url, token string, logger *logging.Logger) (*NATSBroker, error) {
	logger = logger.Component("realtime")
	opts := []nats.Option{
		nats.Name("assistant-ledger"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("realtime: nats connect: %w", err)
	}
	return &NATSBroker{conn: nc, logger: logger}, nil
}

func (b *NATSBroker) Publish(_ context.Context, msg ledger.ChatMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("realtime: marshal chat event: %w", err)
	}
	if err := b.conn.Publish(Subject(msg.ConversationID), payload); err != nil {
		return fmt.Errorf("realtime: publish: %w", err)
	}
	return nil
}

func (b *NATSBroker) Subscribe(conversationID string, fn Handler) (Subscription, error) {
	subject := Subject(conversationID)
	sub, err := b.conn.Subscribe(subject, func(m *nats.Msg) {
		msg, err := decodeChatEvent(m.Data)
		if err != nil {
			b.logger.Warn("dropping malformed chat event", "subject", m.Subject, "error", err)
			return
		}
		fn(msg)
	})
	if err != nil {
		return nil, fmt.Errorf("realtime: subscribe %s: %w", subject, err)
	}
	return sub, nil
}

// Ping reports whether the connection is currently up.
func (b *NATSBroker) Ping(_ context.Context) error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("realtime: nats %s", b.conn.Status())
	}
	return nil
}

func (b *NATSBroker) Close() {
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
}

func decodeChatEvent(data []byte) (ledger.ChatMessage, error) {
	var msg ledger.ChatMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ledger.ChatMessage{}, err
	}
	if msg.ConversationID == "" {
		return ledger.ChatMessage{}, fmt.Errorf("missing conversation_id")
	}
	return msg, nil
}
