package realtime

import (
	"context"

	"github.com/softaidev/assistant-ledger/internal/ledger"
	"github.com/softaidev/assistant-ledger/pkg/logging"
)

// NotifyingGateway publishes every chat message the wrapped gateway accepts.
// Publish failures are logged; the insert result is returned unchanged.
type NotifyingGateway struct {
	ledger.Gateway
	broker Broker
	logger *logging.Logger
}

// NewNotifyingGateway decorates inner. A nil broker returns inner as is.
func NewNotifyingGateway(inner ledger.Gateway, broker Broker, logger *logging.Logger) ledger.Gateway {
	if broker == nil {
		return inner
	}
	return &NotifyingGateway{Gateway: inner, broker: broker, logger: logger.Component("realtime")}
}

func (g *NotifyingGateway) AppendChatMessage(ctx context.Context, in ledger.NewChatMessage) (*ledger.ChatMessage, error) {
	msg, err := g.Gateway.AppendChatMessage(ctx, in)
	if err != nil {
		return nil, err
	}
	if perr := g.broker.Publish(ctx, *msg); perr != nil {
		g.logger.Warn("chat event publish failed", "error", perr, "conversation_id", msg.ConversationID)
	}
	return msg, nil
}
