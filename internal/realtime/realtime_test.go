package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/softaidev/assistant-ledger/internal/ledger"
	"github.com/softaidev/assistant-ledger/pkg/logging"
)

func TestSubjectSanitisesTokens(t *testing.T) {
	assert.Equal(t, "ledger.chat.conv-1", Subject("conv-1"))
	assert.Equal(t, "ledger.chat.a_b_c_d", Subject("a.b*c>d"))
	assert.Equal(t, "ledger.chat.x_y", Subject("x y"))
}

func TestLocalBrokerDeliversPerConversation(t *testing.T) {
	b := NewLocalBroker()
	var got []string
	sub, err := b.Subscribe("c1", func(msg ledger.ChatMessage) { got = append(got, msg.Message) })
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), ledger.ChatMessage{ConversationID: "c1", Message: "hi"}))
	require.NoError(t, b.Publish(context.Background(), ledger.ChatMessage{ConversationID: "c2", Message: "other"}))
	assert.Equal(t, []string{"hi"}, got)

	require.NoError(t, sub.Unsubscribe())
	assert.Zero(t, b.subscribers("c1"))
	require.NoError(t, b.Publish(context.Background(), ledger.ChatMessage{ConversationID: "c1", Message: "late"}))
	assert.Equal(t, []string{"hi"}, got)
}

type rejectingGateway struct {
	*ledger.MemoryGateway
}

func (rejectingGateway) AppendChatMessage(context.Context, ledger.NewChatMessage) (*ledger.ChatMessage, error) {
	return nil, &ledger.PersistenceError{Op: "append chat message", Err: errors.New("disk full")}
}

func TestNotifyingGatewayPublishesAfterInsert(t *testing.T) {
	b := NewLocalBroker()
	var events []ledger.ChatMessage
	_, err := b.Subscribe("c1", func(msg ledger.ChatMessage) { events = append(events, msg) })
	require.NoError(t, err)

	gw := NewNotifyingGateway(ledger.NewMemoryGateway(), b, logging.New("error"))
	msg, err := gw.AppendChatMessage(context.Background(), ledger.NewChatMessage{ConversationID: "c1", Sender: ledger.SenderVisitor, Message: "hello"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, msg.ID, events[0].ID)

	_, err = gw.AppendChatMessage(context.Background(), ledger.NewChatMessage{ConversationID: "c1", Sender: ledger.SenderVisitor})
	assert.ErrorIs(t, err, ledger.ErrValidation)
	assert.Len(t, events, 1)

	failing := NewNotifyingGateway(rejectingGateway{ledger.NewMemoryGateway()}, b, logging.New("error"))
	_, err = failing.AppendChatMessage(context.Background(), ledger.NewChatMessage{ConversationID: "c1", Sender: ledger.SenderVisitor, Message: "x"})
	assert.ErrorIs(t, err, ledger.ErrPersistence)
	assert.Len(t, events, 1)
}

func TestNotifyingGatewayNilBroker(t *testing.T) {
	inner := ledger.NewMemoryGateway()
	assert.Same(t, inner, NewNotifyingGateway(inner, nil, nil))
}

func TestDecodeChatEvent(t *testing.T) {
	msg, err := decodeChatEvent([]byte(`{"id":"m1","conversation_id":"c1","sender":"visitor","message":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, "c1", msg.ConversationID)

	_, err = decodeChatEvent([]byte(`{"id":"m1"}`))
	assert.Error(t, err)
	_, err = decodeChatEvent([]byte(`nope`))
	assert.Error(t, err)
}

func TestStreamHandlerPushesHistoryAndInserts(t *testing.T) {
	broker := NewLocalBroker()
	mem := ledger.NewMemoryGateway()
	gw := NewNotifyingGateway(mem, broker, logging.New("error"))
	ctx := context.Background()
	_, err := gw.AppendChatMessage(ctx, ledger.NewChatMessage{ConversationID: "c1", Sender: ledger.SenderVisitor, Message: "first"})
	require.NoError(t, err)

	h := NewStreamHandler(broker, mem, logging.New("error"))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.Serve(w, r, strings.TrimPrefix(r.URL.Path, "/stream/"))
	}))
	defer srv.Close()

	conn, err := websocket.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/stream/c1", "", "http://localhost/")
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	var history ServerMessage
	require.NoError(t, websocket.JSON.Receive(conn, &history))
	assert.Equal(t, "history", history.Type)
	require.Len(t, history.Messages, 1)
	assert.Equal(t, "first", history.Messages[0].Message)

	_, err = gw.AppendChatMessage(ctx, ledger.NewChatMessage{ConversationID: "c1", Sender: ledger.SenderAssistant, Message: "second"})
	require.NoError(t, err)

	var pushed ServerMessage
	require.NoError(t, websocket.JSON.Receive(conn, &pushed))
	assert.Equal(t, "message", pushed.Type)
	require.NotNil(t, pushed.Message)
	assert.Equal(t, "second", pushed.Message.Message)

	require.NoError(t, websocket.JSON.Send(conn, ClientMessage{Type: "ping"}))
	var pong ServerMessage
	require.NoError(t, websocket.JSON.Receive(conn, &pong))
	assert.Equal(t, "pong", pong.Type)
}

func TestStreamHandlerRequiresConversation(t *testing.T) {
	h := NewStreamHandler(NewLocalBroker(), nil, nil)
	rec := httptest.NewRecorder()
	h.Serve(rec, httptest.NewRequest(http.MethodGet, "/stream/", nil), " ")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
