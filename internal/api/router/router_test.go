package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/softaidev/assistant-ledger/internal/activity"
	"github.com/softaidev/assistant-ledger/internal/assistant"
	"github.com/softaidev/assistant-ledger/internal/dedup"
	"github.com/softaidev/assistant-ledger/internal/http/handlers"
	httpmiddleware "github.com/softaidev/assistant-ledger/internal/http/middleware"
	"github.com/softaidev/assistant-ledger/internal/ledger"
	"github.com/softaidev/assistant-ledger/internal/notify"
	"github.com/softaidev/assistant-ledger/internal/realtime"
	"github.com/softaidev/assistant-ledger/pkg/logging"
)

const (
	testSecret  = "admin-secret"
	testWebhook = "hook-token"
	testSupport = "support@example.com"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []notify.EmailMessage
	err  error
}

func (s *recordingSender) Send(_ context.Context, msg notify.EmailMessage) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.sent = append(s.sent, msg)
	return fmt.Sprintf("msg-%d", len(s.sent)), nil
}

type staticLinker struct{}

func (staticLinker) PresignDownload(_ context.Context, key string) (string, time.Duration, error) {
	return "https://downloads.example.com/" + key + "?sig=1", 7 * 24 * time.Hour, nil
}

type testStack struct {
	handler http.Handler
	gw      *ledger.MemoryGateway
	sender  *recordingSender
}

func newTestStack(t *testing.T) testStack {
	t.Helper()
	logger := logging.New("error")
	gw := ledger.NewMemoryGateway()
	feed := activity.NewFeed(gw, 50, nil, logger)
	sender := &recordingSender{}
	dispatcher := notify.NewDispatcher(gw, sender, notify.Config{Provider: "test", SupportEmail: testSupport},
		notify.WithActivity(feed),
		notify.WithDeduper(dedup.NewMemoryStore(time.Hour)),
		notify.WithDownloadLinker(staticLinker{}),
		notify.WithLogger(logger),
	)
	svc := assistant.NewService(gw,
		assistant.WithActivity(feed),
		assistant.WithMailer(dispatcher, testSupport),
		assistant.WithLogger(logger),
	)
	stream := realtime.NewStreamHandler(realtime.NewLocalBroker(), gw, logger)

	h := New(&Config{
		Logger:          logger,
		Chat:            handlers.NewChatHandler(svc, gw, stream, logger),
		Calls:           handlers.NewCallsHandler(svc, logger),
		Email:           handlers.NewEmailHandler(svc, dispatcher, logger),
		Admin:           handlers.NewAdminHandler(gw, dispatcher, feed, logger),
		AdminAuthSecret: testSecret,
		WebhookToken:    testWebhook,
	})
	return testStack{handler: h, gw: gw, sender: sender}
}

func adminToken(t *testing.T, role string) string {
	t.Helper()
	claims := httpmiddleware.AdminClaims{
		Role:             role,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (s testStack) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s testStack) admin(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, method, path, body, map[string]string{"Authorization": "Bearer " + adminToken(t, httpmiddleware.AdminRole)})
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestRouterHealthEndpoint(t *testing.T) {
	s := newTestStack(t)
	rec := s.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]any](t, rec)["status"])
}

func TestChatRoutes(t *testing.T) {
	s := newTestStack(t)

	rec := s.do(t, http.MethodPost, "/chat/conversations/conv-1/start", nil, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = s.do(t, http.MethodPost, "/chat/conversations/conv-1/start", nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodPost, "/chat/conversations/conv-1/messages", map[string]any{
		"message": "hello there",
		"visitor": map[string]string{"name": "Ann", "email": "ann@example.com"},
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode[assistant.ChatResult](t, rec)
	assert.Equal(t, "conv-1", res.Message.ConversationID)

	rec = s.do(t, http.MethodGet, "/chat/conversations/conv-1/messages", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Messages []ledger.ChatMessage `json:"messages"`
	}](t, rec)
	require.Len(t, list.Messages, 2)
	assert.Equal(t, assistant.Greeting, list.Messages[0].Message)
	assert.Equal(t, "hello there", list.Messages[1].Message)

	rec = s.do(t, http.MethodGet, "/chat/conversations/unknown/messages", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"messages":[]}`, rec.Body.String())
}

func TestPublicChatAlwaysStoresVisitorSender(t *testing.T) {
	s := newTestStack(t)

	rec := s.do(t, http.MethodPost, "/chat/conversations/conv-2/messages", map[string]any{
		"sender":  "assistant",
		"message": "Your refund is approved",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	msgs, err := s.gw.ListChatMessages(context.Background(), "conv-2")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, ledger.SenderVisitor, msgs[0].Sender)
}

func TestAdminConversationReply(t *testing.T) {
	s := newTestStack(t)
	body := map[string]string{"message": "We are looking into it"}

	rec := s.do(t, http.MethodPost, "/admin/conversations/conv-3/messages", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.admin(t, http.MethodPost, "/admin/conversations/conv-3/messages", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	msg := decode[ledger.ChatMessage](t, rec)
	assert.Equal(t, ledger.SenderAssistant, msg.Sender)
	assert.Equal(t, "conv-3", msg.ConversationID)

	rec = s.admin(t, http.MethodPost, "/admin/conversations/conv-3/messages", map[string]string{"message": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	msgs, err := s.gw.ListChatMessages(context.Background(), "conv-3")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "We are looking into it", msgs[0].Message)
}

func TestChatValidationMapsTo400(t *testing.T) {
	s := newTestStack(t)
	rec := s.do(t, http.MethodPost, "/chat/conversations/conv-1/messages", map[string]any{"message": "  "}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "message", decode[handlers.ErrorResponse](t, rec).Field)

	req := httptest.NewRequest(http.MethodPost, "/chat/conversations/conv-1/messages", bytes.NewBufferString("{not json"))
	out := httptest.NewRecorder()
	s.handler.ServeHTTP(out, req)
	assert.Equal(t, http.StatusBadRequest, out.Code)
}

func TestCallRoutes(t *testing.T) {
	s := newTestStack(t)

	rec := s.do(t, http.MethodPost, "/calls", map[string]any{"customer_name": "Bob"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	call := decode[ledger.CallRecord](t, rec)
	assert.Equal(t, ledger.CallInProgress, call.Status)

	rec = s.do(t, http.MethodPatch, "/calls/"+call.CallID, map[string]any{"status": "completed", "duration": 42}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 42, decode[ledger.CallRecord](t, rec).Duration)

	rec = s.do(t, http.MethodPatch, "/calls/"+call.CallID, map[string]any{"status": "missed"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPatch, "/calls/nope", map[string]any{"status": "missed"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPatch, "/calls/"+call.CallID, map[string]any{"status": "in_progress"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCallbackRoute(t *testing.T) {
	s := newTestStack(t)
	rec := s.do(t, http.MethodPost, "/callbacks", map[string]any{"name": "Dee", "phone": "12"}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "phone", decode[handlers.ErrorResponse](t, rec).Field)

	rec = s.do(t, http.MethodPost, "/callbacks", map[string]any{"name": "Dee", "phone": "555-123-4567", "reason": "technical"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	call := decode[ledger.CallRecord](t, rec)
	assert.Equal(t, ledger.CallCallbackRequest, call.CallType)
	require.NotNil(t, call.CallbackRequest)
	assert.Equal(t, "technical", call.CallbackRequest.Reason)
}

func TestContactRoute(t *testing.T) {
	s := newTestStack(t)
	form := map[string]any{"name": "Ann", "email": "ann@example.com", "subject": "Hi", "message": "Question"}

	rec := s.do(t, http.MethodPost, "/contact", form, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	res := decode[assistant.ContactResult](t, rec)
	assert.Equal(t, "msg-1", res.MessageID)
	assert.Equal(t, "msg-2", res.AutoReplyID)
	require.Len(t, s.sender.sent, 2)
	assert.Equal(t, testSupport, s.sender.sent[0].To)
	assert.Equal(t, "ann@example.com", s.sender.sent[1].To)

	s.sender.err = errors.New("provider down")
	rec = s.do(t, http.MethodPost, "/contact", form, nil)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "email provider unavailable", decode[handlers.ErrorResponse](t, rec).Error)

	records, err := s.gw.ListEmailRecords(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, ledger.EmailFailed, records[0].Status)
	assert.Equal(t, "[Website Contact] Hi", records[0].Subject)
}

func TestInboundWebhook(t *testing.T) {
	s := newTestStack(t)
	payload := map[string]any{
		"message_id": "prov-1",
		"from_email": "jane.doe@example.com",
		"subject":    "Found a bug",
		"body":       "The app crashes",
		"provider":   "extra fields are ignored",
	}

	rec := s.do(t, http.MethodPost, "/webhooks/email/inbound", payload, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	hdr := map[string]string{httpmiddleware.WebhookTokenHeader: testWebhook}
	rec = s.do(t, http.MethodPost, "/webhooks/email/inbound", payload, hdr)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	res := decode[notify.InboundResult](t, rec)
	assert.Equal(t, "technical", string(res.Category))
	require.NotNil(t, res.Customer)
	assert.Equal(t, "Jane Doe", res.Customer.Name)

	rec = s.do(t, http.MethodPost, "/webhooks/email/inbound", payload, hdr)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[notify.InboundResult](t, rec).Duplicate)
	assert.Len(t, s.sender.sent, 1)
}

func TestAdminRequiresAdminRole(t *testing.T) {
	s := newTestStack(t)
	rec := s.do(t, http.MethodGet, "/admin/emails", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/admin/emails", nil, map[string]string{"Authorization": "Bearer " + adminToken(t, "viewer")})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminRoutes(t *testing.T) {
	s := newTestStack(t)
	for _, conv := range []string{"conv-a", "conv-b"} {
		rec := s.do(t, http.MethodPost, "/chat/conversations/"+conv+"/messages", map[string]any{"message": "hi from " + conv}, nil)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := s.admin(t, http.MethodGet, "/admin/conversations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summaries := decode[struct {
		Conversations []ledger.ConversationSummary `json:"conversations"`
	}](t, rec)
	require.Len(t, summaries.Conversations, 2)
	assert.Equal(t, "conv-b", summaries.Conversations[0].ConversationID)

	rec = s.admin(t, http.MethodGet, "/admin/conversations/views", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"visitor_name":"Visitor #nv-b"`)

	rec = s.admin(t, http.MethodPost, "/admin/emails/send", map[string]any{"to": "bad", "subject": "s", "body": "b"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.admin(t, http.MethodPost, "/admin/emails/send", map[string]any{"to": "ann@example.com", "subject": "s", "body": "b"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = s.admin(t, http.MethodPost, "/admin/emails/auto-reply", map[string]any{"original_email": "ann@example.com", "customer_name": "Ann", "category": "sales"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = s.admin(t, http.MethodGet, "/admin/emails?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	emails := decode[struct {
		Emails []ledger.EmailRecord `json:"emails"`
	}](t, rec)
	require.Len(t, emails.Emails, 1)
	assert.Equal(t, ledger.EmailAutoReply, emails.Emails[0].EmailType)

	rec = s.admin(t, http.MethodPost, "/admin/customers", map[string]any{"phone": "555-000-1111", "name": "Cy", "source": "call"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.admin(t, http.MethodPost, "/admin/customers", map[string]any{"name": "Nobody", "source": "call"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.admin(t, http.MethodGet, "/admin/customers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "phone:5550001111")

	rec = s.admin(t, http.MethodGet, "/admin/activity?limit=3", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	acts := decode[struct {
		Activity []ledger.ActivityEntry `json:"activity"`
	}](t, rec)
	assert.Len(t, acts.Activity, 3)

	rec = s.admin(t, http.MethodPost, "/admin/email-queue", map[string]any{"forward_to": testSupport, "subject": "fwd", "body": "b"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = s.admin(t, http.MethodGet, "/admin/email-queue", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	queue := decode[struct {
		Entries []ledger.EmailForward `json:"entries"`
	}](t, rec)
	require.Len(t, queue.Entries, 1)
	assert.Equal(t, "normal", queue.Entries[0].Priority)
	rec = s.admin(t, http.MethodGet, "/admin/email-queue?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.admin(t, http.MethodGet, "/admin/calls", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"calls":[]}`, rec.Body.String())
}

func TestAdminOrderConfirmation(t *testing.T) {
	s := newTestStack(t)
	rec := s.admin(t, http.MethodPost, "/admin/orders/confirmation", map[string]any{
		"email": "buyer@example.com", "customer_name": "Buyer", "order_id": "ord-9", "app_name": "Widget", "download_key": "apps/widget.zip", "amount": "$19.00",
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.Len(t, s.sender.sent, 1)
	assert.Equal(t, "Your Order #ord-9 Confirmation", s.sender.sent[0].Subject)
	assert.Contains(t, s.sender.sent[0].HTML, "https://downloads.example.com/apps/widget.zip?sig=1")

	rec = s.admin(t, http.MethodPost, "/admin/orders/confirmation", map[string]any{"email": "buyer@example.com"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
