package ledger

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteMock(t *testing.T) (*SQLiteGateway, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return newSQLiteGateway(db), mock
}

func TestSQLiteGateway_AppendChatMessage(t *testing.T) {
	g, mock := newSQLiteMock(t)
	mock.ExpectExec("INSERT INTO chat_messages").
		WithArgs(sqlmock.AnyArg(), "c1", "assistant", "hello", "", "", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	msg, err := g.AppendChatMessage(context.Background(), NewChatMessage{ConversationID: "c1", Sender: SenderAssistant, Message: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "c1", msg.ConversationID)
	assert.False(t, msg.Timestamp.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteGateway_MonotonicTimestamps(t *testing.T) {
	g, _ := newSQLiteMock(t)
	fixed := time.Unix(50, 0)
	g.clock = func() time.Time { return fixed }

	a := g.now()
	b := g.now()
	assert.True(t, b.After(a))
}

func TestSQLiteGateway_ListRecentConversations(t *testing.T) {
	g, mock := newSQLiteMock(t)
	mock.ExpectQuery("FROM chat_messages m").
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows([]string{"conversation_id", "visitor_name", "visitor_email", "sender", "message", "timestamp"}).
			AddRow("c2", "", "", "visitor", "yo", time.Unix(2, 0)).
			AddRow("c1", "Ann", "ann@x.com", "assistant", "hello", time.Unix(1, 0)))

	got, err := g.ListRecentConversations(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c2", got[0].ConversationID)
	assert.Equal(t, "ann@x.com", got[1].VisitorEmail)
}

func TestSQLiteGateway_AppendCallRecordDuplicate(t *testing.T) {
	g, mock := newSQLiteMock(t)
	mock.ExpectExec("INSERT INTO call_history").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FROM call_history WHERE call_id").
		WithArgs("call-9").
		WillReturnRows(sqlmock.NewRows([]string{"call_id", "phone_number", "customer_name", "call_type", "status", "duration", "summary", "callback_request", "timestamp"}).
			AddRow("call-9", "", "", "outgoing", "completed", 30, "done", nil, time.Now()))

	rec, err := g.AppendCallRecord(context.Background(), CallRecord{CallID: "call-9", CallType: CallOutgoing, Status: CallPending})
	require.NoError(t, err)
	assert.Equal(t, CallCompleted, rec.Status)
	assert.Nil(t, rec.CallbackRequest)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteGateway_UpdateCallStatusIllegal(t *testing.T) {
	g, mock := newSQLiteMock(t)
	mock.ExpectExec("UPDATE call_history").
		WithArgs("in_progress", nil, nil, "call-1", "pending").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FROM call_history WHERE call_id").
		WithArgs("call-1").
		WillReturnRows(sqlmock.NewRows([]string{"call_id", "phone_number", "customer_name", "call_type", "status", "duration", "summary", "callback_request", "timestamp"}).
			AddRow("call-1", "", "", "incoming", "missed", 0, "", nil, time.Now()))

	_, err := g.UpdateCallStatus(context.Background(), "call-1", CallUpdate{Status: CallInProgress})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSQLiteGateway_UpsertCustomer(t *testing.T) {
	g, mock := newSQLiteMock(t)
	first := time.Unix(10, 0).UTC()
	mock.ExpectQuery("ON CONFLICT\\(identity_key\\) DO UPDATE").
		WithArgs(sqlmock.AnyArg(), "phone:5551234567", "", "Bo", "555-123-4567", "callback_request", "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "identity_key", "email", "name", "phone", "source", "notes", "first_contact", "last_contact"}).
			AddRow("cust-1", "phone:5551234567", "", "Bo", "555-123-4567", "callback_request", "", first, time.Now()))

	c, err := g.UpsertCustomer(context.Background(), CustomerUpsert{Phone: "555-123-4567", Name: "Bo", Source: SourceCallbackRequest})
	require.NoError(t, err)
	assert.Equal(t, "cust-1", c.ID)
	assert.Equal(t, first, c.FirstContact)
}

func TestSQLiteGateway_PersistenceErrors(t *testing.T) {
	g, mock := newSQLiteMock(t)
	mock.ExpectQuery("FROM email_history").WillReturnError(errors.New("disk I/O error"))

	_, err := g.ListEmailRecords(context.Background(), 0)
	assert.ErrorIs(t, err, ErrPersistence)
}

func TestSQLiteGateway_UpdateEmailQueueStatusNotFound(t *testing.T) {
	g, mock := newSQLiteMock(t)
	mock.ExpectExec("UPDATE email_queue").
		WithArgs("sent", "", sqlmock.AnyArg(), "q-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FROM email_queue WHERE id").
		WithArgs("q-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := g.UpdateEmailQueueStatus(context.Background(), "q-1", QueueSent, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteGateway_ListActivity(t *testing.T) {
	g, mock := newSQLiteMock(t)
	mock.ExpectQuery("FROM assistant_activities").
		WithArgs(DefaultListLimit).
		WillReturnRows(sqlmock.NewRows([]string{"id", "activity_type", "description", "related_id", "metadata", "timestamp"}).
			AddRow("a-1", "chat", "New chat", "c1", `{}`, time.Now()))

	got, err := g.ListActivity(context.Background(), -1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ActivityChat, got[0].ActivityType)
	assert.Nil(t, got[0].Metadata)
}

func newSQLiteFile(t *testing.T) *SQLiteGateway {
	t.Helper()
	g, err := NewSQLiteGateway(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })
	return g
}

func TestSQLiteGateway_ClaimEmailQueueQuery(t *testing.T) {
	g, mock := newSQLiteMock(t)
	cols := []string{"id", "original_email", "forward_to", "subject", "body", "priority", "status", "error_message", "created_at", "processed_at"}
	mock.ExpectQuery("UPDATE email_queue SET status = 'processing'").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), 5).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("f2", "", "support@x.com", "later", "", "normal", "processing", "", time.Unix(20, 0), nil).
			AddRow("f1", "", "support@x.com", "earlier", "", "normal", "processing", "", time.Unix(10, 0), nil))

	got, err := g.ClaimEmailQueue(context.Background(), 5, time.Minute)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "f1", got[0].ID)
	assert.Equal(t, QueueProcessing, got[0].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteGateway_ClaimEmailQueueFile(t *testing.T) {
	ctx := context.Background()
	g := newSQLiteFile(t)
	now := time.Unix(1000, 0).UTC()
	g.clock = func() time.Time { return now }

	f, err := g.QueueEmailForward(ctx, NewEmailForward{ForwardTo: "support@x.com", Subject: "s"})
	require.NoError(t, err)

	claimed, err := g.ClaimEmailQueue(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, f.ID, claimed[0].ID)

	claimed, err = g.ClaimEmailQueue(ctx, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	now = now.Add(2 * time.Minute)
	claimed, err = g.ClaimEmailQueue(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	sent, err := g.UpdateEmailQueueStatus(ctx, f.ID, QueueSent, "")
	require.NoError(t, err)
	assert.Equal(t, QueueSent, sent.Status)

	now = now.Add(time.Hour)
	claimed, err = g.ClaimEmailQueue(ctx, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestSQLiteGateway_RecentConversationsStableAcrossCalls(t *testing.T) {
	ctx := context.Background()
	g := newSQLiteFile(t)

	for _, id := range []string{"c3", "c1", "c2", "c1", "c4"} {
		_, err := g.AppendChatMessage(ctx, NewChatMessage{ConversationID: id, Sender: SenderVisitor, Message: "m " + id, Visitor: VisitorInfo{Name: "V " + id}})
		require.NoError(t, err)
	}

	first, err := g.ListRecentConversations(ctx, 10)
	require.NoError(t, err)
	second, err := g.ListRecentConversations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, first, 4)
	assert.Equal(t, first, second)
	assert.Equal(t, "c4", first[0].ConversationID)
}

func TestSQLiteGateway_ProviderMessageIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	g := newSQLiteFile(t)

	rec, err := g.AppendEmailRecord(ctx, EmailRecord{ProviderMessageID: "sg-1", ToEmail: "ann@x.com", EmailType: EmailOutgoing, Status: EmailSent})
	require.NoError(t, err)
	assert.NotEqual(t, "sg-1", rec.EmailID)

	again, err := g.AppendEmailRecord(ctx, EmailRecord{ProviderMessageID: "sg-1", ToEmail: "ann@x.com", EmailType: EmailOutgoing, Status: EmailSent})
	require.NoError(t, err)
	assert.NotEqual(t, rec.EmailID, again.EmailID)

	records, err := g.ListEmailRecords(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, r := range records {
		assert.Equal(t, "sg-1", r.ProviderMessageID)
	}
}

func TestSQLiteGateway_UpgradesOlderFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(`
    CREATE TABLE email_history (
        email_id TEXT PRIMARY KEY,
        from_email TEXT NOT NULL DEFAULT '',
        to_email TEXT NOT NULL,
        subject TEXT NOT NULL DEFAULT '',
        body TEXT NOT NULL DEFAULT '',
        email_type TEXT NOT NULL,
        status TEXT NOT NULL,
        ai_summary TEXT NOT NULL DEFAULT '',
        timestamp DATETIME NOT NULL
    );
    CREATE TABLE email_queue (
        id TEXT PRIMARY KEY,
        original_email TEXT NOT NULL DEFAULT '',
        forward_to TEXT NOT NULL,
        subject TEXT NOT NULL DEFAULT '',
        body TEXT NOT NULL DEFAULT '',
        priority TEXT NOT NULL DEFAULT 'normal',
        status TEXT NOT NULL DEFAULT 'pending',
        error_message TEXT NOT NULL DEFAULT '',
        created_at DATETIME NOT NULL,
        processed_at DATETIME
    );`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	g, err := NewSQLiteGateway(path)
	require.NoError(t, err)
	defer g.Close()

	ctx := context.Background()
	_, err = g.AppendEmailRecord(ctx, EmailRecord{ProviderMessageID: "p-1", ToEmail: "ann@x.com", EmailType: EmailIncoming, Status: EmailReceived})
	require.NoError(t, err)
	_, err = g.QueueEmailForward(ctx, NewEmailForward{ForwardTo: "support@x.com"})
	require.NoError(t, err)
	claimed, err := g.ClaimEmailQueue(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, claimed, 1)
}
