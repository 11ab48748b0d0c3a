package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteGateway stores the ledger in a local SQLite file for single-node
// deployments and development.
type SQLiteGateway struct {
	db *sql.DB

	mu    sync.Mutex
	clock func() time.Time
	last  time.Time
}

// NewSQLiteGateway opens (or creates) the database at path and ensures the schema exists.
func NewSQLiteGateway(path string) (*SQLiteGateway, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	g := newSQLiteGateway(db)
	if err = g.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return g, nil
}

func newSQLiteGateway(db *sql.DB) *SQLiteGateway {
	return &SQLiteGateway{db: db, clock: time.Now}
}

func (g *SQLiteGateway) Close() error {
	return g.db.Close()
}

// Ping checks that the database file is still usable.
func (g *SQLiteGateway) Ping(ctx context.Context) error {
	return g.db.PingContext(ctx)
}

func (g *SQLiteGateway) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS chat_messages (
        id TEXT PRIMARY KEY,
        conversation_id TEXT NOT NULL,
        sender TEXT NOT NULL CHECK (sender IN ('visitor', 'assistant')),
        message TEXT NOT NULL,
        visitor_name TEXT NOT NULL DEFAULT '',
        visitor_email TEXT NOT NULL DEFAULT '',
        visitor_phone TEXT NOT NULL DEFAULT '',
        timestamp DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_chat_messages_conversation ON chat_messages (conversation_id, timestamp);

    CREATE TABLE IF NOT EXISTS call_history (
        call_id TEXT PRIMARY KEY,
        phone_number TEXT NOT NULL DEFAULT '',
        customer_name TEXT NOT NULL DEFAULT '',
        call_type TEXT NOT NULL,
        status TEXT NOT NULL,
        duration INTEGER NOT NULL DEFAULT 0,
        summary TEXT NOT NULL DEFAULT '',
        callback_request TEXT,
        timestamp DATETIME NOT NULL
    );

    CREATE TABLE IF NOT EXISTS email_history (
        email_id TEXT PRIMARY KEY,
        provider_message_id TEXT NOT NULL DEFAULT '',
        from_email TEXT NOT NULL DEFAULT '',
        to_email TEXT NOT NULL,
        subject TEXT NOT NULL DEFAULT '',
        body TEXT NOT NULL DEFAULT '',
        email_type TEXT NOT NULL,
        status TEXT NOT NULL,
        ai_summary TEXT NOT NULL DEFAULT '',
        timestamp DATETIME NOT NULL
    );

    CREATE TABLE IF NOT EXISTS customers (
        id TEXT PRIMARY KEY,
        identity_key TEXT UNIQUE NOT NULL,
        email TEXT NOT NULL DEFAULT '',
        name TEXT NOT NULL DEFAULT '',
        phone TEXT NOT NULL DEFAULT '',
        source TEXT NOT NULL,
        notes TEXT NOT NULL DEFAULT '',
        first_contact DATETIME NOT NULL,
        last_contact DATETIME NOT NULL
    );

    CREATE TABLE IF NOT EXISTS assistant_activities (
        id TEXT PRIMARY KEY,
        activity_type TEXT NOT NULL,
        description TEXT NOT NULL,
        related_id TEXT NOT NULL DEFAULT '',
        metadata TEXT NOT NULL DEFAULT '{}',
        timestamp DATETIME NOT NULL
    );

    CREATE TABLE IF NOT EXISTS email_queue (
        id TEXT PRIMARY KEY,
        original_email TEXT NOT NULL DEFAULT '',
        forward_to TEXT NOT NULL,
        subject TEXT NOT NULL DEFAULT '',
        body TEXT NOT NULL DEFAULT '',
        priority TEXT NOT NULL DEFAULT 'normal',
        status TEXT NOT NULL DEFAULT 'pending',
        error_message TEXT NOT NULL DEFAULT '',
        created_at DATETIME NOT NULL,
        processed_at DATETIME,
        claimed_at DATETIME
    );
    `
	if _, err := g.db.Exec(schema); err != nil {
		return err
	}
	return g.addMissingColumns()
}

// addMissingColumns upgrades database files created before a column existed.
func (g *SQLiteGateway) addMissingColumns() error {
	for _, c := range []struct{ table, column, ddl string }{
		{"email_history", "provider_message_id", "TEXT NOT NULL DEFAULT ''"},
		{"email_queue", "claimed_at", "DATETIME"},
	} {
		var n int
		if err := g.db.QueryRow("SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?", c.table, c.column).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			continue
		}
		if _, err := g.db.Exec("ALTER TABLE " + c.table + " ADD COLUMN " + c.column + " " + c.ddl); err != nil {
			return err
		}
	}
	return nil
}

// now hands out strictly increasing UTC timestamps.
func (g *SQLiteGateway) now() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	t := g.clock().UTC()
	if !t.After(g.last) {
		t = g.last.Add(time.Microsecond)
	}
	g.last = t
	return t
}

func (g *SQLiteGateway) AppendChatMessage(ctx context.Context, in NewChatMessage) (*ChatMessage, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	msg := ChatMessage{
		ID:             uuid.NewString(),
		ConversationID: in.ConversationID,
		Sender:         in.Sender,
		Message:        in.Message,
		VisitorName:    strings.TrimSpace(in.Visitor.Name),
		VisitorEmail:   strings.TrimSpace(in.Visitor.Email),
		VisitorPhone:   strings.TrimSpace(in.Visitor.Phone),
		Timestamp:      g.now(),
	}
	_, err := g.db.ExecContext(ctx,
		"INSERT INTO chat_messages (id, conversation_id, sender, message, visitor_name, visitor_email, visitor_phone, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		msg.ID, msg.ConversationID, string(msg.Sender), msg.Message, msg.VisitorName, msg.VisitorEmail, msg.VisitorPhone, msg.Timestamp)
	if err != nil {
		return nil, persistence("insert chat message", err)
	}
	return &msg, nil
}

func (g *SQLiteGateway) ListChatMessages(ctx context.Context, conversationID string) ([]ChatMessage, error) {
	return g.queryChat(ctx, "list chat messages",
		"SELECT "+chatColumns+" FROM chat_messages WHERE conversation_id = ? ORDER BY timestamp ASC", conversationID)
}

func (g *SQLiteGateway) ListRecentChatMessages(ctx context.Context, limit int) ([]ChatMessage, error) {
	return g.queryChat(ctx, "list recent chat messages",
		"SELECT "+chatColumns+" FROM chat_messages ORDER BY timestamp DESC LIMIT ?", normalizeLimit(limit))
}

func (g *SQLiteGateway) queryChat(ctx context.Context, op, query string, args ...any) ([]ChatMessage, error) {
	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistence(op, err)
	}
	defer rows.Close()

	out := []ChatMessage{}
	for rows.Next() {
		var (
			msg    ChatMessage
			sender string
		)
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &sender, &msg.Message,
			&msg.VisitorName, &msg.VisitorEmail, &msg.VisitorPhone, &msg.Timestamp); err != nil {
			return nil, persistence(op, err)
		}
		msg.Sender = Sender(sender)
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence(op, err)
	}
	return out, nil
}

func (g *SQLiteGateway) ListRecentConversations(ctx context.Context, limit int) ([]ConversationSummary, error) {
	query := `
    SELECT m.conversation_id,
        COALESCE((SELECT v.visitor_name FROM chat_messages v
            WHERE v.conversation_id = m.conversation_id AND v.visitor_name <> ''
            ORDER BY v.timestamp ASC LIMIT 1), ''),
        COALESCE((SELECT v.visitor_email FROM chat_messages v
            WHERE v.conversation_id = m.conversation_id AND v.visitor_email <> ''
            ORDER BY v.timestamp ASC LIMIT 1), ''),
        m.sender, m.message, m.timestamp
    FROM chat_messages m
    WHERE m.timestamp = (SELECT MAX(x.timestamp) FROM chat_messages x WHERE x.conversation_id = m.conversation_id)
    ORDER BY m.timestamp DESC, m.conversation_id ASC
    LIMIT ?
    `
	rows, err := g.db.QueryContext(ctx, query, normalizeLimit(limit))
	if err != nil {
		return nil, persistence("list recent conversations", err)
	}
	defer rows.Close()

	out := []ConversationSummary{}
	for rows.Next() {
		var (
			s      ConversationSummary
			sender string
		)
		if err := rows.Scan(&s.ConversationID, &s.VisitorName, &s.VisitorEmail, &sender, &s.LastMessage, &s.LastActivity); err != nil {
			return nil, persistence("list recent conversations", err)
		}
		s.LastSender = Sender(sender)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("list recent conversations", err)
	}
	return out, nil
}

func (g *SQLiteGateway) AppendCallRecord(ctx context.Context, rec CallRecord) (*CallRecord, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	if rec.CallID == "" {
		rec.CallID = uuid.NewString()
	}
	var callback sql.NullString
	if rec.CallbackRequest != nil {
		data, err := json.Marshal(rec.CallbackRequest)
		if err != nil {
			return nil, persistence("marshal callback request", err)
		}
		callback = sql.NullString{String: string(data), Valid: true}
	}
	rec.Timestamp = g.now()
	res, err := g.db.ExecContext(ctx,
		"INSERT INTO call_history (call_id, phone_number, customer_name, call_type, status, duration, summary, callback_request, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT(call_id) DO NOTHING",
		rec.CallID, rec.PhoneNumber, rec.CustomerName, string(rec.CallType), string(rec.Status), rec.Duration, rec.Summary, callback, rec.Timestamp)
	if err != nil {
		return nil, persistence("insert call record", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return g.getCall(ctx, rec.CallID)
	}
	return &rec, nil
}

func (g *SQLiteGateway) getCall(ctx context.Context, callID string) (*CallRecord, error) {
	rec, err := scanSQLiteCall(g.db.QueryRowContext(ctx, "SELECT "+callColumns+" FROM call_history WHERE call_id = ?", callID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("call", callID)
	}
	if err != nil {
		return nil, persistence("select call record", err)
	}
	return rec, nil
}

func (g *SQLiteGateway) UpdateCallStatus(ctx context.Context, callID string, upd CallUpdate) (*CallRecord, error) {
	if err := validateCallUpdate(callID, upd); err != nil {
		return nil, err
	}
	from := allowedFrom(upd.Status)
	args := []any{string(upd.Status), upd.Summary, upd.Duration, callID}
	for _, s := range from {
		args = append(args, s)
	}
	query := "UPDATE call_history SET status = ?, summary = COALESCE(?, summary), duration = COALESCE(?, duration) WHERE call_id = ? AND status IN (" +
		strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ") + ")"
	res, err := g.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, persistence("update call status", err)
	}
	n, _ := res.RowsAffected()
	rec, err := g.getCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, transitionError(rec.Status, upd.Status)
	}
	return rec, nil
}

func (g *SQLiteGateway) ListCallRecords(ctx context.Context, limit int) ([]CallRecord, error) {
	rows, err := g.db.QueryContext(ctx, "SELECT "+callColumns+" FROM call_history ORDER BY timestamp DESC LIMIT ?", normalizeLimit(limit))
	if err != nil {
		return nil, persistence("list call records", err)
	}
	defer rows.Close()

	out := []CallRecord{}
	for rows.Next() {
		rec, err := scanSQLiteCall(rows)
		if err != nil {
			return nil, persistence("list call records", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("list call records", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteCall(row rowScanner) (*CallRecord, error) {
	var (
		rec              CallRecord
		callType, status string
		callback         sql.NullString
	)
	if err := row.Scan(&rec.CallID, &rec.PhoneNumber, &rec.CustomerName, &callType, &status,
		&rec.Duration, &rec.Summary, &callback, &rec.Timestamp); err != nil {
		return nil, err
	}
	rec.CallType = CallType(callType)
	rec.Status = CallStatus(status)
	if callback.Valid && callback.String != "" {
		var cb CallbackRequest
		if err := json.Unmarshal([]byte(callback.String), &cb); err != nil {
			return nil, fmt.Errorf("decode callback request: %w", err)
		}
		rec.CallbackRequest = &cb
	}
	return &rec, nil
}

func (g *SQLiteGateway) AppendEmailRecord(ctx context.Context, rec EmailRecord) (*EmailRecord, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	if rec.EmailID == "" {
		rec.EmailID = uuid.NewString()
	}
	rec.Timestamp = g.now()
	res, err := g.db.ExecContext(ctx,
		"INSERT INTO email_history (email_id, provider_message_id, from_email, to_email, subject, body, email_type, status, ai_summary, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT(email_id) DO NOTHING",
		rec.EmailID, rec.ProviderMessageID, rec.FromEmail, rec.ToEmail, rec.Subject, rec.Body, string(rec.EmailType), string(rec.Status), rec.AISummary, rec.Timestamp)
	if err != nil {
		return nil, persistence("insert email record", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		existing, err := scanSQLiteEmail(g.db.QueryRowContext(ctx, "SELECT "+emailColumns+" FROM email_history WHERE email_id = ?", rec.EmailID))
		if err != nil {
			return nil, persistence("select email record", err)
		}
		return existing, nil
	}
	return &rec, nil
}

func (g *SQLiteGateway) ListEmailRecords(ctx context.Context, limit int) ([]EmailRecord, error) {
	rows, err := g.db.QueryContext(ctx, "SELECT "+emailColumns+" FROM email_history ORDER BY timestamp DESC LIMIT ?", normalizeLimit(limit))
	if err != nil {
		return nil, persistence("list email records", err)
	}
	defer rows.Close()

	out := []EmailRecord{}
	for rows.Next() {
		rec, err := scanSQLiteEmail(rows)
		if err != nil {
			return nil, persistence("list email records", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("list email records", err)
	}
	return out, nil
}

func scanSQLiteEmail(row rowScanner) (*EmailRecord, error) {
	var (
		rec               EmailRecord
		emailType, status string
	)
	if err := row.Scan(&rec.EmailID, &rec.ProviderMessageID, &rec.FromEmail, &rec.ToEmail, &rec.Subject, &rec.Body,
		&emailType, &status, &rec.AISummary, &rec.Timestamp); err != nil {
		return nil, err
	}
	rec.EmailType = EmailType(emailType)
	rec.Status = EmailStatus(status)
	return &rec, nil
}

func (g *SQLiteGateway) UpsertCustomer(ctx context.Context, in CustomerUpsert) (*Customer, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	now := g.now()
	query := `
    INSERT INTO customers (id, identity_key, email, name, phone, source, notes, first_contact, last_contact)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
    ON CONFLICT(identity_key) DO UPDATE
    SET name = COALESCE(NULLIF(excluded.name, ''), customers.name),
        phone = COALESCE(NULLIF(excluded.phone, ''), customers.phone),
        notes = COALESCE(NULLIF(excluded.notes, ''), customers.notes),
        last_contact = excluded.last_contact
    RETURNING ` + customerColumns
	c, err := scanSQLiteCustomer(g.db.QueryRowContext(ctx, query, uuid.NewString(), in.IdentityKey(),
		strings.ToLower(strings.TrimSpace(in.Email)), strings.TrimSpace(in.Name), strings.TrimSpace(in.Phone),
		string(in.Source), in.Notes, now, now))
	if err != nil {
		return nil, persistence("upsert customer", err)
	}
	return c, nil
}

func (g *SQLiteGateway) ListCustomers(ctx context.Context, limit int) ([]Customer, error) {
	rows, err := g.db.QueryContext(ctx, "SELECT "+customerColumns+" FROM customers ORDER BY last_contact DESC LIMIT ?", normalizeLimit(limit))
	if err != nil {
		return nil, persistence("list customers", err)
	}
	defer rows.Close()

	out := []Customer{}
	for rows.Next() {
		c, err := scanSQLiteCustomer(rows)
		if err != nil {
			return nil, persistence("list customers", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("list customers", err)
	}
	return out, nil
}

func scanSQLiteCustomer(row rowScanner) (*Customer, error) {
	var (
		c      Customer
		source string
	)
	if err := row.Scan(&c.ID, &c.IdentityKey, &c.Email, &c.Name, &c.Phone, &source, &c.Notes,
		&c.FirstContact, &c.LastContact); err != nil {
		return nil, err
	}
	c.Source = CustomerSource(source)
	return &c, nil
}

func (g *SQLiteGateway) AppendActivity(ctx context.Context, in NewActivity) (*ActivityEntry, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	metadata, err := json.Marshal(nonNilMetadata(in.Metadata))
	if err != nil {
		return nil, persistence("marshal activity metadata", err)
	}
	entry := ActivityEntry{
		ID:           uuid.NewString(),
		ActivityType: in.Type,
		Description:  in.Description,
		RelatedID:    in.RelatedID,
		Metadata:     copyMetadata(in.Metadata),
		Timestamp:    g.now(),
	}
	_, err = g.db.ExecContext(ctx,
		"INSERT INTO assistant_activities (id, activity_type, description, related_id, metadata, timestamp) VALUES (?, ?, ?, ?, ?, ?)",
		entry.ID, string(entry.ActivityType), entry.Description, entry.RelatedID, string(metadata), entry.Timestamp)
	if err != nil {
		return nil, persistence("insert activity", err)
	}
	return &entry, nil
}

func (g *SQLiteGateway) ListActivity(ctx context.Context, limit int) ([]ActivityEntry, error) {
	rows, err := g.db.QueryContext(ctx,
		"SELECT id, activity_type, description, related_id, metadata, timestamp FROM assistant_activities ORDER BY timestamp DESC LIMIT ?",
		normalizeLimit(limit))
	if err != nil {
		return nil, persistence("list activity", err)
	}
	defer rows.Close()

	out := []ActivityEntry{}
	for rows.Next() {
		var (
			entry        ActivityEntry
			activityType string
			metadata     string
		)
		if err := rows.Scan(&entry.ID, &activityType, &entry.Description, &entry.RelatedID, &metadata, &entry.Timestamp); err != nil {
			return nil, persistence("list activity", err)
		}
		entry.ActivityType = ActivityType(activityType)
		if metadata != "" {
			if err := json.Unmarshal([]byte(metadata), &entry.Metadata); err != nil {
				return nil, persistence("decode activity metadata", err)
			}
			entry.Metadata = copyMetadata(entry.Metadata)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("list activity", err)
	}
	return out, nil
}

func (g *SQLiteGateway) QueueEmailForward(ctx context.Context, in NewEmailForward) (*EmailForward, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	f := EmailForward{
		ID:            uuid.NewString(),
		OriginalEmail: in.OriginalEmail,
		ForwardTo:     in.ForwardTo,
		Subject:       in.Subject,
		Body:          in.Body,
		Priority:      in.Priority,
		Status:        QueuePending,
		CreatedAt:     g.now(),
	}
	_, err := g.db.ExecContext(ctx,
		"INSERT INTO email_queue (id, original_email, forward_to, subject, body, priority, status, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		f.ID, f.OriginalEmail, f.ForwardTo, f.Subject, f.Body, f.Priority, string(f.Status), f.CreatedAt)
	if err != nil {
		return nil, persistence("queue email forward", err)
	}
	return &f, nil
}

func (g *SQLiteGateway) ListEmailQueue(ctx context.Context, status QueueStatus, limit int) ([]EmailForward, error) {
	rows, err := g.db.QueryContext(ctx,
		"SELECT "+queueColumns+" FROM email_queue WHERE status = ? ORDER BY created_at ASC LIMIT ?",
		string(status), normalizeLimit(limit))
	if err != nil {
		return nil, persistence("list email queue", err)
	}
	defer rows.Close()

	out := []EmailForward{}
	for rows.Next() {
		f, err := scanSQLiteForward(rows)
		if err != nil {
			return nil, persistence("list email queue", err)
		}
		out = append(out, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("list email queue", err)
	}
	return out, nil
}

// ClaimEmailQueue relies on SQLite serialising writers: the single UPDATE is atomic.
func (g *SQLiteGateway) ClaimEmailQueue(ctx context.Context, limit int, lease time.Duration) ([]EmailForward, error) {
	now := g.now()
	rows, err := g.db.QueryContext(ctx, `
    UPDATE email_queue SET status = 'processing', claimed_at = ?
    WHERE id IN (
        SELECT id FROM email_queue
        WHERE status = 'pending' OR (status = 'processing' AND claimed_at < ?)
        ORDER BY created_at ASC
        LIMIT ?
    )
    RETURNING `+queueColumns,
		now, now.Add(-normalizeLease(lease)), normalizeLimit(limit))
	if err != nil {
		return nil, persistence("claim email queue", err)
	}
	defer rows.Close()

	out := []EmailForward{}
	for rows.Next() {
		f, err := scanSQLiteForward(rows)
		if err != nil {
			return nil, persistence("claim email queue", err)
		}
		out = append(out, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("claim email queue", err)
	}
	sortForwards(out)
	return out, nil
}

func (g *SQLiteGateway) UpdateEmailQueueStatus(ctx context.Context, id string, status QueueStatus, errMsg string) (*EmailForward, error) {
	if err := validateQueueStatus(id, status); err != nil {
		return nil, err
	}
	res, err := g.db.ExecContext(ctx,
		"UPDATE email_queue SET status = ?, error_message = ?, processed_at = ? WHERE id = ? AND status IN ('pending', 'processing')",
		string(status), errMsg, g.now(), id)
	if err != nil {
		return nil, persistence("update email queue status", err)
	}
	n, _ := res.RowsAffected()
	f, err := scanSQLiteForward(g.db.QueryRowContext(ctx, "SELECT "+queueColumns+" FROM email_queue WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("email forward", id)
	}
	if err != nil {
		return nil, persistence("select email forward", err)
	}
	if n == 0 {
		return nil, invalid("status", "entry already "+string(f.Status))
	}
	return f, nil
}

func scanSQLiteForward(row rowScanner) (*EmailForward, error) {
	var (
		f         EmailForward
		status    string
		processed sql.NullTime
	)
	if err := row.Scan(&f.ID, &f.OriginalEmail, &f.ForwardTo, &f.Subject, &f.Body, &f.Priority,
		&status, &f.ErrorMessage, &f.CreatedAt, &processed); err != nil {
		return nil, err
	}
	f.Status = QueueStatus(status)
	if processed.Valid {
		t := processed.Time
		f.ProcessedAt = &t
	}
	return &f, nil
}

var _ Gateway = (*SQLiteGateway)(nil)
