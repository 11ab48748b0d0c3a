package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// PgxPool is the subset of pgxpool.Pool the gateway needs; pgxmock satisfies it.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresGateway stores the ledger in Postgres. Uniqueness of call ids,
// email ids and customer identity keys is enforced by the schema.
type PostgresGateway struct {
	pool   PgxPool
	tracer trace.Tracer
}

// NewPostgresGateway wraps a pgx pool.
func NewPostgresGateway(pool PgxPool) *PostgresGateway {
	if pool == nil {
		panic("ledger: pgx pool required")
	}
	return &PostgresGateway{
		pool:   pool,
		tracer: otel.Tracer("assistant-ledger.internal.ledger.postgres"),
	}
}

func (g *PostgresGateway) span(ctx context.Context, name string) (context.Context, trace.Span) {
	return g.tracer.Start(ctx, "ledger.postgres."+name)
}

func fail(span trace.Span, op string, err error) error {
	span.RecordError(err)
	return persistence(op, err)
}

const chatColumns = `id, conversation_id, sender, message, visitor_name, visitor_email, visitor_phone, timestamp`

func (g *PostgresGateway) AppendChatMessage(ctx context.Context, in NewChatMessage) (*ChatMessage, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	ctx, span := g.span(ctx, "append_chat_message")
	defer span.End()

	id := uuid.New()
	msg := ChatMessage{
		ID:             id.String(),
		ConversationID: in.ConversationID,
		Sender:         in.Sender,
		Message:        in.Message,
		VisitorName:    strings.TrimSpace(in.Visitor.Name),
		VisitorEmail:   strings.TrimSpace(in.Visitor.Email),
		VisitorPhone:   strings.TrimSpace(in.Visitor.Phone),
	}
	query := `
		INSERT INTO chat_messages (id, conversation_id, sender, message, visitor_name, visitor_email, visitor_phone)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING timestamp
	`
	if err := g.pool.QueryRow(ctx, query, id, msg.ConversationID, string(msg.Sender), msg.Message,
		msg.VisitorName, msg.VisitorEmail, msg.VisitorPhone).Scan(&msg.Timestamp); err != nil {
		return nil, fail(span, "insert chat message", err)
	}
	return &msg, nil
}

func (g *PostgresGateway) ListChatMessages(ctx context.Context, conversationID string) ([]ChatMessage, error) {
	ctx, span := g.span(ctx, "list_chat_messages")
	defer span.End()

	query := `SELECT ` + chatColumns + `
		FROM chat_messages
		WHERE conversation_id = $1
		ORDER BY timestamp ASC, id ASC
	`
	return g.queryChat(ctx, span, "list chat messages", query, conversationID)
}

func (g *PostgresGateway) ListRecentChatMessages(ctx context.Context, limit int) ([]ChatMessage, error) {
	ctx, span := g.span(ctx, "list_recent_chat_messages")
	defer span.End()

	query := `SELECT ` + chatColumns + `
		FROM chat_messages
		ORDER BY timestamp DESC, id DESC
		LIMIT $1
	`
	return g.queryChat(ctx, span, "list recent chat messages", query, normalizeLimit(limit))
}

func (g *PostgresGateway) queryChat(ctx context.Context, span trace.Span, op, query string, args ...any) ([]ChatMessage, error) {
	rows, err := g.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fail(span, op, err)
	}
	defer rows.Close()

	out := []ChatMessage{}
	for rows.Next() {
		var (
			msg    ChatMessage
			id     uuid.UUID
			sender string
		)
		if err := rows.Scan(&id, &msg.ConversationID, &sender, &msg.Message,
			&msg.VisitorName, &msg.VisitorEmail, &msg.VisitorPhone, &msg.Timestamp); err != nil {
			return nil, fail(span, op, err)
		}
		msg.ID = id.String()
		msg.Sender = Sender(sender)
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, op, err)
	}
	return out, nil
}

func (g *PostgresGateway) ListRecentConversations(ctx context.Context, limit int) ([]ConversationSummary, error) {
	ctx, span := g.span(ctx, "list_recent_conversations")
	defer span.End()

	query := `
		SELECT latest.conversation_id,
			COALESCE((SELECT v.visitor_name FROM chat_messages v
				WHERE v.conversation_id = latest.conversation_id AND v.visitor_name <> ''
				ORDER BY v.timestamp ASC LIMIT 1), ''),
			COALESCE((SELECT v.visitor_email FROM chat_messages v
				WHERE v.conversation_id = latest.conversation_id AND v.visitor_email <> ''
				ORDER BY v.timestamp ASC LIMIT 1), ''),
			latest.sender, latest.message, latest.timestamp
		FROM (
			SELECT DISTINCT ON (conversation_id) conversation_id, sender, message, timestamp
			FROM chat_messages
			ORDER BY conversation_id, timestamp DESC, id DESC
		) latest
		ORDER BY latest.timestamp DESC, latest.conversation_id ASC
		LIMIT $1
	`
	rows, err := g.pool.Query(ctx, query, normalizeLimit(limit))
	if err != nil {
		return nil, fail(span, "list recent conversations", err)
	}
	defer rows.Close()

	out := []ConversationSummary{}
	for rows.Next() {
		var (
			s      ConversationSummary
			sender string
		)
		if err := rows.Scan(&s.ConversationID, &s.VisitorName, &s.VisitorEmail, &sender, &s.LastMessage, &s.LastActivity); err != nil {
			return nil, fail(span, "list recent conversations", err)
		}
		s.LastSender = Sender(sender)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, "list recent conversations", err)
	}
	return out, nil
}

const callColumns = `call_id, phone_number, customer_name, call_type, status, duration, summary, callback_request, timestamp`

func (g *PostgresGateway) AppendCallRecord(ctx context.Context, rec CallRecord) (*CallRecord, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	ctx, span := g.span(ctx, "append_call_record")
	defer span.End()

	if rec.CallID == "" {
		rec.CallID = uuid.NewString()
	}
	var callback []byte
	if rec.CallbackRequest != nil {
		data, err := json.Marshal(rec.CallbackRequest)
		if err != nil {
			return nil, fail(span, "marshal callback request", err)
		}
		callback = data
	}
	query := `
		INSERT INTO call_history (call_id, phone_number, customer_name, call_type, status, duration, summary, callback_request)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (call_id) DO NOTHING
		RETURNING timestamp
	`
	err := g.pool.QueryRow(ctx, query, rec.CallID, rec.PhoneNumber, rec.CustomerName, string(rec.CallType),
		string(rec.Status), rec.Duration, rec.Summary, callback).Scan(&rec.Timestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return g.getCall(ctx, span, rec.CallID)
	}
	if err != nil {
		return nil, fail(span, "insert call record", err)
	}
	return &rec, nil
}

func (g *PostgresGateway) getCall(ctx context.Context, span trace.Span, callID string) (*CallRecord, error) {
	query := `SELECT ` + callColumns + ` FROM call_history WHERE call_id = $1`
	rec, err := scanCall(g.pool.QueryRow(ctx, query, callID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("call", callID)
	}
	if err != nil {
		return nil, fail(span, "select call record", err)
	}
	return rec, nil
}

func (g *PostgresGateway) UpdateCallStatus(ctx context.Context, callID string, upd CallUpdate) (*CallRecord, error) {
	if err := validateCallUpdate(callID, upd); err != nil {
		return nil, err
	}
	ctx, span := g.span(ctx, "update_call_status")
	defer span.End()

	query := `
		UPDATE call_history
		SET status = $2,
			summary = COALESCE($3, summary),
			duration = COALESCE($4, duration)
		WHERE call_id = $1 AND status = ANY($5)
		RETURNING ` + callColumns
	rec, err := scanCall(g.pool.QueryRow(ctx, query, callID, string(upd.Status), upd.Summary, upd.Duration, allowedFrom(upd.Status)))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fail(span, "update call status", err)
	}
	current, err := g.getCall(ctx, span, callID)
	if err != nil {
		return nil, err
	}
	return nil, transitionError(current.Status, upd.Status)
}

// allowedFrom lists the statuses a call may leave to reach next.
func allowedFrom(next CallStatus) []string {
	var out []string
	for _, s := range []CallStatus{CallPending, CallInProgress, CallCompleted, CallMissed, CallDeclined} {
		if s.CanTransition(next) {
			out = append(out, string(s))
		}
	}
	return out
}

func (g *PostgresGateway) ListCallRecords(ctx context.Context, limit int) ([]CallRecord, error) {
	ctx, span := g.span(ctx, "list_call_records")
	defer span.End()

	query := `SELECT ` + callColumns + ` FROM call_history ORDER BY timestamp DESC LIMIT $1`
	rows, err := g.pool.Query(ctx, query, normalizeLimit(limit))
	if err != nil {
		return nil, fail(span, "list call records", err)
	}
	defer rows.Close()

	out := []CallRecord{}
	for rows.Next() {
		rec, err := scanCall(rows)
		if err != nil {
			return nil, fail(span, "list call records", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, "list call records", err)
	}
	return out, nil
}

func scanCall(row pgx.Row) (*CallRecord, error) {
	var (
		rec              CallRecord
		callType, status string
		callback         []byte
	)
	if err := row.Scan(&rec.CallID, &rec.PhoneNumber, &rec.CustomerName, &callType, &status,
		&rec.Duration, &rec.Summary, &callback, &rec.Timestamp); err != nil {
		return nil, err
	}
	rec.CallType = CallType(callType)
	rec.Status = CallStatus(status)
	if len(callback) > 0 {
		var cb CallbackRequest
		if err := json.Unmarshal(callback, &cb); err != nil {
			return nil, fmt.Errorf("decode callback request: %w", err)
		}
		rec.CallbackRequest = &cb
	}
	return &rec, nil
}

const emailColumns = `email_id, provider_message_id, from_email, to_email, subject, body, email_type, status, ai_summary, timestamp`

func (g *PostgresGateway) AppendEmailRecord(ctx context.Context, rec EmailRecord) (*EmailRecord, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	ctx, span := g.span(ctx, "append_email_record")
	defer span.End()

	if rec.EmailID == "" {
		rec.EmailID = uuid.NewString()
	}
	query := `
		INSERT INTO email_history (email_id, provider_message_id, from_email, to_email, subject, body, email_type, status, ai_summary)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (email_id) DO NOTHING
		RETURNING timestamp
	`
	err := g.pool.QueryRow(ctx, query, rec.EmailID, rec.ProviderMessageID, rec.FromEmail, rec.ToEmail, rec.Subject, rec.Body,
		string(rec.EmailType), string(rec.Status), rec.AISummary).Scan(&rec.Timestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		existing, err := scanEmail(g.pool.QueryRow(ctx, `SELECT `+emailColumns+` FROM email_history WHERE email_id = $1`, rec.EmailID))
		if err != nil {
			return nil, fail(span, "select email record", err)
		}
		return existing, nil
	}
	if err != nil {
		return nil, fail(span, "insert email record", err)
	}
	return &rec, nil
}

func (g *PostgresGateway) ListEmailRecords(ctx context.Context, limit int) ([]EmailRecord, error) {
	ctx, span := g.span(ctx, "list_email_records")
	defer span.End()

	query := `SELECT ` + emailColumns + ` FROM email_history ORDER BY timestamp DESC LIMIT $1`
	rows, err := g.pool.Query(ctx, query, normalizeLimit(limit))
	if err != nil {
		return nil, fail(span, "list email records", err)
	}
	defer rows.Close()

	out := []EmailRecord{}
	for rows.Next() {
		rec, err := scanEmail(rows)
		if err != nil {
			return nil, fail(span, "list email records", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, "list email records", err)
	}
	return out, nil
}

func scanEmail(row pgx.Row) (*EmailRecord, error) {
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

const customerColumns = `id, identity_key, email, name, phone, source, notes, first_contact, last_contact`

// UpsertCustomer resolves concurrent first contacts with a single conflict-resolving statement.
func (g *PostgresGateway) UpsertCustomer(ctx context.Context, in CustomerUpsert) (*Customer, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	ctx, span := g.span(ctx, "upsert_customer")
	defer span.End()

	query := `
		INSERT INTO customers (id, identity_key, email, name, phone, source, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (identity_key) DO UPDATE
		SET name = COALESCE(NULLIF(EXCLUDED.name, ''), customers.name),
			phone = COALESCE(NULLIF(EXCLUDED.phone, ''), customers.phone),
			notes = COALESCE(NULLIF(EXCLUDED.notes, ''), customers.notes),
			last_contact = now()
		RETURNING ` + customerColumns
	c, err := scanCustomer(g.pool.QueryRow(ctx, query, uuid.New(), in.IdentityKey(),
		strings.ToLower(strings.TrimSpace(in.Email)), strings.TrimSpace(in.Name),
		strings.TrimSpace(in.Phone), string(in.Source), in.Notes))
	if err != nil {
		return nil, fail(span, "upsert customer", err)
	}
	return c, nil
}

func (g *PostgresGateway) ListCustomers(ctx context.Context, limit int) ([]Customer, error) {
	ctx, span := g.span(ctx, "list_customers")
	defer span.End()

	query := `SELECT ` + customerColumns + ` FROM customers ORDER BY last_contact DESC LIMIT $1`
	rows, err := g.pool.Query(ctx, query, normalizeLimit(limit))
	if err != nil {
		return nil, fail(span, "list customers", err)
	}
	defer rows.Close()

	out := []Customer{}
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, fail(span, "list customers", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, "list customers", err)
	}
	return out, nil
}

func scanCustomer(row pgx.Row) (*Customer, error) {
	var (
		c      Customer
		id     uuid.UUID
		source string
	)
	if err := row.Scan(&id, &c.IdentityKey, &c.Email, &c.Name, &c.Phone, &source, &c.Notes,
		&c.FirstContact, &c.LastContact); err != nil {
		return nil, err
	}
	c.ID = id.String()
	c.Source = CustomerSource(source)
	return &c, nil
}

func (g *PostgresGateway) AppendActivity(ctx context.Context, in NewActivity) (*ActivityEntry, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	ctx, span := g.span(ctx, "append_activity")
	defer span.End()

	metadata, err := json.Marshal(nonNilMetadata(in.Metadata))
	if err != nil {
		return nil, fail(span, "marshal activity metadata", err)
	}
	id := uuid.New()
	entry := ActivityEntry{
		ID:           id.String(),
		ActivityType: in.Type,
		Description:  in.Description,
		RelatedID:    in.RelatedID,
		Metadata:     copyMetadata(in.Metadata),
	}
	query := `
		INSERT INTO assistant_activities (id, activity_type, description, related_id, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING timestamp
	`
	if err := g.pool.QueryRow(ctx, query, id, string(in.Type), in.Description, in.RelatedID, metadata).Scan(&entry.Timestamp); err != nil {
		return nil, fail(span, "insert activity", err)
	}
	return &entry, nil
}

func (g *PostgresGateway) ListActivity(ctx context.Context, limit int) ([]ActivityEntry, error) {
	ctx, span := g.span(ctx, "list_activity")
	defer span.End()

	query := `
		SELECT id, activity_type, description, related_id, metadata, timestamp
		FROM assistant_activities
		ORDER BY timestamp DESC, id DESC
		LIMIT $1
	`
	rows, err := g.pool.Query(ctx, query, normalizeLimit(limit))
	if err != nil {
		return nil, fail(span, "list activity", err)
	}
	defer rows.Close()

	out := []ActivityEntry{}
	for rows.Next() {
		var (
			entry        ActivityEntry
			id           uuid.UUID
			activityType string
			metadata     []byte
		)
		if err := rows.Scan(&id, &activityType, &entry.Description, &entry.RelatedID, &metadata, &entry.Timestamp); err != nil {
			return nil, fail(span, "list activity", err)
		}
		entry.ID = id.String()
		entry.ActivityType = ActivityType(activityType)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
				return nil, fail(span, "decode activity metadata", err)
			}
			entry.Metadata = copyMetadata(entry.Metadata)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, "list activity", err)
	}
	return out, nil
}

const queueColumns = `id, original_email, forward_to, subject, body, priority, status, error_message, created_at, processed_at`

func (g *PostgresGateway) QueueEmailForward(ctx context.Context, in NewEmailForward) (*EmailForward, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	ctx, span := g.span(ctx, "queue_email_forward")
	defer span.End()

	id := uuid.New()
	f := EmailForward{
		ID:            id.String(),
		OriginalEmail: in.OriginalEmail,
		ForwardTo:     in.ForwardTo,
		Subject:       in.Subject,
		Body:          in.Body,
		Priority:      in.Priority,
		Status:        QueuePending,
	}
	query := `
		INSERT INTO email_queue (id, original_email, forward_to, subject, body, priority, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	if err := g.pool.QueryRow(ctx, query, id, f.OriginalEmail, f.ForwardTo, f.Subject, f.Body,
		f.Priority, string(QueuePending)).Scan(&f.CreatedAt); err != nil {
		return nil, fail(span, "queue email forward", err)
	}
	return &f, nil
}

func (g *PostgresGateway) ListEmailQueue(ctx context.Context, status QueueStatus, limit int) ([]EmailForward, error) {
	ctx, span := g.span(ctx, "list_email_queue")
	defer span.End()

	query := `SELECT ` + queueColumns + `
		FROM email_queue
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := g.pool.Query(ctx, query, string(status), normalizeLimit(limit))
	if err != nil {
		return nil, fail(span, "list email queue", err)
	}
	defer rows.Close()

	out := []EmailForward{}
	for rows.Next() {
		f, err := scanForward(rows)
		if err != nil {
			return nil, fail(span, "list email queue", err)
		}
		out = append(out, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, "list email queue", err)
	}
	return out, nil
}

func (g *PostgresGateway) ClaimEmailQueue(ctx context.Context, limit int, lease time.Duration) ([]EmailForward, error) {
	ctx, span := g.span(ctx, "claim_email_queue")
	defer span.End()

	query := `
		UPDATE email_queue
		SET status = 'processing', claimed_at = now()
		WHERE id IN (
			SELECT id FROM email_queue
			WHERE status = 'pending'
			   OR (status = 'processing' AND claimed_at < now() - make_interval(secs => $2))
			ORDER BY created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + queueColumns
	rows, err := g.pool.Query(ctx, query, normalizeLimit(limit), normalizeLease(lease).Seconds())
	if err != nil {
		return nil, fail(span, "claim email queue", err)
	}
	defer rows.Close()

	out := []EmailForward{}
	for rows.Next() {
		f, err := scanForward(rows)
		if err != nil {
			return nil, fail(span, "claim email queue", err)
		}
		out = append(out, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, "claim email queue", err)
	}
	sortForwards(out)
	return out, nil
}

func (g *PostgresGateway) UpdateEmailQueueStatus(ctx context.Context, id string, status QueueStatus, errMsg string) (*EmailForward, error) {
	if err := validateQueueStatus(id, status); err != nil {
		return nil, err
	}
	queueID, err := uuid.Parse(id)
	if err != nil {
		return nil, notFound("email forward", id)
	}
	ctx, span := g.span(ctx, "update_email_queue_status")
	defer span.End()

	query := `
		UPDATE email_queue
		SET status = $2, error_message = $3, processed_at = now()
		WHERE id = $1 AND status IN ('pending', 'processing')
		RETURNING ` + queueColumns
	f, err := scanForward(g.pool.QueryRow(ctx, query, queueID, string(status), errMsg))
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fail(span, "update email queue status", err)
	}
	var current string
	err = g.pool.QueryRow(ctx, `SELECT status FROM email_queue WHERE id = $1`, queueID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("email forward", id)
	}
	if err != nil {
		return nil, fail(span, "select email queue status", err)
	}
	return nil, invalid("status", "entry already "+current)
}

func scanForward(row pgx.Row) (*EmailForward, error) {
	var (
		f         EmailForward
		id        uuid.UUID
		status    string
		processed *time.Time
	)
	if err := row.Scan(&id, &f.OriginalEmail, &f.ForwardTo, &f.Subject, &f.Body, &f.Priority,
		&status, &f.ErrorMessage, &f.CreatedAt, &processed); err != nil {
		return nil, err
	}
	f.ID = id.String()
	f.Status = QueueStatus(status)
	f.ProcessedAt = processed
	return &f, nil
}

func nonNilMetadata(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

var _ Gateway = (*PostgresGateway)(nil)
