package ledger

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryGateway keeps the ledger in process memory. It is safe for concurrent
// use and assigns strictly increasing timestamps, so ordering matches insert order.
type MemoryGateway struct {
	mu    sync.RWMutex
	clock func() time.Time
	last  time.Time

	messages  []ChatMessage
	calls     []*CallRecord
	callIndex map[string]*CallRecord
	emails    []EmailRecord
	emailIDs  map[string]int
	customers map[string]*Customer
	activity  []ActivityEntry
	queue     []*EmailForward
	queueByID map[string]*EmailForward
	claimedAt map[string]time.Time
}

// MemoryOption customises a MemoryGateway.
type MemoryOption func(*MemoryGateway)

// WithClock replaces time.Now, mainly for tests.
func WithClock(clock func() time.Time) MemoryOption {
	return func(g *MemoryGateway) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// NewMemoryGateway creates an empty in-memory ledger.
func NewMemoryGateway(opts ...MemoryOption) *MemoryGateway {
	g := &MemoryGateway{
		clock:     time.Now,
		callIndex: make(map[string]*CallRecord),
		emailIDs:  make(map[string]int),
		customers: make(map[string]*Customer),
		queueByID: make(map[string]*EmailForward),
		claimedAt: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// now must be called with mu held for writing.
func (g *MemoryGateway) now() time.Time {
	t := g.clock().UTC()
	if !t.After(g.last) {
		t = g.last.Add(time.Microsecond)
	}
	g.last = t
	return t
}

func (g *MemoryGateway) AppendChatMessage(ctx context.Context, in NewChatMessage) (*ChatMessage, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

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
	g.messages = append(g.messages, msg)
	out := msg
	return &out, nil
}

func (g *MemoryGateway) ListChatMessages(ctx context.Context, conversationID string) ([]ChatMessage, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := []ChatMessage{}
	for _, msg := range g.messages {
		if msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (g *MemoryGateway) ListRecentChatMessages(ctx context.Context, limit int) ([]ChatMessage, error) {
	limit = normalizeLimit(limit)
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]ChatMessage, 0, min(limit, len(g.messages)))
	for i := len(g.messages) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, g.messages[i])
	}
	return out, nil
}

func (g *MemoryGateway) ListRecentConversations(ctx context.Context, limit int) ([]ConversationSummary, error) {
	limit = normalizeLimit(limit)
	g.mu.RLock()
	defer g.mu.RUnlock()

	byID := make(map[string]*ConversationSummary)
	for _, msg := range g.messages {
		s, ok := byID[msg.ConversationID]
		if !ok {
			s = &ConversationSummary{ConversationID: msg.ConversationID}
			byID[msg.ConversationID] = s
		}
		if s.VisitorName == "" && msg.VisitorName != "" {
			s.VisitorName = msg.VisitorName
		}
		if s.VisitorEmail == "" && msg.VisitorEmail != "" {
			s.VisitorEmail = msg.VisitorEmail
		}
		if !msg.Timestamp.Before(s.LastActivity) {
			s.LastActivity = msg.Timestamp
			s.LastSender = msg.Sender
			s.LastMessage = msg.Message
		}
	}

	out := make([]ConversationSummary, 0, len(byID))
	for _, s := range byID {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].LastActivity.After(out[j].LastActivity)
		}
		return out[i].ConversationID < out[j].ConversationID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (g *MemoryGateway) AppendCallRecord(ctx context.Context, rec CallRecord) (*CallRecord, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if rec.CallID == "" {
		rec.CallID = uuid.NewString()
	}
	if existing, ok := g.callIndex[rec.CallID]; ok {
		out := cloneCall(*existing)
		return &out, nil
	}
	rec.Timestamp = g.now()
	stored := cloneCall(rec)
	g.calls = append(g.calls, &stored)
	g.callIndex[stored.CallID] = &stored
	out := cloneCall(stored)
	return &out, nil
}

func (g *MemoryGateway) UpdateCallStatus(ctx context.Context, callID string, upd CallUpdate) (*CallRecord, error) {
	if err := validateCallUpdate(callID, upd); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.callIndex[callID]
	if !ok {
		return nil, notFound("call", callID)
	}
	if !rec.Status.CanTransition(upd.Status) {
		return nil, transitionError(rec.Status, upd.Status)
	}
	rec.Status = upd.Status
	if upd.Summary != nil {
		rec.Summary = *upd.Summary
	}
	if upd.Duration != nil {
		rec.Duration = *upd.Duration
	}
	out := cloneCall(*rec)
	return &out, nil
}

func (g *MemoryGateway) ListCallRecords(ctx context.Context, limit int) ([]CallRecord, error) {
	limit = normalizeLimit(limit)
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]CallRecord, 0, min(limit, len(g.calls)))
	for i := len(g.calls) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, cloneCall(*g.calls[i]))
	}
	return out, nil
}

func (g *MemoryGateway) AppendEmailRecord(ctx context.Context, rec EmailRecord) (*EmailRecord, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if rec.EmailID == "" {
		rec.EmailID = uuid.NewString()
	}
	if idx, ok := g.emailIDs[rec.EmailID]; ok {
		out := g.emails[idx]
		return &out, nil
	}
	rec.Timestamp = g.now()
	g.emailIDs[rec.EmailID] = len(g.emails)
	g.emails = append(g.emails, rec)
	return &rec, nil
}

func (g *MemoryGateway) ListEmailRecords(ctx context.Context, limit int) ([]EmailRecord, error) {
	limit = normalizeLimit(limit)
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]EmailRecord, 0, min(limit, len(g.emails)))
	for i := len(g.emails) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, g.emails[i])
	}
	return out, nil
}

func (g *MemoryGateway) UpsertCustomer(ctx context.Context, in CustomerUpsert) (*Customer, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	key := in.IdentityKey()

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	c, ok := g.customers[key]
	if !ok {
		c = &Customer{
			ID:           uuid.NewString(),
			IdentityKey:  key,
			Email:        strings.ToLower(strings.TrimSpace(in.Email)),
			Name:         strings.TrimSpace(in.Name),
			Phone:        strings.TrimSpace(in.Phone),
			Source:       in.Source,
			Notes:        in.Notes,
			FirstContact: now,
			LastContact:  now,
		}
		g.customers[key] = c
		out := *c
		return &out, nil
	}
	if name := strings.TrimSpace(in.Name); name != "" {
		c.Name = name
	}
	if phone := strings.TrimSpace(in.Phone); phone != "" {
		c.Phone = phone
	}
	if in.Notes != "" {
		c.Notes = in.Notes
	}
	c.LastContact = now
	out := *c
	return &out, nil
}

func (g *MemoryGateway) ListCustomers(ctx context.Context, limit int) ([]Customer, error) {
	limit = normalizeLimit(limit)
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Customer, 0, len(g.customers))
	for _, c := range g.customers {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastContact.Equal(out[j].LastContact) {
			return out[i].LastContact.After(out[j].LastContact)
		}
		return out[i].IdentityKey < out[j].IdentityKey
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (g *MemoryGateway) AppendActivity(ctx context.Context, in NewActivity) (*ActivityEntry, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	entry := ActivityEntry{
		ID:           uuid.NewString(),
		ActivityType: in.Type,
		Description:  in.Description,
		RelatedID:    in.RelatedID,
		Metadata:     copyMetadata(in.Metadata),
		Timestamp:    g.now(),
	}
	g.activity = append(g.activity, entry)
	out := entry
	out.Metadata = copyMetadata(entry.Metadata)
	return &out, nil
}

func (g *MemoryGateway) ListActivity(ctx context.Context, limit int) ([]ActivityEntry, error) {
	limit = normalizeLimit(limit)
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]ActivityEntry, 0, min(limit, len(g.activity)))
	for i := len(g.activity) - 1; i >= 0 && len(out) < limit; i-- {
		entry := g.activity[i]
		entry.Metadata = copyMetadata(entry.Metadata)
		out = append(out, entry)
	}
	return out, nil
}

func (g *MemoryGateway) QueueEmailForward(ctx context.Context, in NewEmailForward) (*EmailForward, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	f := &EmailForward{
		ID:            uuid.NewString(),
		OriginalEmail: in.OriginalEmail,
		ForwardTo:     in.ForwardTo,
		Subject:       in.Subject,
		Body:          in.Body,
		Priority:      in.Priority,
		Status:        QueuePending,
		CreatedAt:     g.now(),
	}
	g.queue = append(g.queue, f)
	g.queueByID[f.ID] = f
	out := *f
	return &out, nil
}

func (g *MemoryGateway) ListEmailQueue(ctx context.Context, status QueueStatus, limit int) ([]EmailForward, error) {
	limit = normalizeLimit(limit)
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := []EmailForward{}
	for _, f := range g.queue {
		if f.Status == status {
			out = append(out, *f)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (g *MemoryGateway) ClaimEmailQueue(ctx context.Context, limit int, lease time.Duration) ([]EmailForward, error) {
	limit = normalizeLimit(limit)
	lease = normalizeLease(lease)
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	out := []EmailForward{}
	for _, f := range g.queue {
		if len(out) == limit {
			break
		}
		if !claimable(f.Status, g.claimedAt[f.ID], now, lease) {
			continue
		}
		f.Status = QueueProcessing
		g.claimedAt[f.ID] = now
		out = append(out, *f)
	}
	return out, nil
}

func (g *MemoryGateway) UpdateEmailQueueStatus(ctx context.Context, id string, status QueueStatus, errMsg string) (*EmailForward, error) {
	if err := validateQueueStatus(id, status); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	f, ok := g.queueByID[id]
	if !ok {
		return nil, notFound("email forward", id)
	}
	if f.Status != QueuePending && f.Status != QueueProcessing {
		return nil, invalid("status", "entry already "+string(f.Status))
	}
	delete(g.claimedAt, id)
	processed := g.now()
	f.Status = status
	f.ErrorMessage = errMsg
	f.ProcessedAt = &processed
	out := *f
	return &out, nil
}

func cloneCall(rec CallRecord) CallRecord {
	if rec.CallbackRequest != nil {
		cb := *rec.CallbackRequest
		rec.CallbackRequest = &cb
	}
	return rec
}

var _ Gateway = (*MemoryGateway)(nil)
