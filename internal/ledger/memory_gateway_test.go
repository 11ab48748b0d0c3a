package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// steppingClock returns base, base+1s, base+2s, ...
func steppingClock(base time.Time) func() time.Time {
	var mu sync.Mutex
	n := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := base.Add(time.Duration(n) * time.Second)
		n++
		return t
	}
}

func TestMemoryGateway_RecentConversationsNewestFirst(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGateway(WithClock(steppingClock(time.Unix(1, 0))))

	for _, in := range []NewChatMessage{
		{ConversationID: "c1", Sender: SenderVisitor, Message: "hi", Visitor: VisitorInfo{Name: "Ann"}},
		{ConversationID: "c2", Sender: SenderVisitor, Message: "yo"},
		{ConversationID: "c1", Sender: SenderAssistant, Message: "hello"},
	} {
		_, err := g.AppendChatMessage(ctx, in)
		require.NoError(t, err)
	}

	got, err := g.ListRecentConversations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c1", got[0].ConversationID)
	assert.Equal(t, "c2", got[1].ConversationID)
	assert.Equal(t, "hello", got[0].LastMessage)
	assert.Equal(t, SenderAssistant, got[0].LastSender)
	assert.Equal(t, "Ann", got[0].VisitorName)

	got, err = g.ListRecentConversations(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c1", got[0].ConversationID)
}

func TestMemoryGateway_ListChatMessages(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGateway()

	got, err := g.ListChatMessages(ctx, "missing")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	first, err := g.AppendChatMessage(ctx, NewChatMessage{ConversationID: "c1", Sender: SenderVisitor, Message: "one"})
	require.NoError(t, err)
	second, err := g.AppendChatMessage(ctx, NewChatMessage{ConversationID: "c1", Sender: SenderAssistant, Message: "two"})
	require.NoError(t, err)
	assert.True(t, second.Timestamp.After(first.Timestamp), "timestamps must be strictly increasing")

	got, err = g.ListChatMessages(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "one", got[0].Message)
	assert.Equal(t, "two", got[1].Message)

	recent, err := g.ListRecentChatMessages(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "two", recent[0].Message)
}

func TestMemoryGateway_AppendChatMessageValidation(t *testing.T) {
	g := NewMemoryGateway()
	cases := []NewChatMessage{
		{Sender: SenderVisitor, Message: "x"},
		{ConversationID: "c", Sender: "bot", Message: "x"},
		{ConversationID: "c", Sender: SenderVisitor, Message: "  "},
	}
	for _, in := range cases {
		_, err := g.AppendChatMessage(context.Background(), in)
		assert.ErrorIs(t, err, ErrValidation)
	}
	msgs, _ := g.ListRecentChatMessages(context.Background(), 0)
	assert.Empty(t, msgs)
}

func TestMemoryGateway_UpsertCustomerKeepsFirstContact(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGateway(WithClock(steppingClock(time.Unix(100, 0))))

	first, err := g.UpsertCustomer(ctx, CustomerUpsert{Email: "A@x.com", Name: "A", Source: SourceEmail})
	require.NoError(t, err)
	second, err := g.UpsertCustomer(ctx, CustomerUpsert{Email: "a@x.com", Phone: "+1 555 123 4567", Source: SourceChat})
	require.NoError(t, err)

	customers, err := g.ListCustomers(ctx, 0)
	require.NoError(t, err)
	require.Len(t, customers, 1)

	c := customers[0]
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "a@x.com", c.Email)
	assert.Equal(t, "A", c.Name)
	assert.Equal(t, "+1 555 123 4567", c.Phone)
	assert.Equal(t, SourceEmail, c.Source)
	assert.Equal(t, first.FirstContact, c.FirstContact)
	assert.Equal(t, second.LastContact, c.LastContact)
	assert.True(t, c.LastContact.After(c.FirstContact))
}

func TestMemoryGateway_UpsertCustomerByPhone(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGateway()

	_, err := g.UpsertCustomer(ctx, CustomerUpsert{Phone: "+1 (555) 123-4567", Source: SourceCallbackRequest})
	require.NoError(t, err)
	c, err := g.UpsertCustomer(ctx, CustomerUpsert{Phone: "15551234567", Name: "Bo", Source: SourceCall})
	require.NoError(t, err)
	assert.Equal(t, "phone:15551234567", c.IdentityKey)
	assert.Equal(t, "Bo", c.Name)

	_, err = g.UpsertCustomer(ctx, CustomerUpsert{Name: "nobody", Source: SourceChat})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestMemoryGateway_CallLifecycle(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGateway()

	rec, err := g.AppendCallRecord(ctx, CallRecord{CallID: "call-1", CallType: CallIncoming, Status: CallPending})
	require.NoError(t, err)
	assert.Equal(t, "call-1", rec.CallID)

	again, err := g.AppendCallRecord(ctx, CallRecord{CallID: "call-1", CallType: CallOutgoing, Status: CallCompleted})
	require.NoError(t, err)
	assert.Equal(t, CallPending, again.Status, "re-append with the same id returns the stored record")

	_, err = g.UpdateCallStatus(ctx, "call-1", CallUpdate{Status: CallInProgress})
	require.NoError(t, err)

	summary := "resolved billing question"
	duration := 95
	done, err := g.UpdateCallStatus(ctx, "call-1", CallUpdate{Status: CallCompleted, Summary: &summary, Duration: &duration})
	require.NoError(t, err)
	assert.Equal(t, CallCompleted, done.Status)
	assert.Equal(t, summary, done.Summary)
	assert.Equal(t, 95, done.Duration)

	_, err = g.UpdateCallStatus(ctx, "call-1", CallUpdate{Status: CallMissed})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = g.UpdateCallStatus(ctx, "nope", CallUpdate{Status: CallMissed})
	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "nope", nf.ID)

	calls, err := g.ListCallRecords(ctx, 10)
	require.NoError(t, err)
	require.Len(t, calls, 1)
}

func TestMemoryGateway_InProgressCannotDecline(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGateway()
	_, err := g.AppendCallRecord(ctx, CallRecord{CallID: "c", CallType: CallIncoming, Status: CallInProgress})
	require.NoError(t, err)

	_, err = g.UpdateCallStatus(ctx, "c", CallUpdate{Status: CallDeclined})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestMemoryGateway_CallRecordsAreCopies(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGateway()
	rec, err := g.AppendCallRecord(ctx, CallRecord{
		CallType:        CallCallbackRequest,
		Status:          CallPending,
		PhoneNumber:     "5551234567",
		CallbackRequest: &CallbackRequest{Reason: "billing"},
	})
	require.NoError(t, err)
	rec.CallbackRequest.Reason = "mutated"

	calls, err := g.ListCallRecords(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "billing", calls[0].CallbackRequest.Reason)
}

func TestMemoryGateway_EmailRecordsIdempotent(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGateway()
	rec := EmailRecord{EmailID: "m-1", ToEmail: "a@x.com", EmailType: EmailOutgoing, Status: EmailSent, Subject: "hi"}

	_, err := g.AppendEmailRecord(ctx, rec)
	require.NoError(t, err)
	rec.Subject = "changed"
	got, err := g.AppendEmailRecord(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, "hi", got.Subject)

	emails, err := g.ListEmailRecords(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, emails, 1)
}

func TestMemoryGateway_ActivityNewestFirst(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGateway()
	for _, d := range []string{"a", "b", "c"} {
		_, err := g.AppendActivity(ctx, NewActivity{Type: ActivitySystem, Description: d, Metadata: map[string]string{"k": d}})
		require.NoError(t, err)
	}
	got, err := g.ListActivity(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].Description)
	assert.Equal(t, "b", got[1].Description)
	assert.Equal(t, "c", got[0].Metadata["k"])

	_, err = g.AppendActivity(ctx, NewActivity{Type: "weird", Description: "x"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestMemoryGateway_EmailQueue(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGateway()

	f, err := g.QueueEmailForward(ctx, NewEmailForward{OriginalEmail: "a@x.com", ForwardTo: "support@x.com", Subject: "s"})
	require.NoError(t, err)
	assert.Equal(t, "normal", f.Priority)
	assert.Equal(t, QueuePending, f.Status)

	pending, err := g.ListEmailQueue(ctx, QueuePending, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	sent, err := g.UpdateEmailQueueStatus(ctx, f.ID, QueueSent, "")
	require.NoError(t, err)
	assert.Equal(t, QueueSent, sent.Status)
	require.NotNil(t, sent.ProcessedAt)

	_, err = g.UpdateEmailQueueStatus(ctx, f.ID, QueueFailed, "boom")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = g.UpdateEmailQueueStatus(ctx, "unknown", QueueSent, "")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = g.UpdateEmailQueueStatus(ctx, f.ID, QueuePending, "")
	assert.ErrorIs(t, err, ErrValidation)

	pending, err = g.ListEmailQueue(ctx, QueuePending, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMemoryGateway_ConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGateway()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = g.AppendChatMessage(ctx, NewChatMessage{ConversationID: "c", Sender: SenderVisitor, Message: "m"})
			_, _ = g.UpsertCustomer(ctx, CustomerUpsert{Email: "same@x.com", Source: SourceChat})
		}()
	}
	wg.Wait()

	msgs, err := g.ListChatMessages(ctx, "c")
	require.NoError(t, err)
	assert.Len(t, msgs, 20)
	for i := 1; i < len(msgs); i++ {
		assert.True(t, msgs[i].Timestamp.After(msgs[i-1].Timestamp))
	}
	customers, err := g.ListCustomers(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, customers, 1)
}

func TestMemoryGateway_ClaimEmailQueue(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	g := NewMemoryGateway(WithClock(func() time.Time { return now }))

	first, err := g.QueueEmailForward(ctx, NewEmailForward{ForwardTo: "support@x.com", Subject: "first"})
	require.NoError(t, err)
	second, err := g.QueueEmailForward(ctx, NewEmailForward{ForwardTo: "support@x.com", Subject: "second"})
	require.NoError(t, err)

	claimed, err := g.ClaimEmailQueue(ctx, 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, first.ID, claimed[0].ID)
	assert.Equal(t, QueueProcessing, claimed[0].Status)

	claimed, err = g.ClaimEmailQueue(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, second.ID, claimed[0].ID)

	claimed, err = g.ClaimEmailQueue(ctx, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	_, err = g.UpdateEmailQueueStatus(ctx, second.ID, QueueSent, "")
	require.NoError(t, err)

	// The first claim's worker never reported back.
	now = now.Add(2 * time.Minute)
	claimed, err = g.ClaimEmailQueue(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, first.ID, claimed[0].ID)

	processing, err := g.ListEmailQueue(ctx, QueueProcessing, 10)
	require.NoError(t, err)
	assert.Len(t, processing, 1)
}

func TestMemoryGateway_RecentConversationsStableAcrossCalls(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGateway(WithClock(func() time.Time { return time.Unix(50, 0) }))

	for _, id := range []string{"c3", "c1", "c2", "c1", "c4"} {
		_, err := g.AppendChatMessage(ctx, NewChatMessage{ConversationID: id, Sender: SenderVisitor, Message: "m " + id})
		require.NoError(t, err)
	}

	first, err := g.ListRecentConversations(ctx, 10)
	require.NoError(t, err)
	second, err := g.ListRecentConversations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, first, 4)
	assert.Equal(t, first, second)
}
