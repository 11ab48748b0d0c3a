package ledger

import (
	"context"
	"sort"
	"time"
)

// DefaultListLimit applies when a caller passes a non-positive limit.
const DefaultListLimit = 50

// Gateway is the only writer of ledger records. Every backend returns
// *PersistenceError, *NotFoundError or *ValidationError on failure.
type Gateway interface {
	AppendChatMessage(ctx context.Context, msg NewChatMessage) (*ChatMessage, error)
	// ListChatMessages returns one conversation oldest first; an unknown id yields an empty slice.
	ListChatMessages(ctx context.Context, conversationID string) ([]ChatMessage, error)
	// ListRecentChatMessages returns raw messages across conversations, newest first.
	ListRecentChatMessages(ctx context.Context, limit int) ([]ChatMessage, error)
	// ListRecentConversations returns the newest message of each conversation, newest first.
	ListRecentConversations(ctx context.Context, limit int) ([]ConversationSummary, error)

	AppendCallRecord(ctx context.Context, rec CallRecord) (*CallRecord, error)
	UpdateCallStatus(ctx context.Context, callID string, upd CallUpdate) (*CallRecord, error)
	ListCallRecords(ctx context.Context, limit int) ([]CallRecord, error)

	AppendEmailRecord(ctx context.Context, rec EmailRecord) (*EmailRecord, error)
	ListEmailRecords(ctx context.Context, limit int) ([]EmailRecord, error)

	UpsertCustomer(ctx context.Context, in CustomerUpsert) (*Customer, error)
	ListCustomers(ctx context.Context, limit int) ([]Customer, error)

	AppendActivity(ctx context.Context, in NewActivity) (*ActivityEntry, error)
	ListActivity(ctx context.Context, limit int) ([]ActivityEntry, error)

	QueueEmailForward(ctx context.Context, in NewEmailForward) (*EmailForward, error)
	// ListEmailQueue returns entries in the given status, oldest first.
	ListEmailQueue(ctx context.Context, status QueueStatus, limit int) ([]EmailForward, error)
	// ClaimEmailQueue moves up to limit pending entries, plus processing entries
	// claimed longer than lease ago, to processing and returns them oldest first.
	// Concurrent callers never receive the same entry within one lease.
	ClaimEmailQueue(ctx context.Context, limit int, lease time.Duration) ([]EmailForward, error)
	UpdateEmailQueueStatus(ctx context.Context, id string, status QueueStatus, errMsg string) (*EmailForward, error)
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}

func validateCallUpdate(callID string, upd CallUpdate) error {
	if callID == "" {
		return invalid("call_id", "required")
	}
	switch upd.Status {
	case CallPending, CallInProgress, CallCompleted, CallMissed, CallDeclined:
	default:
		return invalid("status", "unknown call status")
	}
	if upd.Duration != nil && *upd.Duration < 0 {
		return invalid("duration", "must not be negative")
	}
	return nil
}

// DefaultClaimLease bounds how long a claimed queue entry stays hidden from other workers.
const DefaultClaimLease = 10 * time.Minute

func normalizeLease(lease time.Duration) time.Duration {
	if lease <= 0 {
		return DefaultClaimLease
	}
	return lease
}

// claimable reports whether an entry may be handed to a queue worker at now.
func claimable(status QueueStatus, claimedAt time.Time, now time.Time, lease time.Duration) bool {
	switch status {
	case QueuePending:
		return true
	case QueueProcessing:
		return claimedAt.Before(now.Add(-lease))
	default:
		return false
	}
}

func transitionError(from, to CallStatus) error {
	return invalid("status", "cannot move call from "+string(from)+" to "+string(to))
}

func validateQueueStatus(id string, status QueueStatus) error {
	if id == "" {
		return invalid("id", "required")
	}
	if status != QueueSent && status != QueueFailed {
		return invalid("status", "queue entries can only move to sent or failed")
	}
	return nil
}

// sortForwards orders claimed entries oldest first; UPDATE ... RETURNING does not keep the subquery order.
func sortForwards(entries []EmailForward) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
}
