// Package activity keeps the human-readable activity feed: every entry is
// persisted through the ledger and the newest ones are cached in memory.
package activity

import (
	"context"
	"sort"
	"sync"

	"github.com/softaidev/assistant-ledger/internal/ledger"
	"github.com/softaidev/assistant-ledger/internal/observability/metrics"
	"github.com/softaidev/assistant-ledger/pkg/logging"
)

// DefaultCapacity is the number of entries kept in memory.
const DefaultCapacity = 50

// Feed records activity and serves the most recent entries.
type Feed struct {
	gateway     ledger.Gateway
	metrics     *metrics.LedgerMetrics
	logger      *logging.Logger
	readThrough bool

	mu       sync.Mutex
	cache    []ledger.ActivityEntry // oldest first, at most capacity entries
	capacity int
}

// Option customises a Feed.
type Option func(*Feed)

// WithReadThrough makes Recent always query the gateway, keeping the cache
// only as a fallback. Use it when other processes write to the same storage.
func WithReadThrough(enabled bool) Option {
	return func(f *Feed) { f.readThrough = enabled }
}

// NewFeed creates a feed with the given cache capacity (DefaultCapacity when <= 0).
func NewFeed(gateway ledger.Gateway, capacity int, m *metrics.LedgerMetrics, logger *logging.Logger, opts ...Option) *Feed {
	if gateway == nil {
		panic("activity: gateway required")
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = logging.Default()
	}
	f := &Feed{
		gateway:  gateway,
		metrics:  m,
		logger:   logger.Component("activity"),
		cache:    make([]ledger.ActivityEntry, 0, capacity),
		capacity: capacity,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Record persists the entry, then caches it. Entries the gateway rejects are never cached.
func (f *Feed) Record(ctx context.Context, in ledger.NewActivity) (*ledger.ActivityEntry, error) {
	entry, err := f.gateway.AppendActivity(ctx, in)
	f.metrics.ObserveWrite("activity", err)
	if err != nil {
		f.logger.Error("activity write failed", "error", err, "type", in.Type)
		return nil, err
	}
	f.mu.Lock()
	f.insert(*entry)
	f.mu.Unlock()
	return entry, nil
}

// Recent returns up to limit entries, newest first. It answers from memory
// when the cache already holds limit entries, otherwise from the gateway.
// With read-through on, the gateway is always asked first.
func (f *Feed) Recent(ctx context.Context, limit int) ([]ledger.ActivityEntry, error) {
	if limit <= 0 {
		limit = f.capacity
	}
	if !f.readThrough {
		f.mu.Lock()
		if limit <= len(f.cache) {
			out := f.newest(limit)
			f.mu.Unlock()
			return out, nil
		}
		f.mu.Unlock()
	}

	entries, err := f.gateway.ListActivity(ctx, limit)
	if err != nil {
		f.logger.Error("activity read failed", "error", err)
		if f.readThrough {
			f.mu.Lock()
			defer f.mu.Unlock()
			if len(f.cache) > 0 {
				return f.newest(min(limit, len(f.cache))), nil
			}
		}
		return nil, err
	}
	return entries, nil
}

// Warm replaces the cache with the newest persisted entries.
func (f *Feed) Warm(ctx context.Context) error {
	entries, err := f.gateway.ListActivity(ctx, f.capacity)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache = f.cache[:0]
	for _, e := range entries {
		f.insert(e)
	}
	f.logger.Debug("activity feed warmed", "entries", len(f.cache))
	return nil
}

// insert keeps the cache ordered by timestamp regardless of the order
// concurrent writers reach the lock. Must be called with mu held.
func (f *Feed) insert(entry ledger.ActivityEntry) {
	i := sort.Search(len(f.cache), func(i int) bool {
		return f.cache[i].Timestamp.After(entry.Timestamp)
	})
	if len(f.cache) == f.capacity {
		if i == 0 {
			return
		}
		copy(f.cache[:i-1], f.cache[1:i])
		f.cache[i-1] = entry
		return
	}
	f.cache = append(f.cache, ledger.ActivityEntry{})
	copy(f.cache[i+1:], f.cache[i:])
	f.cache[i] = entry
}

// newest must be called with mu held.
func (f *Feed) newest(n int) []ledger.ActivityEntry {
	out := make([]ledger.ActivityEntry, 0, n)
	for i := len(f.cache) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, f.cache[i])
	}
	return out
}
