// Package emailqueue delivers queued support-inbox forwards.
package emailqueue

import (
	"context"
	"errors"
	"time"

	"github.com/softaidev/assistant-ledger/internal/ledger"
	"github.com/softaidev/assistant-ledger/internal/notify"
	"github.com/softaidev/assistant-ledger/internal/observability/metrics"
	"github.com/softaidev/assistant-ledger/pkg/logging"
)

// Store is the part of the ledger the deliverer reads and updates.
type Store interface {
	ClaimEmailQueue(ctx context.Context, limit int, lease time.Duration) ([]ledger.EmailForward, error)
	UpdateEmailQueueStatus(ctx context.Context, id string, status ledger.QueueStatus, errMsg string) (*ledger.EmailForward, error)
}

// Forwarder sends one queued forward.
type Forwarder interface {
	SendForward(ctx context.Context, f ledger.EmailForward) (string, error)
}

// Deliverer polls pending forwards and sends them.
type Deliverer struct {
	store     Store
	forwarder Forwarder
	metrics   *metrics.LedgerMetrics
	logger    *logging.Logger
	batchSize int
	interval  time.Duration
	lease     time.Duration
}

func NewDeliverer(store Store, forwarder Forwarder, logger *logging.Logger) *Deliverer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Deliverer{
		store:     store,
		forwarder: forwarder,
		logger:    logger.Component("emailqueue"),
		batchSize: 25,
		interval:  30 * time.Second,
		lease:     ledger.DefaultClaimLease,
	}
}

func (d *Deliverer) WithBatchSize(size int) *Deliverer {
	if size > 0 {
		d.batchSize = size
	}
	return d
}

// WithLease sets how long a claimed entry stays hidden from other deliverers.
// An entry whose deliverer died is retried once the lease expires.
func (d *Deliverer) WithLease(lease time.Duration) *Deliverer {
	if lease > 0 {
		d.lease = lease
	}
	return d
}

func (d *Deliverer) WithInterval(interval time.Duration) *Deliverer {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

func (d *Deliverer) WithMetrics(m *metrics.LedgerMetrics) *Deliverer {
	d.metrics = m
	return d
}

// Start drains the queue on every tick until ctx is cancelled.
func (d *Deliverer) Start(ctx context.Context) {
	if d.store == nil || d.forwarder == nil {
		return
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Drain(ctx)
		}
	}
}

// Drain claims one batch, sends it and reports how many entries were marked
// sent and failed. Deliverers sharing a store never claim the same entry.
func (d *Deliverer) Drain(ctx context.Context) (sent, failed int) {
	entries, err := d.store.ClaimEmailQueue(ctx, d.batchSize, d.lease)
	if err != nil {
		d.logger.Error("email queue fetch failed", "error", err)
		return 0, 0
	}
	for _, entry := range entries {
		if ctx.Err() != nil {
			return sent, failed
		}
		status, errMsg := d.deliver(ctx, entry)
		if _, err := d.store.UpdateEmailQueueStatus(ctx, entry.ID, status, errMsg); err != nil {
			d.logger.Error("failed to mark forward", "error", err, "forward_id", entry.ID, "status", status)
			continue
		}
		d.metrics.ObserveQueueDelivery(string(status))
		if status == ledger.QueueSent {
			sent++
		} else {
			failed++
		}
	}
	return sent, failed
}

func (d *Deliverer) deliver(ctx context.Context, entry ledger.EmailForward) (ledger.QueueStatus, string) {
	id, err := d.forwarder.SendForward(ctx, entry)
	if err == nil {
		d.logger.Debug("forward delivered", "forward_id", entry.ID, "message_id", id)
		return ledger.QueueSent, ""
	}
	var dispatchErr *notify.DispatchError
	if id != "" && !errors.As(err, &dispatchErr) && !errors.Is(err, ledger.ErrValidation) {
		// The email went out; only its ledger record is missing.
		d.logger.Warn("forward delivered but not recorded", "error", err, "forward_id", entry.ID, "message_id", id)
		return ledger.QueueSent, ""
	}
	d.logger.Error("forward delivery failed", "error", err, "forward_id", entry.ID, "to", entry.ForwardTo)
	return ledger.QueueFailed, err.Error()
}
