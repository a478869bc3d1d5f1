package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"finsync/internal/amqp"
	"finsync/internal/core"
	"finsync/internal/log"
	"finsync/internal/services"
)

// SyncService is the coordinator surface the worker drives.
type SyncService interface {
	Drain(ctx context.Context) services.DrainReport
	RetryFailed(ctx context.Context, cutoff time.Time) (int64, error)
	FetchTransactions(ctx context.Context, from, to time.Time) (services.ReadResult[[]core.Transaction], error)
	FetchAllTransactions(ctx context.Context) (services.ReadResult[[]core.Transaction], error)
	FetchCategories(ctx context.Context) services.ReadResult[[]core.Category]
	LoadBalance(ctx context.Context) (core.BankAccount, error)
	Status(ctx context.Context) (services.Status, error)
}

// Invalidator drops cached remote reads.
type Invalidator interface {
	Invalidate()
}

// SyncWorker reacts to sync requests from AMQP and runs the startup checks.
type SyncWorker struct {
	sync       SyncService
	categories Invalidator
	logger     *log.Logger
	now        func() time.Time
}

// NewSyncWorker creates a worker. categories may be nil when the remote
// gateway is not cached.
func NewSyncWorker(sync SyncService, categories Invalidator) *SyncWorker {
	return &SyncWorker{
		sync:       sync,
		categories: categories,
		logger:     log.WithComponent(log.ComponentWorker),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// HandleSyncRequest processes a single sync request from AMQP. Remote outages
// are not errors here: the outbox keeps the work and the processor retries.
func (w *SyncWorker) HandleSyncRequest(ctx context.Context, req *amqp.SyncRequest) error {
	w.logger.InfoContext(ctx, "Processing sync request",
		"kind", req.Kind,
		log.FieldMessageID, req.ID)

	switch req.Kind {
	case amqp.RequestDrain:
		w.drain(ctx)
		return nil

	case amqp.RequestRetryFailed:
		n, err := w.sync.RetryFailed(ctx, w.now())
		if err != nil {
			return fmt.Errorf("requeue parked entries: %w", err)
		}
		w.logger.InfoContext(ctx, "Parked entries requeued", log.FieldCount, n)
		w.drain(ctx)
		return nil

	case amqp.RequestRefresh:
		return w.refresh(ctx, req.From, req.To)

	default:
		return fmt.Errorf("unknown sync request kind %q", req.Kind)
	}
}

func (w *SyncWorker) drain(ctx context.Context) services.DrainReport {
	report := w.sync.Drain(ctx)
	w.logger.InfoContext(ctx, "Drain requested",
		"replayed", report.Replayed,
		"failed", report.Failed,
		"parked", report.Parked,
		"stopped", report.Stopped)
	return report
}

// RefreshTransactions reloads every transaction into the local cache.
func (w *SyncWorker) RefreshTransactions(ctx context.Context) error {
	return w.refresh(ctx, time.Time{}, time.Time{})
}

func (w *SyncWorker) refresh(ctx context.Context, from, to time.Time) error {
	var (
		res services.ReadResult[[]core.Transaction]
		err error
	)
	if from.IsZero() && to.IsZero() {
		res, err = w.sync.FetchAllTransactions(ctx)
	} else {
		if to.IsZero() {
			to = w.now()
		}
		res, err = w.sync.FetchTransactions(ctx, from, to)
	}
	if err != nil {
		return fmt.Errorf("refresh transactions: %w", err)
	}

	if res.Offline() {
		w.logger.WarnContext(ctx, "Refresh served from cache", log.FieldReason, res.Reason, log.FieldCount, len(res.Data))
		return nil
	}
	w.logger.InfoContext(ctx, "Transactions refreshed", log.FieldCount, len(res.Data))
	return nil
}

// StartupSyncCheck loads the balance and drains whatever the outbox kept
// while the worker was down.
func (w *SyncWorker) StartupSyncCheck(ctx context.Context) error {
	status, err := w.sync.Status(ctx)
	if err != nil {
		return fmt.Errorf("read outbox status: %w", err)
	}

	if status.Outbox.Pending == 0 && status.Outbox.Failed == 0 {
		w.logger.InfoContext(ctx, "No queued entries found on startup")
	} else {
		w.logger.InfoContext(ctx, "Found queued entries on startup",
			"pending", status.Outbox.Pending,
			"failed", status.Outbox.Failed)
	}

	if _, err := w.sync.LoadBalance(ctx); err != nil {
		if errors.Is(err, services.ErrNoPrimaryAccount) {
			return err
		}
		// Unreachable remote: the next confirmed write or drain loads the ledger.
		w.logger.WarnContext(ctx, "Balance not loaded on startup", log.FieldError, err)
	}

	report := w.drain(ctx)
	w.logger.InfoContext(ctx, "Startup sync completed",
		"total", report.Attempted+report.Skipped,
		"synced", report.Replayed,
		"errors", report.Failed+report.Parked)
	return nil
}

// WarmCategories fills the local category cache.
func (w *SyncWorker) WarmCategories(ctx context.Context) error {
	res := w.sync.FetchCategories(ctx)
	if res.Offline() {
		w.logger.WarnContext(ctx, "Categories not refreshed, using cache",
			log.FieldReason, res.Reason, log.FieldCount, len(res.Data))
		return nil
	}
	w.logger.InfoContext(ctx, "Categories successfully cached", log.FieldCount, len(res.Data))
	return nil
}

// ForceRefreshCategories drops the in-memory category cache and reloads.
func (w *SyncWorker) ForceRefreshCategories(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Force refreshing categories")
	if w.categories != nil {
		w.categories.Invalidate()
	}
	return w.WarmCategories(ctx)
}
