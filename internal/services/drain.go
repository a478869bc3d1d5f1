package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"finsync/internal/core"
	"finsync/internal/log"
	"finsync/internal/remote"
)

var errUnsupportedEntry = errors.New("entry cannot be replayed")

type subjectKey struct {
	kind core.PayloadKind
	id   int64
}

// DrainReport summarizes one pass over the outbox.
type DrainReport struct {
	Attempted int
	Replayed  int
	Failed    int
	Parked    int
	Skipped   int
	// Stopped is set when the remote became unreachable or the context ended
	// before every entry was tried.
	Stopped  bool
	Duration time.Duration

	// subjects that still have pending entries after the pass
	remaining map[subjectKey]struct{}
}

// Blocked reports whether kind/id still has pending entries.
func (r DrainReport) Blocked(kind core.PayloadKind, id int64) bool {
	_, ok := r.remaining[subjectKey{kind, id}]
	return ok
}

// Remaining is the number of subjects still waiting for replay.
func (r DrainReport) Remaining() int {
	return len(r.remaining)
}

// Drain replays pending outbox entries oldest first.
func (c *Coordinator) Drain(ctx context.Context) DrainReport {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.setPhase(PhaseDraining)
	report := c.drainLocked(ctx)
	// Deltas confirmed while the remote account was unreachable wait here
	// until a load succeeds.
	if snap := c.ledger.Snapshot(); !snap.Loaded && !snap.Balance.IsZero() && !report.Stopped {
		c.ensureLedgerLoaded(ctx)
	}
	c.setPhase(PhaseIdle)
	return report
}

// RetryFailed moves parked entries last touched before cutoff back into the
// pending queue.
func (c *Coordinator) RetryFailed(ctx context.Context, cutoff time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outbox.RetryFailed(ctx, cutoff)
}

func (c *Coordinator) ListFailed(ctx context.Context) ([]core.BackupEntry, error) {
	return c.outbox.ListFailed(ctx)
}

func (c *Coordinator) ListPending(ctx context.Context) ([]core.BackupEntry, error) {
	return c.outbox.List(ctx)
}

// ClearOutbox drops every queued entry, pending or parked.
func (c *Coordinator) ClearOutbox(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.outbox.Clear(ctx); err != nil {
		return err
	}
	c.logger.WarnContext(ctx, "Outbox cleared", log.FieldOperation, log.OpDelete)
	return nil
}

// drainLocked runs one pass. Callers hold c.mu.
func (c *Coordinator) drainLocked(ctx context.Context) DrainReport {
	start := time.Now()
	report := DrainReport{remaining: make(map[subjectKey]struct{})}

	entries, err := c.outbox.List(ctx)
	if err != nil {
		c.logger.ErrorContext(ctx, "Failed to list outbox", log.FieldOperation, log.OpDrain, log.FieldError, err)
		report.Stopped = true
		return c.finishDrain(ctx, report, start)
	}
	if len(entries) == 0 {
		return c.finishDrain(ctx, report, start)
	}

	// Subjects whose earlier entry did not go through in this pass.
	held := make(map[subjectKey]struct{})

	for i, entry := range entries {
		key := subjectKey{entry.Payload.Kind, entry.ID}

		if ctx.Err() != nil {
			report.Stopped = true
			markRemaining(report.remaining, entries[i:])
			break
		}
		if _, ok := held[key]; ok {
			report.Skipped++
			report.remaining[key] = struct{}{}
			continue
		}

		report.Attempted++
		err := c.replay(ctx, entry)
		fields := log.NewFields().
			WithSubject(string(entry.Payload.Kind), entry.ID, string(entry.Action)).
			WithEntry(entry.Seq, entry.Attempts)

		switch {
		case err == nil:
			report.Replayed++
			if err := c.outbox.Remove(ctx, entry.Seq); err != nil {
				c.logger.ErrorContext(ctx, "Replayed entry could not be removed",
					fields.WithError(err).ToSlice()...)
			}
			c.logger.InfoContext(ctx, "Entry replayed", fields.ToSlice()...)
			c.notify(ctx, core.NewSyncEvent(core.EventEntryReplayed, entry.Payload.Kind, entry.ID, entry.Action))

		case errors.Is(err, errUnsupportedEntry):
			held[key] = struct{}{}
			report.Parked++
			c.park(ctx, entry, err)

		case errors.Is(err, remote.ErrUnreachable), ctx.Err() != nil:
			c.logger.WarnContext(ctx, "Remote unreachable, stopping drain", fields.WithError(err).ToSlice()...)
			report.Stopped = true
			markRemaining(report.remaining, entries[i:])
			return c.finishDrain(ctx, report, start)

		default:
			held[key] = struct{}{}
			if remote.IsPermanent(err) && entry.Attempts+1 >= int64(c.config.MaxRejections) {
				report.Parked++
				c.park(ctx, entry, err)
				continue
			}
			report.Failed++
			report.remaining[key] = struct{}{}
			if rerr := c.outbox.RecordFailure(ctx, entry.Seq, err.Error(), false); rerr != nil {
				c.logger.ErrorContext(ctx, "Failed to record replay failure", fields.WithError(rerr).ToSlice()...)
			}
			c.logger.WarnContext(ctx, "Entry rejected, will retry", fields.WithError(err).ToSlice()...)
		}
	}

	return c.finishDrain(ctx, report, start)
}

func (c *Coordinator) finishDrain(ctx context.Context, report DrainReport, start time.Time) DrainReport {
	report.Duration = time.Since(start)
	if report.Attempted > 0 || report.Stopped {
		c.logger.InfoContext(ctx, "Drain finished",
			log.FieldOperation, log.OpDrain,
			"attempted", report.Attempted,
			"replayed", report.Replayed,
			"failed", report.Failed,
			"parked", report.Parked,
			"skipped", report.Skipped,
			"stopped", report.Stopped,
			log.FieldDuration, report.Duration.Milliseconds())
	}

	c.stateMu.Lock()
	c.lastDrain = &report
	c.stateMu.Unlock()
	return report
}

func (c *Coordinator) park(ctx context.Context, entry core.BackupEntry, cause error) {
	if err := c.outbox.RecordFailure(ctx, entry.Seq, cause.Error(), true); err != nil {
		c.logger.ErrorContext(ctx, "Failed to park entry", log.FieldSeq, entry.Seq, log.FieldError, err)
		return
	}
	c.logger.ErrorContext(ctx, "Entry parked",
		log.NewFields().
			WithSubject(string(entry.Payload.Kind), entry.ID, string(entry.Action)).
			WithEntry(entry.Seq, entry.Attempts+1).
			WithError(cause).ToSlice()...)

	ev := core.NewSyncEvent(core.EventEntryParked, entry.Payload.Kind, entry.ID, entry.Action)
	ev.Reason = remote.Reason(cause)
	c.notify(ctx, ev)
}

// replay sends entry to the remote and, on success, mirrors it locally.
func (c *Coordinator) replay(ctx context.Context, entry core.BackupEntry) error {
	p := entry.Payload
	var err error

	switch p.Kind {
	case core.KindTransaction:
		switch entry.Action {
		case core.ActionCreate:
			err = c.remote.CreateTransaction(ctx, *p.Transaction)
		case core.ActionUpdate:
			err = c.remote.UpdateTransaction(ctx, *p.Transaction)
		case core.ActionDelete:
			err = c.deleteRemote(ctx, p.Transaction.ID)
		default:
			return fmt.Errorf("%w: action %q", errUnsupportedEntry, entry.Action)
		}
	case core.KindBankAccount:
		// Accounts are never deleted through the sync layer.
		if entry.Action == core.ActionDelete {
			return fmt.Errorf("%w: bank account delete", errUnsupportedEntry)
		}
		err = c.remote.UpdateAccount(ctx, *p.BankAccount)
	default:
		return fmt.Errorf("%w: kind %q", errUnsupportedEntry, p.Kind)
	}
	if err != nil {
		return err
	}

	c.mirror(ctx, entry, false)
	return nil
}

func markRemaining(into map[subjectKey]struct{}, entries []core.BackupEntry) {
	for _, e := range entries {
		into[subjectKey{e.Payload.Kind, e.ID}] = struct{}{}
	}
}
