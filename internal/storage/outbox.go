package storage

import (
	"context"
	"fmt"
	"time"

	"finsync/internal/core"
	"finsync/internal/log"
)

const (
	statusPending = "pending"
	statusFailed  = "failed"
)

// Add persists entry and returns it with its assigned Seq. The entry is
// committed before Add returns.
func (r *SQLiteRepository) Add(ctx context.Context, entry core.BackupEntry) (core.BackupEntry, error) {
	if _, err := core.ParseAction(string(entry.Action)); err != nil {
		return entry, err
	}
	kind, body, err := entry.Payload.Encode()
	if err != nil {
		return entry, fmt.Errorf("encode backup entry: %w", err)
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.now()
	}

	seq, err := r.queries.InsertBackupEntry(ctx, InsertBackupEntryParams{
		ID:        entry.ID,
		Action:    string(entry.Action),
		DataType:  string(kind),
		DataJSON:  string(body),
		Timestamp: entry.Timestamp.UnixNano(),
		Attempts:  entry.Attempts,
		LastError: entry.LastError,
		UpdatedAt: r.now().UnixNano(),
	})
	if err != nil {
		return entry, fmt.Errorf("insert backup entry: %w", err)
	}
	entry.Seq = seq

	r.logger.InfoContext(ctx, "Backup entry queued",
		log.NewFields().WithSubject(string(kind), entry.ID, string(entry.Action)).WithEntry(seq, entry.Attempts).ToSlice()...)
	return entry, nil
}

// List returns pending entries oldest first. Rows that cannot be decoded are
// parked so they never block the queue.
func (r *SQLiteRepository) List(ctx context.Context) ([]core.BackupEntry, error) {
	return r.listByStatus(ctx, statusPending)
}

// ListFailed returns parked entries oldest first.
func (r *SQLiteRepository) ListFailed(ctx context.Context) ([]core.BackupEntry, error) {
	return r.listByStatus(ctx, statusFailed)
}

func (r *SQLiteRepository) listByStatus(ctx context.Context, status string) ([]core.BackupEntry, error) {
	rows, err := r.queries.ListBackupEntries(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("list backup entries: %w", err)
	}

	entries := make([]core.BackupEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := entryFromRow(row)
		if err != nil {
			r.logger.ErrorContext(ctx, "Undecodable backup entry",
				log.FieldSeq, row.Seq, log.FieldKind, row.DataType, log.FieldError, err)
			if status == statusPending {
				if perr := r.RecordFailure(ctx, row.Seq, err.Error(), true); perr != nil {
					return nil, perr
				}
			}
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Remove deletes the entry with the given outbox key. Unknown keys are ignored.
func (r *SQLiteRepository) Remove(ctx context.Context, seq int64) error {
	if err := r.queries.DeleteBackupEntry(ctx, seq); err != nil {
		return fmt.Errorf("remove backup entry %d: %w", seq, err)
	}
	return nil
}

// RemoveSubject deletes every entry, pending or parked, about the given subject.
func (r *SQLiteRepository) RemoveSubject(ctx context.Context, kind core.PayloadKind, id int64) (int64, error) {
	n, err := r.queries.DeleteBackupEntriesForSubject(ctx, string(kind), id)
	if err != nil {
		return 0, fmt.Errorf("remove backup entries for %s %d: %w", kind, id, err)
	}
	if n > 0 {
		r.logger.InfoContext(ctx, "Superseded backup entries removed",
			log.FieldKind, kind, log.FieldSubjectID, id, log.FieldCount, n)
	}
	return n, nil
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	if err := r.queries.DeleteAllBackupEntries(ctx); err != nil {
		return fmt.Errorf("clear backup entries: %w", err)
	}
	r.logger.WarnContext(ctx, "Backup queue cleared")
	return nil
}

// RecordFailure counts a failed replay. When park is set the entry leaves the
// pending queue until RetryFailed.
func (r *SQLiteRepository) RecordFailure(ctx context.Context, seq int64, reason string, park bool) error {
	status := statusPending
	if park {
		status = statusFailed
	}
	if err := r.queries.RecordBackupFailure(ctx, RecordBackupFailureParams{
		Seq:       seq,
		LastError: reason,
		Status:    status,
		UpdatedAt: r.now().UnixNano(),
	}); err != nil {
		return fmt.Errorf("record failure for backup entry %d: %w", seq, err)
	}
	if park {
		r.logger.WarnContext(ctx, "Backup entry parked", log.FieldSeq, seq, log.FieldReason, reason)
	}
	return nil
}

// RetryFailed moves entries parked at or before cutoff back to pending.
func (r *SQLiteRepository) RetryFailed(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := r.queries.RequeueFailedBackupEntries(ctx, cutoff.UnixNano(), r.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("requeue failed backup entries: %w", err)
	}
	if n > 0 {
		r.logger.InfoContext(ctx, "Parked backup entries requeued", log.FieldCount, n)
	}
	return n, nil
}

func (r *SQLiteRepository) Stats(ctx context.Context) (core.OutboxStats, error) {
	row, err := r.queries.GetBackupStats(ctx)
	if err != nil {
		return core.OutboxStats{}, fmt.Errorf("backup stats: %w", err)
	}
	return core.OutboxStats{Pending: row.Pending, Failed: row.Failed}, nil
}

func entryFromRow(row BackupEntryRow) (core.BackupEntry, error) {
	action, err := core.ParseAction(row.Action)
	if err != nil {
		return core.BackupEntry{}, err
	}
	payload, err := core.DecodePayload(row.DataType, []byte(row.DataJSON))
	if err != nil {
		return core.BackupEntry{}, err
	}
	return core.BackupEntry{
		Seq:       row.Seq,
		ID:        row.ID,
		Action:    action,
		Payload:   payload,
		Timestamp: time.Unix(0, row.Timestamp).UTC(),
		Attempts:  row.Attempts,
		LastError: row.LastError,
	}, nil
}
