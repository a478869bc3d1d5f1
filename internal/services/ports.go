package services

import (
	"context"
	"time"

	"finsync/internal/core"
)

// LedgerCache is the local mirror of server-confirmed data. Implementations
// never fail: storage problems degrade to empty results and no-ops.
type LedgerCache interface {
	GetAllTransactions(ctx context.Context) []core.Transaction
	GetTransactions(ctx context.Context, from, to time.Time) []core.Transaction
	SaveTransactions(ctx context.Context, txs []core.Transaction)
	CreateTransaction(ctx context.Context, tx core.Transaction)
	UpdateTransaction(ctx context.Context, tx core.Transaction)
	DeleteTransaction(ctx context.Context, id int64)

	GetBankAccount(ctx context.Context) (core.BankAccount, bool)
	UpdateBankAccount(ctx context.Context, acc core.BankAccount)
	SaveBankAccount(ctx context.Context, acc core.BankAccount)

	GetAllCategories(ctx context.Context) []core.Category
	SaveCategories(ctx context.Context, categories []core.Category)
}

// Outbox is the durable queue of mutations the remote has not confirmed.
type Outbox interface {
	Add(ctx context.Context, entry core.BackupEntry) (core.BackupEntry, error)
	List(ctx context.Context) ([]core.BackupEntry, error)
	Remove(ctx context.Context, seq int64) error
	RemoveSubject(ctx context.Context, kind core.PayloadKind, id int64) (int64, error)
	Clear(ctx context.Context) error

	RecordFailure(ctx context.Context, seq int64, reason string, park bool) error
	ListFailed(ctx context.Context) ([]core.BackupEntry, error)
	RetryFailed(ctx context.Context, cutoff time.Time) (int64, error)
	Stats(ctx context.Context) (core.OutboxStats, error)
}

// Notifier receives sync outcomes, e.g. to drive an offline indicator elsewhere.
type Notifier interface {
	PublishSyncEvent(ctx context.Context, event core.SyncEvent) error
}
