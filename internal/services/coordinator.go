package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"finsync/internal/core"
	"finsync/internal/log"
	"finsync/internal/remote"
)

// Outcome is what the caller learns about an operation.
type Outcome string

const (
	OutcomeSucceeded       Outcome = "succeeded"
	OutcomeQueued          Outcome = "queued_for_retry"
	OutcomeServedFromCache Outcome = "served_from_cache"
)

// Phase is the coordinator's position in the per-operation state machine.
type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseDraining        Phase = "draining"
	PhaseExecuting       Phase = "executing"
	PhaseSucceeded       Phase = "succeeded"
	PhaseQueuedForRetry  Phase = "queued_for_retry"
	PhaseServedFromCache Phase = "served_from_cache"
)

// Reasons attached to offline outcomes.
const (
	ReasonUnreachable        = "unreachable"
	ReasonRejected           = "rejected"
	ReasonPendingPredecessor = "pending_predecessor"
)

var (
	ErrInvalidRange       = errors.New("range start is after range end")
	ErrIDMismatch         = errors.New("old and new transaction ids differ")
	ErrAccountUnavailable = errors.New("primary account unavailable offline")
)

// WriteResult reports a mutation's fate. Offline writes were queued and have
// not been applied locally.
type WriteResult struct {
	Outcome Outcome
	Reason  string
	Entry   *core.BackupEntry
}

func (r WriteResult) Offline() bool {
	return r.Outcome != OutcomeSucceeded
}

// ReadResult carries fetched data. Offline results come from the Ledger Cache.
type ReadResult[T any] struct {
	Data    T
	Outcome Outcome
	Reason  string
}

func (r ReadResult[T]) Offline() bool {
	return r.Outcome == OutcomeServedFromCache
}

// Status is a point-in-time view of the coordinator.
type Status struct {
	Phase     Phase
	Outbox    core.OutboxStats
	Balance   BalanceSnapshot
	LastDrain *DrainReport
}

type CoordinatorConfig struct {
	// MaxRejections is how many permanent rejections an entry may collect
	// before it is parked. Transient failures never park.
	MaxRejections int
}

func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{MaxRejections: 3}
}

// Coordinator is the single entry point for reads and writes. Every operation
// first drains the outbox, then talks to the remote, then mirrors the result
// locally or queues it for retry.
type Coordinator struct {
	remote   remote.Gateway
	cache    LedgerCache
	outbox   Outbox
	ledger   *BalanceLedger
	notifier Notifier
	config   CoordinatorConfig
	logger   *log.Logger
	now      func() time.Time

	// mu serializes operations.
	mu sync.Mutex

	stateMu   sync.Mutex
	phase     Phase
	lastDrain *DrainReport
}

func NewCoordinator(
	gateway remote.Gateway,
	cache LedgerCache,
	outbox Outbox,
	ledger *BalanceLedger,
	config CoordinatorConfig,
) *Coordinator {
	if config.MaxRejections < 1 {
		config.MaxRejections = DefaultCoordinatorConfig().MaxRejections
	}
	c := &Coordinator{
		remote: gateway,
		cache:  cache,
		outbox: outbox,
		ledger: ledger,
		config: config,
		logger: log.WithComponent(log.ComponentCoordinator),
		now:    func() time.Time { return time.Now().UTC() },
		phase:  PhaseIdle,
	}
	ledger.SetPersister(c.persistBalance)
	return c
}

// SetNotifier installs the receiver of sync events. Nil disables events.
func (c *Coordinator) SetNotifier(n Notifier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifier = n
}

func (c *Coordinator) Ledger() *BalanceLedger {
	return c.ledger
}

func (c *Coordinator) setPhase(p Phase) {
	c.stateMu.Lock()
	c.phase = p
	c.stateMu.Unlock()
}

func (c *Coordinator) Status(ctx context.Context) (Status, error) {
	stats, err := c.outbox.Stats(ctx)
	if err != nil {
		return Status{}, err
	}
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return Status{
		Phase:     c.phase,
		Outbox:    stats,
		Balance:   c.ledger.Snapshot(),
		LastDrain: c.lastDrain,
	}, nil
}

// LoadBalance loads the ledger from the remote primary account and mirrors the
// account into the cache.
func (c *Coordinator) LoadBalance(ctx context.Context) (core.BankAccount, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	acc, err := c.ledger.LoadCurrentBalance(ctx)
	if err != nil {
		return core.BankAccount{}, err
	}
	c.cache.SaveBankAccount(ctx, acc)
	return acc, nil
}

// ManualOverride sets the balance and currency directly, loading the ledger
// first if needed.
func (c *Coordinator) ManualOverride(ctx context.Context, balance core.Money, currency string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.ledger.Loaded() {
		acc, err := c.ledger.LoadCurrentBalance(ctx)
		if err != nil {
			return err
		}
		c.cache.SaveBankAccount(ctx, acc)
	}
	if err := c.ledger.ManualOverride(balance, currency); err != nil {
		return err
	}

	snap := c.ledger.Snapshot()
	c.logger.InfoContext(ctx, "Balance overridden",
		log.FieldAccountID, snap.Account.ID, log.FieldBalance, balance.String(), log.FieldCurrency, currency)
	c.notify(ctx, core.NewSyncEvent(core.EventBalanceOverride, core.KindBankAccount, snap.Account.ID, core.ActionUpdate))
	return nil
}

func (c *Coordinator) CreateTransaction(ctx context.Context, tx core.Transaction) (WriteResult, error) {
	if err := tx.Validate(); err != nil {
		return WriteResult{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.write(ctx, core.NewTransactionEntry(core.ActionCreate, tx, nil, c.now()), func() error {
		return c.remote.CreateTransaction(ctx, tx)
	})
}

// UpdateTransaction replaces old with updated. old must be the version the
// balance currently reflects.
func (c *Coordinator) UpdateTransaction(ctx context.Context, old, updated core.Transaction) (WriteResult, error) {
	if err := updated.Validate(); err != nil {
		return WriteResult{}, err
	}
	if old.ID != updated.ID {
		return WriteResult{}, ErrIDMismatch
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.write(ctx, core.NewTransactionEntry(core.ActionUpdate, updated, &old, c.now()), func() error {
		return c.remote.UpdateTransaction(ctx, updated)
	})
}

func (c *Coordinator) DeleteTransaction(ctx context.Context, tx core.Transaction) (WriteResult, error) {
	if tx.ID <= 0 {
		return WriteResult{}, core.ErrInvalidID
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.write(ctx, core.NewTransactionEntry(core.ActionDelete, tx, nil, c.now()), func() error {
		return c.deleteRemote(ctx, tx.ID)
	})
}

// deleteRemote treats an already missing transaction as deleted.
func (c *Coordinator) deleteRemote(ctx context.Context, id int64) error {
	err := c.remote.DeleteTransaction(ctx, id)
	if remote.IsNotFound(err) {
		c.logger.DebugContext(ctx, "Transaction already gone on remote", log.FieldSubjectID, id)
		return nil
	}
	return err
}

// UpdateBankAccount writes name, balance and currency. On success the ledger
// adopts the account.
func (c *Coordinator) UpdateBankAccount(ctx context.Context, acc core.BankAccount) (WriteResult, error) {
	if err := acc.Validate(); err != nil {
		return WriteResult{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.write(ctx, core.NewBankAccountEntry(core.ActionUpdate, acc, c.now()), func() error {
		return c.remote.UpdateAccount(ctx, acc)
	})
	if err == nil && res.Outcome == OutcomeSucceeded {
		c.ledger.Adopt(acc)
	}
	return res, err
}

// persistBalance is the ledger's persistence target. It shares the account
// write path but leaves the ledger alone, since the ledger may have moved on
// while this snapshot waited for the lock. A snapshot superseded by an
// adopted account update is dropped.
func (c *Coordinator) persistBalance(ctx context.Context, acc core.BankAccount, current func() bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !current() {
		c.logger.DebugContext(ctx, "Dropping superseded balance snapshot",
			log.FieldAccountID, acc.ID, log.FieldBalance, acc.Balance.String())
		return nil
	}

	res, err := c.write(ctx, core.NewBankAccountEntry(core.ActionUpdate, acc, c.now()), func() error {
		return c.remote.UpdateAccount(ctx, acc)
	})
	if err != nil {
		return err
	}
	if res.Offline() {
		return fmt.Errorf("balance queued for retry: %s", res.Reason)
	}
	return nil
}

// write runs the shared mutation path for entry. Callers hold c.mu.
func (c *Coordinator) write(ctx context.Context, entry core.BackupEntry, call func() error) (WriteResult, error) {
	kind := entry.Payload.Kind
	c.setPhase(PhaseDraining)
	report := c.drainLocked(ctx)

	// Later writes must not overtake queued ones for the same record.
	if report.Blocked(kind, entry.ID) {
		return c.enqueue(ctx, entry, ReasonPendingPredecessor)
	}

	c.setPhase(PhaseExecuting)
	if err := call(); err != nil {
		c.logger.WarnContext(ctx, "Remote write failed, queueing",
			log.NewFields().WithSubject(string(kind), entry.ID, string(entry.Action)).WithError(err).ToSlice()...)
		return c.enqueue(ctx, entry, remote.Reason(err))
	}

	c.mirror(ctx, entry, true)
	if _, err := c.outbox.RemoveSubject(ctx, kind, entry.ID); err != nil {
		c.logger.ErrorContext(ctx, "Failed to remove superseded backup entries",
			log.FieldKind, kind, log.FieldSubjectID, entry.ID, log.FieldError, err)
	}

	c.setPhase(PhaseSucceeded)
	c.notify(ctx, core.NewSyncEvent(core.EventWriteSucceeded, kind, entry.ID, entry.Action))
	return WriteResult{Outcome: OutcomeSucceeded}, nil
}

// enqueue stores entry in the outbox. Only a local storage failure is
// returned as an error: then the mutation is neither applied nor queued.
func (c *Coordinator) enqueue(ctx context.Context, entry core.BackupEntry, reason string) (WriteResult, error) {
	kind := entry.Payload.Kind
	// Account entries are whole snapshots; only the newest matters.
	if kind == core.KindBankAccount {
		if _, err := c.outbox.RemoveSubject(ctx, kind, entry.ID); err != nil {
			c.logger.WarnContext(ctx, "Failed to coalesce account entries", log.FieldSubjectID, entry.ID, log.FieldError, err)
		}
	}

	stored, err := c.outbox.Add(ctx, entry)
	if err != nil {
		c.setPhase(PhaseIdle)
		return WriteResult{}, fmt.Errorf("queue %s %s %d: %w", entry.Action, kind, entry.ID, err)
	}

	c.setPhase(PhaseQueuedForRetry)
	ev := core.NewSyncEvent(core.EventWriteQueued, kind, entry.ID, entry.Action)
	ev.Reason = reason
	c.notify(ctx, ev)
	return WriteResult{Outcome: OutcomeQueued, Reason: reason, Entry: &stored}, nil
}

// mirror applies a remotely confirmed entry to the cache and the ledger.
// fresh is false for outbox replays.
func (c *Coordinator) mirror(ctx context.Context, entry core.BackupEntry, fresh bool) {
	p := entry.Payload
	switch p.Kind {
	case core.KindTransaction:
		tx := *p.Transaction
		c.ensureLedgerLoaded(ctx)
		switch entry.Action {
		case core.ActionCreate:
			c.cache.CreateTransaction(ctx, tx)
			if fresh {
				c.ledger.Revive(tx.ID)
			}
			c.ledger.ApplyCreate(tx)
		case core.ActionUpdate:
			c.cache.UpdateTransaction(ctx, tx)
			if p.Previous != nil {
				c.ledger.ApplyEdit(*p.Previous, tx)
			} else {
				c.logger.WarnContext(ctx, "Update without previous version, balance not adjusted", log.FieldSubjectID, tx.ID)
			}
		case core.ActionDelete:
			c.cache.DeleteTransaction(ctx, tx.ID)
			c.ledger.ApplyDelete(tx)
		}
	case core.KindBankAccount:
		c.cache.UpdateBankAccount(ctx, *p.BankAccount)
	}
}

// ensureLedgerLoaded loads the balance before a confirmed transaction is
// applied, so its delta is persisted rather than held in memory. Callers hold
// c.mu. On failure the delta is kept and folded in by a later load.
func (c *Coordinator) ensureLedgerLoaded(ctx context.Context) {
	if c.ledger.Loaded() {
		return
	}
	acc, err := c.ledger.LoadCurrentBalance(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "Balance not loaded, delta kept for a later load", log.FieldError, err)
		return
	}
	c.cache.SaveBankAccount(ctx, acc)
}

// FetchTransactions returns transactions dated within [from, to]. Remote data
// replaces the cached set; on failure the cached rows in range are returned.
func (c *Coordinator) FetchTransactions(ctx context.Context, from, to time.Time) (ReadResult[[]core.Transaction], error) {
	if from.After(to) {
		return ReadResult[[]core.Transaction]{}, ErrInvalidRange
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.setPhase(PhaseDraining)
	c.drainLocked(ctx)
	c.setPhase(PhaseExecuting)

	txs, err := c.fetchTransactionsRemote(ctx, from, to)
	if err != nil {
		c.logger.WarnContext(ctx, "Remote read failed, serving cache", log.FieldOperation, log.OpRead, log.FieldError, err)
		return served(ctx, c, c.cache.GetTransactions(ctx, from, to), err), nil
	}

	c.cache.SaveTransactions(ctx, txs)
	c.setPhase(PhaseSucceeded)
	return ReadResult[[]core.Transaction]{Data: txs, Outcome: OutcomeSucceeded}, nil
}

// FetchAllTransactions is FetchTransactions from the epoch until now.
func (c *Coordinator) FetchAllTransactions(ctx context.Context) (ReadResult[[]core.Transaction], error) {
	return c.FetchTransactions(ctx, time.Unix(0, 0).UTC(), c.now())
}

func (c *Coordinator) fetchTransactionsRemote(ctx context.Context, from, to time.Time) ([]core.Transaction, error) {
	accountID := c.ledger.Snapshot().Account.ID
	if accountID == 0 {
		acc, err := c.remote.FetchPrimaryAccount(ctx)
		if err != nil {
			return nil, err
		}
		c.cache.SaveBankAccount(ctx, acc)
		accountID = acc.ID
	}
	return c.remote.FetchTransactions(ctx, accountID, from, to)
}

func (c *Coordinator) FetchCategories(ctx context.Context) ReadResult[[]core.Category] {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.setPhase(PhaseDraining)
	c.drainLocked(ctx)
	c.setPhase(PhaseExecuting)

	cats, err := c.remote.ListCategories(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "Remote categories unavailable, serving cache", log.FieldError, err)
		return served(ctx, c, c.cache.GetAllCategories(ctx), err)
	}
	c.cache.SaveCategories(ctx, cats)
	c.setPhase(PhaseSucceeded)
	return ReadResult[[]core.Category]{Data: cats, Outcome: OutcomeSucceeded}
}

// FetchCategoriesByDirection does not touch the cache on success: a filtered
// list must not replace the full category set.
func (c *Coordinator) FetchCategoriesByDirection(ctx context.Context, d core.Direction) ReadResult[[]core.Category] {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.setPhase(PhaseDraining)
	c.drainLocked(ctx)
	c.setPhase(PhaseExecuting)

	cats, err := c.remote.ListCategoriesByDirection(ctx, d)
	if err != nil {
		c.logger.WarnContext(ctx, "Remote categories unavailable, serving cache", "direction", d, log.FieldError, err)
		return served(ctx, c, core.FilterByDirection(c.cache.GetAllCategories(ctx), d), err)
	}
	c.setPhase(PhaseSucceeded)
	return ReadResult[[]core.Category]{Data: cats, Outcome: OutcomeSucceeded}
}

// FetchPrimaryAccount reads the primary account, falling back to the cached one.
func (c *Coordinator) FetchPrimaryAccount(ctx context.Context) (ReadResult[core.BankAccount], error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.setPhase(PhaseDraining)
	c.drainLocked(ctx)
	c.setPhase(PhaseExecuting)

	acc, err := c.remote.FetchPrimaryAccount(ctx)
	switch {
	case err == nil:
		c.cache.SaveBankAccount(ctx, acc)
		c.setPhase(PhaseSucceeded)
		return ReadResult[core.BankAccount]{Data: acc, Outcome: OutcomeSucceeded}, nil
	case errors.Is(err, remote.ErrNoAccount):
		c.setPhase(PhaseIdle)
		return ReadResult[core.BankAccount]{}, ErrNoPrimaryAccount
	}

	cached, ok := c.cache.GetBankAccount(ctx)
	if !ok {
		c.setPhase(PhaseIdle)
		return ReadResult[core.BankAccount]{}, fmt.Errorf("%w: %s", ErrAccountUnavailable, remote.Reason(err))
	}
	return served(ctx, c, cached, err), nil
}

func served[T any](ctx context.Context, c *Coordinator, data T, cause error) ReadResult[T] {
	reason := remote.Reason(cause)
	c.setPhase(PhaseServedFromCache)
	ev := core.NewSyncEvent(core.EventReadOffline, "", 0, "")
	ev.Reason = reason
	c.notify(ctx, ev)
	return ReadResult[T]{Data: data, Outcome: OutcomeServedFromCache, Reason: reason}
}

func (c *Coordinator) notify(ctx context.Context, ev core.SyncEvent) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.PublishSyncEvent(ctx, ev); err != nil {
		c.logger.WarnContext(ctx, "Failed to publish sync event", "event_type", ev.Type, log.FieldError, err)
	}
}
