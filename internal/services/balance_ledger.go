package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"finsync/internal/core"
	"finsync/internal/log"
	"finsync/internal/remote"
)

var (
	ErrNoPrimaryAccount = errors.New("no primary bank account")
	ErrBalanceNotLoaded = errors.New("balance not loaded")
	ErrPersisterRunning = errors.New("balance persister is already running")
)

// PersistFunc pushes an account snapshot to its authoritative store. current
// reports whether the snapshot is still valid; it turns false once the ledger
// adopts a remotely confirmed account, and such a snapshot must not be written.
type PersistFunc func(ctx context.Context, acc core.BankAccount, current func() bool) error

// BalanceSnapshot is a copy of the ledger state.
type BalanceSnapshot struct {
	Account  core.BankAccount
	Balance  core.Money
	Currency string
	Loaded   bool
}

// BalanceLedger keeps the running balance of the primary account and applies
// transaction deltas to it. Every change is handed to a background persister
// that pushes only the newest snapshot.
type BalanceLedger struct {
	accounts remote.AccountsGateway
	logger   *log.Logger

	mu       sync.Mutex
	account  core.BankAccount
	balance  core.Money
	currency string
	loaded   bool
	// Deltas applied before the first load are folded in by LoadCurrentBalance.
	pendingDelta core.Money
	applied      map[int64]struct{}
	deleted      map[int64]struct{}
	lastEdit     map[int64]string
	persist      PersistFunc

	// persister state, guarded by mu
	pending   *core.BankAccount
	scheduled uint64
	persisted uint64
	adopted   uint64
	flushed   chan struct{}
	wake      chan struct{}
	running   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

func NewBalanceLedger(accounts remote.AccountsGateway) *BalanceLedger {
	return &BalanceLedger{
		accounts:     accounts,
		logger:       log.WithComponent(log.ComponentLedger),
		balance:      core.Zero,
		pendingDelta: core.Zero,
		applied:      make(map[int64]struct{}),
		deleted:      make(map[int64]struct{}),
		lastEdit:     make(map[int64]string),
		persist: func(ctx context.Context, acc core.BankAccount, current func() bool) error {
			if !current() {
				return nil
			}
			return accounts.UpdateAccount(ctx, acc)
		},
		flushed:      make(chan struct{}),
		wake:         make(chan struct{}, 1),
	}
}

// SetPersister replaces the persistence target. The sync coordinator installs
// its own account write path here so failed pushes land in the outbox.
func (l *BalanceLedger) SetPersister(fn PersistFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.persist = fn
}

// LoadCurrentBalance fetches the primary account and makes it the ledger's
// base. Deltas recorded before the first load are added on top and persisted.
func (l *BalanceLedger) LoadCurrentBalance(ctx context.Context) (core.BankAccount, error) {
	acc, err := l.accounts.FetchPrimaryAccount(ctx)
	if err != nil {
		if errors.Is(err, remote.ErrNoAccount) {
			return core.BankAccount{}, ErrNoPrimaryAccount
		}
		return core.BankAccount{}, fmt.Errorf("load primary account: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	delta := l.pendingDelta
	l.account = acc
	l.balance = acc.Balance.Add(delta)
	l.currency = acc.Currency
	l.loaded = true
	l.pendingDelta = core.Zero

	if !delta.IsZero() {
		l.logger.InfoContext(ctx, "Folding unpersisted deltas into loaded balance",
			log.FieldAccountID, acc.ID, "delta", delta.String())
		l.scheduleLocked()
	}

	l.logger.InfoContext(ctx, "Balance loaded",
		log.FieldAccountID, acc.ID, log.FieldBalance, l.balance.String(), log.FieldCurrency, l.currency)
	return l.accountLocked(), nil
}

// ApplyCreate adds tx's signed amount. A transaction id is counted once.
func (l *BalanceLedger) ApplyCreate(tx core.Transaction) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.applied[tx.ID]; ok {
		return
	}
	if _, ok := l.deleted[tx.ID]; ok {
		return
	}
	l.applied[tx.ID] = struct{}{}
	l.addLocked(tx.SignedAmount())
}

// Revive forgets that id was deleted so a new transaction reusing the id is
// counted. Replays never call it, which keeps a stale create from resurrecting
// a deleted transaction.
func (l *BalanceLedger) Revive(id int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.deleted, id)
}

// ApplyEdit reverses old with old's direction, then applies updated with its
// own direction. An identical consecutive edit is applied once.
func (l *BalanceLedger) ApplyEdit(old, updated core.Transaction) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := editKey(old, updated)
	if l.lastEdit[updated.ID] == key {
		return
	}
	l.lastEdit[updated.ID] = key
	l.addLocked(updated.SignedAmount().Sub(old.SignedAmount()))
}

// ApplyDelete reverses tx's effect. A transaction id is reversed once.
func (l *BalanceLedger) ApplyDelete(tx core.Transaction) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.deleted[tx.ID]; ok {
		return
	}
	l.deleted[tx.ID] = struct{}{}
	delete(l.applied, tx.ID)
	l.addLocked(tx.SignedAmount().Neg())
}

// ManualOverride sets balance and currency outright and persists them.
func (l *BalanceLedger) ManualOverride(balance core.Money, currency string) error {
	if !core.ValidCurrency(currency) {
		return core.ErrInvalidCurrency
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.loaded {
		return ErrBalanceNotLoaded
	}
	l.balance = balance
	l.currency = currency
	l.scheduleLocked()
	return nil
}

// Adopt replaces the ledger state with an account confirmed by the remote.
// Snapshots taken before it are dropped, including one already handed to the
// persister, and nothing new is scheduled.
func (l *BalanceLedger) Adopt(acc core.BankAccount) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.loaded && l.account.ID != acc.ID {
		return
	}
	l.account = acc
	l.balance = acc.Balance
	l.currency = acc.Currency
	l.loaded = true
	l.pendingDelta = core.Zero

	l.adopted++
	l.pending = nil
	if l.persisted < l.scheduled {
		l.persisted = l.scheduled
		close(l.flushed)
		l.flushed = make(chan struct{})
	}
}

func (l *BalanceLedger) Snapshot() BalanceSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.loaded {
		return BalanceSnapshot{Balance: l.pendingDelta}
	}
	return BalanceSnapshot{
		Account:  l.accountLocked(),
		Balance:  l.balance,
		Currency: l.currency,
		Loaded:   true,
	}
}

func (l *BalanceLedger) Loaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loaded
}

func (l *BalanceLedger) addLocked(delta core.Money) {
	if !l.loaded {
		l.pendingDelta = l.pendingDelta.Add(delta)
		return
	}
	l.balance = l.balance.Add(delta)
	l.scheduleLocked()
}

func (l *BalanceLedger) accountLocked() core.BankAccount {
	acc := l.account
	acc.Balance = l.balance
	acc.Currency = l.currency
	return acc
}

// scheduleLocked replaces any not-yet-pushed snapshot with the current state.
func (l *BalanceLedger) scheduleLocked() {
	acc := l.accountLocked()
	l.pending = &acc
	l.scheduled++
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Start launches the persister goroutine.
func (l *BalanceLedger) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return ErrPersisterRunning
	}
	l.running = true
	stopCh, doneCh := make(chan struct{}), make(chan struct{})
	l.stopCh, l.doneCh = stopCh, doneCh
	l.mu.Unlock()

	go l.run(ctx, stopCh, doneCh)
	return nil
}

// Stop pushes whatever is still pending and ends the persister.
func (l *BalanceLedger) Stop(ctx context.Context) error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	stopCh, doneCh := l.stopCh, l.doneCh
	l.mu.Unlock()

	select {
	case <-stopCh:
	default:
		close(stopCh)
	}

	select {
	case <-doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush blocks until every snapshot scheduled so far has been handed to the
// persistence target. Without a running persister it pushes inline.
func (l *BalanceLedger) Flush(ctx context.Context) error {
	for {
		l.mu.Lock()
		if l.persisted >= l.scheduled {
			l.mu.Unlock()
			return nil
		}
		if !l.running {
			l.mu.Unlock()
			l.persistNext(ctx)
			continue
		}
		flushed := l.flushed
		l.mu.Unlock()

		select {
		case <-flushed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *BalanceLedger) run(ctx context.Context, stopCh <-chan struct{}, doneCh chan struct{}) {
	defer func() {
		close(doneCh)
		l.mu.Lock()
		if l.doneCh == doneCh {
			l.running = false
		}
		l.mu.Unlock()
	}()

	for {
		select {
		case <-stopCh:
			l.persistNext(context.WithoutCancel(ctx))
			return
		case <-ctx.Done():
			return
		case <-l.wake:
			l.persistNext(ctx)
		}
	}
}

// persistNext pushes the newest pending snapshot, if any.
func (l *BalanceLedger) persistNext(ctx context.Context) {
	l.mu.Lock()
	acc, gen, epoch, persist := l.pending, l.scheduled, l.adopted, l.persist
	l.pending = nil
	l.mu.Unlock()

	current := func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.adopted == epoch
	}

	if acc != nil {
		if err := persist(ctx, *acc, current); err != nil {
			l.logger.WarnContext(ctx, "Balance persistence failed",
				log.FieldAccountID, acc.ID, log.FieldBalance, acc.Balance.String(), log.FieldError, err)
		} else {
			l.logger.DebugContext(ctx, "Balance persisted",
				log.FieldAccountID, acc.ID, log.FieldBalance, acc.Balance.String())
		}
	}

	l.mu.Lock()
	if gen > l.persisted {
		l.persisted = gen
	}
	close(l.flushed)
	l.flushed = make(chan struct{})
	l.mu.Unlock()
}

func editKey(old, updated core.Transaction) string {
	return fmt.Sprintf("%s|%s|%s|%s|%d",
		old.Amount.String(), old.Category.Direction,
		updated.Amount.String(), updated.Category.Direction,
		updated.UpdatedAt.UnixNano())
}
