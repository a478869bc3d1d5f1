package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finsync/internal/core"
	"finsync/internal/remote/memory"
	"finsync/internal/storage"
)

var (
	food    = core.Category{ID: 1, Name: "Food", Emoji: '🍔', Direction: core.Outcome}
	salary  = core.Category{ID: 2, Name: "Salary", Emoji: '💰', Direction: core.Income}
	primary = core.BankAccount{ID: 10, UserID: 1, Name: "Main", Balance: core.MustMoney("500"), Currency: "EUR"}
)

func day(d int) time.Time {
	return time.Date(2024, time.March, d, 12, 0, 0, 0, time.UTC)
}

func newTx(id int64, cat core.Category, amount string, date time.Time) core.Transaction {
	return core.Transaction{
		ID:              id,
		AccountID:       primary.ID,
		Category:        cat,
		Amount:          core.MustMoney(amount),
		TransactionDate: date,
		Comment:         "note",
		CreatedAt:       date,
		UpdatedAt:       date,
	}
}

func assertMoney(t *testing.T, want string, got core.Money) {
	t.Helper()
	assert.Truef(t, got.Equal(core.MustMoney(want)), "want %s, got %s", want, got)
}

func assertBalance(t *testing.T, want string, l *BalanceLedger) {
	t.Helper()
	assertMoney(t, want, l.Snapshot().Balance)
}

func seededGateway() *memory.Gateway {
	gw := memory.New()
	gw.SeedAccount(primary)
	gw.SeedCategories(food, salary)
	return gw
}

type harness struct {
	ctx    context.Context
	gw     *memory.Gateway
	repo   *storage.SQLiteRepository
	ledger *BalanceLedger
	coord  *Coordinator
	events *recordingNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, seededGateway())
}

func newHarnessWith(t *testing.T, gw *memory.Gateway) *harness {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "finsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	ledger := NewBalanceLedger(gw)
	coord := NewCoordinator(gw, repo, repo, ledger, CoordinatorConfig{MaxRejections: 2})
	events := &recordingNotifier{}
	coord.SetNotifier(events)

	return &harness{
		ctx:    context.Background(),
		gw:     gw,
		repo:   repo,
		ledger: ledger,
		coord:  coord,
		events: events,
	}
}

func (h *harness) pending(t *testing.T) []core.BackupEntry {
	t.Helper()
	entries, err := h.repo.List(h.ctx)
	require.NoError(t, err)
	return entries
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []core.SyncEvent
}

func (n *recordingNotifier) PublishSyncEvent(_ context.Context, ev core.SyncEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) types() []core.SyncEventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]core.SyncEventType, 0, len(n.events))
	for _, ev := range n.events {
		out = append(out, ev.Type)
	}
	return out
}

func (n *recordingNotifier) last() core.SyncEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.events[len(n.events)-1]
}
