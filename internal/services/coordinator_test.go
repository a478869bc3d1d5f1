package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finsync/internal/core"
	"finsync/internal/remote"
	"finsync/internal/remote/memory"
)

func (h *harness) load(t *testing.T) {
	t.Helper()
	_, err := h.coord.LoadBalance(h.ctx)
	require.NoError(t, err)
}

func TestCreateOnlineMirrorsAndApplies(t *testing.T) {
	h := newHarness(t)
	h.load(t)

	tx := newTx(1, food, "100", day(1))
	res, err := h.coord.CreateTransaction(h.ctx, tx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, res.Outcome)
	assert.False(t, res.Offline())

	_, onRemote := h.gw.Transaction(1)
	assert.True(t, onRemote)
	cached, ok := h.repo.GetTransaction(h.ctx, 1)
	require.True(t, ok)
	assertMoney(t, "100", cached.Amount)
	assertBalance(t, "400", h.ledger)
	assert.Empty(t, h.pending(t))
	assert.Contains(t, h.events.types(), core.EventWriteSucceeded)
}

func TestOfflineCreateIsQueuedThenReplayedOnce(t *testing.T) {
	h := newHarness(t)
	h.load(t)
	tx := newTx(1, food, "100", day(1))

	h.gw.SetOffline()
	res, err := h.coord.CreateTransaction(h.ctx, tx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, res.Outcome)
	assert.Equal(t, ReasonUnreachable, res.Reason)
	require.NotNil(t, res.Entry)

	entries := h.pending(t)
	require.Len(t, entries, 1)
	assert.Equal(t, core.ActionCreate, entries[0].Action)
	assert.Equal(t, core.KindTransaction, entries[0].Payload.Kind)
	assert.Empty(t, h.repo.GetAllTransactions(h.ctx))
	assertBalance(t, "500", h.ledger)

	ev := h.events.last()
	assert.Equal(t, core.EventWriteQueued, ev.Type)
	assert.Equal(t, ReasonUnreachable, ev.Reason)

	h.gw.SetOnline()
	// any operation drains first
	cats := h.coord.FetchCategories(h.ctx)
	assert.False(t, cats.Offline())

	assert.Empty(t, h.pending(t))
	assert.Len(t, h.repo.GetAllTransactions(h.ctx), 1)
	assertBalance(t, "400", h.ledger)
	assert.Equal(t, 2, h.gw.Calls(memory.OpCreateTransaction))

	report := h.coord.Drain(h.ctx)
	assert.Zero(t, report.Attempted)
	assertBalance(t, "400", h.ledger)
}

func TestCreateWithUnloadedLedgerPersistsBalance(t *testing.T) {
	h := newHarness(t)
	require.False(t, h.ledger.Loaded())

	_, err := h.coord.CreateTransaction(h.ctx, newTx(1, food, "100", day(1)))
	require.NoError(t, err)
	assert.True(t, h.ledger.Loaded())
	require.NoError(t, h.ledger.Flush(h.ctx))

	acc, _ := h.gw.PrimaryAccount()
	assertMoney(t, "400", acc.Balance)
	cached, ok := h.repo.GetBankAccount(h.ctx)
	require.True(t, ok)
	assert.Equal(t, primary.ID, cached.ID)
}

func TestDrainWithUnloadedLedgerPersistsBalance(t *testing.T) {
	h := newHarness(t)
	h.gw.SetOffline()
	_, err := h.coord.CreateTransaction(h.ctx, newTx(1, food, "100", day(1)))
	require.NoError(t, err)
	_, err = h.coord.CreateTransaction(h.ctx, newTx(2, salary, "30", day(2)))
	require.NoError(t, err)
	assert.False(t, h.ledger.Loaded())

	h.gw.SetOnline()
	report := h.coord.Drain(h.ctx)
	assert.Equal(t, 2, report.Replayed)
	require.NoError(t, h.ledger.Flush(h.ctx))

	acc, _ := h.gw.PrimaryAccount()
	assertMoney(t, "430", acc.Balance)
	assertBalance(t, "430", h.ledger)
}

func TestDrainLoadsLedgerOnceAccountIsReachable(t *testing.T) {
	h := newHarness(t)
	h.gw.FailOp(memory.OpFetchPrimary, &remote.RejectedError{StatusCode: 503})

	_, err := h.coord.CreateTransaction(h.ctx, newTx(1, food, "100", day(1)))
	require.NoError(t, err)
	assert.False(t, h.ledger.Loaded())
	assertBalance(t, "-100", h.ledger)

	h.gw.FailOp(memory.OpFetchPrimary, nil)
	h.coord.Drain(h.ctx)
	assert.True(t, h.ledger.Loaded())
	require.NoError(t, h.ledger.Flush(h.ctx))

	acc, _ := h.gw.PrimaryAccount()
	assertMoney(t, "400", acc.Balance)
}

func TestRecreatingDeletedIDCountsAgain(t *testing.T) {
	h := newHarness(t)
	h.load(t)
	first := newTx(1, food, "100", day(1))
	_, err := h.coord.CreateTransaction(h.ctx, first)
	require.NoError(t, err)
	_, err = h.coord.DeleteTransaction(h.ctx, first)
	require.NoError(t, err)
	assertBalance(t, "500", h.ledger)

	_, err = h.coord.CreateTransaction(h.ctx, newTx(1, food, "100", day(3)))
	require.NoError(t, err)
	assertBalance(t, "400", h.ledger)

	require.NoError(t, h.ledger.Flush(h.ctx))
	acc, _ := h.gw.PrimaryAccount()
	assertMoney(t, "400", acc.Balance)
}

func TestDuplicateReplayDoesNotDoubleCount(t *testing.T) {
	h := newHarness(t)
	h.load(t)
	tx := newTx(1, food, "100", day(1))

	for i := 0; i < 2; i++ {
		_, err := h.repo.Add(h.ctx, core.NewTransactionEntry(core.ActionCreate, tx, nil, time.Now()))
		require.NoError(t, err)
	}

	report := h.coord.Drain(h.ctx)
	assert.Equal(t, 2, report.Replayed)
	assertBalance(t, "400", h.ledger)
	assert.Empty(t, h.pending(t))
}

func TestReadFallbackServesCachedRange(t *testing.T) {
	h := newHarness(t)
	h.gw.SeedTransactions(
		newTx(1, food, "10", day(1)),
		newTx(2, food, "20", day(5)),
		newTx(3, salary, "30", day(10)),
		newTx(4, food, "40", day(11)),
	)

	online, err := h.coord.FetchTransactions(h.ctx, day(1), day(30))
	require.NoError(t, err)
	assert.False(t, online.Offline())
	assert.Len(t, online.Data, 4)

	h.gw.SetOffline()
	res, err := h.coord.FetchTransactions(h.ctx, day(5), day(10))
	require.NoError(t, err)
	assert.True(t, res.Offline())
	assert.Equal(t, OutcomeServedFromCache, res.Outcome)
	assert.Equal(t, ReasonUnreachable, res.Reason)

	ids := make([]int64, 0, len(res.Data))
	for _, tx := range res.Data {
		ids = append(ids, tx.ID)
	}
	assert.Equal(t, []int64{2, 3}, ids)
	assert.Equal(t, core.EventReadOffline, h.events.last().Type)
}

func TestFetchTransactionsReplacesCache(t *testing.T) {
	h := newHarness(t)
	h.repo.CreateTransaction(h.ctx, newTx(99, food, "1", day(2)))
	h.gw.SeedTransactions(newTx(1, food, "10", day(1)))

	_, err := h.coord.FetchTransactions(h.ctx, day(1), day(30))
	require.NoError(t, err)

	cached := h.repo.GetAllTransactions(h.ctx)
	require.Len(t, cached, 1)
	assert.Equal(t, int64(1), cached[0].ID)
}

func TestFetchTransactionsEmptyOfflineIsNotAnError(t *testing.T) {
	h := newHarness(t)
	h.gw.SetOffline()

	res, err := h.coord.FetchAllTransactions(h.ctx)
	require.NoError(t, err)
	assert.True(t, res.Offline())
	assert.Empty(t, res.Data)
}

func TestDrainFailureDoesNotBlockOtherSubjects(t *testing.T) {
	h := newHarness(t)
	h.load(t)

	h.gw.SetOffline()
	_, err := h.coord.DeleteTransaction(h.ctx, newTx(1, food, "10", day(1)))
	require.NoError(t, err)
	h.gw.SetOnline()
	h.gw.FailOp(memory.OpDeleteTransaction, &remote.RejectedError{StatusCode: 503})

	res, err := h.coord.CreateTransaction(h.ctx, newTx(2, food, "10", day(2)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, res.Outcome)

	entries := h.pending(t)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1), entries[0].ID)
	assert.Equal(t, int64(1), entries[0].Attempts)
	assert.Contains(t, entries[0].LastError, "503")
}

func TestLaterWriteWaitsForPendingPredecessor(t *testing.T) {
	h := newHarness(t)
	h.load(t)
	created := newTx(1, food, "100", day(1))
	edited := newTx(1, food, "60", day(1))
	edited.UpdatedAt = day(2)

	h.gw.SetOffline()
	_, err := h.coord.CreateTransaction(h.ctx, created)
	require.NoError(t, err)
	h.gw.SetOnline()
	h.gw.FailOp(memory.OpCreateTransaction, &remote.RejectedError{StatusCode: 502})

	res, err := h.coord.UpdateTransaction(h.ctx, created, edited)
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, res.Outcome)
	assert.Equal(t, ReasonPendingPredecessor, res.Reason)
	assert.Equal(t, 0, h.gw.Calls(memory.OpUpdateTransaction))

	entries := h.pending(t)
	require.Len(t, entries, 2)
	assert.Equal(t, core.ActionCreate, entries[0].Action)
	assert.Equal(t, core.ActionUpdate, entries[1].Action)

	h.gw.FailOp(memory.OpCreateTransaction, nil)
	report := h.coord.Drain(h.ctx)
	assert.Equal(t, 2, report.Replayed)

	onRemote, ok := h.gw.Transaction(1)
	require.True(t, ok)
	assertMoney(t, "60", onRemote.Amount)
	assertBalance(t, "440", h.ledger)
}

func TestUnreachableStopsDrain(t *testing.T) {
	h := newHarness(t)
	h.gw.SetOffline()
	for i := int64(1); i <= 3; i++ {
		_, err := h.coord.CreateTransaction(h.ctx, newTx(i, food, "1", day(1)))
		require.NoError(t, err)
	}
	before := h.gw.Calls(memory.OpCreateTransaction)

	report := h.coord.Drain(h.ctx)
	assert.True(t, report.Stopped)
	assert.Equal(t, 1, report.Attempted)
	assert.Equal(t, 3, report.Remaining())
	assert.Equal(t, before+1, h.gw.Calls(memory.OpCreateTransaction))
	assert.Len(t, h.pending(t), 3)
}

func TestPermanentRejectionIsParked(t *testing.T) {
	h := newHarness(t)
	missing := newTx(7, food, "10", day(1))
	edited := newTx(7, food, "12", day(1))

	res, err := h.coord.UpdateTransaction(h.ctx, missing, edited)
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, res.Outcome)
	assert.Equal(t, ReasonRejected, res.Reason)

	first := h.coord.Drain(h.ctx)
	assert.Equal(t, 1, first.Failed)
	second := h.coord.Drain(h.ctx)
	assert.Equal(t, 1, second.Parked)
	assert.Equal(t, core.EventEntryParked, h.events.last().Type)

	status, err := h.coord.Status(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, core.OutboxStats{Pending: 0, Failed: 1}, status.Outbox)

	failed, err := h.coord.ListFailed(h.ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, int64(7), failed[0].ID)

	n, err := h.coord.RetryFailed(h.ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Len(t, h.pending(t), 1)
}

func TestTransientRejectionIsNeverParked(t *testing.T) {
	h := newHarness(t)
	h.gw.FailOp(memory.OpCreateTransaction, &remote.RejectedError{StatusCode: 500})

	_, err := h.coord.CreateTransaction(h.ctx, newTx(1, food, "10", day(1)))
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		report := h.coord.Drain(h.ctx)
		assert.Zero(t, report.Parked)
	}
	entries := h.pending(t)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(4), entries[0].Attempts)
}

func TestBankAccountDeleteEntryIsParked(t *testing.T) {
	h := newHarness(t)
	_, err := h.repo.Add(h.ctx, core.NewBankAccountEntry(core.ActionDelete, primary, time.Now()))
	require.NoError(t, err)

	report := h.coord.Drain(h.ctx)
	assert.Equal(t, 1, report.Parked)
	assert.Equal(t, 0, h.gw.Calls(memory.OpUpdateAccount))
	assert.Empty(t, h.pending(t))
}

func TestDeleteAlreadyGoneOnRemoteSucceeds(t *testing.T) {
	h := newHarness(t)
	h.load(t)
	tx := newTx(1, food, "100", day(1))
	_, err := h.coord.CreateTransaction(h.ctx, tx)
	require.NoError(t, err)
	require.NoError(t, h.gw.DeleteTransaction(h.ctx, 1))

	res, err := h.coord.DeleteTransaction(h.ctx, tx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, res.Outcome)
	_, cached := h.repo.GetTransaction(h.ctx, 1)
	assert.False(t, cached)
	assertBalance(t, "500", h.ledger)
}

func TestUpdateBankAccountAdoptsAndCoalescesOffline(t *testing.T) {
	h := newHarness(t)
	h.load(t)

	h.gw.SetOffline()
	renamed := primary
	renamed.Name = "Checking"
	_, err := h.coord.UpdateBankAccount(h.ctx, renamed)
	require.NoError(t, err)
	renamed.Name = "Joint"
	_, err = h.coord.UpdateBankAccount(h.ctx, renamed)
	require.NoError(t, err)

	entries := h.pending(t)
	require.Len(t, entries, 1)
	assert.Equal(t, "Joint", entries[0].Payload.BankAccount.Name)

	h.gw.SetOnline()
	h.coord.Drain(h.ctx)
	acc, _ := h.gw.PrimaryAccount()
	assert.Equal(t, "Joint", acc.Name)
	cached, ok := h.repo.GetBankAccount(h.ctx)
	require.True(t, ok)
	assert.Equal(t, "Joint", cached.Name)

	renamed.Balance = core.MustMoney("800")
	res, err := h.coord.UpdateBankAccount(h.ctx, renamed)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, res.Outcome)
	assertBalance(t, "800", h.ledger)
}

func TestUpdateBankAccountSupersedesPendingBalance(t *testing.T) {
	h := newHarness(t)
	h.load(t)
	_, err := h.coord.CreateTransaction(h.ctx, newTx(1, food, "100", day(1)))
	require.NoError(t, err)

	renamed := primary
	renamed.Name = "Renamed"
	renamed.Balance = core.MustMoney("900")
	res, err := h.coord.UpdateBankAccount(h.ctx, renamed)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, res.Outcome)
	require.NoError(t, h.ledger.Flush(h.ctx))

	acc, _ := h.gw.PrimaryAccount()
	assert.Equal(t, "Renamed", acc.Name)
	assertMoney(t, "900", acc.Balance)
	assertBalance(t, "900", h.ledger)
	assert.Empty(t, h.pending(t))
}

func TestManualOverrideLoadsAndPersists(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.coord.ManualOverride(h.ctx, core.MustMoney("1234.56"), "USD"))
	require.NoError(t, h.ledger.Flush(h.ctx))

	acc, _ := h.gw.PrimaryAccount()
	assertMoney(t, "1234.56", acc.Balance)
	assert.Equal(t, "USD", acc.Currency)
	cached, ok := h.repo.GetBankAccount(h.ctx)
	require.True(t, ok)
	assertMoney(t, "1234.56", cached.Balance)
	assert.Contains(t, h.events.types(), core.EventBalanceOverride)
}

func TestManualOverrideRejectsBadCurrency(t *testing.T) {
	h := newHarness(t)
	err := h.coord.ManualOverride(h.ctx, core.MustMoney("1"), "us")
	assert.ErrorIs(t, err, core.ErrInvalidCurrency)
}

func TestBalancePersistedOfflineIsQueued(t *testing.T) {
	h := newHarness(t)
	h.load(t)
	_, err := h.coord.CreateTransaction(h.ctx, newTx(1, food, "100", day(1)))
	require.NoError(t, err)

	h.gw.SetOffline()
	require.NoError(t, h.ledger.Flush(h.ctx))

	entries := h.pending(t)
	require.Len(t, entries, 1)
	require.Equal(t, core.KindBankAccount, entries[0].Payload.Kind)
	assertMoney(t, "400", entries[0].Payload.BankAccount.Balance)

	h.gw.SetOnline()
	h.coord.Drain(h.ctx)
	acc, _ := h.gw.PrimaryAccount()
	assertMoney(t, "400", acc.Balance)
	assertBalance(t, "400", h.ledger)
}

func TestFetchPrimaryAccount(t *testing.T) {
	t.Run("no account", func(t *testing.T) {
		h := newHarnessWith(t, memory.New())
		_, err := h.coord.FetchPrimaryAccount(h.ctx)
		assert.ErrorIs(t, err, ErrNoPrimaryAccount)

		_, err = h.coord.LoadBalance(h.ctx)
		assert.ErrorIs(t, err, ErrNoPrimaryAccount)
	})

	t.Run("offline without cache", func(t *testing.T) {
		h := newHarness(t)
		h.gw.SetOffline()
		_, err := h.coord.FetchPrimaryAccount(h.ctx)
		assert.ErrorIs(t, err, ErrAccountUnavailable)
	})

	t.Run("offline with cache", func(t *testing.T) {
		h := newHarness(t)
		online, err := h.coord.FetchPrimaryAccount(h.ctx)
		require.NoError(t, err)
		assert.False(t, online.Offline())

		h.gw.SetOffline()
		res, err := h.coord.FetchPrimaryAccount(h.ctx)
		require.NoError(t, err)
		assert.True(t, res.Offline())
		assert.Equal(t, primary.ID, res.Data.ID)
	})
}

func TestCategoriesFallback(t *testing.T) {
	h := newHarness(t)
	all := h.coord.FetchCategories(h.ctx)
	require.False(t, all.Offline())
	assert.Len(t, all.Data, 2)

	h.gw.SetOffline()
	incomes := h.coord.FetchCategoriesByDirection(h.ctx, core.Income)
	assert.True(t, incomes.Offline())
	require.Len(t, incomes.Data, 1)
	assert.Equal(t, salary.ID, incomes.Data[0].ID)

	cached := h.coord.FetchCategories(h.ctx)
	assert.True(t, cached.Offline())
	assert.Len(t, cached.Data, 2)
}

func TestInvalidInputIsRejectedBeforeAnyCall(t *testing.T) {
	h := newHarness(t)

	bad := newTx(1, food, "10", day(1))
	bad.Amount = core.Zero
	_, err := h.coord.CreateTransaction(h.ctx, bad)
	assert.ErrorIs(t, err, core.ErrInvalidAmount)

	_, err = h.coord.UpdateTransaction(h.ctx, newTx(1, food, "1", day(1)), newTx(2, food, "1", day(1)))
	assert.ErrorIs(t, err, ErrIDMismatch)

	_, err = h.coord.DeleteTransaction(h.ctx, core.Transaction{})
	assert.ErrorIs(t, err, core.ErrInvalidID)

	_, err = h.coord.FetchTransactions(h.ctx, day(10), day(1))
	assert.ErrorIs(t, err, ErrInvalidRange)

	assert.Equal(t, 0, h.gw.Calls(memory.OpCreateTransaction))
	assert.Empty(t, h.pending(t))
}

func TestStatusTracksPhase(t *testing.T) {
	h := newHarness(t)
	status, err := h.coord.Status(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, PhaseIdle, status.Phase)

	h.gw.SetOffline()
	_, err = h.coord.CreateTransaction(h.ctx, newTx(1, food, "1", day(1)))
	require.NoError(t, err)

	status, err = h.coord.Status(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, PhaseQueuedForRetry, status.Phase)
	assert.Equal(t, int64(1), status.Outbox.Pending)
	require.NotNil(t, status.LastDrain)
}

func TestClearOutbox(t *testing.T) {
	h := newHarness(t)
	h.gw.SetOffline()
	_, err := h.coord.CreateTransaction(h.ctx, newTx(1, food, "1", day(1)))
	require.NoError(t, err)

	require.NoError(t, h.coord.ClearOutbox(context.Background()))
	assert.Empty(t, h.pending(t))
}
