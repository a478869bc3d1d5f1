package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finsync/internal/core"
)

var (
	food   = core.Category{ID: 1, Name: "Food", Emoji: '🍔', Direction: core.Outcome}
	salary = core.Category{ID: 2, Name: "Salary", Emoji: '💰', Direction: core.Income}
)

func newTestRepo(t *testing.T) (*SQLiteRepository, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "ledger.db")
	repo, err := NewSQLiteRepository(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo, path
}

func day(d int) time.Time {
	return time.Date(2024, time.March, d, 12, 0, 0, 0, time.UTC)
}

func tx(id int64, cat core.Category, amount string, date time.Time) core.Transaction {
	return core.Transaction{
		ID:              id,
		AccountID:       10,
		Category:        cat,
		Amount:          core.MustMoney(amount),
		TransactionDate: date,
		Comment:         "note",
		CreatedAt:       date,
		UpdatedAt:       date,
	}
}

func TestMigrationsApplied(t *testing.T) {
	_, path := newTestRepo(t)
	v, dirty, err := SchemaVersion(path)
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(2), v)
}

func TestTransactionsRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)
	repo.SaveCategories(ctx, []core.Category{food, salary})

	repo.CreateTransaction(ctx, tx(1, food, "12.50", day(1)))
	repo.CreateTransaction(ctx, tx(2, salary, "1000", day(2)))

	all := repo.GetAllTransactions(ctx)
	require.Len(t, all, 2)
	assert.True(t, all[0].Amount.Equal(core.MustMoney("12.5")))
	assert.Equal(t, food, all[0].Category)
	assert.Equal(t, core.Income, all[1].Category.Direction)
	assert.True(t, all[1].TransactionDate.Equal(day(2)))

	got, ok := repo.GetTransaction(ctx, 2)
	require.True(t, ok)
	assert.Equal(t, int64(10), got.AccountID)

	_, ok = repo.GetTransaction(ctx, 99)
	assert.False(t, ok)
}

func TestGetTransactionsRangeIsInclusive(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	repo.SaveTransactions(ctx, []core.Transaction{
		tx(1, food, "1", day(1)),
		tx(2, food, "2", day(5)),
		tx(3, food, "3", day(10)),
		tx(4, food, "4", day(11)),
	})

	got := repo.GetTransactions(ctx, day(5), day(10))
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].ID)
	assert.Equal(t, int64(3), got[1].ID)

	assert.Empty(t, repo.GetTransactions(ctx, day(20), day(25)))
}

func TestSaveTransactionsReplacesEverything(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	repo.SaveTransactions(ctx, []core.Transaction{tx(1, food, "1", day(1)), tx(2, food, "2", day(2))})
	repo.SaveTransactions(ctx, []core.Transaction{tx(3, food, "3", day(3))})

	all := repo.GetAllTransactions(ctx)
	require.Len(t, all, 1)
	assert.Equal(t, int64(3), all[0].ID)

	repo.SaveTransactions(ctx, nil)
	assert.Empty(t, repo.GetAllTransactions(ctx))
}

func TestCachedTransactionKeepsDirectionWithoutCategoryList(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	repo.CreateTransaction(ctx, tx(1, salary, "100", day(1)))

	got, ok := repo.GetTransaction(ctx, 1)
	require.True(t, ok)
	assert.Equal(t, core.Income, got.Category.Direction)
	assert.Equal(t, "Salary", got.Category.Name)
}

func TestUnknownCategoryFallsBackToID(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	repo.CreateTransaction(ctx, tx(1, core.Category{ID: 42}, "5", day(1)))

	got, ok := repo.GetTransaction(ctx, 1)
	require.True(t, ok)
	assert.Equal(t, core.Category{ID: 42}, got.Category)
}

func TestUpdateTransactionOnlyMirrorsEditableFields(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)
	repo.SaveCategories(ctx, []core.Category{food, salary})
	repo.CreateTransaction(ctx, tx(1, food, "10", day(1)))

	edited := tx(1, salary, "25.75", day(3))
	edited.AccountID = 77
	edited.Comment = "edited"
	edited.UpdatedAt = day(4)
	repo.UpdateTransaction(ctx, edited)

	got, ok := repo.GetTransaction(ctx, 1)
	require.True(t, ok)
	assert.True(t, got.Amount.Equal(core.MustMoney("25.75")))
	assert.True(t, got.TransactionDate.Equal(day(3)))
	assert.Equal(t, "edited", got.Comment)
	assert.True(t, got.UpdatedAt.Equal(day(4)))
	assert.Equal(t, food.ID, got.Category.ID)
	assert.Equal(t, int64(10), got.AccountID)

	// Missing rows are a silent no-op.
	repo.UpdateTransaction(ctx, tx(99, food, "1", day(1)))
	_, ok = repo.GetTransaction(ctx, 99)
	assert.False(t, ok)
}

func TestDeleteTransaction(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)
	repo.CreateTransaction(ctx, tx(1, food, "10", day(1)))

	repo.DeleteTransaction(ctx, 1)
	repo.DeleteTransaction(ctx, 1)

	assert.Empty(t, repo.GetAllTransactions(ctx))
}

func TestBankAccount(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	_, ok := repo.GetBankAccount(ctx)
	assert.False(t, ok)

	acc := core.BankAccount{ID: 10, UserID: 1, Name: "Main", Balance: core.MustMoney("1000.10"), Currency: "RUB"}
	repo.SaveBankAccount(ctx, acc)

	acc.Balance = core.MustMoney("900")
	repo.UpdateBankAccount(ctx, acc)

	got, ok := repo.GetBankAccount(ctx)
	require.True(t, ok)
	assert.True(t, got.Balance.Equal(core.MustMoney("900")))
	assert.Equal(t, "RUB", got.Currency)

	repo.SaveBankAccount(ctx, core.BankAccount{ID: 11, Name: "Other", Balance: core.Zero, Currency: "USD"})
	got, ok = repo.GetBankAccount(ctx)
	require.True(t, ok)
	assert.Equal(t, int64(11), got.ID)
}

func TestCategoriesReplace(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	repo.SaveCategories(ctx, []core.Category{food, salary})
	require.Len(t, repo.GetAllCategories(ctx), 2)

	repo.SaveCategories(ctx, []core.Category{salary})
	got := repo.GetAllCategories(ctx)
	require.Len(t, got, 1)
	assert.Equal(t, salary, got[0])
}

func TestCacheSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	repo, path := newTestRepo(t)
	repo.CreateTransaction(ctx, tx(1, food, "3.33", day(1)))
	require.NoError(t, repo.Close())

	reopened, err := NewSQLiteRepository(path)
	require.NoError(t, err)
	defer reopened.Close()

	all := reopened.GetAllTransactions(ctx)
	require.Len(t, all, 1)
	assert.True(t, all[0].Amount.Equal(core.MustMoney("3.33")))
}

func TestClosedStoreDegradesToEmpty(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)
	require.NoError(t, repo.Close())

	assert.NotPanics(t, func() {
		repo.CreateTransaction(ctx, tx(1, food, "1", day(1)))
		repo.SaveTransactions(ctx, []core.Transaction{tx(2, food, "1", day(1))})
	})
	assert.Empty(t, repo.GetAllTransactions(ctx))
	assert.Empty(t, repo.GetAllCategories(ctx))
	_, ok := repo.GetBankAccount(ctx)
	assert.False(t, ok)
}
