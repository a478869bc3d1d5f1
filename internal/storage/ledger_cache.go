package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"finsync/internal/core"
	"finsync/internal/log"
)

// The Ledger Cache never surfaces storage errors: failures are logged and the
// call degrades to a no-op or an empty result.

func (r *SQLiteRepository) GetAllTransactions(ctx context.Context) []core.Transaction {
	rows, err := r.queries.ListTransactions(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to read cached transactions", log.FieldError, err)
		return nil
	}
	return r.toTransactions(ctx, rows)
}

// GetTransactions returns cached transactions dated within [from, to].
func (r *SQLiteRepository) GetTransactions(ctx context.Context, from, to time.Time) []core.Transaction {
	rows, err := r.queries.ListTransactionsBetween(ctx, from.UnixNano(), to.UnixNano())
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to read cached transactions",
			"from", from, "to", to, log.FieldError, err)
		return nil
	}
	return r.toTransactions(ctx, rows)
}

func (r *SQLiteRepository) GetTransaction(ctx context.Context, id int64) (core.Transaction, bool) {
	row, err := r.queries.GetTransaction(ctx, id)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			r.logger.ErrorContext(ctx, "Failed to read cached transaction", log.FieldSubjectID, id, log.FieldError, err)
		}
		return core.Transaction{}, false
	}
	tx, err := transactionFromRow(row)
	if err != nil {
		r.logger.ErrorContext(ctx, "Corrupt cached transaction", log.FieldSubjectID, id, log.FieldError, err)
		return core.Transaction{}, false
	}
	return tx, true
}

// SaveTransactions replaces the whole cached transaction set atomically.
func (r *SQLiteRepository) SaveTransactions(ctx context.Context, txs []core.Transaction) {
	err := r.withTx(ctx, func(q *Queries) error {
		if err := q.DeleteAllTransactions(ctx); err != nil {
			return fmt.Errorf("clear transactions: %w", err)
		}
		for _, tx := range txs {
			if err := putTransaction(ctx, q, tx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to save transactions", log.FieldCount, len(txs), log.FieldError, err)
		return
	}
	r.logger.DebugContext(ctx, "Transactions cached", log.FieldCount, len(txs))
}

// CreateTransaction inserts tx, overwriting any cached row with the same id.
func (r *SQLiteRepository) CreateTransaction(ctx context.Context, tx core.Transaction) {
	if err := putTransaction(ctx, r.queries, tx); err != nil {
		r.logger.ErrorContext(ctx, "Failed to cache transaction", log.FieldSubjectID, tx.ID, log.FieldError, err)
	}
}

// UpdateTransaction mirrors amount, date, comment and updatedAt. Category and
// account stay as cached.
func (r *SQLiteRepository) UpdateTransaction(ctx context.Context, tx core.Transaction) {
	n, err := r.queries.UpdateTransactionFields(ctx, UpdateTransactionParams{
		ID:              tx.ID,
		Amount:          tx.Amount.String(),
		TransactionDate: toUnix(tx.TransactionDate),
		Comment:         tx.Comment,
		UpdatedAt:       toUnix(tx.UpdatedAt),
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to update cached transaction", log.FieldSubjectID, tx.ID, log.FieldError, err)
		return
	}
	if n == 0 {
		r.logger.DebugContext(ctx, "Cached transaction not found for update", log.FieldSubjectID, tx.ID)
	}
}

func (r *SQLiteRepository) DeleteTransaction(ctx context.Context, id int64) {
	if err := r.queries.DeleteTransaction(ctx, id); err != nil {
		r.logger.ErrorContext(ctx, "Failed to delete cached transaction", log.FieldSubjectID, id, log.FieldError, err)
	}
}

func (r *SQLiteRepository) GetBankAccount(ctx context.Context) (core.BankAccount, bool) {
	row, err := r.queries.GetBankAccount(ctx)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			r.logger.ErrorContext(ctx, "Failed to read cached bank account", log.FieldError, err)
		}
		return core.BankAccount{}, false
	}
	balance, err := core.ParseMoney(row.Balance)
	if err != nil {
		r.logger.ErrorContext(ctx, "Corrupt cached balance", log.FieldAccountID, row.ID, log.FieldError, err)
		return core.BankAccount{}, false
	}
	return core.BankAccount{
		ID:        row.ID,
		UserID:    row.UserID,
		Name:      row.Name,
		Balance:   balance,
		Currency:  row.Currency,
		CreatedAt: fromUnix(row.CreatedAt),
		UpdatedAt: fromUnix(row.UpdatedAt),
	}, true
}

// UpdateBankAccount upserts the account row by id.
func (r *SQLiteRepository) UpdateBankAccount(ctx context.Context, acc core.BankAccount) {
	if err := r.queries.UpsertBankAccount(ctx, bankAccountRow(acc)); err != nil {
		r.logger.ErrorContext(ctx, "Failed to update cached bank account", log.FieldAccountID, acc.ID, log.FieldError, err)
	}
}

// SaveBankAccount makes acc the only cached account.
func (r *SQLiteRepository) SaveBankAccount(ctx context.Context, acc core.BankAccount) {
	err := r.withTx(ctx, func(q *Queries) error {
		if err := q.DeleteBankAccounts(ctx); err != nil {
			return err
		}
		return q.UpsertBankAccount(ctx, bankAccountRow(acc))
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to save bank account", log.FieldAccountID, acc.ID, log.FieldError, err)
	}
}

func (r *SQLiteRepository) GetAllCategories(ctx context.Context) []core.Category {
	rows, err := r.queries.ListCategories(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to read cached categories", log.FieldError, err)
		return nil
	}
	out := make([]core.Category, 0, len(rows))
	for _, row := range rows {
		out = append(out, core.Category{
			ID:        row.ID,
			Name:      row.Name,
			Emoji:     core.FirstRune(row.Emoji),
			Direction: core.ParseDirection(row.IsIncome),
		})
	}
	return out
}

// SaveCategories replaces the cached category set.
func (r *SQLiteRepository) SaveCategories(ctx context.Context, categories []core.Category) {
	err := r.withTx(ctx, func(q *Queries) error {
		if err := q.DeleteAllCategories(ctx); err != nil {
			return err
		}
		for _, c := range categories {
			if err := q.InsertCategory(ctx, CategoryRow{
				ID:       c.ID,
				Name:     c.Name,
				Emoji:    c.EmojiString(),
				IsIncome: c.Direction.IsIncome(),
			}); err != nil {
				return fmt.Errorf("insert category %d: %w", c.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to save categories", log.FieldCount, len(categories), log.FieldError, err)
	}
}

func (r *SQLiteRepository) toTransactions(ctx context.Context, rows []TransactionRow) []core.Transaction {
	out := make([]core.Transaction, 0, len(rows))
	for _, row := range rows {
		tx, err := transactionFromRow(row)
		if err != nil {
			r.logger.WarnContext(ctx, "Skipping corrupt cached transaction", log.FieldSubjectID, row.ID, log.FieldError, err)
			continue
		}
		out = append(out, tx)
	}
	return out
}

func transactionFromRow(row TransactionRow) (core.Transaction, error) {
	amount, err := core.ParseMoney(row.Amount)
	if err != nil {
		return core.Transaction{}, err
	}
	category := core.Category{ID: row.CategoryID}
	if row.CategoryName.Valid {
		category.Name = row.CategoryName.String
		category.Emoji = core.FirstRune(row.CategoryEmoji.String)
		category.Direction = core.ParseDirection(row.CategoryIncome.Bool)
	}
	return core.Transaction{
		ID:              row.ID,
		AccountID:       row.AccountID,
		Category:        category,
		Amount:          amount,
		TransactionDate: fromUnix(row.TransactionDate),
		Comment:         row.Comment,
		CreatedAt:       fromUnix(row.CreatedAt),
		UpdatedAt:       fromUnix(row.UpdatedAt),
	}, nil
}

// putTransaction upserts tx and remembers its category so offline reads keep
// the direction even before the category list has been fetched.
func putTransaction(ctx context.Context, q *Queries, tx core.Transaction) error {
	if tx.Category.Name != "" {
		if err := q.EnsureCategory(ctx, CategoryRow{
			ID:       tx.Category.ID,
			Name:     tx.Category.Name,
			Emoji:    tx.Category.EmojiString(),
			IsIncome: tx.Category.Direction.IsIncome(),
		}); err != nil {
			return fmt.Errorf("ensure category %d: %w", tx.Category.ID, err)
		}
	}
	if err := q.UpsertTransaction(ctx, upsertParams(tx)); err != nil {
		return fmt.Errorf("upsert transaction %d: %w", tx.ID, err)
	}
	return nil
}

func upsertParams(tx core.Transaction) UpsertTransactionParams {
	return UpsertTransactionParams{
		ID:              tx.ID,
		AccountID:       tx.AccountID,
		CategoryID:      tx.Category.ID,
		Amount:          tx.Amount.String(),
		TransactionDate: toUnix(tx.TransactionDate),
		Comment:         tx.Comment,
		CreatedAt:       toUnix(tx.CreatedAt),
		UpdatedAt:       toUnix(tx.UpdatedAt),
	}
}

func bankAccountRow(acc core.BankAccount) BankAccountRow {
	return BankAccountRow{
		ID:        acc.ID,
		UserID:    acc.UserID,
		Name:      acc.Name,
		Balance:   acc.Balance.String(),
		Currency:  acc.Currency,
		CreatedAt: toUnix(acc.CreatedAt),
		UpdatedAt: toUnix(acc.UpdatedAt),
	}
}
