package storage

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type TransactionRow struct {
	ID              int64
	AccountID       int64
	CategoryID      int64
	Amount          string
	TransactionDate int64
	Comment         string
	CreatedAt       int64
	UpdatedAt       int64
	CategoryName    sql.NullString
	CategoryEmoji   sql.NullString
	CategoryIncome  sql.NullBool
}

type BankAccountRow struct {
	ID        int64
	UserID    int64
	Name      string
	Balance   string
	Currency  string
	CreatedAt int64
	UpdatedAt int64
}

type CategoryRow struct {
	ID       int64
	Name     string
	Emoji    string
	IsIncome bool
}

type BackupEntryRow struct {
	Seq       int64
	ID        int64
	Action    string
	DataType  string
	DataJSON  string
	Timestamp int64
	Attempts  int64
	LastError string
	Status    string
	UpdatedAt int64
}

const selectTransactions = `SELECT t.id, t.account_id, t.category_id, t.amount, t.transaction_date, t.comment,
       t.created_at, t.updated_at, c.name, c.emoji, c.is_income
FROM transactions t
LEFT JOIN categories c ON c.id = t.category_id`

func scanTransactions(rows *sql.Rows) ([]TransactionRow, error) {
	defer rows.Close()
	var items []TransactionRow
	for rows.Next() {
		var i TransactionRow
		if err := rows.Scan(
			&i.ID,
			&i.AccountID,
			&i.CategoryID,
			&i.Amount,
			&i.TransactionDate,
			&i.Comment,
			&i.CreatedAt,
			&i.UpdatedAt,
			&i.CategoryName,
			&i.CategoryEmoji,
			&i.CategoryIncome,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

func (q *Queries) ListTransactions(ctx context.Context) ([]TransactionRow, error) {
	rows, err := q.db.QueryContext(ctx, selectTransactions+` ORDER BY t.transaction_date, t.id`)
	if err != nil {
		return nil, err
	}
	return scanTransactions(rows)
}

func (q *Queries) ListTransactionsBetween(ctx context.Context, from, to int64) ([]TransactionRow, error) {
	rows, err := q.db.QueryContext(ctx,
		selectTransactions+` WHERE t.transaction_date >= ? AND t.transaction_date <= ? ORDER BY t.transaction_date, t.id`,
		from, to)
	if err != nil {
		return nil, err
	}
	return scanTransactions(rows)
}

func (q *Queries) GetTransaction(ctx context.Context, id int64) (TransactionRow, error) {
	rows, err := q.db.QueryContext(ctx, selectTransactions+` WHERE t.id = ?`, id)
	if err != nil {
		return TransactionRow{}, err
	}
	items, err := scanTransactions(rows)
	if err != nil {
		return TransactionRow{}, err
	}
	if len(items) == 0 {
		return TransactionRow{}, sql.ErrNoRows
	}
	return items[0], nil
}

type UpsertTransactionParams struct {
	ID              int64
	AccountID       int64
	CategoryID      int64
	Amount          string
	TransactionDate int64
	Comment         string
	CreatedAt       int64
	UpdatedAt       int64
}

func (q *Queries) UpsertTransaction(ctx context.Context, arg UpsertTransactionParams) error {
	_, err := q.db.ExecContext(ctx, `INSERT INTO transactions
    (id, account_id, category_id, amount, transaction_date, comment, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    account_id = excluded.account_id,
    category_id = excluded.category_id,
    amount = excluded.amount,
    transaction_date = excluded.transaction_date,
    comment = excluded.comment,
    created_at = excluded.created_at,
    updated_at = excluded.updated_at`,
		arg.ID, arg.AccountID, arg.CategoryID, arg.Amount, arg.TransactionDate, arg.Comment, arg.CreatedAt, arg.UpdatedAt)
	return err
}

type UpdateTransactionParams struct {
	ID              int64
	Amount          string
	TransactionDate int64
	Comment         string
	UpdatedAt       int64
}

// UpdateTransactionFields only touches amount, date, comment and updated_at.
func (q *Queries) UpdateTransactionFields(ctx context.Context, arg UpdateTransactionParams) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE transactions SET amount = ?, transaction_date = ?, comment = ?, updated_at = ? WHERE id = ?`,
		arg.Amount, arg.TransactionDate, arg.Comment, arg.UpdatedAt, arg.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *Queries) DeleteTransaction(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	return err
}

func (q *Queries) DeleteAllTransactions(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM transactions`)
	return err
}

func (q *Queries) GetBankAccount(ctx context.Context) (BankAccountRow, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, balance, currency, created_at, updated_at FROM bank_account ORDER BY id LIMIT 1`)
	var i BankAccountRow
	err := row.Scan(&i.ID, &i.UserID, &i.Name, &i.Balance, &i.Currency, &i.CreatedAt, &i.UpdatedAt)
	return i, err
}

func (q *Queries) UpsertBankAccount(ctx context.Context, arg BankAccountRow) error {
	_, err := q.db.ExecContext(ctx, `INSERT INTO bank_account (id, user_id, name, balance, currency, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    user_id = excluded.user_id,
    name = excluded.name,
    balance = excluded.balance,
    currency = excluded.currency,
    created_at = excluded.created_at,
    updated_at = excluded.updated_at`,
		arg.ID, arg.UserID, arg.Name, arg.Balance, arg.Currency, arg.CreatedAt, arg.UpdatedAt)
	return err
}

func (q *Queries) DeleteBankAccounts(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM bank_account`)
	return err
}

func (q *Queries) ListCategories(ctx context.Context) ([]CategoryRow, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT id, name, emoji, is_income FROM categories ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CategoryRow
	for rows.Next() {
		var i CategoryRow
		if err := rows.Scan(&i.ID, &i.Name, &i.Emoji, &i.IsIncome); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

func (q *Queries) InsertCategory(ctx context.Context, arg CategoryRow) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO categories (id, name, emoji, is_income) VALUES (?, ?, ?, ?)`,
		arg.ID, arg.Name, arg.Emoji, arg.IsIncome)
	return err
}

// EnsureCategory inserts the category unless one with the same id is cached.
func (q *Queries) EnsureCategory(ctx context.Context, arg CategoryRow) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO categories (id, name, emoji, is_income) VALUES (?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`,
		arg.ID, arg.Name, arg.Emoji, arg.IsIncome)
	return err
}

func (q *Queries) DeleteAllCategories(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM categories`)
	return err
}

type InsertBackupEntryParams struct {
	ID        int64
	Action    string
	DataType  string
	DataJSON  string
	Timestamp int64
	Attempts  int64
	LastError string
	UpdatedAt int64
}

func (q *Queries) InsertBackupEntry(ctx context.Context, arg InsertBackupEntryParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, `INSERT INTO backup_entries
    (id, action, data_type, data_json, timestamp, attempts, last_error, status, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, 'pending', ?)`,
		arg.ID, arg.Action, arg.DataType, arg.DataJSON, arg.Timestamp, arg.Attempts, arg.LastError, arg.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const selectBackupEntries = `SELECT seq, id, action, data_type, data_json, timestamp, attempts, last_error, status, updated_at
FROM backup_entries`

func (q *Queries) ListBackupEntries(ctx context.Context, status string) ([]BackupEntryRow, error) {
	rows, err := q.db.QueryContext(ctx, selectBackupEntries+` WHERE status = ? ORDER BY timestamp, seq`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []BackupEntryRow
	for rows.Next() {
		var i BackupEntryRow
		if err := rows.Scan(
			&i.Seq,
			&i.ID,
			&i.Action,
			&i.DataType,
			&i.DataJSON,
			&i.Timestamp,
			&i.Attempts,
			&i.LastError,
			&i.Status,
			&i.UpdatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

func (q *Queries) DeleteBackupEntry(ctx context.Context, seq int64) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM backup_entries WHERE seq = ?`, seq)
	return err
}

func (q *Queries) DeleteBackupEntriesForSubject(ctx context.Context, dataType string, id int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM backup_entries WHERE data_type = ? AND id = ?`, dataType, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *Queries) DeleteAllBackupEntries(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM backup_entries`)
	return err
}

type RecordBackupFailureParams struct {
	Seq       int64
	LastError string
	Status    string
	UpdatedAt int64
}

func (q *Queries) RecordBackupFailure(ctx context.Context, arg RecordBackupFailureParams) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE backup_entries SET attempts = attempts + 1, last_error = ?, status = ?, updated_at = ? WHERE seq = ?`,
		arg.LastError, arg.Status, arg.UpdatedAt, arg.Seq)
	return err
}

func (q *Queries) RequeueFailedBackupEntries(ctx context.Context, olderThan, now int64) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE backup_entries SET status = 'pending', attempts = 0, updated_at = ? WHERE status = 'failed' AND updated_at <= ?`,
		now, olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type BackupStatsRow struct {
	Pending int64
	Failed  int64
}

func (q *Queries) GetBackupStats(ctx context.Context) (BackupStatsRow, error) {
	row := q.db.QueryRowContext(ctx, `SELECT
    COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
    COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0)
FROM backup_entries`)
	var i BackupStatsRow
	err := row.Scan(&i.Pending, &i.Failed)
	return i, err
}
