// Package remote describes the finance backend as seen by the sync layer.
package remote

import (
	"context"
	"time"

	"finsync/internal/core"
)

type CategoriesGateway interface {
	ListCategories(ctx context.Context) ([]core.Category, error)
	ListCategoriesByDirection(ctx context.Context, d core.Direction) ([]core.Category, error)
}

type AccountsGateway interface {
	// FetchPrimaryAccount returns ErrNoAccount when the user has no account.
	FetchPrimaryAccount(ctx context.Context) (core.BankAccount, error)
	UpdateBalance(ctx context.Context, acc core.BankAccount, balance core.Money) error
	// UpdateAccount writes name, balance and currency.
	UpdateAccount(ctx context.Context, acc core.BankAccount) error
}

type TransactionsGateway interface {
	// FetchTransactions returns the account's transactions dated within [from, to].
	FetchTransactions(ctx context.Context, accountID int64, from, to time.Time) ([]core.Transaction, error)
	CreateTransaction(ctx context.Context, tx core.Transaction) error
	UpdateTransaction(ctx context.Context, tx core.Transaction) error
	DeleteTransaction(ctx context.Context, id int64) error
}

// Gateway is the whole backend surface.
type Gateway interface {
	CategoriesGateway
	AccountsGateway
	TransactionsGateway
}
