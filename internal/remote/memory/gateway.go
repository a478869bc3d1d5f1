// Package memory is an in-process remote.Gateway. It backs the "memory" remote
// backend and the sync tests, and can be told to fail.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"finsync/internal/core"
	"finsync/internal/remote"
)

// Operation names, as counted by Calls.
const (
	OpListCategories    = "ListCategories"
	OpListByDirection   = "ListCategoriesByDirection"
	OpFetchPrimary      = "FetchPrimaryAccount"
	OpUpdateBalance     = "UpdateBalance"
	OpUpdateAccount     = "UpdateAccount"
	OpFetchTransactions = "FetchTransactions"
	OpCreateTransaction = "CreateTransaction"
	OpUpdateTransaction = "UpdateTransaction"
	OpDeleteTransaction = "DeleteTransaction"
)

type Gateway struct {
	mu           sync.Mutex
	categories   []core.Category
	accounts     []core.BankAccount
	transactions map[int64]core.Transaction
	calls        map[string]int
	failAll      error
	failOps      map[string]error
}

var _ remote.Gateway = (*Gateway)(nil)

func New() *Gateway {
	return &Gateway{
		transactions: make(map[int64]core.Transaction),
		calls:        make(map[string]int),
		failOps:      make(map[string]error),
	}
}

// SetOffline makes every call fail as unreachable until SetOnline.
func (g *Gateway) SetOffline() {
	g.Fail(remote.Unreachable(context.DeadlineExceeded))
}

func (g *Gateway) SetOnline() {
	g.Fail(nil)
}

// Fail makes every call return err. A nil err clears it.
func (g *Gateway) Fail(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failAll = err
}

// FailOp makes calls to op return err. A nil err clears it.
func (g *Gateway) FailOp(op string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.failOps, op)
		return
	}
	g.failOps[op] = err
}

// Calls returns how many times op was invoked, failures included.
func (g *Gateway) Calls(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

func (g *Gateway) SeedCategories(cats ...core.Category) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.categories = append(g.categories, cats...)
}

// SeedAccount appends an account; the first one is the primary.
func (g *Gateway) SeedAccount(acc core.BankAccount) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.accounts = append(g.accounts, acc)
}

func (g *Gateway) SeedTransactions(txs ...core.Transaction) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, tx := range txs {
		g.transactions[tx.ID] = tx
	}
}

// Transaction returns the stored transaction with id.
func (g *Gateway) Transaction(id int64) (core.Transaction, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	tx, ok := g.transactions[id]
	return tx, ok
}

// PrimaryAccount returns the stored primary account.
func (g *Gateway) PrimaryAccount() (core.BankAccount, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.accounts) == 0 {
		return core.BankAccount{}, false
	}
	return g.accounts[0], true
}

// enter counts the call and returns the injected failure, if any. Callers hold g.mu.
func (g *Gateway) enter(op string) error {
	g.calls[op]++
	if g.failAll != nil {
		return g.failAll
	}
	return g.failOps[op]
}

func (g *Gateway) ListCategories(ctx context.Context) ([]core.Category, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter(OpListCategories); err != nil {
		return nil, err
	}
	return append([]core.Category(nil), g.categories...), nil
}

func (g *Gateway) ListCategoriesByDirection(ctx context.Context, d core.Direction) ([]core.Category, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter(OpListByDirection); err != nil {
		return nil, err
	}
	return core.FilterByDirection(g.categories, d), nil
}

func (g *Gateway) FetchPrimaryAccount(ctx context.Context) (core.BankAccount, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter(OpFetchPrimary); err != nil {
		return core.BankAccount{}, err
	}
	if len(g.accounts) == 0 {
		return core.BankAccount{}, remote.ErrNoAccount
	}
	return g.accounts[0], nil
}

func (g *Gateway) UpdateBalance(ctx context.Context, acc core.BankAccount, balance core.Money) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter(OpUpdateBalance); err != nil {
		return err
	}
	i, err := g.accountIndex(acc.ID)
	if err != nil {
		return err
	}
	g.accounts[i].Balance = balance
	g.accounts[i].UpdatedAt = time.Now().UTC()
	return nil
}

func (g *Gateway) UpdateAccount(ctx context.Context, acc core.BankAccount) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter(OpUpdateAccount); err != nil {
		return err
	}
	i, err := g.accountIndex(acc.ID)
	if err != nil {
		return err
	}
	g.accounts[i].Name = acc.Name
	g.accounts[i].Balance = acc.Balance
	g.accounts[i].Currency = acc.Currency
	g.accounts[i].UpdatedAt = time.Now().UTC()
	return nil
}

func (g *Gateway) accountIndex(id int64) (int, error) {
	for i, a := range g.accounts {
		if a.ID == id {
			return i, nil
		}
	}
	return 0, &remote.RejectedError{StatusCode: 404, Message: "account not found"}
}

func (g *Gateway) FetchTransactions(ctx context.Context, accountID int64, from, to time.Time) ([]core.Transaction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter(OpFetchTransactions); err != nil {
		return nil, err
	}
	var out []core.Transaction
	for _, tx := range g.transactions {
		if tx.AccountID != accountID {
			continue
		}
		if tx.TransactionDate.Before(from) || tx.TransactionDate.After(to) {
			continue
		}
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TransactionDate.Equal(out[j].TransactionDate) {
			return out[i].TransactionDate.Before(out[j].TransactionDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (g *Gateway) CreateTransaction(ctx context.Context, tx core.Transaction) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter(OpCreateTransaction); err != nil {
		return err
	}
	g.transactions[tx.ID] = tx
	return nil
}

func (g *Gateway) UpdateTransaction(ctx context.Context, tx core.Transaction) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter(OpUpdateTransaction); err != nil {
		return err
	}
	if _, ok := g.transactions[tx.ID]; !ok {
		return &remote.RejectedError{StatusCode: 404, Message: "transaction not found"}
	}
	g.transactions[tx.ID] = tx
	return nil
}

func (g *Gateway) DeleteTransaction(ctx context.Context, id int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter(OpDeleteTransaction); err != nil {
		return err
	}
	if _, ok := g.transactions[id]; !ok {
		return &remote.RejectedError{StatusCode: 404, Message: "transaction not found"}
	}
	delete(g.transactions, id)
	return nil
}
