package remote

import (
	"context"
	"sync/atomic"
	"time"

	"finsync/internal/cache"
	"finsync/internal/core"
)

const allCategoriesKey = "all"

// CachedGateway serves category lists from a TTL cache. Categories change
// rarely; every other call goes straight to the wrapped gateway.
//
// Hits are served only while the last remote call reached the backend. Once a
// call comes back unreachable the cache is purged, so callers see the outage
// instead of a list that looks freshly fetched.
type CachedGateway struct {
	Gateway
	categories *cache.LRUCache[[]core.Category]
	down       atomic.Bool
}

func NewCachedGateway(next Gateway, ttl time.Duration) *CachedGateway {
	return &CachedGateway{
		Gateway:    next,
		categories: cache.NewLRUCache[[]core.Category](3, ttl),
	}
}

// Cache exposes the category cache for registration with a cache.Manager.
func (g *CachedGateway) Cache() *cache.LRUCache[[]core.Category] {
	return g.categories
}

func (g *CachedGateway) ListCategories(ctx context.Context) ([]core.Category, error) {
	return g.cached(allCategoriesKey, func() ([]core.Category, error) {
		return g.Gateway.ListCategories(ctx)
	})
}

func (g *CachedGateway) ListCategoriesByDirection(ctx context.Context, d core.Direction) ([]core.Category, error) {
	return g.cached(d.String(), func() ([]core.Category, error) {
		return g.Gateway.ListCategoriesByDirection(ctx, d)
	})
}

func (g *CachedGateway) FetchPrimaryAccount(ctx context.Context) (core.BankAccount, error) {
	acc, err := g.Gateway.FetchPrimaryAccount(ctx)
	g.observe(err)
	return acc, err
}

func (g *CachedGateway) UpdateBalance(ctx context.Context, acc core.BankAccount, balance core.Money) error {
	return g.observe(g.Gateway.UpdateBalance(ctx, acc, balance))
}

func (g *CachedGateway) UpdateAccount(ctx context.Context, acc core.BankAccount) error {
	return g.observe(g.Gateway.UpdateAccount(ctx, acc))
}

func (g *CachedGateway) FetchTransactions(ctx context.Context, accountID int64, from, to time.Time) ([]core.Transaction, error) {
	txs, err := g.Gateway.FetchTransactions(ctx, accountID, from, to)
	g.observe(err)
	return txs, err
}

func (g *CachedGateway) CreateTransaction(ctx context.Context, tx core.Transaction) error {
	return g.observe(g.Gateway.CreateTransaction(ctx, tx))
}

func (g *CachedGateway) UpdateTransaction(ctx context.Context, tx core.Transaction) error {
	return g.observe(g.Gateway.UpdateTransaction(ctx, tx))
}

func (g *CachedGateway) DeleteTransaction(ctx context.Context, id int64) error {
	return g.observe(g.Gateway.DeleteTransaction(ctx, id))
}

// Invalidate drops every cached category list.
func (g *CachedGateway) Invalidate() {
	g.categories.Purge()
}

// observe records whether err means the backend could not be reached. A
// rejection still proves the backend answered.
func (g *CachedGateway) observe(err error) error {
	if err != nil && Reason(err) == "unreachable" {
		if !g.down.Swap(true) {
			g.Invalidate()
		}
		return err
	}
	g.down.Store(false)
	return err
}

func (g *CachedGateway) cached(key string, load func() ([]core.Category, error)) ([]core.Category, error) {
	if !g.down.Load() {
		if hit, ok := g.categories.Get(key); ok {
			return append([]core.Category(nil), hit...), nil
		}
	}
	fresh, err := load()
	if g.observe(err) != nil {
		return nil, err
	}
	g.categories.Set(key, append([]core.Category(nil), fresh...))
	return fresh, nil
}
