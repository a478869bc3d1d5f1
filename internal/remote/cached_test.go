package remote_test

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

func TestCachedGatewayServesCategoriesFromCache(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	backend.SeedCategories(
		core.Category{ID: 1, Name: "Food", Direction: core.Outcome},
		core.Category{ID: 2, Name: "Salary", Direction: core.Income},
	)
	g := remote.NewCachedGateway(backend, time.Hour)

	for i := 0; i < 3; i++ {
		cats, err := g.ListCategories(ctx)
		require.NoError(t, err)
		assert.Len(t, cats, 2)
	}
	assert.Equal(t, 1, backend.Calls(memory.OpListCategories))

	income, err := g.ListCategoriesByDirection(ctx, core.Income)
	require.NoError(t, err)
	require.Len(t, income, 1)
	assert.Equal(t, "Salary", income[0].Name)

	g.Invalidate()
	_, err = g.ListCategories(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, backend.Calls(memory.OpListCategories))
}

func TestCachedGatewayDoesNotCacheFailures(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	backend.SeedCategories(core.Category{ID: 1, Name: "Food"})
	g := remote.NewCachedGateway(backend, time.Hour)

	backend.SetOffline()
	_, err := g.ListCategories(ctx)
	assert.ErrorIs(t, err, remote.ErrUnreachable)

	backend.SetOnline()
	cats, err := g.ListCategories(ctx)
	require.NoError(t, err)
	assert.Len(t, cats, 1)
}

func TestCachedGatewayPassesThroughWrites(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	g := remote.NewCachedGateway(backend, time.Hour)

	tx := core.Transaction{ID: 5, AccountID: 1, Category: core.Category{ID: 1}, Amount: core.MustMoney("1"), TransactionDate: time.Now()}
	require.NoError(t, g.CreateTransaction(ctx, tx))
	_, ok := backend.Transaction(5)
	assert.True(t, ok)
}

func TestCachedGatewaySurfacesOutageAfterFailedCall(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	backend.SeedCategories(core.Category{ID: 1, Name: "Food"})
	g := remote.NewCachedGateway(backend, time.Hour)

	_, err := g.ListCategories(ctx)
	require.NoError(t, err)

	backend.SetOffline()
	_, err = g.FetchPrimaryAccount(ctx)
	require.ErrorIs(t, err, remote.ErrUnreachable)

	_, err = g.ListCategories(ctx)
	assert.ErrorIs(t, err, remote.ErrUnreachable)
	assert.Equal(t, 2, backend.Calls(memory.OpListCategories))

	backend.SetOnline()
	cats, err := g.ListCategories(ctx)
	require.NoError(t, err)
	assert.Len(t, cats, 1)
	_, err = g.ListCategories(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, backend.Calls(memory.OpListCategories))
}

func TestCachedGatewayKeepsServingAfterRejection(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	backend.SeedCategories(core.Category{ID: 1, Name: "Food"})
	g := remote.NewCachedGateway(backend, time.Hour)

	_, err := g.ListCategories(ctx)
	require.NoError(t, err)

	backend.FailOp(memory.OpDeleteTransaction, &remote.RejectedError{StatusCode: 404})
	require.Error(t, g.DeleteTransaction(ctx, 9))

	_, err = g.ListCategories(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, backend.Calls(memory.OpListCategories))
}
