package repository

import (
	"context"
	"testing"

	"TradeEngine/internal/domain/models"
	domrepo "TradeEngine/internal/domain/repository"
	"TradeEngine/pkg/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStateStoreWithMemoryCache(t *testing.T) {
	ctx := context.Background()
	store := NewRedisStateStore(cache.NewMemoryCache(), "BTCUSDT")

	_, err := store.LoadState(ctx)
	assert.ErrorIs(t, err, domrepo.ErrNotFound)

	require.NoError(t, store.SaveState(ctx, models.StateEntryPending, "ord-1", ""))
	got, err := store.LoadState(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StateEntryPending, got.State)
	assert.Equal(t, "ord-1", got.OrderID)
	assert.Empty(t, got.PositionID)

	err = store.SaveState(ctx, models.SystemState("PAUSED"), "", "")
	assert.ErrorIs(t, err, domrepo.ErrInvalidInput)
}

func TestRedisStateStoreLoadUnknownState(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache()
	require.NoError(t, c.Set(ctx, "engine:state:BTCUSDT", models.PersistedState{State: "PAUSED"}, 0))

	_, err := NewRedisStateStore(c, "BTCUSDT").LoadState(ctx)
	assert.ErrorIs(t, err, domrepo.ErrInvalidInput)
}

func TestRedisStateStoreAgainstRedis(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()
	c := cache.NewRedisCacheFromClient(client, "test")

	btc := NewRedisStateStore(c, "BTCUSDT")
	eth := NewRedisStateStore(c, "ETHUSDT")

	require.NoError(t, btc.SaveState(ctx, models.StateInPosition, "ord-7", "pos-7"))
	require.NoError(t, eth.SaveState(ctx, models.StateCooldown, "", ""))

	got, err := btc.LoadState(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StateInPosition, got.State)
	assert.Equal(t, "ord-7", got.OrderID)
	assert.Equal(t, "pos-7", got.PositionID)
	assert.False(t, got.Timestamp.IsZero())

	other, err := eth.LoadState(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StateCooldown, other.State)

	exists, err := client.Exists(ctx, "test:engine:state:BTCUSDT").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)
}
