package cache

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/storefront/internal/cart"
)

// setupTestRedis creates a miniredis server and returns a RedisStore instance
func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { client.Close() })

	return NewRedisStore(client), mr
}

func testCart(t *testing.T) *cart.Cart {
	t.Helper()
	c := cart.New()
	require.NoError(t, c.Add(cart.LineItem{ProductID: "prod-1", Name: "first", UnitPrice: 100, Quantity: 2}))
	require.NoError(t, c.Add(cart.LineItem{ProductID: "prod-2", Name: "second", UnitPrice: 49.98, Quantity: 1}))
	return c
}

func TestRedisStore_SetGet_RoundTrip(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()
	c := testCart(t)

	require.NoError(t, store.Set(ctx, "user-123", c))

	got, err := store.Get(ctx, "user-123")
	require.NoError(t, err)
	assert.Equal(t, c.Items(), got.Items())
	assert.InDelta(t, c.Total(), got.Total(), 1e-9)
}

func TestRedisStore_Get_Miss(t *testing.T) {
	store, _ := setupTestRedis(t)

	_, err := store.Get(context.Background(), "user-404")

	assert.ErrorIs(t, err, ErrSnapshotMiss)
}

func TestRedisStore_Get_CorruptSnapshot(t *testing.T) {
	store, mr := setupTestRedis(t)

	mr.Set("cart:snapshot:user-123", "not json")

	_, err := store.Get(context.Background(), "user-123")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSnapshotMiss)
}

func TestRedisStore_Delete(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "user-123", testCart(t)))
	require.NoError(t, store.Delete(ctx, "user-123"))

	_, err := store.Get(ctx, "user-123")
	assert.ErrorIs(t, err, ErrSnapshotMiss)
}

func TestRedisStore_Delete_MissingKey(t *testing.T) {
	store, _ := setupTestRedis(t)

	assert.NoError(t, store.Delete(context.Background(), "user-404"))
}

func TestRedisStore_Set_StoresLineItems(t *testing.T) {
	store, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "user-123", testCart(t)))

	raw, err := mr.Get("cart:snapshot:user-123")
	require.NoError(t, err)

	var items []cart.LineItem
	require.NoError(t, json.Unmarshal([]byte(raw), &items))
	assert.Len(t, items, 2)
	assert.Equal(t, "prod-1", items[0].ProductID)
}
