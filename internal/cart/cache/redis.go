package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/storefront/internal/cart"
)

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client:  client,
		baseTTL: 30 * 24 * time.Hour,
	}
}

// RedisStore keeps one snapshot per user. TTL is long: the snapshot stands
// in for the browser-side persistence the storefront used to rely on, so a
// cart should survive well past a single visit.
type RedisStore struct {
	client  *redis.Client
	baseTTL time.Duration
}

func (r *RedisStore) Get(ctx context.Context, userID string) (*cart.Cart, error) {
	data, err := r.client.Get(ctx, snapshotKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSnapshotMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var items []cart.LineItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("unmarshal cart snapshot failed: %w", err)
	}

	return cart.Restore(items), nil
}

func (r *RedisStore) Set(ctx context.Context, userID string, c *cart.Cart) error {
	data, err := json.Marshal(c.Snapshot())
	if err != nil {
		return fmt.Errorf("marshal cart snapshot failed: %w", err)
	}

	// Jitter spreads expirations of carts written in the same burst.
	ttl := r.baseTTL + time.Duration(rand.Intn(60))*time.Minute
	if err := r.client.Set(ctx, snapshotKey(userID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, snapshotKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func snapshotKey(userID string) string {
	return fmt.Sprintf("cart:snapshot:%s", userID)
}
