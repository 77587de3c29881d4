package cache

import (
	"context"
	"errors"

	"github.com/example/storefront/internal/cart"
)

var ErrSnapshotMiss = errors.New("no cart snapshot")

// SnapshotStore persists cart snapshots across sessions. This is the
// serialize/deserialize boundary for the cart: the aggregate itself stays
// in memory and is only written out here on mutation.
type SnapshotStore interface {
	Get(ctx context.Context, userID string) (*cart.Cart, error)
	Set(ctx context.Context, userID string, c *cart.Cart) error
	Delete(ctx context.Context, userID string) error
}
