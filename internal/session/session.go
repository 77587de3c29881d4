package session

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("session not found")

// Session is the authenticated identity attached to a storefront visit.
// Token is the signed bearer token forwarded to the purchase backend.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
}

// Store holds live sessions. Implementations: in-memory for the serving
// process, Redis for the persisted snapshot that survives restarts.
type Store interface {
	Get(ctx context.Context, sessionID string) (*Session, error)
	Put(ctx context.Context, sess *Session) error
	Delete(ctx context.Context, sessionID string) error
}
