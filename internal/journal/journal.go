package journal

import (
	"context"
	"time"
)

// StatusUnsettled marks a purchase created on the backend whose charge
// never landed.
const StatusUnsettled = "purchase_created_unsettled"

// Entry is one recorded payment attempt outcome. Entries with status
// "purchase_created_unsettled" are the reconciliation queue: a purchase
// exists on the backend but its charge never landed, and nothing on the
// client side rolls that back.
type Entry struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Method     string    `json:"method"`
	Status     string    `json:"status"`
	PurchaseID string    `json:"purchase_id,omitempty"`
	Amount     float64   `json:"amount"`
	LastError  string    `json:"last_error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Journal records attempt outcomes for operators. Writes are best-effort
// from the checkout flow's point of view; reads back the unsettled queue.
type Journal interface {
	Record(ctx context.Context, entry Entry) error
	ListUnsettled(ctx context.Context) ([]Entry, error)
}
