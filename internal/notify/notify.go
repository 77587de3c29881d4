package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notification is one user-visible message, the toast of the storefront.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

func newNotification(userID string, level Level, message string) Notification {
	return Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Level:     level,
		Message:   message,
		CreatedAt: time.Now(),
	}
}

// Notifier surfaces checkout outcomes to the user.
type Notifier interface {
	Success(ctx context.Context, userID, message string)
	Error(ctx context.Context, userID, message string)
}

// Multi fans a notification out to every sink.
type Multi []Notifier

func (m Multi) Success(ctx context.Context, userID, message string) {
	for _, n := range m {
		n.Success(ctx, userID, message)
	}
}

func (m Multi) Error(ctx context.Context, userID, message string) {
	for _, n := range m {
		n.Error(ctx, userID, message)
	}
}
