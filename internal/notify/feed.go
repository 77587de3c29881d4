package notify

import (
	"context"
	"sync"
)

const feedCapacity = 20

// Feed keeps the most recent notifications per user for the storefront UI
// to poll. Old entries fall off; this is a toast feed, not an audit log.
type Feed struct {
	mu      sync.RWMutex
	entries map[string][]Notification
}

func NewFeed() *Feed {
	return &Feed{entries: make(map[string][]Notification)}
}

func (f *Feed) Success(ctx context.Context, userID, message string) {
	f.push(newNotification(userID, LevelSuccess, message))
}

func (f *Feed) Error(ctx context.Context, userID, message string) {
	f.push(newNotification(userID, LevelError, message))
}

func (f *Feed) push(n Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()

	list := append(f.entries[n.UserID], n)
	if len(list) > feedCapacity {
		list = list[len(list)-feedCapacity:]
	}
	f.entries[n.UserID] = list
}

// Recent returns the user's notifications, oldest first.
func (f *Feed) Recent(userID string) []Notification {
	f.mu.RLock()
	defer f.mu.RUnlock()

	list := f.entries[userID]
	out := make([]Notification, len(list))
	copy(out, list)
	return out
}

// Drain returns and clears the user's notifications, oldest first.
func (f *Feed) Drain(userID string) []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()

	list := f.entries[userID]
	delete(f.entries, userID)
	return list
}
