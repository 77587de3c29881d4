package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

var ErrUnauthenticated = errors.New("no authenticated user")

// Manager resolves identities against the live store first and the
// persisted snapshot second. A snapshot hit re-hydrates the live store.
type Manager struct {
	live     Store
	snapshot Store

	mu      sync.RWMutex
	tracked map[string]struct{} // session IDs watched by the role refresher
}

func NewManager(live, snapshot Store) *Manager {
	return &Manager{
		live:     live,
		snapshot: snapshot,
		tracked:  make(map[string]struct{}),
	}
}

// Resolve returns the session for the given ID, falling back to the
// persisted snapshot when the live store has no entry.
func (m *Manager) Resolve(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, ErrUnauthenticated
	}

	sess, err := m.live.Get(ctx, sessionID)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if m.snapshot == nil {
		return nil, ErrUnauthenticated
	}
	sess, err = m.snapshot.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, err
	}

	if err := m.live.Put(ctx, sess); err != nil {
		log.Printf("[Session] Failed to re-hydrate session %s: %v", sessionID, err)
	}
	return sess, nil
}

// ResolveUserID returns the user behind a session, or ErrUnauthenticated.
func (m *Manager) ResolveUserID(ctx context.Context, sessionID string) (string, error) {
	sess, err := m.Resolve(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if sess.UserID == "" {
		return "", ErrUnauthenticated
	}
	return sess.UserID, nil
}

// Save writes the session to both stores.
func (m *Manager) Save(ctx context.Context, sess *Session) error {
	if err := m.live.Put(ctx, sess); err != nil {
		return err
	}
	if m.snapshot != nil {
		if err := m.snapshot.Put(ctx, sess); err != nil {
			// The live store already has it; the snapshot is best-effort.
			log.Printf("[Session] Failed to persist session %s: %v", sess.ID, err)
		}
	}
	m.track(sess.ID)
	return nil
}

// Drop removes the session from both stores.
func (m *Manager) Drop(ctx context.Context, sessionID string) error {
	m.untrack(sessionID)
	if err := m.live.Delete(ctx, sessionID); err != nil {
		return err
	}
	if m.snapshot != nil {
		return m.snapshot.Delete(ctx, sessionID)
	}
	return nil
}

func (m *Manager) track(sessionID string) {
	m.mu.Lock()
	m.tracked[sessionID] = struct{}{}
	m.mu.Unlock()
}

func (m *Manager) untrack(sessionID string) {
	m.mu.Lock()
	delete(m.tracked, sessionID)
	m.mu.Unlock()
}

func (m *Manager) trackedIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.tracked))
	for id := range m.tracked {
		ids = append(ids, id)
	}
	return ids
}

// StartRoleRefresh periodically re-reads the access level of tracked
// sessions from the persisted snapshot, so a role change (say, a seller
// upgrade or a ban) is picked up without a new login. Best-effort: a missed
// tick or a stale read is acceptable.
func (m *Manager) StartRoleRefresh(ctx context.Context, interval time.Duration) {
	if m.snapshot == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.refreshRoles(ctx)
			}
		}
	}()
}

func (m *Manager) refreshRoles(ctx context.Context) {
	for _, id := range m.trackedIDs() {
		persisted, err := m.snapshot.Get(ctx, id)
		if err != nil {
			continue
		}
		live, err := m.live.Get(ctx, id)
		if err != nil || live.Role == persisted.Role {
			continue
		}
		live.Role = persisted.Role
		if err := m.live.Put(ctx, live); err != nil {
			log.Printf("[Session] Failed to refresh role for %s: %v", id, err)
		}
	}
}
