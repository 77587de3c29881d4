package journal

import (
	"context"
	"sync"
)

// MemoryJournal keeps entries in memory; used in tests and when no
// database is configured.
type MemoryJournal struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

func (m *MemoryJournal) Record(ctx context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, entry)
	return nil
}

func (m *MemoryJournal) ListUnsettled(ctx context.Context) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Entry
	for _, e := range m.entries {
		if e.Status == StatusUnsettled {
			out = append(out, e)
		}
	}
	return out, nil
}

// All returns every recorded entry, oldest first.
func (m *MemoryJournal) All() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}
