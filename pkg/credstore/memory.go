package credstore

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value   string
	attrs   Attributes
	expires time.Time
}

// MemoryStore keeps credentials in process memory. MaxAge is honoured.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), now: time.Now}
}

func (m *MemoryStore) Get(_ context.Context, name string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[name]
	if !ok || (!e.expires.IsZero() && !m.now().Before(e.expires)) {
		return "", false
	}
	return e.value, true
}

func (m *MemoryStore) Set(_ context.Context, name, value string, attrs Attributes) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := memoryEntry{value: value, attrs: attrs}
	if attrs.MaxAge > 0 {
		e.expires = m.now().Add(attrs.MaxAge)
	}
	m.entries[name] = e
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, name)
	return nil
}

// Attributes returns the attributes a credential was last written with.
func (m *MemoryStore) Attributes(name string) (Attributes, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[name]
	return e.attrs, ok
}
