package userstate

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	key       string
	value     string
	expiresAt time.Time
}

// MemoryStore is the explicitly degraded fallback backend used while the
// cache store is unavailable. It is correct only within one process, bounded
// in size, and evicts oldest-first once full.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List
	maxSize int
	now     func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore builds a bounded in-process store.
func NewMemoryStore(maxSize int) *MemoryStore {
	if maxSize <= 0 {
		maxSize = 50000
	}

	return &MemoryStore{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Get returns the stored state key or ErrNotFound.
func (m *MemoryStore) Get(ctx context.Context, botID string, userID int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.entries[stateKey(botID, userID)]
	if !ok {
		return "", ErrNotFound
	}

	entry := elem.Value.(*memoryEntry)
	if m.now().After(entry.expiresAt) {
		m.removeLocked(elem)
		return "", ErrNotFound
	}

	return entry.value, nil
}

// Set overwrites the state key, evicting the oldest entry when full.
func (m *MemoryStore) Set(ctx context.Context, botID string, userID int64, value string) error {
	key := stateKey(botID, userID)

	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.entries[key]; ok {
		entry := elem.Value.(*memoryEntry)
		entry.value = value
		entry.expiresAt = m.now().Add(TTL)
		m.order.MoveToBack(elem)
		return nil
	}

	if m.order.Len() >= m.maxSize {
		if oldest := m.order.Front(); oldest != nil {
			m.removeLocked(oldest)
		}
	}

	elem := m.order.PushBack(&memoryEntry{
		key:       key,
		value:     value,
		expiresAt: m.now().Add(TTL),
	})
	m.entries[key] = elem

	return nil
}

// Len reports the number of stored entries, exposed via /health.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

func (m *MemoryStore) removeLocked(elem *list.Element) {
	entry := elem.Value.(*memoryEntry)
	delete(m.entries, entry.key)
	m.order.Remove(elem)
}
