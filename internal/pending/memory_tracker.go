package pending

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryTracker is the in-process fallback Tracker used while the cache store
// is unavailable.
type MemoryTracker struct {
	mu      sync.Mutex
	records map[string]Record
	now     func() time.Time
}

var _ Tracker = (*MemoryTracker)(nil)

// NewMemoryTracker builds an in-process tracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{
		records: make(map[string]Record),
		now:     time.Now,
	}
}

func (t *MemoryTracker) Set(ctx context.Context, botID string, userID int64, rec Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = t.now().UTC()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[memKey(botID, userID)] = rec
	return nil
}

func (t *MemoryTracker) Get(ctx context.Context, botID string, userID int64) (*Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[memKey(botID, userID)]
	if !ok {
		return nil, ErrNotFound
	}

	if t.now().Sub(rec.CreatedAt) > TTL {
		delete(t.records, memKey(botID, userID))
		return nil, ErrNotFound
	}

	copied := rec
	return &copied, nil
}

func (t *MemoryTracker) Clear(ctx context.Context, botID string, userID int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, memKey(botID, userID))
	return nil
}

// Len reports the number of armed records, exposed via /health.
func (t *MemoryTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

func memKey(botID string, userID int64) string {
	return fmt.Sprintf("%s:%d", botID, userID)
}
