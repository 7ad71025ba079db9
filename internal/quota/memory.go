package quota

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type counterKey struct {
	userID     uuid.UUID
	resourceID string
	window     string
}

type counter struct {
	count       int
	windowStart time.Time
}

// MemoryStore is an in-process quota Store. One mutex guards all counters;
// the operations are short enough that finer striping has not been needed.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[counterKey]*counter
	releases map[string]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters: make(map[counterKey]*counter),
		releases: make(map[string]bool),
	}
}

func (m *MemoryStore) Reserve(_ context.Context, userID uuid.UUID, resourceID, window string, windowStart time.Time, limit int) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := counterKey{userID, resourceID, window}
	c, ok := m.counters[key]
	if !ok {
		c = &counter{windowStart: windowStart}
		m.counters[key] = c
	}
	// Lazy rollover, forward only.
	if c.windowStart.Before(windowStart) {
		c.windowStart = windowStart
		c.count = 0
	}
	if c.count >= limit {
		return c.count, false, nil
	}
	c.count++
	return c.count, true, nil
}

func (m *MemoryStore) Release(_ context.Context, userID uuid.UUID, resourceID, window string, windowStart time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counters[counterKey{userID, resourceID, window}]
	if !ok || !c.windowStart.Equal(windowStart) || c.count == 0 {
		// Counter rolled over (or never existed): nothing to return.
		return nil
	}
	c.count--
	return nil
}

func (m *MemoryStore) ConsumeReleaseRef(_ context.Context, ref string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.releases[ref] {
		return false, nil
	}
	m.releases[ref] = true
	return true, nil
}

func (m *MemoryStore) Usage(_ context.Context, userID uuid.UUID, resourceID, window string, windowStart time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counters[counterKey{userID, resourceID, window}]
	if !ok || c.windowStart.Before(windowStart) {
		return 0, nil
	}
	return c.count, nil
}
