package guard

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type fpRecord struct {
	fp      Fingerprint
	expires time.Time
}

type slotRecord struct {
	count   int
	expires time.Time
}

// MemoryStore keeps fingerprints and slots in process memory with lazy expiry.
type MemoryStore struct {
	mu           sync.Mutex
	fingerprints map[string]*fpRecord
	slots        map[uuid.UUID]*slotRecord
	released     map[string]time.Time

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		fingerprints: make(map[string]*fpRecord),
		slots:        make(map[uuid.UUID]*slotRecord),
		released:     make(map[string]time.Time),
		now:          time.Now,
	}
}

func (m *MemoryStore) PutIfAbsent(_ context.Context, key string, fp *Fingerprint, ttl time.Duration) (*Fingerprint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.fingerprints[key]; ok && m.now().Before(rec.expires) {
		cp := rec.fp
		return &cp, nil
	}
	m.fingerprints[key] = &fpRecord{fp: *fp, expires: m.now().Add(ttl)}
	return nil, nil
}

func (m *MemoryStore) GetFingerprint(_ context.Context, key string) (*Fingerprint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.fingerprints[key]
	if !ok || !m.now().Before(rec.expires) {
		delete(m.fingerprints, key)
		return nil, nil
	}
	cp := rec.fp
	return &cp, nil
}

func (m *MemoryStore) SetFingerprint(_ context.Context, key string, fp *Fingerprint, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fingerprints[key] = &fpRecord{fp: *fp, expires: m.now().Add(ttl)}
	return nil
}

func (m *MemoryStore) DeleteFingerprint(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.fingerprints, key)
	return nil
}

func (m *MemoryStore) AcquireSlot(_ context.Context, userID uuid.UUID, max int, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.slots[userID]
	if !ok || !m.now().Before(rec.expires) {
		rec = &slotRecord{}
		m.slots[userID] = rec
	}
	if rec.count >= max {
		return false, nil
	}
	rec.count++
	rec.expires = m.now().Add(ttl)
	return true, nil
}

func (m *MemoryStore) ReleaseSlot(_ context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.slots[userID]
	if !ok {
		return nil
	}
	rec.count--
	if rec.count <= 0 {
		delete(m.slots, userID)
	}
	return nil
}

func (m *MemoryStore) ReleaseSlotOnce(_ context.Context, userID uuid.UUID, ref string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if exp, ok := m.released[ref]; ok && m.now().Before(exp) {
		return nil
	}
	m.released[ref] = m.now().Add(ttl)
	rec, ok := m.slots[userID]
	if !ok {
		return nil
	}
	rec.count--
	if rec.count <= 0 {
		delete(m.slots, userID)
	}
	return nil
}
