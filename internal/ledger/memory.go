package ledger

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/vividforge/backend/internal/models"
)

// MemoryStore is an in-process Store. Suitable for tests and single-instance
// deployments; swap in PGStore when more than one instance shares the ledger.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]*models.Account
	entries  []*models.LedgerEntry
	byRef    map[string]*models.LedgerEntry
	resolved map[string]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[uuid.UUID]*models.Account),
		byRef:    make(map[string]*models.LedgerEntry),
		resolved: make(map[string]bool),
	}
}

// PutAccount inserts or replaces an account. Test and bootstrap helper.
func (m *MemoryStore) PutAccount(acc *models.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *acc
	m.accounts[acc.ID] = &cp
}

func (m *MemoryStore) GetAccount(_ context.Context, id uuid.UUID) (*models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc, ok := m.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *acc
	return &cp, nil
}

func (m *MemoryStore) GetEntryByRef(_ context.Context, ref string) (*models.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.byRef[ref]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) FindHold(_ context.Context, holdRef string) (*models.LedgerEntry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.byRef[holdRef]
	if !ok || e.Kind != models.EntryHold {
		return nil, false, nil
	}
	cp := *e
	return &cp, m.resolved[holdRef], nil
}

func (m *MemoryStore) Apply(_ context.Context, accountID uuid.UUID, availableDelta, heldDelta int64, entry *models.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byRef[entry.Ref]; ok {
		return ErrDuplicateRef
	}
	acc, ok := m.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	if acc.AvailableCents+availableDelta < 0 || acc.HeldCents+heldDelta < 0 {
		return ErrInsufficientFunds
	}
	acc.AvailableCents += availableDelta
	acc.HeldCents += heldDelta
	cp := *entry
	m.entries = append(m.entries, &cp)
	m.byRef[entry.Ref] = &cp
	if entry.HoldRef != "" && (entry.Kind == models.EntryCharge || entry.Kind == models.EntryRelease) {
		m.resolved[entry.HoldRef] = true
	}
	return nil
}

func (m *MemoryStore) ListEntries(_ context.Context, accountID uuid.UUID, limit int) ([]*models.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.LedgerEntry
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].AccountID != accountID {
			continue
		}
		cp := *m.entries[i]
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// AllEntries returns every entry in append order. Test helper for replaying
// the log against balances.
func (m *MemoryStore) AllEntries() []*models.LedgerEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.LedgerEntry, 0, len(m.entries))
	for _, e := range m.entries {
		cp := *e
		out = append(out, &cp)
	}
	return out
}
