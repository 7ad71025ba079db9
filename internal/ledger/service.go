package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vividforge/backend/internal/models"
)

// ErrInsufficientFunds is returned when the account balance is too low for the requested hold.
var ErrInsufficientFunds = errors.New("insufficient funds")

var (
	// ErrAccountNotFound is returned when the account does not exist.
	ErrAccountNotFound = errors.New("account not found")
	// ErrHoldNotFound is returned by Charge/Refund when no hold entry exists for the given hold ref.
	ErrHoldNotFound = errors.New("hold not found")
	// ErrHoldResolved is returned when the hold was already consumed by a charge or release.
	ErrHoldResolved = errors.New("hold already resolved")
	// ErrHoldMismatch is returned when the settlement amount differs from the held amount.
	ErrHoldMismatch = errors.New("amount does not match hold")
	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
)

// Store is the persistence interface the ledger mutates through. Apply must
// write the balance deltas and the entry as one atomic unit, and must reject
// a duplicate entry ref with ErrDuplicateRef.
type Store interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)
	GetEntryByRef(ctx context.Context, ref string) (*models.LedgerEntry, error)
	// FindHold returns the hold entry for holdRef (nil if none) and whether a
	// charge or release has already been written against it.
	FindHold(ctx context.Context, holdRef string) (*models.LedgerEntry, bool, error)
	Apply(ctx context.Context, accountID uuid.UUID, availableDelta, heldDelta int64, entry *models.LedgerEntry) error
	ListEntries(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.LedgerEntry, error)
}

// ErrDuplicateRef is returned by Store.Apply when the entry ref already exists.
// The service treats it as idempotent success.
var ErrDuplicateRef = errors.New("duplicate entry ref")

// Service owns account balances. All mutations on one account are serialized
// through a per-account mutex; the Postgres store additionally guards with
// conditional updates so a shared database stays consistent across instances.
type Service struct {
	store Store

	// EntryHook, if set, is invoked with the kind of each appended entry.
	// Used for metrics; failures are not possible and ordering is not guaranteed.
	EntryHook func(kind string)

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func NewService(store Store) *Service {
	return &Service{store: store, locks: make(map[uuid.UUID]*sync.Mutex)}
}

func (s *Service) lock(id uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// Hold atomically checks available >= amount and moves amount from available
// to held under ref. A repeated ref is a no-op success; a shortfall mutates
// nothing and returns ErrInsufficientFunds.
func (s *Service) Hold(ctx context.Context, accountID uuid.UUID, amount int64, ref string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	l := s.lock(accountID)
	l.Lock()
	defer l.Unlock()

	if dup, err := s.seen(ctx, ref); err != nil || dup {
		return err
	}
	acc, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if acc.AvailableCents < amount {
		return ErrInsufficientFunds
	}
	return s.apply(ctx, accountID, -amount, amount, &models.LedgerEntry{
		ID:          uuid.New(),
		AccountID:   accountID,
		Kind:        models.EntryHold,
		AmountCents: amount,
		Ref:         ref,
	})
}

// Charge consumes a previously placed hold. Idempotent on chargeRef. The hold
// must exist, be unresolved, and match the amount; anything else is fatal and
// mutates nothing.
func (s *Service) Charge(ctx context.Context, accountID uuid.UUID, amount int64, chargeRef, holdRef string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	l := s.lock(accountID)
	l.Lock()
	defer l.Unlock()

	if dup, err := s.seen(ctx, chargeRef); err != nil || dup {
		return err
	}
	if err := s.requireOpenHold(ctx, holdRef, amount); err != nil {
		return err
	}
	return s.apply(ctx, accountID, 0, -amount, &models.LedgerEntry{
		ID:          uuid.New(),
		AccountID:   accountID,
		Kind:        models.EntryCharge,
		AmountCents: amount,
		Ref:         chargeRef,
		HoldRef:     holdRef,
	})
}

// Refund compensates a reservation. With a holdRef it releases the hold back
// to available (entry kind "release"); with an empty holdRef it credits
// available directly (entry kind "refund", used to reverse a prior charge).
// Idempotent on refundRef.
func (s *Service) Refund(ctx context.Context, accountID uuid.UUID, amount int64, refundRef, holdRef string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	l := s.lock(accountID)
	l.Lock()
	defer l.Unlock()

	if dup, err := s.seen(ctx, refundRef); err != nil || dup {
		return err
	}
	if holdRef == "" {
		return s.apply(ctx, accountID, amount, 0, &models.LedgerEntry{
			ID:          uuid.New(),
			AccountID:   accountID,
			Kind:        models.EntryRefund,
			AmountCents: amount,
			Ref:         refundRef,
		})
	}
	if err := s.requireOpenHold(ctx, holdRef, amount); err != nil {
		return err
	}
	return s.apply(ctx, accountID, amount, -amount, &models.LedgerEntry{
		ID:          uuid.New(),
		AccountID:   accountID,
		Kind:        models.EntryRelease,
		AmountCents: amount,
		Ref:         refundRef,
		HoldRef:     holdRef,
	})
}

// Topup credits the available balance. Idempotent on ref.
func (s *Service) Topup(ctx context.Context, accountID uuid.UUID, amount int64, ref string, meta map[string]string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	l := s.lock(accountID)
	l.Lock()
	defer l.Unlock()

	if dup, err := s.seen(ctx, ref); err != nil || dup {
		return err
	}
	if _, err := s.store.GetAccount(ctx, accountID); err != nil {
		return err
	}
	return s.apply(ctx, accountID, amount, 0, &models.LedgerEntry{
		ID:          uuid.New(),
		AccountID:   accountID,
		Kind:        models.EntryTopup,
		AmountCents: amount,
		Ref:         ref,
		Metadata:    meta,
	})
}

// Balance returns the current available and held amounts.
func (s *Service) Balance(ctx context.Context, accountID uuid.UUID) (available, held int64, err error) {
	acc, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return 0, 0, err
	}
	return acc.AvailableCents, acc.HeldCents, nil
}

// Entries returns the most recent ledger entries for the account.
func (s *Service) Entries(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.LedgerEntry, error) {
	return s.store.ListEntries(ctx, accountID, limit)
}

// seen reports whether ref has already been applied.
func (s *Service) seen(ctx context.Context, ref string) (bool, error) {
	e, err := s.store.GetEntryByRef(ctx, ref)
	if err != nil {
		return false, fmt.Errorf("lookup entry ref: %w", err)
	}
	return e != nil, nil
}

func (s *Service) requireOpenHold(ctx context.Context, holdRef string, amount int64) error {
	hold, resolved, err := s.store.FindHold(ctx, holdRef)
	if err != nil {
		return fmt.Errorf("lookup hold: %w", err)
	}
	if hold == nil {
		return ErrHoldNotFound
	}
	if resolved {
		return ErrHoldResolved
	}
	if hold.AmountCents != amount {
		return ErrHoldMismatch
	}
	return nil
}

func (s *Service) apply(ctx context.Context, accountID uuid.UUID, availableDelta, heldDelta int64, entry *models.LedgerEntry) error {
	entry.CreatedAt = time.Now().UTC()
	if err := s.store.Apply(ctx, accountID, availableDelta, heldDelta, entry); err != nil {
		if errors.Is(err, ErrDuplicateRef) {
			// Another instance applied this ref first; the operation already took effect.
			return nil
		}
		return err
	}
	if s.EntryHook != nil {
		s.EntryHook(entry.Kind)
	}
	return nil
}
