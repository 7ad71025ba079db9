package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vividforge/backend/internal/models"
)

// PGStore persists accounts and ledger entries in PostgreSQL. Balance deltas
// are guarded with conditional UPDATEs and entry refs with a unique index, so
// the store stays consistent even when multiple instances share it.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var acc models.Account
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, name, available_cents, held_cents, created_at, updated_at
		FROM accounts WHERE id = $1
	`, id).Scan(&acc.ID, &acc.Email, &acc.Name, &acc.AvailableCents, &acc.HeldCents, &acc.CreatedAt, &acc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

func (s *PGStore) GetEntryByRef(ctx context.Context, ref string) (*models.LedgerEntry, error) {
	e, err := scanEntry(s.pool.QueryRow(ctx, `
		SELECT id, account_id, kind, amount_cents, ref, hold_ref, metadata, created_at
		FROM ledger_entries WHERE ref = $1
	`, ref))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (s *PGStore) FindHold(ctx context.Context, holdRef string) (*models.LedgerEntry, bool, error) {
	hold, err := scanEntry(s.pool.QueryRow(ctx, `
		SELECT id, account_id, kind, amount_cents, ref, hold_ref, metadata, created_at
		FROM ledger_entries WHERE ref = $1 AND kind = 'hold'
	`, holdRef))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var resolved bool
	err = s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM ledger_entries WHERE hold_ref = $1 AND kind IN ('charge', 'release')
		)
	`, holdRef).Scan(&resolved)
	if err != nil {
		return nil, false, err
	}
	return hold, resolved, nil
}

func (s *PGStore) Apply(ctx context.Context, accountID uuid.UUID, availableDelta, heldDelta int64, entry *models.LedgerEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx, `
		UPDATE accounts
		SET available_cents = available_cents + $1, held_cents = held_cents + $2, updated_at = now()
		WHERE id = $3 AND available_cents + $1 >= 0 AND held_cents + $2 >= 0
	`, availableDelta, heldDelta, accountID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		// Either the account is gone or another instance drained the balance first.
		if availableDelta < 0 {
			return ErrInsufficientFunds
		}
		return ErrAccountNotFound
	}

	var meta []byte
	if entry.Metadata != nil {
		if meta, err = json.Marshal(entry.Metadata); err != nil {
			return fmt.Errorf("marshal entry metadata: %w", err)
		}
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO ledger_entries (id, account_id, kind, amount_cents, ref, hold_ref, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)
	`, entry.ID, entry.AccountID, entry.Kind, entry.AmountCents, entry.Ref, entry.HoldRef, meta, entry.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateRef
		}
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) ListEntries(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, account_id, kind, amount_cents, ref, hold_ref, metadata, created_at
		FROM ledger_entries WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

func scanEntry(row pgx.Row) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	var holdRef *string
	var meta []byte
	if err := row.Scan(&e.ID, &e.AccountID, &e.Kind, &e.AmountCents, &e.Ref, &holdRef, &meta, &e.CreatedAt); err != nil {
		return nil, err
	}
	if holdRef != nil {
		e.HoldRef = *holdRef
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal entry metadata: %w", err)
		}
	}
	return &e, nil
}
