package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vividforge/backend/internal/models"
)

// ErrKeyNotFound is returned when a key ID does not exist or belongs to a
// different account.
var ErrKeyNotFound = errors.New("api key not found")

type APIKeyRepo struct {
	pool *pgxpool.Pool
}

func NewAPIKeyRepo(pool *pgxpool.Pool) *APIKeyRepo {
	return &APIKeyRepo{pool: pool}
}

// FindAccountByKeyHash resolves an active API key hash to its account.
func (r *APIKeyRepo) FindAccountByKeyHash(ctx context.Context, keyHash string) (*models.Account, error) {
	var acc models.Account
	err := r.pool.QueryRow(ctx, `
		SELECT a.id, a.email, a.name, a.available_cents, a.held_cents, a.created_at, a.updated_at
		FROM api_keys k
		JOIN accounts a ON a.id = k.account_id
		WHERE k.key_hash = $1 AND k.is_active
	`, keyHash).Scan(&acc.ID, &acc.Email, &acc.Name, &acc.AvailableCents, &acc.HeldCents, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

func (r *APIKeyRepo) Create(ctx context.Context, k *models.APIKey) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO api_keys (id, account_id, key_hash, key_prefix, is_active)
		VALUES ($1, $2, $3, $4, true)
	`, k.ID, k.AccountID, k.KeyHash, k.KeyPrefix)
	return err
}

// Deactivate revokes a key. Scoped to the owning account so one user cannot
// revoke another user's keys by guessing IDs.
func (r *APIKeyRepo) Deactivate(ctx context.Context, id, accountID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE api_keys SET is_active = false WHERE id = $1 AND account_id = $2
	`, id, accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrKeyNotFound
	}
	return nil
}
