package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vividforge/backend/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Create(ctx context.Context, email, passwordHash, name string) (*models.Account, error) {
	acc := &models.Account{ID: uuid.New(), Email: email, Name: name}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO accounts (id, email, name, password_hash, available_cents, held_cents)
		VALUES ($1, $2, $3, $4, 0, 0)
		RETURNING created_at, updated_at
	`, acc.ID, email, name, passwordHash).Scan(&acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return acc, nil
}

// GetByEmail returns the account and its password hash, or (nil, "", nil)
// when the email is unknown.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.Account, string, error) {
	var acc models.Account
	var hash string
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, name, password_hash, available_cents, held_cents, created_at, updated_at
		FROM accounts WHERE email = $1
	`, email).Scan(&acc.ID, &acc.Email, &acc.Name, &hash, &acc.AvailableCents, &acc.HeldCents, &acc.CreatedAt, &acc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}
	return &acc, hash, nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var acc models.Account
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, name, available_cents, held_cents, created_at, updated_at
		FROM accounts WHERE id = $1
	`, id).Scan(&acc.ID, &acc.Email, &acc.Name, &acc.AvailableCents, &acc.HeldCents, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &acc, nil
}
