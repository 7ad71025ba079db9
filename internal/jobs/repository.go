package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vividforge/backend/internal/models"
)

// Repository persists jobs. Rows must survive restarts so the recovery sweep
// can reconcile anything left mid-flight.
type Repository interface {
	Create(ctx context.Context, j *models.Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	Update(ctx context.Context, j *models.Job) error
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.Job, error)
	// ListStale returns non-terminal jobs not updated since cutoff.
	ListStale(ctx context.Context, cutoff time.Time) ([]*models.Job, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

var _ Repository = (*PGRepository)(nil)

const jobColumns = `id, account_id, resource_id, params, price_cents, funding_mode, hold_ref, free_usage_ref,
	state, outcome, failure_reason, external_task_id, result, created_at, updated_at`

func (r *PGRepository) Create(ctx context.Context, j *models.Job) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO jobs (id, account_id, resource_id, params, price_cents, funding_mode, hold_ref, free_usage_ref, state, outcome, failure_reason, external_task_id, result)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at
	`, j.ID, j.AccountID, j.ResourceID, j.Params, j.PriceCents, j.FundingMode, j.HoldRef, j.FreeUsageRef,
		j.State, j.Outcome, j.FailureReason, j.ExternalTaskID, j.Result).Scan(&j.CreatedAt, &j.UpdatedAt)
}

func (r *PGRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j, err := scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	return j, err
}

func (r *PGRepository) Update(ctx context.Context, j *models.Job) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE jobs SET state = $2, outcome = $3, failure_reason = $4, external_task_id = $5, result = $6, updated_at = now()
		WHERE id = $1
	`, j.ID, j.State, j.Outcome, j.FailureReason, j.ExternalTaskID, j.Result)
	return err
}

func (r *PGRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (r *PGRepository) ListStale(ctx context.Context, cutoff time.Time) ([]*models.Job, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE state IN ('created', 'submitted', 'polling') AND updated_at < $1
		ORDER BY updated_at ASC
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

func collectJobs(rows pgx.Rows) ([]*models.Job, error) {
	var list []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, j)
	}
	return list, rows.Err()
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	if err := row.Scan(&j.ID, &j.AccountID, &j.ResourceID, &j.Params, &j.PriceCents, &j.FundingMode,
		&j.HoldRef, &j.FreeUsageRef, &j.State, &j.Outcome, &j.FailureReason, &j.ExternalTaskID,
		&j.Result, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	return &j, nil
}
