package quota

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore keeps quota counters in PostgreSQL. Reserve is a single upsert:
// the limit check, lazy rollover, and increment happen in one statement, so
// concurrent reservations against the same counter serialize on the row.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Reserve(ctx context.Context, userID uuid.UUID, resourceID, window string, windowStart time.Time, limit int) (int, bool, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		INSERT INTO quota_counters (user_id, resource_id, window_kind, count, window_start)
		VALUES ($1, $2, $3, 1, $4)
		ON CONFLICT (user_id, resource_id, window_kind) DO UPDATE
		SET count = CASE WHEN quota_counters.window_start < $4 THEN 1 ELSE quota_counters.count + 1 END,
		    window_start = GREATEST(quota_counters.window_start, $4)
		WHERE quota_counters.window_start < $4 OR quota_counters.count < $5
		RETURNING count
	`, userID, resourceID, window, windowStart, limit).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		// Condition failed: counter is at the limit in the current window.
		used, uerr := s.Usage(ctx, userID, resourceID, window, windowStart)
		if uerr != nil {
			return 0, false, uerr
		}
		return used, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return count, true, nil
}

func (s *PGStore) Release(ctx context.Context, userID uuid.UUID, resourceID, window string, windowStart time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE quota_counters
		SET count = GREATEST(count - 1, 0)
		WHERE user_id = $1 AND resource_id = $2 AND window_kind = $3 AND window_start = $4
	`, userID, resourceID, window, windowStart)
	return err
}

func (s *PGStore) ConsumeReleaseRef(ctx context.Context, ref string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO quota_releases (ref) VALUES ($1) ON CONFLICT (ref) DO NOTHING
	`, ref)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) Usage(ctx context.Context, userID uuid.UUID, resourceID, window string, windowStart time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT count FROM quota_counters
		WHERE user_id = $1 AND resource_id = $2 AND window_kind = $3 AND window_start = $4
	`, userID, resourceID, window, windowStart).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return count, err
}
