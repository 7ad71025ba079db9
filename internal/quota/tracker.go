package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vividforge/backend/internal/models"
)

// Rejection reasons reported in a Decision.
const (
	ReasonDailyLimit  = "daily_limit_exceeded"
	ReasonHourlyLimit = "hourly_limit_exceeded"
)

// Limits holds the free-tier caps for one resource. A zero (or negative)
// value disables that window.
type Limits struct {
	Daily  int
	Hourly int
}

// LimitsFunc resolves the limits for a resource.
type LimitsFunc func(resourceID string) Limits

// Decision is the outcome of a CheckAndReserve call.
type Decision struct {
	Allowed     bool   `json:"allowed"`
	Reason      string `json:"reason,omitempty"`
	DailyUsed   int    `json:"daily_used"`
	DailyLimit  int    `json:"daily_limit"`
	HourlyUsed  int    `json:"hourly_used"`
	HourlyLimit int    `json:"hourly_limit"`
}

// Store provides atomic counter operations. Reserve must evaluate the limit
// and increment in a single step for the bucket starting at windowStart,
// returning the post-call count and whether the increment happened. Release
// must only decrement a counter still in the same bucket. ConsumeReleaseRef
// must record ref exactly once and report whether this call was the first.
type Store interface {
	Reserve(ctx context.Context, userID uuid.UUID, resourceID, window string, windowStart time.Time, limit int) (count int, ok bool, err error)
	Release(ctx context.Context, userID uuid.UUID, resourceID, window string, windowStart time.Time) error
	ConsumeReleaseRef(ctx context.Context, ref string) (bool, error)
	Usage(ctx context.Context, userID uuid.UUID, resourceID, window string, windowStart time.Time) (int, error)
}

// Tracker enforces per-user-per-resource free-tier limits over fixed
// clock-aligned UTC windows. Check and increment are never separated, so N
// concurrent reservations against limit L admit at most L.
type Tracker struct {
	store  Store
	limits LimitsFunc

	now func() time.Time
}

func NewTracker(store Store, limits LimitsFunc) *Tracker {
	return &Tracker{store: store, limits: limits, now: time.Now}
}

// CheckAndReserve reserves one free slot if both windows are under their
// limits. A rejection mutates nothing: the daily increment is rolled back if
// the hourly window rejects.
func (t *Tracker) CheckAndReserve(ctx context.Context, userID uuid.UUID, resourceID string) (Decision, error) {
	lim := t.limits(resourceID)
	dayStart, hourStart := t.windowStarts()

	dec := Decision{DailyLimit: lim.Daily, HourlyLimit: lim.Hourly}

	if lim.Daily > 0 {
		count, ok, err := t.store.Reserve(ctx, userID, resourceID, models.WindowDaily, dayStart, lim.Daily)
		if err != nil {
			return dec, fmt.Errorf("reserve daily slot: %w", err)
		}
		dec.DailyUsed = count
		if !ok {
			dec.Reason = ReasonDailyLimit
			return dec, nil
		}
	}
	if lim.Hourly > 0 {
		count, ok, err := t.store.Reserve(ctx, userID, resourceID, models.WindowHourly, hourStart, lim.Hourly)
		if err != nil {
			return dec, fmt.Errorf("reserve hourly slot: %w", err)
		}
		dec.HourlyUsed = count
		if !ok {
			if lim.Daily > 0 {
				if rerr := t.store.Release(ctx, userID, resourceID, models.WindowDaily, dayStart); rerr != nil {
					return dec, fmt.Errorf("roll back daily slot: %w", rerr)
				}
				dec.DailyUsed--
			}
			dec.Reason = ReasonHourlyLimit
			return dec, nil
		}
	}
	dec.Allowed = true
	return dec, nil
}

// Release returns a previously reserved slot, e.g. when the attempt failed
// for a reason not attributable to the user. Releasing after a window
// rollover is a no-op, so usage is never double-counted across a boundary.
// A non-empty ref makes the release idempotent: replaying the same ref
// returns the slot only once, so a redelivered settlement cannot free
// another reservation.
func (t *Tracker) Release(ctx context.Context, userID uuid.UUID, resourceID, ref string) error {
	if ref != "" {
		first, err := t.store.ConsumeReleaseRef(ctx, ref)
		if err != nil {
			return fmt.Errorf("consume release ref: %w", err)
		}
		if !first {
			return nil
		}
	}
	lim := t.limits(resourceID)
	dayStart, hourStart := t.windowStarts()

	if lim.Daily > 0 {
		if err := t.store.Release(ctx, userID, resourceID, models.WindowDaily, dayStart); err != nil {
			return fmt.Errorf("release daily slot: %w", err)
		}
	}
	if lim.Hourly > 0 {
		if err := t.store.Release(ctx, userID, resourceID, models.WindowHourly, hourStart); err != nil {
			return fmt.Errorf("release hourly slot: %w", err)
		}
	}
	return nil
}

// Peek reports current usage without reserving anything.
func (t *Tracker) Peek(ctx context.Context, userID uuid.UUID, resourceID string) (Decision, error) {
	lim := t.limits(resourceID)
	dayStart, hourStart := t.windowStarts()

	dec := Decision{DailyLimit: lim.Daily, HourlyLimit: lim.Hourly}
	var err error
	if lim.Daily > 0 {
		if dec.DailyUsed, err = t.store.Usage(ctx, userID, resourceID, models.WindowDaily, dayStart); err != nil {
			return dec, err
		}
	}
	if lim.Hourly > 0 {
		if dec.HourlyUsed, err = t.store.Usage(ctx, userID, resourceID, models.WindowHourly, hourStart); err != nil {
			return dec, err
		}
	}
	dec.Allowed = (lim.Daily <= 0 || dec.DailyUsed < lim.Daily) && (lim.Hourly <= 0 || dec.HourlyUsed < lim.Hourly)
	return dec, nil
}

// windowStarts returns the current UTC day and hour bucket starts.
func (t *Tracker) windowStarts() (day, hour time.Time) {
	now := t.now().UTC()
	day = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	hour = now.Truncate(time.Hour)
	return day, hour
}
