package models

import (
	"time"

	"github.com/google/uuid"
)

// Quota windows are fixed clock-aligned UTC buckets: daily starts at midnight,
// hourly at the top of the hour.
const (
	WindowDaily  = "daily"
	WindowHourly = "hourly"
)

// QuotaCounter tracks free-tier usage for one (user, resource, window) triple.
// Counters roll over lazily: a counter whose WindowStart predates the current
// bucket reads as zero.
type QuotaCounter struct {
	UserID      uuid.UUID `json:"user_id"`
	ResourceID  string    `json:"resource_id"`
	Window      string    `json:"window"`
	Count       int       `json:"count"`
	WindowStart time.Time `json:"window_start"`
}
