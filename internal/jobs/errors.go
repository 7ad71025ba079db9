package jobs

import (
	"errors"
	"fmt"

	"github.com/vividforge/backend/internal/quota"
)

var (
	// ErrDuplicateInFlight is returned when a fingerprint matched but no job
	// could be resolved for it yet.
	ErrDuplicateInFlight = errors.New("identical submission already in flight")
	// ErrTooManyActive is returned when the user's concurrent-job cap is reached.
	ErrTooManyActive = errors.New("too many active jobs")
	// ErrJobNotFound is returned for unknown job IDs.
	ErrJobNotFound = errors.New("job not found")
	// ErrInvalidFunding is returned for an unknown funding mode.
	ErrInvalidFunding = errors.New("invalid funding mode")
)

// QuotaError is returned when a free submission is rejected; it carries the
// decision so the caller can render remaining limits.
type QuotaError struct {
	Decision quota.Decision
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("quota exceeded: %s", e.Decision.Reason)
}
