// Package backoff provides retry delay strategies. Strategies are stateless
// and safe for concurrent use.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before retry attempt n (1-indexed).
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Constant always waits the same interval.
type Constant struct {
	Interval time.Duration
}

func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// Exponential waits Base^attempt seconds, capped at Cap.
type Exponential struct {
	Base float64
	Cap  time.Duration
}

func NewExponential(base float64, cap time.Duration) *Exponential {
	return &Exponential{Base: base, Cap: cap}
}

func (e *Exponential) Delay(attempt int) time.Duration {
	d := time.Duration(math.Pow(e.Base, float64(attempt)) * float64(time.Second))
	if e.Cap > 0 && d > e.Cap {
		return e.Cap
	}
	return d
}

// FullJitter wraps another strategy and returns a uniformly random delay in
// [0, base delay], spreading out simultaneous retries.
type FullJitter struct {
	Inner Strategy
}

func (f *FullJitter) Delay(attempt int) time.Duration {
	base := f.Inner.Delay(attempt)
	if base <= 0 {
		return 0
	}
	return time.Duration(rand.Float64() * float64(base)) //nolint:gosec // non-crypto rand is fine for jitter
}

// Default is the provider-call backoff: 1.5^attempt seconds capped at 30s.
func Default() Strategy {
	return NewExponential(1.5, 30*time.Second)
}
