package provider

import (
	"context"
	"log/slog"
	"time"

	"github.com/vividforge/backend/internal/backoff"
)

// DefaultMaxRetries is how many times a retryable failure is retried before
// it is surfaced.
const DefaultMaxRetries = 3

// Caller wraps remote operations with classification and bounded retries.
// Retryable failures (rate limits, 5xx, timeouts, connection resets) sleep per
// the backoff strategy between attempts; fatal failures return immediately.
// The returned error is always a *Error.
type Caller struct {
	MaxRetries int
	Strategy   backoff.Strategy
	Logger     *slog.Logger

	// OnRetry, if set, is called before each retry sleep. Used for metrics.
	OnRetry func()

	sleep func(ctx context.Context, d time.Duration) error
}

func NewCaller(maxRetries int, strategy backoff.Strategy, logger *slog.Logger) *Caller {
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	if strategy == nil {
		strategy = backoff.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Caller{
		MaxRetries: maxRetries,
		Strategy:   strategy,
		Logger:     logger,
		sleep:      sleepCtx,
	}
}

// Do invokes op, retrying retryable failures up to MaxRetries times.
func (c *Caller) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var last *Error
	for attempt := 0; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		last = Classify(err)
		if !last.Retryable() || attempt >= c.MaxRetries {
			return last
		}
		if c.OnRetry != nil {
			c.OnRetry()
		}
		delay := c.Strategy.Delay(attempt + 1)
		c.Logger.Warn("provider call failed, retrying",
			"kind", string(last.Kind), "attempt", attempt+1, "delay", delay.String())
		if serr := c.sleep(ctx, delay); serr != nil {
			return &Error{Kind: KindTimeout, Message: serr.Error()}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
