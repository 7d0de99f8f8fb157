package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// BackoffStrategy computes the delay before a given retry attempt (1-based)
type BackoffStrategy interface {
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff implements exponential backoff with jitter
type ExponentialBackoff struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	// JitterFactor spreads each delay by +/- this fraction (0.0 to 1.0)
	JitterFactor float64
}

// DefaultExponentialBackoff returns a backoff with sensible defaults
func DefaultExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:    1 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// RateLimitBackoff is used for rate limit responses, which need far longer
// pauses than transient network failures.
func RateLimitBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:    30 * time.Second,
		MaxDelay:     5 * time.Minute,
		Multiplier:   1.5,
		JitterFactor: 0.3,
	}
}

func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	delay := float64(eb.BaseDelay) * math.Pow(eb.Multiplier, float64(attempt-1))
	if eb.MaxDelay > 0 && delay > float64(eb.MaxDelay) {
		delay = float64(eb.MaxDelay)
	}
	if eb.JitterFactor > 0 {
		jitter := delay * eb.JitterFactor
		delay += rand.Float64()*2*jitter - jitter
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// ConstantBackoff waits the same delay before every retry
type ConstantBackoff struct {
	Delay time.Duration
}

func (cb *ConstantBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return cb.Delay
}

// Wait waits for the specified duration or until context is cancelled
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
