// Package retry runs remote operations again after transient failures.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"igarchive/pkg/config"
	errs "igarchive/pkg/errors"
	"igarchive/pkg/logger"
)

// Operation is a function that performs an operation that might need retrying
type Operation func(ctx context.Context) error

// Config holds retry configuration
type Config struct {
	// MaxAttempts is the maximum number of attempts (0 means unlimited)
	MaxAttempts int
	Backoff     BackoffStrategy
	// RateLimitBackoff, when set, replaces Backoff for rate limit errors
	RateLimitBackoff BackoffStrategy
	RetryIf          func(error) bool
	OnRetry          func(attempt int, err error, delay time.Duration)
	Logger           logger.Logger
}

// DefaultConfig returns a retry configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:      3,
		Backoff:          DefaultExponentialBackoff(),
		RateLimitBackoff: RateLimitBackoff(),
		RetryIf:          DefaultRetryIf,
		Logger:           logger.GetLogger(),
	}
}

// FromConfig builds a retry configuration from the retry section. A
// disabled section yields a single attempt.
func FromConfig(cfg config.RetryConfig, log logger.Logger) *Config {
	c := DefaultConfig()
	if log != nil {
		c.Logger = log
	}
	if !cfg.Enabled {
		c.MaxAttempts = 1
		return c
	}
	if cfg.MaxAttempts > 0 {
		c.MaxAttempts = cfg.MaxAttempts
	}
	backoff := DefaultExponentialBackoff()
	if cfg.BaseDelay > 0 {
		backoff.BaseDelay = cfg.BaseDelay
	}
	if cfg.MaxDelay > 0 {
		backoff.MaxDelay = cfg.MaxDelay
	}
	if cfg.Multiplier >= 1 {
		backoff.Multiplier = cfg.Multiplier
	}
	if cfg.JitterFactor >= 0 && cfg.JitterFactor <= 1 {
		backoff.JitterFactor = cfg.JitterFactor
	}
	c.Backoff = backoff
	return c
}

// DefaultRetryIf retries classified errors of a retryable type. Context
// errors are never retried and unclassified errors always are.
func DefaultRetryIf(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *errs.Error
	if errors.As(err, &apiErr) {
		return errs.IsRetryable(apiErr.Type)
	}
	return true
}

// Do executes op until it succeeds, returns a non-retryable error, the
// attempts run out or ctx is done.
func Do(ctx context.Context, op Operation, cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	retryIf := cfg.RetryIf
	if retryIf == nil {
		retryIf = DefaultRetryIf
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		if cfg.MaxAttempts > 0 && attempt > cfg.MaxAttempts {
			log.ErrorWithFields("max retry attempts exceeded", map[string]interface{}{
				"attempts":   cfg.MaxAttempts,
				"last_error": lastErr.Error(),
			})
			return fmt.Errorf("max retry attempts (%d) exceeded: %w", cfg.MaxAttempts, lastErr)
		}

		err := op(ctx)
		if err == nil {
			if attempt > 1 {
				log.DebugWithFields("operation succeeded after retry", map[string]interface{}{
					"attempt": attempt,
				})
			}
			return nil
		}
		lastErr = err

		if !retryIf(err) {
			return err
		}

		delay := cfg.delayFor(attempt, err)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, delay)
		}
		log.WarnWithFields("retrying operation", map[string]interface{}{
			"attempt":      attempt,
			"error":        err.Error(),
			"delay_ms":     delay.Milliseconds(),
			"max_attempts": cfg.MaxAttempts,
		})

		if werr := Wait(ctx, delay); werr != nil {
			return fmt.Errorf("retry cancelled: %w", werr)
		}
	}
}

func (c *Config) delayFor(attempt int, err error) time.Duration {
	if c.RateLimitBackoff != nil && errs.Is(err, errs.ErrorTypeRateLimit) {
		return c.RateLimitBackoff.NextDelay(attempt)
	}
	if c.Backoff == nil {
		return 0
	}
	return c.Backoff.NextDelay(attempt)
}

// DoWithResult executes an operation that returns a result with retry logic
func DoWithResult[T any](ctx context.Context, op func(ctx context.Context) (T, error), cfg *Config) (T, error) {
	var result T
	err := Do(ctx, func(ctx context.Context) error {
		var opErr error
		result, opErr = op(ctx)
		return opErr
	}, cfg)
	return result, err
}
