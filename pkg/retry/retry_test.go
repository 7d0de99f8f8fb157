package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igarchive/pkg/config"
	errs "igarchive/pkg/errors"
	"igarchive/pkg/logger"
)

func testConfig(attempts int) *Config {
	return &Config{
		MaxAttempts: attempts,
		Backoff:     &ConstantBackoff{Delay: time.Millisecond},
		Logger:      logger.NewNopLogger(),
	}
}

func TestExponentialBackoff(t *testing.T) {
	backoff := &ExponentialBackoff{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   1 * time.Second,
		Multiplier: 2.0,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 0},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, 1 * time.Second},
		{9, 1 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, backoff.NextDelay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestExponentialBackoffJitterStaysInRange(t *testing.T) {
	backoff := &ExponentialBackoff{
		BaseDelay:    time.Second,
		MaxDelay:     time.Minute,
		Multiplier:   2,
		JitterFactor: 0.25,
	}
	for i := 0; i < 100; i++ {
		d := backoff.NextDelay(1)
		assert.GreaterOrEqual(t, d, 750*time.Millisecond)
		assert.LessOrEqual(t, d, 1250*time.Millisecond)
	}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	var retried []int
	cfg := testConfig(5)
	cfg.OnRetry = func(attempt int, _ error, _ time.Duration) { retried = append(retried, attempt) }

	err := Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return &errs.Error{Type: errs.ErrorTypeNetwork, Message: "reset"}
		}
		return nil
	}, cfg)

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDoMaxAttemptsExceeded(t *testing.T) {
	calls := 0
	cause := &errs.Error{Type: errs.ErrorTypeServerError, Code: 503}

	err := Do(context.Background(), func(context.Context) error {
		calls++
		return cause
	}, testConfig(3))

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "max retry attempts (3) exceeded")
	assert.ErrorIs(t, err, cause)
}

func TestDoNonRetryableError(t *testing.T) {
	calls := 0
	authErr := errs.New(errs.ErrorTypeAuth, "session expired")

	err := Do(context.Background(), func(context.Context) error {
		calls++
		return authErr
	}, testConfig(5))

	assert.Same(t, authErr, err)
	assert.Equal(t, 1, calls)
}

func TestDoContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := testConfig(0)
	cfg.Backoff = &ConstantBackoff{Delay: time.Hour}

	calls := 0
	err := Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errors.New("flaky")
	}, cfg)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRateLimitUsesDedicatedBackoff(t *testing.T) {
	cfg := testConfig(2)
	cfg.RateLimitBackoff = &ConstantBackoff{Delay: 2 * time.Millisecond}

	var delays []time.Duration
	cfg.OnRetry = func(_ int, _ error, d time.Duration) { delays = append(delays, d) }

	_ = Do(context.Background(), func(context.Context) error {
		return &errs.Error{Type: errs.ErrorTypeRateLimit, Code: 429}
	}, cfg)

	assert.Equal(t, []time.Duration{2 * time.Millisecond}, delays)
}

func TestDefaultRetryIf(t *testing.T) {
	assert.False(t, DefaultRetryIf(nil))
	assert.False(t, DefaultRetryIf(context.Canceled))
	assert.False(t, DefaultRetryIf(errs.New(errs.ErrorTypeNotFound, "gone")))
	assert.True(t, DefaultRetryIf(errs.New(errs.ErrorTypeRateLimit, "slow down")))
	assert.True(t, DefaultRetryIf(errors.New("unclassified")))
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	got, err := DoWithResult(context.Background(), func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("once")
		}
		return "page-2", nil
	}, testConfig(3))

	require.NoError(t, err)
	assert.Equal(t, "page-2", got)
}

func TestWait(t *testing.T) {
	assert.NoError(t, Wait(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Wait(ctx, time.Hour), context.Canceled)
}

func TestFromConfig(t *testing.T) {
	cfg := config.DefaultConfig().Retry
	cfg.MaxAttempts = 5
	cfg.BaseDelay = 10 * time.Millisecond

	c := FromConfig(cfg, logger.NewNopLogger())
	assert.Equal(t, 5, c.MaxAttempts)
	backoff, ok := c.Backoff.(*ExponentialBackoff)
	require.True(t, ok)
	assert.Equal(t, 10*time.Millisecond, backoff.BaseDelay)
	assert.NotNil(t, c.RateLimitBackoff)

	cfg.Enabled = false
	assert.Equal(t, 1, FromConfig(cfg, nil).MaxAttempts)
}
