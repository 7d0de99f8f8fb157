// Package ratelimit paces outgoing requests to Instagram and incoming
// requests to the archive API.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter defines the interface for rate limiting
type Limiter interface {
	// Allow reports whether a request may proceed right now, consuming a token if so
	Allow() bool
	// Wait blocks until a request may proceed or ctx is done
	Wait(ctx context.Context) error
	// Reset refills the limiter to its full burst
	Reset()
}

// TokenBucket is a Limiter backed by golang.org/x/time/rate
type TokenBucket struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	limiter *rate.Limiter
}

// NewTokenBucket allows burst requests at once, refilled at r per second
func NewTokenBucket(r rate.Limit, burst int) *TokenBucket {
	if burst < 1 {
		burst = 1
	}
	return &TokenBucket{limit: r, burst: burst, limiter: rate.NewLimiter(r, burst)}
}

// NewPerMinute builds a TokenBucket from a requests-per-minute budget
func NewPerMinute(requestsPerMinute, burst int) *TokenBucket {
	if requestsPerMinute <= 0 {
		return Unlimited()
	}
	return NewTokenBucket(rate.Limit(float64(requestsPerMinute)/60.0), burst)
}

// Unlimited never blocks. Tests and local-only commands use it.
func Unlimited() *TokenBucket {
	return NewTokenBucket(rate.Inf, 1)
}

func (tb *TokenBucket) current() *rate.Limiter {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.limiter
}

func (tb *TokenBucket) Allow() bool {
	return tb.current().Allow()
}

func (tb *TokenBucket) Wait(ctx context.Context) error {
	return tb.current().Wait(ctx)
}

func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.limiter = rate.NewLimiter(tb.limit, tb.burst)
}

// RetryAfter estimates how long a caller should back off before a token
// becomes available again.
func (tb *TokenBucket) RetryAfter() time.Duration {
	if tb.limit == rate.Inf || tb.limit <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / float64(tb.limit))
}

// Keyed hands out one TokenBucket per key (for example a client address).
// Entries idle for longer than ttl are dropped by Sweep.
type Keyed struct {
	mu      sync.Mutex
	perMin  int
	burst   int
	ttl     time.Duration
	buckets map[string]*keyedEntry
	now     func() time.Time
}

type keyedEntry struct {
	bucket   *TokenBucket
	lastSeen time.Time
}

// NewKeyed creates a keyed limiter with the given per-key budget
func NewKeyed(requestsPerMinute, burst int, ttl time.Duration) *Keyed {
	return &Keyed{
		perMin:  requestsPerMinute,
		burst:   burst,
		ttl:     ttl,
		buckets: make(map[string]*keyedEntry),
		now:     time.Now,
	}
}

// Get returns the bucket for key, creating it on first use
func (k *Keyed) Get(key string) *TokenBucket {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, ok := k.buckets[key]
	if !ok {
		e = &keyedEntry{bucket: NewPerMinute(k.perMin, k.burst)}
		k.buckets[key] = e
	}
	e.lastSeen = k.now()
	return e.bucket
}

// Sweep removes buckets not used within ttl
func (k *Keyed) Sweep() int {
	k.mu.Lock()
	defer k.mu.Unlock()

	removed := 0
	cutoff := k.now().Add(-k.ttl)
	for key, e := range k.buckets {
		if e.lastSeen.Before(cutoff) {
			delete(k.buckets, key)
			removed++
		}
	}
	return removed
}

// Len reports how many keys are tracked
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.buckets)
}
