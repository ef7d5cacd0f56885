// Package ratelimit throttles execution requests per caller with a token
// bucket. Buckets refill lazily on each call; idle buckets are swept on the
// same path, so there is no background goroutine.
package ratelimit

import (
	"errors"
	"math"
	"sync"
	"time"
)

// ErrRateLimited is returned when a caller has exhausted their bucket.
var ErrRateLimited = errors.New("rate limit exceeded")

// idleSweep is how often Allow looks for buckets that have refilled
// completely and can be forgotten.
const idleSweep = time.Minute

// Config configures the limiter.
type Config struct {
	RequestsPerMinute int // 0 disables limiting.
	BurstSize         int // Defaults to RequestsPerMinute.
}

// Limiter keeps an independent bucket per caller key.
type Limiter struct {
	mu        sync.Mutex
	callers   map[string]*bucket
	rate      float64 // tokens per second
	burst     float64
	lastSweep time.Time
	now       func() time.Time
}

type bucket struct {
	tokens float64
	filled time.Time
}

// NewLimiter returns a limiter for cfg.
func NewLimiter(cfg Config) *Limiter {
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = cfg.RequestsPerMinute
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		callers: make(map[string]*bucket),
		rate:    float64(cfg.RequestsPerMinute) / 60.0,
		burst:   float64(burst),
		now:     time.Now,
	}
}

// Enabled reports whether the limiter ever rejects.
func (l *Limiter) Enabled() bool {
	return l != nil && l.rate > 0
}

// Allow consumes one token from key's bucket, or returns ErrRateLimited.
func (l *Limiter) Allow(key string) error {
	_, err := l.Reserve(key)
	return err
}

// Reserve is Allow that also reports how long the caller should wait before
// the next token is available when the bucket is empty.
func (l *Limiter) Reserve(key string) (time.Duration, error) {
	if !l.Enabled() {
		return 0, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	b, ok := l.callers[key]
	if !ok {
		b = &bucket{tokens: l.burst, filled: now}
		l.callers[key] = b
	}
	b.refill(now, l.rate, l.burst)

	if b.tokens < 1 {
		wait := time.Duration(math.Ceil((1-b.tokens)/l.rate*1000)) * time.Millisecond
		return wait, ErrRateLimited
	}
	b.tokens--
	return 0, nil
}

// Len returns the number of tracked callers.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.callers)
}

func (b *bucket) refill(now time.Time, rate, burst float64) {
	b.tokens = math.Min(burst, b.tokens+now.Sub(b.filled).Seconds()*rate)
	b.filled = now
}

// sweep drops buckets that would be full by now. Must hold l.mu.
func (l *Limiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < idleSweep {
		return
	}
	l.lastSweep = now
	for key, b := range l.callers {
		if b.tokens+now.Sub(b.filled).Seconds()*l.rate >= l.burst {
			delete(l.callers, key)
		}
	}
}
