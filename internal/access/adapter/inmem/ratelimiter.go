// Package inmem holds in-process adapters.
package inmem

import (
	"context"
	"sync"
	"time"

	"reader/internal/access"
)

const staleThreshold = 10 * time.Minute

// RateLimiter is a token bucket per key. Keys are reader identities for
// signed-in requests and client addresses otherwise.
type RateLimiter struct {
	rate  float64 // tokens per second
	burst float64
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// NewRateLimiter creates a limiter refilling rate tokens per second up to
// burst. A nil clock uses time.Now.
func NewRateLimiter(rate float64, burst int, clock func() time.Time) *RateLimiter {
	if clock == nil {
		clock = time.Now
	}
	return &RateLimiter{
		rate:    rate,
		burst:   float64(burst),
		now:     clock,
		buckets: make(map[string]*bucket),
	}
}

// Allow spends one token from key's bucket if there is one.
func (rl *RateLimiter) Allow(key string) access.RateLimitResult {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: rl.burst, lastSeen: now}
		rl.buckets[key] = b
	}

	b.tokens = min(rl.burst, b.tokens+now.Sub(b.lastSeen).Seconds()*rl.rate)
	b.lastSeen = now

	if b.tokens >= 1 {
		b.tokens--
		return access.RateLimitResult{Allowed: true}
	}
	if rl.rate <= 0 {
		return access.RateLimitResult{RetryAfter: staleThreshold}
	}
	wait := time.Duration((1 - b.tokens) / rl.rate * float64(time.Second))
	return access.RateLimitResult{RetryAfter: max(wait, time.Millisecond)}
}

// Cleanup removes buckets that have not been used recently.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, b := range rl.buckets {
		if now.Sub(b.lastSeen) > staleThreshold {
			delete(rl.buckets, key)
		}
	}
}

// RunJanitor calls Cleanup every interval until ctx ends.
func (rl *RateLimiter) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Cleanup()
		}
	}
}

// BucketCount returns the number of tracked keys.
func (rl *RateLimiter) BucketCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}
