package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// bucketEntry holds one key's token bucket and its last access time.
type bucketEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// BucketLimiter is the coarse API-wide tier: an in-memory token bucket per
// key backed by golang.org/x/time/rate. It smooths bursts across all
// endpoints before the window limiter applies its per-class budgets. A
// background goroutine evicts entries not seen within 2x the cleanup
// interval.
type BucketLimiter struct {
	rate            rate.Limit
	burst           int
	limit           int // requests per minute, reported in Decision.Limit
	cleanupInterval time.Duration

	mu      sync.Mutex
	entries map[string]*bucketEntry
	done    chan struct{}
	closed  bool
}

// NewBucketLimiter creates a bucket limiter with the given requests-per-minute
// rate, burst size, and cleanup interval, and starts its eviction goroutine.
func NewBucketLimiter(requestsPerMinute, burst int, cleanupInterval time.Duration) *BucketLimiter {
	b := &BucketLimiter{
		rate:            rate.Every(time.Minute / time.Duration(requestsPerMinute)),
		burst:           burst,
		limit:           requestsPerMinute,
		cleanupInterval: cleanupInterval,
		entries:         make(map[string]*bucketEntry),
		done:            make(chan struct{}),
	}
	go b.cleanup()
	return b
}

// Allow checks whether a request from the given key should proceed.
func (b *BucketLimiter) Allow(key string) Decision {
	b.mu.Lock()
	e, exists := b.entries[key]
	if !exists {
		e = &bucketEntry{limiter: rate.NewLimiter(b.rate, b.burst)}
		b.entries[key] = e
	}
	e.lastSeen = time.Now()
	b.mu.Unlock()

	allowed := e.limiter.Allow()

	now := time.Now()
	tokens := e.limiter.TokensAt(now)
	remaining := int(math.Max(0, math.Floor(tokens)))

	// Reset is when the bucket refills completely.
	resetAt := now
	if tokensNeeded := float64(b.burst) - tokens; tokensNeeded > 0 {
		resetAt = now.Add(time.Duration(tokensNeeded / float64(b.rate) * float64(time.Second)))
	}

	decision := Decision{
		Allowed:   allowed,
		Limit:     b.limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}

	if !allowed {
		reservation := e.limiter.Reserve()
		decision.RetryAfter = reservation.Delay()
		reservation.Cancel()
	}
	return decision
}

// Close stops the background cleanup goroutine.
func (b *BucketLimiter) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.done)
	}
}

func (b *BucketLimiter) cleanup() {
	ticker := time.NewTicker(b.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			b.evictStale()
		}
	}
}

func (b *BucketLimiter) evictStale() {
	cutoff := time.Now().Add(-2 * b.cleanupInterval)
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, e := range b.entries {
		if e.lastSeen.Before(cutoff) {
			delete(b.entries, key)
		}
	}
}
