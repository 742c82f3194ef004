package ratelimit

import (
	"sync"
	"time"
	"updatehub/internal/models"
)

// windowEntry tracks one client's state within a single endpoint class.
// Window counts reset on rollover; the violation count survives rollovers so
// repeat offenders escalate.
type windowEntry struct {
	mu             sync.Mutex
	windowStart    time.Time
	count          int
	violationCount int
	lastViolation  time.Time
	blockedUntil   time.Time
	lastSeen       time.Time
}

// WindowLimiter enforces fixed-length request windows per client and
// endpoint class. Clients that keep violating within the cooldown period are
// blocked outright for escalating durations taken from a capped backoff
// table. Idle entries are purged by a background janitor.
type WindowLimiter struct {
	config models.RateLimitConfig
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*windowEntry
	done    chan struct{}
	closed  bool
}

// NewWindowLimiter creates a window limiter and starts its janitor goroutine.
func NewWindowLimiter(config models.RateLimitConfig) *WindowLimiter {
	l := &WindowLimiter{
		config:  config,
		now:     time.Now,
		entries: make(map[string]*windowEntry),
		done:    make(chan struct{}),
	}
	if config.CleanupInterval > 0 {
		go l.janitor()
	}
	return l
}

// Allow checks and counts a request. An unknown endpoint class carries no
// limit and is always allowed.
func (l *WindowLimiter) Allow(clientKey, class string) Decision {
	classRate, ok := l.config.Classes[class]
	if !ok || classRate.MaxRequests <= 0 {
		return Decision{Allowed: true}
	}

	entry := l.entry(class + "|" + clientKey)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	now := l.now()
	entry.lastSeen = now

	// An active block denies regardless of window state. Attempts made while
	// blocked keep the violation streak warm, so waiting out the block and
	// immediately reoffending still escalates.
	if entry.blockedUntil.After(now) {
		entry.lastViolation = now
		return Decision{
			Allowed:    false,
			Limit:      classRate.MaxRequests,
			Remaining:  0,
			ResetAt:    entry.blockedUntil,
			RetryAfter: entry.blockedUntil.Sub(now),
		}
	}

	if entry.windowStart.IsZero() || now.Sub(entry.windowStart) >= classRate.Window {
		entry.windowStart = now
		entry.count = 0
	}
	windowEnd := entry.windowStart.Add(classRate.Window)

	entry.count++
	if entry.count <= classRate.MaxRequests {
		return Decision{
			Allowed:   true,
			Limit:     classRate.MaxRequests,
			Remaining: classRate.MaxRequests - entry.count,
			ResetAt:   windowEnd,
		}
	}

	// Violation. Consecutive violations inside the cooldown escalate; a
	// quiet spell resets the streak to one.
	if !entry.lastViolation.IsZero() && now.Sub(entry.lastViolation) <= l.config.ViolationCooldown {
		entry.violationCount++
	} else {
		entry.violationCount = 1
	}
	entry.lastViolation = now

	retryAfter := windowEnd.Sub(now)
	resetAt := windowEnd
	if l.config.EscalationAfter > 0 && entry.violationCount >= l.config.EscalationAfter && len(l.config.Backoff) > 0 {
		idx := entry.violationCount - l.config.EscalationAfter
		if idx >= len(l.config.Backoff) {
			idx = len(l.config.Backoff) - 1
		}
		entry.blockedUntil = now.Add(l.config.Backoff[idx])
		retryAfter = l.config.Backoff[idx]
		resetAt = entry.blockedUntil
	}

	return Decision{
		Allowed:    false,
		Limit:      classRate.MaxRequests,
		Remaining:  0,
		ResetAt:    resetAt,
		RetryAfter: retryAfter,
	}
}

// Close stops the janitor goroutine.
func (l *WindowLimiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.done)
	}
}

func (l *WindowLimiter) entry(key string) *windowEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		e = &windowEntry{}
		l.entries[key] = e
	}
	return e
}

func (l *WindowLimiter) janitor() {
	ticker := time.NewTicker(l.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.purgeIdle()
		}
	}
}

// purgeIdle drops entries idle past the retention horizon. Blocked entries
// are kept so a block cannot be shed by going quiet.
func (l *WindowLimiter) purgeIdle() {
	now := l.now()
	cutoff := now.Add(-l.config.RetentionHorizon)

	l.mu.Lock()
	defer l.mu.Unlock()
	for key, e := range l.entries {
		e.mu.Lock()
		idle := e.lastSeen.Before(cutoff) && !e.blockedUntil.After(now)
		e.mu.Unlock()
		if idle {
			delete(l.entries, key)
		}
	}
}
