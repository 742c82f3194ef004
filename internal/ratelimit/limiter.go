// Package ratelimit provides two tiers of request limiting: a per-client
// sliding-window limiter with violation escalation for download-class
// endpoints, and a token-bucket HTTP middleware applied across the API.
// Implementations must be safe for concurrent use.
package ratelimit

import "time"

// Limiter is the per-client, per-endpoint-class limiting contract consumed
// by the update coordinator.
type Limiter interface {
	// Allow checks whether a request from clientKey against the given
	// endpoint class should proceed, counting it if so.
	Allow(clientKey, class string) Decision

	// Close stops background goroutines and releases resources.
	Close()
}

// Decision is the outcome of a limit check plus the state needed to populate
// rate limit response headers.
type Decision struct {
	Allowed    bool
	Limit      int           // Maximum requests per window
	Remaining  int           // Requests left in the current window
	ResetAt    time.Time     // When the window rolls over or a block lifts
	RetryAfter time.Duration // How long to wait (meaningful only when denied)
}
