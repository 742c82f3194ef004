package storage

import (
	"context"
	"time"
	"updatehub/internal/models"
)

// Storage defines the persistence contract for release metadata and download
// attempt records. Implementations must be safe for concurrent use.
type Storage interface {
	// CreateRelease inserts a new release. Returns ErrDuplicateVersion when a
	// release with the same version already exists, active or not. The
	// uniqueness check and insert must be atomic.
	CreateRelease(ctx context.Context, release *models.Release) error

	// GetRelease retrieves a release by its version string.
	// Returns ErrNotFound when no such release exists.
	GetRelease(ctx context.Context, version string) (*models.Release, error)

	// LatestActiveRelease returns the single newest active release on the
	// given channel, ordered by release date descending then ID descending,
	// always bounded to one row. Returns ErrNoActiveRelease when the channel
	// has no active release.
	LatestActiveRelease(ctx context.Context, channel string) (*models.Release, error)

	// SetReleaseActive toggles a release's active flag. Idempotent.
	// Returns ErrNotFound when the release does not exist.
	SetReleaseActive(ctx context.Context, version string, active bool) error

	// ListReleases returns releases matching the filter plus the total count
	// before pagination.
	ListReleases(ctx context.Context, filter models.ReleaseFilter) ([]*models.Release, int, error)

	// DeleteRelease permanently removes a release and its download attempts.
	// Returns ErrNotFound when the release does not exist and
	// ErrReleaseActive when it is still active.
	DeleteRelease(ctx context.Context, version string) error

	// CreateDownloadAttempt records a newly accepted download.
	CreateDownloadAttempt(ctx context.Context, attempt *models.DownloadAttempt) error

	// UpdateDownloadAttempt persists a status/bytes change for an attempt.
	// Returns ErrNotFound for unknown attempts and ErrAttemptFinalized when
	// the stored record is already terminal.
	UpdateDownloadAttempt(ctx context.Context, attempt *models.DownloadAttempt) error

	// StaleDownloadAttempts returns attempts still started/in_progress whose
	// StartedAt is older than the cutoff. Used by the reconciler.
	StaleDownloadAttempts(ctx context.Context, cutoff time.Time) ([]*models.DownloadAttempt, error)

	// ReleaseStats aggregates download activity grouped by release.
	ReleaseStats(ctx context.Context) ([]*models.ReleaseStats, error)

	// Ping verifies the storage backend is reachable and operational.
	Ping(ctx context.Context) error

	// Close closes the storage connection and cleans up resources.
	Close() error
}

// Config holds configuration for storage backends.
type Config struct {
	// Type specifies the storage backend type (memory, sqlite, postgres).
	Type string `json:"type" yaml:"type"`

	// ConnectionString is the DSN or file path for database backends.
	ConnectionString string `json:"connection_string,omitempty" yaml:"connection_string,omitempty"`

	// MaxOpenConns bounds pooled connections for database backends.
	MaxOpenConns int `json:"max_open_conns,omitempty" yaml:"max_open_conns,omitempty"`
}
