package storage

import (
	"context"
	"sort"
	"sync"
	"time"
	"updatehub/internal/models"
)

// MemoryStorage implements the Storage interface using in-memory data
// structures. This provider is ideal for development and testing. Data is
// lost on restart.
type MemoryStorage struct {
	mu       sync.RWMutex
	releases map[string]*models.Release        // keyed by version
	attempts map[string]*models.DownloadAttempt // keyed by attempt ID
}

// NewMemoryStorage creates a new memory-based storage instance.
func NewMemoryStorage(config Config) (*MemoryStorage, error) {
	return &MemoryStorage{
		releases: make(map[string]*models.Release),
		attempts: make(map[string]*models.DownloadAttempt),
	}, nil
}

// CreateRelease inserts a release, enforcing version uniqueness under the
// write lock so concurrent publishers cannot both succeed.
func (m *MemoryStorage) CreateRelease(ctx context.Context, release *models.Release) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.releases[release.Version]; exists {
		return ErrDuplicateVersion
	}

	c := *release
	m.releases[release.Version] = &c
	return nil
}

// GetRelease retrieves a release by version.
func (m *MemoryStorage) GetRelease(ctx context.Context, version string) (*models.Release, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	release, exists := m.releases[version]
	if !exists {
		return nil, ErrNotFound
	}

	c := *release
	return &c, nil
}

// LatestActiveRelease returns the newest active release on the channel.
// The candidate list is sorted by (release date, ID) descending and only the
// first element is returned, so historical duplicates can never produce more
// than one result.
func (m *MemoryStorage) LatestActiveRelease(ctx context.Context, channel string) (*models.Release, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var candidates []*models.Release
	for _, release := range m.releases {
		if release.Active && release.Channel == channel {
			candidates = append(candidates, release)
		}
	}

	if len(candidates) == 0 {
		return nil, ErrNoActiveRelease
	}

	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].ReleaseDate.Equal(candidates[j].ReleaseDate) {
			return candidates[i].ReleaseDate.After(candidates[j].ReleaseDate)
		}
		return candidates[i].ID > candidates[j].ID
	})

	c := *candidates[0]
	return &c, nil
}

// SetReleaseActive toggles the active flag. Setting the current value again
// is a no-op.
func (m *MemoryStorage) SetReleaseActive(ctx context.Context, version string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	release, exists := m.releases[version]
	if !exists {
		return ErrNotFound
	}

	if release.Active != active {
		release.Active = active
		release.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// ListReleases returns releases matching the filter, newest first, plus the
// total matching count before pagination.
func (m *MemoryStorage) ListReleases(ctx context.Context, filter models.ReleaseFilter) ([]*models.Release, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*models.Release
	for _, release := range m.releases {
		if filter.Channel != "" && release.Channel != filter.Channel {
			continue
		}
		if filter.Active != nil && release.Active != *filter.Active {
			continue
		}
		c := *release
		matched = append(matched, &c)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].ReleaseDate.Equal(matched[j].ReleaseDate) {
			return matched[i].ReleaseDate.After(matched[j].ReleaseDate)
		}
		return matched[i].ID > matched[j].ID
	})

	total := len(matched)
	start := filter.Offset
	if start > total {
		start = total
	}
	end := total
	if filter.Limit > 0 && start+filter.Limit < end {
		end = start + filter.Limit
	}

	return matched[start:end], total, nil
}

// DeleteRelease removes a release and its download attempts. Children are
// removed before the parent; an active release is never deleted.
func (m *MemoryStorage) DeleteRelease(ctx context.Context, version string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	release, exists := m.releases[version]
	if !exists {
		return ErrNotFound
	}
	if release.Active {
		return ErrReleaseActive
	}

	for id, attempt := range m.attempts {
		if attempt.Version == version {
			delete(m.attempts, id)
		}
	}
	delete(m.releases, version)
	return nil
}

// CreateDownloadAttempt records a newly accepted download.
func (m *MemoryStorage) CreateDownloadAttempt(ctx context.Context, attempt *models.DownloadAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *attempt
	m.attempts[attempt.ID] = &c
	return nil
}

// UpdateDownloadAttempt persists status and byte-count changes. Terminal
// records are immutable.
func (m *MemoryStorage) UpdateDownloadAttempt(ctx context.Context, attempt *models.DownloadAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, exists := m.attempts[attempt.ID]
	if !exists {
		return ErrNotFound
	}
	if existing.IsTerminal() {
		return ErrAttemptFinalized
	}

	c := *attempt
	m.attempts[attempt.ID] = &c
	return nil
}

// StaleDownloadAttempts returns non-terminal attempts older than the cutoff.
func (m *MemoryStorage) StaleDownloadAttempts(ctx context.Context, cutoff time.Time) ([]*models.DownloadAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stale []*models.DownloadAttempt
	for _, attempt := range m.attempts {
		if !attempt.IsTerminal() && attempt.StartedAt.Before(cutoff) {
			c := *attempt
			stale = append(stale, &c)
		}
	}
	return stale, nil
}

// ReleaseStats aggregates download activity grouped by release.
func (m *MemoryStorage) ReleaseStats(ctx context.Context) ([]*models.ReleaseStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byVersion := make(map[string]*models.ReleaseStats)
	for _, attempt := range m.attempts {
		stats, ok := byVersion[attempt.Version]
		if !ok {
			stats = &models.ReleaseStats{Version: attempt.Version}
			if release, exists := m.releases[attempt.Version]; exists {
				stats.Channel = release.Channel
			}
			byVersion[attempt.Version] = stats
		}
		stats.TotalAttempts++
		stats.BytesTransferred += attempt.BytesTransferred
		switch attempt.Status {
		case models.DownloadStatusCompleted:
			stats.CompletedCount++
		case models.DownloadStatusFailed:
			stats.FailedCount++
		}
	}

	out := make([]*models.ReleaseStats, 0, len(byVersion))
	for _, stats := range byVersion {
		out = append(out, stats)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Version < out[j].Version
	})
	return out, nil
}

// Ping verifies the storage backend is reachable and operational.
func (m *MemoryStorage) Ping(_ context.Context) error {
	return nil
}

// Close clears all data.
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.releases = make(map[string]*models.Release)
	m.attempts = make(map[string]*models.DownloadAttempt)
	return nil
}
