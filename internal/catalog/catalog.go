// Package catalog owns the lifecycle of published releases: publishing,
// activation state, listing, and deletion. Storage enforces version
// uniqueness; the catalog adds validation and cross-component cleanup on
// delete.
package catalog

import (
	"context"
	"fmt"
	"sync"
	"updatehub/internal/models"
	"updatehub/internal/storage"
)

// Invalidator purges derived data that references a release version. The
// delta engine implements this.
type Invalidator interface {
	Invalidate(version string)
}

// BlobDeleter removes a stored artifact blob. The artifact store implements
// this.
type BlobDeleter interface {
	Delete(ref string) error
}

// Service provides release catalog operations on top of a storage backend.
type Service struct {
	storage     storage.Storage
	invalidator Invalidator
	blobs       BlobDeleter

	// locks serializes concurrent publishes of the same version string so
	// storage sees at most one in-flight insert per version.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService creates a new catalog service. invalidator and blobs may be nil
// when delta caching or blob cleanup is not wired (tests, memory-only
// deployments).
func NewService(st storage.Storage, invalidator Invalidator, blobs BlobDeleter) *Service {
	return &Service{
		storage:     st,
		invalidator: invalidator,
		blobs:       blobs,
		locks:       make(map[string]*sync.Mutex),
	}
}

func (s *Service) versionLock(version string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[version]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[version] = lock
	}
	return lock
}

// Publish validates and persists a new release. The version must be strict
// semver and globally unique across all channels, active or inactive.
// Duplicate publishes return storage.ErrDuplicateVersion; there is no silent
// overwrite path.
func (s *Service) Publish(ctx context.Context, release *models.Release) error {
	if err := release.Validate(); err != nil {
		return fmt.Errorf("invalid release: %w", err)
	}

	lock := s.versionLock(release.Version)
	lock.Lock()
	defer lock.Unlock()

	if err := s.storage.CreateRelease(ctx, release); err != nil {
		return fmt.Errorf("failed to publish release %s: %w", release.Version, err)
	}
	return nil
}

// Get returns the release with the given version, active or not.
func (s *Service) Get(ctx context.Context, version string) (*models.Release, error) {
	return s.storage.GetRelease(ctx, version)
}

// LatestActive returns the most recent active release on the channel,
// ordered by release date with ID as tiebreaker. Returns
// storage.ErrNoActiveRelease when the channel has no active release.
func (s *Service) LatestActive(ctx context.Context, channel string) (*models.Release, error) {
	if !models.IsValidChannel(channel) {
		return nil, fmt.Errorf("unsupported channel %q", channel)
	}
	return s.storage.LatestActiveRelease(ctx, channel)
}

// SetActive toggles a release's availability. Deactivation hides the release
// from client-facing queries but keeps the record and its download history.
// The operation is idempotent.
func (s *Service) SetActive(ctx context.Context, version string, active bool) (*models.Release, error) {
	if err := s.storage.SetReleaseActive(ctx, version, active); err != nil {
		return nil, err
	}
	return s.storage.GetRelease(ctx, version)
}

// ListPaged returns a page of releases plus the unpaged total count.
func (s *Service) ListPaged(ctx context.Context, filter models.ReleaseFilter) ([]*models.Release, int, error) {
	if err := filter.Validate(); err != nil {
		return nil, 0, fmt.Errorf("invalid filter: %w", err)
	}
	return s.storage.ListReleases(ctx, filter)
}

// Delete permanently removes an inactive release and everything hanging off
// it: download attempts (storage), cached delta packages, and the artifact
// blob when no other release references it. Active releases must be
// deactivated first; storage.ErrReleaseActive is returned otherwise.
func (s *Service) Delete(ctx context.Context, version string) error {
	lock := s.versionLock(version)
	lock.Lock()
	defer lock.Unlock()

	release, err := s.storage.GetRelease(ctx, version)
	if err != nil {
		return err
	}

	if err := s.storage.DeleteRelease(ctx, version); err != nil {
		return err
	}

	if s.invalidator != nil {
		s.invalidator.Invalidate(version)
	}

	if s.blobs != nil && release.ArtifactRef != "" {
		shared, err := s.artifactShared(ctx, release.ArtifactRef)
		if err != nil {
			return fmt.Errorf("failed to check artifact references: %w", err)
		}
		if !shared {
			if err := s.blobs.Delete(release.ArtifactRef); err != nil {
				return fmt.Errorf("failed to delete artifact blob: %w", err)
			}
		}
	}
	return nil
}

// Stats returns per-release download aggregates for the admin statistics
// endpoint.
func (s *Service) Stats(ctx context.Context) ([]*models.ReleaseStats, error) {
	return s.storage.ReleaseStats(ctx)
}

// artifactShared reports whether another release still points at ref.
// Content addressing means identical uploads share one blob.
func (s *Service) artifactShared(ctx context.Context, ref string) (bool, error) {
	releases, _, err := s.storage.ListReleases(ctx, models.ReleaseFilter{})
	if err != nil {
		return false, err
	}
	for _, r := range releases {
		if r.ArtifactRef == ref {
			return true, nil
		}
	}
	return false, nil
}
