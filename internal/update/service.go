// Package update is the coordinator tying the catalog, artifact store, delta
// engine, rate limiter, and notification hub together behind the operations
// the API exposes.
package update

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
	"updatehub/internal/artifact"
	"updatehub/internal/catalog"
	"updatehub/internal/delta"
	"updatehub/internal/models"
	"updatehub/internal/ratelimit"
	"updatehub/internal/storage"
)

// Notifier pushes events to connected clients. The realtime hub implements
// it; a nil Notifier disables pushes without disabling downloads.
type Notifier interface {
	NotifySessions(clientKey string, event models.Event) int
	NotifyNewVersion(release *models.Release) int
}

// progressInterval is how many bytes pass between DOWNLOAD_PROGRESS pushes.
const progressInterval = 1 << 20

// Service handles update checking, compatibility, downloads, and publishing.
type Service struct {
	catalog   *catalog.Service
	storage   storage.Storage
	artifacts *artifact.Store
	deltas    *delta.Engine
	limiter   ratelimit.Limiter
	notifier  Notifier
	downloads models.DownloadConfig
	logger    *slog.Logger
}

// NewService creates an update service. deltas, limiter, and notifier may be
// nil; the corresponding behavior is skipped.
func NewService(cat *catalog.Service, st storage.Storage, artifacts *artifact.Store, deltas *delta.Engine, limiter ratelimit.Limiter, notifier Notifier, downloads models.DownloadConfig, logger *slog.Logger) *Service {
	return &Service{
		catalog:   cat,
		storage:   st,
		artifacts: artifacts,
		deltas:    deltas,
		limiter:   limiter,
		notifier:  notifier,
		downloads: downloads,
		logger:    logger,
	}
}

// CheckForUpdate determines whether a newer release exists on the client's
// channel. A channel with no active release reports "no update" rather than
// an error; the client is current by definition of an empty channel.
func (s *Service) CheckForUpdate(ctx context.Context, req *models.UpdateCheckRequest) (*models.UpdateCheckResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, NewInvalidRequestError("invalid update check request", err)
	}
	req.Normalize()

	if s.limiter != nil {
		if decision := s.limiter.Allow(req.ClientKey, models.EndpointClassCheck); !decision.Allowed {
			s.notifyRateLimited(req.ClientKey, models.EndpointClassCheck, decision.RetryAfter)
			return nil, NewRateLimitedError(decision.RetryAfter)
		}
	}

	response := &models.UpdateCheckResponse{}

	latest, err := s.catalog.LatestActive(ctx, req.Channel)
	if err != nil {
		if errors.Is(err, storage.ErrNoActiveRelease) {
			response.SetNoUpdateAvailable(req.CurrentVersion, req.Channel)
			return response, nil
		}
		return nil, NewInternalError("failed to resolve latest release", err)
	}

	if !latest.IsNewerThan(req.CurrentVersion) {
		response.SetNoUpdateAvailable(req.CurrentVersion, req.Channel)
		return response, nil
	}

	response.SetUpdateAvailable(latest)
	response.CurrentVersion = req.CurrentVersion
	if !latest.MeetsMinimumVersion(req.CurrentVersion) {
		// Too old for a direct upgrade; the client has to take it.
		response.Mandatory = true
	}
	return response, nil
}

// Latest returns the newest active release on the channel.
func (s *Service) Latest(ctx context.Context, channel string) (*models.Release, error) {
	release, err := s.catalog.LatestActive(ctx, channel)
	if err != nil {
		if errors.Is(err, storage.ErrNoActiveRelease) {
			return nil, NewNoActiveVersionError(channel)
		}
		return nil, NewInvalidRequestError("invalid channel", err)
	}
	return release, nil
}

// CheckCompatibility evaluates the compatibility rules for upgrading to the
// given version on the described system. A blocking report is also pushed to
// the client's live sessions.
func (s *Service) CheckCompatibility(ctx context.Context, version string, info models.SystemInfo, clientKey string) (*models.CompatibilityReport, error) {
	if err := info.Validate(); err != nil {
		return nil, NewInvalidRequestError("invalid system info", err)
	}

	release, err := s.catalog.Get(ctx, version)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, NewVersionNotFoundError(version)
		}
		return nil, NewInternalError("failed to load release", err)
	}

	report := checkCompatibility(release, info)
	if !report.CanProceed && s.notifier != nil && clientKey != "" {
		s.notifier.NotifySessions(clientKey, models.Event{
			Type: models.EventCompatibilityIssue,
			Data: report,
		})
	}
	return report, nil
}

// DownloadRequest identifies what to stream and to whom.
type DownloadRequest struct {
	Version    string
	ClientKey  string
	ClientIP   string
	RangeStart *int64
	RangeEnd   *int64
}

// DownloadResult carries the open artifact stream and the attempt tracking
// it. Closing the reader finalizes the attempt: completed when fully
// drained, failed otherwise.
type DownloadResult struct {
	Release *models.Release
	Attempt *models.DownloadAttempt
	Reader  io.ReadCloser
	Length  int64
	Total   int64
	Partial bool
	Delta   *models.DeltaPackage
}

// Download opens a full-package download. Rate limiting is checked before
// anything else; a rejected client with a live session also gets a
// RATE_LIMITED push.
func (s *Service) Download(ctx context.Context, req DownloadRequest) (*DownloadResult, error) {
	if s.limiter != nil {
		if decision := s.limiter.Allow(req.ClientKey, models.EndpointClassDownload); !decision.Allowed {
			s.notifyRateLimited(req.ClientKey, models.EndpointClassDownload, decision.RetryAfter)
			return nil, NewRateLimitedError(decision.RetryAfter)
		}
	}

	release, err := s.activeRelease(ctx, req.Version)
	if err != nil {
		return nil, err
	}
	return s.openDownload(ctx, release, req, release.ArtifactRef, nil)
}

// GetDelta returns the delta package from one version to another, computing
// it on demand. The target must be active; the source only has to exist.
func (s *Service) GetDelta(ctx context.Context, fromVersion, toVersion string) (*models.DeltaPackage, error) {
	if s.deltas == nil {
		return nil, NewNotFoundError("delta updates are not available")
	}

	from, err := s.catalog.Get(ctx, fromVersion)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, NewVersionNotFoundError(fromVersion)
		}
		return nil, NewInternalError("failed to load release", err)
	}
	to, err := s.activeRelease(ctx, toVersion)
	if err != nil {
		return nil, err
	}

	pkg, err := s.deltas.GetOrCompute(ctx, from, to)
	if err != nil {
		if errors.Is(err, delta.ErrDisabled) {
			return nil, NewNotFoundError("delta updates are not available")
		}
		return nil, NewInternalError("failed to compute delta", err)
	}
	return pkg, nil
}

// DownloadDelta streams the delta package from one version to another. When
// the computed delta is not worth shipping, the full target package is
// served instead; the caller can tell from Result.Delta.FallbackToFull.
func (s *Service) DownloadDelta(ctx context.Context, fromVersion string, req DownloadRequest) (*DownloadResult, error) {
	if s.limiter != nil {
		if decision := s.limiter.Allow(req.ClientKey, models.EndpointClassDelta); !decision.Allowed {
			s.notifyRateLimited(req.ClientKey, models.EndpointClassDelta, decision.RetryAfter)
			return nil, NewRateLimitedError(decision.RetryAfter)
		}
	}

	pkg, err := s.GetDelta(ctx, fromVersion, req.Version)
	if err != nil {
		return nil, err
	}

	release, err := s.activeRelease(ctx, req.Version)
	if err != nil {
		return nil, err
	}

	ref := pkg.DeltaRef
	if pkg.FallbackToFull {
		ref = release.ArtifactRef
	}
	return s.openDownload(ctx, release, req, ref, pkg)
}

func (s *Service) activeRelease(ctx context.Context, version string) (*models.Release, error) {
	release, err := s.catalog.Get(ctx, version)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, NewVersionNotFoundError(version)
		}
		return nil, NewInternalError("failed to load release", err)
	}
	// Deactivated releases are invisible to clients.
	if !release.Active {
		return nil, NewVersionNotFoundError(version)
	}
	return release, nil
}

func (s *Service) openDownload(ctx context.Context, release *models.Release, req DownloadRequest, ref string, pkg *models.DeltaPackage) (*DownloadResult, error) {
	var start int64
	partial := req.RangeStart != nil
	if partial {
		start = *req.RangeStart
	}

	reader, length, total, err := s.artifacts.OpenRange(ref, start, req.RangeEnd)
	if err != nil {
		switch {
		case errors.Is(err, artifact.ErrRangeNotSatisfiable):
			return nil, NewRangeNotSatisfiableError(err)
		case errors.Is(err, artifact.ErrNotFound):
			return nil, NewInternalError(fmt.Sprintf("artifact for version %s is missing", release.Version), err)
		default:
			return nil, NewInternalError("failed to open artifact", err)
		}
	}

	attempt := models.NewDownloadAttempt(release.Version, req.ClientKey, req.ClientIP)
	if partial {
		attempt.ResumedFrom = &start
	}
	if err := s.storage.CreateDownloadAttempt(ctx, attempt); err != nil {
		reader.Close()
		return nil, NewInternalError("failed to record download attempt", err)
	}
	if err := attempt.Transition(models.DownloadStatusInProgress); err == nil {
		if err := s.storage.UpdateDownloadAttempt(ctx, attempt); err != nil {
			s.logger.Warn("Failed to mark attempt in progress", "attempt_id", attempt.ID, "error", err)
		}
	}

	return &DownloadResult{
		Release: release,
		Attempt: attempt,
		Reader: &trackingReader{
			service: s,
			reader:  reader,
			attempt: attempt,
			release: release,
			length:  length,
			total:   total,
		},
		Length:  length,
		Total:   total,
		Partial: partial,
		Delta:   pkg,
	}, nil
}

func (s *Service) notifyRateLimited(clientKey, class string, retryAfter time.Duration) {
	if s.notifier == nil || clientKey == "" {
		return
	}
	s.notifier.NotifySessions(clientKey, models.Event{
		Type: models.EventRateLimited,
		Data: models.RateLimitedPayload{
			EndpointClass: class,
			RetryAfter:    int(retryAfter.Seconds()) + 1,
		},
	})
}

// ReconcileStuckAttempts finalizes attempts stuck in flight longer than the
// configured timeout as failed. Returns how many were reconciled.
func (s *Service) ReconcileStuckAttempts(ctx context.Context) (int, error) {
	timeout := s.downloads.AttemptTimeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	cutoff := time.Now().UTC().Add(-timeout)

	stale, err := s.storage.StaleDownloadAttempts(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to query stale attempts: %w", err)
	}

	reconciled := 0
	for _, attempt := range stale {
		if err := attempt.Transition(models.DownloadStatusFailed); err != nil {
			continue
		}
		if err := s.storage.UpdateDownloadAttempt(ctx, attempt); err != nil {
			s.logger.Warn("Failed to reconcile download attempt", "attempt_id", attempt.ID, "error", err)
			continue
		}
		reconciled++
	}
	if reconciled > 0 {
		s.logger.Info("Reconciled stuck download attempts", "count", reconciled)
	}
	return reconciled, nil
}

// RunReconciler runs the stuck-attempt reconciler on a ticker until the
// context is cancelled.
func (s *Service) RunReconciler(ctx context.Context) {
	interval := s.downloads.ReconcileInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ReconcileStuckAttempts(ctx); err != nil {
				s.logger.Error("Download attempt reconciliation failed", "error", err)
			}
		}
	}
}

// PublishRelease validates, stores, and announces a new release: artifact
// first, catalog entry second, notification last. A failure at the catalog
// step leaves the blob behind; content addressing makes a retry converge on
// the same reference.
func (s *Service) PublishRelease(ctx context.Context, req *models.PublishRequest, data []byte) (*models.Release, error) {
	if err := req.Validate(); err != nil {
		return nil, NewValidationError("invalid publish request", err)
	}
	req.Normalize()

	ref, err := s.artifacts.Store(data, req.Checksum)
	if err != nil {
		switch {
		case errors.Is(err, artifact.ErrChecksumMismatch):
			return nil, NewChecksumMismatchError(err)
		case errors.Is(err, artifact.ErrInvalidArtifact):
			return nil, NewInvalidArtifactError(err)
		case errors.Is(err, artifact.ErrTooLarge):
			return nil, NewPayloadTooLargeError(err)
		default:
			return nil, NewInternalError("failed to store artifact", err)
		}
	}

	release := models.NewRelease(req.Version, req.Channel)
	release.FileName = req.FileName
	release.FileSize = int64(len(data))
	release.Checksum = req.Checksum
	release.ArtifactRef = ref
	release.ReleaseNotes = req.ReleaseNotes
	release.MinimumVersion = req.MinimumVersion
	release.Mandatory = req.Mandatory
	release.CreatedBy = req.CreatedBy

	if err := s.catalog.Publish(ctx, release); err != nil {
		if errors.Is(err, storage.ErrDuplicateVersion) {
			return nil, NewDuplicateVersionError(req.Version)
		}
		return nil, NewValidationError("failed to publish release", err)
	}

	s.logger.Info("Release published",
		"version", release.Version,
		"channel", release.Channel,
		"size", release.FileSize,
		"created_by", release.CreatedBy,
	)

	if s.notifier != nil {
		notified := s.notifier.NotifyNewVersion(release)
		s.logger.Debug("New version announced", "version", release.Version, "sessions", notified)
	}
	return release, nil
}

// trackingReader counts streamed bytes and finalizes the download attempt on
// Close. Progress pushes go to the client's live sessions every
// progressInterval bytes; they are droppable, so a slow session never slows
// the download.
type trackingReader struct {
	service *Service
	reader  io.ReadCloser
	attempt *models.DownloadAttempt
	release *models.Release
	length  int64
	total   int64

	transferred  int64
	lastProgress int64
	finalized    bool
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.reader.Read(p)
	t.transferred += int64(n)

	if t.transferred-t.lastProgress >= progressInterval {
		t.lastProgress = t.transferred
		t.sendProgress()
	}
	return n, err
}

func (t *trackingReader) Close() error {
	err := t.reader.Close()
	if t.finalized {
		return err
	}
	t.finalized = true

	status := models.DownloadStatusFailed
	if t.transferred >= t.length {
		status = models.DownloadStatusCompleted
	}
	t.attempt.BytesTransferred = t.transferred
	if terr := t.attempt.Transition(status); terr == nil {
		// The request context is typically gone by the time the stream
		// closes; finalize against the background context.
		if uerr := t.service.storage.UpdateDownloadAttempt(context.Background(), t.attempt); uerr != nil {
			t.service.logger.Warn("Failed to finalize download attempt",
				"attempt_id", t.attempt.ID, "status", status, "error", uerr)
		}
	}

	if status == models.DownloadStatusCompleted {
		t.sendProgress()
	}
	return err
}

func (t *trackingReader) sendProgress() {
	if t.service.notifier == nil || t.attempt.ClientKey == "" {
		return
	}
	percent := float64(0)
	if t.length > 0 {
		percent = float64(t.transferred) / float64(t.length) * 100
	}
	t.service.notifier.NotifySessions(t.attempt.ClientKey, models.Event{
		Type: models.EventDownloadProgress,
		Data: models.ProgressPayload{
			Version:          t.release.Version,
			BytesTransferred: t.transferred,
			TotalBytes:       t.total,
			Percent:          percent,
		},
	})
}
