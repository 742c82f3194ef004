package update

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
	"updatehub/internal/artifact"
	"updatehub/internal/catalog"
	"updatehub/internal/delta"
	"updatehub/internal/models"
	"updatehub/internal/ratelimit"
	"updatehub/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubLimiter returns a fixed decision for every call.
type stubLimiter struct {
	decision ratelimit.Decision
	calls    []string
}

func (s *stubLimiter) Allow(clientKey, class string) ratelimit.Decision {
	s.calls = append(s.calls, clientKey+"/"+class)
	return s.decision
}

func (s *stubLimiter) Close() {}

func allowAll() *stubLimiter {
	return &stubLimiter{decision: ratelimit.Decision{Allowed: true}}
}

func denyAll(retryAfter time.Duration) *stubLimiter {
	return &stubLimiter{decision: ratelimit.Decision{Allowed: false, RetryAfter: retryAfter}}
}

// recordingNotifier captures pushed events.
type recordingNotifier struct {
	mu       sync.Mutex
	events   []models.Event
	releases []*models.Release
}

func (n *recordingNotifier) NotifySessions(clientKey string, event models.Event) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return 1
}

func (n *recordingNotifier) NotifyNewVersion(release *models.Release) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.releases = append(n.releases, release)
	return 1
}

func (n *recordingNotifier) eventTypes() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var types []string
	for _, e := range n.events {
		types = append(types, e.Type)
	}
	return types
}

type testEnv struct {
	service   *Service
	storage   *storage.MemoryStorage
	catalog   *catalog.Service
	artifacts *artifact.Store
	limiter   *stubLimiter
	notifier  *recordingNotifier
}

func newTestEnv(t *testing.T, limiter *stubLimiter) *testEnv {
	t.Helper()
	st, err := storage.NewMemoryStorage(storage.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	artifacts, err := artifact.NewStore(models.ArtifactConfig{Root: t.TempDir()})
	require.NoError(t, err)

	deltas := delta.NewEngine(artifacts, models.DeltaConfig{
		Enabled:              true,
		CompressionThreshold: 0.7,
		CacheTTL:             time.Hour,
	})

	cat := catalog.NewService(st, deltas, artifacts)
	notifier := &recordingNotifier{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc := NewService(cat, st, artifacts, deltas, limiter, notifier,
		models.DownloadConfig{AttemptTimeout: 30 * time.Minute, ReconcileInterval: time.Minute}, logger)

	return &testEnv{
		service:   svc,
		storage:   st,
		catalog:   cat,
		artifacts: artifacts,
		limiter:   limiter,
		notifier:  notifier,
	}
}

func buildZip(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range entries {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func checksumOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (env *testEnv) publish(t *testing.T, version, channel string, entries map[string]string) (*models.Release, []byte) {
	t.Helper()
	data := buildZip(t, entries)
	release, err := env.service.PublishRelease(context.Background(), &models.PublishRequest{
		Version:  version,
		Channel:  channel,
		FileName: "app-" + version + ".zip",
		Checksum: checksumOf(data),
	}, data)
	require.NoError(t, err)
	return release, data
}

func TestCheckForUpdate(t *testing.T) {
	env := newTestEnv(t, allowAll())
	ctx := context.Background()
	env.publish(t, "1.2.0", models.ChannelStable, map[string]string{"bin": "v1.2.0"})

	t.Run("UpdateAvailable", func(t *testing.T) {
		resp, err := env.service.CheckForUpdate(ctx, &models.UpdateCheckRequest{
			CurrentVersion: "1.0.0",
		})
		require.NoError(t, err)
		assert.True(t, resp.UpdateAvailable)
		assert.Equal(t, "1.2.0", resp.LatestVersion)
		assert.Equal(t, "1.0.0", resp.CurrentVersion)
		assert.Equal(t, models.ChannelStable, resp.Channel)
	})

	t.Run("AlreadyCurrent", func(t *testing.T) {
		resp, err := env.service.CheckForUpdate(ctx, &models.UpdateCheckRequest{
			CurrentVersion: "1.2.0",
		})
		require.NoError(t, err)
		assert.False(t, resp.UpdateAvailable)
	})

	t.Run("AheadOfLatest", func(t *testing.T) {
		resp, err := env.service.CheckForUpdate(ctx, &models.UpdateCheckRequest{
			CurrentVersion: "2.0.0",
		})
		require.NoError(t, err)
		assert.False(t, resp.UpdateAvailable)
	})

	t.Run("EmptyChannelMeansNoUpdate", func(t *testing.T) {
		resp, err := env.service.CheckForUpdate(ctx, &models.UpdateCheckRequest{
			CurrentVersion: "1.0.0",
			Channel:        models.ChannelNightly,
		})
		require.NoError(t, err)
		assert.False(t, resp.UpdateAvailable)
	})

	t.Run("InvalidRequest", func(t *testing.T) {
		_, err := env.service.CheckForUpdate(ctx, &models.UpdateCheckRequest{})
		var svcErr *ServiceError
		require.ErrorAs(t, err, &svcErr)
		assert.Equal(t, models.ErrorCodeInvalidRequest, svcErr.Code)
	})
}

func TestCheckForUpdateMandatoryBelowMinimum(t *testing.T) {
	env := newTestEnv(t, allowAll())
	ctx := context.Background()

	data := buildZip(t, map[string]string{"bin": "v2"})
	_, err := env.service.PublishRelease(ctx, &models.PublishRequest{
		Version:        "2.0.0",
		Channel:        models.ChannelStable,
		FileName:       "app.zip",
		Checksum:       checksumOf(data),
		MinimumVersion: "1.5.0",
	}, data)
	require.NoError(t, err)

	resp, err := env.service.CheckForUpdate(ctx, &models.UpdateCheckRequest{CurrentVersion: "1.0.0"})
	require.NoError(t, err)
	assert.True(t, resp.UpdateAvailable)
	assert.True(t, resp.Mandatory, "clients below the minimum version cannot defer")

	resp, err = env.service.CheckForUpdate(ctx, &models.UpdateCheckRequest{CurrentVersion: "1.6.0"})
	require.NoError(t, err)
	assert.True(t, resp.UpdateAvailable)
	assert.False(t, resp.Mandatory)
}

func TestCheckForUpdateRateLimited(t *testing.T) {
	env := newTestEnv(t, denyAll(5*time.Minute))

	_, err := env.service.CheckForUpdate(context.Background(), &models.UpdateCheckRequest{
		CurrentVersion: "1.0.0",
		ClientKey:      "client-1",
	})
	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, models.ErrorCodeRateLimited, svcErr.Code)
	assert.Equal(t, 5*time.Minute, svcErr.RetryAfter)

	assert.Contains(t, env.notifier.eventTypes(), models.EventRateLimited)
}

func TestCheckCompatibility(t *testing.T) {
	env := newTestEnv(t, allowAll())
	ctx := context.Background()

	data := buildZip(t, map[string]string{"bin": "v2"})
	_, err := env.service.PublishRelease(ctx, &models.PublishRequest{
		Version:        "2.0.0",
		Channel:        models.ChannelStable,
		FileName:       "app.zip",
		Checksum:       checksumOf(data),
		MinimumVersion: "1.5.0",
	}, data)
	require.NoError(t, err)

	t.Run("Blocked", func(t *testing.T) {
		report, err := env.service.CheckCompatibility(ctx, "2.0.0", models.SystemInfo{
			ClientVersion: "1.0.0",
			OS:            "linux",
			MemoryMB:      8192,
			DiskMB:        10000,
		}, "client-1")
		require.NoError(t, err)
		assert.False(t, report.CanProceed)
		assert.Equal(t, models.SeverityCritical, report.WarningLevel)
		assert.Contains(t, env.notifier.eventTypes(), models.EventCompatibilityIssue)
	})

	t.Run("Proceeds", func(t *testing.T) {
		report, err := env.service.CheckCompatibility(ctx, "2.0.0", models.SystemInfo{
			ClientVersion:  "1.6.0",
			OS:             "linux",
			RuntimeVersion: "1.25",
			MemoryMB:       8192,
			DiskMB:         10000,
		}, "client-1")
		require.NoError(t, err)
		assert.True(t, report.CanProceed)
	})

	t.Run("IndependentRules", func(t *testing.T) {
		report, err := env.service.CheckCompatibility(ctx, "2.0.0", models.SystemInfo{
			ClientVersion: "1.0.0",
			OS:            "plan9",
			MemoryMB:      256,
			DiskMB:        10000,
		}, "")
		require.NoError(t, err)
		// Every failing rule reports, not just the first.
		assert.GreaterOrEqual(t, len(report.Issues), 3)
	})

	t.Run("UnknownVersion", func(t *testing.T) {
		_, err := env.service.CheckCompatibility(ctx, "9.9.9", models.SystemInfo{ClientVersion: "1.0.0"}, "")
		var svcErr *ServiceError
		require.ErrorAs(t, err, &svcErr)
		assert.Equal(t, models.ErrorCodeVersionNotFound, svcErr.Code)
	})
}

func TestDownload(t *testing.T) {
	env := newTestEnv(t, allowAll())
	ctx := context.Background()
	_, data := env.publish(t, "1.0.0", models.ChannelStable, map[string]string{"bin": "payload"})

	t.Run("FullDownload", func(t *testing.T) {
		result, err := env.service.Download(ctx, DownloadRequest{
			Version:   "1.0.0",
			ClientKey: "client-1",
			ClientIP:  "10.0.0.1",
		})
		require.NoError(t, err)
		assert.False(t, result.Partial)
		assert.Equal(t, int64(len(data)), result.Length)

		got, err := io.ReadAll(result.Reader)
		require.NoError(t, err)
		require.NoError(t, result.Reader.Close())
		assert.Equal(t, data, got)

		stats, err := env.storage.ReleaseStats(ctx)
		require.NoError(t, err)
		require.Len(t, stats, 1)
		assert.Equal(t, int64(1), stats[0].CompletedCount)
		assert.Equal(t, int64(len(data)), stats[0].BytesTransferred)
	})

	t.Run("RangeDownload", func(t *testing.T) {
		start := int64(10)
		result, err := env.service.Download(ctx, DownloadRequest{
			Version:    "1.0.0",
			ClientKey:  "client-1",
			ClientIP:   "10.0.0.1",
			RangeStart: &start,
		})
		require.NoError(t, err)
		assert.True(t, result.Partial)
		assert.Equal(t, int64(len(data))-10, result.Length)
		assert.Equal(t, int64(len(data)), result.Total)
		require.NotNil(t, result.Attempt.ResumedFrom)
		assert.Equal(t, int64(10), *result.Attempt.ResumedFrom)

		got, err := io.ReadAll(result.Reader)
		require.NoError(t, err)
		require.NoError(t, result.Reader.Close())
		assert.Equal(t, data[10:], got)
	})

	t.Run("AbortedDownloadFails", func(t *testing.T) {
		result, err := env.service.Download(ctx, DownloadRequest{
			Version:   "1.0.0",
			ClientKey: "client-2",
			ClientIP:  "10.0.0.2",
		})
		require.NoError(t, err)

		// Read a few bytes, then drop the connection.
		buf := make([]byte, 4)
		_, err = result.Reader.Read(buf)
		require.NoError(t, err)
		require.NoError(t, result.Reader.Close())

		stats, err := env.storage.ReleaseStats(ctx)
		require.NoError(t, err)
		require.Len(t, stats, 1)
		assert.Equal(t, int64(1), stats[0].FailedCount)
	})

	t.Run("RangeNotSatisfiable", func(t *testing.T) {
		start := int64(len(data))
		_, err := env.service.Download(ctx, DownloadRequest{
			Version:    "1.0.0",
			ClientKey:  "client-1",
			RangeStart: &start,
		})
		var svcErr *ServiceError
		require.ErrorAs(t, err, &svcErr)
		assert.Equal(t, models.ErrorCodeRangeNotSatisfiable, svcErr.Code)
	})

	t.Run("UnknownVersion", func(t *testing.T) {
		_, err := env.service.Download(ctx, DownloadRequest{Version: "9.9.9", ClientKey: "client-1"})
		var svcErr *ServiceError
		require.ErrorAs(t, err, &svcErr)
		assert.Equal(t, models.ErrorCodeVersionNotFound, svcErr.Code)
	})

	t.Run("InactiveVersionHidden", func(t *testing.T) {
		_, err := env.catalog.SetActive(ctx, "1.0.0", false)
		require.NoError(t, err)
		defer env.catalog.SetActive(ctx, "1.0.0", true)

		_, err = env.service.Download(ctx, DownloadRequest{Version: "1.0.0", ClientKey: "client-1"})
		var svcErr *ServiceError
		require.ErrorAs(t, err, &svcErr)
		assert.Equal(t, models.ErrorCodeVersionNotFound, svcErr.Code)
	})
}

func TestDownloadRateLimited(t *testing.T) {
	env := newTestEnv(t, denyAll(time.Minute))

	_, err := env.service.Download(context.Background(), DownloadRequest{
		Version:   "1.0.0",
		ClientKey: "client-1",
	})
	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, models.ErrorCodeRateLimited, svcErr.Code)
	assert.Contains(t, env.notifier.eventTypes(), models.EventRateLimited)

	// Denied before touching storage: no attempt recorded.
	stats, err := env.storage.ReleaseStats(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stats)
}

func TestGetDelta(t *testing.T) {
	env := newTestEnv(t, allowAll())
	ctx := context.Background()

	env.publish(t, "1.0.0", models.ChannelStable, map[string]string{
		"bin/app":  "version one binary",
		"lib/core": "shared library that stays the same across versions",
	})
	env.publish(t, "1.1.0", models.ChannelStable, map[string]string{
		"bin/app":  "version two binary",
		"lib/core": "shared library that stays the same across versions",
	})

	pkg, err := env.service.GetDelta(ctx, "1.0.0", "1.1.0")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", pkg.FromVersion)
	assert.Equal(t, "1.1.0", pkg.ToVersion)
	require.Len(t, pkg.Entries, 1)
	assert.Equal(t, "bin/app", pkg.Entries[0].Path)
	assert.Equal(t, models.DeltaOpModified, pkg.Entries[0].Operation)

	t.Run("UnknownSource", func(t *testing.T) {
		_, err := env.service.GetDelta(ctx, "0.9.0", "1.1.0")
		var svcErr *ServiceError
		require.ErrorAs(t, err, &svcErr)
		assert.Equal(t, models.ErrorCodeVersionNotFound, svcErr.Code)
	})
}

func TestDownloadDeltaFallback(t *testing.T) {
	env := newTestEnv(t, allowAll())
	ctx := context.Background()

	// Both entries change, so the delta cannot beat the full package.
	env.publish(t, "1.0.0", models.ChannelStable, map[string]string{"a": "one", "b": "two"})
	_, fullData := env.publish(t, "1.1.0", models.ChannelStable, map[string]string{"a": "three", "b": "four"})

	result, err := env.service.DownloadDelta(ctx, "1.0.0", DownloadRequest{
		Version:   "1.1.0",
		ClientKey: "client-1",
		ClientIP:  "10.0.0.1",
	})
	require.NoError(t, err)
	require.NotNil(t, result.Delta)
	assert.True(t, result.Delta.FallbackToFull)

	got, err := io.ReadAll(result.Reader)
	require.NoError(t, err)
	require.NoError(t, result.Reader.Close())
	assert.Equal(t, fullData, got, "fallback serves the full package")
}

func TestPublishRelease(t *testing.T) {
	env := newTestEnv(t, allowAll())
	ctx := context.Background()

	t.Run("AnnouncesToSubscribers", func(t *testing.T) {
		release, _ := env.publish(t, "1.0.0", models.ChannelStable, map[string]string{"bin": "v1"})
		require.Len(t, env.notifier.releases, 1)
		assert.Equal(t, release.Version, env.notifier.releases[0].Version)
	})

	t.Run("Duplicate", func(t *testing.T) {
		data := buildZip(t, map[string]string{"bin": "v1 again"})
		_, err := env.service.PublishRelease(ctx, &models.PublishRequest{
			Version:  "1.0.0",
			Channel:  models.ChannelBeta,
			FileName: "app.zip",
			Checksum: checksumOf(data),
		}, data)
		var svcErr *ServiceError
		require.ErrorAs(t, err, &svcErr)
		assert.Equal(t, models.ErrorCodeDuplicateVersion, svcErr.Code)
	})

	t.Run("ChecksumMismatch", func(t *testing.T) {
		data := buildZip(t, map[string]string{"bin": "v2"})
		_, err := env.service.PublishRelease(ctx, &models.PublishRequest{
			Version:  "2.0.0",
			Channel:  models.ChannelStable,
			FileName: "app.zip",
			Checksum: checksumOf([]byte("other bytes")),
		}, data)
		var svcErr *ServiceError
		require.ErrorAs(t, err, &svcErr)
		assert.Equal(t, models.ErrorCodeChecksumMismatch, svcErr.Code)
	})

	t.Run("InvalidArchive", func(t *testing.T) {
		data := []byte("not a zip at all")
		_, err := env.service.PublishRelease(ctx, &models.PublishRequest{
			Version:  "2.0.0",
			Channel:  models.ChannelStable,
			FileName: "app.zip",
			Checksum: checksumOf(data),
		}, data)
		var svcErr *ServiceError
		require.ErrorAs(t, err, &svcErr)
		assert.Equal(t, models.ErrorCodeInvalidArtifact, svcErr.Code)
	})

	t.Run("InvalidVersion", func(t *testing.T) {
		data := buildZip(t, map[string]string{"bin": "v3"})
		_, err := env.service.PublishRelease(ctx, &models.PublishRequest{
			Version:  "not-semver",
			Channel:  models.ChannelStable,
			FileName: "app.zip",
			Checksum: checksumOf(data),
		}, data)
		var svcErr *ServiceError
		require.ErrorAs(t, err, &svcErr)
		assert.Equal(t, models.ErrorCodeValidation, svcErr.Code)
	})
}

func TestReconcileStuckAttempts(t *testing.T) {
	env := newTestEnv(t, allowAll())
	ctx := context.Background()
	env.publish(t, "1.0.0", models.ChannelStable, map[string]string{"bin": "v1"})

	stuck := models.NewDownloadAttempt("1.0.0", "client-1", "10.0.0.1")
	stuck.StartedAt = time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, stuck.Transition(models.DownloadStatusInProgress))
	require.NoError(t, env.storage.CreateDownloadAttempt(ctx, stuck))

	fresh := models.NewDownloadAttempt("1.0.0", "client-2", "10.0.0.2")
	require.NoError(t, env.storage.CreateDownloadAttempt(ctx, fresh))

	reconciled, err := env.service.ReconcileStuckAttempts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reconciled)

	stats, err := env.storage.ReleaseStats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, int64(1), stats[0].FailedCount)
	assert.Equal(t, int64(2), stats[0].TotalAttempts)
}
