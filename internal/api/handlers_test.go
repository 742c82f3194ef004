package api

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
	"updatehub/internal/artifact"
	"updatehub/internal/auth"
	"updatehub/internal/catalog"
	"updatehub/internal/delta"
	"updatehub/internal/models"
	"updatehub/internal/ratelimit"
	"updatehub/internal/storage"
	"updatehub/internal/update"
	"updatehub/internal/version"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	adminToken  = "admin-token"
	readerToken = "reader-token"
)

type apiEnv struct {
	router   http.Handler
	handlers *Handlers
	service  *update.Service
	catalog  *catalog.Service
	storage  *storage.MemoryStorage
}

type envOptions struct {
	limiter    ratelimit.Limiter
	enableAuth bool
	routeOpts  []RouteOption
}

func newAPIEnv(t *testing.T, opts envOptions) *apiEnv {
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
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	service := update.NewService(cat, st, artifacts, deltas, opts.limiter, nil,
		models.DownloadConfig{}, logger)

	handlers := NewHandlers(service, cat, st, nil, nil, version.Info{Version: "test"}, logger)

	authenticator := auth.NewStaticAuthenticator([]auth.StaticToken{
		{Token: adminToken, Subject: "release-bot", Roles: []string{auth.RoleAdmin}},
		{Token: readerToken, Subject: "reader", Roles: []string{"VIEWER"}},
	})

	config := models.NewDefaultConfig()
	config.Security.EnableAuth = opts.enableAuth

	return &apiEnv{
		router:   SetupRoutes(handlers, authenticator, config, opts.routeOpts...),
		handlers: handlers,
		service:  service,
		catalog:  cat,
		storage:  st,
	}
}

func (env *apiEnv) do(t *testing.T, method, target string, body io.Reader, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func buildTestZip(t *testing.T, entries map[string]string) []byte {
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

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (env *apiEnv) publish(t *testing.T, ver, channel string, entries map[string]string) []byte {
	t.Helper()
	data := buildTestZip(t, entries)
	_, err := env.service.PublishRelease(context.Background(), &models.PublishRequest{
		Version:  ver,
		Channel:  channel,
		FileName: "app-" + ver + ".zip",
		Checksum: sha256Hex(data),
	}, data)
	require.NoError(t, err)
	return data
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func TestGetLatestVersion(t *testing.T) {
	env := newAPIEnv(t, envOptions{})
	env.publish(t, "1.2.0", models.ChannelStable, map[string]string{"bin": "v1.2.0"})

	t.Run("DefaultsToStable", func(t *testing.T) {
		rec := env.do(t, "GET", "/api/v1/updates/latest", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decodeJSON[models.LatestVersionResponse](t, rec)
		assert.Equal(t, "1.2.0", resp.Version)
		assert.Equal(t, models.ChannelStable, resp.Channel)
		assert.NotEmpty(t, resp.Checksum)
	})

	t.Run("EmptyChannel", func(t *testing.T) {
		rec := env.do(t, "GET", "/api/v1/updates/latest?channel=beta", nil, nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
		resp := decodeJSON[models.ErrorResponse](t, rec)
		assert.Equal(t, models.ErrorCodeNoActiveVersion, resp.Code)
	})

	t.Run("UnknownChannel", func(t *testing.T) {
		rec := env.do(t, "GET", "/api/v1/updates/latest?channel=weekly", nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestCheckForUpdatesEndpoint(t *testing.T) {
	env := newAPIEnv(t, envOptions{})
	env.publish(t, "2.0.0", models.ChannelStable, map[string]string{"bin": "v2"})

	t.Run("UpdateAvailable", func(t *testing.T) {
		rec := env.do(t, "GET", "/api/v1/updates/check?current_version=1.0.0", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decodeJSON[models.UpdateCheckResponse](t, rec)
		assert.True(t, resp.UpdateAvailable)
		assert.Equal(t, "2.0.0", resp.LatestVersion)
	})

	t.Run("MissingCurrentVersion", func(t *testing.T) {
		rec := env.do(t, "GET", "/api/v1/updates/check", nil, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		resp := decodeJSON[models.ErrorResponse](t, rec)
		assert.Equal(t, models.ErrorCodeInvalidRequest, resp.Code)
	})
}

func TestDownloadVersionEndpoint(t *testing.T) {
	env := newAPIEnv(t, envOptions{})
	data := env.publish(t, "1.0.0", models.ChannelStable, map[string]string{"bin": "payload bytes"})

	t.Run("FullDownload", func(t *testing.T) {
		rec := env.do(t, "GET", "/api/v1/updates/download/1.0.0", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
		assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
		assert.Equal(t, sha256Hex(data), rec.Header().Get("X-Checksum"))
		assert.Contains(t, rec.Header().Get("Content-Disposition"), "app-1.0.0.zip")
		assert.Equal(t, data, rec.Body.Bytes())
	})

	t.Run("RangeResume", func(t *testing.T) {
		header := http.Header{"Range": []string{"bytes=10-"}}
		rec := env.do(t, "GET", "/api/v1/updates/download/1.0.0", nil, header)
		require.Equal(t, http.StatusPartialContent, rec.Code)
		expectedRange := "bytes 10-" +
			itoa(int64(len(data)-1)) + "/" + itoa(int64(len(data)))
		assert.Equal(t, expectedRange, rec.Header().Get("Content-Range"))
		assert.Equal(t, data[10:], rec.Body.Bytes())
	})

	t.Run("BoundedRange", func(t *testing.T) {
		header := http.Header{"Range": []string{"bytes=0-9"}}
		rec := env.do(t, "GET", "/api/v1/updates/download/1.0.0", nil, header)
		require.Equal(t, http.StatusPartialContent, rec.Code)
		assert.Equal(t, data[:10], rec.Body.Bytes())
		assert.Equal(t, "bytes 0-9/"+itoa(int64(len(data))), rec.Header().Get("Content-Range"))
	})

	t.Run("RangeBeyondSize", func(t *testing.T) {
		header := http.Header{"Range": []string{"bytes=999999-"}}
		rec := env.do(t, "GET", "/api/v1/updates/download/1.0.0", nil, header)
		assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code)
	})

	t.Run("MalformedRange", func(t *testing.T) {
		header := http.Header{"Range": []string{"bytes=abc-"}}
		rec := env.do(t, "GET", "/api/v1/updates/download/1.0.0", nil, header)
		assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code)
	})

	t.Run("UnknownVersion", func(t *testing.T) {
		rec := env.do(t, "GET", "/api/v1/updates/download/9.9.9", nil, nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
		resp := decodeJSON[models.ErrorResponse](t, rec)
		assert.Equal(t, models.ErrorCodeVersionNotFound, resp.Code)
	})
}

func TestCheckCompatibilityEndpoint(t *testing.T) {
	env := newAPIEnv(t, envOptions{})
	env.publish(t, "2.0.0", models.ChannelStable, map[string]string{"bin": "v2"})

	t.Run("Report", func(t *testing.T) {
		rec := env.do(t, "GET",
			"/api/v1/updates/compatibility/2.0.0?client_version=1.9.0&os=linux&runtime_version=1.25&memory_mb=8192&disk_mb=50000",
			nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		report := decodeJSON[models.CompatibilityReport](t, rec)
		assert.True(t, report.CanProceed)
		assert.Equal(t, "2.0.0", report.TargetVersion)
	})

	t.Run("MissingClientVersion", func(t *testing.T) {
		rec := env.do(t, "GET", "/api/v1/updates/compatibility/2.0.0", nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestDeltaEndpoints(t *testing.T) {
	env := newAPIEnv(t, envOptions{})
	env.publish(t, "1.0.0", models.ChannelStable, map[string]string{
		"bin/app":  "version one",
		"lib/core": "a stable shared library that does not change between releases",
	})
	env.publish(t, "1.1.0", models.ChannelStable, map[string]string{
		"bin/app":  "version two",
		"lib/core": "a stable shared library that does not change between releases",
	})

	t.Run("Info", func(t *testing.T) {
		rec := env.do(t, "GET", "/api/v1/updates/delta/1.0.0/1.1.0", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		pkg := decodeJSON[models.DeltaPackage](t, rec)
		assert.Equal(t, "1.0.0", pkg.FromVersion)
		assert.Equal(t, "1.1.0", pkg.ToVersion)
		require.Len(t, pkg.Entries, 1)
		assert.Equal(t, "bin/app", pkg.Entries[0].Path)
	})

	t.Run("Download", func(t *testing.T) {
		rec := env.do(t, "GET", "/api/v1/updates/delta/1.0.0/1.1.0/download", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		// The body is a zip archive either way; a delta with no fallback
		// header means the diff was worth shipping.
		assert.Equal(t, "PK", rec.Body.String()[:2])
	})

	t.Run("UnknownSource", func(t *testing.T) {
		rec := env.do(t, "GET", "/api/v1/updates/delta/0.0.1/1.1.0", nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

// denyingLimiter rejects everything with a fixed retry hint.
type denyingLimiter struct{}

func (denyingLimiter) Allow(clientKey, class string) ratelimit.Decision {
	return ratelimit.Decision{Allowed: false, RetryAfter: 90 * time.Second}
}

func (denyingLimiter) Close() {}

func TestRateLimitedResponses(t *testing.T) {
	env := newAPIEnv(t, envOptions{limiter: denyingLimiter{}})
	env.publish(t, "1.0.0", models.ChannelStable, map[string]string{"bin": "v1"})

	rec := env.do(t, "GET", "/api/v1/updates/check?current_version=0.9.0", nil, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "91", rec.Header().Get("Retry-After"))
	resp := decodeJSON[models.ErrorResponse](t, rec)
	assert.Equal(t, models.ErrorCodeRateLimited, resp.Code)

	rec = env.do(t, "GET", "/api/v1/updates/download/1.0.0", nil, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	env := newAPIEnv(t, envOptions{})

	rec := env.do(t, "GET", "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeJSON[models.HealthCheckResponse](t, rec)
	assert.Equal(t, models.StatusHealthy, resp.Status)
	assert.Contains(t, resp.Components, "storage")
}

func TestMethodNotAllowed(t *testing.T) {
	env := newAPIEnv(t, envOptions{})

	rec := env.do(t, "POST", "/api/v1/updates/latest", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

// multipartUpload builds a publish request body with the given metadata
// fields and artifact bytes.
func multipartUpload(t *testing.T, fields map[string]string, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for key, value := range fields {
		require.NoError(t, w.WriteField(key, value))
	}
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}
