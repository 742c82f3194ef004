// Package api exposes the update service over HTTP: public update/download
// endpoints, the admin surface, and the WebSocket notification channel.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"updatehub/internal/auth"
	"updatehub/internal/catalog"
	"updatehub/internal/models"
	"updatehub/internal/ratelimit"
	"updatehub/internal/realtime"
	"updatehub/internal/storage"
	"updatehub/internal/update"
	"updatehub/internal/version"

	"github.com/gorilla/mux"
)

// Handlers contains the HTTP handlers for the update API.
type Handlers struct {
	service  *update.Service
	catalog  *catalog.Service
	storage  storage.Storage
	registry *realtime.Registry
	ws       http.Handler
	version  version.Info
	logger   *slog.Logger
}

// NewHandlers creates a handlers instance. registry and ws may be nil when
// the realtime channel is disabled.
func NewHandlers(service *update.Service, cat *catalog.Service, st storage.Storage, registry *realtime.Registry, ws http.Handler, ver version.Info, logger *slog.Logger) *Handlers {
	return &Handlers{
		service:  service,
		catalog:  cat,
		storage:  st,
		registry: registry,
		ws:       ws,
		version:  ver,
		logger:   logger,
	}
}

// clientKey identifies the caller for rate limiting and notification routing:
// the authenticated subject when present, the client_key query parameter
// otherwise, the remote IP as a last resort.
func clientKey(r *http.Request) string {
	if identity, ok := auth.IdentityFrom(r.Context()); ok {
		return identity.Subject
	}
	if key := r.URL.Query().Get("client_key"); key != "" {
		return key
	}
	return ratelimit.ClientIP(r)
}

// GetLatestVersion handles latest version requests.
// GET /api/v1/updates/latest?channel=
func (h *Handlers) GetLatestVersion(w http.ResponseWriter, r *http.Request) {
	channel := r.URL.Query().Get("channel")
	if channel == "" {
		channel = models.ChannelStable
	}

	release, err := h.service.Latest(r.Context(), channel)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	response := &models.LatestVersionResponse{}
	response.FromRelease(release)
	h.writeJSONResponse(w, http.StatusOK, response)
}

// CheckForUpdates handles update check requests.
// GET /api/v1/updates/check?current_version=&channel=
func (h *Handlers) CheckForUpdates(w http.ResponseWriter, r *http.Request) {
	req := &models.UpdateCheckRequest{
		CurrentVersion: r.URL.Query().Get("current_version"),
		Channel:        r.URL.Query().Get("channel"),
		ClientKey:      clientKey(r),
		UserAgent:      r.Header.Get("User-Agent"),
	}

	response, err := h.service.CheckForUpdate(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// CheckCompatibility handles compatibility probe requests.
// GET /api/v1/updates/compatibility/{version}?client_version=&os=&runtime_version=&memory_mb=&disk_mb=
func (h *Handlers) CheckCompatibility(w http.ResponseWriter, r *http.Request) {
	target := mux.Vars(r)["version"]
	query := r.URL.Query()

	info := models.SystemInfo{
		ClientVersion:  query.Get("client_version"),
		OS:             query.Get("os"),
		RuntimeVersion: query.Get("runtime_version"),
	}
	if raw := query.Get("memory_mb"); raw != "" {
		if mb, err := strconv.ParseInt(raw, 10, 64); err == nil {
			info.MemoryMB = mb
		}
	}
	if raw := query.Get("disk_mb"); raw != "" {
		if mb, err := strconv.ParseInt(raw, 10, 64); err == nil {
			info.DiskMB = mb
		}
	}

	report, err := h.service.CheckCompatibility(r.Context(), target, info, clientKey(r))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, report)
}

// DownloadVersion streams a release artifact, honoring single-range Range
// headers for resumed downloads.
// GET /api/v1/updates/download/{version}
func (h *Handlers) DownloadVersion(w http.ResponseWriter, r *http.Request) {
	req := update.DownloadRequest{
		Version:   mux.Vars(r)["version"],
		ClientKey: clientKey(r),
		ClientIP:  ratelimit.ClientIP(r),
	}

	if rangeHeader := r.Header.Get("Range"); rangeHeader != "" {
		start, end, err := parseRangeHeader(rangeHeader)
		if err != nil {
			h.writeErrorResponse(w, http.StatusRequestedRangeNotSatisfiable, models.ErrorCodeRangeNotSatisfiable, err.Error())
			return
		}
		req.RangeStart = start
		req.RangeEnd = end
	}

	result, err := h.service.Download(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	defer result.Reader.Close()

	h.writeArtifactHeaders(w, result)
	if result.Partial {
		w.WriteHeader(http.StatusPartialContent)
	}

	if _, err := io.Copy(w, result.Reader); err != nil {
		// Headers are gone; the tracking reader records the failure.
		h.logger.Debug("Download stream interrupted",
			"version", result.Release.Version, "error", err)
	}
}

// GetDeltaInfo returns the delta package manifest between two versions.
// GET /api/v1/updates/delta/{from}/{to}
func (h *Handlers) GetDeltaInfo(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	pkg, err := h.service.GetDelta(r.Context(), vars["from"], vars["to"])
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, pkg)
}

// DownloadDelta streams the delta archive between two versions, or the full
// target artifact when the delta is not worth shipping.
// GET /api/v1/updates/delta/{from}/{to}/download
func (h *Handlers) DownloadDelta(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	req := update.DownloadRequest{
		Version:   vars["to"],
		ClientKey: clientKey(r),
		ClientIP:  ratelimit.ClientIP(r),
	}

	result, err := h.service.DownloadDelta(r.Context(), vars["from"], req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	defer result.Reader.Close()

	if result.Delta != nil && result.Delta.FallbackToFull {
		w.Header().Set("X-Delta-Fallback", "full")
	}
	h.writeArtifactHeaders(w, result)

	if _, err := io.Copy(w, result.Reader); err != nil {
		h.logger.Debug("Delta download stream interrupted",
			"version", result.Release.Version, "error", err)
	}
}

// ServeWebSocket upgrades the connection to the realtime notification
// channel.
// GET /api/v1/ws
func (h *Handlers) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.ws == nil {
		h.writeErrorResponse(w, http.StatusNotFound, models.ErrorCodeNotFound, "Realtime channel is disabled")
		return
	}
	h.ws.ServeHTTP(w, r)
}

// HealthCheck handles health check requests.
// GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.NewHealthCheckResponse(models.StatusHealthy)
	response.Version = h.version.Version

	if err := h.storage.Ping(r.Context()); err != nil {
		response.Status = models.StatusDegraded
		response.AddComponent("storage", models.StatusUnhealthy, err.Error())
	} else {
		response.AddComponent("storage", models.StatusHealthy, "Storage is operational")
	}
	response.AddComponent("api", models.StatusHealthy, "API is operational")
	if h.registry != nil {
		response.AddComponent("realtime", models.StatusHealthy,
			fmt.Sprintf("%d active sessions", h.registry.Count()))
	}

	status := http.StatusOK
	if response.Status != models.StatusHealthy {
		status = http.StatusServiceUnavailable
	}
	h.writeJSONResponse(w, status, response)
}

// writeArtifactHeaders sets the download headers shared by full and delta
// streams.
func (h *Handlers) writeArtifactHeaders(w http.ResponseWriter, result *update.DownloadResult) {
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Length", strconv.FormatInt(result.Length, 10))
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", result.Release.FileName))
	w.Header().Set("X-Checksum", result.Release.Checksum)
	w.Header().Set("X-Checksum-Type", result.Release.ChecksumType)
	if result.Partial && result.Attempt.ResumedFrom != nil {
		start := *result.Attempt.ResumedFrom
		w.Header().Set("Content-Range",
			fmt.Sprintf("bytes %d-%d/%d", start, start+result.Length-1, result.Total))
	}
}

// parseRangeHeader parses a single-range bytes specifier. Multi-range and
// suffix-range requests are rejected; clients resume from an offset, nothing
// fancier.
func parseRangeHeader(header string) (*int64, *int64, error) {
	const prefix = "bytes="
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return nil, nil, fmt.Errorf("unsupported range unit in %q", header)
	}
	spec := header[len(prefix):]

	dash := -1
	for i, c := range spec {
		if c == '-' {
			dash = i
			break
		}
	}
	if dash <= 0 {
		return nil, nil, fmt.Errorf("unsupported range specifier %q", spec)
	}

	start, err := strconv.ParseInt(spec[:dash], 10, 64)
	if err != nil || start < 0 {
		return nil, nil, fmt.Errorf("invalid range start in %q", spec)
	}

	var end *int64
	if rest := spec[dash+1:]; rest != "" {
		e, err := strconv.ParseInt(rest, 10, 64)
		if err != nil || e < start {
			return nil, nil, fmt.Errorf("invalid range end in %q", spec)
		}
		end = &e
	}
	return &start, end, nil
}

// writeServiceError maps a service error onto its HTTP representation. Rate
// limit rejections carry a Retry-After header.
func (h *Handlers) writeServiceError(w http.ResponseWriter, err error) {
	var svcErr *update.ServiceError
	if errors.As(err, &svcErr) {
		if svcErr.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(svcErr.RetryAfter.Seconds())+1))
		}
		h.writeErrorResponse(w, svcErr.StatusCode, svcErr.Code, svcErr.Message)
		return
	}
	h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Internal server error")
}

// writeJSONResponse writes a JSON response.
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", "error", err)
	}
}

// writeErrorResponse writes an error response.
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	h.writeJSONResponse(w, statusCode, models.NewErrorResponse(message, errorCode))
}
