package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"
	"updatehub/internal/auth"
	"updatehub/internal/models"
	"updatehub/internal/storage"

	"github.com/gorilla/mux"
)

// maxPublishMemory bounds how much of a multipart upload is buffered in
// memory before spilling to disk.
const maxPublishMemory = 32 << 20

// PublishVersion handles admin release uploads: multipart metadata fields
// plus the artifact under the "file" part.
// POST /api/v1/admin/versions
func (h *Handlers) PublishVersion(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxPublishMemory); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "Invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "Missing artifact file part")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "Failed to read artifact")
		return
	}

	req := &models.PublishRequest{
		Version:        r.FormValue("version"),
		Channel:        r.FormValue("channel"),
		FileName:       r.FormValue("file_name"),
		Checksum:       r.FormValue("checksum"),
		ReleaseNotes:   r.FormValue("release_notes"),
		MinimumVersion: r.FormValue("minimum_version"),
		Mandatory:      r.FormValue("mandatory") == "true",
	}
	if req.FileName == "" {
		req.FileName = header.Filename
	}
	if identity, ok := auth.IdentityFrom(r.Context()); ok {
		req.CreatedBy = identity.Subject
	}

	h.logger.Info("Release upload",
		"version", req.Version,
		"channel", req.Channel,
		"size", len(data),
		"created_by", req.CreatedBy)

	release, err := h.service.PublishRelease(r.Context(), req, data)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSONResponse(w, http.StatusCreated, &models.PublishResponse{
		ID:        release.ID,
		Version:   release.Version,
		Channel:   release.Channel,
		Message:   "Release published",
		CreatedAt: release.CreatedAt,
	})
}

// ToggleVersionStatus flips a release between active and inactive.
// PATCH /api/v1/admin/versions/{version}/toggle-status
func (h *Handlers) ToggleVersionStatus(w http.ResponseWriter, r *http.Request) {
	version := mux.Vars(r)["version"]

	release, err := h.catalog.Get(r.Context(), version)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.writeErrorResponse(w, http.StatusNotFound, models.ErrorCodeVersionNotFound, "Version not found: "+version)
			return
		}
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Failed to load release")
		return
	}

	updated, err := h.catalog.SetActive(r.Context(), version, !release.Active)
	if err != nil {
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Failed to update release")
		return
	}

	h.logger.Info("Release status toggled", "version", version, "active", updated.Active)

	h.writeJSONResponse(w, http.StatusOK, &models.ToggleStatusResponse{
		Version:   updated.Version,
		Active:    updated.Active,
		UpdatedAt: updated.UpdatedAt,
	})
}

// DeleteVersion permanently removes an inactive release and its derived
// data.
// DELETE /api/v1/admin/versions/{version}
func (h *Handlers) DeleteVersion(w http.ResponseWriter, r *http.Request) {
	version := mux.Vars(r)["version"]

	if err := h.catalog.Delete(r.Context(), version); err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			h.writeErrorResponse(w, http.StatusNotFound, models.ErrorCodeVersionNotFound, "Version not found: "+version)
		case errors.Is(err, storage.ErrReleaseActive):
			h.writeErrorResponse(w, http.StatusConflict, models.ErrorCodeConflict, "Deactivate the release before deleting it")
		default:
			h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Failed to delete release")
		}
		return
	}

	h.logger.Info("Release deleted", "version", version)

	h.writeJSONResponse(w, http.StatusOK, &models.DeleteReleaseResponse{
		Version: version,
		Message: "Release deleted",
	})
}

// ListVersions returns the catalog, paginated and optionally filtered.
// GET /api/v1/admin/versions?channel=&active=&limit=&offset=
func (h *Handlers) ListVersions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	req := &models.ListReleasesRequest{
		Channel: query.Get("channel"),
	}
	if raw := query.Get("active"); raw != "" {
		if active, err := strconv.ParseBool(raw); err == nil {
			req.Active = &active
		}
	}
	if raw := query.Get("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil {
			req.Limit = limit
		}
	}
	if raw := query.Get("offset"); raw != "" {
		if offset, err := strconv.Atoi(raw); err == nil {
			req.Offset = offset
		}
	}

	if err := req.Validate(); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, err.Error())
		return
	}
	req.Normalize()

	releases, total, err := h.catalog.ListPaged(r.Context(), models.ReleaseFilter{
		Channel: req.Channel,
		Active:  req.Active,
		Limit:   req.Limit,
		Offset:  req.Offset,
	})
	if err != nil {
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Failed to list releases")
		return
	}

	h.writeJSONResponse(w, http.StatusOK, &models.ListReleasesResponse{
		Releases:   releases,
		TotalCount: total,
		Page:       req.Offset/req.Limit + 1,
		PageSize:   req.Limit,
		HasMore:    req.Offset+len(releases) < total,
	})
}

// GetStatistics returns the admin roll-up of catalog and download activity.
// GET /api/v1/admin/statistics
func (h *Handlers) GetStatistics(w http.ResponseWriter, r *http.Request) {
	_, total, err := h.catalog.ListPaged(r.Context(), models.ReleaseFilter{Limit: 1})
	if err != nil {
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Failed to gather statistics")
		return
	}
	active := true
	_, activeTotal, err := h.catalog.ListPaged(r.Context(), models.ReleaseFilter{Limit: 1, Active: &active})
	if err != nil {
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Failed to gather statistics")
		return
	}

	perRelease, err := h.catalog.Stats(r.Context())
	if err != nil {
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Failed to gather statistics")
		return
	}

	response := &models.StatisticsResponse{
		TotalReleases:  total,
		ActiveReleases: activeTotal,
		PerRelease:     perRelease,
		GeneratedAt:    time.Now().UTC(),
	}
	for _, stats := range perRelease {
		response.TotalDownloads += stats.CompletedCount
		response.FailedDownloads += stats.FailedCount
		response.BytesTransferred += stats.BytesTransferred
	}
	if h.registry != nil {
		response.ActiveSessions = h.registry.Count()
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}
