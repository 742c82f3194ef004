// Package models - API response types and error envelope.
// This file defines all outgoing API response structures with consistent
// formatting: machine-readable error codes, omitempty on optional fields,
// RFC3339 timestamps.
package models

import (
	"time"
)

// UpdateCheckResponse tells a client whether a newer release exists on its
// channel. Download information is only populated when an update is
// available.
type UpdateCheckResponse struct {
	UpdateAvailable bool       `json:"update_available"`
	CurrentVersion  string     `json:"current_version"`
	LatestVersion   string     `json:"latest_version,omitempty"`
	Channel         string     `json:"channel"`
	Mandatory       bool       `json:"mandatory"`
	FileName        string     `json:"file_name,omitempty"`
	FileSize        int64      `json:"file_size,omitempty"`
	Checksum        string     `json:"checksum,omitempty"`
	ChecksumType    string     `json:"checksum_type,omitempty"`
	ReleaseNotes    string     `json:"release_notes,omitempty"`
	ReleaseDate     *time.Time `json:"release_date,omitempty"`
	MinimumVersion  string     `json:"minimum_version,omitempty"`
}

// SetUpdateAvailable fills the response from the winning release.
func (r *UpdateCheckResponse) SetUpdateAvailable(release *Release) {
	r.UpdateAvailable = true
	r.LatestVersion = release.Version
	r.Channel = release.Channel
	r.Mandatory = release.Mandatory
	r.FileName = release.FileName
	r.FileSize = release.FileSize
	r.Checksum = release.Checksum
	r.ChecksumType = release.ChecksumType
	r.ReleaseNotes = release.ReleaseNotes
	r.ReleaseDate = &release.ReleaseDate
	r.MinimumVersion = release.MinimumVersion
}

// SetNoUpdateAvailable marks the client as current.
func (r *UpdateCheckResponse) SetNoUpdateAvailable(currentVersion, channel string) {
	r.UpdateAvailable = false
	r.CurrentVersion = currentVersion
	r.Channel = channel
}

// LatestVersionResponse describes the latest active release on a channel.
type LatestVersionResponse struct {
	Version        string    `json:"version"`
	Channel        string    `json:"channel"`
	FileName       string    `json:"file_name"`
	FileSize       int64     `json:"file_size"`
	Checksum       string    `json:"checksum"`
	ChecksumType   string    `json:"checksum_type"`
	ReleaseNotes   string    `json:"release_notes,omitempty"`
	ReleaseDate    time.Time `json:"release_date"`
	Mandatory      bool      `json:"mandatory"`
	MinimumVersion string    `json:"minimum_version,omitempty"`
}

func (r *LatestVersionResponse) FromRelease(release *Release) {
	r.Version = release.Version
	r.Channel = release.Channel
	r.FileName = release.FileName
	r.FileSize = release.FileSize
	r.Checksum = release.Checksum
	r.ChecksumType = release.ChecksumType
	r.ReleaseNotes = release.ReleaseNotes
	r.ReleaseDate = release.ReleaseDate
	r.Mandatory = release.Mandatory
	r.MinimumVersion = release.MinimumVersion
}

// Compatibility issue severities, ordered info < warning < critical.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// CompatibilityIssue is one finding produced by a compatibility rule.
type CompatibilityIssue struct {
	Rule     string `json:"rule"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// CompatibilityReport aggregates the findings of all rules.
// CanProceed is false only when a critical issue is present; WarningLevel is
// the maximum severity seen.
type CompatibilityReport struct {
	TargetVersion string               `json:"target_version"`
	CanProceed    bool                 `json:"can_proceed"`
	WarningLevel  string               `json:"warning_level,omitempty"`
	Issues        []CompatibilityIssue `json:"issues"`
}

// SeverityRank orders severities for max computations.
func SeverityRank(severity string) int {
	switch severity {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

type ListReleasesResponse struct {
	Releases   []*Release `json:"releases"`
	TotalCount int        `json:"total_count"`
	Page       int        `json:"page"`
	PageSize   int        `json:"page_size"`
	HasMore    bool       `json:"has_more"`
}

type PublishResponse struct {
	ID        string    `json:"id"`
	Version   string    `json:"version"`
	Channel   string    `json:"channel"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

type ToggleStatusResponse struct {
	Version   string    `json:"version"`
	Active    bool      `json:"active"`
	UpdatedAt time.Time `json:"updated_at"`
}

type DeleteReleaseResponse struct {
	Version string `json:"version"`
	Message string `json:"message"`
}

// StatisticsResponse is the admin roll-up of download activity.
type StatisticsResponse struct {
	TotalReleases    int             `json:"total_releases"`
	ActiveReleases   int             `json:"active_releases"`
	TotalDownloads   int64           `json:"total_downloads"`
	FailedDownloads  int64           `json:"failed_downloads"`
	BytesTransferred int64           `json:"bytes_transferred"`
	ActiveSessions   int             `json:"active_sessions"`
	PerRelease       []*ReleaseStats `json:"per_release"`
	GeneratedAt      time.Time       `json:"generated_at"`
}

// ErrorResponse provides structured error information.
type ErrorResponse struct {
	Error     string            `json:"error"`
	Message   string            `json:"message"`
	Code      string            `json:"code,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	RequestID string            `json:"request_id,omitempty"`
}

type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

type ComponentHealth struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Health status constants.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusDegraded  = "degraded"
)

// Machine-readable error codes. Upper-case with underscores; maps onto
// standard HTTP status codes.
const (
	ErrorCodeNotFound            = "NOT_FOUND"
	ErrorCodeVersionNotFound     = "VERSION_NOT_FOUND"
	ErrorCodeNoActiveVersion     = "NO_ACTIVE_VERSION"
	ErrorCodeBadRequest          = "BAD_REQUEST"
	ErrorCodeInvalidRequest      = "INVALID_REQUEST"
	ErrorCodeValidation          = "VALIDATION_ERROR"
	ErrorCodeDuplicateVersion    = "DUPLICATE_VERSION"
	ErrorCodeChecksumMismatch    = "CHECKSUM_MISMATCH"
	ErrorCodeInvalidArtifact     = "INVALID_ARTIFACT"
	ErrorCodeRangeNotSatisfiable = "RANGE_NOT_SATISFIABLE"
	ErrorCodeRateLimited         = "RATE_LIMIT_EXCEEDED"
	ErrorCodeDeltaTooLarge       = "DELTA_TOO_LARGE"
	ErrorCodeInternalError       = "INTERNAL_ERROR"
	ErrorCodeUnauthorized        = "UNAUTHORIZED"
	ErrorCodeForbidden           = "FORBIDDEN"
	ErrorCodeConflict            = "CONFLICT"
	ErrorCodeServiceUnavailable  = "SERVICE_UNAVAILABLE"
	ErrorCodeUnknownSession      = "UNKNOWN_SESSION"
	ErrorCodePayloadTooLarge     = "PAYLOAD_TOO_LARGE"
	ErrorCodeIncompatibleUpgrade = "INCOMPATIBLE_UPGRADE"
)

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     "error",
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

func NewHealthCheckResponse(status string) *HealthCheckResponse {
	return &HealthCheckResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentHealth),
	}
}

func (h *HealthCheckResponse) AddComponent(name, status, message string) {
	h.Components[name] = ComponentHealth{
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	}
}
