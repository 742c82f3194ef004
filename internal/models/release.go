// Package models - Release metadata and integrity verification.
// This file handles published release records, checksum validation, and
// release channel handling.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
)

// Checksum algorithm constants. SHA256 is the only algorithm the service
// computes; the tag is stored alongside the digest so clients can verify
// with the right function.
const (
	ChecksumTypeSHA256 = "sha256"
)

// Release channels partition which releases are visible to which subscriber
// cohort.
const (
	ChannelStable  = "stable"
	ChannelBeta    = "beta"
	ChannelNightly = "nightly"
	ChannelLTS     = "lts"
	ChannelHotfix  = "hotfix"
)

var SupportedChannels = []string{
	ChannelStable,
	ChannelBeta,
	ChannelNightly,
	ChannelLTS,
	ChannelHotfix,
}

// Release represents one published release of the application.
//
// Version is globally unique across all channels, active or not. Inactive
// releases are excluded from client-facing queries but retained for audit and
// rollback. ArtifactRef points at the content-addressed blob holding the
// release package.
type Release struct {
	ID             string    `json:"id"`
	Version        string    `json:"version"`
	Channel        string    `json:"channel"`
	FileName       string    `json:"file_name"`
	FileSize       int64     `json:"file_size"`
	Checksum       string    `json:"checksum"`
	ChecksumType   string    `json:"checksum_type"`
	ArtifactRef    string    `json:"artifact_ref"`
	ReleaseNotes   string    `json:"release_notes"`
	MinimumVersion string    `json:"minimum_version,omitempty"`
	Mandatory      bool      `json:"mandatory"`
	Active         bool      `json:"active"`
	ReleaseDate    time.Time `json:"release_date"`
	CreatedBy      string    `json:"created_by,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ReleaseFilter provides querying and pagination for release lists.
// Active is a three-state filter: true, false, nil (don't care).
type ReleaseFilter struct {
	Channel string `json:"channel,omitempty"`
	Active  *bool  `json:"active,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	Offset  int    `json:"offset,omitempty"`
}

// NewRelease creates a release record with defaults: active, non-mandatory,
// SHA256 checksums, timestamps set to now.
func NewRelease(version, channel string) *Release {
	now := time.Now().UTC()
	return &Release{
		ID:           uuid.New().String(),
		Version:      version,
		Channel:      strings.ToLower(channel),
		ChecksumType: ChecksumTypeSHA256,
		Active:       true,
		ReleaseDate:  now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (r *Release) Validate() error {
	if r.ID == "" {
		return errors.New("release ID cannot be empty")
	}

	if r.Version == "" {
		return errors.New("version cannot be empty")
	}

	// Strict semver at publish time. The relaxed comparison in version.go is
	// for reading old client-supplied versions, not for accepting new releases.
	if _, err := semver.StrictNewVersion(r.Version); err != nil {
		return fmt.Errorf("invalid version format: %w", err)
	}

	if !IsValidChannel(r.Channel) {
		return fmt.Errorf("invalid channel: %s", r.Channel)
	}

	if r.FileName == "" {
		return errors.New("file name cannot be empty")
	}

	if r.FileSize <= 0 {
		return errors.New("file size must be positive")
	}

	if r.Checksum == "" {
		return errors.New("checksum cannot be empty")
	}

	if r.ChecksumType != ChecksumTypeSHA256 {
		return fmt.Errorf("invalid checksum type: %s", r.ChecksumType)
	}

	if r.ArtifactRef == "" {
		return errors.New("artifact ref cannot be empty")
	}

	if r.MinimumVersion != "" {
		if _, err := ParseVersion(r.MinimumVersion); err != nil {
			return fmt.Errorf("invalid minimum version: %w", err)
		}
	}

	return nil
}

// IsNewerThan reports whether this release's version is greater than the
// given version string.
func (r *Release) IsNewerThan(currentVersion string) bool {
	return CompareVersions(r.Version, currentVersion) > 0
}

// MeetsMinimumVersion reports whether a client at currentVersion satisfies
// this release's minimum version requirement.
func (r *Release) MeetsMinimumVersion(currentVersion string) bool {
	if r.MinimumVersion == "" {
		return true
	}
	return CompareVersions(currentVersion, r.MinimumVersion) >= 0
}

// VerifyChecksum reports whether data hashes to this release's checksum.
func (r *Release) VerifyChecksum(data []byte) bool {
	sum := sha256.Sum256(data)
	return strings.EqualFold(r.Checksum, hex.EncodeToString(sum[:]))
}

func IsValidChannel(channel string) bool {
	channel = strings.ToLower(channel)
	for _, c := range SupportedChannels {
		if c == channel {
			return true
		}
	}
	return false
}

func (rf *ReleaseFilter) Validate() error {
	if rf.Channel != "" && !IsValidChannel(rf.Channel) {
		return fmt.Errorf("invalid channel: %s", rf.Channel)
	}
	if rf.Limit < 0 {
		return errors.New("limit cannot be negative")
	}
	if rf.Offset < 0 {
		return errors.New("offset cannot be negative")
	}
	return nil
}

// ReleaseStats summarizes download activity for one release. Used by the
// admin statistics endpoint.
type ReleaseStats struct {
	Version          string `json:"version"`
	Channel          string `json:"channel"`
	TotalAttempts    int64  `json:"total_attempts"`
	CompletedCount   int64  `json:"completed_count"`
	FailedCount      int64  `json:"failed_count"`
	BytesTransferred int64  `json:"bytes_transferred"`
}
