// Package models - API request types and input validation.
// This file defines all incoming API request structures with validation
// and normalization separated for clear error reporting.
package models

import (
	"errors"
	"fmt"
	"strings"
)

// UpdateCheckRequest represents a request to check for available updates.
//
// CurrentVersion is the client's installed version; Channel selects which
// release track to compare against. ClientKey identifies the caller for rate
// limiting and analytics.
type UpdateCheckRequest struct {
	CurrentVersion string `json:"current_version"`
	Channel        string `json:"channel"`
	ClientKey      string `json:"client_key,omitempty"`
	UserAgent      string `json:"user_agent,omitempty"`
}

func (r *UpdateCheckRequest) Validate() error {
	if r.CurrentVersion == "" {
		return errors.New("current_version is required")
	}
	if r.Channel != "" && !IsValidChannel(r.Channel) {
		return fmt.Errorf("invalid channel: %s", r.Channel)
	}
	return nil
}

func (r *UpdateCheckRequest) Normalize() {
	r.CurrentVersion = strings.TrimSpace(r.CurrentVersion)
	r.Channel = strings.ToLower(strings.TrimSpace(r.Channel))
	if r.Channel == "" {
		r.Channel = ChannelStable
	}
}

// SystemInfo describes the client environment for compatibility checking.
// Zero-valued fields are treated as unknown and skip the corresponding rule.
type SystemInfo struct {
	ClientVersion  string `json:"client_version"`
	OS             string `json:"os,omitempty"`
	RuntimeVersion string `json:"runtime_version,omitempty"`
	MemoryMB       int64  `json:"memory_mb,omitempty"`
	DiskMB         int64  `json:"disk_mb,omitempty"`
}

func (s *SystemInfo) Validate() error {
	if s.ClientVersion == "" {
		return errors.New("client_version is required")
	}
	if s.MemoryMB < 0 {
		return errors.New("memory_mb cannot be negative")
	}
	if s.DiskMB < 0 {
		return errors.New("disk_mb cannot be negative")
	}
	return nil
}

// PublishRequest represents the metadata half of an admin release upload.
// The artifact bytes travel alongside it as a multipart file part.
type PublishRequest struct {
	Version        string `json:"version"`
	Channel        string `json:"channel"`
	FileName       string `json:"file_name"`
	Checksum       string `json:"checksum"`
	ReleaseNotes   string `json:"release_notes,omitempty"`
	MinimumVersion string `json:"minimum_version,omitempty"`
	Mandatory      bool   `json:"mandatory"`
	CreatedBy      string `json:"created_by,omitempty"`
}

func (r *PublishRequest) Validate() error {
	if r.Version == "" {
		return errors.New("version is required")
	}
	if r.Channel == "" {
		return errors.New("channel is required")
	}
	if !IsValidChannel(r.Channel) {
		return fmt.Errorf("invalid channel: %s", r.Channel)
	}
	if r.FileName == "" {
		return errors.New("file_name is required")
	}
	if r.Checksum == "" {
		return errors.New("checksum is required")
	}
	if r.MinimumVersion != "" {
		if _, err := ParseVersion(r.MinimumVersion); err != nil {
			return fmt.Errorf("invalid minimum_version: %w", err)
		}
	}
	return nil
}

func (r *PublishRequest) Normalize() {
	r.Version = strings.TrimSpace(r.Version)
	r.Channel = strings.ToLower(strings.TrimSpace(r.Channel))
	r.FileName = strings.TrimSpace(r.FileName)
	r.Checksum = strings.ToLower(strings.TrimSpace(r.Checksum))
}

// ListReleasesRequest represents an admin release listing query.
type ListReleasesRequest struct {
	Channel string `json:"channel,omitempty"`
	Active  *bool  `json:"active,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	Offset  int    `json:"offset,omitempty"`
}

func (r *ListReleasesRequest) Validate() error {
	if r.Channel != "" && !IsValidChannel(r.Channel) {
		return fmt.Errorf("invalid channel: %s", r.Channel)
	}
	if r.Limit < 0 {
		return errors.New("limit cannot be negative")
	}
	if r.Offset < 0 {
		return errors.New("offset cannot be negative")
	}
	return nil
}

func (r *ListReleasesRequest) Normalize() {
	r.Channel = strings.ToLower(strings.TrimSpace(r.Channel))
	if r.Limit == 0 || r.Limit > 100 {
		r.Limit = 50
	}
}
