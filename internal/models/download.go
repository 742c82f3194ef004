// Package models - Download attempt tracking.
// This file records one client's attempt to fetch a release, from acceptance
// through stream completion or failure.
package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Download attempt statuses. Transitions only move forward:
// started -> in_progress -> completed | failed.
const (
	DownloadStatusStarted    = "started"
	DownloadStatusInProgress = "in_progress"
	DownloadStatusCompleted  = "completed"
	DownloadStatusFailed     = "failed"
)

// DownloadAttempt is one client's attempt to fetch a release. A completed
// record is immutable; attempts stuck in_progress beyond a timeout are
// finalized as failed by the reconciler.
type DownloadAttempt struct {
	ID               string     `json:"id"`
	Version          string     `json:"version"`
	ClientKey        string     `json:"client_key"`
	ClientIP         string     `json:"client_ip"`
	Status           string     `json:"status"`
	BytesTransferred int64      `json:"bytes_transferred"`
	ResumedFrom      *int64     `json:"resumed_from,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// NewDownloadAttempt creates an attempt in the started state.
func NewDownloadAttempt(version, clientKey, clientIP string) *DownloadAttempt {
	return &DownloadAttempt{
		ID:        uuid.New().String(),
		Version:   version,
		ClientKey: clientKey,
		ClientIP:  clientIP,
		Status:    DownloadStatusStarted,
		StartedAt: time.Now().UTC(),
	}
}

// Transition moves the attempt to a new status, enforcing forward-only
// ordering. Terminal statuses set CompletedAt.
func (d *DownloadAttempt) Transition(status string) error {
	if !validDownloadTransition(d.Status, status) {
		return fmt.Errorf("invalid download status transition: %s -> %s", d.Status, status)
	}
	d.Status = status
	if status == DownloadStatusCompleted || status == DownloadStatusFailed {
		now := time.Now().UTC()
		d.CompletedAt = &now
	}
	return nil
}

// IsTerminal reports whether the attempt has reached a final status.
func (d *DownloadAttempt) IsTerminal() bool {
	return d.Status == DownloadStatusCompleted || d.Status == DownloadStatusFailed
}

func validDownloadTransition(from, to string) bool {
	switch from {
	case DownloadStatusStarted:
		return to == DownloadStatusInProgress || to == DownloadStatusCompleted || to == DownloadStatusFailed
	case DownloadStatusInProgress:
		return to == DownloadStatusCompleted || to == DownloadStatusFailed
	default:
		return false
	}
}
