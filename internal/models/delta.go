// Package models - Differential update packages.
package models

import "time"

// Delta entry operations describing how one archive entry changed between
// two releases.
const (
	DeltaOpAdded    = "added"
	DeltaOpModified = "modified"
	DeltaOpDeleted  = "deleted"
)

// DeltaEntry is one changed entry inside a delta package.
type DeltaEntry struct {
	Path      string `json:"path"`
	Operation string `json:"operation"`
	Checksum  string `json:"checksum,omitempty"`
	Size      int64  `json:"size"`
}

// DeltaPackage is a precomputed diff between two release artifacts.
//
// A package is only offered when DeltaSize is strictly smaller than the
// configured fraction of the full target size; otherwise FallbackToFull is
// set and the coordinator serves the full artifact. Expired packages are
// recomputed, never served stale.
type DeltaPackage struct {
	FromVersion    string       `json:"from_version"`
	ToVersion      string       `json:"to_version"`
	DeltaRef       string       `json:"delta_ref,omitempty"`
	DeltaChecksum  string       `json:"delta_checksum,omitempty"`
	DeltaSize      int64        `json:"delta_size"`
	FullSize       int64        `json:"full_size"`
	FallbackToFull bool         `json:"fallback_to_full"`
	Entries        []DeltaEntry `json:"entries,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	ExpiresAt      time.Time    `json:"expires_at"`
}

// Expired reports whether the package is past its cache lifetime. A zero
// ExpiresAt means the package never expires.
func (p *DeltaPackage) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt)
}

// References reports whether the package involves the given version on
// either side.
func (p *DeltaPackage) References(version string) bool {
	return p.FromVersion == version || p.ToVersion == version
}
