package storage

import "errors"

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrDuplicateVersion is returned when creating a release whose version
// already exists, active or inactive.
var ErrDuplicateVersion = errors.New("version already exists")

// ErrNoActiveRelease is returned when a channel has no active release.
var ErrNoActiveRelease = errors.New("no active release for channel")

// ErrReleaseActive is returned when deleting a release that is still active.
var ErrReleaseActive = errors.New("release is still active")

// ErrAttemptFinalized is returned when updating a download attempt that has
// already reached a terminal status.
var ErrAttemptFinalized = errors.New("download attempt already finalized")
