// Package artifact stores release packages as content-addressed blobs on the
// filesystem. A blob becomes durable only after checksum verification and
// container validation succeed; partially written files never land under the
// blob root.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"updatehub/internal/models"
)

var (
	// ErrChecksumMismatch means the declared checksum did not match the
	// recomputed digest of the uploaded bytes.
	ErrChecksumMismatch = errors.New("artifact: checksum mismatch")

	// ErrInvalidArtifact means the payload failed container validation.
	ErrInvalidArtifact = errors.New("artifact: invalid archive")

	// ErrTooLarge means the payload exceeds the configured size cap.
	ErrTooLarge = errors.New("artifact: payload too large")

	// ErrNotFound means no blob exists for the given reference.
	ErrNotFound = errors.New("artifact: not found")

	// ErrRangeNotSatisfiable means the requested range start is at or past
	// the end of the blob.
	ErrRangeNotSatisfiable = errors.New("artifact: range not satisfiable")
)

const refPrefix = "sha256/"

// Store is a filesystem-backed, content-addressed blob store. Blobs live at
// <root>/sha256/<aa>/<digest> where aa is the first digest byte, keeping
// directory fan-out flat.
type Store struct {
	root   string
	config models.ArtifactConfig
}

// NewStore creates the blob root if needed and returns a store bound to it.
func NewStore(config models.ArtifactConfig) (*Store, error) {
	if config.Root == "" {
		return nil, fmt.Errorf("artifact root is required")
	}
	if err := os.MkdirAll(filepath.Join(config.Root, "sha256"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact root: %w", err)
	}
	return &Store{root: config.Root, config: config}, nil
}

// Store validates and persists an uploaded package. The declared checksum is
// recomputed over the actual bytes and must match; the payload must be a
// well-formed zip within the configured entry, path, and manifest bounds.
// Returns the content-addressed reference for the stored blob.
//
// The blob is written to a temp file in the same filesystem and renamed into
// place, so readers never observe a partial blob. Storing bytes that already
// exist is a no-op returning the existing reference.
func (s *Store) Store(data []byte, declaredChecksum string) (string, error) {
	return s.store(data, declaredChecksum, s.config)
}

// StoreDerived persists a server-built archive, such as a delta package.
// The upload caps do not apply: the contents come from packages that already
// passed validation, plus a generated instruction list, so a delta for a
// package at the entry cap legitimately exceeds it. Structural checks still
// run; the blob must be a well-formed zip with safe entry paths.
func (s *Store) StoreDerived(data []byte, declaredChecksum string) (string, error) {
	relaxed := s.config
	relaxed.MaxSizeBytes = 0
	relaxed.MaxEntries = 0
	relaxed.MaxManifestBytes = 0
	return s.store(data, declaredChecksum, relaxed)
}

func (s *Store) store(data []byte, declaredChecksum string, config models.ArtifactConfig) (string, error) {
	if config.MaxSizeBytes > 0 && int64(len(data)) > config.MaxSizeBytes {
		return "", fmt.Errorf("%w: %d bytes exceeds cap of %d", ErrTooLarge, len(data), config.MaxSizeBytes)
	}

	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	if !strings.EqualFold(digest, declaredChecksum) {
		return "", fmt.Errorf("%w: declared %s, computed %s", ErrChecksumMismatch, declaredChecksum, digest)
	}

	if err := validateZip(data, config); err != nil {
		return "", err
	}

	ref := refPrefix + digest
	dest := s.blobPath(digest)
	if _, err := os.Stat(dest); err == nil {
		// Content addressing: identical bytes share one blob.
		return ref, nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("failed to create blob directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close blob: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return "", fmt.Errorf("failed to finalize blob: %w", err)
	}
	return ref, nil
}

// Open returns a reader over the whole blob plus its size.
func (s *Store) Open(ref string) (io.ReadSeekCloser, int64, error) {
	digest, err := parseRef(ref)
	if err != nil {
		return nil, 0, err
	}

	f, err := os.Open(s.blobPath(digest))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("failed to open blob: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("failed to stat blob: %w", err)
	}
	return f, info.Size(), nil
}

// OpenRange returns a reader positioned at start, limited to the requested
// range. end is inclusive; a nil end means through the last byte. A start at
// or beyond the blob size is rejected, never clamped.
func (s *Store) OpenRange(ref string, start int64, end *int64) (io.ReadCloser, int64, int64, error) {
	if start < 0 {
		return nil, 0, 0, fmt.Errorf("%w: negative start %d", ErrRangeNotSatisfiable, start)
	}

	f, total, err := s.Open(ref)
	if err != nil {
		return nil, 0, 0, err
	}

	if start >= total {
		f.Close()
		return nil, 0, 0, fmt.Errorf("%w: start %d, size %d", ErrRangeNotSatisfiable, start, total)
	}

	last := total - 1
	if end != nil {
		if *end < start {
			f.Close()
			return nil, 0, 0, fmt.Errorf("%w: end %d before start %d", ErrRangeNotSatisfiable, *end, start)
		}
		if *end < last {
			last = *end
		}
	}

	if _, err := f.Seek(start, io.SeekStart); err != nil {
		f.Close()
		return nil, 0, 0, fmt.Errorf("failed to seek blob: %w", err)
	}

	length := last - start + 1
	return &rangeReader{f: f, remaining: length}, length, total, nil
}

// Checksum returns the hex sha256 digest a reference was stored under.
// Content addressing makes this a parse, but the blob's existence is still
// verified.
func (s *Store) Checksum(ref string) (string, error) {
	digest, err := parseRef(ref)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(s.blobPath(digest)); err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to stat blob: %w", err)
	}
	return digest, nil
}

// Delete removes a blob. Callers are responsible for ensuring no active
// release still references it. Deleting a missing blob is not an error.
func (s *Store) Delete(ref string) error {
	digest, err := parseRef(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(s.blobPath(digest)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

func (s *Store) blobPath(digest string) string {
	return filepath.Join(s.root, "sha256", digest[:2], digest)
}

func parseRef(ref string) (string, error) {
	digest, ok := strings.CutPrefix(ref, refPrefix)
	if !ok || len(digest) != sha256.Size*2 {
		return "", fmt.Errorf("%w: malformed reference %q", ErrNotFound, ref)
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return "", fmt.Errorf("%w: malformed reference %q", ErrNotFound, ref)
	}
	return strings.ToLower(digest), nil
}

// rangeReader limits reads to the requested window and closes the underlying
// file.
type rangeReader struct {
	f         io.ReadSeekCloser
	remaining int64
}

func (r *rangeReader) Read(p []byte) (int, error) {
	if r.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > r.remaining {
		p = p[:r.remaining]
	}
	n, err := r.f.Read(p)
	r.remaining -= int64(n)
	return n, err
}

func (r *rangeReader) Close() error {
	return r.f.Close()
}
