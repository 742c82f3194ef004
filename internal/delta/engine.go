// Package delta computes and caches entry-level differences between two
// release packages, so clients on a recent version can fetch a small patch
// archive instead of the full package.
package delta

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
	"updatehub/internal/models"
)

// ErrDisabled is returned when delta computation is switched off in
// configuration.
var ErrDisabled = errors.New("delta: engine disabled")

// BlobStore is the slice of the artifact store the engine needs: reading
// release packages and persisting computed delta archives. Delta archives go
// through StoreDerived because a delta can carry more entries than the
// upload caps allow.
type BlobStore interface {
	Open(ref string) (io.ReadSeekCloser, int64, error)
	StoreDerived(data []byte, declaredChecksum string) (string, error)
	Delete(ref string) error
}

// Engine computes zip-entry diffs between release packages and caches the
// results. Computation for a given version pair is single-flighted;
// concurrent callers for the same pair share one result.
type Engine struct {
	blobs  BlobStore
	config models.DeltaConfig
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]*models.DeltaPackage
	locks map[string]*sync.Mutex
}

// NewEngine creates a delta engine backed by the given blob store.
func NewEngine(blobs BlobStore, config models.DeltaConfig) *Engine {
	return &Engine{
		blobs:  blobs,
		config: config,
		now:    time.Now,
		cache:  make(map[string]*models.DeltaPackage),
		locks:  make(map[string]*sync.Mutex),
	}
}

func pairKey(from, to string) string {
	return from + "->" + to
}

func (e *Engine) pairLock(key string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[key] = lock
	}
	return lock
}

// GetOrCompute returns the cached delta package for from→to when present and
// unexpired, and computes, stores, and caches it otherwise. Expired entries
// are recomputed in place.
func (e *Engine) GetOrCompute(ctx context.Context, from, to *models.Release) (*models.DeltaPackage, error) {
	if !e.config.Enabled {
		return nil, ErrDisabled
	}

	key := pairKey(from.Version, to.Version)
	lock := e.pairLock(key)
	lock.Lock()
	defer lock.Unlock()

	e.mu.Lock()
	cached, ok := e.cache[key]
	e.mu.Unlock()
	if ok && !cached.Expired(e.now()) {
		return cached, nil
	}

	pkg, err := e.compute(ctx, from, to)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[key] = pkg
	e.mu.Unlock()
	return pkg, nil
}

// Invalidate drops every cached package that references the version, on
// either side of the pair, and deletes their stored delta blobs. Called when
// a release is deleted or replaced.
func (e *Engine) Invalidate(version string) {
	e.mu.Lock()
	var refs []string
	for key, pkg := range e.cache {
		if pkg.References(version) {
			refs = append(refs, pkg.DeltaRef)
			delete(e.cache, key)
		}
	}
	e.mu.Unlock()

	for _, ref := range refs {
		// Best effort; an orphaned blob is re-derivable data.
		_ = e.blobs.Delete(ref)
	}
}

func (e *Engine) compute(ctx context.Context, from, to *models.Release) (*models.DeltaPackage, error) {
	fromEntries, _, err := e.readPackage(from.ArtifactRef)
	if err != nil {
		return nil, fmt.Errorf("failed to read source package %s: %w", from.Version, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	toEntries, fullSize, err := e.readPackage(to.ArtifactRef)
	if err != nil {
		return nil, fmt.Errorf("failed to read target package %s: %w", to.Version, err)
	}

	entries := diffEntries(fromEntries, toEntries)

	blob, err := buildDeltaArchive(from.Version, to.Version, entries, toEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to build delta archive: %w", err)
	}

	sum := sha256.Sum256(blob)
	checksum := hex.EncodeToString(sum[:])
	ref, err := e.blobs.StoreDerived(blob, checksum)
	if err != nil {
		return nil, fmt.Errorf("failed to store delta archive: %w", err)
	}

	now := e.now().UTC()
	pkg := &models.DeltaPackage{
		FromVersion:   from.Version,
		ToVersion:     to.Version,
		DeltaRef:      ref,
		DeltaChecksum: checksum,
		DeltaSize:     int64(len(blob)),
		FullSize:      fullSize,
		Entries:       entries,
		CreatedAt:     now,
	}
	if e.config.CacheTTL > 0 {
		pkg.ExpiresAt = now.Add(e.config.CacheTTL)
	}

	// A delta close to the full package size is not worth the client-side
	// patching; direct the client to the full download instead.
	if fullSize > 0 && float64(pkg.DeltaSize)/float64(fullSize) > e.config.CompressionThreshold {
		pkg.FallbackToFull = true
	}
	return pkg, nil
}

// packageEntry is one file inside a release archive.
type packageEntry struct {
	checksum string
	size     int64
	data     []byte
}

func (e *Engine) readPackage(ref string) (map[string]packageEntry, int64, error) {
	r, size, err := e.blobs.Open(ref)
	if err != nil {
		return nil, 0, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read blob: %w", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open archive: %w", err)
	}

	entries := make(map[string]packageEntry, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, 0, fmt.Errorf("failed to open entry %s: %w", f.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read entry %s: %w", f.Name, err)
		}
		sum := sha256.Sum256(content)
		entries[f.Name] = packageEntry{
			checksum: hex.EncodeToString(sum[:]),
			size:     int64(len(content)),
			data:     content,
		}
	}
	return entries, size, nil
}

func diffEntries(from, to map[string]packageEntry) []models.DeltaEntry {
	var entries []models.DeltaEntry
	for name, target := range to {
		source, existed := from[name]
		switch {
		case !existed:
			entries = append(entries, models.DeltaEntry{
				Path:      name,
				Operation: models.DeltaOpAdded,
				Checksum:  target.checksum,
				Size:      target.size,
			})
		case source.checksum != target.checksum:
			entries = append(entries, models.DeltaEntry{
				Path:      name,
				Operation: models.DeltaOpModified,
				Checksum:  target.checksum,
				Size:      target.size,
			})
		}
	}
	for name, source := range from {
		if _, kept := to[name]; !kept {
			entries = append(entries, models.DeltaEntry{
				Path:      name,
				Operation: models.DeltaOpDeleted,
				Checksum:  source.checksum,
				Size:      0,
			})
		}
	}
	// Stable ordering keeps recomputed archives byte-identical.
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries
}

// deltaManifest is the instruction list shipped inside a delta archive.
type deltaManifest struct {
	FromVersion string              `json:"from_version"`
	ToVersion   string              `json:"to_version"`
	Entries     []models.DeltaEntry `json:"entries"`
}

// buildDeltaArchive packs the changed entry contents plus a manifest into a
// zip. Deleted entries appear only in the manifest.
func buildDeltaArchive(fromVersion, toVersion string, entries []models.DeltaEntry, to map[string]packageEntry) ([]byte, error) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	manifest, err := json.Marshal(deltaManifest{
		FromVersion: fromVersion,
		ToVersion:   toVersion,
		Entries:     entries,
	})
	if err != nil {
		return nil, err
	}
	mw, err := w.Create(".delta/manifest.json")
	if err != nil {
		return nil, err
	}
	if _, err := mw.Write(manifest); err != nil {
		return nil, err
	}

	for _, entry := range entries {
		if entry.Operation == models.DeltaOpDeleted {
			continue
		}
		ew, err := w.Create(entry.Path)
		if err != nil {
			return nil, err
		}
		if _, err := ew.Write(to[entry.Path].data); err != nil {
			return nil, err
		}
	}

	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
