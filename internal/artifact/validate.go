package artifact

import (
	"archive/zip"
	"bytes"
	"fmt"
	"path"
	"strings"
	"updatehub/internal/models"
)

// manifestName is the package metadata entry checked against the manifest
// size cap.
const manifestName = "manifest.json"

var zipMagic = []byte{'P', 'K', 0x03, 0x04}

// validateZip checks that data is a well-formed zip within the configured
// bounds. Rejections:
//   - wrong magic bytes or unreadable central directory
//   - more entries than MaxEntries
//   - any entry whose normalized path escapes the archive root or is absolute
//   - a manifest entry larger than MaxManifestBytes
func validateZip(data []byte, config models.ArtifactConfig) error {
	if len(data) < len(zipMagic) || !bytes.Equal(data[:len(zipMagic)], zipMagic) {
		return fmt.Errorf("%w: missing zip signature", ErrInvalidArtifact)
	}

	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}

	if config.MaxEntries > 0 && len(reader.File) > config.MaxEntries {
		return fmt.Errorf("%w: %d entries exceeds cap of %d", ErrInvalidArtifact, len(reader.File), config.MaxEntries)
	}

	for _, entry := range reader.File {
		if err := checkEntryPath(entry.Name); err != nil {
			return err
		}
		if config.MaxManifestBytes > 0 && entryIsManifest(entry.Name) &&
			entry.UncompressedSize64 > uint64(config.MaxManifestBytes) {
			return fmt.Errorf("%w: manifest is %d bytes, cap is %d",
				ErrInvalidArtifact, entry.UncompressedSize64, config.MaxManifestBytes)
		}
	}
	return nil
}

// checkEntryPath rejects absolute paths and any path that escapes the
// archive root once normalized. Windows-style separators are normalized
// first so `..\` tricks do not slip through.
func checkEntryPath(name string) error {
	normalized := strings.ReplaceAll(name, `\`, "/")
	if strings.HasPrefix(normalized, "/") {
		return fmt.Errorf("%w: absolute entry path %q", ErrInvalidArtifact, name)
	}
	if len(normalized) >= 2 && normalized[1] == ':' {
		return fmt.Errorf("%w: drive-qualified entry path %q", ErrInvalidArtifact, name)
	}
	cleaned := path.Clean(normalized)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return fmt.Errorf("%w: entry path %q escapes archive root", ErrInvalidArtifact, name)
	}
	return nil
}

func entryIsManifest(name string) bool {
	return path.Clean(strings.ReplaceAll(name, `\`, "/")) == manifestName
}
