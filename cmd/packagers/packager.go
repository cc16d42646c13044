// Package packagers expands compressed containers fetched into the staging
// area. Each packager handles one container format; Expand routes a staged
// file to the right packager by extension and passes non-containers through
// unchanged.
package packagers

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/RommelEstardo/ETL-Data-Pipeline-Framework/cmd/sources"
)

// ErrExtraction is returned when a container file cannot be expanded
// (corrupt archive, truncated stream). The caller records a file-level
// failure and continues with the next file.
var ErrExtraction = errors.New("archive extraction failed")

// Packager expands one container format. Expand writes the extracted entries
// into destDir and returns their paths.
type Packager interface {
	// Expand extracts path into destDir and returns the extracted file paths.
	Expand(path, destDir string) ([]string, error)

	// Extension returns the container extension this packager handles,
	// including the dot (e.g. ".zip").
	Extension() string
}

// GetPackager returns the packager for a file extension, or false when the
// extension does not denote a container format.
func GetPackager(ext string) (Packager, bool) {
	switch strings.ToLower(ext) {
	case ".zip":
		return NewZipPackager(), true
	case ".gz":
		return NewGzipPackager(), true
	case ".zst":
		return NewZstdPackager(), true
	case ".lz4":
		return NewLZ4Packager(), true
	default:
		return nil, false
	}
}

// IsContainer reports whether the file name carries a container extension.
func IsContainer(name string) bool {
	_, ok := GetPackager(filepath.Ext(name))
	return ok
}

// Expand expands a staged container into the staging directory, returning one
// StagedFile per extracted entry. Non-container files pass through as a
// single-element slice. Containers inside containers are returned as-is:
// expansion recurses exactly one level to bound zip-bomb style nesting.
func Expand(staged sources.StagedFile, stageDir string) ([]sources.StagedFile, error) {
	packager, ok := GetPackager(filepath.Ext(staged.LocalPath))
	if !ok {
		return []sources.StagedFile{staged}, nil
	}

	paths, err := packager.Expand(staged.LocalPath, stageDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrExtraction, staged.OriginalName, err)
	}

	files := make([]sources.StagedFile, 0, len(paths))
	for _, p := range paths {
		// Extracted entries travel under their own names so the archive
		// step never files them under the container's name
		files = append(files, sources.StagedFile{
			OriginalName: filepath.Base(p),
			LocalPath:    p,
			SourceKind:   staged.SourceKind,
			SizeBytes:    fileSize(p),
			AcquiredAt:   staged.AcquiredAt,
		})
	}
	return files, nil
}
