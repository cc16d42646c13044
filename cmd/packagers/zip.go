package packagers

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

// ZipPackager expands .zip archives. Entries are flattened into the staging
// directory by base name; directory entries are skipped.
type ZipPackager struct{}

// NewZipPackager creates a new zip packager.
func NewZipPackager() *ZipPackager {
	return &ZipPackager{}
}

func (p *ZipPackager) Extension() string { return ".zip" }

func (p *ZipPackager) Expand(path, destDir string) ([]string, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening zip: %w", err)
	}
	defer reader.Close()

	var extracted []string
	for _, entry := range reader.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		// Zip-slip guard: entry names are flattened to their base name, but
		// reject anything that still looks like a traversal attempt.
		base := filepath.Base(filepath.ToSlash(entry.Name))
		if base == ".." || strings.Contains(base, "..") {
			return nil, fmt.Errorf("suspicious entry name %q", entry.Name)
		}

		destPath := filepath.Join(destDir, base)
		if err := extractZipEntry(entry, destPath); err != nil {
			return nil, fmt.Errorf("extracting %s: %w", entry.Name, err)
		}
		extracted = append(extracted, destPath)
	}
	return extracted, nil
}

func extractZipEntry(entry *zip.File, destPath string) error {
	src, err := entry.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(destPath)
	if err != nil {
		return err
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(destPath)
		return err
	}
	return dst.Close()
}

// fileSize returns the size of a file, or 0 if it cannot be stat'd.
func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
