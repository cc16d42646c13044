package packagers

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// GzipPackager expands single-file .gz streams. The inner file keeps the
// original name with the .gz extension trimmed.
type GzipPackager struct{}

// NewGzipPackager creates a new gzip packager.
func NewGzipPackager() *GzipPackager {
	return &GzipPackager{}
}

func (p *GzipPackager) Extension() string { return ".gz" }

func (p *GzipPackager) Expand(path, destDir string) ([]string, error) {
	src, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening gzip file: %w", err)
	}
	defer src.Close()

	reader, err := gzip.NewReader(src)
	if err != nil {
		return nil, fmt.Errorf("reading gzip header: %w", err)
	}
	defer reader.Close()

	destPath := innerPath(path, destDir, p.Extension())
	if err := copyStream(reader, destPath); err != nil {
		return nil, err
	}
	return []string{destPath}, nil
}

// innerPath derives the extracted file path: base name with the container
// extension trimmed, placed in destDir.
func innerPath(path, destDir, ext string) string {
	base := strings.TrimSuffix(filepath.Base(path), ext)
	return filepath.Join(destDir, base)
}

func copyStream(src io.Reader, destPath string) error {
	dst, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", destPath, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(destPath)
		return fmt.Errorf("decompressing to %s: %w", destPath, err)
	}
	return dst.Close()
}
