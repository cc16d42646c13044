package packagers

import (
	"fmt"
	"os"

	"github.com/klauspost/compress/zstd"
)

// ZstdPackager expands single-file .zst streams.
type ZstdPackager struct{}

// NewZstdPackager creates a new Zstandard packager.
func NewZstdPackager() *ZstdPackager {
	return &ZstdPackager{}
}

func (p *ZstdPackager) Extension() string { return ".zst" }

func (p *ZstdPackager) Expand(path, destDir string) ([]string, error) {
	src, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening zstd file: %w", err)
	}
	defer src.Close()

	decoder, err := zstd.NewReader(src)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer decoder.Close()

	destPath := innerPath(path, destDir, p.Extension())
	if err := copyStream(decoder, destPath); err != nil {
		return nil, err
	}
	return []string{destPath}, nil
}
