package packagers

import (
	"fmt"
	"os"

	"github.com/pierrec/lz4/v4"
)

// LZ4Packager expands single-file .lz4 streams.
type LZ4Packager struct{}

// NewLZ4Packager creates a new LZ4 packager.
func NewLZ4Packager() *LZ4Packager {
	return &LZ4Packager{}
}

func (p *LZ4Packager) Extension() string { return ".lz4" }

func (p *LZ4Packager) Expand(path, destDir string) ([]string, error) {
	src, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening lz4 file: %w", err)
	}
	defer src.Close()

	reader := lz4.NewReader(src)

	destPath := innerPath(path, destDir, p.Extension())
	if err := copyStream(reader, destPath); err != nil {
		return nil, err
	}
	return []string{destPath}, nil
}
