package sources

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalSource reads files from a directory on the local filesystem. Fetch
// copies the file into the staging directory so the run owns its working copy
// and the source folder is left untouched.
type LocalSource struct {
	folder string
}

// NewLocalSource creates a source over a local folder.
func NewLocalSource(folder string) *LocalSource {
	return &LocalSource{folder: folder}
}

func (s *LocalSource) Kind() string { return "local" }

func (s *LocalSource) List(_ context.Context, sel Selector) ([]RemoteFileRef, error) {
	entries, err := os.ReadDir(s.folder)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrTransport, s.folder, err)
	}

	var refs []RemoteFileRef
	for _, entry := range entries {
		if entry.IsDir() || !sel.Matches(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		refs = append(refs, RemoteFileRef{
			Name:    entry.Name(),
			Path:    filepath.Join(s.folder, entry.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sortRefs(refs)
	return refs, nil
}

func (s *LocalSource) Fetch(ctx context.Context, ref RemoteFileRef, destDir string) (StagedFile, error) {
	if err := ctx.Err(); err != nil {
		return StagedFile{}, err
	}

	// A source folder that doubles as the staging folder needs no copy
	if srcDir, err := filepath.Abs(filepath.Dir(ref.Path)); err == nil {
		if dest, err := filepath.Abs(destDir); err == nil && srcDir == dest {
			if _, statErr := os.Stat(ref.Path); os.IsNotExist(statErr) {
				return StagedFile{}, fmt.Errorf("%w: %s", ErrNotFound, ref.Path)
			}
			return stagedFile(s.Kind(), ref.Name, ref.Path)
		}
	}

	src, err := os.Open(ref.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return StagedFile{}, fmt.Errorf("%w: %s", ErrNotFound, ref.Path)
		}
		return StagedFile{}, fmt.Errorf("%w: opening %s: %w", ErrTransport, ref.Path, err)
	}
	defer src.Close()

	localPath := stagingPath(destDir, ref.Name)
	dst, err := os.Create(localPath)
	if err != nil {
		return StagedFile{}, fmt.Errorf("creating staged file: %w", err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(localPath)
		return StagedFile{}, fmt.Errorf("copying %s to staging: %w", ref.Name, err)
	}
	if err := dst.Close(); err != nil {
		return StagedFile{}, fmt.Errorf("closing staged file: %w", err)
	}

	return stagedFile(s.Kind(), ref.Name, localPath)
}

func (s *LocalSource) Close() error { return nil }
