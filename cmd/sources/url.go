package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"time"
)

// URLSource treats a configured list of URLs as the file universe. List
// filters the URL base names through the selector like any other source, so
// switching a feed from SFTP to HTTP never changes which files are selected.
type URLSource struct {
	urls   []string
	client *http.Client
}

// NewURLSource validates the configured URLs up front so a bad link fails the
// run at Listing rather than mid-pipeline.
func NewURLSource(urls []string) (*URLSource, error) {
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("%w: invalid URL %q", ErrTransport, raw)
		}
	}
	return &URLSource{
		urls:   urls,
		client: &http.Client{Timeout: 5 * time.Minute},
	}, nil
}

func (s *URLSource) Kind() string { return "url" }

func (s *URLSource) List(_ context.Context, sel Selector) ([]RemoteFileRef, error) {
	var refs []RemoteFileRef
	for _, raw := range s.urls {
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		base := path.Base(u.Path)
		if !sel.Matches(base) {
			continue
		}
		refs = append(refs, RemoteFileRef{Name: base, Path: raw})
	}
	sortRefs(refs)
	return refs, nil
}

func (s *URLSource) Fetch(ctx context.Context, ref RemoteFileRef, destDir string) (StagedFile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.Path, nil)
	if err != nil {
		return StagedFile{}, fmt.Errorf("%w: building request for %s: %w", ErrTransport, ref.Path, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return StagedFile{}, fmt.Errorf("%w: fetching %s: %w", ErrTransport, ref.Path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return StagedFile{}, fmt.Errorf("%w: %s", ErrNotFound, ref.Path)
	case resp.StatusCode != http.StatusOK:
		return StagedFile{}, fmt.Errorf("%w: fetching %s: unexpected status %s", ErrTransport, ref.Path, resp.Status)
	}

	localPath := stagingPath(destDir, ref.Name)
	f, err := os.Create(localPath)
	if err != nil {
		return StagedFile{}, fmt.Errorf("creating staged file: %w", err)
	}

	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(localPath)
		return StagedFile{}, fmt.Errorf("%w: downloading %s: %w", ErrTransport, ref.Path, err)
	}
	if err := f.Close(); err != nil {
		return StagedFile{}, fmt.Errorf("closing staged file: %w", err)
	}

	return stagedFile(s.Kind(), ref.Name, localPath)
}

func (s *URLSource) Close() error { return nil }
