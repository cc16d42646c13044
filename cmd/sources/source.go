package sources

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Static errors shared by all source implementations
var (
	ErrTransport         = errors.New("source transport error")
	ErrNotFound          = errors.New("remote file not found")
	ErrUnsupportedSource = errors.New("unsupported source type")
)

// Selector determines which remote files a run processes. Matching is
// case-sensitive: a file matches when its base name equals Name (if Name is
// set) or starts with Prefix and ends with Suffix, and its extension is one
// of Extensions.
type Selector struct {
	Name       string
	Prefix     string
	Suffix     string
	Extensions []string
}

// Matches reports whether a base file name (no directory) satisfies the
// selector. The suffix is matched against the name with its extension
// stripped, so suffix "_state" with extensions [txt] matches
// "HPI_AT_state.txt".
func (s Selector) Matches(base string) bool {
	ext := strings.TrimPrefix(filepath.Ext(base), ".")
	if len(s.Extensions) > 0 {
		found := false
		for _, e := range s.Extensions {
			if ext == e {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if s.Name != "" {
		return base == s.Name
	}

	if !strings.HasPrefix(base, s.Prefix) {
		return false
	}
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return s.Suffix == "" || strings.HasSuffix(stem, s.Suffix)
}

// RemoteFileRef identifies a candidate file on a source before it is fetched.
type RemoteFileRef struct {
	Name    string // base name
	Path    string // source-specific locator (remote path, object key, URL)
	Size    int64
	ModTime time.Time
}

// StagedFile is a file fetched into the staging directory, owned exclusively
// by the current run.
type StagedFile struct {
	OriginalName string
	LocalPath    string
	SourceKind   string
	SizeBytes    int64
	AcquiredAt   time.Time
}

// Source is the uniform capability every source kind implements: list
// candidate files matching a selector and fetch one into the staging
// directory. List results are sorted lexicographically by name so runs are
// reproducible regardless of the transport's physical listing order.
type Source interface {
	Kind() string
	List(ctx context.Context, sel Selector) ([]RemoteFileRef, error)
	Fetch(ctx context.Context, ref RemoteFileRef, destDir string) (StagedFile, error)
	Close() error
}

// sortRefs orders refs lexicographically by name.
func sortRefs(refs []RemoteFileRef) {
	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
}

// stagingPath returns a destination path for name under destDir that does not
// collide with a file already staged in this run. Collisions get a numeric
// suffix before the extension.
func stagingPath(destDir, name string) string {
	candidate := filepath.Join(destDir, name)
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		candidate = filepath.Join(destDir, fmt.Sprintf("%s.%d%s", stem, i, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// stagedFile builds the StagedFile record for a fetched file, reading back its
// size from disk.
func stagedFile(kind, originalName, localPath string) (StagedFile, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return StagedFile{}, fmt.Errorf("stat staged file: %w", err)
	}
	return StagedFile{
		OriginalName: originalName,
		LocalPath:    localPath,
		SourceKind:   kind,
		SizeBytes:    info.Size(),
		AcquiredAt:   time.Now(),
	}, nil
}
