package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestSelectorMatches(t *testing.T) {
	tests := []struct {
		name     string
		selector Selector
		file     string
		want     bool
	}{
		{
			name:     "prefix and extension match",
			selector: Selector{Prefix: "HPI_AT", Extensions: []string{"txt", "zip"}},
			file:     "HPI_AT_state.txt",
			want:     true,
		},
		{
			name:     "prefix match with zip extension",
			selector: Selector{Prefix: "HPI_AT", Extensions: []string{"txt", "zip"}},
			file:     "HPI_AT_metro.zip",
			want:     true,
		},
		{
			name:     "prefix mismatch",
			selector: Selector{Prefix: "HPI_AT", Extensions: []string{"txt", "zip"}},
			file:     "other.txt",
			want:     false,
		},
		{
			name:     "extension mismatch",
			selector: Selector{Prefix: "HPI_AT", Extensions: []string{"txt"}},
			file:     "HPI_AT_state.csv",
			want:     false,
		},
		{
			name:     "exact name match wins over prefix",
			selector: Selector{Name: "feed.csv", Prefix: "nomatch", Extensions: []string{"csv"}},
			file:     "feed.csv",
			want:     true,
		},
		{
			name:     "exact name mismatch",
			selector: Selector{Name: "feed.csv", Extensions: []string{"csv"}},
			file:     "feed2.csv",
			want:     false,
		},
		{
			name:     "suffix matched against stem",
			selector: Selector{Prefix: "HPI", Suffix: "_state", Extensions: []string{"txt"}},
			file:     "HPI_AT_state.txt",
			want:     true,
		},
		{
			name:     "suffix mismatch",
			selector: Selector{Prefix: "HPI", Suffix: "_state", Extensions: []string{"txt"}},
			file:     "HPI_AT_metro.txt",
			want:     false,
		},
		{
			name:     "case sensitive prefix",
			selector: Selector{Prefix: "hpi_at", Extensions: []string{"txt"}},
			file:     "HPI_AT_state.txt",
			want:     false,
		},
		{
			name:     "empty selector matches anything with no extension filter",
			selector: Selector{},
			file:     "anything.bin",
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.selector.Matches(tt.file); got != tt.want {
				t.Fatalf("Matches(%q) = %v, want %v", tt.file, got, tt.want)
			}
		})
	}
}

func TestLocalSourceListDeterministicOrder(t *testing.T) {
	dir := t.TempDir()

	// Create files in a non-lexicographic order; listing must still come back
	// sorted by name.
	for _, name := range []string{"HPI_AT_state.txt", "HPI_AT_metro.txt", "other.txt", "notes.md"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("a|b\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	src := NewLocalSource(dir)
	refs, err := src.List(context.Background(), Selector{Prefix: "HPI_AT", Extensions: []string{"txt", "zip"}})
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	want := []string{"HPI_AT_metro.txt", "HPI_AT_state.txt"}
	if len(refs) != len(want) {
		t.Fatalf("expected %d refs, got %d", len(want), len(refs))
	}
	for i, ref := range refs {
		if ref.Name != want[i] {
			t.Fatalf("refs[%d].Name = %q, want %q", i, ref.Name, want[i])
		}
	}
}

func TestLocalSourceFetchCopiesIntoStaging(t *testing.T) {
	srcDir := t.TempDir()
	stageDir := t.TempDir()

	content := []byte("col1|col2\nv1|v2\n")
	if err := os.WriteFile(filepath.Join(srcDir, "feed.csv"), content, 0o644); err != nil {
		t.Fatal(err)
	}

	src := NewLocalSource(srcDir)
	staged, err := src.Fetch(context.Background(), RemoteFileRef{
		Name: "feed.csv",
		Path: filepath.Join(srcDir, "feed.csv"),
	}, stageDir)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if staged.SourceKind != "local" {
		t.Fatalf("SourceKind = %q, want local", staged.SourceKind)
	}
	if staged.SizeBytes != int64(len(content)) {
		t.Fatalf("SizeBytes = %d, want %d", staged.SizeBytes, len(content))
	}
	got, err := os.ReadFile(staged.LocalPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(content) {
		t.Fatal("staged content differs from source")
	}

	// Original must still exist (local fetch copies, never moves).
	if _, err := os.Stat(filepath.Join(srcDir, "feed.csv")); err != nil {
		t.Fatalf("source file missing after fetch: %v", err)
	}
}

func TestLocalSourceFetchNotFound(t *testing.T) {
	src := NewLocalSource(t.TempDir())
	_, err := src.Fetch(context.Background(), RemoteFileRef{
		Name: "gone.csv",
		Path: filepath.Join("nonexistent", "gone.csv"),
	}, t.TempDir())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStagingPathAvoidsCollisions(t *testing.T) {
	dir := t.TempDir()

	first := stagingPath(dir, "data.csv")
	if err := os.WriteFile(first, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	second := stagingPath(dir, "data.csv")
	if second == first {
		t.Fatal("expected a distinct path for the second staged file")
	}
	if filepath.Dir(second) != dir {
		t.Fatalf("collision path escaped staging dir: %s", second)
	}
}

func TestURLSourceListAndFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/feeds/HPI_AT_state.txt":
			fmt.Fprint(w, "a|b\n1|2\n")
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	src, err := NewURLSource([]string{
		server.URL + "/feeds/HPI_AT_state.txt",
		server.URL + "/feeds/other.csv",
	})
	if err != nil {
		t.Fatalf("NewURLSource: %v", err)
	}

	refs, err := src.List(context.Background(), Selector{Prefix: "HPI_AT", Extensions: []string{"txt"}})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(refs) != 1 || refs[0].Name != "HPI_AT_state.txt" {
		t.Fatalf("unexpected refs: %+v", refs)
	}

	staged, err := src.Fetch(context.Background(), refs[0], t.TempDir())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	data, err := os.ReadFile(staged.LocalPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "a|b\n1|2\n" {
		t.Fatalf("unexpected staged content: %q", data)
	}
}

func TestURLSourceFetchNotFound(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	src, err := NewURLSource([]string{server.URL + "/missing.csv"})
	if err != nil {
		t.Fatal(err)
	}

	_, err = src.Fetch(context.Background(), RemoteFileRef{Name: "missing.csv", Path: server.URL + "/missing.csv"}, t.TempDir())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestURLSourceRejectsInvalidURL(t *testing.T) {
	if _, err := NewURLSource([]string{"not-a-url"}); !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport for invalid URL, got %v", err)
	}
}
