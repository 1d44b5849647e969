// Package snapshot persists incident evidence images to disk and maps
// each saved image to an externally dereferenceable locator URL.
package snapshot

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/banshee-data/collision.report/internal/fsutil"
	"github.com/banshee-data/collision.report/internal/security"
)

// URLPrefix is the public path snapshots are served under.
const URLPrefix = "/snapshots/"

// Store writes evidence images into a single directory and serves them
// back over HTTP.
type Store struct {
	dir     string
	baseURL string
	fs      fsutil.FileSystem
}

// NewStore creates the snapshot directory if needed. baseURL is the
// externally visible service root (e.g. "http://host:8000"); locators
// are baseURL + URLPrefix + name. A nil fs defaults to the OS filesystem.
func NewStore(dir, baseURL string, fs fsutil.FileSystem) (*Store, error) {
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &Store{
		dir:     dir,
		baseURL: strings.TrimRight(baseURL, "/"),
		fs:      fs,
	}, nil
}

// Save writes one image under the given file name and returns its
// locator URL. The name must not escape the snapshot directory.
func (s *Store) Save(name string, data []byte) (string, error) {
	base, err := security.SanitizeBaseName(name)
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, base)
	if err := security.ValidatePathWithinDirectory(path, s.dir); err != nil {
		return "", err
	}
	if err := s.fs.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write snapshot %s: %w", base, err)
	}
	return s.baseURL + URLPrefix + base, nil
}

// Read returns a saved snapshot's bytes.
func (s *Store) Read(name string) ([]byte, error) {
	base, err := security.SanitizeBaseName(name)
	if err != nil {
		return nil, err
	}
	return s.fs.ReadFile(filepath.Join(s.dir, base))
}

// Handler serves the snapshot directory as static files under URLPrefix.
func (s *Store) Handler() http.Handler {
	return http.StripPrefix(URLPrefix, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		base, err := security.SanitizeBaseName(r.URL.Path)
		if err != nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		data, err := s.fs.ReadFile(filepath.Join(s.dir, base))
		if err != nil {
			if os.IsNotExist(err) {
				http.Error(w, "not found", http.StatusNotFound)
			} else {
				http.Error(w, "failed to read snapshot", http.StatusInternalServerError)
			}
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(data)
	}))
}
