// ABOUTME: Filesystem-backed blob storage for uploaded images
// ABOUTME: Writes under a configured root and serves files at /blobs/<path>

// Package blob stores uploaded room-event and published-project images on the
// local filesystem. Paths are chosen by the caller
// (projects/<id>/events/<eventId>.jpg, rooms/<roomId>/events/<eventId>) and
// served read-only under the /blobs/ URL prefix. Room-event payloads are
// opaque ciphertext; the store never inspects contents.
package blob

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// MaxBlobSize caps a single upload.
const MaxBlobSize = 50 << 20 // 50 MiB

// ErrTooLarge is returned when an upload exceeds MaxBlobSize
var ErrTooLarge = errors.New("blob too large")

// ErrInvalidPath is returned for paths that escape the store root
var ErrInvalidPath = errors.New("invalid blob path")

// Store writes and serves blobs under a root directory
type Store struct {
	root   string
	logger *slog.Logger
}

// NewStore creates the root directory if needed
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating blob directory: %w", err)
	}
	return &Store{
		root:   root,
		logger: slog.Default().With("component", "blob"),
	}, nil
}

// cleanPath validates and normalizes a caller-supplied blob path
func (s *Store) cleanPath(p string) (string, error) {
	p = strings.TrimPrefix(p, "/")
	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") || path.IsAbs(cleaned) {
		return "", ErrInvalidPath
	}
	return cleaned, nil
}

// Put streams r into the blob at p, creating parent directories. Returns
// ErrTooLarge when r exceeds MaxBlobSize and ErrInvalidPath for paths that
// escape the root. The write goes through a temp file so readers never see a
// partial blob.
func (s *Store) Put(p string, r io.Reader) error {
	cleaned, err := s.cleanPath(p)
	if err != nil {
		return err
	}

	dst := filepath.Join(s.root, filepath.FromSlash(cleaned))
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("creating blob parent: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return fmt.Errorf("creating temp blob: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	n, err := io.Copy(tmp, io.LimitReader(r, MaxBlobSize+1))
	if err != nil {
		tmp.Close()
		return fmt.Errorf("writing blob: %w", err)
	}
	if n > MaxBlobSize {
		tmp.Close()
		return ErrTooLarge
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing blob: %w", err)
	}

	if err := os.Rename(tmpName, dst); err != nil {
		return fmt.Errorf("publishing blob: %w", err)
	}

	s.logger.Debug("stored blob", "path", cleaned, "bytes", n)
	return nil
}

// Open returns a reader for the blob at p. Returns os.ErrNotExist when absent.
func (s *Store) Open(p string) (io.ReadCloser, error) {
	cleaned, err := s.cleanPath(p)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.root, filepath.FromSlash(cleaned)))
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Delete removes the blob at p. Missing blobs are not an error.
func (s *Store) Delete(p string) error {
	cleaned, err := s.cleanPath(p)
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(s.root, filepath.FromSlash(cleaned)))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("deleting blob: %w", err)
	}
	return nil
}

// Handler serves blobs read-only at the given URL prefix, e.g. "/blobs/".
// Encrypted payloads are served as octet-stream regardless of extension.
func (s *Store) Handler(prefix string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		rel := strings.TrimPrefix(r.URL.Path, prefix)
		cleaned, err := s.cleanPath(rel)
		if err != nil {
			http.NotFound(w, r)
			return
		}

		f, err := os.Open(filepath.Join(s.root, filepath.FromSlash(cleaned)))
		if err != nil {
			http.NotFound(w, r)
			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil || info.IsDir() {
			http.NotFound(w, r)
			return
		}

		if ext := path.Ext(cleaned); ext == "" || ext == ".bin" {
			w.Header().Set("Content-Type", "application/octet-stream")
		}
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		http.ServeContent(w, r, path.Base(cleaned), info.ModTime(), f)
	})
}
