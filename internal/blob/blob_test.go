// ABOUTME: Tests for the filesystem blob store
// ABOUTME: Covers round trips, size caps, path traversal, and HTTP serving

package blob

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	return s
}

func TestStore_PutAndOpen(t *testing.T) {
	s := newTestStore(t)

	content := []byte("encrypted bytes")
	if err := s.Put("rooms/r1/events/e1", bytes.NewReader(content)); err != nil {
		t.Fatalf("put: %v", err)
	}

	f, err := s.Open("rooms/r1/events/e1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	got, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestStore_PutOverwrites(t *testing.T) {
	s := newTestStore(t)

	if err := s.Put("p/a.jpg", strings.NewReader("v1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put("p/a.jpg", strings.NewReader("v2")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	f, err := s.Open("p/a.jpg")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	got, _ := io.ReadAll(f)
	if string(got) != "v2" {
		t.Errorf("got %q, want v2", got)
	}
}

func TestStore_PathTraversalRejected(t *testing.T) {
	s := newTestStore(t)

	for _, p := range []string{"../escape", "a/../../escape", ".."} {
		if err := s.Put(p, strings.NewReader("x")); err == nil {
			t.Errorf("path %q should be rejected", p)
		}
	}
}

func TestStore_Delete(t *testing.T) {
	s := newTestStore(t)

	if err := s.Put("p/a", strings.NewReader("x")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Delete("p/a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Open("p/a"); !os.IsNotExist(err) {
		t.Errorf("expected not-exist after delete, got %v", err)
	}
	// Deleting again is fine
	if err := s.Delete("p/a"); err != nil {
		t.Errorf("second delete: %v", err)
	}
}

func TestStore_Handler(t *testing.T) {
	s := newTestStore(t)
	if err := s.Put("projects/p1/events/e1.jpg", strings.NewReader("jpeg bytes")); err != nil {
		t.Fatalf("put: %v", err)
	}

	handler := s.Handler("/blobs/")

	t.Run("serves existing blob", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/blobs/projects/p1/events/e1.jpg", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if rec.Body.String() != "jpeg bytes" {
			t.Errorf("body = %q", rec.Body.String())
		}
	})

	t.Run("missing blob 404s", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/blobs/projects/p1/events/nope.jpg", nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("traversal 404s", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/blobs/ok", nil)
		req.URL.Path = "/blobs/../blob.go"
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("writes rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/blobs/projects/p1/events/e1.jpg", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("status = %d, want 405", rec.Code)
		}
	})
}
