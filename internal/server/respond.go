// ABOUTME: JSON request/response helpers shared by all HTTP handlers
// ABOUTME: Maps store sentinel errors onto HTTP statuses in one place

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/dayline-app/dayline-server/internal/store"
)

// maxJSONBody caps JSON request bodies; large payloads arrive as uploads, not
// JSON documents.
const maxJSONBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Warn("encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeJSON reads and closes the body into v, enforcing maxJSONBody
func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decoding request body: %w", err)
	}
	return nil
}

// writeStoreError maps the store's sentinel errors to HTTP responses; unknown
// errors are logged and surfaced as an opaque 500.
func writeStoreError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, store.ErrDuplicateUsername):
		writeError(w, http.StatusConflict, "Username already taken")
	case errors.Is(err, store.ErrDuplicateRequest):
		writeError(w, http.StatusConflict, "Already exists")
	case errors.Is(err, store.ErrNotPending):
		writeError(w, http.StatusConflict, "Request already resolved")
	case errors.Is(err, store.ErrNotFriends):
		writeError(w, http.StatusForbidden, "Not friends")
	case errors.Is(err, store.ErrNotMember):
		writeError(w, http.StatusForbidden, "Not a member")
	case errors.Is(err, store.ErrNotAllowed):
		writeError(w, http.StatusForbidden, "Not allowed")
	case errors.Is(err, store.ErrBlocked):
		writeError(w, http.StatusForbidden, "Not allowed")
	default:
		logger.Error("store operation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}
