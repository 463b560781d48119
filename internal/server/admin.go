// ABOUTME: Operator admin endpoint guarded by an HS256 bearer token
// ABOUTME: Performs maintenance: counter cleanup and a schema health report

package server

import (
	"net/http"
)

// handleAdminMaintenance resets accumulated rate-limit buckets. Stale buckets
// never affect correctness but grow without bound in the SQLite backend.
func (s *Server) handleAdminMaintenance(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.store.ResetCounters(r.Context())
	if err != nil {
		writeStoreError(w, s.logger, err)
		return
	}

	s.logger.Info("admin maintenance completed", "counters_deleted", deleted)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"countersDeleted": deleted,
	})
}
