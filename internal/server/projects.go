// ABOUTME: Published-project endpoints: public timelines with write-key writes
// ABOUTME: Write keys are minted once at creation and only their hash is kept

package server

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dayline-app/dayline-server/internal/blob"
	"github.com/dayline-app/dayline-server/internal/store"
)

const (
	publishLimit  = 10
	publishWindow = time.Hour
	maxCaptionLen = 2000

	// WriteKeyHeader authenticates published-project writes
	WriteKeyHeader = "X-Write-Key"
)

// newWriteKey mints the project write key: 32 random bytes, hex encoded
func newWriteKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func (s *Server) handleCreatePublishedProject(w http.ResponseWriter, r *http.Request) {
	ip := clientIPFromRequest(r)
	if !s.enforceLimit(w, r, "publish:ip:"+ip, publishLimit, publishWindow) {
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Name == "" || len(req.Name) > maxRoomNameLen {
		writeError(w, http.StatusBadRequest, "name is required and at most 100 characters")
		return
	}

	writeKey, err := newWriteKey()
	if err != nil {
		s.logger.Error("generating write key", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	project := &store.PublishedProject{
		ID:        uuid.New().String(),
		Name:      req.Name,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreatePublishedProject(r.Context(), project, store.HashWriteKey(writeKey)); err != nil {
		writeStoreError(w, s.logger, err)
		return
	}

	// The write key is returned exactly once; it cannot be recovered later
	writeJSON(w, http.StatusCreated, map[string]string{
		"publicId": project.ID,
		"writeKey": writeKey,
		"shareUrl": s.baseURL + "/api/published-projects/" + project.ID,
	})
}

func (s *Server) handleGetPublishedProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.store.GetPublishedProject(r.Context(), r.PathValue("publicId"))
	if err != nil {
		writeStoreError(w, s.logger, err)
		return
	}

	resp := map[string]any{
		"publicId":  project.ID,
		"name":      project.Name,
		"createdAt": project.CreatedAt,
	}
	if project.LastEventAt != nil {
		resp["lastEventAt"] = *project.LastEventAt
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListPublishedEvents(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("publicId")

	if _, err := s.store.GetPublishedProject(r.Context(), projectID); err != nil {
		writeStoreError(w, s.logger, err)
		return
	}

	params, ok := parseListEventsParams(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "since, before, and limit must be non-negative integers")
		return
	}

	events, err := s.store.ListPublishedEvents(r.Context(), projectID, params)
	if err != nil {
		writeStoreError(w, s.logger, err)
		return
	}

	type eventResponse struct {
		ID          string `json:"id"`
		TimestampMs int64  `json:"timestampMs"`
		Caption     string `json:"caption,omitempty"`
		ImageURL    string `json:"imageUrl,omitempty"`
	}
	out := make([]eventResponse, len(events))
	for i, ev := range events {
		out[i] = eventResponse{ID: ev.ID, TimestampMs: ev.TimestampMs, Caption: ev.Caption, ImageURL: ev.ImageURL}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

func parseListEventsParams(r *http.Request) (store.ListEventsParams, bool) {
	var params store.ListEventsParams
	q := r.URL.Query()
	for _, p := range []struct {
		name string
		dst  *int64
	}{
		{"since", &params.SinceMs},
		{"before", &params.BeforeMs},
	} {
		if raw := q.Get(p.name); raw != "" {
			v, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || v < 0 {
				return params, false
			}
			*p.dst = v
		}
	}
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return params, false
		}
		params.Limit = v
	}
	return params, true
}

// requireWriteKey verifies the X-Write-Key header for the project in the
// path. Writes the response and returns "" on failure.
func (s *Server) requireWriteKey(w http.ResponseWriter, r *http.Request) string {
	projectID := r.PathValue("publicId")
	key := strings.TrimSpace(r.Header.Get(WriteKeyHeader))
	if key == "" {
		writeError(w, http.StatusUnauthorized, "Missing write key")
		return ""
	}

	ok, err := s.store.VerifyWriteKey(r.Context(), projectID, key)
	if err != nil {
		writeStoreError(w, s.logger, err)
		return ""
	}
	if !ok {
		writeError(w, http.StatusForbidden, "Invalid write key")
		return ""
	}
	return projectID
}

func (s *Server) handleCreatePublishedEvent(w http.ResponseWriter, r *http.Request) {
	projectID := s.requireWriteKey(w, r)
	if projectID == "" {
		return
	}

	var req struct {
		ID          string `json:"id"`
		TimestampMs int64  `json:"timestampMs"`
		Caption     string `json:"caption"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if len(req.ID) > maxClientIDLen {
		writeError(w, http.StatusBadRequest, "id too long")
		return
	}
	if req.TimestampMs <= 0 {
		writeError(w, http.StatusBadRequest, "timestampMs is required")
		return
	}
	if len(req.Caption) > maxCaptionLen {
		writeError(w, http.StatusBadRequest, "caption too long")
		return
	}

	event := &store.PublishedEvent{
		ID:          req.ID,
		ProjectID:   projectID,
		TimestampMs: req.TimestampMs,
		Caption:     req.Caption,
	}
	if err := s.store.UpsertPublishedEvent(r.Context(), event); err != nil {
		writeStoreError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"eventId": event.ID})
}

// handleUploadPublishedImage stores the image for an existing timeline entry
// and records its public URL on the event.
func (s *Server) handleUploadPublishedImage(w http.ResponseWriter, r *http.Request) {
	projectID := s.requireWriteKey(w, r)
	if projectID == "" {
		return
	}
	eventID := r.PathValue("eventId")

	event, err := s.store.GetPublishedEvent(r.Context(), projectID, eventID)
	if err != nil {
		writeStoreError(w, s.logger, err)
		return
	}

	ref := "projects/" + projectID + "/events/" + eventID + ".jpg"
	if err := s.blobs.Put(ref, r.Body); err != nil {
		if errors.Is(err, blob.ErrTooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Image too large")
			return
		}
		s.logger.Error("storing published image", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	event.ImageURL = s.baseURL + "/blobs/" + ref
	if err := s.store.UpsertPublishedEvent(r.Context(), event); err != nil {
		writeStoreError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"imageUrl": event.ImageURL})
}
