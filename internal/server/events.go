// ABOUTME: Room event endpoints: encrypted timeline upload, listing, deletion
// ABOUTME: Image payloads stream into the blob store as opaque ciphertext

package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/dayline-app/dayline-server/internal/auth"
	"github.com/dayline-app/dayline-server/internal/blob"
	"github.com/dayline-app/dayline-server/internal/store"
)

const (
	roomEventLimit        = 60
	roomEventWindow       = time.Minute
	roomEventDeleteLimit  = 30
	roomEventDeleteWindow = time.Minute
	roomImageLimit        = 60
	roomImageWindow       = time.Minute
)

type roomEventResponse struct {
	ID                string `json:"id"`
	RoomID            string `json:"roomId"`
	AuthorUserID      string `json:"authorUserId"`
	TimestampMs       int64  `json:"timestampMs"`
	PayloadCiphertext string `json:"payloadCiphertext"`
	ImageURL          string `json:"imageUrl,omitempty"`
}

func (s *Server) toRoomEventResponse(ev *store.RoomEvent) roomEventResponse {
	resp := roomEventResponse{
		ID:                ev.ID,
		RoomID:            ev.RoomID,
		AuthorUserID:      ev.AuthorUserID,
		TimestampMs:       ev.TimestampMs,
		PayloadCiphertext: ev.PayloadCiphertext,
	}
	if ev.ImageRef != "" {
		resp.ImageURL = s.baseURL + "/blobs/" + ev.ImageRef
	}
	return resp
}

// parseSinceMs reads the optional ?since= query parameter
func parseSinceMs(r *http.Request) (int64, bool) {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		return 0, true
	}
	since, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || since < 0 {
		return 0, false
	}
	return since, true
}

func (s *Server) handleListRoomEvents(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context())
	roomID := r.PathValue("roomId")

	if _, err := s.store.GetRoomRole(r.Context(), roomID, identity.UserID); err != nil {
		writeStoreError(w, s.logger, err)
		return
	}

	since, ok := parseSinceMs(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "since must be a millisecond timestamp")
		return
	}

	events, err := s.store.ListRoomEvents(r.Context(), roomID, since)
	if err != nil {
		writeStoreError(w, s.logger, err)
		return
	}

	out := make([]roomEventResponse, len(events))
	for i, ev := range events {
		out[i] = s.toRoomEventResponse(ev)
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

func (s *Server) handleCreateRoomEvent(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context())
	roomID := r.PathValue("roomId")

	if _, err := s.store.GetRoomRole(r.Context(), roomID, identity.UserID); err != nil {
		writeStoreError(w, s.logger, err)
		return
	}
	if !s.enforceLimit(w, r, "roomevent:user:"+identity.UserID, roomEventLimit, roomEventWindow) {
		return
	}

	var req struct {
		ID                string `json:"id"`
		TimestampMs       int64  `json:"timestampMs"`
		PayloadCiphertext string `json:"payloadCiphertext"`
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
	if req.PayloadCiphertext == "" || len(req.PayloadCiphertext) > maxCiphertextLen {
		writeError(w, http.StatusBadRequest, "payloadCiphertext is required and bounded")
		return
	}

	event := &store.RoomEvent{
		ID:                req.ID,
		RoomID:            roomID,
		AuthorUserID:      identity.UserID,
		TimestampMs:       req.TimestampMs,
		PayloadCiphertext: req.PayloadCiphertext,
	}
	if err := s.store.UpsertRoomEvent(r.Context(), event); err != nil {
		writeStoreError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"eventId": event.ID})
}

func (s *Server) handleDeleteRoomEvent(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context())
	roomID := r.PathValue("roomId")
	eventID := r.PathValue("eventId")

	if _, err := s.store.GetRoomRole(r.Context(), roomID, identity.UserID); err != nil {
		writeStoreError(w, s.logger, err)
		return
	}
	if !s.enforceLimit(w, r, "roomevent:delete:"+identity.UserID, roomEventDeleteLimit, roomEventDeleteWindow) {
		return
	}

	// Fetch first so the blob can be cleaned up after the row is gone
	event, err := s.store.GetRoomEvent(r.Context(), roomID, eventID)
	if err != nil {
		writeStoreError(w, s.logger, err)
		return
	}

	if err := s.store.DeleteRoomEvent(r.Context(), roomID, eventID, identity.UserID); err != nil {
		writeStoreError(w, s.logger, err)
		return
	}

	if event.ImageRef != "" {
		if err := s.blobs.Delete(event.ImageRef); err != nil {
			s.logger.Warn("deleting event image blob", "ref", event.ImageRef, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleUploadRoomEventImage streams the request body into the blob store and
// attaches it to the event. The body is encrypted client-side; there is
// nothing to sniff or validate beyond size.
func (s *Server) handleUploadRoomEventImage(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context())
	roomID := r.PathValue("roomId")
	eventID := r.PathValue("eventId")

	if _, err := s.store.GetRoomRole(r.Context(), roomID, identity.UserID); err != nil {
		writeStoreError(w, s.logger, err)
		return
	}
	if !s.enforceLimit(w, r, "roomimage:user:"+identity.UserID, roomImageLimit, roomImageWindow) {
		return
	}

	// Authorship check before accepting the body
	event, err := s.store.GetRoomEvent(r.Context(), roomID, eventID)
	if err != nil {
		writeStoreError(w, s.logger, err)
		return
	}
	if event.AuthorUserID != identity.UserID {
		writeError(w, http.StatusForbidden, "Not allowed")
		return
	}

	ref := "rooms/" + roomID + "/events/" + eventID
	if err := s.blobs.Put(ref, r.Body); err != nil {
		if errors.Is(err, blob.ErrTooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Image too large")
			return
		}
		s.logger.Error("storing event image", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if err := s.store.SetRoomEventImageRef(r.Context(), roomID, eventID, identity.UserID, ref); err != nil {
		writeStoreError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"imageUrl": s.baseURL + "/blobs/" + ref})
}
