// ABOUTME: Room endpoints: creation, membership, invites, and key envelopes
// ABOUTME: Every room operation is gated on the caller's membership

package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dayline-app/dayline-server/internal/auth"
	"github.com/dayline-app/dayline-server/internal/store"
)

const (
	roomInviteLimit  = 60
	roomInviteWindow = time.Hour
	maxRoomNameLen   = 100
)

type roomResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

type roomInviteResponse struct {
	ID         string    `json:"id"`
	RoomID     string    `json:"roomId"`
	FromUserID string    `json:"fromUserId"`
	ToUserID   string    `json:"toUserId"`
	CreatedAt  time.Time `json:"createdAt"`
}

func toRoomInviteResponses(invites []*store.RoomInvite) []roomInviteResponse {
	out := make([]roomInviteResponse, len(invites))
	for i, inv := range invites {
		out[i] = roomInviteResponse{
			ID:         inv.ID,
			RoomID:     inv.RoomID,
			FromUserID: inv.FromUserID,
			ToUserID:   inv.ToUserID,
			CreatedAt:  inv.CreatedAt,
		}
	}
	return out
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context())

	rooms, err := s.store.ListRoomsForUser(r.Context(), identity.UserID)
	if err != nil {
		writeStoreError(w, s.logger, err)
		return
	}

	out := make([]roomResponse, len(rooms))
	for i, room := range rooms {
		out[i] = roomResponse{ID: room.ID, Name: room.Name, CreatedAt: room.CreatedAt}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": out})
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context())

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

	room := &store.Room{
		ID:        uuid.New().String(),
		Name:      req.Name,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateRoom(r.Context(), room, identity.UserID); err != nil {
		writeStoreError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, roomResponse{ID: room.ID, Name: room.Name, CreatedAt: room.CreatedAt})
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context())
	roomID := r.PathValue("roomId")

	role, err := s.store.GetRoomRole(r.Context(), roomID, identity.UserID)
	if err != nil {
		writeStoreError(w, s.logger, err)
		return
	}
	room, err := s.store.GetRoom(r.Context(), roomID)
	if err != nil {
		writeStoreError(w, s.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":        room.ID,
		"name":      room.Name,
		"createdAt": room.CreatedAt,
		"role":      role,
	})
}

func (s *Server) handleListRoomMembers(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context())
	roomID := r.PathValue("roomId")

	if _, err := s.store.GetRoomRole(r.Context(), roomID, identity.UserID); err != nil {
		writeStoreError(w, s.logger, err)
		return
	}

	members, err := s.store.ListRoomMembers(r.Context(), roomID)
	if err != nil {
		writeStoreError(w, s.logger, err)
		return
	}

	type memberResponse struct {
		UserID   string    `json:"userId"`
		Username string    `json:"username"`
		Role     string    `json:"role"`
		JoinedAt time.Time `json:"joinedAt"`
	}
	out := make([]memberResponse, len(members))
	for i, m := range members {
		out[i] = memberResponse{UserID: m.UserID, Username: m.Username, Role: m.Role, JoinedAt: m.JoinedAt}
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": out})
}

func (s *Server) handleListRoomInvites(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context())
	roomID := r.PathValue("roomId")

	if _, err := s.store.GetRoomRole(r.Context(), roomID, identity.UserID); err != nil {
		writeStoreError(w, s.logger, err)
		return
	}

	invites, err := s.store.ListRoomInvites(r.Context(), roomID)
	if err != nil {
		writeStoreError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invites": toRoomInviteResponses(invites)})
}

func (s *Server) handleCreateRoomInvite(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context())
	if !s.enforceLimit(w, r, "roominvite:user:"+identity.UserID, roomInviteLimit, roomInviteWindow) {
		return
	}

	var req struct {
		ToUserID string `json:"toUserId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.ToUserID == "" {
		writeError(w, http.StatusBadRequest, "toUserId is required")
		return
	}

	invite := &store.RoomInvite{
		ID:         uuid.New().String(),
		RoomID:     r.PathValue("roomId"),
		FromUserID: identity.UserID,
		ToUserID:   req.ToUserID,
		CreatedAt:  time.Now(),
	}
	if err := s.store.CreateRoomInvite(r.Context(), invite); err != nil {
		writeStoreError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"inviteId": invite.ID})
}

func (s *Server) handleListMyInvites(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context())

	invites, err := s.store.ListInvitesForUser(r.Context(), identity.UserID)
	if err != nil {
		writeStoreError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invites": toRoomInviteResponses(invites)})
}

func (s *Server) handleAcceptRoomInvite(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context())

	roomID, err := s.store.AcceptRoomInvite(r.Context(), r.PathValue("id"), identity.UserID)
	if err != nil {
		writeStoreError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted", "roomId": roomID})
}

func (s *Server) handleDeclineRoomInvite(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context())

	if err := s.store.DeclineRoomInvite(r.Context(), r.PathValue("id"), identity.UserID); err != nil {
		writeStoreError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

// handleGetRoomKeys returns the caller device's key envelope (when present)
// plus the member devices that still need one wrapped for them.
func (s *Server) handleGetRoomKeys(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context())
	roomID := r.PathValue("roomId")

	if _, err := s.store.GetRoomRole(r.Context(), roomID, identity.UserID); err != nil {
		writeStoreError(w, s.logger, err)
		return
	}

	resp := map[string]any{}
	env, err := s.store.GetKeyEnvelope(r.Context(), roomID, identity.DeviceID)
	switch {
	case err == nil:
		resp["envelope"] = env.Envelope
		resp["fromDeviceId"] = env.FromDeviceID
	case errors.Is(err, store.ErrNotFound):
		// No envelope yet for this device
	default:
		writeStoreError(w, s.logger, err)
		return
	}

	missing, err := s.store.ListMemberDevicesWithoutKeys(r.Context(), roomID)
	if err != nil {
		writeStoreError(w, s.logger, err)
		return
	}
	type pendingDevice struct {
		DeviceID string `json:"deviceId"`
		UserID   string `json:"userId"`
		DHPubKey string `json:"dhPubKey"`
	}
	pending := make([]pendingDevice, len(missing))
	for i, d := range missing {
		pending[i] = pendingDevice{DeviceID: d.ID, UserID: d.UserID, DHPubKey: d.DHPubKey}
	}
	resp["pendingDevices"] = pending

	writeJSON(w, http.StatusOK, resp)
}

// handlePostRoomKeys accepts a batch of wrapped key envelopes from a member
// device.
func (s *Server) handlePostRoomKeys(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context())
	roomID := r.PathValue("roomId")

	if _, err := s.store.GetRoomRole(r.Context(), roomID, identity.UserID); err != nil {
		writeStoreError(w, s.logger, err)
		return
	}

	var req struct {
		Envelopes []struct {
			DeviceID string `json:"deviceId"`
			Envelope string `json:"envelope"`
		} `json:"envelopes"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if len(req.Envelopes) == 0 {
		writeError(w, http.StatusBadRequest, "envelopes is required")
		return
	}

	for _, e := range req.Envelopes {
		if e.DeviceID == "" || e.Envelope == "" || len(e.Envelope) > maxEnvelopeLen || len(e.DeviceID) > maxClientIDLen {
			writeError(w, http.StatusBadRequest, "Invalid envelope")
			return
		}
	}

	for _, e := range req.Envelopes {
		err := s.store.UpsertKeyEnvelope(r.Context(), &store.KeyEnvelope{
			RoomID:       roomID,
			DeviceID:     e.DeviceID,
			FromDeviceID: identity.DeviceID,
			Envelope:     e.Envelope,
		})
		if err != nil {
			writeStoreError(w, s.logger, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"stored": len(req.Envelopes)})
}
