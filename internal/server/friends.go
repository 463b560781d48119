// ABOUTME: Friend graph endpoints: requests, accept/reject, friend list, blocks
// ABOUTME: Requests address recipients by username so ids never need sharing

package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dayline-app/dayline-server/internal/auth"
	"github.com/dayline-app/dayline-server/internal/store"
)

const (
	friendRequestLimit  = 30
	friendRequestWindow = time.Hour
)

type friendRequestResponse struct {
	ID         string    `json:"id"`
	FromUserID string    `json:"fromUserId"`
	ToUserID   string    `json:"toUserId"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (s *Server) handleListFriends(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context())

	friends, err := s.store.ListFriends(r.Context(), identity.UserID)
	if err != nil {
		writeStoreError(w, s.logger, err)
		return
	}

	out := make([]userResponse, len(friends))
	for i, f := range friends {
		out[i] = toUserResponse(f)
	}
	writeJSON(w, http.StatusOK, map[string]any{"friends": out})
}

func (s *Server) handleListFriendRequests(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context())

	requests, err := s.store.ListFriendRequests(r.Context(), identity.UserID)
	if err != nil {
		writeStoreError(w, s.logger, err)
		return
	}

	out := make([]friendRequestResponse, len(requests))
	for i, req := range requests {
		out[i] = friendRequestResponse{
			ID:         req.ID,
			FromUserID: req.FromUserID,
			ToUserID:   req.ToUserID,
			Status:     req.Status,
			CreatedAt:  req.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": out})
}

func (s *Server) handleCreateFriendRequest(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context())
	if !s.enforceLimit(w, r, "friendreq:user:"+identity.UserID, friendRequestLimit, friendRequestWindow) {
		return
	}

	var req struct {
		ToUsername string `json:"toUsername"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.ToUsername == "" {
		writeError(w, http.StatusBadRequest, "toUsername is required")
		return
	}

	recipient, err := s.store.GetUserByUsername(r.Context(), req.ToUsername)
	if err != nil {
		writeStoreError(w, s.logger, err)
		return
	}
	if recipient.ID == identity.UserID {
		writeError(w, http.StatusBadRequest, "Cannot friend yourself")
		return
	}

	request := &store.FriendRequest{
		ID:         uuid.New().String(),
		FromUserID: identity.UserID,
		ToUserID:   recipient.ID,
		CreatedAt:  time.Now(),
	}
	if err := s.store.CreateFriendRequest(r.Context(), request); err != nil {
		writeStoreError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"requestId": request.ID})
}

func (s *Server) handleAcceptFriendRequest(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context())

	if err := s.store.AcceptFriendRequest(r.Context(), r.PathValue("id"), identity.UserID); err != nil {
		writeStoreError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (s *Server) handleRejectFriendRequest(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context())

	if err := s.store.RejectFriendRequest(r.Context(), r.PathValue("id"), identity.UserID); err != nil {
		writeStoreError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

func (s *Server) handleListBlocks(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context())

	blocked, err := s.store.ListBlockedUsers(r.Context(), identity.UserID)
	if err != nil {
		writeStoreError(w, s.logger, err)
		return
	}

	out := make([]userResponse, len(blocked))
	for i, u := range blocked {
		out[i] = toUserResponse(u)
	}
	writeJSON(w, http.StatusOK, map[string]any{"blocked": out})
}

func (s *Server) handleCreateBlock(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context())

	var req struct {
		UserID string `json:"userId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.UserID == "" || req.UserID == identity.UserID {
		writeError(w, http.StatusBadRequest, "userId is required and cannot be yourself")
		return
	}

	// Verify the target exists so blocks don't accumulate garbage ids
	if _, err := s.store.GetUser(r.Context(), req.UserID); err != nil {
		writeStoreError(w, s.logger, err)
		return
	}

	if err := s.store.BlockUser(r.Context(), identity.UserID, req.UserID); err != nil {
		writeStoreError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "blocked"})
}

func (s *Server) handleDeleteBlock(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context())

	if err := s.store.UnblockUser(r.Context(), identity.UserID, r.PathValue("userId")); err != nil {
		writeStoreError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unblocked"})
}
