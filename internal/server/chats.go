// ABOUTME: Chat endpoints: thread listing, DM and project thread creation, messages
// ABOUTME: Message sends are idempotent so clients can retry blindly

package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dayline-app/dayline-server/internal/auth"
	"github.com/dayline-app/dayline-server/internal/store"
)

const (
	chatMessageLimit  = 120
	chatMessageWindow = time.Minute
)

type threadResponse struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	RoomID    string    `json:"roomId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func toThreadResponse(t *store.ChatThread) threadResponse {
	return threadResponse{ID: t.ID, Kind: t.Kind, RoomID: t.RoomID, CreatedAt: t.CreatedAt}
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context())

	threads, err := s.store.ListThreadsForUser(r.Context(), identity.UserID)
	if err != nil {
		writeStoreError(w, s.logger, err)
		return
	}

	out := make([]threadResponse, len(threads))
	for i, t := range threads {
		out[i] = toThreadResponse(t)
	}
	writeJSON(w, http.StatusOK, map[string]any{"threads": out})
}

func (s *Server) handleCreateDM(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context())

	var req struct {
		FriendUserID string `json:"friendUserId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	friendUserID := strings.TrimSpace(req.FriendUserID)
	if friendUserID == "" || friendUserID == identity.UserID {
		writeError(w, http.StatusBadRequest, "friendUserId is required and cannot be yourself")
		return
	}

	thread, err := s.store.EnsureDMThread(r.Context(), identity.UserID, friendUserID)
	if err != nil {
		writeStoreError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"threadId": thread.ID})
}

func (s *Server) handleCreateProjectChat(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context())

	thread, err := s.store.EnsureProjectThread(r.Context(), r.PathValue("roomId"), identity.UserID)
	if err != nil {
		writeStoreError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toThreadResponse(thread))
}

// requireThreadMember loads membership for the thread in the path; writes the
// error response and returns "" when the caller may not touch it.
func (s *Server) requireThreadMember(w http.ResponseWriter, r *http.Request) string {
	identity := auth.MustFromContext(r.Context())
	threadID := r.PathValue("threadId")

	member, err := s.store.IsThreadMember(r.Context(), threadID, identity.UserID)
	if err != nil {
		writeStoreError(w, s.logger, err)
		return ""
	}
	if !member {
		// Same response for "no such thread" and "not yours"
		writeError(w, http.StatusForbidden, "Not a member")
		return ""
	}
	return threadID
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	threadID := s.requireThreadMember(w, r)
	if threadID == "" {
		return
	}

	since, ok := parseSinceMs(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "since must be a millisecond timestamp")
		return
	}

	messages, err := s.store.ListChatMessages(r.Context(), threadID, since)
	if err != nil {
		writeStoreError(w, s.logger, err)
		return
	}

	type messageResponse struct {
		ID           string `json:"id"`
		ThreadID     string `json:"threadId"`
		AuthorUserID string `json:"authorUserId"`
		TimestampMs  int64  `json:"timestampMs"`
		Ciphertext   string `json:"ciphertext"`
	}
	out := make([]messageResponse, len(messages))
	for i, m := range messages {
		out[i] = messageResponse{
			ID:           m.ID,
			ThreadID:     m.ThreadID,
			AuthorUserID: m.AuthorUserID,
			TimestampMs:  m.TimestampMs,
			Ciphertext:   m.Ciphertext,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context())
	threadID := s.requireThreadMember(w, r)
	if threadID == "" {
		return
	}
	if !s.enforceLimit(w, r, "chatmsg:user:"+identity.UserID, chatMessageLimit, chatMessageWindow) {
		return
	}

	var req struct {
		ID          string `json:"id"`
		TimestampMs int64  `json:"timestampMs"`
		Ciphertext  string `json:"ciphertext"`
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
	if req.Ciphertext == "" || len(req.Ciphertext) > maxCiphertextLen {
		writeError(w, http.StatusBadRequest, "ciphertext is required and bounded")
		return
	}

	msg := &store.ChatMessage{
		ID:           req.ID,
		ThreadID:     threadID,
		AuthorUserID: identity.UserID,
		TimestampMs:  req.TimestampMs,
		Ciphertext:   req.Ciphertext,
	}
	if err := s.store.UpsertChatMessage(r.Context(), msg); err != nil {
		writeStoreError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"messageId": msg.ID})
}
