// ABOUTME: User endpoints: registration, rename, profile, avatar settings
// ABOUTME: Registration validates the device's SPKI keys before storing them

package server

import (
	"encoding/json"
	"net/http"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/dayline-app/dayline-server/internal/auth"
	"github.com/dayline-app/dayline-server/internal/store"
)

var usernameRe = regexp.MustCompile(`^[a-z0-9_]{3,32}$`)

const (
	registerLimit  = 5
	registerWindow = time.Hour
	renameLimit    = 5
	renameWindow   = 24 * time.Hour
)

type registerRequest struct {
	Username       string          `json:"username"`
	SignPubKey     string          `json:"signPubKey"`
	DHPubKey       string          `json:"dhPubKey"`
	AvatarSettings json.RawMessage `json:"avatarSettings,omitempty"`
}

type deviceResponse struct {
	ID         string     `json:"id"`
	SignPubKey string     `json:"signPubKey"`
	DHPubKey   string     `json:"dhPubKey"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastSeenAt *time.Time `json:"lastSeenAt,omitempty"`
}

type userResponse struct {
	ID             string          `json:"id"`
	Username       string          `json:"username"`
	AvatarSettings json.RawMessage `json:"avatarSettings"`
	CreatedAt      time.Time       `json:"createdAt"`
}

func toUserResponse(u *store.User) userResponse {
	return userResponse{
		ID:             u.ID,
		Username:       u.Username,
		AvatarSettings: json.RawMessage(u.AvatarSettings),
		CreatedAt:      u.CreatedAt,
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	ip := clientIPFromRequest(r)
	if !s.enforceLimit(w, r, "register:ip:"+ip, registerLimit, registerWindow) {
		return
	}

	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	if !usernameRe.MatchString(req.Username) {
		writeError(w, http.StatusBadRequest, "Username must be 3-32 lowercase letters, digits, or underscores")
		return
	}
	if err := auth.ValidateSigningKey(req.SignPubKey); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid signing key")
		return
	}
	if err := auth.ValidateExchangeKey(req.DHPubKey); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid exchange key")
		return
	}

	user := &store.User{
		ID:             uuid.New().String(),
		Username:       req.Username,
		AvatarSettings: string(req.AvatarSettings),
		CreatedAt:      time.Now(),
	}
	device := &store.Device{
		ID:         uuid.New().String(),
		UserID:     user.ID,
		SignPubKey: req.SignPubKey,
		DHPubKey:   req.DHPubKey,
		CreatedAt:  user.CreatedAt,
	}

	if err := s.store.CreateUserWithDevice(r.Context(), user, device); err != nil {
		writeStoreError(w, s.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"userId":   user.ID,
		"deviceId": device.ID,
	})
}

// handleAddDevice enrolls an additional device for the caller. The request
// is signed by an existing device, so possession of one enrolled key is
// what authorizes the new one.
func (s *Server) handleAddDevice(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context())

	var req struct {
		SignPubKey string `json:"signPubKey"`
		DHPubKey   string `json:"dhPubKey"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if err := auth.ValidateSigningKey(req.SignPubKey); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid signing key")
		return
	}
	if err := auth.ValidateExchangeKey(req.DHPubKey); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid exchange key")
		return
	}

	device := &store.Device{
		ID:         uuid.New().String(),
		UserID:     identity.UserID,
		SignPubKey: req.SignPubKey,
		DHPubKey:   req.DHPubKey,
		CreatedAt:  time.Now(),
	}
	if err := s.store.AddDevice(r.Context(), device); err != nil {
		writeStoreError(w, s.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"deviceId": device.ID})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context())

	user, err := s.store.GetUser(r.Context(), identity.UserID)
	if err != nil {
		writeStoreError(w, s.logger, err)
		return
	}
	devices, err := s.store.ListUserDevices(r.Context(), identity.UserID)
	if err != nil {
		writeStoreError(w, s.logger, err)
		return
	}

	deviceResponses := make([]deviceResponse, len(devices))
	for i, d := range devices {
		deviceResponses[i] = deviceResponse{
			ID:         d.ID,
			SignPubKey: d.SignPubKey,
			DHPubKey:   d.DHPubKey,
			CreatedAt:  d.CreatedAt,
			LastSeenAt: d.LastSeenAt,
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user":    toUserResponse(user),
		"devices": deviceResponses,
	})
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context())
	if !s.enforceLimit(w, r, "rename:user:"+identity.UserID, renameLimit, renameWindow) {
		return
	}

	var req struct {
		Username string `json:"username"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if !usernameRe.MatchString(req.Username) {
		writeError(w, http.StatusBadRequest, "Username must be 3-32 lowercase letters, digits, or underscores")
		return
	}

	if err := s.store.RenameUser(r.Context(), identity.UserID, req.Username); err != nil {
		writeStoreError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"username": req.Username})
}

func (s *Server) handleUpdateAvatar(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context())

	var req struct {
		AvatarSettings json.RawMessage `json:"avatarSettings"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if len(req.AvatarSettings) == 0 {
		writeError(w, http.StatusBadRequest, "avatarSettings is required")
		return
	}

	if err := s.store.UpdateAvatarSettings(r.Context(), identity.UserID, string(req.AvatarSettings)); err != nil {
		writeStoreError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
