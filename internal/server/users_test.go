// ABOUTME: Tests for registration, profile, and rename endpoints
// ABOUTME: Covers validation failures, conflicts, and the register IP limit

package server

import (
	"bytes"
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postRegister(t *testing.T, handler http.Handler, body map[string]string, ip string) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/users/register", bytes.NewReader(raw))
	req.Header.Set("X-Real-IP", ip)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRegister_InvalidUsername(t *testing.T) {
	_, handler := newTestServer(t)

	for _, username := range []string{"ab", "UPPER", "has space", "big_" + string(bytes.Repeat([]byte("x"), 40)), ""} {
		rec := postRegister(t, handler, map[string]string{
			"username":   username,
			"signPubKey": "irrelevant",
			"dhPubKey":   "irrelevant",
		}, "10.0.0.1")
		assert.Equal(t, http.StatusBadRequest, rec.Code, "username %q", username)
	}
}

func TestRegister_InvalidKeys(t *testing.T) {
	_, handler := newTestServer(t)

	rec := postRegister(t, handler, map[string]string{
		"username":   "alice",
		"signPubKey": "not-a-key",
		"dhPubKey":   "also-not",
	}, "10.0.0.2")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRename_Conflict(t *testing.T) {
	_, handler := newTestServer(t)

	alice := registerUser(t, handler, "alice")
	registerUser(t, handler, "bob")

	rec := alice.doJSON(http.MethodPost, "/api/users/rename", map[string]string{"username": "bob"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRegister_IPRateLimit(t *testing.T) {
	_, handler := newTestServer(t)

	// All from the same IP: the 6th attempt trips the 5/hour limit even
	// though every request is otherwise invalid
	var last *httptest.ResponseRecorder
	for i := 0; i < 6; i++ {
		last = postRegister(t, handler, map[string]string{
			"username":   fmt.Sprintf("user_%d", i),
			"signPubKey": "junk",
			"dhPubKey":   "junk",
		}, "10.0.0.3")
	}
	assert.Equal(t, http.StatusTooManyRequests, last.Code)
	assert.NotEmpty(t, last.Header().Get("Retry-After"))
}

func TestMe(t *testing.T) {
	_, handler := newTestServer(t)
	alice := registerUser(t, handler, "alice")

	rec := alice.do(http.MethodGet, "/api/me", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		User struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"user"`
		Devices []struct {
			ID         string  `json:"id"`
			LastSeenAt *string `json:"lastSeenAt"`
		} `json:"devices"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, alice.UserID, resp.User.ID)
	assert.Equal(t, "alice", resp.User.Username)
	require.Len(t, resp.Devices, 1)
	assert.Equal(t, alice.DeviceID, resp.Devices[0].ID)
	// The signed request itself touched last-seen
	assert.NotNil(t, resp.Devices[0].LastSeenAt)
}

func TestRename(t *testing.T) {
	_, handler := newTestServer(t)
	alice := registerUser(t, handler, "alice")

	rec := alice.doJSON(http.MethodPost, "/api/users/rename", map[string]string{"username": "alice_new"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = alice.do(http.MethodGet, "/api/me", nil)
	var resp struct {
		User struct {
			Username string `json:"username"`
		} `json:"user"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, "alice_new", resp.User.Username)
}

func TestRename_RateLimit(t *testing.T) {
	_, handler := newTestServer(t)
	alice := registerUser(t, handler, "alice")

	var last *httptest.ResponseRecorder
	for i := 0; i < 6; i++ {
		last = alice.doJSON(http.MethodPost, "/api/users/rename", map[string]string{
			"username": fmt.Sprintf("alice_%d", i),
		})
	}
	assert.Equal(t, http.StatusTooManyRequests, last.Code)
}

func TestUpdateAvatar(t *testing.T) {
	_, handler := newTestServer(t)
	alice := registerUser(t, handler, "alice")

	rec := alice.doJSON(http.MethodPost, "/api/me/avatar", map[string]any{
		"avatarSettings": map[string]any{"hue": 120},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = alice.do(http.MethodGet, "/api/me", nil)
	var resp struct {
		User struct {
			AvatarSettings json.RawMessage `json:"avatarSettings"`
		} `json:"user"`
	}
	decode(t, rec, &resp)
	assert.JSONEq(t, `{"hue":120}`, string(resp.User.AvatarSettings))
}

func TestAddDevice(t *testing.T) {
	_, handler := newTestServer(t)
	alice := registerUser(t, handler, "alice")

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signDER, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)
	dhPriv, err := ecdh.X25519().GenerateKey(rand.Reader)
	require.NoError(t, err)
	dhDER, err := x509.MarshalPKIXPublicKey(dhPriv.PublicKey())
	require.NoError(t, err)

	rec := alice.doJSON(http.MethodPost, "/api/me/devices", map[string]string{
		"signPubKey": base64.StdEncoding.EncodeToString(signDER),
		"dhPubKey":   base64.StdEncoding.EncodeToString(dhDER),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp struct {
		DeviceID string `json:"deviceId"`
	}
	decode(t, rec, &resp)
	require.NotEmpty(t, resp.DeviceID)

	// The new device signs requests on its own
	second := &testClient{t: t, handler: handler, priv: priv, UserID: alice.UserID, DeviceID: resp.DeviceID}
	rec = second.do(http.MethodGet, "/api/me", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var me struct {
		Devices []struct {
			ID string `json:"id"`
		} `json:"devices"`
	}
	decode(t, rec, &me)
	assert.Len(t, me.Devices, 2)
}

func TestAddDevice_InvalidKey(t *testing.T) {
	_, handler := newTestServer(t)
	alice := registerUser(t, handler, "alice")

	rec := alice.doJSON(http.MethodPost, "/api/me/devices", map[string]string{
		"signPubKey": "not-a-key",
		"dhPubKey":   "not-a-key",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
