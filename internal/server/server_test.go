// ABOUTME: Test harness for the HTTP API: in-process server, signed requests
// ABOUTME: Registers real devices and signs requests with real Ed25519 keys

package server

import (
	"bytes"
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dayline-app/dayline-server/internal/auth"
	"github.com/dayline-app/dayline-server/internal/config"
)

// newTestServer assembles a Server over temp storage. The returned handler is
// the full route table; no listener is started.
func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	tmp := t.TempDir()
	cfg := &config.Config{}
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Server.BaseURL = "http://dayline.test"
	cfg.Database.Path = filepath.Join(tmp, "test.db")
	cfg.Blobs.Dir = filepath.Join(tmp, "blobs")
	cfg.Auth.Window = 5 * time.Minute
	cfg.Auth.AdminSecret = "test-admin-secret"

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := New(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		s.throttle.Close()
		s.store.Close()
	})

	return s, s.routes()
}

// testClient is one registered device with its signing key
type testClient struct {
	t        *testing.T
	handler  http.Handler
	priv     ed25519.PrivateKey
	UserID   string
	DeviceID string
}

var registerIPCounter int

// registerUser runs the real registration endpoint with fresh keys. Each
// registration uses a distinct client IP so tests don't trip the IP limit.
func registerUser(t *testing.T, handler http.Handler, username string) *testClient {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signDER, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)

	dhPriv, err := ecdh.X25519().GenerateKey(rand.Reader)
	require.NoError(t, err)
	dhDER, err := x509.MarshalPKIXPublicKey(dhPriv.PublicKey())
	require.NoError(t, err)

	body, err := json.Marshal(map[string]string{
		"username":   username,
		"signPubKey": base64.StdEncoding.EncodeToString(signDER),
		"dhPubKey":   base64.StdEncoding.EncodeToString(dhDER),
	})
	require.NoError(t, err)

	registerIPCounter++
	req := httptest.NewRequest(http.MethodPost, "/api/users/register", bytes.NewReader(body))
	req.Header.Set("X-Real-IP", fmt.Sprintf("10.9.%d.%d", registerIPCounter/250, registerIPCounter%250))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, "register response: %s", rec.Body.String())

	var resp struct {
		UserID   string `json:"userId"`
		DeviceID string `json:"deviceId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	return &testClient{
		t:        t,
		handler:  handler,
		priv:     priv,
		UserID:   resp.UserID,
		DeviceID: resp.DeviceID,
	}
}

// do sends a signed request and returns the recorder
func (c *testClient) do(method, path string, body []byte) *httptest.ResponseRecorder {
	c.t.Helper()

	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	bodyHash := sha256.Sum256(body)
	canonical := strings.ToUpper(method) + "\n" + path + "\n" + ts + "\n" + hex.EncodeToString(bodyHash[:])
	sig := ed25519.Sign(c.priv, []byte(canonical))

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set(auth.UserIDHeader, c.UserID)
	req.Header.Set(auth.DeviceIDHeader, c.DeviceID)
	req.Header.Set(auth.TimestampHeader, ts)
	req.Header.Set(auth.SignatureHeader, base64.StdEncoding.EncodeToString(sig))

	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	return rec
}

// doJSON sends a signed request with a JSON body
func (c *testClient) doJSON(method, path string, v any) *httptest.ResponseRecorder {
	c.t.Helper()
	body, err := json.Marshal(v)
	require.NoError(c.t, err)
	return c.do(method, path, body)
}

// decode unmarshals a response body into v
func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), "body: %s", rec.Body.String())
}

// newTestRecorderGet performs an unsigned GET against the handler
func newTestRecorderGet(handler http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	_, handler := newTestServer(t)

	for _, path := range []string{"/health", "/health/ready"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestSignedRouteRejectsUnsigned(t *testing.T) {
	_, handler := newTestServer(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/me", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSignedRouteRejectsForgedSignature(t *testing.T) {
	_, handler := newTestServer(t)
	alice := registerUser(t, handler, "alice")

	// Sign with a different key than the registered one
	_, otherPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	forged := &testClient{t: t, handler: handler, priv: otherPriv, UserID: alice.UserID, DeviceID: alice.DeviceID}

	rec := forged.do(http.MethodGet, "/api/me", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
}
