// ABOUTME: Tests for the signed-request HTTP middleware and operator token middleware
// ABOUTME: Covers identity propagation, body restoration, and error statuses

package auth

import (
	"crypto/ed25519"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

func signedHTTPRequest(t *testing.T, priv ed25519.PrivateKey, method, path, body, userID, deviceID string) *http.Request {
	t.Helper()

	signed := &SignedRequest{
		UserID:    userID,
		DeviceID:  deviceID,
		Timestamp: nowMs(),
		Method:    method,
		Path:      path,
		Body:      []byte(body),
	}
	signRequest(t, priv, signed)

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(UserIDHeader, signed.UserID)
	req.Header.Set(DeviceIDHeader, signed.DeviceID)
	req.Header.Set(TimestampHeader, signed.Timestamp)
	req.Header.Set(SignatureHeader, signed.Signature)
	return req
}

func TestMiddleware_AttachesIdentityAndRestoresBody(t *testing.T) {
	priv, keyB64 := generateTestDevice(t)
	keys := newFakeDeviceKeys()
	keys.register("d1", "u1", keyB64)
	v := NewVerifier(keys, 0, nil)

	var gotIdentity *Identity
	var gotBody string
	handler := Middleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIdentity = MustFromContext(r.Context())
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))

	body := `{"friendUserId":"u2"}`
	req := signedHTTPRequest(t, priv, "POST", "/api/chats/dm", body, "u1", "d1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if gotIdentity == nil || gotIdentity.UserID != "u1" || gotIdentity.DeviceID != "d1" {
		t.Errorf("identity = %+v", gotIdentity)
	}
	if gotBody != body {
		t.Errorf("handler read body %q, want %q", gotBody, body)
	}
}

func TestMiddleware_ErrorStatuses(t *testing.T) {
	priv, keyB64 := generateTestDevice(t)
	keys := newFakeDeviceKeys()
	keys.register("d1", "u1", keyB64)
	v := NewVerifier(keys, 0, nil)

	handler := Middleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run on auth failure")
	}))

	tests := []struct {
		name       string
		mutate     func(*http.Request)
		wantStatus int
	}{
		{
			name:       "missing headers",
			mutate:     func(r *http.Request) { r.Header.Del(UserIDHeader) },
			wantStatus: 401,
		},
		{
			name:       "malformed timestamp",
			mutate:     func(r *http.Request) { r.Header.Set(TimestampHeader, "xyz") },
			wantStatus: 400,
		},
		{
			name: "expired",
			mutate: func(r *http.Request) {
				old := time.Now().Add(-time.Hour).UnixMilli()
				r.Header.Set(TimestampHeader, strconv.FormatInt(old, 10))
			},
			wantStatus: 401,
		},
		{
			name:       "forged signature",
			mutate:     func(r *http.Request) { r.Header.Set(SignatureHeader, "QUFBQQ==") },
			wantStatus: 403,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := signedHTTPRequest(t, priv, "POST", "/api/chats/dm", `{}`, "u1", "d1")
			tt.mutate(req)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}
		})
	}
}

func TestRequireOperator(t *testing.T) {
	verifier := NewJWTVerifier([]byte("test-secret"))
	token, err := verifier.Generate("ops", time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	handler := RequireOperator(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("valid token", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/admin/init", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Errorf("status = %d, want 204", rec.Code)
		}
	})

	t.Run("missing header", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/admin/init", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("invalid token", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/admin/init", nil)
		req.Header.Set("Authorization", "Bearer not-a-jwt")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("nil verifier hides route", func(t *testing.T) {
		disabled := RequireOperator(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("handler must not run")
		}))
		req := httptest.NewRequest("POST", "/api/admin/init", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		disabled.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}
