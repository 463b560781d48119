// ABOUTME: HTTP middleware for signed-request and operator-token authentication
// ABOUTME: Attaches the verified Identity to the request context for handlers

package auth

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// maxSignedBodyBytes caps how much request body the middleware will buffer
// for digest computation. Matches the largest accepted payload (image
// uploads) with headroom.
const maxSignedBodyBytes = 64 << 20

func writeAuthError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := "internal server error"
	if authErr, ok := err.(*Error); ok {
		status = authErr.Status
		msg = authErr.Message()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Middleware verifies the request signature and, on success, invokes next
// with the Identity attached to the request context. The body is buffered for
// digest computation and restored so handlers can read it normally.
func Middleware(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBodyBytes+1))
			if err != nil {
				writeAuthError(w, errMalformed("unreadable request body"))
				return
			}
			if len(body) > maxSignedBodyBytes {
				writeAuthError(w, errMalformed("request body too large"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			identity, err := v.Verify(r.Context(), &SignedRequest{
				UserID:    r.Header.Get(UserIDHeader),
				DeviceID:  r.Header.Get(DeviceIDHeader),
				Timestamp: r.Header.Get(TimestampHeader),
				Signature: r.Header.Get(SignatureHeader),
				Method:    r.Method,
				Path:      r.URL.Path,
				Body:      body,
			})
			if err != nil {
				writeAuthError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// RequireOperator creates an HTTP middleware that validates an operator
// bearer token. Used by the admin endpoints; a nil verifier disables the
// route entirely (404 keeps the surface invisible when not configured).
func RequireOperator(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil {
				http.NotFound(w, r)
				return
			}

			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
				return
			}

			if _, err := verifier.Verify(token); err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
