// ABOUTME: Signed-request verification against registered device keys
// ABOUTME: Canonical string is METHOD\npath\nts\nsha256hex(body), signed with Ed25519

package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dayline-app/dayline-server/internal/store"
)

const (
	// DefaultWindow is the maximum allowed skew between the request
	// timestamp and server time before a signature is rejected as expired.
	DefaultWindow = 5 * time.Minute

	// Request authentication headers.
	UserIDHeader    = "X-User-Id"
	DeviceIDHeader  = "X-Device-Id"
	TimestampHeader = "X-Ts"
	SignatureHeader = "X-Sig"
)

// DeviceKeys looks up registered device signing keys and records liveness.
// Implemented by the store; LookupSigningKey returns store.ErrNotFound when
// no device matches the (deviceID, userID) pair.
type DeviceKeys interface {
	LookupSigningKey(ctx context.Context, deviceID, userID string) (string, error)
	TouchDeviceLastSeen(ctx context.Context, deviceID string) error
}

// SignedRequest carries the request fields covered by the signature. It is
// built per call by the HTTP middleware and discarded when verification ends.
type SignedRequest struct {
	UserID    string
	DeviceID  string
	Timestamp string // decimal milliseconds since epoch, exactly as sent
	Signature string // base64 (std encoding)
	Method    string
	Path      string // request path without query string
	Body      []byte
}

// Verifier validates signed requests against the device registry.
type Verifier struct {
	keys   DeviceKeys
	window time.Duration
	logger *slog.Logger
	nowMs  func() int64 // overridable in tests
}

// NewVerifier creates a Verifier. A non-positive window selects DefaultWindow.
func NewVerifier(keys DeviceKeys, window time.Duration, logger *slog.Logger) *Verifier {
	if window <= 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		keys:   keys,
		window: window,
		logger: logger.With("component", "auth"),
		nowMs:  func() int64 { return time.Now().UnixMilli() },
	}
}

// Verify checks the request signature and returns the verified identity.
// Failures are *Error values carrying a Kind and HTTP status. On success the
// device's last-seen timestamp is updated; that write is best-effort and its
// failure is logged, never surfaced.
func (v *Verifier) Verify(ctx context.Context, req *SignedRequest) (*Identity, error) {
	userID := strings.TrimSpace(req.UserID)
	deviceID := strings.TrimSpace(req.DeviceID)
	tsRaw := strings.TrimSpace(req.Timestamp)
	sigB64 := strings.TrimSpace(req.Signature)

	if userID == "" || deviceID == "" || tsRaw == "" || sigB64 == "" {
		return nil, errMissingHeaders()
	}

	tsMs, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return nil, errMalformed("invalid timestamp")
	}

	// Boundary is inclusive: a timestamp exactly window old still passes.
	// Compare in raw milliseconds; converting the skew to time.Duration
	// would overflow for extreme timestamps and wrap negative, skipping
	// the expiry rejection. Note -math.MinInt64 is still negative, so a
	// negated skew that stays below zero is also rejected.
	skew := v.nowMs() - tsMs
	if skew < 0 {
		skew = -skew
		if skew < 0 {
			return nil, errExpired()
		}
	}
	if skew > v.window.Milliseconds() {
		return nil, errExpired()
	}

	signature, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return nil, errMalformed("invalid signature encoding")
	}

	bodyHash := sha256.Sum256(req.Body)
	canonical := canonicalString(req.Method, req.Path, tsRaw, hex.EncodeToString(bodyHash[:]))

	// Both ids must match one record, so a signature registered for one
	// user's device cannot be presented as another user.
	keyB64, err := v.keys.LookupSigningKey(ctx, deviceID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errUnknownDevice()
		}
		return nil, errInternal("device key lookup failed", err)
	}

	pubkey, err := parseSigningKey(keyB64)
	if err != nil {
		// The stored key is corrupt; this is a server-side fault, not the caller's.
		return nil, errInternal("invalid device signing key", err)
	}

	if !ed25519.Verify(pubkey, []byte(canonical), signature) {
		return nil, errBadSignature()
	}

	if err := v.keys.TouchDeviceLastSeen(ctx, deviceID); err != nil {
		v.logger.Warn("failed to update device last-seen", "device_id", deviceID, "error", err)
	}

	return &Identity{UserID: userID, DeviceID: deviceID}, nil
}

// canonicalString builds the exact text a device signs. Field order and the
// newline separator are part of the wire protocol; changing either
// invalidates every previously issued client signature.
func canonicalString(method, path, ts, bodyHashHex string) string {
	return strings.ToUpper(method) + "\n" + path + "\n" + ts + "\n" + bodyHashHex
}

// parseSigningKey decodes a base64 SPKI DER public key and requires Ed25519.
func parseSigningKey(keyB64 string) (ed25519.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return nil, err
	}
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, err
	}
	pubkey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("not an Ed25519 key")
	}
	return pubkey, nil
}

// EncodeSigningKey returns the base64 SPKI encoding of an Ed25519 public key,
// the format devices submit at registration.
func EncodeSigningKey(pubkey ed25519.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pubkey)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// ValidateSigningKey reports whether keyB64 is a well-formed base64 SPKI
// Ed25519 public key. Used at device registration.
func ValidateSigningKey(keyB64 string) error {
	if keyB64 == "" || len(keyB64) > 4096 {
		return errors.New("key length out of range")
	}
	_, err := parseSigningKey(keyB64)
	return err
}

// ValidateExchangeKey reports whether keyB64 is a well-formed base64 SPKI
// public key of any algorithm. Devices register an X25519 exchange key
// alongside the signing key; the server never uses it, it only relays it to
// friends, so the check is shape-only.
func ValidateExchangeKey(keyB64 string) error {
	if keyB64 == "" || len(keyB64) > 4096 {
		return errors.New("key length out of range")
	}
	der, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return err
	}
	_, err = x509.ParsePKIXPublicKey(der)
	return err
}
