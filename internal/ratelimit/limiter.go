// ABOUTME: Fixed-window rate limiter backed by an atomic increment-and-get counter store
// ABOUTME: Provides Enforce, the RateLimitError retry hint, and client IP extraction

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// MaxKeyLength bounds caller-supplied limiter keys.
	MaxKeyLength = 200

	// MinWindow is the smallest accepted window; bucket granularity below
	// one second is not meaningful for this design.
	MinWindow = time.Second
)

// ErrInvalidArgument marks programmer or configuration errors in how the
// limiter was invoked. It is raised before any store access.
var ErrInvalidArgument = errors.New("invalid argument")

// RateLimitError reports that the caller is over quota for the current
// window. It is always recoverable: retry after the hinted delay.
type RateLimitError struct {
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded (retry after %ds)", e.RetryAfterSeconds)
}

// Counters is the shared counter store. IncrementAndGet must atomically
// increment the counter for bucketKey (creating it at 1 if absent) and
// return the post-increment value in a single round trip. The store must be
// shared by all server processes; a per-process map would undercount.
type Counters interface {
	IncrementAndGet(ctx context.Context, bucketKey string) (int64, error)
}

// Limiter enforces fixed-window limits per logical key.
type Limiter struct {
	counters Counters
}

// NewLimiter creates a Limiter over the given counter store.
func NewLimiter(counters Counters) *Limiter {
	return &Limiter{counters: counters}
}

// Enforce counts one event against key's current window. It returns nil when
// the caller is within limit, a *RateLimitError when over it, an
// ErrInvalidArgument-wrapped error for bad invocations, and an opaque error
// when the counter store fails (the limiter neither fails open nor closed;
// the endpoint decides, and in practice surfaces 500).
func (l *Limiter) Enforce(ctx context.Context, key string, limit int, window time.Duration) error {
	key = strings.TrimSpace(key)
	if key == "" || len(key) > MaxKeyLength {
		return fmt.Errorf("%w: rate limit key", ErrInvalidArgument)
	}
	if limit <= 0 {
		return fmt.Errorf("%w: rate limit %d", ErrInvalidArgument, limit)
	}
	if window < MinWindow {
		return fmt.Errorf("%w: rate limit window %v", ErrInvalidArgument, window)
	}

	nowMs := time.Now().UnixMilli()
	windowMs := window.Milliseconds()
	bucket := nowMs / windowMs
	bucketKey := key + ":" + strconv.FormatInt(bucket, 10)

	count, err := l.counters.IncrementAndGet(ctx, bucketKey)
	if err != nil {
		return fmt.Errorf("incrementing rate limit counter: %w", err)
	}
	if count <= int64(limit) {
		return nil
	}

	resetAtMs := (bucket + 1) * windowMs
	retryAfter := int((resetAtMs - nowMs + 999) / 1000)
	if retryAfter < 1 {
		retryAfter = 1
	}
	return &RateLimitError{RetryAfterSeconds: retryAfter}
}

// WriteError maps a non-nil Enforce error onto the response: 429 with a
// Retry-After header for quota failures, 500 for everything else. Internal
// causes are never echoed to the client.
func WriteError(w http.ResponseWriter, err error) {
	var limitErr *RateLimitError
	if errors.As(err, &limitErr) {
		w.Header().Set("Retry-After", strconv.Itoa(limitErr.RetryAfterSeconds))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"Rate limit exceeded"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = w.Write([]byte(`{"error":"Internal server error"}`))
}

// ClientIP extracts the originating client IP from proxy headers, preferring
// CF-Connecting-IP, then X-Real-IP, then the first X-Forwarded-For hop.
// Returns "unknown" when nothing usable is present.
func ClientIP(headers http.Header) string {
	if cf := strings.TrimSpace(headers.Get("CF-Connecting-IP")); cf != "" {
		return cf
	}
	if real := strings.TrimSpace(headers.Get("X-Real-IP")); real != "" {
		return real
	}
	if forwarded := headers.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	return "unknown"
}
