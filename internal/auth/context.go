// ABOUTME: Verified identity propagation through request contexts
// ABOUTME: Provides WithIdentity/FromContext for handlers behind the middleware

package auth

import (
	"context"
)

// Identity is the verified (user, device) pair a successful verification
// produces. It lives only for the duration of one request; nothing in this
// package caches or persists it.
type Identity struct {
	UserID   string
	DeviceID string
}

// identityKey is the key type for storing an Identity in context.Context.
type identityKey struct{}

// WithIdentity returns a new context with the verified identity attached.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext retrieves the Identity from the context, returning nil if not present.
func FromContext(ctx context.Context) *Identity {
	val := ctx.Value(identityKey{})
	if val == nil {
		return nil
	}
	id, ok := val.(*Identity)
	if !ok {
		return nil
	}
	return id
}

// MustFromContext retrieves the Identity from the context, panicking if not present.
// Use only in handlers that are always registered behind the auth middleware.
func MustFromContext(ctx context.Context) *Identity {
	id := FromContext(ctx)
	if id == nil {
		panic("auth: Identity not found in context")
	}
	return id
}
