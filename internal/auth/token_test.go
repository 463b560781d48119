// ABOUTME: Tests for JWT operator token verification
// ABOUTME: Covers generation, verification, expiry, and wrong-secret rejection

package auth

import (
	"errors"
	"testing"
	"time"
)

func TestJWTVerifier_RoundTrip(t *testing.T) {
	v := NewJWTVerifier([]byte("secret"))

	token, err := v.Generate("ops", time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	subject, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if subject != "ops" {
		t.Errorf("subject = %q, want %q", subject, "ops")
	}
}

func TestJWTVerifier_Expired(t *testing.T) {
	v := NewJWTVerifier([]byte("secret"))

	token, err := v.Generate("ops", -time.Minute)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	_, err = v.Verify(token)
	if !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Verify() error = %v, want ErrExpiredToken", err)
	}
}

func TestJWTVerifier_WrongSecret(t *testing.T) {
	token, err := NewJWTVerifier([]byte("secret-a")).Generate("ops", time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	_, err = NewJWTVerifier([]byte("secret-b")).Verify(token)
	if err == nil {
		t.Error("Verify() should reject token signed with a different secret")
	}
}

func TestJWTVerifier_Garbage(t *testing.T) {
	v := NewJWTVerifier([]byte("secret"))
	if _, err := v.Verify("not.a.jwt"); err == nil {
		t.Error("Verify() should reject malformed token")
	}
}
