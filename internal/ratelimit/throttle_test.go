// ABOUTME: Tests for the per-IP token bucket throttle
// ABOUTME: Covers burst admission, exhaustion, per-IP isolation, and eviction

package ratelimit

import (
	"testing"
	"time"
)

func TestIPThrottle_BurstThenDeny(t *testing.T) {
	throttle := NewIPThrottle(1, 3)
	defer throttle.Close()

	for i := 0; i < 3; i++ {
		if !throttle.Allow("5.5.5.5") {
			t.Fatalf("request %d within burst should be allowed", i+1)
		}
	}
	if throttle.Allow("5.5.5.5") {
		t.Error("request beyond burst should be denied")
	}
}

func TestIPThrottle_PerIPIsolation(t *testing.T) {
	throttle := NewIPThrottle(1, 1)
	defer throttle.Close()

	if !throttle.Allow("6.6.6.6") {
		t.Fatal("first IP should be allowed")
	}
	if !throttle.Allow("7.7.7.7") {
		t.Error("distinct IP should have its own bucket")
	}
	if throttle.Allow("6.6.6.6") {
		t.Error("exhausted IP should be denied")
	}
}

func TestIPThrottle_EvictIdle(t *testing.T) {
	throttle := NewIPThrottle(1, 1)
	defer throttle.Close()
	throttle.idleTTL = 10 * time.Millisecond

	throttle.Allow("8.8.8.8")
	time.Sleep(20 * time.Millisecond)
	throttle.evictIdle()

	throttle.mu.Lock()
	_, present := throttle.entries["8.8.8.8"]
	throttle.mu.Unlock()
	if present {
		t.Error("idle entry should have been evicted")
	}
}

func TestIPThrottle_CloseIdempotent(t *testing.T) {
	throttle := NewIPThrottle(1, 1)
	throttle.Close()
	throttle.Close()
}
