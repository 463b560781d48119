// ABOUTME: In-process per-IP token bucket for the unauthenticated public endpoints
// ABOUTME: Keeps one x/time rate.Limiter per IP with periodic idle cleanup

package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// IPThrottle hands out one token-bucket limiter per client IP. It protects
// the public timeline reads, which carry no signed identity to key the
// shared counters by. State is per-process; that is fine for a soft shield
// in front of the real work.
type IPThrottle struct {
	mu      sync.Mutex
	entries map[string]*throttleEntry
	rps     rate.Limit
	burst   int
	idleTTL time.Duration
	done    chan struct{}
	closed  bool
}

type throttleEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewIPThrottle creates a throttle allowing rps requests per second with the
// given burst per IP. A background goroutine evicts entries idle for more
// than 15 minutes; call Close to stop it.
func NewIPThrottle(rps float64, burst int) *IPThrottle {
	t := &IPThrottle{
		entries: make(map[string]*throttleEntry),
		rps:     rate.Limit(rps),
		burst:   burst,
		idleTTL: 15 * time.Minute,
		done:    make(chan struct{}),
	}
	go t.janitor()
	return t
}

// Allow reports whether a request from ip may proceed now.
func (t *IPThrottle) Allow(ip string) bool {
	now := time.Now()

	t.mu.Lock()
	ent, ok := t.entries[ip]
	if !ok {
		ent = &throttleEntry{lim: rate.NewLimiter(t.rps, t.burst)}
		t.entries[ip] = ent
	}
	ent.lastSeen = now
	t.mu.Unlock()

	return ent.lim.Allow()
}

// Close stops the cleanup goroutine.
func (t *IPThrottle) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.done)
	}
}

func (t *IPThrottle) janitor() {
	ticker := time.NewTicker(2 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.evictIdle()
		}
	}
}

func (t *IPThrottle) evictIdle() {
	cutoff := time.Now().Add(-t.idleTTL)

	t.mu.Lock()
	defer t.mu.Unlock()
	for ip, ent := range t.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(t.entries, ip)
		}
	}
}
