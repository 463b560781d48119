// ABOUTME: Package ratelimit enforces fixed-window request limits over shared counters
// ABOUTME: Counter storage is pluggable: SQLite upsert or Redis INCR
//
// Package ratelimit implements a fixed-window rate limiter.
//
// Each call derives a bucket index from wall-clock time
// (floor(now / window)) and performs exactly one atomic
// increment-and-read against the shared counter store for the key
// "<key>:<bucket>". Concurrent callers across processes therefore observe a
// linear sequence of counts with no lost updates, without any in-process
// locking. Old buckets are simply never incremented again; retention of
// stale counter rows is an operational concern, not this package's.
//
// Fixed windows trade smoothing for cost: a caller can burst up to twice the
// limit across a window boundary. That is acceptable for the abuse ceilings
// this server needs (registration, message and invite spam). If stricter
// smoothing is ever required, a sliding-window or token-bucket store can
// replace the Counters implementation behind the same Enforce contract.
//
// IPThrottle is a separate, in-process token bucket used only to shield the
// unauthenticated public timeline endpoints; it is not a substitute for the
// shared fixed-window counters.
package ratelimit
