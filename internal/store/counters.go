// ABOUTME: Shared rate-limit counters backed by an atomic SQLite upsert
// ABOUTME: Implements the ratelimit.Counters increment-and-get contract

package store

import (
	"context"
	"fmt"
)

// IncrementAndGet atomically increments the counter for bucketKey, creating
// it at 1 if absent, and returns the post-increment value. A single upsert
// statement keeps concurrent callers from losing updates.
func (s *SQLiteStore) IncrementAndGet(ctx context.Context, bucketKey string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO rate_limits (key, count) VALUES (?, 1)
		 ON CONFLICT (key) DO UPDATE SET count = count + 1
		 RETURNING count`, bucketKey,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("incrementing counter: %w", err)
	}
	return count, nil
}

// ResetCounters clears all rate-limit buckets. Stale buckets are harmless
// (new windows use new keys) but accumulate; the maintenance endpoint calls
// this to reclaim them.
func (s *SQLiteStore) ResetCounters(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM rate_limits`)
	if err != nil {
		return 0, fmt.Errorf("resetting counters: %w", err)
	}
	return result.RowsAffected()
}
