// ABOUTME: Tests for the shared rate-limit counter upsert
// ABOUTME: Includes a concurrency check for the increment-and-get contract

package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_IncrementAndGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := s.IncrementAndGet(ctx, "register:1.2.3.4:100")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	// Independent key
	got, err := s.IncrementAndGet(ctx, "register:5.6.7.8:100")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)
}

func TestStore_IncrementAndGet_Concurrent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	results := make([]int64, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.IncrementAndGet(ctx, "chat:u1:42")
		}(i)
	}
	wg.Wait()

	// Every call must see a distinct post-increment value up to workers
	seen := make(map[int64]bool)
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.False(t, seen[results[i]], "duplicate count %d", results[i])
		seen[results[i]] = true
		assert.GreaterOrEqual(t, results[i], int64(1))
		assert.LessOrEqual(t, results[i], int64(workers))
	}
}

func TestStore_ResetCounters(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.IncrementAndGet(ctx, "a:1")
	require.NoError(t, err)
	_, err = s.IncrementAndGet(ctx, "b:1")
	require.NoError(t, err)

	deleted, err := s.ResetCounters(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	got, err := s.IncrementAndGet(ctx, "a:1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)
}
