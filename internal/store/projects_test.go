// ABOUTME: Tests for published-project timelines and write-key verification
// ABOUTME: Covers pagination modes and the last-event watermark

package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestProject(t *testing.T, s *SQLiteStore, writeKey string) string {
	t.Helper()
	projectID := uuid.New().String()
	require.NoError(t, s.CreatePublishedProject(context.Background(),
		&PublishedProject{ID: projectID, Name: "timelapse", CreatedAt: time.Now()},
		HashWriteKey(writeKey)))
	return projectID
}

func TestStore_PublishedProject_WriteKey(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	projectID := createTestProject(t, s, "secret-key")

	ok, err := s.VerifyWriteKey(ctx, projectID, "secret-key")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.VerifyWriteKey(ctx, projectID, "wrong-key")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.VerifyWriteKey(ctx, "nope", "secret-key")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_UpsertPublishedEvent_AdvancesWatermark(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	projectID := createTestProject(t, s, "k")

	project, err := s.GetPublishedProject(ctx, projectID)
	require.NoError(t, err)
	assert.Nil(t, project.LastEventAt)

	evID := uuid.New().String()
	require.NoError(t, s.UpsertPublishedEvent(ctx, &PublishedEvent{
		ID: evID, ProjectID: projectID, TimestampMs: 1000, Caption: "first",
	}))

	project, err = s.GetPublishedProject(ctx, projectID)
	require.NoError(t, err)
	require.NotNil(t, project.LastEventAt)

	// Retry replaces the row
	require.NoError(t, s.UpsertPublishedEvent(ctx, &PublishedEvent{
		ID: evID, ProjectID: projectID, TimestampMs: 1000, Caption: "edited",
	}))
	events, err := s.ListPublishedEvents(ctx, projectID, ListEventsParams{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "edited", events[0].Caption)
}

func TestStore_ListPublishedEvents_Pagination(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	projectID := createTestProject(t, s, "k")
	for _, ts := range []int64{1000, 2000, 3000, 4000} {
		require.NoError(t, s.UpsertPublishedEvent(ctx, &PublishedEvent{
			ID: uuid.New().String(), ProjectID: projectID, TimestampMs: ts,
		}))
	}

	// Default: newest first
	events, err := s.ListPublishedEvents(ctx, projectID, ListEventsParams{})
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.Equal(t, int64(4000), events[0].TimestampMs)

	// Since: ascending from the bound, inclusive
	events, err = s.ListPublishedEvents(ctx, projectID, ListEventsParams{SinceMs: 3000})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(3000), events[0].TimestampMs)

	// Before: descending below the bound, exclusive
	events, err = s.ListPublishedEvents(ctx, projectID, ListEventsParams{BeforeMs: 3000})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(2000), events[0].TimestampMs)

	// Limit clamp
	events, err = s.ListPublishedEvents(ctx, projectID, ListEventsParams{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
