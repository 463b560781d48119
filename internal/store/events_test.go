// ABOUTME: Tests for encrypted room events: upsert idempotency, listing, deletion
// ABOUTME: Verifies the author-or-owner deletion rule

package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_UpsertRoomEvent_Idempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	aliceID, _ := createTestUser(t, s, "alice")
	roomID := createTestRoom(t, s, aliceID, "screenshots")

	evID := uuid.New().String()
	event := &RoomEvent{
		ID: evID, RoomID: roomID, AuthorUserID: aliceID,
		TimestampMs: 1000, PayloadCiphertext: "ct-1",
	}
	require.NoError(t, s.UpsertRoomEvent(ctx, event))

	// Client retry with updated payload replaces the row
	event.PayloadCiphertext = "ct-2"
	require.NoError(t, s.UpsertRoomEvent(ctx, event))

	events, err := s.ListRoomEvents(ctx, roomID, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ct-2", events[0].PayloadCiphertext)
}

func TestStore_UpsertRoomEvent_ForeignIDNotHijacked(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	aliceID, _ := createTestUser(t, s, "alice")
	bobID, _ := createTestUser(t, s, "bob")
	roomID := createTestRoom(t, s, aliceID, "screenshots")

	evID := uuid.New().String()
	require.NoError(t, s.UpsertRoomEvent(ctx, &RoomEvent{
		ID: evID, RoomID: roomID, AuthorUserID: aliceID,
		TimestampMs: 1000, PayloadCiphertext: "alice-ct",
	}))

	// A different author reusing the id does not overwrite
	require.NoError(t, s.UpsertRoomEvent(ctx, &RoomEvent{
		ID: evID, RoomID: roomID, AuthorUserID: bobID,
		TimestampMs: 2000, PayloadCiphertext: "bob-ct",
	}))

	got, err := s.GetRoomEvent(ctx, roomID, evID)
	require.NoError(t, err)
	assert.Equal(t, aliceID, got.AuthorUserID)
	assert.Equal(t, "alice-ct", got.PayloadCiphertext)
}

func TestStore_ListRoomEvents_Since(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	aliceID, _ := createTestUser(t, s, "alice")
	roomID := createTestRoom(t, s, aliceID, "screenshots")

	for _, ts := range []int64{1000, 2000, 3000} {
		require.NoError(t, s.UpsertRoomEvent(ctx, &RoomEvent{
			ID: uuid.New().String(), RoomID: roomID, AuthorUserID: aliceID,
			TimestampMs: ts, PayloadCiphertext: "ct",
		}))
	}

	events, err := s.ListRoomEvents(ctx, roomID, 2000)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(2000), events[0].TimestampMs)
	assert.Equal(t, int64(3000), events[1].TimestampMs)
}

func TestStore_DeleteRoomEvent_AuthorOrOwner(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	aliceID, _ := createTestUser(t, s, "alice")
	bobID, _ := createTestUser(t, s, "bob")
	carolID, _ := createTestUser(t, s, "carol")
	makeFriends(t, s, aliceID, bobID)
	makeFriends(t, s, aliceID, carolID)

	roomID := createTestRoom(t, s, aliceID, "screenshots")
	for _, uid := range []string{bobID, carolID} {
		invID := uuid.New().String()
		require.NoError(t, s.CreateRoomInvite(ctx,
			&RoomInvite{ID: invID, RoomID: roomID, FromUserID: aliceID, ToUserID: uid, CreatedAt: time.Now()}))
		_, err := s.AcceptRoomInvite(ctx, invID, uid)
		require.NoError(t, err)
	}

	evID := uuid.New().String()
	require.NoError(t, s.UpsertRoomEvent(ctx, &RoomEvent{
		ID: evID, RoomID: roomID, AuthorUserID: bobID,
		TimestampMs: 1000, PayloadCiphertext: "ct",
	}))

	// A plain member who is not the author cannot delete
	assert.ErrorIs(t, s.DeleteRoomEvent(ctx, roomID, evID, carolID), ErrNotAllowed)

	// The owner can
	require.NoError(t, s.DeleteRoomEvent(ctx, roomID, evID, aliceID))
	_, err := s.GetRoomEvent(ctx, roomID, evID)
	assert.ErrorIs(t, err, ErrNotFound)

	// The author can delete their own
	require.NoError(t, s.UpsertRoomEvent(ctx, &RoomEvent{
		ID: evID, RoomID: roomID, AuthorUserID: bobID,
		TimestampMs: 1000, PayloadCiphertext: "ct",
	}))
	require.NoError(t, s.DeleteRoomEvent(ctx, roomID, evID, bobID))

	assert.ErrorIs(t, s.DeleteRoomEvent(ctx, roomID, "nope", aliceID), ErrNotFound)
}

func TestStore_SetRoomEventImageRef(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	aliceID, _ := createTestUser(t, s, "alice")
	bobID, _ := createTestUser(t, s, "bob")
	roomID := createTestRoom(t, s, aliceID, "screenshots")

	evID := uuid.New().String()
	require.NoError(t, s.UpsertRoomEvent(ctx, &RoomEvent{
		ID: evID, RoomID: roomID, AuthorUserID: aliceID,
		TimestampMs: 1000, PayloadCiphertext: "ct",
	}))

	require.NoError(t, s.SetRoomEventImageRef(ctx, roomID, evID, aliceID, "rooms/r/events/e"))
	got, err := s.GetRoomEvent(ctx, roomID, evID)
	require.NoError(t, err)
	assert.Equal(t, "rooms/r/events/e", got.ImageRef)

	// Only the author may attach
	assert.ErrorIs(t, s.SetRoomEventImageRef(ctx, roomID, evID, bobID, "x"), ErrNotAllowed)
	assert.ErrorIs(t, s.SetRoomEventImageRef(ctx, roomID, "nope", aliceID, "x"), ErrNotFound)
}
