// ABOUTME: Tests for room, invite, key-envelope, and room-event endpoints
// ABOUTME: Walks the full flow from creation through invite to shared events

package server

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createRoom creates a room and returns its id
func createRoom(t *testing.T, c *testClient, name string) string {
	t.Helper()
	rec := c.doJSON(http.MethodPost, "/api/rooms", map[string]string{"name": name})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp struct {
		ID string `json:"id"`
	}
	decode(t, rec, &resp)
	return resp.ID
}

// inviteAndJoin invites `to` into the room and accepts the invite
func inviteAndJoin(t *testing.T, roomID string, from, to *testClient) {
	t.Helper()
	rec := from.doJSON(http.MethodPost, "/api/rooms/"+roomID+"/invites", map[string]string{"toUserId": to.UserID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		InviteID string `json:"inviteId"`
	}
	decode(t, rec, &created)

	rec = to.do(http.MethodPost, "/api/rooms/invites/"+created.InviteID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestRoomFlow(t *testing.T) {
	_, handler := newTestServer(t)
	alice := registerUser(t, handler, "alice")
	bob := registerUser(t, handler, "bob")
	befriend(t, alice, bob)

	roomID := createRoom(t, alice, "screenshots")
	inviteAndJoin(t, roomID, alice, bob)

	// Both see the room
	for _, c := range []*testClient{alice, bob} {
		rec := c.do(http.MethodGet, "/api/rooms", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			Rooms []struct {
				ID string `json:"id"`
			} `json:"rooms"`
		}
		decode(t, rec, &resp)
		require.Len(t, resp.Rooms, 1)
	}

	// Room detail carries the caller's role
	rec := bob.do(http.MethodGet, "/api/rooms/"+roomID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var detail struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		Role string `json:"role"`
	}
	decode(t, rec, &detail)
	assert.Equal(t, roomID, detail.ID)
	assert.Equal(t, "screenshots", detail.Name)
	assert.Equal(t, "member", detail.Role)

	// Members endpoint shows owner first
	rec = bob.do(http.MethodGet, "/api/rooms/"+roomID+"/members", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var members struct {
		Members []struct {
			UserID string `json:"userId"`
			Role   string `json:"role"`
		} `json:"members"`
	}
	decode(t, rec, &members)
	require.Len(t, members.Members, 2)
	assert.Equal(t, "owner", members.Members[0].Role)
	assert.Equal(t, alice.UserID, members.Members[0].UserID)
}

func TestRoom_NonMemberForbidden(t *testing.T) {
	_, handler := newTestServer(t)
	alice := registerUser(t, handler, "alice")
	mallory := registerUser(t, handler, "mallory")

	roomID := createRoom(t, alice, "private")

	for _, path := range []string{
		"/api/rooms/" + roomID,
		"/api/rooms/" + roomID + "/members",
		"/api/rooms/" + roomID + "/events",
		"/api/rooms/" + roomID + "/keys",
		"/api/rooms/" + roomID + "/invites",
	} {
		rec := mallory.do(http.MethodGet, path, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code, path)
	}
}

func TestRoomInvite_RequiresFriendship(t *testing.T) {
	_, handler := newTestServer(t)
	alice := registerUser(t, handler, "alice")
	bob := registerUser(t, handler, "bob")

	roomID := createRoom(t, alice, "screenshots")
	rec := alice.doJSON(http.MethodPost, "/api/rooms/"+roomID+"/invites", map[string]string{"toUserId": bob.UserID})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRoomKeys(t *testing.T) {
	_, handler := newTestServer(t)
	alice := registerUser(t, handler, "alice")
	bob := registerUser(t, handler, "bob")
	befriend(t, alice, bob)
	roomID := createRoom(t, alice, "screenshots")
	inviteAndJoin(t, roomID, alice, bob)

	// Alice sees both devices pending
	rec := alice.do(http.MethodGet, "/api/rooms/"+roomID+"/keys", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var keys struct {
		Envelope       string `json:"envelope"`
		PendingDevices []struct {
			DeviceID string `json:"deviceId"`
			DHPubKey string `json:"dhPubKey"`
		} `json:"pendingDevices"`
	}
	decode(t, rec, &keys)
	assert.Empty(t, keys.Envelope)
	require.Len(t, keys.PendingDevices, 2)

	// Alice wraps the room key for both devices
	rec = alice.doJSON(http.MethodPost, "/api/rooms/"+roomID+"/keys", map[string]any{
		"envelopes": []map[string]string{
			{"deviceId": alice.DeviceID, "envelope": `{"k":"for-alice"}`},
			{"deviceId": bob.DeviceID, "envelope": `{"k":"for-bob"}`},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Bob now gets his envelope and nothing pending
	rec = bob.do(http.MethodGet, "/api/rooms/"+roomID+"/keys", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &keys)
	assert.Equal(t, `{"k":"for-bob"}`, keys.Envelope)
	assert.Empty(t, keys.PendingDevices)
}

func TestRoomKeys_EnvelopeTooLarge(t *testing.T) {
	_, handler := newTestServer(t)
	alice := registerUser(t, handler, "alice")
	roomID := createRoom(t, alice, "screenshots")

	rec := alice.doJSON(http.MethodPost, "/api/rooms/"+roomID+"/keys", map[string]any{
		"envelopes": []map[string]string{
			{"deviceId": alice.DeviceID, "envelope": strings.Repeat("x", 10001)},
		},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRoomEvents(t *testing.T) {
	_, handler := newTestServer(t)
	alice := registerUser(t, handler, "alice")
	bob := registerUser(t, handler, "bob")
	befriend(t, alice, bob)
	roomID := createRoom(t, alice, "screenshots")
	inviteAndJoin(t, roomID, alice, bob)

	rec := bob.doJSON(http.MethodPost, "/api/rooms/"+roomID+"/events", map[string]any{
		"id":                "evt_1",
		"timestampMs":       1000,
		"payloadCiphertext": "opaque-bytes",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Retry is idempotent
	rec = bob.doJSON(http.MethodPost, "/api/rooms/"+roomID+"/events", map[string]any{
		"id":                "evt_1",
		"timestampMs":       1000,
		"payloadCiphertext": "opaque-bytes-v2",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = alice.do(http.MethodGet, "/api/rooms/"+roomID+"/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var events struct {
		Events []struct {
			ID                string `json:"id"`
			PayloadCiphertext string `json:"payloadCiphertext"`
			AuthorUserID      string `json:"authorUserId"`
		} `json:"events"`
	}
	decode(t, rec, &events)
	require.Len(t, events.Events, 1)
	assert.Equal(t, "opaque-bytes-v2", events.Events[0].PayloadCiphertext)
	assert.Equal(t, bob.UserID, events.Events[0].AuthorUserID)

	// The owner may delete bob's event
	rec = alice.do(http.MethodDelete, "/api/rooms/"+roomID+"/events/evt_1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = alice.do(http.MethodGet, "/api/rooms/"+roomID+"/events", nil)
	decode(t, rec, &events)
	assert.Empty(t, events.Events)
}

func TestRoomEvents_CiphertextCap(t *testing.T) {
	_, handler := newTestServer(t)
	alice := registerUser(t, handler, "alice")
	roomID := createRoom(t, alice, "screenshots")

	rec := alice.doJSON(http.MethodPost, "/api/rooms/"+roomID+"/events", map[string]any{
		"timestampMs":       1000,
		"payloadCiphertext": strings.Repeat("x", 200001),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRoomEventImage(t *testing.T) {
	_, handler := newTestServer(t)
	alice := registerUser(t, handler, "alice")
	roomID := createRoom(t, alice, "screenshots")

	rec := alice.doJSON(http.MethodPost, "/api/rooms/"+roomID+"/events", map[string]any{
		"id":                "evt_img",
		"timestampMs":       1000,
		"payloadCiphertext": "ct",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = alice.do(http.MethodPost, "/api/rooms/"+roomID+"/events/evt_img/image", []byte("encrypted image bytes"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var upload struct {
		ImageURL string `json:"imageUrl"`
	}
	decode(t, rec, &upload)
	require.Contains(t, upload.ImageURL, "/blobs/rooms/"+roomID+"/events/evt_img")

	// The blob is served publicly
	blobPath := upload.ImageURL[len("http://dayline.test"):]
	blobRec := newTestRecorderGet(handler, blobPath)
	require.Equal(t, http.StatusOK, blobRec.Code)
	assert.Equal(t, "encrypted image bytes", blobRec.Body.String())

	// The event now carries the image URL
	rec = alice.do(http.MethodGet, "/api/rooms/"+roomID+"/events", nil)
	var events struct {
		Events []struct {
			ImageURL string `json:"imageUrl"`
		} `json:"events"`
	}
	decode(t, rec, &events)
	require.Len(t, events.Events, 1)
	assert.Equal(t, upload.ImageURL, events.Events[0].ImageURL)
}
