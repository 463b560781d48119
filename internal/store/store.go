// ABOUTME: Data types and error sentinels for dayline-server persistence
// ABOUTME: Defines users, devices, social graph, rooms, chats, and timeline records

package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateUsername is returned when a username is already taken
var ErrDuplicateUsername = errors.New("username already taken")

// ErrDuplicateRequest is returned when an equivalent pending request already exists
var ErrDuplicateRequest = errors.New("request already exists")

// ErrNotPending is returned when responding to a request that is not pending
var ErrNotPending = errors.New("request is not pending")

// ErrNotFriends is returned when an operation requires an existing friendship
var ErrNotFriends = errors.New("users are not friends")

// ErrNotMember is returned when an operation requires room or thread membership
var ErrNotMember = errors.New("not a member")

// ErrNotAllowed is returned when the caller lacks permission for the operation
var ErrNotAllowed = errors.New("not allowed")

// ErrBlocked is returned when a block between the two users prevents the operation
var ErrBlocked = errors.New("blocked")

// User is a registered account. AvatarSettings is an opaque JSON document the
// clients own; the server stores and echoes it.
type User struct {
	ID             string
	Username       string
	AvatarSettings string
	CreatedAt      time.Time
}

// Device is one installation of the app bound to a user. SignPubKey and
// DHPubKey are base64-encoded SPKI DER.
type Device struct {
	ID         string
	UserID     string
	SignPubKey string
	DHPubKey   string
	CreatedAt  time.Time
	LastSeenAt *time.Time
}

// FriendRequest status values
const (
	RequestStatusPending  = "pending"
	RequestStatusAccepted = "accepted"
	RequestStatusRejected = "rejected"
)

// FriendRequest is a pending or resolved invitation between two users
type FriendRequest struct {
	ID          string
	FromUserID  string
	ToUserID    string
	Status      string
	CreatedAt   time.Time
	RespondedAt *time.Time
}

// Room member roles
const (
	RoomRoleOwner  = "owner"
	RoomRoleMember = "member"
)

// Room is a shared encrypted project space
type Room struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// RoomMember is a user's membership in a room
type RoomMember struct {
	RoomID   string
	UserID   string
	Role     string
	JoinedAt time.Time
}

// RoomInvite mirrors FriendRequest for room membership
type RoomInvite struct {
	ID          string
	RoomID      string
	FromUserID  string
	ToUserID    string
	Status      string
	CreatedAt   time.Time
	RespondedAt *time.Time
}

// KeyEnvelope carries a room key wrapped for one recipient device. The
// envelope body is opaque JSON produced by the sender's client.
type KeyEnvelope struct {
	RoomID       string
	DeviceID     string
	FromDeviceID string
	Envelope     string
	UpdatedAt    time.Time
}

// RoomEvent is one encrypted timeline entry in a room. TimestampMs is the
// client-supplied capture time; ImageRef points into the blob store when the
// event carries an encrypted image.
type RoomEvent struct {
	ID                string
	RoomID            string
	AuthorUserID      string
	TimestampMs       int64
	PayloadCiphertext string
	ImageRef          string
	CreatedAt         time.Time
}

// Chat thread kinds
const (
	ThreadKindDM      = "dm"
	ThreadKindProject = "project"
)

// ChatThread is a direct-message or per-room conversation
type ChatThread struct {
	ID        string
	Kind      string
	RoomID    string
	CreatedAt time.Time
}

// ChatMessage is one encrypted message in a thread
type ChatMessage struct {
	ID           string
	ThreadID     string
	AuthorUserID string
	TimestampMs  int64
	Ciphertext   string
	CreatedAt    time.Time
}

// PublishedProject is a publicly readable timeline identified by an
// unguessable public id. Writes require the project's write key.
type PublishedProject struct {
	ID          string
	Name        string
	CreatedAt   time.Time
	LastEventAt *time.Time
}

// PublishedEvent is one plaintext entry on a published timeline
type PublishedEvent struct {
	ID          string
	ProjectID   string
	TimestampMs int64
	Caption     string
	ImageURL    string
	CreatedAt   time.Time
}

// ListEventsParams bounds a timeline query. Since and Before are millisecond
// timestamps; zero means unbounded. Limit is clamped by the store.
type ListEventsParams struct {
	SinceMs  int64
	BeforeMs int64
	Limit    int
}
