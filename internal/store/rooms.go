// ABOUTME: Room, membership, invite, and key-envelope queries
// ABOUTME: Room creation seats the creator as owner in the same transaction

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateRoom creates a room with the creator as its owner
func (s *SQLiteStore) CreateRoom(ctx context.Context, room *Room, ownerID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	created := formatTime(room.CreatedAt)
	_, err = tx.ExecContext(ctx,
		`INSERT INTO rooms (id, name, created_at) VALUES (?, ?, ?)`,
		room.ID, room.Name, created,
	)
	if err != nil {
		return fmt.Errorf("inserting room: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO room_members (room_id, user_id, role, joined_at) VALUES (?, ?, 'owner', ?)`,
		room.ID, ownerID, created,
	)
	if err != nil {
		return fmt.Errorf("inserting owner: %w", err)
	}

	return tx.Commit()
}

// GetRoom retrieves a room by id
func (s *SQLiteStore) GetRoom(ctx context.Context, id string) (*Room, error) {
	var room Room
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM rooms WHERE id = ?`, id,
	).Scan(&room.ID, &room.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying room: %w", err)
	}
	if room.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &room, nil
}

// ListRoomsForUser returns rooms the user is a member of, newest first
func (s *SQLiteStore) ListRoomsForUser(ctx context.Context, userID string) ([]*Room, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.name, r.created_at
		 FROM rooms r
		 JOIN room_members m ON m.room_id = r.id
		 WHERE m.user_id = ?
		 ORDER BY r.created_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying rooms: %w", err)
	}
	defer rows.Close()

	var rooms []*Room
	for rows.Next() {
		var room Room
		var createdAt string
		if err := rows.Scan(&room.ID, &room.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning room: %w", err)
		}
		if room.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, &room)
	}
	return rooms, rows.Err()
}

// GetRoomRole returns the user's role in the room, or ErrNotMember
func (s *SQLiteStore) GetRoomRole(ctx context.Context, roomID, userID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx,
		`SELECT role FROM room_members WHERE room_id = ? AND user_id = ?`,
		roomID, userID,
	).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotMember
	}
	if err != nil {
		return "", fmt.Errorf("querying room role: %w", err)
	}
	return role, nil
}

// ListRoomMembers returns the room's members with usernames, owners first
func (s *SQLiteStore) ListRoomMembers(ctx context.Context, roomID string) ([]*RoomMemberInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.room_id, m.user_id, u.username, m.role, m.joined_at
		 FROM room_members m
		 JOIN users u ON u.id = m.user_id
		 WHERE m.room_id = ?
		 ORDER BY m.role DESC, m.joined_at`, roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying room members: %w", err)
	}
	defer rows.Close()

	var members []*RoomMemberInfo
	for rows.Next() {
		var m RoomMemberInfo
		var joinedAt string
		if err := rows.Scan(&m.RoomID, &m.UserID, &m.Username, &m.Role, &joinedAt); err != nil {
			return nil, fmt.Errorf("scanning room member: %w", err)
		}
		if m.JoinedAt, err = parseTime(joinedAt); err != nil {
			return nil, err
		}
		members = append(members, &m)
	}
	return members, rows.Err()
}

// RoomMemberInfo is a room membership joined with the member's username
type RoomMemberInfo struct {
	RoomID   string
	UserID   string
	Username string
	Role     string
	JoinedAt time.Time
}

// CreateRoomInvite records a pending invite. The inviter must already be a
// member; invitee and inviter must be friends. Returns ErrDuplicateRequest
// when the invitee was already invited and ErrDuplicateRequest when already a
// member.
func (s *SQLiteStore) CreateRoomInvite(ctx context.Context, invite *RoomInvite) error {
	if _, err := s.GetRoomRole(ctx, invite.RoomID, invite.FromUserID); err != nil {
		return err
	}

	friends, err := s.AreFriends(ctx, invite.FromUserID, invite.ToUserID)
	if err != nil {
		return err
	}
	if !friends {
		return ErrNotFriends
	}

	if _, err := s.GetRoomRole(ctx, invite.RoomID, invite.ToUserID); err == nil {
		return ErrDuplicateRequest
	} else if !errors.Is(err, ErrNotMember) {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO room_invites (id, room_id, from_user_id, to_user_id, status, created_at)
		 VALUES (?, ?, ?, ?, 'pending', ?)`,
		invite.ID, invite.RoomID, invite.FromUserID, invite.ToUserID, formatTime(invite.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateRequest
		}
		return fmt.Errorf("inserting room invite: %w", err)
	}
	return nil
}

// ListRoomInvites returns pending invites for a room
func (s *SQLiteStore) ListRoomInvites(ctx context.Context, roomID string) ([]*RoomInvite, error) {
	return s.listInvites(ctx,
		`SELECT id, room_id, from_user_id, to_user_id, status, created_at, responded_at
		 FROM room_invites WHERE room_id = ? AND status = 'pending'
		 ORDER BY created_at DESC`, roomID)
}

// ListInvitesForUser returns pending invites addressed to the user
func (s *SQLiteStore) ListInvitesForUser(ctx context.Context, userID string) ([]*RoomInvite, error) {
	return s.listInvites(ctx,
		`SELECT id, room_id, from_user_id, to_user_id, status, created_at, responded_at
		 FROM room_invites WHERE to_user_id = ? AND status = 'pending'
		 ORDER BY created_at DESC`, userID)
}

func (s *SQLiteStore) listInvites(ctx context.Context, query, arg string) ([]*RoomInvite, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("querying room invites: %w", err)
	}
	defer rows.Close()

	var invites []*RoomInvite
	for rows.Next() {
		var inv RoomInvite
		var createdAt string
		var respondedAt sql.NullString
		if err := rows.Scan(&inv.ID, &inv.RoomID, &inv.FromUserID, &inv.ToUserID, &inv.Status, &createdAt, &respondedAt); err != nil {
			return nil, fmt.Errorf("scanning room invite: %w", err)
		}
		if inv.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if inv.RespondedAt, err = nullableTime(respondedAt); err != nil {
			return nil, err
		}
		invites = append(invites, &inv)
	}
	return invites, rows.Err()
}

// AcceptRoomInvite marks the invite accepted and seats the user as a member.
// Only the invitee may accept, and only while pending.
func (s *SQLiteStore) AcceptRoomInvite(ctx context.Context, inviteID, userID string) (roomID string, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var toUserID, status string
	err = tx.QueryRowContext(ctx,
		`SELECT room_id, to_user_id, status FROM room_invites WHERE id = ?`, inviteID,
	).Scan(&roomID, &toUserID, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying room invite: %w", err)
	}
	if toUserID != userID {
		return "", ErrNotAllowed
	}
	if status != RequestStatusPending {
		return "", ErrNotPending
	}

	now := formatTime(time.Now())
	if _, err = tx.ExecContext(ctx,
		`UPDATE room_invites SET status = 'accepted', responded_at = ? WHERE id = ?`,
		now, inviteID,
	); err != nil {
		return "", fmt.Errorf("updating room invite: %w", err)
	}

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO room_members (room_id, user_id, role, joined_at) VALUES (?, ?, 'member', ?)
		 ON CONFLICT (room_id, user_id) DO NOTHING`,
		roomID, userID, now,
	); err != nil {
		return "", fmt.Errorf("inserting room member: %w", err)
	}

	return roomID, tx.Commit()
}

// DeclineRoomInvite marks the invite rejected. Only the invitee may decline.
func (s *SQLiteStore) DeclineRoomInvite(ctx context.Context, inviteID, userID string) error {
	var toUserID, status string
	err := s.db.QueryRowContext(ctx,
		`SELECT to_user_id, status FROM room_invites WHERE id = ?`, inviteID,
	).Scan(&toUserID, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("querying room invite: %w", err)
	}
	if toUserID != userID {
		return ErrNotAllowed
	}
	if status != RequestStatusPending {
		return ErrNotPending
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE room_invites SET status = 'rejected', responded_at = ? WHERE id = ?`,
		formatTime(time.Now()), inviteID,
	)
	if err != nil {
		return fmt.Errorf("updating room invite: %w", err)
	}
	return nil
}

// UpsertKeyEnvelope stores or replaces the wrapped room key for one device
func (s *SQLiteStore) UpsertKeyEnvelope(ctx context.Context, env *KeyEnvelope) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO room_member_key_envelopes (room_id, device_id, from_device_id, envelope, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (room_id, device_id) DO UPDATE SET
			from_device_id = excluded.from_device_id,
			envelope = excluded.envelope,
			updated_at = excluded.updated_at`,
		env.RoomID, env.DeviceID, env.FromDeviceID, env.Envelope, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("upserting key envelope: %w", err)
	}
	return nil
}

// GetKeyEnvelope returns the wrapped room key for one device, or ErrNotFound
func (s *SQLiteStore) GetKeyEnvelope(ctx context.Context, roomID, deviceID string) (*KeyEnvelope, error) {
	var env KeyEnvelope
	var updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT room_id, device_id, from_device_id, envelope, updated_at
		 FROM room_member_key_envelopes WHERE room_id = ? AND device_id = ?`,
		roomID, deviceID,
	).Scan(&env.RoomID, &env.DeviceID, &env.FromDeviceID, &env.Envelope, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying key envelope: %w", err)
	}
	if env.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &env, nil
}

// ListMemberDevicesWithoutKeys returns member devices that still lack a key
// envelope for the room, so clients know whom to wrap keys for.
func (s *SQLiteStore) ListMemberDevicesWithoutKeys(ctx context.Context, roomID string) ([]*Device, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT d.id, d.user_id, d.sign_pub_key, d.dh_pub_key, d.created_at, d.last_seen_at
		 FROM user_devices d
		 JOIN room_members m ON m.user_id = d.user_id AND m.room_id = ?
		 LEFT JOIN room_member_key_envelopes e ON e.room_id = m.room_id AND e.device_id = d.id
		 WHERE e.device_id IS NULL
		 ORDER BY d.created_at`, roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying member devices: %w", err)
	}
	defer rows.Close()

	var devices []*Device
	for rows.Next() {
		var d Device
		var createdAt string
		var lastSeen sql.NullString
		if err := rows.Scan(&d.ID, &d.UserID, &d.SignPubKey, &d.DHPubKey, &createdAt, &lastSeen); err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		if d.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if d.LastSeenAt, err = nullableTime(lastSeen); err != nil {
			return nil, err
		}
		devices = append(devices, &d)
	}
	return devices, rows.Err()
}
