// ABOUTME: Encrypted room timeline events: idempotent upsert, list, delete
// ABOUTME: Deletion is allowed for the author or a room owner

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const maxEventPageSize = 500

// UpsertRoomEvent stores a room event. Clients retry uploads, so an existing
// id is replaced rather than rejected; authorship of the original row wins.
func (s *SQLiteStore) UpsertRoomEvent(ctx context.Context, event *RoomEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO room_events (id, room_id, author_user_id, timestamp_ms, payload_ciphertext, image_ref, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			timestamp_ms = excluded.timestamp_ms,
			payload_ciphertext = excluded.payload_ciphertext
		 WHERE room_events.room_id = excluded.room_id
		   AND room_events.author_user_id = excluded.author_user_id`,
		event.ID, event.RoomID, event.AuthorUserID, event.TimestampMs,
		event.PayloadCiphertext, event.ImageRef, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("upserting room event: %w", err)
	}
	return nil
}

// ListRoomEvents returns events in a room since the given millisecond
// timestamp, ascending, capped at maxEventPageSize.
func (s *SQLiteStore) ListRoomEvents(ctx context.Context, roomID string, sinceMs int64) ([]*RoomEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, room_id, author_user_id, timestamp_ms, payload_ciphertext, image_ref, created_at
		 FROM room_events
		 WHERE room_id = ? AND timestamp_ms >= ?
		 ORDER BY timestamp_ms
		 LIMIT ?`, roomID, sinceMs, maxEventPageSize,
	)
	if err != nil {
		return nil, fmt.Errorf("querying room events: %w", err)
	}
	defer rows.Close()

	var events []*RoomEvent
	for rows.Next() {
		var ev RoomEvent
		var createdAt string
		if err := rows.Scan(&ev.ID, &ev.RoomID, &ev.AuthorUserID, &ev.TimestampMs,
			&ev.PayloadCiphertext, &ev.ImageRef, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning room event: %w", err)
		}
		if ev.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// GetRoomEvent retrieves one event by id within a room
func (s *SQLiteStore) GetRoomEvent(ctx context.Context, roomID, eventID string) (*RoomEvent, error) {
	var ev RoomEvent
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, room_id, author_user_id, timestamp_ms, payload_ciphertext, image_ref, created_at
		 FROM room_events WHERE room_id = ? AND id = ?`, roomID, eventID,
	).Scan(&ev.ID, &ev.RoomID, &ev.AuthorUserID, &ev.TimestampMs,
		&ev.PayloadCiphertext, &ev.ImageRef, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying room event: %w", err)
	}
	if ev.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &ev, nil
}

// DeleteRoomEvent removes an event. The author may delete their own events;
// room owners may delete any event. Returns ErrNotFound for an unknown event
// and ErrNotAllowed otherwise.
func (s *SQLiteStore) DeleteRoomEvent(ctx context.Context, roomID, eventID, userID string) error {
	event, err := s.GetRoomEvent(ctx, roomID, eventID)
	if err != nil {
		return err
	}

	if event.AuthorUserID != userID {
		role, err := s.GetRoomRole(ctx, roomID, userID)
		if err != nil {
			return err
		}
		if role != RoomRoleOwner {
			return ErrNotAllowed
		}
	}

	_, err = s.db.ExecContext(ctx,
		`DELETE FROM room_events WHERE room_id = ? AND id = ?`, roomID, eventID,
	)
	if err != nil {
		return fmt.Errorf("deleting room event: %w", err)
	}
	return nil
}

// SetRoomEventImageRef attaches an uploaded encrypted image to an event. Only
// the author may attach.
func (s *SQLiteStore) SetRoomEventImageRef(ctx context.Context, roomID, eventID, userID, imageRef string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE room_events SET image_ref = ?
		 WHERE room_id = ? AND id = ? AND author_user_id = ?`,
		imageRef, roomID, eventID, userID,
	)
	if err != nil {
		return fmt.Errorf("setting image ref: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking image ref update: %w", err)
	}
	if rows == 0 {
		if _, err := s.GetRoomEvent(ctx, roomID, eventID); err != nil {
			return err
		}
		return ErrNotAllowed
	}
	return nil
}
