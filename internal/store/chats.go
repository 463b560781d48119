// ABOUTME: Chat threads and encrypted messages: DM and per-room project threads
// ABOUTME: Thread ids are deterministic so clients converge without coordination

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const maxMessagePageSize = 200

// DMThreadID derives the canonical thread id for a pair of users. Both sides
// compute the same id regardless of who initiates.
func DMThreadID(a, b string) string {
	userA, userB := orderPair(a, b)
	return "dm_" + userA + "_" + userB
}

// ProjectThreadID derives the thread id for a room's chat
func ProjectThreadID(roomID string) string {
	return "project_" + roomID
}

// EnsureDMThread creates the DM thread between two users if it does not exist
// and returns it. Requires friendship and no block in either direction.
func (s *SQLiteStore) EnsureDMThread(ctx context.Context, userID, otherID string) (*ChatThread, error) {
	blocked, err := s.IsBlockedEitherWay(ctx, userID, otherID)
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, ErrBlocked
	}

	friends, err := s.AreFriends(ctx, userID, otherID)
	if err != nil {
		return nil, err
	}
	if !friends {
		return nil, ErrNotFriends
	}

	threadID := DMThreadID(userID, otherID)
	return s.ensureThread(ctx, threadID, ThreadKindDM, "", []string{userID, otherID})
}

// EnsureProjectThread creates the chat thread for a room if it does not exist
// and returns it. The caller must be a room member; all current members are
// seated.
func (s *SQLiteStore) EnsureProjectThread(ctx context.Context, roomID, userID string) (*ChatThread, error) {
	if _, err := s.GetRoomRole(ctx, roomID, userID); err != nil {
		return nil, err
	}

	members, err := s.ListRoomMembers(ctx, roomID)
	if err != nil {
		return nil, err
	}
	memberIDs := make([]string, len(members))
	for i, m := range members {
		memberIDs[i] = m.UserID
	}

	return s.ensureThread(ctx, ProjectThreadID(roomID), ThreadKindProject, roomID, memberIDs)
}

func (s *SQLiteStore) ensureThread(ctx context.Context, threadID, kind, roomID string, memberIDs []string) (*ChatThread, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO chat_threads (id, kind, room_id, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		threadID, kind, roomID, formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting thread: %w", err)
	}

	// Membership converges even when the thread already existed: rooms gain
	// members after their project thread is created.
	for _, memberID := range memberIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chat_thread_members (thread_id, user_id) VALUES (?, ?)
			 ON CONFLICT (thread_id, user_id) DO NOTHING`,
			threadID, memberID,
		); err != nil {
			return nil, fmt.Errorf("inserting thread member: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing thread: %w", err)
	}

	return s.GetChatThread(ctx, threadID)
}

// GetChatThread retrieves a thread by id
func (s *SQLiteStore) GetChatThread(ctx context.Context, threadID string) (*ChatThread, error) {
	var thread ChatThread
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, kind, room_id, created_at FROM chat_threads WHERE id = ?`, threadID,
	).Scan(&thread.ID, &thread.Kind, &thread.RoomID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying thread: %w", err)
	}
	if thread.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &thread, nil
}

// ListThreadsForUser returns the user's chat threads, newest first
func (s *SQLiteStore) ListThreadsForUser(ctx context.Context, userID string) ([]*ChatThread, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.id, t.kind, t.room_id, t.created_at
		 FROM chat_threads t
		 JOIN chat_thread_members m ON m.thread_id = t.id
		 WHERE m.user_id = ?
		 ORDER BY t.created_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying threads: %w", err)
	}
	defer rows.Close()

	var threads []*ChatThread
	for rows.Next() {
		var t ChatThread
		var createdAt string
		if err := rows.Scan(&t.ID, &t.Kind, &t.RoomID, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning thread: %w", err)
		}
		if t.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		threads = append(threads, &t)
	}
	return threads, rows.Err()
}

// IsThreadMember reports whether the user belongs to the thread
func (s *SQLiteStore) IsThreadMember(ctx context.Context, threadID, userID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM chat_thread_members WHERE thread_id = ? AND user_id = ?`,
		threadID, userID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying thread membership: %w", err)
	}
	return true, nil
}

// UpsertChatMessage stores a message. Retried sends replace the existing row
// only when the author matches.
func (s *SQLiteStore) UpsertChatMessage(ctx context.Context, msg *ChatMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (id, thread_id, author_user_id, timestamp_ms, ciphertext, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			timestamp_ms = excluded.timestamp_ms,
			ciphertext = excluded.ciphertext
		 WHERE chat_messages.thread_id = excluded.thread_id
		   AND chat_messages.author_user_id = excluded.author_user_id`,
		msg.ID, msg.ThreadID, msg.AuthorUserID, msg.TimestampMs, msg.Ciphertext, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("upserting chat message: %w", err)
	}
	return nil
}

// ListChatMessages returns messages in a thread since the given millisecond
// timestamp, ascending, capped at maxMessagePageSize.
func (s *SQLiteStore) ListChatMessages(ctx context.Context, threadID string, sinceMs int64) ([]*ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, thread_id, author_user_id, timestamp_ms, ciphertext, created_at
		 FROM chat_messages
		 WHERE thread_id = ? AND timestamp_ms >= ?
		 ORDER BY timestamp_ms
		 LIMIT ?`, threadID, sinceMs, maxMessagePageSize,
	)
	if err != nil {
		return nil, fmt.Errorf("querying chat messages: %w", err)
	}
	defer rows.Close()

	var messages []*ChatMessage
	for rows.Next() {
		var m ChatMessage
		var createdAt string
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.AuthorUserID, &m.TimestampMs, &m.Ciphertext, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning chat message: %w", err)
		}
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}
