// ABOUTME: User block list queries
// ABOUTME: Blocks are directional; most checks care about either direction

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// BlockUser records a directional block. Blocking twice is a no-op.
func (s *SQLiteStore) BlockUser(ctx context.Context, blockerID, blockedID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_blocks (blocker_user_id, blocked_user_id, created_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (blocker_user_id, blocked_user_id) DO NOTHING`,
		blockerID, blockedID, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("inserting block: %w", err)
	}
	return nil
}

// UnblockUser removes a block. Returns ErrNotFound when none existed.
func (s *SQLiteStore) UnblockUser(ctx context.Context, blockerID, blockedID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM user_blocks WHERE blocker_user_id = ? AND blocked_user_id = ?`,
		blockerID, blockedID,
	)
	if err != nil {
		return fmt.Errorf("deleting block: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking unblock result: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListBlockedUsers returns the users this user has blocked
func (s *SQLiteStore) ListBlockedUsers(ctx context.Context, blockerID string) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.id, u.username, u.avatar_settings, u.created_at
		 FROM user_blocks b
		 JOIN users u ON u.id = b.blocked_user_id
		 WHERE b.blocker_user_id = ?
		 ORDER BY b.created_at DESC`, blockerID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying blocks: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		var u User
		var createdAt string
		if err := rows.Scan(&u.ID, &u.Username, &u.AvatarSettings, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning blocked user: %w", err)
		}
		if u.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}

// IsBlockedEitherWay reports whether either user blocks the other
func (s *SQLiteStore) IsBlockedEitherWay(ctx context.Context, a, b string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM user_blocks
		 WHERE (blocker_user_id = ? AND blocked_user_id = ?)
		    OR (blocker_user_id = ? AND blocked_user_id = ?)`,
		a, b, b, a,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying blocks: %w", err)
	}
	return true, nil
}
