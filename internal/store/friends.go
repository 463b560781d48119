// ABOUTME: Friend request lifecycle and friendship queries
// ABOUTME: Friendships are stored once with lexicographically ordered user ids

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// orderPair returns the two user ids in lexicographic order, matching the
// friendships table's (user_a < user_b) invariant.
func orderPair(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}

// CreateFriendRequest records a pending request. Returns ErrDuplicateRequest
// when a request from this sender to this recipient already exists, ErrBlocked
// when either user blocks the other, and ErrDuplicateRequest also when the two
// are already friends.
func (s *SQLiteStore) CreateFriendRequest(ctx context.Context, req *FriendRequest) error {
	blocked, err := s.IsBlockedEitherWay(ctx, req.FromUserID, req.ToUserID)
	if err != nil {
		return err
	}
	if blocked {
		return ErrBlocked
	}

	friends, err := s.AreFriends(ctx, req.FromUserID, req.ToUserID)
	if err != nil {
		return err
	}
	if friends {
		return ErrDuplicateRequest
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO friend_requests (id, from_user_id, to_user_id, status, created_at)
		 VALUES (?, ?, ?, 'pending', ?)`,
		req.ID, req.FromUserID, req.ToUserID, formatTime(req.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateRequest
		}
		return fmt.Errorf("inserting friend request: %w", err)
	}
	return nil
}

// GetFriendRequest retrieves one request by id
func (s *SQLiteStore) GetFriendRequest(ctx context.Context, id string) (*FriendRequest, error) {
	var req FriendRequest
	var createdAt string
	var respondedAt sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT id, from_user_id, to_user_id, status, created_at, responded_at
		 FROM friend_requests WHERE id = ?`, id,
	).Scan(&req.ID, &req.FromUserID, &req.ToUserID, &req.Status, &createdAt, &respondedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying friend request: %w", err)
	}

	if req.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if req.RespondedAt, err = nullableTime(respondedAt); err != nil {
		return nil, err
	}
	return &req, nil
}

// ListFriendRequests returns pending requests involving the user, both
// directions, newest first.
func (s *SQLiteStore) ListFriendRequests(ctx context.Context, userID string) ([]*FriendRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, from_user_id, to_user_id, status, created_at, responded_at
		 FROM friend_requests
		 WHERE status = 'pending' AND (from_user_id = ? OR to_user_id = ?)
		 ORDER BY created_at DESC`, userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying friend requests: %w", err)
	}
	defer rows.Close()

	var requests []*FriendRequest
	for rows.Next() {
		var req FriendRequest
		var createdAt string
		var respondedAt sql.NullString
		if err := rows.Scan(&req.ID, &req.FromUserID, &req.ToUserID, &req.Status, &createdAt, &respondedAt); err != nil {
			return nil, fmt.Errorf("scanning friend request: %w", err)
		}
		if req.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if req.RespondedAt, err = nullableTime(respondedAt); err != nil {
			return nil, err
		}
		requests = append(requests, &req)
	}
	return requests, rows.Err()
}

// AcceptFriendRequest marks the request accepted and creates the friendship.
// Only the recipient may accept. Returns ErrNotFound for an unknown request,
// ErrNotAllowed when userID is not the recipient, and ErrNotPending when the
// request was already resolved.
func (s *SQLiteStore) AcceptFriendRequest(ctx context.Context, requestID, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var fromUserID, toUserID, status string
	err = tx.QueryRowContext(ctx,
		`SELECT from_user_id, to_user_id, status FROM friend_requests WHERE id = ?`, requestID,
	).Scan(&fromUserID, &toUserID, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("querying friend request: %w", err)
	}
	if toUserID != userID {
		return ErrNotAllowed
	}
	if status != RequestStatusPending {
		return ErrNotPending
	}

	now := formatTime(time.Now())
	_, err = tx.ExecContext(ctx,
		`UPDATE friend_requests SET status = 'accepted', responded_at = ? WHERE id = ?`,
		now, requestID,
	)
	if err != nil {
		return fmt.Errorf("updating friend request: %w", err)
	}

	userA, userB := orderPair(fromUserID, toUserID)
	_, err = tx.ExecContext(ctx,
		`INSERT INTO friendships (user_a, user_b, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (user_a, user_b) DO NOTHING`,
		userA, userB, now,
	)
	if err != nil {
		return fmt.Errorf("inserting friendship: %w", err)
	}

	return tx.Commit()
}

// RejectFriendRequest marks the request rejected. Only the recipient may
// reject; the same error contract as AcceptFriendRequest applies.
func (s *SQLiteStore) RejectFriendRequest(ctx context.Context, requestID, userID string) error {
	req, err := s.GetFriendRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.ToUserID != userID {
		return ErrNotAllowed
	}
	if req.Status != RequestStatusPending {
		return ErrNotPending
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE friend_requests SET status = 'rejected', responded_at = ? WHERE id = ?`,
		formatTime(time.Now()), requestID,
	)
	if err != nil {
		return fmt.Errorf("updating friend request: %w", err)
	}
	return nil
}

// ListFriends returns the user's friends as user records, ordered by username
func (s *SQLiteStore) ListFriends(ctx context.Context, userID string) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.id, u.username, u.avatar_settings, u.created_at
		 FROM friendships f
		 JOIN users u ON u.id = CASE WHEN f.user_a = ? THEN f.user_b ELSE f.user_a END
		 WHERE f.user_a = ? OR f.user_b = ?
		 ORDER BY u.username`, userID, userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying friends: %w", err)
	}
	defer rows.Close()

	var friends []*User
	for rows.Next() {
		var u User
		var createdAt string
		if err := rows.Scan(&u.ID, &u.Username, &u.AvatarSettings, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning friend: %w", err)
		}
		if u.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		friends = append(friends, &u)
	}
	return friends, rows.Err()
}

// AreFriends reports whether a friendship exists between the two users
func (s *SQLiteStore) AreFriends(ctx context.Context, a, b string) (bool, error) {
	userA, userB := orderPair(a, b)
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM friendships WHERE user_a = ? AND user_b = ?`, userA, userB,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying friendship: %w", err)
	}
	return true, nil
}
