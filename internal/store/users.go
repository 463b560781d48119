// ABOUTME: User and device registry queries: registration, rename, key lookup
// ABOUTME: Implements the signing-key lookup and last-seen touch used by auth

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateUserWithDevice registers a user and their first device in one
// transaction. Returns ErrDuplicateUsername when the username is taken.
func (s *SQLiteStore) CreateUserWithDevice(ctx context.Context, user *User, device *Device) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	avatar := user.AvatarSettings
	if avatar == "" {
		avatar = "{}"
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, username, avatar_settings, created_at) VALUES (?, ?, ?, ?)`,
		user.ID, user.Username, avatar, formatTime(user.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateUsername
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO user_devices (id, user_id, sign_pub_key, dh_pub_key, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		device.ID, user.ID, device.SignPubKey, device.DHPubKey, formatTime(device.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting device: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing registration: %w", err)
	}

	s.logger.Debug("registered user", "user_id", user.ID, "username", user.Username)
	return nil
}

// GetUser retrieves a user by id. Returns ErrNotFound when absent.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	return s.getUser(ctx, `SELECT id, username, avatar_settings, created_at FROM users WHERE id = ?`, id)
}

// GetUserByUsername retrieves a user by username. Returns ErrNotFound when absent.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return s.getUser(ctx, `SELECT id, username, avatar_settings, created_at FROM users WHERE username = ?`, username)
}

func (s *SQLiteStore) getUser(ctx context.Context, query, arg string) (*User, error) {
	var user User
	var createdAt string

	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID, &user.Username, &user.AvatarSettings, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	if user.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &user, nil
}

// RenameUser changes a user's username. Returns ErrDuplicateUsername when the
// new name is taken and ErrNotFound when the user does not exist.
func (s *SQLiteStore) RenameUser(ctx context.Context, userID, username string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET username = ? WHERE id = ?`, username, userID,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateUsername
		}
		return fmt.Errorf("renaming user: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rename result: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateAvatarSettings replaces the user's opaque avatar document
func (s *SQLiteStore) UpdateAvatarSettings(ctx context.Context, userID, settings string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET avatar_settings = ? WHERE id = ?`, settings, userID,
	)
	if err != nil {
		return fmt.Errorf("updating avatar settings: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking avatar update result: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUserDevices returns all devices registered to a user
func (s *SQLiteStore) ListUserDevices(ctx context.Context, userID string) ([]*Device, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, sign_pub_key, dh_pub_key, created_at, last_seen_at
		 FROM user_devices WHERE user_id = ? ORDER BY created_at`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
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

// AddDevice registers an additional device for an existing user
func (s *SQLiteStore) AddDevice(ctx context.Context, device *Device) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_devices (id, user_id, sign_pub_key, dh_pub_key, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		device.ID, device.UserID, device.SignPubKey, device.DHPubKey, formatTime(device.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// LookupSigningKey returns the stored public signing key for the device, but
// only when the device belongs to the given user. Returns ErrNotFound for an
// unknown device or a device/user mismatch; callers must not learn which.
func (s *SQLiteStore) LookupSigningKey(ctx context.Context, deviceID, userID string) (string, error) {
	var key string
	err := s.db.QueryRowContext(ctx,
		`SELECT sign_pub_key FROM user_devices WHERE id = ? AND user_id = ?`,
		deviceID, userID,
	).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying signing key: %w", err)
	}
	return key, nil
}

// TouchDeviceLastSeen records request activity on a device. Missing devices
// are a no-op; the caller has already authenticated.
func (s *SQLiteStore) TouchDeviceLastSeen(ctx context.Context, deviceID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE user_devices SET last_seen_at = ? WHERE id = ?`,
		formatTime(time.Now()), deviceID,
	)
	if err != nil {
		return fmt.Errorf("touching device: %w", err)
	}
	return nil
}
