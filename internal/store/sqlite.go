// ABOUTME: SQLite implementation of the dayline-server store using modernc.org/sqlite
// ABOUTME: Opens the database, enables WAL, and creates the schema on startup

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the canonical persistence backend
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Single connection avoids SQLITE_BUSY under concurrent writers
	db.SetMaxOpenConns(1)

	// WAL for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			avatar_settings TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS user_devices (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			sign_pub_key TEXT NOT NULL,
			dh_pub_key TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			last_seen_at DATETIME,
			FOREIGN KEY (user_id) REFERENCES users(id)
		);

		CREATE INDEX IF NOT EXISTS idx_user_devices_user
			ON user_devices(user_id);

		CREATE TABLE IF NOT EXISTS friend_requests (
			id TEXT PRIMARY KEY,
			from_user_id TEXT NOT NULL,
			to_user_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at DATETIME NOT NULL,
			responded_at DATETIME,
			FOREIGN KEY (from_user_id) REFERENCES users(id),
			FOREIGN KEY (to_user_id) REFERENCES users(id)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_friend_requests_pair
			ON friend_requests(from_user_id, to_user_id);

		CREATE TABLE IF NOT EXISTS friendships (
			user_a TEXT NOT NULL,
			user_b TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			PRIMARY KEY (user_a, user_b),
			CHECK (user_a < user_b)
		);

		CREATE TABLE IF NOT EXISTS user_blocks (
			blocker_user_id TEXT NOT NULL,
			blocked_user_id TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			PRIMARY KEY (blocker_user_id, blocked_user_id)
		);

		CREATE TABLE IF NOT EXISTS rooms (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS room_members (
			room_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'member',
			joined_at DATETIME NOT NULL,
			PRIMARY KEY (room_id, user_id),
			FOREIGN KEY (room_id) REFERENCES rooms(id)
		);

		CREATE TABLE IF NOT EXISTS room_invites (
			id TEXT PRIMARY KEY,
			room_id TEXT NOT NULL,
			from_user_id TEXT NOT NULL,
			to_user_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at DATETIME NOT NULL,
			responded_at DATETIME,
			FOREIGN KEY (room_id) REFERENCES rooms(id)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_room_invites_pair
			ON room_invites(room_id, to_user_id);

		CREATE TABLE IF NOT EXISTS room_member_key_envelopes (
			room_id TEXT NOT NULL,
			device_id TEXT NOT NULL,
			from_device_id TEXT NOT NULL,
			envelope TEXT NOT NULL,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (room_id, device_id),
			FOREIGN KEY (room_id) REFERENCES rooms(id)
		);

		CREATE TABLE IF NOT EXISTS room_events (
			id TEXT PRIMARY KEY,
			room_id TEXT NOT NULL,
			author_user_id TEXT NOT NULL,
			timestamp_ms INTEGER NOT NULL,
			payload_ciphertext TEXT NOT NULL,
			image_ref TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			FOREIGN KEY (room_id) REFERENCES rooms(id)
		);

		CREATE INDEX IF NOT EXISTS idx_room_events_room_ts
			ON room_events(room_id, timestamp_ms);

		CREATE TABLE IF NOT EXISTS chat_threads (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			room_id TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS chat_thread_members (
			thread_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			PRIMARY KEY (thread_id, user_id),
			FOREIGN KEY (thread_id) REFERENCES chat_threads(id)
		);

		CREATE INDEX IF NOT EXISTS idx_chat_thread_members_user
			ON chat_thread_members(user_id);

		CREATE TABLE IF NOT EXISTS chat_messages (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			author_user_id TEXT NOT NULL,
			timestamp_ms INTEGER NOT NULL,
			ciphertext TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (thread_id) REFERENCES chat_threads(id)
		);

		CREATE INDEX IF NOT EXISTS idx_chat_messages_thread_ts
			ON chat_messages(thread_id, timestamp_ms);

		CREATE TABLE IF NOT EXISTS published_projects (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			last_event_at DATETIME
		);

		CREATE TABLE IF NOT EXISTS published_project_secrets (
			project_id TEXT PRIMARY KEY,
			write_key_hash TEXT NOT NULL,
			FOREIGN KEY (project_id) REFERENCES published_projects(id)
		);

		CREATE TABLE IF NOT EXISTS published_project_events (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			timestamp_ms INTEGER NOT NULL,
			caption TEXT NOT NULL DEFAULT '',
			image_url TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			FOREIGN KEY (project_id) REFERENCES published_projects(id)
		);

		CREATE INDEX IF NOT EXISTS idx_published_events_project_ts
			ON published_project_events(project_id, timestamp_ms);

		CREATE TABLE IF NOT EXISTS rate_limits (
			key TEXT PRIMARY KEY,
			count INTEGER NOT NULL DEFAULT 0
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// formatTime stores all timestamps as UTC RFC3339 strings
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// parseTime reads timestamps written by formatTime; SQLite may also hand back
// its own datetime layout for values written by SQL expressions.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// nullableTime converts an optional scanned timestamp
func nullableTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
