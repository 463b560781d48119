// ABOUTME: Published-project timelines: public reads, write-key guarded writes
// ABOUTME: Only the sha256 of the write key is stored; the key itself never is

package store

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

const (
	defaultPublishedPageSize = 50
	maxPublishedPageSize     = 100
)

// HashWriteKey derives the stored digest for a published-project write key
func HashWriteKey(writeKey string) string {
	sum := sha256.Sum256([]byte(writeKey))
	return hex.EncodeToString(sum[:])
}

// CreatePublishedProject creates a public timeline and stores the hash of its
// write key.
func (s *SQLiteStore) CreatePublishedProject(ctx context.Context, project *PublishedProject, writeKeyHash string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO published_projects (id, name, created_at) VALUES (?, ?, ?)`,
		project.ID, project.Name, formatTime(project.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting published project: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO published_project_secrets (project_id, write_key_hash) VALUES (?, ?)`,
		project.ID, writeKeyHash,
	)
	if err != nil {
		return fmt.Errorf("inserting project secret: %w", err)
	}

	return tx.Commit()
}

// GetPublishedProject retrieves a public timeline by id
func (s *SQLiteStore) GetPublishedProject(ctx context.Context, id string) (*PublishedProject, error) {
	var p PublishedProject
	var createdAt string
	var lastEventAt sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at, last_event_at FROM published_projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &createdAt, &lastEventAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying published project: %w", err)
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if p.LastEventAt, err = nullableTime(lastEventAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// VerifyWriteKey reports whether the presented key matches the stored hash.
// Returns ErrNotFound for an unknown project.
func (s *SQLiteStore) VerifyWriteKey(ctx context.Context, projectID, writeKey string) (bool, error) {
	var storedHash string
	err := s.db.QueryRowContext(ctx,
		`SELECT write_key_hash FROM published_project_secrets WHERE project_id = ?`, projectID,
	).Scan(&storedHash)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("querying write key hash: %w", err)
	}
	presented := HashWriteKey(writeKey)
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(presented)) == 1, nil
}

// GetPublishedEvent retrieves one timeline entry by id within a project
func (s *SQLiteStore) GetPublishedEvent(ctx context.Context, projectID, eventID string) (*PublishedEvent, error) {
	var ev PublishedEvent
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, timestamp_ms, caption, image_url, created_at
		 FROM published_project_events WHERE project_id = ? AND id = ?`,
		projectID, eventID,
	).Scan(&ev.ID, &ev.ProjectID, &ev.TimestampMs, &ev.Caption, &ev.ImageURL, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying published event: %w", err)
	}
	if ev.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &ev, nil
}

// UpsertPublishedEvent stores a timeline entry and advances the project's
// last_event_at. Retried uploads replace the existing row.
func (s *SQLiteStore) UpsertPublishedEvent(ctx context.Context, event *PublishedEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := formatTime(time.Now())
	_, err = tx.ExecContext(ctx,
		`INSERT INTO published_project_events (id, project_id, timestamp_ms, caption, image_url, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			timestamp_ms = excluded.timestamp_ms,
			caption = excluded.caption,
			image_url = excluded.image_url
		 WHERE published_project_events.project_id = excluded.project_id`,
		event.ID, event.ProjectID, event.TimestampMs, event.Caption, event.ImageURL, now,
	)
	if err != nil {
		return fmt.Errorf("upserting published event: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE published_projects SET last_event_at = ? WHERE id = ?`,
		now, event.ProjectID,
	)
	if err != nil {
		return fmt.Errorf("updating last event time: %w", err)
	}

	return tx.Commit()
}

// ListPublishedEvents returns timeline entries constrained by params.
// SinceMs selects events at or after it ascending; BeforeMs selects events
// strictly before it descending (for backward pagination); both zero returns
// the newest page descending.
func (s *SQLiteStore) ListPublishedEvents(ctx context.Context, projectID string, params ListEventsParams) ([]*PublishedEvent, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = defaultPublishedPageSize
	}
	if limit > maxPublishedPageSize {
		limit = maxPublishedPageSize
	}

	var query string
	var args []any
	switch {
	case params.SinceMs > 0:
		query = `SELECT id, project_id, timestamp_ms, caption, image_url, created_at
			 FROM published_project_events
			 WHERE project_id = ? AND timestamp_ms >= ?
			 ORDER BY timestamp_ms LIMIT ?`
		args = []any{projectID, params.SinceMs, limit}
	case params.BeforeMs > 0:
		query = `SELECT id, project_id, timestamp_ms, caption, image_url, created_at
			 FROM published_project_events
			 WHERE project_id = ? AND timestamp_ms < ?
			 ORDER BY timestamp_ms DESC LIMIT ?`
		args = []any{projectID, params.BeforeMs, limit}
	default:
		query = `SELECT id, project_id, timestamp_ms, caption, image_url, created_at
			 FROM published_project_events
			 WHERE project_id = ?
			 ORDER BY timestamp_ms DESC LIMIT ?`
		args = []any{projectID, limit}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying published events: %w", err)
	}
	defer rows.Close()

	var events []*PublishedEvent
	for rows.Next() {
		var ev PublishedEvent
		var createdAt string
		if err := rows.Scan(&ev.ID, &ev.ProjectID, &ev.TimestampMs, &ev.Caption, &ev.ImageURL, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning published event: %w", err)
		}
		if ev.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}
