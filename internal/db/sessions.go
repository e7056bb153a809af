package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"autoblog/internal/models"
)

type SessionRepository struct {
	db *DB
}

func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create persists s, assigning its ID and creation timestamps.
func (r *SessionRepository) Create(ctx context.Context, s *models.Session) error {
	id, err := generateID("ses")
	if err != nil {
		return fmt.Errorf("generating session ID: %w", err)
	}
	now := time.Now().UTC()

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, security_stamp, auth_method, persistent, user_agent, ip_address,
			expires_at, created_at, last_seen_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, s.UserID, s.SecurityStamp, s.AuthMethod, s.Persistent, s.UserAgent, s.IPAddress,
		s.ExpiresAt.UTC(), now, now,
	)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	s.ID = id
	s.CreatedAt = now
	s.LastSeenAt = now
	s.RevokedAt = nil
	return nil
}

func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.Session, error) {
	var s models.Session
	var revokedAt sql.NullTime

	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, security_stamp, auth_method, persistent, user_agent, ip_address,
			expires_at, created_at, last_seen_at, revoked_at
		 FROM sessions WHERE id = ?`,
		id,
	).Scan(&s.ID, &s.UserID, &s.SecurityStamp, &s.AuthMethod, &s.Persistent, &s.UserAgent, &s.IPAddress,
		&s.ExpiresAt, &s.CreatedAt, &s.LastSeenAt, &revokedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}

	s.ExpiresAt = s.ExpiresAt.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	s.LastSeenAt = s.LastSeenAt.UTC()
	s.RevokedAt = nullTimeToPtr(revokedAt)

	return &s, nil
}

// Touch slides an active session's expiry forward.
func (r *SessionRepository) Touch(ctx context.Context, id string, expiresAt time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET expires_at = ?, last_seen_at = ? WHERE id = ? AND revoked_at IS NULL`,
		expiresAt.UTC(), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	return checkRowsAffected(result)
}

// Revoke returns ErrNotFound when the session is unknown or already revoked.
func (r *SessionRepository) Revoke(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("revoking session: %w", err)
	}
	return checkRowsAffected(result)
}

func (r *SessionRepository) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = ? WHERE user_id = ? AND revoked_at IS NULL`,
		time.Now().UTC(), userID,
	)
	if err != nil {
		return 0, fmt.Errorf("revoking user sessions: %w", err)
	}
	return result.RowsAffected()
}

// DeleteExpired removes sessions that expired or were revoked before cutoff.
func (r *SessionRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at < ? OR revoked_at < ?`,
		cutoff.UTC(), cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting expired sessions: %w", err)
	}
	return result.RowsAffected()
}
