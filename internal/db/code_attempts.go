package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CodeAttemptRepository counts verification attempts against the one-time
// code derived from a particular security stamp. Rotating the stamp starts a
// fresh counter.
type CodeAttemptRepository struct {
	db *DB
}

func NewCodeAttemptRepository(db *DB) *CodeAttemptRepository {
	return &CodeAttemptRepository{db: db}
}

// Increment atomically increments the attempt count for (userID, stamp) only
// if it is below max, and returns the new value. Returns -1 if the counter was
// already at the limit (no update performed).
func (r *CodeAttemptRepository) Increment(ctx context.Context, userID, stamp string, max int) (int, error) {
	var attempts int
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO code_attempts (user_id, security_stamp, attempts, created_at) VALUES (?, ?, 1, ?)
		 ON CONFLICT (user_id, security_stamp) DO UPDATE SET attempts = code_attempts.attempts + 1
		 WHERE code_attempts.attempts < ?
		 RETURNING attempts`,
		userID, stamp, time.Now().UTC(), max,
	).Scan(&attempts)

	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("incrementing code attempts: %w", err)
	}

	return attempts, nil
}

func (r *CodeAttemptRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM code_attempts WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("deleting code attempts: %w", err)
	}
	return result.RowsAffected()
}
