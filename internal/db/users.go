package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"autoblog/internal/models"
)

const userColumns = `id, user_name, normalized_user_name, email, normalized_email, email_confirmed,
	password_hash, security_stamp, is_admin, lockout_end, access_failed_count, created_at, updated_at`

type UserRepository struct {
	db *DB
}

func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts u, filling in its ID, normalized keys, stamp and timestamps.
// A clash on email or user name yields ErrDuplicate.
func (r *UserRepository) Create(ctx context.Context, u *models.User) error {
	if u.ID == "" {
		id, err := generateID("usr")
		if err != nil {
			return fmt.Errorf("generating user ID: %w", err)
		}
		u.ID = id
	}
	if u.SecurityStamp == "" {
		u.SecurityStamp = NewSecurityStamp()
	}
	u.NormalizedEmail = normalizeKey(u.Email)
	u.NormalizedUserName = normalizeKey(u.UserName)
	u.CreatedAt = time.Now().UTC()
	u.UpdatedAt = nil

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, user_name, normalized_user_name, email, normalized_email, email_confirmed,
			password_hash, security_stamp, is_admin, access_failed_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		u.ID, u.UserName, u.NormalizedUserName, u.Email, u.NormalizedEmail, u.EmailConfirmed,
		u.PasswordHash, u.SecurityStamp, u.IsAdmin, u.CreatedAt,
	)
	if err != nil {
		if IsUniqueConstraintError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

// FindByEmail matches case-insensitively.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE normalized_email = ?`, normalizeKey(email))
}

func (r *UserRepository) FindByUserName(ctx context.Context, userName string) (*models.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE normalized_user_name = ?`, normalizeKey(userName))
}

// RotateSecurityStamp unconditionally replaces the user's stamp and returns
// the new value.
func (r *UserRepository) RotateSecurityStamp(ctx context.Context, id string) (string, error) {
	stamp := NewSecurityStamp()
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET security_stamp = ?, updated_at = ? WHERE id = ?`,
		stamp, time.Now().UTC(), id,
	)
	if err != nil {
		return "", fmt.Errorf("rotating security stamp: %w", err)
	}
	if err := checkRowsAffected(result); err != nil {
		return "", err
	}
	return stamp, nil
}

// CompareAndRotateSecurityStamp replaces the stamp only while it still equals
// expected. Of several concurrent callers holding the same stamp exactly one
// succeeds; the rest get ErrStampChanged.
func (r *UserRepository) CompareAndRotateSecurityStamp(ctx context.Context, id, expected string) (string, error) {
	stamp := NewSecurityStamp()
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET security_stamp = ?, updated_at = ? WHERE id = ? AND security_stamp = ?`,
		stamp, time.Now().UTC(), id, expected,
	)
	if err != nil {
		return "", fmt.Errorf("rotating security stamp: %w", err)
	}
	if err := checkRowsAffected(result); err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", ErrStampChanged
		}
		return "", err
	}
	return stamp, nil
}

// ConfirmEmail marks the address confirmed and rotates the stamp, guarded by
// the stamp the confirmation token was issued under.
func (r *UserRepository) ConfirmEmail(ctx context.Context, id, expectedStamp string) (string, error) {
	stamp := NewSecurityStamp()
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET email_confirmed = ?, security_stamp = ?, updated_at = ?
		 WHERE id = ? AND security_stamp = ?`,
		true, stamp, time.Now().UTC(), id, expectedStamp,
	)
	if err != nil {
		return "", fmt.Errorf("confirming email: %w", err)
	}
	if err := checkRowsAffected(result); err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", ErrStampChanged
		}
		return "", err
	}
	return stamp, nil
}

// UpdatePassword stores a new hash, rotates the stamp and clears any lockout.
func (r *UserRepository) UpdatePassword(ctx context.Context, id, expectedStamp, passwordHash string) (string, error) {
	stamp := NewSecurityStamp()
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, security_stamp = ?, access_failed_count = 0, lockout_end = NULL, updated_at = ?
		 WHERE id = ? AND security_stamp = ?`,
		passwordHash, stamp, time.Now().UTC(), id, expectedStamp,
	)
	if err != nil {
		return "", fmt.Errorf("updating password: %w", err)
	}
	if err := checkRowsAffected(result); err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", ErrStampChanged
		}
		return "", err
	}
	return stamp, nil
}

// RecordAccessFailure counts a failed password sign-in. When the count
// reaches maxFailures the account is locked until now+lockout and the count
// starts over. It returns the lockout end, if any.
func (r *UserRepository) RecordAccessFailure(ctx context.Context, id string, maxFailures int, lockout time.Duration) (*time.Time, error) {
	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET
			lockout_end = CASE WHEN access_failed_count + 1 >= ? THEN ? ELSE lockout_end END,
			access_failed_count = CASE WHEN access_failed_count + 1 >= ? THEN 0 ELSE access_failed_count + 1 END,
			updated_at = ?
		 WHERE id = ?`,
		maxFailures, now.Add(lockout), maxFailures, now, id,
	)
	if err != nil {
		return nil, fmt.Errorf("recording access failure: %w", err)
	}
	if err := checkRowsAffected(result); err != nil {
		return nil, err
	}

	u, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return u.LockoutEnd, nil
}

func (r *UserRepository) ResetAccessFailures(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET access_failed_count = 0, lockout_end = NULL WHERE id = ?`,
		id,
	)
	if err != nil {
		return fmt.Errorf("resetting access failures: %w", err)
	}
	return checkRowsAffected(result)
}

func (r *UserRepository) findOne(ctx context.Context, query string, args ...any) (*models.User, error) {
	var u models.User
	var lockoutEnd, updatedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&u.ID,
		&u.UserName,
		&u.NormalizedUserName,
		&u.Email,
		&u.NormalizedEmail,
		&u.EmailConfirmed,
		&u.PasswordHash,
		&u.SecurityStamp,
		&u.IsAdmin,
		&lockoutEnd,
		&u.AccessFailedCount,
		&u.CreatedAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	u.CreatedAt = u.CreatedAt.UTC()
	u.LockoutEnd = nullTimeToPtr(lockoutEnd)
	u.UpdatedAt = nullTimeToPtr(updatedAt)

	return &u, nil
}
