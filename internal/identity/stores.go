package identity

import (
	"context"
	"time"

	"autoblog/internal/models"
)

// UserStore persists users. Every method is a single atomic statement; the
// stamp-guarded updates return db.ErrStampChanged when the stamp moved.
type UserStore interface {
	Create(ctx context.Context, u *models.User) error
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByUserName(ctx context.Context, userName string) (*models.User, error)
	RotateSecurityStamp(ctx context.Context, id string) (string, error)
	CompareAndRotateSecurityStamp(ctx context.Context, id, expected string) (string, error)
	ConfirmEmail(ctx context.Context, id, expectedStamp string) (string, error)
	UpdatePassword(ctx context.Context, id, expectedStamp, passwordHash string) (string, error)
	RecordAccessFailure(ctx context.Context, id string, maxFailures int, lockout time.Duration) (*time.Time, error)
	ResetAccessFailures(ctx context.Context, id string) error
}

type SessionStore interface {
	Create(ctx context.Context, s *models.Session) error
	FindByID(ctx context.Context, id string) (*models.Session, error)
	Touch(ctx context.Context, id string, expiresAt time.Time) error
	Revoke(ctx context.Context, id string) error
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)
}

type CodeAttemptStore interface {
	Increment(ctx context.Context, userID, stamp string, max int) (int, error)
}

// Mailer delivers identity emails.
type Mailer interface {
	SendPasswordlessLoginCode(ctx context.Context, to, code string, ttl time.Duration) error
	SendConfirmationLink(ctx context.Context, to, userName, link string) error
	SendPasswordResetCode(ctx context.Context, to, userName, code string) error
}

type Limiter interface {
	Allow(key string) bool
}
