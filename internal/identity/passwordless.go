package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"autoblog/internal/auth"
	"autoblog/internal/constants"
	"autoblog/internal/db"
	"autoblog/internal/models"
)

const tracerName = "autoblog/internal/identity"

// RequestKind distinguishes a first code request from a resend. Both behave
// the same; only logging differs.
type RequestKind int

const (
	InitialRequest RequestKind = iota
	ResendRequest
)

func (k RequestKind) String() string {
	if k == ResendRequest {
		return "resend"
	}
	return "initial"
}

type PasswordlessOptions struct {
	// Provider is the token provider codes are minted with.
	Provider string
	CodeTTL  time.Duration
	// MaxAttempts bounds verification attempts per issued code.
	MaxAttempts int
}

// Passwordless issues one-time login codes by email and exchanges them for
// an authenticated user.
type Passwordless struct {
	users    UserStore
	attempts CodeAttemptStore
	tokens   *auth.Registry
	mailer   Mailer
	limiter  Limiter
	opts     PasswordlessOptions
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewPasswordless wires the service. limiter may be nil to disable per-email
// throttling.
func NewPasswordless(
	users UserStore,
	attempts CodeAttemptStore,
	tokens *auth.Registry,
	mailer Mailer,
	limiter Limiter,
	opts PasswordlessOptions,
	logger *slog.Logger,
) *Passwordless {
	if opts.Provider == "" {
		opts.Provider = auth.ProviderPasswordlessLoginTOTP
	}
	if opts.CodeTTL <= 0 {
		opts.CodeTTL = 5 * time.Minute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = constants.MaxCodeAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Passwordless{
		users:    users,
		attempts: attempts,
		tokens:   tokens,
		mailer:   mailer,
		limiter:  limiter,
		opts:     opts,
		logger:   logger.With("component", "passwordless"),
		tracer:   otel.Tracer(tracerName),
	}
}

// RequestCode sends a fresh login code to the account registered under
// email. The outcome is the same whether or not such an account exists:
// unknown addresses, throttled requests and failed deliveries all return nil.
// Only store failures are reported.
//
// Requesting a code rotates the user's security stamp first, so any code
// issued earlier stops verifying.
func (p *Passwordless) RequestCode(ctx context.Context, email string, kind RequestKind) error {
	ctx, span := p.tracer.Start(ctx, "Passwordless.RequestCode", trace.WithAttributes(
		attribute.String("passwordless.request_kind", kind.String()),
	))
	defer span.End()

	key := strings.ToLower(strings.TrimSpace(email))

	if p.limiter != nil && !p.limiter.Allow(key) {
		p.logger.WarnContext(ctx, "passwordless code request throttled", "email", key, "kind", kind.String())
		span.SetAttributes(attribute.Bool("passwordless.throttled", true))
		return nil
	}

	user, err := p.users.FindByEmail(ctx, key)
	if errors.Is(err, db.ErrNotFound) {
		p.logger.InfoContext(ctx, "passwordless code requested for unknown email", "email", key, "kind", kind.String())
		return nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "user lookup failed")
		return fmt.Errorf("finding user: %w", err)
	}

	stamp, err := p.users.RotateSecurityStamp(ctx, user.ID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stamp rotation failed")
		return fmt.Errorf("rotating security stamp: %w", err)
	}
	user.SecurityStamp = stamp

	code, err := p.tokens.Generate(ctx, p.opts.Provider, auth.SubjectOf(user), auth.PurposePasswordless)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "code generation failed")
		return fmt.Errorf("generating login code: %w", err)
	}

	if err := p.mailer.SendPasswordlessLoginCode(ctx, user.Email, code, p.opts.CodeTTL); err != nil {
		// Not reported to the caller; a failure here must look like success.
		p.logger.ErrorContext(ctx, "error sending passwordless code", "user_id", user.ID, "error", err)
		span.RecordError(err)
		return nil
	}

	if kind == ResendRequest {
		p.logger.InfoContext(ctx, "passwordless code resent", "user_id", user.ID)
	} else {
		p.logger.InfoContext(ctx, "passwordless code sent", "user_id", user.ID)
	}
	return nil
}

// VerifyCode checks code for the account under email. On success the
// user's security stamp is rotated, which consumes the code and invalidates
// every session bound to the previous stamp, and the updated user is
// returned. Every failure, including an unknown email, is ErrInvalidCode.
func (p *Passwordless) VerifyCode(ctx context.Context, email, code string) (*models.User, error) {
	ctx, span := p.tracer.Start(ctx, "Passwordless.VerifyCode")
	defer span.End()

	key := strings.ToLower(strings.TrimSpace(email))

	user, err := p.users.FindByEmail(ctx, key)
	if errors.Is(err, db.ErrNotFound) {
		// Run a verification anyway so unknown addresses cost the same.
		p.tokens.Verify(ctx, p.opts.Provider, auth.Subject{Email: key, SecurityStamp: key}, auth.PurposePasswordless, code)
		p.logger.WarnContext(ctx, "passwordless verification for unknown email", "email", key)
		return nil, ErrInvalidCode
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "user lookup failed")
		return nil, fmt.Errorf("finding user: %w", err)
	}

	attempts, err := p.attempts.Increment(ctx, user.ID, user.SecurityStamp, p.opts.MaxAttempts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "attempt tracking failed")
		return nil, fmt.Errorf("counting attempts: %w", err)
	}
	if attempts < 0 {
		p.logger.WarnContext(ctx, "passwordless attempt limit reached", "user_id", user.ID)
		return nil, ErrInvalidCode
	}

	if !p.tokens.Verify(ctx, p.opts.Provider, auth.SubjectOf(user), auth.PurposePasswordless, code) {
		p.logger.WarnContext(ctx, "invalid passwordless code", "user_id", user.ID, "attempt", attempts)
		return nil, ErrInvalidCode
	}

	stamp, err := p.users.CompareAndRotateSecurityStamp(ctx, user.ID, user.SecurityStamp)
	if errors.Is(err, db.ErrStampChanged) {
		// Another request consumed this code, or a new code was issued.
		p.logger.WarnContext(ctx, "passwordless code lost stamp race", "user_id", user.ID)
		return nil, ErrInvalidCode
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stamp rotation failed")
		return nil, fmt.Errorf("rotating security stamp: %w", err)
	}
	user.SecurityStamp = stamp

	span.SetAttributes(attribute.String("enduser.id", user.ID))
	p.logger.InfoContext(ctx, "passwordless code verified", "user_id", user.ID)
	return user, nil
}
