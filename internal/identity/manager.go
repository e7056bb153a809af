package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"autoblog/internal/auth"
	"autoblog/internal/constants"
	"autoblog/internal/db"
	"autoblog/internal/models"
)

// Registration is the input to Manager.Register.
type Registration struct {
	UserName string
	Email    string
	Password string
}

// AdminSeed describes the account created on first start.
type AdminSeed struct {
	UserName string
	Email    string
	Password string
}

type ManagerOptions struct {
	// ConfirmEmailURL is the absolute URL of the email confirmation
	// endpoint; userId and code are appended as query parameters.
	ConfirmEmailURL string
}

// Manager owns user accounts: registration, password checks, email
// confirmation and password reset. It is the only writer of passwords.
type Manager struct {
	users  UserStore
	tokens *auth.Registry
	hasher *auth.PasswordHasher
	mailer Mailer
	opts   ManagerOptions
	logger *slog.Logger
	now    func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

func NewManager(
	users UserStore,
	tokens *auth.Registry,
	hasher *auth.PasswordHasher,
	mailer Mailer,
	opts ManagerOptions,
	logger *slog.Logger,
) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		users:  users,
		tokens: tokens,
		hasher: hasher,
		mailer: mailer,
		opts:   opts,
		logger: logger.With("component", "identity"),
		now:    time.Now,
	}
}

func (m *Manager) FindByID(ctx context.Context, id string) (*models.User, error) {
	u, err := m.users.FindByID(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return u, err
}

func (m *Manager) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	u, err := m.users.FindByEmail(ctx, email)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return u, err
}

// Register creates an unconfirmed account and emails a confirmation link.
// A failed delivery is logged; the account still exists.
func (m *Manager) Register(ctx context.Context, in Registration) (*models.User, error) {
	if err := ValidateUserName(in.UserName); err != nil {
		return nil, err
	}
	if err := ValidatePassword(in.Password); err != nil {
		return nil, err
	}

	user, err := m.create(ctx, in.UserName, in.Email, in.Password, false, false)
	if err != nil {
		return nil, err
	}
	m.logger.InfoContext(ctx, "user registered", "user_id", user.ID)

	if err := m.SendConfirmationEmail(ctx, user); err != nil {
		m.logger.ErrorContext(ctx, "error sending confirmation email", "user_id", user.ID, "error", err)
	}
	return user, nil
}

func (m *Manager) create(ctx context.Context, userName, email, password string, confirmed, admin bool) (*models.User, error) {
	if _, err := m.users.FindByUserName(ctx, userName); err == nil {
		return nil, ErrDuplicateUserName
	} else if !errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("checking user name: %w", err)
	}

	hash, err := m.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	user := &models.User{
		UserName:       userName,
		Email:          strings.TrimSpace(email),
		EmailConfirmed: confirmed,
		PasswordHash:   hash,
		IsAdmin:        admin,
	}
	if err := m.users.Create(ctx, user); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			// The user name was free a moment ago, so this is almost
			// always the email.
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}
	return user, nil
}

// CheckPassword authenticates login, a user name or an email address,
// against password. Repeated failures lock the account for a while.
func (m *Manager) CheckPassword(ctx context.Context, login, password string) (*models.User, error) {
	user, err := m.users.FindByUserName(ctx, login)
	if errors.Is(err, db.ErrNotFound) && strings.Contains(login, "@") {
		user, err = m.users.FindByEmail(ctx, login)
	}
	if errors.Is(err, db.ErrNotFound) {
		m.burnPasswordCheck(password)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("finding user: %w", err)
	}

	if user.IsLockedOut(m.now()) {
		return nil, ErrLockedOut
	}
	if !user.HasPassword() {
		m.burnPasswordCheck(password)
		return nil, ErrInvalidCredentials
	}

	ok, err := m.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verifying password: %w", err)
	}
	if !ok {
		lockoutEnd, err := m.users.RecordAccessFailure(ctx, user.ID, constants.MaxAccessFailedCount, constants.LockoutDuration)
		if err != nil {
			return nil, fmt.Errorf("recording access failure: %w", err)
		}
		if lockoutEnd != nil && lockoutEnd.After(m.now()) {
			m.logger.WarnContext(ctx, "user locked out", "user_id", user.ID, "until", lockoutEnd)
			return nil, ErrLockedOut
		}
		return nil, ErrInvalidCredentials
	}

	if user.AccessFailedCount > 0 || user.LockoutEnd != nil {
		if err := m.users.ResetAccessFailures(ctx, user.ID); err != nil {
			return nil, fmt.Errorf("resetting access failures: %w", err)
		}
	}
	return user, nil
}

// burnPasswordCheck spends the cost of one hash verification.
func (m *Manager) burnPasswordCheck(password string) {
	m.dummyOnce.Do(func() {
		m.dummyHash, _ = m.hasher.Hash("not-a-real-password")
	})
	_, _ = m.hasher.Verify(password, m.dummyHash)
}

func (m *Manager) GenerateUserToken(ctx context.Context, user *models.User, provider, purpose string) (string, error) {
	return m.tokens.Generate(ctx, provider, auth.SubjectOf(user), purpose)
}

func (m *Manager) VerifyUserToken(ctx context.Context, user *models.User, provider, purpose, token string) bool {
	return m.tokens.Verify(ctx, provider, auth.SubjectOf(user), purpose, token)
}

// SendConfirmationEmail mails a confirmation link unless the address is
// already confirmed.
func (m *Manager) SendConfirmationEmail(ctx context.Context, user *models.User) error {
	if user.EmailConfirmed {
		return nil
	}

	code, err := m.GenerateUserToken(ctx, user, auth.ProviderDefault, auth.PurposeEmailConfirmation)
	if err != nil {
		return fmt.Errorf("generating confirmation token: %w", err)
	}

	link, err := m.confirmationLink(user.ID, code)
	if err != nil {
		return err
	}
	return m.mailer.SendConfirmationLink(ctx, user.Email, user.UserName, link)
}

func (m *Manager) confirmationLink(userID, code string) (string, error) {
	u, err := url.Parse(m.opts.ConfirmEmailURL)
	if err != nil {
		return "", fmt.Errorf("parsing confirmation URL: %w", err)
	}
	q := u.Query()
	q.Set("userId", userID)
	q.Set("code", code)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ResendConfirmationEmail behaves identically for known and unknown
// addresses.
func (m *Manager) ResendConfirmationEmail(ctx context.Context, email string) error {
	user, err := m.users.FindByEmail(ctx, email)
	if errors.Is(err, db.ErrNotFound) {
		m.logger.InfoContext(ctx, "confirmation resend requested for unknown email")
		return nil
	}
	if err != nil {
		return fmt.Errorf("finding user: %w", err)
	}

	if err := m.SendConfirmationEmail(ctx, user); err != nil {
		m.logger.ErrorContext(ctx, "error resending confirmation email", "user_id", user.ID, "error", err)
		return nil
	}
	m.logger.InfoContext(ctx, "confirmation email resent", "user_id", user.ID)
	return nil
}

// ConfirmEmail marks the user's address confirmed. The token is single use:
// confirming rotates the security stamp it was bound to.
func (m *Manager) ConfirmEmail(ctx context.Context, userID, code string) error {
	user, err := m.FindByID(ctx, userID)
	if err != nil {
		return err
	}

	if !m.VerifyUserToken(ctx, user, auth.ProviderDefault, auth.PurposeEmailConfirmation, code) {
		return ErrInvalidToken
	}

	if _, err := m.users.ConfirmEmail(ctx, user.ID, user.SecurityStamp); err != nil {
		if errors.Is(err, db.ErrStampChanged) {
			return ErrInvalidToken
		}
		return fmt.Errorf("confirming email: %w", err)
	}

	m.logger.InfoContext(ctx, "email confirmed", "user_id", user.ID)
	return nil
}

// ForgotPassword mails a reset code to confirmed accounts only, and looks
// the same to the caller in every case.
func (m *Manager) ForgotPassword(ctx context.Context, email string) error {
	user, err := m.users.FindByEmail(ctx, email)
	if errors.Is(err, db.ErrNotFound) {
		m.logger.InfoContext(ctx, "password reset requested for unknown email")
		return nil
	}
	if err != nil {
		return fmt.Errorf("finding user: %w", err)
	}
	if !user.EmailConfirmed {
		m.logger.InfoContext(ctx, "password reset requested for unconfirmed email", "user_id", user.ID)
		return nil
	}

	code, err := m.GenerateUserToken(ctx, user, auth.ProviderDefault, auth.PurposeResetPassword)
	if err != nil {
		return fmt.Errorf("generating reset token: %w", err)
	}
	if err := m.mailer.SendPasswordResetCode(ctx, user.Email, user.UserName, code); err != nil {
		m.logger.ErrorContext(ctx, "error sending password reset code", "user_id", user.ID, "error", err)
		return nil
	}

	m.logger.InfoContext(ctx, "password reset code sent", "user_id", user.ID)
	return nil
}

// ResetPassword sets a new password using a code from ForgotPassword.
// Unknown or unconfirmed accounts get ErrInvalidToken like a bad code does.
func (m *Manager) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	user, err := m.users.FindByEmail(ctx, email)
	if errors.Is(err, db.ErrNotFound) {
		return ErrInvalidToken
	}
	if err != nil {
		return fmt.Errorf("finding user: %w", err)
	}
	if !user.EmailConfirmed {
		return ErrInvalidToken
	}

	if !m.VerifyUserToken(ctx, user, auth.ProviderDefault, auth.PurposeResetPassword, code) {
		return ErrInvalidToken
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	if err := m.setPassword(ctx, user, newPassword); err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "password reset", "user_id", user.ID)
	return nil
}

// ChangePassword replaces the password after checking the current one and
// returns the updated user. The security stamp rotates, so existing sessions
// end.
func (m *Manager) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) (*models.User, error) {
	user, err := m.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	ok, err := m.hasher.Verify(currentPassword, user.PasswordHash)
	if err != nil && !errors.Is(err, auth.ErrMalformedHash) {
		return nil, fmt.Errorf("verifying password: %w", err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if err := ValidatePassword(newPassword); err != nil {
		return nil, err
	}

	if err := m.setPassword(ctx, user, newPassword); err != nil {
		return nil, err
	}
	m.logger.InfoContext(ctx, "password changed", "user_id", user.ID)
	return user, nil
}

func (m *Manager) setPassword(ctx context.Context, user *models.User, password string) error {
	hash, err := m.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	stamp, err := m.users.UpdatePassword(ctx, user.ID, user.SecurityStamp, hash)
	if errors.Is(err, db.ErrStampChanged) {
		return ErrInvalidToken
	}
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}

	user.PasswordHash = hash
	user.SecurityStamp = stamp
	return nil
}

// EnsureAdmin creates the seed administrator if no account uses its email.
func (m *Manager) EnsureAdmin(ctx context.Context, seed AdminSeed) error {
	if seed.Email == "" {
		return nil
	}

	if _, err := m.users.FindByEmail(ctx, seed.Email); err == nil {
		return nil
	} else if !errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("finding admin: %w", err)
	}

	if err := ValidatePassword(seed.Password); err != nil {
		return fmt.Errorf("admin password: %w", err)
	}

	user, err := m.create(ctx, seed.UserName, seed.Email, seed.Password, true, true)
	if err != nil {
		return fmt.Errorf("creating admin: %w", err)
	}
	m.logger.InfoContext(ctx, "admin user created", "user_id", user.ID)
	return nil
}

// CreateConfirmed creates an account with a confirmed email address, for
// operator tooling.
func (m *Manager) CreateConfirmed(ctx context.Context, in Registration, admin bool) (*models.User, error) {
	if err := ValidateUserName(in.UserName); err != nil {
		return nil, err
	}
	if err := ValidatePassword(in.Password); err != nil {
		return nil, err
	}
	return m.create(ctx, in.UserName, in.Email, in.Password, true, admin)
}
