package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"autoblog/internal/auth"
	"autoblog/internal/db"
	"autoblog/internal/models"
)

// Authentication methods recorded on sessions.
const (
	MethodPasswordless = "Passwordless"
	MethodPassword     = "pwd"
)

type CookieOptions struct {
	Name     string
	Domain   string
	Path     string
	Secure   bool
	SameSite http.SameSite
	// PersistentLifetime applies to "remember me" sign-ins; the cookie
	// survives a browser restart.
	PersistentLifetime time.Duration
	// SessionLifetime applies otherwise; the cookie is a browser-session
	// cookie.
	SessionLifetime   time.Duration
	SlidingExpiration bool
}

// ClientInfo describes where a sign-in came from.
type ClientInfo struct {
	UserAgent string
	IP        string
}

// Principal is the authenticated caller of a request.
type Principal struct {
	User    *models.User
	Session *models.Session
}

// SignInManager turns an authenticated user into a cookie-backed session and
// resolves cookies back into users.
type SignInManager struct {
	users    UserStore
	sessions SessionStore
	tokens   *auth.SessionTokenService
	cookie   CookieOptions
	logger   *slog.Logger
	now      func() time.Time
}

func NewSignInManager(
	users UserStore,
	sessions SessionStore,
	tokens *auth.SessionTokenService,
	cookie CookieOptions,
	logger *slog.Logger,
) *SignInManager {
	if cookie.Path == "" {
		cookie.Path = "/"
	}
	if cookie.SameSite == 0 {
		cookie.SameSite = http.SameSiteLaxMode
	}
	if cookie.PersistentLifetime <= 0 {
		cookie.PersistentLifetime = 14 * 24 * time.Hour
	}
	if cookie.SessionLifetime <= 0 {
		cookie.SessionLifetime = 12 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SignInManager{
		users:    users,
		sessions: sessions,
		tokens:   tokens,
		cookie:   cookie,
		logger:   logger.With("component", "signin"),
		now:      time.Now,
	}
}

func (m *SignInManager) CookieName() string {
	return m.cookie.Name
}

func (m *SignInManager) lifetime(persistent bool) time.Duration {
	if persistent {
		return m.cookie.PersistentLifetime
	}
	return m.cookie.SessionLifetime
}

// SignIn creates a session bound to the user's current security stamp and
// writes the session cookie.
func (m *SignInManager) SignIn(ctx context.Context, w http.ResponseWriter, user *models.User, persistent bool, method string, client ClientInfo) (*models.Session, error) {
	session := &models.Session{
		UserID:        user.ID,
		SecurityStamp: user.SecurityStamp,
		AuthMethod:    method,
		Persistent:    persistent,
		UserAgent:     client.UserAgent,
		IPAddress:     client.IP,
		ExpiresAt:     m.now().Add(m.lifetime(persistent)).UTC(),
	}
	if err := m.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	if err := m.writeCookie(w, session); err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "user signed in",
		"user_id", user.ID,
		"session_id", session.ID,
		"method", method,
		"persistent", persistent,
	)
	return session, nil
}

func (m *SignInManager) writeCookie(w http.ResponseWriter, session *models.Session) error {
	value, err := m.tokens.Issue(session)
	if err != nil {
		return err
	}

	c := &http.Cookie{
		Name:     m.cookie.Name,
		Value:    value,
		Domain:   m.cookie.Domain,
		Path:     m.cookie.Path,
		Secure:   m.cookie.Secure,
		HttpOnly: true,
		SameSite: m.cookie.SameSite,
	}
	if session.Persistent {
		c.Expires = session.ExpiresAt
		c.MaxAge = int(time.Until(session.ExpiresAt).Seconds())
		if c.MaxAge <= 0 {
			c.MaxAge = 1
		}
	}
	http.SetCookie(w, c)
	return nil
}

func (m *SignInManager) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookie.Name,
		Value:    "",
		Domain:   m.cookie.Domain,
		Path:     m.cookie.Path,
		Secure:   m.cookie.Secure,
		HttpOnly: true,
		SameSite: m.cookie.SameSite,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	})
}

// Authenticate resolves the request's session cookie. A session is only
// accepted while it is unrevoked, unexpired and bound to the user's current
// security stamp. Every failure is ErrUnauthenticated; store errors are
// wrapped and returned as-is.
//
// With sliding expiration a session past half its lifetime is extended and
// the cookie rewritten on w.
func (m *SignInManager) Authenticate(w http.ResponseWriter, r *http.Request) (*Principal, error) {
	ctx := r.Context()

	c, err := r.Cookie(m.cookie.Name)
	if err != nil || c.Value == "" {
		return nil, ErrUnauthenticated
	}

	claims, err := m.tokens.Parse(c.Value)
	if err != nil {
		return nil, ErrUnauthenticated
	}

	session, err := m.sessions.FindByID(ctx, claims.ID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("finding session: %w", err)
	}

	now := m.now()
	if !session.Active(now) || session.UserID != claims.Subject {
		return nil, ErrUnauthenticated
	}

	user, err := m.users.FindByID(ctx, session.UserID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("finding user: %w", err)
	}

	if user.SecurityStamp != session.SecurityStamp {
		m.logger.DebugContext(ctx, "session rejected after stamp change", "session_id", session.ID, "user_id", user.ID)
		return nil, ErrUnauthenticated
	}

	if m.cookie.SlidingExpiration {
		if err := m.renew(ctx, w, session, now); err != nil {
			m.logger.WarnContext(ctx, "error renewing session", "session_id", session.ID, "error", err)
		}
	}

	return &Principal{User: user, Session: session}, nil
}

func (m *SignInManager) renew(ctx context.Context, w http.ResponseWriter, session *models.Session, now time.Time) error {
	lifetime := m.lifetime(session.Persistent)
	if session.ExpiresAt.Sub(now) > lifetime/2 {
		return nil
	}

	expiresAt := now.Add(lifetime).UTC()
	if err := m.sessions.Touch(ctx, session.ID, expiresAt); err != nil {
		return err
	}
	session.ExpiresAt = expiresAt
	return m.writeCookie(w, session)
}

// SignOut revokes the session and clears the cookie.
func (m *SignInManager) SignOut(ctx context.Context, w http.ResponseWriter, session *models.Session) error {
	m.clearCookie(w)

	if session == nil {
		return nil
	}
	if err := m.sessions.Revoke(ctx, session.ID); err != nil && !errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("revoking session: %w", err)
	}

	m.logger.InfoContext(ctx, "user signed out", "user_id", session.UserID, "session_id", session.ID)
	return nil
}

// RefreshSignIn replaces the current session with one bound to the user's
// new security stamp, keeping the caller signed in after a password change.
func (m *SignInManager) RefreshSignIn(ctx context.Context, w http.ResponseWriter, current *Principal, client ClientInfo) (*models.Session, error) {
	if err := m.sessions.Revoke(ctx, current.Session.ID); err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("revoking session: %w", err)
	}
	return m.SignIn(ctx, w, current.User, current.Session.Persistent, current.Session.AuthMethod, client)
}

// SignOutEverywhere revokes every session of the user.
func (m *SignInManager) SignOutEverywhere(ctx context.Context, w http.ResponseWriter, userID string) error {
	m.clearCookie(w)

	n, err := m.sessions.RevokeAllForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("revoking sessions: %w", err)
	}
	m.logger.InfoContext(ctx, "user signed out everywhere", "user_id", userID, "sessions", n)
	return nil
}
