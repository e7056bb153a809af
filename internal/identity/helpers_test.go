package identity

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"autoblog/internal/auth"
	"autoblog/internal/db"
	"autoblog/internal/models"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type sentMail struct {
	Kind string
	To   string
	Code string
	Link string
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *recordingMailer) record(mail sentMail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, mail)
	return nil
}

func (m *recordingMailer) SendPasswordlessLoginCode(_ context.Context, to, code string, _ time.Duration) error {
	return m.record(sentMail{Kind: "login", To: to, Code: code})
}

func (m *recordingMailer) SendConfirmationLink(_ context.Context, to, _, link string) error {
	return m.record(sentMail{Kind: "confirm", To: to, Link: link})
}

func (m *recordingMailer) SendPasswordResetCode(_ context.Context, to, _, code string) error {
	return m.record(sentMail{Kind: "reset", To: to, Code: code})
}

func (m *recordingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *recordingMailer) last(t *testing.T) sentMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent, "no mail sent")
	return m.sent[len(m.sent)-1]
}

type denyLimiter struct{}

func (denyLimiter) Allow(string) bool { return false }

type fixture struct {
	db       *db.DB
	users    *db.UserRepository
	sessions *db.SessionRepository
	attempts *db.CodeAttemptRepository
	tokens   *auth.Registry
	mailer   *recordingMailer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	database, err := db.Open(db.DriverSQLite3, filepath.Join(t.TempDir(), "identity.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	return &fixture{
		db:       database,
		users:    db.NewUserRepository(database),
		sessions: db.NewSessionRepository(database),
		attempts: db.NewCodeAttemptRepository(database),
		tokens: auth.NewRegistry(auth.RegistryConfig{
			Secret:            testSecret,
			PasswordlessTTL:   5 * time.Minute,
			DataProtectionTTL: 24 * time.Hour,
		}),
		mailer: &recordingMailer{},
	}
}

func (f *fixture) passwordless(limiter Limiter) *Passwordless {
	return NewPasswordless(f.users, f.attempts, f.tokens, f.mailer, limiter, PasswordlessOptions{}, nil)
}

func (f *fixture) manager() *Manager {
	return NewManager(f.users, f.tokens, auth.NewPasswordHasher(), f.mailer, ManagerOptions{
		ConfirmEmailURL: "http://localhost:8080/api/identity/confirm-email",
	}, nil)
}

func (f *fixture) signIn() *SignInManager {
	return NewSignInManager(f.users, f.sessions, auth.NewSessionTokenService(testSecret, "autoblog", nil), CookieOptions{
		Name:              ".autoblog.session",
		SlidingExpiration: true,
	}, nil)
}

func (f *fixture) createUser(t *testing.T, email string) *models.User {
	t.Helper()
	u := &models.User{UserName: email, Email: email, EmailConfirmed: true}
	require.NoError(t, f.users.Create(context.Background(), u))
	return u
}

func isPolicyError(err error) bool {
	var pe *PolicyError
	return errors.As(err, &pe)
}
