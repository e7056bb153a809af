package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"autoblog/internal/auth"
	"autoblog/internal/db"
	"autoblog/internal/email"
	"autoblog/internal/identity"
	"autoblog/internal/models"
)

const sessionCookieName = ".autoblog.session"

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type recordingTransport struct {
	mu   sync.Mutex
	sent []email.Message
}

func (r *recordingTransport) Send(_ context.Context, msg email.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingTransport) messages() []email.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]email.Message(nil), r.sent...)
}

var loginCodeLine = regexp.MustCompile(`(?m)^ {4}(\S+)\s*$`)

// lastLoginCode pulls the code out of the most recent login code email.
func (r *recordingTransport) lastLoginCode(t *testing.T) string {
	t.Helper()
	msgs := r.messages()
	require.NotEmpty(t, msgs, "no email sent")
	m := loginCodeLine.FindStringSubmatch(msgs[len(msgs)-1].Text)
	require.Len(t, m, 2, "no code in email: %q", msgs[len(msgs)-1].Text)
	return m[1]
}

type testEnv struct {
	server    *httptest.Server
	client    *http.Client
	transport *recordingTransport
	users     *db.UserRepository
}

func newTestEnv(t *testing.T, limits RateLimits) *testEnv {
	t.Helper()

	database, err := db.Open(db.DriverSQLite3, filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	users := db.NewUserRepository(database)
	sessions := db.NewSessionRepository(database)
	attempts := db.NewCodeAttemptRepository(database)

	tokens := auth.NewRegistry(auth.RegistryConfig{
		Secret:            testSecret,
		PasswordlessTTL:   5 * time.Minute,
		DataProtectionTTL: 24 * time.Hour,
	})
	transport := &recordingTransport{}
	mailer := email.NewService(transport, "AutoBlog", time.Second)

	manager := identity.NewManager(users, tokens, auth.NewPasswordHasher(), mailer, identity.ManagerOptions{
		ConfirmEmailURL: "http://example.test/api/identity/confirm-email",
	}, nil)
	passwordless := identity.NewPasswordless(users, attempts, tokens, mailer, nil, identity.PasswordlessOptions{}, nil)
	signIn := identity.NewSignInManager(users, sessions, auth.NewSessionTokenService(testSecret, "autoblog", nil), identity.CookieOptions{
		Name: sessionCookieName,
	}, nil)

	if limits.CodeRequests == 0 {
		limits = RateLimits{CodeRequests: 1000, Credentials: 1000, Window: time.Minute}
	}
	srv, err := NewServer(database, manager, passwordless, signIn, ServerOptions{RateLimits: limits})
	require.NoError(t, err)

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &testEnv{
		server:    ts,
		client:    &http.Client{Jar: jar},
		transport: transport,
		users:     users,
	}
}

func (e *testEnv) createUser(t *testing.T, emailAddr string) *models.User {
	t.Helper()
	u := &models.User{UserName: emailAddr, Email: emailAddr, EmailConfirmed: true}
	require.NoError(t, e.users.Create(context.Background(), u))
	return u
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (e *testEnv) doRaw(t *testing.T, method, path, body string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, e.server.URL+path, bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func sessionCookie(resp *http.Response) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == sessionCookieName {
			return c
		}
	}
	return nil
}
