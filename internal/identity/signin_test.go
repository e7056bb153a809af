package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requestWithCookies(cookies []*http.Cookie) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range cookies {
		r.AddCookie(c)
	}
	return r
}

func TestSignInPersistentCookie(t *testing.T) {
	f := newFixture(t)
	sm := f.signIn()
	user := f.createUser(t, "user1@example.com")

	rec := httptest.NewRecorder()
	session, err := sm.SignIn(context.Background(), rec, user, true, MethodPasswordless, ClientInfo{UserAgent: "test", IP: "192.0.2.1"})
	require.NoError(t, err)
	assert.Equal(t, MethodPasswordless, session.AuthMethod)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, ".autoblog.session", c.Name)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.Greater(t, c.MaxAge, int((13 * 24 * time.Hour).Seconds()))

	p, err := sm.Authenticate(httptest.NewRecorder(), requestWithCookies(cookies))
	require.NoError(t, err)
	assert.Equal(t, user.ID, p.User.ID)
	assert.Equal(t, session.ID, p.Session.ID)
}

func TestSignInSessionCookie(t *testing.T) {
	f := newFixture(t)
	sm := f.signIn()
	user := f.createUser(t, "user1@example.com")

	rec := httptest.NewRecorder()
	_, err := sm.SignIn(context.Background(), rec, user, false, MethodPassword, ClientInfo{})
	require.NoError(t, err)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Zero(t, cookies[0].MaxAge)
	assert.True(t, cookies[0].Expires.IsZero())
}

func TestAuthenticateRejects(t *testing.T) {
	f := newFixture(t)
	sm := f.signIn()

	_, err := sm.Authenticate(httptest.NewRecorder(), requestWithCookies(nil))
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = sm.Authenticate(httptest.NewRecorder(), requestWithCookies([]*http.Cookie{
		{Name: ".autoblog.session", Value: "not-a-token"},
	}))
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestAuthenticateRejectsAfterStampRotation(t *testing.T) {
	f := newFixture(t)
	sm := f.signIn()
	ctx := context.Background()
	user := f.createUser(t, "user1@example.com")

	rec := httptest.NewRecorder()
	_, err := sm.SignIn(ctx, rec, user, true, MethodPasswordless, ClientInfo{})
	require.NoError(t, err)

	_, err = f.users.RotateSecurityStamp(ctx, user.ID)
	require.NoError(t, err)

	_, err = sm.Authenticate(httptest.NewRecorder(), requestWithCookies(rec.Result().Cookies()))
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestSignOutRevokesSession(t *testing.T) {
	f := newFixture(t)
	sm := f.signIn()
	ctx := context.Background()
	user := f.createUser(t, "user1@example.com")

	rec := httptest.NewRecorder()
	session, err := sm.SignIn(ctx, rec, user, true, MethodPasswordless, ClientInfo{})
	require.NoError(t, err)
	cookies := rec.Result().Cookies()

	out := httptest.NewRecorder()
	require.NoError(t, sm.SignOut(ctx, out, session))
	cleared := out.Result().Cookies()
	require.Len(t, cleared, 1)
	assert.Less(t, cleared[0].MaxAge, 0)

	_, err = sm.Authenticate(httptest.NewRecorder(), requestWithCookies(cookies))
	assert.ErrorIs(t, err, ErrUnauthenticated, "revoked session still accepted")
}

func TestAuthenticateSlidesExpiry(t *testing.T) {
	f := newFixture(t)
	sm := f.signIn()
	ctx := context.Background()
	user := f.createUser(t, "user1@example.com")

	rec := httptest.NewRecorder()
	session, err := sm.SignIn(ctx, rec, user, false, MethodPassword, ClientInfo{})
	require.NoError(t, err)
	cookies := rec.Result().Cookies()

	sm.now = func() time.Time { return time.Now().Add(7 * time.Hour) }

	renewed := httptest.NewRecorder()
	_, err = sm.Authenticate(renewed, requestWithCookies(cookies))
	require.NoError(t, err)
	require.Len(t, renewed.Result().Cookies(), 1)

	stored, err := f.sessions.FindByID(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, stored.ExpiresAt.After(session.ExpiresAt))
}

func TestRefreshSignInAfterPasswordChange(t *testing.T) {
	f := newFixture(t)
	sm := f.signIn()
	m := f.manager()
	ctx := context.Background()
	id := registerUser(t, f, m, "alice", "alice@example.com")
	user, err := m.FindByID(ctx, id)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	session, err := sm.SignIn(ctx, rec, user, true, MethodPassword, ClientInfo{})
	require.NoError(t, err)
	oldCookies := rec.Result().Cookies()

	updated, err := m.ChangePassword(ctx, id, goodPassword, "Newpass1!")
	require.NoError(t, err)

	refreshed := httptest.NewRecorder()
	next, err := sm.RefreshSignIn(ctx, refreshed, &Principal{User: updated, Session: session}, ClientInfo{})
	require.NoError(t, err)
	assert.True(t, next.Persistent)

	_, err = sm.Authenticate(httptest.NewRecorder(), requestWithCookies(oldCookies))
	assert.ErrorIs(t, err, ErrUnauthenticated)

	p, err := sm.Authenticate(httptest.NewRecorder(), requestWithCookies(refreshed.Result().Cookies()))
	require.NoError(t, err)
	assert.Equal(t, id, p.User.ID)
}
