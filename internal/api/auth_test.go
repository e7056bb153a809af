package api

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoblog/internal/email"
	"autoblog/internal/models"
)

var confirmLinkPattern = regexp.MustCompile(`http://example\.test/api/identity/confirm-email\?\S+`)

func lastMessage(t *testing.T, env *testEnv, subject string) email.Message {
	t.Helper()
	msgs := env.transport.messages()
	require.NotEmpty(t, msgs)
	msg := msgs[len(msgs)-1]
	require.Equal(t, subject, msg.Subject)
	return msg
}

func registerAndConfirm(t *testing.T, env *testEnv) {
	t.Helper()

	resp := env.do(t, http.MethodPost, "/api/identity/register", map[string]string{
		"userName": "alice",
		"email":    "alice@example.com",
		"password": "Secret1!",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	link := confirmLinkPattern.FindString(lastMessage(t, env, email.SubjectConfirmEmail).Text)
	require.NotEmpty(t, link)
	u, err := url.Parse(link)
	require.NoError(t, err)

	resp = env.do(t, http.MethodGet, "/api/identity/confirm-email?"+u.RawQuery, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRegisterConfirmAndLogin(t *testing.T) {
	env := newTestEnv(t, RateLimits{})
	registerAndConfirm(t, env)

	resp := env.do(t, http.MethodPost, "/api/identity/login", map[string]any{
		"login":    "alice",
		"password": "Secret1!",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	c := sessionCookie(resp)
	require.NotNil(t, c)
	assert.Zero(t, c.MaxAge, "login without rememberMe must set a session cookie")

	resp = env.do(t, http.MethodGet, "/api/identity/me", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	me := decodeBody[models.User](t, resp)
	assert.Equal(t, "alice", me.UserName)
	assert.True(t, me.EmailConfirmed)
}

func TestRegisterRejectsWeakPassword(t *testing.T) {
	env := newTestEnv(t, RateLimits{})

	resp := env.do(t, http.MethodPost, "/api/identity/register", map[string]string{
		"userName": "alice",
		"email":    "alice@example.com",
		"password": "secret",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decodeBody[ErrorResponse](t, resp)
	assert.Equal(t, ErrCodeRegistrationFailed, body.Error.Code)
	require.NotEmpty(t, body.Error.Errors)
	assert.Equal(t, "password", body.Error.Errors[0].Field)
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	env := newTestEnv(t, RateLimits{})
	registerAndConfirm(t, env)

	resp := env.do(t, http.MethodPost, "/api/identity/register", map[string]string{
		"userName": "alice2",
		"email":    "ALICE@example.com",
		"password": "Secret1!",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLoginWrongPassword(t *testing.T) {
	env := newTestEnv(t, RateLimits{})
	registerAndConfirm(t, env)

	resp := env.do(t, http.MethodPost, "/api/identity/login", map[string]any{
		"login":    "alice",
		"password": "Wrong1!!",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, ErrCodeInvalidCredentials, decodeBody[ErrorResponse](t, resp).Error.Code)
	assert.Nil(t, sessionCookie(resp))
}

func TestConfirmEmailErrors(t *testing.T) {
	env := newTestEnv(t, RateLimits{})

	resp := env.do(t, http.MethodGet, "/api/identity/confirm-email", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/identity/confirm-email?userId=usr_missing&code=abc", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	u := env.createUser(t, "bob@example.com")
	resp = env.do(t, http.MethodGet, "/api/identity/confirm-email?userId="+u.ID+"&code=abc", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestForgotAndResetPassword(t *testing.T) {
	env := newTestEnv(t, RateLimits{})
	registerAndConfirm(t, env)

	resp := env.do(t, http.MethodPost, "/api/identity/forgot-password", map[string]string{"email": "alice@example.com"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	msg := lastMessage(t, env, email.SubjectPasswordReset)
	m := loginCodeLine.FindStringSubmatch(msg.Text)
	require.Len(t, m, 2, "no code in %q", msg.Text)

	resp = env.do(t, http.MethodPost, "/api/identity/reset-password", map[string]string{
		"email":       "alice@example.com",
		"resetCode":   m[1],
		"newPassword": "Newpass1!",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/identity/login", map[string]any{"login": "alice@example.com", "password": "Newpass1!"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/identity/forgot-password", map[string]string{"email": "nobody@example.com"})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestChangePasswordKeepsCallerSignedIn(t *testing.T) {
	env := newTestEnv(t, RateLimits{})
	registerAndConfirm(t, env)

	resp := env.do(t, http.MethodPost, "/api/identity/login", map[string]any{"login": "alice", "password": "Secret1!", "rememberMe": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	oldCookie := sessionCookie(resp)
	require.NotNil(t, oldCookie)

	resp = env.do(t, http.MethodPut, "/api/identity/change-password", map[string]string{
		"currentPassword": "Wrong1!!",
		"newPassword":     "Newpass1!",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPut, "/api/identity/change-password", map[string]string{
		"currentPassword": "Secret1!",
		"newPassword":     "Newpass1!",
	})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/identity/me", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// The cookie issued before the change no longer works.
	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/api/identity/me", nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: oldCookie.Name, Value: oldCookie.Value})
	stale, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer stale.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, stale.StatusCode)
}

func TestLogoutAllRevokesOtherSessions(t *testing.T) {
	env := newTestEnv(t, RateLimits{})
	registerAndConfirm(t, env)

	resp := env.do(t, http.MethodPost, "/api/identity/login", map[string]any{"login": "alice", "password": "Secret1!"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// A second device, outside the test client's cookie jar.
	other, err := http.Post(env.server.URL+"/api/identity/login", "application/json",
		strings.NewReader(`{"login":"alice","password":"Secret1!"}`))
	require.NoError(t, err)
	defer other.Body.Close()
	require.Equal(t, http.StatusOK, other.StatusCode)
	otherCookie := sessionCookie(other)
	require.NotNil(t, otherCookie)

	resp = env.do(t, http.MethodPost, "/api/identity/logout-all", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/identity/me", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/api/identity/me", nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: otherCookie.Name, Value: otherCookie.Value})
	stale, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer stale.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, stale.StatusCode)
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	env := newTestEnv(t, RateLimits{})

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/identity/logout"},
		{http.MethodPost, "/api/identity/logout-all"},
		{http.MethodGet, "/api/identity/me"},
		{http.MethodGet, "/api/identity/test-protected"},
		{http.MethodPut, "/api/identity/change-password"},
	} {
		resp := env.do(t, tc.method, tc.path, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "%s %s", tc.method, tc.path)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, RateLimits{})

	resp := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "ok", body["status"])
}
