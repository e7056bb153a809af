package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"autoblog/internal/identity"
	"autoblog/internal/models"
)

type IdentityHandler struct {
	manager      *identity.Manager
	passwordless *identity.Passwordless
	signIn       *identity.SignInManager
	clientIP     *ClientIPResolver
}

func NewIdentityHandler(
	manager *identity.Manager,
	passwordless *identity.Passwordless,
	signIn *identity.SignInManager,
	clientIP *ClientIPResolver,
) *IdentityHandler {
	return &IdentityHandler{
		manager:      manager,
		passwordless: passwordless,
		signIn:       signIn,
		clientIP:     clientIP,
	}
}

func (h *IdentityHandler) clientInfo(r *http.Request) identity.ClientInfo {
	return identity.ClientInfo{
		UserAgent: r.UserAgent(),
		IP:        h.clientIP.Resolve(r),
	}
}

type SessionResponse struct {
	User       *models.User `json:"user"`
	Persistent bool         `json:"persistent"`
	ExpiresAt  string       `json:"expiresAt"`
}

func sessionResponse(user *models.User, session *models.Session) SessionResponse {
	return SessionResponse{
		User:       user,
		Persistent: session.Persistent,
		ExpiresAt:  session.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

func writePolicyError(w http.ResponseWriter, code string, err *identity.PolicyError) {
	fields := make([]FieldError, 0, len(err.Problems))
	for _, p := range err.Problems {
		fields = append(fields, FieldError{Field: err.Field, Message: p})
	}
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: err.Problems[0],
			Errors:  fields,
		},
	})
}

// POST /api/identity/register
type RegisterRequest struct {
	UserName string `json:"userName" validate:"required,max=64"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=256"`
}

func (r *RegisterRequest) normalize() {
	r.Email = strings.TrimSpace(r.Email)
}

func (h *IdentityHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		writeRequestError(w, err)
		return
	}

	user, err := h.manager.Register(r.Context(), identity.Registration{
		UserName: req.UserName,
		Email:    req.Email,
		Password: req.Password,
	})
	var policyErr *identity.PolicyError
	switch {
	case errors.As(err, &policyErr):
		writePolicyError(w, ErrCodeRegistrationFailed, policyErr)
		return
	case errors.Is(err, identity.ErrDuplicateUserName):
		writeError(w, http.StatusBadRequest, ErrCodeRegistrationFailed, "User name is already taken.")
		return
	case errors.Is(err, identity.ErrDuplicateEmail):
		writeError(w, http.StatusBadRequest, ErrCodeRegistrationFailed, "Email is already registered.")
		return
	case err != nil:
		slog.ErrorContext(r.Context(), "error registering user", "error", err)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// POST /api/identity/login
type LoginRequest struct {
	Login      string `json:"login" validate:"required,max=254"`
	Password   string `json:"password" validate:"required,max=256"`
	RememberMe bool   `json:"rememberMe"`
}

func (r *LoginRequest) normalize() {
	r.Login = strings.TrimSpace(r.Login)
}

func (h *IdentityHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		writeRequestError(w, err)
		return
	}

	user, err := h.manager.CheckPassword(r.Context(), req.Login, req.Password)
	switch {
	case errors.Is(err, identity.ErrLockedOut):
		writeError(w, http.StatusUnauthorized, ErrCodeLockedOut, "Account is locked out, please try again later.")
		return
	case errors.Is(err, identity.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, ErrCodeInvalidCredentials, "Invalid user name or password.")
		return
	case err != nil:
		slog.ErrorContext(r.Context(), "error checking password", "error", err)
		internalError(w)
		return
	}

	session, err := h.signIn.SignIn(r.Context(), w, user, req.RememberMe, identity.MethodPassword, h.clientInfo(r))
	if err != nil {
		slog.ErrorContext(r.Context(), "error signing in", "user_id", user.ID, "error", err)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse(user, session))
}

// POST /api/identity/logout
func (h *IdentityHandler) Logout(w http.ResponseWriter, r *http.Request) {
	principal := GetPrincipal(r)
	if principal == nil {
		unauthorized(w, "Authentication required")
		return
	}

	if err := h.signIn.SignOut(r.Context(), w, principal.Session); err != nil {
		slog.ErrorContext(r.Context(), "error signing out", "user_id", principal.User.ID, "error", err)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Signed out."})
}

// POST /api/identity/logout-all
func (h *IdentityHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r)
	if userID == "" {
		unauthorized(w, "Authentication required")
		return
	}

	if err := h.signIn.SignOutEverywhere(r.Context(), w, userID); err != nil {
		slog.ErrorContext(r.Context(), "error signing out everywhere", "user_id", userID, "error", err)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Signed out of all sessions."})
}

// GET /api/identity/me
func (h *IdentityHandler) Me(w http.ResponseWriter, r *http.Request) {
	principal := GetPrincipal(r)
	if principal == nil {
		unauthorized(w, "Authentication required")
		return
	}
	writeJSON(w, http.StatusOK, principal.User)
}

// GET /api/identity/test-protected
func (h *IdentityHandler) TestProtected(w http.ResponseWriter, r *http.Request) {
	principal := GetPrincipal(r)
	if principal == nil {
		unauthorized(w, "Authentication required")
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "You are authenticated as " + principal.User.UserName + "."})
}

type EmailRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

func (r *EmailRequest) normalize() {
	r.Email = normalizeEmail(r.Email)
}

// POST /api/identity/resend-confirmation-email
func (h *IdentityHandler) ResendConfirmationEmail(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		writeRequestError(w, err)
		return
	}

	if err := h.manager.ResendConfirmationEmail(r.Context(), req.Email); err != nil {
		slog.ErrorContext(r.Context(), "error resending confirmation email", "error", err)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusAccepted, MessageResponse{
		Message: "If an unconfirmed account exists with this email, a confirmation link has been sent.",
	})
}

// GET /api/identity/confirm-email?userId=&code=
type ConfirmEmailQuery struct {
	UserID string `json:"userId" validate:"required,max=64"`
	Code   string `json:"code" validate:"required,max=2048"`
}

func (h *IdentityHandler) ConfirmEmail(w http.ResponseWriter, r *http.Request) {
	q := ConfirmEmailQuery{
		UserID: strings.TrimSpace(r.URL.Query().Get("userId")),
		Code:   strings.TrimSpace(r.URL.Query().Get("code")),
	}
	if err := validateRequest(&q); err != nil {
		writeRequestError(w, err)
		return
	}

	err := h.manager.ConfirmEmail(r.Context(), q.UserID, q.Code)
	switch {
	case errors.Is(err, identity.ErrUserNotFound):
		notFound(w, "User not found.")
		return
	case errors.Is(err, identity.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, ErrCodeInvalidToken, "Invalid or expired confirmation link.")
		return
	case err != nil:
		slog.ErrorContext(r.Context(), "error confirming email", "error", err)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Thank you for confirming your email."})
}

// POST /api/identity/forgot-password
func (h *IdentityHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		writeRequestError(w, err)
		return
	}

	if err := h.manager.ForgotPassword(r.Context(), req.Email); err != nil {
		slog.ErrorContext(r.Context(), "error starting password reset", "error", err)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusAccepted, MessageResponse{
		Message: "If a confirmed account exists with this email, a reset code has been sent.",
	})
}

// POST /api/identity/reset-password
type ResetPasswordRequest struct {
	Email       string `json:"email" validate:"required,email,max=254"`
	ResetCode   string `json:"resetCode" validate:"required,max=2048"`
	NewPassword string `json:"newPassword" validate:"required,max=256"`
}

func (r *ResetPasswordRequest) normalize() {
	r.Email = normalizeEmail(r.Email)
	r.ResetCode = strings.TrimSpace(r.ResetCode)
}

func (h *IdentityHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		writeRequestError(w, err)
		return
	}

	err := h.manager.ResetPassword(r.Context(), req.Email, req.ResetCode, req.NewPassword)
	var policyErr *identity.PolicyError
	switch {
	case errors.As(err, &policyErr):
		writePolicyError(w, ErrCodePasswordRejected, policyErr)
		return
	case errors.Is(err, identity.ErrInvalidToken):
		writeError(w, http.StatusBadRequest, ErrCodeInvalidToken, "Invalid or expired reset code.")
		return
	case err != nil:
		slog.ErrorContext(r.Context(), "error resetting password", "error", err)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Password has been reset."})
}

// PUT /api/identity/change-password
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required,max=256"`
	NewPassword     string `json:"newPassword" validate:"required,max=256"`
}

func (h *IdentityHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	principal := GetPrincipal(r)
	if principal == nil {
		unauthorized(w, "Authentication required")
		return
	}

	var req ChangePasswordRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		writeRequestError(w, err)
		return
	}

	user, err := h.manager.ChangePassword(r.Context(), principal.User.ID, req.CurrentPassword, req.NewPassword)
	var policyErr *identity.PolicyError
	switch {
	case errors.As(err, &policyErr):
		writePolicyError(w, ErrCodePasswordRejected, policyErr)
		return
	case errors.Is(err, identity.ErrInvalidCredentials):
		writeError(w, http.StatusBadRequest, ErrCodeInvalidCredentials, "Current password is incorrect.")
		return
	case errors.Is(err, identity.ErrInvalidToken):
		conflict(w, "Account changed during the request, please try again.")
		return
	case err != nil:
		slog.ErrorContext(r.Context(), "error changing password", "user_id", principal.User.ID, "error", err)
		internalError(w)
		return
	}

	// The password change rotated the stamp; keep this caller signed in.
	refreshed := &identity.Principal{User: user, Session: principal.Session}
	if _, err := h.signIn.RefreshSignIn(r.Context(), w, refreshed, h.clientInfo(r)); err != nil {
		slog.ErrorContext(r.Context(), "error refreshing sign-in", "user_id", user.ID, "error", err)
		internalError(w)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
