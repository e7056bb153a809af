package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"autoblog/internal/identity"
)

const codeSentMessage = "If an account exists with this email, a login code has been sent."

// POST /api/identity/passwordless/login
// POST /api/identity/passwordless/resend
type PasswordlessCodeRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

func (r *PasswordlessCodeRequest) normalize() {
	r.Email = normalizeEmail(r.Email)
}

func (h *IdentityHandler) RequestPasswordlessCode(w http.ResponseWriter, r *http.Request) {
	h.requestCode(w, r, identity.InitialRequest)
}

func (h *IdentityHandler) ResendPasswordlessCode(w http.ResponseWriter, r *http.Request) {
	h.requestCode(w, r, identity.ResendRequest)
}

func (h *IdentityHandler) requestCode(w http.ResponseWriter, r *http.Request, kind identity.RequestKind) {
	var req PasswordlessCodeRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		writeRequestError(w, err)
		return
	}

	if err := h.passwordless.RequestCode(r.Context(), req.Email, kind); err != nil {
		slog.ErrorContext(r.Context(), "error issuing passwordless code", "kind", kind.String(), "error", err)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: codeSentMessage})
}

// POST /api/identity/passwordless/verify
type PasswordlessVerifyRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
	Code  string `json:"code" validate:"required,max=2048"`
	// RememberMe falls back to the rememberMe query parameter when absent.
	RememberMe *bool `json:"rememberMe"`
}

func (r *PasswordlessVerifyRequest) normalize() {
	r.Email = normalizeEmail(r.Email)
	r.Code = strings.TrimSpace(r.Code)
}

func (h *IdentityHandler) VerifyPasswordlessCode(w http.ResponseWriter, r *http.Request) {
	var req PasswordlessVerifyRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		writeRequestError(w, err)
		return
	}

	persistent := false
	if req.RememberMe != nil {
		persistent = *req.RememberMe
	} else if v := r.URL.Query().Get("rememberMe"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			writeValidationError(w, "rememberMe must be true or false.", []FieldError{
				{Field: "rememberMe", Message: "rememberMe must be true or false."},
			})
			return
		}
		persistent = parsed
	}

	user, err := h.passwordless.VerifyCode(r.Context(), req.Email, req.Code)
	if errors.Is(err, identity.ErrInvalidCode) {
		writeError(w, http.StatusUnauthorized, ErrCodeAuthFailed, "Invalid code.")
		return
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "error verifying passwordless code", "error", err)
		internalError(w)
		return
	}

	session, err := h.signIn.SignIn(r.Context(), w, user, persistent, identity.MethodPasswordless, h.clientInfo(r))
	if err != nil {
		slog.ErrorContext(r.Context(), "error signing in", "user_id", user.ID, "error", err)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse(user, session))
}
