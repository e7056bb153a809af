package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"autoblog/internal/constants"
)

const (
	ErrCodeInvalidRequest     = constants.ErrCodeInvalidRequest
	ErrCodeValidationFailed   = constants.ErrCodeValidationFailed
	ErrCodePayloadTooLarge    = constants.ErrCodePayloadTooLarge
	ErrCodeRateLimited        = constants.ErrCodeRateLimited
	ErrCodeNotFound           = constants.ErrCodeNotFound
	ErrCodeConflict           = constants.ErrCodeConflict
	ErrCodeInternal           = constants.ErrCodeInternal
	ErrCodeUnauthorized       = constants.ErrCodeUnauthorized
	ErrCodeAuthFailed         = constants.ErrCodeAuthFailed
	ErrCodeInvalidCredentials = constants.ErrCodeInvalidCredentials
	ErrCodeLockedOut          = constants.ErrCodeLockedOut
	ErrCodeInvalidToken       = constants.ErrCodeInvalidToken
	ErrCodeRegistrationFailed = constants.ErrCodeRegistrationFailed
	ErrCodePasswordRejected   = constants.ErrCodePasswordRejected
)

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Errors  []FieldError `json:"errors,omitempty"`
}

// FieldError names one rejected request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

func writeValidationError(w http.ResponseWriter, message string, fields []FieldError) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Error: ErrorDetail{
			Code:    ErrCodeValidationFailed,
			Message: message,
			Errors:  fields,
		},
	})
}

func badRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, message)
}

func unauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func notFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func conflict(w http.ResponseWriter, message string) {
	writeError(w, http.StatusConflict, ErrCodeConflict, message)
}

func internalError(w http.ResponseWriter) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, "An internal error occurred")
}
