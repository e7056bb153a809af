package constants

const (
	// Transport-level errors
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeValidationFailed = "VALIDATION_FAILED"
	ErrCodePayloadTooLarge  = "PAYLOAD_TOO_LARGE"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeConflict         = "CONFLICT"
	ErrCodeInternal         = "INTERNAL_ERROR"

	// Identity errors
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeAuthFailed         = "AUTH_FAILED"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeLockedOut          = "LOCKED_OUT"
	ErrCodeInvalidToken       = "INVALID_TOKEN"
	ErrCodeRegistrationFailed = "REGISTRATION_FAILED"
	ErrCodePasswordRejected   = "PASSWORD_REJECTED"
)
