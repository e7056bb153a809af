package identity

import (
	"errors"
	"strings"
)

var (
	// ErrInvalidCode covers unknown users, wrong or expired codes and codes
	// already consumed, without saying which.
	ErrInvalidCode        = errors.New("invalid code")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrLockedOut          = errors.New("account locked out")
	ErrInvalidToken       = errors.New("invalid token")
	ErrUserNotFound       = errors.New("user not found")
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrDuplicateUserName  = errors.New("user name already taken")
	ErrUnauthenticated    = errors.New("not authenticated")
)

// PolicyError lists every rule a submitted user name or password broke.
type PolicyError struct {
	// Field is "userName" or "password".
	Field    string
	Problems []string
}

func (e *PolicyError) Error() string {
	return strings.Join(e.Problems, "; ")
}
