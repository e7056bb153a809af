package identity

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"

	"autoblog/internal/constants"
)

var userNamePolicy = bluemonday.StrictPolicy()

// ValidatePassword applies the password rules: a minimum length plus at
// least one uppercase letter, one digit and one non-alphanumeric character.
func ValidatePassword(password string) error {
	var problems []string

	if len(password) < constants.MinPasswordLength {
		problems = append(problems, fmt.Sprintf("Passwords must be at least %d characters.", constants.MinPasswordLength))
	}

	var upper, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case !unicode.IsLetter(r) && !unicode.IsDigit(r):
			special = true
		}
	}
	if !special {
		problems = append(problems, "Passwords must have at least one non alphanumeric character.")
	}
	if !digit {
		problems = append(problems, "Passwords must have at least one digit ('0'-'9').")
	}
	if !upper {
		problems = append(problems, "Passwords must have at least one uppercase ('A'-'Z').")
	}

	if len(problems) > 0 {
		return &PolicyError{Field: "password", Problems: problems}
	}
	return nil
}

// ValidateUserName checks length and rejects anything that is not plain text.
func ValidateUserName(userName string) error {
	var problems []string

	n := len([]rune(userName))
	if n < constants.MinUserNameLength || n > constants.MaxUserNameLength {
		problems = append(problems, fmt.Sprintf("User name must be between %d and %d characters.",
			constants.MinUserNameLength, constants.MaxUserNameLength))
	}
	if strings.TrimSpace(userName) != userName || strings.ContainsFunc(userName, unicode.IsControl) {
		problems = append(problems, "User name must not start or end with spaces or contain control characters.")
	}
	if userNamePolicy.Sanitize(userName) != userName {
		problems = append(problems, "User name must not contain markup or HTML special characters.")
	}

	if len(problems) > 0 {
		return &PolicyError{Field: "userName", Problems: problems}
	}
	return nil
}
