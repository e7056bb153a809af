package constants

import "time"

const (
	IDRandomBytes = 12

	MinUserNameLength = 5
	MaxUserNameLength = 20
	MinPasswordLength = 6

	// Failed password sign-ins before the account is locked.
	MaxAccessFailedCount = 5
	LockoutDuration      = 5 * time.Minute

	// Wrong codes accepted per issued passwordless code.
	MaxCodeAttempts = 5
)
