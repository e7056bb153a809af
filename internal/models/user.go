package models

import "time"

type User struct {
	ID                 string     `json:"id"`
	UserName           string     `json:"userName"`
	NormalizedUserName string     `json:"-"`
	Email              string     `json:"email"`
	NormalizedEmail    string     `json:"-"`
	EmailConfirmed     bool       `json:"emailConfirmed"`
	PasswordHash       string     `json:"-"`
	SecurityStamp      string     `json:"-"`
	IsAdmin            bool       `json:"isAdmin"`
	LockoutEnd         *time.Time `json:"-"`
	AccessFailedCount  int        `json:"-"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          *time.Time `json:"updatedAt,omitempty"`
}

// IsLockedOut reports whether password sign-in is currently blocked.
func (u *User) IsLockedOut(now time.Time) bool {
	return u.LockoutEnd != nil && u.LockoutEnd.After(now)
}

// HasPassword is false for accounts that only sign in with emailed codes.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}
