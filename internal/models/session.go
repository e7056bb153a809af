package models

import "time"

// Session is the server-side record behind a session cookie. It remembers the
// security stamp the user had when it was issued; once the user's stamp moves
// on, the session is no longer valid.
type Session struct {
	ID            string
	UserID        string
	SecurityStamp string
	AuthMethod    string
	Persistent    bool
	UserAgent     string
	IPAddress     string
	ExpiresAt     time.Time
	CreatedAt     time.Time
	LastSeenAt    time.Time
	RevokedAt     *time.Time
}

func (s *Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}
