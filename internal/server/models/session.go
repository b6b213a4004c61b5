package models

import "time"

// Session is the server-side record behind a chain of access tokens. A
// refresh replaces it with a new one; logout deletes it.
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Live reports whether the session has not expired as of now.
func (s *Session) Live(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}
