package models

import "time"

// EventKind tags a locally recorded session lifecycle event.
type EventKind string

const (
	EventLogin      EventKind = "login"
	EventRefresh    EventKind = "refresh"
	EventLogout     EventKind = "logout"
	EventTimeout    EventKind = "timeout"
	EventEscalation EventKind = "escalation"
)

// SessionEvent is one row of the local session journal.
type SessionEvent struct {
	ID       int64
	Kind     EventKind
	Reason   string
	Username string
	At       time.Time
}
