package activity

import "time"

// State is the monitor's position in the idle state machine.
type State int

const (
	StateActive State = iota
	StateIdle
	StatePrompted
	StateLoggedOut
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateIdle:
		return "idle"
	case StatePrompted:
		return "prompted"
	case StateLoggedOut:
		return "logged_out"
	}
	return "unknown"
}

// Logout reasons.
const (
	ReasonTimeout = "timeout"
	ReasonManual  = "manual"
	ReasonForce   = "force"
)

// ActivityState is a snapshot of the monitor.
type ActivityState struct {
	State      State
	IsIdle     bool
	IsPrompted bool
	IsPaused   bool
	// RemainingTime until logout.
	RemainingTime time.Duration
	LastActiveAt  time.Time
	TotalActive   time.Duration
	TotalIdle     time.Duration
	TabID         string
}

type ActivityEvent struct {
	At   time.Time
	Kind string
}

type IdleEvent struct {
	At           time.Time
	LastActiveAt time.Time
	IdleDuration time.Duration
}

type PromptEvent struct {
	At            time.Time
	Remaining     time.Duration
	PromptTimeout time.Duration
}

type ActiveEvent struct {
	At           time.Time
	IdleDuration time.Duration
}

type TimeoutEvent struct {
	At        time.Time
	TotalIdle time.Duration
	Reason    string
}

type LogoutEvent struct {
	At     time.Time
	Reason string
}

// Callbacks are invoked outside the monitor's lock and may call back into
// it. Any of them may be nil.
type Callbacks struct {
	OnActivity func(ActivityEvent)
	OnIdle     func(IdleEvent)
	// OnPrompt fires when the prompt opens and on every tick while it is
	// open.
	OnPrompt  func(PromptEvent)
	OnActive  func(ActiveEvent)
	OnTimeout func(TimeoutEvent)
	OnLogout  func(LogoutEvent)
}
