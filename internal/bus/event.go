package bus

import "time"

// Event is a typed notification published on the bus.
//
// Kinds used across the daemon:
//
//	user.registered     payload: registered calendar identity (string)
//	user.deregistered   payload: calendar identity (string)
//	user.bound          payload: BindingChange
//	sync.status_set     payload: StatusChange
//	sync.status_cleared payload: StatusChange
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// StatusChange is the payload for sync.status_* events.
type StatusChange struct {
	CalendarID string
	EventID    string
	Text       string
}

// BindingChange is the payload for user.bound events.
type BindingChange struct {
	CalendarID string
	ChatUserID string
}
