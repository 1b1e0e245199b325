package calendar

import "time"

// ShowAs is the busy/free classification a calendar event carries.
type ShowAs string

const (
	ShowAsFree        ShowAs = "free"
	ShowAsTentative   ShowAs = "tentative"
	ShowAsBusy        ShowAs = "busy"
	ShowAsOutOfOffice ShowAs = "oof"
)

// Snapshot is a point-in-time read of one user's currently active calendar
// event. It is fetched fresh every poll tick and never persisted.
type Snapshot struct {
	EventID  string
	Subject  string
	StartsAt time.Time
	EndsAt   time.Time
	ShowAs   ShowAs
}

// Event is a raw calendar event as returned by the source, before the
// active-event selection reduces the list to a single Snapshot.
type Event struct {
	ID       string    `json:"id"`
	Subject  string    `json:"subject"`
	ShowAs   ShowAs    `json:"show_as"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

// Authoritative picks the single event that governs the user's status out of
// a set of overlapping active events: earliest start time wins, and on an
// exact tie the lexicographically smallest event ID. Returns nil for an
// empty slice.
func Authoritative(events []Event) *Event {
	var best *Event
	for i := range events {
		e := &events[i]
		if best == nil {
			best = e
			continue
		}
		if e.StartsAt.Before(best.StartsAt) ||
			(e.StartsAt.Equal(best.StartsAt) && e.ID < best.ID) {
			best = e
		}
	}
	return best
}
