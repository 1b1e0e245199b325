package engine

import "github.com/presencesync/presenced/internal/calendar"

// Op is the kind of status mutation a resolution calls for.
type Op int

const (
	// NoChange means the chat status already reflects the calendar.
	NoChange Op = iota
	// SetStatus means the chat status must be overwritten with Text/Emoji.
	SetStatus
	// ClearStatus means the chat status must be removed.
	ClearStatus
)

func (op Op) String() string {
	switch op {
	case SetStatus:
		return "set"
	case ClearStatus:
		return "clear"
	default:
		return "nochange"
	}
}

// Decision is the outcome of resolving one user's calendar snapshot. It is
// consumed immediately by the engine and never persisted.
type Decision struct {
	Op    Op
	Text  string
	Emoji string
}

// Mapping is the fixed classification → display mapping used to derive a
// status from an event. Busy and out-of-office events trigger; free events
// never trigger; tentative events trigger only when TentativeBusy is set.
type Mapping struct {
	BusyText  string
	BusyEmoji string
	AwayText  string
	AwayEmoji string

	TentativeBusy bool
}

// Resolve computes the required status transition for one user. It is a pure
// function of the snapshot, the last marked event ID, and the current
// resolved status: no I/O, no clock reads, fully deterministic.
//
// An active event with a non-triggering classification is treated the same
// as a clear calendar, so a lingering status from an ended event is still
// cleared while a "free" placeholder event is active.
func (m Mapping) Resolve(snap *calendar.Snapshot, lastMarkedEventID, currentStatus string) Decision {
	if snap != nil {
		if text, emoji, triggers := m.display(snap.ShowAs); triggers {
			if snap.EventID == lastMarkedEventID {
				return Decision{Op: NoChange}
			}
			return Decision{Op: SetStatus, Text: text, Emoji: emoji}
		}
	}
	if currentStatus != "" {
		return Decision{Op: ClearStatus}
	}
	return Decision{Op: NoChange}
}

func (m Mapping) display(showAs calendar.ShowAs) (text, emoji string, triggers bool) {
	switch showAs {
	case calendar.ShowAsBusy:
		return m.BusyText, m.BusyEmoji, true
	case calendar.ShowAsOutOfOffice:
		return m.AwayText, m.AwayEmoji, true
	case calendar.ShowAsTentative:
		if m.TentativeBusy {
			return m.BusyText, m.BusyEmoji, true
		}
	}
	return "", "", false
}
