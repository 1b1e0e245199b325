// Package mark is the idempotency ledger: which calendar event last caused a
// status change for each user. Marking a new event supersedes the previous
// one, so a user carries at most one active mark. State is in-memory only;
// after a restart the first poll re-derives it at the cost of one redundant
// status write per user.
package mark

import "sync"

// Tracker maps calendar identity to the event ID whose status change was
// already applied. Safe for concurrent use by the poll cycle and on-demand
// re-sync.
type Tracker struct {
	mu    sync.Mutex
	marks map[string]string
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{marks: make(map[string]string)}
}

// IsMarked reports whether eventID is the last handled event for the user.
func (t *Tracker) IsMarked(calendarID, eventID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.marks[calendarID] == eventID
}

// Last returns the user's current mark, if any.
func (t *Tracker) Last(calendarID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.marks[calendarID]
	return id, ok
}

// Mark records eventID as the latest handled event for the user, replacing
// any prior mark.
func (t *Tracker) Mark(calendarID, eventID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.marks[calendarID] = eventID
}

// Clear removes the user's mark, used when a status is cleared because the
// triggering event ended.
func (t *Tracker) Clear(calendarID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.marks, calendarID)
}
