// Package registry owns the table of registered users. All reads hand out
// copies; all mutation goes through per-user critical sections, so the
// periodic poller, the registration endpoint, and the command consumer never
// interleave partial updates to one user's record.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/presencesync/presenced/internal/bus"
	"github.com/presencesync/presenced/internal/store"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when no user matches the calendar identity.
	ErrNotFound = errors.New("user not registered")
	// ErrAlreadyRegistered is returned on duplicate registration.
	ErrAlreadyRegistered = errors.New("user already registered")
)

// User is one registered user's full runtime record. CurrentStatus and
// LastEventID are rebuilt after a restart; the rest is persisted.
type User struct {
	CalendarID string
	ChatToken  string
	ChatUserID string

	CurrentStatus string
	LastEventID   string

	Paused    bool
	Suspended bool
}

type entry struct {
	mu   sync.Mutex
	user User
}

// Registry is the guarded in-memory user table, write-through to the store.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry

	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
}

// New creates an empty registry.
func New(db *store.DB, b *bus.Bus, logger *zap.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		db:      db,
		bus:     b,
		logger:  logger,
	}
}

// Load reconstructs the registry from the store. Runtime fields start empty,
// which costs at most one redundant status re-set per user on the first poll.
func (r *Registry) Load() error {
	rows, err := r.db.ListUsers()
	if err != nil {
		return fmt.Errorf("load users: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range rows {
		r.entries[row.CalendarID] = &entry{user: User{
			CalendarID: row.CalendarID,
			ChatToken:  row.ChatToken,
			ChatUserID: row.ChatUserID,
			Paused:     row.Paused,
		}}
	}
	r.logger.Info("registry loaded", zap.Int("users", len(rows)))
	return nil
}

// Register adds a new user and persists it. Publishes user.registered so the
// directory binder can attach the chat user ID asynchronously; a binding
// failure never fails registration.
func (r *Registry) Register(u User) error {
	r.mu.Lock()
	if _, exists := r.entries[u.CalendarID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, u.CalendarID)
	}
	r.entries[u.CalendarID] = &entry{user: u}
	r.mu.Unlock()

	if err := r.db.InsertUser(&store.UserRow{
		CalendarID: u.CalendarID,
		ChatToken:  u.ChatToken,
		ChatUserID: u.ChatUserID,
		Paused:     u.Paused,
	}); err != nil {
		r.mu.Lock()
		delete(r.entries, u.CalendarID)
		r.mu.Unlock()
		return fmt.Errorf("persist user %s: %w", u.CalendarID, err)
	}

	r.logger.Info("user registered", zap.String("calendar_id", u.CalendarID))
	r.bus.Publish(bus.Event{
		Kind:      "user.registered",
		Timestamp: time.Now(),
		Payload:   u.CalendarID,
	})
	return nil
}

// Deregister removes a user from the table and the store.
func (r *Registry) Deregister(calendarID string) error {
	r.mu.Lock()
	_, exists := r.entries[calendarID]
	if exists {
		delete(r.entries, calendarID)
	}
	r.mu.Unlock()
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, calendarID)
	}
	if _, err := r.db.DeleteUser(calendarID); err != nil {
		return fmt.Errorf("delete user %s: %w", calendarID, err)
	}
	r.logger.Info("user deregistered", zap.String("calendar_id", calendarID))
	r.bus.Publish(bus.Event{
		Kind:      "user.deregistered",
		Timestamp: time.Now(),
		Payload:   calendarID,
	})
	return nil
}

// Lookup returns a copy of the user's record.
func (r *Registry) Lookup(calendarID string) (User, error) {
	r.mu.RLock()
	e, ok := r.entries[calendarID]
	r.mu.RUnlock()
	if !ok {
		return User{}, fmt.Errorf("%w: %s", ErrNotFound, calendarID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.user, nil
}

// ListAll returns a snapshot copy of every registered user, not a live view.
func (r *Registry) ListAll() []User {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	users := make([]User, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		users = append(users, e.user)
		e.mu.Unlock()
	}
	return users
}

// Update applies fn to the user's record under its per-user mutex and
// persists the durable fields on success. fn may perform blocking work (the
// sync engine runs a full poll step inside it); updates for different users
// proceed in parallel, while a periodic sync and an on-demand sync for the
// same user serialize here.
func (r *Registry) Update(calendarID string, fn func(*User) error) error {
	r.mu.RLock()
	e, ok := r.entries[calendarID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, calendarID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	before := e.user
	if err := fn(&e.user); err != nil {
		e.user = before
		return err
	}
	if persistedChanged(before, e.user) {
		if err := r.db.UpdateUser(&store.UserRow{
			CalendarID: e.user.CalendarID,
			ChatToken:  e.user.ChatToken,
			ChatUserID: e.user.ChatUserID,
			Paused:     e.user.Paused,
		}); err != nil {
			return fmt.Errorf("persist user %s: %w", calendarID, err)
		}
	}
	return nil
}

func persistedChanged(a, b User) bool {
	return a.ChatToken != b.ChatToken || a.ChatUserID != b.ChatUserID || a.Paused != b.Paused
}
