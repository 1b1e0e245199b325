// Package engine drives the poll cycle that keeps chat statuses aligned with
// calendars. Each tick it resolves every registered user independently and
// applies the resulting mutation through the chat sink, the mark tracker,
// and the registry, in that order.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/presencesync/presenced/internal/bus"
	"github.com/presencesync/presenced/internal/calendar"
	"github.com/presencesync/presenced/internal/chat"
	"github.com/presencesync/presenced/internal/mark"
	"github.com/presencesync/presenced/internal/registry"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Options bound the engine's scheduling behavior.
type Options struct {
	// PollInterval is the period between SyncAll ticks.
	PollInterval time.Duration
	// CallTimeout caps each user's combined calendar fetch and chat write.
	CallTimeout time.Duration
	// MaxConcurrent caps in-flight per-user syncs within one tick.
	MaxConcurrent int64
}

// Engine is the status-sync state machine.
type Engine struct {
	registry *registry.Registry
	marks    *mark.Tracker
	source   calendar.Source
	sink     chat.Sink
	mapping  Mapping
	opts     Options
	bus      *bus.Bus
	logger   *zap.Logger

	sem    *semaphore.Weighted
	now    func() time.Time
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an engine. It does not start polling until Start is called.
func New(reg *registry.Registry, marks *mark.Tracker, source calendar.Source, sink chat.Sink, mapping Mapping, opts Options, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{
		registry: reg,
		marks:    marks,
		source:   source,
		sink:     sink,
		mapping:  mapping,
		opts:     opts,
		bus:      b,
		logger:   logger,
		sem:      semaphore.NewWeighted(opts.MaxConcurrent),
		now:      time.Now,
	}
}

// Start begins the periodic poll loop.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	go e.loop(ctx)
}

// Stop cancels the poll loop and waits for the in-flight tick to drain.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

func (e *Engine) loop(ctx context.Context) {
	defer close(e.done)
	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.SyncAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// SyncAll runs one poll cycle over a snapshot of the registry. Users are
// processed concurrently up to MaxConcurrent; one user's failure never
// aborts the others.
func (e *Engine) SyncAll(ctx context.Context) {
	users := e.registry.ListAll()
	var wg sync.WaitGroup
	for _, u := range users {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(calendarID string) {
			defer wg.Done()
			defer e.sem.Release(1)
			if err := e.SyncOne(ctx, calendarID); err != nil {
				e.logger.Warn("sync failed",
					zap.String("calendar_id", calendarID),
					zap.Error(err))
			}
		}(u.CalendarID)
	}
	wg.Wait()
}

// SyncOne synchronizes a single user immediately, out of cycle. It shares
// the registry's per-user critical section with the periodic poll, so the
// two never race on one user's mark or status.
func (e *Engine) SyncOne(ctx context.Context, calendarID string) error {
	return e.registry.Update(calendarID, func(u *registry.User) error {
		return e.syncLocked(ctx, u)
	})
}

func (e *Engine) syncLocked(ctx context.Context, u *registry.User) error {
	if u.Paused || u.Suspended {
		return nil
	}
	if u.ChatUserID == "" {
		// Directory binding pending; skip until the binder resolves it.
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()

	snap, err := e.source.FetchActiveEvent(ctx, u.CalendarID, e.now())
	if err != nil {
		if calendar.IsTransient(err) {
			return fmt.Errorf("calendar fetch (will retry next tick): %w", err)
		}
		return fmt.Errorf("calendar fetch: %w", err)
	}

	lastMarked, _ := e.marks.Last(u.CalendarID)
	decision := e.mapping.Resolve(snap, lastMarked, u.CurrentStatus)

	switch decision.Op {
	case SetStatus:
		// The chat write happens before the mark so a crash in between
		// leaves the mark unset and the next poll retries the write.
		// The overwrite is idempotent, so at-least-once is safe.
		if err := e.sink.SetStatus(ctx, u.ChatToken, decision.Text, decision.Emoji); err != nil {
			return e.sinkError(u, err)
		}
		e.marks.Mark(u.CalendarID, snap.EventID)
		u.CurrentStatus = decision.Text
		u.LastEventID = snap.EventID
		e.logger.Info("status set",
			zap.String("calendar_id", u.CalendarID),
			zap.String("event_id", snap.EventID),
			zap.String("status", decision.Text))
		e.bus.Publish(bus.Event{
			Kind:      "sync.status_set",
			Timestamp: e.now(),
			Payload: bus.StatusChange{
				CalendarID: u.CalendarID,
				EventID:    snap.EventID,
				Text:       decision.Text,
			},
		})

	case ClearStatus:
		if err := e.sink.ClearStatus(ctx, u.ChatToken); err != nil {
			return e.sinkError(u, err)
		}
		e.marks.Clear(u.CalendarID)
		u.CurrentStatus = ""
		u.LastEventID = ""
		e.logger.Info("status cleared", zap.String("calendar_id", u.CalendarID))
		e.bus.Publish(bus.Event{
			Kind:      "sync.status_cleared",
			Timestamp: e.now(),
			Payload:   bus.StatusChange{CalendarID: u.CalendarID},
		})
	}
	return nil
}

// sinkError classifies a chat write failure. An auth failure suspends the
// user's sync until re-registration; the registry entry is kept.
func (e *Engine) sinkError(u *registry.User, err error) error {
	if chat.IsAuthError(err) {
		u.Suspended = true
		e.logger.Error("chat token rejected, suspending sync until re-registration",
			zap.String("calendar_id", u.CalendarID),
			zap.Error(err))
		return nil
	}
	return fmt.Errorf("chat write: %w", err)
}
