// Package directory binds calendar identities to chat user IDs by matching
// the calendar account email against the workspace directory. Binding is
// best-effort: a user with no match keeps syncing disabled and is retried on
// the next refresh.
package directory

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/presencesync/presenced/internal/bus"
	"github.com/presencesync/presenced/internal/chat"
	"github.com/presencesync/presenced/internal/registry"
	"go.uber.org/zap"
)

// Binder resolves chat user IDs for registered users. It reacts to
// user.registered events for an immediate attempt and re-scans all unbound
// users on a fixed interval.
type Binder struct {
	registry   *registry.Registry
	directory  chat.Directory
	adminToken string
	interval   time.Duration
	bus        *bus.Bus
	logger     *zap.Logger
	cancel     context.CancelFunc
}

// New creates a binder. adminToken is the service-level credential scoped
// for directory listing; individual user tokens are never used here.
func New(reg *registry.Registry, dir chat.Directory, adminToken string, interval time.Duration, b *bus.Bus, logger *zap.Logger) *Binder {
	return &Binder{
		registry:   reg,
		directory:  dir,
		adminToken: adminToken,
		interval:   interval,
		bus:        b,
		logger:     logger,
	}
}

// Start launches the event listener and the periodic refresh.
func (b *Binder) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)
	ch, unsub := b.bus.Subscribe("user.registered", 64)

	go func() {
		defer unsub()
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()
		for {
			select {
			case evt := <-ch:
				calendarID, ok := evt.Payload.(string)
				if !ok {
					continue
				}
				b.bindOne(ctx, calendarID)
			case <-ticker.C:
				b.BindPending(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the binder.
func (b *Binder) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
}

// BindPending attempts to bind every user that still has no chat user ID.
func (b *Binder) BindPending(ctx context.Context) {
	var pending []string
	for _, u := range b.registry.ListAll() {
		if u.ChatUserID == "" {
			pending = append(pending, u.CalendarID)
		}
	}
	if len(pending) == 0 {
		return
	}

	members, err := b.list(ctx)
	if err != nil {
		b.logger.Warn("directory listing failed", zap.Error(err))
		return
	}
	byEmail := indexByEmail(members)

	for _, calendarID := range pending {
		b.apply(calendarID, byEmail)
	}
}

func (b *Binder) bindOne(ctx context.Context, calendarID string) {
	members, err := b.list(ctx)
	if err != nil {
		b.logger.Warn("directory listing failed",
			zap.String("calendar_id", calendarID),
			zap.Error(err))
		return
	}
	b.apply(calendarID, indexByEmail(members))
}

// list fetches the directory with a short retry to smooth over transient
// faults; persistent failure is left to the periodic refresh.
func (b *Binder) list(ctx context.Context) ([]chat.Member, error) {
	return backoff.Retry(ctx, func() ([]chat.Member, error) {
		members, err := b.directory.ListDirectory(ctx, b.adminToken)
		if err != nil && !chat.IsTransient(err) {
			return nil, backoff.Permanent(err)
		}
		return members, err
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(3))
}

func (b *Binder) apply(calendarID string, byEmail map[string]chat.Member) {
	member, found := byEmail[calendarID]
	if !found {
		b.logger.Info("no directory match yet",
			zap.String("calendar_id", calendarID))
		return
	}
	err := b.registry.Update(calendarID, func(u *registry.User) error {
		u.ChatUserID = member.ChatUserID
		return nil
	})
	if err != nil {
		b.logger.Warn("binding update failed",
			zap.String("calendar_id", calendarID),
			zap.Error(err))
		return
	}
	b.logger.Info("chat user bound",
		zap.String("calendar_id", calendarID),
		zap.String("chat_user_id", member.ChatUserID),
		zap.String("display_name", member.DisplayName))
	b.bus.Publish(bus.Event{
		Kind:      "user.bound",
		Timestamp: time.Now(),
		Payload: bus.BindingChange{
			CalendarID: calendarID,
			ChatUserID: member.ChatUserID,
		},
	})
}

func indexByEmail(members []chat.Member) map[string]chat.Member {
	byEmail := make(map[string]chat.Member, len(members))
	for _, m := range members {
		if m.Email != "" {
			byEmail[m.Email] = m
		}
	}
	return byEmail
}
