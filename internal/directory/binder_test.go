package directory

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/presencesync/presenced/internal/bus"
	"github.com/presencesync/presenced/internal/chat"
	"github.com/presencesync/presenced/internal/registry"
	"github.com/presencesync/presenced/internal/store"
	"go.uber.org/zap"
)

func testRegistry(t *testing.T, b *bus.Bus) *registry.Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return registry.New(db, b, zap.NewNop())
}

type fakeDirectory struct {
	mu      sync.Mutex
	members []chat.Member
	err     error
	calls   int
	tokens  []string
}

func (f *fakeDirectory) ListDirectory(_ context.Context, adminToken string) ([]chat.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.tokens = append(f.tokens, adminToken)
	if f.err != nil {
		return nil, f.err
	}
	return f.members, nil
}

func TestBindPending(t *testing.T) {
	b := bus.New()
	reg := testRegistry(t, b)
	for _, id := range []string{"alice@x", "ghost@x"} {
		if err := reg.Register(registry.User{CalendarID: id, ChatToken: "T"}); err != nil {
			t.Fatal(err)
		}
	}

	dir := &fakeDirectory{members: []chat.Member{
		{ChatUserID: "U1", Email: "alice@x", DisplayName: "Alice"},
		{ChatUserID: "U2", Email: "bob@x", DisplayName: "Bob"},
	}}
	binder := New(reg, dir, "admin-token", time.Hour, b, zap.NewNop())

	binder.BindPending(context.Background())

	u, err := reg.Lookup("alice@x")
	if err != nil {
		t.Fatal(err)
	}
	if u.ChatUserID != "U1" {
		t.Errorf("alice ChatUserID = %q, want U1", u.ChatUserID)
	}

	// No directory match: binding stays empty, user stays registered.
	ghost, err := reg.Lookup("ghost@x")
	if err != nil {
		t.Fatal(err)
	}
	if ghost.ChatUserID != "" {
		t.Errorf("ghost ChatUserID = %q, want empty", ghost.ChatUserID)
	}

	// The dedicated admin token is used, never a user token.
	dir.mu.Lock()
	defer dir.mu.Unlock()
	for _, tok := range dir.tokens {
		if tok != "admin-token" {
			t.Errorf("directory listed with token %q", tok)
		}
	}
}

func TestBindPendingSkipsBoundUsers(t *testing.T) {
	b := bus.New()
	reg := testRegistry(t, b)
	if err := reg.Register(registry.User{CalendarID: "alice@x", ChatToken: "T"}); err != nil {
		t.Fatal(err)
	}
	if err := reg.Update("alice@x", func(u *registry.User) error {
		u.ChatUserID = "U1"
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	dir := &fakeDirectory{}
	binder := New(reg, dir, "admin-token", time.Hour, b, zap.NewNop())
	binder.BindPending(context.Background())

	dir.mu.Lock()
	defer dir.mu.Unlock()
	if dir.calls != 0 {
		t.Errorf("directory listed %d times with nothing pending, want 0", dir.calls)
	}
}

func TestBindPendingSurvivesListingFailure(t *testing.T) {
	b := bus.New()
	reg := testRegistry(t, b)
	if err := reg.Register(registry.User{CalendarID: "alice@x", ChatToken: "T"}); err != nil {
		t.Fatal(err)
	}

	dir := &fakeDirectory{err: fmt.Errorf("%w: boom", chat.ErrAuth)}
	binder := New(reg, dir, "admin-token", time.Hour, b, zap.NewNop())
	binder.BindPending(context.Background())

	u, _ := reg.Lookup("alice@x")
	if u.ChatUserID != "" {
		t.Errorf("ChatUserID = %q after failed listing", u.ChatUserID)
	}
}

func TestRegistrationEventTriggersBind(t *testing.T) {
	b := bus.New()
	reg := testRegistry(t, b)

	dir := &fakeDirectory{members: []chat.Member{
		{ChatUserID: "U1", Email: "alice@x", DisplayName: "Alice"},
	}}
	binder := New(reg, dir, "admin-token", time.Hour, b, zap.NewNop())
	binder.Start(context.Background())
	defer binder.Stop()

	boundCh, unsub := b.Subscribe("user.bound", 10)
	defer unsub()

	if err := reg.Register(registry.User{CalendarID: "alice@x", ChatToken: "T"}); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-boundCh:
		change, ok := evt.Payload.(bus.BindingChange)
		if !ok || change.ChatUserID != "U1" {
			t.Errorf("payload = %+v", evt.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for user.bound event")
	}

	u, _ := reg.Lookup("alice@x")
	if u.ChatUserID != "U1" {
		t.Errorf("ChatUserID = %q, want U1", u.ChatUserID)
	}
}
