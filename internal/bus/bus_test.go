package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("sync.", 10)
	defer unsub()

	b.Publish(Event{Kind: "sync.status_set", Timestamp: time.Now(), Payload: StatusChange{CalendarID: "alice@x"}})

	select {
	case evt := <-ch:
		if evt.Kind != "sync.status_set" {
			t.Errorf("kind = %q", evt.Kind)
		}
		change, ok := evt.Payload.(StatusChange)
		if !ok || change.CalendarID != "alice@x" {
			t.Errorf("payload = %+v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	userCh, unsubUser := b.Subscribe("user.", 10)
	defer unsubUser()
	syncCh, unsubSync := b.Subscribe("sync.", 10)
	defer unsubSync()

	b.Publish(Event{Kind: "user.registered", Payload: "alice@x"})

	select {
	case <-userCh:
	case <-time.After(time.Second):
		t.Fatal("user subscriber missed user.registered")
	}
	select {
	case evt := <-syncCh:
		t.Errorf("sync subscriber received %q", evt.Kind)
	default:
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("user.", 10)
	unsub()

	b.Publish(Event{Kind: "user.registered", Payload: "alice@x"})

	select {
	case evt := <-ch:
		t.Errorf("received %q after unsubscribe", evt.Kind)
	default:
	}
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe("user.", 1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		// Second publish overflows the buffer; it must drop, not block.
		b.Publish(Event{Kind: "user.registered"})
		b.Publish(Event{Kind: "user.registered"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on full subscriber")
	}
}
