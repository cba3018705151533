package notify

import (
	"sync"
	"testing"
	"time"

	"github.com/maxpert/slotkeeper/db"
)

func memberEvent(t db.MembershipEventType, member string) Event {
	return Event{Kind: KindMembership, Membership: &db.MembershipEvent{Type: t, Member: member}}
}

func noteEvent(typ, artifact string) Event {
	return Event{Kind: KindNotification, Notification: &db.ClusterNotification{Type: typ, Artifact: artifact}}
}

func TestHub_BasicSubscribePublish(t *testing.T) {
	hub := NewHub(0)

	events, cancel := hub.Subscribe(Filter{})
	defer cancel()

	if n := hub.Publish(memberEvent(db.MemberAdded, "node-2")); n != 1 {
		t.Errorf("expected 1 delivery, got %d", n)
	}

	select {
	case ev := <-events:
		if ev.Kind != KindMembership || ev.Membership.Member != "node-2" {
			t.Errorf("unexpected event: %+v", ev)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

func TestHub_FilterByKind(t *testing.T) {
	hub := NewHub(0)

	events, cancel := hub.Subscribe(Filter{Kinds: []Kind{KindNotification}})
	defer cancel()

	hub.Publish(memberEvent(db.MemberRemoved, "node-3"))
	hub.Publish(noteEvent("queue.purged", "q1"))

	select {
	case ev := <-events:
		if ev.Kind != KindNotification || ev.Notification.Artifact != "q1" {
			t.Errorf("expected notification for q1, got %+v", ev)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}

	select {
	case ev := <-events:
		t.Errorf("should not receive another event, got %+v", ev)
	case <-time.After(50 * time.Millisecond):
		// Expected
	}
}

func TestHub_FilterByType(t *testing.T) {
	hub := NewHub(0)

	events, cancel := hub.Subscribe(Filter{Types: []string{db.CoordinatorChanged.String()}})
	defer cancel()

	hub.Publish(memberEvent(db.MemberAdded, "node-2"))
	hub.Publish(memberEvent(db.CoordinatorChanged, "node-1"))

	select {
	case ev := <-events:
		if ev.Membership.Type != db.CoordinatorChanged {
			t.Errorf("expected coordinator change, got %s", ev.Type())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

func TestHub_CancelUnsubscribes(t *testing.T) {
	hub := NewHub(0)

	events, cancel := hub.Subscribe(Filter{})

	hub.Publish(noteEvent("t", "a"))
	select {
	case <-events:
		// Expected
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}

	cancel()

	select {
	case _, ok := <-events:
		if ok {
			t.Error("channel should be closed after cancel")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for channel close")
	}

	// Subsequent publishes should not panic
	if n := hub.Publish(noteEvent("t", "a")); n != 0 {
		t.Errorf("expected no deliveries after cancel, got %d", n)
	}

	// Second cancel should not panic
	cancel()
}

func TestHub_BufferOverflowNonBlocking(t *testing.T) {
	hub := NewHub(4)

	events, cancel := hub.Subscribe(Filter{})
	defer cancel()

	for i := 0; i < 10; i++ {
		hub.Publish(noteEvent("t", "a"))
	}

	if hub.Dropped() != 6 {
		t.Errorf("expected 6 dropped events, got %d", hub.Dropped())
	}

	received := 0
	timeout := time.After(100 * time.Millisecond)
	for {
		select {
		case <-events:
			received++
		case <-timeout:
			if received != 4 {
				t.Errorf("expected 4 buffered events, got %d", received)
			}
			return
		}
	}
}

func TestHub_ConcurrentPublishSubscribe(t *testing.T) {
	hub := NewHub(0)
	const numGoroutines = 10
	const numEvents = 100

	var wg sync.WaitGroup
	var ready sync.WaitGroup
	ready.Add(numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			events, cancel := hub.Subscribe(Filter{})
			defer cancel()
			ready.Done()

			received := 0
			timeout := time.After(2 * time.Second)
			for received < numEvents {
				select {
				case <-events:
					received++
				case <-timeout:
					t.Errorf("subscriber received %d of %d events", received, numEvents)
					return
				}
			}
		}()
	}

	ready.Wait()
	for i := 0; i < numEvents; i++ {
		hub.Publish(noteEvent("t", "a"))
	}

	wg.Wait()
}

func TestHub_CloseClosesAll(t *testing.T) {
	hub := NewHub(0)

	a, cancelA := hub.Subscribe(Filter{})
	b, _ := hub.Subscribe(Filter{})

	hub.Close()

	for _, ch := range []<-chan Event{a, b} {
		if _, ok := <-ch; ok {
			t.Error("channel should be closed after hub close")
		}
	}

	// Cancel after close should not panic
	cancelA()

	if len(hub.subscriptions) != 0 {
		t.Errorf("expected 0 subscriptions after close, got %d", len(hub.subscriptions))
	}
}
