package notify

import (
	"sync"
	"sync/atomic"

	"github.com/maxpert/slotkeeper/db"
	"github.com/rs/zerolog/log"
)

// defaultEventBufferSize is the buffer size for subscriber channels.
// Subscribers that can't keep up will have events dropped (non-blocking send)
// and are expected to recover through a full-state resync.
const defaultEventBufferSize = 256

// Kind separates the two mailboxes.
type Kind int

const (
	KindMembership Kind = iota + 1
	KindNotification
)

func (k Kind) String() string {
	switch k {
	case KindMembership:
		return "membership"
	case KindNotification:
		return "notification"
	default:
		return "unknown"
	}
}

// Event is one mailbox row handed to local subscribers. Exactly one of
// Membership or Notification is set, matching Kind.
type Event struct {
	Kind         Kind
	Membership   *db.MembershipEvent
	Notification *db.ClusterNotification
}

// Type returns the membership type name or the notification type.
func (e Event) Type() string {
	switch e.Kind {
	case KindMembership:
		if e.Membership != nil {
			return e.Membership.Type.String()
		}
	case KindNotification:
		if e.Notification != nil {
			return e.Notification.Type
		}
	}
	return ""
}

// Filter selects events for a subscription. Empty fields match everything.
type Filter struct {
	Kinds []Kind
	Types []string
}

// subscription represents a single subscriber.
type subscription struct {
	id     uint64
	filter Filter
	ch     chan Event
	closed atomic.Bool
}

func (s *subscription) matches(ev Event) bool {
	if len(s.filter.Kinds) > 0 {
		found := false
		for _, k := range s.filter.Kinds {
			if k == ev.Kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(s.filter.Types) == 0 {
		return true
	}
	t := ev.Type()
	for _, want := range s.filter.Types {
		if want == t {
			return true
		}
	}
	return false
}

// close closes the subscription channel if not already closed.
func (s *subscription) close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}

// Hub fans relayed mailbox events out to in-process subscribers.
type Hub struct {
	mu            sync.RWMutex
	subscriptions map[uint64]*subscription
	nextID        atomic.Uint64
	bufferSize    int
	dropped       atomic.Uint64
}

// NewHub creates a hub. A bufferSize <= 0 uses the default.
func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = defaultEventBufferSize
	}
	return &Hub{
		subscriptions: make(map[uint64]*subscription),
		bufferSize:    bufferSize,
	}
}

// Publish sends ev to all matching subscribers (non-blocking) and returns how
// many received it.
func (h *Hub) Publish(ev Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, sub := range h.subscriptions {
		if !sub.matches(ev) {
			continue
		}

		select {
		case sub.ch <- ev:
			delivered++
		default:
			h.dropped.Add(1)
			log.Debug().
				Uint64("subscription", sub.id).
				Str("kind", ev.Kind.String()).
				Str("type", ev.Type()).
				Msg("Subscriber buffer full, dropping event")
		}
	}
	return delivered
}

// Dropped returns the number of events dropped on full subscriber buffers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Subscribe creates a new subscription and returns the event channel and an
// idempotent cancel function.
func (h *Hub) Subscribe(filter Filter) (<-chan Event, func()) {
	sub := &subscription{
		id:     h.nextID.Add(1),
		filter: filter,
		ch:     make(chan Event, h.bufferSize),
	}

	h.mu.Lock()
	h.subscriptions[sub.id] = sub
	h.mu.Unlock()

	cancel := func() {
		h.unsubscribe(sub.id)
	}

	return sub.ch, cancel
}

// Close cancels every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subscriptions
	h.subscriptions = make(map[uint64]*subscription)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

// unsubscribe removes a subscription and closes its channel.
func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	sub, ok := h.subscriptions[id]
	if ok {
		delete(h.subscriptions, id)
	}
	h.mu.Unlock()

	if ok {
		sub.close()
	}
}
