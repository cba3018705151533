package pipeline

//go:generate mockgen -source=handler.go -destination=mocks/handler_mock.go -package=mocks

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

// SlotExtender grows and seals open slots as messages arrive.
type SlotExtender interface {
	ExtendSlot(ctx context.Context, queue string, ids []int64) error
}

// CounterStore records per-queue counts and the local publish watermark.
type CounterStore interface {
	IncrementMessageCounts(ctx context.Context, counts map[string]int64) error
	SetNodeToLastPublishedID(ctx context.Context, nodeID string, messageID int64) error
}

// LifecycleHandler applies the non-message events.
type LifecycleHandler interface {
	ChannelOpened(ctx context.Context, ev ChannelOpened) error
	ChannelClosed(ctx context.Context, ev ChannelClosed) error
	DeliveryStarted(ctx context.Context, ev DeliveryStarted) error
	DeliveryStopped(ctx context.Context, ev DeliveryStopped) error
	ExpirationWorkerStarted(ctx context.Context) error
	ExpirationWorkerStopped(ctx context.Context) error
	SubscriptionOpened(ctx context.Context, ev SubscriptionOpened) error
	SubscriptionClosed(ctx context.Context, ev SubscriptionClosed) error
}

// ExpirationWorker is the collaborator that expires stored messages.
type ExpirationWorker interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// SlotReturner hands the slots this node holds for a queue back to the pool.
type SlotReturner interface {
	ReturnQueueSlots(ctx context.Context, queue string) error
}

var (
	ErrUnknownChannel      = errors.New("unknown channel")
	ErrUnknownSubscription = errors.New("unknown subscription")
	ErrDuplicateChannel    = errors.New("channel already open")
)

// ChannelInfo is the tracked state of one channel.
type ChannelInfo struct {
	ID         string `json:"id"`
	Client     string `json:"client,omitempty"`
	Delivering bool   `json:"delivering"`
}

// SubscriptionInfo is the tracked state of one subscription.
type SubscriptionInfo struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	Queue     string `json:"queue"`
}

// Tracker is the in-process LifecycleHandler. It only ever runs on the
// pipeline consumer; the concurrent maps let readers inspect it safely.
type Tracker struct {
	channels      *xsync.MapOf[string, ChannelInfo]
	subscriptions *xsync.MapOf[string, SubscriptionInfo]
	expiring      atomic.Bool
	expiration    ExpirationWorker
	slots         SlotReturner
}

// NewTracker creates a tracker. expiration and slots may be nil.
func NewTracker(expiration ExpirationWorker, slots SlotReturner) *Tracker {
	return &Tracker{
		channels:      xsync.NewMapOf[string, ChannelInfo](),
		subscriptions: xsync.NewMapOf[string, SubscriptionInfo](),
		expiration:    expiration,
		slots:         slots,
	}
}

func (t *Tracker) ChannelOpened(_ context.Context, ev ChannelOpened) error {
	_, loaded := t.channels.LoadOrStore(ev.ChannelID, ChannelInfo{ID: ev.ChannelID, Client: ev.Client, Delivering: true})
	if loaded {
		return ErrDuplicateChannel
	}
	log.Debug().Str("channel", ev.ChannelID).Str("client", ev.Client).Msg("Channel opened")
	return nil
}

func (t *Tracker) ChannelClosed(ctx context.Context, ev ChannelClosed) error {
	if _, ok := t.channels.LoadAndDelete(ev.ChannelID); !ok {
		return ErrUnknownChannel
	}

	var queues []string
	t.subscriptions.Range(func(id string, sub SubscriptionInfo) bool {
		if sub.ChannelID == ev.ChannelID {
			t.subscriptions.Delete(id)
			queues = append(queues, sub.Queue)
		}
		return true
	})
	log.Debug().Str("channel", ev.ChannelID).Int("subscriptions_closed", len(queues)).Msg("Channel closed")

	sort.Strings(queues)
	var errs []error
	for i, q := range queues {
		if i > 0 && queues[i-1] == q {
			continue
		}
		errs = append(errs, t.returnIfUnsubscribed(ctx, q))
	}
	return errors.Join(errs...)
}

func (t *Tracker) setDelivering(channelID string, on bool) error {
	found := false
	t.channels.Compute(channelID, func(old ChannelInfo, loaded bool) (ChannelInfo, bool) {
		if !loaded {
			return old, true
		}
		found = true
		old.Delivering = on
		return old, false
	})
	if !found {
		return ErrUnknownChannel
	}
	return nil
}

func (t *Tracker) DeliveryStarted(_ context.Context, ev DeliveryStarted) error {
	return t.setDelivering(ev.ChannelID, true)
}

func (t *Tracker) DeliveryStopped(_ context.Context, ev DeliveryStopped) error {
	return t.setDelivering(ev.ChannelID, false)
}

func (t *Tracker) ExpirationWorkerStarted(ctx context.Context) error {
	if t.expiring.Load() {
		return nil
	}
	if t.expiration != nil {
		if err := t.expiration.Start(ctx); err != nil {
			return err
		}
	}
	t.expiring.Store(true)
	return nil
}

func (t *Tracker) ExpirationWorkerStopped(ctx context.Context) error {
	if !t.expiring.Load() {
		return nil
	}
	if t.expiration != nil {
		if err := t.expiration.Stop(ctx); err != nil {
			return err
		}
	}
	t.expiring.Store(false)
	return nil
}

func (t *Tracker) SubscriptionOpened(_ context.Context, ev SubscriptionOpened) error {
	if _, ok := t.channels.Load(ev.ChannelID); !ok {
		return ErrUnknownChannel
	}
	t.subscriptions.Store(ev.SubscriptionID, SubscriptionInfo{
		ID:        ev.SubscriptionID,
		ChannelID: ev.ChannelID,
		Queue:     ev.Queue,
	})
	return nil
}

func (t *Tracker) SubscriptionClosed(ctx context.Context, ev SubscriptionClosed) error {
	sub, ok := t.subscriptions.LoadAndDelete(ev.SubscriptionID)
	if !ok {
		return ErrUnknownSubscription
	}
	return t.returnIfUnsubscribed(ctx, sub.Queue)
}

// returnIfUnsubscribed returns the queue's slots once no local subscription
// is left to deliver them.
func (t *Tracker) returnIfUnsubscribed(ctx context.Context, queue string) error {
	if t.slots == nil || queue == "" {
		return nil
	}
	subscribed := false
	t.subscriptions.Range(func(_ string, sub SubscriptionInfo) bool {
		subscribed = sub.Queue == queue
		return !subscribed
	})
	if subscribed {
		return nil
	}
	return t.slots.ReturnQueueSlots(ctx, queue)
}

// Expiring reports whether the expiration worker is running.
func (t *Tracker) Expiring() bool {
	return t.expiring.Load()
}

// Channel returns a channel snapshot.
func (t *Tracker) Channel(id string) (ChannelInfo, bool) {
	return t.channels.Load(id)
}

// Channels returns every open channel sorted by id.
func (t *Tracker) Channels() []ChannelInfo {
	out := make([]ChannelInfo, 0, t.channels.Size())
	t.channels.Range(func(_ string, c ChannelInfo) bool {
		out = append(out, c)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Subscriptions returns every subscription sorted by id.
func (t *Tracker) Subscriptions() []SubscriptionInfo {
	out := make([]SubscriptionInfo, 0, t.subscriptions.Size())
	t.subscriptions.Range(func(_ string, s SubscriptionInfo) bool {
		out = append(out, s)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
