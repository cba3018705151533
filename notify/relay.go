package notify

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/maxpert/slotkeeper/db"
	"github.com/maxpert/slotkeeper/telemetry"
	"github.com/rs/zerolog/log"
)

const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultPeekLimit    = 256
	DefaultDedupeSize   = 4096

	mailboxMembership   = "membership"
	mailboxNotification = "notification"
)

// Exporter receives every committed broadcast once, on the originating node.
type Exporter interface {
	Export(ctx context.Context, ev Event) error
}

// Options configures a Relay.
type Options struct {
	NodeID       string
	PollInterval time.Duration
	// AckMode peeks rows, dispatches them and only then acknowledges them,
	// giving at-least-once delivery instead of read-then-delete.
	AckMode    bool
	PeekLimit  int
	DedupeSize int
	Exporter   Exporter
}

// Relay writes fan-out rows into the durable mailboxes and polls this node's
// rows back out into the local Hub.
type Relay struct {
	store     db.Ops
	hub       *Hub
	nodeID    string
	interval  time.Duration
	ackMode   bool
	peekLimit int
	exporter  Exporter

	seenMembership   *lru.Cache[int64, struct{}]
	seenNotification *lru.Cache[int64, struct{}]

	pollMu   sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRelay creates a relay for opts.NodeID.
func NewRelay(store db.Ops, hub *Hub, opts Options) (*Relay, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.PeekLimit <= 0 {
		opts.PeekLimit = DefaultPeekLimit
	}
	if opts.DedupeSize <= 0 {
		opts.DedupeSize = DefaultDedupeSize
	}

	r := &Relay{
		store:     store,
		hub:       hub,
		nodeID:    opts.NodeID,
		interval:  opts.PollInterval,
		ackMode:   opts.AckMode,
		peekLimit: opts.PeekLimit,
		exporter:  opts.Exporter,
		stopCh:    make(chan struct{}),
	}

	if opts.AckMode {
		var err error
		if r.seenMembership, err = lru.New[int64, struct{}](opts.DedupeSize); err != nil {
			return nil, err
		}
		if r.seenNotification, err = lru.New[int64, struct{}](opts.DedupeSize); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// BroadcastMembership stores one membership row per destination node in a
// single all-or-nothing batch.
func (r *Relay) BroadcastMembership(ctx context.Context, nodes []string, eventType db.MembershipEventType, member string) error {
	if len(nodes) == 0 {
		return nil
	}
	if err := r.store.StoreMembershipEvent(ctx, nodes, eventType, member); err != nil {
		return err
	}
	telemetry.MailboxWritesTotal.With(mailboxMembership).Add(float64(len(nodes)))

	log.Debug().
		Str("type", eventType.String()).
		Str("member", member).
		Strs("nodes", nodes).
		Msg("Membership event broadcast")

	r.export(ctx, Event{
		Kind:       KindMembership,
		Membership: &db.MembershipEvent{Type: eventType, Member: member},
	})
	return nil
}

// BroadcastNotification stores one notification row per destination node in
// a single all-or-nothing batch. An empty OriginatedNodeID is filled with
// this node.
func (r *Relay) BroadcastNotification(ctx context.Context, nodes []string, n db.ClusterNotification) error {
	if len(nodes) == 0 {
		return nil
	}
	if n.OriginatedNodeID == "" {
		n.OriginatedNodeID = r.nodeID
	}
	if err := r.store.StoreClusterNotification(ctx, nodes, n); err != nil {
		return err
	}
	telemetry.MailboxWritesTotal.With(mailboxNotification).Add(float64(len(nodes)))

	log.Debug().
		Str("artifact", n.Artifact).
		Str("type", n.Type).
		Strs("nodes", nodes).
		Msg("Cluster notification broadcast")

	n.ID = 0
	n.DestinationNodeID = ""
	r.export(ctx, Event{Kind: KindNotification, Notification: &n})
	return nil
}

func (r *Relay) export(ctx context.Context, ev Event) {
	if r.exporter == nil {
		return
	}
	if err := r.exporter.Export(ctx, ev); err != nil {
		log.Warn().Err(err).Str("kind", ev.Kind.String()).Msg("Failed to export broadcast")
	}
}

// PurgeNode drops every row still queued for nodeID.
func (r *Relay) PurgeNode(ctx context.Context, nodeID string) error {
	if err := r.store.ClearMembershipEventsForNode(ctx, nodeID); err != nil {
		return err
	}
	return r.store.ClearClusterNotificationsForNode(ctx, nodeID)
}

// PollOnce drains this node's mailboxes into the hub and returns how many
// rows were dispatched.
func (r *Relay) PollOnce(ctx context.Context) (int, error) {
	r.pollMu.Lock()
	defer r.pollMu.Unlock()

	if r.ackMode {
		return r.pollAcked(ctx)
	}
	return r.pollReadOnce(ctx)
}

func (r *Relay) pollReadOnce(ctx context.Context) (int, error) {
	members, err := r.store.ReadMembershipEvents(ctx, r.nodeID)
	if err != nil {
		return 0, err
	}
	for i := range members {
		r.hub.Publish(Event{Kind: KindMembership, Membership: &members[i]})
	}
	telemetry.MailboxReadsTotal.With(mailboxMembership).Add(float64(len(members)))

	notes, err := r.store.ReadClusterNotifications(ctx, r.nodeID)
	if err != nil {
		return len(members), err
	}
	for i := range notes {
		r.hub.Publish(Event{Kind: KindNotification, Notification: &notes[i]})
	}
	telemetry.MailboxReadsTotal.With(mailboxNotification).Add(float64(len(notes)))

	return len(members) + len(notes), nil
}

func (r *Relay) pollAcked(ctx context.Context) (int, error) {
	dispatched := 0

	members, err := r.store.PeekMembershipEvents(ctx, r.nodeID, r.peekLimit)
	if err != nil {
		return 0, err
	}
	if len(members) > 0 {
		ids := make([]int64, 0, len(members))
		for i := range members {
			ids = append(ids, members[i].ID)
			if r.seenMembership.Contains(members[i].ID) {
				telemetry.MailboxDuplicatesTotal.Inc()
				continue
			}
			r.hub.Publish(Event{Kind: KindMembership, Membership: &members[i]})
			r.seenMembership.Add(members[i].ID, struct{}{})
			dispatched++
		}
		if err := r.store.AckMembershipEvents(ctx, r.nodeID, ids); err != nil {
			return dispatched, err
		}
		telemetry.MailboxReadsTotal.With(mailboxMembership).Add(float64(len(ids)))
	}

	notes, err := r.store.PeekClusterNotifications(ctx, r.nodeID, r.peekLimit)
	if err != nil {
		return dispatched, err
	}
	if len(notes) > 0 {
		ids := make([]int64, 0, len(notes))
		for i := range notes {
			ids = append(ids, notes[i].ID)
			if r.seenNotification.Contains(notes[i].ID) {
				telemetry.MailboxDuplicatesTotal.Inc()
				continue
			}
			r.hub.Publish(Event{Kind: KindNotification, Notification: &notes[i]})
			r.seenNotification.Add(notes[i].ID, struct{}{})
			dispatched++
		}
		if err := r.store.AckClusterNotifications(ctx, r.nodeID, ids); err != nil {
			return dispatched, err
		}
		telemetry.MailboxReadsTotal.With(mailboxNotification).Add(float64(len(ids)))
	}

	return dispatched, nil
}

// Start begins polling in the background.
func (r *Relay) Start() {
	r.wg.Add(1)
	go r.pollLoop()
}

// Stop stops polling. It is safe to call more than once.
func (r *Relay) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

func (r *Relay) pollLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.interval*4)
			if _, err := r.PollOnce(ctx); err != nil {
				telemetry.MailboxPollErrorsTotal.Inc()
				log.Warn().Err(err).Str("node", r.nodeID).Msg("Mailbox poll failed")
			}
			cancel()
		case <-r.stopCh:
			return
		}
	}
}
