package cluster

import (
	"context"
	"sync"
	"time"

	"github.com/maxpert/slotkeeper/db"
	"github.com/maxpert/slotkeeper/id"
	"github.com/maxpert/slotkeeper/telemetry"
	"github.com/rs/zerolog/log"
)

// HeartbeatOptions configures a Heartbeater.
type HeartbeatOptions struct {
	NodeID   string
	Address  string
	Interval time.Duration
	Clock    func() time.Time
}

// Heartbeater keeps this node's heartbeat row fresh and resyncs the local
// view from the heartbeat table on every beat.
type Heartbeater struct {
	store    db.Ops
	view     *View
	tunables MaxAgeSource
	nodeID   string
	address  string
	interval time.Duration
	now      func() time.Time
	prefix   int

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewHeartbeater creates a heartbeater. view may be nil.
func NewHeartbeater(store db.Ops, view *View, tunables MaxAgeSource, opts HeartbeatOptions) *Heartbeater {
	if opts.Interval <= 0 {
		opts.Interval = DefaultHeartbeatInterval
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Heartbeater{
		store:    store,
		view:     view,
		tunables: tunables,
		nodeID:   opts.NodeID,
		address:  opts.Address,
		interval: opts.Interval,
		now:      opts.Clock,
		stopCh:   make(chan struct{}),
	}
}

// Join claims a cluster-unique message id prefix and creates the heartbeat
// row, flagged as new so the coordinator announces it.
func (h *Heartbeater) Join(ctx context.Context) error {
	prefix, err := h.store.AcquireIDPrefix(ctx, h.nodeID, id.NodeMask+1)
	if err != nil {
		return err
	}
	h.prefix = prefix

	if err := h.store.CreateNodeHeartbeatEntry(ctx, h.nodeID, h.address); err != nil {
		return err
	}
	log.Info().
		Str("node_id", h.nodeID).
		Str("address", h.address).
		Int("id_prefix", prefix).
		Msg("Joined cluster")
	return nil
}

// IDPrefix returns the message id prefix claimed by Join.
func (h *Heartbeater) IDPrefix() uint64 {
	return uint64(h.prefix)
}

// Beat refreshes the heartbeat row, re-creating it if the failure detector
// reaped it, then resyncs the view.
func (h *Heartbeater) Beat(ctx context.Context) error {
	ok, err := h.store.UpdateNodeHeartbeat(ctx, h.nodeID)
	if err != nil {
		telemetry.HeartbeatFailuresTotal.With("node").Inc()
		return err
	}
	if !ok {
		log.Warn().Str("node_id", h.nodeID).Msg("Heartbeat row missing, rejoining")
		if err := h.store.CreateNodeHeartbeatEntry(ctx, h.nodeID, h.address); err != nil {
			telemetry.HeartbeatFailuresTotal.With("node").Inc()
			return err
		}
		prefix, err := h.store.AcquireIDPrefix(ctx, h.nodeID, id.NodeMask+1)
		if err != nil {
			return err
		}
		if prefix != h.prefix {
			log.Error().
				Int("held", h.prefix).
				Int("claimed", prefix).
				Msg("Id prefix was handed to another node while this one was reaped")
		}
	}

	if h.view == nil {
		return nil
	}
	rows, err := h.store.GetAllHeartBeatData(ctx)
	if err != nil {
		return err
	}
	h.view.Resync(rows, h.now(), h.tunables.HeartbeatMaxAge())

	coordinator, err := h.store.GetCoordinatorNodeID(ctx)
	if err != nil {
		return err
	}
	h.view.SetCoordinator(coordinator)
	return nil
}

// Leave removes the heartbeat row and id prefix claim on graceful shutdown.
func (h *Heartbeater) Leave(ctx context.Context) error {
	if err := h.store.RemoveNodeHeartbeat(ctx, h.nodeID); err != nil {
		return err
	}
	if err := h.store.ReleaseIDPrefix(ctx, h.nodeID); err != nil {
		return err
	}
	if h.view != nil {
		h.view.MarkLeft(h.nodeID)
	}
	log.Info().Str("node_id", h.nodeID).Msg("Left cluster")
	return nil
}

// Start begins beating in the background.
func (h *Heartbeater) Start() {
	h.wg.Add(1)
	go h.loop()
}

// Stop ends the beat loop. It is safe to call more than once.
func (h *Heartbeater) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
	h.wg.Wait()
}

func (h *Heartbeater) loop() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), h.interval*2)
			if err := h.Beat(ctx); err != nil {
				log.Warn().Err(err).Str("node_id", h.nodeID).Msg("Heartbeat failed")
			}
			cancel()
		case <-h.stopCh:
			return
		}
	}
}
