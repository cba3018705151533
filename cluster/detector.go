package cluster

import (
	"context"
	"sync"
	"time"

	"github.com/maxpert/slotkeeper/db"
	"github.com/maxpert/slotkeeper/telemetry"
	"github.com/rs/zerolog/log"
)

// CoordinatorCheck reports whether this node currently holds the
// coordinator row.
type CoordinatorCheck interface {
	IsCoordinator(ctx context.Context) (bool, error)
}

// SlotReassigner returns a dead node's slots to the pool.
type SlotReassigner interface {
	ReassignNodeSlots(ctx context.Context, node string) (int, error)
}

// DetectorOptions configures a Detector.
type DetectorOptions struct {
	NodeID   string
	Interval time.Duration
	Clock    func() time.Time
}

// SweepResult summarises one detector pass.
type SweepResult struct {
	Skipped    bool
	Dead       []string
	Added      []string
	Reassigned int
}

// Detector is the coordinator-only failure detector. Every pass re-checks
// coordinator ownership against the store before mutating anything.
type Detector struct {
	store       db.Ops
	leader      CoordinatorCheck
	slots       SlotReassigner
	broadcaster Broadcaster
	tunables    MaxAgeSource
	nodeID      string
	interval    time.Duration
	now         func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewDetector creates a failure detector.
func NewDetector(store db.Ops, leader CoordinatorCheck, slots SlotReassigner, broadcaster Broadcaster, tunables MaxAgeSource, opts DetectorOptions) *Detector {
	if opts.Interval <= 0 {
		opts.Interval = DefaultHeartbeatInterval
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Detector{
		store:       store,
		leader:      leader,
		slots:       slots,
		broadcaster: broadcaster,
		tunables:    tunables,
		nodeID:      opts.NodeID,
		interval:    opts.Interval,
		now:         opts.Clock,
		stopCh:      make(chan struct{}),
	}
}

// Sweep runs one detection pass.
func (d *Detector) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	leader, err := d.leader.IsCoordinator(ctx)
	if err != nil {
		return res, err
	}
	if !leader {
		res.Skipped = true
		return res, nil
	}

	rows, err := d.store.GetAllHeartBeatData(ctx)
	if err != nil {
		return res, err
	}

	now := d.now()
	maxAge := d.tunables.HeartbeatMaxAge()

	var survivors []string
	var dead, fresh []db.NodeHeartbeat
	for _, row := range rows {
		if row.NodeID != d.nodeID && now.Sub(row.LastHeartbeat) > maxAge {
			dead = append(dead, row)
			continue
		}
		survivors = append(survivors, row.NodeID)
		if row.IsNewNode {
			fresh = append(fresh, row)
		}
	}

	for _, row := range dead {
		// Ownership may have moved while earlier nodes were handled.
		leader, err := d.leader.IsCoordinator(ctx)
		if err != nil {
			return res, err
		}
		if !leader {
			log.Warn().Str("node_id", d.nodeID).Msg("Lost coordinator row during sweep, stopping")
			return res, nil
		}

		n, err := d.declareDead(ctx, row, now, survivors)
		if err != nil {
			return res, err
		}
		res.Dead = append(res.Dead, row.NodeID)
		res.Reassigned += n
	}

	for _, row := range fresh {
		if d.broadcaster != nil {
			if err := d.broadcaster.BroadcastMembership(ctx, survivors, db.MemberAdded, row.NodeID); err != nil {
				return res, err
			}
		}
		if err := d.store.MarkNodeAsNotNew(ctx, row.NodeID); err != nil {
			return res, err
		}
		log.Info().Str("node_id", row.NodeID).Str("address", row.Address).Msg("Node joined cluster")
		res.Added = append(res.Added, row.NodeID)
	}

	return res, nil
}

// declareDead returns the node's slots to the pool, drops its publisher
// watermark, id prefix and mailboxes, tells the survivors and finally
// removes its heartbeat row. Every step is idempotent, so a pass that fails midway is
// completed by the next one.
func (d *Detector) declareDead(ctx context.Context, row db.NodeHeartbeat, now time.Time, survivors []string) (int, error) {
	log.Warn().
		Str("node_id", row.NodeID).
		Dur("age", now.Sub(row.LastHeartbeat)).
		Msg("Node heartbeat expired, declaring dead")

	n, err := d.slots.ReassignNodeSlots(ctx, row.NodeID)
	if err != nil {
		return 0, err
	}
	if err := d.store.RemovePublisherNode(ctx, row.NodeID); err != nil {
		return n, err
	}
	if err := d.store.ReleaseIDPrefix(ctx, row.NodeID); err != nil {
		return n, err
	}
	if err := d.store.ClearMembershipEventsForNode(ctx, row.NodeID); err != nil {
		return n, err
	}
	if err := d.store.ClearClusterNotificationsForNode(ctx, row.NodeID); err != nil {
		return n, err
	}
	if d.broadcaster != nil {
		if err := d.broadcaster.BroadcastMembership(ctx, survivors, db.MemberRemoved, row.NodeID); err != nil {
			return n, err
		}
	}
	if err := d.store.RemoveNodeHeartbeat(ctx, row.NodeID); err != nil {
		return n, err
	}

	telemetry.NodesDeclaredDeadTotal.Inc()
	log.Info().
		Str("node_id", row.NodeID).
		Int("slots_reassigned", n).
		Msg("Dead node removed from cluster")
	return n, nil
}

// Start begins sweeping in the background. Sweeps on non-coordinators are
// cheap no-ops.
func (d *Detector) Start() {
	d.wg.Add(1)
	go d.loop()
}

// Stop ends the sweep loop. It is safe to call more than once.
func (d *Detector) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	d.wg.Wait()
}

func (d *Detector) loop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), d.interval*4)
			if _, err := d.Sweep(ctx); err != nil {
				log.Warn().Err(err).Msg("Failure detector sweep failed")
			}
			cancel()
		case <-d.stopCh:
			return
		}
	}
}
