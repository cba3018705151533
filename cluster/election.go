package cluster

import (
	"context"
	"sync"
	"time"

	"github.com/maxpert/slotkeeper/db"
	"github.com/maxpert/slotkeeper/telemetry"
	"github.com/rs/zerolog/log"
)

// DefaultHeartbeatInterval is used when no interval is configured.
const DefaultHeartbeatInterval = time.Second

// State is the election state of the local node.
type State int

const (
	Candidate State = iota
	Coordinator
	Follower
	Deposed
)

func (s State) String() string {
	switch s {
	case Candidate:
		return "CANDIDATE"
	case Coordinator:
		return "COORDINATOR"
	case Follower:
		return "FOLLOWER"
	case Deposed:
		return "DEPOSED"
	default:
		return "UNKNOWN"
	}
}

// MaxAgeSource supplies the current heartbeat max-age.
type MaxAgeSource interface {
	HeartbeatMaxAge() time.Duration
}

// Broadcaster fans membership events out to a set of nodes.
type Broadcaster interface {
	BroadcastMembership(ctx context.Context, nodes []string, eventType db.MembershipEventType, member string) error
}

// ElectionOptions configures an Election.
type ElectionOptions struct {
	NodeID   string
	Address  string
	Interval time.Duration
	Clock    func() time.Time
}

// Election runs race-to-insert coordinator election over the shared store.
// The local state only drives the tick loop; IsCoordinator always asks the
// store.
type Election struct {
	store       db.Store
	broadcaster Broadcaster
	tunables    MaxAgeSource
	nodeID      string
	address     string
	interval    time.Duration
	now         func() time.Time

	mu            sync.Mutex
	state         State
	resignedUntil time.Time

	callbackMu sync.RWMutex
	onDeposed  []func()
	onElected  []func()

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewElection creates an election for opts.NodeID. broadcaster may be nil.
func NewElection(store db.Store, broadcaster Broadcaster, tunables MaxAgeSource, opts ElectionOptions) *Election {
	if opts.Interval <= 0 {
		opts.Interval = DefaultHeartbeatInterval
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Election{
		store:       store,
		broadcaster: broadcaster,
		tunables:    tunables,
		nodeID:      opts.NodeID,
		address:     opts.Address,
		interval:    opts.Interval,
		now:         opts.Clock,
		state:       Candidate,
		stopCh:      make(chan struct{}),
	}
}

// OnElected registers fn to run each time this node becomes coordinator.
func (e *Election) OnElected(fn func()) {
	e.callbackMu.Lock()
	defer e.callbackMu.Unlock()
	e.onElected = append(e.onElected, fn)
}

// OnDeposed registers fn to run when this node observes losing the
// coordinator row. Coordinator-only work must stop inside fn.
func (e *Election) OnDeposed(fn func()) {
	e.callbackMu.Lock()
	defer e.callbackMu.Unlock()
	e.onDeposed = append(e.onDeposed, fn)
}

// State returns the last observed local state.
func (e *Election) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// IsCoordinator reports whether the persisted row names this node.
func (e *Election) IsCoordinator(ctx context.Context) (bool, error) {
	return e.store.CheckIsCoordinator(ctx, e.nodeID)
}

// Coordinator returns the current coordinator row, or nil.
func (e *Election) Coordinator(ctx context.Context) (*db.CoordinatorEntry, error) {
	return e.store.GetCoordinator(ctx)
}

// Start races once for the coordinator row and begins the tick loop.
func (e *Election) Start(ctx context.Context) error {
	if err := e.Step(ctx); err != nil {
		return err
	}
	e.wg.Add(1)
	go e.loop()
	return nil
}

// Stop ends the tick loop. It does not give up the coordinator row; call
// Resign for that.
func (e *Election) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
}

func (e *Election) loop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), e.interval*2)
			if err := e.Step(ctx); err != nil {
				log.Warn().Err(err).Str("state", e.State().String()).Msg("Election step failed")
			}
			cancel()
		case <-e.stopCh:
			return
		}
	}
}

// Step runs one election tick.
func (e *Election) Step(ctx context.Context) error {
	switch e.State() {
	case Coordinator:
		return e.refresh(ctx)
	case Deposed:
		e.transition(Candidate, "re-entering race")
		return e.contend(ctx)
	default:
		return e.contend(ctx)
	}
}

// refresh extends the coordinator heartbeat, stepping down when the row is
// no longer ours.
func (e *Election) refresh(ctx context.Context) error {
	ok, err := e.store.UpdateCoordinatorHeartbeat(ctx, e.nodeID)
	if err == nil && ok {
		return nil
	}
	if err != nil {
		telemetry.HeartbeatFailuresTotal.With("coordinator").Inc()
		stillOurs, checkErr := e.store.CheckIsCoordinator(ctx, e.nodeID)
		if checkErr == nil && stillOurs {
			// Transient write failure; the row is still ours until it ages out.
			return err
		}
		log.Warn().Err(err).Msg("Coordinator heartbeat failed and ownership could not be confirmed")
	}

	e.transition(Deposed, "coordinator row lost")
	e.transition(Candidate, "re-entering race")
	return err
}

// contend checks the current coordinator and races for the row when it is
// missing or stale.
func (e *Election) contend(ctx context.Context) error {
	e.mu.Lock()
	holdoff := e.now().Before(e.resignedUntil)
	e.mu.Unlock()

	maxAge := e.tunables.HeartbeatMaxAge()
	valid, err := e.store.CheckIfCoordinatorValid(ctx, maxAge)
	if err != nil {
		return err
	}

	if valid {
		ours, err := e.store.CheckIsCoordinator(ctx, e.nodeID)
		if err != nil {
			return err
		}
		if ours {
			// Row survived a restart of this node.
			e.win(ctx, "adopted existing coordinator row")
			return nil
		}
		e.transition(Follower, "coordinator is valid")
		return nil
	}

	if holdoff {
		e.transition(Follower, "resigned recently")
		return nil
	}

	if _, err := e.store.RemoveStaleCoordinator(ctx, maxAge); err != nil {
		return err
	}

	won, err := e.store.CreateCoordinatorEntry(ctx, e.nodeID, e.address)
	if err != nil {
		return err
	}
	if won {
		e.win(ctx, "won coordinator race")
		return nil
	}
	e.transition(Follower, "lost coordinator race")
	return nil
}

func (e *Election) win(ctx context.Context, reason string) {
	if !e.transition(Coordinator, reason) {
		return
	}

	if e.broadcaster == nil {
		return
	}
	nodes, err := liveNodeIDs(ctx, e.store)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to list nodes for coordinator change")
		return
	}
	if err := e.broadcaster.BroadcastMembership(ctx, nodes, db.CoordinatorChanged, e.nodeID); err != nil {
		log.Warn().Err(err).Msg("Failed to broadcast coordinator change")
	}
}

// transition moves to next and runs callbacks outside the lock. It reports
// whether the state changed.
func (e *Election) transition(next State, reason string) bool {
	e.mu.Lock()
	prev := e.state
	if prev == next {
		e.mu.Unlock()
		return false
	}
	e.state = next
	e.mu.Unlock()

	telemetry.ElectionTransitionsTotal.With(prev.String(), next.String()).Inc()
	if next == Coordinator {
		telemetry.IsCoordinator.Set(1)
	} else if prev == Coordinator {
		telemetry.IsCoordinator.Set(0)
	}

	evt := log.Info()
	if next == Deposed {
		evt = log.Warn()
	}
	evt.Str("node_id", e.nodeID).
		Str("from", prev.String()).
		Str("to", next.String()).
		Str("reason", reason).
		Msg("Election state transition")

	e.callbackMu.RLock()
	var callbacks []func()
	switch next {
	case Coordinator:
		callbacks = append(callbacks, e.onElected...)
	case Deposed:
		callbacks = append(callbacks, e.onDeposed...)
	}
	e.callbackMu.RUnlock()

	for _, fn := range callbacks {
		fn()
	}
	return true
}

// Resign gives up the coordinator row if this node still holds it and stays
// out of the race for one max-age period.
func (e *Election) Resign(ctx context.Context) (bool, error) {
	txn, err := e.store.Begin(ctx)
	if err != nil {
		return false, err
	}

	ours, err := txn.CheckIsCoordinator(ctx, e.nodeID)
	if err == nil && ours {
		err = txn.RemoveCoordinator(ctx)
	}
	if err != nil {
		_ = txn.Rollback()
		return false, err
	}
	if err := txn.Commit(); err != nil {
		return false, err
	}

	if !ours {
		return false, nil
	}

	e.mu.Lock()
	e.resignedUntil = e.now().Add(e.tunables.HeartbeatMaxAge())
	e.mu.Unlock()

	log.Info().Str("node_id", e.nodeID).Msg("Resigned coordinator role")
	e.transition(Deposed, "resigned")
	e.transition(Follower, "resigned")
	return true, nil
}

// liveNodeIDs lists every node with a heartbeat row.
func liveNodeIDs(ctx context.Context, store db.Ops) ([]string, error) {
	rows, err := store.GetAllHeartBeatData(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.NodeID)
	}
	return ids, nil
}
