package cluster

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/maxpert/slotkeeper/db"
	"github.com/maxpert/slotkeeper/notify"
	"github.com/maxpert/slotkeeper/telemetry"
	"github.com/rs/zerolog/log"
)

// NodeStatus is the local view of a member.
type NodeStatus int

const (
	StatusAlive NodeStatus = iota + 1
	StatusDead
	StatusLeft
)

func (s NodeStatus) String() string {
	switch s {
	case StatusAlive:
		return "ALIVE"
	case StatusDead:
		return "DEAD"
	case StatusLeft:
		return "LEFT"
	default:
		return "UNKNOWN"
	}
}

// Member is a snapshot of one node in the view.
type Member struct {
	NodeID        string     `json:"node_id"`
	Address       string     `json:"address"`
	Status        NodeStatus `json:"-"`
	StatusName    string     `json:"status"`
	LastHeartbeat time.Time  `json:"last_heartbeat"`
}

// View tracks cluster membership as this node last observed it. It is fed by
// membership events from the relay and corrected by periodic Resync calls
// against the heartbeat table, so a lost event only delays convergence.
type View struct {
	localNodeID string
	members     map[string]*Member
	coordinator string
	mu          sync.RWMutex

	onAliveFunc func(Member) // Callback when a member transitions to ALIVE
	onDeadFunc  func(Member) // Callback when a member transitions to DEAD
	callbackMu  sync.RWMutex
}

// NewView creates a view containing only the local node.
func NewView(localNodeID, address string) *View {
	v := &View{
		localNodeID: localNodeID,
		members:     make(map[string]*Member),
	}
	v.members[localNodeID] = &Member{
		NodeID:        localNodeID,
		Address:       address,
		Status:        StatusAlive,
		LastHeartbeat: time.Now(),
	}
	v.updateClusterMetricsLocked()
	return v
}

// SetOnNodeAlive sets the callback for when a member becomes ALIVE
func (v *View) SetOnNodeAlive(callback func(Member)) {
	v.callbackMu.Lock()
	defer v.callbackMu.Unlock()
	v.onAliveFunc = callback
}

// SetOnNodeDead sets the callback for when a member becomes DEAD
func (v *View) SetOnNodeDead(callback func(Member)) {
	v.callbackMu.Lock()
	defer v.callbackMu.Unlock()
	v.onDeadFunc = callback
}

// transitionLocked moves a member to status and reports whether it changed.
// Caller must hold v.mu.
func (v *View) transitionLocked(m *Member, status NodeStatus, reason string) bool {
	if m.Status == status {
		return false
	}
	old := m.Status
	m.Status = status

	telemetry.NodeStateTransitionsTotal.With(old.String(), status.String()).Inc()
	log.Info().
		Str("node_id", m.NodeID).
		Str("old_status", old.String()).
		Str("new_status", status.String()).
		Str("reason", reason).
		Msg("Node state transition")
	return true
}

// Apply folds one membership event into the view.
func (v *View) Apply(ev db.MembershipEvent) {
	var alive, dead []Member

	v.mu.Lock()
	switch ev.Type {
	case db.MemberAdded:
		m, ok := v.members[ev.Member]
		if !ok {
			m = &Member{NodeID: ev.Member, Status: StatusAlive, LastHeartbeat: time.Now()}
			v.members[ev.Member] = m
			telemetry.NodeStateTransitionsTotal.With("NONE", StatusAlive.String()).Inc()
			log.Info().Str("node_id", ev.Member).Msg("Member joined")
			alive = append(alive, *m)
		} else if v.transitionLocked(m, StatusAlive, "member added") {
			alive = append(alive, *m)
		}

	case db.MemberRemoved:
		if ev.Member == v.localNodeID {
			log.Warn().Str("node_id", ev.Member).Msg("Local node was declared dead by the coordinator")
			break
		}
		if m, ok := v.members[ev.Member]; ok && m.Status == StatusAlive {
			v.transitionLocked(m, StatusDead, "member removed")
			dead = append(dead, *m)
		}

	case db.CoordinatorChanged:
		if v.coordinator != ev.Member {
			log.Info().
				Str("old", v.coordinator).
				Str("new", ev.Member).
				Msg("Coordinator changed")
		}
		v.coordinator = ev.Member
	}
	v.updateClusterMetricsLocked()
	v.mu.Unlock()

	v.fire(alive, dead)
}

// Resync replaces the view with the heartbeat table. Rows older than maxAge
// are DEAD; members with no row are DEAD unless they left gracefully.
func (v *View) Resync(rows []db.NodeHeartbeat, now time.Time, maxAge time.Duration) {
	var alive, dead []Member

	v.mu.Lock()
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		seen[row.NodeID] = true

		status := StatusAlive
		if now.Sub(row.LastHeartbeat) > maxAge && row.NodeID != v.localNodeID {
			status = StatusDead
		}

		m, ok := v.members[row.NodeID]
		if !ok {
			m = &Member{NodeID: row.NodeID, Status: status, Address: row.Address, LastHeartbeat: row.LastHeartbeat}
			v.members[row.NodeID] = m
			if status == StatusAlive {
				alive = append(alive, *m)
			}
			continue
		}

		m.Address = row.Address
		m.LastHeartbeat = row.LastHeartbeat
		if v.transitionLocked(m, status, "resync") {
			if status == StatusAlive {
				alive = append(alive, *m)
			} else {
				dead = append(dead, *m)
			}
		}
	}

	for id, m := range v.members {
		if seen[id] || id == v.localNodeID || m.Status != StatusAlive {
			continue
		}
		v.transitionLocked(m, StatusDead, "heartbeat row missing")
		dead = append(dead, *m)
	}
	v.updateClusterMetricsLocked()
	v.mu.Unlock()

	v.fire(alive, dead)
}

// SetCoordinator records the coordinator observed from the store.
func (v *View) SetCoordinator(nodeID string) {
	v.mu.Lock()
	v.coordinator = nodeID
	v.mu.Unlock()
}

// Coordinator returns the last coordinator the view learned about.
func (v *View) Coordinator() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.coordinator
}

// MarkLeft records a graceful departure.
func (v *View) MarkLeft(nodeID string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if m, ok := v.members[nodeID]; ok {
		v.transitionLocked(m, StatusLeft, "graceful leave")
		v.updateClusterMetricsLocked()
	}
}

// Get returns a member snapshot.
func (v *View) Get(nodeID string) (Member, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	m, ok := v.members[nodeID]
	if !ok {
		return Member{}, false
	}
	return snapshot(m), true
}

// Members returns all members sorted by node id.
func (v *View) Members() []Member {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make([]Member, 0, len(v.members))
	for _, m := range v.members {
		out = append(out, snapshot(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

// Alive returns the ids of ALIVE members, sorted.
func (v *View) Alive() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make([]string, 0, len(v.members))
	for id, m := range v.members {
		if m.Status == StatusAlive {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Follow applies membership events from ch until it closes or ctx is done.
func (v *View) Follow(ctx context.Context, ch <-chan notify.Event) {
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Kind == notify.KindMembership && ev.Membership != nil {
				v.Apply(*ev.Membership)
			}
		case <-ctx.Done():
			return
		}
	}
}

func snapshot(m *Member) Member {
	out := *m
	out.StatusName = m.Status.String()
	return out
}

// fire invokes callbacks outside the view lock.
func (v *View) fire(alive, dead []Member) {
	if len(alive) == 0 && len(dead) == 0 {
		return
	}

	v.callbackMu.RLock()
	onAlive := v.onAliveFunc
	onDead := v.onDeadFunc
	v.callbackMu.RUnlock()

	if onAlive != nil {
		for _, m := range alive {
			onAlive(snapshot(&m))
		}
	}
	if onDead != nil {
		for _, m := range dead {
			onDead(snapshot(&m))
		}
	}
}

// updateClusterMetricsLocked updates the node gauges. Caller must hold v.mu.
func (v *View) updateClusterMetricsLocked() {
	counts := make(map[NodeStatus]int)
	for _, m := range v.members {
		counts[m.Status]++
	}
	telemetry.ClusterNodes.With(StatusAlive.String()).Set(float64(counts[StatusAlive]))
	telemetry.ClusterNodes.With(StatusDead.String()).Set(float64(counts[StatusDead]))
	telemetry.ClusterNodes.With(StatusLeft.String()).Set(float64(counts[StatusLeft]))
}
