package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/maxpert/slotkeeper/db"
	"github.com/maxpert/slotkeeper/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViewApplyMembershipEvents(t *testing.T) {
	view := NewView("a", "a:8090")

	var alive, dead []string
	view.SetOnNodeAlive(func(m Member) { alive = append(alive, m.NodeID) })
	view.SetOnNodeDead(func(m Member) { dead = append(dead, m.NodeID) })

	view.Apply(db.MembershipEvent{Type: db.MemberAdded, Member: "b"})
	view.Apply(db.MembershipEvent{Type: db.MemberAdded, Member: "b"}) // duplicate is a no-op
	view.Apply(db.MembershipEvent{Type: db.MemberAdded, Member: "c"})
	assert.Equal(t, []string{"a", "b", "c"}, view.Alive())
	assert.Equal(t, []string{"b", "c"}, alive)

	view.Apply(db.MembershipEvent{Type: db.MemberRemoved, Member: "b"})
	assert.Equal(t, []string{"a", "c"}, view.Alive())
	assert.Equal(t, []string{"b"}, dead)

	// The local node is never marked dead from an event
	view.Apply(db.MembershipEvent{Type: db.MemberRemoved, Member: "a"})
	m, ok := view.Get("a")
	require.True(t, ok)
	assert.Equal(t, StatusAlive, m.Status)

	view.Apply(db.MembershipEvent{Type: db.CoordinatorChanged, Member: "c"})
	assert.Equal(t, "c", view.Coordinator())

	// A dead member that comes back is ALIVE again
	view.Apply(db.MembershipEvent{Type: db.MemberAdded, Member: "b"})
	assert.Equal(t, []string{"a", "b", "c"}, view.Alive())
}

func TestViewResync(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	view := NewView("a", "a:8090")
	view.Apply(db.MembershipEvent{Type: db.MemberAdded, Member: "gone"})

	rows := []db.NodeHeartbeat{
		{NodeID: "a", Address: "a:8090", LastHeartbeat: now},
		{NodeID: "b", Address: "b:8090", LastHeartbeat: now.Add(-time.Second)},
		{NodeID: "c", Address: "c:8090", LastHeartbeat: now.Add(-time.Minute)},
	}
	view.Resync(rows, now, 5*time.Second)

	members := view.Members()
	require.Len(t, members, 4)

	status := make(map[string]NodeStatus)
	for _, m := range members {
		status[m.NodeID] = m.Status
		assert.Equal(t, m.Status.String(), m.StatusName)
	}
	assert.Equal(t, StatusAlive, status["a"])
	assert.Equal(t, StatusAlive, status["b"])
	assert.Equal(t, StatusDead, status["c"])
	assert.Equal(t, StatusDead, status["gone"])
}

func TestViewResyncCallbacksCarryAddress(t *testing.T) {
	view := NewView("a", "a:8090")
	now := time.UnixMilli(1_700_000_000_000)

	var alive, dead []Member
	view.SetOnNodeAlive(func(m Member) { alive = append(alive, m) })
	view.SetOnNodeDead(func(m Member) { dead = append(dead, m) })

	// b is first learned from events, without an address
	view.Apply(db.MembershipEvent{Type: db.MemberAdded, Member: "b"})
	view.Apply(db.MembershipEvent{Type: db.MemberRemoved, Member: "b"})
	alive, dead = nil, nil

	view.Resync([]db.NodeHeartbeat{
		{NodeID: "a", Address: "a:8090", LastHeartbeat: now},
		{NodeID: "b", Address: "b:8090", LastHeartbeat: now},
		{NodeID: "c", Address: "c:8090", LastHeartbeat: now},
	}, now, time.Second)

	require.Len(t, alive, 2)
	assert.Equal(t, "b:8090", alive[0].Address)
	assert.Equal(t, now, alive[0].LastHeartbeat)
	assert.Equal(t, "c:8090", alive[1].Address)

	later := now.Add(5 * time.Second)
	view.Resync([]db.NodeHeartbeat{
		{NodeID: "a", Address: "a:8090", LastHeartbeat: later},
		{NodeID: "b", Address: "b:9090", LastHeartbeat: now},
		{NodeID: "c", Address: "c:8090", LastHeartbeat: later},
	}, later, time.Second)

	require.Len(t, dead, 1)
	assert.Equal(t, "b", dead[0].NodeID)
	assert.Equal(t, "b:9090", dead[0].Address)
}

func TestViewLeftMembersStayLeft(t *testing.T) {
	view := NewView("a", "a:8090")
	view.Apply(db.MembershipEvent{Type: db.MemberAdded, Member: "b"})
	view.MarkLeft("b")

	view.Resync([]db.NodeHeartbeat{{NodeID: "a", LastHeartbeat: time.Now()}}, time.Now(), time.Second)

	m, ok := view.Get("b")
	require.True(t, ok)
	assert.Equal(t, StatusLeft, m.Status)
}

func TestViewFollow(t *testing.T) {
	hub := notify.NewHub(0)
	events, cancel := hub.Subscribe(notify.Filter{Kinds: []notify.Kind{notify.KindMembership}})

	view := NewView("a", "a:8090")
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	done := make(chan struct{})
	go func() {
		view.Follow(ctx, events)
		close(done)
	}()

	hub.Publish(notify.Event{Kind: notify.KindMembership, Membership: &db.MembershipEvent{Type: db.MemberAdded, Member: "b"}})

	require.Eventually(t, func() bool {
		_, ok := view.Get("b")
		return ok
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Follow did not return after the channel closed")
	}
}
