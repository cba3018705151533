package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/maxpert/slotkeeper/db"
	"github.com/maxpert/slotkeeper/id"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeartbeaterJoinBeatLeave(t *testing.T) {
	clock := db.NewManualClock(time.UnixMilli(1_700_000_000_000))
	store := db.OpenTestStore(t, clock)
	ctx := context.Background()

	view := NewView("a", "a:8090")
	hb := NewHeartbeater(store, view, fixedMaxAge(testMaxAge), HeartbeatOptions{NodeID: "a", Address: "a:8090", Clock: clock.Now})

	require.NoError(t, hb.Join(ctx))

	clock.Advance(time.Second)
	require.NoError(t, hb.Beat(ctx))

	rows, err := store.GetAllHeartBeatData(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, clock.Now().UnixMilli(), rows[0].LastHeartbeat.UnixMilli())
	assert.True(t, rows[0].IsNewNode)

	require.NoError(t, hb.Leave(ctx))
	rows, err = store.GetAllHeartBeatData(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)

	m, ok := view.Get("a")
	require.True(t, ok)
	assert.Equal(t, StatusLeft, m.Status)
}

func TestHeartbeaterRecreatesReapedRow(t *testing.T) {
	clock := db.NewManualClock(time.UnixMilli(1_700_000_000_000))
	store := db.OpenTestStore(t, clock)
	ctx := context.Background()

	hb := NewHeartbeater(store, nil, fixedMaxAge(testMaxAge), HeartbeatOptions{NodeID: "a", Address: "a:8090", Clock: clock.Now})
	require.NoError(t, hb.Join(ctx))
	require.NoError(t, store.MarkNodeAsNotNew(ctx, "a"))

	// Reaped by a coordinator that thought we were dead
	require.NoError(t, store.RemoveNodeHeartbeat(ctx, "a"))

	require.NoError(t, hb.Beat(ctx))
	rows, err := store.GetAllHeartBeatData(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "a", rows[0].NodeID)
	assert.True(t, rows[0].IsNewNode, "rejoined node must be announced again")
}

func TestHeartbeaterResyncsView(t *testing.T) {
	clock := db.NewManualClock(time.UnixMilli(1_700_000_000_000))
	store := db.OpenTestStore(t, clock)
	ctx := context.Background()

	require.NoError(t, store.CreateNodeHeartbeatEntry(ctx, "b", "b:8090"))
	_, err := store.CreateCoordinatorEntry(ctx, "b", "b:8090")
	require.NoError(t, err)

	view := NewView("a", "a:8090")
	hb := NewHeartbeater(store, view, fixedMaxAge(testMaxAge), HeartbeatOptions{NodeID: "a", Address: "a:8090", Clock: clock.Now})
	require.NoError(t, hb.Join(ctx))
	require.NoError(t, hb.Beat(ctx))

	assert.Equal(t, []string{"a", "b"}, view.Alive())
	assert.Equal(t, "b", view.Coordinator())

	// b goes quiet
	clock.Advance(testMaxAge + time.Second)
	require.NoError(t, hb.Beat(ctx))
	assert.Equal(t, []string{"a"}, view.Alive())

	m, ok := view.Get("b")
	require.True(t, ok)
	assert.Equal(t, StatusDead, m.Status)
	assert.Equal(t, "b:8090", m.Address)
}

func TestHeartbeatersClaimDistinctIDPrefixes(t *testing.T) {
	clock := db.NewManualClock(time.UnixMilli(1_700_000_000_000))
	store := db.OpenTestStore(t, clock)
	ctx := context.Background()

	// Configured ids 1 and 65 share their low six bits.
	a := NewHeartbeater(store, nil, fixedMaxAge(testMaxAge), HeartbeatOptions{NodeID: "1", Address: "a:8090", Clock: clock.Now})
	b := NewHeartbeater(store, nil, fixedMaxAge(testMaxAge), HeartbeatOptions{NodeID: "65", Address: "b:8090", Clock: clock.Now})
	require.NoError(t, a.Join(ctx))
	require.NoError(t, b.Join(ctx))
	assert.NotEqual(t, a.IDPrefix(), b.IDPrefix())

	genA := id.NewMessageIDGenerator(a.IDPrefix())
	genB := id.NewMessageIDGenerator(b.IDPrefix())
	seen := make(map[int64]bool)
	for i := 0; i < 100; i++ {
		for _, next := range []int64{genA.NextID(), genB.NextID()} {
			assert.False(t, seen[next], "id %d generated twice", next)
			seen[next] = true
		}
	}

	// A rejoin keeps the prefix; leaving frees it for the next node.
	held := a.IDPrefix()
	require.NoError(t, a.Join(ctx))
	assert.Equal(t, held, a.IDPrefix())

	require.NoError(t, a.Leave(ctx))
	c := NewHeartbeater(store, nil, fixedMaxAge(testMaxAge), HeartbeatOptions{NodeID: "129", Address: "c:8090", Clock: clock.Now})
	require.NoError(t, c.Join(ctx))
	assert.Equal(t, held, c.IDPrefix())
}
