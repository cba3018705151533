package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/maxpert/slotkeeper/db"
	"github.com/maxpert/slotkeeper/slot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticLeader bool

func (s staticLeader) IsCoordinator(context.Context) (bool, error) { return bool(s), nil }

func idRange(from, to int64) []int64 {
	ids := make([]int64, 0, to-from+1)
	for id := from; id <= to; id++ {
		ids = append(ids, id)
	}
	return ids
}

func TestDetectorReassignsDeadNodeSlots(t *testing.T) {
	clock := db.NewManualClock(time.UnixMilli(1_700_000_000_000))
	store := db.OpenTestStore(t, clock)
	ctx := context.Background()

	x := slot.NewCoordinator(store, slot.Options{NodeID: "X", Capacity: 100, WindowTimeout: time.Minute, Clock: clock.Now})
	y := slot.NewCoordinator(store, slot.Options{NodeID: "Y", Capacity: 100, WindowTimeout: time.Minute, Clock: clock.Now})

	require.NoError(t, store.CreateNodeHeartbeatEntry(ctx, "X", "x:8090"))
	require.NoError(t, store.CreateNodeHeartbeatEntry(ctx, "Y", "y:8090"))
	xPrefix, err := store.AcquireIDPrefix(ctx, "X", 64)
	require.NoError(t, err)

	require.NoError(t, x.ExtendSlot(ctx, "q1", idRange(1, 100)))
	held, err := x.RequestSlot(ctx, "q1", "X")
	require.NoError(t, err)
	require.Equal(t, "X", held.AssignedNodeID)
	require.NoError(t, store.SetNodeToLastPublishedID(ctx, "X", 100))

	electionY := newTestElection(store, clock, "Y", nil)
	require.NoError(t, electionY.Step(ctx))
	require.Equal(t, Coordinator, electionY.State())

	bc := &recordingBroadcaster{}
	detector := NewDetector(store, electionY, y, bc, fixedMaxAge(testMaxAge), DetectorOptions{NodeID: "Y", Clock: clock.Now})

	// Both alive: nothing dead, both announced once as new
	res, err := detector.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Dead)
	assert.ElementsMatch(t, []string{"X", "Y"}, res.Added)

	// X stops beating, Y keeps going
	clock.Advance(testMaxAge + time.Millisecond)
	ok, err := store.UpdateNodeHeartbeat(ctx, "Y")
	require.NoError(t, err)
	require.True(t, ok)

	res, err = detector.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"X"}, res.Dead)
	assert.Equal(t, 1, res.Reassigned)
	assert.Empty(t, res.Added)

	got, err := y.RequestSlot(ctx, "q1", "Y")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.StartMessageID)
	assert.Equal(t, int64(100), got.EndMessageID)
	assert.Equal(t, "Y", got.AssignedNodeID)

	publishers, err := store.GetMessagePublishedNodes(ctx)
	require.NoError(t, err)
	assert.NotContains(t, publishers, "X")

	// The dead node's id prefix is free again.
	zPrefix, err := store.AcquireIDPrefix(ctx, "Z", 64)
	require.NoError(t, err)
	assert.Equal(t, xPrefix, zPrefix)

	rows, err := store.GetAllHeartBeatData(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Y", rows[0].NodeID)

	removed := bc.ofType(db.MemberRemoved)
	require.Len(t, removed, 1)
	assert.Equal(t, "X", removed[0].member)
	assert.Equal(t, []string{"Y"}, removed[0].nodes)
}

func TestDetectorSkipsWhenNotCoordinator(t *testing.T) {
	clock := db.NewManualClock(time.UnixMilli(1_700_000_000_000))
	store := db.OpenTestStore(t, clock)
	ctx := context.Background()

	require.NoError(t, store.CreateNodeHeartbeatEntry(ctx, "X", "x:8090"))
	clock.Advance(time.Hour)

	y := slot.NewCoordinator(store, slot.Options{NodeID: "Y"})
	detector := NewDetector(store, staticLeader(false), y, nil, fixedMaxAge(testMaxAge), DetectorOptions{NodeID: "Y", Clock: clock.Now})

	res, err := detector.Sweep(ctx)
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	rows, err := store.GetAllHeartBeatData(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestDetectorStopsWhenDeposedMidSweep(t *testing.T) {
	clock := db.NewManualClock(time.UnixMilli(1_700_000_000_000))
	store := db.OpenTestStore(t, clock)
	ctx := context.Background()

	require.NoError(t, store.CreateNodeHeartbeatEntry(ctx, "X", "x:8090"))
	clock.Advance(time.Hour)

	leader := &flippingLeader{answers: []bool{true, false}}
	y := slot.NewCoordinator(store, slot.Options{NodeID: "Y"})
	detector := NewDetector(store, leader, y, nil, fixedMaxAge(testMaxAge), DetectorOptions{NodeID: "Y", Clock: clock.Now})

	res, err := detector.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Dead)

	rows, err := store.GetAllHeartBeatData(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

type flippingLeader struct {
	answers []bool
	calls   int
}

func (f *flippingLeader) IsCoordinator(context.Context) (bool, error) {
	i := f.calls
	f.calls++
	if i >= len(f.answers) {
		return f.answers[len(f.answers)-1], nil
	}
	return f.answers[i], nil
}

func TestDetectorNeverDeclaresItselfDead(t *testing.T) {
	clock := db.NewManualClock(time.UnixMilli(1_700_000_000_000))
	store := db.OpenTestStore(t, clock)
	ctx := context.Background()

	require.NoError(t, store.CreateNodeHeartbeatEntry(ctx, "Y", "y:8090"))
	require.NoError(t, store.MarkNodeAsNotNew(ctx, "Y"))
	clock.Advance(time.Hour)

	y := slot.NewCoordinator(store, slot.Options{NodeID: "Y"})
	detector := NewDetector(store, staticLeader(true), y, nil, fixedMaxAge(testMaxAge), DetectorOptions{NodeID: "Y", Clock: clock.Now})

	res, err := detector.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Dead)
}
