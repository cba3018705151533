package slot

import (
	"context"
	"testing"

	"github.com/maxpert/slotkeeper/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedOverlap stores [1,100] assigned to node-a and [50,150] assigned to
// node-b, the shape left behind by a failover recomputing from stale data.
func seedOverlap(t *testing.T, store db.Store) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, store.CreateSlot(ctx, db.Slot{StorageQueue: "q", StartMessageID: 1, EndMessageID: 100}))
	require.NoError(t, store.CreateSlot(ctx, db.Slot{StorageQueue: "q", StartMessageID: 50, EndMessageID: 150}))
	_, err := store.UpdateSlotAssignment(ctx, "node-a", "q", 1, 100)
	require.NoError(t, err)
	_, err = store.UpdateSlotAssignment(ctx, "node-b", "q", 50, 150)
	require.NoError(t, err)
	require.NoError(t, store.SetQueueToLastAssignedID(ctx, "q", 150))
}

func TestDetectOverlap(t *testing.T) {
	store := db.OpenTestStore(t, nil)
	ctx := context.Background()
	c := newTestCoordinator(t, store, "node-a", 100)
	seedOverlap(t, store)

	report, err := c.Verify(ctx, "q")
	require.NoError(t, err)
	assert.False(t, report.Healthy())
	require.Len(t, report.Conflicts, 1)

	s, err := c.DetectOverlap(ctx, "node-a", "q")
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.StartMessageID)
	assert.Equal(t, int64(100), s.EndMessageID)
	assert.Equal(t, db.SlotOverlapped, s.State)
	assert.True(t, s.Overlapped)

	again, err := c.DetectOverlap(ctx, "node-a", "q")
	require.NoError(t, err)
	assert.Equal(t, s.StartMessageID, again.StartMessageID)

	report, err = c.Verify(ctx, "q")
	require.NoError(t, err)
	assert.True(t, report.Healthy(), "a flagged overlap is not a conflict")

	// Overlapped slots survive a plain delete until reconciled.
	deleted, err := store.DeleteSlot(ctx, "q", 1, 100)
	require.NoError(t, err)
	assert.False(t, deleted)

	require.NoError(t, c.DeleteOverlappedSlots(ctx, "node-a"))
	slots, err := c.Slots(ctx, "q")
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, int64(50), slots[0].StartMessageID)
}

func TestDetectOverlapNone(t *testing.T) {
	store := db.OpenTestStore(t, nil)
	ctx := context.Background()
	c := newTestCoordinator(t, store, "node-a", 10)

	require.NoError(t, c.ExtendSlot(ctx, "q", idRange(1, 20)))
	_, err := c.RequestSlot(ctx, "q", "node-a")
	require.NoError(t, err)

	_, err = c.DetectOverlap(ctx, "node-a", "q")
	assert.ErrorIs(t, err, ErrNoOverlap)
}

func TestResolveOverlapSplitsUncoveredRange(t *testing.T) {
	store := db.OpenTestStore(t, nil)
	ctx := context.Background()
	c := newTestCoordinator(t, store, "node-a", 100)
	seedOverlap(t, store)

	s, err := c.DetectOverlap(ctx, "node-a", "q")
	require.NoError(t, err)

	parts, err := c.ResolveOverlap(ctx, s)
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, int64(1), parts[0].StartMessageID)
	assert.Equal(t, int64(49), parts[0].EndMessageID)

	report, err := c.Verify(ctx, "q")
	require.NoError(t, err)
	assert.True(t, report.Healthy())
	assert.Empty(t, report.Gaps)

	_, err = c.ResolveOverlap(ctx, s)
	assert.ErrorIs(t, err, ErrSlotNotFound)

	_, err = c.ResolveOverlap(ctx, parts[0])
	assert.ErrorIs(t, err, ErrNotOverlapped)
}

func TestReassignNodeSlotsResolvesOverlaps(t *testing.T) {
	store := db.OpenTestStore(t, nil)
	ctx := context.Background()
	c := newTestCoordinator(t, store, "node-b", 100)
	seedOverlap(t, store)

	_, err := c.DetectOverlap(ctx, "node-a", "q")
	require.NoError(t, err)

	n, err := c.ReassignNodeSlots(ctx, "node-a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	s, err := c.RequestSlot(ctx, "q", "node-c")
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.StartMessageID)
	assert.Equal(t, int64(49), s.EndMessageID)
}

func TestUncovered(t *testing.T) {
	mk := func(start, end int64) db.Slot {
		return db.Slot{StorageQueue: "q", StartMessageID: start, EndMessageID: end}
	}

	tests := []struct {
		name   string
		slot   db.Slot
		others []db.Slot
		want   [][2]int64
	}{
		{name: "no others", slot: mk(1, 10), want: [][2]int64{{1, 10}}},
		{name: "fully covered", slot: mk(5, 10), others: []db.Slot{mk(1, 20)}, want: nil},
		{name: "covered tail", slot: mk(1, 100), others: []db.Slot{mk(50, 150)}, want: [][2]int64{{1, 49}}},
		{name: "covered head", slot: mk(50, 150), others: []db.Slot{mk(1, 100)}, want: [][2]int64{{101, 150}}},
		{
			name:   "holes between others",
			slot:   mk(1, 100),
			others: []db.Slot{mk(60, 70), mk(10, 20), mk(15, 30)},
			want:   [][2]int64{{1, 9}, {31, 59}, {71, 100}},
		},
		{name: "other queue ignored", slot: mk(1, 10), others: []db.Slot{{StorageQueue: "r", StartMessageID: 1, EndMessageID: 10}}, want: [][2]int64{{1, 10}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got [][2]int64
			for _, p := range uncovered(tt.slot, tt.others) {
				assert.Equal(t, db.SlotUnassigned, p.State)
				got = append(got, [2]int64{p.StartMessageID, p.EndMessageID})
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildReportGaps(t *testing.T) {
	slots := []db.Slot{
		{StorageQueue: "q", StartMessageID: 11, EndMessageID: 20, State: db.SlotAssigned, AssignedNodeID: "a"},
		{StorageQueue: "q", StartMessageID: 31, EndMessageID: 40, State: db.SlotUnassigned},
	}
	r := buildReport("q", 50, slots)
	assert.True(t, r.Healthy())
	assert.Equal(t, []Range{{1, 10}, {21, 30}, {41, 50}}, r.Gaps)

	r = buildReport("q", 30, slots)
	assert.False(t, r.Healthy())
	require.Len(t, r.BeyondWatermark, 1)
}
