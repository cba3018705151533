package main

import (
	"context"
	"testing"
	"time"

	"github.com/maxpert/slotkeeper/db"
	"github.com/maxpert/slotkeeper/notify"
	"github.com/maxpert/slotkeeper/slot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueDeleteReachesPeers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := db.OpenTestStore(t, db.NewManualClock(time.Unix(1000, 0)))
	a := slot.NewCoordinator(store, slot.Options{NodeID: "A", Capacity: 10, WindowTimeout: time.Minute})
	b := slot.NewCoordinator(store, slot.Options{NodeID: "B", Capacity: 10, WindowTimeout: time.Minute})

	relayA, err := notify.NewRelay(store, notify.NewHub(0), notify.Options{NodeID: "A"})
	require.NoError(t, err)
	hubB := notify.NewHub(0)
	relayB, err := notify.NewRelay(store, hubB, notify.Options{NodeID: "B"})
	require.NoError(t, err)

	ch, unsubscribe := hubB.Subscribe(notify.Filter{Kinds: []notify.Kind{notify.KindNotification}})
	defer unsubscribe()
	go followQueueDeletes(ctx, ch, b)

	require.NoError(t, b.ExtendSlot(ctx, "orders", []int64{1, 2}))
	require.Len(t, b.OpenSlots(), 1)

	slots := &clusterSlots{
		Coordinator: a,
		relay:       relayA,
		peers:       func() []string { return []string{"A", "B"} },
		nodeID:      "A",
	}
	require.NoError(t, slots.DeleteQueue(ctx, "orders"))

	n, err := relayB.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Eventually(t, func() bool {
		return len(b.OpenSlots()) == 0
	}, 2*time.Second, 10*time.Millisecond)

	n, err = relayA.PollOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "origin is not notified")
}

func TestQueueDeleteWithoutPeers(t *testing.T) {
	ctx := context.Background()
	store := db.OpenTestStore(t, nil)
	a := slot.NewCoordinator(store, slot.Options{NodeID: "A", Capacity: 10, WindowTimeout: time.Minute})
	relayA, err := notify.NewRelay(store, notify.NewHub(0), notify.Options{NodeID: "A"})
	require.NoError(t, err)

	require.NoError(t, a.ExtendSlot(ctx, "orders", []int64{1}))
	slots := &clusterSlots{Coordinator: a, relay: relayA, peers: func() []string { return []string{"A"} }, nodeID: "A"}
	require.NoError(t, slots.DeleteQueue(ctx, "orders"))
	assert.Empty(t, a.OpenSlots())
}
