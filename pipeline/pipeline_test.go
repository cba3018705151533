package pipeline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jizhuozhi/go-future"
	"github.com/maxpert/slotkeeper/db"
	"github.com/maxpert/slotkeeper/id"
	"github.com/maxpert/slotkeeper/pipeline"
	"github.com/maxpert/slotkeeper/pipeline/mocks"
	"github.com/maxpert/slotkeeper/slot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type fixedTunables struct {
	batch   int
	latency time.Duration
}

func (f fixedTunables) BatchSize() int              { return f.batch }
func (f fixedTunables) FlushLatency() time.Duration { return f.latency }

type harness struct {
	pipe     *pipeline.Pipeline
	extender *mocks.MockSlotExtender
	counters *mocks.MockCounterStore
	handler  *mocks.MockLifecycleHandler
	clock    *db.ManualClock
}

func newHarness(t *testing.T, batch int) *harness {
	t.Helper()
	ctrl := gomock.NewController(t)
	h := &harness{
		extender: mocks.NewMockSlotExtender(ctrl),
		counters: mocks.NewMockCounterStore(ctrl),
		handler:  mocks.NewMockLifecycleHandler(ctrl),
		clock:    db.NewManualClock(time.UnixMilli(1_700_000_000_000)),
	}
	h.pipe = pipeline.New(h.extender, h.counters, h.handler,
		fixedTunables{batch: batch, latency: 100 * time.Millisecond},
		pipeline.Options{NodeID: "n1", QueueSize: 16, Clock: h.clock.Now})
	return h
}

func arrived(queue string, ids ...int64) *pipeline.MessagesArrived {
	ev := &pipeline.MessagesArrived{}
	for _, id := range ids {
		ev.Messages = append(ev.Messages, pipeline.Message{Queue: queue, ID: id})
	}
	return ev
}

func TestPipelineFlushesOnBatchSize(t *testing.T) {
	h := newHarness(t, 3)

	// Nothing reaches the store below the batch size.
	require.NoError(t, h.pipe.Apply(arrived("orders", 1), false))
	require.NoError(t, h.pipe.Apply(arrived("orders", 2), false))
	assert.Equal(t, 2, h.pipe.Buffered())

	gomock.InOrder(
		h.extender.EXPECT().ExtendSlot(gomock.Any(), "orders", []int64{1, 2, 3}).Return(nil),
		h.counters.EXPECT().IncrementMessageCounts(gomock.Any(), map[string]int64{"orders": 3}).Return(nil),
		h.counters.EXPECT().SetNodeToLastPublishedID(gomock.Any(), "n1", int64(3)).Return(nil),
	)
	require.NoError(t, h.pipe.Apply(arrived("orders", 3), false))
	assert.Equal(t, 0, h.pipe.Buffered())
}

func TestPipelineFlushesOnEndOfBatch(t *testing.T) {
	h := newHarness(t, 100)

	gomock.InOrder(
		h.extender.EXPECT().ExtendSlot(gomock.Any(), "a", []int64{1, 3}).Return(nil),
		h.extender.EXPECT().ExtendSlot(gomock.Any(), "b", []int64{2}).Return(nil),
		h.counters.EXPECT().IncrementMessageCounts(gomock.Any(), map[string]int64{"a": 2, "b": 1}).Return(nil),
		h.counters.EXPECT().SetNodeToLastPublishedID(gomock.Any(), "n1", int64(3)).Return(nil),
	)

	ev := &pipeline.MessagesArrived{
		Messages: []pipeline.Message{
			{Queue: "a", ID: 1},
			{Queue: "b", ID: 2},
			{Queue: "a", ID: 3},
		},
		EndOfBatch: true,
	}
	require.NoError(t, h.pipe.Apply(ev, false))
	assert.Equal(t, 0, h.pipe.Buffered())
}

func TestPipelineFlushesOnLatency(t *testing.T) {
	h := newHarness(t, 100)

	require.NoError(t, h.pipe.Apply(arrived("orders", 7), false))
	h.clock.Advance(150 * time.Millisecond)

	gomock.InOrder(
		h.handler.EXPECT().ChannelOpened(gomock.Any(), pipeline.ChannelOpened{ChannelID: "c1"}).Return(nil),
		h.extender.EXPECT().ExtendSlot(gomock.Any(), "orders", []int64{7}).Return(nil),
		h.counters.EXPECT().IncrementMessageCounts(gomock.Any(), map[string]int64{"orders": 1}).Return(nil),
		h.counters.EXPECT().SetNodeToLastPublishedID(gomock.Any(), "n1", int64(7)).Return(nil),
	)
	require.NoError(t, h.pipe.Apply(&pipeline.ChannelOpened{ChannelID: "c1"}, false))
}

func TestPipelineWatermarkNeverRegresses(t *testing.T) {
	h := newHarness(t, 100)

	h.extender.EXPECT().ExtendSlot(gomock.Any(), "orders", gomock.Any()).Return(nil).Times(2)
	h.counters.EXPECT().IncrementMessageCounts(gomock.Any(), gomock.Any()).Return(nil).Times(2)
	h.counters.EXPECT().SetNodeToLastPublishedID(gomock.Any(), "n1", int64(5)).Return(nil).Times(1)

	require.NoError(t, h.pipe.Apply(arrived("orders", 5), true))
	require.NoError(t, h.pipe.Apply(arrived("orders", 3), true))
}

type issuedIDs struct {
	last int64
}

func (i *issuedIDs) Last() int64 { return i.last }

func TestPipelineAdvancesWatermarkWhenIdle(t *testing.T) {
	ctrl := gomock.NewController(t)
	counters := mocks.NewMockCounterStore(ctrl)
	clock := db.NewManualClock(time.UnixMilli(1_700_000_000_000))
	issued := &issuedIDs{last: 42}
	pipe := pipeline.New(mocks.NewMockSlotExtender(ctrl), counters, mocks.NewMockLifecycleHandler(ctrl),
		fixedTunables{batch: 100, latency: 100 * time.Millisecond},
		pipeline.Options{NodeID: "n1", QueueSize: 16, Clock: clock.Now, IDs: issued})

	// The first tick only notes the generator position; an id issued
	// before the next one postpones the advance again.
	pipe.AdvanceIdle()
	issued.last = 43
	pipe.AdvanceIdle()

	mark := id.Floor(clock.Now()) - 1
	counters.EXPECT().SetNodeToLastPublishedID(gomock.Any(), "n1", mark).Return(nil)
	pipe.AdvanceIdle()

	// Nothing new within the same millisecond.
	pipe.AdvanceIdle()

	// Buffered messages hold the watermark where it is.
	require.NoError(t, pipe.Apply(arrived("orders", mark+7), false))
	clock.Advance(10 * time.Millisecond)
	pipe.AdvanceIdle()
	pipe.AdvanceIdle()
	assert.Equal(t, 1, pipe.Buffered())
}

func TestPipelineFlushErrorsDoNotFailEvent(t *testing.T) {
	h := newHarness(t, 1)

	h.extender.EXPECT().ExtendSlot(gomock.Any(), "orders", []int64{1}).Return(errors.New("disk full"))
	h.counters.EXPECT().IncrementMessageCounts(gomock.Any(), gomock.Any()).Return(nil)
	h.counters.EXPECT().SetNodeToLastPublishedID(gomock.Any(), "n1", int64(1)).Return(nil)

	require.NoError(t, h.pipe.Apply(arrived("orders", 1), false))
	assert.Equal(t, 0, h.pipe.Buffered())
}

func TestPipelineRejectsMalformedEvents(t *testing.T) {
	h := newHarness(t, 10)
	h.pipe.Start()
	defer func() { _ = h.pipe.Stop(context.Background()) }()

	ctx := context.Background()
	cases := []pipeline.Event{
		nil,
		&pipeline.MessagesArrived{},
		arrived("", 1),
		arrived("orders", 0),
		&pipeline.ChannelOpened{},
		&pipeline.SubscriptionOpened{SubscriptionID: "s1", ChannelID: "c1"},
		&pipeline.SubscriptionClosed{},
	}
	for _, ev := range cases {
		_, err := h.pipe.Submit(ctx, ev).Get()
		assert.ErrorIs(t, err, pipeline.ErrMalformedEvent)
	}
}

func TestPipelineAppliesInSubmissionOrder(t *testing.T) {
	h := newHarness(t, 10)

	gomock.InOrder(
		h.handler.EXPECT().ChannelOpened(gomock.Any(), pipeline.ChannelOpened{ChannelID: "c1", Client: "app"}).Return(nil),
		h.handler.EXPECT().SubscriptionOpened(gomock.Any(), pipeline.SubscriptionOpened{SubscriptionID: "s1", ChannelID: "c1", Queue: "orders"}).Return(nil),
		h.handler.EXPECT().DeliveryStopped(gomock.Any(), pipeline.DeliveryStopped{ChannelID: "c1"}).Return(nil),
		h.handler.EXPECT().DeliveryStarted(gomock.Any(), pipeline.DeliveryStarted{ChannelID: "c1"}).Return(nil),
		h.handler.EXPECT().SubscriptionClosed(gomock.Any(), pipeline.SubscriptionClosed{SubscriptionID: "s1"}).Return(nil),
		h.handler.EXPECT().ChannelClosed(gomock.Any(), pipeline.ChannelClosed{ChannelID: "c1"}).Return(nil),
	)

	events := []pipeline.Event{
		&pipeline.ChannelOpened{ChannelID: "c1", Client: "app"},
		&pipeline.SubscriptionOpened{SubscriptionID: "s1", ChannelID: "c1", Queue: "orders"},
		&pipeline.DeliveryStopped{ChannelID: "c1"},
		&pipeline.DeliveryStarted{ChannelID: "c1"},
		&pipeline.SubscriptionClosed{SubscriptionID: "s1"},
		&pipeline.ChannelClosed{ChannelID: "c1"},
	}

	ctx := context.Background()
	var futures []*future.Future[error]
	for _, ev := range events {
		futures = append(futures, h.pipe.Submit(ctx, ev))
	}

	h.pipe.Start()
	for _, f := range futures {
		_, err := f.Get()
		require.NoError(t, err)
	}
	require.NoError(t, h.pipe.Stop(ctx))
}

func TestPipelineHandlerErrorReachesSubmitter(t *testing.T) {
	h := newHarness(t, 10)
	h.pipe.Start()

	h.handler.EXPECT().ChannelClosed(gomock.Any(), gomock.Any()).Return(pipeline.ErrUnknownChannel)

	ctx := context.Background()
	_, err := h.pipe.Submit(ctx, &pipeline.ChannelClosed{ChannelID: "ghost"}).Get()
	assert.ErrorIs(t, err, pipeline.ErrUnknownChannel)

	// The pipeline keeps running after non-fatal failures.
	assert.NoError(t, h.pipe.Err())
	require.NoError(t, h.pipe.Stop(ctx))
}

func TestPipelineStopsOnExpirationStartFailure(t *testing.T) {
	h := newHarness(t, 10)
	h.pipe.Start()

	cause := errors.New("expiration store unavailable")
	h.handler.EXPECT().ExpirationWorkerStarted(gomock.Any()).Return(cause)

	ctx := context.Background()
	_, err := h.pipe.Submit(ctx, &pipeline.ExpirationWorkerStarted{}).Get()
	var fatal *pipeline.FatalError
	require.ErrorAs(t, err, &fatal)
	assert.ErrorIs(t, err, cause)

	select {
	case <-h.pipe.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not stop")
	}

	require.ErrorAs(t, h.pipe.Err(), &fatal)
	assert.Equal(t, "expiration_worker_started", fatal.Kind)

	_, err = h.pipe.Submit(ctx, &pipeline.ChannelOpened{ChannelID: "c1"}).Get()
	assert.ErrorIs(t, err, pipeline.ErrStopped)
}

func TestPipelineShutdownFlushesBuffer(t *testing.T) {
	h := newHarness(t, 100)

	require.NoError(t, h.pipe.Apply(arrived("orders", 1, 2), false))

	gomock.InOrder(
		h.extender.EXPECT().ExtendSlot(gomock.Any(), "orders", []int64{1, 2}).Return(nil),
		h.counters.EXPECT().IncrementMessageCounts(gomock.Any(), map[string]int64{"orders": 2}).Return(nil),
		h.counters.EXPECT().SetNodeToLastPublishedID(gomock.Any(), "n1", int64(2)).Return(nil),
	)

	h.pipe.Start()
	ctx := context.Background()
	require.NoError(t, h.pipe.Stop(ctx))

	_, err := h.pipe.Submit(ctx, arrived("orders", 3)).Get()
	assert.ErrorIs(t, err, pipeline.ErrStopped)
	assert.NoError(t, h.pipe.Err())
}

func TestPipelineWithStore(t *testing.T) {
	clock := db.NewManualClock(time.UnixMilli(1_700_000_000_000))
	store := db.OpenTestStore(t, clock)
	slots := slot.NewCoordinator(store, slot.Options{NodeID: "n1", Capacity: 3, Clock: clock.Now})

	p := pipeline.New(slots, store, pipeline.NewTracker(nil, nil),
		fixedTunables{batch: 3, latency: time.Minute},
		pipeline.Options{NodeID: "n1", Clock: clock.Now})

	ctx := context.Background()
	require.NoError(t, p.Apply(arrived("orders", 1), false))
	require.NoError(t, p.Apply(arrived("orders", 2), false))

	counts, err := store.GetAllMessageCounts(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts["orders"])

	require.NoError(t, p.Apply(arrived("orders", 3), false))

	counts, err = store.GetAllMessageCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts["orders"])

	published, err := store.GetNodeToLastPublishedID(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), published)

	sealed, err := slots.Slots(ctx, "orders")
	require.NoError(t, err)
	require.Len(t, sealed, 1)
	assert.Equal(t, int64(1), sealed[0].StartMessageID)
	assert.Equal(t, int64(3), sealed[0].EndMessageID)
}
