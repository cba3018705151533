package pipeline

import (
	"context"
	"time"

	"github.com/maxpert/slotkeeper/id"
	"github.com/maxpert/slotkeeper/telemetry"
	"github.com/rs/zerolog/log"
)

// batcher buffers arrived messages between flushes. It is only touched by
// the consumer goroutine.
type batcher struct {
	extender SlotExtender
	counters CounterStore
	nodeID   string
	now      func() time.Time

	buffer        []Message
	since         time.Time
	lastPublished int64

	ids      IssuedIDs
	idleMark int64
}

func newBatcher(extender SlotExtender, counters CounterStore, nodeID string, now func() time.Time) *batcher {
	return &batcher{
		extender: extender,
		counters: counters,
		nodeID:   nodeID,
		now:      now,
	}
}

func (b *batcher) add(msgs []Message) {
	if len(b.buffer) == 0 {
		b.since = b.now()
	}
	b.buffer = append(b.buffer, msgs...)
}

func (b *batcher) size() int {
	return len(b.buffer)
}

// oldest returns when the first buffered message arrived.
func (b *batcher) oldest() (time.Time, bool) {
	if len(b.buffer) == 0 {
		return time.Time{}, false
	}
	return b.since, true
}

// flush extends slots per queue in arrival order, applies the counter
// increments in one transaction and advances the publish watermark. Failures
// are logged and the batch is dropped; the messages stay durably stored.
func (b *batcher) flush(ctx context.Context, reason string) {
	if len(b.buffer) == 0 {
		return
	}
	start := time.Now()

	var order []string
	ids := make(map[string][]int64)
	counts := make(map[string]int64)
	var maxID int64
	for _, m := range b.buffer {
		if _, ok := ids[m.Queue]; !ok {
			order = append(order, m.Queue)
		}
		ids[m.Queue] = append(ids[m.Queue], m.ID)
		counts[m.Queue]++
		if m.ID > maxID {
			maxID = m.ID
		}
	}
	size := len(b.buffer)
	b.buffer = b.buffer[:0]

	for _, q := range order {
		if err := b.extender.ExtendSlot(ctx, q, ids[q]); err != nil {
			telemetry.PipelineEventErrorsTotal.With("flush").Inc()
			log.Error().Err(err).Str("queue", q).Int("messages", len(ids[q])).Msg("Failed to extend slot")
		}
	}

	if err := b.counters.IncrementMessageCounts(ctx, counts); err != nil {
		telemetry.PipelineEventErrorsTotal.With("flush").Inc()
		log.Error().Err(err).Int("queues", len(counts)).Msg("Failed to increment message counts")
	}

	if maxID > b.lastPublished {
		if err := b.counters.SetNodeToLastPublishedID(ctx, b.nodeID, maxID); err != nil {
			telemetry.PipelineEventErrorsTotal.With("flush").Inc()
			log.Error().Err(err).Int64("message_id", maxID).Msg("Failed to advance publish watermark")
		} else {
			b.lastPublished = maxID
		}
	}

	telemetry.PipelineFlushesTotal.With(reason).Inc()
	telemetry.PipelineFlushSize.Observe(float64(size))
	telemetry.PipelineFlushSeconds.Observe(time.Since(start).Seconds())

	log.Debug().
		Str("reason", reason).
		Int("messages", size).
		Int("queues", len(order)).
		Msg("Pipeline batch flushed")
}

// advanceIdle raises the publish watermark to just below the current
// millisecond once nothing is buffered and no id was issued since the
// previous idle tick. Every id this node generates later is above it, so an
// idle node stops holding back the cluster safe zone.
func (b *batcher) advanceIdle(ctx context.Context) {
	if b.ids == nil {
		return
	}
	issued := b.ids.Last()
	if len(b.buffer) > 0 || issued != b.idleMark {
		b.idleMark = issued
		return
	}

	mark := id.Floor(b.now()) - 1
	if mark <= b.lastPublished {
		return
	}
	if err := b.counters.SetNodeToLastPublishedID(ctx, b.nodeID, mark); err != nil {
		telemetry.PipelineEventErrorsTotal.With("idle_watermark").Inc()
		log.Warn().Err(err).Int64("message_id", mark).Msg("Failed to advance idle publish watermark")
		return
	}
	b.lastPublished = mark
	log.Debug().Int64("message_id", mark).Msg("Idle publish watermark advanced")
}
