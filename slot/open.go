package slot

import (
	"context"
	"sync"
	"time"

	"github.com/maxpert/slotkeeper/db"
	"github.com/maxpert/slotkeeper/telemetry"
	"github.com/rs/zerolog/log"
)

// openSlot is the node-local slot a queue's ingested ids are accumulating in.
// firstID and lastID bound the ids recorded since the last seal.
type openSlot struct {
	mu      sync.Mutex
	queue   string
	firstID int64
	lastID  int64
	count   int
	firstAt time.Time
}

func (o *openSlot) record(id int64, now time.Time) {
	if o.count == 0 {
		o.firstAt = now
		o.firstID = id
		o.lastID = id
	}
	if id < o.firstID {
		o.firstID = id
	}
	if id > o.lastID {
		o.lastID = id
	}
	o.count++
}

func (o *openSlot) reset() {
	o.count = 0
	o.firstID = 0
	o.lastID = 0
	o.firstAt = time.Time{}
}

// OpenSlot is a snapshot of an open slot.
type OpenSlot struct {
	Queue  string    `json:"queue"`
	LastID int64     `json:"last_id"`
	Count  int       `json:"count"`
	Since  time.Time `json:"since"`
}

func (c *Coordinator) openFor(queue string) *openSlot {
	o, loaded := c.open.LoadOrCompute(queue, func() *openSlot {
		return &openSlot{queue: queue}
	})
	if !loaded {
		telemetry.OpenSlots.Inc()
	}
	return o
}

// ExtendSlot grows the open slot of queue by ids, which must be durably
// stored already. Every Capacity ids the open slot is sealed into a
// persisted unassigned slot. Every id is recorded even when a seal fails;
// the ids stay open and the first seal error is returned.
func (c *Coordinator) ExtendSlot(ctx context.Context, queue string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	o := c.openFor(queue)
	o.mu.Lock()
	defer o.mu.Unlock()

	var sealErr error
	for _, id := range ids {
		o.record(id, c.now())
		if sealErr == nil && o.count >= c.capacity {
			sealErr = c.sealLocked(ctx, o)
		}
	}
	return sealErr
}

// sealLocked persists the open slot. Ids above the queue watermark become
// [watermark+1, lastID]. Ids at or below it arrived late, after another
// node already sealed past them; the parts of their range no live slot
// covers become fresh unassigned slots.
//
// The open slot is only reset once the transaction commits. A seal that
// loses a creation race to another node keeps its ids open and is retried.
func (c *Coordinator) sealLocked(ctx context.Context, o *openSlot) error {
	if o.count == 0 {
		return nil
	}
	first, end := o.firstID, o.lastID

	var created []db.Slot
	err := c.inTxn(ctx, func(txn db.Txn) error {
		created = created[:0]
		last, err := txn.LockQueueWatermark(ctx, o.queue)
		if err != nil {
			return err
		}

		if first <= last {
			late := db.Slot{
				StorageQueue:   o.queue,
				StartMessageID: first,
				EndMessageID:   min(end, last),
				State:          db.SlotUnassigned,
			}
			live, err := txn.GetAllSlotsByQueueName(ctx, o.queue)
			if err != nil {
				return err
			}
			for _, p := range uncovered(late, live) {
				if err := txn.CreateSlot(ctx, p); err != nil {
					return err
				}
				created = append(created, p)
			}
		}

		if end > last {
			s := db.Slot{
				StorageQueue:   o.queue,
				StartMessageID: last + 1,
				EndMessageID:   end,
				State:          db.SlotUnassigned,
			}
			if err := txn.CreateSlot(ctx, s); err != nil {
				return err
			}
			if err := txn.SetQueueToLastAssignedID(ctx, o.queue, end); err != nil {
				return err
			}
			created = append(created, s)
		}
		return nil
	})

	switch {
	case err == nil:
	case db.IsIntegrityViolation(err):
		telemetry.SlotSealConflictsTotal.Inc()
		log.Debug().Str("queue", o.queue).Int64("end", end).Msg("Slot range created concurrently, keeping ids open")
		return nil
	default:
		return err
	}

	o.reset()
	for _, s := range created {
		telemetry.SlotsSealedTotal.Inc()
		log.Debug().Stringer("slot", s).Msg("Slot sealed")
	}
	return nil
}

// SealIdle seals every open slot that has been accumulating for at least
// the window timeout. It returns how many slots were sealed.
func (c *Coordinator) SealIdle(ctx context.Context, now time.Time) (int, error) {
	return c.seal(ctx, func(o *openSlot) bool {
		return now.Sub(o.firstAt) >= c.window
	})
}

// SealAll seals every non-empty open slot.
func (c *Coordinator) SealAll(ctx context.Context) (int, error) {
	return c.seal(ctx, func(*openSlot) bool { return true })
}

func (c *Coordinator) seal(ctx context.Context, due func(*openSlot) bool) (int, error) {
	var (
		sealed   int
		firstErr error
	)
	c.open.Range(func(_ string, o *openSlot) bool {
		o.mu.Lock()
		defer o.mu.Unlock()

		if o.count == 0 || !due(o) {
			return true
		}
		if err := c.sealLocked(ctx, o); err != nil {
			log.Warn().Err(err).Str("queue", o.queue).Msg("Failed to seal open slot")
			if firstErr == nil {
				firstErr = err
			}
			return true
		}
		sealed++
		return true
	})
	return sealed, firstErr
}

// DiscardOpen drops the open slot of queue without sealing it.
func (c *Coordinator) DiscardOpen(queue string) bool {
	if _, ok := c.open.LoadAndDelete(queue); !ok {
		return false
	}
	telemetry.OpenSlots.Dec()
	return true
}

// OpenSlots returns a snapshot of every non-empty open slot.
func (c *Coordinator) OpenSlots() []OpenSlot {
	var out []OpenSlot
	c.open.Range(func(queue string, o *openSlot) bool {
		o.mu.Lock()
		if o.count > 0 {
			out = append(out, OpenSlot{Queue: queue, LastID: o.lastID, Count: o.count, Since: o.firstAt})
		}
		o.mu.Unlock()
		return true
	})
	return out
}

// Start runs the idle-seal loop until Stop.
func (c *Coordinator) Start() {
	c.wg.Add(1)
	go c.sealLoop()
	log.Info().
		Int("capacity", c.capacity).
		Dur("window", c.window).
		Msg("Slot coordinator started")
}

// Stop ends the idle-seal loop and seals whatever is still open.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()

	n, err := c.SealAll(ctx)
	log.Info().Int("sealed", n).Msg("Slot coordinator stopped")
	return err
}

func (c *Coordinator) sealLoop() {
	defer c.wg.Done()

	interval := c.window / 2
	if interval <= 0 {
		interval = c.window
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			if _, err := c.SealIdle(context.Background(), c.now()); err != nil {
				log.Warn().Err(err).Msg("Idle seal pass failed")
			}
		}
	}
}
