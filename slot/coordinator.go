package slot

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/maxpert/slotkeeper/db"
	"github.com/maxpert/slotkeeper/telemetry"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

const (
	DefaultCapacity      = 1000
	DefaultWindowTimeout = 5 * time.Second

	// maxAssignAttempts bounds retries when another node claims the same slot
	// between select and update.
	maxAssignAttempts = 3
)

// Options configures a Coordinator.
type Options struct {
	NodeID        string
	Capacity      int
	WindowTimeout time.Duration
	Clock         func() time.Time
}

// Coordinator owns the slot state machine for one node. All cross-node
// correctness comes from store transactions; the only in-process state is
// the per-queue open slot being grown by ingestion.
type Coordinator struct {
	store    db.Store
	nodeID   string
	capacity int
	window   time.Duration
	now      func() time.Time

	open *xsync.MapOf[string, *openSlot]

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCoordinator creates a slot coordinator bound to store.
func NewCoordinator(store db.Store, opts Options) *Coordinator {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.WindowTimeout <= 0 {
		opts.WindowTimeout = DefaultWindowTimeout
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Coordinator{
		store:    store,
		nodeID:   opts.NodeID,
		capacity: opts.Capacity,
		window:   opts.WindowTimeout,
		now:      opts.Clock,
		open:     xsync.NewMapOf[string, *openSlot](),
		stopCh:   make(chan struct{}),
	}
}

// NodeID returns the node this coordinator ingests for.
func (c *Coordinator) NodeID() string {
	return c.nodeID
}

func (c *Coordinator) inTxn(ctx context.Context, fn func(db.Txn) error) error {
	txn, err := c.store.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(txn); err != nil {
		if rbErr := txn.Rollback(); rbErr != nil {
			log.Warn().Err(rbErr).Msg("Slot transaction rollback failed")
		}
		return err
	}
	return txn.Commit()
}

func observe(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	telemetry.SlotOperationsTotal.With(op, result).Inc()
	telemetry.SlotOperationSeconds.With(op).Observe(time.Since(start).Seconds())
}

// RequestSlot assigns the lowest-start unassigned slot of queue to node. Once
// any node has published, a slot ending above the safe zone is withheld: a
// publisher may still store ids inside its range.
func (c *Coordinator) RequestSlot(ctx context.Context, queue, node string) (slot db.Slot, err error) {
	defer func(start time.Time) {
		if errors.Is(err, ErrNoSlotAvailable) {
			telemetry.SlotOperationsTotal.With("request", "empty").Inc()
			return
		}
		observe("request", start, err)
	}(time.Now())

	for attempt := 0; attempt < maxAssignAttempts; attempt++ {
		var (
			claimed *db.Slot
			lost    bool
		)
		err = c.inTxn(ctx, func(txn db.Txn) error {
			s, err := txn.GetUnAssignedSlot(ctx, queue)
			if err != nil {
				return err
			}
			if s == nil {
				return ErrNoSlotAvailable
			}
			zone, bounded, err := safeZone(ctx, txn)
			if err != nil {
				return err
			}
			if bounded && s.EndMessageID > zone {
				log.Debug().
					Stringer("slot", s).
					Int64("safe_zone", zone).
					Msg("Slot beyond safe zone withheld")
				return ErrNoSlotAvailable
			}
			ok, err := txn.UpdateSlotAssignment(ctx, node, queue, s.StartMessageID, s.EndMessageID)
			if err != nil {
				return err
			}
			if !ok {
				lost = true
				return nil
			}
			s.State = db.SlotAssigned
			s.AssignedNodeID = node
			claimed = s
			return nil
		})
		if err != nil {
			return db.Slot{}, err
		}
		if claimed != nil {
			log.Debug().
				Str("queue", queue).
				Str("node", node).
				Stringer("slot", claimed).
				Msg("Slot assigned")
			return *claimed, nil
		}
		if lost {
			log.Debug().Str("queue", queue).Int("attempt", attempt+1).Msg("Lost slot assignment race, retrying")
		}
	}
	return db.Slot{}, ErrNoSlotAvailable
}

// RecordDelivered marks a message id of queue as delivered so a returned slot
// resumes after it, and takes it off the queue's message count. Recording an
// id again changes nothing.
func (c *Coordinator) RecordDelivered(ctx context.Context, queue string, messageID int64) error {
	return c.inTxn(ctx, func(txn db.Txn) error {
		added, err := txn.AddMessageID(ctx, queue, messageID)
		if err != nil || !added {
			return err
		}
		return txn.DecrementMessageCountForQueue(ctx, queue, 1)
	})
}

// ReleaseSlot hands a slot back. A fully consumed slot, or one whose every id
// was recorded delivered, is deleted together with its delivered ids and
// returned with state DELETED. Otherwise it is replaced by an unassigned slot
// starting at the first undelivered id.
//
// The slot's AssignedNodeID identifies the releasing node and must still own
// the slot in the store.
func (c *Coordinator) ReleaseSlot(ctx context.Context, s db.Slot, fullyConsumed bool) (result db.Slot, err error) {
	defer func(start time.Time) { observe("release", start, err) }(time.Now())

	caller := s.AssignedNodeID
	if caller == "" {
		caller = c.nodeID
	}

	err = c.inTxn(ctx, func(txn db.Txn) error {
		cur, err := txn.GetSlot(ctx, s.StorageQueue, s.StartMessageID, s.EndMessageID)
		if err != nil {
			return err
		}
		if cur == nil {
			return ErrSlotNotFound
		}
		if cur.State != db.SlotAssigned || cur.AssignedNodeID != caller {
			return &NotOwnerError{Slot: *cur, Owner: cur.AssignedNodeID, Caller: caller}
		}

		resume := cur.StartMessageID
		if !fullyConsumed {
			delivered, err := txn.GetMessageIDs(ctx, cur.StorageQueue)
			if err != nil {
				return err
			}
			resume = firstUndelivered(cur.StartMessageID, cur.EndMessageID, delivered)
			fullyConsumed = resume > cur.EndMessageID
		}

		if _, err := txn.DeleteSlot(ctx, cur.StorageQueue, cur.StartMessageID, cur.EndMessageID); err != nil {
			return err
		}

		if fullyConsumed {
			if err := txn.DeleteMessageIDsInRange(ctx, cur.StorageQueue, cur.StartMessageID, cur.EndMessageID); err != nil {
				return err
			}
			result = *cur
			result.State = db.SlotDeleted
			result.AssignedNodeID = ""
			return nil
		}

		next := db.Slot{
			StorageQueue:   cur.StorageQueue,
			StartMessageID: resume,
			EndMessageID:   cur.EndMessageID,
			State:          db.SlotUnassigned,
		}
		if err := txn.CreateSlot(ctx, next); err != nil {
			return err
		}
		if resume > cur.StartMessageID {
			if err := txn.DeleteMessageIDsInRange(ctx, cur.StorageQueue, cur.StartMessageID, resume-1); err != nil {
				return err
			}
		}
		result = next
		return nil
	})
	if err != nil {
		return db.Slot{}, err
	}

	log.Debug().
		Stringer("slot", s).
		Stringer("state", result.State).
		Int64("resume_from", result.StartMessageID).
		Msg("Slot released")
	return result, nil
}

// firstUndelivered returns the lowest id in [start, end] absent from
// delivered, or end+1 when every id was delivered.
func firstUndelivered(start, end int64, delivered []int64) int64 {
	ids := make([]int64, 0, len(delivered))
	for _, id := range delivered {
		if id >= start && id <= end {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	resume := start
	for _, id := range ids {
		if id > resume {
			break
		}
		if id == resume {
			resume++
		}
	}
	return resume
}

// ReassignSlot returns an assigned slot to the unassigned pool.
func (c *Coordinator) ReassignSlot(ctx context.Context, s db.Slot) (err error) {
	defer func(start time.Time) { observe("reassign", start, err) }(time.Now())

	ok, err := c.store.ReassignSlot(ctx, s.StorageQueue, s.StartMessageID, s.EndMessageID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAssigned
	}
	telemetry.SlotsReassignedTotal.Inc()
	return nil
}

// ReturnQueueSlots puts every slot of queue assigned to this node back in the
// unassigned pool, for when the node stops consuming the queue.
func (c *Coordinator) ReturnQueueSlots(ctx context.Context, queue string) (err error) {
	defer func(start time.Time) { observe("return_queue", start, err) }(time.Now())

	if err := c.store.DeleteSlotAssignmentByQueueName(ctx, c.nodeID, queue); err != nil {
		return err
	}
	log.Debug().Str("queue", queue).Str("node", c.nodeID).Msg("Queue slots returned")
	return nil
}

// ReassignNodeSlots returns every slot held by node to the pool in one
// transaction and splits its overlapped slots into uncovered unassigned
// ranges. It returns the number of slots that changed hands.
func (c *Coordinator) ReassignNodeSlots(ctx context.Context, node string) (n int, err error) {
	defer func(start time.Time) { observe("reassign_node", start, err) }(time.Now())

	err = c.inTxn(ctx, func(txn db.Txn) error {
		n = 0
		slots, err := txn.GetAssignedSlotsByNodeID(ctx, node)
		if err != nil {
			return err
		}
		for _, s := range slots {
			ok, err := txn.ReassignSlot(ctx, s.StorageQueue, s.StartMessageID, s.EndMessageID)
			if err != nil {
				return err
			}
			if ok {
				n++
			}
		}

		queues, err := txn.GetAllQueuesInSubmittedSlots(ctx)
		if err != nil {
			return err
		}
		for _, q := range queues {
			over, err := txn.GetOverlappedSlot(ctx, node, q)
			if err != nil {
				return err
			}
			for over != nil {
				if _, err := resolveOverlapTx(ctx, txn, *over); err != nil {
					return err
				}
				n++
				if over, err = txn.GetOverlappedSlot(ctx, node, q); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if n > 0 {
		telemetry.SlotsReassignedTotal.Add(float64(n))
		log.Info().Str("node", node).Int("slots", n).Msg("Reassigned slots of node")
	}
	return n, nil
}

// DeleteQueue drops every slot, delivered id and counter of queue along with
// this node's open slot. The assigned-id watermark is kept so slots sealed
// afterwards continue above it.
func (c *Coordinator) DeleteQueue(ctx context.Context, queue string) error {
	err := c.inTxn(ctx, func(txn db.Txn) error {
		if err := txn.DeleteSlotsByQueueName(ctx, queue); err != nil {
			return err
		}
		if err := txn.DeleteMessageIDsByQueueName(ctx, queue); err != nil {
			return err
		}
		return txn.RemoveMessageCounterForQueue(ctx, queue)
	})
	if err != nil {
		return err
	}
	c.DiscardOpen(queue)
	log.Info().Str("queue", queue).Msg("Queue slots deleted")
	return nil
}

// SafeZone returns the lowest last-published id across publishing nodes, or 0.
func (c *Coordinator) SafeZone(ctx context.Context) (int64, error) {
	zone, _, err := safeZone(ctx, c.store)
	return zone, err
}

// safeZone reports bounded=false when no node has published yet.
func safeZone(ctx context.Context, ops db.Ops) (zone int64, bounded bool, err error) {
	nodes, err := ops.GetMessagePublishedNodes(ctx)
	if err != nil {
		return 0, false, err
	}

	for i, node := range nodes {
		id, err := ops.GetNodeToLastPublishedID(ctx, node)
		if err != nil {
			return 0, false, err
		}
		if i == 0 || id < zone {
			zone = id
		}
	}
	return zone, len(nodes) > 0, nil
}

// Slots lists every slot of queue ordered by start.
func (c *Coordinator) Slots(ctx context.Context, queue string) ([]db.Slot, error) {
	return c.store.GetAllSlotsByQueueName(ctx, queue)
}

// AssignedTo lists the slots currently assigned to node.
func (c *Coordinator) AssignedTo(ctx context.Context, node string) ([]db.Slot, error) {
	return c.store.GetAssignedSlotsByNodeID(ctx, node)
}
