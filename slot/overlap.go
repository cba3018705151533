package slot

import (
	"context"
	"sort"
	"time"

	"github.com/maxpert/slotkeeper/db"
	"github.com/maxpert/slotkeeper/telemetry"
	"github.com/rs/zerolog/log"
)

// DetectOverlap finds a slot assigned to node whose range intersects another
// slot of queue, marks it OVERLAPPED and returns it. A slot the node already
// has in OVERLAPPED state is returned as is.
func (c *Coordinator) DetectOverlap(ctx context.Context, node, queue string) (found db.Slot, err error) {
	defer func(start time.Time) { observe("detect_overlap", start, err) }(time.Now())

	err = c.inTxn(ctx, func(txn db.Txn) error {
		existing, err := txn.GetOverlappedSlot(ctx, node, queue)
		if err != nil {
			return err
		}
		if existing != nil {
			found = *existing
			return nil
		}

		all, err := txn.GetAllSlotsByQueueName(ctx, queue)
		if err != nil {
			return err
		}
		for _, s := range all {
			if s.State != db.SlotAssigned || s.AssignedNodeID != node {
				continue
			}
			for _, other := range all {
				if sameRange(s, other) || !s.Overlaps(other) {
					continue
				}
				if err := txn.UpdateOverlappedSlots(ctx, node, queue, []db.Slot{s}); err != nil {
					return err
				}
				s.State = db.SlotOverlapped
				s.Overlapped = true
				found = s
				telemetry.OverlapsDetectedTotal.Inc()
				log.Warn().
					Stringer("slot", s).
					Stringer("conflicts_with", other).
					Str("node", node).
					Msg("Overlapping slot detected")
				return nil
			}
		}
		return ErrNoOverlap
	})
	if err != nil {
		return db.Slot{}, err
	}
	return found, nil
}

// ResolveOverlap replaces an OVERLAPPED slot by unassigned slots covering
// only the ids no other slot of the queue covers.
func (c *Coordinator) ResolveOverlap(ctx context.Context, s db.Slot) (parts []db.Slot, err error) {
	defer func(start time.Time) { observe("resolve_overlap", start, err) }(time.Now())

	err = c.inTxn(ctx, func(txn db.Txn) error {
		parts, err = resolveOverlapTx(ctx, txn, s)
		return err
	})
	if err != nil {
		return nil, err
	}
	return parts, nil
}

func resolveOverlapTx(ctx context.Context, txn db.Txn, s db.Slot) ([]db.Slot, error) {
	cur, err := txn.GetSlot(ctx, s.StorageQueue, s.StartMessageID, s.EndMessageID)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, ErrSlotNotFound
	}
	if cur.State != db.SlotOverlapped {
		return nil, ErrNotOverlapped
	}

	all, err := txn.GetAllSlotsByQueueName(ctx, cur.StorageQueue)
	if err != nil {
		return nil, err
	}
	var others []db.Slot
	for _, o := range all {
		if !sameRange(*cur, o) {
			others = append(others, o)
		}
	}

	// Clear the overlap flag so the row becomes deletable.
	if err := txn.SetSlotState(ctx, cur.StorageQueue, cur.StartMessageID, cur.EndMessageID, db.SlotUnassigned); err != nil {
		return nil, err
	}
	if _, err := txn.DeleteSlot(ctx, cur.StorageQueue, cur.StartMessageID, cur.EndMessageID); err != nil {
		return nil, err
	}

	parts := uncovered(*cur, others)
	for _, p := range parts {
		if err := txn.CreateSlot(ctx, p); err != nil {
			return nil, err
		}
	}

	log.Info().
		Stringer("slot", cur).
		Int("parts", len(parts)).
		Msg("Overlapped slot resolved")
	return parts, nil
}

// uncovered returns the sub-ranges of s that no slot in others covers, as
// unassigned slots in ascending order.
func uncovered(s db.Slot, others []db.Slot) []db.Slot {
	var covering []db.Slot
	for _, o := range others {
		if s.Overlaps(o) {
			covering = append(covering, o)
		}
	}
	sort.Slice(covering, func(i, j int) bool {
		return covering[i].StartMessageID < covering[j].StartMessageID
	})

	var parts []db.Slot
	next := s.StartMessageID
	for _, o := range covering {
		if o.StartMessageID > next {
			parts = append(parts, db.Slot{
				StorageQueue:   s.StorageQueue,
				StartMessageID: next,
				EndMessageID:   o.StartMessageID - 1,
				State:          db.SlotUnassigned,
			})
		}
		if o.EndMessageID+1 > next {
			next = o.EndMessageID + 1
		}
		if next > s.EndMessageID {
			break
		}
	}
	if next <= s.EndMessageID {
		parts = append(parts, db.Slot{
			StorageQueue:   s.StorageQueue,
			StartMessageID: next,
			EndMessageID:   s.EndMessageID,
			State:          db.SlotUnassigned,
		})
	}
	return parts
}

// DeleteOverlappedSlots removes node's overlapped slots once it has
// reconciled the duplicate deliveries they caused.
func (c *Coordinator) DeleteOverlappedSlots(ctx context.Context, node string) (err error) {
	defer func(start time.Time) { observe("delete_overlapped", start, err) }(time.Now())
	return c.store.DeleteOverlappedSlots(ctx, node)
}

func sameRange(a, b db.Slot) bool {
	return a.StorageQueue == b.StorageQueue &&
		a.StartMessageID == b.StartMessageID &&
		a.EndMessageID == b.EndMessageID
}
