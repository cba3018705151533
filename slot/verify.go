package slot

import (
	"context"
	"fmt"
	"sort"

	"github.com/maxpert/slotkeeper/db"
)

// Range is an inclusive id range.
type Range struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Conflict is a pair of live slots sharing ids outside OVERLAPPED handling.
type Conflict struct {
	A db.Slot `json:"a"`
	B db.Slot `json:"b"`
}

func (c Conflict) String() string {
	return fmt.Sprintf("%s conflicts with %s", c.A, c.B)
}

// Report describes how the live slots of a queue cover [1, LastAssigned].
// Gaps are expected once slots have been consumed and deleted.
type Report struct {
	Queue           string     `json:"queue"`
	LastAssigned    int64      `json:"last_assigned"`
	Gaps            []Range    `json:"gaps,omitempty"`
	Conflicts       []Conflict `json:"conflicts,omitempty"`
	BeyondWatermark []db.Slot  `json:"beyond_watermark,omitempty"`
}

// Healthy reports whether no id is held by two slots and no slot extends
// past the watermark.
func (r Report) Healthy() bool {
	return len(r.Conflicts) == 0 && len(r.BeyondWatermark) == 0
}

// Verify inspects the persisted slots of queue.
func (c *Coordinator) Verify(ctx context.Context, queue string) (Report, error) {
	last, err := c.store.GetQueueToLastAssignedID(ctx, queue)
	if err != nil {
		return Report{}, err
	}
	slots, err := c.store.GetAllSlotsByQueueName(ctx, queue)
	if err != nil {
		return Report{}, err
	}
	return buildReport(queue, last, slots), nil
}

func buildReport(queue string, last int64, slots []db.Slot) Report {
	r := Report{Queue: queue, LastAssigned: last}

	sorted := append([]db.Slot(nil), slots...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].StartMessageID == sorted[j].StartMessageID {
			return sorted[i].EndMessageID < sorted[j].EndMessageID
		}
		return sorted[i].StartMessageID < sorted[j].StartMessageID
	})

	for i, s := range sorted {
		if s.EndMessageID > last {
			r.BeyondWatermark = append(r.BeyondWatermark, s)
		}
		// Overlaps already flagged for reconciliation are not conflicts.
		if s.State == db.SlotOverlapped {
			continue
		}
		for _, o := range sorted[i+1:] {
			if o.StartMessageID > s.EndMessageID {
				break
			}
			if o.State != db.SlotOverlapped && s.Overlaps(o) {
				r.Conflicts = append(r.Conflicts, Conflict{A: s, B: o})
			}
		}
	}

	next := int64(1)
	for _, s := range sorted {
		if s.StartMessageID > next {
			r.Gaps = append(r.Gaps, Range{Start: next, End: s.StartMessageID - 1})
		}
		if s.EndMessageID+1 > next {
			next = s.EndMessageID + 1
		}
	}
	if last >= next {
		r.Gaps = append(r.Gaps, Range{Start: next, End: last})
	}
	return r
}
