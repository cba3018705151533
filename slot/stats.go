package slot

import (
	"context"

	"github.com/maxpert/slotkeeper/db"
)

// SlotCountsByState counts persisted slots across every queue.
func (c *Coordinator) SlotCountsByState(ctx context.Context) (map[string]int, error) {
	counts := map[string]int{
		db.SlotUnassigned.String(): 0,
		db.SlotAssigned.String():   0,
		db.SlotOverlapped.String(): 0,
	}

	queues, err := c.store.GetAllQueuesInSubmittedSlots(ctx)
	if err != nil {
		return nil, err
	}
	for _, q := range queues {
		slots, err := c.store.GetAllSlotsByQueueName(ctx, q)
		if err != nil {
			return nil, err
		}
		for _, s := range slots {
			counts[s.State.String()]++
		}
	}
	return counts, nil
}

// QueueCount returns how many queues the store knows about.
func (c *Coordinator) QueueCount(ctx context.Context) (int, error) {
	queues, err := c.store.GetAllQueues(ctx)
	if err != nil {
		return 0, err
	}
	return len(queues), nil
}
