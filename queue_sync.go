package main

import (
	"context"
	"fmt"

	"github.com/maxpert/slotkeeper/db"
	"github.com/maxpert/slotkeeper/notify"
	"github.com/maxpert/slotkeeper/slot"
	"github.com/rs/zerolog/log"
)

const (
	artifactQueue     = "queue"
	queueDeletedEvent = "queue_deleted"
)

// clusterSlots tells the other live nodes about queue deletions so they drop
// their open slot of that queue.
type clusterSlots struct {
	*slot.Coordinator
	relay  *notify.Relay
	peers  func() []string
	nodeID string
}

func (s *clusterSlots) DeleteQueue(ctx context.Context, queue string) error {
	if err := s.Coordinator.DeleteQueue(ctx, queue); err != nil {
		return err
	}

	var others []string
	for _, n := range s.peers() {
		if n != s.nodeID {
			others = append(others, n)
		}
	}
	if err := s.relay.BroadcastNotification(ctx, others, db.ClusterNotification{
		Artifact:    artifactQueue,
		Type:        queueDeletedEvent,
		Payload:     queue,
		Description: fmt.Sprintf("queue %s deleted", queue),
	}); err != nil {
		return fmt.Errorf("queue %s deleted locally, peers not notified: %w", queue, err)
	}
	return nil
}

// followQueueDeletes drops open slots of queues deleted on other nodes.
func followQueueDeletes(ctx context.Context, ch <-chan notify.Event, coord *slot.Coordinator) {
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			n := ev.Notification
			if n == nil || n.Artifact != artifactQueue || n.Type != queueDeletedEvent {
				continue
			}
			dropped := coord.DiscardOpen(n.Payload)
			log.Info().
				Str("queue", n.Payload).
				Str("origin", n.OriginatedNodeID).
				Bool("dropped_open_slot", dropped).
				Msg("Queue deleted on peer")
		case <-ctx.Done():
			return
		}
	}
}
