package db

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMembershipEvents_FanOutAndReadOnce(t *testing.T) {
	store := OpenTestStore(t, nil)
	ctx := context.Background()

	require.NoError(t, store.StoreMembershipEvent(ctx, []string{"n1", "n2", "n3"}, MemberRemoved, "n4"))
	require.NoError(t, store.StoreMembershipEvent(ctx, []string{"n1"}, MemberAdded, "n5"))

	events, err := store.ReadMembershipEvents(ctx, "n1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, MemberRemoved, events[0].Type)
	assert.Equal(t, "n4", events[0].Member)
	assert.Equal(t, MemberAdded, events[1].Type)
	assert.Less(t, events[0].ID, events[1].ID)

	events, err = store.ReadMembershipEvents(ctx, "n1")
	require.NoError(t, err)
	assert.Empty(t, events)

	for _, node := range []string{"n2", "n3"} {
		events, err := store.ReadMembershipEvents(ctx, node)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, node, events[0].DestinationNodeID)
	}
}

func TestMembershipEvents_PeekAck(t *testing.T) {
	store := OpenTestStore(t, nil)
	ctx := context.Background()

	for _, member := range []string{"a", "b", "c"} {
		require.NoError(t, store.StoreMembershipEvent(ctx, []string{"n1"}, MemberAdded, member))
	}

	peeked, err := store.PeekMembershipEvents(ctx, "n1", 2)
	require.NoError(t, err)
	require.Len(t, peeked, 2)

	// Peek does not consume.
	again, err := store.PeekMembershipEvents(ctx, "n1", 0)
	require.NoError(t, err)
	assert.Len(t, again, 3)

	require.NoError(t, store.AckMembershipEvents(ctx, "n1", []int64{peeked[0].ID, peeked[1].ID}))
	rest, err := store.ReadMembershipEvents(ctx, "n1")
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "c", rest[0].Member)
}

func TestMembershipEvents_Clear(t *testing.T) {
	store := OpenTestStore(t, nil)
	ctx := context.Background()

	require.NoError(t, store.StoreMembershipEvent(ctx, []string{"n1", "n2"}, MemberAdded, "x"))
	require.NoError(t, store.ClearMembershipEventsForNode(ctx, "n1"))

	events, err := store.PeekMembershipEvents(ctx, "n1", 0)
	require.NoError(t, err)
	assert.Empty(t, events)

	require.NoError(t, store.ClearMembershipEvents(ctx))
	events, err = store.PeekMembershipEvents(ctx, "n2", 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestClusterNotifications_FanOut(t *testing.T) {
	store := OpenTestStore(t, nil)
	ctx := context.Background()

	n := ClusterNotification{
		OriginatedNodeID: "n1",
		Artifact:         "queue",
		Type:             "deleted",
		Payload:          `{"name":"orders"}`,
		Description:      "queue removed",
	}
	require.NoError(t, store.StoreClusterNotification(ctx, []string{"n2", "n3"}, n))
	require.NoError(t, store.StoreClusterNotification(ctx, nil, n))

	got, err := store.ReadClusterNotifications(ctx, "n2")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "n2", got[0].DestinationNodeID)
	assert.Equal(t, "n1", got[0].OriginatedNodeID)
	assert.Equal(t, "queue", got[0].Artifact)
	assert.Equal(t, `{"name":"orders"}`, got[0].Payload)

	peeked, err := store.PeekClusterNotifications(ctx, "n3", 10)
	require.NoError(t, err)
	require.Len(t, peeked, 1)
	require.NoError(t, store.AckClusterNotifications(ctx, "n3", []int64{peeked[0].ID}))

	got, err = store.ReadClusterNotifications(ctx, "n3")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, store.StoreClusterNotification(ctx, []string{"n2"}, n))
	require.NoError(t, store.ClearClusterNotificationsForNode(ctx, "n2"))
	require.NoError(t, store.ClearClusterNotifications(ctx))
	got, err = store.ReadClusterNotifications(ctx, "n2")
	require.NoError(t, err)
	assert.Empty(t, got)
}

// lateCommit runs insert right before the first DELETE goes through, the way
// a row committed by another node between a read and its delete would land.
type lateCommit struct {
	executor
	insert func() error
}

func (l *lateCommit) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	if l.insert != nil && strings.HasPrefix(strings.TrimSpace(query), "DELETE") {
		insert := l.insert
		l.insert = nil
		if err := insert(); err != nil {
			return nil, err
		}
	}
	return l.executor.ExecContext(ctx, query, args...)
}

func TestMailboxReadKeepsRowsItDidNotReturn(t *testing.T) {
	store := OpenTestStore(t, nil)
	ctx := context.Background()

	tx, err := store.writeDB.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		`INSERT INTO membership_events (id, node_id, event_type, changed_member) VALUES (3, 'n1', 1, 'a')`,
		`INSERT INTO membership_events (id, node_id, event_type, changed_member) VALUES (7, 'n1', 1, 'b')`,
		`INSERT INTO cluster_notifications (id, node_id, originated_node_id, artifact, notification_type, payload, description)
			VALUES (3, 'n1', 'n2', 'queue', 'created', '', '')`,
		`INSERT INTO cluster_notifications (id, node_id, originated_node_id, artifact, notification_type, payload, description)
			VALUES (7, 'n1', 'n2', 'queue', 'created', '', '')`,
	} {
		_, err := tx.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}

	ops := &sqlOps{
		w: &lateCommit{executor: tx, insert: func() error {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO membership_events (id, node_id, event_type, changed_member) VALUES (5, 'n1', 2, 'late')`)
			return err
		}},
		r:       tx,
		dialect: store.dialect,
		now:     store.now,
	}
	events, err := ops.ReadMembershipEvents(ctx, "n1")
	require.NoError(t, err)
	require.Len(t, events, 2)

	left, err := ops.PeekMembershipEvents(ctx, "n1", 0)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, int64(5), left[0].ID)
	assert.Equal(t, "late", left[0].Member)

	ops.w = &lateCommit{executor: tx, insert: func() error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO cluster_notifications (id, node_id, originated_node_id, artifact, notification_type, payload, description)
			VALUES (5, 'n1', 'n2', 'queue', 'deleted', '', 'late')`)
		return err
	}}
	notes, err := ops.ReadClusterNotifications(ctx, "n1")
	require.NoError(t, err)
	require.Len(t, notes, 2)

	remaining, err := ops.PeekClusterNotifications(ctx, "n1", 0)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "late", remaining[0].Description)
}

func TestMailboxAckInChunks(t *testing.T) {
	store := OpenTestStore(t, nil)
	ctx := context.Background()

	for i := 0; i < mailboxDeleteChunk+20; i++ {
		require.NoError(t, store.StoreMembershipEvent(ctx, []string{"n1"}, MemberAdded, "m"))
	}

	events, err := store.PeekMembershipEvents(ctx, "n1", 0)
	require.NoError(t, err)
	require.Len(t, events, mailboxDeleteChunk+20)

	ids := make([]int64, 0, len(events)-1)
	for _, ev := range events[1:] {
		ids = append(ids, ev.ID)
	}
	require.NoError(t, store.AckMembershipEvents(ctx, "n1", ids))

	left, err := store.PeekMembershipEvents(ctx, "n1", 0)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, events[0].ID, left[0].ID)
}
