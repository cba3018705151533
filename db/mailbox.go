package db

import (
	"context"
)

const notificationColumns = `id, node_id, originated_node_id, artifact, notification_type, payload, description`

// StoreMembershipEvent writes one row per destination in a single transaction.
func (o *sqlOps) StoreMembershipEvent(ctx context.Context, nodes []string, eventType MembershipEventType, member string) error {
	if len(nodes) == 0 {
		return nil
	}
	return o.atomic(ctx, "storing membership event", func(tx *sqlOps) error {
		for _, node := range nodes {
			if _, err := tx.exec(ctx, "storing membership event",
				`INSERT INTO membership_events (node_id, event_type, changed_member) VALUES (?, ?, ?)`,
				node, int(eventType), member); err != nil {
				return err
			}
		}
		return nil
	})
}

func (o *sqlOps) queryMembershipEvents(ctx context.Context, nodeID string, limit int) ([]MembershipEvent, error) {
	query := `SELECT id, node_id, event_type, changed_member FROM membership_events WHERE node_id = ? ORDER BY id`
	args := []interface{}{nodeID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := o.r.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("reading membership events", err)
	}
	defer rows.Close()

	var events []MembershipEvent
	for rows.Next() {
		var (
			ev MembershipEvent
			t  int
		)
		if err := rows.Scan(&ev.ID, &ev.DestinationNodeID, &t, &ev.Member); err != nil {
			return nil, wrapErr("reading membership events", err)
		}
		ev.Type = MembershipEventType(t)
		events = append(events, ev)
	}
	return events, wrapErr("reading membership events", rows.Err())
}

// ReadMembershipEvents deletes exactly the rows it returns. A row committed
// after the read stays for the next poll even when its id is lower than one
// that was returned.
func (o *sqlOps) ReadMembershipEvents(ctx context.Context, nodeID string) ([]MembershipEvent, error) {
	var events []MembershipEvent
	err := o.atomic(ctx, "reading membership events", func(tx *sqlOps) error {
		var err error
		events, err = tx.queryMembershipEvents(ctx, nodeID, 0)
		if err != nil || len(events) == 0 {
			return err
		}
		ids := make([]int64, len(events))
		for i, ev := range events {
			ids[i] = ev.ID
		}
		return tx.deleteMailboxRows(ctx, "deleting read membership events", "membership_events", nodeID, ids)
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (o *sqlOps) PeekMembershipEvents(ctx context.Context, nodeID string, limit int) ([]MembershipEvent, error) {
	return o.queryMembershipEvents(ctx, nodeID, limit)
}

func (o *sqlOps) AckMembershipEvents(ctx context.Context, nodeID string, ids []int64) error {
	return o.deleteMailboxRows(ctx, "acknowledging membership events", "membership_events", nodeID, ids)
}

func (o *sqlOps) ClearMembershipEvents(ctx context.Context) error {
	_, err := o.exec(ctx, "clearing membership events", `DELETE FROM membership_events`)
	return err
}

func (o *sqlOps) ClearMembershipEventsForNode(ctx context.Context, nodeID string) error {
	_, err := o.exec(ctx, "clearing membership events of node",
		`DELETE FROM membership_events WHERE node_id = ?`, nodeID)
	return err
}

// StoreClusterNotification writes one copy of n per destination in a single transaction.
func (o *sqlOps) StoreClusterNotification(ctx context.Context, nodes []string, n ClusterNotification) error {
	if len(nodes) == 0 {
		return nil
	}
	return o.atomic(ctx, "storing cluster notification", func(tx *sqlOps) error {
		for _, node := range nodes {
			if _, err := tx.exec(ctx, "storing cluster notification",
				`INSERT INTO cluster_notifications
				(node_id, originated_node_id, artifact, notification_type, payload, description)
				VALUES (?, ?, ?, ?, ?, ?)`,
				node, n.OriginatedNodeID, n.Artifact, n.Type, n.Payload, n.Description); err != nil {
				return err
			}
		}
		return nil
	})
}

func (o *sqlOps) queryClusterNotifications(ctx context.Context, nodeID string, limit int) ([]ClusterNotification, error) {
	query := `SELECT ` + notificationColumns + ` FROM cluster_notifications WHERE node_id = ? ORDER BY id`
	args := []interface{}{nodeID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := o.r.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("reading cluster notifications", err)
	}
	defer rows.Close()

	var out []ClusterNotification
	for rows.Next() {
		var n ClusterNotification
		if err := rows.Scan(&n.ID, &n.DestinationNodeID, &n.OriginatedNodeID, &n.Artifact,
			&n.Type, &n.Payload, &n.Description); err != nil {
			return nil, wrapErr("reading cluster notifications", err)
		}
		out = append(out, n)
	}
	return out, wrapErr("reading cluster notifications", rows.Err())
}

// ReadClusterNotifications deletes exactly the rows it returns.
func (o *sqlOps) ReadClusterNotifications(ctx context.Context, nodeID string) ([]ClusterNotification, error) {
	var out []ClusterNotification
	err := o.atomic(ctx, "reading cluster notifications", func(tx *sqlOps) error {
		var err error
		out, err = tx.queryClusterNotifications(ctx, nodeID, 0)
		if err != nil || len(out) == 0 {
			return err
		}
		ids := make([]int64, len(out))
		for i, n := range out {
			ids[i] = n.ID
		}
		return tx.deleteMailboxRows(ctx, "deleting read cluster notifications", "cluster_notifications", nodeID, ids)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (o *sqlOps) PeekClusterNotifications(ctx context.Context, nodeID string, limit int) ([]ClusterNotification, error) {
	return o.queryClusterNotifications(ctx, nodeID, limit)
}

func (o *sqlOps) AckClusterNotifications(ctx context.Context, nodeID string, ids []int64) error {
	return o.deleteMailboxRows(ctx, "acknowledging cluster notifications", "cluster_notifications", nodeID, ids)
}

func (o *sqlOps) ClearClusterNotifications(ctx context.Context) error {
	_, err := o.exec(ctx, "clearing cluster notifications", `DELETE FROM cluster_notifications`)
	return err
}

func (o *sqlOps) ClearClusterNotificationsForNode(ctx context.Context, nodeID string) error {
	_, err := o.exec(ctx, "clearing cluster notifications of node",
		`DELETE FROM cluster_notifications WHERE node_id = ?`, nodeID)
	return err
}

// mailboxDeleteChunk keeps IN lists below driver placeholder limits.
const mailboxDeleteChunk = 500

// deleteMailboxRows removes the listed rows of nodeID from table.
func (o *sqlOps) deleteMailboxRows(ctx context.Context, task, table, nodeID string, ids []int64) error {
	for len(ids) > 0 {
		chunk := ids
		if len(chunk) > mailboxDeleteChunk {
			chunk = chunk[:mailboxDeleteChunk]
		}
		ids = ids[len(chunk):]

		args := make([]interface{}, 0, len(chunk)+1)
		args = append(args, nodeID)
		for _, id := range chunk {
			args = append(args, id)
		}
		if _, err := o.exec(ctx, task,
			`DELETE FROM `+table+` WHERE node_id = ? AND id IN (`+placeholders(len(chunk))+`)`, args...); err != nil {
			return err
		}
	}
	return nil
}
