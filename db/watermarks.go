package db

import (
	"context"
	"database/sql"
	"errors"
)

func (o *sqlOps) queryInt64(ctx context.Context, task, query string, args ...interface{}) (int64, error) {
	var v int64
	err := o.r.QueryRowContext(ctx, query, args...).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, wrapErr(task, err)
	}
	return v, nil
}

// GetQueueToLastAssignedID returns 0 for a queue that never had a slot.
func (o *sqlOps) GetQueueToLastAssignedID(ctx context.Context, queue string) (int64, error) {
	return o.queryInt64(ctx, "reading last assigned id",
		`SELECT message_id FROM queue_last_assigned WHERE queue_name = ?`, queue)
}

// LockQueueWatermark returns the last assigned id of queue and, inside a
// transaction, holds its row until commit so concurrent seals of the same
// queue serialize. A missing row is created at 0.
func (o *sqlOps) LockQueueWatermark(ctx context.Context, queue string) (int64, error) {
	const task = "locking last assigned id"
	query, args, err := o.dialect.insertIgnore("queue_last_assigned",
		map[string]interface{}{"queue_name": queue, "message_id": 0})
	if err != nil {
		return 0, wrapErr(task, err)
	}
	if _, err := o.exec(ctx, task, query, args...); err != nil {
		return 0, err
	}
	return o.queryInt64(ctx, task,
		`SELECT message_id FROM queue_last_assigned WHERE queue_name = ?`+o.dialect.forUpdate, queue)
}

func (o *sqlOps) SetQueueToLastAssignedID(ctx context.Context, queue string, messageID int64) error {
	return o.upsert(ctx, "setting last assigned id", "queue_last_assigned", "queue_name",
		map[string]interface{}{"queue_name": queue, "message_id": messageID},
		map[string]interface{}{"message_id": messageID})
}

func (o *sqlOps) GetNodeToLastPublishedID(ctx context.Context, nodeID string) (int64, error) {
	return o.queryInt64(ctx, "reading last published id",
		`SELECT message_id FROM node_last_published WHERE node_id = ?`, nodeID)
}

func (o *sqlOps) SetNodeToLastPublishedID(ctx context.Context, nodeID string, messageID int64) error {
	return o.upsert(ctx, "setting last published id", "node_last_published", "node_id",
		map[string]interface{}{"node_id": nodeID, "message_id": messageID},
		map[string]interface{}{"message_id": messageID})
}

func (o *sqlOps) GetMessagePublishedNodes(ctx context.Context) ([]string, error) {
	return o.queryStrings(ctx, "reading publisher nodes",
		`SELECT node_id FROM node_last_published ORDER BY node_id`)
}

func (o *sqlOps) RemovePublisherNode(ctx context.Context, nodeID string) error {
	_, err := o.exec(ctx, "removing publisher node",
		`DELETE FROM node_last_published WHERE node_id = ?`, nodeID)
	return err
}

// AddMessageID records a delivered id. It returns false when the id was
// already recorded.
func (o *sqlOps) AddMessageID(ctx context.Context, queue string, messageID int64) (bool, error) {
	const task = "recording delivered id"
	query, args, err := o.dialect.insertIgnore("delivered_message_ids",
		map[string]interface{}{"queue_name": queue, "message_id": messageID})
	if err != nil {
		return false, wrapErr(task, err)
	}
	n, err := o.exec(ctx, task, query, args...)
	return n > 0, err
}

func (o *sqlOps) GetMessageIDs(ctx context.Context, queue string) ([]int64, error) {
	rows, err := o.r.QueryContext(ctx,
		`SELECT message_id FROM delivered_message_ids WHERE queue_name = ? ORDER BY message_id`, queue)
	if err != nil {
		return nil, wrapErr("reading delivered ids", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, wrapErr("reading delivered ids", err)
		}
		ids = append(ids, id)
	}
	return ids, wrapErr("reading delivered ids", rows.Err())
}

func (o *sqlOps) DeleteMessageID(ctx context.Context, queue string, messageID int64) error {
	_, err := o.exec(ctx, "deleting delivered id",
		`DELETE FROM delivered_message_ids WHERE queue_name = ? AND message_id = ?`, queue, messageID)
	return err
}

func (o *sqlOps) DeleteMessageIDsByQueueName(ctx context.Context, queue string) error {
	_, err := o.exec(ctx, "deleting delivered ids of queue",
		`DELETE FROM delivered_message_ids WHERE queue_name = ?`, queue)
	return err
}

func (o *sqlOps) DeleteMessageIDsInRange(ctx context.Context, queue string, start, end int64) error {
	_, err := o.exec(ctx, "deleting delivered ids in range",
		`DELETE FROM delivered_message_ids WHERE queue_name = ? AND message_id BETWEEN ? AND ?`,
		queue, start, end)
	return err
}
