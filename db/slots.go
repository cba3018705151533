package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

const slotColumns = `storage_queue_name, start_message_id, end_message_id, slot_state, assigned_node_id, overlapped`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSlot(row rowScanner) (*Slot, error) {
	var (
		s          Slot
		state      int
		overlapped int
	)
	if err := row.Scan(&s.StorageQueue, &s.StartMessageID, &s.EndMessageID, &state, &s.AssignedNodeID, &overlapped); err != nil {
		return nil, err
	}
	s.State = SlotState(state)
	s.Overlapped = overlapped != 0
	return &s, nil
}

func (o *sqlOps) querySlots(ctx context.Context, task, query string, args ...interface{}) ([]Slot, error) {
	rows, err := o.r.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(task, err)
	}
	defer rows.Close()

	var slots []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, wrapErr(task, err)
		}
		slots = append(slots, *s)
	}
	return slots, wrapErr(task, rows.Err())
}

func (o *sqlOps) querySlot(ctx context.Context, task, query string, args ...interface{}) (*Slot, error) {
	s, err := scanSlot(o.r.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr(task, err)
	}
	return s, nil
}

func (o *sqlOps) CreateSlot(ctx context.Context, slot Slot) error {
	state := slot.State
	if state == 0 {
		state = SlotUnassigned
	}
	_, err := o.exec(ctx, "creating slot",
		`INSERT INTO slots (`+slotColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		slot.StorageQueue, slot.StartMessageID, slot.EndMessageID, int(state), slot.AssignedNodeID, boolToInt(slot.Overlapped))
	return err
}

func (o *sqlOps) DeleteSlot(ctx context.Context, queue string, start, end int64) (bool, error) {
	var deleted bool
	err := o.atomic(ctx, "deleting slot", func(tx *sqlOps) error {
		n, err := tx.exec(ctx, "deleting slot",
			`DELETE FROM slots WHERE storage_queue_name = ? AND start_message_id = ? AND end_message_id = ? AND overlapped = 0`,
			queue, start, end)
		if err != nil {
			return err
		}
		if n > 0 {
			deleted = true
			return nil
		}
		// Nothing removed: either the slot was already gone or it is overlapped.
		s, err := tx.GetSlot(ctx, queue, start, end)
		if err != nil {
			return err
		}
		deleted = s == nil
		return nil
	})
	return deleted, err
}

func (o *sqlOps) DeleteSlotsByQueueName(ctx context.Context, queue string) error {
	_, err := o.exec(ctx, "deleting slots of queue",
		`DELETE FROM slots WHERE storage_queue_name = ?`, queue)
	return err
}

func (o *sqlOps) GetSlot(ctx context.Context, queue string, start, end int64) (*Slot, error) {
	return o.querySlot(ctx, "reading slot",
		`SELECT `+slotColumns+` FROM slots WHERE storage_queue_name = ? AND start_message_id = ? AND end_message_id = ?`,
		queue, start, end)
}

func (o *sqlOps) GetUnAssignedSlot(ctx context.Context, queue string) (*Slot, error) {
	return o.querySlot(ctx, "reading unassigned slot",
		`SELECT `+slotColumns+` FROM slots WHERE storage_queue_name = ? AND slot_state = ?
		ORDER BY start_message_id LIMIT 1`,
		queue, int(SlotUnassigned))
}

func (o *sqlOps) UpdateSlotAssignment(ctx context.Context, nodeID, queue string, start, end int64) (bool, error) {
	n, err := o.exec(ctx, "assigning slot",
		`UPDATE slots SET slot_state = ?, assigned_node_id = ?
		WHERE storage_queue_name = ? AND start_message_id = ? AND end_message_id = ? AND slot_state = ?`,
		int(SlotAssigned), nodeID, queue, start, end, int(SlotUnassigned))
	return n > 0, err
}

func (o *sqlOps) DeleteSlotAssignmentByQueueName(ctx context.Context, nodeID, queue string) error {
	_, err := o.exec(ctx, "returning slots of node for queue",
		`UPDATE slots SET slot_state = ?, assigned_node_id = ''
		WHERE assigned_node_id = ? AND storage_queue_name = ? AND slot_state = ?`,
		int(SlotUnassigned), nodeID, queue, int(SlotAssigned))
	return err
}

func (o *sqlOps) ReassignSlot(ctx context.Context, queue string, start, end int64) (bool, error) {
	n, err := o.exec(ctx, "reassigning slot",
		`UPDATE slots SET slot_state = ?, assigned_node_id = ''
		WHERE storage_queue_name = ? AND start_message_id = ? AND end_message_id = ? AND slot_state = ?`,
		int(SlotUnassigned), queue, start, end, int(SlotAssigned))
	return n > 0, err
}

func (o *sqlOps) SetSlotState(ctx context.Context, queue string, start, end int64, state SlotState) error {
	_, err := o.exec(ctx, "updating slot state",
		`UPDATE slots SET slot_state = ?, overlapped = ?
		WHERE storage_queue_name = ? AND start_message_id = ? AND end_message_id = ?`,
		int(state), boolToInt(state == SlotOverlapped), queue, start, end)
	return err
}

func (o *sqlOps) GetOverlappedSlot(ctx context.Context, nodeID, queue string) (*Slot, error) {
	return o.querySlot(ctx, "reading overlapped slot",
		`SELECT `+slotColumns+` FROM slots
		WHERE assigned_node_id = ? AND storage_queue_name = ? AND slot_state = ?
		ORDER BY start_message_id LIMIT 1`,
		nodeID, queue, int(SlotOverlapped))
}

func (o *sqlOps) UpdateOverlappedSlots(ctx context.Context, nodeID, queue string, slots []Slot) error {
	return o.atomic(ctx, "marking overlapped slots", func(tx *sqlOps) error {
		for _, s := range slots {
			if _, err := tx.exec(ctx, "marking overlapped slot",
				`UPDATE slots SET slot_state = ?, overlapped = 1, assigned_node_id = ?
				WHERE storage_queue_name = ? AND start_message_id = ? AND end_message_id = ?`,
				int(SlotOverlapped), nodeID, queue, s.StartMessageID, s.EndMessageID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (o *sqlOps) DeleteOverlappedSlots(ctx context.Context, nodeID string) error {
	_, err := o.exec(ctx, "deleting overlapped slots",
		`DELETE FROM slots WHERE assigned_node_id = ? AND overlapped = 1`, nodeID)
	return err
}

func (o *sqlOps) GetAssignedSlotsByNodeID(ctx context.Context, nodeID string) ([]Slot, error) {
	return o.querySlots(ctx, "reading slots of node",
		`SELECT `+slotColumns+` FROM slots WHERE assigned_node_id = ? AND slot_state = ?
		ORDER BY storage_queue_name, start_message_id`,
		nodeID, int(SlotAssigned))
}

func (o *sqlOps) GetAllSlotsByQueueName(ctx context.Context, queue string) ([]Slot, error) {
	return o.querySlots(ctx, "reading slots of queue",
		`SELECT `+slotColumns+` FROM slots WHERE storage_queue_name = ? ORDER BY start_message_id, end_message_id`,
		queue)
}

func (o *sqlOps) GetAllQueues(ctx context.Context) ([]string, error) {
	return o.queryStrings(ctx, "reading queues",
		`SELECT queue_name FROM queue_last_assigned
		UNION SELECT queue_name FROM queue_counters
		ORDER BY 1`)
}

func (o *sqlOps) GetAllQueuesInSubmittedSlots(ctx context.Context) ([]string, error) {
	return o.queryStrings(ctx, "reading queues with slots",
		`SELECT DISTINCT storage_queue_name FROM slots ORDER BY storage_queue_name`)
}

func (o *sqlOps) ClearSlotStorage(ctx context.Context) error {
	return o.atomic(ctx, "clearing slot storage", func(tx *sqlOps) error {
		for _, table := range []string{"slots", "queue_last_assigned", "node_last_published", "delivered_message_ids"} {
			if _, err := tx.exec(ctx, "clearing "+table, `DELETE FROM `+table); err != nil {
				return err
			}
		}
		return nil
	})
}

// placeholders returns "?, ?, ..." for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
