package db

import (
	"context"
	"sort"

	"github.com/doug-martin/goqu/v9"
)

// AddMessageCounterForQueue creates a zero counter unless one already exists.
func (o *sqlOps) AddMessageCounterForQueue(ctx context.Context, queue string) error {
	return o.upsert(ctx, "adding message counter", "queue_counters", "queue_name",
		map[string]interface{}{"queue_name": queue, "message_count": 0},
		map[string]interface{}{"queue_name": queue})
}

func (o *sqlOps) GetMessageCountForQueue(ctx context.Context, queue string) (int64, error) {
	return o.queryInt64(ctx, "reading message count",
		`SELECT message_count FROM queue_counters WHERE queue_name = ?`, queue)
}

func (o *sqlOps) GetAllMessageCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := o.r.QueryContext(ctx, `SELECT queue_name, message_count FROM queue_counters`)
	if err != nil {
		return nil, wrapErr("reading message counts", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var (
			queue string
			n     int64
		)
		if err := rows.Scan(&queue, &n); err != nil {
			return nil, wrapErr("reading message counts", err)
		}
		counts[queue] = n
	}
	return counts, wrapErr("reading message counts", rows.Err())
}

func (o *sqlOps) ResetMessageCounterForQueue(ctx context.Context, queue string) error {
	_, err := o.exec(ctx, "resetting message counter",
		`UPDATE queue_counters SET message_count = 0 WHERE queue_name = ?`, queue)
	return err
}

func (o *sqlOps) RemoveMessageCounterForQueue(ctx context.Context, queue string) error {
	_, err := o.exec(ctx, "removing message counter",
		`DELETE FROM queue_counters WHERE queue_name = ?`, queue)
	return err
}

func (o *sqlOps) IncrementMessageCountForQueue(ctx context.Context, queue string, by int64) error {
	return o.upsert(ctx, "incrementing message count", "queue_counters", "queue_name",
		map[string]interface{}{"queue_name": queue, "message_count": by},
		map[string]interface{}{"message_count": goqu.L("message_count + ?", by)})
}

// DecrementMessageCountForQueue never drops a counter below zero.
func (o *sqlOps) DecrementMessageCountForQueue(ctx context.Context, queue string, by int64) error {
	_, err := o.exec(ctx, "decrementing message count",
		`UPDATE queue_counters SET message_count = CASE WHEN message_count > ? THEN message_count - ? ELSE 0 END
		WHERE queue_name = ?`, by, by, queue)
	return err
}

func (o *sqlOps) IncrementMessageCounts(ctx context.Context, counts map[string]int64) error {
	if len(counts) == 0 {
		return nil
	}
	// Fixed order keeps concurrent batches from locking rows in opposite order.
	queues := make([]string, 0, len(counts))
	for q := range counts {
		queues = append(queues, q)
	}
	sort.Strings(queues)

	return o.atomic(ctx, "incrementing message counts", func(tx *sqlOps) error {
		for _, q := range queues {
			if err := tx.IncrementMessageCountForQueue(ctx, q, counts[q]); err != nil {
				return err
			}
		}
		return nil
	})
}
