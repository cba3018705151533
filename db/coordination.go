package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// coordinatorAnchor is the primary key of the single coordinator row.
const coordinatorAnchor = 1

func (o *sqlOps) CreateCoordinatorEntry(ctx context.Context, nodeID, address string) (bool, error) {
	_, err := o.w.ExecContext(ctx,
		`INSERT INTO cluster_coordinator (anchor, node_id, address, last_heartbeat) VALUES (?, ?, ?, ?)`,
		coordinatorAnchor, nodeID, address, o.now().UnixMilli())
	if err != nil {
		if isConstraintViolation(err) {
			return false, nil
		}
		return false, wrapErr("creating coordinator entry", err)
	}
	return true, nil
}

func (o *sqlOps) CheckIsCoordinator(ctx context.Context, nodeID string) (bool, error) {
	holder, err := o.GetCoordinatorNodeID(ctx)
	if err != nil {
		return false, err
	}
	return holder != "" && holder == nodeID, nil
}

// UpdateCoordinatorHeartbeat refreshes the row only while nodeID still holds it.
func (o *sqlOps) UpdateCoordinatorHeartbeat(ctx context.Context, nodeID string) (bool, error) {
	n, err := o.exec(ctx, "updating coordinator heartbeat",
		`UPDATE cluster_coordinator SET last_heartbeat = ? WHERE anchor = ? AND node_id = ?`,
		o.now().UnixMilli(), coordinatorAnchor, nodeID)
	return n > 0, err
}

func (o *sqlOps) CheckIfCoordinatorValid(ctx context.Context, maxAge time.Duration) (bool, error) {
	entry, err := o.GetCoordinator(ctx)
	if err != nil || entry == nil {
		return false, err
	}
	return o.now().Sub(entry.LastHeartbeat) <= maxAge, nil
}

func (o *sqlOps) GetCoordinator(ctx context.Context) (*CoordinatorEntry, error) {
	var (
		e  CoordinatorEntry
		ms int64
	)
	err := o.r.QueryRowContext(ctx,
		`SELECT node_id, address, last_heartbeat FROM cluster_coordinator WHERE anchor = ?`,
		coordinatorAnchor).Scan(&e.NodeID, &e.Address, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("reading coordinator", err)
	}
	e.LastHeartbeat = time.UnixMilli(ms)
	return &e, nil
}

func (o *sqlOps) GetCoordinatorNodeID(ctx context.Context) (string, error) {
	e, err := o.GetCoordinator(ctx)
	if err != nil || e == nil {
		return "", err
	}
	return e.NodeID, nil
}

func (o *sqlOps) GetCoordinatorAddress(ctx context.Context) (string, error) {
	e, err := o.GetCoordinator(ctx)
	if err != nil || e == nil {
		return "", err
	}
	return e.Address, nil
}

func (o *sqlOps) RemoveCoordinator(ctx context.Context) error {
	_, err := o.exec(ctx, "removing coordinator",
		`DELETE FROM cluster_coordinator WHERE anchor = ?`, coordinatorAnchor)
	return err
}

func (o *sqlOps) RemoveStaleCoordinator(ctx context.Context, maxAge time.Duration) (bool, error) {
	cutoff := o.now().Add(-maxAge).UnixMilli()
	n, err := o.exec(ctx, "removing stale coordinator",
		`DELETE FROM cluster_coordinator WHERE anchor = ? AND last_heartbeat < ?`,
		coordinatorAnchor, cutoff)
	return n > 0, err
}

// CreateNodeHeartbeatEntry inserts or refreshes the row, marking the node new.
func (o *sqlOps) CreateNodeHeartbeatEntry(ctx context.Context, nodeID, address string) error {
	now := o.now().UnixMilli()
	return o.upsert(ctx, "creating node heartbeat", "node_heartbeats", "node_id",
		map[string]interface{}{"node_id": nodeID, "address": address, "last_heartbeat": now, "is_new_node": 1},
		map[string]interface{}{"address": address, "last_heartbeat": now, "is_new_node": 1})
}

func (o *sqlOps) UpdateNodeHeartbeat(ctx context.Context, nodeID string) (bool, error) {
	n, err := o.exec(ctx, "updating node heartbeat",
		`UPDATE node_heartbeats SET last_heartbeat = ? WHERE node_id = ?`,
		o.now().UnixMilli(), nodeID)
	return n > 0, err
}

func (o *sqlOps) GetAllHeartBeatData(ctx context.Context) ([]NodeHeartbeat, error) {
	rows, err := o.r.QueryContext(ctx,
		`SELECT node_id, address, last_heartbeat, is_new_node FROM node_heartbeats ORDER BY node_id`)
	if err != nil {
		return nil, wrapErr("reading heartbeats", err)
	}
	defer rows.Close()

	var out []NodeHeartbeat
	for rows.Next() {
		var (
			hb    NodeHeartbeat
			ms    int64
			isNew int
		)
		if err := rows.Scan(&hb.NodeID, &hb.Address, &ms, &isNew); err != nil {
			return nil, wrapErr("reading heartbeats", err)
		}
		hb.LastHeartbeat = time.UnixMilli(ms)
		hb.IsNewNode = isNew != 0
		out = append(out, hb)
	}
	return out, wrapErr("reading heartbeats", rows.Err())
}

func (o *sqlOps) RemoveNodeHeartbeat(ctx context.Context, nodeID string) error {
	_, err := o.exec(ctx, "removing node heartbeat",
		`DELETE FROM node_heartbeats WHERE node_id = ?`, nodeID)
	return err
}

func (o *sqlOps) MarkNodeAsNotNew(ctx context.Context, nodeID string) error {
	_, err := o.exec(ctx, "marking node as not new",
		`UPDATE node_heartbeats SET is_new_node = 0 WHERE node_id = ?`, nodeID)
	return err
}

// ClearHeartBeatData drops every heartbeat row and id prefix claim.
func (o *sqlOps) ClearHeartBeatData(ctx context.Context) error {
	return o.atomic(ctx, "clearing heartbeats", func(tx *sqlOps) error {
		if _, err := tx.w.ExecContext(ctx, `DELETE FROM node_heartbeats`); err != nil {
			return err
		}
		_, err := tx.w.ExecContext(ctx, `DELETE FROM node_id_prefixes`)
		return err
	})
}

// ErrNoIDPrefix is returned when every id prefix is held by another node.
var ErrNoIDPrefix = errors.New("no free id prefix")

// acquirePrefixAttempts bounds retries when another node claims the same
// free prefix concurrently.
const acquirePrefixAttempts = 3

// AcquireIDPrefix returns the id prefix nodeID already holds, or claims the
// lowest one below limit that no node holds.
func (o *sqlOps) AcquireIDPrefix(ctx context.Context, nodeID string, limit int) (int, error) {
	var (
		prefix int
		err    error
	)
	for attempt := 0; attempt < acquirePrefixAttempts; attempt++ {
		err = o.atomic(ctx, "acquiring id prefix", func(tx *sqlOps) error {
			held := tx.r.QueryRowContext(ctx,
				`SELECT prefix FROM node_id_prefixes WHERE node_id = ?`, nodeID).Scan(&prefix)
			if held == nil || !errors.Is(held, sql.ErrNoRows) {
				return held
			}

			taken, err := tx.heldPrefixes(ctx)
			if err != nil {
				return err
			}
			prefix = -1
			for p := 0; p < limit; p++ {
				if !taken[p] {
					prefix = p
					break
				}
			}
			if prefix < 0 {
				return ErrNoIDPrefix
			}
			_, err = tx.w.ExecContext(ctx,
				`INSERT INTO node_id_prefixes (prefix, node_id) VALUES (?, ?)`, prefix, nodeID)
			return err
		})
		if !IsIntegrityViolation(err) {
			break
		}
	}
	if err != nil {
		if errors.Is(err, ErrNoIDPrefix) {
			return 0, ErrNoIDPrefix
		}
		return 0, err
	}
	return prefix, nil
}

func (o *sqlOps) heldPrefixes(ctx context.Context) (map[int]bool, error) {
	rows, err := o.r.QueryContext(ctx, `SELECT prefix FROM node_id_prefixes`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	taken := make(map[int]bool)
	for rows.Next() {
		var p int
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		taken[p] = true
	}
	return taken, rows.Err()
}

// ReleaseIDPrefix frees the prefix held by nodeID.
func (o *sqlOps) ReleaseIDPrefix(ctx context.Context, nodeID string) error {
	_, err := o.exec(ctx, "releasing id prefix",
		`DELETE FROM node_id_prefixes WHERE node_id = ?`, nodeID)
	return err
}
