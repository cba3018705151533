package db

import (
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
)

const (
	DriverSQLite = "sqlite3"
	DriverMySQL  = "mysql"
)

// dialect captures what differs between the supported SQL backends.
type dialect struct {
	name    string
	driver  string
	builder goqu.DialectWrapper
	schema  []string
	// forUpdate is appended to reads that must lock their row until commit.
	forUpdate string
}

func dialectFor(driver string) (*dialect, error) {
	switch driver {
	case "", DriverSQLite:
		return &dialect{
			name:    DriverSQLite,
			driver:  SQLiteDriverName,
			builder: goqu.Dialect("sqlite3"),
			schema:  sqliteSchema,
		}, nil
	case DriverMySQL:
		return &dialect{
			name:      DriverMySQL,
			driver:    DriverMySQL,
			builder:   goqu.Dialect("mysql"),
			schema:    mysqlSchema,
			forUpdate: " FOR UPDATE",
		}, nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
}

// upsert builds an insert that updates the given columns when conflictColumn
// already exists. SQLite renders ON CONFLICT, MySQL ON DUPLICATE KEY UPDATE.
func (d *dialect) upsert(table, conflictColumn string, row, update goqu.Record) (string, []interface{}, error) {
	return d.builder.Insert(table).
		Rows(row).
		OnConflict(goqu.DoUpdate(conflictColumn, update)).
		Prepared(true).
		ToSQL()
}

// insertIgnore builds an insert that leaves an existing row untouched.
func (d *dialect) insertIgnore(table string, row goqu.Record) (string, []interface{}, error) {
	return d.builder.Insert(table).
		Rows(row).
		OnConflict(goqu.DoNothing()).
		Prepared(true).
		ToSQL()
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS slots (
		storage_queue_name TEXT NOT NULL,
		start_message_id INTEGER NOT NULL,
		end_message_id INTEGER NOT NULL,
		slot_state INTEGER NOT NULL DEFAULT 1,
		assigned_node_id TEXT NOT NULL DEFAULT '',
		overlapped INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (storage_queue_name, start_message_id, end_message_id)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_slots_queue_start ON slots(storage_queue_name, start_message_id)`,
	`CREATE INDEX IF NOT EXISTS idx_slots_queue_state ON slots(storage_queue_name, slot_state, start_message_id)`,
	`CREATE INDEX IF NOT EXISTS idx_slots_node ON slots(assigned_node_id, slot_state)`,
	`CREATE TABLE IF NOT EXISTS queue_last_assigned (
		queue_name TEXT PRIMARY KEY,
		message_id INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS node_last_published (
		node_id TEXT PRIMARY KEY,
		message_id INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS delivered_message_ids (
		queue_name TEXT NOT NULL,
		message_id INTEGER NOT NULL,
		PRIMARY KEY (queue_name, message_id)
	)`,
	`CREATE TABLE IF NOT EXISTS queue_counters (
		queue_name TEXT PRIMARY KEY,
		message_count INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS cluster_coordinator (
		anchor INTEGER PRIMARY KEY,
		node_id TEXT NOT NULL,
		address TEXT NOT NULL,
		last_heartbeat INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS node_heartbeats (
		node_id TEXT PRIMARY KEY,
		address TEXT NOT NULL,
		last_heartbeat INTEGER NOT NULL,
		is_new_node INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS node_id_prefixes (
		prefix INTEGER PRIMARY KEY,
		node_id TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS membership_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		node_id TEXT NOT NULL,
		event_type INTEGER NOT NULL,
		changed_member TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_membership_events_node ON membership_events(node_id, id)`,
	`CREATE TABLE IF NOT EXISTS cluster_notifications (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		node_id TEXT NOT NULL,
		originated_node_id TEXT NOT NULL,
		artifact TEXT NOT NULL,
		notification_type TEXT NOT NULL,
		payload TEXT NOT NULL,
		description TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cluster_notifications_node ON cluster_notifications(node_id, id)`,
	`CREATE TABLE IF NOT EXISTS health_probe (
		probe_key TEXT PRIMARY KEY,
		probe_time INTEGER NOT NULL
	)`,
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS slots (
		storage_queue_name VARCHAR(255) NOT NULL,
		start_message_id BIGINT NOT NULL,
		end_message_id BIGINT NOT NULL,
		slot_state TINYINT NOT NULL DEFAULT 1,
		assigned_node_id VARCHAR(255) NOT NULL DEFAULT '',
		overlapped TINYINT NOT NULL DEFAULT 0,
		PRIMARY KEY (storage_queue_name, start_message_id, end_message_id),
		UNIQUE INDEX idx_slots_queue_start (storage_queue_name, start_message_id),
		INDEX idx_slots_queue_state (storage_queue_name, slot_state, start_message_id),
		INDEX idx_slots_node (assigned_node_id, slot_state)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS queue_last_assigned (
		queue_name VARCHAR(255) PRIMARY KEY,
		message_id BIGINT NOT NULL
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS node_last_published (
		node_id VARCHAR(255) PRIMARY KEY,
		message_id BIGINT NOT NULL
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS delivered_message_ids (
		queue_name VARCHAR(255) NOT NULL,
		message_id BIGINT NOT NULL,
		PRIMARY KEY (queue_name, message_id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS queue_counters (
		queue_name VARCHAR(255) PRIMARY KEY,
		message_count BIGINT NOT NULL DEFAULT 0
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS cluster_coordinator (
		anchor INT PRIMARY KEY,
		node_id VARCHAR(255) NOT NULL,
		address VARCHAR(512) NOT NULL,
		last_heartbeat BIGINT NOT NULL
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS node_heartbeats (
		node_id VARCHAR(255) PRIMARY KEY,
		address VARCHAR(512) NOT NULL,
		last_heartbeat BIGINT NOT NULL,
		is_new_node TINYINT NOT NULL DEFAULT 1
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS node_id_prefixes (
		prefix INT PRIMARY KEY,
		node_id VARCHAR(255) NOT NULL,
		UNIQUE INDEX idx_node_id_prefixes_node (node_id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS membership_events (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		node_id VARCHAR(255) NOT NULL,
		event_type INT NOT NULL,
		changed_member VARCHAR(255) NOT NULL,
		INDEX idx_membership_events_node (node_id, id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS cluster_notifications (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		node_id VARCHAR(255) NOT NULL,
		originated_node_id VARCHAR(255) NOT NULL,
		artifact VARCHAR(255) NOT NULL,
		notification_type VARCHAR(255) NOT NULL,
		payload TEXT NOT NULL,
		description TEXT NOT NULL,
		INDEX idx_cluster_notifications_node (node_id, id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS health_probe (
		probe_key VARCHAR(255) PRIMARY KEY,
		probe_time BIGINT NOT NULL
	) ENGINE=InnoDB`,
}
