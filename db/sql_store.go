package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"
)

// Options configures Open.
type Options struct {
	Driver       string        // "sqlite3" (default) or "mysql"
	DSN          string        // file path for sqlite3, DSN for mysql
	BusyTimeout  time.Duration // sqlite3 busy timeout
	ReadConns    int           // sqlite3 read pool size
	MaxOpenConns int           // mysql pool size
	Clock        func() time.Time
}

// executor is satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqlOps implements Ops against either the pools or a single transaction.
// db is nil when running inside a transaction.
type sqlOps struct {
	w       executor
	r       executor
	db      *sql.DB
	dialect *dialect
	now     func() time.Time
}

// SQLStore is the SQL implementation of Store.
type SQLStore struct {
	*sqlOps
	writeDB *sql.DB
	readDB  *sql.DB
}

var _ Store = (*SQLStore)(nil)

// Open connects to the configured backend and creates the schema.
func Open(opts Options) (*SQLStore, error) {
	d, err := dialectFor(opts.Driver)
	if err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	var writeDB, readDB *sql.DB
	switch d.name {
	case DriverMySQL:
		writeDB, err = openMySQL(opts)
		readDB = writeDB
	default:
		writeDB, readDB, err = openSQLite(d, opts)
	}
	if err != nil {
		return nil, err
	}

	for _, schema := range d.schema {
		if _, err := writeDB.Exec(schema); err != nil {
			closePools(writeDB, readDB)
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	s := &SQLStore{
		sqlOps: &sqlOps{
			w:       writeDB,
			r:       readDB,
			db:      writeDB,
			dialect: d,
			now:     opts.Clock,
		},
		writeDB: writeDB,
		readDB:  readDB,
	}

	log.Debug().Str("driver", d.name).Msg("Store opened")
	return s, nil
}

func openSQLite(d *dialect, opts Options) (*sql.DB, *sql.DB, error) {
	path := opts.DSN
	if path == "" {
		return nil, nil, fmt.Errorf("sqlite store requires a path")
	}
	busyMS := opts.BusyTimeout.Milliseconds()
	if busyMS <= 0 {
		busyMS = 5000
	}
	readConns := opts.ReadConns
	if readConns <= 0 {
		readConns = 4
	}

	isMemoryDB := strings.Contains(path, ":memory:")
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}

	writeDSN := path
	readDSN := path
	if !isMemoryDB {
		writeDSN += fmt.Sprintf("%s_journal_mode=WAL&_busy_timeout=%d&_txlock=immediate", sep, busyMS)
		readDSN += fmt.Sprintf("%s_journal_mode=WAL&_busy_timeout=%d", sep, busyMS)
	}

	writeDB, err := sql.Open(d.driver, writeDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open write database: %w", err)
	}
	writeDB.SetMaxOpenConns(1)
	writeDB.SetMaxIdleConns(1)
	writeDB.SetConnMaxLifetime(0)

	// An in-memory database exists per connection, so reads share the writer.
	if isMemoryDB {
		return writeDB, writeDB, nil
	}

	readDB, err := sql.Open(d.driver, readDSN)
	if err != nil {
		writeDB.Close()
		return nil, nil, fmt.Errorf("failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(readConns)
	readDB.SetMaxIdleConns(readConns)
	readDB.SetConnMaxLifetime(0)

	return writeDB, readDB, nil
}

func openMySQL(opts Options) (*sql.DB, error) {
	dsnCfg, err := mysql.ParseDSN(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql dsn: %w", err)
	}
	// Affected-row counts must reflect matched rows: a heartbeat that writes
	// the same millisecond twice still proves ownership.
	dsnCfg.ClientFoundRows = true

	db, err := sql.Open(DriverMySQL, dsnCfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql database: %w", err)
	}
	maxOpen := opts.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 16
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach mysql: %w", err)
	}
	return db, nil
}

func closePools(writeDB, readDB *sql.DB) {
	if readDB != nil && readDB != writeDB {
		readDB.Close()
	}
	if writeDB != nil {
		writeDB.Close()
	}
}

// Close closes both connection pools.
func (s *SQLStore) Close() error {
	var readErr error
	if s.readDB != s.writeDB {
		readErr = s.readDB.Close()
	}
	if err := s.writeDB.Close(); err != nil {
		return err
	}
	return readErr
}

// Begin starts an explicit transaction on the write pool.
func (s *SQLStore) Begin(ctx context.Context) (Txn, error) {
	tx, err := s.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapErr("beginning transaction", err)
	}
	return &sqlTxn{
		sqlOps: &sqlOps{w: tx, r: tx, dialect: s.dialect, now: s.now},
		tx:     tx,
	}, nil
}

// IsOperational inserts, reads back and deletes a probe row.
func (s *SQLStore) IsOperational(ctx context.Context) bool {
	key := "probe-" + strconv.FormatInt(s.now().UnixNano(), 36)
	ts := s.now().UnixMilli()

	if _, err := s.writeDB.ExecContext(ctx,
		`INSERT INTO health_probe (probe_key, probe_time) VALUES (?, ?)`, key, ts); err != nil {
		log.Warn().Err(err).Msg("Store probe insert failed")
		return false
	}

	var got int64
	if err := s.writeDB.QueryRowContext(ctx,
		`SELECT probe_time FROM health_probe WHERE probe_key = ?`, key).Scan(&got); err != nil || got != ts {
		log.Warn().Err(err).Msg("Store probe read failed")
		return false
	}

	if _, err := s.writeDB.ExecContext(ctx, `DELETE FROM health_probe WHERE probe_key = ?`, key); err != nil {
		log.Warn().Err(err).Msg("Store probe delete failed")
		return false
	}
	return true
}

// sqlTxn is a Txn bound to one *sql.Tx.
type sqlTxn struct {
	*sqlOps
	tx *sql.Tx
}

func (t *sqlTxn) Commit() error {
	return wrapErr("committing transaction", t.tx.Commit())
}

func (t *sqlTxn) Rollback() error {
	err := t.tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return wrapErr("rolling back transaction", err)
}

// atomic runs fn as one commit-or-rollback unit. Inside a Txn it reuses the
// caller's transaction.
func (o *sqlOps) atomic(ctx context.Context, task string, fn func(*sqlOps) error) error {
	if o.db == nil {
		return wrapErr(task, fn(o))
	}

	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr(task, err)
	}

	inner := &sqlOps{w: tx, r: tx, dialect: o.dialect, now: o.now}
	if err := fn(inner); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Warn().Err(rbErr).Str("task", task).Msg("Rollback failed")
		}
		return wrapErr(task, err)
	}

	return wrapErr(task, tx.Commit())
}

func (o *sqlOps) exec(ctx context.Context, task, query string, args ...interface{}) (int64, error) {
	res, err := o.w.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, wrapErr(task, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapErr(task, err)
	}
	return n, nil
}

func (o *sqlOps) queryStrings(ctx context.Context, task, query string, args ...interface{}) ([]string, error) {
	rows, err := o.r.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(task, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, wrapErr(task, err)
		}
		out = append(out, v)
	}
	return out, wrapErr(task, rows.Err())
}

func (o *sqlOps) upsert(ctx context.Context, task, table, conflictColumn string, row, update map[string]interface{}) error {
	query, args, err := o.dialect.upsert(table, conflictColumn, row, update)
	if err != nil {
		return wrapErr(task, err)
	}
	_, err = o.exec(ctx, task, query, args...)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
