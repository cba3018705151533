package db

import (
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// ManualClock is a settable clock for store tests in this and other packages.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// OpenTestStore opens a file-backed SQLite store under t.TempDir and closes
// it when the test ends. A nil clock uses time.Now.
func OpenTestStore(t testing.TB, clock *ManualClock) *SQLStore {
	t.Helper()

	opts := Options{
		Driver:      DriverSQLite,
		DSN:         filepath.Join(t.TempDir(), "slotkeeper.db"),
		BusyTimeout: 5 * time.Second,
		ReadConns:   2,
	}
	if clock != nil {
		opts.Clock = clock.Now
	}

	store, err := Open(opts)
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}
