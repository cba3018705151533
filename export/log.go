package export

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/maxpert/slotkeeper/encoding"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

const (
	prefixLog    = "/xlog/"    // /xlog/{16 hex digit seq}
	prefixCursor = "/xcursor/" // /xcursor/{sink}
	keySeq       = "/xseq"
)

const (
	memTableSize          = 16 << 20
	l0CompactionThreshold = 2
	l0StopWritesThreshold = 12
	defaultReadLimit      = 100
)

// ErrLogClosed is returned by every operation on a closed log.
var ErrLogClosed = errors.New("export log closed")

// Log is a Pebble-backed append-only log of records with one delivery cursor
// per sink. A cursor is the sequence of the last record the sink handled.
type Log struct {
	db   *pebble.DB
	path string

	appendMu sync.Mutex
	lastSeq  atomic.Uint64
	cursors  *xsync.MapOf[string, uint64]

	compactMu sync.Mutex
	closed    atomic.Bool
}

// OpenLog opens or creates the log stored at path.
func OpenLog(path string) (*Log, error) {
	db, err := pebble.Open(path, &pebble.Options{
		MemTableSize:          memTableSize,
		L0CompactionThreshold: l0CompactionThreshold,
		L0StopWritesThreshold: l0StopWritesThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("opening export log at %s: %w", path, err)
	}

	l := &Log{
		db:      db,
		path:    path,
		cursors: xsync.NewMapOf[string, uint64](),
	}
	if err := l.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Log) load() error {
	val, closer, err := l.db.Get([]byte(keySeq))
	switch {
	case errors.Is(err, pebble.ErrNotFound):
	case err != nil:
		return fmt.Errorf("reading export sequence: %w", err)
	default:
		seq, decodeErr := decodeUint(val)
		_ = closer.Close()
		if decodeErr != nil {
			return fmt.Errorf("reading export sequence: %w", decodeErr)
		}
		l.lastSeq.Store(seq)
	}

	prefix := []byte(prefixCursor)
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upperBound(prefix)})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		name := string(iter.Key()[len(prefix):])
		cursor, err := decodeUint(iter.Value())
		if err != nil {
			return fmt.Errorf("reading cursor of sink %s: %w", name, err)
		}
		l.cursors.Store(name, cursor)
	}
	if err := iter.Error(); err != nil {
		return err
	}

	log.Debug().
		Str("path", l.path).
		Uint64("last_seq", l.lastSeq.Load()).
		Int("cursors", l.cursors.Size()).
		Msg("Export log opened")
	return nil
}

// Append assigns consecutive sequences to records and persists them in one
// synced batch. The assigned sequences are written back into records.
func (l *Log) Append(records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if l.closed.Load() {
		return ErrLogClosed
	}

	l.appendMu.Lock()
	defer l.appendMu.Unlock()

	batch := l.db.NewBatch()
	defer batch.Close()

	seq := l.lastSeq.Load()
	for i := range records {
		seq++
		records[i].Seq = seq
		val, err := encoding.Marshal(&records[i])
		if err != nil {
			return fmt.Errorf("encoding export record: %w", err)
		}
		if err := batch.Set(logKey(seq), val, nil); err != nil {
			return err
		}
	}
	if err := batch.Set([]byte(keySeq), encodeUint(seq), nil); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("committing export records: %w", err)
	}

	l.lastSeq.Store(seq)
	return nil
}

// ReadFrom returns up to limit records with sequence greater than cursor.
// Undecodable entries are skipped.
func (l *Log) ReadFrom(cursor uint64, limit int) ([]Record, error) {
	if l.closed.Load() {
		return nil, ErrLogClosed
	}
	if limit <= 0 {
		limit = defaultReadLimit
	}

	start := logKey(cursor + 1)
	iter, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: start,
		UpperBound: upperBound([]byte(prefixLog)),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	records := make([]Record, 0, limit)
	for iter.First(); iter.Valid() && len(records) < limit; iter.Next() {
		var r Record
		if err := encoding.Unmarshal(iter.Value(), &r); err != nil {
			log.Warn().Err(err).Str("key", string(iter.Key())).Msg("Skipping undecodable export record")
			continue
		}
		records = append(records, r)
	}
	return records, iter.Error()
}

// LastSeq returns the sequence of the newest appended record.
func (l *Log) LastSeq() uint64 {
	return l.lastSeq.Load()
}

// Cursor returns the cursor of sink. A sink seen for the first time starts
// at the oldest record still in the log.
func (l *Log) Cursor(sink string) (uint64, error) {
	if l.closed.Load() {
		return 0, ErrLogClosed
	}
	if c, ok := l.cursors.Load(sink); ok {
		return c, nil
	}

	oldest, err := l.ReadFrom(0, 1)
	if err != nil {
		return 0, err
	}
	if len(oldest) == 0 {
		return l.lastSeq.Load(), nil
	}
	return oldest[0].Seq - 1, nil
}

// AdvanceCursor persists seq as the cursor of sink.
func (l *Log) AdvanceCursor(sink string, seq uint64) error {
	if l.closed.Load() {
		return ErrLogClosed
	}
	if err := l.db.Set(cursorKey(sink), encodeUint(seq), pebble.NoSync); err != nil {
		return fmt.Errorf("advancing cursor of sink %s: %w", sink, err)
	}
	l.cursors.Store(sink, seq)
	return nil
}

// Cursors returns a snapshot of every persisted sink cursor.
func (l *Log) Cursors() map[string]uint64 {
	out := make(map[string]uint64, l.cursors.Size())
	l.cursors.Range(func(name string, c uint64) bool {
		out[name] = c
		return true
	})
	return out
}

// Compact deletes every record already handled by all sinks and returns the
// new lower bound. With no sinks nothing is deleted.
func (l *Log) Compact() (uint64, error) {
	l.compactMu.Lock()
	defer l.compactMu.Unlock()

	if l.closed.Load() {
		return 0, ErrLogClosed
	}

	low := uint64(math.MaxUint64)
	l.cursors.Range(func(_ string, c uint64) bool {
		if c < low {
			low = c
		}
		return true
	})
	if low == math.MaxUint64 || low == 0 {
		return 0, nil
	}

	if err := l.db.DeleteRange([]byte(prefixLog), logKey(low+1), pebble.Sync); err != nil {
		return 0, fmt.Errorf("compacting export log below %d: %w", low+1, err)
	}
	log.Debug().Uint64("below", low+1).Msg("Export log compacted")
	return low, nil
}

// Close closes the underlying store.
func (l *Log) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	l.compactMu.Lock()
	defer l.compactMu.Unlock()
	return l.db.Close()
}

func logKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%016x", prefixLog, seq))
}

func cursorKey(sink string) []byte {
	return []byte(prefixCursor + sink)
}

func encodeUint(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func decodeUint(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("invalid length %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

func upperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
