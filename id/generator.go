package id

import (
	"sync"
	"time"
)

const (
	// SequenceBits is the per-millisecond counter width: 65536 ids per ms per node.
	SequenceBits = 16
	SequenceMask = (1 << SequenceBits) - 1

	// NodeBits limits a cluster to 64 distinct id prefixes.
	NodeBits = 6
	NodeMask = (1 << NodeBits) - 1

	timeShift = NodeBits + SequenceBits
)

// Generator hands out cluster-unique message ids.
type Generator interface {
	NextID() int64
}

// MessageIDGenerator produces ids laid out as (unix_ms << 22) | (node << 16) | seq.
// Ids from one generator are strictly increasing; ids from different nodes
// never collide as long as their prefixes differ.
type MessageIDGenerator struct {
	mu     sync.Mutex
	node   int64
	lastMS int64
	seq    int64
	now    func() time.Time
}

// NewMessageIDGenerator creates a generator stamping prefix into every id.
// The prefix must be unique across live nodes; only its low NodeBits count.
func NewMessageIDGenerator(prefix uint64) *MessageIDGenerator {
	return &MessageIDGenerator{
		node: int64(prefix & NodeMask),
		now:  time.Now,
	}
}

// NextID returns the next id, spinning into the next millisecond when the
// sequence for the current one is exhausted.
func (g *MessageIDGenerator) NextID() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now().UnixMilli()
	// The wall clock stepping backwards must not produce a smaller id.
	if ms < g.lastMS {
		ms = g.lastMS
	}

	if ms == g.lastMS {
		g.seq++
		for g.seq > SequenceMask {
			time.Sleep(100 * time.Microsecond)
			if next := g.now().UnixMilli(); next > g.lastMS {
				ms = next
				g.seq = 0
			}
		}
	} else {
		g.seq = 0
	}
	g.lastMS = ms

	return (ms << timeShift) | (g.node << SequenceBits) | g.seq
}

// Last returns the most recent id handed out, or 0.
func (g *MessageIDGenerator) Last() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lastMS == 0 {
		return 0
	}
	return (g.lastMS << timeShift) | (g.node << SequenceBits) | g.seq
}

// Floor returns the smallest id any node can generate at t.
func Floor(t time.Time) int64 {
	return t.UnixMilli() << timeShift
}

// Time extracts the millisecond timestamp embedded in an id.
func Time(id int64) time.Time {
	return time.UnixMilli(id >> timeShift)
}

// Node extracts the node bits embedded in an id.
func Node(id int64) uint64 {
	return uint64((id >> SequenceBits) & NodeMask)
}
