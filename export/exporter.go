package export

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/maxpert/slotkeeper/notify"
	"github.com/maxpert/slotkeeper/telemetry"
	"github.com/rs/zerolog/log"
)

const DefaultCompactInterval = time.Minute

// Options configures an Exporter.
type Options struct {
	Path            string
	NodeID          string
	CompactInterval time.Duration
	Clock           func() time.Time
}

// SinkStatus is the delivery position of one sink.
type SinkStatus struct {
	Name   string `json:"name"`
	Cursor uint64 `json:"cursor"`
	Lag    uint64 `json:"lag"`
}

// Exporter appends every broadcast this node originates to the log and runs
// one delivery worker per sink.
type Exporter struct {
	log             *Log
	nodeID          string
	now             func() time.Time
	compactInterval time.Duration

	mu      sync.Mutex
	workers []*Worker
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// Open opens the log at opts.Path.
func Open(opts Options) (*Exporter, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("export log path is required")
	}
	if opts.CompactInterval <= 0 {
		opts.CompactInterval = DefaultCompactInterval
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	l, err := OpenLog(opts.Path)
	if err != nil {
		return nil, err
	}
	return &Exporter{
		log:             l,
		nodeID:          opts.NodeID,
		now:             opts.Clock,
		compactInterval: opts.CompactInterval,
	}, nil
}

// Log returns the underlying log.
func (e *Exporter) Log() *Log {
	return e.log
}

// AddSink registers a delivery worker. Sinks added while running start
// immediately.
func (e *Exporter) AddSink(config WorkerConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, w := range e.workers {
		if w.Name() == config.Name {
			return fmt.Errorf("duplicate sink %s", config.Name)
		}
	}
	w, err := newWorker(e.log, config)
	if err != nil {
		return err
	}
	e.workers = append(e.workers, w)
	if e.running {
		w.Start()
	}

	log.Info().Str("sink", config.Name).Str("prefix", config.TopicPrefix).Msg("Export sink added")
	return nil
}

// Export implements notify.Exporter.
func (e *Exporter) Export(_ context.Context, ev notify.Event) error {
	r, err := RecordFromEvent(ev, e.nodeID, e.now())
	if err != nil {
		return err
	}
	if err := e.log.Append([]Record{r}); err != nil {
		return err
	}
	telemetry.ExportRecordsTotal.Inc()
	return nil
}

// Sinks reports every sink's cursor and lag.
func (e *Exporter) Sinks() []SinkStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	last := e.log.LastSeq()
	out := make([]SinkStatus, 0, len(e.workers))
	for _, w := range e.workers {
		c := w.Cursor()
		out = append(out, SinkStatus{Name: w.Name(), Cursor: c, Lag: last - c})
	}
	return out
}

// Start runs every worker and the compaction loop.
func (e *Exporter) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.running = true
	e.stopCh = make(chan struct{})

	for _, w := range e.workers {
		w.Start()
	}
	e.wg.Add(1)
	go e.compactLoop(e.stopCh)
}

// Stop stops the workers, closes their sinks and closes the log.
func (e *Exporter) Stop() {
	e.mu.Lock()
	workers := e.workers
	if e.running {
		close(e.stopCh)
		e.running = false
	}
	e.mu.Unlock()

	e.wg.Wait()
	for _, w := range workers {
		w.Stop()
		if err := w.config.Sink.Close(); err != nil {
			log.Warn().Err(err).Str("sink", w.Name()).Msg("Failed to close export sink")
		}
	}
	if err := e.log.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close export log")
	}
}

func (e *Exporter) compactLoop(stop <-chan struct{}) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.compactInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := e.log.Compact(); err != nil {
				log.Warn().Err(err).Msg("Export log compaction failed")
			}
		case <-stop:
			return
		}
	}
}
