package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxpert/slotkeeper/telemetry"
	"github.com/rs/zerolog/log"
)

const (
	DefaultBatchSize       = 100
	DefaultPollInterval    = 100 * time.Millisecond
	DefaultRetryInitial    = 100 * time.Millisecond
	DefaultRetryMax        = 30 * time.Second
	DefaultRetryMultiplier = 2.0
)

// Sink is a destination for exported records.
type Sink interface {
	Publish(ctx context.Context, subject, key string, value []byte) error
	Close() error
}

// WorkerConfig configures delivery to one sink.
type WorkerConfig struct {
	Name            string
	Sink            Sink
	Filter          *Filter
	TopicPrefix     string
	BatchSize       int
	PollInterval    time.Duration
	RetryInitial    time.Duration
	RetryMax        time.Duration
	RetryMultiplier float64
}

// Worker tails the log and publishes records to one sink. Delivery is
// at-least-once: the cursor advances only after a successful publish.
type Worker struct {
	config WorkerConfig
	log    *Log
	cursor atomic.Uint64

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
}

func newWorker(l *Log, config WorkerConfig) (*Worker, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("sink name is required")
	}
	if config.Sink == nil {
		return nil, fmt.Errorf("sink %s: no sink", config.Name)
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.RetryInitial <= 0 {
		config.RetryInitial = DefaultRetryInitial
	}
	if config.RetryMax <= 0 {
		config.RetryMax = DefaultRetryMax
	}
	if config.RetryMultiplier <= 1 {
		config.RetryMultiplier = DefaultRetryMultiplier
	}

	cursor, err := l.Cursor(config.Name)
	if err != nil {
		return nil, fmt.Errorf("sink %s: reading cursor: %w", config.Name, err)
	}
	// Pin the starting position so compaction cannot pass an idle sink.
	if err := l.AdvanceCursor(config.Name, cursor); err != nil {
		return nil, err
	}

	w := &Worker{config: config, log: l}
	w.cursor.Store(cursor)
	return w, nil
}

// Name returns the sink name.
func (w *Worker) Name() string {
	return w.config.Name
}

// Cursor returns the sequence of the last record this worker handled.
func (w *Worker) Cursor() uint64 {
	return w.cursor.Load()
}

// Start runs the poll loop until Stop.
func (w *Worker) Start() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()
	if w.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})

	log.Info().Str("sink", w.config.Name).Uint64("cursor", w.Cursor()).Msg("Export worker started")
	go w.loop(ctx, w.done)
}

// Stop cancels in-flight retries and waits for the loop to exit.
func (w *Worker) Stop() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()
	if w.cancel == nil {
		return
	}

	w.cancel()
	<-w.done
	w.cancel = nil
	log.Info().Str("sink", w.config.Name).Uint64("cursor", w.Cursor()).Msg("Export worker stopped")
}

func (w *Worker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		n, err := w.drain(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Str("sink", w.config.Name).Uint64("cursor", w.Cursor()).Msg("Export delivery failed")
		}
		if ctx.Err() != nil {
			return
		}
		if n > 0 && err == nil {
			continue
		}
		if !sleep(ctx, w.config.PollInterval) {
			return
		}
	}
}

// drain delivers one batch and returns how many records it handled.
func (w *Worker) drain(ctx context.Context) (int, error) {
	records, err := w.log.ReadFrom(w.Cursor(), w.config.BatchSize)
	if err != nil {
		return 0, err
	}

	handled := 0
	for _, r := range records {
		if w.config.Filter.Match(r) {
			if err := w.publish(ctx, r); err != nil {
				return handled, err
			}
		}

		if err := w.log.AdvanceCursor(w.config.Name, r.Seq); err != nil {
			log.Warn().Err(err).Str("sink", w.config.Name).Uint64("seq", r.Seq).Msg("Cursor not persisted, record may be redelivered")
		}
		w.cursor.Store(r.Seq)
		handled++
	}

	telemetry.ExportSinkLag.With(w.config.Name).Set(float64(w.log.LastSeq() - w.Cursor()))
	return handled, nil
}

// publish retries with exponential backoff until the sink accepts r or ctx
// is done.
func (w *Worker) publish(ctx context.Context, r Record) error {
	value, err := json.Marshal(r)
	if err != nil {
		return err
	}
	subject := r.Subject(w.config.TopicPrefix)
	key := r.Key()

	delay := w.config.RetryInitial
	for attempt := 1; ; attempt++ {
		err := w.config.Sink.Publish(ctx, subject, key, value)
		if err == nil {
			return nil
		}

		telemetry.ExportSinkErrorsTotal.With(w.config.Name).Inc()
		log.Warn().
			Err(err).
			Str("sink", w.config.Name).
			Str("subject", subject).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Msg("Export publish failed")

		if !sleep(ctx, delay) {
			return ctx.Err()
		}
		delay = time.Duration(float64(delay) * w.config.RetryMultiplier)
		if delay > w.config.RetryMax {
			delay = w.config.RetryMax
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
