package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jizhuozhi/go-future"
	"github.com/maxpert/slotkeeper/telemetry"
	"github.com/rs/zerolog/log"
)

const DefaultQueueSize = 4096

var (
	// ErrStopped is returned for events submitted to, or still queued in, a
	// stopped pipeline.
	ErrStopped = errors.New("pipeline stopped")

	// ErrMalformedEvent rejects events that fail validation at Submit.
	ErrMalformedEvent = errors.New("malformed event")
)

// FatalError stops the pipeline.
type FatalError struct {
	Kind string
	Err  error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal pipeline error on %s: %v", e.Kind, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Tunables supplies the runtime batching parameters.
type Tunables interface {
	BatchSize() int
	FlushLatency() time.Duration
}

// IssuedIDs reports the most recent id the local generator handed out.
type IssuedIDs interface {
	Last() int64
}

// Options configures a Pipeline.
type Options struct {
	NodeID    string
	QueueSize int
	Clock     func() time.Time
	// IDs enables advancing the publish watermark while the node is idle.
	IDs IssuedIDs
}

type request struct {
	ev      Event
	promise *future.Promise[error]
}

// Pipeline is a multi-producer, single-consumer event applier. Events are
// applied strictly in submission order by one goroutine.
type Pipeline struct {
	nodeID   string
	tunables Tunables
	handler  LifecycleHandler
	batch    *batcher
	now      func() time.Time

	queue    chan *request
	ctx      context.Context
	cancel   context.CancelFunc
	stopping chan struct{}
	done     chan struct{}

	submitMu  sync.RWMutex
	stopped   bool
	stopOnce  sync.Once
	startOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// New creates a pipeline. Call Start to run the consumer.
func New(extender SlotExtender, counters CounterStore, handler LifecycleHandler, tunables Tunables, opts Options) *Pipeline {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		nodeID:   opts.NodeID,
		tunables: tunables,
		handler:  handler,
		now:      opts.Clock,
		queue:    make(chan *request, opts.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}
	p.batch = newBatcher(extender, counters, opts.NodeID, opts.Clock)
	p.batch.ids = opts.IDs
	return p
}

// Start runs the consumer.
func (p *Pipeline) Start() {
	p.startOnce.Do(func() {
		go p.consume()
	})
}

// Submit validates and enqueues ev. The future resolves once the event has
// been applied, with the error of its state update if any. A full queue
// blocks until ctx is done.
func (p *Pipeline) Submit(ctx context.Context, ev Event) *future.Future[error] {
	promise := future.NewPromise[error]()

	if ev == nil {
		promise.Set(nil, fmt.Errorf("%w: nil event", ErrMalformedEvent))
		return promise.Future()
	}
	if err := ev.validate(); err != nil {
		telemetry.PipelineEventErrorsTotal.With(ev.Kind()).Inc()
		promise.Set(nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, ev.Kind(), err))
		return promise.Future()
	}

	p.submitMu.RLock()
	defer p.submitMu.RUnlock()

	if p.stopped {
		promise.Set(nil, ErrStopped)
		return promise.Future()
	}

	select {
	case p.queue <- &request{ev: ev, promise: promise}:
		telemetry.PipelineQueueDepth.Inc()
	case <-ctx.Done():
		promise.Set(nil, ctx.Err())
	case <-p.stopping:
		promise.Set(nil, ErrStopped)
	}
	return promise.Future()
}

// Stop submits a Shutdown event and waits for the consumer to exit.
func (p *Pipeline) Stop(ctx context.Context) error {
	fut := p.Submit(ctx, &Shutdown{})
	if _, err := fut.Get(); err != nil && !errors.Is(err, ErrStopped) {
		return err
	}

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the consumer has exited.
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}

// Err returns the *FatalError that stopped the pipeline, if any.
func (p *Pipeline) Err() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.err
}

func (p *Pipeline) consume() {
	defer p.finish()

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	var idleC <-chan time.Time
	if p.batch.ids != nil {
		interval := p.tunables.FlushLatency()
		if interval <= 0 {
			interval = time.Second
		}
		idle := time.NewTicker(interval)
		defer idle.Stop()
		idleC = idle.C
	}

	for {
		var latencyC <-chan time.Time
		if oldest, ok := p.batch.oldest(); ok {
			wait := p.tunables.FlushLatency() - p.now().Sub(oldest)
			if wait <= 0 {
				p.batch.flush(p.ctx, "latency")
				continue
			}
			timer.Reset(wait)
			latencyC = timer.C
		}

		select {
		case req := <-p.queue:
			timer.Stop()
			telemetry.PipelineQueueDepth.Dec()

			endOfBatch := len(p.queue) == 0
			err := p.apply(req.ev, endOfBatch)
			req.promise.Set(nil, err)

			var fatal *FatalError
			if errors.As(err, &fatal) {
				p.setErr(fatal)
				return
			}
			if _, ok := req.ev.(*Shutdown); ok {
				return
			}

		case <-latencyC:
			p.batch.flush(p.ctx, "latency")

		case <-idleC:
			if len(p.queue) == 0 {
				p.batch.advanceIdle(p.ctx)
			}
		}
	}
}

// apply runs one event and then the batching step.
func (p *Pipeline) apply(ev Event, endOfBatch bool) error {
	err := ev.Accept(p.ctx, &applier{p: p})
	telemetry.PipelineEventsTotal.With(ev.Kind()).Inc()

	if err != nil {
		telemetry.PipelineEventErrorsTotal.With(ev.Kind()).Inc()
		log.Error().Err(err).Str("kind", ev.Kind()).Msg("Failed to apply pipeline event")
	}

	if arrived, ok := ev.(*MessagesArrived); ok && arrived.EndOfBatch {
		endOfBatch = true
	}

	switch {
	case p.batch.size() == 0:
	case p.batch.size() >= p.tunables.BatchSize():
		p.batch.flush(p.ctx, "size")
	case endOfBatch:
		p.batch.flush(p.ctx, "end_of_batch")
	default:
		if oldest, ok := p.batch.oldest(); ok && p.now().Sub(oldest) >= p.tunables.FlushLatency() {
			p.batch.flush(p.ctx, "latency")
		}
	}
	return err
}

func (p *Pipeline) setErr(err error) {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	if p.err == nil {
		p.err = err
	}
}

// finish flushes what is buffered and fails everything still queued.
func (p *Pipeline) finish() {
	p.batch.flush(p.ctx, "shutdown")

	p.stopOnce.Do(func() { close(p.stopping) })

	p.submitMu.Lock()
	p.stopped = true
	p.submitMu.Unlock()

drain:
	for {
		select {
		case req := <-p.queue:
			telemetry.PipelineQueueDepth.Dec()
			req.promise.Set(nil, ErrStopped)
		default:
			break drain
		}
	}

	if err := p.Err(); err != nil {
		log.Error().Err(err).Msg("Pipeline stopped")
	} else {
		log.Info().Msg("Pipeline stopped")
	}
	p.cancel()
	close(p.done)
}

// applier dispatches events on the consumer goroutine.
type applier struct {
	p *Pipeline
}

func (a *applier) VisitMessagesArrived(_ context.Context, ev *MessagesArrived) error {
	a.p.batch.add(ev.Messages)
	return nil
}

func (a *applier) VisitChannelOpened(ctx context.Context, ev *ChannelOpened) error {
	return a.p.handler.ChannelOpened(ctx, *ev)
}

func (a *applier) VisitChannelClosed(ctx context.Context, ev *ChannelClosed) error {
	return a.p.handler.ChannelClosed(ctx, *ev)
}

func (a *applier) VisitDeliveryStarted(ctx context.Context, ev *DeliveryStarted) error {
	return a.p.handler.DeliveryStarted(ctx, *ev)
}

func (a *applier) VisitDeliveryStopped(ctx context.Context, ev *DeliveryStopped) error {
	return a.p.handler.DeliveryStopped(ctx, *ev)
}

func (a *applier) VisitExpirationWorkerStarted(ctx context.Context, ev *ExpirationWorkerStarted) error {
	if err := a.p.handler.ExpirationWorkerStarted(ctx); err != nil {
		return &FatalError{Kind: ev.Kind(), Err: err}
	}
	return nil
}

func (a *applier) VisitExpirationWorkerStopped(ctx context.Context, _ *ExpirationWorkerStopped) error {
	return a.p.handler.ExpirationWorkerStopped(ctx)
}

func (a *applier) VisitSubscriptionOpened(ctx context.Context, ev *SubscriptionOpened) error {
	return a.p.handler.SubscriptionOpened(ctx, *ev)
}

func (a *applier) VisitSubscriptionClosed(ctx context.Context, ev *SubscriptionClosed) error {
	return a.p.handler.SubscriptionClosed(ctx, *ev)
}

func (a *applier) VisitShutdown(ctx context.Context, _ *Shutdown) error {
	a.p.batch.flush(ctx, "shutdown")
	return nil
}
