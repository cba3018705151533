package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// SlotStats reports persisted slot counts for the collector.
type SlotStats interface {
	SlotCountsByState(ctx context.Context) (map[string]int, error)
	QueueCount(ctx context.Context) (int, error)
}

// MetricsCollector periodically collects store stats and updates telemetry gauges
type MetricsCollector struct {
	stats    SlotStats
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(stats SlotStats, interval time.Duration) *MetricsCollector {
	return &MetricsCollector{
		stats:    stats,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic collection
func (mc *MetricsCollector) Start() {
	mc.wg.Add(1)
	go mc.collectLoop()
}

// Stop stops the collector
func (mc *MetricsCollector) Stop() {
	close(mc.stopCh)
	mc.wg.Wait()
}

func (mc *MetricsCollector) collectLoop() {
	defer mc.wg.Done()

	ticker := time.NewTicker(mc.interval)
	defer ticker.Stop()

	mc.collect()

	for {
		select {
		case <-ticker.C:
			mc.collect()
		case <-mc.stopCh:
			return
		}
	}
}

func (mc *MetricsCollector) collect() {
	if mc.stats == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), mc.interval)
	defer cancel()

	counts, err := mc.stats.SlotCountsByState(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("Failed to collect slot stats")
		return
	}
	for state, n := range counts {
		SlotsByState.With(state).Set(float64(n))
	}

	if queues, err := mc.stats.QueueCount(ctx); err == nil {
		QueuesTotal.Set(float64(queues))
	}
}
