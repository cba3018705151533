package cfg

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"
)

// Tunables holds the settings that may change while running. Components
// read them on every use.
type Tunables struct {
	heartbeatMaxAge atomic.Int64
	batchSize       atomic.Int64
	flushLatency    atomic.Int64
}

// TunableValues is the wire and reload form of Tunables. Zero fields are
// left unchanged by Update.
type TunableValues struct {
	HeartbeatMaxAgeMS int64 `json:"heartbeat_max_age_ms"`
	BatchSize         int64 `json:"batch_size"`
	FlushLatencyMS    int64 `json:"flush_latency_ms"`
}

// NewTunables seeds tunables from a configuration.
func NewTunables(c *Configuration) *Tunables {
	t := &Tunables{}
	t.heartbeatMaxAge.Store(int64(Millis(c.Cluster.HeartbeatMaxAgeMS)))
	t.batchSize.Store(int64(c.Pipeline.BatchSize))
	t.flushLatency.Store(int64(Millis(c.Pipeline.FlushLatencyMS)))
	return t
}

func (t *Tunables) HeartbeatMaxAge() time.Duration {
	return time.Duration(t.heartbeatMaxAge.Load())
}

func (t *Tunables) BatchSize() int {
	return int(t.batchSize.Load())
}

func (t *Tunables) FlushLatency() time.Duration {
	return time.Duration(t.flushLatency.Load())
}

// Snapshot returns the current values.
func (t *Tunables) Snapshot() TunableValues {
	return TunableValues{
		HeartbeatMaxAgeMS: t.HeartbeatMaxAge().Milliseconds(),
		BatchSize:         int64(t.BatchSize()),
		FlushLatencyMS:    t.FlushLatency().Milliseconds(),
	}
}

// Update validates v and applies its non-zero fields. Nothing is applied
// when any field is invalid.
func (t *Tunables) Update(v TunableValues) error {
	if v.HeartbeatMaxAgeMS < 0 {
		return fmt.Errorf("heartbeat max age must be > 0")
	}
	if v.BatchSize < 0 {
		return fmt.Errorf("batch size must be >= 1")
	}
	if v.FlushLatencyMS < 0 {
		return fmt.Errorf("flush latency must be > 0")
	}

	if v.HeartbeatMaxAgeMS > 0 {
		t.heartbeatMaxAge.Store(int64(time.Duration(v.HeartbeatMaxAgeMS) * time.Millisecond))
	}
	if v.BatchSize > 0 {
		t.batchSize.Store(v.BatchSize)
	}
	if v.FlushLatencyMS > 0 {
		t.flushLatency.Store(int64(time.Duration(v.FlushLatencyMS) * time.Millisecond))
	}

	log.Info().
		Int64("heartbeat_max_age_ms", t.HeartbeatMaxAge().Milliseconds()).
		Int("batch_size", t.BatchSize()).
		Int64("flush_latency_ms", t.FlushLatency().Milliseconds()).
		Msg("Tunables updated")
	return nil
}

// Reload re-reads the tunable settings from configPath on top of the current
// configuration. Other settings in the file are ignored until restart.
func Reload(configPath string, t *Tunables) error {
	if _, err := os.Stat(configPath); err != nil {
		return fmt.Errorf("config file unavailable: %w", err)
	}

	next := *Config
	if _, err := toml.DecodeFile(configPath, &next); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}

	if next.Cluster.HeartbeatMaxAgeMS <= Config.Cluster.HeartbeatIntervalMS {
		return fmt.Errorf("heartbeat max age (%dms) must exceed heartbeat interval (%dms)",
			next.Cluster.HeartbeatMaxAgeMS, Config.Cluster.HeartbeatIntervalMS)
	}
	if next.Pipeline.BatchSize < 1 {
		return fmt.Errorf("pipeline batch size must be >= 1")
	}
	if next.Pipeline.FlushLatencyMS < 1 {
		return fmt.Errorf("pipeline flush latency must be >= 1ms")
	}

	return t.Update(TunableValues{
		HeartbeatMaxAgeMS: int64(next.Cluster.HeartbeatMaxAgeMS),
		BatchSize:         int64(next.Pipeline.BatchSize),
		FlushLatencyMS:    int64(next.Pipeline.FlushLatencyMS),
	})
}
