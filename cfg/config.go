package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// ClusterConfiguration controls coordinator election and liveness detection
type ClusterConfiguration struct {
	AdvertiseAddress    string `toml:"advertise_address"` // Management address stored in heartbeat rows (defaults to hostname:admin port)
	HeartbeatIntervalMS int    `toml:"heartbeat_interval_ms"`
	HeartbeatMaxAgeMS   int    `toml:"heartbeat_max_age_ms"` // Runtime tunable
	DetectorIntervalMS  int    `toml:"detector_interval_ms"`
}

// StoreConfiguration selects and tunes the shared SQL store
type StoreConfiguration struct {
	Driver        string `toml:"driver"` // "sqlite3" or "mysql"
	DSN           string `toml:"dsn"`    // MySQL DSN or SQLite path (defaults to {data_dir}/slotkeeper.db)
	BusyTimeoutMS int    `toml:"busy_timeout_ms"`
	ReadConns     int    `toml:"read_conns"`
	MaxOpenConns  int    `toml:"max_open_conns"`
}

// SlotConfiguration controls how ingested ids are grouped into slots
type SlotConfiguration struct {
	Capacity        int `toml:"capacity"`          // Messages per sealed slot
	WindowTimeoutMS int `toml:"window_timeout_ms"` // Idle open slots are sealed after this long
}

// PipelineConfiguration controls the inbound event pipeline
type PipelineConfiguration struct {
	BatchSize      int `toml:"batch_size"`       // Runtime tunable
	FlushLatencyMS int `toml:"flush_latency_ms"` // Runtime tunable
	QueueSize      int `toml:"queue_size"`
}

// RelayConfiguration controls mailbox polling
type RelayConfiguration struct {
	PollIntervalMS int  `toml:"poll_interval_ms"`
	AckMode        bool `toml:"ack_mode"`    // Peek/ack instead of read-then-delete
	PeekLimit      int  `toml:"peek_limit"`  // Rows per peek in ack mode
	DedupeSize     int  `toml:"dedupe_size"` // Recently applied row ids remembered in ack mode
}

// SinkConfiguration describes one export destination
type SinkConfiguration struct {
	Name            string   `toml:"name"`
	Type            string   `toml:"type"` // "nats" or "kafka"
	TopicPrefix     string   `toml:"topic_prefix"`
	NatsURL         string   `toml:"nats_url"`
	Brokers         []string `toml:"brokers"`
	BatchSize       int      `toml:"batch_size"`
	PollIntervalMS  int      `toml:"poll_interval_ms"`
	RetryInitialMS  int      `toml:"retry_initial_ms"`
	RetryMaxMS      int      `toml:"retry_max_ms"`
	RetryMultiplier float64  `toml:"retry_multiplier"`
	FilterTypes     []string `toml:"filter_types"`     // Glob patterns on record type
	FilterArtifacts []string `toml:"filter_artifacts"` // Glob patterns on artifact
}

// ExportConfiguration controls export of relayed events
type ExportConfiguration struct {
	Enabled          bool                `toml:"enabled"`
	CompactIntervalS int                 `toml:"compact_interval_seconds"`
	Sinks            []SinkConfiguration `toml:"sinks"`
}

// AdminConfiguration for the HTTP admin API
type AdminConfiguration struct {
	Enabled       bool   `toml:"enabled"`
	BindAddress   string `toml:"bind_address"`
	Port          int    `toml:"port"`
	ClusterSecret string `toml:"cluster_secret"` // Empty disables authentication
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled           bool `toml:"enabled"`
	CollectIntervalMS int  `toml:"collect_interval_ms"`
}

// Configuration is the main configuration structure
type Configuration struct {
	NodeID  uint64 `toml:"node_id"`
	DataDir string `toml:"data_dir"`

	Cluster    ClusterConfiguration    `toml:"cluster"`
	Store      StoreConfiguration      `toml:"store"`
	Slot       SlotConfiguration       `toml:"slot"`
	Pipeline   PipelineConfiguration   `toml:"pipeline"`
	Relay      RelayConfiguration      `toml:"relay"`
	Export     ExportConfiguration     `toml:"export"`
	Admin      AdminConfiguration      `toml:"admin"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	DataDirFlag    = flag.String("data-dir", "", "Data directory (overrides config)")
	NodeIDFlag     = flag.Uint64("node-id", 0, "Node ID (overrides config, 0=auto)")
	AdminPortFlag  = flag.Int("admin-port", 0, "Admin HTTP port (overrides config)")
	StoreDSNFlag   = flag.String("store-dsn", "", "Store DSN (overrides config)")
)

// Default configuration
var Config = &Configuration{
	NodeID:  0, // Auto-generate
	DataDir: "./slotkeeper-data",

	Cluster: ClusterConfiguration{
		HeartbeatIntervalMS: 1000,
		HeartbeatMaxAgeMS:   5000,
		DetectorIntervalMS:  1000,
	},

	Store: StoreConfiguration{
		Driver:        "sqlite3",
		BusyTimeoutMS: 5000,
		ReadConns:     4,
		MaxOpenConns:  16,
	},

	Slot: SlotConfiguration{
		Capacity:        1000,
		WindowTimeoutMS: 5000,
	},

	Pipeline: PipelineConfiguration{
		BatchSize:      100,
		FlushLatencyMS: 100,
		QueueSize:      4096,
	},

	Relay: RelayConfiguration{
		PollIntervalMS: 500,
		AckMode:        false,
		PeekLimit:      256,
		DedupeSize:     4096,
	},

	Export: ExportConfiguration{
		Enabled:          false,
		CompactIntervalS: 60,
	},

	Admin: AdminConfiguration{
		Enabled:     true,
		BindAddress: "0.0.0.0",
		Port:        8090,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled:           true,
		CollectIntervalMS: 10000,
	},
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *DataDirFlag != "" {
		Config.DataDir = *DataDirFlag
	}
	if *NodeIDFlag != 0 {
		Config.NodeID = *NodeIDFlag
	}
	if *AdminPortFlag != 0 {
		Config.Admin.Port = *AdminPortFlag
	}
	if *StoreDSNFlag != "" {
		Config.Store.DSN = *StoreDSNFlag
	}

	if Config.NodeID == 0 {
		var err error
		Config.NodeID, err = generateNodeID()
		if err != nil {
			return fmt.Errorf("failed to generate node ID: %w", err)
		}
		log.Info().Uint64("node_id", Config.NodeID).Msg("Auto-generated node ID")
	}

	if err := os.MkdirAll(Config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	return nil
}

// generateNodeID creates a unique node ID based on machine ID
func generateNodeID() (uint64, error) {
	id, err := machineid.ProtectedID("slotkeeper")
	if err != nil {
		return 0, err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64(), nil
}

// Validate checks configuration for errors
func Validate() error {
	if Config.Admin.Port < 1 || Config.Admin.Port > 65535 {
		return fmt.Errorf("invalid admin port: %d", Config.Admin.Port)
	}

	if Config.Cluster.AdvertiseAddress == "" {
		hostname, err := os.Hostname()
		if err != nil {
			log.Warn().Err(err).Msg("Failed to get hostname, using localhost")
			hostname = "localhost"
		}
		Config.Cluster.AdvertiseAddress = fmt.Sprintf("%s:%d", hostname, Config.Admin.Port)
		log.Info().
			Str("advertise_address", Config.Cluster.AdvertiseAddress).
			Msg("Auto-configured advertise address")
	}

	switch Config.Store.Driver {
	case "sqlite3", "":
	case "mysql":
		if Config.Store.DSN == "" {
			return fmt.Errorf("mysql store requires a dsn")
		}
	default:
		return fmt.Errorf("invalid store driver: %s", Config.Store.Driver)
	}

	if Config.Store.BusyTimeoutMS < 0 {
		return fmt.Errorf("store busy timeout must be >= 0")
	}

	if Config.Cluster.HeartbeatIntervalMS < 1 {
		return fmt.Errorf("heartbeat interval must be >= 1ms")
	}

	if Config.Cluster.HeartbeatMaxAgeMS <= Config.Cluster.HeartbeatIntervalMS {
		return fmt.Errorf("heartbeat max age (%dms) must exceed heartbeat interval (%dms)",
			Config.Cluster.HeartbeatMaxAgeMS, Config.Cluster.HeartbeatIntervalMS)
	}

	if Config.Cluster.DetectorIntervalMS < 1 {
		return fmt.Errorf("detector interval must be >= 1ms")
	}

	if Config.Slot.Capacity < 1 {
		return fmt.Errorf("slot capacity must be >= 1")
	}

	if Config.Slot.WindowTimeoutMS < 1 {
		return fmt.Errorf("slot window timeout must be >= 1ms")
	}

	if Config.Pipeline.BatchSize < 1 {
		return fmt.Errorf("pipeline batch size must be >= 1")
	}

	if Config.Pipeline.FlushLatencyMS < 1 {
		return fmt.Errorf("pipeline flush latency must be >= 1ms")
	}

	if Config.Pipeline.QueueSize < 1 {
		return fmt.Errorf("pipeline queue size must be >= 1")
	}

	if Config.Relay.PollIntervalMS < 1 {
		return fmt.Errorf("relay poll interval must be >= 1ms")
	}

	if Config.Relay.AckMode && Config.Relay.DedupeSize < 1 {
		return fmt.Errorf("relay dedupe size must be >= 1 in ack mode")
	}

	if Config.Logging.Format != "console" && Config.Logging.Format != "json" {
		return fmt.Errorf("invalid logging format: %s", Config.Logging.Format)
	}

	if Config.Export.Enabled {
		seen := make(map[string]bool)
		for _, sink := range Config.Export.Sinks {
			if sink.Name == "" {
				return fmt.Errorf("export sink requires a name")
			}
			if seen[sink.Name] {
				return fmt.Errorf("duplicate export sink name: %s", sink.Name)
			}
			seen[sink.Name] = true

			switch sink.Type {
			case "nats":
				if sink.NatsURL == "" {
					return fmt.Errorf("nats sink %q requires nats_url", sink.Name)
				}
			case "kafka":
				if len(sink.Brokers) == 0 {
					return fmt.Errorf("kafka sink %q requires brokers", sink.Name)
				}
			default:
				return fmt.Errorf("unknown sink type %q for sink %q", sink.Type, sink.Name)
			}
		}
	}

	return nil
}

// StorePath returns the SQLite database path when no DSN is configured.
func StorePath() string {
	if Config.Store.DSN != "" {
		return Config.Store.DSN
	}
	return filepath.Join(Config.DataDir, "slotkeeper.db")
}

// ExportLogPath returns the Pebble directory of the export log.
func ExportLogPath() string {
	return filepath.Join(Config.DataDir, "export_log")
}

// Millis converts a millisecond config value to a duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
