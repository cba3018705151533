package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/maxpert/slotkeeper/admin"
	"github.com/maxpert/slotkeeper/cfg"
	"github.com/maxpert/slotkeeper/cluster"
	"github.com/maxpert/slotkeeper/db"
	"github.com/maxpert/slotkeeper/export"
	"github.com/maxpert/slotkeeper/export/sink"
	"github.com/maxpert/slotkeeper/id"
	"github.com/maxpert/slotkeeper/notify"
	"github.com/maxpert/slotkeeper/pipeline"
	"github.com/maxpert/slotkeeper/slot"
	"github.com/maxpert/slotkeeper/telemetry"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 30 * time.Second

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("node_id", cfg.Config.NodeID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	nodeID := strconv.FormatUint(cfg.Config.NodeID, 10)

	log.Info().Msg("Slotkeeper - slot-based message distribution")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry(cfg.Config.Prometheus.Enabled, nodeID)

	tunables := cfg.NewTunables(cfg.Config)

	// Shared store
	log.Info().Str("driver", cfg.Config.Store.Driver).Msg("Opening store")
	store, err := db.Open(db.Options{
		Driver:       cfg.Config.Store.Driver,
		DSN:          cfg.StorePath(),
		BusyTimeout:  cfg.Millis(cfg.Config.Store.BusyTimeoutMS),
		ReadConns:    cfg.Config.Store.ReadConns,
		MaxOpenConns: cfg.Config.Store.MaxOpenConns,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
		return
	}
	defer store.Close()

	// Slot coordinator
	coordinator := slot.NewCoordinator(store, slot.Options{
		NodeID:        nodeID,
		Capacity:      cfg.Config.Slot.Capacity,
		WindowTimeout: cfg.Millis(cfg.Config.Slot.WindowTimeoutMS),
	})
	coordinator.Start()

	var collector *telemetry.MetricsCollector
	if cfg.Config.Prometheus.Enabled {
		collector = telemetry.NewMetricsCollector(coordinator, cfg.Millis(cfg.Config.Prometheus.CollectIntervalMS))
		collector.Start()
	}

	// Export and relay
	var exporter *export.Exporter
	if cfg.Config.Export.Enabled {
		exporter, err = startExporter(nodeID)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to start exporter")
			return
		}
	}

	hub := notify.NewHub(0)
	relayOpts := notify.Options{
		NodeID:       nodeID,
		PollInterval: cfg.Millis(cfg.Config.Relay.PollIntervalMS),
		AckMode:      cfg.Config.Relay.AckMode,
		PeekLimit:    cfg.Config.Relay.PeekLimit,
		DedupeSize:   cfg.Config.Relay.DedupeSize,
	}
	if exporter != nil {
		relayOpts.Exporter = exporter
	}
	relay, err := notify.NewRelay(store, hub, relayOpts)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create notification relay")
		return
	}
	relay.Start()

	followCtx, stopFollowing := context.WithCancel(context.Background())

	// Membership and election
	view := cluster.NewView(nodeID, cfg.Config.Cluster.AdvertiseAddress)
	membershipCh, unsubscribeMembership := hub.Subscribe(notify.Filter{Kinds: []notify.Kind{notify.KindMembership}})
	go view.Follow(followCtx, membershipCh)

	notificationCh, unsubscribeNotifications := hub.Subscribe(notify.Filter{
		Kinds: []notify.Kind{notify.KindNotification},
		Types: []string{queueDeletedEvent},
	})
	go followQueueDeletes(followCtx, notificationCh, coordinator)

	heartbeatInterval := cfg.Millis(cfg.Config.Cluster.HeartbeatIntervalMS)
	heartbeater := cluster.NewHeartbeater(store, view, tunables, cluster.HeartbeatOptions{
		NodeID:   nodeID,
		Address:  cfg.Config.Cluster.AdvertiseAddress,
		Interval: heartbeatInterval,
	})

	startCtx, cancelStart := context.WithTimeout(context.Background(), shutdownTimeout)
	if err := heartbeater.Join(startCtx); err != nil {
		cancelStart()
		log.Fatal().Err(err).Msg("Failed to join cluster")
		return
	}
	heartbeater.Start()
	ids := id.NewMessageIDGenerator(heartbeater.IDPrefix())

	election := cluster.NewElection(store, relay, tunables, cluster.ElectionOptions{
		NodeID:   nodeID,
		Address:  cfg.Config.Cluster.AdvertiseAddress,
		Interval: heartbeatInterval,
	})
	election.OnElected(func() {
		view.SetCoordinator(nodeID)
		log.Info().Msg("This node is now the cluster coordinator")
	})
	election.OnDeposed(func() {
		log.Warn().Msg("This node is no longer the cluster coordinator")
	})
	if err := election.Start(startCtx); err != nil {
		cancelStart()
		log.Fatal().Err(err).Msg("Failed to start coordinator election")
		return
	}
	cancelStart()

	detector := cluster.NewDetector(store, election, coordinator, relay, tunables, cluster.DetectorOptions{
		NodeID:   nodeID,
		Interval: cfg.Millis(cfg.Config.Cluster.DetectorIntervalMS),
	})
	detector.Start()

	// Inbound pipeline
	tracker := pipeline.NewTracker(nil, coordinator)
	inbound := pipeline.New(coordinator, store, tracker, tunables, pipeline.Options{
		NodeID:    nodeID,
		QueueSize: cfg.Config.Pipeline.QueueSize,
		IDs:       ids,
	})
	inbound.Start()

	// Admin HTTP
	var server *http.Server
	if cfg.Config.Admin.Enabled {
		handlers := &admin.Handlers{
			NodeID:     nodeID,
			Membership: view,
			Leadership: election,
			Slots: &clusterSlots{
				Coordinator: coordinator,
				relay:       relay,
				peers:       view.Alive,
				nodeID:      nodeID,
			},
			Queues:   store,
			Ingest:   inbound,
			IDs:      ids,
			Tunables: tunables,
			Channels: tracker,
		}
		if exporter != nil {
			handlers.Export = exporter
		}

		mux := http.NewServeMux()
		admin.RegisterRoutes(mux, handlers, cfg.Config.Admin.ClusterSecret)
		server = &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Config.Admin.BindAddress, cfg.Config.Admin.Port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("Admin server failed")
			}
		}()
	}

	log.Info().
		Str("node_id", nodeID).
		Str("advertise_address", cfg.Config.Cluster.AdvertiseAddress).
		Str("data_dir", cfg.Config.DataDir).
		Msg("Node is operational")

	waitForShutdown(inbound, tunables)

	// Shut down in reverse start order.
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if server != nil {
		if err := server.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("Admin server shutdown failed")
		}
	}
	if err := inbound.Stop(ctx); err != nil && !errors.Is(err, pipeline.ErrStopped) {
		log.Warn().Err(err).Msg("Pipeline stop failed")
	}
	if err := coordinator.Stop(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to seal open slots")
	}
	detector.Stop()
	election.Stop()
	if _, err := election.Resign(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to resign coordinator role")
	}
	heartbeater.Stop()
	if err := heartbeater.Leave(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to leave cluster")
	}
	unsubscribeMembership()
	unsubscribeNotifications()
	stopFollowing()
	relay.Stop()
	hub.Close()
	if exporter != nil {
		exporter.Stop()
	}
	if collector != nil {
		collector.Stop()
	}

	log.Info().Msg("Shutdown complete")
}

func startExporter(nodeID string) (*export.Exporter, error) {
	exporter, err := export.Open(export.Options{
		Path:            cfg.ExportLogPath(),
		NodeID:          nodeID,
		CompactInterval: time.Duration(cfg.Config.Export.CompactIntervalS) * time.Second,
	})
	if err != nil {
		return nil, err
	}

	for _, sc := range cfg.Config.Export.Sinks {
		wc, err := sink.WorkerConfig(sc)
		if err != nil {
			exporter.Stop()
			return nil, fmt.Errorf("sink %s: %w", sc.Name, err)
		}
		if err := exporter.AddSink(wc); err != nil {
			_ = wc.Sink.Close()
			exporter.Stop()
			return nil, err
		}
	}
	exporter.Start()
	return exporter, nil
}

// waitForShutdown blocks until SIGINT/SIGTERM or a fatal pipeline error.
// SIGHUP reloads the runtime tunables from the config file.
func waitForShutdown(inbound *pipeline.Pipeline, tunables *cfg.Tunables) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(signals)

	for {
		select {
		case sig := <-signals:
			if sig == syscall.SIGHUP {
				if err := cfg.Reload(*cfg.ConfigPathFlag, tunables); err != nil {
					log.Warn().Err(err).Msg("Tunables reload failed")
				}
				continue
			}
			log.Info().Str("signal", sig.String()).Msg("Shutting down")
			return
		case <-inbound.Done():
			log.Error().Err(inbound.Err()).Msg("Pipeline stopped, shutting down")
			return
		}
	}
}
