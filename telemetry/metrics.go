package telemetry

// Histogram bucket definitions for different latency profiles
var (
	// StoreOpBuckets for single store transactions
	StoreOpBuckets = []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

	// FlushSizeBuckets for number of messages per pipeline flush
	FlushSizeBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000}
)

// Slot Metrics
var (
	// SlotOperationsTotal counts coordinator operations by op and result (ok, error, empty)
	SlotOperationsTotal CounterVec = noopCounterVec{}

	// SlotOperationSeconds measures coordinator operation latency by op
	SlotOperationSeconds HistogramVec = noopHistogramVec{}

	// SlotsSealedTotal counts open slots persisted as unassigned slots
	SlotsSealedTotal Counter = NoopStat{}

	// SlotSealConflictsTotal counts seals that lost a slot creation race
	SlotSealConflictsTotal Counter = NoopStat{}

	// SlotsReassignedTotal counts slots returned to the pool by reassignment
	SlotsReassignedTotal Counter = NoopStat{}

	// OverlapsDetectedTotal counts slots marked OVERLAPPED
	OverlapsDetectedTotal Counter = NoopStat{}

	// OpenSlots tracks queues with a node-local open slot
	OpenSlots Gauge = NoopStat{}

	// SlotsByState tracks persisted slots by state, refreshed by the collector
	SlotsByState GaugeVec = noopGaugeVec{}

	// QueuesTotal tracks queues known to the store
	QueuesTotal Gauge = NoopStat{}
)

// Cluster Metrics
var (
	// ClusterNodes tracks node count by status (ALIVE, DEAD, LEFT)
	ClusterNodes GaugeVec = noopGaugeVec{}

	// NodeStateTransitionsTotal counts view transitions (from -> to)
	NodeStateTransitionsTotal CounterVec = noopCounterVec{}

	// IsCoordinator is 1 while this node holds the coordinator row
	IsCoordinator Gauge = NoopStat{}

	// ElectionTransitionsTotal counts election state changes (from -> to)
	ElectionTransitionsTotal CounterVec = noopCounterVec{}

	// NodesDeclaredDeadTotal counts nodes removed by the failure detector
	NodesDeclaredDeadTotal Counter = NoopStat{}

	// HeartbeatFailuresTotal counts failed heartbeat writes by kind (node, coordinator)
	HeartbeatFailuresTotal CounterVec = noopCounterVec{}
)

// Mailbox Metrics
var (
	// MailboxWritesTotal counts rows written by mailbox (membership, notification)
	MailboxWritesTotal CounterVec = noopCounterVec{}

	// MailboxReadsTotal counts rows consumed by mailbox
	MailboxReadsTotal CounterVec = noopCounterVec{}

	// MailboxPollErrorsTotal counts failed poll passes
	MailboxPollErrorsTotal Counter = NoopStat{}

	// MailboxDuplicatesTotal counts rows skipped because they were already dispatched
	MailboxDuplicatesTotal Counter = NoopStat{}
)

// Pipeline Metrics
var (
	// PipelineEventsTotal counts applied events by type
	PipelineEventsTotal CounterVec = noopCounterVec{}

	// PipelineEventErrorsTotal counts events whose state update was dropped, by type
	PipelineEventErrorsTotal CounterVec = noopCounterVec{}

	// PipelineFlushesTotal counts batch flushes by reason (size, end_of_batch, latency, shutdown)
	PipelineFlushesTotal CounterVec = noopCounterVec{}

	// PipelineFlushSeconds measures flush latency
	PipelineFlushSeconds Histogram = NoopStat{}

	// PipelineFlushSize measures messages per flush
	PipelineFlushSize Histogram = NoopStat{}

	// PipelineQueueDepth tracks events waiting for the consumer
	PipelineQueueDepth Gauge = NoopStat{}
)

// Export Metrics
var (
	// ExportRecordsTotal counts records appended to the export log
	ExportRecordsTotal Counter = NoopStat{}

	// ExportSinkErrorsTotal counts failed sink sends by sink name
	ExportSinkErrorsTotal CounterVec = noopCounterVec{}

	// ExportSinkLag tracks records not yet delivered, by sink name
	ExportSinkLag GaugeVec = noopGaugeVec{}
)

// InitMetrics registers every metric. Call after InitializeTelemetry.
func InitMetrics() {
	// Slot Metrics
	SlotOperationsTotal = NewCounterVec(
		"slot_operations_total",
		"Slot coordinator operations by op and result",
		[]string{"op", "result"},
	)
	SlotOperationSeconds = NewHistogramVec(
		"slot_operation_seconds",
		"Slot coordinator operation latency",
		[]string{"op"},
		StoreOpBuckets,
	)
	SlotsSealedTotal = NewCounter(
		"slots_sealed_total",
		"Open slots persisted as unassigned slots",
	)
	SlotSealConflictsTotal = NewCounter(
		"slot_seal_conflicts_total",
		"Seals that lost a slot creation race and kept their ids open",
	)
	SlotsReassignedTotal = NewCounter(
		"slots_reassigned_total",
		"Slots returned to the pool by reassignment",
	)
	OverlapsDetectedTotal = NewCounter(
		"overlaps_detected_total",
		"Slots marked as overlapped",
	)
	OpenSlots = NewGauge(
		"open_slots",
		"Queues with a node-local open slot",
	)
	SlotsByState = NewGaugeVec(
		"slots",
		"Persisted slots by state",
		[]string{"state"},
	)
	QueuesTotal = NewGauge(
		"queues",
		"Queues known to the store",
	)

	// Cluster Metrics
	ClusterNodes = NewGaugeVec(
		"cluster_nodes",
		"Number of nodes in cluster by status",
		[]string{"status"},
	)
	NodeStateTransitionsTotal = NewCounterVec(
		"node_state_transitions_total",
		"Node state transitions",
		[]string{"from", "to"},
	)
	IsCoordinator = NewGauge(
		"is_coordinator",
		"Whether this node holds the coordinator row (1=yes, 0=no)",
	)
	ElectionTransitionsTotal = NewCounterVec(
		"election_transitions_total",
		"Coordinator election state transitions",
		[]string{"from", "to"},
	)
	NodesDeclaredDeadTotal = NewCounter(
		"nodes_declared_dead_total",
		"Nodes removed by the failure detector",
	)
	HeartbeatFailuresTotal = NewCounterVec(
		"heartbeat_failures_total",
		"Failed heartbeat writes by kind",
		[]string{"kind"},
	)

	// Mailbox Metrics
	MailboxWritesTotal = NewCounterVec(
		"mailbox_writes_total",
		"Mailbox rows written by mailbox",
		[]string{"mailbox"},
	)
	MailboxReadsTotal = NewCounterVec(
		"mailbox_reads_total",
		"Mailbox rows consumed by mailbox",
		[]string{"mailbox"},
	)
	MailboxPollErrorsTotal = NewCounter(
		"mailbox_poll_errors_total",
		"Failed mailbox poll passes",
	)
	MailboxDuplicatesTotal = NewCounter(
		"mailbox_duplicates_total",
		"Mailbox rows skipped as already dispatched",
	)

	// Pipeline Metrics
	PipelineEventsTotal = NewCounterVec(
		"pipeline_events_total",
		"Inbound events applied by type",
		[]string{"type"},
	)
	PipelineEventErrorsTotal = NewCounterVec(
		"pipeline_event_errors_total",
		"Inbound events whose state update was dropped, by type",
		[]string{"type"},
	)
	PipelineFlushesTotal = NewCounterVec(
		"pipeline_flushes_total",
		"Batch flushes by reason",
		[]string{"reason"},
	)
	PipelineFlushSeconds = NewHistogramWithBuckets(
		"pipeline_flush_seconds",
		"Batch flush latency",
		StoreOpBuckets,
	)
	PipelineFlushSize = NewHistogramWithBuckets(
		"pipeline_flush_size",
		"Messages per batch flush",
		FlushSizeBuckets,
	)
	PipelineQueueDepth = NewGauge(
		"pipeline_queue_depth",
		"Events waiting for the pipeline consumer",
	)

	// Export Metrics
	ExportRecordsTotal = NewCounter(
		"export_records_total",
		"Records appended to the export log",
	)
	ExportSinkErrorsTotal = NewCounterVec(
		"export_sink_errors_total",
		"Failed export sink sends",
		[]string{"sink"},
	)
	ExportSinkLag = NewGaugeVec(
		"export_sink_lag",
		"Export records not yet delivered to a sink",
		[]string{"sink"},
	)
}
