package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/jizhuozhi/go-future"
	"github.com/maxpert/slotkeeper/cfg"
	"github.com/maxpert/slotkeeper/cluster"
	"github.com/maxpert/slotkeeper/db"
	"github.com/maxpert/slotkeeper/export"
	"github.com/maxpert/slotkeeper/id"
	"github.com/maxpert/slotkeeper/pipeline"
	"github.com/maxpert/slotkeeper/slot"
	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 1 << 20

// Membership lists the local view of the cluster.
type Membership interface {
	Members() []cluster.Member
}

// Leadership exposes the coordinator election.
type Leadership interface {
	State() cluster.State
	Coordinator(ctx context.Context) (*db.CoordinatorEntry, error)
	Resign(ctx context.Context) (bool, error)
}

// Slots is the slot coordinator surface served over HTTP.
type Slots interface {
	RequestSlot(ctx context.Context, queue, node string) (db.Slot, error)
	ReleaseSlot(ctx context.Context, s db.Slot, fullyConsumed bool) (db.Slot, error)
	RecordDelivered(ctx context.Context, queue string, messageID int64) error
	Slots(ctx context.Context, queue string) ([]db.Slot, error)
	AssignedTo(ctx context.Context, node string) ([]db.Slot, error)
	DeleteQueue(ctx context.Context, queue string) error
	OpenSlots() []slot.OpenSlot
	Verify(ctx context.Context, queue string) (slot.Report, error)
}

// Queues reads queue-level state from the store.
type Queues interface {
	GetAllQueues(ctx context.Context) ([]string, error)
	GetAllMessageCounts(ctx context.Context) (map[string]int64, error)
	IsOperational(ctx context.Context) bool
}

// Ingest submits events to the inbound pipeline.
type Ingest interface {
	Submit(ctx context.Context, ev pipeline.Event) *future.Future[error]
	Err() error
}

// Tunables reads and changes runtime parameters.
type Tunables interface {
	Snapshot() cfg.TunableValues
	Update(v cfg.TunableValues) error
}

// Channels lists tracked client channels and subscriptions.
type Channels interface {
	Channels() []pipeline.ChannelInfo
	Subscriptions() []pipeline.SubscriptionInfo
}

// ExportStatus reports export sink positions.
type ExportStatus interface {
	Sinks() []export.SinkStatus
}

// Handlers serves the admin API. Optional dependencies may be nil; their
// endpoints answer 503.
type Handlers struct {
	NodeID     string
	Membership Membership
	Leadership Leadership
	Slots      Slots
	Queues     Queues
	Ingest     Ingest
	IDs        id.Generator
	Tunables   Tunables
	Channels   Channels
	Export     ExportStatus
}

type envelope struct {
	Data any `json:"data"`
}

type errorBody struct {
	Error string `json:"error"`
}

// writeJSONResponse wraps data in {"data": ...}.
func writeJSONResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Data: data}); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorBody{Error: message}); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func unavailable(w http.ResponseWriter, what string) {
	writeErrorResponse(w, http.StatusServiceUnavailable, what+" not available on this node")
}
