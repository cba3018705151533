package admin

import (
	"errors"
	"io"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/maxpert/slotkeeper/db"
	"github.com/maxpert/slotkeeper/pipeline"
	"github.com/maxpert/slotkeeper/slot"
)

type queueSummary struct {
	Name     string `json:"name"`
	Messages int64  `json:"messages"`
}

// handleListQueues handles GET /admin/queues
func (h *Handlers) handleListQueues(w http.ResponseWriter, r *http.Request) {
	if h.Queues == nil {
		unavailable(w, "store")
		return
	}
	ctx := r.Context()
	names, err := h.Queues.GetAllQueues(ctx)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	counts, err := h.Queues.GetAllMessageCounts(ctx)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	seen := make(map[string]struct{}, len(names))
	out := make([]queueSummary, 0, len(names))
	for _, n := range names {
		seen[n] = struct{}{}
		out = append(out, queueSummary{Name: n, Messages: counts[n]})
	}
	for n, c := range counts {
		if _, ok := seen[n]; !ok {
			out = append(out, queueSummary{Name: n, Messages: c})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	writeJSONResponse(w, http.StatusOK, out)
}

// handleQueueSlots handles GET /admin/queues/{queue}/slots
func (h *Handlers) handleQueueSlots(w http.ResponseWriter, r *http.Request) {
	if h.Slots == nil {
		unavailable(w, "slot coordinator")
		return
	}
	slots, err := h.Slots.Slots(r.Context(), chi.URLParam(r, "queue"))
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSONResponse(w, http.StatusOK, slots)
}

// handleQueueVerify handles GET /admin/queues/{queue}/verify
func (h *Handlers) handleQueueVerify(w http.ResponseWriter, r *http.Request) {
	if h.Slots == nil {
		unavailable(w, "slot coordinator")
		return
	}
	report, err := h.Slots.Verify(r.Context(), chi.URLParam(r, "queue"))
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusConflict
	}
	writeJSONResponse(w, status, report)
}

type requestSlotBody struct {
	Node string `json:"node"`
}

// handleRequestSlot handles POST /admin/queues/{queue}/slots/request. The
// node defaults to this node.
func (h *Handlers) handleRequestSlot(w http.ResponseWriter, r *http.Request) {
	if h.Slots == nil {
		unavailable(w, "slot coordinator")
		return
	}
	var body requestSlotBody
	if err := decodeBody(r, &body); err != nil && !errors.Is(err, io.EOF) {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Node == "" {
		body.Node = h.NodeID
	}

	s, err := h.Slots.RequestSlot(r.Context(), chi.URLParam(r, "queue"), body.Node)
	switch {
	case errors.Is(err, slot.ErrNoSlotAvailable):
		writeErrorResponse(w, http.StatusNotFound, err.Error())
	case err != nil:
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSONResponse(w, http.StatusOK, s)
	}
}

type releaseSlotBody struct {
	Node          string `json:"node"`
	Start         int64  `json:"start"`
	End           int64  `json:"end"`
	FullyConsumed bool   `json:"fully_consumed"`
}

// handleReleaseSlot handles POST /admin/queues/{queue}/slots/release
func (h *Handlers) handleReleaseSlot(w http.ResponseWriter, r *http.Request) {
	if h.Slots == nil {
		unavailable(w, "slot coordinator")
		return
	}
	var body releaseSlotBody
	if err := decodeBody(r, &body); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Start < 1 || body.End < body.Start {
		writeErrorResponse(w, http.StatusBadRequest, "invalid slot range")
		return
	}
	if body.Node == "" {
		body.Node = h.NodeID
	}

	held := db.Slot{
		StorageQueue:   chi.URLParam(r, "queue"),
		StartMessageID: body.Start,
		EndMessageID:   body.End,
		AssignedNodeID: body.Node,
		State:          db.SlotAssigned,
	}
	result, err := h.Slots.ReleaseSlot(r.Context(), held, body.FullyConsumed)

	var notOwner *slot.NotOwnerError
	switch {
	case errors.As(err, &notOwner):
		writeErrorResponse(w, http.StatusConflict, err.Error())
	case errors.Is(err, slot.ErrSlotNotFound):
		writeErrorResponse(w, http.StatusNotFound, err.Error())
	case err != nil:
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSONResponse(w, http.StatusOK, result)
	}
}

type deliveredBody struct {
	ID int64 `json:"id"`
}

// handleRecordDelivered handles POST /admin/queues/{queue}/delivered
func (h *Handlers) handleRecordDelivered(w http.ResponseWriter, r *http.Request) {
	if h.Slots == nil {
		unavailable(w, "slot coordinator")
		return
	}
	var body deliveredBody
	if err := decodeBody(r, &body); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.ID < 1 {
		writeErrorResponse(w, http.StatusBadRequest, "invalid message id")
		return
	}
	if err := h.Slots.RecordDelivered(r.Context(), chi.URLParam(r, "queue"), body.ID); err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type messagesBody struct {
	IDs        []int64 `json:"ids"`
	Count      int     `json:"count"`
	EndOfBatch bool    `json:"end_of_batch"`
}

type messagesResponse struct {
	Accepted int     `json:"accepted"`
	IDs      []int64 `json:"ids"`
}

const maxGeneratedIDs = 10000

// handleMessagesArrived handles POST /admin/queues/{queue}/messages and
// waits until the pipeline has applied the event. When ids is empty, count
// ids are allocated from the node's generator.
func (h *Handlers) handleMessagesArrived(w http.ResponseWriter, r *http.Request) {
	if h.Ingest == nil {
		unavailable(w, "pipeline")
		return
	}
	var body messagesBody
	if err := decodeBody(r, &body); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	if len(body.IDs) == 0 && body.Count > 0 {
		if h.IDs == nil {
			unavailable(w, "id generator")
			return
		}
		if body.Count > maxGeneratedIDs {
			writeErrorResponse(w, http.StatusBadRequest, "count too large")
			return
		}
		for range body.Count {
			body.IDs = append(body.IDs, h.IDs.NextID())
		}
	}

	queue := chi.URLParam(r, "queue")
	ev := &pipeline.MessagesArrived{EndOfBatch: body.EndOfBatch}
	for _, msgID := range body.IDs {
		ev.Messages = append(ev.Messages, pipeline.Message{Queue: queue, ID: msgID})
	}

	_, err := h.Ingest.Submit(r.Context(), ev).Get()
	switch {
	case errors.Is(err, pipeline.ErrMalformedEvent):
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, pipeline.ErrStopped):
		writeErrorResponse(w, http.StatusServiceUnavailable, err.Error())
	case err != nil:
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSONResponse(w, http.StatusAccepted, messagesResponse{Accepted: len(body.IDs), IDs: body.IDs})
	}
}

// handleDeleteQueue handles DELETE /admin/queues/{queue}
func (h *Handlers) handleDeleteQueue(w http.ResponseWriter, r *http.Request) {
	if h.Slots == nil {
		unavailable(w, "slot coordinator")
		return
	}
	if err := h.Slots.DeleteQueue(r.Context(), chi.URLParam(r, "queue")); err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleOpenSlots handles GET /admin/slots/open
func (h *Handlers) handleOpenSlots(w http.ResponseWriter, r *http.Request) {
	if h.Slots == nil {
		unavailable(w, "slot coordinator")
		return
	}
	writeJSONResponse(w, http.StatusOK, h.Slots.OpenSlots())
}
