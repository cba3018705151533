package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleClusterMembers handles GET /admin/cluster/members
func (h *Handlers) handleClusterMembers(w http.ResponseWriter, r *http.Request) {
	if h.Membership == nil {
		unavailable(w, "membership view")
		return
	}
	writeJSONResponse(w, http.StatusOK, h.Membership.Members())
}

type coordinatorResponse struct {
	NodeID        string `json:"node_id"`
	Address       string `json:"address"`
	LastHeartbeat int64  `json:"last_heartbeat"`
	LocalState    string `json:"local_state"`
}

// handleClusterCoordinator handles GET /admin/cluster/coordinator
func (h *Handlers) handleClusterCoordinator(w http.ResponseWriter, r *http.Request) {
	if h.Leadership == nil {
		unavailable(w, "election")
		return
	}
	entry, err := h.Leadership.Coordinator(r.Context())
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entry == nil {
		writeErrorResponse(w, http.StatusNotFound, "no coordinator elected")
		return
	}
	writeJSONResponse(w, http.StatusOK, coordinatorResponse{
		NodeID:        entry.NodeID,
		Address:       entry.Address,
		LastHeartbeat: entry.LastHeartbeat.UnixMilli(),
		LocalState:    h.Leadership.State().String(),
	})
}

// handleClusterResign handles POST /admin/cluster/resign
func (h *Handlers) handleClusterResign(w http.ResponseWriter, r *http.Request) {
	if h.Leadership == nil {
		unavailable(w, "election")
		return
	}
	resigned, err := h.Leadership.Resign(r.Context())
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]bool{"resigned": resigned})
}

// handleNodeSlots handles GET /admin/nodes/{node}/slots
func (h *Handlers) handleNodeSlots(w http.ResponseWriter, r *http.Request) {
	if h.Slots == nil {
		unavailable(w, "slot coordinator")
		return
	}
	slots, err := h.Slots.AssignedTo(r.Context(), chi.URLParam(r, "node"))
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSONResponse(w, http.StatusOK, slots)
}

type healthResponse struct {
	NodeID   string `json:"node_id"`
	Store    bool   `json:"store"`
	Pipeline string `json:"pipeline"`
}

// handleHealth handles GET /admin/health. It answers 503 when the store
// probe fails or the pipeline has stopped.
func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{NodeID: h.NodeID, Pipeline: "running"}
	status := http.StatusOK

	if h.Queues != nil {
		resp.Store = h.Queues.IsOperational(r.Context())
		if !resp.Store {
			status = http.StatusServiceUnavailable
		}
	}
	if h.Ingest != nil {
		if err := h.Ingest.Err(); err != nil {
			resp.Pipeline = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	writeJSONResponse(w, status, resp)
}
