package admin

import (
	"net/http"

	"github.com/maxpert/slotkeeper/cfg"
)

// handleGetTunables handles GET /admin/tunables
func (h *Handlers) handleGetTunables(w http.ResponseWriter, r *http.Request) {
	if h.Tunables == nil {
		unavailable(w, "tunables")
		return
	}
	writeJSONResponse(w, http.StatusOK, h.Tunables.Snapshot())
}

// handlePutTunables handles PUT /admin/tunables. Omitted or zero fields keep
// their current value.
func (h *Handlers) handlePutTunables(w http.ResponseWriter, r *http.Request) {
	if h.Tunables == nil {
		unavailable(w, "tunables")
		return
	}
	var v cfg.TunableValues
	if err := decodeBody(r, &v); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.Tunables.Update(v); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSONResponse(w, http.StatusOK, h.Tunables.Snapshot())
}

type channelsResponse struct {
	Channels      any `json:"channels"`
	Subscriptions any `json:"subscriptions"`
}

// handleChannels handles GET /admin/channels
func (h *Handlers) handleChannels(w http.ResponseWriter, r *http.Request) {
	if h.Channels == nil {
		unavailable(w, "channel tracker")
		return
	}
	writeJSONResponse(w, http.StatusOK, channelsResponse{
		Channels:      h.Channels.Channels(),
		Subscriptions: h.Channels.Subscriptions(),
	})
}

// handleExportSinks handles GET /admin/export/sinks
func (h *Handlers) handleExportSinks(w http.ResponseWriter, r *http.Request) {
	if h.Export == nil {
		unavailable(w, "export")
		return
	}
	writeJSONResponse(w, http.StatusOK, h.Export.Sinks())
}
