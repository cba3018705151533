package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/maxpert/slotkeeper/telemetry"
	"github.com/rs/zerolog/log"
)

// Router builds the admin API. Every route except /health requires the
// cluster secret when one is configured.
func Router(handlers *Handlers, secret string) http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger)

	r.Get("/health", handlers.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(secret))

		r.Route("/cluster", func(r chi.Router) {
			r.Get("/members", handlers.handleClusterMembers)
			r.Get("/coordinator", handlers.handleClusterCoordinator)
			r.Post("/resign", handlers.handleClusterResign)
		})

		r.Route("/queues", func(r chi.Router) {
			r.Get("/", handlers.handleListQueues)
			r.Route("/{queue}", func(r chi.Router) {
				r.Delete("/", handlers.handleDeleteQueue)
				r.Get("/slots", handlers.handleQueueSlots)
				r.Get("/verify", handlers.handleQueueVerify)
				r.Post("/slots/request", handlers.handleRequestSlot)
				r.Post("/slots/release", handlers.handleReleaseSlot)
				r.Post("/delivered", handlers.handleRecordDelivered)
				r.Post("/messages", handlers.handleMessagesArrived)
			})
		})

		r.Get("/nodes/{node}/slots", handlers.handleNodeSlots)
		r.Get("/slots/open", handlers.handleOpenSlots)
		r.Get("/channels", handlers.handleChannels)
		r.Get("/export/sinks", handlers.handleExportSinks)

		r.Get("/tunables", handlers.handleGetTunables)
		r.Put("/tunables", handlers.handlePutTunables)
	})

	return r
}

// RegisterRoutes mounts the admin API under /admin and, when telemetry is
// enabled, the Prometheus handler under /metrics.
func RegisterRoutes(mux *http.ServeMux, handlers *Handlers, secret string) {
	mux.Handle("/admin", http.RedirectHandler("/admin/", http.StatusMovedPermanently))
	mux.Handle("/admin/", http.StripPrefix("/admin", Router(handlers, secret)))

	if metrics := telemetry.GetMetricsHandler(); metrics != nil {
		mux.Handle("/metrics", metrics)
	}

	if secret == "" {
		log.Warn().Msg("Admin endpoints enabled at /admin/ without authentication")
		return
	}
	log.Info().Msg("Admin endpoints enabled at /admin/")
}
