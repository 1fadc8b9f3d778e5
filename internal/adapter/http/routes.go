package http

import (
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the admin/observability surface on r: process
// health plus read-only status snapshots of the provider fleet, task
// queue, and response cache. There is no authenticated operator surface
// beyond this in scope; everything else is driven through the task queue
// and background workers, not HTTP.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", h.HandleHealth)

	r.Route("/status", func(r chi.Router) {
		r.Get("/providers", h.HandleProviderStatus)
		r.Get("/queue", h.HandleQueueStatus)
		r.Get("/cache", h.HandleCacheStatus)
	})
}
