// Package web serves the DayLens browser surface: the page shell, the
// per-client render stream and the action endpoint.
package web

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter mounts every route of h. metricsToken, when set, guards /metrics.
func NewRouter(h *Handler, metricsToken string) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health/live", h.Live)
	r.Get("/health/ready", h.Ready)
	r.With(BearerToken(metricsToken)).Handle("/metrics", promhttp.Handler())
	r.Handle("/static/*", staticHandler())

	r.Get("/", h.Index)
	// The event stream is long lived; keep it out of the timeout group.
	r.Get("/events", h.Events)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(10 * time.Second))
		r.Post("/actions/{binding}", h.Action)
	})

	return r
}
