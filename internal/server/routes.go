package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/filipexyz/beacon/internal/handler"
	"github.com/filipexyz/beacon/internal/metrics"
	"github.com/filipexyz/beacon/internal/middleware"
)

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)

	healthHandler := handler.NewHealthHandler(s.recorder)
	r.Get("/health", healthHandler.Health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	collectHandler := handler.NewCollectHandler(s.recorder, s.logger)
	r.Group(func(r chi.Router) {
		r.Use(middleware.Limit(s.limiter))
		r.Post("/mp/collect", collectHandler.Collect)
		r.Post("/debug/mp/collect", collectHandler.DebugCollect)
	})

	eventsHandler := handler.NewEventsHandler(s.recorder)
	r.Get("/events", eventsHandler.List)
	r.Delete("/events", eventsHandler.Clear)

	return r
}
