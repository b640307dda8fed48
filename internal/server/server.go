// Package server runs the local dev collector.
package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/filipexyz/beacon/internal/collector"
	"github.com/filipexyz/beacon/internal/config"
	"github.com/filipexyz/beacon/internal/middleware"
)

// Server is the dev collector HTTP server.
type Server struct {
	cfg      *config.Config
	recorder *collector.Recorder
	limiter  *middleware.StreamLimiter
	logger   *slog.Logger
	server   *http.Server
}

// New creates a new Server.
func New(cfg *config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	limitCfg := middleware.DefaultStreamLimitConfig()
	if cfg.CollectorRate > 0 {
		limitCfg.PerSecond = float64(cfg.CollectorRate)
	}
	if cfg.CollectorBurst > 0 {
		limitCfg.Burst = cfg.CollectorBurst
	}

	s := &Server{
		cfg:      cfg,
		recorder: collector.NewRecorder(cfg.CollectorMaxEvents),
		limiter:  middleware.NewStreamLimiter(limitCfg, nil),
		logger:   logger,
	}

	s.server = &http.Server{
		Addr:              cfg.CollectorAddr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Recorder returns the recorder backing the collector.
func (s *Server) Recorder() *collector.Recorder {
	return s.recorder
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Serve starts the HTTP server on the given listener.
func (s *Server) Serve(l net.Listener) error {
	return s.server.Serve(l)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
