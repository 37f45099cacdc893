// Package server exposes the fitted surface, classified trades, and flow
// aggregations over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/optflow/internal/domain"
	"github.com/alanyoungcy/optflow/internal/server/handler"
	"github.com/alanyoungcy/optflow/internal/server/middleware"
	"github.com/alanyoungcy/optflow/internal/server/ws"
)

// Rate limit applied per client IP when a limiter is configured.
const (
	rateLimitRequests = 60
	rateLimitWindow   = time.Minute
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health  *handler.HealthHandler
	Surface *handler.SurfaceHandler
	Flow    *handler.FlowHandler
}

// Server is the headless HTTP + WebSocket API for the surface service.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth, rate limiting) and attaches
// the WebSocket hub. limiter may be nil to disable rate limiting.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Surface endpoints.
	mux.HandleFunc("GET /api/surface/{root}", handlers.Surface.GetSurface)
	mux.HandleFunc("GET /api/surface/{root}/{expiry}", handlers.Surface.GetCurve)
	mux.HandleFunc("GET /api/expiries/{root}", handlers.Surface.ListExpiries)

	// Flow endpoints.
	mux.HandleFunc("GET /api/flow/{root}", handlers.Flow.GetNetFlow)
	mux.HandleFunc("GET /api/trades/recent", handlers.Flow.ListRecentTrades)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux

	// Auth (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey)(h)

	// Per-client rate limiting.
	if limiter != nil {
		h = middleware.RateLimit(limiter, rateLimitRequests, rateLimitWindow)(h)
	}

	// Request logging.
	h = middleware.Logging(logger)(h)

	// CORS.
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
