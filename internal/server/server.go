package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/predictx/internal/domain"
	"github.com/alanyoungcy/predictx/internal/server/handler"
	"github.com/alanyoungcy/predictx/internal/server/middleware"
	"github.com/alanyoungcy/predictx/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port               int
	CORSOrigins        []string
	APIKey             string // if empty, authentication is disabled
	RateLimitPerMinute int    // 0 disables rate limiting
	TrustProxy         bool   // key clients by X-Forwarded-For / X-Real-IP
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Metrics may be nil.
type Handlers struct {
	Health  *handler.HealthHandler
	Markets *handler.MarketHandler
	Tokens  *handler.TokenHandler
	Invoke  *handler.InvokeHandler
	Events  *handler.EventHandler
	Metrics http.Handler
}

// Server is the HTTP + WebSocket API of the settlement engine.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (rate limit, auth, logging, CORS) and attaches the
// WebSocket hub. limiter and wsHub may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health and metrics (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}

	// Market endpoints.
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/count", handlers.Markets.CountMarkets)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/probability", handlers.Markets.GetProbability)
	mux.HandleFunc("GET /api/markets/{id}/shares/{account}", handlers.Markets.GetShares)
	mux.HandleFunc("GET /api/markets/{id}/pending/{account}", handlers.Markets.GetPending)
	mux.HandleFunc("GET /api/markets/{id}/resolution", handlers.Markets.GetResolution)
	mux.HandleFunc("GET /api/markets/{id}/holders", handlers.Markets.GetHolders)

	// Token endpoints.
	mux.HandleFunc("GET /api/tokens/supply", handlers.Tokens.GetSupply)
	mux.HandleFunc("GET /api/tokens/{account}", handlers.Tokens.GetBalance)

	// Signed invocations.
	mux.HandleFunc("POST /api/invoke", handlers.Invoke.Invoke)

	// Event log and archive.
	mux.HandleFunc("GET /api/events", handlers.Events.ListEvents)
	mux.HandleFunc("GET /api/archives", handlers.Events.ListArchives)
	mux.HandleFunc("GET /api/archives/file", handlers.Events.LoadArchive)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	if limiter != nil && cfg.RateLimitPerMinute > 0 {
		h = middleware.RateLimit(limiter, middleware.RateLimitConfig{
			Limit:      cfg.RateLimitPerMinute,
			Window:     time.Minute,
			TrustProxy: cfg.TrustProxy,
		}, logger)(h)
	}

	// Auth is a no-op when APIKey is empty.
	h = middleware.Auth(cfg.APIKey, "/ws", "/api/health", "/metrics")(h)

	h = middleware.Logging(logger, cfg.TrustProxy)(h)

	// Apply CORS middleware.
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
		handler:    h,
		logger:     logger,
	}
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler { return s.handler }

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
