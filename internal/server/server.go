// Package server assembles the HTTP and WebSocket API for the marketplace.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gavelmarket/gavel/internal/domain"
	"github.com/gavelmarket/gavel/internal/server/handler"
	"github.com/gavelmarket/gavel/internal/server/middleware"
	"github.com/gavelmarket/gavel/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// AdminAPIKey gates the operator endpoints (audit log). If empty, those
	// endpoints are disabled.
	AdminAPIKey string
	// RequestRateLimit caps requests per client IP per minute. Zero disables
	// the limiter.
	RequestRateLimit int
	// SigningSkew is the accepted clock skew for signed request timestamps.
	// Zero falls back to the middleware default.
	SigningSkew time.Duration
}

// Handlers aggregates all HTTP handlers the server registers.
type Handlers struct {
	Health   *handler.HealthHandler
	Status   *handler.StatusHandler
	Listings *handler.ListingHandler
	Bids     *handler.BidHandler
	Credits  *handler.CreditHandler
	Audit    *handler.AuditHandler
}

// Server is the headless HTTP + WebSocket API server for the marketplace.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered on the ServeMux and
// the middleware chain (logging, CORS, rate limit, signature auth) wired up.
// limiter may be nil when rate limiting is disabled.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (unauthenticated, unmetered by convention).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	// Listing lifecycle.
	mux.HandleFunc("GET /api/listings", handlers.Listings.ListListings)
	mux.HandleFunc("GET /api/listings/{assetID}", handlers.Listings.GetListing)
	mux.HandleFunc("POST /api/listings", handlers.Listings.CreateListing)
	mux.HandleFunc("DELETE /api/listings/{assetID}", handlers.Listings.DeleteListing)

	// Bidding and settlement.
	mux.HandleFunc("GET /api/listings/{assetID}/bid", handlers.Bids.GetHighestBid)
	mux.HandleFunc("POST /api/listings/{assetID}/bids", handlers.Bids.PlaceBid)
	mux.HandleFunc("POST /api/listings/{assetID}/settle", handlers.Bids.Settle)

	// Credit ledger.
	mux.HandleFunc("GET /api/credits/{account}", handlers.Credits.GetBalance)
	mux.HandleFunc("POST /api/credits/{account}/withdraw", handlers.Credits.Withdraw)
	mux.HandleFunc("GET /api/credits/{account}/refunds", handlers.Credits.ListRefunds)

	// Operator endpoints, gated by the admin API key.
	if cfg.AdminAPIKey != "" && handlers.Audit != nil {
		mux.Handle("GET /api/audit", middleware.Auth(cfg.AdminAPIKey)(http.HandlerFunc(handlers.Audit.ListEntries)))
	}

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux
	h = middleware.SigAuth(logger, cfg.SigningSkew)(h)
	if limiter != nil && cfg.RequestRateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RequestRateLimit, time.Minute)(h)
	}
	h = middleware.Logging(logger)(h)
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
