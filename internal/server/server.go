// Package server is the operator HTTP + websocket API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/alanyoungcy/escrowbot/internal/domain"
	"github.com/alanyoungcy/escrowbot/internal/server/handler"
	"github.com/alanyoungcy/escrowbot/internal/server/middleware"
	"github.com/alanyoungcy/escrowbot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Addr        string
	CORSOrigins []string
	// APIKey guards everything except the health check. Empty disables
	// authentication.
	APIKey string
	// RequestsPerMinute limits each client IP. Zero disables the limit.
	RequestsPerMinute int
}

// Handlers aggregates the HTTP handlers the server registers. Audit and Hub
// may be nil.
type Handlers struct {
	Health *handler.HealthHandler
	Trades *handler.TradeHandler
	Audit  *handler.AuditHandler
	Hub    *ws.Hub
}

// Server is the operator API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New registers all routes and wraps them in the middleware chain.
func New(cfg Config, h Handlers, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	protect := middleware.Auth(cfg.APIKey)

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)

	mux.Handle("GET /api/trades", protect(http.HandlerFunc(h.Trades.ListTrades)))
	mux.Handle("GET /api/trades/{id}", protect(http.HandlerFunc(h.Trades.GetTrade)))
	mux.Handle("POST /api/trades/{id}/complete", protect(http.HandlerFunc(h.Trades.CompleteTrade)))
	mux.Handle("DELETE /api/trades/{id}", protect(http.HandlerFunc(h.Trades.DeleteTrade)))

	if h.Audit != nil {
		mux.Handle("GET /api/audit", protect(http.HandlerFunc(h.Audit.ListAudit)))
	}
	if h.Hub != nil {
		mux.Handle("GET /ws", protect(http.HandlerFunc(h.Hub.HandleWS)))
	}

	var root http.Handler = mux
	root = middleware.RateLimit(limiter, cfg.RequestsPerMinute, time.Minute)(root)
	root = middleware.Logging(logger)(root)
	root = middleware.CORS(cfg.CORSOrigins)(root)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           root,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger.With(slog.String("component", "server")),
	}
}

// Handler returns the root handler, middleware included.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	s.logger.InfoContext(ctx, "listening", slog.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.InfoContext(ctx, "shutting down")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return ctx.Err()
}
