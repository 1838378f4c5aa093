// Package server is the HTTP front of the backend: the function endpoints the
// web app calls, server-rendered pages and the websocket push channel.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/seer-pm/seer/internal/domain"
	"github.com/seer-pm/seer/internal/fetch"
	"github.com/seer-pm/seer/internal/server/handler"
	"github.com/seer-pm/seer/internal/server/middleware"
	"github.com/seer-pm/seer/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// JWTSecret verifies Supabase bearer tokens. Empty disables auth, so
	// collection endpoints answer 401.
	JWTSecret      string
	RateLimit      int
	RateLimitEvery time.Duration
	// TrustedProxies may set X-Forwarded-For and X-Real-IP.
	TrustedProxies []netip.Prefix
}

// Handlers aggregates the route handlers.
type Handlers struct {
	Health      *handler.HealthHandler
	Airdrop     *handler.AirdropHandler
	Metadata    *handler.MetadataHandler
	Collections *handler.CollectionsHandler
	Account     *handler.AccountHandler
	AllMarkets  *handler.AllMarketsHandler
	Pages       *handler.PagesHandler
}

// Server is the HTTP + websocket server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in rate limiting, auth,
// request logging and CORS, outermost last. limiter and wsHub may be nil;
// nil handlers leave their routes unregistered.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()

	if handlers.Health != nil {
		mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	}

	// Function paths take every method so that a wrong one gets the JSON
	// 405 body instead of the mux's plain-text one.
	if h := handlers.Airdrop; h != nil {
		mux.HandleFunc(fetch.PathAirdropData, h.GetAirdropData)
	}
	if h := handlers.Metadata; h != nil {
		mux.HandleFunc(fetch.PathMarketMetadata, h.MarketMetadata)
	}
	if h := handlers.Collections; h != nil {
		mux.HandleFunc(fetch.PathCollectionsSearch, h.Search)
		mux.HandleFunc(fetch.PathCollectionsHandler, h.Collections)
		mux.HandleFunc(fetch.PathCollectionsHandler+"/{id}", h.Collection)
		mux.HandleFunc(fetch.PathCollectionsHandler+"/{id}/markets", h.ToggleMarket)
	}
	if h := handlers.Account; h != nil {
		mux.HandleFunc(fetch.PathConfirmEmail, h.ConfirmEmail)
	}
	if h := handlers.AllMarkets; h != nil {
		mux.HandleFunc(fetch.PathAllMarketsSearch, h.AllMarkets)
	}
	if h := handlers.Pages; h != nil {
		mux.HandleFunc("GET /{$}", h.Home)
		mux.HandleFunc("GET /markets/{chainId}/{idOrSlug}", h.Market)
	}
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateLimitEvery, cfg.TrustedProxies, logger)(h)
	h = middleware.Auth(middleware.NewVerifier(cfg.JWTSecret))(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start blocks serving until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
