// Package server exposes the marketplace over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/alanyoungcy/nftmarket/internal/server/handler"
	"github.com/alanyoungcy/nftmarket/internal/server/middleware"
	"github.com/alanyoungcy/nftmarket/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	AuthEnabled bool
	MaxSkew     time.Duration
	RateLimit   int
	RateWindow  time.Duration
}

// Handlers aggregates the HTTP handlers the server registers. History is
// optional and only registered when a persistent store backs it.
type Handlers struct {
	Health   *handler.HealthHandler
	Market   *handler.MarketHandler
	Listings *handler.ListingHandler
	Offers   *handler.OfferHandler
	Assets   *handler.AssetHandler
	History  *handler.HistoryHandler
}

// Deps are the shared stores the middleware chain needs.
type Deps struct {
	Replay  domain.ReplayGuard
	Limiter domain.RateLimiter
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware chain:
// CORS, request logging, rate limiting, then signed-request auth.
func NewServer(cfg Config, handlers Handlers, deps Deps, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	registerRoutes(mux, handlers)
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(middleware.AuthConfig{
		Enabled: cfg.AuthEnabled,
		MaxSkew: cfg.MaxSkew,
		Replay:  deps.Replay,
		Logger:  logger,
	})(h)
	if deps.Limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(deps.Limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

func registerRoutes(mux *http.ServeMux, h Handlers) {
	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)

	mux.HandleFunc("GET /api/market/config", h.Market.GetConfig)
	mux.HandleFunc("PUT /api/market/fee-rate", h.Market.SetFeeRate)
	mux.HandleFunc("PUT /api/market/fee-recipient", h.Market.SetFeeRecipient)
	mux.HandleFunc("PUT /api/market/owner", h.Market.TransferOwnership)

	mux.HandleFunc("GET /api/listings/{asset}/{item}", h.Listings.GetListing)
	mux.HandleFunc("POST /api/listings/{asset}/{item}", h.Listings.CreateListing)
	mux.HandleFunc("PATCH /api/listings/{asset}/{item}", h.Listings.UpdateListing)
	mux.HandleFunc("DELETE /api/listings/{asset}/{item}", h.Listings.CancelListing)
	mux.HandleFunc("POST /api/listings/{asset}/{item}/buy", h.Listings.Buy)

	mux.HandleFunc("GET /api/offers/{asset}/{item}/{buyer}", h.Offers.GetOffer)
	mux.HandleFunc("POST /api/offers/{asset}/{item}", h.Offers.MakeOffer)
	mux.HandleFunc("DELETE /api/offers/{asset}/{item}", h.Offers.CancelOffer)
	mux.HandleFunc("POST /api/offers/{asset}/{item}/{buyer}/accept", h.Offers.AcceptOffer)

	mux.HandleFunc("GET /api/collections", h.Assets.ListCollections)
	mux.HandleFunc("GET /api/collections/{asset}/{item}/owner", h.Assets.OwnerOf)
	mux.HandleFunc("PUT /api/collections/{asset}/{item}/approval", h.Assets.ApproveItem)
	mux.HandleFunc("PUT /api/collections/{asset}/operators", h.Assets.SetOperator)
	mux.HandleFunc("GET /api/accounts/{addr}/balance", h.Assets.Balance)

	if h.History != nil {
		mux.HandleFunc("GET /api/listings/{asset}", h.History.ListListings)
		mux.HandleFunc("GET /api/offers/{asset}/{item}", h.History.ListOffers)
		mux.HandleFunc("GET /api/sales", h.History.ListSales)
		mux.HandleFunc("GET /api/events", h.History.ListEvents)
	}
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests to finish within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
