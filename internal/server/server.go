package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/estatemarket/internal/domain"
	"github.com/alanyoungcy/estatemarket/internal/server/handler"
	"github.com/alanyoungcy/estatemarket/internal/server/middleware"
	"github.com/alanyoungcy/estatemarket/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port              int
	CORSOrigins       []string
	APIKey            string // if empty, authentication is disabled
	RequireSignatures bool
	SignatureMaxSkew  time.Duration
	RateLimit         int // requests per minute per client; 0 disables
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health     *handler.HealthHandler
	Status     *handler.StatusHandler
	Properties *handler.PropertyHandler
	Listings   *handler.ListingHandler
	Auctions   *handler.AuctionHandler
	Referrals  *handler.ReferralHandler
	Vault      *handler.VaultHandler
	Admin      *handler.AdminHandler
	Events     *handler.EventsHandler
}

// Server is the HTTP + WebSocket API in front of the settlement engine.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// Routes registers every endpoint on a new ServeMux.
func Routes(h Handlers, hub *ws.Hub) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", h.Status.GetStatus)

	// Registry and primary sale.
	mux.HandleFunc("GET /api/properties", h.Properties.ListProperties)
	mux.HandleFunc("POST /api/properties", h.Properties.RegisterProperty)
	mux.HandleFunc("GET /api/properties/{id}", h.Properties.GetProperty)
	mux.HandleFunc("PATCH /api/properties/{id}", h.Properties.UpdateProperty)
	mux.HandleFunc("POST /api/properties/{id}/transfers", h.Properties.TransferShares)
	mux.HandleFunc("GET /api/properties/{id}/holders/{address}", h.Properties.GetHolding)
	mux.HandleFunc("POST /api/properties/{id}/purchases", h.Properties.BuyShares)
	mux.HandleFunc("POST /api/properties/{id}/conclude", h.Properties.ConcludeSale)
	mux.HandleFunc("POST /api/properties/{id}/claim", h.Properties.Claim)
	mux.HandleFunc("GET /api/properties/{id}/claims/{address}", h.Properties.GetClaim)
	mux.HandleFunc("GET /api/properties/{id}/history", h.Properties.History)

	// Secondary listings.
	mux.HandleFunc("GET /api/listings", h.Listings.ListListings)
	mux.HandleFunc("POST /api/listings", h.Listings.CreateListing)
	mux.HandleFunc("POST /api/listings/bulk-purchases", h.Listings.BulkBuy)
	mux.HandleFunc("GET /api/listings/{id}", h.Listings.GetListing)
	mux.HandleFunc("PUT /api/listings/{id}", h.Listings.UpdateListing)
	mux.HandleFunc("DELETE /api/listings/{id}", h.Listings.CancelListing)
	mux.HandleFunc("POST /api/listings/{id}/purchases", h.Listings.Buy)
	mux.HandleFunc("GET /api/listings/{id}/history", h.Listings.History)

	// Auctions.
	mux.HandleFunc("POST /api/auctions", h.Auctions.CreateAuction)
	mux.HandleFunc("GET /api/auctions/{id}", h.Auctions.GetAuction)
	mux.HandleFunc("DELETE /api/auctions/{id}", h.Auctions.CancelAuction)
	mux.HandleFunc("POST /api/auctions/{id}/bids", h.Auctions.PlaceBid)
	mux.HandleFunc("POST /api/auctions/{id}/conclude", h.Auctions.ConcludeAuction)
	mux.HandleFunc("POST /api/auctions/{id}/refund", h.Auctions.WithdrawRefund)
	mux.HandleFunc("GET /api/auctions/{id}/refunds/{address}", h.Auctions.GetRefund)
	mux.HandleFunc("GET /api/auctions/{id}/history", h.Auctions.History)

	// Fees and referrals.
	mux.HandleFunc("GET /api/fees", h.Referrals.ComputeFees)
	mux.HandleFunc("GET /api/referrals/{address}/{id}", h.Referrals.GetRecord)
	mux.HandleFunc("POST /api/referrals/{id}/claim", h.Referrals.ClaimCommission)

	// Vault.
	mux.HandleFunc("GET /api/vault/escrow", h.Vault.GetEscrow)
	mux.HandleFunc("GET /api/vault/{address}", h.Vault.GetBalance)
	mux.HandleFunc("POST /api/vault/deposits", h.Vault.Deposit)
	mux.HandleFunc("POST /api/vault/withdrawals", h.Vault.Withdraw)

	// Administration.
	mux.HandleFunc("GET /api/settings", h.Admin.GetSettings)
	mux.HandleFunc("PUT /api/settings/fee-recipient", h.Admin.SetFeeRecipient)
	mux.HandleFunc("PUT /api/settings/{name}", h.Admin.SetBips)
	mux.HandleFunc("PUT /api/agents/{address}/exclusive-bips", h.Admin.SetExclusiveReferral)
	mux.HandleFunc("PUT /api/access/{list}/{address}", h.Admin.SetFlag)

	// History.
	mux.HandleFunc("GET /api/events", h.Events.ListEvents)
	mux.HandleFunc("GET /api/audit", h.Events.ListAudit)

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}
	return mux
}

// NewServer creates a Server with all routes registered and the middleware
// chain applied: CORS, logging, rate limit, API key auth, actor resolution.
// limiter may be nil.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	var h http.Handler = Routes(handlers, hub)

	h = middleware.Actor(cfg.RequireSignatures, cfg.SignatureMaxSkew)(h)
	h = middleware.Auth(cfg.APIKey, cfg.SignatureMaxSkew, "/api/health")(h)
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, time.Minute, logger)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

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
