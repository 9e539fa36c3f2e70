package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/quantdao/ledgerd/internal/domain"
	"github.com/quantdao/ledgerd/internal/server/handler"
	"github.com/quantdao/ledgerd/internal/server/middleware"
	"github.com/quantdao/ledgerd/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port            int
	CORSOrigins     []string
	Keys            middleware.RoleKeys // all empty disables authentication
	RateLimitPerMin int                 // 0 disables API rate limiting
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health     *handler.HealthHandler
	Governance *handler.GovernanceHandler
	Treasury   *handler.TreasuryHandler
	Registry   *handler.RegistryHandler
	Bridge     *handler.BridgeHandler
}

// Server is the headless HTTP + WebSocket API for the ledger node.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered on the ServeMux.
// Mutating routes are capability-scoped: each is wrapped with the role check
// it requires, while read routes and investor operations stay open (callers
// identify themselves in the request body and the engines enforce the rest).
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	keys := cfg.Keys

	admin := func(h http.HandlerFunc) http.HandlerFunc {
		return middleware.RequireRole(keys, h, middleware.RoleAdmin)
	}
	governor := func(h http.HandlerFunc) http.HandlerFunc {
		return middleware.RequireRole(keys, h, middleware.RoleGovernor)
	}
	reporter := func(h http.HandlerFunc) http.HandlerFunc {
		return middleware.RequireRole(keys, h, middleware.RoleReporter)
	}
	validator := func(h http.HandlerFunc) http.HandlerFunc {
		return middleware.RequireRole(keys, h, middleware.RoleValidator)
	}

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Governance endpoints.
	mux.HandleFunc("POST /api/governance/power", admin(handlers.Governance.GrantVotingPower))
	mux.HandleFunc("POST /api/governance/proposals", handlers.Governance.CreateProposal)
	mux.HandleFunc("POST /api/governance/proposals/{id}/votes", handlers.Governance.CastVote)
	// Execution is permissionless once the voting window closes; the engine
	// enforces the window and quorum.
	mux.HandleFunc("POST /api/governance/proposals/{id}/execute", handlers.Governance.ExecuteProposal)
	mux.HandleFunc("POST /api/governance/proposals/{id}/cancel", handlers.Governance.CancelProposal)
	mux.HandleFunc("PUT /api/governance/params", admin(handlers.Governance.UpdateParams))
	mux.HandleFunc("GET /api/governance/proposals", handlers.Governance.ListProposals)
	mux.HandleFunc("GET /api/governance/proposals/{id}", handlers.Governance.GetProposal)
	mux.HandleFunc("GET /api/governance/accounts/{addr}", handlers.Governance.GetAccount)

	// Treasury endpoints. Agent management consumes governance
	// authorizations, so those routes require the governor key.
	mux.HandleFunc("POST /api/treasury/agents", governor(handlers.Treasury.RegisterAgent))
	mux.HandleFunc("PATCH /api/treasury/agents/{id}/status", governor(handlers.Treasury.SetAgentStatus))
	mux.HandleFunc("PATCH /api/treasury/agents/{id}/allocation", governor(handlers.Treasury.UpdateAllocation))
	mux.HandleFunc("POST /api/treasury/agents/{id}/trades", reporter(handlers.Treasury.RecordTrade))
	mux.HandleFunc("POST /api/treasury/deposits", handlers.Treasury.Deposit)
	mux.HandleFunc("POST /api/treasury/withdrawals", handlers.Treasury.Withdraw)
	mux.HandleFunc("POST /api/treasury/distribute", admin(handlers.Treasury.DistributeProfits))
	mux.HandleFunc("POST /api/treasury/emergency-stop", admin(handlers.Treasury.SetEmergencyStop))
	mux.HandleFunc("GET /api/treasury/share-price", handlers.Treasury.GetSharePrice)
	mux.HandleFunc("GET /api/treasury/fund", handlers.Treasury.GetFund)
	mux.HandleFunc("GET /api/treasury/agents", handlers.Treasury.ListAgents)
	mux.HandleFunc("GET /api/treasury/agents/{id}", handlers.Treasury.GetAgent)
	mux.HandleFunc("GET /api/treasury/positions/{addr}", handlers.Treasury.GetPosition)

	// Registry endpoints. Performance and reputation writes are restricted
	// to the governance authority.
	mux.HandleFunc("POST /api/registry/agents", handlers.Registry.Register)
	mux.HandleFunc("POST /api/registry/agents/{addr}/stake", handlers.Registry.Stake)
	mux.HandleFunc("POST /api/registry/agents/{addr}/unstake", handlers.Registry.Unstake)
	mux.HandleFunc("POST /api/registry/agents/{addr}/performance", governor(handlers.Registry.RecordPerformance))
	mux.HandleFunc("POST /api/registry/agents/{addr}/verify", governor(handlers.Registry.VerifyAgent))
	mux.HandleFunc("PUT /api/registry/agents/{addr}/reputation", governor(handlers.Registry.UpdateReputation))
	mux.HandleFunc("GET /api/registry/top", handlers.Registry.TopAgents)
	mux.HandleFunc("GET /api/registry/agents", handlers.Registry.ListAgents)
	mux.HandleFunc("GET /api/registry/agents/{addr}", handlers.Registry.GetAgent)
	mux.HandleFunc("GET /api/registry/agents/{addr}/performance", handlers.Registry.GetPerformance)

	// Bridge endpoints. Attestations require the validator key; control
	// operations require admin.
	mux.HandleFunc("POST /api/bridge/transfers", handlers.Bridge.InitiateTransfer)
	mux.HandleFunc("POST /api/bridge/transfers/{hash}/attestations", validator(handlers.Bridge.SubmitAttestation))
	mux.HandleFunc("POST /api/bridge/validators", admin(handlers.Bridge.AddValidator))
	mux.HandleFunc("DELETE /api/bridge/validators/{addr}", admin(handlers.Bridge.RemoveValidator))
	mux.HandleFunc("PUT /api/bridge/required", admin(handlers.Bridge.UpdateRequired))
	mux.HandleFunc("POST /api/bridge/pause", admin(handlers.Bridge.Pause))
	mux.HandleFunc("POST /api/bridge/unpause", admin(handlers.Bridge.Unpause))
	mux.HandleFunc("GET /api/bridge/transfers", handlers.Bridge.ListTransfers)
	mux.HandleFunc("GET /api/bridge/transfers/{hash}", handlers.Bridge.GetTransfer)
	mux.HandleFunc("GET /api/bridge/state", handlers.Bridge.GetState)

	// WebSocket event stream.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	if limiter != nil && cfg.RateLimitPerMin > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimitPerMin, time.Minute)(h)
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

// Handler returns the server's full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
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
