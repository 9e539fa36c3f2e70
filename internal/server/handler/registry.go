package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"

	"github.com/quantdao/ledgerd/internal/chainutil"
	"github.com/quantdao/ledgerd/internal/domain"
)

// RegistryService defines the methods that the registry handler requires
// from the service layer.
type RegistryService interface {
	Register(ctx context.Context, caller, name, strategyDescription, modelReference string, stake *big.Int) (domain.RegisteredAgent, error)
	Stake(ctx context.Context, caller string, amount *big.Int) (domain.RegisteredAgent, error)
	Unstake(ctx context.Context, caller string, amount *big.Int) (domain.RegisteredAgent, error)
	RecordPerformance(ctx context.Context, caller, agentAddr string, pnl, sharpeScaled, maxDrawdownBps int64, totalTrades uint64) (domain.RegisteredAgent, error)
	VerifyAgent(ctx context.Context, caller, agentAddr string) (domain.RegisteredAgent, error)
	UpdateReputation(ctx context.Context, caller, agentAddr string, score int64) (domain.RegisteredAgent, error)
	TopAgents(ctx context.Context, n int) []domain.RegisteredAgent
	Agent(ctx context.Context, addr string) (domain.RegisteredAgent, error)
	Agents(ctx context.Context) []domain.RegisteredAgent
	Performance(ctx context.Context, addr string) ([]domain.PerformanceSnapshot, error)
}

// RegistryHandler serves agent-registry HTTP endpoints.
type RegistryHandler struct {
	registry RegistryService
	logger   *slog.Logger
}

// NewRegistryHandler creates a RegistryHandler with the given service and logger.
func NewRegistryHandler(registry RegistryService, logger *slog.Logger) *RegistryHandler {
	return &RegistryHandler{
		registry: registry,
		logger:   logger,
	}
}

type registerRequest struct {
	Caller              string `json:"caller"`
	Name                string `json:"name"`
	StrategyDescription string `json:"strategy_description"`
	ModelReference      string `json:"model_reference"`
	Stake               string `json:"stake"`
}

// Register enrolls a new agent with an initial stake.
// POST /api/registry/agents
func (h *RegistryHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	caller, err := chainutil.NormalizeAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "caller: "+err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	stake, err := parseAmount(req.Stake)
	if err != nil {
		writeError(w, http.StatusBadRequest, "stake: "+err.Error())
		return
	}

	agent, err := h.registry.Register(r.Context(), caller, req.Name, req.StrategyDescription, req.ModelReference, stake)
	if err != nil {
		writeDomainError(w, r, h.logger, "register agent", err)
		return
	}

	writeJSON(w, http.StatusCreated, agent)
}

type stakeRequest struct {
	Amount string `json:"amount"`
}

// Stake adds stake to the calling agent.
// POST /api/registry/agents/{addr}/stake
func (h *RegistryHandler) Stake(w http.ResponseWriter, r *http.Request) {
	h.adjustStake(w, r, h.registry.Stake, "stake")
}

// Unstake removes stake from the calling agent, down to the registry minimum.
// POST /api/registry/agents/{addr}/unstake
func (h *RegistryHandler) Unstake(w http.ResponseWriter, r *http.Request) {
	h.adjustStake(w, r, h.registry.Unstake, "unstake")
}

func (h *RegistryHandler) adjustStake(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, caller string, amount *big.Int) (domain.RegisteredAgent, error),
	name string,
) {
	addr, err := chainutil.NormalizeAddress(pathParam(r, "addr"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid address: "+err.Error())
		return
	}

	var req stakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "amount: "+err.Error())
		return
	}

	agent, err := op(r.Context(), addr, amount)
	if err != nil {
		writeDomainError(w, r, h.logger, name, err)
		return
	}

	writeJSON(w, http.StatusOK, agent)
}

type performanceRequest struct {
	Caller            string `json:"caller"`
	Pnl               int64  `json:"pnl"`
	SharpeRatioScaled int64  `json:"sharpe_ratio_scaled"`
	MaxDrawdownBps    int64  `json:"max_drawdown_bps"`
	TotalTrades       uint64 `json:"total_trades"`
}

// RecordPerformance appends a performance snapshot and recomputes reputation.
// POST /api/registry/agents/{addr}/performance
func (h *RegistryHandler) RecordPerformance(w http.ResponseWriter, r *http.Request) {
	addr, err := chainutil.NormalizeAddress(pathParam(r, "addr"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid address: "+err.Error())
		return
	}

	var req performanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	caller, err := chainutil.NormalizeAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "caller: "+err.Error())
		return
	}

	agent, err := h.registry.RecordPerformance(r.Context(), caller, addr, req.Pnl, req.SharpeRatioScaled, req.MaxDrawdownBps, req.TotalTrades)
	if err != nil {
		writeDomainError(w, r, h.logger, "record performance", err)
		return
	}

	writeJSON(w, http.StatusCreated, agent)
}

type verifyRequest struct {
	Caller string `json:"caller"`
}

// VerifyAgent marks an agent as verified.
// POST /api/registry/agents/{addr}/verify
func (h *RegistryHandler) VerifyAgent(w http.ResponseWriter, r *http.Request) {
	addr, err := chainutil.NormalizeAddress(pathParam(r, "addr"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid address: "+err.Error())
		return
	}

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	caller, err := chainutil.NormalizeAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "caller: "+err.Error())
		return
	}

	agent, err := h.registry.VerifyAgent(r.Context(), caller, addr)
	if err != nil {
		writeDomainError(w, r, h.logger, "verify agent", err)
		return
	}

	writeJSON(w, http.StatusOK, agent)
}

type reputationRequest struct {
	Caller string `json:"caller"`
	Score  int64  `json:"score"`
}

// UpdateReputation overrides an agent's reputation score.
// PUT /api/registry/agents/{addr}/reputation
func (h *RegistryHandler) UpdateReputation(w http.ResponseWriter, r *http.Request) {
	addr, err := chainutil.NormalizeAddress(pathParam(r, "addr"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid address: "+err.Error())
		return
	}

	var req reputationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	caller, err := chainutil.NormalizeAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "caller: "+err.Error())
		return
	}

	agent, err := h.registry.UpdateReputation(r.Context(), caller, addr, req.Score)
	if err != nil {
		writeDomainError(w, r, h.logger, "update reputation", err)
		return
	}

	writeJSON(w, http.StatusOK, agent)
}

// listRegisteredAgentsResponse wraps the agent list response.
type listRegisteredAgentsResponse struct {
	Agents []domain.RegisteredAgent `json:"agents"`
}

// TopAgents returns the n highest-reputation agents.
// GET /api/registry/top?n=10
func (h *RegistryHandler) TopAgents(w http.ResponseWriter, r *http.Request) {
	n := 10
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "n must be a positive integer")
			return
		}
		n = parsed
	}

	agents := h.registry.TopAgents(r.Context(), n)
	if agents == nil {
		agents = []domain.RegisteredAgent{}
	}
	writeJSON(w, http.StatusOK, listRegisteredAgentsResponse{Agents: agents})
}

// ListAgents returns all registered agents in registration order.
// GET /api/registry/agents
func (h *RegistryHandler) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents := h.registry.Agents(r.Context())
	if agents == nil {
		agents = []domain.RegisteredAgent{}
	}
	writeJSON(w, http.StatusOK, listRegisteredAgentsResponse{Agents: agents})
}

// GetAgent returns a single registered agent by address.
// GET /api/registry/agents/{addr}
func (h *RegistryHandler) GetAgent(w http.ResponseWriter, r *http.Request) {
	addr, err := chainutil.NormalizeAddress(pathParam(r, "addr"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid address: "+err.Error())
		return
	}

	agent, err := h.registry.Agent(r.Context(), addr)
	if err != nil {
		writeDomainError(w, r, h.logger, "get registered agent", err)
		return
	}

	writeJSON(w, http.StatusOK, agent)
}

// performanceResponse wraps an agent's performance history.
type performanceResponse struct {
	Address   string                       `json:"address"`
	Snapshots []domain.PerformanceSnapshot `json:"snapshots"`
}

// GetPerformance returns an agent's performance history in report order.
// GET /api/registry/agents/{addr}/performance
func (h *RegistryHandler) GetPerformance(w http.ResponseWriter, r *http.Request) {
	addr, err := chainutil.NormalizeAddress(pathParam(r, "addr"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid address: "+err.Error())
		return
	}

	snapshots, err := h.registry.Performance(r.Context(), addr)
	if err != nil {
		writeDomainError(w, r, h.logger, "get performance", err)
		return
	}
	if snapshots == nil {
		snapshots = []domain.PerformanceSnapshot{}
	}

	writeJSON(w, http.StatusOK, performanceResponse{
		Address:   addr,
		Snapshots: snapshots,
	})
}
