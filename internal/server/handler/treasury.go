package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/quantdao/ledgerd/internal/chainutil"
	"github.com/quantdao/ledgerd/internal/domain"
)

// TreasuryService defines the methods that the treasury handler requires
// from the service layer.
type TreasuryService interface {
	RegisterAgent(ctx context.Context, proposalID uint64, name, externalAddr string, allocationBps uint64) (domain.Agent, error)
	SetAgentStatus(ctx context.Context, proposalID, agentID uint64, active bool) (domain.Agent, error)
	UpdateAllocation(ctx context.Context, proposalID, agentID, newAllocationBps uint64) (domain.Agent, error)
	RecordTrade(ctx context.Context, caller string, agentID uint64, pnlBps int64) (domain.TradeRecord, error)
	Deposit(ctx context.Context, caller string, amount *big.Int) (domain.InvestorPosition, error)
	Withdraw(ctx context.Context, caller string, shareAmount *big.Int) (*big.Int, error)
	DistributeProfits(ctx context.Context, caller string) (*big.Int, error)
	SetEmergencyStop(ctx context.Context, caller string, stop bool) error
	SharePrice(ctx context.Context) *big.Int
	Fund(ctx context.Context) domain.FundState
	Agent(ctx context.Context, id uint64) (domain.Agent, error)
	Agents(ctx context.Context) []domain.Agent
	Position(ctx context.Context, addr string) (domain.InvestorPosition, error)
}

// TreasuryHandler serves treasury HTTP endpoints.
type TreasuryHandler struct {
	treasury TreasuryService
	logger   *slog.Logger
}

// NewTreasuryHandler creates a TreasuryHandler with the given service and logger.
func NewTreasuryHandler(treasury TreasuryService, logger *slog.Logger) *TreasuryHandler {
	return &TreasuryHandler{
		treasury: treasury,
		logger:   logger,
	}
}

type registerAgentRequest struct {
	ProposalID      uint64 `json:"proposal_id"`
	Name            string `json:"name"`
	ExternalAddress string `json:"external_address"`
	AllocationBps   uint64 `json:"allocation_bps"`
}

// RegisterAgent adds a trading agent under a governance authorization.
// POST /api/treasury/agents
func (h *TreasuryHandler) RegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req registerAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	externalAddr, err := chainutil.NormalizeAddress(req.ExternalAddress)
	if err != nil {
		writeError(w, http.StatusBadRequest, "external_address: "+err.Error())
		return
	}

	agent, err := h.treasury.RegisterAgent(r.Context(), req.ProposalID, req.Name, externalAddr, req.AllocationBps)
	if err != nil {
		writeDomainError(w, r, h.logger, "register agent", err)
		return
	}

	writeJSON(w, http.StatusCreated, agent)
}

type agentStatusRequest struct {
	ProposalID uint64 `json:"proposal_id"`
	Active     bool   `json:"active"`
}

// SetAgentStatus activates or deactivates an agent under a governance
// authorization.
// PATCH /api/treasury/agents/{id}/status
func (h *TreasuryHandler) SetAgentStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid agent id")
		return
	}

	var req agentStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	agent, err := h.treasury.SetAgentStatus(r.Context(), req.ProposalID, id, req.Active)
	if err != nil {
		writeDomainError(w, r, h.logger, "set agent status", err)
		return
	}

	writeJSON(w, http.StatusOK, agent)
}

type allocationRequest struct {
	ProposalID    uint64 `json:"proposal_id"`
	AllocationBps uint64 `json:"allocation_bps"`
}

// UpdateAllocation changes an agent's capital allocation under a governance
// authorization.
// PATCH /api/treasury/agents/{id}/allocation
func (h *TreasuryHandler) UpdateAllocation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid agent id")
		return
	}

	var req allocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	agent, err := h.treasury.UpdateAllocation(r.Context(), req.ProposalID, id, req.AllocationBps)
	if err != nil {
		writeDomainError(w, r, h.logger, "update allocation", err)
		return
	}

	writeJSON(w, http.StatusOK, agent)
}

type recordTradeRequest struct {
	Caller string `json:"caller"`
	PnlBps int64  `json:"pnl_bps"`
}

// RecordTrade reports an agent's trade outcome and marks the fund to market.
// POST /api/treasury/agents/{id}/trades
func (h *TreasuryHandler) RecordTrade(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid agent id")
		return
	}

	var req recordTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	caller, err := chainutil.NormalizeAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "caller: "+err.Error())
		return
	}

	record, err := h.treasury.RecordTrade(r.Context(), caller, id, req.PnlBps)
	if err != nil {
		writeDomainError(w, r, h.logger, "record trade", err)
		return
	}

	writeJSON(w, http.StatusCreated, record)
}

type depositRequest struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

// Deposit invests funds and mints shares at the current share price.
// POST /api/treasury/deposits
func (h *TreasuryHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	caller, err := chainutil.NormalizeAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "caller: "+err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "amount: "+err.Error())
		return
	}

	position, err := h.treasury.Deposit(r.Context(), caller, amount)
	if err != nil {
		writeDomainError(w, r, h.logger, "deposit", err)
		return
	}

	writeJSON(w, http.StatusCreated, position)
}

type withdrawRequest struct {
	Caller string `json:"caller"`
	Shares string `json:"shares"`
}

type withdrawResponse struct {
	Caller string `json:"caller"`
	Shares string `json:"shares"`
	Payout string `json:"payout"`
}

// Withdraw burns shares and pays out the proportional fund value.
// POST /api/treasury/withdrawals
func (h *TreasuryHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	caller, err := chainutil.NormalizeAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "caller: "+err.Error())
		return
	}
	shares, err := parseAmount(req.Shares)
	if err != nil {
		writeError(w, http.StatusBadRequest, "shares: "+err.Error())
		return
	}

	payout, err := h.treasury.Withdraw(r.Context(), caller, shares)
	if err != nil {
		writeDomainError(w, r, h.logger, "withdraw", err)
		return
	}

	writeJSON(w, http.StatusOK, withdrawResponse{
		Caller: caller,
		Shares: shares.String(),
		Payout: bigString(payout),
	})
}

type distributeRequest struct {
	Caller string `json:"caller"`
}

// DistributeProfits collects accrued fees above the high-water baseline.
// POST /api/treasury/distribute
func (h *TreasuryHandler) DistributeProfits(w http.ResponseWriter, r *http.Request) {
	var req distributeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	caller, err := chainutil.NormalizeAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "caller: "+err.Error())
		return
	}

	collected, err := h.treasury.DistributeProfits(r.Context(), caller)
	if err != nil {
		writeDomainError(w, r, h.logger, "distribute profits", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"collected": bigString(collected),
	})
}

type emergencyStopRequest struct {
	Caller string `json:"caller"`
	Stop   bool   `json:"stop"`
}

// SetEmergencyStop toggles the deposit/trade circuit breaker.
// POST /api/treasury/emergency-stop
func (h *TreasuryHandler) SetEmergencyStop(w http.ResponseWriter, r *http.Request) {
	var req emergencyStopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	caller, err := chainutil.NormalizeAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "caller: "+err.Error())
		return
	}

	if err := h.treasury.SetEmergencyStop(r.Context(), caller, req.Stop); err != nil {
		writeDomainError(w, r, h.logger, "set emergency stop", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"emergency_stop": req.Stop})
}

// GetSharePrice returns the current share price scaled by 1e18.
// GET /api/treasury/share-price
func (h *TreasuryHandler) GetSharePrice(w http.ResponseWriter, r *http.Request) {
	price := h.treasury.SharePrice(r.Context())

	writeJSON(w, http.StatusOK, map[string]string{
		"share_price": bigString(price),
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	})
}

// GetFund returns the aggregate fund state.
// GET /api/treasury/fund
func (h *TreasuryHandler) GetFund(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.treasury.Fund(r.Context()))
}

// listAgentsResponse wraps the agent list response.
type listAgentsResponse struct {
	Agents []domain.Agent `json:"agents"`
}

// ListAgents returns all trading agents in registration order.
// GET /api/treasury/agents
func (h *TreasuryHandler) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents := h.treasury.Agents(r.Context())
	if agents == nil {
		agents = []domain.Agent{}
	}
	writeJSON(w, http.StatusOK, listAgentsResponse{Agents: agents})
}

// GetAgent returns a single trading agent by id.
// GET /api/treasury/agents/{id}
func (h *TreasuryHandler) GetAgent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid agent id")
		return
	}

	agent, err := h.treasury.Agent(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "get agent", err)
		return
	}

	writeJSON(w, http.StatusOK, agent)
}

// GetPosition returns an investor's share position.
// GET /api/treasury/positions/{addr}
func (h *TreasuryHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	addr, err := chainutil.NormalizeAddress(pathParam(r, "addr"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid address: "+err.Error())
		return
	}

	position, err := h.treasury.Position(r.Context(), addr)
	if err != nil {
		writeDomainError(w, r, h.logger, "get position", err)
		return
	}

	writeJSON(w, http.StatusOK, position)
}
