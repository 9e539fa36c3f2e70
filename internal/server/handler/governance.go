package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/quantdao/ledgerd/internal/chainutil"
	"github.com/quantdao/ledgerd/internal/domain"
)

// GovernanceService defines the methods that the governance handler requires
// from the service layer.
type GovernanceService interface {
	GrantVotingPower(ctx context.Context, caller, account string, amount uint64) (domain.VotingAccount, error)
	Propose(ctx context.Context, caller, description string, kind domain.ProposalKind, payload []byte) (domain.Proposal, error)
	CastVote(ctx context.Context, caller string, proposalID uint64, support bool) (domain.Proposal, error)
	Execute(ctx context.Context, proposalID uint64) (domain.Authorization, error)
	Cancel(ctx context.Context, caller string, proposalID uint64) (domain.Proposal, error)
	SetVotingPeriod(ctx context.Context, caller string, period time.Duration) error
	SetQuorumPercent(ctx context.Context, caller string, quorum uint64) error
	Proposal(ctx context.Context, id uint64) (domain.Proposal, error)
	Proposals(ctx context.Context) []domain.Proposal
	Account(ctx context.Context, addr string) domain.VotingAccount
	TotalVotingPower(ctx context.Context) uint64
}

// GovernanceHandler serves governance HTTP endpoints.
type GovernanceHandler struct {
	gov    GovernanceService
	logger *slog.Logger
}

// NewGovernanceHandler creates a GovernanceHandler with the given service and logger.
func NewGovernanceHandler(gov GovernanceService, logger *slog.Logger) *GovernanceHandler {
	return &GovernanceHandler{
		gov:    gov,
		logger: logger,
	}
}

type grantPowerRequest struct {
	Caller  string `json:"caller"`
	Account string `json:"account"`
	Amount  uint64 `json:"amount"`
}

// GrantVotingPower mints voting power to an account.
// POST /api/governance/power
func (h *GovernanceHandler) GrantVotingPower(w http.ResponseWriter, r *http.Request) {
	var req grantPowerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	caller, account, err := normalizePair(req.Caller, req.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	acct, err := h.gov.GrantVotingPower(r.Context(), caller, account, req.Amount)
	if err != nil {
		writeDomainError(w, r, h.logger, "grant voting power", err)
		return
	}

	writeJSON(w, http.StatusOK, acct)
}

type proposeRequest struct {
	Caller      string              `json:"caller"`
	Description string              `json:"description"`
	Kind        domain.ProposalKind `json:"kind"`
	Payload     json.RawMessage     `json:"payload,omitempty"`
}

// CreateProposal submits a new proposal.
// POST /api/governance/proposals
func (h *GovernanceHandler) CreateProposal(w http.ResponseWriter, r *http.Request) {
	var req proposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	caller, err := chainutil.NormalizeAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "caller: "+err.Error())
		return
	}
	if req.Description == "" {
		writeError(w, http.StatusBadRequest, "description is required")
		return
	}

	proposal, err := h.gov.Propose(r.Context(), caller, req.Description, req.Kind, req.Payload)
	if err != nil {
		writeDomainError(w, r, h.logger, "create proposal", err)
		return
	}

	writeJSON(w, http.StatusCreated, proposal)
}

type voteRequest struct {
	Caller  string `json:"caller"`
	Support bool   `json:"support"`
}

// CastVote records a vote on an active proposal.
// POST /api/governance/proposals/{id}/votes
func (h *GovernanceHandler) CastVote(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid proposal id")
		return
	}

	var req voteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	caller, err := chainutil.NormalizeAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "caller: "+err.Error())
		return
	}

	proposal, err := h.gov.CastVote(r.Context(), caller, id, req.Support)
	if err != nil {
		writeDomainError(w, r, h.logger, "cast vote", err)
		return
	}

	writeJSON(w, http.StatusOK, proposal)
}

// ExecuteProposal finalizes a passed proposal and issues its authorization.
// POST /api/governance/proposals/{id}/execute
func (h *GovernanceHandler) ExecuteProposal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid proposal id")
		return
	}

	auth, err := h.gov.Execute(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "execute proposal", err)
		return
	}

	writeJSON(w, http.StatusOK, auth)
}

type cancelRequest struct {
	Caller string `json:"caller"`
}

// CancelProposal cancels a proposal before execution.
// POST /api/governance/proposals/{id}/cancel
func (h *GovernanceHandler) CancelProposal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid proposal id")
		return
	}

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	caller, err := chainutil.NormalizeAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "caller: "+err.Error())
		return
	}

	proposal, err := h.gov.Cancel(r.Context(), caller, id)
	if err != nil {
		writeDomainError(w, r, h.logger, "cancel proposal", err)
		return
	}

	writeJSON(w, http.StatusOK, proposal)
}

type updateParamsRequest struct {
	Caller        string `json:"caller"`
	VotingPeriod  string `json:"voting_period,omitempty"` // duration string, e.g. "72h"
	QuorumPercent uint64 `json:"quorum_percent,omitempty"`
}

// UpdateParams changes the voting period and/or quorum for future proposals.
// PUT /api/governance/params
func (h *GovernanceHandler) UpdateParams(w http.ResponseWriter, r *http.Request) {
	var req updateParamsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	caller, err := chainutil.NormalizeAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "caller: "+err.Error())
		return
	}
	if req.VotingPeriod == "" && req.QuorumPercent == 0 {
		writeError(w, http.StatusBadRequest, "voting_period or quorum_percent is required")
		return
	}

	if req.VotingPeriod != "" {
		period, err := time.ParseDuration(req.VotingPeriod)
		if err != nil {
			writeError(w, http.StatusBadRequest, "voting_period: "+err.Error())
			return
		}
		if err := h.gov.SetVotingPeriod(r.Context(), caller, period); err != nil {
			writeDomainError(w, r, h.logger, "set voting period", err)
			return
		}
	}
	if req.QuorumPercent != 0 {
		if err := h.gov.SetQuorumPercent(r.Context(), caller, req.QuorumPercent); err != nil {
			writeDomainError(w, r, h.logger, "set quorum", err)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// listProposalsResponse wraps the proposal list with the current total
// voting power so clients can compute quorum progress.
type listProposalsResponse struct {
	Proposals        []domain.Proposal `json:"proposals"`
	TotalVotingPower uint64            `json:"total_voting_power"`
}

// ListProposals returns all proposals in creation order.
// GET /api/governance/proposals
func (h *GovernanceHandler) ListProposals(w http.ResponseWriter, r *http.Request) {
	proposals := h.gov.Proposals(r.Context())
	if proposals == nil {
		proposals = []domain.Proposal{}
	}

	writeJSON(w, http.StatusOK, listProposalsResponse{
		Proposals:        proposals,
		TotalVotingPower: h.gov.TotalVotingPower(r.Context()),
	})
}

// GetProposal returns a single proposal by id.
// GET /api/governance/proposals/{id}
func (h *GovernanceHandler) GetProposal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid proposal id")
		return
	}

	proposal, err := h.gov.Proposal(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "get proposal", err)
		return
	}

	writeJSON(w, http.StatusOK, proposal)
}

// GetAccount returns a voting account by address.
// GET /api/governance/accounts/{addr}
func (h *GovernanceHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := chainutil.NormalizeAddress(pathParam(r, "addr"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid address: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, h.gov.Account(r.Context(), addr))
}

// normalizePair normalizes two addresses, reporting which one failed.
func normalizePair(a, b string) (string, string, error) {
	na, err := chainutil.NormalizeAddress(a)
	if err != nil {
		return "", "", err
	}
	nb, err := chainutil.NormalizeAddress(b)
	if err != nil {
		return "", "", err
	}
	return na, nb, nil
}
