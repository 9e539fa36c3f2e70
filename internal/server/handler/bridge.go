package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/quantdao/ledgerd/internal/chainutil"
	"github.com/quantdao/ledgerd/internal/domain"
)

// BridgeService defines the methods that the bridge handler requires from
// the service layer.
type BridgeService interface {
	InitiateBridge(ctx context.Context, caller, recipient string, amount *big.Int, destDomain uint64) (domain.BridgeTransaction, error)
	SubmitAttestation(ctx context.Context, caller, txHash string) (domain.BridgeTransaction, error)
	AddValidator(ctx context.Context, caller, validator string) error
	RemoveValidator(ctx context.Context, caller, validator string) error
	UpdateRequiredAttestations(ctx context.Context, caller string, n uint64) error
	Pause(ctx context.Context, caller string) error
	Unpause(ctx context.Context, caller string) error
	Transaction(ctx context.Context, hash string) (domain.BridgeTransaction, error)
	Transactions(ctx context.Context) []domain.BridgeTransaction
	State(ctx context.Context) domain.BridgeState
}

// BridgeHandler serves cross-domain bridge HTTP endpoints.
type BridgeHandler struct {
	bridge BridgeService
	logger *slog.Logger
}

// NewBridgeHandler creates a BridgeHandler with the given service and logger.
func NewBridgeHandler(bridge BridgeService, logger *slog.Logger) *BridgeHandler {
	return &BridgeHandler{
		bridge: bridge,
		logger: logger,
	}
}

type transferRequest struct {
	Caller     string `json:"caller"`
	Recipient  string `json:"recipient"`
	Amount     string `json:"amount"`
	DestDomain uint64 `json:"dest_domain"`
}

// InitiateTransfer locks funds for a cross-domain transfer.
// POST /api/bridge/transfers
func (h *BridgeHandler) InitiateTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	caller, recipient, err := normalizePair(req.Caller, req.Recipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "amount: "+err.Error())
		return
	}

	tx, err := h.bridge.InitiateBridge(r.Context(), caller, recipient, amount, req.DestDomain)
	if err != nil {
		writeDomainError(w, r, h.logger, "initiate transfer", err)
		return
	}

	writeJSON(w, http.StatusCreated, tx)
}

type attestRequest struct {
	Caller string `json:"caller"`
}

// SubmitAttestation records a validator attestation for a pending transfer.
// POST /api/bridge/transfers/{hash}/attestations
func (h *BridgeHandler) SubmitAttestation(w http.ResponseWriter, r *http.Request) {
	hash := strings.TrimSpace(pathParam(r, "hash"))
	if hash == "" {
		writeError(w, http.StatusBadRequest, "missing transaction hash")
		return
	}

	var req attestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	caller, err := chainutil.NormalizeAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "caller: "+err.Error())
		return
	}

	tx, err := h.bridge.SubmitAttestation(r.Context(), caller, hash)
	if err != nil {
		writeDomainError(w, r, h.logger, "submit attestation", err)
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

type validatorRequest struct {
	Caller    string `json:"caller"`
	Validator string `json:"validator"`
}

// AddValidator registers a new attestation validator.
// POST /api/bridge/validators
func (h *BridgeHandler) AddValidator(w http.ResponseWriter, r *http.Request) {
	var req validatorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	caller, validator, err := normalizePair(req.Caller, req.Validator)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.bridge.AddValidator(r.Context(), caller, validator); err != nil {
		writeDomainError(w, r, h.logger, "add validator", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"validator": validator})
}

type removeValidatorRequest struct {
	Caller string `json:"caller"`
}

// RemoveValidator deregisters a validator.
// DELETE /api/bridge/validators/{addr}
func (h *BridgeHandler) RemoveValidator(w http.ResponseWriter, r *http.Request) {
	validator, err := chainutil.NormalizeAddress(pathParam(r, "addr"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid address: "+err.Error())
		return
	}

	var req removeValidatorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	caller, err := chainutil.NormalizeAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "caller: "+err.Error())
		return
	}

	if err := h.bridge.RemoveValidator(r.Context(), caller, validator); err != nil {
		writeDomainError(w, r, h.logger, "remove validator", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "removed",
		"validator": validator,
	})
}

type requiredRequest struct {
	Caller   string `json:"caller"`
	Required uint64 `json:"required"`
}

// UpdateRequired changes the attestation threshold.
// PUT /api/bridge/required
func (h *BridgeHandler) UpdateRequired(w http.ResponseWriter, r *http.Request) {
	var req requiredRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	caller, err := chainutil.NormalizeAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "caller: "+err.Error())
		return
	}

	if err := h.bridge.UpdateRequiredAttestations(r.Context(), caller, req.Required); err != nil {
		writeDomainError(w, r, h.logger, "update required attestations", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]uint64{"required": req.Required})
}

type pauseRequest struct {
	Caller string `json:"caller"`
}

// Pause halts new transfers and attestations.
// POST /api/bridge/pause
func (h *BridgeHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, h.bridge.Pause, true)
}

// Unpause resumes bridge operation.
// POST /api/bridge/unpause
func (h *BridgeHandler) Unpause(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, h.bridge.Unpause, false)
}

func (h *BridgeHandler) setPaused(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, caller string) error,
	paused bool,
) {
	var req pauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	caller, err := chainutil.NormalizeAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "caller: "+err.Error())
		return
	}

	if err := op(r.Context(), caller); err != nil {
		writeDomainError(w, r, h.logger, "set bridge pause", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"paused": paused})
}

// GetTransfer returns a bridge transaction by hash.
// GET /api/bridge/transfers/{hash}
func (h *BridgeHandler) GetTransfer(w http.ResponseWriter, r *http.Request) {
	hash := strings.TrimSpace(pathParam(r, "hash"))
	if hash == "" {
		writeError(w, http.StatusBadRequest, "missing transaction hash")
		return
	}

	tx, err := h.bridge.Transaction(r.Context(), hash)
	if err != nil {
		writeDomainError(w, r, h.logger, "get transfer", err)
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// listTransfersResponse wraps the transfer list response.
type listTransfersResponse struct {
	Transfers []domain.BridgeTransaction `json:"transfers"`
}

// ListTransfers returns all transfers in initiation order.
// GET /api/bridge/transfers
func (h *BridgeHandler) ListTransfers(w http.ResponseWriter, r *http.Request) {
	transfers := h.bridge.Transactions(r.Context())
	if transfers == nil {
		transfers = []domain.BridgeTransaction{}
	}
	writeJSON(w, http.StatusOK, listTransfersResponse{Transfers: transfers})
}

// GetState returns the bridge control state.
// GET /api/bridge/state
func (h *BridgeHandler) GetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.bridge.State(r.Context()))
}
