package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/quantdao/ledgerd/internal/bridge"
	"github.com/quantdao/ledgerd/internal/domain"
	"github.com/quantdao/ledgerd/internal/governance"
	"github.com/quantdao/ledgerd/internal/registry"
	"github.com/quantdao/ledgerd/internal/treasury"
)

// Hydrator rebuilds engine state from Postgres at startup. A missing
// singleton row or an empty table means a fresh deployment; that is not an
// error.
type Hydrator struct {
	proposals   domain.ProposalStore
	accounts    domain.VotingAccountStore
	agents      domain.AgentStore
	fund        domain.FundStateStore
	positions   domain.PositionStore
	consumed    domain.ConsumedAuthStore
	regAgents   domain.RegisteredAgentStore
	bridgeTxs   domain.BridgeTxStore
	bridgeState domain.BridgeStateStore
	logger      *slog.Logger
}

// NewHydrator creates a Hydrator over the given stores.
func NewHydrator(
	proposals domain.ProposalStore,
	accounts domain.VotingAccountStore,
	agents domain.AgentStore,
	fund domain.FundStateStore,
	positions domain.PositionStore,
	consumed domain.ConsumedAuthStore,
	regAgents domain.RegisteredAgentStore,
	bridgeTxs domain.BridgeTxStore,
	bridgeState domain.BridgeStateStore,
	logger *slog.Logger,
) *Hydrator {
	return &Hydrator{
		proposals:   proposals,
		accounts:    accounts,
		agents:      agents,
		fund:        fund,
		positions:   positions,
		consumed:    consumed,
		regAgents:   regAgents,
		bridgeTxs:   bridgeTxs,
		bridgeState: bridgeState,
		logger:      logger,
	}
}

// HydrateGovernance loads voting accounts and proposals into the engine.
func (h *Hydrator) HydrateGovernance(ctx context.Context, engine *governance.Engine) error {
	accounts, err := h.accounts.List(ctx)
	if err != nil {
		return fmt.Errorf("hydrator: load voting accounts: %w", err)
	}

	proposals, err := h.proposals.List(ctx, domain.ListOpts{})
	if err != nil {
		return fmt.Errorf("hydrator: load proposals: %w", err)
	}
	reverseProposals(proposals) // store lists newest first; engine wants id order

	if len(accounts) == 0 && len(proposals) == 0 {
		return nil
	}

	snap := engine.Snapshot()
	snap.Accounts = accounts
	snap.Proposals = proposals
	engine.Restore(snap)

	h.logger.InfoContext(ctx, "hydrator: governance state loaded",
		slog.Int("accounts", len(accounts)),
		slog.Int("proposals", len(proposals)),
	)
	return nil
}

// HydrateTreasury loads the fund singleton, agents, positions, and consumed
// authorizations into the engine.
func (h *Hydrator) HydrateTreasury(ctx context.Context, engine *treasury.Engine) error {
	snap := engine.Snapshot()
	loaded := false

	fund, err := h.fund.Load(ctx)
	switch {
	case err == nil:
		snap.Fund = fund
		loaded = true
	case errors.Is(err, domain.ErrNotFound):
	default:
		return fmt.Errorf("hydrator: load fund state: %w", err)
	}

	agents, err := h.agents.List(ctx)
	if err != nil {
		return fmt.Errorf("hydrator: load agents: %w", err)
	}
	if len(agents) > 0 {
		snap.Agents = agents
		loaded = true
	}

	positions, err := h.positions.List(ctx)
	if err != nil {
		return fmt.Errorf("hydrator: load positions: %w", err)
	}
	if len(positions) > 0 {
		snap.Positions = positions
		loaded = true
	}

	consumed, err := h.consumed.List(ctx)
	if err != nil {
		return fmt.Errorf("hydrator: load consumed auths: %w", err)
	}
	if len(consumed) > 0 {
		snap.ConsumedAuths = consumed
		loaded = true
	}

	if !loaded {
		return nil
	}
	engine.Restore(snap)

	h.logger.InfoContext(ctx, "hydrator: treasury state loaded",
		slog.Int("agents", len(agents)),
		slog.Int("positions", len(positions)),
	)
	return nil
}

// HydrateRegistry loads registered agents and their performance history into
// the engine.
func (h *Hydrator) HydrateRegistry(ctx context.Context, engine *registry.Engine) error {
	agents, err := h.regAgents.List(ctx)
	if err != nil {
		return fmt.Errorf("hydrator: load registered agents: %w", err)
	}
	if len(agents) == 0 {
		return nil
	}

	snap := engine.Snapshot()
	snap.Agents = snap.Agents[:0]
	for _, agent := range agents {
		snaps, err := h.regAgents.ListSnapshots(ctx, agent.Address, domain.ListOpts{})
		if err != nil {
			return fmt.Errorf("hydrator: load snapshots for %s: %w", agent.Address, err)
		}
		reverseSnapshots(snaps) // store lists newest first; engine wants report order
		snap.Agents = append(snap.Agents, registry.AgentRecord{
			Agent:     agent,
			Snapshots: snaps,
		})
	}
	engine.Restore(snap)

	h.logger.InfoContext(ctx, "hydrator: registry state loaded",
		slog.Int("agents", len(agents)),
	)
	return nil
}

// HydrateBridge loads the bridge control singleton and transactions into the
// engine.
func (h *Hydrator) HydrateBridge(ctx context.Context, engine *bridge.Engine) error {
	snap := engine.Snapshot()
	loaded := false

	state, err := h.bridgeState.Load(ctx)
	switch {
	case err == nil:
		snap.State = state
		loaded = true
	case errors.Is(err, domain.ErrNotFound):
	default:
		return fmt.Errorf("hydrator: load bridge state: %w", err)
	}

	txs, err := h.bridgeTxs.List(ctx, domain.ListOpts{})
	if err != nil {
		return fmt.Errorf("hydrator: load bridge txs: %w", err)
	}
	if len(txs) > 0 {
		reverseBridgeTxs(txs) // store lists newest first; engine wants initiation order
		snap.Transactions = txs
		loaded = true
	}

	if !loaded {
		return nil
	}
	engine.Restore(snap)

	h.logger.InfoContext(ctx, "hydrator: bridge state loaded",
		slog.Int("transactions", len(txs)),
	)
	return nil
}

func reverseProposals(s []domain.Proposal) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

func reverseSnapshots(s []domain.PerformanceSnapshot) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

func reverseBridgeTxs(s []domain.BridgeTransaction) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
