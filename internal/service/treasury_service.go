package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/quantdao/ledgerd/internal/domain"
	"github.com/quantdao/ledgerd/internal/treasury"
)

// TreasuryService fronts the treasury engine: it applies operations, writes
// the affected rows through to Postgres, refreshes the cached share price,
// and publishes the resulting events.
type TreasuryService struct {
	engine     *treasury.Engine
	agents     domain.AgentStore
	fund       domain.FundStateStore
	positions  domain.PositionStore
	consumed   domain.ConsumedAuthStore
	priceCache domain.SharePriceCache
	bus        domain.SignalBus
	audit      domain.AuditStore
	logger     *slog.Logger
}

// NewTreasuryService creates a TreasuryService with all required
// dependencies. Stores, cache, bus, and audit may be nil in replay mode.
func NewTreasuryService(
	engine *treasury.Engine,
	agents domain.AgentStore,
	fund domain.FundStateStore,
	positions domain.PositionStore,
	consumed domain.ConsumedAuthStore,
	priceCache domain.SharePriceCache,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *TreasuryService {
	return &TreasuryService{
		engine:     engine,
		agents:     agents,
		fund:       fund,
		positions:  positions,
		consumed:   consumed,
		priceCache: priceCache,
		bus:        bus,
		audit:      audit,
		logger:     logger,
	}
}

// markConsumed persists the consumed proposal id so restarts cannot replay
// the authorization. Failures are logged, never propagated: the in-memory
// engine already refuses replays.
func (s *TreasuryService) markConsumed(ctx context.Context, proposalID uint64) {
	if s.consumed == nil {
		return
	}
	if err := s.consumed.Mark(ctx, proposalID); err != nil {
		s.logger.WarnContext(ctx, "treasury_service: persist consumed auth failed",
			slog.Uint64("proposal_id", proposalID),
			slog.String("error", err.Error()),
		)
	}
}

// RegisterAgent registers a trading agent under an executed governance
// proposal.
func (s *TreasuryService) RegisterAgent(ctx context.Context, proposalID uint64, name, externalAddr string, allocationBps uint64) (domain.Agent, error) {
	agent, events, err := s.engine.RegisterAgent(proposalID, name, externalAddr, allocationBps)
	if err != nil {
		return domain.Agent{}, fmt.Errorf("treasury_service: register agent: %w", err)
	}
	s.markConsumed(ctx, proposalID)

	if s.agents != nil {
		if err := s.agents.Upsert(ctx, agent); err != nil {
			return agent, fmt.Errorf("treasury_service: persist agent: %w", err)
		}
	}

	publishEvents(ctx, s.bus, s.logger, events)
	auditLog(ctx, s.audit, s.logger, "treasury.agent_registered", map[string]any{
		"agent_id":       agent.ID,
		"name":           agent.Name,
		"allocation_bps": agent.AllocationBps,
		"proposal_id":    proposalID,
	})

	s.logger.InfoContext(ctx, "treasury_service: agent registered",
		slog.Uint64("agent_id", agent.ID),
		slog.String("name", agent.Name),
	)
	return agent, nil
}

// SetAgentStatus activates or deactivates an agent under an executed
// governance proposal.
func (s *TreasuryService) SetAgentStatus(ctx context.Context, proposalID, agentID uint64, active bool) (domain.Agent, error) {
	agent, events, err := s.engine.SetAgentStatus(proposalID, agentID, active)
	if err != nil {
		return domain.Agent{}, fmt.Errorf("treasury_service: set agent status: %w", err)
	}
	s.markConsumed(ctx, proposalID)

	if s.agents != nil {
		if err := s.agents.Upsert(ctx, agent); err != nil {
			return agent, fmt.Errorf("treasury_service: persist agent: %w", err)
		}
	}

	publishEvents(ctx, s.bus, s.logger, events)
	auditLog(ctx, s.audit, s.logger, "treasury.agent_status_changed", map[string]any{
		"agent_id":    agentID,
		"active":      active,
		"proposal_id": proposalID,
	})
	return agent, nil
}

// UpdateAllocation changes an agent's capital allocation under an executed
// governance proposal.
func (s *TreasuryService) UpdateAllocation(ctx context.Context, proposalID, agentID, newAllocationBps uint64) (domain.Agent, error) {
	agent, events, err := s.engine.UpdateAllocation(proposalID, agentID, newAllocationBps)
	if err != nil {
		return domain.Agent{}, fmt.Errorf("treasury_service: update allocation: %w", err)
	}
	s.markConsumed(ctx, proposalID)

	if s.agents != nil {
		if err := s.agents.Upsert(ctx, agent); err != nil {
			return agent, fmt.Errorf("treasury_service: persist agent: %w", err)
		}
	}

	publishEvents(ctx, s.bus, s.logger, events)
	auditLog(ctx, s.audit, s.logger, "treasury.allocation_updated", map[string]any{
		"agent_id":       agentID,
		"allocation_bps": newAllocationBps,
		"proposal_id":    proposalID,
	})
	return agent, nil
}

// RecordTrade books a realized trade outcome into the pool.
func (s *TreasuryService) RecordTrade(ctx context.Context, caller string, agentID uint64, pnlBps int64) (domain.TradeRecord, error) {
	rec, events, err := s.engine.RecordTrade(caller, agentID, pnlBps)
	if err != nil {
		return domain.TradeRecord{}, fmt.Errorf("treasury_service: record trade: %w", err)
	}

	if err := s.persistAgentAndFund(ctx, agentID); err != nil {
		return rec, err
	}
	s.refreshSharePrice(ctx)

	publishEvents(ctx, s.bus, s.logger, events)
	auditLog(ctx, s.audit, s.logger, "treasury.trade_recorded", map[string]any{
		"agent_id": agentID,
		"pnl_bps":  pnlBps,
	})

	s.logger.InfoContext(ctx, "treasury_service: trade recorded",
		slog.Uint64("agent_id", agentID),
		slog.Int64("pnl_bps", pnlBps),
	)
	return rec, nil
}

// Deposit mints shares for the caller at the current share price.
func (s *TreasuryService) Deposit(ctx context.Context, caller string, amount *big.Int) (domain.InvestorPosition, error) {
	pos, events, err := s.engine.Deposit(caller, amount)
	if err != nil {
		return domain.InvestorPosition{}, fmt.Errorf("treasury_service: deposit: %w", err)
	}

	if s.positions != nil {
		if err := s.positions.Upsert(ctx, pos); err != nil {
			return pos, fmt.Errorf("treasury_service: persist position: %w", err)
		}
	}
	if err := s.persistFund(ctx); err != nil {
		return pos, err
	}
	s.refreshSharePrice(ctx)

	publishEvents(ctx, s.bus, s.logger, events)
	auditLog(ctx, s.audit, s.logger, "treasury.deposit", map[string]any{
		"investor": pos.Address,
		"amount":   amount.String(),
		"shares":   pos.Shares.String(),
	})
	return pos, nil
}

// Withdraw burns the caller's shares and returns the net payout after the
// pro-rated management fee.
func (s *TreasuryService) Withdraw(ctx context.Context, caller string, shareAmount *big.Int) (*big.Int, error) {
	net, events, err := s.engine.Withdraw(caller, shareAmount)
	if err != nil {
		return nil, fmt.Errorf("treasury_service: withdraw: %w", err)
	}

	if s.positions != nil {
		pos, perr := s.engine.Position(caller)
		switch {
		case perr == nil:
			if err := s.positions.Upsert(ctx, pos); err != nil {
				return net, fmt.Errorf("treasury_service: persist position: %w", err)
			}
		case errors.Is(perr, domain.ErrNotFound):
			// Fully exited; remove the row.
			if err := s.positions.Delete(ctx, caller); err != nil {
				return net, fmt.Errorf("treasury_service: delete position: %w", err)
			}
		default:
			return net, fmt.Errorf("treasury_service: read position: %w", perr)
		}
	}
	if err := s.persistFund(ctx); err != nil {
		return net, err
	}
	s.refreshSharePrice(ctx)

	publishEvents(ctx, s.bus, s.logger, events)
	auditLog(ctx, s.audit, s.logger, "treasury.withdrawal", map[string]any{
		"investor": caller,
		"shares":   shareAmount.String(),
		"net":      net.String(),
	})
	return net, nil
}

// DistributeProfits skims the performance fee from gains above the baseline.
func (s *TreasuryService) DistributeProfits(ctx context.Context, caller string) (*big.Int, error) {
	fee, events, err := s.engine.DistributeProfits(caller)
	if err != nil {
		return nil, fmt.Errorf("treasury_service: distribute profits: %w", err)
	}

	if err := s.persistFund(ctx); err != nil {
		return fee, err
	}
	s.refreshSharePrice(ctx)

	publishEvents(ctx, s.bus, s.logger, events)
	auditLog(ctx, s.audit, s.logger, "treasury.profits_distributed", map[string]any{
		"fee": fee.String(),
	})

	s.logger.InfoContext(ctx, "treasury_service: profits distributed",
		slog.String("fee", fee.String()),
	)
	return fee, nil
}

// SetEmergencyStop toggles the deposit/withdraw circuit breaker.
func (s *TreasuryService) SetEmergencyStop(ctx context.Context, caller string, stop bool) error {
	events, err := s.engine.SetEmergencyStop(caller, stop)
	if err != nil {
		return fmt.Errorf("treasury_service: set emergency stop: %w", err)
	}

	if err := s.persistFund(ctx); err != nil {
		return err
	}

	publishEvents(ctx, s.bus, s.logger, events)
	auditLog(ctx, s.audit, s.logger, "treasury.emergency_stop", map[string]any{
		"stopped": stop,
	})

	s.logger.WarnContext(ctx, "treasury_service: emergency stop set",
		slog.Bool("stopped", stop),
	)
	return nil
}

// SharePrice returns the current share price at 1e18 fixed-point scale,
// preferring the cache when available.
func (s *TreasuryService) SharePrice(ctx context.Context) *big.Int {
	if s.priceCache != nil {
		if price, _, err := s.priceCache.GetSharePrice(ctx); err == nil {
			return price
		}
	}
	return s.engine.SharePrice()
}

// Fund returns the pooled accounting state.
func (s *TreasuryService) Fund(_ context.Context) domain.FundState {
	return s.engine.Fund()
}

// Agent returns one treasury agent by id.
func (s *TreasuryService) Agent(_ context.Context, id uint64) (domain.Agent, error) {
	agent, err := s.engine.Agent(id)
	if err != nil {
		return domain.Agent{}, fmt.Errorf("treasury_service: get agent %d: %w", id, err)
	}
	return agent, nil
}

// Agents returns all treasury agents in registration order.
func (s *TreasuryService) Agents(_ context.Context) []domain.Agent {
	return s.engine.Agents()
}

// Position returns the investor's current position.
func (s *TreasuryService) Position(_ context.Context, addr string) (domain.InvestorPosition, error) {
	pos, err := s.engine.Position(addr)
	if err != nil {
		return domain.InvestorPosition{}, fmt.Errorf("treasury_service: get position %s: %w", addr, err)
	}
	return pos, nil
}

// persistAgentAndFund writes the agent row and the fund singleton after a
// trade mutation.
func (s *TreasuryService) persistAgentAndFund(ctx context.Context, agentID uint64) error {
	if s.agents != nil {
		agent, err := s.engine.Agent(agentID)
		if err == nil {
			if err := s.agents.Upsert(ctx, agent); err != nil {
				return fmt.Errorf("treasury_service: persist agent: %w", err)
			}
		}
	}
	return s.persistFund(ctx)
}

func (s *TreasuryService) persistFund(ctx context.Context) error {
	if s.fund == nil {
		return nil
	}
	if err := s.fund.Save(ctx, s.engine.Fund()); err != nil {
		return fmt.Errorf("treasury_service: persist fund state: %w", err)
	}
	return nil
}

// refreshSharePrice recomputes and caches the share price. Cache failures
// are logged, never propagated.
func (s *TreasuryService) refreshSharePrice(ctx context.Context) {
	if s.priceCache == nil {
		return
	}
	if err := s.priceCache.SetSharePrice(ctx, s.engine.SharePrice(), time.Now().UTC()); err != nil {
		s.logger.WarnContext(ctx, "treasury_service: share price cache update failed",
			slog.String("error", err.Error()),
		)
	}
}
