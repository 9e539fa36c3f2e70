package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/quantdao/ledgerd/internal/domain"
	"github.com/quantdao/ledgerd/internal/registry"
)

// RegistryService fronts the agent registry engine: it applies operations,
// writes the affected rows through to Postgres, and publishes the resulting
// events.
type RegistryService struct {
	engine *registry.Engine
	agents domain.RegisteredAgentStore
	bus    domain.SignalBus
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewRegistryService creates a RegistryService with all required
// dependencies. Store, bus, and audit may be nil in replay mode.
func NewRegistryService(
	engine *registry.Engine,
	agents domain.RegisteredAgentStore,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *RegistryService {
	return &RegistryService{
		engine: engine,
		agents: agents,
		bus:    bus,
		audit:  audit,
		logger: logger,
	}
}

// Register enrolls a new agent with its initial stake.
func (s *RegistryService) Register(ctx context.Context, caller, name, strategyDescription, modelReference string, stake *big.Int) (domain.RegisteredAgent, error) {
	agent, events, err := s.engine.Register(caller, name, strategyDescription, modelReference, stake)
	if err != nil {
		return domain.RegisteredAgent{}, fmt.Errorf("registry_service: register: %w", err)
	}

	if err := s.persistAgent(ctx, agent); err != nil {
		return agent, err
	}

	publishEvents(ctx, s.bus, s.logger, events)
	auditLog(ctx, s.audit, s.logger, "registry.agent_registered", map[string]any{
		"agent": agent.Address,
		"name":  agent.Name,
		"stake": agent.StakedAmount.String(),
	})

	s.logger.InfoContext(ctx, "registry_service: agent registered",
		slog.String("agent", agent.Address),
		slog.String("name", agent.Name),
	)
	return agent, nil
}

// Stake adds to the caller's stake.
func (s *RegistryService) Stake(ctx context.Context, caller string, amount *big.Int) (domain.RegisteredAgent, error) {
	agent, events, err := s.engine.Stake(caller, amount)
	if err != nil {
		return domain.RegisteredAgent{}, fmt.Errorf("registry_service: stake: %w", err)
	}

	if err := s.persistAgent(ctx, agent); err != nil {
		return agent, err
	}

	publishEvents(ctx, s.bus, s.logger, events)
	return agent, nil
}

// Unstake withdraws part of the caller's stake, never below the minimum.
func (s *RegistryService) Unstake(ctx context.Context, caller string, amount *big.Int) (domain.RegisteredAgent, error) {
	agent, events, err := s.engine.Unstake(caller, amount)
	if err != nil {
		return domain.RegisteredAgent{}, fmt.Errorf("registry_service: unstake: %w", err)
	}

	if err := s.persistAgent(ctx, agent); err != nil {
		return agent, err
	}

	publishEvents(ctx, s.bus, s.logger, events)
	return agent, nil
}

// RecordPerformance appends a performance report and adjusts the agent's
// reputation.
func (s *RegistryService) RecordPerformance(ctx context.Context, caller, agentAddr string, pnl, sharpeScaled, maxDrawdownBps int64, totalTrades uint64) (domain.RegisteredAgent, error) {
	agent, events, err := s.engine.RecordPerformance(caller, agentAddr, pnl, sharpeScaled, maxDrawdownBps, totalTrades)
	if err != nil {
		return domain.RegisteredAgent{}, fmt.Errorf("registry_service: record performance: %w", err)
	}

	if err := s.persistAgent(ctx, agent); err != nil {
		return agent, err
	}
	if s.agents != nil {
		snaps, perr := s.engine.Performance(agent.Address)
		if perr == nil && len(snaps) > 0 {
			latest := snaps[len(snaps)-1]
			if err := s.agents.AppendSnapshot(ctx, agent.Address, latest); err != nil {
				return agent, fmt.Errorf("registry_service: persist snapshot: %w", err)
			}
		}
	}

	publishEvents(ctx, s.bus, s.logger, events)
	auditLog(ctx, s.audit, s.logger, "registry.performance_recorded", map[string]any{
		"agent":      agent.Address,
		"pnl":        pnl,
		"reputation": agent.ReputationScore,
	})

	s.logger.InfoContext(ctx, "registry_service: performance recorded",
		slog.String("agent", agent.Address),
		slog.Int64("reputation", agent.ReputationScore),
	)
	return agent, nil
}

// VerifyAgent marks an agent as verified by the authority.
func (s *RegistryService) VerifyAgent(ctx context.Context, caller, agentAddr string) (domain.RegisteredAgent, error) {
	agent, events, err := s.engine.VerifyAgent(caller, agentAddr)
	if err != nil {
		return domain.RegisteredAgent{}, fmt.Errorf("registry_service: verify agent: %w", err)
	}

	if err := s.persistAgent(ctx, agent); err != nil {
		return agent, err
	}

	publishEvents(ctx, s.bus, s.logger, events)
	auditLog(ctx, s.audit, s.logger, "registry.agent_verified", map[string]any{
		"agent": agent.Address,
	})
	return agent, nil
}

// UpdateReputation sets an agent's reputation directly, bounds-checked.
func (s *RegistryService) UpdateReputation(ctx context.Context, caller, agentAddr string, score int64) (domain.RegisteredAgent, error) {
	agent, events, err := s.engine.UpdateReputation(caller, agentAddr, score)
	if err != nil {
		return domain.RegisteredAgent{}, fmt.Errorf("registry_service: update reputation: %w", err)
	}

	if err := s.persistAgent(ctx, agent); err != nil {
		return agent, err
	}

	publishEvents(ctx, s.bus, s.logger, events)
	auditLog(ctx, s.audit, s.logger, "registry.reputation_updated", map[string]any{
		"agent": agent.Address,
		"score": score,
	})
	return agent, nil
}

// TopAgents returns the n highest-reputation agents.
func (s *RegistryService) TopAgents(_ context.Context, n int) []domain.RegisteredAgent {
	return s.engine.TopAgents(n)
}

// Agent returns one registered agent by address.
func (s *RegistryService) Agent(_ context.Context, addr string) (domain.RegisteredAgent, error) {
	agent, err := s.engine.Agent(addr)
	if err != nil {
		return domain.RegisteredAgent{}, fmt.Errorf("registry_service: get agent %s: %w", addr, err)
	}
	return agent, nil
}

// Agents returns all registered agents in registration order.
func (s *RegistryService) Agents(_ context.Context) []domain.RegisteredAgent {
	return s.engine.Agents()
}

// Performance returns the agent's performance history in report order.
func (s *RegistryService) Performance(_ context.Context, addr string) ([]domain.PerformanceSnapshot, error) {
	snaps, err := s.engine.Performance(addr)
	if err != nil {
		return nil, fmt.Errorf("registry_service: performance %s: %w", addr, err)
	}
	return snaps, nil
}

func (s *RegistryService) persistAgent(ctx context.Context, agent domain.RegisteredAgent) error {
	if s.agents == nil {
		return nil
	}
	if err := s.agents.Upsert(ctx, agent); err != nil {
		return fmt.Errorf("registry_service: persist agent: %w", err)
	}
	return nil
}
