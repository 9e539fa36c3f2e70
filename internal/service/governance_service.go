package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantdao/ledgerd/internal/domain"
	"github.com/quantdao/ledgerd/internal/governance"
)

// GovernanceService fronts the governance engine: it applies operations,
// writes the affected rows through to Postgres, and publishes the resulting
// events.
type GovernanceService struct {
	engine    *governance.Engine
	proposals domain.ProposalStore
	accounts  domain.VotingAccountStore
	bus       domain.SignalBus
	audit     domain.AuditStore
	logger    *slog.Logger
}

// NewGovernanceService creates a GovernanceService with all required
// dependencies. Stores, bus, and audit may be nil in replay mode.
func NewGovernanceService(
	engine *governance.Engine,
	proposals domain.ProposalStore,
	accounts domain.VotingAccountStore,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *GovernanceService {
	return &GovernanceService{
		engine:    engine,
		proposals: proposals,
		accounts:  accounts,
		bus:       bus,
		audit:     audit,
		logger:    logger,
	}
}

// Engine exposes the underlying engine for authorization lookups by the
// treasury service.
func (s *GovernanceService) Engine() *governance.Engine {
	return s.engine
}

// GrantVotingPower credits voting power to an account.
func (s *GovernanceService) GrantVotingPower(ctx context.Context, caller, account string, amount uint64) (domain.VotingAccount, error) {
	acct, events, err := s.engine.GrantVotingPower(caller, account, amount)
	if err != nil {
		return domain.VotingAccount{}, fmt.Errorf("governance_service: grant voting power: %w", err)
	}

	if s.accounts != nil {
		if err := s.accounts.Upsert(ctx, acct); err != nil {
			return acct, fmt.Errorf("governance_service: persist account: %w", err)
		}
	}

	publishEvents(ctx, s.bus, s.logger, events)
	auditLog(ctx, s.audit, s.logger, "governance.power_granted", map[string]any{
		"account": acct.Address,
		"amount":  amount,
		"power":   acct.Power,
	})

	s.logger.InfoContext(ctx, "governance_service: voting power granted",
		slog.String("account", acct.Address),
		slog.Uint64("power", acct.Power),
	)
	return acct, nil
}

// Propose creates a new proposal.
func (s *GovernanceService) Propose(ctx context.Context, caller, description string, kind domain.ProposalKind, payload []byte) (domain.Proposal, error) {
	prop, events, err := s.engine.Propose(caller, description, kind, payload)
	if err != nil {
		return domain.Proposal{}, fmt.Errorf("governance_service: propose: %w", err)
	}

	if s.proposals != nil {
		if err := s.proposals.Upsert(ctx, prop); err != nil {
			return prop, fmt.Errorf("governance_service: persist proposal: %w", err)
		}
	}

	publishEvents(ctx, s.bus, s.logger, events)
	auditLog(ctx, s.audit, s.logger, "governance.proposal_created", map[string]any{
		"proposal_id": prop.ID,
		"proposer":    prop.Proposer,
		"kind":        string(prop.Kind),
	})

	s.logger.InfoContext(ctx, "governance_service: proposal created",
		slog.Uint64("proposal_id", prop.ID),
		slog.String("kind", string(prop.Kind)),
	)
	return prop, nil
}

// CastVote records a vote on an active proposal.
func (s *GovernanceService) CastVote(ctx context.Context, caller string, proposalID uint64, support bool) (domain.Proposal, error) {
	prop, events, err := s.engine.CastVote(caller, proposalID, support)
	if err != nil {
		return domain.Proposal{}, fmt.Errorf("governance_service: cast vote: %w", err)
	}

	if s.proposals != nil {
		if err := s.proposals.Upsert(ctx, prop); err != nil {
			return prop, fmt.Errorf("governance_service: persist proposal: %w", err)
		}
	}

	publishEvents(ctx, s.bus, s.logger, events)
	return prop, nil
}

// Execute finalizes a passed proposal and returns its authorization.
func (s *GovernanceService) Execute(ctx context.Context, proposalID uint64) (domain.Authorization, error) {
	auth, events, err := s.engine.Execute(proposalID)
	if err != nil {
		return domain.Authorization{}, fmt.Errorf("governance_service: execute: %w", err)
	}

	if s.proposals != nil {
		prop, perr := s.engine.Proposal(proposalID)
		if perr == nil {
			if err := s.proposals.Upsert(ctx, prop); err != nil {
				return auth, fmt.Errorf("governance_service: persist proposal: %w", err)
			}
		}
	}

	publishEvents(ctx, s.bus, s.logger, events)
	auditLog(ctx, s.audit, s.logger, "governance.proposal_executed", map[string]any{
		"proposal_id": auth.ProposalID,
		"kind":        string(auth.Kind),
	})

	s.logger.InfoContext(ctx, "governance_service: proposal executed",
		slog.Uint64("proposal_id", auth.ProposalID),
		slog.String("kind", string(auth.Kind)),
	)
	return auth, nil
}

// Cancel aborts an unfinished proposal.
func (s *GovernanceService) Cancel(ctx context.Context, caller string, proposalID uint64) (domain.Proposal, error) {
	prop, events, err := s.engine.Cancel(caller, proposalID)
	if err != nil {
		return domain.Proposal{}, fmt.Errorf("governance_service: cancel: %w", err)
	}

	if s.proposals != nil {
		if err := s.proposals.Upsert(ctx, prop); err != nil {
			return prop, fmt.Errorf("governance_service: persist proposal: %w", err)
		}
	}

	publishEvents(ctx, s.bus, s.logger, events)
	auditLog(ctx, s.audit, s.logger, "governance.proposal_canceled", map[string]any{
		"proposal_id": prop.ID,
	})
	return prop, nil
}

// SetVotingPeriod updates the voting window for future proposals.
func (s *GovernanceService) SetVotingPeriod(ctx context.Context, caller string, period time.Duration) error {
	if err := s.engine.SetVotingPeriod(caller, period); err != nil {
		return fmt.Errorf("governance_service: set voting period: %w", err)
	}
	auditLog(ctx, s.audit, s.logger, "governance.voting_period_set", map[string]any{
		"period": period.String(),
	})
	return nil
}

// SetQuorumPercent updates the quorum requirement for future executions.
func (s *GovernanceService) SetQuorumPercent(ctx context.Context, caller string, quorum uint64) error {
	if err := s.engine.SetQuorumPercent(caller, quorum); err != nil {
		return fmt.Errorf("governance_service: set quorum: %w", err)
	}
	auditLog(ctx, s.audit, s.logger, "governance.quorum_set", map[string]any{
		"quorum_percent": quorum,
	})
	return nil
}

// Proposal returns one proposal by id.
func (s *GovernanceService) Proposal(_ context.Context, id uint64) (domain.Proposal, error) {
	prop, err := s.engine.Proposal(id)
	if err != nil {
		return domain.Proposal{}, fmt.Errorf("governance_service: get proposal %d: %w", id, err)
	}
	return prop, nil
}

// Proposals returns all proposals in id order.
func (s *GovernanceService) Proposals(_ context.Context) []domain.Proposal {
	return s.engine.Proposals()
}

// Account returns the voting account for an address.
func (s *GovernanceService) Account(_ context.Context, addr string) domain.VotingAccount {
	return s.engine.Account(addr)
}

// TotalVotingPower returns the sum of all granted power.
func (s *GovernanceService) TotalVotingPower(_ context.Context) uint64 {
	return s.engine.TotalVotingPower()
}
