// Package governance implements the voting component of the ledger engine:
// weighted voting accounts, proposals with a fixed voting window, and
// quorum-plus-majority execution. Execution produces an Authorization that
// treasury and registry verify before applying privileged changes; the
// engine never calls into other components.
package governance

import (
	"fmt"
	"sync"
	"time"

	"github.com/quantdao/ledgerd/internal/chainutil"
	"github.com/quantdao/ledgerd/internal/domain"
)

// Voting period bounds enforced on SetVotingPeriod.
const (
	MinVotingPeriod = 24 * time.Hour
	MaxVotingPeriod = 7 * 24 * time.Hour
)

// Config holds the governance parameters fixed at construction. Admin is the
// only account allowed to grant voting power, adjust parameters, or cancel
// another proposer's proposal.
type Config struct {
	Admin             string
	ProposalThreshold uint64
	VotingPeriod      time.Duration
	QuorumPercent     uint64
}

// Engine is the governance state machine. All state lives in memory behind a
// single mutex; every public operation validates fully before mutating, so a
// failed call leaves state untouched. The clock is injected for determinism.
type Engine struct {
	mu  sync.Mutex
	now func() time.Time

	admin             string
	proposalThreshold uint64
	votingPeriod      time.Duration
	quorumPercent     uint64

	accounts     map[string]uint64
	accountOrder []string
	totalPower   uint64

	proposals     map[uint64]*domain.Proposal
	proposalOrder []uint64
	nextID        uint64
}

// New creates a governance Engine from cfg. The admin address is normalized;
// quorum must be in (0,100] and the voting period within bounds.
func New(cfg Config, now func() time.Time) (*Engine, error) {
	admin, err := chainutil.NormalizeAddress(cfg.Admin)
	if err != nil {
		return nil, fmt.Errorf("governance: admin: %w", err)
	}
	if cfg.QuorumPercent == 0 || cfg.QuorumPercent > 100 {
		return nil, fmt.Errorf("governance: quorum %d: %w", cfg.QuorumPercent, domain.ErrOutOfBounds)
	}
	if cfg.VotingPeriod < MinVotingPeriod || cfg.VotingPeriod > MaxVotingPeriod {
		return nil, fmt.Errorf("governance: voting period %s: %w", cfg.VotingPeriod, domain.ErrOutOfBounds)
	}
	if now == nil {
		now = time.Now
	}
	return &Engine{
		now:               now,
		admin:             admin,
		proposalThreshold: cfg.ProposalThreshold,
		votingPeriod:      cfg.VotingPeriod,
		quorumPercent:     cfg.QuorumPercent,
		accounts:          make(map[string]uint64),
		proposals:         make(map[uint64]*domain.Proposal),
		nextID:            1,
	}, nil
}

// GrantVotingPower increases account's power by amount. Admin only. Power
// has no upper bound; it only ever increases through grants.
func (e *Engine) GrantVotingPower(caller, account string, amount uint64) (domain.VotingAccount, []domain.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAdmin(caller); err != nil {
		return domain.VotingAccount{}, nil, err
	}
	addr, err := chainutil.NormalizeAddress(account)
	if err != nil {
		return domain.VotingAccount{}, nil, err
	}
	if amount == 0 {
		return domain.VotingAccount{}, nil, fmt.Errorf("governance: grant zero power: %w", domain.ErrInsufficient)
	}

	if _, ok := e.accounts[addr]; !ok {
		e.accountOrder = append(e.accountOrder, addr)
	}
	e.accounts[addr] += amount
	e.totalPower += amount

	acct := domain.VotingAccount{Address: addr, Power: e.accounts[addr]}
	evt := domain.NewEvent(domain.ChannelGovernance, domain.EventVotingPowerGranted, e.now(), map[string]any{
		"account": addr,
		"amount":  amount,
		"power":   acct.Power,
		"total":   e.totalPower,
	})
	return acct, []domain.Event{evt}, nil
}

// Propose creates a proposal with a voting window starting immediately.
// The caller must hold at least the proposal threshold of voting power.
func (e *Engine) Propose(caller, description string, kind domain.ProposalKind, payload []byte) (domain.Proposal, []domain.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	addr, err := chainutil.NormalizeAddress(caller)
	if err != nil {
		return domain.Proposal{}, nil, err
	}
	if e.accounts[addr] < e.proposalThreshold {
		return domain.Proposal{}, nil, fmt.Errorf(
			"governance: proposer power %d below threshold %d: %w",
			e.accounts[addr], e.proposalThreshold, domain.ErrInsufficient)
	}

	now := e.now()
	p := &domain.Proposal{
		ID:          e.nextID,
		Proposer:    addr,
		Description: description,
		Kind:        kind,
		Payload:     append([]byte(nil), payload...),
		StartTime:   now,
		EndTime:     now.Add(e.votingPeriod),
	}
	e.proposals[p.ID] = p
	e.proposalOrder = append(e.proposalOrder, p.ID)
	e.nextID++

	evt := domain.NewEvent(domain.ChannelGovernance, domain.EventProposalCreated, now, map[string]any{
		"proposal_id": p.ID,
		"proposer":    p.Proposer,
		"kind":        string(p.Kind),
		"end_time":    p.EndTime.Format(time.RFC3339),
	})
	return *p, []domain.Event{evt}, nil
}

// CastVote adds the caller's full voting power to the for or against tally.
// A voter may vote at most once per proposal, only inside the voting window,
// and only with non-zero power.
func (e *Engine) CastVote(caller string, proposalID uint64, support bool) (domain.Proposal, []domain.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	addr, err := chainutil.NormalizeAddress(caller)
	if err != nil {
		return domain.Proposal{}, nil, err
	}
	p, ok := e.proposals[proposalID]
	if !ok {
		return domain.Proposal{}, nil, fmt.Errorf("governance: proposal %d: %w", proposalID, domain.ErrNotFound)
	}
	if p.Canceled || p.Executed {
		return domain.Proposal{}, nil, fmt.Errorf("governance: proposal %d is terminal: %w", proposalID, domain.ErrInvalidState)
	}
	now := e.now()
	if now.Before(p.StartTime) || now.After(p.EndTime) {
		return domain.Proposal{}, nil, fmt.Errorf("governance: proposal %d voting window closed: %w", proposalID, domain.ErrInvalidState)
	}
	if p.HasVoted(addr) {
		return domain.Proposal{}, nil, fmt.Errorf("governance: %s already voted on %d: %w", addr, proposalID, domain.ErrInvalidState)
	}
	power := e.accounts[addr]
	if power == 0 {
		return domain.Proposal{}, nil, fmt.Errorf("governance: %s has no voting power: %w", addr, domain.ErrInsufficient)
	}

	if support {
		p.ForVotes += power
	} else {
		p.AgainstVotes += power
	}
	p.Voters = append(p.Voters, addr)

	evt := domain.NewEvent(domain.ChannelGovernance, domain.EventVoteCast, now, map[string]any{
		"proposal_id": p.ID,
		"voter":       addr,
		"support":     support,
		"weight":      power,
	})
	return *p, []domain.Event{evt}, nil
}

// Execute finalizes a passed proposal once its voting window has closed.
// Callable by anyone. Requires a strict for-majority and participation of at
// least quorumPercent of total voting power. Marks the proposal executed;
// the resulting Authorization is what treasury and registry verify.
func (e *Engine) Execute(proposalID uint64) (domain.Authorization, []domain.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.proposals[proposalID]
	if !ok {
		return domain.Authorization{}, nil, fmt.Errorf("governance: proposal %d: %w", proposalID, domain.ErrNotFound)
	}
	if p.Executed || p.Canceled {
		return domain.Authorization{}, nil, fmt.Errorf("governance: proposal %d is terminal: %w", proposalID, domain.ErrInvalidState)
	}
	now := e.now()
	if !now.After(p.EndTime) {
		return domain.Authorization{}, nil, fmt.Errorf("governance: proposal %d voting still open: %w", proposalID, domain.ErrInvalidState)
	}
	if p.ForVotes <= p.AgainstVotes {
		return domain.Authorization{}, nil, fmt.Errorf("governance: proposal %d did not pass: %w", proposalID, domain.ErrInvalidState)
	}
	// Quorum check in integer arithmetic: votes*100 >= totalPower*quorum.
	if (p.ForVotes+p.AgainstVotes)*100 < e.totalPower*e.quorumPercent {
		return domain.Authorization{}, nil, fmt.Errorf("governance: proposal %d quorum not met: %w", proposalID, domain.ErrInvalidState)
	}

	p.Executed = true

	auth := domain.Authorization{
		ProposalID: p.ID,
		Kind:       p.Kind,
		Payload:    append([]byte(nil), p.Payload...),
		ExecutedAt: now,
	}
	evt := domain.NewEvent(domain.ChannelGovernance, domain.EventProposalExecuted, now, map[string]any{
		"proposal_id":   p.ID,
		"kind":          string(p.Kind),
		"for_votes":     p.ForVotes,
		"against_votes": p.AgainstVotes,
	})
	return auth, []domain.Event{evt}, nil
}

// Cancel terminates a proposal before its window closes. Only the proposer
// or the admin may cancel, and never after execution.
func (e *Engine) Cancel(caller string, proposalID uint64) (domain.Proposal, []domain.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	addr, err := chainutil.NormalizeAddress(caller)
	if err != nil {
		return domain.Proposal{}, nil, err
	}
	p, ok := e.proposals[proposalID]
	if !ok {
		return domain.Proposal{}, nil, fmt.Errorf("governance: proposal %d: %w", proposalID, domain.ErrNotFound)
	}
	if p.Executed || p.Canceled {
		return domain.Proposal{}, nil, fmt.Errorf("governance: proposal %d is terminal: %w", proposalID, domain.ErrInvalidState)
	}
	if addr != p.Proposer && addr != e.admin {
		return domain.Proposal{}, nil, fmt.Errorf("governance: %s cannot cancel proposal %d: %w", addr, proposalID, domain.ErrUnauthorized)
	}
	now := e.now()
	if now.After(p.EndTime) {
		return domain.Proposal{}, nil, fmt.Errorf("governance: proposal %d voting window closed: %w", proposalID, domain.ErrInvalidState)
	}

	p.Canceled = true

	evt := domain.NewEvent(domain.ChannelGovernance, domain.EventProposalCanceled, now, map[string]any{
		"proposal_id": p.ID,
		"canceled_by": addr,
	})
	return *p, []domain.Event{evt}, nil
}

// SetVotingPeriod changes the window length for future proposals. Admin
// only; bounded to [1,7] days. Existing proposals keep their window.
func (e *Engine) SetVotingPeriod(caller string, period time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if period < MinVotingPeriod || period > MaxVotingPeriod {
		return fmt.Errorf("governance: voting period %s: %w", period, domain.ErrOutOfBounds)
	}
	e.votingPeriod = period
	return nil
}

// SetQuorumPercent changes the participation requirement for future
// executions. Admin only; must be in (0,100].
func (e *Engine) SetQuorumPercent(caller string, quorum uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if quorum == 0 || quorum > 100 {
		return fmt.Errorf("governance: quorum %d: %w", quorum, domain.ErrOutOfBounds)
	}
	e.quorumPercent = quorum
	return nil
}

// Authorization returns proof that the given proposal was executed, for
// treasury and registry to verify before applying a privileged change. It
// fails with ErrInvalidState if the proposal is not executed.
func (e *Engine) Authorization(proposalID uint64) (domain.Authorization, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.proposals[proposalID]
	if !ok {
		return domain.Authorization{}, fmt.Errorf("governance: proposal %d: %w", proposalID, domain.ErrNotFound)
	}
	if !p.Executed {
		return domain.Authorization{}, fmt.Errorf("governance: proposal %d not executed: %w", proposalID, domain.ErrInvalidState)
	}
	return domain.Authorization{
		ProposalID: p.ID,
		Kind:       p.Kind,
		Payload:    append([]byte(nil), p.Payload...),
	}, nil
}

// Proposal returns a copy of the proposal with the given id.
func (e *Engine) Proposal(id uint64) (domain.Proposal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.proposals[id]
	if !ok {
		return domain.Proposal{}, fmt.Errorf("governance: proposal %d: %w", id, domain.ErrNotFound)
	}
	return *p, nil
}

// Proposals returns copies of all proposals in creation order.
func (e *Engine) Proposals() []domain.Proposal {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]domain.Proposal, 0, len(e.proposalOrder))
	for _, id := range e.proposalOrder {
		out = append(out, *e.proposals[id])
	}
	return out
}

// Account returns the voting account for addr. Unknown addresses report
// zero power.
func (e *Engine) Account(addr string) domain.VotingAccount {
	e.mu.Lock()
	defer e.mu.Unlock()

	norm, err := chainutil.NormalizeAddress(addr)
	if err != nil {
		return domain.VotingAccount{Address: addr}
	}
	return domain.VotingAccount{Address: norm, Power: e.accounts[norm]}
}

// TotalVotingPower returns the sum of all accounts' power.
func (e *Engine) TotalVotingPower() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalPower
}

func (e *Engine) requireAdmin(caller string) error {
	addr, err := chainutil.NormalizeAddress(caller)
	if err != nil {
		return err
	}
	if addr != e.admin {
		return fmt.Errorf("governance: %s is not admin: %w", addr, domain.ErrUnauthorized)
	}
	return nil
}
