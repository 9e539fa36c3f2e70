// Package registry implements staked agent registration and stake-weighted
// reputation tracking. Operators register with a refundable stake; reported
// performance snapshots accumulate into a bounded reputation score via an
// explicit, order-dependent delta formula, so replaying the same snapshot
// sequence always reproduces the same score.
package registry

import (
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/quantdao/ledgerd/internal/chainutil"
	"github.com/quantdao/ledgerd/internal/domain"
)

// Reputation delta thresholds. A Sharpe ratio above 1.5 (scaled by 1000)
// earns a bonus; a drawdown worse than 20% costs a penalty.
const (
	sharpeBonusThreshold     = 1500
	sharpeBonus              = 10
	drawdownPenaltyThreshold = 2000
	drawdownPenalty          = 20

	// pnlScaleDivisor converts reported pnl into reputation points.
	pnlScaleDivisor = 100
)

// Config holds the registry parameters fixed at construction. Authority is
// the single address allowed to record performance and apply governance
// overrides (verify, reputation set); it is the account that presents
// executed governance decisions to this component.
type Config struct {
	Authority string
	MinStake  *big.Int
}

type registered struct {
	agent     domain.RegisteredAgent
	snapshots []domain.PerformanceSnapshot
}

// Engine is the registry state machine.
type Engine struct {
	mu  sync.Mutex
	now func() time.Time

	authority string
	minStake  *big.Int

	agents map[string]*registered
	order  []string // insertion order, the deterministic sort tie-break
}

// New creates a registry Engine. MinStake must be positive.
func New(cfg Config, now func() time.Time) (*Engine, error) {
	authority, err := chainutil.NormalizeAddress(cfg.Authority)
	if err != nil {
		return nil, fmt.Errorf("registry: authority: %w", err)
	}
	if cfg.MinStake == nil || cfg.MinStake.Sign() <= 0 {
		return nil, fmt.Errorf("registry: min stake must be positive: %w", domain.ErrOutOfBounds)
	}
	if now == nil {
		now = time.Now
	}
	return &Engine{
		now:       now,
		authority: authority,
		minStake:  new(big.Int).Set(cfg.MinStake),
		agents:    make(map[string]*registered),
	}, nil
}

// Register creates a registry entry for the caller with the attached stake.
// The stake must meet the minimum and the address must not already be
// registered.
func (e *Engine) Register(caller, name, strategyDescription, modelReference string, stake *big.Int) (domain.RegisteredAgent, []domain.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	addr, err := chainutil.NormalizeAddress(caller)
	if err != nil {
		return domain.RegisteredAgent{}, nil, err
	}
	if _, ok := e.agents[addr]; ok {
		return domain.RegisteredAgent{}, nil, fmt.Errorf("registry: %s: %w", addr, domain.ErrAlreadyExists)
	}
	if stake == nil || stake.Cmp(e.minStake) < 0 {
		return domain.RegisteredAgent{}, nil, fmt.Errorf("registry: stake below minimum %s: %w", e.minStake, domain.ErrInsufficient)
	}

	now := e.now()
	r := &registered{agent: domain.RegisteredAgent{
		Address:             addr,
		Name:                name,
		StrategyDescription: strategyDescription,
		ModelReference:      modelReference,
		StakedAmount:        new(big.Int).Set(stake),
		ReputationScore:     domain.InitialReputation,
		RegisteredAt:        now,
	}}
	e.agents[addr] = r
	e.order = append(e.order, addr)

	events := []domain.Event{
		domain.NewEvent(domain.ChannelRegistry, domain.EventAgentRegistered, now, map[string]any{
			"address": addr,
			"name":    name,
		}),
		domain.NewEvent(domain.ChannelRegistry, domain.EventAgentStaked, now, map[string]any{
			"address": addr,
			"amount":  stake.String(),
			"staked":  r.agent.StakedAmount.String(),
		}),
	}
	return cloneAgent(r), events, nil
}

// Stake adds to the caller's staked amount.
func (e *Engine) Stake(caller string, amount *big.Int) (domain.RegisteredAgent, []domain.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, addr, err := e.lookup(caller)
	if err != nil {
		return domain.RegisteredAgent{}, nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return domain.RegisteredAgent{}, nil, fmt.Errorf("registry: zero stake: %w", domain.ErrInsufficient)
	}

	r.agent.StakedAmount = new(big.Int).Add(r.agent.StakedAmount, amount)

	evt := domain.NewEvent(domain.ChannelRegistry, domain.EventAgentStaked, e.now(), map[string]any{
		"address": addr,
		"amount":  amount.String(),
		"staked":  r.agent.StakedAmount.String(),
	})
	return cloneAgent(r), []domain.Event{evt}, nil
}

// Unstake withdraws part of the caller's stake. The remaining stake may not
// drop below the minimum, and zero-amount withdrawals are rejected.
func (e *Engine) Unstake(caller string, amount *big.Int) (domain.RegisteredAgent, []domain.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, addr, err := e.lookup(caller)
	if err != nil {
		return domain.RegisteredAgent{}, nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return domain.RegisteredAgent{}, nil, fmt.Errorf("registry: zero unstake: %w", domain.ErrInsufficient)
	}
	remaining := new(big.Int).Sub(r.agent.StakedAmount, amount)
	if remaining.Cmp(e.minStake) < 0 {
		return domain.RegisteredAgent{}, nil, fmt.Errorf("registry: unstake would drop below minimum %s: %w", e.minStake, domain.ErrInvalidState)
	}

	r.agent.StakedAmount = remaining

	evt := domain.NewEvent(domain.ChannelRegistry, domain.EventAgentUnstaked, e.now(), map[string]any{
		"address": addr,
		"amount":  amount.String(),
		"staked":  r.agent.StakedAmount.String(),
	})
	return cloneAgent(r), []domain.Event{evt}, nil
}

// RecordPerformance appends a performance snapshot and recomputes the
// agent's reputation. Authority only. The delta is additive and clamped:
//
//	delta = pnl/100 + (10 if sharpe > 1500) - (20 if drawdown > 2000)
//	score = clamp(score + delta, 0, 1000)
//
// The accumulation is deliberately order-dependent near the clamp bounds;
// replicas must apply snapshots in ledger order.
func (e *Engine) RecordPerformance(caller, agentAddr string, pnl, sharpeScaled, maxDrawdownBps int64, totalTrades uint64) (domain.RegisteredAgent, []domain.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAuthority(caller); err != nil {
		return domain.RegisteredAgent{}, nil, err
	}
	r, addr, err := e.lookup(agentAddr)
	if err != nil {
		return domain.RegisteredAgent{}, nil, err
	}

	now := e.now()
	snap := domain.PerformanceSnapshot{
		Timestamp:         now,
		Pnl:               pnl,
		SharpeRatioScaled: sharpeScaled,
		MaxDrawdownBps:    maxDrawdownBps,
		TotalTrades:       totalTrades,
	}
	r.snapshots = append(r.snapshots, snap)

	delta := pnl / pnlScaleDivisor
	if sharpeScaled > sharpeBonusThreshold {
		delta += sharpeBonus
	}
	if maxDrawdownBps > drawdownPenaltyThreshold {
		delta -= drawdownPenalty
	}
	r.agent.ReputationScore = clampReputation(r.agent.ReputationScore + delta)

	events := []domain.Event{
		domain.NewEvent(domain.ChannelRegistry, domain.EventPerformanceRecorded, now, map[string]any{
			"address":       addr,
			"pnl":           pnl,
			"sharpe_scaled": sharpeScaled,
			"drawdown_bps":  maxDrawdownBps,
		}),
		domain.NewEvent(domain.ChannelRegistry, domain.EventReputationUpdated, now, map[string]any{
			"address": addr,
			"score":   r.agent.ReputationScore,
		}),
	}
	return cloneAgent(r), events, nil
}

// VerifyAgent marks an agent as verified. Authority only.
func (e *Engine) VerifyAgent(caller, agentAddr string) (domain.RegisteredAgent, []domain.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAuthority(caller); err != nil {
		return domain.RegisteredAgent{}, nil, err
	}
	r, addr, err := e.lookup(agentAddr)
	if err != nil {
		return domain.RegisteredAgent{}, nil, err
	}

	r.agent.IsVerified = true

	evt := domain.NewEvent(domain.ChannelRegistry, domain.EventAgentVerified, e.now(), map[string]any{
		"address": addr,
	})
	return cloneAgent(r), []domain.Event{evt}, nil
}

// UpdateReputation sets an agent's reputation directly. Authority only; the
// score must already be within bounds.
func (e *Engine) UpdateReputation(caller, agentAddr string, score int64) (domain.RegisteredAgent, []domain.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAuthority(caller); err != nil {
		return domain.RegisteredAgent{}, nil, err
	}
	r, addr, err := e.lookup(agentAddr)
	if err != nil {
		return domain.RegisteredAgent{}, nil, err
	}
	if score < 0 || score > domain.MaxReputation {
		return domain.RegisteredAgent{}, nil, fmt.Errorf("registry: reputation %d: %w", score, domain.ErrOutOfBounds)
	}

	r.agent.ReputationScore = score

	evt := domain.NewEvent(domain.ChannelRegistry, domain.EventReputationUpdated, e.now(), map[string]any{
		"address": addr,
		"score":   score,
	})
	return cloneAgent(r), []domain.Event{evt}, nil
}

// TopAgents returns the n highest-reputation agents. The sort is stable
// with registration order as the tie-break, so every replica returns the
// same ranking.
func (e *Engine) TopAgents(n int) []domain.RegisteredAgent {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]domain.RegisteredAgent, 0, len(e.order))
	for _, addr := range e.order {
		out = append(out, cloneAgent(e.agents[addr]))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ReputationScore > out[j].ReputationScore
	})
	if n >= 0 && n < len(out) {
		out = out[:n]
	}
	return out
}

// Agent returns a copy of the registered agent for addr.
func (e *Engine) Agent(addr string) (domain.RegisteredAgent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, _, err := e.lookup(addr)
	if err != nil {
		return domain.RegisteredAgent{}, err
	}
	return cloneAgent(r), nil
}

// Agents returns copies of all registered agents in registration order.
func (e *Engine) Agents() []domain.RegisteredAgent {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]domain.RegisteredAgent, 0, len(e.order))
	for _, addr := range e.order {
		out = append(out, cloneAgent(e.agents[addr]))
	}
	return out
}

// Performance returns the agent's append-only snapshot history in record
// order.
func (e *Engine) Performance(addr string) ([]domain.PerformanceSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, _, err := e.lookup(addr)
	if err != nil {
		return nil, err
	}
	return append([]domain.PerformanceSnapshot(nil), r.snapshots...), nil
}

func (e *Engine) lookup(addr string) (*registered, string, error) {
	norm, err := chainutil.NormalizeAddress(addr)
	if err != nil {
		return nil, "", err
	}
	r, ok := e.agents[norm]
	if !ok {
		return nil, "", fmt.Errorf("registry: %s: %w", norm, domain.ErrNotFound)
	}
	return r, norm, nil
}

func (e *Engine) requireAuthority(caller string) error {
	addr, err := chainutil.NormalizeAddress(caller)
	if err != nil {
		return err
	}
	if addr != e.authority {
		return fmt.Errorf("registry: %s is not the authority: %w", addr, domain.ErrUnauthorized)
	}
	return nil
}

func clampReputation(score int64) int64 {
	if score < 0 {
		return 0
	}
	if score > domain.MaxReputation {
		return domain.MaxReputation
	}
	return score
}

func cloneAgent(r *registered) domain.RegisteredAgent {
	a := r.agent
	a.StakedAmount = new(big.Int).Set(r.agent.StakedAmount)
	return a
}
