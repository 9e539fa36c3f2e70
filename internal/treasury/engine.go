// Package treasury implements the share-based pooled fund: proportional
// share mint/burn on deposit and withdrawal, per-agent capital allocation,
// realized trade P&L applied fund-wide, and time-weighted management plus
// performance fees. Privileged agent changes require a governance
// Authorization presented by the caller; the treasury never calls into
// governance beyond the read-only Authorizer interface.
package treasury

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/quantdao/ledgerd/internal/chainutil"
	"github.com/quantdao/ledgerd/internal/domain"
)

const secondsPerYear = 365 * 24 * 3600

// sharePriceScale is the fixed-point scale for SharePrice: a price of
// 1e18 means one share redeems exactly one asset unit.
var sharePriceScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Authorizer is the read-only view of governance the treasury trusts. An
// Authorization proves a specific proposal id was executed; each id is
// consumable exactly once per component.
type Authorizer interface {
	Authorization(proposalID uint64) (domain.Authorization, error)
}

// Config holds the treasury parameters fixed at construction.
type Config struct {
	Admin             string
	Reporter          string
	ManagementFeeBps  uint64 // annual, pro-rated by holding time on withdrawal
	PerformanceFeeBps uint64 // skimmed from profit above the fee baseline
}

// Engine is the treasury state machine. Amounts, shares, and assets are
// big integers in the fund's smallest unit. All mutations validate fully
// before touching state.
type Engine struct {
	mu  sync.Mutex
	now func() time.Time

	admin             string
	reporter          string
	managementFeeBps  uint64
	performanceFeeBps uint64

	auth     Authorizer
	consumed map[uint64]bool // proposal ids already spent on this component

	totalAssets   *big.Int
	totalShares   *big.Int
	feeBaseline   *big.Int
	emergencyStop bool

	agents     map[uint64]*domain.Agent
	agentOrder []uint64
	nextAgent  uint64

	positions     map[string]*domain.InvestorPosition
	positionOrder []string
}

// New creates a treasury Engine. The performance fee may not exceed 100%
// and the management fee is capped at 10%/yr.
func New(cfg Config, auth Authorizer, now func() time.Time) (*Engine, error) {
	admin, err := chainutil.NormalizeAddress(cfg.Admin)
	if err != nil {
		return nil, fmt.Errorf("treasury: admin: %w", err)
	}
	reporter, err := chainutil.NormalizeAddress(cfg.Reporter)
	if err != nil {
		return nil, fmt.Errorf("treasury: reporter: %w", err)
	}
	if cfg.ManagementFeeBps > 1000 {
		return nil, fmt.Errorf("treasury: management fee %d bps: %w", cfg.ManagementFeeBps, domain.ErrOutOfBounds)
	}
	if cfg.PerformanceFeeBps > domain.MaxAllocationBps {
		return nil, fmt.Errorf("treasury: performance fee %d bps: %w", cfg.PerformanceFeeBps, domain.ErrOutOfBounds)
	}
	if auth == nil {
		return nil, fmt.Errorf("treasury: nil authorizer")
	}
	if now == nil {
		now = time.Now
	}
	return &Engine{
		now:               now,
		admin:             admin,
		reporter:          reporter,
		managementFeeBps:  cfg.ManagementFeeBps,
		performanceFeeBps: cfg.PerformanceFeeBps,
		auth:              auth,
		consumed:          make(map[uint64]bool),
		totalAssets:       new(big.Int),
		totalShares:       new(big.Int),
		feeBaseline:       new(big.Int),
		agents:            make(map[uint64]*domain.Agent),
		nextAgent:         1,
		positions:         make(map[string]*domain.InvestorPosition),
	}, nil
}

// RegisterAgent creates a treasury agent with an initial allocation. The
// caller must present an executed EnableAgent proposal id; each proposal
// authorizes exactly one privileged change. The allocation is bounded per
// agent and the active-agent sum may not exceed the whole fund.
func (e *Engine) RegisterAgent(proposalID uint64, name, externalAddr string, allocationBps uint64) (domain.Agent, []domain.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkAuth(proposalID, domain.ProposalEnableAgent); err != nil {
		return domain.Agent{}, nil, err
	}
	addr, err := chainutil.NormalizeAddress(externalAddr)
	if err != nil {
		return domain.Agent{}, nil, err
	}
	if allocationBps > domain.MaxAllocationBps {
		return domain.Agent{}, nil, fmt.Errorf("treasury: allocation %d bps: %w", allocationBps, domain.ErrOutOfBounds)
	}
	if e.activeAllocationSum()+allocationBps > domain.MaxAllocationBps {
		return domain.Agent{}, nil, fmt.Errorf("treasury: active allocation sum would exceed %d bps: %w",
			domain.MaxAllocationBps, domain.ErrOutOfBounds)
	}
	e.consumed[proposalID] = true

	now := e.now()
	a := &domain.Agent{
		ID:              e.nextAgent,
		Name:            name,
		ExternalAddress: addr,
		IsActive:        true,
		AllocationBps:   allocationBps,
		RegisteredAt:    now,
	}
	e.agents[a.ID] = a
	e.agentOrder = append(e.agentOrder, a.ID)
	e.nextAgent++

	evt := domain.NewEvent(domain.ChannelTreasury, domain.EventAgentRegistered, now, map[string]any{
		"agent_id":       a.ID,
		"name":           a.Name,
		"address":        a.ExternalAddress,
		"allocation_bps": a.AllocationBps,
		"proposal_id":    proposalID,
	})
	return *a, []domain.Event{evt}, nil
}

// SetAgentStatus activates or deactivates an agent. Activation requires an
// executed EnableAgent proposal, deactivation a DisableAgent one.
// Reactivating may not push the active allocation sum over the fund.
func (e *Engine) SetAgentStatus(proposalID uint64, agentID uint64, active bool) (domain.Agent, []domain.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	kind := domain.ProposalDisableAgent
	if active {
		kind = domain.ProposalEnableAgent
	}
	if err := e.checkAuth(proposalID, kind); err != nil {
		return domain.Agent{}, nil, err
	}
	a, ok := e.agents[agentID]
	if !ok {
		return domain.Agent{}, nil, fmt.Errorf("treasury: agent %d: %w", agentID, domain.ErrNotFound)
	}
	if active && !a.IsActive && e.activeAllocationSum()+a.AllocationBps > domain.MaxAllocationBps {
		return domain.Agent{}, nil, fmt.Errorf("treasury: active allocation sum would exceed %d bps: %w",
			domain.MaxAllocationBps, domain.ErrOutOfBounds)
	}
	e.consumed[proposalID] = true

	a.IsActive = active

	evt := domain.NewEvent(domain.ChannelTreasury, domain.EventAgentStatusChanged, e.now(), map[string]any{
		"agent_id":    a.ID,
		"is_active":   a.IsActive,
		"proposal_id": proposalID,
	})
	return *a, []domain.Event{evt}, nil
}

// UpdateAllocation changes an agent's share of the pooled capital. Requires
// an executed AdjustAllocation proposal. Both the per-agent bound and the
// active-agent sum are enforced atomically.
func (e *Engine) UpdateAllocation(proposalID uint64, agentID uint64, newAllocationBps uint64) (domain.Agent, []domain.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkAuth(proposalID, domain.ProposalAdjustAllocation); err != nil {
		return domain.Agent{}, nil, err
	}
	a, ok := e.agents[agentID]
	if !ok {
		return domain.Agent{}, nil, fmt.Errorf("treasury: agent %d: %w", agentID, domain.ErrNotFound)
	}
	if newAllocationBps > domain.MaxAllocationBps {
		return domain.Agent{}, nil, fmt.Errorf("treasury: allocation %d bps: %w", newAllocationBps, domain.ErrOutOfBounds)
	}
	if a.IsActive {
		sum := e.activeAllocationSum() - a.AllocationBps + newAllocationBps
		if sum > domain.MaxAllocationBps {
			return domain.Agent{}, nil, fmt.Errorf("treasury: active allocation sum %d bps: %w", sum, domain.ErrOutOfBounds)
		}
	}
	e.consumed[proposalID] = true

	old := a.AllocationBps
	a.AllocationBps = newAllocationBps

	evt := domain.NewEvent(domain.ChannelTreasury, domain.EventAllocationUpdated, e.now(), map[string]any{
		"agent_id":    a.ID,
		"old_bps":     old,
		"new_bps":     a.AllocationBps,
		"proposal_id": proposalID,
	})
	return *a, []domain.Event{evt}, nil
}

// RecordTrade realizes a trade outcome into the shared pool: totalAssets
// moves multiplicatively by pnlBps and the whole move dilutes or enriches
// every shareholder pro-rata. Reporter only; the agent must be active.
// This is the sole totalAssets mutation outside deposits, withdrawals, and
// the performance fee skim.
func (e *Engine) RecordTrade(caller string, agentID uint64, pnlBps int64) (domain.TradeRecord, []domain.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	addr, err := chainutil.NormalizeAddress(caller)
	if err != nil {
		return domain.TradeRecord{}, nil, err
	}
	if addr != e.reporter {
		return domain.TradeRecord{}, nil, fmt.Errorf("treasury: %s is not the reporter: %w", addr, domain.ErrUnauthorized)
	}
	if e.emergencyStop {
		return domain.TradeRecord{}, nil, fmt.Errorf("treasury: record trade: %w", domain.ErrHalted)
	}
	a, ok := e.agents[agentID]
	if !ok {
		return domain.TradeRecord{}, nil, fmt.Errorf("treasury: agent %d: %w", agentID, domain.ErrNotFound)
	}
	if !a.IsActive {
		return domain.TradeRecord{}, nil, fmt.Errorf("treasury: agent %d inactive: %w", agentID, domain.ErrInvalidState)
	}
	if pnlBps <= -int64(domain.MaxAllocationBps) || pnlBps > int64(domain.MaxAllocationBps) {
		return domain.TradeRecord{}, nil, fmt.Errorf("treasury: pnl %d bps: %w", pnlBps, domain.ErrOutOfBounds)
	}

	// totalAssets *= (10000 + pnl) / 10000, floor division.
	factor := big.NewInt(int64(domain.MaxAllocationBps) + pnlBps)
	next := new(big.Int).Mul(e.totalAssets, factor)
	next.Quo(next, big.NewInt(int64(domain.MaxAllocationBps)))
	e.totalAssets = next

	a.TotalTrades++
	a.CumulativePnlBps += pnlBps

	now := e.now()
	rec := domain.TradeRecord{AgentID: agentID, PnlBps: pnlBps, RecordedAt: now}
	evt := domain.NewEvent(domain.ChannelTreasury, domain.EventTradeRecorded, now, map[string]any{
		"agent_id":     agentID,
		"pnl_bps":      pnlBps,
		"total_assets": e.totalAssets.String(),
	})
	return rec, []domain.Event{evt}, nil
}

// Deposit mints shares against a transferred amount. The first depositor
// sets the 1:1 baseline; later deposits mint amount*totalShares/totalAssets.
func (e *Engine) Deposit(caller string, amount *big.Int) (domain.InvestorPosition, []domain.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	addr, err := chainutil.NormalizeAddress(caller)
	if err != nil {
		return domain.InvestorPosition{}, nil, err
	}
	if e.emergencyStop {
		return domain.InvestorPosition{}, nil, fmt.Errorf("treasury: deposit: %w", domain.ErrHalted)
	}
	if amount == nil || amount.Sign() <= 0 {
		return domain.InvestorPosition{}, nil, fmt.Errorf("treasury: zero deposit: %w", domain.ErrInsufficient)
	}

	var minted *big.Int
	if e.totalShares.Sign() == 0 {
		minted = new(big.Int).Set(amount)
	} else {
		// Losses can floor totalAssets to zero while shares are still
		// outstanding. No mint ratio exists then; a 1:1 mint would hand the
		// new deposit's value to the wiped shareholders. Holders must burn
		// out via Withdraw before the pool accepts fresh capital.
		if e.totalAssets.Sign() == 0 {
			return domain.InvestorPosition{}, nil, fmt.Errorf("treasury: pool wiped with %s shares outstanding: %w",
				e.totalShares, domain.ErrInvalidState)
		}
		minted = new(big.Int).Mul(amount, e.totalShares)
		minted.Quo(minted, e.totalAssets)
		if minted.Sign() == 0 {
			return domain.InvestorPosition{}, nil, fmt.Errorf("treasury: deposit too small to mint a share: %w", domain.ErrInsufficient)
		}
	}

	now := e.now()
	pos, ok := e.positions[addr]
	if !ok {
		pos = &domain.InvestorPosition{
			Address:         addr,
			Shares:          new(big.Int),
			DepositedAmount: new(big.Int),
		}
		e.positions[addr] = pos
		e.positionOrder = append(e.positionOrder, addr)
	}
	pos.Shares = new(big.Int).Add(pos.Shares, minted)
	pos.DepositedAmount = new(big.Int).Add(pos.DepositedAmount, amount)
	pos.DepositTime = now

	e.totalShares = new(big.Int).Add(e.totalShares, minted)
	e.totalAssets = new(big.Int).Add(e.totalAssets, amount)

	evt := domain.NewEvent(domain.ChannelTreasury, domain.EventDeposit, now, map[string]any{
		"address":      addr,
		"amount":       amount.String(),
		"shares":       minted.String(),
		"total_assets": e.totalAssets.String(),
		"total_shares": e.totalShares.String(),
	})
	return clonePosition(pos), []domain.Event{evt}, nil
}

// Withdraw burns shareAmount of the caller's shares and returns the net
// payout: the proportional asset value minus a management fee pro-rated by
// holding time. Internal accounting is fully updated before the payout
// amount is surfaced, so the external transfer can never observe stale
// state.
func (e *Engine) Withdraw(caller string, shareAmount *big.Int) (*big.Int, []domain.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	addr, err := chainutil.NormalizeAddress(caller)
	if err != nil {
		return nil, nil, err
	}
	if e.emergencyStop {
		return nil, nil, fmt.Errorf("treasury: withdraw: %w", domain.ErrHalted)
	}
	if shareAmount == nil || shareAmount.Sign() <= 0 {
		return nil, nil, fmt.Errorf("treasury: zero withdrawal: %w", domain.ErrInsufficient)
	}
	pos, ok := e.positions[addr]
	if !ok || pos.Shares.Cmp(shareAmount) < 0 {
		return nil, nil, fmt.Errorf("treasury: %s holds insufficient shares: %w", addr, domain.ErrInsufficient)
	}

	now := e.now()

	// Gross redemption value at the current share price.
	gross := new(big.Int).Mul(shareAmount, e.totalAssets)
	gross.Quo(gross, e.totalShares)

	// Management fee pro-rated by elapsed holding time:
	// fee = gross * feeBps * secondsHeld / (10000 * secondsPerYear).
	held := int64(now.Sub(pos.DepositTime).Seconds())
	if held < 0 {
		held = 0
	}
	fee := new(big.Int).Mul(gross, big.NewInt(int64(e.managementFeeBps)))
	fee.Mul(fee, big.NewInt(held))
	fee.Quo(fee, big.NewInt(int64(domain.MaxAllocationBps)*secondsPerYear))

	net := new(big.Int).Sub(gross, fee)

	// Effects before interactions: the pool shrinks by the gross amount and
	// the caller's shares are burned before the payout leaves.
	e.totalShares = new(big.Int).Sub(e.totalShares, shareAmount)
	e.totalAssets = new(big.Int).Sub(e.totalAssets, gross)
	pos.Shares = new(big.Int).Sub(pos.Shares, shareAmount)
	if pos.Shares.Sign() == 0 {
		delete(e.positions, addr)
		e.removePositionOrder(addr)
	}

	evt := domain.NewEvent(domain.ChannelTreasury, domain.EventWithdrawal, now, map[string]any{
		"address":      addr,
		"shares":       shareAmount.String(),
		"gross":        gross.String(),
		"fee":          fee.String(),
		"net":          net.String(),
		"total_assets": e.totalAssets.String(),
		"total_shares": e.totalShares.String(),
	})
	return net, []domain.Event{evt}, nil
}

// DistributeProfits skims the performance fee from growth above the fee
// baseline and resets the baseline to the post-skim asset level. Admin
// only; fails when there is no profit to skim.
func (e *Engine) DistributeProfits(caller string) (*big.Int, []domain.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	addr, err := chainutil.NormalizeAddress(caller)
	if err != nil {
		return nil, nil, err
	}
	if addr != e.admin {
		return nil, nil, fmt.Errorf("treasury: %s is not admin: %w", addr, domain.ErrUnauthorized)
	}

	delta := new(big.Int).Sub(e.totalAssets, e.feeBaseline)
	if delta.Sign() <= 0 {
		return nil, nil, fmt.Errorf("treasury: no profit above baseline: %w", domain.ErrInsufficient)
	}

	fee := new(big.Int).Mul(delta, big.NewInt(int64(e.performanceFeeBps)))
	fee.Quo(fee, big.NewInt(int64(domain.MaxAllocationBps)))

	e.totalAssets = new(big.Int).Sub(e.totalAssets, fee)
	e.feeBaseline = new(big.Int).Set(e.totalAssets)

	evt := domain.NewEvent(domain.ChannelTreasury, domain.EventProfitsDistributed, e.now(), map[string]any{
		"fee":          fee.String(),
		"baseline":     e.feeBaseline.String(),
		"total_assets": e.totalAssets.String(),
	})
	return fee, []domain.Event{evt}, nil
}

// SetEmergencyStop engages or releases the circuit breaker. Admin only.
// While engaged, deposit, withdraw, and recordTrade fail fast.
func (e *Engine) SetEmergencyStop(caller string, stop bool) ([]domain.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	addr, err := chainutil.NormalizeAddress(caller)
	if err != nil {
		return nil, err
	}
	if addr != e.admin {
		return nil, fmt.Errorf("treasury: %s is not admin: %w", addr, domain.ErrUnauthorized)
	}

	e.emergencyStop = stop

	evt := domain.NewEvent(domain.ChannelTreasury, domain.EventEmergencyStopSet, e.now(), map[string]any{
		"engaged": stop,
	})
	return []domain.Event{evt}, nil
}

// SharePrice returns totalAssets/totalShares at 1e18 fixed-point scale, or
// exactly the scale (price 1.0) while the pool is empty.
func (e *Engine) SharePrice() *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.totalShares.Sign() == 0 {
		return new(big.Int).Set(sharePriceScale)
	}
	price := new(big.Int).Mul(e.totalAssets, sharePriceScale)
	return price.Quo(price, e.totalShares)
}

// Fund returns a copy of the pooled accounting state.
func (e *Engine) Fund() domain.FundState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return domain.FundState{
		TotalAssets:   new(big.Int).Set(e.totalAssets),
		TotalShares:   new(big.Int).Set(e.totalShares),
		FeeBaseline:   new(big.Int).Set(e.feeBaseline),
		EmergencyStop: e.emergencyStop,
	}
}

// Agent returns a copy of the agent with the given id.
func (e *Engine) Agent(id uint64) (domain.Agent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.agents[id]
	if !ok {
		return domain.Agent{}, fmt.Errorf("treasury: agent %d: %w", id, domain.ErrNotFound)
	}
	return *a, nil
}

// Agents returns copies of all agents in registration order.
func (e *Engine) Agents() []domain.Agent {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Agent, 0, len(e.agentOrder))
	for _, id := range e.agentOrder {
		out = append(out, *e.agents[id])
	}
	return out
}

// Position returns a copy of the investor position for addr.
func (e *Engine) Position(addr string) (domain.InvestorPosition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	norm, err := chainutil.NormalizeAddress(addr)
	if err != nil {
		return domain.InvestorPosition{}, err
	}
	pos, ok := e.positions[norm]
	if !ok {
		return domain.InvestorPosition{}, fmt.Errorf("treasury: position %s: %w", norm, domain.ErrNotFound)
	}
	return clonePosition(pos), nil
}

// checkAuth verifies a one-shot governance authorization of the expected
// kind without spending it. The caller marks the id consumed only after
// every other validation has passed, so a rejected operation leaves the
// proposal reusable. Caller holds the lock.
func (e *Engine) checkAuth(proposalID uint64, kind domain.ProposalKind) error {
	if e.consumed[proposalID] {
		return fmt.Errorf("treasury: proposal %d already consumed: %w", proposalID, domain.ErrInvalidState)
	}
	auth, err := e.auth.Authorization(proposalID)
	if err != nil {
		return fmt.Errorf("treasury: %w", err)
	}
	if auth.Kind != kind {
		return fmt.Errorf("treasury: proposal %d authorizes %s, not %s: %w",
			proposalID, auth.Kind, kind, domain.ErrUnauthorized)
	}
	return nil
}

// activeAllocationSum sums allocation across active agents. Caller holds
// the lock.
func (e *Engine) activeAllocationSum() uint64 {
	var sum uint64
	for _, id := range e.agentOrder {
		if a := e.agents[id]; a.IsActive {
			sum += a.AllocationBps
		}
	}
	return sum
}

func (e *Engine) removePositionOrder(addr string) {
	for i, a := range e.positionOrder {
		if a == addr {
			e.positionOrder = append(e.positionOrder[:i], e.positionOrder[i+1:]...)
			return
		}
	}
}

func clonePosition(p *domain.InvestorPosition) domain.InvestorPosition {
	return domain.InvestorPosition{
		Address:         p.Address,
		Shares:          new(big.Int).Set(p.Shares),
		DepositedAmount: new(big.Int).Set(p.DepositedAmount),
		DepositTime:     p.DepositTime,
	}
}
