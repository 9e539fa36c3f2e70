package domain

import (
	"math/big"
	"time"
)

// MaxAllocationBps is the full fund expressed in basis points.
const MaxAllocationBps = 10000

// Agent is the treasury's view of a trading strategy: its allocation of the
// pooled capital and its cumulative trading record. Registration and
// allocation changes require governance authorization; trade fields are
// mutated only by the authorized reporter.
type Agent struct {
	ID               uint64    `json:"id"`
	Name             string    `json:"name"`
	ExternalAddress  string    `json:"external_address"`
	IsActive         bool      `json:"is_active"`
	AllocationBps    uint64    `json:"allocation_bps"`
	TotalTrades      uint64    `json:"total_trades"`
	CumulativePnlBps int64     `json:"cumulative_pnl_bps"`
	RegisteredAt     time.Time `json:"registered_at"`
}

// InvestorPosition tracks one depositor's share balance. DepositTime is the
// basis for pro-rating the management fee on withdrawal.
type InvestorPosition struct {
	Address         string    `json:"address"`
	Shares          *big.Int  `json:"shares"`
	DepositedAmount *big.Int  `json:"deposited_amount"`
	DepositTime     time.Time `json:"deposit_time"`
}

// FundState is the treasury's pooled accounting. TotalAssets and TotalShares
// define the share price; FeeBaseline is the high-water mark for the
// performance fee skim.
type FundState struct {
	TotalAssets   *big.Int `json:"total_assets"`
	TotalShares   *big.Int `json:"total_shares"`
	FeeBaseline   *big.Int `json:"fee_baseline"`
	EmergencyStop bool     `json:"emergency_stop"`
}

// TradeRecord is a single realized trade outcome reported into the pool.
type TradeRecord struct {
	AgentID    uint64    `json:"agent_id"`
	PnlBps     int64     `json:"pnl_bps"`
	RecordedAt time.Time `json:"recorded_at"`
}
