package domain

import (
	"math/big"
	"time"
)

// Reputation score bounds. Scores are clamped into [0, MaxReputation] after
// every update.
const (
	MaxReputation     = 1000
	InitialReputation = 500
)

// RegisteredAgent is the registry's view of a strategy operator: identity,
// refundable stake, and a bounded reputation derived from reported
// performance.
type RegisteredAgent struct {
	Address             string    `json:"address"`
	Name                string    `json:"name"`
	StrategyDescription string    `json:"strategy_description"`
	ModelReference      string    `json:"model_reference"`
	StakedAmount        *big.Int  `json:"staked_amount"`
	ReputationScore     int64     `json:"reputation_score"`
	IsVerified          bool      `json:"is_verified"`
	RegisteredAt        time.Time `json:"registered_at"`
}

// PerformanceSnapshot is one append-only performance report for an agent.
// SharpeRatioScaled is the Sharpe ratio times 1000; MaxDrawdownBps is the
// worst peak-to-trough loss in basis points.
type PerformanceSnapshot struct {
	Timestamp         time.Time `json:"timestamp"`
	Pnl               int64     `json:"pnl"`
	SharpeRatioScaled int64     `json:"sharpe_ratio_scaled"`
	MaxDrawdownBps    int64     `json:"max_drawdown_bps"`
	TotalTrades       uint64    `json:"total_trades"`
}
