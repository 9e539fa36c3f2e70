package domain

import (
	"context"
	"math/big"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// ProposalStore persists governance proposals keyed by proposal id.
type ProposalStore interface {
	Upsert(ctx context.Context, p Proposal) error
	GetByID(ctx context.Context, id uint64) (Proposal, error)
	List(ctx context.Context, opts ListOpts) ([]Proposal, error)
	Count(ctx context.Context) (int64, error)
}

// VotingAccountStore persists voting accounts keyed by address.
type VotingAccountStore interface {
	Upsert(ctx context.Context, acct VotingAccount) error
	GetByAddress(ctx context.Context, addr string) (VotingAccount, error)
	List(ctx context.Context) ([]VotingAccount, error)
}

// AgentStore persists the treasury's agent records keyed by agent id.
type AgentStore interface {
	Upsert(ctx context.Context, agent Agent) error
	GetByID(ctx context.Context, id uint64) (Agent, error)
	List(ctx context.Context) ([]Agent, error)
}

// FundStateStore persists the treasury's singleton pooled accounting row.
type FundStateStore interface {
	Save(ctx context.Context, state FundState) error
	Load(ctx context.Context) (FundState, error)
}

// ConsumedAuthStore records proposal ids whose authorization the treasury
// has consumed, so a restart cannot replay an executed proposal.
type ConsumedAuthStore interface {
	Mark(ctx context.Context, proposalID uint64) error
	List(ctx context.Context) ([]uint64, error)
}

// PositionStore persists investor positions keyed by address.
type PositionStore interface {
	Upsert(ctx context.Context, pos InvestorPosition) error
	GetByAddress(ctx context.Context, addr string) (InvestorPosition, error)
	List(ctx context.Context) ([]InvestorPosition, error)
	Delete(ctx context.Context, addr string) error
}

// RegisteredAgentStore persists registry agents and their performance
// history, keyed by agent address.
type RegisteredAgentStore interface {
	Upsert(ctx context.Context, agent RegisteredAgent) error
	GetByAddress(ctx context.Context, addr string) (RegisteredAgent, error)
	List(ctx context.Context) ([]RegisteredAgent, error)
	AppendSnapshot(ctx context.Context, addr string, snap PerformanceSnapshot) error
	ListSnapshots(ctx context.Context, addr string, opts ListOpts) ([]PerformanceSnapshot, error)
}

// BridgeState is the bridge's singleton control state: the validator set in
// insertion order, the attestation threshold, the fee, the next nonce, and
// the pause flag.
type BridgeState struct {
	Validators           []string `json:"validators"`
	RequiredAttestations uint64   `json:"required_attestations"`
	FeeBps               uint64   `json:"fee_bps"`
	Nonce                uint64   `json:"nonce"`
	Paused               bool     `json:"paused"`
	TotalLocked          *big.Int `json:"total_locked"`
	TotalReleased        *big.Int `json:"total_released"`
}

// BridgeTxStore persists bridge transactions keyed by transaction hash.
type BridgeTxStore interface {
	Upsert(ctx context.Context, tx BridgeTransaction) error
	GetByHash(ctx context.Context, hash string) (BridgeTransaction, error)
	ListPending(ctx context.Context, opts ListOpts) ([]BridgeTransaction, error)
	List(ctx context.Context, opts ListOpts) ([]BridgeTransaction, error)
}

// BridgeStateStore persists the bridge's singleton control row.
type BridgeStateStore interface {
	Save(ctx context.Context, state BridgeState) error
	Load(ctx context.Context) (BridgeState, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
