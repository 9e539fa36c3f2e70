package domain

import "time"

// ProposalKind enumerates the privileged actions a proposal can authorize.
type ProposalKind string

const (
	ProposalEnableAgent      ProposalKind = "enable_agent"
	ProposalDisableAgent     ProposalKind = "disable_agent"
	ProposalAdjustAllocation ProposalKind = "adjust_allocation"
	ProposalWithdrawFunds    ProposalKind = "withdraw_funds"
	ProposalEmergencyStop    ProposalKind = "emergency_stop"
	ProposalParameterChange  ProposalKind = "parameter_change"
)

// ProposalStatus is the derived lifecycle state of a proposal.
type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "pending"
	ProposalActive   ProposalStatus = "active"
	ProposalPassed   ProposalStatus = "passed"
	ProposalFailed   ProposalStatus = "failed"
	ProposalExecuted ProposalStatus = "executed"
	ProposalCanceled ProposalStatus = "canceled"
)

// VotingAccount holds an address's governance weight. Accounts are created
// implicitly on the first power grant; power only ever increases.
type VotingAccount struct {
	Address string `json:"address"`
	Power   uint64 `json:"power"`
}

// Proposal is a governance proposal. The payload is opaque to the engine; it
// is constructed and interpreted by off-chain tooling and only stored and
// authorized here.
type Proposal struct {
	ID           uint64       `json:"id"`
	Proposer     string       `json:"proposer"`
	Description  string       `json:"description"`
	Kind         ProposalKind `json:"kind"`
	Payload      []byte       `json:"payload,omitempty"`
	StartTime    time.Time    `json:"start_time"`
	EndTime      time.Time    `json:"end_time"`
	ForVotes     uint64       `json:"for_votes"`
	AgainstVotes uint64       `json:"against_votes"`
	Executed     bool         `json:"executed"`
	Canceled     bool         `json:"canceled"`
	Voters       []string     `json:"voters,omitempty"` // in vote order
}

// StatusAt derives the lifecycle state of the proposal at the given instant.
// Executed and Canceled are terminal and mutually exclusive.
func (p Proposal) StatusAt(now time.Time) ProposalStatus {
	switch {
	case p.Canceled:
		return ProposalCanceled
	case p.Executed:
		return ProposalExecuted
	case now.Before(p.StartTime):
		return ProposalPending
	case !now.After(p.EndTime):
		return ProposalActive
	case p.ForVotes > p.AgainstVotes:
		return ProposalPassed
	default:
		return ProposalFailed
	}
}

// HasVoted reports whether addr already appears in the voter set.
func (p Proposal) HasVoted(addr string) bool {
	for _, v := range p.Voters {
		if v == addr {
			return true
		}
	}
	return false
}

// Authorization is proof that a specific proposal was executed. Treasury and
// Registry verify an Authorization against governance before applying a
// privileged change; governance never calls into them directly.
type Authorization struct {
	ProposalID uint64       `json:"proposal_id"`
	Kind       ProposalKind `json:"kind"`
	Payload    []byte       `json:"payload,omitempty"`
	ExecutedAt time.Time    `json:"executed_at"`
}
