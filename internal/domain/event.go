package domain

import "time"

// Event channels on the signal bus, one per ledger component.
const (
	ChannelGovernance = "governance"
	ChannelTreasury   = "treasury"
	ChannelRegistry   = "registry"
	ChannelBridge     = "bridge"
)

// Event names emitted by the ledger engines.
const (
	EventProposalCreated      = "ProposalCreated"
	EventVoteCast             = "VoteCast"
	EventProposalExecuted     = "ProposalExecuted"
	EventProposalCanceled     = "ProposalCanceled"
	EventVotingPowerGranted   = "VotingPowerGranted"
	EventAgentRegistered      = "AgentRegistered"
	EventAgentStatusChanged   = "AgentStatusChanged"
	EventAllocationUpdated    = "AllocationUpdated"
	EventTradeRecorded        = "TradeRecorded"
	EventDeposit              = "Deposit"
	EventWithdrawal           = "Withdrawal"
	EventProfitsDistributed   = "ProfitsDistributed"
	EventEmergencyStopSet     = "EmergencyStopSet"
	EventAgentStaked          = "AgentStaked"
	EventAgentUnstaked        = "AgentUnstaked"
	EventPerformanceRecorded  = "PerformanceRecorded"
	EventReputationUpdated    = "ReputationUpdated"
	EventAgentVerified        = "AgentVerified"
	EventBridgeInitiated      = "BridgeInitiated"
	EventAttestationSubmitted = "AttestationSubmitted"
	EventBridgeCompleted      = "BridgeCompleted"
	EventValidatorAdded       = "ValidatorAdded"
	EventValidatorRemoved     = "ValidatorRemoved"
	EventBridgePaused         = "BridgePaused"
	EventBridgeUnpaused       = "BridgeUnpaused"
)

// Event is one state-change notification produced by an engine operation.
// Engines return events instead of publishing them; the service layer
// serializes and publishes on the signal bus after persistence succeeds.
type Event struct {
	Channel string         `json:"channel"`
	Name    string         `json:"name"`
	At      time.Time      `json:"at"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// NewEvent builds an Event for the given channel and name.
func NewEvent(channel, name string, at time.Time, fields map[string]any) Event {
	return Event{Channel: channel, Name: name, At: at, Fields: fields}
}
