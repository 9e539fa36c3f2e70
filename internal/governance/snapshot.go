package governance

import (
	"github.com/quantdao/ledgerd/internal/domain"
)

// Snapshot is a full serializable copy of governance state, used for replica
// hydration and S3 export. Accounts and proposals are in insertion order so
// a restored engine replays identically.
type Snapshot struct {
	Accounts         []domain.VotingAccount `json:"accounts"`
	TotalVotingPower uint64                 `json:"total_voting_power"`
	Proposals        []domain.Proposal      `json:"proposals"`
	NextProposalID   uint64                 `json:"next_proposal_id"`
	VotingPeriodSec  int64                  `json:"voting_period_sec"`
	QuorumPercent    uint64                 `json:"quorum_percent"`
}

// Snapshot returns a copy of the engine's current state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := Snapshot{
		TotalVotingPower: e.totalPower,
		NextProposalID:   e.nextID,
		VotingPeriodSec:  int64(e.votingPeriod.Seconds()),
		QuorumPercent:    e.quorumPercent,
	}
	for _, addr := range e.accountOrder {
		snap.Accounts = append(snap.Accounts, domain.VotingAccount{Address: addr, Power: e.accounts[addr]})
	}
	for _, id := range e.proposalOrder {
		snap.Proposals = append(snap.Proposals, *e.proposals[id])
	}
	return snap
}

// Restore replaces the engine's state with the snapshot contents.
func (e *Engine) Restore(snap Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.accounts = make(map[string]uint64, len(snap.Accounts))
	e.accountOrder = e.accountOrder[:0]
	var total uint64
	for _, a := range snap.Accounts {
		e.accounts[a.Address] = a.Power
		e.accountOrder = append(e.accountOrder, a.Address)
		total += a.Power
	}
	// The stored total must equal the recomputed sum; trust the recomputed
	// value so the conservation invariant holds after restore.
	e.totalPower = total

	e.proposals = make(map[uint64]*domain.Proposal, len(snap.Proposals))
	e.proposalOrder = e.proposalOrder[:0]
	maxID := uint64(0)
	for i := range snap.Proposals {
		p := snap.Proposals[i]
		e.proposals[p.ID] = &p
		e.proposalOrder = append(e.proposalOrder, p.ID)
		if p.ID > maxID {
			maxID = p.ID
		}
	}
	e.nextID = maxID + 1
	if snap.NextProposalID > e.nextID {
		e.nextID = snap.NextProposalID
	}
}
