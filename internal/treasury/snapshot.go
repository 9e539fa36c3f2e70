package treasury

import (
	"math/big"
	"sort"

	"github.com/quantdao/ledgerd/internal/domain"
)

// Snapshot is a full serializable copy of treasury state for replica
// hydration and S3 export. Agents and positions are in insertion order.
type Snapshot struct {
	Fund          domain.FundState          `json:"fund"`
	Agents        []domain.Agent            `json:"agents"`
	NextAgentID   uint64                    `json:"next_agent_id"`
	Positions     []domain.InvestorPosition `json:"positions"`
	ConsumedAuths []uint64                  `json:"consumed_auths"`
}

// Snapshot returns a copy of the engine's current state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := Snapshot{
		Fund: domain.FundState{
			TotalAssets:   new(big.Int).Set(e.totalAssets),
			TotalShares:   new(big.Int).Set(e.totalShares),
			FeeBaseline:   new(big.Int).Set(e.feeBaseline),
			EmergencyStop: e.emergencyStop,
		},
		NextAgentID: e.nextAgent,
	}
	for _, id := range e.agentOrder {
		snap.Agents = append(snap.Agents, *e.agents[id])
	}
	for _, addr := range e.positionOrder {
		snap.Positions = append(snap.Positions, clonePosition(e.positions[addr]))
	}
	for id := range e.consumed {
		snap.ConsumedAuths = append(snap.ConsumedAuths, id)
	}
	// Map order is random; keep exports byte-stable across replicas.
	sort.Slice(snap.ConsumedAuths, func(i, j int) bool {
		return snap.ConsumedAuths[i] < snap.ConsumedAuths[j]
	})
	return snap
}

// Restore replaces the engine's state with the snapshot contents.
func (e *Engine) Restore(snap Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.totalAssets = bigOrZero(snap.Fund.TotalAssets)
	e.totalShares = bigOrZero(snap.Fund.TotalShares)
	e.feeBaseline = bigOrZero(snap.Fund.FeeBaseline)
	e.emergencyStop = snap.Fund.EmergencyStop

	e.agents = make(map[uint64]*domain.Agent, len(snap.Agents))
	e.agentOrder = e.agentOrder[:0]
	maxID := uint64(0)
	for i := range snap.Agents {
		a := snap.Agents[i]
		e.agents[a.ID] = &a
		e.agentOrder = append(e.agentOrder, a.ID)
		if a.ID > maxID {
			maxID = a.ID
		}
	}
	e.nextAgent = maxID + 1
	if snap.NextAgentID > e.nextAgent {
		e.nextAgent = snap.NextAgentID
	}

	e.positions = make(map[string]*domain.InvestorPosition, len(snap.Positions))
	e.positionOrder = e.positionOrder[:0]
	for i := range snap.Positions {
		p := snap.Positions[i]
		cp := clonePosition(&p)
		e.positions[p.Address] = &cp
		e.positionOrder = append(e.positionOrder, p.Address)
	}

	e.consumed = make(map[uint64]bool, len(snap.ConsumedAuths))
	for _, id := range snap.ConsumedAuths {
		e.consumed[id] = true
	}
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
