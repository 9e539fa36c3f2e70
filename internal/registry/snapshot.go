package registry

import (
	"math/big"

	"github.com/quantdao/ledgerd/internal/domain"
)

// AgentRecord pairs a registered agent with its performance history for
// serialization.
type AgentRecord struct {
	Agent     domain.RegisteredAgent       `json:"agent"`
	Snapshots []domain.PerformanceSnapshot `json:"snapshots,omitempty"`
}

// Snapshot is a full serializable copy of registry state in registration
// order.
type Snapshot struct {
	Agents   []AgentRecord `json:"agents"`
	MinStake *big.Int      `json:"min_stake"`
}

// Snapshot returns a copy of the engine's current state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := Snapshot{MinStake: new(big.Int).Set(e.minStake)}
	for _, addr := range e.order {
		r := e.agents[addr]
		snap.Agents = append(snap.Agents, AgentRecord{
			Agent:     cloneAgent(r),
			Snapshots: append([]domain.PerformanceSnapshot(nil), r.snapshots...),
		})
	}
	return snap
}

// Restore replaces the engine's state with the snapshot contents.
func (e *Engine) Restore(snap Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.agents = make(map[string]*registered, len(snap.Agents))
	e.order = e.order[:0]
	for _, rec := range snap.Agents {
		a := rec.Agent
		a.StakedAmount = new(big.Int).Set(rec.Agent.StakedAmount)
		e.agents[a.Address] = &registered{
			agent:     a,
			snapshots: append([]domain.PerformanceSnapshot(nil), rec.Snapshots...),
		}
		e.order = append(e.order, a.Address)
	}
	if snap.MinStake != nil {
		e.minStake = new(big.Int).Set(snap.MinStake)
	}
}
