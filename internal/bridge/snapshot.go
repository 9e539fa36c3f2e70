package bridge

import (
	"math/big"

	"github.com/quantdao/ledgerd/internal/domain"
)

// Snapshot is a full serializable copy of bridge state. Transactions are in
// initiation order and validators in registration order.
type Snapshot struct {
	State        domain.BridgeState         `json:"state"`
	Transactions []domain.BridgeTransaction `json:"transactions"`
}

// Snapshot returns a copy of the engine's current state.
func (e *Engine) Snapshot() Snapshot {
	snap := Snapshot{State: e.State()}
	snap.Transactions = e.Transactions()
	return snap
}

// Restore replaces the engine's state with the snapshot contents.
func (e *Engine) Restore(snap Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.validators = make(map[string]bool, len(snap.State.Validators))
	e.validatorOrder = append(e.validatorOrder[:0], snap.State.Validators...)
	for _, v := range snap.State.Validators {
		e.validators[v] = true
	}
	e.required = snap.State.RequiredAttestations
	e.feeBps = snap.State.FeeBps
	e.nonce = snap.State.Nonce
	e.paused = snap.State.Paused
	e.totalLocked = bigOrZero(snap.State.TotalLocked)
	e.totalReleased = bigOrZero(snap.State.TotalReleased)

	e.txs = make(map[string]*domain.BridgeTransaction, len(snap.Transactions))
	e.txOrder = e.txOrder[:0]
	for i := range snap.Transactions {
		tx := snap.Transactions[i]
		cp := cloneTx(&tx)
		e.txs[tx.Hash] = &cp
		e.txOrder = append(e.txOrder, tx.Hash)
	}
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
