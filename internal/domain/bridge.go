package domain

import (
	"math/big"
	"time"
)

// BridgeFeeCapBps is the hard cap on the bridge fee (5%).
const BridgeFeeCapBps = 500

// BridgeTransaction is a cross-domain transfer request. The hash is derived
// from (sender, recipient, amount, destDomain, timestamp, nonce) and is the
// transaction's identity. Amount is net of the bridge fee. Completion is
// terminal and happens exactly once, when the attestation set reaches the
// required threshold.
type BridgeTransaction struct {
	Hash         string    `json:"hash"`
	Sender       string    `json:"sender"`
	Recipient    string    `json:"recipient"`
	Amount       *big.Int  `json:"amount"`
	Fee          *big.Int  `json:"fee"`
	SourceDomain uint64    `json:"source_domain"`
	DestDomain   uint64    `json:"dest_domain"`
	Timestamp    time.Time `json:"timestamp"`
	Nonce        uint64    `json:"nonce"`
	IsCompleted  bool      `json:"is_completed"`
	Attestors    []string  `json:"attestors,omitempty"` // in attestation order
}

// HasAttested reports whether the validator already attested to this
// transaction.
func (t BridgeTransaction) HasAttested(validator string) bool {
	for _, v := range t.Attestors {
		if v == validator {
			return true
		}
	}
	return false
}
