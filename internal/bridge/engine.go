// Package bridge implements threshold-attested cross-domain transfer: lock
// on the source domain, release on the destination once a configurable
// quorum of independent validators attest to the same transaction hash.
// Completion is driven solely by attestations reaching the threshold; no
// direct "complete" entry point exists.
package bridge

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/quantdao/ledgerd/internal/chainutil"
	"github.com/quantdao/ledgerd/internal/domain"
)

// Config holds the bridge parameters fixed at construction. SourceDomain
// identifies the domain this instance locks on; FeeBps is capped at
// domain.BridgeFeeCapBps.
type Config struct {
	Admin                string
	SourceDomain         uint64
	FeeBps               uint64
	RequiredAttestations uint64
	Validators           []string
}

// Engine is the bridge state machine.
type Engine struct {
	mu  sync.Mutex
	now func() time.Time

	admin        string
	sourceDomain uint64
	feeBps       uint64
	required     uint64
	paused       bool
	nonce        uint64

	validators     map[string]bool
	validatorOrder []string

	txs     map[string]*domain.BridgeTransaction
	txOrder []string

	totalLocked   *big.Int
	totalReleased *big.Int
}

// New creates a bridge Engine. The initial validator set must be large
// enough to reach the attestation threshold.
func New(cfg Config, now func() time.Time) (*Engine, error) {
	admin, err := chainutil.NormalizeAddress(cfg.Admin)
	if err != nil {
		return nil, fmt.Errorf("bridge: admin: %w", err)
	}
	if cfg.FeeBps > domain.BridgeFeeCapBps {
		return nil, fmt.Errorf("bridge: fee %d bps above cap %d: %w", cfg.FeeBps, domain.BridgeFeeCapBps, domain.ErrOutOfBounds)
	}
	if cfg.RequiredAttestations == 0 || cfg.RequiredAttestations > uint64(len(cfg.Validators)) {
		return nil, fmt.Errorf("bridge: required attestations %d for %d validators: %w",
			cfg.RequiredAttestations, len(cfg.Validators), domain.ErrOutOfBounds)
	}
	if now == nil {
		now = time.Now
	}

	e := &Engine{
		now:           now,
		admin:         admin,
		sourceDomain:  cfg.SourceDomain,
		feeBps:        cfg.FeeBps,
		required:      cfg.RequiredAttestations,
		validators:    make(map[string]bool),
		txs:           make(map[string]*domain.BridgeTransaction),
		totalLocked:   new(big.Int),
		totalReleased: new(big.Int),
	}
	for _, v := range cfg.Validators {
		addr, err := chainutil.NormalizeAddress(v)
		if err != nil {
			return nil, fmt.Errorf("bridge: validator: %w", err)
		}
		if e.validators[addr] {
			return nil, fmt.Errorf("bridge: validator %s: %w", addr, domain.ErrAlreadyExists)
		}
		e.validators[addr] = true
		e.validatorOrder = append(e.validatorOrder, addr)
	}
	return e, nil
}

// InitiateBridge locks amount from the caller, deducts the bridge fee, and
// stores a pending transaction identified by the keccak hash of its
// immutable fields. The per-sender order is fixed by the global nonce.
func (e *Engine) InitiateBridge(caller, recipient string, amount *big.Int, destDomain uint64) (domain.BridgeTransaction, []domain.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.paused {
		return domain.BridgeTransaction{}, nil, fmt.Errorf("bridge: initiate: %w", domain.ErrHalted)
	}
	sender, err := chainutil.NormalizeAddress(caller)
	if err != nil {
		return domain.BridgeTransaction{}, nil, err
	}
	to, err := chainutil.NormalizeAddress(recipient)
	if err != nil {
		return domain.BridgeTransaction{}, nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return domain.BridgeTransaction{}, nil, fmt.Errorf("bridge: zero amount: %w", domain.ErrInsufficient)
	}
	if destDomain == e.sourceDomain {
		return domain.BridgeTransaction{}, nil, fmt.Errorf("bridge: destination equals source domain %d: %w", destDomain, domain.ErrOutOfBounds)
	}

	fee := new(big.Int).Mul(amount, big.NewInt(int64(e.feeBps)))
	fee.Quo(fee, big.NewInt(int64(domain.MaxAllocationBps)))
	net := new(big.Int).Sub(amount, fee)
	if net.Sign() <= 0 {
		return domain.BridgeTransaction{}, nil, fmt.Errorf("bridge: amount consumed by fee: %w", domain.ErrInsufficient)
	}

	now := e.now()
	hash := chainutil.BridgeTxHash(sender, to, net, destDomain, now, e.nonce)
	if _, ok := e.txs[hash]; ok {
		return domain.BridgeTransaction{}, nil, fmt.Errorf("bridge: transaction %s: %w", hash, domain.ErrAlreadyExists)
	}

	tx := &domain.BridgeTransaction{
		Hash:         hash,
		Sender:       sender,
		Recipient:    to,
		Amount:       net,
		Fee:          fee,
		SourceDomain: e.sourceDomain,
		DestDomain:   destDomain,
		Timestamp:    now,
		Nonce:        e.nonce,
	}
	e.txs[hash] = tx
	e.txOrder = append(e.txOrder, hash)
	e.nonce++
	e.totalLocked = new(big.Int).Add(e.totalLocked, amount)

	evt := domain.NewEvent(domain.ChannelBridge, domain.EventBridgeInitiated, now, map[string]any{
		"tx_hash":     hash,
		"sender":      sender,
		"recipient":   to,
		"amount":      net.String(),
		"fee":         fee.String(),
		"dest_domain": destDomain,
		"nonce":       tx.Nonce,
	})
	return cloneTx(tx), []domain.Event{evt}, nil
}

// SubmitAttestation records a validator's confirmation of a pending
// transaction. When the attestation set reaches the required threshold the
// transfer completes: the transaction becomes terminal and the net amount
// is released to the recipient. Accounting is updated before the release
// amount is surfaced. Attestation is deliberately allowed while paused so
// in-flight transfers can still settle.
func (e *Engine) SubmitAttestation(caller, txHash string) (domain.BridgeTransaction, []domain.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	validator, err := chainutil.NormalizeAddress(caller)
	if err != nil {
		return domain.BridgeTransaction{}, nil, err
	}
	if !e.validators[validator] {
		return domain.BridgeTransaction{}, nil, fmt.Errorf("bridge: %s is not a validator: %w", validator, domain.ErrUnauthorized)
	}
	tx, ok := e.txs[txHash]
	if !ok {
		return domain.BridgeTransaction{}, nil, fmt.Errorf("bridge: transaction %s: %w", txHash, domain.ErrNotFound)
	}
	if tx.IsCompleted {
		return domain.BridgeTransaction{}, nil, fmt.Errorf("bridge: transaction %s already completed: %w", txHash, domain.ErrInvalidState)
	}
	if tx.HasAttested(validator) {
		return domain.BridgeTransaction{}, nil, fmt.Errorf("bridge: %s already attested %s: %w", validator, txHash, domain.ErrInvalidState)
	}

	now := e.now()
	tx.Attestors = append(tx.Attestors, validator)

	events := []domain.Event{
		domain.NewEvent(domain.ChannelBridge, domain.EventAttestationSubmitted, now, map[string]any{
			"tx_hash":   txHash,
			"validator": validator,
			"count":     len(tx.Attestors),
			"required":  e.required,
		}),
	}

	if uint64(len(tx.Attestors)) >= e.required {
		tx.IsCompleted = true
		e.totalReleased = new(big.Int).Add(e.totalReleased, tx.Amount)
		events = append(events, domain.NewEvent(domain.ChannelBridge, domain.EventBridgeCompleted, now, map[string]any{
			"tx_hash":   txHash,
			"recipient": tx.Recipient,
			"amount":    tx.Amount.String(),
		}))
	}
	return cloneTx(tx), events, nil
}

// AddValidator registers a new validator. Admin only.
func (e *Engine) AddValidator(caller, validator string) ([]domain.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAdmin(caller); err != nil {
		return nil, err
	}
	addr, err := chainutil.NormalizeAddress(validator)
	if err != nil {
		return nil, err
	}
	if e.validators[addr] {
		return nil, fmt.Errorf("bridge: validator %s: %w", addr, domain.ErrAlreadyExists)
	}

	e.validators[addr] = true
	e.validatorOrder = append(e.validatorOrder, addr)

	evt := domain.NewEvent(domain.ChannelBridge, domain.EventValidatorAdded, e.now(), map[string]any{
		"validator": addr,
		"count":     len(e.validatorOrder),
	})
	return []domain.Event{evt}, nil
}

// RemoveValidator drops a validator from the set. Admin only. Attestations
// the validator already placed on in-flight transactions keep counting;
// removal is not retroactive. The set may not shrink below the current
// attestation threshold.
func (e *Engine) RemoveValidator(caller, validator string) ([]domain.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAdmin(caller); err != nil {
		return nil, err
	}
	addr, err := chainutil.NormalizeAddress(validator)
	if err != nil {
		return nil, err
	}
	if !e.validators[addr] {
		return nil, fmt.Errorf("bridge: validator %s: %w", addr, domain.ErrNotFound)
	}
	if uint64(len(e.validatorOrder)-1) < e.required {
		return nil, fmt.Errorf("bridge: removal would leave %d validators below threshold %d: %w",
			len(e.validatorOrder)-1, e.required, domain.ErrInvalidState)
	}

	delete(e.validators, addr)
	for i, v := range e.validatorOrder {
		if v == addr {
			e.validatorOrder = append(e.validatorOrder[:i], e.validatorOrder[i+1:]...)
			break
		}
	}

	evt := domain.NewEvent(domain.ChannelBridge, domain.EventValidatorRemoved, e.now(), map[string]any{
		"validator": addr,
		"count":     len(e.validatorOrder),
	})
	return []domain.Event{evt}, nil
}

// UpdateRequiredAttestations changes the completion threshold for future
// completions. Admin only; must be non-zero and within the validator count.
func (e *Engine) UpdateRequiredAttestations(caller string, n uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if n == 0 || n > uint64(len(e.validatorOrder)) {
		return fmt.Errorf("bridge: required attestations %d for %d validators: %w",
			n, len(e.validatorOrder), domain.ErrOutOfBounds)
	}
	e.required = n
	return nil
}

// Pause blocks new transfers. Admin only. Attestations on in-flight
// transactions remain accepted.
func (e *Engine) Pause(caller string) ([]domain.Event, error) {
	return e.setPaused(caller, true, domain.EventBridgePaused)
}

// Unpause re-enables transfers. Admin only.
func (e *Engine) Unpause(caller string) ([]domain.Event, error) {
	return e.setPaused(caller, false, domain.EventBridgeUnpaused)
}

func (e *Engine) setPaused(caller string, paused bool, event string) ([]domain.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAdmin(caller); err != nil {
		return nil, err
	}
	e.paused = paused
	return []domain.Event{domain.NewEvent(domain.ChannelBridge, event, e.now(), nil)}, nil
}

// Transaction returns a copy of the transaction with the given hash.
func (e *Engine) Transaction(hash string) (domain.BridgeTransaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx, ok := e.txs[hash]
	if !ok {
		return domain.BridgeTransaction{}, fmt.Errorf("bridge: transaction %s: %w", hash, domain.ErrNotFound)
	}
	return cloneTx(tx), nil
}

// Transactions returns copies of all transactions in initiation order.
func (e *Engine) Transactions() []domain.BridgeTransaction {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]domain.BridgeTransaction, 0, len(e.txOrder))
	for _, h := range e.txOrder {
		out = append(out, cloneTx(e.txs[h]))
	}
	return out
}

// State returns a copy of the bridge control state.
func (e *Engine) State() domain.BridgeState {
	e.mu.Lock()
	defer e.mu.Unlock()

	return domain.BridgeState{
		Validators:           append([]string(nil), e.validatorOrder...),
		RequiredAttestations: e.required,
		FeeBps:               e.feeBps,
		Nonce:                e.nonce,
		Paused:               e.paused,
		TotalLocked:          new(big.Int).Set(e.totalLocked),
		TotalReleased:        new(big.Int).Set(e.totalReleased),
	}
}

func (e *Engine) requireAdmin(caller string) error {
	addr, err := chainutil.NormalizeAddress(caller)
	if err != nil {
		return err
	}
	if addr != e.admin {
		return fmt.Errorf("bridge: %s is not admin: %w", addr, domain.ErrUnauthorized)
	}
	return nil
}

func cloneTx(tx *domain.BridgeTransaction) domain.BridgeTransaction {
	out := *tx
	out.Amount = new(big.Int).Set(tx.Amount)
	out.Fee = new(big.Int).Set(tx.Fee)
	out.Attestors = append([]string(nil), tx.Attestors...)
	return out
}
