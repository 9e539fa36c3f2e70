package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/quantdao/ledgerd/internal/bridge"
	"github.com/quantdao/ledgerd/internal/domain"
)

// BridgeService fronts the bridge engine: it applies operations, writes the
// affected rows through to Postgres, and publishes the resulting events.
type BridgeService struct {
	engine *bridge.Engine
	txs    domain.BridgeTxStore
	state  domain.BridgeStateStore
	bus    domain.SignalBus
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewBridgeService creates a BridgeService with all required dependencies.
// Stores, bus, and audit may be nil in replay mode.
func NewBridgeService(
	engine *bridge.Engine,
	txs domain.BridgeTxStore,
	state domain.BridgeStateStore,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *BridgeService {
	return &BridgeService{
		engine: engine,
		txs:    txs,
		state:  state,
		bus:    bus,
		audit:  audit,
		logger: logger,
	}
}

// InitiateBridge locks funds for a cross-domain transfer and returns the
// pending transaction.
func (s *BridgeService) InitiateBridge(ctx context.Context, caller, recipient string, amount *big.Int, destDomain uint64) (domain.BridgeTransaction, error) {
	tx, events, err := s.engine.InitiateBridge(caller, recipient, amount, destDomain)
	if err != nil {
		return domain.BridgeTransaction{}, fmt.Errorf("bridge_service: initiate: %w", err)
	}

	if err := s.persistTx(ctx, tx); err != nil {
		return tx, err
	}
	if err := s.persistState(ctx); err != nil {
		return tx, err
	}

	publishEvents(ctx, s.bus, s.logger, events)
	auditLog(ctx, s.audit, s.logger, "bridge.initiated", map[string]any{
		"hash":        tx.Hash,
		"sender":      tx.Sender,
		"recipient":   tx.Recipient,
		"amount":      tx.Amount.String(),
		"dest_domain": tx.DestDomain,
	})

	s.logger.InfoContext(ctx, "bridge_service: transfer initiated",
		slog.String("hash", tx.Hash),
		slog.Uint64("dest_domain", tx.DestDomain),
	)
	return tx, nil
}

// SubmitAttestation records a validator's attestation, completing the
// transfer when the threshold is reached.
func (s *BridgeService) SubmitAttestation(ctx context.Context, caller, txHash string) (domain.BridgeTransaction, error) {
	tx, events, err := s.engine.SubmitAttestation(caller, txHash)
	if err != nil {
		return domain.BridgeTransaction{}, fmt.Errorf("bridge_service: attest: %w", err)
	}

	if err := s.persistTx(ctx, tx); err != nil {
		return tx, err
	}
	if tx.IsCompleted {
		if err := s.persistState(ctx); err != nil {
			return tx, err
		}
		s.logger.InfoContext(ctx, "bridge_service: transfer completed",
			slog.String("hash", tx.Hash),
			slog.Int("attestations", len(tx.Attestors)),
		)
	}

	publishEvents(ctx, s.bus, s.logger, events)
	auditLog(ctx, s.audit, s.logger, "bridge.attestation", map[string]any{
		"hash":      txHash,
		"validator": caller,
		"completed": tx.IsCompleted,
	})
	return tx, nil
}

// AddValidator adds a validator to the set.
func (s *BridgeService) AddValidator(ctx context.Context, caller, validator string) error {
	events, err := s.engine.AddValidator(caller, validator)
	if err != nil {
		return fmt.Errorf("bridge_service: add validator: %w", err)
	}

	if err := s.persistState(ctx); err != nil {
		return err
	}

	publishEvents(ctx, s.bus, s.logger, events)
	auditLog(ctx, s.audit, s.logger, "bridge.validator_added", map[string]any{
		"validator": validator,
	})
	return nil
}

// RemoveValidator removes a validator from the set.
func (s *BridgeService) RemoveValidator(ctx context.Context, caller, validator string) error {
	events, err := s.engine.RemoveValidator(caller, validator)
	if err != nil {
		return fmt.Errorf("bridge_service: remove validator: %w", err)
	}

	if err := s.persistState(ctx); err != nil {
		return err
	}

	publishEvents(ctx, s.bus, s.logger, events)
	auditLog(ctx, s.audit, s.logger, "bridge.validator_removed", map[string]any{
		"validator": validator,
	})
	return nil
}

// UpdateRequiredAttestations changes the completion threshold.
func (s *BridgeService) UpdateRequiredAttestations(ctx context.Context, caller string, n uint64) error {
	if err := s.engine.UpdateRequiredAttestations(caller, n); err != nil {
		return fmt.Errorf("bridge_service: update required attestations: %w", err)
	}

	if err := s.persistState(ctx); err != nil {
		return err
	}

	auditLog(ctx, s.audit, s.logger, "bridge.threshold_updated", map[string]any{
		"required_attestations": n,
	})
	return nil
}

// Pause halts new transfers. Attestations on pending transfers continue.
func (s *BridgeService) Pause(ctx context.Context, caller string) error {
	return s.setPaused(ctx, caller, true)
}

// Unpause re-enables new transfers.
func (s *BridgeService) Unpause(ctx context.Context, caller string) error {
	return s.setPaused(ctx, caller, false)
}

func (s *BridgeService) setPaused(ctx context.Context, caller string, paused bool) error {
	var events []domain.Event
	var err error
	if paused {
		events, err = s.engine.Pause(caller)
	} else {
		events, err = s.engine.Unpause(caller)
	}
	if err != nil {
		return fmt.Errorf("bridge_service: set paused: %w", err)
	}

	if err := s.persistState(ctx); err != nil {
		return err
	}

	publishEvents(ctx, s.bus, s.logger, events)
	auditLog(ctx, s.audit, s.logger, "bridge.paused", map[string]any{
		"paused": paused,
	})

	s.logger.WarnContext(ctx, "bridge_service: pause state changed",
		slog.Bool("paused", paused),
	)
	return nil
}

// Transaction returns one bridge transaction by hash.
func (s *BridgeService) Transaction(_ context.Context, hash string) (domain.BridgeTransaction, error) {
	tx, err := s.engine.Transaction(hash)
	if err != nil {
		return domain.BridgeTransaction{}, fmt.Errorf("bridge_service: get tx %s: %w", hash, err)
	}
	return tx, nil
}

// Transactions returns all bridge transactions in initiation order.
func (s *BridgeService) Transactions(_ context.Context) []domain.BridgeTransaction {
	return s.engine.Transactions()
}

// State returns the bridge control state.
func (s *BridgeService) State(_ context.Context) domain.BridgeState {
	return s.engine.State()
}

func (s *BridgeService) persistTx(ctx context.Context, tx domain.BridgeTransaction) error {
	if s.txs == nil {
		return nil
	}
	if err := s.txs.Upsert(ctx, tx); err != nil {
		return fmt.Errorf("bridge_service: persist tx: %w", err)
	}
	return nil
}

func (s *BridgeService) persistState(ctx context.Context) error {
	if s.state == nil {
		return nil
	}
	if err := s.state.Save(ctx, s.engine.State()); err != nil {
		return fmt.Errorf("bridge_service: persist state: %w", err)
	}
	return nil
}
