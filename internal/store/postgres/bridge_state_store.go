package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantdao/ledgerd/internal/domain"
)

// BridgeStateStore implements domain.BridgeStateStore using PostgreSQL. The
// bridge control state lives in a single row with id 1.
type BridgeStateStore struct {
	pool *pgxpool.Pool
}

// NewBridgeStateStore creates a new BridgeStateStore backed by the given
// connection pool.
func NewBridgeStateStore(pool *pgxpool.Pool) *BridgeStateStore {
	return &BridgeStateStore{pool: pool}
}

// Save writes the singleton bridge state row.
func (s *BridgeStateStore) Save(ctx context.Context, state domain.BridgeState) error {
	const query = `
		INSERT INTO bridge_state (
			id, validators, required_attestations, fee_bps, nonce, paused,
			total_locked, total_released, updated_at
		) VALUES (1, $1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (id) DO UPDATE SET
			validators = EXCLUDED.validators,
			required_attestations = EXCLUDED.required_attestations,
			fee_bps = EXCLUDED.fee_bps,
			nonce = EXCLUDED.nonce,
			paused = EXCLUDED.paused,
			total_locked = EXCLUDED.total_locked,
			total_released = EXCLUDED.total_released,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		state.Validators, state.RequiredAttestations, state.FeeBps,
		state.Nonce, state.Paused,
		numericText(state.TotalLocked), numericText(state.TotalReleased),
	)
	if err != nil {
		return fmt.Errorf("postgres: save bridge state: %w", err)
	}
	return nil
}

// Load returns the singleton bridge state row.
func (s *BridgeStateStore) Load(ctx context.Context) (domain.BridgeState, error) {
	var state domain.BridgeState
	var lockedStr, releasedStr string
	err := s.pool.QueryRow(ctx, `
		SELECT validators, required_attestations, fee_bps, nonce, paused,
			total_locked::text, total_released::text
		FROM bridge_state WHERE id = 1`,
	).Scan(
		&state.Validators, &state.RequiredAttestations, &state.FeeBps,
		&state.Nonce, &state.Paused, &lockedStr, &releasedStr,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.BridgeState{}, fmt.Errorf("postgres: bridge state: %w", domain.ErrNotFound)
	}
	if err != nil {
		return domain.BridgeState{}, fmt.Errorf("postgres: load bridge state: %w", err)
	}

	if state.TotalLocked, err = bigFromText(lockedStr); err != nil {
		return domain.BridgeState{}, err
	}
	if state.TotalReleased, err = bigFromText(releasedStr); err != nil {
		return domain.BridgeState{}, err
	}
	return state, nil
}
