package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantdao/ledgerd/internal/domain"
)

// FundStateStore implements domain.FundStateStore using PostgreSQL. The
// pooled accounting lives in a single row with id 1.
type FundStateStore struct {
	pool *pgxpool.Pool
}

// NewFundStateStore creates a new FundStateStore backed by the given
// connection pool.
func NewFundStateStore(pool *pgxpool.Pool) *FundStateStore {
	return &FundStateStore{pool: pool}
}

// Save writes the singleton fund state row.
func (s *FundStateStore) Save(ctx context.Context, state domain.FundState) error {
	const query = `
		INSERT INTO fund_state (id, total_assets, total_shares, fee_baseline, emergency_stop, updated_at)
		VALUES (1, $1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE SET
			total_assets = EXCLUDED.total_assets,
			total_shares = EXCLUDED.total_shares,
			fee_baseline = EXCLUDED.fee_baseline,
			emergency_stop = EXCLUDED.emergency_stop,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		numericText(state.TotalAssets),
		numericText(state.TotalShares),
		numericText(state.FeeBaseline),
		state.EmergencyStop,
	)
	if err != nil {
		return fmt.Errorf("postgres: save fund state: %w", err)
	}
	return nil
}

// Load returns the singleton fund state row.
func (s *FundStateStore) Load(ctx context.Context) (domain.FundState, error) {
	var state domain.FundState
	var assetsStr, sharesStr, baseStr string
	err := s.pool.QueryRow(ctx, `
		SELECT total_assets::text, total_shares::text, fee_baseline::text, emergency_stop
		FROM fund_state WHERE id = 1`,
	).Scan(&assetsStr, &sharesStr, &baseStr, &state.EmergencyStop)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.FundState{}, fmt.Errorf("postgres: fund state: %w", domain.ErrNotFound)
	}
	if err != nil {
		return domain.FundState{}, fmt.Errorf("postgres: load fund state: %w", err)
	}

	if state.TotalAssets, err = bigFromText(assetsStr); err != nil {
		return domain.FundState{}, err
	}
	if state.TotalShares, err = bigFromText(sharesStr); err != nil {
		return domain.FundState{}, err
	}
	if state.FeeBaseline, err = bigFromText(baseStr); err != nil {
		return domain.FundState{}, err
	}
	return state, nil
}
