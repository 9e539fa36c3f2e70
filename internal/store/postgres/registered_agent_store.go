package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantdao/ledgerd/internal/domain"
)

// RegisteredAgentStore implements domain.RegisteredAgentStore using
// PostgreSQL. Performance snapshots live in their own append-only table.
type RegisteredAgentStore struct {
	pool *pgxpool.Pool
}

// NewRegisteredAgentStore creates a new RegisteredAgentStore backed by the
// given connection pool.
func NewRegisteredAgentStore(pool *pgxpool.Pool) *RegisteredAgentStore {
	return &RegisteredAgentStore{pool: pool}
}

const registeredAgentSelectCols = `address, name, strategy_description,
	model_reference, staked_amount::text, reputation_score, is_verified, registered_at`

func scanRegisteredAgent(row pgx.Row) (domain.RegisteredAgent, error) {
	var a domain.RegisteredAgent
	var stakedStr string
	if err := row.Scan(
		&a.Address, &a.Name, &a.StrategyDescription, &a.ModelReference,
		&stakedStr, &a.ReputationScore, &a.IsVerified, &a.RegisteredAt,
	); err != nil {
		return domain.RegisteredAgent{}, err
	}
	var err error
	if a.StakedAmount, err = bigFromText(stakedStr); err != nil {
		return domain.RegisteredAgent{}, err
	}
	return a, nil
}

// Upsert writes the full registry agent row, replacing any previous state
// for the same address.
func (s *RegisteredAgentStore) Upsert(ctx context.Context, agent domain.RegisteredAgent) error {
	const query = `
		INSERT INTO registered_agents (
			address, name, strategy_description, model_reference,
			staked_amount, reputation_score, is_verified, registered_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (address) DO UPDATE SET
			staked_amount = EXCLUDED.staked_amount,
			reputation_score = EXCLUDED.reputation_score,
			is_verified = EXCLUDED.is_verified,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		agent.Address, agent.Name, agent.StrategyDescription, agent.ModelReference,
		numericText(agent.StakedAmount), agent.ReputationScore,
		agent.IsVerified, agent.RegisteredAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert registered agent %s: %w", agent.Address, err)
	}
	return nil
}

// GetByAddress returns the registry agent with the given address.
func (s *RegisteredAgentStore) GetByAddress(ctx context.Context, addr string) (domain.RegisteredAgent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+registeredAgentSelectCols+` FROM registered_agents WHERE address = $1`, addr)

	agent, err := scanRegisteredAgent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RegisteredAgent{}, fmt.Errorf("postgres: registered agent %s: %w", addr, domain.ErrNotFound)
	}
	if err != nil {
		return domain.RegisteredAgent{}, fmt.Errorf("postgres: get registered agent %s: %w", addr, err)
	}
	return agent, nil
}

// List returns all registry agents ordered by registration time.
func (s *RegisteredAgentStore) List(ctx context.Context) ([]domain.RegisteredAgent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+registeredAgentSelectCols+` FROM registered_agents ORDER BY registered_at, address`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list registered agents: %w", err)
	}
	defer rows.Close()

	var agents []domain.RegisteredAgent
	for rows.Next() {
		agent, err := scanRegisteredAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan registered agent: %w", err)
		}
		agents = append(agents, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list registered agents rows: %w", err)
	}
	return agents, nil
}

// AppendSnapshot inserts one performance report for the agent.
func (s *RegisteredAgentStore) AppendSnapshot(ctx context.Context, addr string, snap domain.PerformanceSnapshot) error {
	const query = `
		INSERT INTO performance_snapshots (
			agent_address, timestamp, pnl, sharpe_ratio_scaled, max_drawdown_bps, total_trades
		) VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, query,
		addr, snap.Timestamp, snap.Pnl, snap.SharpeRatioScaled,
		snap.MaxDrawdownBps, snap.TotalTrades,
	)
	if err != nil {
		return fmt.Errorf("postgres: append snapshot for %s: %w", addr, err)
	}
	return nil
}

// ListSnapshots returns the agent's performance reports newest first, with
// pagination and optional time filtering.
func (s *RegisteredAgentStore) ListSnapshots(ctx context.Context, addr string, opts domain.ListOpts) ([]domain.PerformanceSnapshot, error) {
	query := `SELECT timestamp, pnl, sharpe_ratio_scaled, max_drawdown_bps, total_trades
		FROM performance_snapshots WHERE agent_address = $1`
	args := []any{addr}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND timestamp <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY timestamp DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list snapshots for %s: %w", addr, err)
	}
	defer rows.Close()

	var snaps []domain.PerformanceSnapshot
	for rows.Next() {
		var snap domain.PerformanceSnapshot
		if err := rows.Scan(
			&snap.Timestamp, &snap.Pnl, &snap.SharpeRatioScaled,
			&snap.MaxDrawdownBps, &snap.TotalTrades,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list snapshots rows: %w", err)
	}
	return snaps, nil
}
