package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantdao/ledgerd/internal/domain"
)

// AgentStore implements domain.AgentStore using PostgreSQL.
type AgentStore struct {
	pool *pgxpool.Pool
}

// NewAgentStore creates a new AgentStore backed by the given connection pool.
func NewAgentStore(pool *pgxpool.Pool) *AgentStore {
	return &AgentStore{pool: pool}
}

const agentSelectCols = `id, name, external_address, is_active,
	allocation_bps, total_trades, cumulative_pnl_bps, registered_at`

// Upsert writes the full agent row, replacing any previous state for the
// same id.
func (s *AgentStore) Upsert(ctx context.Context, agent domain.Agent) error {
	const query = `
		INSERT INTO agents (
			id, name, external_address, is_active,
			allocation_bps, total_trades, cumulative_pnl_bps,
			registered_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (id) DO UPDATE SET
			is_active = EXCLUDED.is_active,
			allocation_bps = EXCLUDED.allocation_bps,
			total_trades = EXCLUDED.total_trades,
			cumulative_pnl_bps = EXCLUDED.cumulative_pnl_bps,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		agent.ID, agent.Name, agent.ExternalAddress, agent.IsActive,
		agent.AllocationBps, agent.TotalTrades, agent.CumulativePnlBps,
		agent.RegisteredAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert agent %d: %w", agent.ID, err)
	}
	return nil
}

// GetByID returns the agent with the given id.
func (s *AgentStore) GetByID(ctx context.Context, id uint64) (domain.Agent, error) {
	var a domain.Agent
	err := s.pool.QueryRow(ctx,
		`SELECT `+agentSelectCols+` FROM agents WHERE id = $1`, id,
	).Scan(
		&a.ID, &a.Name, &a.ExternalAddress, &a.IsActive,
		&a.AllocationBps, &a.TotalTrades, &a.CumulativePnlBps, &a.RegisteredAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Agent{}, fmt.Errorf("postgres: agent %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Agent{}, fmt.Errorf("postgres: get agent %d: %w", id, err)
	}
	return a, nil
}

// List returns all agents ordered by id.
func (s *AgentStore) List(ctx context.Context) ([]domain.Agent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+agentSelectCols+` FROM agents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list agents: %w", err)
	}
	defer rows.Close()

	var agents []domain.Agent
	for rows.Next() {
		var a domain.Agent
		if err := rows.Scan(
			&a.ID, &a.Name, &a.ExternalAddress, &a.IsActive,
			&a.AllocationBps, &a.TotalTrades, &a.CumulativePnlBps, &a.RegisteredAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list agents rows: %w", err)
	}
	return agents, nil
}
