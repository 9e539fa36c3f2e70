package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ConsumedAuthStore implements domain.ConsumedAuthStore using PostgreSQL.
type ConsumedAuthStore struct {
	pool *pgxpool.Pool
}

// NewConsumedAuthStore creates a new ConsumedAuthStore backed by the given
// connection pool.
func NewConsumedAuthStore(pool *pgxpool.Pool) *ConsumedAuthStore {
	return &ConsumedAuthStore{pool: pool}
}

// Mark records the proposal id as consumed. Marking twice is a no-op.
func (s *ConsumedAuthStore) Mark(ctx context.Context, proposalID uint64) error {
	const query = `
		INSERT INTO consumed_authorizations (proposal_id)
		VALUES ($1)
		ON CONFLICT (proposal_id) DO NOTHING`

	if _, err := s.pool.Exec(ctx, query, proposalID); err != nil {
		return fmt.Errorf("postgres: mark consumed auth %d: %w", proposalID, err)
	}
	return nil
}

// List returns all consumed proposal ids in ascending order.
func (s *ConsumedAuthStore) List(ctx context.Context) ([]uint64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT proposal_id FROM consumed_authorizations ORDER BY proposal_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list consumed auths: %w", err)
	}
	defer rows.Close()

	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan consumed auth: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list consumed auths rows: %w", err)
	}
	return ids, nil
}
