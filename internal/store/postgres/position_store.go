package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantdao/ledgerd/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Upsert writes the investor's position, replacing any previous row for the
// same address.
func (s *PositionStore) Upsert(ctx context.Context, pos domain.InvestorPosition) error {
	const query = `
		INSERT INTO positions (address, shares, deposited_amount, deposit_time, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (address) DO UPDATE SET
			shares = EXCLUDED.shares,
			deposited_amount = EXCLUDED.deposited_amount,
			deposit_time = EXCLUDED.deposit_time,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		pos.Address,
		numericText(pos.Shares),
		numericText(pos.DepositedAmount),
		pos.DepositTime,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s: %w", pos.Address, err)
	}
	return nil
}

func scanPosition(row pgx.Row) (domain.InvestorPosition, error) {
	var pos domain.InvestorPosition
	var sharesStr, depositedStr string
	if err := row.Scan(&pos.Address, &sharesStr, &depositedStr, &pos.DepositTime); err != nil {
		return domain.InvestorPosition{}, err
	}
	var err error
	if pos.Shares, err = bigFromText(sharesStr); err != nil {
		return domain.InvestorPosition{}, err
	}
	if pos.DepositedAmount, err = bigFromText(depositedStr); err != nil {
		return domain.InvestorPosition{}, err
	}
	return pos, nil
}

// GetByAddress returns the position for the given investor address.
func (s *PositionStore) GetByAddress(ctx context.Context, addr string) (domain.InvestorPosition, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT address, shares::text, deposited_amount::text, deposit_time
		FROM positions WHERE address = $1`, addr)

	pos, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.InvestorPosition{}, fmt.Errorf("postgres: position %s: %w", addr, domain.ErrNotFound)
	}
	if err != nil {
		return domain.InvestorPosition{}, fmt.Errorf("postgres: get position %s: %w", addr, err)
	}
	return pos, nil
}

// List returns all investor positions ordered by address.
func (s *PositionStore) List(ctx context.Context) ([]domain.InvestorPosition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT address, shares::text, deposited_amount::text, deposit_time
		FROM positions ORDER BY address`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.InvestorPosition
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list positions rows: %w", err)
	}
	return positions, nil
}

// Delete removes the position row for the given address. Deleting a missing
// row is not an error.
func (s *PositionStore) Delete(ctx context.Context, addr string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE address = $1`, addr); err != nil {
		return fmt.Errorf("postgres: delete position %s: %w", addr, err)
	}
	return nil
}
