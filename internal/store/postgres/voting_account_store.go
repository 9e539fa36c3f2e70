package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantdao/ledgerd/internal/domain"
)

// VotingAccountStore implements domain.VotingAccountStore using PostgreSQL.
type VotingAccountStore struct {
	pool *pgxpool.Pool
}

// NewVotingAccountStore creates a new VotingAccountStore backed by the given
// connection pool.
func NewVotingAccountStore(pool *pgxpool.Pool) *VotingAccountStore {
	return &VotingAccountStore{pool: pool}
}

// Upsert writes the account's current voting power.
func (s *VotingAccountStore) Upsert(ctx context.Context, acct domain.VotingAccount) error {
	const query = `
		INSERT INTO voting_accounts (address, power, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (address) DO UPDATE SET
			power = EXCLUDED.power,
			updated_at = NOW()`

	if _, err := s.pool.Exec(ctx, query, acct.Address, acct.Power); err != nil {
		return fmt.Errorf("postgres: upsert voting account %s: %w", acct.Address, err)
	}
	return nil
}

// GetByAddress returns the voting account for the given address.
func (s *VotingAccountStore) GetByAddress(ctx context.Context, addr string) (domain.VotingAccount, error) {
	var acct domain.VotingAccount
	err := s.pool.QueryRow(ctx,
		`SELECT address, power FROM voting_accounts WHERE address = $1`, addr,
	).Scan(&acct.Address, &acct.Power)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.VotingAccount{}, fmt.Errorf("postgres: voting account %s: %w", addr, domain.ErrNotFound)
	}
	if err != nil {
		return domain.VotingAccount{}, fmt.Errorf("postgres: get voting account %s: %w", addr, err)
	}
	return acct, nil
}

// List returns all voting accounts ordered by address.
func (s *VotingAccountStore) List(ctx context.Context) ([]domain.VotingAccount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT address, power FROM voting_accounts ORDER BY address`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list voting accounts: %w", err)
	}
	defer rows.Close()

	var accounts []domain.VotingAccount
	for rows.Next() {
		var acct domain.VotingAccount
		if err := rows.Scan(&acct.Address, &acct.Power); err != nil {
			return nil, fmt.Errorf("postgres: scan voting account: %w", err)
		}
		accounts = append(accounts, acct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list voting accounts rows: %w", err)
	}
	return accounts, nil
}
