package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantdao/ledgerd/internal/domain"
)

// ProposalStore implements domain.ProposalStore using PostgreSQL.
type ProposalStore struct {
	pool *pgxpool.Pool
}

// NewProposalStore creates a new ProposalStore backed by the given connection pool.
func NewProposalStore(pool *pgxpool.Pool) *ProposalStore {
	return &ProposalStore{pool: pool}
}

const proposalSelectCols = `id, proposer, description, kind, payload,
	start_time, end_time, for_votes, against_votes, executed, canceled, voters`

func scanProposalRows(rows pgx.Rows) ([]domain.Proposal, error) {
	var proposals []domain.Proposal
	for rows.Next() {
		var p domain.Proposal
		if err := rows.Scan(
			&p.ID, &p.Proposer, &p.Description, &p.Kind, &p.Payload,
			&p.StartTime, &p.EndTime, &p.ForVotes, &p.AgainstVotes,
			&p.Executed, &p.Canceled, &p.Voters,
		); err != nil {
			return nil, err
		}
		proposals = append(proposals, p)
	}
	return proposals, rows.Err()
}

// Upsert writes the full proposal row, replacing any previous state for the
// same id.
func (s *ProposalStore) Upsert(ctx context.Context, p domain.Proposal) error {
	const query = `
		INSERT INTO proposals (
			id, proposer, description, kind, payload,
			start_time, end_time, for_votes, against_votes,
			executed, canceled, voters, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		ON CONFLICT (id) DO UPDATE SET
			for_votes = EXCLUDED.for_votes,
			against_votes = EXCLUDED.against_votes,
			executed = EXCLUDED.executed,
			canceled = EXCLUDED.canceled,
			voters = EXCLUDED.voters,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Proposer, p.Description, p.Kind, p.Payload,
		p.StartTime, p.EndTime, p.ForVotes, p.AgainstVotes,
		p.Executed, p.Canceled, p.Voters,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert proposal %d: %w", p.ID, err)
	}
	return nil
}

// GetByID returns the proposal with the given id.
func (s *ProposalStore) GetByID(ctx context.Context, id uint64) (domain.Proposal, error) {
	var p domain.Proposal
	err := s.pool.QueryRow(ctx,
		`SELECT `+proposalSelectCols+` FROM proposals WHERE id = $1`, id,
	).Scan(
		&p.ID, &p.Proposer, &p.Description, &p.Kind, &p.Payload,
		&p.StartTime, &p.EndTime, &p.ForVotes, &p.AgainstVotes,
		&p.Executed, &p.Canceled, &p.Voters,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Proposal{}, fmt.Errorf("postgres: proposal %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Proposal{}, fmt.Errorf("postgres: get proposal %d: %w", id, err)
	}
	return p, nil
}

// List returns proposals ordered by id descending, with pagination and
// optional time filtering on end_time.
func (s *ProposalStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Proposal, error) {
	query := `SELECT ` + proposalSelectCols + ` FROM proposals WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND end_time >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND end_time <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY id DESC"

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
		return nil, fmt.Errorf("postgres: list proposals: %w", err)
	}
	defer rows.Close()

	proposals, err := scanProposalRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan proposals: %w", err)
	}
	return proposals, nil
}

// Count returns the total number of proposals.
func (s *ProposalStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM proposals`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count proposals: %w", err)
	}
	return n, nil
}
