package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantdao/ledgerd/internal/domain"
)

// BridgeTxStore implements domain.BridgeTxStore using PostgreSQL.
type BridgeTxStore struct {
	pool *pgxpool.Pool
}

// NewBridgeTxStore creates a new BridgeTxStore backed by the given connection pool.
func NewBridgeTxStore(pool *pgxpool.Pool) *BridgeTxStore {
	return &BridgeTxStore{pool: pool}
}

const bridgeTxSelectCols = `hash, sender, recipient, amount::text, fee::text,
	source_domain, dest_domain, timestamp, nonce, is_completed, attestors`

func scanBridgeTx(row pgx.Row) (domain.BridgeTransaction, error) {
	var tx domain.BridgeTransaction
	var amountStr, feeStr string
	if err := row.Scan(
		&tx.Hash, &tx.Sender, &tx.Recipient, &amountStr, &feeStr,
		&tx.SourceDomain, &tx.DestDomain, &tx.Timestamp, &tx.Nonce,
		&tx.IsCompleted, &tx.Attestors,
	); err != nil {
		return domain.BridgeTransaction{}, err
	}
	var err error
	if tx.Amount, err = bigFromText(amountStr); err != nil {
		return domain.BridgeTransaction{}, err
	}
	if tx.Fee, err = bigFromText(feeStr); err != nil {
		return domain.BridgeTransaction{}, err
	}
	return tx, nil
}

// Upsert writes the full bridge transaction row, replacing any previous
// state for the same hash.
func (s *BridgeTxStore) Upsert(ctx context.Context, tx domain.BridgeTransaction) error {
	const query = `
		INSERT INTO bridge_transactions (
			hash, sender, recipient, amount, fee,
			source_domain, dest_domain, timestamp, nonce,
			is_completed, attestors, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (hash) DO UPDATE SET
			is_completed = EXCLUDED.is_completed,
			attestors = EXCLUDED.attestors,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		tx.Hash, tx.Sender, tx.Recipient,
		numericText(tx.Amount), numericText(tx.Fee),
		tx.SourceDomain, tx.DestDomain, tx.Timestamp, tx.Nonce,
		tx.IsCompleted, tx.Attestors,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert bridge tx %s: %w", tx.Hash, err)
	}
	return nil
}

// GetByHash returns the bridge transaction with the given hash.
func (s *BridgeTxStore) GetByHash(ctx context.Context, hash string) (domain.BridgeTransaction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+bridgeTxSelectCols+` FROM bridge_transactions WHERE hash = $1`, hash)

	tx, err := scanBridgeTx(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.BridgeTransaction{}, fmt.Errorf("postgres: bridge tx %s: %w", hash, domain.ErrNotFound)
	}
	if err != nil {
		return domain.BridgeTransaction{}, fmt.Errorf("postgres: get bridge tx %s: %w", hash, err)
	}
	return tx, nil
}

// ListPending returns transactions still awaiting attestations, newest first.
func (s *BridgeTxStore) ListPending(ctx context.Context, opts domain.ListOpts) ([]domain.BridgeTransaction, error) {
	return s.list(ctx, opts, true)
}

// List returns all bridge transactions, newest first.
func (s *BridgeTxStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.BridgeTransaction, error) {
	return s.list(ctx, opts, false)
}

func (s *BridgeTxStore) list(ctx context.Context, opts domain.ListOpts, pendingOnly bool) ([]domain.BridgeTransaction, error) {
	query := `SELECT ` + bridgeTxSelectCols + ` FROM bridge_transactions WHERE 1=1`
	args := []any{}
	argIdx := 1

	if pendingOnly {
		query += " AND NOT is_completed"
	}
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
		return nil, fmt.Errorf("postgres: list bridge txs: %w", err)
	}
	defer rows.Close()

	var txs []domain.BridgeTransaction
	for rows.Next() {
		tx, err := scanBridgeTx(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bridge tx: %w", err)
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bridge txs rows: %w", err)
	}
	return txs, nil
}
