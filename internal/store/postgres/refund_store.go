package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gavelmarket/gavel/internal/domain"
)

// RefundStore implements domain.RefundStore using PostgreSQL.
type RefundStore struct {
	pool *pgxpool.Pool
}

// NewRefundStore creates a new RefundStore backed by the given connection
// pool.
func NewRefundStore(pool *pgxpool.Pool) *RefundStore {
	return &RefundStore{pool: pool}
}

// MarkPaid resolves a pending refund as paid out directly.
func (s *RefundStore) MarkPaid(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE refunds SET status = $2, resolved_at = NOW()
		 WHERE id = $1 AND status = $3`,
		id, domain.RefundPaid, domain.RefundPending,
	)
	if err != nil {
		return fmt.Errorf("postgres: mark refund paid %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkCredited resolves a pending refund into the credit ledger. The status
// flip and the balance increment commit together, so a refund is never both
// credited and lost.
func (s *RefundStore) MarkCredited(ctx context.Context, id, reason string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin credit tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	var (
		bidder string
		amount int64
	)
	err = tx.QueryRow(ctx,
		`UPDATE refunds SET status = $2, reason = $3, resolved_at = NOW()
		 WHERE id = $1 AND status = $4
		 RETURNING bidder, amount`,
		id, domain.RefundCredited, reason, domain.RefundPending,
	).Scan(&bidder, &amount)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.ErrNotFound
		}
		return fmt.Errorf("postgres: mark refund credited %s: %w", id, err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO credits (account, amount, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (account)
		 DO UPDATE SET amount = credits.amount + EXCLUDED.amount, updated_at = NOW()`,
		bidder, amount,
	); err != nil {
		return fmt.Errorf("postgres: increment credits %s: %w", bidder, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit credit tx: %w", err)
	}
	return nil
}

// ListByAccount returns refunds owed to or resolved for an account, newest
// first.
func (s *RefundStore) ListByAccount(ctx context.Context, account domain.Account, opts domain.ListOpts) ([]domain.Refund, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, asset_id, bidder, amount, status, reason, created_at, resolved_at
		 FROM refunds
		 WHERE bidder = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		account.String(), limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list refunds %s: %w", account, err)
	}
	defer rows.Close()
	return scanRefunds(rows)
}

// ListResolvedBefore returns resolved refunds older than the cutoff, used by
// the archiver.
func (s *RefundStore) ListResolvedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Refund, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, asset_id, bidder, amount, status, reason, created_at, resolved_at
		 FROM refunds
		 WHERE status <> $1 AND resolved_at < $2
		 ORDER BY resolved_at ASC
		 LIMIT $3`,
		domain.RefundPending, cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list resolved refunds: %w", err)
	}
	defer rows.Close()
	return scanRefunds(rows)
}

func scanRefunds(rows pgx.Rows) ([]domain.Refund, error) {
	var out []domain.Refund
	for rows.Next() {
		var (
			r      domain.Refund
			bidder string
		)
		if err := rows.Scan(&r.ID, &r.AssetID, &bidder, &r.Amount, &r.Status, &r.Reason, &r.CreatedAt, &r.ResolvedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan refund: %w", err)
		}
		r.Bidder = domain.Account(bidder)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate refunds: %w", err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.RefundStore = (*RefundStore)(nil)
