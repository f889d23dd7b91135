package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gavelmarket/gavel/internal/domain"
)

// CreditStore implements domain.CreditStore using PostgreSQL.
type CreditStore struct {
	pool *pgxpool.Pool
}

// NewCreditStore creates a new CreditStore backed by the given connection
// pool.
func NewCreditStore(pool *pgxpool.Pool) *CreditStore {
	return &CreditStore{pool: pool}
}

// Balance returns the withdrawable amount for an account, zero if the
// account has no entry.
func (s *CreditStore) Balance(ctx context.Context, account domain.Account) (int64, error) {
	var amount int64
	err := s.pool.QueryRow(ctx,
		`SELECT amount FROM credits WHERE account = $1`, account.String(),
	).Scan(&amount)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("postgres: credit balance %s: %w", account, err)
	}
	return amount, nil
}

// WithdrawAll drains the account's balance. The row is locked and zeroed
// before payout is invoked; if payout fails the transaction rolls back and
// the balance is exactly as it was. The row lock also blocks a concurrent
// withdrawal from reading the stale balance while the payout is in flight.
func (s *CreditStore) WithdrawAll(ctx context.Context, account domain.Account, payout func(amount int64) error) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: begin withdraw tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	var amount int64
	err = tx.QueryRow(ctx,
		`SELECT amount FROM credits WHERE account = $1 FOR UPDATE`,
		account.String(),
	).Scan(&amount)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, domain.ErrNoCredits
		}
		return 0, fmt.Errorf("postgres: lock credit row %s: %w", account, err)
	}
	if amount <= 0 {
		return 0, domain.ErrNoCredits
	}

	if _, err := tx.Exec(ctx,
		`UPDATE credits SET amount = 0, updated_at = NOW() WHERE account = $1`,
		account.String(),
	); err != nil {
		return 0, fmt.Errorf("postgres: zero credit balance %s: %w", account, err)
	}

	// Balance is zeroed in this transaction before the payout runs; a
	// payout failure rolls everything back so credits are never destroyed
	// unpaid.
	if err := payout(amount); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: commit withdraw tx: %w", err)
	}
	return amount, nil
}

// Compile-time interface check.
var _ domain.CreditStore = (*CreditStore)(nil)
