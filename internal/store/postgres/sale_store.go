package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gavelmarket/gavel/internal/domain"
)

// SaleStore implements domain.SaleStore using PostgreSQL.
type SaleStore struct {
	pool *pgxpool.Pool
}

const saleCols = `id, asset_id, seller, winner, amount, kind,
	seller_paid, asset_delivered, payout_resolved, settled_at`

// NewSaleStore creates a new SaleStore backed by the given connection pool.
func NewSaleStore(pool *pgxpool.Pool) *SaleStore {
	return &SaleStore{pool: pool}
}

// Get returns the most recent sale for an asset.
func (s *SaleStore) Get(ctx context.Context, assetID string) (domain.Sale, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+saleCols+`
		 FROM sales
		 WHERE asset_id = $1
		 ORDER BY settled_at DESC
		 LIMIT 1`,
		assetID,
	)
	sale, err := scanSale(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Sale{}, domain.ErrNotFound
		}
		return domain.Sale{}, fmt.Errorf("postgres: get sale %s: %w", assetID, err)
	}
	return sale, nil
}

// ListRecent returns the latest settled sales, newest first.
func (s *SaleStore) ListRecent(ctx context.Context, limit int) ([]domain.Sale, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+saleCols+`
		 FROM sales
		 ORDER BY settled_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent sales: %w", err)
	}
	defer rows.Close()
	return scanSales(rows)
}

// ListBefore returns sales settled before the cutoff, oldest first, used by
// the archiver.
func (s *SaleStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Sale, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+saleCols+`
		 FROM sales
		 WHERE settled_at < $1
		 ORDER BY settled_at ASC
		 LIMIT $2`,
		cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list sales before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	defer rows.Close()
	return scanSales(rows)
}

// ListUnresolved returns settled sales whose outbound legs did not finish,
// oldest first. Used by the resolution sweep.
func (s *SaleStore) ListUnresolved(ctx context.Context, limit int) ([]domain.Sale, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+saleCols+`
		 FROM sales
		 WHERE NOT asset_delivered OR NOT payout_resolved
		 ORDER BY settled_at ASC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list unresolved sales: %w", err)
	}
	defer rows.Close()
	return scanSales(rows)
}

func scanSales(rows pgx.Rows) ([]domain.Sale, error) {
	var out []domain.Sale
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan sale: %w", err)
		}
		out = append(out, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate sales: %w", err)
	}
	return out, nil
}

func scanSale(row pgx.Row) (domain.Sale, error) {
	var (
		sale   domain.Sale
		seller string
		winner string
	)
	if err := row.Scan(
		&sale.ID, &sale.AssetID, &seller, &winner, &sale.Amount, &sale.Kind,
		&sale.SellerPaid, &sale.AssetDelivered, &sale.PayoutResolved, &sale.SettledAt,
	); err != nil {
		return domain.Sale{}, err
	}
	sale.Seller = domain.Account(seller)
	sale.Winner = domain.Account(winner)
	return sale, nil
}

// Compile-time interface check.
var _ domain.SaleStore = (*SaleStore)(nil)
