package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gavelmarket/gavel/internal/domain"
)

// ListingStore implements domain.ListingStore using PostgreSQL.
type ListingStore struct {
	pool *pgxpool.Pool
}

// NewListingStore creates a new ListingStore backed by the given connection
// pool.
func NewListingStore(pool *pgxpool.Pool) *ListingStore {
	return &ListingStore{pool: pool}
}

const listingCols = `asset_id, seller, min_price, buy_now_price, listed,
	auction_end, created_at, updated_at`

// Upsert inserts or replaces a listing. Relisting a tombstoned asset
// overwrites the previous terms.
func (s *ListingStore) Upsert(ctx context.Context, l domain.Listing) error {
	const query = `
		INSERT INTO listings (
			asset_id, seller, min_price, buy_now_price, listed,
			auction_end, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (asset_id) DO UPDATE SET
			seller        = EXCLUDED.seller,
			min_price     = EXCLUDED.min_price,
			buy_now_price = EXCLUDED.buy_now_price,
			listed        = EXCLUDED.listed,
			auction_end   = EXCLUDED.auction_end,
			updated_at    = NOW()`

	_, err := s.pool.Exec(ctx, query,
		l.AssetID, l.Seller.String(), l.MinPrice, l.BuyNowPrice, l.Listed,
		nullableTime(l.AuctionEnd), l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert listing %s: %w", l.AssetID, err)
	}
	return nil
}

// Get retrieves a listing by asset ID.
func (s *ListingStore) Get(ctx context.Context, assetID string) (domain.Listing, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+listingCols+` FROM listings WHERE asset_id = $1`, assetID)
	l, err := scanListing(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Listing{}, domain.ErrNotFound
		}
		return domain.Listing{}, fmt.Errorf("postgres: get listing %s: %w", assetID, err)
	}
	return l, nil
}

// ListActive returns currently listed assets with pagination.
func (s *ListingStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Listing, error) {
	query := `SELECT ` + listingCols + ` FROM listings WHERE listed`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

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
		return nil, fmt.Errorf("postgres: list active listings: %w", err)
	}
	defer rows.Close()

	var listings []domain.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan listing: %w", err)
		}
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list active listings rows: %w", err)
	}
	return listings, nil
}

// Count returns the total number of listings, tombstones included.
func (s *ListingStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM listings").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count listings: %w", err)
	}
	return count, nil
}

// scanListing scans a single listing row into a domain.Listing.
func scanListing(row pgx.Row) (domain.Listing, error) {
	var l domain.Listing
	var seller string
	var auctionEnd *time.Time
	err := row.Scan(
		&l.AssetID, &seller, &l.MinPrice, &l.BuyNowPrice, &l.Listed,
		&auctionEnd, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return domain.Listing{}, err
	}
	l.Seller = domain.Account(seller)
	if auctionEnd != nil {
		l.AuctionEnd = *auctionEnd
	}
	return l, nil
}

// nullableTime maps the zero time to SQL NULL.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Compile-time interface check.
var _ domain.ListingStore = (*ListingStore)(nil)
