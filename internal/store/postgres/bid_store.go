package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gavelmarket/gavel/internal/domain"
)

// BidStore implements domain.BidStore using PostgreSQL. Writes go through
// AuctionStore so bid replacement commits atomically with the listing
// deadline and refund bookkeeping.
type BidStore struct {
	pool *pgxpool.Pool
}

// NewBidStore creates a new BidStore backed by the given connection pool.
func NewBidStore(pool *pgxpool.Pool) *BidStore {
	return &BidStore{pool: pool}
}

// GetHighest returns the current highest bid for an asset, or the zero Bid
// when no bid has been placed.
func (s *BidStore) GetHighest(ctx context.Context, assetID string) (domain.Bid, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, asset_id, bidder, amount, placed_at
		 FROM highest_bids WHERE asset_id = $1`, assetID)

	var b domain.Bid
	var bidder string
	err := row.Scan(&b.ID, &b.AssetID, &bidder, &b.Amount, &b.PlacedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Bid{}, nil
		}
		return domain.Bid{}, fmt.Errorf("postgres: get highest bid %s: %w", assetID, err)
	}
	b.Bidder = domain.Account(bidder)
	return b, nil
}

// Compile-time interface check.
var _ domain.BidStore = (*BidStore)(nil)
