package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gavelmarket/gavel/internal/domain"
)

// AuctionStore implements domain.AuctionStore using PostgreSQL. Each method
// runs its statements inside one transaction so the auction engine's state
// transitions are all-or-nothing. Outbound transfers happen after these
// transactions commit, except the seller payout, which runs inside the
// resolution transaction so the recorded outcome always matches the transfer.
type AuctionStore struct {
	pool *pgxpool.Pool
}

// NewAuctionStore creates a new AuctionStore backed by the given connection
// pool.
func NewAuctionStore(pool *pgxpool.Pool) *AuctionStore {
	return &AuctionStore{pool: pool}
}

// AcceptBid replaces the highest bid, extends the listing deadline, and
// records a pending refund for the displaced bid, atomically.
func (s *AuctionStore) AcceptBid(ctx context.Context, p domain.AcceptBidParams) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE listings SET auction_end = $2, updated_at = NOW()
			 WHERE asset_id = $1 AND listed`,
			p.Bid.AssetID, p.AuctionEnd,
		)
		if err != nil {
			return fmt.Errorf("extend deadline: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrNotListed
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO highest_bids (asset_id, id, bidder, amount, placed_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (asset_id) DO UPDATE SET
				id        = EXCLUDED.id,
				bidder    = EXCLUDED.bidder,
				amount    = EXCLUDED.amount,
				placed_at = EXCLUDED.placed_at`,
			p.Bid.AssetID, p.Bid.ID, p.Bid.Bidder.String(), p.Bid.Amount, p.Bid.PlacedAt,
		)
		if err != nil {
			return fmt.Errorf("replace highest bid: %w", err)
		}

		if p.Displaced != nil {
			_, err = tx.Exec(ctx,
				`INSERT INTO refunds (id, asset_id, bidder, amount, status)
				 VALUES ($1, $2, $3, $4, 'pending')`,
				p.Displaced.ID, p.Displaced.AssetID,
				p.Displaced.Bidder.String(), p.Displaced.Amount,
			)
			if err != nil {
				return fmt.Errorf("record pending refund: %w", err)
			}
		}

		return nil
	})
}

// SettleSale flips the listing to unlisted, clears the highest bid, and
// records the sale, atomically.
func (s *AuctionStore) SettleSale(ctx context.Context, sale domain.Sale) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE listings SET listed = FALSE, updated_at = NOW()
			 WHERE asset_id = $1 AND listed`,
			sale.AssetID,
		)
		if err != nil {
			return fmt.Errorf("unlist: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrNotListed
		}

		if _, err := tx.Exec(ctx,
			`DELETE FROM highest_bids WHERE asset_id = $1`, sale.AssetID,
		); err != nil {
			return fmt.Errorf("clear highest bid: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO sales (id, asset_id, seller, winner, amount, kind,
				seller_paid, asset_delivered, payout_resolved, settled_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			sale.ID, sale.AssetID, sale.Seller.String(), sale.Winner.String(),
			sale.Amount, string(sale.Kind), sale.SellerPaid,
			sale.AssetDelivered, sale.PayoutResolved, sale.SettledAt,
		); err != nil {
			return fmt.Errorf("record sale: %w", err)
		}

		return nil
	})
}

// ResolveSellerPayout finalizes the seller leg of a settled sale. The row is
// locked and payout_resolved flipped before pay runs, and the outcome commits
// with the flip: a nil return from pay marks the sale seller-paid, an error
// moves the amount to the seller's credit balance instead. A sale left
// unresolved therefore means no payout was attempted, so retrying is safe.
func (s *AuctionStore) ResolveSellerPayout(ctx context.Context, saleID string, pay func(seller domain.Account, amount int64) error) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		var (
			seller string
			amount int64
		)
		err := tx.QueryRow(ctx,
			`UPDATE sales SET payout_resolved = TRUE
			 WHERE id = $1 AND NOT payout_resolved
			 RETURNING seller, amount`,
			saleID,
		).Scan(&seller, &amount)
		if err != nil {
			if err == pgx.ErrNoRows {
				return domain.ErrNotFound
			}
			return fmt.Errorf("read sale %s: %w", saleID, err)
		}

		if err := pay(domain.Account(seller), amount); err == nil {
			if _, err := tx.Exec(ctx,
				`UPDATE sales SET seller_paid = TRUE WHERE id = $1`, saleID,
			); err != nil {
				return fmt.Errorf("mark seller paid %s: %w", saleID, err)
			}
			return nil
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO credits (account, amount, updated_at)
			 VALUES ($1, $2, NOW())
			 ON CONFLICT (account)
			 DO UPDATE SET amount = credits.amount + EXCLUDED.amount, updated_at = NOW()`,
			seller, amount,
		); err != nil {
			return fmt.Errorf("credit seller %s: %w", seller, err)
		}
		return nil
	})
}

// MarkAssetDelivered records that custody of a settled sale's asset reached
// the winner. Idempotent: marking an already-delivered sale is a no-op.
func (s *AuctionStore) MarkAssetDelivered(ctx context.Context, saleID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE sales SET asset_delivered = TRUE
		 WHERE id = $1 AND NOT asset_delivered`,
		saleID,
	)
	if err != nil {
		return fmt.Errorf("postgres: mark asset delivered %s: %w", saleID, err)
	}
	return nil
}

// Unlist flips the listing to unlisted without a sale.
func (s *AuctionStore) Unlist(ctx context.Context, assetID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE listings SET listed = FALSE, updated_at = NOW()
		 WHERE asset_id = $1 AND listed`,
		assetID,
	)
	if err != nil {
		return fmt.Errorf("postgres: unlist %s: %w", assetID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotListed
	}
	return nil
}

// inTx runs fn inside a transaction, committing on nil and rolling back on
// error.
func (s *AuctionStore) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("postgres: auction tx: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit auction tx: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.AuctionStore = (*AuctionStore)(nil)
