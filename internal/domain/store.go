package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// ListingStore persists listings.
type ListingStore interface {
	Upsert(ctx context.Context, l Listing) error
	Get(ctx context.Context, assetID string) (Listing, error)
	ListActive(ctx context.Context, opts ListOpts) ([]Listing, error)
	Count(ctx context.Context) (int64, error)
}

// BidStore reads the current highest bid per asset.
type BidStore interface {
	GetHighest(ctx context.Context, assetID string) (Bid, error)
}

// AcceptBidParams carries everything the composite bid-acceptance commit
// needs. Displaced is nil for the first bid on a listing.
type AcceptBidParams struct {
	Bid        Bid
	AuctionEnd time.Time
	Displaced  *Refund // pending refund for the previous highest bid
}

// AuctionStore performs the composite state transitions of the auction
// engine. Each method is a single all-or-nothing transaction. Outbound value
// transfers happen after these transactions commit, except the seller payout,
// which runs inside its resolution transaction.
type AuctionStore interface {
	// AcceptBid replaces the highest bid, extends the listing deadline, and
	// records a pending refund for the displaced bid, atomically.
	AcceptBid(ctx context.Context, p AcceptBidParams) error
	// SettleSale flips the listing to unlisted, clears the highest bid, and
	// records the sale, atomically. The sale is recorded with both outbound
	// legs pending; MarkAssetDelivered and ResolveSellerPayout close them.
	SettleSale(ctx context.Context, sale Sale) error
	// ResolveSellerPayout finalizes the seller leg of a settled sale. pay is
	// invoked inside the transaction that flips payout_resolved: when pay
	// returns nil the sale is marked seller-paid, otherwise the amount is
	// added to the seller's credit-ledger balance instead. Either way the
	// resolution commits exactly once; a second call returns ErrNotFound.
	ResolveSellerPayout(ctx context.Context, saleID string, pay func(seller Account, amount int64) error) error
	// MarkAssetDelivered records that custody of a settled sale's asset
	// reached the winner. Idempotent.
	MarkAssetDelivered(ctx context.Context, saleID string) error
	// Unlist flips the listing to unlisted without a sale.
	Unlist(ctx context.Context, assetID string) error
}

// RefundStore resolves pending refunds.
type RefundStore interface {
	// MarkPaid records a successful direct refund.
	MarkPaid(ctx context.Context, refundID string) error
	// MarkCredited records a failed direct refund and, in the same
	// transaction, adds the amount to the bidder's credit-ledger balance.
	MarkCredited(ctx context.Context, refundID string, reason string) error
	ListByAccount(ctx context.Context, account Account, opts ListOpts) ([]Refund, error)
	ListResolvedBefore(ctx context.Context, cutoff time.Time, limit int) ([]Refund, error)
}

// CreditStore persists the credit ledger.
type CreditStore interface {
	// Balance returns the withdrawable amount for an account, zero if the
	// account has no entry.
	Balance(ctx context.Context, account Account) (int64, error)
	// WithdrawAll zeroes the account's balance and then invokes payout with
	// the drained amount, all inside one transaction: if payout returns an
	// error the zeroing is rolled back and the balance is untouched. It
	// returns ErrNoCredits when the balance is zero.
	WithdrawAll(ctx context.Context, account Account, payout func(amount int64) error) (int64, error)
}

// SaleStore reads settled sales.
type SaleStore interface {
	Get(ctx context.Context, assetID string) (Sale, error)
	ListRecent(ctx context.Context, limit int) ([]Sale, error)
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]Sale, error)
	// ListUnresolved returns settled sales whose outbound legs did not
	// finish: the asset is undelivered or the seller payout is unresolved.
	// Oldest first.
	ListUnresolved(ctx context.Context, limit int) ([]Sale, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	// ListBefore returns up to limit entries recorded before the cutoff,
	// oldest first.
	ListBefore(ctx context.Context, before time.Time, limit int) ([]AuditEntry, error)
}
