package domain

import "time"

// SaleKind distinguishes how a listing was settled.
type SaleKind string

const (
	// SaleAuction settles after the deadline passes with a standing bid.
	SaleAuction SaleKind = "auction"
	// SaleBuyNow settles immediately when a bid meets the buy-now price.
	SaleBuyNow SaleKind = "buy_now"
)

// Sale is the terminal record of a settled listing. It commits before either
// outbound leg runs; AssetDelivered and PayoutResolved track the legs so a
// transfer failure leaves a retryable record instead of a half-done sale.
type Sale struct {
	ID             string    `json:"id"` // uuid
	AssetID        string    `json:"asset_id"`
	Seller         Account   `json:"seller"`
	Winner         Account   `json:"winner"`
	Amount         int64     `json:"amount"`
	Kind           SaleKind  `json:"kind"`
	SellerPaid     bool      `json:"seller_paid"` // false when payout fell back to the credit ledger
	AssetDelivered bool      `json:"asset_delivered"`
	PayoutResolved bool      `json:"payout_resolved"`
	SettledAt      time.Time `json:"settled_at"`
}
