package domain

import "time"

// Listing records the sale terms for a single asset. Listed is true exactly
// while the marketplace holds custody of the asset; an unlisted or sold
// listing remains in the database as a tombstone with Listed == false.
type Listing struct {
	AssetID     string    `json:"asset_id"`
	Seller      Account   `json:"seller"`
	MinPrice    int64     `json:"min_price"`
	BuyNowPrice int64     `json:"buy_now_price"` // 0 disables buy-now
	Listed      bool      `json:"listed"`
	AuctionEnd  time.Time `json:"auction_end"` // zero until the first bid
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HasDeadline reports whether a bid has started the auction clock.
func (l Listing) HasDeadline() bool {
	return !l.AuctionEnd.IsZero()
}

// Ended reports whether the auction deadline has passed as of now.
func (l Listing) Ended(now time.Time) bool {
	return l.HasDeadline() && now.After(l.AuctionEnd)
}

// BuyNowMet reports whether amount triggers immediate settlement.
func (l Listing) BuyNowMet(amount int64) bool {
	return l.BuyNowPrice > 0 && amount >= l.BuyNowPrice
}
