package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MinIncrementPct is the default minimum percentage a new bid must exceed the
// current highest bid by. Overridable via config; the increment is relative
// to the previous amount, so a bid equal to the current leader always loses.
const MinIncrementPct = 5

// Bid is the current highest bid on a listing. There is at most one per
// asset; a strictly higher valid bid replaces it and the displaced amount is
// refunded or credited to the previous bidder.
type Bid struct {
	ID       string    `json:"id"` // uuid
	AssetID  string    `json:"asset_id"`
	Bidder   Account   `json:"bidder"`
	Amount   int64     `json:"amount"`
	PlacedAt time.Time `json:"placed_at"`
}

// IsZero reports whether the bid is absent (the zero record).
func (b Bid) IsZero() bool {
	return b.Bidder.IsZero() && b.Amount == 0
}

// MinNextBid returns the smallest amount that beats prev under the given
// percentage increment. Decimal math keeps the threshold exact for amounts
// where prev*(100+pct) overflows or does not divide evenly; the result is
// rounded up so "at least prev * (100+pct)/100" holds for integer amounts.
func MinNextBid(prev int64, incrementPct int64) int64 {
	d := decimal.NewFromInt(prev).
		Mul(decimal.NewFromInt(100 + incrementPct)).
		Div(decimal.NewFromInt(100))
	return d.Ceil().IntPart()
}
