package domain

import "time"

// CreditEntry is an account's withdrawable balance accumulated from refunds
// that could not be delivered directly. Only the owning account may withdraw
// it, and withdrawal always drains the full balance.
type CreditEntry struct {
	Account   Account   `json:"account"`
	Amount    int64     `json:"amount"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RefundStatus tracks the lifecycle of a displaced bid's escrow.
type RefundStatus string

const (
	// RefundPending is recorded atomically with bid acceptance, before the
	// outbound transfer is attempted.
	RefundPending RefundStatus = "pending"
	// RefundPaid means the displaced amount was returned directly.
	RefundPaid RefundStatus = "paid"
	// RefundCredited means the direct transfer failed and the amount was
	// added to the bidder's credit ledger instead.
	RefundCredited RefundStatus = "credited"
)

// Refund records what happened to a displaced bid's escrowed value. Every
// displaced amount resolves to exactly one of paid or credited, which makes
// the refund table the audit trail for the conservation invariant: escrow
// held for active bids plus outstanding credits equals value received and
// not yet paid out.
type Refund struct {
	ID         string       `json:"id"` // uuid
	AssetID    string       `json:"asset_id"`
	Bidder     Account      `json:"bidder"`
	Amount     int64        `json:"amount"`
	Status     RefundStatus `json:"status"`
	Reason     string       `json:"reason,omitempty"` // transfer failure reason when credited
	CreatedAt  time.Time    `json:"created_at"`
	ResolvedAt *time.Time   `json:"resolved_at,omitempty"`
}
