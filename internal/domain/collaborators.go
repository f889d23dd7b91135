package domain

import "context"

// CustodyClient is the asset-custody primitive the marketplace builds on.
// Transfer must fail when from is not the current owner or the transfer was
// not pre-authorized by the owner.
type CustodyClient interface {
	OwnerOf(ctx context.Context, assetID string) (Account, error)
	Transfer(ctx context.Context, assetID string, from, to Account) error
}

// TransferResult is the outcome of a bounded-effort outbound value transfer.
// Failure is a first-class result the caller branches on, not an abort: the
// auction engine uses it to choose between a direct refund and the
// credit-ledger fallback.
type TransferResult struct {
	OK     bool
	Reason string // failure reason when !OK
}

// PaymentGateway is the value-transfer primitive. Collect pulls attached bid
// value into marketplace escrow; Transfer pays value out. Both are bounded
// in time and may fail without side effects.
type PaymentGateway interface {
	Collect(ctx context.Context, from Account, amount int64) (TransferResult, error)
	Transfer(ctx context.Context, to Account, amount int64) (TransferResult, error)
}
