package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrNotOwner       = errors.New("caller does not own asset")
	ErrNotSeller      = errors.New("caller is not the listing seller")
	ErrNotListed      = errors.New("asset is not listed")
	ErrBidTooLow      = errors.New("bid below required amount")
	ErrInvalidPrice   = errors.New("invalid listing price")
	ErrAlreadyListed  = errors.New("asset is already listed")
	ErrBidActive      = errors.New("listing has an outstanding bid")
	ErrNoBids         = errors.New("listing has no bids")
	ErrAuctionOpen    = errors.New("auction has not ended")
	ErrAuctionEnded   = errors.New("auction deadline has passed")
	ErrNotReceiver    = errors.New("caller is not the credit owner")
	ErrNoCredits      = errors.New("no credited balance")
	ErrWithdrawFailed = errors.New("credit withdrawal payout failed")
	ErrEscrowFailed   = errors.New("escrow collection failed")
	ErrInvalidAccount = errors.New("invalid account address")
	ErrRateLimited    = errors.New("rate limited")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrLockHeld       = errors.New("lock already held")

	// ErrTransferFailed marks a failed outbound value transfer. It is used
	// internally to choose between a direct refund and the credit-ledger
	// fallback; bid placement never returns it to the caller.
	ErrTransferFailed = errors.New("value transfer failed")
)
