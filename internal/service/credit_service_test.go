package service

import (
	"context"
	"errors"
	"testing"

	"github.com/gavelmarket/gavel/internal/domain"
)

// creditBidder seeds a credited balance for testBidder by displacing its bid
// while direct refunds fail.
func creditBidder(t *testing.T, f *fixture, amount int64) {
	t.Helper()
	ctx := context.Background()
	f.list(t, "asset-credit", amount, 0)

	if _, err := f.auctions.PlaceBid(ctx, testBidder, "asset-credit", amount); err != nil {
		t.Fatalf("seed bid: %v", err)
	}
	f.gateway.failTransferTo[testBidder] = "account unreachable"
	if _, err := f.auctions.PlaceBid(ctx, testBidder2, "asset-credit", amount*2); err != nil {
		t.Fatalf("displacing bid: %v", err)
	}
	delete(f.gateway.failTransferTo, testBidder)
}

func TestWithdrawRequiresReceiver(t *testing.T) {
	f := newFixture(t)
	creditBidder(t, f, 100)

	_, err := f.credits.Withdraw(context.Background(), testStranger, testBidder)
	if !errors.Is(err, domain.ErrNotReceiver) {
		t.Fatalf("err = %v, want ErrNotReceiver", err)
	}

	bal, _ := f.credits.Balance(context.Background(), testBidder)
	if bal != 100 {
		t.Fatalf("balance = %d after rejected withdrawal, want 100", bal)
	}
}

func TestWithdrawDrainsFullBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	creditBidder(t, f, 100)

	amount, err := f.credits.Withdraw(ctx, testBidder, testBidder)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if amount != 100 {
		t.Fatalf("withdrew %d, want 100", amount)
	}
	if got := f.gateway.paidTo(testBidder); got != 100 {
		t.Fatalf("paid out %d, want 100", got)
	}

	bal, _ := f.credits.Balance(ctx, testBidder)
	if bal != 0 {
		t.Fatalf("balance = %d after withdrawal, want 0", bal)
	}
}

func TestWithdrawWithNoCredits(t *testing.T) {
	f := newFixture(t)

	_, err := f.credits.Withdraw(context.Background(), testBidder, testBidder)
	if !errors.Is(err, domain.ErrNoCredits) {
		t.Fatalf("err = %v, want ErrNoCredits", err)
	}
}

func TestWithdrawRestoresBalanceOnPayoutFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	creditBidder(t, f, 100)

	f.gateway.failTransferTo[testBidder] = "gateway timeout"
	_, err := f.credits.Withdraw(ctx, testBidder, testBidder)
	if !errors.Is(err, domain.ErrWithdrawFailed) {
		t.Fatalf("err = %v, want ErrWithdrawFailed", err)
	}

	// The failed payout must leave the full balance withdrawable.
	bal, _ := f.credits.Balance(ctx, testBidder)
	if bal != 100 {
		t.Fatalf("balance = %d after failed payout, want 100", bal)
	}

	// And a later attempt succeeds exactly once.
	delete(f.gateway.failTransferTo, testBidder)
	amount, err := f.credits.Withdraw(ctx, testBidder, testBidder)
	if err != nil {
		t.Fatalf("retry withdraw: %v", err)
	}
	if amount != 100 {
		t.Fatalf("retry withdrew %d, want 100", amount)
	}
	if _, err := f.credits.Withdraw(ctx, testBidder, testBidder); !errors.Is(err, domain.ErrNoCredits) {
		t.Fatalf("double withdraw: err = %v, want ErrNoCredits", err)
	}
}

func TestRefundHistory(t *testing.T) {
	f := newFixture(t)
	creditBidder(t, f, 100)

	refunds, err := f.credits.Refunds(context.Background(), testBidder, domain.ListOpts{})
	if err != nil {
		t.Fatalf("refunds: %v", err)
	}
	if len(refunds) != 1 {
		t.Fatalf("got %d refunds, want 1", len(refunds))
	}
	if refunds[0].Status != domain.RefundCredited || refunds[0].Amount != 100 {
		t.Fatalf("refund = %+v", refunds[0])
	}
}
