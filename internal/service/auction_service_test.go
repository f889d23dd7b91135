package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gavelmarket/gavel/internal/domain"
)

func TestPlaceBidFirstBid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.list(t, "asset-1", 100, 0)

	t.Run("below min price rejected", func(t *testing.T) {
		_, err := f.auctions.PlaceBid(ctx, testBidder, "asset-1", 99)
		if !errors.Is(err, domain.ErrBidTooLow) {
			t.Fatalf("err = %v, want ErrBidTooLow", err)
		}
		if f.gateway.escrowHeld() != 0 {
			t.Fatalf("escrow held %d after rejected bid", f.gateway.escrowHeld())
		}
	})

	t.Run("at min price accepted and escrowed", func(t *testing.T) {
		bid, err := f.auctions.PlaceBid(ctx, testBidder, "asset-1", 100)
		if err != nil {
			t.Fatalf("place bid: %v", err)
		}
		if bid.Amount != 100 || bid.Bidder != testBidder {
			t.Fatalf("bid = %+v", bid)
		}
		if f.gateway.escrowHeld() != 100 {
			t.Fatalf("escrow = %d, want 100", f.gateway.escrowHeld())
		}
	})

	t.Run("starts the auction clock", func(t *testing.T) {
		l, err := f.store.Get(ctx, "asset-1")
		if err != nil {
			t.Fatalf("get listing: %v", err)
		}
		if !l.HasDeadline() {
			t.Fatal("first bid must set the auction deadline")
		}
	})
}

func TestPlaceBidIncrementRule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.list(t, "asset-1", 100, 0)

	if _, err := f.auctions.PlaceBid(ctx, testBidder, "asset-1", 100); err != nil {
		t.Fatalf("first bid: %v", err)
	}

	cases := []struct {
		name   string
		amount int64
		ok     bool
	}{
		{"equal to standing bid", 100, false},
		{"one below threshold", 104, false},
		{"exactly five percent above", 105, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.auctions.PlaceBid(ctx, testBidder2, "asset-1", tc.amount)
			if tc.ok && err != nil {
				t.Fatalf("bid %d: %v", tc.amount, err)
			}
			if !tc.ok && !errors.Is(err, domain.ErrBidTooLow) {
				t.Fatalf("bid %d: err = %v, want ErrBidTooLow", tc.amount, err)
			}
		})
	}

	// The increment is relative to the new standing bid of 105.
	if _, err := f.auctions.PlaceBid(ctx, testBidder, "asset-1", 110); !errors.Is(err, domain.ErrBidTooLow) {
		t.Fatalf("bid 110 on 105: err = %v, want ErrBidTooLow (need 111)", err)
	}
	if _, err := f.auctions.PlaceBid(ctx, testBidder, "asset-1", 111); err != nil {
		t.Fatalf("bid 111 on 105: %v", err)
	}
}

func TestPlaceBidRefundsDisplacedBidder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.list(t, "asset-1", 100, 0)

	if _, err := f.auctions.PlaceBid(ctx, testBidder, "asset-1", 100); err != nil {
		t.Fatalf("first bid: %v", err)
	}
	if _, err := f.auctions.PlaceBid(ctx, testBidder2, "asset-1", 200); err != nil {
		t.Fatalf("second bid: %v", err)
	}

	if got := f.gateway.paidTo(testBidder); got != 100 {
		t.Fatalf("displaced bidder refunded %d, want 100", got)
	}
	if f.gateway.escrowHeld() != 200 {
		t.Fatalf("escrow = %d, want 200 (only the standing bid)", f.gateway.escrowHeld())
	}

	r, ok := f.store.refundFor(testBidder)
	if !ok {
		t.Fatal("no refund recorded for displaced bidder")
	}
	if r.Status != domain.RefundPaid {
		t.Fatalf("refund status = %s, want paid", r.Status)
	}
}

func TestPlaceBidCreditsDisplacedBidderWhenRefundFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.list(t, "asset-1", 100, 0)

	if _, err := f.auctions.PlaceBid(ctx, testBidder, "asset-1", 100); err != nil {
		t.Fatalf("first bid: %v", err)
	}

	// Direct refunds to the displaced bidder start failing.
	f.gateway.failTransferTo[testBidder] = "account unreachable"

	if _, err := f.auctions.PlaceBid(ctx, testBidder2, "asset-1", 200); err != nil {
		t.Fatalf("second bid must succeed despite refund failure: %v", err)
	}

	if got := f.gateway.paidTo(testBidder); got != 0 {
		t.Fatalf("displaced bidder paid %d directly, want 0", got)
	}
	bal, err := f.credits.Balance(ctx, testBidder)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal != 100 {
		t.Fatalf("credited balance = %d, want 100", bal)
	}

	r, _ := f.store.refundFor(testBidder)
	if r.Status != domain.RefundCredited {
		t.Fatalf("refund status = %s, want credited", r.Status)
	}
	if r.Reason != "account unreachable" {
		t.Fatalf("refund reason = %q", r.Reason)
	}
}

func TestPlaceBidExtendsDeadline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.list(t, "asset-1", 100, 0)

	if _, err := f.auctions.PlaceBid(ctx, testBidder, "asset-1", 100); err != nil {
		t.Fatalf("first bid: %v", err)
	}
	first, _ := f.store.Get(ctx, "asset-1")

	time.Sleep(5 * time.Millisecond)
	if _, err := f.auctions.PlaceBid(ctx, testBidder2, "asset-1", 200); err != nil {
		t.Fatalf("second bid: %v", err)
	}
	second, _ := f.store.Get(ctx, "asset-1")

	if !second.AuctionEnd.After(first.AuctionEnd) {
		t.Fatalf("deadline not extended: %s -> %s", first.AuctionEnd, second.AuctionEnd)
	}
	if remaining := time.Until(second.AuctionEnd); remaining < 59*time.Minute {
		t.Fatalf("deadline %s from now, want ~1h extension", remaining)
	}
}

func TestPlaceBidRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("unknown asset", func(t *testing.T) {
		_, err := f.auctions.PlaceBid(ctx, testBidder, "nope", 100)
		if !errors.Is(err, domain.ErrNotListed) {
			t.Fatalf("err = %v, want ErrNotListed", err)
		}
	})

	f.list(t, "asset-1", 100, 0)

	t.Run("rate limited", func(t *testing.T) {
		f.limiter.deny = true
		defer func() { f.limiter.deny = false }()
		_, err := f.auctions.PlaceBid(ctx, testBidder, "asset-1", 100)
		if !errors.Is(err, domain.ErrRateLimited) {
			t.Fatalf("err = %v, want ErrRateLimited", err)
		}
	})

	t.Run("escrow collection declined", func(t *testing.T) {
		f.gateway.failCollect = true
		defer func() { f.gateway.failCollect = false }()
		_, err := f.auctions.PlaceBid(ctx, testBidder, "asset-1", 100)
		if !errors.Is(err, domain.ErrEscrowFailed) {
			t.Fatalf("err = %v, want ErrEscrowFailed", err)
		}
	})

	t.Run("after deadline", func(t *testing.T) {
		if _, err := f.auctions.PlaceBid(ctx, testBidder, "asset-1", 100); err != nil {
			t.Fatalf("first bid: %v", err)
		}
		l, _ := f.store.Get(ctx, "asset-1")
		l.AuctionEnd = time.Now().Add(-time.Minute)
		_ = f.store.Upsert(ctx, l)

		_, err := f.auctions.PlaceBid(ctx, testBidder2, "asset-1", 500)
		if !errors.Is(err, domain.ErrAuctionEnded) {
			t.Fatalf("err = %v, want ErrAuctionEnded", err)
		}
	})
}

func TestPlaceBidReturnsEscrowOnCommitFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.list(t, "asset-1", 100, 0)

	f.store.failAcceptBid = true
	if _, err := f.auctions.PlaceBid(ctx, testBidder, "asset-1", 100); err == nil {
		t.Fatal("expected error from failed commit")
	}

	if f.gateway.escrowHeld() != 0 {
		t.Fatalf("escrow = %d after failed commit, want 0", f.gateway.escrowHeld())
	}
	if got := f.gateway.paidTo(testBidder); got != 100 {
		t.Fatalf("bidder returned %d, want 100", got)
	}
}

func TestSettleAuction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.list(t, "asset-1", 100, 0)

	if _, err := f.auctions.PlaceBid(ctx, testBidder, "asset-1", 150); err != nil {
		t.Fatalf("bid: %v", err)
	}

	t.Run("before deadline rejected", func(t *testing.T) {
		_, err := f.auctions.Settle(ctx, "asset-1")
		if !errors.Is(err, domain.ErrAuctionOpen) {
			t.Fatalf("err = %v, want ErrAuctionOpen", err)
		}
	})

	// Push the deadline into the past.
	l, _ := f.store.Get(ctx, "asset-1")
	l.AuctionEnd = time.Now().Add(-time.Minute)
	_ = f.store.Upsert(ctx, l)

	t.Run("anyone may settle", func(t *testing.T) {
		sale, err := f.auctions.Settle(ctx, "asset-1")
		if err != nil {
			t.Fatalf("settle: %v", err)
		}
		if sale.Winner != testBidder || sale.Amount != 150 || sale.Kind != domain.SaleAuction {
			t.Fatalf("sale = %+v", sale)
		}
		if !sale.SellerPaid {
			t.Fatal("seller not paid")
		}

		if owner, _ := f.custody.OwnerOf(ctx, "asset-1"); owner != testBidder {
			t.Fatalf("custody owner = %s, want winner", owner)
		}
		if got := f.gateway.paidTo(testSeller); got != 150 {
			t.Fatalf("seller paid %d, want 150", got)
		}
		if f.gateway.escrowHeld() != 0 {
			t.Fatalf("escrow = %d after settlement, want 0", f.gateway.escrowHeld())
		}
	})

	t.Run("second settle rejected", func(t *testing.T) {
		_, err := f.auctions.Settle(ctx, "asset-1")
		if !errors.Is(err, domain.ErrNotListed) {
			t.Fatalf("err = %v, want ErrNotListed", err)
		}
	})
}

func TestSettleWithNoBids(t *testing.T) {
	f := newFixture(t)
	f.list(t, "asset-1", 100, 0)

	_, err := f.auctions.Settle(context.Background(), "asset-1")
	if !errors.Is(err, domain.ErrNoBids) {
		t.Fatalf("err = %v, want ErrNoBids", err)
	}
}

func TestSettleCreditsSellerWhenPayoutFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.list(t, "asset-1", 100, 0)

	if _, err := f.auctions.PlaceBid(ctx, testBidder, "asset-1", 150); err != nil {
		t.Fatalf("bid: %v", err)
	}
	l, _ := f.store.Get(ctx, "asset-1")
	l.AuctionEnd = time.Now().Add(-time.Minute)
	_ = f.store.Upsert(ctx, l)

	f.gateway.failTransferTo[testSeller] = "gateway timeout"

	sale, err := f.auctions.Settle(ctx, "asset-1")
	if err != nil {
		t.Fatalf("settle must succeed despite payout failure: %v", err)
	}
	if sale.SellerPaid {
		t.Fatal("sale marked seller-paid despite failed payout")
	}
	if owner, _ := f.custody.OwnerOf(ctx, "asset-1"); owner != testBidder {
		t.Fatalf("custody owner = %s, want winner", owner)
	}

	bal, err := f.credits.Balance(ctx, testSeller)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal != 150 {
		t.Fatalf("seller credited %d, want 150", bal)
	}
}

func TestSettleKeepsCustodyOnCommitFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.list(t, "asset-1", 100, 0)

	if _, err := f.auctions.PlaceBid(ctx, testBidder, "asset-1", 150); err != nil {
		t.Fatalf("bid: %v", err)
	}
	l, _ := f.store.Get(ctx, "asset-1")
	l.AuctionEnd = time.Now().Add(-time.Minute)
	_ = f.store.Upsert(ctx, l)

	f.store.failSettleSale = true
	if _, err := f.auctions.Settle(ctx, "asset-1"); err == nil {
		t.Fatal("expected error from failed sale commit")
	}

	// Nothing left the marketplace: the asset is still in escrow custody,
	// the listing is still live, and the winner's escrow is untouched.
	if owner, _ := f.custody.OwnerOf(ctx, "asset-1"); owner != testMarketplace {
		t.Fatalf("custody owner = %s, want marketplace", owner)
	}
	if l, _ := f.store.Get(ctx, "asset-1"); !l.Listed {
		t.Fatal("listing tombstoned by failed settlement")
	}
	if f.gateway.escrowHeld() != 150 {
		t.Fatalf("escrow = %d, want 150", f.gateway.escrowHeld())
	}

	// Settlement retries cleanly once the store recovers.
	f.store.failSettleSale = false
	sale, err := f.auctions.Settle(ctx, "asset-1")
	if err != nil {
		t.Fatalf("retry settle: %v", err)
	}
	if !sale.AssetDelivered || !sale.SellerPaid {
		t.Fatalf("sale = %+v, want delivered and paid", sale)
	}
	if owner, _ := f.custody.OwnerOf(ctx, "asset-1"); owner != testBidder {
		t.Fatalf("custody owner = %s, want winner", owner)
	}
	if got := f.gateway.paidTo(testSeller); got != 150 {
		t.Fatalf("seller paid %d, want 150", got)
	}
}

func TestSettleRecordsSaleWhenDeliveryFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.list(t, "asset-1", 100, 0)

	if _, err := f.auctions.PlaceBid(ctx, testBidder, "asset-1", 150); err != nil {
		t.Fatalf("bid: %v", err)
	}
	l, _ := f.store.Get(ctx, "asset-1")
	l.AuctionEnd = time.Now().Add(-time.Minute)
	_ = f.store.Upsert(ctx, l)

	f.custody.failTransfer = true
	sale, err := f.auctions.Settle(ctx, "asset-1")
	if err != nil {
		t.Fatalf("settle must succeed despite delivery failure: %v", err)
	}
	if sale.AssetDelivered {
		t.Fatal("sale marked delivered despite failed transfer")
	}
	if !sale.SellerPaid {
		t.Fatal("seller payout must not depend on delivery")
	}
	if l, _ := f.store.Get(ctx, "asset-1"); l.Listed {
		t.Fatal("listing still live after settlement")
	}

	// The sweep delivers the asset once the registry recovers.
	f.custody.failTransfer = false
	n, err := f.auctions.ResolvePending(ctx, 10)
	if err != nil {
		t.Fatalf("resolve pending: %v", err)
	}
	if n != 1 {
		t.Fatalf("resolved %d sales, want 1", n)
	}
	if owner, _ := f.custody.OwnerOf(ctx, "asset-1"); owner != testBidder {
		t.Fatalf("custody owner = %s, want winner", owner)
	}
	stored, ok := f.store.saleFor("asset-1")
	if !ok || !stored.AssetDelivered {
		t.Fatalf("stored sale = %+v, want delivered", stored)
	}
}

func TestResolvePendingRetriesSellerPayout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.list(t, "asset-1", 100, 0)

	if _, err := f.auctions.PlaceBid(ctx, testBidder, "asset-1", 150); err != nil {
		t.Fatalf("bid: %v", err)
	}
	l, _ := f.store.Get(ctx, "asset-1")
	l.AuctionEnd = time.Now().Add(-time.Minute)
	_ = f.store.Upsert(ctx, l)

	f.store.failResolvePayout = true
	sale, err := f.auctions.Settle(ctx, "asset-1")
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if sale.PayoutResolved || sale.SellerPaid {
		t.Fatalf("sale = %+v, want unresolved payout", sale)
	}
	if got := f.gateway.paidTo(testSeller); got != 0 {
		t.Fatalf("seller paid %d before resolution, want 0", got)
	}

	f.store.failResolvePayout = false
	n, err := f.auctions.ResolvePending(ctx, 10)
	if err != nil {
		t.Fatalf("resolve pending: %v", err)
	}
	if n != 1 {
		t.Fatalf("resolved %d sales, want 1", n)
	}
	if got := f.gateway.paidTo(testSeller); got != 150 {
		t.Fatalf("seller paid %d, want 150", got)
	}
	stored, _ := f.store.saleFor("asset-1")
	if !stored.PayoutResolved || !stored.SellerPaid {
		t.Fatalf("stored sale = %+v, want paid and resolved", stored)
	}
}

func TestPlaceBidAuditsStrandedEscrow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.list(t, "asset-1", 100, 0)

	// Both the commit and the compensating escrow return fail.
	f.store.failAcceptBid = true
	f.gateway.failTransferTo[testBidder] = "account unreachable"

	if _, err := f.auctions.PlaceBid(ctx, testBidder, "asset-1", 100); err == nil {
		t.Fatal("expected error from failed commit")
	}
	if f.gateway.escrowHeld() != 100 {
		t.Fatalf("escrow = %d, want 100 still held", f.gateway.escrowHeld())
	}

	// The stranded amount must be traceable in the audit log.
	entries, err := f.store.List(ctx, domain.ListOpts{})
	if err != nil {
		t.Fatalf("audit list: %v", err)
	}
	var found bool
	for _, e := range entries {
		if e.Event == domain.EventEscrowStranded {
			found = true
			if e.Detail["amount"] != int64(100) || e.Detail["reason"] != "account unreachable" {
				t.Fatalf("audit detail = %+v", e.Detail)
			}
		}
	}
	if !found {
		t.Fatal("no audit entry for stranded escrow")
	}
}

func TestBuyNowSettlesImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.list(t, "asset-1", 100, 300)

	t.Run("below buy-now stays open", func(t *testing.T) {
		if _, err := f.auctions.PlaceBid(ctx, testBidder, "asset-1", 200); err != nil {
			t.Fatalf("bid: %v", err)
		}
		if l, _ := f.store.Get(ctx, "asset-1"); !l.Listed {
			t.Fatal("listing settled below buy-now price")
		}
	})

	t.Run("meeting buy-now settles", func(t *testing.T) {
		if _, err := f.auctions.PlaceBid(ctx, testBidder2, "asset-1", 300); err != nil {
			t.Fatalf("bid: %v", err)
		}

		sale, ok := f.store.saleFor("asset-1")
		if !ok {
			t.Fatal("no sale recorded")
		}
		if sale.Kind != domain.SaleBuyNow || sale.Winner != testBidder2 || sale.Amount != 300 {
			t.Fatalf("sale = %+v", sale)
		}
		if owner, _ := f.custody.OwnerOf(ctx, "asset-1"); owner != testBidder2 {
			t.Fatalf("custody owner = %s, want buyer", owner)
		}
		// Displaced bid refunded, seller paid, nothing left in escrow.
		if got := f.gateway.paidTo(testBidder); got != 200 {
			t.Fatalf("displaced bidder refunded %d, want 200", got)
		}
		if got := f.gateway.paidTo(testSeller); got != 300 {
			t.Fatalf("seller paid %d, want 300", got)
		}
		if f.gateway.escrowHeld() != 0 {
			t.Fatalf("escrow = %d, want 0", f.gateway.escrowHeld())
		}
	})
}
