package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/gavelmarket/gavel/internal/domain"
)

var (
	testMarketplace = domain.Account("0x00000000000000000000000000000000000A0C71")
	testSeller      = domain.Account("0x1111111111111111111111111111111111111111")
	testBidder      = domain.Account("0x2222222222222222222222222222222222222222")
	testBidder2     = domain.Account("0x3333333333333333333333333333333333333333")
	testStranger    = domain.Account("0x4444444444444444444444444444444444444444")
)

type fixture struct {
	store    *memStore
	cache    *memCache
	custody  *memCustody
	gateway  *memGateway
	limiter  *memLimiter
	bus      *memBus
	listings *ListingService
	auctions *AuctionService
	credits  *CreditService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	f := &fixture{
		store:   newMemStore(),
		cache:   newMemCache(),
		custody: newMemCustody(),
		gateway: newMemGateway(),
		limiter: &memLimiter{},
		bus:     newMemBus(),
	}
	f.listings = NewListingService(
		f.store, f.store, f.store, f.cache, memLocks{}, f.custody,
		f.bus, f.store, testMarketplace, logger,
	)
	f.auctions = NewAuctionService(
		f.store, f.store, f.store, f.store, memSales{f.store}, f.cache,
		memLocks{}, f.limiter,
		f.custody, f.gateway, f.bus, f.store, testMarketplace,
		AuctionParams{MinIncrementPct: 5, Extension: time.Hour, BidRateLimit: 100},
		logger,
	)
	f.credits = NewCreditService(
		f.store, f.store, memLocks{}, f.gateway, f.bus, f.store, logger,
	)
	return f
}

// list is a helper that lists an asset owned by testSeller.
func (f *fixture) list(t *testing.T, assetID string, minPrice, buyNow int64) domain.Listing {
	t.Helper()
	f.custody.setOwner(assetID, testSeller)
	l, err := f.listings.List(context.Background(), testSeller, assetID, minPrice, buyNow)
	if err != nil {
		t.Fatalf("list %s: %v", assetID, err)
	}
	return l
}

func TestListTakesCustody(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	l := f.list(t, "asset-1", 100, 0)
	if !l.Listed {
		t.Fatal("listing not marked listed")
	}
	if l.HasDeadline() {
		t.Fatal("fresh listing must not have an auction deadline")
	}

	owner, err := f.custody.OwnerOf(ctx, "asset-1")
	if err != nil {
		t.Fatalf("owner of: %v", err)
	}
	if owner != testMarketplace {
		t.Fatalf("custody owner = %s, want marketplace", owner)
	}
}

func TestListRejectsNonOwner(t *testing.T) {
	f := newFixture(t)
	f.custody.setOwner("asset-1", testSeller)

	_, err := f.listings.List(context.Background(), testStranger, "asset-1", 100, 0)
	if !errors.Is(err, domain.ErrNotOwner) {
		t.Fatalf("err = %v, want ErrNotOwner", err)
	}
	if owner, _ := f.custody.OwnerOf(context.Background(), "asset-1"); owner != testSeller {
		t.Fatalf("custody moved on rejected listing: owner = %s", owner)
	}
}

func TestUnlistReturnsCustody(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.list(t, "asset-1", 100, 0)

	if err := f.listings.Unlist(ctx, testSeller, "asset-1"); err != nil {
		t.Fatalf("unlist: %v", err)
	}
	if owner, _ := f.custody.OwnerOf(ctx, "asset-1"); owner != testSeller {
		t.Fatalf("custody owner = %s, want seller", owner)
	}
	if _, err := f.listings.Get(ctx, "asset-1"); !errors.Is(err, domain.ErrNotListed) {
		t.Fatalf("get after unlist: err = %v, want ErrNotListed", err)
	}
}

func TestUnlistRestoresListingWhenCustodyReturnFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.list(t, "asset-1", 100, 0)

	f.custody.failTransfer = true
	if err := f.listings.Unlist(ctx, testSeller, "asset-1"); err == nil {
		t.Fatal("expected error when custody return fails")
	}

	// The marketplace still holds the asset, so the listing must survive;
	// otherwise the seller could neither re-list nor retry.
	l, err := f.store.Get(ctx, "asset-1")
	if err != nil || !l.Listed {
		t.Fatalf("listing not restored after failed custody return: %+v, %v", l, err)
	}
	if owner, _ := f.custody.OwnerOf(ctx, "asset-1"); owner != testMarketplace {
		t.Fatalf("custody owner = %s, want marketplace", owner)
	}

	// Once the registry recovers the seller's retry goes through.
	f.custody.failTransfer = false
	if err := f.listings.Unlist(ctx, testSeller, "asset-1"); err != nil {
		t.Fatalf("retry unlist: %v", err)
	}
	if owner, _ := f.custody.OwnerOf(ctx, "asset-1"); owner != testSeller {
		t.Fatalf("custody owner = %s, want seller", owner)
	}
}

func TestUnlistAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.list(t, "asset-1", 100, 0)

	t.Run("non-seller rejected", func(t *testing.T) {
		if err := f.listings.Unlist(ctx, testStranger, "asset-1"); !errors.Is(err, domain.ErrNotSeller) {
			t.Fatalf("err = %v, want ErrNotSeller", err)
		}
	})

	t.Run("unknown asset", func(t *testing.T) {
		if err := f.listings.Unlist(ctx, testSeller, "nope"); !errors.Is(err, domain.ErrNotListed) {
			t.Fatalf("err = %v, want ErrNotListed", err)
		}
	})
}

func TestUnlistRejectedWithStandingBid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.list(t, "asset-1", 100, 0)

	if _, err := f.auctions.PlaceBid(ctx, testBidder, "asset-1", 100); err != nil {
		t.Fatalf("place bid: %v", err)
	}

	if err := f.listings.Unlist(ctx, testSeller, "asset-1"); !errors.Is(err, domain.ErrBidActive) {
		t.Fatalf("err = %v, want ErrBidActive", err)
	}
	if l, err := f.listings.Get(ctx, "asset-1"); err != nil || !l.Listed {
		t.Fatalf("listing gone after rejected unlist: %v", err)
	}
}

func TestHighestBid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.list(t, "asset-1", 100, 0)

	if _, err := f.listings.HighestBid(ctx, "asset-1"); !errors.Is(err, domain.ErrNoBids) {
		t.Fatalf("err = %v, want ErrNoBids", err)
	}

	if _, err := f.auctions.PlaceBid(ctx, testBidder, "asset-1", 150); err != nil {
		t.Fatalf("place bid: %v", err)
	}

	bid, err := f.listings.HighestBid(ctx, "asset-1")
	if err != nil {
		t.Fatalf("highest bid: %v", err)
	}
	if bid.Bidder != testBidder || bid.Amount != 150 {
		t.Fatalf("bid = %+v, want bidder=%s amount=150", bid, testBidder)
	}
}

func TestGetReadsThroughCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.list(t, "asset-1", 100, 0)

	// Drop the cache entry; Get must repopulate it from the store.
	if err := f.cache.Invalidate(ctx, "asset-1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := f.listings.Get(ctx, "asset-1"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := f.cache.Get(ctx, "asset-1"); err != nil {
		t.Fatalf("cache not repopulated: %v", err)
	}
}
