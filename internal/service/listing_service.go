package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gavelmarket/gavel/internal/domain"
)

// lockTTL bounds how long a mutating marketplace operation may hold its
// per-asset lock, including the outbound custody and value transfers.
const lockTTL = 30 * time.Second

// ListingService handles the listing lifecycle: taking custody of an asset
// when it is listed and returning custody when it is unlisted.
type ListingService struct {
	listings    domain.ListingStore
	bids        domain.BidStore
	auctions    domain.AuctionStore
	cache       domain.ListingCache
	locks       domain.LockManager
	custody     domain.CustodyClient
	bus         domain.SignalBus
	audit       domain.AuditStore
	marketplace domain.Account
	logger      *slog.Logger
}

// NewListingService creates a ListingService with all required dependencies.
// marketplace is the escrow account assets are held under while listed.
func NewListingService(
	listings domain.ListingStore,
	bids domain.BidStore,
	auctions domain.AuctionStore,
	cache domain.ListingCache,
	locks domain.LockManager,
	custody domain.CustodyClient,
	bus domain.SignalBus,
	audit domain.AuditStore,
	marketplace domain.Account,
	logger *slog.Logger,
) *ListingService {
	return &ListingService{
		listings:    listings,
		bids:        bids,
		auctions:    auctions,
		cache:       cache,
		locks:       locks,
		custody:     custody,
		bus:         bus,
		audit:       audit,
		marketplace: marketplace,
		logger:      logger,
	}
}

func assetLockKey(assetID string) string { return "asset:" + assetID }

// List puts an asset up for auction. The caller must be the asset's current
// owner; custody moves to the marketplace escrow account before the listing
// is recorded, so a recorded listing always implies held custody.
func (s *ListingService) List(ctx context.Context, caller domain.Account, assetID string, minPrice, buyNowPrice int64) (domain.Listing, error) {
	if minPrice <= 0 {
		return domain.Listing{}, fmt.Errorf("%w: min price must be positive", domain.ErrInvalidPrice)
	}
	if buyNowPrice < 0 || (buyNowPrice > 0 && buyNowPrice < minPrice) {
		return domain.Listing{}, fmt.Errorf("%w: buy-now price below min price", domain.ErrInvalidPrice)
	}

	unlock, err := s.locks.Acquire(ctx, assetLockKey(assetID), lockTTL)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("listing_service: lock %s: %w", assetID, err)
	}
	defer unlock()

	owner, err := s.custody.OwnerOf(ctx, assetID)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("listing_service: owner of %s: %w", assetID, err)
	}
	if owner != caller {
		return domain.Listing{}, domain.ErrNotOwner
	}

	if existing, err := s.listings.Get(ctx, assetID); err == nil && existing.Listed {
		return domain.Listing{}, domain.ErrAlreadyListed
	} else if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.Listing{}, fmt.Errorf("listing_service: get %s: %w", assetID, err)
	}

	if err := s.custody.Transfer(ctx, assetID, caller, s.marketplace); err != nil {
		return domain.Listing{}, fmt.Errorf("listing_service: take custody of %s: %w", assetID, err)
	}

	now := time.Now().UTC()
	l := domain.Listing{
		AssetID:     assetID,
		Seller:      caller,
		MinPrice:    minPrice,
		BuyNowPrice: buyNowPrice,
		Listed:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.listings.Upsert(ctx, l); err != nil {
		// Custody already moved; hand the asset back rather than strand it.
		if rbErr := s.custody.Transfer(ctx, assetID, s.marketplace, caller); rbErr != nil {
			s.logger.Error("return custody after failed listing", "asset_id", assetID, "error", rbErr)
		}
		return domain.Listing{}, fmt.Errorf("listing_service: persist listing %s: %w", assetID, err)
	}

	if err := s.cache.Set(ctx, l); err != nil {
		s.logger.Warn("cache listing", "asset_id", assetID, "error", err)
	}

	publishEvent(ctx, s.bus, s.audit, s.logger, domain.ChannelListings, domain.EventListed, map[string]any{
		"asset_id":      assetID,
		"seller":        caller.String(),
		"min_price":     minPrice,
		"buy_now_price": buyNowPrice,
	})
	s.logger.Info("asset listed", "asset_id", assetID, "seller", caller, "min_price", minPrice)
	return l, nil
}

// Unlist withdraws a listing and returns custody to the seller. Only the
// seller may unlist, and not while a bid is standing: the bid holds escrowed
// value that only settlement or displacement can release.
func (s *ListingService) Unlist(ctx context.Context, caller domain.Account, assetID string) error {
	unlock, err := s.locks.Acquire(ctx, assetLockKey(assetID), lockTTL)
	if err != nil {
		return fmt.Errorf("listing_service: lock %s: %w", assetID, err)
	}
	defer unlock()

	l, err := s.listings.Get(ctx, assetID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrNotListed
		}
		return fmt.Errorf("listing_service: get %s: %w", assetID, err)
	}
	if !l.Listed {
		return domain.ErrNotListed
	}
	if l.Seller != caller {
		return domain.ErrNotSeller
	}

	bid, err := s.bids.GetHighest(ctx, assetID)
	if err != nil {
		return fmt.Errorf("listing_service: highest bid %s: %w", assetID, err)
	}
	if !bid.IsZero() {
		return domain.ErrBidActive
	}

	if err := s.auctions.Unlist(ctx, assetID); err != nil {
		return fmt.Errorf("listing_service: unlist %s: %w", assetID, err)
	}
	if err := s.cache.Invalidate(ctx, assetID); err != nil {
		s.logger.Warn("invalidate listing cache", "asset_id", assetID, "error", err)
	}

	if err := s.custody.Transfer(ctx, assetID, s.marketplace, l.Seller); err != nil {
		// Custody is still held, so put the listing back and let the seller
		// retry once the registry recovers.
		s.logger.Error("return custody after unlist", "asset_id", assetID, "error", err)
		l.UpdatedAt = time.Now().UTC()
		if rbErr := s.listings.Upsert(ctx, l); rbErr != nil {
			s.logger.Error("restore listing after failed custody return",
				"asset_id", assetID, "error", rbErr)
		}
		return fmt.Errorf("listing_service: return custody of %s: %w", assetID, err)
	}

	publishEvent(ctx, s.bus, s.audit, s.logger, domain.ChannelListings, domain.EventUnlisted, map[string]any{
		"asset_id": assetID,
		"seller":   caller.String(),
	})
	s.logger.Info("asset unlisted", "asset_id", assetID, "seller", caller)
	return nil
}

// Get returns the active listing for an asset, reading through the cache.
// It returns ErrNotListed for unknown assets and for tombstoned listings.
func (s *ListingService) Get(ctx context.Context, assetID string) (domain.Listing, error) {
	if l, err := s.cache.Get(ctx, assetID); err == nil {
		if !l.Listed {
			return domain.Listing{}, domain.ErrNotListed
		}
		return l, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		s.logger.Warn("listing cache read", "asset_id", assetID, "error", err)
	}

	l, err := s.listings.Get(ctx, assetID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Listing{}, domain.ErrNotListed
		}
		return domain.Listing{}, fmt.Errorf("listing_service: get %s: %w", assetID, err)
	}
	if !l.Listed {
		return domain.Listing{}, domain.ErrNotListed
	}

	if err := s.cache.Set(ctx, l); err != nil {
		s.logger.Warn("cache listing", "asset_id", assetID, "error", err)
	}
	return l, nil
}

// HighestBid returns the standing bid on a listed asset, or ErrNoBids when
// none has been placed yet.
func (s *ListingService) HighestBid(ctx context.Context, assetID string) (domain.Bid, error) {
	if _, err := s.Get(ctx, assetID); err != nil {
		return domain.Bid{}, err
	}
	bid, err := s.bids.GetHighest(ctx, assetID)
	if err != nil {
		return domain.Bid{}, fmt.Errorf("listing_service: highest bid %s: %w", assetID, err)
	}
	if bid.IsZero() {
		return domain.Bid{}, domain.ErrNoBids
	}
	return bid, nil
}

// ListActive returns active listings for browsing.
func (s *ListingService) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Listing, error) {
	out, err := s.listings.ListActive(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("listing_service: list active: %w", err)
	}
	return out, nil
}

// Count returns the number of active listings, used by the status endpoint.
func (s *ListingService) Count(ctx context.Context) (int64, error) {
	n, err := s.listings.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing_service: count: %w", err)
	}
	return n, nil
}
