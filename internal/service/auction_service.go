package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/gavelmarket/gavel/internal/domain"
)

// AuctionParams tunes the auction engine.
type AuctionParams struct {
	// MinIncrementPct is the percentage a new bid must exceed the standing
	// bid by.
	MinIncrementPct int64
	// Extension is the anti-sniping window: every accepted bid resets the
	// listing deadline to now plus Extension.
	Extension time.Duration
	// BidRateLimit caps accepted bid attempts per account per minute.
	BidRateLimit int
}

// AuctionService runs the bidding and settlement engine. All mutating paths
// hold the per-asset lock for their full duration, so state transitions
// observe and produce consistent listing/bid/escrow state even with the
// custody and payment calls in the middle.
type AuctionService struct {
	listings    domain.ListingStore
	bids        domain.BidStore
	auctions    domain.AuctionStore
	refunds     domain.RefundStore
	sales       domain.SaleStore
	cache       domain.ListingCache
	locks       domain.LockManager
	limiter     domain.RateLimiter
	custody     domain.CustodyClient
	gateway     domain.PaymentGateway
	bus         domain.SignalBus
	audit       domain.AuditStore
	marketplace domain.Account
	params      AuctionParams
	logger      *slog.Logger
}

// NewAuctionService creates an AuctionService with all required dependencies.
func NewAuctionService(
	listings domain.ListingStore,
	bids domain.BidStore,
	auctions domain.AuctionStore,
	refunds domain.RefundStore,
	sales domain.SaleStore,
	cache domain.ListingCache,
	locks domain.LockManager,
	limiter domain.RateLimiter,
	custody domain.CustodyClient,
	gateway domain.PaymentGateway,
	bus domain.SignalBus,
	audit domain.AuditStore,
	marketplace domain.Account,
	params AuctionParams,
	logger *slog.Logger,
) *AuctionService {
	if params.MinIncrementPct <= 0 {
		params.MinIncrementPct = domain.MinIncrementPct
	}
	if params.Extension <= 0 {
		params.Extension = 24 * time.Hour
	}
	if params.BidRateLimit <= 0 {
		params.BidRateLimit = 30
	}
	return &AuctionService{
		listings:    listings,
		bids:        bids,
		auctions:    auctions,
		refunds:     refunds,
		sales:       sales,
		cache:       cache,
		locks:       locks,
		limiter:     limiter,
		custody:     custody,
		gateway:     gateway,
		bus:         bus,
		audit:       audit,
		marketplace: marketplace,
		params:      params,
		logger:      logger,
	}
}

// PlaceBid places a bid on a listed asset. The attached amount is pulled into
// marketplace escrow before the bid is committed; on acceptance the previous
// highest bid is displaced and its escrow refunded, falling back to the
// displaced bidder's credit balance when the direct refund fails. A bid that
// meets the listing's buy-now price settles the sale immediately.
func (s *AuctionService) PlaceBid(ctx context.Context, caller domain.Account, assetID string, amount int64) (domain.Bid, error) {
	allowed, err := s.limiter.Allow(ctx, "bids:"+caller.String(), s.params.BidRateLimit, time.Minute)
	if err != nil {
		return domain.Bid{}, fmt.Errorf("auction_service: rate limiter: %w", err)
	}
	if !allowed {
		return domain.Bid{}, domain.ErrRateLimited
	}

	unlock, err := s.locks.Acquire(ctx, assetLockKey(assetID), lockTTL)
	if err != nil {
		return domain.Bid{}, fmt.Errorf("auction_service: lock %s: %w", assetID, err)
	}
	defer unlock()

	l, err := s.listings.Get(ctx, assetID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Bid{}, domain.ErrNotListed
		}
		return domain.Bid{}, fmt.Errorf("auction_service: get listing %s: %w", assetID, err)
	}
	if !l.Listed {
		return domain.Bid{}, domain.ErrNotListed
	}

	now := time.Now().UTC()
	if l.Ended(now) {
		return domain.Bid{}, domain.ErrAuctionEnded
	}

	prev, err := s.bids.GetHighest(ctx, assetID)
	if err != nil {
		return domain.Bid{}, fmt.Errorf("auction_service: highest bid %s: %w", assetID, err)
	}
	if prev.IsZero() {
		if amount < l.MinPrice {
			return domain.Bid{}, fmt.Errorf("%w: %d below min price %d", domain.ErrBidTooLow, amount, l.MinPrice)
		}
	} else {
		min := domain.MinNextBid(prev.Amount, s.params.MinIncrementPct)
		if amount < min {
			return domain.Bid{}, fmt.Errorf("%w: %d below required %d", domain.ErrBidTooLow, amount, min)
		}
	}

	res, err := s.gateway.Collect(ctx, caller, amount)
	if err != nil {
		return domain.Bid{}, fmt.Errorf("auction_service: collect escrow: %w", err)
	}
	if !res.OK {
		return domain.Bid{}, fmt.Errorf("%w: %s", domain.ErrEscrowFailed, res.Reason)
	}

	bid := domain.Bid{
		ID:       uuid.New().String(),
		AssetID:  assetID,
		Bidder:   caller,
		Amount:   amount,
		PlacedAt: now,
	}
	p := domain.AcceptBidParams{
		Bid:        bid,
		AuctionEnd: now.Add(s.params.Extension),
	}
	if !prev.IsZero() {
		p.Displaced = &domain.Refund{
			ID:      uuid.New().String(),
			AssetID: assetID,
			Bidder:  prev.Bidder,
			Amount:  prev.Amount,
			Status:  domain.RefundPending,
		}
	}

	if err := s.auctions.AcceptBid(ctx, p); err != nil {
		// Escrow was already collected; hand it back before failing.
		if ret, retErr := s.gateway.Transfer(ctx, caller, amount); retErr != nil || !ret.OK {
			reason := ret.Reason
			if retErr != nil {
				reason = retErr.Error()
			}
			s.logger.Error("return escrow after failed bid commit",
				"asset_id", assetID, "bidder", caller, "amount", amount, "reason", reason)
			// The escrow is now held without a bid backing it. Leave an
			// audit trail so the amount can be traced and returned.
			publishEvent(ctx, s.bus, s.audit, s.logger, domain.ChannelBids, domain.EventEscrowStranded, map[string]any{
				"asset_id": assetID,
				"bidder":   caller.String(),
				"amount":   amount,
				"reason":   reason,
			})
		}
		return domain.Bid{}, fmt.Errorf("auction_service: accept bid %s: %w", assetID, err)
	}

	l.AuctionEnd = p.AuctionEnd
	l.UpdatedAt = now
	if err := s.cache.Set(ctx, l); err != nil {
		s.logger.Warn("cache listing", "asset_id", assetID, "error", err)
	}

	publishEvent(ctx, s.bus, s.audit, s.logger, domain.ChannelBids, domain.EventBidAccepted, map[string]any{
		"asset_id":    assetID,
		"bidder":      caller.String(),
		"amount":      amount,
		"auction_end": p.AuctionEnd,
	})
	s.logger.Info("bid accepted",
		"asset_id", assetID, "bidder", caller, "amount", amount, "auction_end", p.AuctionEnd)

	// The new bid is committed; whatever happens to the displaced escrow
	// next, the displaced bidder recovers it either directly or as credits.
	if p.Displaced != nil {
		s.resolveRefund(ctx, *p.Displaced)
	}

	if l.BuyNowMet(amount) {
		if _, err := s.settle(ctx, l, bid, domain.SaleBuyNow); err != nil {
			// The bid itself stands; the auction settles later via Settle.
			s.logger.Error("buy-now settlement", "asset_id", assetID, "error", err)
		}
	}

	return bid, nil
}

// Settle closes an auction whose deadline has passed. Anyone may call it;
// custody goes to the winning bidder and the escrowed amount to the seller,
// with the credit-ledger fallback if the seller payout fails.
func (s *AuctionService) Settle(ctx context.Context, assetID string) (domain.Sale, error) {
	unlock, err := s.locks.Acquire(ctx, assetLockKey(assetID), lockTTL)
	if err != nil {
		return domain.Sale{}, fmt.Errorf("auction_service: lock %s: %w", assetID, err)
	}
	defer unlock()

	l, err := s.listings.Get(ctx, assetID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Sale{}, domain.ErrNotListed
		}
		return domain.Sale{}, fmt.Errorf("auction_service: get listing %s: %w", assetID, err)
	}
	if !l.Listed {
		return domain.Sale{}, domain.ErrNotListed
	}

	bid, err := s.bids.GetHighest(ctx, assetID)
	if err != nil {
		return domain.Sale{}, fmt.Errorf("auction_service: highest bid %s: %w", assetID, err)
	}
	if bid.IsZero() {
		return domain.Sale{}, domain.ErrNoBids
	}
	if !l.Ended(time.Now().UTC()) {
		return domain.Sale{}, domain.ErrAuctionOpen
	}

	return s.settle(ctx, l, bid, domain.SaleAuction)
}

// settle performs the terminal transition for a listing with a winning bid.
// The caller must hold the asset lock. The sale commits before anything
// leaves the marketplace: a commit failure changes nothing and settlement
// can be retried, while the outbound legs that follow, custody to the winner
// and the escrowed amount to the seller, are tracked on the sale and retried
// by ResolvePending until they stick. A listed asset therefore never loses
// custody, and a settled sale can never be stranded half-done.
func (s *AuctionService) settle(ctx context.Context, l domain.Listing, bid domain.Bid, kind domain.SaleKind) (domain.Sale, error) {
	sale := domain.Sale{
		ID:        uuid.New().String(),
		AssetID:   l.AssetID,
		Seller:    l.Seller,
		Winner:    bid.Bidder,
		Amount:    bid.Amount,
		Kind:      kind,
		SettledAt: time.Now().UTC(),
	}
	if err := s.auctions.SettleSale(ctx, sale); err != nil {
		return domain.Sale{}, fmt.Errorf("auction_service: settle %s: %w", l.AssetID, err)
	}
	if err := s.cache.Invalidate(ctx, l.AssetID); err != nil {
		s.logger.Warn("invalidate listing cache", "asset_id", l.AssetID, "error", err)
	}

	sale.AssetDelivered = s.deliverAsset(ctx, sale)
	sale.SellerPaid, sale.PayoutResolved = s.payoutSeller(ctx, sale)

	publishEvent(ctx, s.bus, s.audit, s.logger, domain.ChannelSales, domain.EventSaleSettled, map[string]any{
		"asset_id":    l.AssetID,
		"seller":      l.Seller.String(),
		"winner":      bid.Bidder.String(),
		"amount":      bid.Amount,
		"kind":        string(kind),
		"seller_paid": sale.SellerPaid,
		"delivered":   sale.AssetDelivered,
	})
	s.logger.Info("sale settled",
		"asset_id", l.AssetID, "winner", bid.Bidder, "amount", bid.Amount,
		"kind", kind, "seller_paid", sale.SellerPaid, "delivered", sale.AssetDelivered)
	return sale, nil
}

// deliverAsset moves custody of a settled sale's asset to the winner and
// records the delivery. Safe to call again after a partial failure: it
// consults the registry first, so a transfer that succeeded but was never
// recorded is completed instead of repeated.
func (s *AuctionService) deliverAsset(ctx context.Context, sale domain.Sale) bool {
	owner, err := s.custody.OwnerOf(ctx, sale.AssetID)
	if err != nil {
		s.logger.Error("owner of settled asset",
			"asset_id", sale.AssetID, "sale_id", sale.ID, "error", err)
		return false
	}

	switch owner {
	case s.marketplace:
		if err := s.custody.Transfer(ctx, sale.AssetID, s.marketplace, sale.Winner); err != nil {
			s.logger.Error("deliver asset to winner",
				"asset_id", sale.AssetID, "winner", sale.Winner, "error", err)
			publishEvent(ctx, s.bus, s.audit, s.logger, domain.ChannelSales, domain.EventDeliveryFailed, map[string]any{
				"sale_id":  sale.ID,
				"asset_id": sale.AssetID,
				"winner":   sale.Winner.String(),
				"reason":   err.Error(),
			})
			return false
		}
	case sale.Winner:
		// Delivered by an earlier attempt; only the record is missing.
	default:
		s.logger.Error("settled asset held by unexpected account",
			"asset_id", sale.AssetID, "owner", owner, "sale_id", sale.ID)
		publishEvent(ctx, s.bus, s.audit, s.logger, domain.ChannelSales, domain.EventDeliveryFailed, map[string]any{
			"sale_id":  sale.ID,
			"asset_id": sale.AssetID,
			"winner":   sale.Winner.String(),
			"reason":   "asset held by " + owner.String(),
		})
		return false
	}

	if err := s.auctions.MarkAssetDelivered(ctx, sale.ID); err != nil {
		s.logger.Error("record asset delivery", "sale_id", sale.ID, "error", err)
		return false
	}
	return true
}

// payoutSeller pays the escrowed amount to the seller, falling back to the
// credit ledger when the direct transfer fails. The gateway call runs inside
// the transaction that flips payout_resolved, so an unresolved sale means no
// transfer was attempted and the sweep can retry without double-paying.
func (s *AuctionService) payoutSeller(ctx context.Context, sale domain.Sale) (paid, resolved bool) {
	var reason string
	err := s.auctions.ResolveSellerPayout(ctx, sale.ID, func(seller domain.Account, amount int64) error {
		res, err := s.gateway.Transfer(ctx, seller, amount)
		switch {
		case err != nil:
			reason = err.Error()
			return err
		case !res.OK:
			reason = res.Reason
			return errors.New(res.Reason)
		}
		return nil
	})
	switch {
	case errors.Is(err, domain.ErrNotFound):
		// Resolved by a concurrent pass.
		return sale.SellerPaid, true
	case err != nil:
		s.logger.Error("resolve seller payout", "sale_id", sale.ID, "error", err)
		return false, false
	}

	if reason == "" {
		return true, true
	}

	s.logger.Warn("seller payout failed, crediting",
		"asset_id", sale.AssetID, "seller", sale.Seller, "reason", reason)
	publishEvent(ctx, s.bus, s.audit, s.logger, domain.ChannelCredits, domain.EventRefundCredited, map[string]any{
		"account": sale.Seller.String(),
		"amount":  sale.Amount,
		"reason":  reason,
		"sale_id": sale.ID,
	})
	return false, true
}

// ResolvePending retries the outbound legs of settled sales that did not
// finish: undelivered assets and unresolved seller payouts. It runs
// periodically from the maintenance loop; each sale is retried under its
// asset lock so it cannot race a live settlement. Returns the number of
// sales fully resolved by the pass.
func (s *AuctionService) ResolvePending(ctx context.Context, limit int) (int, error) {
	pending, err := s.sales.ListUnresolved(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("auction_service: list unresolved sales: %w", err)
	}

	resolved := 0
	for _, sale := range pending {
		unlock, err := s.locks.Acquire(ctx, assetLockKey(sale.AssetID), lockTTL)
		if err != nil {
			s.logger.Warn("lock pending sale", "asset_id", sale.AssetID, "error", err)
			continue
		}

		done := true
		if !sale.AssetDelivered {
			if s.deliverAsset(ctx, sale) {
				publishEvent(ctx, s.bus, s.audit, s.logger, domain.ChannelSales, domain.EventAssetDelivered, map[string]any{
					"sale_id":  sale.ID,
					"asset_id": sale.AssetID,
					"winner":   sale.Winner.String(),
				})
			} else {
				done = false
			}
		}
		if !sale.PayoutResolved {
			if _, ok := s.payoutSeller(ctx, sale); !ok {
				done = false
			}
		}
		unlock()

		if done {
			resolved++
		}
	}
	return resolved, nil
}

// resolveRefund returns a displaced bid's escrow to its bidder. The pending
// refund row is already committed, so a direct-transfer failure here only
// ever converts the refund into credits; the displaced bidder can never be
// left with nothing.
func (s *AuctionService) resolveRefund(ctx context.Context, r domain.Refund) {
	publishEvent(ctx, s.bus, s.audit, s.logger, domain.ChannelBids, domain.EventBidOutbid, map[string]any{
		"asset_id": r.AssetID,
		"bidder":   r.Bidder.String(),
		"amount":   r.Amount,
	})

	res, err := s.gateway.Transfer(ctx, r.Bidder, r.Amount)

	reason := ""
	switch {
	case err != nil:
		reason = err.Error()
	case !res.OK:
		reason = res.Reason
	}

	if reason == "" {
		if err := s.refunds.MarkPaid(ctx, r.ID); err != nil {
			s.logger.Error("mark refund paid", "refund_id", r.ID, "error", err)
			return
		}
		publishEvent(ctx, s.bus, s.audit, s.logger, domain.ChannelBids, domain.EventRefundPaid, map[string]any{
			"asset_id": r.AssetID,
			"bidder":   r.Bidder.String(),
			"amount":   r.Amount,
		})
		return
	}

	s.logger.Warn("direct refund failed, crediting",
		"asset_id", r.AssetID, "bidder", r.Bidder, "amount", r.Amount, "reason", reason)
	if err := s.refunds.MarkCredited(ctx, r.ID, reason); err != nil {
		// The refund row stays pending; a later sweep or operator resolves
		// it manually.
		s.logger.Error("mark refund credited", "refund_id", r.ID, "error", err)
		return
	}
	publishEvent(ctx, s.bus, s.audit, s.logger, domain.ChannelCredits, domain.EventRefundCredited, map[string]any{
		"asset_id": r.AssetID,
		"account":  r.Bidder.String(),
		"amount":   r.Amount,
		"reason":   reason,
	})
}
