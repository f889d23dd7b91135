package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gavelmarket/gavel/internal/server/middleware"
	"github.com/gavelmarket/gavel/internal/service"
)

// BidHandler serves bidding and settlement endpoints.
type BidHandler struct {
	listings *service.ListingService
	auctions *service.AuctionService
	logger   *slog.Logger
}

// NewBidHandler creates a BidHandler.
func NewBidHandler(listings *service.ListingService, auctions *service.AuctionService, logger *slog.Logger) *BidHandler {
	return &BidHandler{listings: listings, auctions: auctions, logger: logger}
}

// placeBidRequest is the body for POST /api/listings/{assetID}/bids.
type placeBidRequest struct {
	Amount int64 `json:"amount"`
}

// GetHighestBid returns the standing bid on a listing.
// GET /api/listings/{assetID}/bid
func (h *BidHandler) GetHighestBid(w http.ResponseWriter, r *http.Request) {
	bid, err := h.listings.HighestBid(r.Context(), pathParam(r, "assetID"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, bid)
}

// PlaceBid places a bid with the signed caller as bidder. The bid amount is
// escrowed on acceptance; a bid meeting the buy-now price settles the sale
// immediately.
// POST /api/listings/{assetID}/bids
func (h *BidHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "request must be signed")
		return
	}

	var req placeBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	bid, err := h.auctions.PlaceBid(r.Context(), caller, pathParam(r, "assetID"), req.Amount)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, bid)
}

// Settle closes an ended auction: custody to the winner, escrow to the
// seller. Anyone may call it once the deadline has passed.
// POST /api/listings/{assetID}/settle
func (h *BidHandler) Settle(w http.ResponseWriter, r *http.Request) {
	sale, err := h.auctions.Settle(r.Context(), pathParam(r, "assetID"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}
