package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gavelmarket/gavel/internal/domain"
	"github.com/gavelmarket/gavel/internal/server/middleware"
	"github.com/gavelmarket/gavel/internal/service"
)

// ListingHandler serves listing lifecycle endpoints.
type ListingHandler struct {
	listings *service.ListingService
	logger   *slog.Logger
}

// NewListingHandler creates a ListingHandler.
func NewListingHandler(listings *service.ListingService, logger *slog.Logger) *ListingHandler {
	return &ListingHandler{listings: listings, logger: logger}
}

// createListingRequest is the body for POST /api/listings.
type createListingRequest struct {
	AssetID     string `json:"asset_id"`
	MinPrice    int64  `json:"min_price"`
	BuyNowPrice int64  `json:"buy_now_price"`
}

// ListListings returns active listings.
// GET /api/listings
func (h *ListingHandler) ListListings(w http.ResponseWriter, r *http.Request) {
	listings, err := h.listings.ListActive(r.Context(), parseListOpts(r))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if listings == nil {
		listings = []domain.Listing{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"listings": listings,
		"count":    len(listings),
	})
}

// GetListing returns a single active listing.
// GET /api/listings/{assetID}
func (h *ListingHandler) GetListing(w http.ResponseWriter, r *http.Request) {
	l, err := h.listings.Get(r.Context(), pathParam(r, "assetID"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// CreateListing lists an asset for auction. The signed caller must own the
// asset.
// POST /api/listings
func (h *ListingHandler) CreateListing(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "request must be signed")
		return
	}

	var req createListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AssetID == "" {
		writeError(w, http.StatusBadRequest, "asset_id is required")
		return
	}

	l, err := h.listings.List(r.Context(), caller, req.AssetID, req.MinPrice, req.BuyNowPrice)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

// DeleteListing unlists an asset and returns custody to the seller. The
// signed caller must be the seller; listings with a standing bid cannot be
// withdrawn.
// DELETE /api/listings/{assetID}
func (h *ListingHandler) DeleteListing(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "request must be signed")
		return
	}

	if err := h.listings.Unlist(r.Context(), caller, pathParam(r, "assetID")); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unlisted"})
}
