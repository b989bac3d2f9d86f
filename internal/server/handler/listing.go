package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/estatemarket/internal/domain"
	"github.com/alanyoungcy/estatemarket/internal/service"
)

// ListingHandler serves the secondary listing book.
type ListingHandler struct {
	base
}

// NewListingHandler creates a ListingHandler.
func NewListingHandler(svc *service.MarketService, stable common.Address, logger *slog.Logger) *ListingHandler {
	return &ListingHandler{base: newBase(svc, stable, logger, "listing")}
}

// ListListings returns open listings, optionally filtered by property_id.
// GET /api/listings
func (h *ListingHandler) ListListings(w http.ResponseWriter, r *http.Request) {
	var propertyID uint64
	if v := r.URL.Query().Get("property_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			badRequest(w, "invalid property_id %q", v)
			return
		}
		propertyID = id
	}
	listings := h.svc.Engine().Listings(propertyID)
	writeJSON(w, http.StatusOK, map[string]any{"listings": listings, "count": len(listings)})
}

// GetListing returns a single listing, open or not.
// GET /api/listings/{id}
func (h *ListingHandler) GetListing(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	l, err := h.svc.Engine().Listing(id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

type listingRequest struct {
	PropertyID    uint64 `json:"property_id,omitempty"`
	Shares        uint64 `json:"shares"`
	PricePerShare string `json:"price_per_share"`
}

// CreateListing offers shares the caller owns for resale.
// POST /api/listings
func (h *ListingHandler) CreateListing(w http.ResponseWriter, r *http.Request) {
	seller, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req listingRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "%v", err)
		return
	}
	price, err := parseAmount("price_per_share", req.PricePerShare)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	id, err := h.svc.CreateListing(r.Context(), seller, req.PropertyID, req.Shares, price)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

// UpdateListing changes the share count and price of the caller's listing.
// PUT /api/listings/{id}
func (h *ListingHandler) UpdateListing(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	var req listingRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "%v", err)
		return
	}
	price, err := parseAmount("price_per_share", req.PricePerShare)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	if err := h.svc.UpdateListing(r.Context(), caller, id, req.Shares, price); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	l, err := h.svc.Engine().Listing(id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// CancelListing withdraws the caller's listing and releases its shares.
// DELETE /api/listings/{id}
func (h *ListingHandler) CancelListing(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	if err := h.svc.CancelListing(r.Context(), caller, id); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type buyListingRequest struct {
	Shares   uint64 `json:"shares"`
	Currency string `json:"currency,omitempty"`
}

// Buy purchases shares from one listing.
// POST /api/listings/{id}/purchases
func (h *ListingHandler) Buy(w http.ResponseWriter, r *http.Request) {
	buyer, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	var req buyListingRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "%v", err)
		return
	}
	cur, err := parseCurrency(req.Currency, h.stable)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if err := h.svc.Buy(r.Context(), id, buyer, req.Shares, cur); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	l, err := h.svc.Engine().Listing(id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

type bulkBuyRequest struct {
	Items    []domain.BulkItem `json:"items"`
	Currency string            `json:"currency,omitempty"`
}

// BulkBuy purchases from several listings atomically.
// POST /api/listings/bulk-purchases
func (h *ListingHandler) BulkBuy(w http.ResponseWriter, r *http.Request) {
	buyer, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req bulkBuyRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "%v", err)
		return
	}
	cur, err := parseCurrency(req.Currency, h.stable)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if err := h.svc.BulkBuy(r.Context(), req.Items, buyer, cur); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// History returns the listing's event history.
// GET /api/listings/{id}/history
func (h *ListingHandler) History(w http.ResponseWriter, r *http.Request) {
	writeHistory(w, r, h.base, domain.EntityListing)
}
