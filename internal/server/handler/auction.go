package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/estatemarket/internal/domain"
	"github.com/alanyoungcy/estatemarket/internal/market"
	"github.com/alanyoungcy/estatemarket/internal/service"
)

// AuctionHandler serves English auctions of share blocks.
type AuctionHandler struct {
	base
}

// NewAuctionHandler creates an AuctionHandler.
func NewAuctionHandler(svc *service.MarketService, stable common.Address, logger *slog.Logger) *AuctionHandler {
	return &AuctionHandler{base: newBase(svc, stable, logger, "auction")}
}

type auctionView struct {
	domain.Auction
	Status domain.AuctionStatus `json:"status"`
}

// GetAuction returns an auction with its derived status.
// GET /api/auctions/{id}
func (h *AuctionHandler) GetAuction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	a, err := h.svc.Engine().Auction(id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, auctionView{Auction: a, Status: a.Status(h.svc.Engine().Now())})
}

type auctionRequest struct {
	PropertyID uint64    `json:"property_id"`
	Shares     uint64    `json:"shares"`
	BasePrice  string    `json:"base_price"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Currency   string    `json:"currency,omitempty"`
}

// CreateAuction reserves the caller's shares and opens an auction.
// POST /api/auctions
func (h *AuctionHandler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	seller, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req auctionRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "%v", err)
		return
	}
	basePrice, err := parseAmount("base_price", req.BasePrice)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	cur, err := parseCurrency(req.Currency, h.stable)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	id, err := h.svc.CreateAuction(r.Context(), seller, market.AuctionParams{
		PropertyID: req.PropertyID,
		Shares:     req.Shares,
		BasePrice:  basePrice,
		Start:      req.Start,
		End:        req.End,
		Currency:   cur,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

type bidRequest struct {
	Amount string `json:"amount"`
}

// PlaceBid bids on an auction from the caller's vault balance.
// POST /api/auctions/{id}/bids
func (h *AuctionHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	bidder, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	var req bidRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "%v", err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	if err := h.svc.PlaceBid(r.Context(), id, bidder, amount); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	a, err := h.svc.Engine().Auction(id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, auctionView{Auction: a, Status: a.Status(h.svc.Engine().Now())})
}

// CancelAuction cancels a bidless auction.
// DELETE /api/auctions/{id}
func (h *AuctionHandler) CancelAuction(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	if err := h.svc.CancelAuction(r.Context(), caller, id); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ConcludeAuction settles an ended auction.
// POST /api/auctions/{id}/conclude
func (h *AuctionHandler) ConcludeAuction(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	if err := h.svc.ConcludeAuction(r.Context(), caller, id); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// WithdrawRefund moves the caller's outbid amount into their vault balance.
// POST /api/auctions/{id}/refund
func (h *AuctionHandler) WithdrawRefund(w http.ResponseWriter, r *http.Request) {
	bidder, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	if err := h.svc.WithdrawBidRefund(r.Context(), id, bidder); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetRefund returns a bidder's withdrawable refund.
// GET /api/auctions/{id}/refunds/{address}
func (h *AuctionHandler) GetRefund(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	bidder, err := pathAddress(r, "address")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"auction_id": id,
		"bidder":     bidder,
		"amount":     h.svc.Engine().BidRefund(id, bidder).String(),
	})
}

// History returns the auction's event history.
// GET /api/auctions/{id}/history
func (h *AuctionHandler) History(w http.ResponseWriter, r *http.Request) {
	writeHistory(w, r, h.base, domain.EntityAuction)
}
