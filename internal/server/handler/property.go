package handler

import (
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/estatemarket/internal/domain"
	"github.com/alanyoungcy/estatemarket/internal/market"
	"github.com/alanyoungcy/estatemarket/internal/service"
)

// PropertyHandler serves the share registry and primary sale endpoints.
type PropertyHandler struct {
	base
}

// NewPropertyHandler creates a PropertyHandler.
func NewPropertyHandler(svc *service.MarketService, stable common.Address, logger *slog.Logger) *PropertyHandler {
	return &PropertyHandler{base: newBase(svc, stable, logger, "property")}
}

// propertyView is a property together with its primary sale state.
type propertyView struct {
	domain.Property
	Sale  *domain.PrimarySale `json:"sale,omitempty"`
	Stage domain.SaleStage    `json:"stage,omitempty"`
}

func (h *PropertyHandler) view(p domain.Property) propertyView {
	v := propertyView{Property: p}
	if s, err := h.svc.Engine().Sale(p.ID); err == nil {
		v.Sale = &s
		v.Stage = s.Stage(h.svc.Engine().Now())
	}
	return v
}

// ListProperties returns every registered property.
// GET /api/properties
func (h *PropertyHandler) ListProperties(w http.ResponseWriter, r *http.Request) {
	props := h.svc.Engine().Properties()
	out := make([]propertyView, 0, len(props))
	for _, p := range props {
		out = append(out, h.view(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"properties": out, "count": len(out)})
}

// GetProperty returns one property and its sale.
// GET /api/properties/{id}
func (h *PropertyHandler) GetProperty(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	p, err := h.svc.Engine().Property(id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(p))
}

type registerRequest struct {
	Owner         string    `json:"owner"`
	PricePerShare string    `json:"price_per_share"`
	TotalShares   uint64    `json:"total_shares"`
	URI           string    `json:"uri"`
	AprBips       uint32    `json:"apr_bips"`
	SaleStart     time.Time `json:"sale_start"`
	SaleEnd       time.Time `json:"sale_end"`
}

// RegisterProperty lists a new property and opens its primary sale.
// POST /api/properties
func (h *PropertyHandler) RegisterProperty(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "%v", err)
		return
	}
	owner, err := parseAddress("owner", req.Owner)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	price, err := parseAmount("price_per_share", req.PricePerShare)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}

	id, err := h.svc.RegisterProperty(r.Context(), caller, market.PropertyParams{
		Owner:         owner,
		PricePerShare: price,
		TotalShares:   req.TotalShares,
		URI:           req.URI,
		AprBips:       req.AprBips,
		SaleStart:     req.SaleStart,
		SaleEnd:       req.SaleEnd,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

type propertyUpdateRequest struct {
	PricePerShare *string `json:"price_per_share,omitempty"`
	AprBips       *uint32 `json:"apr_bips,omitempty"`
	URI           *string `json:"uri,omitempty"`
	Delisted      *bool   `json:"delisted,omitempty"`
}

// UpdateProperty applies each field present in the body as its own
// operation, stopping at the first failure.
// PATCH /api/properties/{id}
func (h *PropertyHandler) UpdateProperty(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	var req propertyUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "%v", err)
		return
	}

	var price *big.Int
	if req.PricePerShare != nil {
		if price, err = parseAmount("price_per_share", *req.PricePerShare); err != nil {
			badRequest(w, "%v", err)
			return
		}
	}

	ctx := r.Context()
	var steps []func() error
	if price != nil {
		steps = append(steps, func() error { return h.svc.UpdatePrice(ctx, caller, id, price) })
	}
	if req.AprBips != nil {
		steps = append(steps, func() error { return h.svc.UpdateApr(ctx, caller, id, *req.AprBips) })
	}
	if req.URI != nil {
		steps = append(steps, func() error { return h.svc.UpdateURI(ctx, caller, id, *req.URI) })
	}
	if req.Delisted != nil {
		steps = append(steps, func() error { return h.svc.SetDelisted(ctx, caller, id, *req.Delisted) })
	}
	if len(steps) == 0 {
		badRequest(w, "no fields to update")
		return
	}
	for _, step := range steps {
		if err := step(); err != nil {
			writeDomainError(w, r, h.logger, err)
			return
		}
	}

	p, err := h.svc.Engine().Property(id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(p))
}

type transferRequest struct {
	To     string `json:"to"`
	Shares uint64 `json:"shares"`
}

// TransferShares moves unlocked shares from the caller to another holder.
// POST /api/properties/{id}/transfers
func (h *PropertyHandler) TransferShares(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	var req transferRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "%v", err)
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	if err := h.svc.TransferShares(r.Context(), caller, to, id, req.Shares); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetHolding returns an owner's balance and unreserved balance.
// GET /api/properties/{id}/holders/{address}
func (h *PropertyHandler) GetHolding(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	holder, err := pathAddress(r, "address")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	eng := h.svc.Engine()
	writeJSON(w, http.StatusOK, map[string]any{
		"property_id": id,
		"owner":       holder,
		"shares":      eng.BalanceOf(id, holder),
		"available":   eng.AvailableShares(id, holder),
	})
}

type buySharesRequest struct {
	Shares   uint64 `json:"shares"`
	Currency string `json:"currency,omitempty"`
	Agent    string `json:"agent,omitempty"`
}

// BuyShares purchases shares in the primary sale.
// POST /api/properties/{id}/purchases
func (h *PropertyHandler) BuyShares(w http.ResponseWriter, r *http.Request) {
	buyer, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	var req buySharesRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "%v", err)
		return
	}
	cur, err := parseCurrency(req.Currency, h.stable)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	agent, err := optionalAddress("agent", req.Agent)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	if err := h.svc.BuyShares(r.Context(), buyer, id, req.Shares, cur, agent); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Engine().PendingClaim(buyer, id))
}

// ConcludeSale resolves the primary sale once its window has closed or it
// sold out.
// POST /api/properties/{id}/conclude
func (h *PropertyHandler) ConcludeSale(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	if err := h.svc.ConcludeSale(r.Context(), caller, id); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	sale, err := h.svc.Engine().Sale(id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

// Claim settles the caller's pending claim: shares when the threshold was
// met, a refund otherwise.
// POST /api/properties/{id}/claim
func (h *PropertyHandler) Claim(w http.ResponseWriter, r *http.Request) {
	buyer, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	if err := h.svc.ClaimPendingSharesOrFunds(r.Context(), buyer, id); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetClaim returns a buyer's pending claim.
// GET /api/properties/{id}/claims/{address}
func (h *PropertyHandler) GetClaim(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	buyer, err := pathAddress(r, "address")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Engine().PendingClaim(buyer, id))
}

// History returns the property's event history.
// GET /api/properties/{id}/history
func (h *PropertyHandler) History(w http.ResponseWriter, r *http.Request) {
	writeHistory(w, r, h.base, domain.EntityProperty)
}

// writeHistory serves the event history of the entity named by the id path
// parameter.
func writeHistory(w http.ResponseWriter, r *http.Request, b base, entityType string) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	events, err := b.svc.History(r.Context(), entityType, id, parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, b.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}
