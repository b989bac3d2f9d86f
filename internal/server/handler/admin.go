package handler

import (
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/estatemarket/internal/service"
)

// AdminHandler serves the owner- and administrator-controlled settings.
type AdminHandler struct {
	base
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(svc *service.MarketService, stable common.Address, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{base: newBase(svc, stable, logger, "admin")}
}

// GetSettings returns the current fee settings and access lists.
// GET /api/settings
func (h *AdminHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Engine().Settings())
}

type bipsRequest struct {
	Bips uint32 `json:"bips"`
}

// SetBips updates platform_fee_bips, default_referral_bips,
// min_bid_increment_bips or min_listing_price_bips.
// PUT /api/settings/{name}
func (h *AdminHandler) SetBips(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req bipsRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "%v", err)
		return
	}
	if err := h.svc.SetBips(r.Context(), caller, r.PathValue("name"), req.Bips); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Engine().Settings())
}

type exclusiveRequest struct {
	Bips uint32 `json:"bips"`
}

// SetExclusiveReferral sets an agent's exclusive commission rate; zero
// clears it.
// PUT /api/agents/{address}/exclusive-bips
func (h *AdminHandler) SetExclusiveReferral(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireActor(w, r)
	if !ok {
		return
	}
	agent, err := pathAddress(r, "address")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	var req exclusiveRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "%v", err)
		return
	}
	if err := h.svc.SetExclusiveReferralBips(r.Context(), caller, agent, req.Bips); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type flagRequest struct {
	Enabled bool `json:"enabled"`
}

// SetFlag toggles membership of an address in the whitelist, blacklist or
// administrator set, named by the list path parameter.
// PUT /api/access/{list}/{address}
func (h *AdminHandler) SetFlag(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireActor(w, r)
	if !ok {
		return
	}
	addr, err := pathAddress(r, "address")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	var req flagRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "%v", err)
		return
	}

	ctx := r.Context()
	switch list := r.PathValue("list"); list {
	case "whitelist":
		err = h.svc.UpdateAgentWhitelistStatus(ctx, caller, addr, req.Enabled)
	case "blacklist":
		err = h.svc.UpdateBlacklist(ctx, caller, addr, req.Enabled)
	case "administrators":
		err = h.svc.SetAdministrator(ctx, caller, addr, req.Enabled)
	default:
		badRequest(w, "unknown access list %q", list)
		return
	}
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type recipientRequest struct {
	Recipient string `json:"recipient"`
}

// SetFeeRecipient changes where platform fees are credited. Owner only.
// PUT /api/settings/fee-recipient
func (h *AdminHandler) SetFeeRecipient(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req recipientRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "%v", err)
		return
	}
	recipient, err := parseAddress("recipient", req.Recipient)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	if err := h.svc.SetFeeRecipient(r.Context(), caller, recipient); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
