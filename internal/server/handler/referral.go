package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/estatemarket/internal/service"
)

// ReferralHandler serves fee quotes and agent commissions.
type ReferralHandler struct {
	base
}

// NewReferralHandler creates a ReferralHandler.
func NewReferralHandler(svc *service.MarketService, stable common.Address, logger *slog.Logger) *ReferralHandler {
	return &ReferralHandler{base: newBase(svc, stable, logger, "referral")}
}

// ComputeFees splits a gross amount into seller net, platform fee and
// commission without changing any state.
// GET /api/fees?gross=&property_id=&agent=
func (h *ReferralHandler) ComputeFees(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	gross, err := parseAmount("gross", q.Get("gross"))
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	var propertyID uint64
	if v := q.Get("property_id"); v != "" {
		if propertyID, err = strconv.ParseUint(v, 10, 64); err != nil {
			badRequest(w, "invalid property_id %q", v)
			return
		}
	}
	agent, err := optionalAddress("agent", q.Get("agent"))
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	fees, err := h.svc.Engine().ComputeFees(gross, propertyID, agent)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, fees)
}

// GetRecord returns an agent's commission record on a property.
// GET /api/referrals/{address}/{id}
func (h *ReferralHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	agent, err := pathAddress(r, "address")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Engine().ReferralRecord(agent, id))
}

// ClaimCommission credits the caller's accrued commission on a property to
// their vault balance.
// POST /api/referrals/{id}/claim
func (h *ReferralHandler) ClaimCommission(w http.ResponseWriter, r *http.Request) {
	agent, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	if err := h.svc.ClaimReferralCommission(r.Context(), agent, id); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
