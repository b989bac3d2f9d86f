package handler

import (
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/estatemarket/internal/domain"
	"github.com/alanyoungcy/estatemarket/internal/service"
)

// VaultHandler serves deposits, withdrawals and balances.
type VaultHandler struct {
	base
}

// NewVaultHandler creates a VaultHandler.
func NewVaultHandler(svc *service.MarketService, stable common.Address, logger *slog.Logger) *VaultHandler {
	return &VaultHandler{base: newBase(svc, stable, logger, "vault")}
}

// currencies returns the currency named by the query, or both accepted
// currencies when none is named.
func (h *VaultHandler) currencies(r *http.Request) ([]domain.Currency, error) {
	raw := r.URL.Query().Get("currency")
	if raw == "" {
		return []domain.Currency{domain.Native(), domain.Stable(h.stable)}, nil
	}
	cur, err := parseCurrency(raw, h.stable)
	if err != nil {
		return nil, err
	}
	return []domain.Currency{cur}, nil
}

// GetBalance returns an account's withdrawable balances.
// GET /api/vault/{address}
func (h *VaultHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	owner, err := pathAddress(r, "address")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	curs, err := h.currencies(r)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	balances := make(map[string]string, len(curs))
	for _, cur := range curs {
		balances[cur.Key()] = h.svc.Engine().Balance(owner, cur).String()
	}
	writeJSON(w, http.StatusOK, map[string]any{"owner": owner, "balances": balances})
}

// GetEscrow returns what the engine holds for sales, bids and commissions.
// GET /api/vault/escrow
func (h *VaultHandler) GetEscrow(w http.ResponseWriter, r *http.Request) {
	curs, err := h.currencies(r)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	escrow := make(map[string]string, len(curs))
	for _, cur := range curs {
		escrow[cur.Key()] = h.svc.Engine().Escrowed(cur).String()
	}
	writeJSON(w, http.StatusOK, map[string]any{"escrow": escrow})
}

type depositRequest struct {
	To       string `json:"to"`
	Currency string `json:"currency,omitempty"`
	Amount   string `json:"amount"`
}

// Deposit records inbound value for an account. Administrators only.
// POST /api/vault/deposits
func (h *VaultHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req depositRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "%v", err)
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	cur, err := parseCurrency(req.Currency, h.stable)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	if err := h.svc.Deposit(r.Context(), caller, to, cur, amount); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"owner":   to,
		"balance": h.svc.Engine().Balance(to, cur).String(),
	})
}

type withdrawRequest struct {
	Currency string `json:"currency,omitempty"`
	Amount   string `json:"amount"`
}

// Withdraw pays out part of the caller's balance.
// POST /api/vault/withdrawals
func (h *VaultHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req withdrawRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "%v", err)
		return
	}
	cur, err := parseCurrency(req.Currency, h.stable)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	if err := h.svc.Withdraw(r.Context(), owner, cur, amount); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"owner":   owner,
		"balance": h.svc.Engine().Balance(owner, cur).String(),
	})
}
