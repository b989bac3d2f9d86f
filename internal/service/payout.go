package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/estatemarket/internal/domain"
	"github.com/alanyoungcy/estatemarket/internal/market"
)

// payoutEvent is the audit event name of a recorded withdrawal instruction.
const payoutEvent = "payout_requested"

// AuditPayout records every withdrawal as a payout instruction in the audit
// log for the settlement operator, then forwards it to next when set. Any
// failure is returned so the engine rolls the withdrawal back.
type AuditPayout struct {
	audit  domain.AuditStore
	next   market.Payout
	logger *slog.Logger
}

// NewAuditPayout creates an AuditPayout. audit and next may each be nil, but
// with both nil withdrawals are only logged.
func NewAuditPayout(audit domain.AuditStore, next market.Payout, logger *slog.Logger) *AuditPayout {
	return &AuditPayout{
		audit:  audit,
		next:   next,
		logger: logger.With(slog.String("component", "payout")),
	}
}

// Pay implements market.Payout.
func (p *AuditPayout) Pay(ctx context.Context, to common.Address, cur domain.Currency, amount *big.Int) error {
	if p.audit != nil {
		err := p.audit.Log(ctx, payoutEvent, map[string]any{
			"to":       to.Hex(),
			"currency": cur.Key(),
			"amount":   amount.String(),
		})
		if err != nil {
			return fmt.Errorf("payout: audit log: %w", err)
		}
	}
	if p.next != nil {
		if err := p.next.Pay(ctx, to, cur, amount); err != nil {
			return fmt.Errorf("payout: forward: %w", err)
		}
	}
	p.logger.InfoContext(ctx, "payout: withdrawal recorded",
		slog.String("to", to.Hex()),
		slog.String("currency", cur.Key()),
		slog.String("amount", amount.String()),
	)
	return nil
}
