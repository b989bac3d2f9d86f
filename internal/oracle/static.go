// Package oracle converts stable-token amounts into native-currency amounts
// for purchases paid in the native coin.
package oracle

import (
	"context"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/estatemarket/internal/domain"
)

// StaticQuoter prices at a fixed rate of native coins per stable token.
// Results round up so a native payer never underpays.
type StaticQuoter struct {
	rate           decimal.Decimal
	nativeDecimals int32
	stableDecimals int32
}

// NewStaticQuoter parses rate (e.g. "0.0004" native per stable unit).
func NewStaticQuoter(rate string, nativeDecimals, stableDecimals int) (*StaticQuoter, error) {
	r, err := decimal.NewFromString(rate)
	if err != nil {
		return nil, fmt.Errorf("oracle: parse static rate %q: %w", rate, err)
	}
	if !r.IsPositive() {
		return nil, fmt.Errorf("oracle: static rate must be positive, got %s", r)
	}
	return &StaticQuoter{
		rate:           r,
		nativeDecimals: int32(nativeDecimals),
		stableDecimals: int32(stableDecimals),
	}, nil
}

// QuoteNative implements market.Quoter.
func (q *StaticQuoter) QuoteNative(_ context.Context, stableAmount *big.Int) (*big.Int, error) {
	if stableAmount == nil || stableAmount.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative amount", domain.ErrQuoteUnavailable)
	}
	native := decimal.NewFromBigInt(stableAmount, -q.stableDecimals).
		Mul(q.rate).
		Shift(q.nativeDecimals).
		Ceil()
	return native.BigInt(), nil
}

// ID identifies this price source in cache keys.
func (q *StaticQuoter) ID() string {
	return "static:" + q.rate.String()
}
