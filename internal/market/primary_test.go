package market

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/estatemarket/internal/domain"
)

func TestFullSellOutConcludesEarlyAndClaimsShares(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	id := register(t, e, 100, 1)
	deposit(t, e, alice, stable, 100)

	require.NoError(t, e.BuyShares(ctx, alice, id, 100, stable, common.Address{}))
	require.NoError(t, e.ConcludeSale(bob, id))

	sale, err := e.Sale(id)
	require.NoError(t, err)
	assert.True(t, sale.Concluded)
	assert.True(t, sale.ThresholdMet)
	assert.Equal(t, domain.ClaimShares, e.PendingClaim(alice, id).Status)

	require.NoError(t, e.ClaimPendingSharesOrFunds(alice, id))
	assert.Equal(t, uint64(100), e.BalanceOf(id, alice))
	assert.True(t, e.PendingClaim(alice, id).Empty())
	assert.Zero(t, e.Balance(alice, stable).Sign(), "no refund on a successful sale")

	// 2.5% of 100 is 2 after rounding down.
	assert.Equal(t, "98", e.Balance(issuer, stable).String())
	assert.Equal(t, "2", e.Balance(feeRecipient, stable).String())
	assert.Zero(t, e.Escrowed(stable).Sign())

	requireKind(t, e.ClaimPendingSharesOrFunds(alice, id), domain.ErrNothingToClaim)
	requireKind(t, e.ConcludeSale(bob, id), domain.ErrAlreadyConcluded)
}

func TestSaleBelowThresholdRefundsExactAmount(t *testing.T) {
	ctx := context.Background()
	e, clock := newTestEngine(t)
	id := register(t, e, 100, 1)
	deposit(t, e, alice, stable, 7)
	deposit(t, e, bob, stable, 3)

	require.NoError(t, e.BuyShares(ctx, alice, id, 4, stable, common.Address{}))
	require.NoError(t, e.BuyShares(ctx, alice, id, 3, stable, common.Address{}))
	require.NoError(t, e.BuyShares(ctx, bob, id, 3, stable, common.Address{}))

	requireKind(t, e.ConcludeSale(owner, id), domain.ErrSaleStillOpen)
	clock.Advance(24 * time.Hour)
	require.NoError(t, e.ConcludeSale(owner, id))

	sale, _ := e.Sale(id)
	assert.False(t, sale.ThresholdMet)
	assert.Equal(t, uint64(10), sale.SharesSold)

	pending := e.PendingClaim(alice, id)
	assert.Equal(t, domain.ClaimRefund, pending.Status)
	assert.Equal(t, uint64(7), pending.Shares)

	require.NoError(t, e.ClaimPendingSharesOrFunds(alice, id))
	require.NoError(t, e.ClaimPendingSharesOrFunds(bob, id))
	assert.Equal(t, "7", e.Balance(alice, stable).String())
	assert.Equal(t, "3", e.Balance(bob, stable).String())
	assert.Zero(t, e.BalanceOf(id, alice))
	assert.Zero(t, e.Balance(issuer, stable).Sign())
	assert.Zero(t, e.Balance(feeRecipient, stable).Sign())
	assert.Zero(t, e.Escrowed(stable).Sign())

	p, _ := e.Property(id)
	assert.Equal(t, uint64(100), p.SharesInCustody)
	requireKind(t, e.ClaimPendingSharesOrFunds(alice, id), domain.ErrNothingToClaim)
}

func TestThresholdMetAtExactFraction(t *testing.T) {
	assert.True(t, thresholdMet(90, 100, 9000))
	assert.False(t, thresholdMet(89, 100, 9000))
	assert.True(t, thresholdMet(7, 7, 9999))
	assert.True(t, thresholdMet(0, 10, 0))
}

func TestBuySharesStateGates(t *testing.T) {
	ctx := context.Background()
	e, clock := newTestEngine(t)
	deposit(t, e, alice, stable, 1_000)

	id, err := e.RegisterProperty(owner, PropertyParams{
		Owner:         issuer,
		PricePerShare: amt(1),
		TotalShares:   10,
		SaleStart:     t0.Add(time.Hour),
		SaleEnd:       t0.Add(2 * time.Hour),
	})
	require.NoError(t, err)

	requireKind(t, e.BuyShares(ctx, alice, id, 1, stable, common.Address{}), domain.ErrSaleNotActive)

	clock.Advance(time.Hour)
	requireKind(t, e.BuyShares(ctx, alice, id, 11, stable, common.Address{}), domain.ErrSaleExhausted)
	requireKind(t, e.BuyShares(ctx, alice, id, 0, stable, common.Address{}), domain.ErrInvalidParameters)
	require.NoError(t, e.BuyShares(ctx, alice, id, 6, stable, common.Address{}))
	requireKind(t, e.BuyShares(ctx, alice, id, 5, stable, common.Address{}), domain.ErrSaleExhausted)

	clock.Advance(time.Hour)
	requireKind(t, e.BuyShares(ctx, alice, id, 1, stable, common.Address{}), domain.ErrSaleNotActive)

	require.NoError(t, e.ConcludeSale(alice, id))
	requireKind(t, e.BuyShares(ctx, alice, id, 1, stable, common.Address{}), domain.ErrSaleNotActive)
}

func TestBuySharesInsufficientFundsLeavesNoTrace(t *testing.T) {
	e, _ := newTestEngine(t)
	id := register(t, e, 10, 5)
	deposit(t, e, alice, stable, 9)
	seq := e.Seq()

	err := e.BuyShares(context.Background(), alice, id, 2, stable, common.Address{})
	requireKind(t, err, domain.ErrInsufficientBalance)

	sale, _ := e.Sale(id)
	assert.Zero(t, sale.SharesSold)
	assert.Equal(t, domain.ClaimNone, e.PendingClaim(alice, id).Status)
	assert.Equal(t, "9", e.Balance(alice, stable).String())
	assert.Equal(t, seq, e.Seq())
}

func TestNativePurchaseUsesQuote(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	id := register(t, e, 10, 5)
	deposit(t, e, alice, domain.Native(), 100)

	// 4 shares * 5 = 20 stable, quoted at 2 native per stable.
	require.NoError(t, e.BuyShares(ctx, alice, id, 4, domain.Native(), common.Address{}))
	assert.Equal(t, "60", e.Balance(alice, domain.Native()).String())

	pending := e.PendingClaim(alice, id)
	assert.Equal(t, "40", pending.Paid[domain.Native().Key()].String())

	sale, _ := e.Sale(id)
	assert.Equal(t, "40", sale.Raised[domain.Native().Key()].String())
}

func TestQuoteFailureSurfacesQuoteUnavailable(t *testing.T) {
	clock := &fakeClock{now: t0}
	e, err := New(testConfig(), fixedQuoter{err: errors.New("feed stale")}, WithClock(clock))
	require.NoError(t, err)
	id := register(t, e, 10, 5)
	deposit(t, e, alice, domain.Native(), 100)

	err = e.BuyShares(context.Background(), alice, id, 1, domain.Native(), common.Address{})
	requireKind(t, err, domain.ErrQuoteUnavailable)
	assert.Equal(t, domain.KindExternal, domain.KindOf(err))

	sale, _ := e.Sale(id)
	assert.Zero(t, sale.SharesSold)
}

func TestUnknownStableTokenRejected(t *testing.T) {
	e, _ := newTestEngine(t)
	id := register(t, e, 10, 1)
	other := domain.Stable(common.HexToAddress("0x00000000000000000000000000000000000000ee"))
	err := e.BuyShares(context.Background(), alice, id, 1, other, common.Address{})
	requireKind(t, err, domain.ErrInvalidParameters)
}

func TestBlacklistedBuyerRejected(t *testing.T) {
	e, _ := newTestEngine(t)
	id := register(t, e, 10, 1)
	deposit(t, e, alice, stable, 10)
	require.NoError(t, e.UpdateBlacklist(owner, alice, true))

	err := e.BuyShares(context.Background(), alice, id, 1, stable, common.Address{})
	requireKind(t, err, domain.ErrBlacklisted)
	assert.Equal(t, domain.KindAuthorization, domain.KindOf(err))

	require.NoError(t, e.UpdateBlacklist(owner, alice, false))
	require.NoError(t, e.BuyShares(context.Background(), alice, id, 1, stable, common.Address{}))
}

func TestReferralCommissionAccruesAndClaimsOnce(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	require.NoError(t, e.UpdateAgentWhitelistStatus(owner, agent, true))
	id := register(t, e, 100, 10)
	deposit(t, e, alice, stable, 1_000)

	require.NoError(t, e.BuyShares(ctx, alice, id, 100, stable, agent))

	rec := e.ReferralRecord(agent, id)
	assert.Equal(t, "100", rec.Accrued[stable.Key()].String(), "10% of gross 1000")

	// Unresolved commission cannot be claimed yet.
	requireKind(t, e.ClaimReferralCommission(agent, id), domain.ErrNothingToClaim)

	require.NoError(t, e.ConcludeSale(owner, id))
	require.NoError(t, e.ClaimReferralCommission(agent, id))
	assert.Equal(t, "100", e.Balance(agent, stable).String())
	assert.Empty(t, e.ReferralRecord(agent, id).Accrued)

	requireKind(t, e.ClaimReferralCommission(agent, id), domain.ErrNothingToClaim)

	// Commission came out of the seller's proceeds: 1000 - 25 fee - 100.
	assert.Equal(t, "875", e.Balance(issuer, stable).String())
	assert.Equal(t, "25", e.Balance(feeRecipient, stable).String())
	assert.Zero(t, e.Escrowed(stable).Sign())
}

func TestReferralCommissionVoidedOnRefund(t *testing.T) {
	ctx := context.Background()
	e, clock := newTestEngine(t)
	require.NoError(t, e.UpdateAgentWhitelistStatus(owner, agent, true))
	id := register(t, e, 100, 10)
	deposit(t, e, alice, stable, 100)

	require.NoError(t, e.BuyShares(ctx, alice, id, 10, stable, agent))
	clock.Advance(25 * time.Hour)
	require.NoError(t, e.ConcludeSale(owner, id))

	requireKind(t, e.ClaimReferralCommission(agent, id), domain.ErrNothingToClaim)
	require.NoError(t, e.ClaimPendingSharesOrFunds(alice, id))
	assert.Equal(t, "100", e.Balance(alice, stable).String())
	assert.Zero(t, e.Escrowed(stable).Sign())
}

func TestNonWhitelistedAgentEarnsNothing(t *testing.T) {
	e, _ := newTestEngine(t)
	id := register(t, e, 10, 10)
	deposit(t, e, alice, stable, 100)
	require.NoError(t, e.BuyShares(context.Background(), alice, id, 10, stable, agent))
	assert.Empty(t, e.ReferralRecord(agent, id).Accrued)
}
