package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/estatemarket/internal/domain"
)

func newAuction(t *testing.T, e *Engine, shares uint64, base int64) (propertyID, auctionID uint64) {
	t.Helper()
	propertyID = issue(t, e, alice, 100, 1)
	auctionID, err := e.CreateAuction(alice, AuctionParams{
		PropertyID: propertyID,
		Shares:     shares,
		BasePrice:  amt(base),
		Start:      e.Now(),
		End:        e.Now().Add(time.Hour),
		Currency:   stable,
	})
	require.NoError(t, err)
	return propertyID, auctionID
}

func TestCreateAuctionWindowAndEscrow(t *testing.T) {
	e, clock := newTestEngine(t)
	id := issue(t, e, alice, 100, 1)
	clock.Advance(time.Minute)

	params := AuctionParams{PropertyID: id, Shares: 10, BasePrice: amt(5), Currency: stable}

	params.Start, params.End = e.Now(), e.Now()
	_, err := e.CreateAuction(alice, params)
	requireKind(t, err, domain.ErrInvalidTimeWindow)

	params.Start, params.End = e.Now().Add(-time.Second), e.Now().Add(time.Hour)
	_, err = e.CreateAuction(alice, params)
	requireKind(t, err, domain.ErrInvalidTimeWindow)

	params.Start = e.Now().Add(time.Minute)
	params.Shares = 101
	_, err = e.CreateAuction(alice, params)
	requireKind(t, err, domain.ErrInsufficientBalance)

	params.Shares = 10
	aid, err := e.CreateAuction(alice, params)
	require.NoError(t, err)
	assert.Equal(t, uint64(90), e.AvailableShares(id, alice))

	a, err := e.Auction(aid)
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionNotStarted, a.Status(e.Now()))
	deposit(t, e, bob, stable, 100)
	requireKind(t, e.PlaceBid(aid, bob, amt(5)), domain.ErrAuctionNotActive)
}

func TestBidIncrementRule(t *testing.T) {
	e, _ := newTestEngine(t)
	_, aid := newAuction(t, e, 10, 10_000)
	deposit(t, e, bob, stable, 100_000)
	deposit(t, e, carol, stable, 100_000)

	requireKind(t, e.PlaceBid(aid, bob, amt(9_999)), domain.ErrBidTooLow)
	require.NoError(t, e.PlaceBid(aid, bob, amt(10_000)))
	// 5% over 10.000 is 10.500.
	requireKind(t, e.PlaceBid(aid, carol, amt(10_300)), domain.ErrBidTooLow)
	require.NoError(t, e.PlaceBid(aid, carol, amt(10_500)))

	a, _ := e.Auction(aid)
	assert.Equal(t, "10500", a.HighestBid.String())
	assert.Equal(t, carol, a.HighestBidder)
	assert.Equal(t, uint64(2), a.BidCount)

	requireKind(t, e.PlaceBid(aid, alice, amt(20_000)), domain.ErrSelfTrade)
}

func TestOutbidFundsArePullRefunded(t *testing.T) {
	e, clock := newTestEngine(t)
	id, aid := newAuction(t, e, 10, 100)
	deposit(t, e, bob, stable, 1_000)
	deposit(t, e, carol, stable, 1_000)

	require.NoError(t, e.PlaceBid(aid, bob, amt(100)))
	require.NoError(t, e.PlaceBid(aid, carol, amt(200)))
	require.NoError(t, e.PlaceBid(aid, bob, amt(300)))

	// Nothing is pushed back automatically.
	assert.Equal(t, "600", e.Balance(bob, stable).String())
	assert.Equal(t, "100", e.BidRefund(aid, bob).String())
	assert.Equal(t, "200", e.BidRefund(aid, carol).String())

	require.NoError(t, e.WithdrawBidRefund(aid, carol))
	assert.Equal(t, "1000", e.Balance(carol, stable).String())
	requireKind(t, e.WithdrawBidRefund(aid, carol), domain.ErrNothingToClaim)

	requireKind(t, e.ConcludeAuction(carol, aid), domain.ErrNotYetEnded)
	clock.Advance(time.Hour)
	requireKind(t, e.PlaceBid(aid, carol, amt(1_000)), domain.ErrAuctionNotActive)
	require.NoError(t, e.ConcludeAuction(carol, aid))

	assert.Equal(t, uint64(10), e.BalanceOf(id, bob))
	assert.Equal(t, uint64(90), e.BalanceOf(id, alice))
	// 300 less 2.5% fee (7).
	assert.Equal(t, "293", e.Balance(alice, stable).String())
	assert.Equal(t, "7", e.Balance(feeRecipient, stable).String())

	require.NoError(t, e.WithdrawBidRefund(aid, bob))
	assert.Equal(t, "700", e.Balance(bob, stable).String())
	assert.Zero(t, e.Escrowed(stable).Sign())

	requireKind(t, e.ConcludeAuction(carol, aid), domain.ErrAlreadyConcluded)
	a, _ := e.Auction(aid)
	assert.Equal(t, domain.AuctionConcluded, a.Status(e.Now()))
}

func TestAuctionWithoutBidsReturnsShares(t *testing.T) {
	e, clock := newTestEngine(t)
	id, aid := newAuction(t, e, 25, 100)
	require.Equal(t, uint64(75), e.AvailableShares(id, alice))

	clock.Advance(time.Hour)
	require.NoError(t, e.ConcludeAuction(bob, aid))
	assert.Equal(t, uint64(100), e.AvailableShares(id, alice))
	requireKind(t, e.ConcludeAuction(bob, aid), domain.ErrAlreadyConcluded)
}

func TestCancelAuction(t *testing.T) {
	e, _ := newTestEngine(t)
	id, aid := newAuction(t, e, 10, 100)

	requireKind(t, e.CancelAuction(bob, aid), domain.ErrUnauthorized)
	require.NoError(t, e.CancelAuction(alice, aid))
	assert.Equal(t, uint64(100), e.AvailableShares(id, alice))
	requireKind(t, e.CancelAuction(alice, aid), domain.ErrAuctionNotActive)

	a, _ := e.Auction(aid)
	assert.Equal(t, domain.AuctionCancelled, a.Status(e.Now()))

	second, err := e.CreateAuction(alice, AuctionParams{
		PropertyID: id, Shares: 10, BasePrice: amt(100),
		Start: e.Now(), End: e.Now().Add(time.Hour), Currency: stable,
	})
	require.NoError(t, err)
	deposit(t, e, bob, stable, 100)
	require.NoError(t, e.PlaceBid(second, bob, amt(100)))
	requireKind(t, e.CancelAuction(alice, second), domain.ErrBidsAlreadyPlaced)
}
