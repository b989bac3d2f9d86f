package market

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/estatemarket/internal/domain"
)

var (
	t0 = time.Unix(1_700_000_000, 0).UTC()

	owner        = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	feeRecipient = common.HexToAddress("0x00000000000000000000000000000000000000fe")
	issuer       = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	alice        = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	bob          = common.HexToAddress("0x00000000000000000000000000000000000000c2")
	carol        = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	agent        = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	usdt         = common.HexToAddress("0x00000000000000000000000000000000000000e1")

	stable = domain.Stable(usdt)
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fixedQuoter converts at rate native units per stable unit.
type fixedQuoter struct {
	rate int64
	err  error
}

func (q fixedQuoter) QuoteNative(_ context.Context, amt *big.Int) (*big.Int, error) {
	if q.err != nil {
		return nil, q.err
	}
	return new(big.Int).Mul(amt, big.NewInt(q.rate)), nil
}

type recordingSink struct {
	events []domain.Event
}

func (s *recordingSink) Publish(events []domain.Event) { s.events = append(s.events, events...) }

func testConfig() Config {
	return Config{
		Owner:               owner,
		FeeRecipient:        feeRecipient,
		StableToken:         usdt,
		PlatformFeeBips:     250,
		DefaultReferralBips: 1000,
		MinBidIncrementBips: 500,
		MinListingPriceBips: 9000,
	}
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: t0}
	opts = append([]Option{WithClock(clock)}, opts...)
	e, err := New(testConfig(), fixedQuoter{rate: 2}, opts...)
	require.NoError(t, err)
	return e, clock
}

func amt(v int64) *big.Int { return big.NewInt(v) }

// register lists a property whose sale opens now and runs for a day.
func register(t *testing.T, e *Engine, shares uint64, price int64) uint64 {
	t.Helper()
	id, err := e.RegisterProperty(owner, PropertyParams{
		Owner:         issuer,
		PricePerShare: amt(price),
		TotalShares:   shares,
		URI:           "ipfs://property",
		AprBips:       800,
		SaleStart:     e.Now(),
		SaleEnd:       e.Now().Add(24 * time.Hour),
	})
	require.NoError(t, err)
	return id
}

func deposit(t *testing.T, e *Engine, to common.Address, cur domain.Currency, v int64) {
	t.Helper()
	require.NoError(t, e.Deposit(owner, to, cur, amt(v)))
}

// issue gives holder all shares of a new, fully sold and claimed property.
func issue(t *testing.T, e *Engine, holder common.Address, shares uint64, price int64) uint64 {
	t.Helper()
	id := register(t, e, shares, price)
	deposit(t, e, holder, stable, int64(shares)*price)
	require.NoError(t, e.BuyShares(context.Background(), holder, id, shares, stable, common.Address{}))
	require.NoError(t, e.ConcludeSale(holder, id))
	require.NoError(t, e.ClaimPendingSharesOrFunds(holder, id))
	require.Equal(t, shares, e.BalanceOf(id, holder))
	return id
}

// requireKind asserts err wraps sentinel and carries the structured detail.
func requireKind(t *testing.T, err error, sentinel error) {
	t.Helper()
	require.Error(t, err)
	require.ErrorIs(t, err, sentinel)
	var de *domain.Error
	require.True(t, errors.As(err, &de), "expected *domain.Error, got %T", err)
}
