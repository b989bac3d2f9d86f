package market

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"pgregory.net/rapid"

	"github.com/alanyoungcy/estatemarket/internal/domain"
)

var buyers = []common.Address{alice, bob, carol}

func TestPrimarySaleNeverOversells(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		e, _ := newTestEngine(t)
		total := rapid.Uint64Range(1, 500).Draw(rt, "total")
		id := register(t, e, total, 1)
		for _, b := range buyers {
			deposit(t, e, b, stable, 1_000)
		}

		steps := rapid.IntRange(1, 30).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			buyer := rapid.SampledFrom(buyers).Draw(rt, "buyer")
			n := rapid.Uint64Range(0, total+5).Draw(rt, "shares")
			_ = e.BuyShares(context.Background(), buyer, id, n, stable, common.Address{})

			sale, err := e.Sale(id)
			if err != nil {
				rt.Fatalf("sale: %v", err)
			}
			if sale.SharesSold > total {
				rt.Fatalf("sold %d of %d", sale.SharesSold, total)
			}
			var pending uint64
			for _, b := range buyers {
				pending += e.PendingClaim(b, id).Shares
			}
			if pending != sale.SharesSold {
				rt.Fatalf("pending %d != sold %d", pending, sale.SharesSold)
			}
		}
	})
}

func TestClaimRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		e, clock := newTestEngine(t)
		price := rapid.Int64Range(1, 50).Draw(rt, "price")
		id := register(t, e, 100, price)
		for _, b := range buyers {
			deposit(t, e, b, stable, 100*price)
		}

		bought := map[common.Address]uint64{}
		for _, b := range buyers {
			n := rapid.Uint64Range(0, 33).Draw(rt, "shares")
			if n > 0 && e.BuyShares(ctx, b, id, n, stable, common.Address{}) == nil {
				bought[b] += n
			}
		}
		clock.Advance(25 * time.Hour)
		if err := e.ConcludeSale(owner, id); err != nil {
			rt.Fatalf("conclude: %v", err)
		}
		sale, _ := e.Sale(id)

		for _, b := range buyers {
			err := e.ClaimPendingSharesOrFunds(b, id)
			if bought[b] == 0 {
				if !errors.Is(err, domain.ErrNothingToClaim) {
					rt.Fatalf("expected nothing to claim, got %v", err)
				}
				continue
			}
			if err != nil {
				rt.Fatalf("claim: %v", err)
			}
			if sale.ThresholdMet {
				if got := e.BalanceOf(id, b); got != bought[b] {
					rt.Fatalf("shares %d, want %d", got, bought[b])
				}
			} else if got := e.Balance(b, stable); got.Cmp(big.NewInt(100*price)) != 0 {
				rt.Fatalf("refund left balance %s, want %d", got, 100*price)
			}
			if !e.PendingClaim(b, id).Empty() {
				rt.Fatalf("pending claim not zeroed")
			}
			if err := e.ClaimPendingSharesOrFunds(b, id); !errors.Is(err, domain.ErrNothingToClaim) {
				rt.Fatalf("double claim: %v", err)
			}
		}
	})
}

func TestListingRemainingNeverExceedsListed(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		e, _ := newTestEngine(t)
		id := issue(t, e, alice, 200, 1)
		listed := rapid.Uint64Range(1, 200).Draw(rt, "listed")
		lid, err := e.CreateListing(alice, id, listed, big.NewInt(1))
		if err != nil {
			rt.Fatalf("create: %v", err)
		}
		deposit(t, e, bob, stable, 10_000)

		for i := 0; i < 10; i++ {
			before, _ := e.Listing(lid)
			n := rapid.Uint64Range(1, 250).Draw(rt, "buy")
			err := e.Buy(ctx, lid, bob, n, stable)
			after, _ := e.Listing(lid)
			if n > before.SharesRemaining && err == nil {
				rt.Fatalf("bought %d with %d remaining", n, before.SharesRemaining)
			}
			if after.SharesRemaining > after.SharesListed {
				rt.Fatalf("remaining %d > listed %d", after.SharesRemaining, after.SharesListed)
			}
		}
	})
}

func TestHighestBidIsMonotonic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		e, _ := newTestEngine(t)
		incBips := rapid.Uint32Range(0, 2_000).Draw(rt, "increment")
		if err := e.SetMinBidIncrementBips(owner, incBips); err != nil {
			rt.Fatalf("set increment: %v", err)
		}
		_, aid := newAuction(t, e, 10, 100)
		for _, b := range []common.Address{bob, carol} {
			deposit(t, e, b, stable, 1_000_000)
		}

		prev := new(big.Int)
		accepted := 0
		for i := 0; i < 20; i++ {
			bidder := rapid.SampledFrom([]common.Address{bob, carol}).Draw(rt, "bidder")
			bid := big.NewInt(rapid.Int64Range(1, 20_000).Draw(rt, "bid"))
			if err := e.PlaceBid(aid, bidder, bid); err != nil {
				continue
			}
			if accepted > 0 {
				floor := new(big.Int).Mul(prev, big.NewInt(int64(domain.BipsDenominator)+int64(incBips)))
				if new(big.Int).Mul(bid, bipsDenominator).Cmp(floor) < 0 {
					rt.Fatalf("bid %s accepted below increment over %s", bid, prev)
				}
			}
			a, _ := e.Auction(aid)
			if a.HighestBid.Cmp(prev) < 0 {
				rt.Fatalf("highest bid decreased from %s to %s", prev, a.HighestBid)
			}
			prev = a.HighestBid
			accepted++
		}
	})
}
