package market

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/estatemarket/internal/domain"
)

const (
	nextProperty = "property"
	nextListing  = "listing"
	nextAuction  = "auction"
)

// Snapshot captures the complete engine state between operations.
func (e *Engine) Snapshot() domain.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := domain.Snapshot{
		ID:       uuid.NewString(),
		Seq:      e.seq,
		TakenAt:  e.clock.Now(),
		Settings: e.fees.settings(),
		NextIDs: map[string]uint64{
			nextProperty: e.reg.nextID,
			nextListing:  e.book.nextID,
			nextAuction:  e.auctions.nextID,
		},
	}
	for _, p := range e.reg.props {
		snap.Properties = append(snap.Properties, *p)
	}
	for id, m := range e.reg.holdings {
		for owner, h := range m {
			snap.Holdings = append(snap.Holdings, domain.Holding{PropertyID: id, Owner: owner, Shares: h.shares, Locked: h.locked})
		}
	}
	for _, s := range e.primary.sales {
		snap.Sales = append(snap.Sales, copySale(s))
	}
	for k := range e.primary.claims {
		snap.Claims = append(snap.Claims, e.primary.pending(k.buyer, k.propertyID))
	}
	for _, l := range e.book.listings {
		snap.Listings = append(snap.Listings, *l)
	}
	for _, a := range e.auctions.auctions {
		snap.Auctions = append(snap.Auctions, *a)
	}
	for k, amt := range e.auctions.refunds {
		snap.Refunds = append(snap.Refunds, domain.BidRefund{AuctionID: k.auctionID, Bidder: k.bidder, Amount: amt})
	}
	for k := range e.fees.referrals {
		snap.Referrals = append(snap.Referrals, e.fees.record(k.agent, k.propertyID))
	}
	for owner, m := range e.vault.balances {
		for key, amt := range m {
			cur, err := domain.ParseCurrency(key)
			if err != nil {
				continue
			}
			snap.Balances = append(snap.Balances, domain.AccountBalance{Owner: owner, Currency: cur, Amount: amt})
		}
	}
	// Escrow is recorded against the zero address.
	for key, amt := range e.vault.escrow {
		cur, err := domain.ParseCurrency(key)
		if err != nil || amt.Sign() == 0 {
			continue
		}
		snap.Balances = append(snap.Balances, domain.AccountBalance{Currency: cur, Amount: amt})
	}
	sortSnapshot(&snap)
	return snap
}

func sortSnapshot(s *domain.Snapshot) {
	sort.Slice(s.Properties, func(i, j int) bool { return s.Properties[i].ID < s.Properties[j].ID })
	sort.Slice(s.Sales, func(i, j int) bool { return s.Sales[i].PropertyID < s.Sales[j].PropertyID })
	sort.Slice(s.Listings, func(i, j int) bool { return s.Listings[i].ID < s.Listings[j].ID })
	sort.Slice(s.Auctions, func(i, j int) bool { return s.Auctions[i].ID < s.Auctions[j].ID })
	sort.Slice(s.Claims, func(i, j int) bool {
		if s.Claims[i].PropertyID != s.Claims[j].PropertyID {
			return s.Claims[i].PropertyID < s.Claims[j].PropertyID
		}
		return s.Claims[i].Buyer.Cmp(s.Claims[j].Buyer) < 0
	})
	sort.Slice(s.Refunds, func(i, j int) bool {
		if s.Refunds[i].AuctionID != s.Refunds[j].AuctionID {
			return s.Refunds[i].AuctionID < s.Refunds[j].AuctionID
		}
		return s.Refunds[i].Bidder.Cmp(s.Refunds[j].Bidder) < 0
	})
	sort.Slice(s.Referrals, func(i, j int) bool {
		if s.Referrals[i].PropertyID != s.Referrals[j].PropertyID {
			return s.Referrals[i].PropertyID < s.Referrals[j].PropertyID
		}
		return s.Referrals[i].Agent.Cmp(s.Referrals[j].Agent) < 0
	})
	sort.Slice(s.Balances, func(i, j int) bool {
		if c := s.Balances[i].Owner.Cmp(s.Balances[j].Owner); c != 0 {
			return c < 0
		}
		return s.Balances[i].Currency.Key() < s.Balances[j].Currency.Key()
	})
	sort.Slice(s.Holdings, func(i, j int) bool {
		if s.Holdings[i].PropertyID != s.Holdings[j].PropertyID {
			return s.Holdings[i].PropertyID < s.Holdings[j].PropertyID
		}
		return s.Holdings[i].Owner.Cmp(s.Holdings[j].Owner) < 0
	})
}

// Restore replaces the engine state with snap. Settings in snap win over the
// configuration the engine was built with.
func (e *Engine) Restore(snap domain.Snapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	fees, reg, v := e.fees, e.reg, e.vault
	primary, book, auctions := e.primary, e.book, e.auctions
	e.build(snap.Settings)
	if err := e.load(snap); err != nil {
		e.fees, e.reg, e.vault = fees, reg, v
		e.primary, e.book, e.auctions = primary, book, auctions
		return fmt.Errorf("market: restore snapshot %s: %w", snap.ID, err)
	}
	e.seq = snap.Seq
	e.tx.undo = e.tx.undo[:0]
	return nil
}

func (e *Engine) load(snap domain.Snapshot) error {
	for i := range snap.Properties {
		p := snap.Properties[i]
		e.reg.props[p.ID] = &p
		e.reg.holdings[p.ID] = make(map[common.Address]holding)
	}
	for _, h := range snap.Holdings {
		m, ok := e.reg.holdings[h.PropertyID]
		if !ok {
			return fmt.Errorf("holding for unknown property %d", h.PropertyID)
		}
		m[h.Owner] = holding{shares: h.Shares, locked: h.Locked}
	}
	for i := range snap.Sales {
		s := snap.Sales[i]
		e.primary.sales[s.PropertyID] = &s
	}
	for i := range snap.Claims {
		c := snap.Claims[i]
		e.primary.claims[claimKey{c.Buyer, c.PropertyID}] = &c
	}
	for i := range snap.Listings {
		l := snap.Listings[i]
		e.book.listings[l.ID] = &l
	}
	for i := range snap.Auctions {
		a := snap.Auctions[i]
		e.auctions.auctions[a.ID] = &a
	}
	for _, r := range snap.Refunds {
		e.auctions.refunds[refundKey{r.AuctionID, r.Bidder}] = new(big.Int).Set(r.Amount)
	}
	for i := range snap.Referrals {
		r := snap.Referrals[i]
		e.fees.referrals[referralKey{r.Agent, r.PropertyID}] = &r
	}
	for _, b := range snap.Balances {
		if b.Owner == (common.Address{}) {
			e.vault.escrow[b.Currency.Key()] = new(big.Int).Set(b.Amount)
			continue
		}
		m, ok := e.vault.balances[b.Owner]
		if !ok {
			m = make(map[string]*big.Int)
			e.vault.balances[b.Owner] = m
		}
		m[b.Currency.Key()] = new(big.Int).Set(b.Amount)
	}
	e.reg.nextID = max(snap.NextIDs[nextProperty], 1)
	e.book.nextID = max(snap.NextIDs[nextListing], 1)
	e.auctions.nextID = max(snap.NextIDs[nextAuction], 1)
	return nil
}
