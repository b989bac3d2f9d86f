package market

import (
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/estatemarket/internal/domain"
)

type refundKey struct {
	auctionID uint64
	bidder    common.Address
}

// auctionHouse runs English auctions over locked share blocks. Outbid funds
// are never pushed back; they accumulate in refunds until withdrawn.
type auctionHouse struct {
	tx       *txn
	shares   ShareLedger
	vault    *vault
	fees     *feeModule
	accepts  func(domain.Currency) bool
	auctions map[uint64]*domain.Auction
	refunds  map[refundKey]*big.Int
	nextID   uint64
}

func newAuctionHouse(tx *txn, shares ShareLedger, v *vault, fees *feeModule, accepts func(domain.Currency) bool) *auctionHouse {
	return &auctionHouse{
		tx:       tx,
		shares:   shares,
		vault:    v,
		fees:     fees,
		accepts:  accepts,
		auctions: make(map[uint64]*domain.Auction),
		refunds:  make(map[refundKey]*big.Int),
		nextID:   1,
	}
}

// AuctionParams describes a new auction.
type AuctionParams struct {
	PropertyID uint64
	Shares     uint64
	BasePrice  *big.Int
	Start      time.Time
	End        time.Time
	Currency   domain.Currency
}

func (h *auctionHouse) create(seller common.Address, in AuctionParams) (*domain.Auction, error) {
	const op = "createAuction"
	if in.Shares == 0 {
		return nil, domain.NewError(op, domain.ErrInvalidParameters, "shares", in.Shares)
	}
	if !positive(in.BasePrice) {
		return nil, domain.NewError(op, domain.ErrInvalidParameters, "base_price", in.BasePrice)
	}
	if !in.Start.Before(in.End) {
		return nil, domain.NewError(op, domain.ErrInvalidTimeWindow, "end", in.End)
	}
	if in.Start.Before(h.tx.now) {
		return nil, domain.NewError(op, domain.ErrInvalidTimeWindow, "start", in.Start)
	}
	if !h.accepts(in.Currency) {
		return nil, domain.NewError(op, domain.ErrInvalidParameters, "currency", in.Currency.Key())
	}
	p, err := h.shares.property(in.PropertyID)
	if err != nil {
		return nil, err
	}
	if p.Delisted {
		return nil, domain.NewError(op, domain.ErrAuctionNotActive, "delisted", true)
	}
	if err := h.shares.lock(op, seller, in.PropertyID, in.Shares); err != nil {
		return nil, err
	}

	save(h.tx, &h.nextID)
	id := h.nextID
	h.nextID++
	a := &domain.Auction{
		ID:         id,
		Seller:     seller,
		PropertyID: in.PropertyID,
		Shares:     in.Shares,
		Currency:   in.Currency,
		BasePrice:  new(big.Int).Set(in.BasePrice),
		Start:      in.Start,
		End:        in.End,
		HighestBid: new(big.Int),
	}
	saveKey(h.tx, h.auctions, id)
	h.auctions[id] = a

	h.tx.emit(domain.Event{
		Kind:       domain.EventAuctionCreated,
		EntityType: domain.EntityAuction,
		EntityID:   id,
		Actor:      seller,
		Fields: map[string]string{
			"property_id": strconv.FormatUint(in.PropertyID, 10),
			"shares":      strconv.FormatUint(in.Shares, 10),
			"base_price":  in.BasePrice.String(),
			"currency":    in.Currency.Key(),
			"start":       strconv.FormatInt(in.Start.Unix(), 10),
			"end":         strconv.FormatInt(in.End.Unix(), 10),
		},
	})
	return a, nil
}

func (h *auctionHouse) auction(op string, id uint64) (*domain.Auction, error) {
	a, ok := h.auctions[id]
	if !ok {
		return nil, domain.NewError(op, domain.ErrNotFound, "auction_id", id)
	}
	return a, nil
}

// minNextBid is basePrice before the first bid, then highest grown by the
// minimum increment, rounded up.
func (h *auctionHouse) minNextBid(a *domain.Auction) *big.Int {
	if !a.HasBids() {
		return new(big.Int).Set(a.BasePrice)
	}
	num := new(big.Int).Mul(a.HighestBid, big.NewInt(int64(domain.BipsDenominator)+int64(h.fees.s.MinBidIncrementBips)))
	q, r := new(big.Int).QuoRem(num, bipsDenominator, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

func (h *auctionHouse) placeBid(auctionID uint64, bidder common.Address, amount *big.Int) error {
	const op = "placeBid"
	a, err := h.auction(op, auctionID)
	if err != nil {
		return err
	}
	if st := a.Status(h.tx.now); st != domain.AuctionOnGoing {
		return domain.NewError(op, domain.ErrAuctionNotActive, "status", st)
	}
	if bidder == a.Seller {
		return domain.NewError(op, domain.ErrSelfTrade, "bidder", bidder.Hex())
	}
	if amount == nil || amount.Cmp(h.minNextBid(a)) < 0 {
		return domain.NewError(op, domain.ErrBidTooLow, "min_bid", h.minNextBid(a).String())
	}
	if err := h.vault.toEscrow(op, bidder, a.Currency, amount); err != nil {
		return err
	}

	prevBidder, prevBid := a.HighestBidder, a.HighestBid
	if a.HasBids() {
		h.addRefund(auctionID, prevBidder, prevBid)
	}
	save(h.tx, a)
	a.HighestBid = new(big.Int).Set(amount)
	a.HighestBidder = bidder
	a.BidCount++

	fields := map[string]string{
		"amount":    amount.String(),
		"bid_count": strconv.FormatUint(a.BidCount, 10),
	}
	if prevBidder != (common.Address{}) {
		fields["outbid"] = prevBidder.Hex()
		fields["outbid_amount"] = prevBid.String()
	}
	h.tx.emit(domain.Event{
		Kind:       domain.EventBidPlaced,
		EntityType: domain.EntityAuction,
		EntityID:   auctionID,
		Actor:      bidder,
		Fields:     fields,
	})
	return nil
}

func (h *auctionHouse) addRefund(auctionID uint64, bidder common.Address, amt *big.Int) {
	k := refundKey{auctionID, bidder}
	saveKey(h.tx, h.refunds, k)
	h.refunds[k] = add(h.refunds[k], amt)
}

func (h *auctionHouse) cancel(caller common.Address, auctionID uint64) error {
	const op = "cancelAuction"
	a, err := h.auction(op, auctionID)
	if err != nil {
		return err
	}
	if caller != a.Seller {
		return domain.NewError(op, domain.ErrUnauthorized, "caller", caller.Hex())
	}
	switch {
	case a.Concluded:
		return domain.NewError(op, domain.ErrAlreadyConcluded, "auction_id", auctionID)
	case a.Cancelled:
		return domain.NewError(op, domain.ErrAuctionNotActive, "status", domain.AuctionCancelled)
	case a.HasBids():
		return domain.NewError(op, domain.ErrBidsAlreadyPlaced, "bid_count", a.BidCount)
	}
	h.shares.unlock(a.Seller, a.PropertyID, a.Shares)
	save(h.tx, a)
	a.Cancelled = true

	h.tx.emit(domain.Event{
		Kind:       domain.EventAuctionCancelled,
		EntityType: domain.EntityAuction,
		EntityID:   auctionID,
		Actor:      caller,
		Fields:     map[string]string{"returned": strconv.FormatUint(a.Shares, 10)},
	})
	return nil
}

func (h *auctionHouse) conclude(caller common.Address, auctionID uint64) error {
	const op = "concludeAuction"
	a, err := h.auction(op, auctionID)
	if err != nil {
		return err
	}
	if a.Concluded {
		return domain.NewError(op, domain.ErrAlreadyConcluded, "auction_id", auctionID)
	}
	if a.Cancelled {
		return domain.NewError(op, domain.ErrAuctionNotActive, "status", domain.AuctionCancelled)
	}
	if h.tx.now.Before(a.End) {
		return domain.NewError(op, domain.ErrNotYetEnded, "end", a.End)
	}

	fields := map[string]string{"shares": strconv.FormatUint(a.Shares, 10)}
	if !a.HasBids() {
		h.shares.unlock(a.Seller, a.PropertyID, a.Shares)
		fields["outcome"] = "returned"
	} else {
		if err := h.shares.transferLocked(op, a.Seller, a.HighestBidder, a.PropertyID, a.Shares); err != nil {
			return err
		}
		fees := h.fees.computeFees(a.HighestBid, a.PropertyID, common.Address{})
		if err := h.vault.fromEscrow(a.Seller, a.Currency, fees.NetToSeller); err != nil {
			return err
		}
		if err := h.vault.fromEscrow(h.fees.s.FeeRecipient, a.Currency, fees.PlatformFee); err != nil {
			return err
		}
		fields["outcome"] = "sold"
		fields["winner"] = a.HighestBidder.Hex()
		fields["winning_bid"] = a.HighestBid.String()
		fields["platform_fee"] = fees.PlatformFee.String()
		fields["net"] = fees.NetToSeller.String()
	}
	save(h.tx, a)
	a.Concluded = true

	h.tx.emit(domain.Event{
		Kind:       domain.EventAuctionConcluded,
		EntityType: domain.EntityAuction,
		EntityID:   auctionID,
		Actor:      caller,
		Fields:     fields,
	})
	return nil
}

func (h *auctionHouse) withdrawRefund(auctionID uint64, bidder common.Address) error {
	const op = "withdrawBidRefund"
	a, err := h.auction(op, auctionID)
	if err != nil {
		return err
	}
	k := refundKey{auctionID, bidder}
	amt, ok := h.refunds[k]
	if !ok || !positive(amt) {
		return domain.NewError(op, domain.ErrNothingToClaim, "bidder", bidder.Hex())
	}
	saveKey(h.tx, h.refunds, k)
	delete(h.refunds, k)
	if err := h.vault.fromEscrow(bidder, a.Currency, amt); err != nil {
		return err
	}

	h.tx.emit(domain.Event{
		Kind:       domain.EventBidRefunded,
		EntityType: domain.EntityAuction,
		EntityID:   auctionID,
		Actor:      bidder,
		Fields:     map[string]string{"amount": amt.String()},
	})
	return nil
}

func (h *auctionHouse) refund(auctionID uint64, bidder common.Address) *big.Int {
	return orZero(h.refunds[refundKey{auctionID, bidder}])
}
