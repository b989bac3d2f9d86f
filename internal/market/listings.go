package market

import (
	"context"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/estatemarket/internal/domain"
)

// listingBook is the secondary peer-to-peer resale book.
type listingBook struct {
	tx       *txn
	shares   ShareLedger
	vault    *vault
	fees     *feeModule
	price    pricer
	listings map[uint64]*domain.Listing
	nextID   uint64
}

func newListingBook(tx *txn, shares ShareLedger, v *vault, fees *feeModule, price pricer) *listingBook {
	return &listingBook{
		tx:       tx,
		shares:   shares,
		vault:    v,
		fees:     fees,
		price:    price,
		listings: make(map[uint64]*domain.Listing),
		nextID:   1,
	}
}

// checkFloor enforces pricePerShare >= minListingPriceBips of the primary price.
func (b *listingBook) checkFloor(op string, p *domain.Property, price *big.Int) error {
	floor := mulBips(p.PricePerShare, b.fees.s.MinListingPriceBips)
	if price.Cmp(floor) < 0 {
		return domain.NewError(op, domain.ErrBelowFloorPrice, "floor", floor.String())
	}
	return nil
}

func (b *listingBook) create(seller common.Address, propertyID, shares uint64, price *big.Int) (*domain.Listing, error) {
	const op = "createListing"
	if shares == 0 {
		return nil, domain.NewError(op, domain.ErrInvalidParameters, "shares", shares)
	}
	if !positive(price) {
		return nil, domain.NewError(op, domain.ErrInvalidParameters, "price_per_share", price)
	}
	p, err := b.shares.property(propertyID)
	if err != nil {
		return nil, err
	}
	if p.Delisted {
		return nil, domain.NewError(op, domain.ErrListingInactive, "delisted", true)
	}
	if bal := b.shares.available(propertyID, seller); bal < shares {
		return nil, domain.NewError(op, domain.ErrInsufficientBalance, "shares", bal)
	}
	if err := b.checkFloor(op, p, price); err != nil {
		return nil, err
	}
	if err := b.shares.lock(op, seller, propertyID, shares); err != nil {
		return nil, err
	}

	save(b.tx, &b.nextID)
	id := b.nextID
	b.nextID++
	l := &domain.Listing{
		ID:              id,
		Seller:          seller,
		PropertyID:      propertyID,
		SharesListed:    shares,
		SharesRemaining: shares,
		PricePerShare:   new(big.Int).Set(price),
		Active:          true,
		CreatedAt:       b.tx.now,
	}
	saveKey(b.tx, b.listings, id)
	b.listings[id] = l

	b.tx.emit(domain.Event{
		Kind:       domain.EventListingCreated,
		EntityType: domain.EntityListing,
		EntityID:   id,
		Actor:      seller,
		Fields: map[string]string{
			"property_id":     strconv.FormatUint(propertyID, 10),
			"shares":          strconv.FormatUint(shares, 10),
			"price_per_share": price.String(),
		},
	})
	return l, nil
}

func (b *listingBook) listing(op string, id uint64) (*domain.Listing, error) {
	l, ok := b.listings[id]
	if !ok {
		return nil, domain.NewError(op, domain.ErrNotFound, "listing_id", id)
	}
	return l, nil
}

func (b *listingBook) buy(ctx context.Context, listingID uint64, buyer common.Address, sharesToBuy uint64, cur domain.Currency) error {
	const op = "buy"
	l, err := b.listing(op, listingID)
	if err != nil {
		return err
	}
	if !l.Open() {
		return domain.NewError(op, domain.ErrListingInactive, "listing_id", listingID)
	}
	if buyer == l.Seller {
		return domain.NewError(op, domain.ErrSelfTrade, "buyer", buyer.Hex())
	}
	if sharesToBuy == 0 {
		return domain.NewError(op, domain.ErrInvalidParameters, "shares", sharesToBuy)
	}
	if sharesToBuy > l.SharesRemaining {
		return domain.NewError(op, domain.ErrExceedsAvailable, "remaining", l.SharesRemaining)
	}

	gross, err := b.price(ctx, op, cur, cost(sharesToBuy, l.PricePerShare))
	if err != nil {
		return err
	}
	fees := b.fees.computeFees(gross, l.PropertyID, common.Address{})

	save(b.tx, l)
	l.SharesRemaining -= sharesToBuy

	if err := b.vault.debit(op, buyer, cur, gross); err != nil {
		return err
	}
	b.vault.credit(l.Seller, cur, fees.NetToSeller)
	b.vault.credit(b.fees.s.FeeRecipient, cur, fees.PlatformFee)
	if err := b.shares.transferLocked(op, l.Seller, buyer, l.PropertyID, sharesToBuy); err != nil {
		return err
	}

	b.tx.emit(domain.Event{
		Kind:       domain.EventListingFilled,
		EntityType: domain.EntityListing,
		EntityID:   listingID,
		Actor:      buyer,
		Fields: map[string]string{
			"property_id":  strconv.FormatUint(l.PropertyID, 10),
			"seller":       l.Seller.Hex(),
			"shares":       strconv.FormatUint(sharesToBuy, 10),
			"remaining":    strconv.FormatUint(l.SharesRemaining, 10),
			"currency":     cur.Key(),
			"gross":        gross.String(),
			"platform_fee": fees.PlatformFee.String(),
			"net":          fees.NetToSeller.String(),
		},
	})
	return nil
}

// bulkBuy applies buy for each item in order; the caller reverts everything
// if any item fails.
func (b *listingBook) bulkBuy(ctx context.Context, items []domain.BulkItem, buyer common.Address, cur domain.Currency) error {
	if len(items) == 0 {
		return domain.NewError("bulkBuy", domain.ErrInvalidParameters, "items", 0)
	}
	for i, it := range items {
		if err := b.buy(ctx, it.ListingID, buyer, it.Shares, cur); err != nil {
			return fmt.Errorf("bulkBuy: item %d (listing %d): %w", i, it.ListingID, err)
		}
	}
	return nil
}

// update resizes the unsold part of a listing and reprices it.
func (b *listingBook) update(caller common.Address, listingID, newRemaining uint64, price *big.Int) error {
	const op = "updateListing"
	l, err := b.listing(op, listingID)
	if err != nil {
		return err
	}
	if caller != l.Seller {
		return domain.NewError(op, domain.ErrUnauthorized, "caller", caller.Hex())
	}
	if !l.Open() {
		return domain.NewError(op, domain.ErrListingInactive, "listing_id", listingID)
	}
	if newRemaining == 0 {
		return domain.NewError(op, domain.ErrInvalidParameters, "shares", newRemaining)
	}
	if !positive(price) {
		return domain.NewError(op, domain.ErrInvalidParameters, "price_per_share", price)
	}
	p, err := b.shares.property(l.PropertyID)
	if err != nil {
		return err
	}
	if err := b.checkFloor(op, p, price); err != nil {
		return err
	}

	switch {
	case newRemaining > l.SharesRemaining:
		if err := b.shares.lock(op, l.Seller, l.PropertyID, newRemaining-l.SharesRemaining); err != nil {
			return err
		}
	case newRemaining < l.SharesRemaining:
		b.shares.unlock(l.Seller, l.PropertyID, l.SharesRemaining-newRemaining)
	}

	sold := l.SharesListed - l.SharesRemaining
	save(b.tx, l)
	l.SharesListed = sold + newRemaining
	l.SharesRemaining = newRemaining
	l.PricePerShare = new(big.Int).Set(price)

	b.tx.emit(domain.Event{
		Kind:       domain.EventListingUpdated,
		EntityType: domain.EntityListing,
		EntityID:   listingID,
		Actor:      caller,
		Fields: map[string]string{
			"shares_listed":   strconv.FormatUint(l.SharesListed, 10),
			"remaining":       strconv.FormatUint(l.SharesRemaining, 10),
			"price_per_share": price.String(),
		},
	})
	return nil
}

func (b *listingBook) cancel(caller common.Address, listingID uint64) error {
	const op = "cancelListing"
	l, err := b.listing(op, listingID)
	if err != nil {
		return err
	}
	if caller != l.Seller {
		return domain.NewError(op, domain.ErrUnauthorized, "caller", caller.Hex())
	}
	if !l.Active {
		return domain.NewError(op, domain.ErrListingInactive, "listing_id", listingID)
	}
	b.shares.unlock(l.Seller, l.PropertyID, l.SharesRemaining)
	returned := l.SharesRemaining
	save(b.tx, l)
	l.Active = false
	l.SharesRemaining = 0

	b.tx.emit(domain.Event{
		Kind:       domain.EventListingCancelled,
		EntityType: domain.EntityListing,
		EntityID:   listingID,
		Actor:      caller,
		Fields:     map[string]string{"returned": strconv.FormatUint(returned, 10)},
	})
	return nil
}
