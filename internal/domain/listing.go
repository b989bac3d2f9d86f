package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Listing is a secondary-market resale offer.
type Listing struct {
	ID              uint64         `json:"id"`
	Seller          common.Address `json:"seller"`
	PropertyID      uint64         `json:"property_id"`
	SharesListed    uint64         `json:"shares_listed"`
	SharesRemaining uint64         `json:"shares_remaining"`
	PricePerShare   *big.Int       `json:"price_per_share"`
	Active          bool           `json:"active"`
	CreatedAt       time.Time      `json:"created_at"`
}

// Open reports whether the listing can still be bought from.
func (l Listing) Open() bool { return l.Active && l.SharesRemaining > 0 }

// BulkItem is one leg of a bulk purchase.
type BulkItem struct {
	ListingID uint64 `json:"listing_id"`
	Shares    uint64 `json:"shares"`
}
