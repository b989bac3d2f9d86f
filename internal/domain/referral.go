package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ReferralRecord is an agent's accumulated commission on one property.
type ReferralRecord struct {
	Agent      common.Address      `json:"agent"`
	PropertyID uint64              `json:"property_id"`
	Accrued    map[string]*big.Int `json:"accrued"` // by Currency.Key
	Claims     uint64              `json:"claims"`
}

// Fees is the split of one gross amount.
type Fees struct {
	Gross       *big.Int `json:"gross"`
	NetToSeller *big.Int `json:"net_to_seller"`
	PlatformFee *big.Int `json:"platform_fee"`
	Commission  *big.Int `json:"commission"`
}

// FeeSettings is the owner-controlled marketplace configuration.
type FeeSettings struct {
	Owner               common.Address            `json:"owner"`
	FeeRecipient        common.Address            `json:"fee_recipient"`
	PlatformFeeBips     uint32                    `json:"platform_fee_bips"`
	DefaultReferralBips uint32                    `json:"default_referral_bips"`
	MinBidIncrementBips uint32                    `json:"min_bid_increment_bips"`
	MinListingPriceBips uint32                    `json:"min_listing_price_bips"`
	ExclusiveBips       map[common.Address]uint32 `json:"exclusive_bips"`
	Whitelist           map[common.Address]bool   `json:"whitelist"`
	Blacklist           map[common.Address]bool   `json:"blacklist"`
	Administrators      map[common.Address]bool   `json:"administrators"`
}
