package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// BipsDenominator is 100% expressed in basis points.
const BipsDenominator = 10_000

// Property is a tokenized real-estate asset split into fractional shares.
type Property struct {
	ID              uint64         `json:"id"`
	Owner           common.Address `json:"owner"`
	PricePerShare   *big.Int       `json:"price_per_share"` // smallest unit of the stable token
	TotalShares     uint64         `json:"total_shares"`
	SharesInCustody uint64         `json:"shares_in_custody"`
	DistinctOwners  uint64         `json:"distinct_owners"`
	AprBips         uint32         `json:"apr_bips"`
	URI             string         `json:"uri"`
	Delisted        bool           `json:"delisted"`
	CreatedAt       time.Time      `json:"created_at"`
}

// SaleStage is the primary-sale lifecycle position at a given instant.
type SaleStage string

const (
	SaleNotStarted SaleStage = "not_started"
	SaleSelling    SaleStage = "selling"
	SaleClosed     SaleStage = "closed" // window elapsed, awaiting conclude
	SaleConcluded  SaleStage = "concluded"
)

// PrimarySale tracks the initial offering of a property's shares.
type PrimarySale struct {
	PropertyID   uint64              `json:"property_id"`
	Start        time.Time           `json:"start"`
	End          time.Time           `json:"end"`
	SharesSold   uint64              `json:"shares_sold"`
	Raised       map[string]*big.Int `json:"raised"`      // by Currency.Key
	Fees         map[string]*big.Int `json:"fees"`        // platform fee owed on claim resolution
	Commissions  map[string]*big.Int `json:"commissions"` // referral commission owed on claim resolution
	Concluded    bool                `json:"concluded"`
	ThresholdMet bool                `json:"threshold_met"`
	ConcludedAt  *time.Time          `json:"concluded_at,omitempty"`
}

// Stage derives the lifecycle position at now.
func (s PrimarySale) Stage(now time.Time) SaleStage {
	switch {
	case s.Concluded:
		return SaleConcluded
	case now.Before(s.Start):
		return SaleNotStarted
	case now.Before(s.End):
		return SaleSelling
	default:
		return SaleClosed
	}
}

// ClaimStatus is the resolution of a PendingClaim.
type ClaimStatus string

const (
	ClaimNone    ClaimStatus = "none"
	ClaimOngoing ClaimStatus = "ongoing"
	ClaimShares  ClaimStatus = "claim"
	ClaimRefund  ClaimStatus = "refund"
)

// PendingClaim is a buyer's unresolved entitlement from a primary sale.
type PendingClaim struct {
	Buyer      common.Address      `json:"buyer"`
	PropertyID uint64              `json:"property_id"`
	Shares     uint64              `json:"shares"`
	Paid       map[string]*big.Int `json:"paid"` // by Currency.Key
	Status     ClaimStatus         `json:"status"`
}

// Empty reports whether nothing remains to claim.
func (c PendingClaim) Empty() bool {
	if c.Shares > 0 {
		return false
	}
	for _, v := range c.Paid {
		if v.Sign() > 0 {
			return false
		}
	}
	return true
}
