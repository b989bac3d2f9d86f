package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Snapshot is the complete serialisable state of the market engine.
type Snapshot struct {
	ID         string            `json:"id"`
	Seq        uint64            `json:"seq"` // last event sequence included
	TakenAt    time.Time         `json:"taken_at"`
	Settings   FeeSettings       `json:"settings"`
	Properties []Property        `json:"properties"`
	Holdings   []Holding         `json:"holdings"`
	Sales      []PrimarySale     `json:"sales"`
	Claims     []PendingClaim    `json:"claims"`
	Listings   []Listing         `json:"listings"`
	Auctions   []Auction         `json:"auctions"`
	Refunds    []BidRefund       `json:"refunds"`
	Referrals  []ReferralRecord  `json:"referrals"`
	Balances   []AccountBalance  `json:"balances"`
	NextIDs    map[string]uint64 `json:"next_ids"`
}

// Holding is one owner's share position in one property.
type Holding struct {
	PropertyID uint64         `json:"property_id"`
	Owner      common.Address `json:"owner"`
	Shares     uint64         `json:"shares"`
	Locked     uint64         `json:"locked"`
}

// BidRefund is an outbid amount awaiting withdrawal.
type BidRefund struct {
	AuctionID uint64         `json:"auction_id"`
	Bidder    common.Address `json:"bidder"`
	Amount    *big.Int       `json:"amount"`
}

// AccountBalance is a withdrawable vault balance.
type AccountBalance struct {
	Owner    common.Address `json:"owner"`
	Currency Currency       `json:"currency"`
	Amount   *big.Int       `json:"amount"`
}
