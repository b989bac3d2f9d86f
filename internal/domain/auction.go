package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// AuctionStatus tracks the auction lifecycle.
type AuctionStatus string

const (
	AuctionNotStarted AuctionStatus = "not_started"
	AuctionOnGoing    AuctionStatus = "on_going"
	AuctionCancelled  AuctionStatus = "cancelled"
	AuctionEnded      AuctionStatus = "ended"
	AuctionConcluded  AuctionStatus = "concluded"
)

// Auction is a time-boxed English auction of a block of shares.
type Auction struct {
	ID            uint64         `json:"id"`
	Seller        common.Address `json:"seller"`
	PropertyID    uint64         `json:"property_id"`
	Shares        uint64         `json:"shares"`
	Currency      Currency       `json:"currency"`
	BasePrice     *big.Int       `json:"base_price"`
	Start         time.Time      `json:"start"`
	End           time.Time      `json:"end"`
	HighestBid    *big.Int       `json:"highest_bid"`
	HighestBidder common.Address `json:"highest_bidder"`
	BidCount      uint64         `json:"bid_count"`
	Cancelled     bool           `json:"cancelled"`
	Concluded     bool           `json:"concluded"`
}

// HasBids reports whether any bid was accepted.
func (a Auction) HasBids() bool { return a.BidCount > 0 }

// Status derives the lifecycle state at now. Only cancel and conclude are
// stored; the rest follow from the window.
func (a Auction) Status(now time.Time) AuctionStatus {
	switch {
	case a.Concluded:
		return AuctionConcluded
	case a.Cancelled:
		return AuctionCancelled
	case now.Before(a.Start):
		return AuctionNotStarted
	case now.Before(a.End):
		return AuctionOnGoing
	default:
		return AuctionEnded
	}
}
