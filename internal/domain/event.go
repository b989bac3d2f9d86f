package domain

import (
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventKind names a committed market operation.
type EventKind string

const (
	EventPropertyRegistered EventKind = "property_registered"
	EventPropertyUpdated    EventKind = "property_updated"
	EventPropertyDelisted   EventKind = "property_delisted"
	EventSharesTransferred  EventKind = "shares_transferred"
	EventSharesPurchased    EventKind = "shares_purchased"
	EventSaleConcluded      EventKind = "sale_concluded"
	EventClaimSettled       EventKind = "claim_settled"
	EventListingCreated     EventKind = "listing_created"
	EventListingUpdated     EventKind = "listing_updated"
	EventListingCancelled   EventKind = "listing_cancelled"
	EventListingFilled      EventKind = "listing_filled"
	EventAuctionCreated     EventKind = "auction_created"
	EventBidPlaced          EventKind = "bid_placed"
	EventAuctionCancelled   EventKind = "auction_cancelled"
	EventAuctionConcluded   EventKind = "auction_concluded"
	EventBidRefunded        EventKind = "bid_refunded"
	EventCommissionAccrued  EventKind = "commission_accrued"
	EventCommissionClaimed  EventKind = "commission_claimed"
	EventSettingChanged     EventKind = "setting_changed"
	EventDeposited          EventKind = "deposited"
	EventWithdrawn          EventKind = "withdrawn"
)

// Entity types an event can be keyed by.
const (
	EntityProperty = "property"
	EntityListing  = "listing"
	EntityAuction  = "auction"
	EntityMarket   = "market"
)

// Event is the structured record every mutating operation emits. Amounts are
// decimal strings keyed by a short field name.
type Event struct {
	Seq        uint64            `json:"seq"`
	ID         string            `json:"id"`
	Kind       EventKind         `json:"kind"`
	EntityType string            `json:"entity_type"`
	EntityID   uint64            `json:"entity_id"`
	Actor      common.Address    `json:"actor"`
	Fields     map[string]string `json:"fields,omitempty"`
	At         time.Time         `json:"at"`
}

// EntityKey identifies the entity an event belongs to, e.g. "listing:7".
func (e Event) EntityKey() string {
	return EntityKeyOf(e.EntityType, e.EntityID)
}

// EntityKeyOf formats an entity key.
func EntityKeyOf(entityType string, id uint64) string {
	return entityType + ":" + strconv.FormatUint(id, 10)
}
