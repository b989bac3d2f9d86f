package domain

import (
	"errors"
	"fmt"
)

// Infrastructure errors.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrLockHeld      = errors.New("lock already held")
	ErrLockLost      = errors.New("writer lock lost")
	ErrBadSignature  = errors.New("bad signature")
)

// Validation errors.
var (
	ErrInvalidParameters = errors.New("invalid parameters")
	ErrInvalidBips       = errors.New("invalid bips")
	ErrInvalidTimeWindow = errors.New("invalid time window")
)

// State errors.
var (
	ErrSaleNotActive     = errors.New("sale not active")
	ErrAlreadyConcluded  = errors.New("already concluded")
	ErrListingInactive   = errors.New("listing inactive")
	ErrAuctionNotActive  = errors.New("auction not active")
	ErrNotYetEnded       = errors.New("not yet ended")
	ErrBidsAlreadyPlaced = errors.New("bids already placed")
	ErrSaleStillOpen     = errors.New("sale still open")
)

// Authorization errors.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrBlacklisted  = errors.New("blacklisted")
)

// Resource errors.
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrExceedsAvailable    = errors.New("exceeds available")
	ErrSaleExhausted       = errors.New("sale exhausted")
	ErrNothingToClaim      = errors.New("nothing to claim")
	ErrBelowFloorPrice     = errors.New("below floor price")
	ErrBidTooLow           = errors.New("bid too low")
	ErrSelfTrade           = errors.New("self trade")
)

// External collaborator errors.
var (
	ErrQuoteUnavailable = errors.New("quote unavailable")
	ErrPayoutFailed     = errors.New("payout failed")
)

// Kind groups errors by how a caller should react to them.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindState          Kind = "state"
	KindAuthorization  Kind = "authorization"
	KindResource       Kind = "resource"
	KindNotFound       Kind = "not_found"
	KindExternal       Kind = "external"
	KindInfrastructure Kind = "infrastructure"
)

var kinds = map[error]Kind{
	ErrInvalidParameters:   KindValidation,
	ErrInvalidBips:         KindValidation,
	ErrInvalidTimeWindow:   KindValidation,
	ErrBadSignature:        KindAuthorization,
	ErrSaleNotActive:       KindState,
	ErrAlreadyConcluded:    KindState,
	ErrListingInactive:     KindState,
	ErrAuctionNotActive:    KindState,
	ErrNotYetEnded:         KindState,
	ErrBidsAlreadyPlaced:   KindState,
	ErrSaleStillOpen:       KindState,
	ErrAlreadyExists:       KindState,
	ErrUnauthorized:        KindAuthorization,
	ErrBlacklisted:         KindAuthorization,
	ErrInsufficientBalance: KindResource,
	ErrExceedsAvailable:    KindResource,
	ErrSaleExhausted:       KindResource,
	ErrNothingToClaim:      KindResource,
	ErrBelowFloorPrice:     KindResource,
	ErrBidTooLow:           KindResource,
	ErrSelfTrade:           KindResource,
	ErrNotFound:            KindNotFound,
	ErrQuoteUnavailable:    KindExternal,
	ErrPayoutFailed:        KindExternal,
	ErrRateLimited:         KindInfrastructure,
	ErrLockHeld:            KindInfrastructure,
	ErrLockLost:            KindExternal,
}

// KindOf classifies err by the first known sentinel in its chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for sentinel, k := range kinds {
		if errors.Is(err, sentinel) {
			return k
		}
	}
	return KindInfrastructure
}

// Error is the structured failure returned by market operations. It carries the
// operation name, the sentinel, and the offending field and value.
type Error struct {
	Op    string
	Err   error
	Field string
	Value any
}

// NewError builds an *Error. value may be nil.
func NewError(op string, sentinel error, field string, value any) *Error {
	return &Error{Op: op, Err: sentinel, Field: field, Value: value}
}

func (e *Error) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s=%v", e.Op, e.Err, e.Field, e.Value)
}

func (e *Error) Unwrap() error { return e.Err }

// Kind reports the taxonomy group of the wrapped sentinel.
func (e *Error) Kind() Kind { return KindOf(e.Err) }
