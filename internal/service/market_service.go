package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/estatemarket/internal/domain"
	"github.com/alanyoungcy/estatemarket/internal/market"
)

// MarketService is the application façade over the settlement engine. It
// logs every mutating call and answers history queries from the event store
// when one is configured.
type MarketService struct {
	engine     *market.Engine
	events     domain.EventStore
	checkpoint Checkpointer
	logger     *slog.Logger
}

// Checkpointer durably saves engine state on demand. *Snapshotter is one.
type Checkpointer interface {
	SaveNow(ctx context.Context) (bool, error)
}

// ServiceOption customises a MarketService.
type ServiceOption func(*MarketService)

// WithCheckpoint saves a snapshot through c after every committed withdrawal,
// so a restart never restores a balance that was already paid out.
func WithCheckpoint(c Checkpointer) ServiceOption {
	return func(s *MarketService) { s.checkpoint = c }
}

// NewMarketService creates a MarketService. events may be nil, in which case
// history is served from the engine's in-process log.
func NewMarketService(engine *market.Engine, events domain.EventStore, logger *slog.Logger, opts ...ServiceOption) *MarketService {
	s := &MarketService{
		engine: engine,
		events: events,
		logger: logger.With(slog.String("component", "market_service")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Engine exposes the underlying engine for read accessors.
func (s *MarketService) Engine() *market.Engine { return s.engine }

// record logs the outcome of op and passes err through untouched.
func (s *MarketService) record(ctx context.Context, op string, actor common.Address, err error, attrs ...slog.Attr) error {
	attrs = append(attrs, slog.String("actor", actor.Hex()))
	if err != nil {
		attrs = append(attrs,
			slog.String("kind", string(domain.KindOf(err))),
			slog.String("error", err.Error()),
		)
		s.logger.LogAttrs(ctx, slog.LevelWarn, "market_service: "+op+" failed", attrs...)
		return err
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, "market_service: "+op, attrs...)
	return nil
}

func propertyAttr(id uint64) slog.Attr { return slog.Uint64("property_id", id) }

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

func (s *MarketService) RegisterProperty(ctx context.Context, caller common.Address, in market.PropertyParams) (uint64, error) {
	id, err := s.engine.RegisterProperty(caller, in)
	return id, s.record(ctx, "register property", caller, err,
		propertyAttr(id),
		slog.Uint64("total_shares", in.TotalShares),
	)
}

func (s *MarketService) TransferShares(ctx context.Context, from, to common.Address, propertyID, amount uint64) error {
	err := s.engine.TransferShares(from, to, propertyID, amount)
	return s.record(ctx, "transfer shares", from, err,
		propertyAttr(propertyID),
		slog.String("to", to.Hex()),
		slog.Uint64("shares", amount),
	)
}

func (s *MarketService) UpdatePrice(ctx context.Context, caller common.Address, propertyID uint64, price *big.Int) error {
	return s.record(ctx, "update price", caller, s.engine.UpdatePrice(caller, propertyID, price), propertyAttr(propertyID))
}

func (s *MarketService) UpdateApr(ctx context.Context, caller common.Address, propertyID uint64, aprBips uint32) error {
	return s.record(ctx, "update apr", caller, s.engine.UpdateApr(caller, propertyID, aprBips), propertyAttr(propertyID))
}

func (s *MarketService) UpdateURI(ctx context.Context, caller common.Address, propertyID uint64, uri string) error {
	return s.record(ctx, "update uri", caller, s.engine.UpdateURI(caller, propertyID, uri), propertyAttr(propertyID))
}

func (s *MarketService) SetDelisted(ctx context.Context, caller common.Address, propertyID uint64, delisted bool) error {
	err := s.engine.SetDelisted(caller, propertyID, delisted)
	return s.record(ctx, "set delisted", caller, err, propertyAttr(propertyID), slog.Bool("delisted", delisted))
}

// ---------------------------------------------------------------------------
// Primary sale
// ---------------------------------------------------------------------------

func (s *MarketService) BuyShares(ctx context.Context, buyer common.Address, propertyID, shares uint64, cur domain.Currency, agent common.Address) error {
	err := s.engine.BuyShares(ctx, buyer, propertyID, shares, cur, agent)
	return s.record(ctx, "buy shares", buyer, err,
		propertyAttr(propertyID),
		slog.Uint64("shares", shares),
		slog.String("currency", cur.Key()),
		slog.String("agent", agent.Hex()),
	)
}

func (s *MarketService) ConcludeSale(ctx context.Context, caller common.Address, propertyID uint64) error {
	return s.record(ctx, "conclude sale", caller, s.engine.ConcludeSale(caller, propertyID), propertyAttr(propertyID))
}

func (s *MarketService) ClaimPendingSharesOrFunds(ctx context.Context, buyer common.Address, propertyID uint64) error {
	err := s.engine.ClaimPendingSharesOrFunds(buyer, propertyID)
	return s.record(ctx, "claim pending", buyer, err, propertyAttr(propertyID))
}

// ---------------------------------------------------------------------------
// Listings
// ---------------------------------------------------------------------------

func (s *MarketService) CreateListing(ctx context.Context, seller common.Address, propertyID, shares uint64, pricePerShare *big.Int) (uint64, error) {
	id, err := s.engine.CreateListing(seller, propertyID, shares, pricePerShare)
	return id, s.record(ctx, "create listing", seller, err,
		propertyAttr(propertyID),
		slog.Uint64("listing_id", id),
		slog.Uint64("shares", shares),
	)
}

func (s *MarketService) Buy(ctx context.Context, listingID uint64, buyer common.Address, shares uint64, cur domain.Currency) error {
	err := s.engine.Buy(ctx, listingID, buyer, shares, cur)
	return s.record(ctx, "buy listing", buyer, err,
		slog.Uint64("listing_id", listingID),
		slog.Uint64("shares", shares),
		slog.String("currency", cur.Key()),
	)
}

func (s *MarketService) BulkBuy(ctx context.Context, items []domain.BulkItem, buyer common.Address, cur domain.Currency) error {
	err := s.engine.BulkBuy(ctx, items, buyer, cur)
	return s.record(ctx, "bulk buy", buyer, err,
		slog.Int("items", len(items)),
		slog.String("currency", cur.Key()),
	)
}

func (s *MarketService) UpdateListing(ctx context.Context, caller common.Address, listingID, shares uint64, pricePerShare *big.Int) error {
	err := s.engine.UpdateListing(caller, listingID, shares, pricePerShare)
	return s.record(ctx, "update listing", caller, err, slog.Uint64("listing_id", listingID))
}

func (s *MarketService) CancelListing(ctx context.Context, caller common.Address, listingID uint64) error {
	err := s.engine.CancelListing(caller, listingID)
	return s.record(ctx, "cancel listing", caller, err, slog.Uint64("listing_id", listingID))
}

// ---------------------------------------------------------------------------
// Auctions
// ---------------------------------------------------------------------------

func (s *MarketService) CreateAuction(ctx context.Context, seller common.Address, in market.AuctionParams) (uint64, error) {
	id, err := s.engine.CreateAuction(seller, in)
	return id, s.record(ctx, "create auction", seller, err,
		propertyAttr(in.PropertyID),
		slog.Uint64("auction_id", id),
		slog.Uint64("shares", in.Shares),
	)
}

func (s *MarketService) PlaceBid(ctx context.Context, auctionID uint64, bidder common.Address, amount *big.Int) error {
	err := s.engine.PlaceBid(auctionID, bidder, amount)
	return s.record(ctx, "place bid", bidder, err,
		slog.Uint64("auction_id", auctionID),
		slog.String("amount", amount.String()),
	)
}

func (s *MarketService) CancelAuction(ctx context.Context, caller common.Address, auctionID uint64) error {
	err := s.engine.CancelAuction(caller, auctionID)
	return s.record(ctx, "cancel auction", caller, err, slog.Uint64("auction_id", auctionID))
}

func (s *MarketService) ConcludeAuction(ctx context.Context, caller common.Address, auctionID uint64) error {
	err := s.engine.ConcludeAuction(caller, auctionID)
	return s.record(ctx, "conclude auction", caller, err, slog.Uint64("auction_id", auctionID))
}

func (s *MarketService) WithdrawBidRefund(ctx context.Context, auctionID uint64, bidder common.Address) error {
	err := s.engine.WithdrawBidRefund(auctionID, bidder)
	return s.record(ctx, "withdraw bid refund", bidder, err, slog.Uint64("auction_id", auctionID))
}

// ---------------------------------------------------------------------------
// Referral and administration
// ---------------------------------------------------------------------------

func (s *MarketService) ClaimReferralCommission(ctx context.Context, agent common.Address, propertyID uint64) error {
	err := s.engine.ClaimReferralCommission(agent, propertyID)
	return s.record(ctx, "claim commission", agent, err, propertyAttr(propertyID))
}

// SetBips updates one of the named basis-point settings.
func (s *MarketService) SetBips(ctx context.Context, caller common.Address, name string, bips uint32) error {
	var err error
	switch name {
	case "platform_fee_bips":
		err = s.engine.SetPlatformFee(caller, bips)
	case "default_referral_bips":
		err = s.engine.SetDefaultReferralBips(caller, bips)
	case "min_bid_increment_bips":
		err = s.engine.SetMinBidIncrementBips(caller, bips)
	case "min_listing_price_bips":
		err = s.engine.SetMinListingPriceBips(caller, bips)
	default:
		err = domain.NewError("setBips", domain.ErrInvalidParameters, "name", name)
	}
	return s.record(ctx, "set "+name, caller, err, slog.Uint64("bips", uint64(bips)))
}

func (s *MarketService) SetExclusiveReferralBips(ctx context.Context, caller, agent common.Address, bips uint32) error {
	err := s.engine.SetExclusiveReferralBips(caller, agent, bips)
	return s.record(ctx, "set exclusive referral", caller, err,
		slog.String("agent", agent.Hex()),
		slog.Uint64("bips", uint64(bips)),
	)
}

func (s *MarketService) UpdateAgentWhitelistStatus(ctx context.Context, caller, agent common.Address, whitelisted bool) error {
	err := s.engine.UpdateAgentWhitelistStatus(caller, agent, whitelisted)
	return s.record(ctx, "update whitelist", caller, err,
		slog.String("agent", agent.Hex()),
		slog.Bool("whitelisted", whitelisted),
	)
}

func (s *MarketService) UpdateBlacklist(ctx context.Context, caller, addr common.Address, blacklisted bool) error {
	err := s.engine.UpdateBlacklist(caller, addr, blacklisted)
	return s.record(ctx, "update blacklist", caller, err,
		slog.String("address", addr.Hex()),
		slog.Bool("blacklisted", blacklisted),
	)
}

func (s *MarketService) SetAdministrator(ctx context.Context, caller, addr common.Address, admin bool) error {
	err := s.engine.SetAdministrator(caller, addr, admin)
	return s.record(ctx, "set administrator", caller, err,
		slog.String("address", addr.Hex()),
		slog.Bool("admin", admin),
	)
}

func (s *MarketService) SetFeeRecipient(ctx context.Context, caller, recipient common.Address) error {
	err := s.engine.SetFeeRecipient(caller, recipient)
	return s.record(ctx, "set fee recipient", caller, err, slog.String("recipient", recipient.Hex()))
}

// ---------------------------------------------------------------------------
// Vault
// ---------------------------------------------------------------------------

func (s *MarketService) Deposit(ctx context.Context, caller, to common.Address, cur domain.Currency, amount *big.Int) error {
	err := s.engine.Deposit(caller, to, cur, amount)
	return s.record(ctx, "deposit", caller, err,
		slog.String("to", to.Hex()),
		slog.String("currency", cur.Key()),
		slog.String("amount", amount.String()),
	)
}

func (s *MarketService) Withdraw(ctx context.Context, owner common.Address, cur domain.Currency, amount *big.Int) error {
	err := s.engine.Withdraw(ctx, owner, cur, amount)
	if err == nil && s.checkpoint != nil {
		// The payout already left; a failed save is logged, not returned.
		if _, cerr := s.checkpoint.SaveNow(ctx); cerr != nil {
			s.logger.ErrorContext(ctx, "market_service: checkpoint after withdraw failed",
				slog.String("owner", owner.Hex()),
				slog.String("error", cerr.Error()),
			)
		}
	}
	return s.record(ctx, "withdraw", owner, err,
		slog.String("currency", cur.Key()),
		slog.String("amount", amount.String()),
	)
}

// ---------------------------------------------------------------------------
// History
// ---------------------------------------------------------------------------

// History returns the events of one entity, oldest first.
func (s *MarketService) History(ctx context.Context, entityType string, id uint64, opts domain.ListOpts) ([]domain.Event, error) {
	if s.events != nil {
		events, err := s.events.ListByEntity(ctx, entityType, id, opts)
		if err != nil {
			return nil, fmt.Errorf("market_service: history %s: %w", domain.EntityKeyOf(entityType, id), err)
		}
		return events, nil
	}
	return page(s.engine.Events(entityType, id), opts), nil
}

// EventsSince returns up to limit committed events after seq.
func (s *MarketService) EventsSince(seq uint64, limit int) []domain.Event {
	return s.engine.EventsSince(seq, limit)
}

func page(events []domain.Event, opts domain.ListOpts) []domain.Event {
	if opts.Offset >= len(events) {
		return []domain.Event{}
	}
	events = events[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(events) {
		events = events[:opts.Limit]
	}
	return events
}
