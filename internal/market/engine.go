// Package market implements the settlement engine: share registry, primary
// sales, secondary listings, English auctions and the referral/fee module.
//
// Every exported mutating method runs as one serialized transaction: it either
// commits all of its effects and events, or returns an error and leaves the
// engine exactly as it was.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/estatemarket/internal/domain"
)

// Quoter converts a stable-currency amount into its native-currency equivalent.
type Quoter interface {
	QuoteNative(ctx context.Context, stableAmount *big.Int) (*big.Int, error)
}

// Config seeds the engine's owner-controlled settings.
type Config struct {
	Owner               common.Address
	FeeRecipient        common.Address
	StableToken         common.Address
	Administrators      []common.Address
	PlatformFeeBips     uint32
	DefaultReferralBips uint32
	MinBidIncrementBips uint32
	MinListingPriceBips uint32
}

// DefaultPayoutTimeout bounds one Payout.Pay call. The engine lock is held for
// its duration.
const DefaultPayoutTimeout = 5 * time.Second

// Option customises an Engine.
type Option func(*Engine)

func WithClock(c Clock) Option { return func(e *Engine) { e.clock = c } }

func WithPayout(p Payout) Option { return func(e *Engine) { e.payout = p } }

func WithEventSink(s EventSink) Option { return func(e *Engine) { e.sink = s } }

func WithEventLog(l *EventLog) Option { return func(e *Engine) { e.log = l } }

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithPayoutTimeout overrides DefaultPayoutTimeout. d <= 0 is ignored.
func WithPayoutTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.payoutTimeout = d
		}
	}
}

// Engine is the settlement engine façade.
type Engine struct {
	mu     sync.Mutex
	tx     txn
	seq    uint64
	stable common.Address
	fence  error // non-nil rejects every mutation

	clock         Clock
	quoter        Quoter
	payout        Payout
	payoutTimeout time.Duration
	sink          EventSink
	log           *EventLog
	logger        *slog.Logger

	reg      *registry
	vault    *vault
	fees     *feeModule
	primary  *primaryLedger
	book     *listingBook
	auctions *auctionHouse
}

// New builds an engine. quoter may be nil, in which case native-currency
// purchases fail with ErrQuoteUnavailable.
func New(cfg Config, quoter Quoter, opts ...Option) (*Engine, error) {
	if cfg.Owner == (common.Address{}) {
		return nil, errors.New("market: owner must be set")
	}
	if cfg.StableToken == (common.Address{}) {
		return nil, errors.New("market: stable token must be set")
	}
	for name, v := range map[string]uint32{
		"platform_fee_bips":      cfg.PlatformFeeBips,
		"default_referral_bips":  cfg.DefaultReferralBips,
		"min_bid_increment_bips": cfg.MinBidIncrementBips,
		"min_listing_price_bips": cfg.MinListingPriceBips,
	} {
		if err := validBips("new", name, v); err != nil {
			return nil, fmt.Errorf("market: %w", err)
		}
	}
	if cfg.FeeRecipient == (common.Address{}) {
		cfg.FeeRecipient = cfg.Owner
	}

	e := &Engine{
		stable:        cfg.StableToken,
		clock:         SystemClock{},
		quoter:        quoter,
		payout:        discardPayout{},
		payoutTimeout: DefaultPayoutTimeout,
		log:           NewEventLog(0),
		logger:        slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}

	admins := make(map[common.Address]bool, len(cfg.Administrators))
	for _, a := range cfg.Administrators {
		admins[a] = true
	}
	e.build(domain.FeeSettings{
		Owner:               cfg.Owner,
		FeeRecipient:        cfg.FeeRecipient,
		PlatformFeeBips:     cfg.PlatformFeeBips,
		DefaultReferralBips: cfg.DefaultReferralBips,
		MinBidIncrementBips: cfg.MinBidIncrementBips,
		MinListingPriceBips: cfg.MinListingPriceBips,
		Administrators:      admins,
	})
	return e, nil
}

// build wires fresh components around settings.
func (e *Engine) build(s domain.FeeSettings) {
	e.fees = newFeeModule(&e.tx, s)
	e.reg = newRegistry(&e.tx, e.fees)
	e.vault = newVault(&e.tx)
	e.primary = newPrimaryLedger(&e.tx, e.reg, e.vault, e.fees, e.quote)
	e.book = newListingBook(&e.tx, e.reg, e.vault, e.fees, e.quote)
	e.auctions = newAuctionHouse(&e.tx, e.reg, e.vault, e.fees, e.accepts)
}

type discardPayout struct{}

func (discardPayout) Pay(context.Context, common.Address, domain.Currency, *big.Int) error {
	return nil
}

// exec runs fn as one atomic operation.
func (e *Engine) exec(op string, fn func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.fence != nil {
		return domain.NewError(op, e.fence, "", nil)
	}
	e.tx.begin(e.clock.Now())
	if err := fn(); err != nil {
		e.tx.revert()
		e.logger.Debug("market: operation reverted",
			slog.String("op", op),
			slog.String("kind", string(domain.KindOf(err))),
			slog.String("error", err.Error()),
		)
		return err
	}

	events := e.tx.commit()
	for i := range events {
		e.seq++
		events[i].Seq = e.seq
		events[i].At = e.tx.now
		events[i].ID = eventID(events[i])
	}
	e.log.Append(events...)
	if e.sink != nil && len(events) > 0 {
		e.sink.Publish(events)
	}
	e.logger.Debug("market: operation committed",
		slog.String("op", op),
		slog.Int("events", len(events)),
		slog.Uint64("seq", e.seq),
	)
	return nil
}

func (e *Engine) accepts(cur domain.Currency) bool {
	return cur.IsNative() || (cur.Kind == domain.CurrencyStable && cur.Token == e.stable)
}

// quote prices a stable-denominated amount in cur.
func (e *Engine) quote(ctx context.Context, op string, cur domain.Currency, stableAmount *big.Int) (*big.Int, error) {
	if !e.accepts(cur) {
		return nil, domain.NewError(op, domain.ErrInvalidParameters, "currency", cur.Key())
	}
	if !cur.IsNative() {
		return stableAmount, nil
	}
	if e.quoter == nil {
		return nil, domain.NewError(op, domain.ErrQuoteUnavailable, "amount", stableAmount.String())
	}
	amt, err := e.quoter.QuoteNative(ctx, stableAmount)
	if err != nil {
		if !errors.Is(err, domain.ErrQuoteUnavailable) {
			err = fmt.Errorf("%w: %v", domain.ErrQuoteUnavailable, err)
		}
		return nil, domain.NewError(op, err, "amount", stableAmount.String())
	}
	if !positive(amt) {
		return nil, domain.NewError(op, domain.ErrQuoteUnavailable, "quote", amt)
	}
	return amt, nil
}

func (e *Engine) notBlacklisted(op string, addrs ...common.Address) error {
	for _, a := range addrs {
		if e.fees.isBlacklisted(a) {
			return domain.NewError(op, domain.ErrBlacklisted, "address", a.Hex())
		}
	}
	return nil
}

// Now is the timestamp the next operation would execute at.
func (e *Engine) Now() time.Time { return e.clock.Now() }

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// PropertyParams describes a property at registration, including its primary
// sale window.
type PropertyParams struct {
	Owner         common.Address
	PricePerShare *big.Int
	TotalShares   uint64
	URI           string
	AprBips       uint32
	SaleStart     time.Time
	SaleEnd       time.Time
}

// RegisterProperty creates a property with all shares in registry custody and
// opens its primary sale.
func (e *Engine) RegisterProperty(caller common.Address, in PropertyParams) (uint64, error) {
	var id uint64
	err := e.exec("registerProperty", func() error {
		if !in.SaleStart.Before(in.SaleEnd) {
			return domain.NewError("registerProperty", domain.ErrInvalidTimeWindow, "sale_end", in.SaleEnd)
		}
		p, err := e.reg.register(caller, in.Owner, in.PricePerShare, in.TotalShares, in.URI, in.AprBips)
		if err != nil {
			return err
		}
		e.primary.open(p.ID, in.SaleStart, in.SaleEnd)
		id = p.ID
		e.tx.emit(domain.Event{
			Kind:       domain.EventPropertyRegistered,
			EntityType: domain.EntityProperty,
			EntityID:   p.ID,
			Actor:      caller,
			Fields: map[string]string{
				"owner":           p.Owner.Hex(),
				"price_per_share": p.PricePerShare.String(),
				"total_shares":    strconv.FormatUint(p.TotalShares, 10),
				"apr_bips":        strconv.FormatUint(uint64(p.AprBips), 10),
				"uri":             p.URI,
				"sale_start":      strconv.FormatInt(in.SaleStart.Unix(), 10),
				"sale_end":        strconv.FormatInt(in.SaleEnd.Unix(), 10),
			},
		})
		return nil
	})
	return id, err
}

// TransferShares moves unlocked shares between holders.
func (e *Engine) TransferShares(from, to common.Address, propertyID, amount uint64) error {
	const op = "transferShares"
	return e.exec(op, func() error {
		if err := e.notBlacklisted(op, from, to); err != nil {
			return err
		}
		if err := e.reg.transfer(op, from, to, propertyID, amount); err != nil {
			return err
		}
		e.tx.emit(domain.Event{
			Kind:       domain.EventSharesTransferred,
			EntityType: domain.EntityProperty,
			EntityID:   propertyID,
			Actor:      from,
			Fields: map[string]string{
				"to":     to.Hex(),
				"amount": strconv.FormatUint(amount, 10),
			},
		})
		return nil
	})
}

func (e *Engine) propertyUpdated(caller common.Address, p *domain.Property, field, value string) {
	e.tx.emit(domain.Event{
		Kind:       domain.EventPropertyUpdated,
		EntityType: domain.EntityProperty,
		EntityID:   p.ID,
		Actor:      caller,
		Fields:     map[string]string{field: value},
	})
}

func (e *Engine) UpdatePrice(caller common.Address, propertyID uint64, price *big.Int) error {
	return e.exec("updatePrice", func() error {
		p, err := e.reg.updatePrice(caller, propertyID, price)
		if err != nil {
			return err
		}
		e.propertyUpdated(caller, p, "price_per_share", price.String())
		return nil
	})
}

func (e *Engine) UpdateApr(caller common.Address, propertyID uint64, aprBips uint32) error {
	return e.exec("updateApr", func() error {
		p, err := e.reg.updateApr(caller, propertyID, aprBips)
		if err != nil {
			return err
		}
		e.propertyUpdated(caller, p, "apr_bips", strconv.FormatUint(uint64(aprBips), 10))
		return nil
	})
}

func (e *Engine) UpdateURI(caller common.Address, propertyID uint64, uri string) error {
	return e.exec("updateUri", func() error {
		p, err := e.reg.updateURI(caller, propertyID, uri)
		if err != nil {
			return err
		}
		e.propertyUpdated(caller, p, "uri", uri)
		return nil
	})
}

// SetDelisted soft-delists (or relists) a property.
func (e *Engine) SetDelisted(caller common.Address, propertyID uint64, delisted bool) error {
	return e.exec("setDelisted", func() error {
		p, err := e.reg.setDelisted(caller, propertyID, delisted)
		if err != nil {
			return err
		}
		e.tx.emit(domain.Event{
			Kind:       domain.EventPropertyDelisted,
			EntityType: domain.EntityProperty,
			EntityID:   p.ID,
			Actor:      caller,
			Fields:     map[string]string{"delisted": strconv.FormatBool(delisted)},
		})
		return nil
	})
}

func (e *Engine) Property(id uint64) (domain.Property, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.reg.property(id)
	if err != nil {
		return domain.Property{}, err
	}
	return *p, nil
}

// Properties returns every property ordered by id.
func (e *Engine) Properties() []domain.Property {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Property, 0, len(e.reg.props))
	for _, p := range e.reg.props {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (e *Engine) BalanceOf(propertyID uint64, owner common.Address) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reg.balanceOf(propertyID, owner)
}

// AvailableShares is the balance not reserved by listings or auctions.
func (e *Engine) AvailableShares(propertyID uint64, owner common.Address) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reg.available(propertyID, owner)
}

// ---------------------------------------------------------------------------
// Primary sale
// ---------------------------------------------------------------------------

func (e *Engine) BuyShares(ctx context.Context, buyer common.Address, propertyID, shares uint64, cur domain.Currency, agent common.Address) error {
	const op = "buyShares"
	return e.exec(op, func() error {
		if err := e.notBlacklisted(op, buyer); err != nil {
			return err
		}
		return e.primary.buy(ctx, buyer, propertyID, shares, cur, agent)
	})
}

// ConcludeSale resolves a primary sale; anyone may call it.
func (e *Engine) ConcludeSale(caller common.Address, propertyID uint64) error {
	return e.exec("concludeSale", func() error {
		return e.primary.conclude(caller, propertyID)
	})
}

func (e *Engine) ClaimPendingSharesOrFunds(buyer common.Address, propertyID uint64) error {
	const op = "claimPendingSharesOrFunds"
	return e.exec(op, func() error {
		if err := e.notBlacklisted(op, buyer); err != nil {
			return err
		}
		return e.primary.claim(buyer, propertyID)
	})
}

func (e *Engine) Sale(propertyID uint64) (domain.PrimarySale, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.primary.sale("sale", propertyID)
	if err != nil {
		return domain.PrimarySale{}, err
	}
	return copySale(s), nil
}

func copySale(s *domain.PrimarySale) domain.PrimarySale {
	out := *s
	out.Raised = copyAmounts(s.Raised)
	out.Fees = copyAmounts(s.Fees)
	out.Commissions = copyAmounts(s.Commissions)
	return out
}

func (e *Engine) PendingClaim(buyer common.Address, propertyID uint64) domain.PendingClaim {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.primary.pending(buyer, propertyID)
}

// ---------------------------------------------------------------------------
// Secondary listings
// ---------------------------------------------------------------------------

func (e *Engine) CreateListing(seller common.Address, propertyID, shares uint64, pricePerShare *big.Int) (uint64, error) {
	const op = "createListing"
	var id uint64
	err := e.exec(op, func() error {
		if err := e.notBlacklisted(op, seller); err != nil {
			return err
		}
		l, err := e.book.create(seller, propertyID, shares, pricePerShare)
		if err != nil {
			return err
		}
		id = l.ID
		return nil
	})
	return id, err
}

func (e *Engine) Buy(ctx context.Context, listingID uint64, buyer common.Address, shares uint64, cur domain.Currency) error {
	const op = "buy"
	return e.exec(op, func() error {
		if err := e.notBlacklisted(op, buyer); err != nil {
			return err
		}
		return e.book.buy(ctx, listingID, buyer, shares, cur)
	})
}

// BulkBuy buys from several listings; either every item fills or none does.
func (e *Engine) BulkBuy(ctx context.Context, items []domain.BulkItem, buyer common.Address, cur domain.Currency) error {
	const op = "bulkBuy"
	return e.exec(op, func() error {
		if err := e.notBlacklisted(op, buyer); err != nil {
			return err
		}
		return e.book.bulkBuy(ctx, items, buyer, cur)
	})
}

// UpdateListing sets the unsold share count and price of a listing.
func (e *Engine) UpdateListing(caller common.Address, listingID, shares uint64, pricePerShare *big.Int) error {
	return e.exec("updateListing", func() error {
		return e.book.update(caller, listingID, shares, pricePerShare)
	})
}

func (e *Engine) CancelListing(caller common.Address, listingID uint64) error {
	return e.exec("cancelListing", func() error {
		return e.book.cancel(caller, listingID)
	})
}

func (e *Engine) Listing(id uint64) (domain.Listing, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, err := e.book.listing("listing", id)
	if err != nil {
		return domain.Listing{}, err
	}
	return *l, nil
}

// Listings returns the open listings of a property (all properties when
// propertyID is 0), ordered by id.
func (e *Engine) Listings(propertyID uint64) []domain.Listing {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []domain.Listing
	for _, l := range e.book.listings {
		if l.Open() && (propertyID == 0 || l.PropertyID == propertyID) {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ---------------------------------------------------------------------------
// Auctions
// ---------------------------------------------------------------------------

func (e *Engine) CreateAuction(seller common.Address, in AuctionParams) (uint64, error) {
	const op = "createAuction"
	var id uint64
	err := e.exec(op, func() error {
		if err := e.notBlacklisted(op, seller); err != nil {
			return err
		}
		a, err := e.auctions.create(seller, in)
		if err != nil {
			return err
		}
		id = a.ID
		return nil
	})
	return id, err
}

func (e *Engine) PlaceBid(auctionID uint64, bidder common.Address, amount *big.Int) error {
	const op = "placeBid"
	return e.exec(op, func() error {
		if err := e.notBlacklisted(op, bidder); err != nil {
			return err
		}
		return e.auctions.placeBid(auctionID, bidder, amount)
	})
}

func (e *Engine) CancelAuction(caller common.Address, auctionID uint64) error {
	return e.exec("cancelAuction", func() error {
		return e.auctions.cancel(caller, auctionID)
	})
}

// ConcludeAuction settles an ended auction; anyone may call it.
func (e *Engine) ConcludeAuction(caller common.Address, auctionID uint64) error {
	return e.exec("concludeAuction", func() error {
		return e.auctions.conclude(caller, auctionID)
	})
}

// WithdrawBidRefund moves an outbid amount into the bidder's vault balance.
func (e *Engine) WithdrawBidRefund(auctionID uint64, bidder common.Address) error {
	return e.exec("withdrawBidRefund", func() error {
		return e.auctions.withdrawRefund(auctionID, bidder)
	})
}

func (e *Engine) Auction(id uint64) (domain.Auction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, err := e.auctions.auction("auction", id)
	if err != nil {
		return domain.Auction{}, err
	}
	return *a, nil
}

func (e *Engine) BidRefund(auctionID uint64, bidder common.Address) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.auctions.refund(auctionID, bidder)
}

// ---------------------------------------------------------------------------
// Referral & fees
// ---------------------------------------------------------------------------

func (e *Engine) ComputeFees(gross *big.Int, propertyID uint64, agent common.Address) (domain.Fees, error) {
	if gross == nil || gross.Sign() < 0 {
		return domain.Fees{}, domain.NewError("computeFees", domain.ErrInvalidParameters, "gross", gross)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fees.computeFees(gross, propertyID, agent), nil
}

// ClaimReferralCommission pays out an agent's commission on a property. Only
// commission from a sale that concluded with its threshold met is claimable.
func (e *Engine) ClaimReferralCommission(agent common.Address, propertyID uint64) error {
	const op = "claimReferralCommission"
	return e.exec(op, func() error {
		if err := e.notBlacklisted(op, agent); err != nil {
			return err
		}
		s, err := e.primary.sale(op, propertyID)
		if err != nil {
			return err
		}
		if !s.Concluded || !s.ThresholdMet {
			return domain.NewError(op, domain.ErrNothingToClaim, "sale_resolved", false)
		}
		amounts, err := e.fees.take(op, agent, propertyID)
		if err != nil {
			return err
		}
		for key, amt := range amounts {
			cur, err := domain.ParseCurrency(key)
			if err != nil {
				return err
			}
			if err := e.vault.fromEscrow(agent, cur, amt); err != nil {
				return err
			}
		}
		fields := map[string]string{}
		amountFields(fields, "commission:", amounts)
		e.tx.emit(domain.Event{
			Kind:       domain.EventCommissionClaimed,
			EntityType: domain.EntityProperty,
			EntityID:   propertyID,
			Actor:      agent,
			Fields:     fields,
		})
		return nil
	})
}

func (e *Engine) ReferralRecord(agent common.Address, propertyID uint64) domain.ReferralRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fees.record(agent, propertyID)
}

func (e *Engine) Settings() domain.FeeSettings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fees.settings()
}

func (e *Engine) settingChanged(caller common.Address, name, value string) {
	e.tx.emit(domain.Event{
		Kind:       domain.EventSettingChanged,
		EntityType: domain.EntityMarket,
		Actor:      caller,
		Fields:     map[string]string{"setting": name, "value": value},
	})
}

func (e *Engine) setBips(name string, caller common.Address, bips uint32, set func(common.Address, uint32) error) error {
	return e.exec(name, func() error {
		if err := set(caller, bips); err != nil {
			return err
		}
		e.settingChanged(caller, name, strconv.FormatUint(uint64(bips), 10))
		return nil
	})
}

func (e *Engine) SetPlatformFee(caller common.Address, bips uint32) error {
	return e.setBips("setPlatformFee", caller, bips, e.fees.setPlatformFee)
}

func (e *Engine) SetDefaultReferralBips(caller common.Address, bips uint32) error {
	return e.setBips("setDefaultReferralBips", caller, bips, e.fees.setDefaultReferralBips)
}

func (e *Engine) SetMinBidIncrementBips(caller common.Address, bips uint32) error {
	return e.setBips("setMinBidIncrementBips", caller, bips, e.fees.setMinBidIncrementBips)
}

func (e *Engine) SetMinListingPriceBips(caller common.Address, bips uint32) error {
	return e.setBips("setMinListingPriceBips", caller, bips, e.fees.setMinListingPriceBips)
}

func (e *Engine) SetExclusiveReferralBips(caller, agent common.Address, bips uint32) error {
	const op = "setExclusiveReferralBips"
	return e.exec(op, func() error {
		if err := e.fees.setExclusiveReferralBips(caller, agent, bips); err != nil {
			return err
		}
		e.settingChanged(caller, op, agent.Hex()+"="+strconv.FormatUint(uint64(bips), 10))
		return nil
	})
}

func (e *Engine) setFlag(op string, caller, addr common.Address, on bool, set func(common.Address, common.Address, bool) error) error {
	return e.exec(op, func() error {
		if err := set(caller, addr, on); err != nil {
			return err
		}
		e.settingChanged(caller, op, addr.Hex()+"="+strconv.FormatBool(on))
		return nil
	})
}

func (e *Engine) UpdateAgentWhitelistStatus(caller, agent common.Address, whitelisted bool) error {
	return e.setFlag("updateAgentWhitelistStatus", caller, agent, whitelisted, e.fees.updateAgentWhitelistStatus)
}

func (e *Engine) UpdateBlacklist(caller, addr common.Address, blacklisted bool) error {
	return e.setFlag("updateBlacklist", caller, addr, blacklisted, e.fees.updateBlacklist)
}

func (e *Engine) SetAdministrator(caller, addr common.Address, admin bool) error {
	return e.setFlag("setAdministrator", caller, addr, admin, e.fees.setAdministrator)
}

func (e *Engine) SetFeeRecipient(caller, recipient common.Address) error {
	const op = "setFeeRecipient"
	return e.exec(op, func() error {
		if err := e.fees.setFeeRecipient(caller, recipient); err != nil {
			return err
		}
		e.settingChanged(caller, op, recipient.Hex())
		return nil
	})
}

// ---------------------------------------------------------------------------
// Vault
// ---------------------------------------------------------------------------

// Deposit credits inbound value to an account. Only administrators (the
// payment gateway operators) may record deposits.
func (e *Engine) Deposit(caller, to common.Address, cur domain.Currency, amount *big.Int) error {
	const op = "deposit"
	return e.exec(op, func() error {
		if !e.fees.isAdministrator(caller) {
			return domain.NewError(op, domain.ErrUnauthorized, "caller", caller.Hex())
		}
		if !e.accepts(cur) {
			return domain.NewError(op, domain.ErrInvalidParameters, "currency", cur.Key())
		}
		if !positive(amount) {
			return domain.NewError(op, domain.ErrInvalidParameters, "amount", amount)
		}
		if to == (common.Address{}) {
			return domain.NewError(op, domain.ErrInvalidParameters, "to", to.Hex())
		}
		e.vault.credit(to, cur, amount)
		e.tx.emit(domain.Event{
			Kind:       domain.EventDeposited,
			EntityType: domain.EntityMarket,
			Actor:      caller,
			Fields: map[string]string{
				"account":  to.Hex(),
				"currency": cur.Key(),
				"amount":   amount.String(),
			},
		})
		return nil
	})
}

// Withdraw debits the account and then hands the amount to the payout.
func (e *Engine) Withdraw(ctx context.Context, owner common.Address, cur domain.Currency, amount *big.Int) error {
	const op = "withdraw"
	return e.exec(op, func() error {
		if err := e.notBlacklisted(op, owner); err != nil {
			return err
		}
		payCtx, cancel := context.WithTimeout(ctx, e.payoutTimeout)
		defer cancel()
		if err := e.vault.withdraw(payCtx, e.payout, owner, cur, amount); err != nil {
			return err
		}
		e.tx.emit(domain.Event{
			Kind:       domain.EventWithdrawn,
			EntityType: domain.EntityMarket,
			Actor:      owner,
			Fields: map[string]string{
				"currency": cur.Key(),
				"amount":   amount.String(),
			},
		})
		return nil
	})
}

func (e *Engine) Balance(owner common.Address, cur domain.Currency) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.vault.balance(owner, cur)
}

// Escrowed is the total the engine holds in cur for sales, bids and commissions.
func (e *Engine) Escrowed(cur domain.Currency) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.vault.escrowed(cur)
}

// ---------------------------------------------------------------------------
// History
// ---------------------------------------------------------------------------

func (e *Engine) Events(entityType string, id uint64) []domain.Event {
	return e.log.ByEntity(entityType, id)
}

func (e *Engine) EventsSince(seq uint64, limit int) []domain.Event {
	return e.log.Since(seq, limit)
}

// Seq is the sequence number of the last committed event.
func (e *Engine) Seq() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq
}

// Fence makes every later mutation fail with reason while reads keep working.
// It is used once this process may no longer be the only writer. A nil reason
// is ignored and the first reason sticks.
func (e *Engine) Fence(reason error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fence == nil {
		e.fence = reason
	}
}

// Fenced reports whether Fence has been called.
func (e *Engine) Fenced() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fence != nil
}

// AdvanceSeq raises the sequence counter to floor so later events never
// reuse a number already persisted. It returns how many numbers were skipped;
// a floor at or below Seq is a no-op.
func (e *Engine) AdvanceSeq(floor uint64) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if floor <= e.seq {
		return 0
	}
	skipped := floor - e.seq
	e.seq = floor
	return skipped
}
