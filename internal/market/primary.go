package market

import (
	"context"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/estatemarket/internal/domain"
)

// pricer converts a stable-denominated amount into the currency being paid.
type pricer func(ctx context.Context, op string, cur domain.Currency, stableAmount *big.Int) (*big.Int, error)

type claimKey struct {
	buyer      common.Address
	propertyID uint64
}

// primaryLedger runs the initial sale of each property.
type primaryLedger struct {
	tx     *txn
	shares ShareLedger
	vault  *vault
	fees   *feeModule
	price  pricer
	sales  map[uint64]*domain.PrimarySale
	claims map[claimKey]*domain.PendingClaim
}

func newPrimaryLedger(tx *txn, shares ShareLedger, v *vault, fees *feeModule, price pricer) *primaryLedger {
	return &primaryLedger{
		tx:     tx,
		shares: shares,
		vault:  v,
		fees:   fees,
		price:  price,
		sales:  make(map[uint64]*domain.PrimarySale),
		claims: make(map[claimKey]*domain.PendingClaim),
	}
}

func (l *primaryLedger) open(propertyID uint64, start, end time.Time) {
	saveKey(l.tx, l.sales, propertyID)
	l.sales[propertyID] = &domain.PrimarySale{
		PropertyID: propertyID,
		Start:      start,
		End:        end,
	}
}

func (l *primaryLedger) sale(op string, propertyID uint64) (*domain.PrimarySale, error) {
	s, ok := l.sales[propertyID]
	if !ok {
		return nil, domain.NewError(op, domain.ErrNotFound, "property_id", propertyID)
	}
	return s, nil
}

func (l *primaryLedger) buy(ctx context.Context, buyer common.Address, propertyID, sharesToBuy uint64, cur domain.Currency, agent common.Address) error {
	const op = "buyShares"
	if sharesToBuy == 0 {
		return domain.NewError(op, domain.ErrInvalidParameters, "shares", sharesToBuy)
	}
	s, err := l.sale(op, propertyID)
	if err != nil {
		return err
	}
	p, err := l.shares.property(propertyID)
	if err != nil {
		return err
	}
	if p.Delisted {
		return domain.NewError(op, domain.ErrSaleNotActive, "delisted", true)
	}
	if stage := s.Stage(l.tx.now); stage != domain.SaleSelling {
		return domain.NewError(op, domain.ErrSaleNotActive, "stage", stage)
	}
	if remaining := p.TotalShares - s.SharesSold; sharesToBuy > remaining {
		return domain.NewError(op, domain.ErrSaleExhausted, "remaining", remaining)
	}

	gross, err := l.price(ctx, op, cur, cost(sharesToBuy, p.PricePerShare))
	if err != nil {
		return err
	}
	if err := l.vault.toEscrow(op, buyer, cur, gross); err != nil {
		return err
	}
	fees := l.fees.computeFees(gross, propertyID, agent)
	key := cur.Key()

	save(l.tx, s)
	s.SharesSold += sharesToBuy
	s.Raised = withAdded(s.Raised, key, gross)
	s.Fees = withAdded(s.Fees, key, fees.PlatformFee)
	if positive(fees.Commission) {
		s.Commissions = withAdded(s.Commissions, key, fees.Commission)
		l.fees.accrue(agent, propertyID, cur, fees.Commission)
		l.tx.emit(domain.Event{
			Kind:       domain.EventCommissionAccrued,
			EntityType: domain.EntityProperty,
			EntityID:   propertyID,
			Actor:      agent,
			Fields: map[string]string{
				"buyer":      buyer.Hex(),
				"currency":   key,
				"commission": fees.Commission.String(),
			},
		})
	}

	ck := claimKey{buyer, propertyID}
	c, ok := l.claims[ck]
	if !ok {
		saveKey(l.tx, l.claims, ck)
		c = &domain.PendingClaim{Buyer: buyer, PropertyID: propertyID}
		l.claims[ck] = c
	}
	save(l.tx, c)
	c.Shares += sharesToBuy
	c.Paid = withAdded(c.Paid, key, gross)
	c.Status = domain.ClaimOngoing

	l.tx.emit(domain.Event{
		Kind:       domain.EventSharesPurchased,
		EntityType: domain.EntityProperty,
		EntityID:   propertyID,
		Actor:      buyer,
		Fields: map[string]string{
			"shares":       strconv.FormatUint(sharesToBuy, 10),
			"currency":     key,
			"gross":        gross.String(),
			"platform_fee": fees.PlatformFee.String(),
			"commission":   fees.Commission.String(),
			"net":          fees.NetToSeller.String(),
			"agent":        agent.Hex(),
			"shares_sold":  strconv.FormatUint(s.SharesSold, 10),
		},
	})
	return nil
}

// thresholdMet compares sell-through against the minimum listing fraction on
// face value. A full sell-out always qualifies.
func thresholdMet(sold, total uint64, minBips uint32) bool {
	if sold == total {
		return true
	}
	lhs := new(big.Int).Mul(new(big.Int).SetUint64(sold), bipsDenominator)
	rhs := new(big.Int).Mul(new(big.Int).SetUint64(total), big.NewInt(int64(minBips)))
	return lhs.Cmp(rhs) >= 0
}

func (l *primaryLedger) conclude(caller common.Address, propertyID uint64) error {
	const op = "concludeSale"
	s, err := l.sale(op, propertyID)
	if err != nil {
		return err
	}
	if s.Concluded {
		return domain.NewError(op, domain.ErrAlreadyConcluded, "property_id", propertyID)
	}
	p, err := l.shares.property(propertyID)
	if err != nil {
		return err
	}
	remaining := p.TotalShares - s.SharesSold
	if l.tx.now.Before(s.End) && remaining > 0 {
		return domain.NewError(op, domain.ErrSaleStillOpen, "remaining", remaining)
	}

	met := thresholdMet(s.SharesSold, p.TotalShares, l.fees.s.MinListingPriceBips)
	now := l.tx.now
	save(l.tx, s)
	s.Concluded = true
	s.ThresholdMet = met
	s.ConcludedAt = &now

	status := domain.ClaimRefund
	if met {
		status = domain.ClaimShares
		// Owner proceeds and platform fee are released now; commissions stay
		// escrowed until each agent claims.
		for key, raised := range s.Raised {
			cur, err := domain.ParseCurrency(key)
			if err != nil {
				return err
			}
			fee := orZero(s.Fees[key])
			net := sub(sub(raised, fee), s.Commissions[key])
			if err := l.vault.fromEscrow(p.Owner, cur, net); err != nil {
				return err
			}
			if err := l.vault.fromEscrow(l.fees.s.FeeRecipient, cur, fee); err != nil {
				return err
			}
		}
	} else {
		s.Fees = nil
		s.Commissions = nil
		l.fees.voidProperty(propertyID)
	}
	for k, c := range l.claims {
		if k.propertyID != propertyID || c.Empty() {
			continue
		}
		save(l.tx, c)
		c.Status = status
	}

	fields := map[string]string{
		"shares_sold":   strconv.FormatUint(s.SharesSold, 10),
		"total_shares":  strconv.FormatUint(p.TotalShares, 10),
		"threshold_met": strconv.FormatBool(met),
		"resolution":    string(status),
	}
	amountFields(fields, "raised:", s.Raised)
	l.tx.emit(domain.Event{
		Kind:       domain.EventSaleConcluded,
		EntityType: domain.EntityProperty,
		EntityID:   propertyID,
		Actor:      caller,
		Fields:     fields,
	})
	return nil
}

func (l *primaryLedger) claim(buyer common.Address, propertyID uint64) error {
	const op = "claimPendingSharesOrFunds"
	s, err := l.sale(op, propertyID)
	if err != nil {
		return err
	}
	c, ok := l.claims[claimKey{buyer, propertyID}]
	if !ok || c.Empty() {
		return domain.NewError(op, domain.ErrNothingToClaim, "buyer", buyer.Hex())
	}
	if !s.Concluded {
		return domain.NewError(op, domain.ErrNothingToClaim, "concluded", false)
	}

	fields := map[string]string{"resolution": string(c.Status)}
	switch c.Status {
	case domain.ClaimShares:
		if err := l.shares.releaseCustody(op, propertyID, buyer, c.Shares); err != nil {
			return err
		}
		fields["shares"] = strconv.FormatUint(c.Shares, 10)
	case domain.ClaimRefund:
		for key, paid := range c.Paid {
			cur, err := domain.ParseCurrency(key)
			if err != nil {
				return err
			}
			if err := l.vault.fromEscrow(buyer, cur, paid); err != nil {
				return err
			}
		}
		amountFields(fields, "refund:", c.Paid)
	default:
		return domain.NewError(op, domain.ErrNothingToClaim, "status", c.Status)
	}

	save(l.tx, c)
	c.Shares = 0
	c.Paid = nil

	l.tx.emit(domain.Event{
		Kind:       domain.EventClaimSettled,
		EntityType: domain.EntityProperty,
		EntityID:   propertyID,
		Actor:      buyer,
		Fields:     fields,
	})
	return nil
}

func (l *primaryLedger) pending(buyer common.Address, propertyID uint64) domain.PendingClaim {
	c, ok := l.claims[claimKey{buyer, propertyID}]
	if !ok {
		return domain.PendingClaim{Buyer: buyer, PropertyID: propertyID, Status: domain.ClaimNone, Paid: map[string]*big.Int{}}
	}
	out := *c
	out.Paid = copyAmounts(c.Paid)
	return out
}
