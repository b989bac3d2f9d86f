package market

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/estatemarket/internal/domain"
)

type referralKey struct {
	agent      common.Address
	propertyID uint64
}

// feeModule holds the owner-controlled configuration and the per-agent
// referral records.
type feeModule struct {
	tx        *txn
	s         domain.FeeSettings
	referrals map[referralKey]*domain.ReferralRecord
}

var _ Authorizer = (*feeModule)(nil)

func newFeeModule(tx *txn, s domain.FeeSettings) *feeModule {
	if s.ExclusiveBips == nil {
		s.ExclusiveBips = make(map[common.Address]uint32)
	}
	if s.Whitelist == nil {
		s.Whitelist = make(map[common.Address]bool)
	}
	if s.Blacklist == nil {
		s.Blacklist = make(map[common.Address]bool)
	}
	if s.Administrators == nil {
		s.Administrators = make(map[common.Address]bool)
	}
	return &feeModule{
		tx:        tx,
		s:         s,
		referrals: make(map[referralKey]*domain.ReferralRecord),
	}
}

func (f *feeModule) isAdministrator(addr common.Address) bool {
	return addr == f.s.Owner || f.s.Administrators[addr]
}

func (f *feeModule) isBlacklisted(addr common.Address) bool { return f.s.Blacklist[addr] }

func (f *feeModule) isWhitelisted(agent common.Address) bool {
	return agent != (common.Address{}) && f.s.Whitelist[agent]
}

// computeFees splits gross into seller net, platform fee and commission. The
// commission applies only for a whitelisted agent and never pushes the total
// deduction past gross.
func (f *feeModule) computeFees(gross *big.Int, _ uint64, agent common.Address) domain.Fees {
	fee := mulBips(gross, f.s.PlatformFeeBips)
	commission := new(big.Int)
	if f.isWhitelisted(agent) {
		bips := f.s.DefaultReferralBips
		if ex, ok := f.s.ExclusiveBips[agent]; ok {
			bips = ex
		}
		commission = mulBips(gross, bips)
		if room := sub(gross, fee); commission.Cmp(room) > 0 {
			commission = room
		}
	}
	return domain.Fees{
		Gross:       new(big.Int).Set(gross),
		NetToSeller: sub(sub(gross, fee), commission),
		PlatformFee: fee,
		Commission:  commission,
	}
}

func (f *feeModule) requireOwner(op string, caller common.Address) error {
	if caller != f.s.Owner {
		return domain.NewError(op, domain.ErrUnauthorized, "caller", caller.Hex())
	}
	return nil
}

func validBips(op string, field string, bips uint32) error {
	if bips >= domain.BipsDenominator {
		return domain.NewError(op, domain.ErrInvalidBips, field, bips)
	}
	return nil
}

// setBips is the shared body of the bips setters.
func (f *feeModule) setBips(op, field string, caller common.Address, dst *uint32, bips uint32) error {
	if err := f.requireOwner(op, caller); err != nil {
		return err
	}
	if err := validBips(op, field, bips); err != nil {
		return err
	}
	save(f.tx, dst)
	*dst = bips
	return nil
}

func (f *feeModule) setPlatformFee(caller common.Address, bips uint32) error {
	return f.setBips("setPlatformFee", "platform_fee_bips", caller, &f.s.PlatformFeeBips, bips)
}

func (f *feeModule) setDefaultReferralBips(caller common.Address, bips uint32) error {
	return f.setBips("setDefaultReferralBips", "default_referral_bips", caller, &f.s.DefaultReferralBips, bips)
}

func (f *feeModule) setMinBidIncrementBips(caller common.Address, bips uint32) error {
	return f.setBips("setMinBidIncrementBips", "min_bid_increment_bips", caller, &f.s.MinBidIncrementBips, bips)
}

func (f *feeModule) setMinListingPriceBips(caller common.Address, bips uint32) error {
	return f.setBips("setMinListingPriceBips", "min_listing_price_bips", caller, &f.s.MinListingPriceBips, bips)
}

func (f *feeModule) setExclusiveReferralBips(caller, agent common.Address, bips uint32) error {
	const op = "setExclusiveReferralBips"
	if err := f.requireOwner(op, caller); err != nil {
		return err
	}
	if err := validBips(op, "exclusive_bips", bips); err != nil {
		return err
	}
	saveKey(f.tx, f.s.ExclusiveBips, agent)
	f.s.ExclusiveBips[agent] = bips
	return nil
}

// setFlag flips membership of addr in one of the address sets.
func (f *feeModule) setFlag(op string, caller common.Address, set map[common.Address]bool, addr common.Address, on bool) error {
	if err := f.requireOwner(op, caller); err != nil {
		return err
	}
	if addr == (common.Address{}) {
		return domain.NewError(op, domain.ErrInvalidParameters, "address", addr.Hex())
	}
	saveKey(f.tx, set, addr)
	if on {
		set[addr] = true
	} else {
		delete(set, addr)
	}
	return nil
}

func (f *feeModule) updateAgentWhitelistStatus(caller, agent common.Address, on bool) error {
	return f.setFlag("updateAgentWhitelistStatus", caller, f.s.Whitelist, agent, on)
}

func (f *feeModule) updateBlacklist(caller, addr common.Address, on bool) error {
	return f.setFlag("updateBlacklist", caller, f.s.Blacklist, addr, on)
}

func (f *feeModule) setAdministrator(caller, addr common.Address, on bool) error {
	return f.setFlag("setAdministrator", caller, f.s.Administrators, addr, on)
}

func (f *feeModule) setFeeRecipient(caller, recipient common.Address) error {
	const op = "setFeeRecipient"
	if err := f.requireOwner(op, caller); err != nil {
		return err
	}
	if recipient == (common.Address{}) {
		return domain.NewError(op, domain.ErrInvalidParameters, "fee_recipient", recipient.Hex())
	}
	save(f.tx, &f.s.FeeRecipient)
	f.s.FeeRecipient = recipient
	return nil
}

// accrue adds commission to the (agent, property) record.
func (f *feeModule) accrue(agent common.Address, propertyID uint64, cur domain.Currency, amt *big.Int) {
	k := referralKey{agent, propertyID}
	rec, ok := f.referrals[k]
	if !ok {
		saveKey(f.tx, f.referrals, k)
		rec = &domain.ReferralRecord{Agent: agent, PropertyID: propertyID}
		f.referrals[k] = rec
	}
	save(f.tx, rec)
	rec.Accrued = withAdded(rec.Accrued, cur.Key(), amt)
}

// take zeroes the record and returns what it held.
func (f *feeModule) take(op string, agent common.Address, propertyID uint64) (map[string]*big.Int, error) {
	rec, ok := f.referrals[referralKey{agent, propertyID}]
	if !ok || !anyPositive(rec.Accrued) {
		return nil, domain.NewError(op, domain.ErrNothingToClaim, "agent", agent.Hex())
	}
	out := rec.Accrued
	save(f.tx, rec)
	rec.Accrued = nil
	rec.Claims++
	return out, nil
}

// voidProperty drops every unclaimed commission on a property whose sale refunded.
func (f *feeModule) voidProperty(propertyID uint64) {
	for k, rec := range f.referrals {
		if k.propertyID != propertyID || !anyPositive(rec.Accrued) {
			continue
		}
		save(f.tx, rec)
		rec.Accrued = nil
	}
}

func (f *feeModule) record(agent common.Address, propertyID uint64) domain.ReferralRecord {
	if rec, ok := f.referrals[referralKey{agent, propertyID}]; ok {
		out := *rec
		out.Accrued = copyAmounts(rec.Accrued)
		return out
	}
	return domain.ReferralRecord{Agent: agent, PropertyID: propertyID, Accrued: map[string]*big.Int{}}
}

func (f *feeModule) settings() domain.FeeSettings {
	out := f.s
	out.ExclusiveBips = make(map[common.Address]uint32, len(f.s.ExclusiveBips))
	for k, v := range f.s.ExclusiveBips {
		out.ExclusiveBips[k] = v
	}
	out.Whitelist = copySet(f.s.Whitelist)
	out.Blacklist = copySet(f.s.Blacklist)
	out.Administrators = copySet(f.s.Administrators)
	return out
}

func copySet(m map[common.Address]bool) map[common.Address]bool {
	out := make(map[common.Address]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func anyPositive(m map[string]*big.Int) bool {
	for _, v := range m {
		if positive(v) {
			return true
		}
	}
	return false
}
