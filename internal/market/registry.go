package market

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/estatemarket/internal/domain"
)

// ShareLedger is the capability the sale components hold on the registry.
// Owner-count bookkeeping happens inside every movement.
type ShareLedger interface {
	property(id uint64) (*domain.Property, error)
	balanceOf(id uint64, owner common.Address) uint64
	available(id uint64, owner common.Address) uint64
	transfer(op string, from, to common.Address, id, amount uint64) error
	lock(op string, owner common.Address, id, amount uint64) error
	unlock(owner common.Address, id, amount uint64)
	transferLocked(op string, from, to common.Address, id, amount uint64) error
	releaseCustody(op string, id uint64, to common.Address, amount uint64) error
}

// Authorizer answers role questions for administrator-gated operations.
type Authorizer interface {
	isAdministrator(addr common.Address) bool
}

type holding struct {
	shares uint64
	locked uint64
}

// registry owns the share-balance truth for every property.
type registry struct {
	tx       *txn
	auth     Authorizer
	props    map[uint64]*domain.Property
	holdings map[uint64]map[common.Address]holding
	nextID   uint64
}

var _ ShareLedger = (*registry)(nil)

func newRegistry(tx *txn, auth Authorizer) *registry {
	return &registry{
		tx:       tx,
		auth:     auth,
		props:    make(map[uint64]*domain.Property),
		holdings: make(map[uint64]map[common.Address]holding),
		nextID:   1,
	}
}

func (r *registry) register(caller, owner common.Address, price *big.Int, totalShares uint64, uri string, aprBips uint32) (*domain.Property, error) {
	const op = "registerProperty"
	if !r.auth.isAdministrator(caller) {
		return nil, domain.NewError(op, domain.ErrUnauthorized, "caller", caller.Hex())
	}
	if totalShares == 0 {
		return nil, domain.NewError(op, domain.ErrInvalidParameters, "total_shares", totalShares)
	}
	if !positive(price) {
		return nil, domain.NewError(op, domain.ErrInvalidParameters, "price_per_share", price)
	}
	if owner == (common.Address{}) {
		return nil, domain.NewError(op, domain.ErrInvalidParameters, "owner", owner.Hex())
	}

	save(r.tx, &r.nextID)
	id := r.nextID
	r.nextID++

	p := &domain.Property{
		ID:              id,
		Owner:           owner,
		PricePerShare:   new(big.Int).Set(price),
		TotalShares:     totalShares,
		SharesInCustody: totalShares,
		AprBips:         aprBips,
		URI:             uri,
		CreatedAt:       r.tx.now,
	}
	saveKey(r.tx, r.props, id)
	r.props[id] = p
	saveKey(r.tx, r.holdings, id)
	r.holdings[id] = make(map[common.Address]holding)
	return p, nil
}

func (r *registry) property(id uint64) (*domain.Property, error) {
	p, ok := r.props[id]
	if !ok {
		return nil, domain.NewError("property", domain.ErrNotFound, "property_id", id)
	}
	return p, nil
}

func (r *registry) balanceOf(id uint64, owner common.Address) uint64 {
	return r.holdings[id][owner].shares
}

func (r *registry) available(id uint64, owner common.Address) uint64 {
	h := r.holdings[id][owner]
	return h.shares - h.locked
}

// setHolding writes h and applies the distinct-owner delta of the transition.
func (r *registry) setHolding(id uint64, owner common.Address, h holding) {
	m := r.holdings[id]
	before := m[owner].shares
	saveKey(r.tx, m, owner)
	if h.shares == 0 && h.locked == 0 {
		delete(m, owner)
	} else {
		m[owner] = h
	}

	var delta int
	switch {
	case before == 0 && h.shares > 0:
		delta = 1
	case before > 0 && h.shares == 0:
		delta = -1
	}
	if delta != 0 {
		r.recordOwnerCountDelta(id, delta)
	}
}

func (r *registry) recordOwnerCountDelta(id uint64, delta int) {
	p := r.props[id]
	save(r.tx, p)
	if delta > 0 {
		p.DistinctOwners++
	} else {
		p.DistinctOwners--
	}
}

func (r *registry) transfer(op string, from, to common.Address, id, amount uint64) error {
	if _, err := r.property(id); err != nil {
		return err
	}
	if amount == 0 {
		return domain.NewError(op, domain.ErrInvalidParameters, "amount", amount)
	}
	if to == (common.Address{}) {
		return domain.NewError(op, domain.ErrInvalidParameters, "to", to.Hex())
	}
	if avail := r.available(id, from); avail < amount {
		return domain.NewError(op, domain.ErrInsufficientBalance, "shares", avail)
	}
	r.move(id, from, to, amount, false)
	return nil
}

func (r *registry) move(id uint64, from, to common.Address, amount uint64, fromLocked bool) {
	if from == to {
		if fromLocked {
			h := r.holdings[id][from]
			h.locked -= amount
			r.setHolding(id, from, h)
		}
		return
	}
	src := r.holdings[id][from]
	src.shares -= amount
	if fromLocked {
		src.locked -= amount
	}
	r.setHolding(id, from, src)

	dst := r.holdings[id][to]
	dst.shares += amount
	r.setHolding(id, to, dst)
}

func (r *registry) lock(op string, owner common.Address, id, amount uint64) error {
	if avail := r.available(id, owner); avail < amount {
		return domain.NewError(op, domain.ErrInsufficientBalance, "shares", avail)
	}
	h := r.holdings[id][owner]
	h.locked += amount
	r.setHolding(id, owner, h)
	return nil
}

func (r *registry) unlock(owner common.Address, id, amount uint64) {
	h := r.holdings[id][owner]
	if amount > h.locked {
		amount = h.locked
	}
	h.locked -= amount
	r.setHolding(id, owner, h)
}

func (r *registry) transferLocked(op string, from, to common.Address, id, amount uint64) error {
	if h := r.holdings[id][from]; h.locked < amount {
		return domain.NewError(op, domain.ErrInsufficientBalance, "locked_shares", h.locked)
	}
	r.move(id, from, to, amount, true)
	return nil
}

func (r *registry) releaseCustody(op string, id uint64, to common.Address, amount uint64) error {
	p, err := r.property(id)
	if err != nil {
		return err
	}
	if p.SharesInCustody < amount {
		return domain.NewError(op, domain.ErrInsufficientBalance, "shares_in_custody", p.SharesInCustody)
	}
	save(r.tx, p)
	p.SharesInCustody -= amount
	h := r.holdings[id][to]
	h.shares += amount
	r.setHolding(id, to, h)
	return nil
}

func (r *registry) updatePrice(caller common.Address, id uint64, price *big.Int) (*domain.Property, error) {
	const op = "updatePrice"
	p, err := r.adminProperty(op, caller, id)
	if err != nil {
		return nil, err
	}
	if !positive(price) {
		return nil, domain.NewError(op, domain.ErrInvalidParameters, "price_per_share", price)
	}
	save(r.tx, p)
	p.PricePerShare = new(big.Int).Set(price)
	return p, nil
}

func (r *registry) updateApr(caller common.Address, id uint64, aprBips uint32) (*domain.Property, error) {
	p, err := r.adminProperty("updateApr", caller, id)
	if err != nil {
		return nil, err
	}
	save(r.tx, p)
	p.AprBips = aprBips
	return p, nil
}

func (r *registry) updateURI(caller common.Address, id uint64, uri string) (*domain.Property, error) {
	p, err := r.adminProperty("updateUri", caller, id)
	if err != nil {
		return nil, err
	}
	save(r.tx, p)
	p.URI = uri
	return p, nil
}

func (r *registry) setDelisted(caller common.Address, id uint64, delisted bool) (*domain.Property, error) {
	p, err := r.adminProperty("setDelisted", caller, id)
	if err != nil {
		return nil, err
	}
	save(r.tx, p)
	p.Delisted = delisted
	return p, nil
}

func (r *registry) adminProperty(op string, caller common.Address, id uint64) (*domain.Property, error) {
	if !r.auth.isAdministrator(caller) {
		return nil, domain.NewError(op, domain.ErrUnauthorized, "caller", caller.Hex())
	}
	return r.property(id)
}
