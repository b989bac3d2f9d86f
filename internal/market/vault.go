package market

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/estatemarket/internal/domain"
)

// Payout moves value out of the engine to an external account. It is called
// only after the withdrawing balance has been debited.
type Payout interface {
	Pay(ctx context.Context, to common.Address, cur domain.Currency, amount *big.Int) error
}

// vault holds withdrawable balances per account and the engine escrow per currency.
type vault struct {
	tx       *txn
	balances map[common.Address]map[string]*big.Int
	escrow   map[string]*big.Int
}

func newVault(tx *txn) *vault {
	return &vault{
		tx:       tx,
		balances: make(map[common.Address]map[string]*big.Int),
		escrow:   make(map[string]*big.Int),
	}
}

func (v *vault) balance(owner common.Address, cur domain.Currency) *big.Int {
	return orZero(v.balances[owner][cur.Key()])
}

func (v *vault) setBalance(owner common.Address, key string, amt *big.Int) {
	m, ok := v.balances[owner]
	if !ok {
		saveKey(v.tx, v.balances, owner)
		m = make(map[string]*big.Int)
		v.balances[owner] = m
	}
	saveKey(v.tx, m, key)
	if amt.Sign() == 0 {
		delete(m, key)
		return
	}
	m[key] = amt
}

func (v *vault) credit(owner common.Address, cur domain.Currency, amt *big.Int) {
	if !positive(amt) {
		return
	}
	v.setBalance(owner, cur.Key(), add(v.balance(owner, cur), amt))
}

func (v *vault) debit(op string, owner common.Address, cur domain.Currency, amt *big.Int) error {
	bal := v.balance(owner, cur)
	if bal.Cmp(amt) < 0 {
		return domain.NewError(op, domain.ErrInsufficientBalance, "balance:"+cur.Key(), bal.String())
	}
	v.setBalance(owner, cur.Key(), sub(bal, amt))
	return nil
}

// toEscrow debits owner and holds the amount in engine escrow.
func (v *vault) toEscrow(op string, owner common.Address, cur domain.Currency, amt *big.Int) error {
	if err := v.debit(op, owner, cur, amt); err != nil {
		return err
	}
	key := cur.Key()
	saveKey(v.tx, v.escrow, key)
	v.escrow[key] = add(v.escrow[key], amt)
	return nil
}

// fromEscrow releases escrowed funds to owner's withdrawable balance.
func (v *vault) fromEscrow(owner common.Address, cur domain.Currency, amt *big.Int) error {
	if !positive(amt) {
		return nil
	}
	key := cur.Key()
	held := orZero(v.escrow[key])
	if held.Cmp(amt) < 0 {
		return fmt.Errorf("market: escrow underflow for %s: held %s, releasing %s", key, held, amt)
	}
	saveKey(v.tx, v.escrow, key)
	v.escrow[key] = sub(held, amt)
	v.credit(owner, cur, amt)
	return nil
}

func (v *vault) escrowed(cur domain.Currency) *big.Int {
	return orZero(v.escrow[cur.Key()])
}

// withdraw debits first, then pays out.
func (v *vault) withdraw(ctx context.Context, payout Payout, owner common.Address, cur domain.Currency, amt *big.Int) error {
	const op = "withdraw"
	if !positive(amt) {
		return domain.NewError(op, domain.ErrInvalidParameters, "amount", amt)
	}
	if err := v.debit(op, owner, cur, amt); err != nil {
		return err
	}
	if err := payout.Pay(ctx, owner, cur, amt); err != nil {
		return domain.NewError(op, fmt.Errorf("%w: %v", domain.ErrPayoutFailed, err), "to", owner.Hex())
	}
	return nil
}
