package market

import (
	"math/big"

	"github.com/alanyoungcy/estatemarket/internal/domain"
)

var bipsDenominator = big.NewInt(domain.BipsDenominator)

// mulBips returns amount * bips / 10000, rounded down.
func mulBips(amount *big.Int, bips uint32) *big.Int {
	out := new(big.Int).Mul(amount, big.NewInt(int64(bips)))
	return out.Quo(out, bipsDenominator)
}

// cost returns shares * pricePerShare.
func cost(shares uint64, pricePerShare *big.Int) *big.Int {
	return new(big.Int).Mul(new(big.Int).SetUint64(shares), pricePerShare)
}

func add(a, b *big.Int) *big.Int { return new(big.Int).Add(orZero(a), orZero(b)) }

func sub(a, b *big.Int) *big.Int { return new(big.Int).Sub(orZero(a), orZero(b)) }

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func positive(v *big.Int) bool { return v != nil && v.Sign() > 0 }

// withAdded returns a copy of m with amt added under key.
func withAdded(m map[string]*big.Int, key string, amt *big.Int) map[string]*big.Int {
	out := make(map[string]*big.Int, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out[key] = add(out[key], amt)
	return out
}

func copyAmounts(m map[string]*big.Int) map[string]*big.Int {
	out := make(map[string]*big.Int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// amountFields renders amounts for event payloads, prefixing each key.
func amountFields(fields map[string]string, prefix string, m map[string]*big.Int) {
	for k, v := range m {
		fields[prefix+k] = v.String()
	}
}
