package notify

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/estatemarket/internal/domain"
)

// amountKeys are event fields holding base-unit amounts.
var amountKeys = map[string]bool{
	"amount":          true,
	"base_price":      true,
	"commission":      true,
	"gross":           true,
	"net":             true,
	"platform_fee":    true,
	"price_per_share": true,
	"paid":            true,
	"refund":          true,
}

// Formatter renders events as short chat messages. Amounts are scaled to
// whole units using the currency's decimals.
type Formatter struct {
	NativeDecimals int32
	StableDecimals int32
	NativeSymbol   string
	StableSymbol   string
}

// Render returns a title and a sorted key/value body for ev.
func (f Formatter) Render(ev domain.Event) (string, string) {
	title := fmt.Sprintf("%s #%d", strings.ReplaceAll(string(ev.Kind), "_", " "), ev.EntityID)

	cur, _ := domain.ParseCurrency(ev.Fields["currency"])

	keys := make([]string, 0, len(ev.Fields))
	for k := range ev.Fields {
		if k != "currency" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "seq %d by %s", ev.Seq, ev.Actor.Hex())
	for _, k := range keys {
		v := ev.Fields[k]
		if c, ok := amountCurrency(k, cur); ok {
			v = f.Amount(v, c)
		}
		fmt.Fprintf(&b, "\n%s: %s", k, v)
	}
	return title, b.String()
}

// Amount formats a base-unit decimal string in cur's whole units, e.g.
// "1500000" stable -> "1.5 USDC". Unparseable input is returned unchanged.
func (f Formatter) Amount(raw string, cur domain.Currency) string {
	n, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return raw
	}
	exp, sym := f.StableDecimals, f.StableSymbol
	if cur.IsNative() {
		exp, sym = f.NativeDecimals, f.NativeSymbol
	}
	s := decimal.NewFromBigInt(n, -exp).String()
	if sym != "" {
		s += " " + sym
	}
	return s
}

// amountCurrency reports whether key holds an amount and in which currency.
// Per-currency maps are flattened as "raised:native" or "refund:stable:0x..".
func amountCurrency(key string, cur domain.Currency) (domain.Currency, bool) {
	if amountKeys[key] {
		return cur, true
	}
	if _, suffix, ok := strings.Cut(key, ":"); ok {
		if c, err := domain.ParseCurrency(suffix); err == nil {
			return c, true
		}
	}
	return domain.Currency{}, false
}
