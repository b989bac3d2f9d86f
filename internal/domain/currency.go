package domain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// CurrencyKind distinguishes the chain's native coin from an ERC-20 stable token.
type CurrencyKind string

const (
	CurrencyNative CurrencyKind = "native"
	CurrencyStable CurrencyKind = "stable"
)

// Currency is a tagged variant: Native, or Stable(token). Token is zero for Native.
type Currency struct {
	Kind  CurrencyKind   `json:"kind"`
	Token common.Address `json:"token,omitempty"`
}

// Native returns the native-coin currency.
func Native() Currency { return Currency{Kind: CurrencyNative} }

// Stable returns the stable-token currency for token.
func Stable(token common.Address) Currency {
	return Currency{Kind: CurrencyStable, Token: token}
}

func (c Currency) IsNative() bool { return c.Kind == CurrencyNative }

// Key is a stable map key for per-currency balances.
func (c Currency) Key() string {
	if c.IsNative() {
		return string(CurrencyNative)
	}
	return string(CurrencyStable) + ":" + strings.ToLower(c.Token.Hex())
}

func (c Currency) String() string { return c.Key() }

// Valid reports whether c is a well-formed variant.
func (c Currency) Valid() bool {
	switch c.Kind {
	case CurrencyNative:
		return c.Token == (common.Address{})
	case CurrencyStable:
		return c.Token != (common.Address{})
	}
	return false
}

// ParseCurrency parses "native" or "stable:0x..." (the Key format).
func ParseCurrency(s string) (Currency, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == string(CurrencyNative) {
		return Native(), nil
	}
	token, ok := strings.CutPrefix(s, string(CurrencyStable)+":")
	if !ok || !common.IsHexAddress(token) {
		return Currency{}, fmt.Errorf("%w: currency %q", ErrInvalidParameters, s)
	}
	return Stable(common.HexToAddress(token)), nil
}
