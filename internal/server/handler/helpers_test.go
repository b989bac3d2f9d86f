package handler

import (
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/estatemarket/internal/domain"
)

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.NewError("op", domain.ErrInvalidBips, "bips", 1), http.StatusBadRequest},
		{domain.NewError("op", domain.ErrUnauthorized, "", nil), http.StatusForbidden},
		{fmt.Errorf("verify: %w", domain.ErrBadSignature), http.StatusUnauthorized},
		{domain.NewError("op", domain.ErrNotFound, "id", 1), http.StatusNotFound},
		{domain.NewError("op", domain.ErrSaleStillOpen, "", nil), http.StatusConflict},
		{domain.NewError("op", domain.ErrBidTooLow, "", nil), http.StatusUnprocessableEntity},
		{domain.NewError("op", domain.ErrQuoteUnavailable, "", nil), http.StatusServiceUnavailable},
		{domain.NewError("op", domain.ErrLockLost, "", nil), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			assert.Equal(t, tc.want, statusOf(tc.err))
		})
	}
}

func TestParseAmount(t *testing.T) {
	v, err := parseAmount("amount", " 123456789012345678901234567890 ")
	require.NoError(t, err)
	want, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	assert.Equal(t, 0, v.Cmp(want))

	for _, bad := range []string{"", "-1", "1.5", "0x10"} {
		_, err := parseAmount("amount", bad)
		assert.Error(t, err, bad)
	}
}

func TestParseCurrency(t *testing.T) {
	usdt := common.HexToAddress("0x00000000000000000000000000000000000000e1")

	cur, err := parseCurrency("", usdt)
	require.NoError(t, err)
	assert.Equal(t, domain.Stable(usdt), cur)

	cur, err = parseCurrency("NATIVE", usdt)
	require.NoError(t, err)
	assert.True(t, cur.IsNative())

	_, err = parseCurrency("doge", usdt)
	require.ErrorIs(t, err, domain.ErrInvalidParameters)
}
