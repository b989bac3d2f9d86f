package app

import (
	"context"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/estatemarket/internal/config"
)

func TestEngineConfig(t *testing.T) {
	cfg := config.Defaults().Market
	cfg.Owner = "0x00000000000000000000000000000000000000a1"
	cfg.StableToken = "0x00000000000000000000000000000000000000e1"
	cfg.Administrators = []string{"0x00000000000000000000000000000000000000b1"}

	mc := engineConfig(cfg)
	assert.Equal(t, common.HexToAddress(cfg.Owner), mc.Owner)
	assert.Equal(t, common.Address{}, mc.FeeRecipient, "empty recipient defaults to the owner inside the engine")
	assert.Equal(t, []common.Address{common.HexToAddress(cfg.Administrators[0])}, mc.Administrators)
	assert.EqualValues(t, cfg.PlatformFeeBips, mc.PlatformFeeBips)
	assert.EqualValues(t, cfg.MinListingPriceBips, mc.MinListingPriceBips)
}

func TestNewQuoteSourceStatic(t *testing.T) {
	var closers []func()
	src, err := newQuoteSource(context.Background(), config.Defaults().Oracle, &closers)
	require.NoError(t, err)
	assert.Empty(t, closers)

	q, err := src.QuoteNative(context.Background(), big.NewInt(1_000_000))
	require.NoError(t, err)
	assert.Positive(t, q.Sign())
}

func TestNewQuoteSourceRejectsBadRate(t *testing.T) {
	cfg := config.Defaults().Oracle
	cfg.StaticRate = "abc"
	var closers []func()
	_, err := newQuoteSource(context.Background(), cfg, &closers)
	assert.Error(t, err)
}

func TestRunRejectsUnknownMode(t *testing.T) {
	a := New(&config.Config{Mode: "replay"}, slog.New(slog.DiscardHandler))
	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported mode "replay"`)
	assert.Empty(t, a.closers, "nothing is wired for an unknown mode")
}
