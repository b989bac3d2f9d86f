package oracle

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"time"

	"github.com/alanyoungcy/estatemarket/internal/domain"
)

// Source is a quoter with a stable identity for cache keys.
type Source interface {
	QuoteNative(ctx context.Context, stableAmount *big.Int) (*big.Int, error)
	ID() string
}

// CachedQuoter memoizes quotes from src in a domain.QuoteCache. Cache
// failures fall through to src.
type CachedQuoter struct {
	src    Source
	cache  domain.QuoteCache
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedQuoter wraps src with cache.
func NewCachedQuoter(src Source, cache domain.QuoteCache, ttl time.Duration, logger *slog.Logger) *CachedQuoter {
	return &CachedQuoter{src: src, cache: cache, ttl: ttl, logger: logger}
}

// QuoteNative implements market.Quoter.
func (c *CachedQuoter) QuoteNative(ctx context.Context, stableAmount *big.Int) (*big.Int, error) {
	key := c.src.ID() + ":" + stableAmount.String()

	v, err := c.cache.GetQuote(ctx, key)
	switch {
	case err == nil:
		return v, nil
	case !errors.Is(err, domain.ErrNotFound):
		c.logger.Warn("oracle: quote cache read failed", slog.String("key", key), slog.String("error", err.Error()))
	}

	v, err = c.src.QuoteNative(ctx, stableAmount)
	if err != nil {
		return nil, err
	}
	if err := c.cache.SetQuote(ctx, key, v, c.ttl); err != nil {
		c.logger.Warn("oracle: quote cache write failed", slog.String("key", key), slog.String("error", err.Error()))
	}
	return v, nil
}
