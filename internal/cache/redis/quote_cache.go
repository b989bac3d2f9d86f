package redis

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/estatemarket/internal/domain"
)

// QuoteCache implements domain.QuoteCache with plain string keys holding the
// decimal amount, expiring after the caller's TTL.
type QuoteCache struct {
	c *Client
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{c: c}
}

// GetQuote returns the cached amount for key or domain.ErrNotFound.
func (qc *QuoteCache) GetQuote(ctx context.Context, key string) (*big.Int, error) {
	s, err := qc.c.rdb.Get(ctx, qc.c.key("quote", key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get quote %s: %w", key, err)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("redis: parse quote %s: %q", key, s)
	}
	return v, nil
}

// SetQuote stores amount under key for ttl.
func (qc *QuoteCache) SetQuote(ctx context.Context, key string, amount *big.Int, ttl time.Duration) error {
	if err := qc.c.rdb.Set(ctx, qc.c.key("quote", key), amount.String(), ttl).Err(); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", key, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
