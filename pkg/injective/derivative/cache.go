package derivative

import (
	"context"
	"time"

	"github.com/phenomenon0/injective-agents/pkg/cache"
)

const marketsKey = "\x00markets"

// CachedMarkets serves market metadata from a TTL cache in front of a
// MarketSource. Orderbooks are never cached.
type CachedMarkets struct {
	src   MarketSource
	cache *cache.Cache[string, []Market]
}

// WithMarketCache wraps src in a cache when ttl is positive and returns
// src unchanged otherwise.
func WithMarketCache(src MarketSource, ttl time.Duration, opts ...cache.Option) MarketSource {
	if ttl <= 0 {
		return src
	}
	return &CachedMarkets{
		src:   src,
		cache: cache.New[string, []Market](ttl, opts...),
	}
}

// FetchMarket implements MarketSource.
func (c *CachedMarkets) FetchMarket(ctx context.Context, marketID string) (*Market, error) {
	if ms, ok := c.cache.Get(marketID); ok && len(ms) == 1 {
		m := ms[0]
		return &m, nil
	}

	m, err := c.src.FetchMarket(ctx, marketID)
	if err != nil || m == nil {
		return m, err
	}
	c.cache.Set(marketID, []Market{*m}, 0)
	return m, nil
}

// FetchMarkets implements MarketSource.
func (c *CachedMarkets) FetchMarkets(ctx context.Context) ([]Market, error) {
	if ms, ok := c.cache.Get(marketsKey); ok {
		return append([]Market(nil), ms...), nil
	}

	ms, err := c.src.FetchMarkets(ctx)
	if err != nil {
		return nil, err
	}
	c.cache.Set(marketsKey, ms, 0)
	for _, m := range ms {
		c.cache.Set(m.MarketID, []Market{m}, 0)
	}
	return append([]Market(nil), ms...), nil
}

// Invalidate drops every cached entry.
func (c *CachedMarkets) Invalidate() {
	c.cache.Clear()
}
