package embeddings

import (
	"context"

	"github.com/dgraph-io/ristretto"
)

// CachedProvider wraps a Provider with a ristretto cache so repeated
// queries skip the model call. Keys are the raw text; message content
// is immutable, so entries never go stale.
type CachedProvider struct {
	inner Provider
	cache *ristretto.Cache
}

// NewCached wraps p with a cache holding roughly maxItems vectors.
func NewCached(p Provider, maxItems int64) (*CachedProvider, error) {
	if maxItems <= 0 {
		maxItems = 4096
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxItems * 10,
		MaxCost:     maxItems,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &CachedProvider{inner: p, cache: c}, nil
}

// Embed returns the cached vector when present, otherwise delegates.
func (c *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		if vec, ok := v.([]float32); ok {
			return vec, nil
		}
	}
	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, vec, 1)
	return vec, nil
}

// HealthPing delegates to the wrapped provider when it supports
// health probing; the cache itself cannot be unhealthy.
func (c *CachedProvider) HealthPing(ctx context.Context) error {
	if p, ok := c.inner.(interface{ HealthPing(context.Context) error }); ok {
		return p.HealthPing(ctx)
	}
	return nil
}

// Close releases cache resources.
func (c *CachedProvider) Close() { c.cache.Close() }
