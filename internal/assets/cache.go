package assets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const termsVersionKey = "assets:product_terms:version"

// TermsCache caches product warranty terms in Redis. Keys embed a global
// version so a single Invalidate drops every cached product at once.
type TermsCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewTermsCache instantiates the cache. A nil client disables caching.
func NewTermsCache(client *redis.Client, ttl time.Duration) *TermsCache {
	return &TermsCache{client: client, ttl: ttl}
}

// Version returns the current cache version, initialising when missing.
func (c *TermsCache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, termsVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, termsVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, termsVersionKey).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

func (c *TermsCache) key(ctx context.Context, productID int64) (string, error) {
	ver, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("assets:product_terms:%d:%d", productID, ver), nil
}

// Product returns the cached product or populates it with load. Concurrent
// misses for the same product share one load.
func (c *TermsCache) Product(ctx context.Context, productID int64, load func(context.Context) (*Product, error)) (*Product, error) {
	if load == nil {
		return nil, errors.New("assets: terms loader required")
	}
	if c == nil || c.client == nil {
		return load(ctx)
	}
	key, err := c.key(ctx, productID)
	if err != nil {
		return nil, err
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var p Product
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return &p, nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, err
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		p, err := load(ctx)
		if err != nil {
			return nil, err
		}
		payload, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
			return nil, err
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	p := *v.(*Product)
	return &p, nil
}

// Invalidate bumps the version. Every process reads the version from the same
// Redis, so the bump is visible to all of them on their next lookup.
func (c *TermsCache) Invalidate(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, termsVersionKey).Err()
}
