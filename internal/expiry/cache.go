// Package expiry caches broker expiry lists so the fetcher does not hit
// the REST API on every cycle.
package expiry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"optionflow/logger"
	"optionflow/models"
)

// Source fetches the raw expiry list for an underlying from the broker.
type Source interface {
	Expiries(ctx context.Context, symbol, exchange string) ([]string, error)
}

type entry struct {
	expiries  []string
	fetchedAt time.Time
}

// Cache memoizes expiry lists per (symbol, exchange) with a TTL.
// Concurrent misses for the same key are coalesced into one upstream
// call. When a refresh fails, a stale entry younger than twice the TTL
// is served instead; past that the failure surfaces as
// models.ErrExpiryUnavailable.
type Cache struct {
	source Source
	ttl    time.Duration

	mu      sync.RWMutex
	entries map[string]entry

	group singleflight.Group
	log   *logger.Log
	now   func() time.Time
}

func NewCache(source Source, ttl time.Duration) *Cache {
	return &Cache{
		source:  source,
		ttl:     ttl,
		entries: make(map[string]entry),
		log:     logger.GetLogger(),
		now:     time.Now,
	}
}

// SetNow overrides the time source. Test hook.
func (c *Cache) SetNow(now func() time.Time) {
	c.now = now
}

// Get returns the expiry list for a symbol, refreshing from the source
// when the cached value is missing or older than the TTL.
func (c *Cache) Get(ctx context.Context, symbol, exchange string) ([]string, error) {
	key := symbol + "|" + exchange

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && c.now().Sub(e.fetchedAt) < c.ttl {
		return e.expiries, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// Another caller may have refreshed while we queued.
		c.mu.RLock()
		e, ok := c.entries[key]
		c.mu.RUnlock()
		if ok && c.now().Sub(e.fetchedAt) < c.ttl {
			return e.expiries, nil
		}

		expiries, err := c.source.Expiries(ctx, symbol, exchange)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = entry{expiries: expiries, fetchedAt: c.now()}
		c.mu.Unlock()
		return expiries, nil
	})
	if err == nil {
		return v.([]string), nil
	}

	// Refresh failed. Fall back to a stale entry if it is not too old.
	c.mu.RLock()
	e, ok = c.entries[key]
	c.mu.RUnlock()
	if ok && c.now().Sub(e.fetchedAt) < 2*c.ttl {
		c.log.WithComponent("expiry_cache").WithError(err).WithFields(logger.Fields{
			"symbol": symbol,
			"age":    c.now().Sub(e.fetchedAt).String(),
		}).Warn("serving stale expiry list after refresh failure")
		return e.expiries, nil
	}

	return nil, fmt.Errorf("%w for %s: %v", models.ErrExpiryUnavailable, symbol, err)
}

// Invalidate drops the cached entry for a symbol.
func (c *Cache) Invalidate(symbol, exchange string) {
	c.mu.Lock()
	delete(c.entries, symbol+"|"+exchange)
	c.mu.Unlock()
}
