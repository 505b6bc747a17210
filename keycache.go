package jwtx

import (
	"context"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"golang.org/x/sync/singleflight"
)

// missRefreshDivisor sets how soon after a fetch an unknown kid may force another one:
// at most once per minRefresh/missRefreshDivisor.
const missRefreshDivisor = 10

// CachingKeySource keeps the last fetched key set until the endpoint's max-age elapses.
// Concurrent refreshes share one request.
type CachingKeySource struct {
	src        *HTTPKeySource
	minRefresh time.Duration
	now        func() time.Time

	group   singleflight.Group
	mu      sync.RWMutex
	set       jwk.Set
	expires   time.Time
	fetchedAt time.Time
}

// NewCachingKeySource wraps src with a cache whose lifetime never drops below minRefresh.
func NewCachingKeySource(src *HTTPKeySource, minRefresh time.Duration) *CachingKeySource {
	if minRefresh <= 0 {
		minRefresh = defaultMinRefresh
	}
	return &CachingKeySource{src: src, minRefresh: minRefresh, now: time.Now}
}

// Keys implements KeySource.
func (c *CachingKeySource) Keys(ctx context.Context) (jwk.Set, error) {
	c.mu.RLock()
	set, expires := c.set, c.expires
	c.mu.RUnlock()
	if set != nil && c.now().Before(expires) {
		return set, nil
	}

	v, err, _ := c.group.Do("keys", func() (any, error) {
		fresh, ttl, err := c.src.fetch(ctx)
		if err != nil {
			return nil, err
		}
		if ttl < c.minRefresh {
			ttl = c.minRefresh
		}
		c.mu.Lock()
		now := c.now()
		c.set = fresh
		c.expires = now.Add(ttl)
		c.fetchedAt = now
		c.mu.Unlock()
		return fresh, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(jwk.Set), nil
}

// Invalidate drops the cached key set so the next call fetches again. It is a no-op
// within minRefresh/missRefreshDivisor of the last fetch, so a stream of tokens with
// unknown kids cannot turn every verification into a fetch.
func (c *CachingKeySource) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.set != nil && c.now().Sub(c.fetchedAt) < c.minRefresh/missRefreshDivisor {
		return
	}
	c.set = nil
	c.expires = time.Time{}
}
