package tokens

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"realmauth/pkg/metrics"
)

var ErrKeysUnavailable = errors.New("signing keys unavailable")

// FetchFunc retrieves the key set published at url.
type FetchFunc func(ctx context.Context, url string) (jwk.Set, error)

// HTTPFetcher fetches key sets with hc.
func HTTPFetcher(hc *http.Client) FetchFunc {
	return func(ctx context.Context, url string) (jwk.Set, error) {
		return jwk.Fetch(ctx, url, jwk.WithHTTPClient(hc))
	}
}

type KeyCacheConfig struct {
	TTL          time.Duration
	FetchTimeout time.Duration
	RatePerMin   int

	// MaxIssuers bounds how many issuers are tracked at once.
	MaxIssuers int

	// DiscoverPerMin caps fetches, across all issuers, for issuers that have
	// never produced a key set.
	DiscoverPerMin int

	Fetch   FetchFunc
	Metrics *metrics.Metrics
	Log     *zap.SugaredLogger
	Now     func() time.Time
}

// KeyCache holds one key set per issuer. Reads share an RWMutex; fetches for
// the same issuer are collapsed with singleflight and capped per issuer, so
// one issuer's refresh never blocks another's. A set is served only within
// its TTL; past that a failed or throttled fetch rejects.
type KeyCache struct {
	mu       sync.RWMutex
	entries  map[string]*keyEntry
	group    singleflight.Group
	discover *rate.Limiter

	ttl        time.Duration
	timeout    time.Duration
	perMin     int
	maxIssuers int
	fetch      FetchFunc
	m          *metrics.Metrics
	log        *zap.SugaredLogger
	now        func() time.Time
}

type keyEntry struct {
	set     jwk.Set
	fetched time.Time
	used    atomic.Int64
	// attempts within the last minute, oldest first
	attempts []time.Time
}

func NewKeyCache(cfg KeyCacheConfig) *KeyCache {
	c := &KeyCache{
		entries:    map[string]*keyEntry{},
		ttl:        cfg.TTL,
		timeout:    cfg.FetchTimeout,
		perMin:     cfg.RatePerMin,
		maxIssuers: cfg.MaxIssuers,
		fetch:      cfg.Fetch,
		m:          cfg.Metrics,
		log:        cfg.Log,
		now:        cfg.Now,
	}
	if c.ttl <= 0 {
		c.ttl = 10 * time.Minute
	}
	if c.timeout <= 0 {
		c.timeout = 5 * time.Second
	}
	if c.perMin <= 0 {
		c.perMin = 5
	}
	if c.maxIssuers <= 0 {
		c.maxIssuers = 1024
	}
	discover := cfg.DiscoverPerMin
	if discover <= 0 {
		discover = 60
	}
	c.discover = rate.NewLimiter(rate.Every(time.Minute/time.Duration(discover)), discover)
	if c.fetch == nil {
		c.fetch = HTTPFetcher(&http.Client{Timeout: c.timeout})
	}
	if c.log == nil {
		c.log = zap.NewNop().Sugar()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Keys returns the cached set for issuer, fetching it when absent or expired.
func (c *KeyCache) Keys(ctx context.Context, issuer string) (jwk.Set, error) {
	now := c.now()
	c.mu.RLock()
	e, ok := c.entries[issuer]
	if ok && e.set != nil && now.Sub(e.fetched) < c.ttl {
		set := e.set
		e.used.Store(now.UnixNano())
		c.mu.RUnlock()
		return set, nil
	}
	c.mu.RUnlock()
	return c.load(ctx, issuer, false)
}

// Refresh fetches issuer's set even if the cached one is fresh, subject to
// the rate limit. Used when a token names a key id the cache has not seen.
func (c *KeyCache) Refresh(ctx context.Context, issuer string) (jwk.Set, error) {
	return c.load(ctx, issuer, true)
}

// Len reports how many issuers are tracked.
func (c *KeyCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *KeyCache) entry(issuer string) *keyEntry {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[issuer]
	if !ok {
		if len(c.entries) >= c.maxIssuers {
			c.evictLocked()
		}
		e = &keyEntry{}
		c.entries[issuer] = e
	}
	e.used.Store(now.UnixNano())
	return e
}

// evictLocked drops the least recently used issuer, preferring issuers that
// never produced a key set.
func (c *KeyCache) evictLocked() {
	var victim string
	var v *keyEntry
	for iss, e := range c.entries {
		if v == nil {
			victim, v = iss, e
			continue
		}
		if (e.set == nil) != (v.set == nil) {
			if e.set == nil {
				victim, v = iss, e
			}
			continue
		}
		if e.used.Load() < v.used.Load() {
			victim, v = iss, e
		}
	}
	if v != nil {
		delete(c.entries, victim)
		c.log.Debugw("key cache full, evicted issuer", "issuer", victim)
	}
}

func (c *KeyCache) snapshot(e *keyEntry) (jwk.Set, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return e.set, e.fetched
}

// allow records a fetch attempt for e unless perMin attempts already fall
// within the last minute. Issuers without a key set also draw on the shared
// discovery budget.
func (c *KeyCache) allow(e *keyEntry) bool {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := e.attempts[:0]
	for _, at := range e.attempts {
		if now.Sub(at) < time.Minute {
			kept = append(kept, at)
		}
	}
	e.attempts = kept
	if len(e.attempts) >= c.perMin {
		return false
	}
	if e.set == nil && !c.discover.AllowN(now, 1) {
		return false
	}
	e.attempts = append(e.attempts, now)
	return true
}

func (c *KeyCache) load(ctx context.Context, issuer string, force bool) (jwk.Set, error) {
	e := c.entry(issuer)
	key := issuer
	if force {
		key = "refresh:" + issuer
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		cached, fetched := c.snapshot(e)
		fresh := cached != nil && c.now().Sub(fetched) < c.ttl
		if fresh && !force {
			return cached, nil
		}
		if !c.allow(e) {
			c.m.IncJWKSFetch("rate_limited")
			if fresh {
				return cached, nil
			}
			c.log.Debugw("key fetch rate limited", "issuer", issuer)
			return nil, ErrKeysUnavailable
		}

		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		set, err := c.fetch(fctx, jwksURL(issuer))
		if err != nil {
			c.m.IncJWKSFetch("error")
			c.log.Warnw("key fetch failed", "issuer", issuer, "err", err)
			if fresh {
				return cached, nil
			}
			return nil, errors.Join(ErrKeysUnavailable, err)
		}
		c.m.IncJWKSFetch("ok")

		c.mu.Lock()
		e.set = set
		e.fetched = c.now()
		c.mu.Unlock()
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(jwk.Set), nil
}
