package tokens

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realmauth/pkg/metrics"
)

const acmeIssuer = testBase + "/realms/acme-inc"

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestKeyCacheTTL(t *testing.T) {
	s := newSigner(t, "k1")
	keys := &fakeKeys{sets: map[string][]jwk.Set{acmeIssuer: {s.set(t)}}}
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	c := NewKeyCache(KeyCacheConfig{TTL: time.Minute, Fetch: keys.fetch, Now: clk.Now})

	_, err := c.Keys(context.Background(), acmeIssuer)
	require.NoError(t, err)
	_, err = c.Keys(context.Background(), acmeIssuer)
	require.NoError(t, err)
	assert.Equal(t, 1, keys.count())

	clk.Advance(2 * time.Minute)
	_, err = c.Keys(context.Background(), acmeIssuer)
	require.NoError(t, err)
	assert.Equal(t, 2, keys.count())
}

func TestKeyCacheRefreshThrottledKeepsFreshKeys(t *testing.T) {
	s := newSigner(t, "k1")
	keys := &fakeKeys{sets: map[string][]jwk.Set{acmeIssuer: {s.set(t)}}}
	m := metrics.New(prometheus.NewRegistry())
	c := NewKeyCache(KeyCacheConfig{RatePerMin: 1, Fetch: keys.fetch, Metrics: m})

	first, err := c.Keys(context.Background(), acmeIssuer)
	require.NoError(t, err)

	again, err := c.Refresh(context.Background(), acmeIssuer)
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.Equal(t, 1, keys.count())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JWKSFetches.WithLabelValues("rate_limited")))
}

func TestKeyCacheRejectsExpiredKeysWhenThrottled(t *testing.T) {
	s := newSigner(t, "k1")
	keys := &fakeKeys{sets: map[string][]jwk.Set{acmeIssuer: {s.set(t)}}}
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	c := NewKeyCache(KeyCacheConfig{TTL: 30 * time.Second, RatePerMin: 1, Fetch: keys.fetch, Now: clk.Now})

	_, err := c.Keys(context.Background(), acmeIssuer)
	require.NoError(t, err)

	clk.Advance(40 * time.Second)
	_, err = c.Keys(context.Background(), acmeIssuer)
	assert.ErrorIs(t, err, ErrKeysUnavailable)
	_, err = c.Refresh(context.Background(), acmeIssuer)
	assert.ErrorIs(t, err, ErrKeysUnavailable)
	assert.Equal(t, 1, keys.count())
}

func TestKeyCacheRateLimitWithoutKeys(t *testing.T) {
	keys := &fakeKeys{fail: errors.New("boom")}
	c := NewKeyCache(KeyCacheConfig{RatePerMin: 1, Fetch: keys.fetch})

	_, err := c.Keys(context.Background(), acmeIssuer)
	assert.ErrorIs(t, err, ErrKeysUnavailable)
	_, err = c.Keys(context.Background(), acmeIssuer)
	assert.ErrorIs(t, err, ErrKeysUnavailable)
	assert.Equal(t, 1, keys.count(), "second attempt is throttled")
}

func TestKeyCacheRejectsExpiredKeysOnFetchError(t *testing.T) {
	s := newSigner(t, "k1")
	keys := &fakeKeys{sets: map[string][]jwk.Set{acmeIssuer: {s.set(t)}}}
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	c := NewKeyCache(KeyCacheConfig{TTL: time.Minute, Fetch: keys.fetch, Now: clk.Now})

	_, err := c.Keys(context.Background(), acmeIssuer)
	require.NoError(t, err)

	keys.fail = errors.New("timeout")
	clk.Advance(time.Hour)
	_, err = c.Keys(context.Background(), acmeIssuer)
	assert.ErrorIs(t, err, ErrKeysUnavailable)
	_, err = c.Refresh(context.Background(), acmeIssuer)
	assert.ErrorIs(t, err, ErrKeysUnavailable)
	assert.Equal(t, 3, keys.count())
}

func TestKeyCacheFetchesAtMostRatePerMinute(t *testing.T) {
	keys := &fakeKeys{fail: errors.New("connection refused")}
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	c := NewKeyCache(KeyCacheConfig{RatePerMin: 5, Fetch: keys.fetch, Now: clk.Now})

	for i := 0; i < 60; i++ {
		_, err := c.Refresh(context.Background(), acmeIssuer)
		assert.ErrorIs(t, err, ErrKeysUnavailable)
		clk.Advance(time.Second)
	}
	assert.Equal(t, 5, keys.count(), "within one minute")

	_, _ = c.Refresh(context.Background(), acmeIssuer)
	assert.Equal(t, 6, keys.count(), "the window slides after a minute")
}

func TestKeyCacheBoundsForgedIssuers(t *testing.T) {
	s := newSigner(t, "k1")
	keys := &fakeKeys{sets: map[string][]jwk.Set{acmeIssuer: {s.set(t)}}}
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	c := NewKeyCache(KeyCacheConfig{MaxIssuers: 100, DiscoverPerMin: 20, Fetch: keys.fetch, Now: clk.Now})

	_, err := c.Keys(context.Background(), acmeIssuer)
	require.NoError(t, err)

	for i := 0; i < 5000; i++ {
		_, err := c.Keys(context.Background(), fmt.Sprintf("%s/realms/junk-%d", testBase, i))
		require.ErrorIs(t, err, ErrKeysUnavailable)
	}
	assert.LessOrEqual(t, c.Len(), 100)
	assert.Equal(t, 20, keys.count(), "one fetch for acme-inc, the rest from the discovery budget")

	_, err = c.Keys(context.Background(), acmeIssuer)
	require.NoError(t, err)
	assert.Equal(t, 20, keys.count(), "resolved issuers survive eviction")
}

func TestKeyCacheCollapsesConcurrentFetches(t *testing.T) {
	set := newSigner(t, "k1").set(t)
	release := make(chan struct{})
	var calls atomic.Int32
	fetch := func(ctx context.Context, url string) (jwk.Set, error) {
		calls.Add(1)
		<-release
		return set, nil
	}
	c := NewKeyCache(KeyCacheConfig{Fetch: fetch})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Keys(context.Background(), acmeIssuer)
			assert.NoError(t, err)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())
}

func TestKeyCacheIssuersIndependent(t *testing.T) {
	set := newSigner(t, "k1").set(t)
	block := make(chan struct{})
	fetch := func(ctx context.Context, url string) (jwk.Set, error) {
		if url == jwksURL(testBase+"/realms/slow") {
			select {
			case <-block:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return set, nil
	}
	c := NewKeyCache(KeyCacheConfig{Fetch: fetch, FetchTimeout: time.Second})

	go func() { _, _ = c.Keys(context.Background(), testBase+"/realms/slow") }()
	time.Sleep(10 * time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := c.Keys(context.Background(), acmeIssuer)
		done <- err
	}()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("one issuer's fetch blocked another")
	}
	close(block)
}

func TestKeyCacheFetchTimeout(t *testing.T) {
	fetch := func(ctx context.Context, url string) (jwk.Set, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	c := NewKeyCache(KeyCacheConfig{Fetch: fetch, FetchTimeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := c.Keys(context.Background(), acmeIssuer)
	assert.ErrorIs(t, err, ErrKeysUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}
