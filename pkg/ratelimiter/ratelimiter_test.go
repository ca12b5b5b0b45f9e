package ratelimiter_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/equilibra/platform/pkg/ratelimiter"
)

var testConfig = ratelimiter.Config{
	Capacity:       3,
	RefillRate:     1,
	RefillInterval: time.Minute,
}

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
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestNewBucket(t *testing.T) {
	t.Parallel()
	store := ratelimiter.NewMemoryStore(ratelimiter.WithCleanupInterval(0))

	_, err := ratelimiter.NewBucket(nil, testConfig)
	assert.ErrorIs(t, err, ratelimiter.ErrInvalidConfig)
	_, err = ratelimiter.NewBucket(store, ratelimiter.Config{Capacity: 1, RefillRate: 1})
	assert.ErrorIs(t, err, ratelimiter.ErrInvalidConfig)
	_, err = ratelimiter.NewBucket(store, ratelimiter.Config{RefillRate: 1, RefillInterval: time.Second})
	assert.ErrorIs(t, err, ratelimiter.ErrInvalidConfig)
}

func TestMemoryStore_ConsumeTokens(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("denied requests do not consume", func(t *testing.T) {
		t.Parallel()
		clk := &clock{now: time.Unix(1_700_000_000, 0)}
		store := ratelimiter.NewMemoryStore(ratelimiter.WithCleanupInterval(0), ratelimiter.WithMemoryClock(clk.Now))
		b, err := ratelimiter.NewBucket(store, testConfig)
		require.NoError(t, err)

		for want := 2; want >= 0; want-- {
			res, err := b.Allow(ctx, "k")
			require.NoError(t, err)
			assert.True(t, res.Allowed())
			assert.Equal(t, want, res.Remaining)
		}

		res, err := b.Allow(ctx, "k")
		require.NoError(t, err)
		assert.False(t, res.Allowed())
		assert.Equal(t, -1, res.Remaining)

		clk.Advance(time.Minute)
		res, err = b.Allow(ctx, "k")
		require.NoError(t, err)
		assert.True(t, res.Allowed(), "one token refilled after one interval")
		assert.Equal(t, 0, res.Remaining)
	})

	t.Run("refill is capped at capacity", func(t *testing.T) {
		t.Parallel()
		clk := &clock{now: time.Unix(1_700_000_000, 0)}
		store := ratelimiter.NewMemoryStore(ratelimiter.WithCleanupInterval(0), ratelimiter.WithMemoryClock(clk.Now))
		b, err := ratelimiter.NewBucket(store, testConfig)
		require.NoError(t, err)

		_, err = b.AllowN(ctx, "k", 3)
		require.NoError(t, err)
		clk.Advance(24 * time.Hour)

		res, err := b.Allow(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, 2, res.Remaining)
	})

	t.Run("keys are independent", func(t *testing.T) {
		t.Parallel()
		store := ratelimiter.NewMemoryStore(ratelimiter.WithCleanupInterval(0))
		b, err := ratelimiter.NewBucket(store, testConfig)
		require.NoError(t, err)

		_, err = b.AllowN(ctx, "a", 3)
		require.NoError(t, err)
		res, err := b.Allow(ctx, "b")
		require.NoError(t, err)
		assert.Equal(t, 2, res.Remaining)
	})

	t.Run("reset restores capacity", func(t *testing.T) {
		t.Parallel()
		store := ratelimiter.NewMemoryStore(ratelimiter.WithCleanupInterval(0))
		b, err := ratelimiter.NewBucket(store, testConfig)
		require.NoError(t, err)

		_, err = b.AllowN(ctx, "k", 3)
		require.NoError(t, err)
		require.NoError(t, b.Reset(ctx, "k"))
		res, err := b.Allow(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, 2, res.Remaining)
	})

	t.Run("invalid token count", func(t *testing.T) {
		t.Parallel()
		b, err := ratelimiter.NewBucket(ratelimiter.NewMemoryStore(ratelimiter.WithCleanupInterval(0)), testConfig)
		require.NoError(t, err)
		_, err = b.AllowN(ctx, "k", 0)
		assert.ErrorIs(t, err, ratelimiter.ErrInvalidTokenCount)
	})

	t.Run("concurrent callers never exceed capacity", func(t *testing.T) {
		t.Parallel()
		store := ratelimiter.NewMemoryStore(ratelimiter.WithCleanupInterval(0))
		b, err := ratelimiter.NewBucket(store, ratelimiter.Config{Capacity: 10, RefillRate: 1, RefillInterval: time.Hour})
		require.NoError(t, err)

		var allowed atomic.Int32
		var wg sync.WaitGroup
		for range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if res, err := b.Allow(ctx, "k"); err == nil && res.Allowed() {
					allowed.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(10), allowed.Load())
	})
}

type failingStore struct{}

func (failingStore) ConsumeTokens(context.Context, string, int, ratelimiter.Config) (int, time.Time, error) {
	return 0, time.Time{}, ratelimiter.ErrStoreUnavailable
}

func (failingStore) Reset(context.Context, string) error { return nil }

func TestMiddleware(t *testing.T) {
	t.Parallel()

	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	t.Run("limits per client ip", func(t *testing.T) {
		t.Parallel()
		b, err := ratelimiter.NewBucket(ratelimiter.NewMemoryStore(ratelimiter.WithCleanupInterval(0)), testConfig)
		require.NoError(t, err)
		h := ratelimiter.Middleware(b, ratelimiter.ClientIP(false))(ok)

		call := func(addr string) *httptest.ResponseRecorder {
			r := httptest.NewRequest(http.MethodPost, "/", nil)
			r.RemoteAddr = addr
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			return w
		}

		for range 3 {
			assert.Equal(t, http.StatusOK, call("10.0.0.1:1234").Code)
		}
		w := call("10.0.0.1:5678")
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, w.Header().Get("Retry-After"))

		assert.Equal(t, http.StatusOK, call("10.0.0.2:1234").Code)
	})

	t.Run("custom denied handler", func(t *testing.T) {
		t.Parallel()
		b, err := ratelimiter.NewBucket(ratelimiter.NewMemoryStore(ratelimiter.WithCleanupInterval(0)),
			ratelimiter.Config{Capacity: 1, RefillRate: 1, RefillInterval: time.Hour})
		require.NoError(t, err)
		h := ratelimiter.Middleware(b, ratelimiter.Static("route"),
			ratelimiter.WithDeniedHandler(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusTeapot)
			}))(ok)

		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		w = httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusTeapot, w.Code)
	})

	t.Run("store failure", func(t *testing.T) {
		t.Parallel()
		b, err := ratelimiter.NewBucket(failingStore{}, testConfig)
		require.NoError(t, err)

		var got error
		h := ratelimiter.Middleware(b, ratelimiter.Static("k"),
			ratelimiter.WithErrorHandler(func(w http.ResponseWriter, _ *http.Request, err error) {
				got = err
				w.WriteHeader(http.StatusServiceUnavailable)
			}))(ok)

		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.True(t, errors.Is(got, ratelimiter.ErrStoreUnavailable))
	})
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.10:443"
	r.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")

	assert.Equal(t, "192.0.2.10", ratelimiter.ClientIP(false)(r))
	assert.Equal(t, "203.0.113.5", ratelimiter.ClientIP(true)(r))
}

func TestComposite(t *testing.T) {
	t.Parallel()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	assert.Equal(t, "coupons:user", ratelimiter.Composite(ratelimiter.Static("coupons"), ratelimiter.Static(""), ratelimiter.Static("user"))(r))
	assert.Empty(t, ratelimiter.Composite(ratelimiter.Static(""))(r))

	long := ratelimiter.Composite(ratelimiter.Static(uuid.NewString()), ratelimiter.Static(uuid.NewString()))(r)
	assert.LessOrEqual(t, len(long), 64)
}

// TestRedisStore runs against a real server when REDIS_TEST_URL is set.
func TestRedisStore(t *testing.T) {
	t.Parallel()
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	store := ratelimiter.NewRedisStore(client, ratelimiter.WithKeyPrefix("test:ratelimit:"))
	b, err := ratelimiter.NewBucket(store, testConfig)
	require.NoError(t, err)
	key := uuid.NewString()
	t.Cleanup(func() { _ = b.Reset(ctx, key) })

	for want := 2; want >= 0; want-- {
		res, err := b.Allow(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, want, res.Remaining)
	}
	res, err := b.Allow(ctx, key)
	require.NoError(t, err)
	assert.False(t, res.Allowed())
	assert.True(t, res.ResetAt.After(time.Now()))
}
