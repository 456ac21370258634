package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// memRedis implements the handful of commands the limiter issues.
type memRedis struct {
	redis.Cmdable
	mu     sync.Mutex
	values map[string]string
	counts map[string]int64
	ttls   map[string]time.Duration
}

func newMemRedis() *memRedis {
	return &memRedis{
		values: make(map[string]string),
		counts: make(map[string]int64),
		ttls:   make(map[string]time.Duration),
	}
}

func (m *memRedis) Get(_ context.Context, key string) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *memRedis) TTL(_ context.Context, key string) *redis.DurationCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	return redis.NewDurationResult(m.ttls[key], nil)
}

func (m *memRedis) Incr(_ context.Context, key string) *redis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[key]++
	return redis.NewIntResult(m.counts[key], nil)
}

func (m *memRedis) Expire(_ context.Context, key string, d time.Duration) *redis.BoolCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ttls[key] = d
	return redis.NewBoolResult(true, nil)
}

func (m *memRedis) Set(_ context.Context, key string, value interface{}, d time.Duration) *redis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value.(string)
	m.ttls[key] = d
	return redis.NewStatusResult("OK", nil)
}

func TestRateLimiterBlocksAfterLimit(t *testing.T) {
	rdb := newMemRedis()
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := RateLimiter(rdb, 2, time.Minute, 5*time.Minute, "test")(ok)

	call := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusNoContent, call("10.0.0.1:1111").Code)
	second := call("10.0.0.1:2222")
	require.Equal(t, http.StatusNoContent, second.Code)
	require.Equal(t, "0", second.Header().Get("X-RateLimit-Remaining"))

	third := call("10.0.0.1:3333")
	require.Equal(t, http.StatusTooManyRequests, third.Code)
	require.Equal(t, "300", third.Header().Get("Retry-After"))

	// blocked even though the window counter is not consulted any more
	require.Equal(t, http.StatusTooManyRequests, call("10.0.0.1:4444").Code)

	// other clients are unaffected
	require.Equal(t, http.StatusNoContent, call("10.0.0.2:1111").Code)
}

func TestRateLimiterWithoutRedisPassesThrough(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := RateLimiter(nil, 1, time.Minute, time.Minute, "test")(ok)

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusNoContent, rec.Code)
	}
}
