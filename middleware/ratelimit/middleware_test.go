package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"ratelimit-gateway/middleware/ratelimit/domain"
	"ratelimit-gateway/middleware/ratelimit/infra"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var testNow = time.Date(2026, 5, 1, 12, 30, 15, 0, time.UTC)

type downCounter struct {
	incrCalls int
}

func (c *downCounter) Increment(context.Context, domain.Key) (int64, error) {
	c.incrCalls++
	return 0, errors.New("dial tcp 10.0.0.5:6379: connect: connection refused")
}

func (c *downCounter) Expire(context.Context, domain.Key, time.Duration) error {
	return errors.New("unreachable")
}

type panicCounter struct{ t *testing.T }

func (c panicCounter) Increment(context.Context, domain.Key) (int64, error) {
	c.t.Fatalf("counter store must not be called")
	return 0, nil
}

func (c panicCounter) Expire(context.Context, domain.Key, time.Duration) error {
	c.t.Fatalf("counter store must not be called")
	return nil
}

type denyAll struct{}

func (denyAll) Allow() bool { return false }

type denyStore struct{}

func (denyStore) Get(domain.Key) domain.Limiter { return denyAll{} }

func okHandler(calls *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	})
}

func doRequest(h http.Handler, remote string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, "http://example/api/courses", nil)
	r.RemoteAddr = remote
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestMiddleware_EnforcesLimitPerMinute(t *testing.T) {
	calls := 0
	h := Middleware(Options{
		Counter:           infra.NewMemoryCounterStore(),
		RequestsPerMinute: 5,
		Now:               func() time.Time { return testNow },
	})(okHandler(&calls))

	reset := strconv.FormatInt(testNow.Add(time.Minute).Unix(), 10)
	for i, want := range []string{"4", "3", "2", "1", "0"} {
		w := doRequest(h, "10.0.0.1:1234")
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
		require.Equal(t, "5", w.Header().Get(HeaderLimit))
		require.Equal(t, want, w.Header().Get(HeaderRemaining), "request %d", i+1)
		require.Equal(t, reset, w.Header().Get(HeaderReset))
		require.Equal(t, "ok", w.Body.String())
	}

	w := doRequest(h, "10.0.0.1:1234")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "60", w.Header().Get(HeaderRetry))
	require.Equal(t, "5", w.Header().Get(HeaderLimit))
	require.Equal(t, "0", w.Header().Get(HeaderRemaining))
	require.Equal(t, reset, w.Header().Get(HeaderReset))
	require.Contains(t, w.Header().Get("Content-Type"), "application/json")

	var body struct {
		Error      string `json:"error"`
		Message    string `json:"message"`
		RetryAfter int    `json:"retryAfter"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "Rate limit exceeded", body.Error)
	require.Equal(t, "Too many requests. Limit: 5 requests per minute.", body.Message)
	require.Equal(t, 60, body.RetryAfter)

	require.Equal(t, 5, calls)
}

func TestMiddleware_TwoClientsSameWindow(t *testing.T) {
	calls := 0
	h := Middleware(Options{
		Counter:           infra.NewMemoryCounterStore(),
		RequestsPerMinute: 2,
		Now:               func() time.Time { return testNow },
	})(okHandler(&calls))

	w := doRequest(h, "198.51.100.10:1000")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "1", w.Header().Get(HeaderRemaining))

	w = doRequest(h, "198.51.100.10:1000")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "0", w.Header().Get(HeaderRemaining))

	w = doRequest(h, "198.51.100.10:1000")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "60", w.Header().Get(HeaderRetry))

	w = doRequest(h, "198.51.100.20:1000")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "1", w.Header().Get(HeaderRemaining))
}

func TestMiddleware_FailsOpenWhenStoreDown(t *testing.T) {
	calls := 0
	counter := &downCounter{}
	metrics := NewMetrics(prometheus.NewRegistry())
	h := Middleware(Options{
		Counter:           counter,
		RequestsPerMinute: 1,
		Metrics:           metrics,
	})(okHandler(&calls))

	for i := 0; i < 3; i++ {
		w := doRequest(h, "10.0.0.1:1234")
		require.Equal(t, http.StatusOK, w.Code)
		require.Empty(t, w.Header().Get(HeaderLimit))
		require.Empty(t, w.Header().Get(HeaderRemaining))
		require.Empty(t, w.Header().Get(HeaderReset))
		require.Empty(t, w.Header().Get(HeaderRetry))
	}
	require.Equal(t, 3, calls)
	require.Equal(t, 3, counter.incrCalls, "no retries on the store call")
	require.Equal(t, float64(3), testutil.ToFloat64(metrics.decisions.WithLabelValues(outcomeFailOpen)))
}

func TestMiddleware_FailOpenOnRedisError(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.SetError("BUSY Redis is busy running a script")

	calls := 0
	h := Middleware(Options{
		Counter:      infra.NewRedisCounterStore(rdb),
		StoreTimeout: 50 * time.Millisecond,
	})(okHandler(&calls))

	w := doRequest(h, "10.0.0.1:1234")
	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, w.Header().Get(HeaderLimit))
	require.Equal(t, 1, calls)
}

func TestMiddleware_FallbackDeniesDuringOutage(t *testing.T) {
	calls := 0
	metrics := NewMetrics(prometheus.NewRegistry())
	h := Middleware(Options{
		Counter:           &downCounter{},
		RequestsPerMinute: 7,
		Fallback:          denyStore{},
		Metrics:           metrics,
	})(okHandler(&calls))

	w := doRequest(h, "10.0.0.1:1234")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "60", w.Header().Get(HeaderRetry))
	require.Empty(t, w.Header().Get(HeaderLimit))
	require.Contains(t, w.Body.String(), "Limit: 7 requests per minute.")
	require.Equal(t, 0, calls)
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.decisions.WithLabelValues(outcomeFallbackDenied)))
}

func TestMiddleware_FallbackAllowsInsideLocalBudget(t *testing.T) {
	calls := 0
	h := Middleware(Options{
		Counter:           &downCounter{},
		RequestsPerMinute: 2,
		Fallback:          infra.NewFallbackStore(2),
	})(okHandler(&calls))

	require.Equal(t, http.StatusOK, doRequest(h, "10.0.0.1:1234").Code)
	require.Equal(t, http.StatusOK, doRequest(h, "10.0.0.1:1234").Code)
	require.Equal(t, http.StatusTooManyRequests, doRequest(h, "10.0.0.1:1234").Code)
	require.Equal(t, 2, calls)
}

func TestMiddleware_ExemptPathNeverTouchesStore(t *testing.T) {
	calls := 0
	metrics := NewMetrics(prometheus.NewRegistry())
	h := Middleware(Options{
		Counter:     panicCounter{t: t},
		ExemptPaths: []string{"/health", "/metrics"},
		Metrics:     metrics,
	})(okHandler(&calls))

	for _, path := range []string{"/health", "/health/ready", "/METRICS"} {
		r := httptest.NewRequest(http.MethodGet, "http://example"+path, nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		require.Equal(t, http.StatusOK, w.Code)
		require.Empty(t, w.Header().Get(HeaderLimit))
	}
	require.Equal(t, 3, calls)
	require.Equal(t, float64(3), testutil.ToFloat64(metrics.decisions.WithLabelValues(outcomeExempt)))
}

func TestMiddleware_ExemptPathIgnoresPriorUsage(t *testing.T) {
	calls := 0
	counter := infra.NewMemoryCounterStore()
	h := Middleware(Options{
		Counter:           counter,
		RequestsPerMinute: 1,
		ExemptPaths:       []string{"/health"},
		Now:               func() time.Time { return testNow },
	})(okHandler(&calls))

	require.Equal(t, http.StatusOK, doRequest(h, "10.0.0.1:1234").Code)
	require.Equal(t, http.StatusTooManyRequests, doRequest(h, "10.0.0.1:1234").Code)

	r := httptest.NewRequest(http.MethodGet, "http://example/health", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	key := domain.WindowKey("", "ip:10.0.0.1", testNow)
	require.EqualValues(t, 2, counter.Value(key))
}

func TestMiddleware_AuthenticatedSubjectKeysByUser(t *testing.T) {
	counter := infra.NewMemoryCounterStore()
	calls := 0
	h := Middleware(Options{
		Counter:           counter,
		RequestsPerMinute: 10,
		Now:               func() time.Time { return testNow },
	})(okHandler(&calls))

	r := httptest.NewRequest(http.MethodGet, "http://example/api", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	r = r.WithContext(WithSubject(r.Context(), "42"))
	h.ServeHTTP(httptest.NewRecorder(), r)

	require.EqualValues(t, 1, counter.Value(domain.WindowKey("", "user:42", testNow)))
	require.EqualValues(t, 0, counter.Value(domain.WindowKey("", "ip:203.0.113.7", testNow)))
}

func TestMiddleware_HeadersWhenHandlerWritesNothing(t *testing.T) {
	h := Middleware(Options{
		Counter:           infra.NewMemoryCounterStore(),
		RequestsPerMinute: 3,
	})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	w := doRequest(h, "10.0.0.1:1234")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "3", w.Header().Get(HeaderLimit))
	require.Equal(t, "2", w.Header().Get(HeaderRemaining))
}

func TestMiddleware_HeadersKeepHandlerStatusAndBody(t *testing.T) {
	var seen domain.Decision
	h := Middleware(Options{
		Counter:           infra.NewMemoryCounterStore(),
		RequestsPerMinute: 3,
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = DecisionFromContext(r.Context())
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, "created")
	}))

	w := doRequest(h, "10.0.0.1:1234")
	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, "created", w.Body.String())
	require.Equal(t, "text/plain", w.Header().Get("Content-Type"))
	require.Equal(t, "2", w.Header().Get(HeaderRemaining))
	require.True(t, seen.Allowed)
	require.EqualValues(t, 1, seen.Count)
}

func TestMiddleware_RecordsStats(t *testing.T) {
	stats := infra.NewMemoryStatsStore(infra.WithTrackIdentities(true))
	calls := 0
	h := Middleware(Options{
		Counter:           infra.NewMemoryCounterStore(),
		RequestsPerMinute: 1,
		Stats:             stats,
	})(okHandler(&calls))

	doRequest(h, "10.0.0.1:1234")
	doRequest(h, "10.0.0.1:1234")

	require.Equal(t, infra.Counters{Allowed: 1, Denied: 1}, stats.Total())
	require.Equal(t, infra.Counters{Allowed: 1, Denied: 1}, stats.ByIdentity()["ip:10.0.0.1"])
	require.Equal(t, infra.Counters{Allowed: 1, Denied: 1}, stats.ByRoute()["GET /api/courses"])
}

type stalledStats struct {
	err error
}

func (s *stalledStats) Record(ctx context.Context, _ domain.StatsEvent) error {
	<-ctx.Done()
	s.err = ctx.Err()
	return s.err
}

func TestMiddleware_StatsBoundedByStoreTimeout(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	stats := &stalledStats{}
	calls := 0
	h := Middleware(Options{
		Counter:      infra.NewMemoryCounterStore(),
		StoreTimeout: 30 * time.Millisecond,
		Stats:        stats,
		Logger:       zap.New(core),
	})(okHandler(&calls))

	start := time.Now()
	w := doRequest(h, "10.0.0.1:1234")
	require.Less(t, time.Since(start), time.Second)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, calls)
	require.ErrorIs(t, stats.err, context.DeadlineExceeded)
	require.Equal(t, 1, logs.FilterMessage("rate limit: record stats failed").Len())
}

func TestMiddleware_CustomIdentityFallsBackWhenEmpty(t *testing.T) {
	counter := infra.NewMemoryCounterStore()
	calls := 0
	h := Middleware(Options{
		Counter:    counter,
		IdentityFn: func(*http.Request) string { return "" },
		Now:        func() time.Time { return testNow },
	})(okHandler(&calls))

	doRequest(h, "10.0.0.1:1234")
	require.EqualValues(t, 1, counter.Value(domain.WindowKey("", "ip:10.0.0.1", testNow)))
}

func TestMiddleware_NilCounterPassesThrough(t *testing.T) {
	calls := 0
	h := Middleware(Options{})(okHandler(&calls))

	w := doRequest(h, "10.0.0.1:1234")
	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, w.Header().Get(HeaderLimit))
	require.Equal(t, 1, calls)
}

func TestMiddleware_SharedRedisAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	newInstance := func() http.Handler {
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
		calls := 0
		return Middleware(Options{
			Counter:           infra.NewRedisCounterStore(rdb),
			RequestsPerMinute: 3,
			Now:               func() time.Time { return testNow },
		})(okHandler(&calls))
	}
	a, b := newInstance(), newInstance()

	require.Equal(t, http.StatusOK, doRequest(a, "10.0.0.1:1").Code)
	require.Equal(t, http.StatusOK, doRequest(b, "10.0.0.1:2").Code)
	require.Equal(t, http.StatusOK, doRequest(a, "10.0.0.1:3").Code)
	require.Equal(t, http.StatusTooManyRequests, doRequest(b, "10.0.0.1:4").Code)

	key := string(domain.WindowKey("", "ip:10.0.0.1", testNow))
	require.Equal(t, domain.CounterTTL, mr.TTL(key))
}
