package middlewares

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/sokoni/internal/rate"
)

func ok(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(http.HandlerFunc(ok), mw("a"), mw("b"), mw("c"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestRequestID(t *testing.T) {
	var seen string
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}), WithRequestID(), WithLogging(nil))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc", seen)
	assert.Empty(t, GetRequestID(context.Background()))
}

func TestRecover(t *testing.T) {
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }), WithRecover())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
}

func TestHeaders(t *testing.T) {
	h := Chain(http.HandlerFunc(ok), WithSecurityHeaders(), WithNoStore())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("Strict-Transport-Security"))
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (rate.Result, error) {
	return rate.Result{}, errors.New("redis down")
}

func TestRateLimit(t *testing.T) {
	h := Chain(http.HandlerFunc(ok), WithRateLimit(RateLimitConfig{Limiter: rate.NewMemoryLimiter(2, time.Minute)}))
	do := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/auth/signin", nil)
		req.RemoteAddr = ip + ":1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	first := do("10.0.0.1")
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))
	second := do("10.0.0.1")
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "0", second.Header().Get("X-RateLimit-Remaining"))
	blocked := do("10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, blocked.Code)
	assert.NotEmpty(t, blocked.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusOK, do("10.0.0.2").Code, "keys are per ip")

	open := Chain(http.HandlerFunc(ok), WithRateLimit(RateLimitConfig{Limiter: failingLimiter{}}))
	rec := httptest.NewRecorder()
	open.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "limiter errors fail open")
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "192.0.2.1", ClientIP(req), "header ignored without trusted proxies")

	untrusted, err := NewProxyTrust([]string{"10.0.0.0/8"})
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.1", untrusted.ClientIP(req), "peer is not a trusted proxy")
}

func TestProxyTrust_ClientIP(t *testing.T) {
	p, err := NewProxyTrust([]string{"10.0.0.0/8", "192.0.2.1"})
	require.NoError(t, err)

	cases := []struct {
		name, peer, xff, want string
	}{
		{"no header", "192.0.2.1:443", "", "192.0.2.1"},
		{"single hop", "192.0.2.1:443", "203.0.113.9", "203.0.113.9"},
		{"rightmost untrusted", "192.0.2.1:443", "198.51.100.1, 203.0.113.9, 10.0.0.7", "203.0.113.9"},
		{"spoofed left entries", "10.1.1.1:443", "1.2.3.4, 5.6.7.8, 203.0.113.9", "203.0.113.9"},
		{"garbage hop", "192.0.2.1:443", "203.0.113.9, not-an-ip", "192.0.2.1"},
		{"all trusted", "192.0.2.1:443", "10.0.0.2, 10.0.0.3", "10.0.0.2"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = c.peer
			if c.xff != "" {
				req.Header.Set("X-Forwarded-For", c.xff)
			}
			assert.Equal(t, c.want, p.ClientIP(req))
		})
	}

	_, err = NewProxyTrust([]string{"10.0.0.0/40"})
	assert.Error(t, err)
	_, err = NewProxyTrust([]string{"proxy.internal"})
	assert.Error(t, err)
}

func TestRateLimit_RotatingForwardedForFromSamePeer(t *testing.T) {
	for _, trusted := range [][]string{nil, {"10.0.0.0/8"}} {
		p, err := NewProxyTrust(trusted)
		require.NoError(t, err)
		h := Chain(http.HandlerFunc(ok), WithRateLimit(RateLimitConfig{
			Limiter: rate.NewMemoryLimiter(2, time.Minute),
			KeyFunc: p.RateKey,
		}))

		allowed := 0
		for i := 0; i < 20; i++ {
			req := httptest.NewRequest(http.MethodPost, "/v1/auth/signin", nil)
			req.RemoteAddr = "203.0.113.9:40000"
			req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code == http.StatusOK {
				allowed++
			}
		}
		assert.Equal(t, 2, allowed, "trusted=%v", trusted)
	}
}

func TestMetrics_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(WithMetrics())
	r.Get("/v1/items/{id}", ok)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/items/42", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
