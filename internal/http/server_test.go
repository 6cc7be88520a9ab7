package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	stdhttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/dropDatabas3/sokoni/internal/auth"
	"github.com/dropDatabas3/sokoni/internal/cache"
	"github.com/dropDatabas3/sokoni/internal/notify"
	"github.com/dropDatabas3/sokoni/internal/payment"
	"github.com/dropDatabas3/sokoni/internal/profile"
	"github.com/dropDatabas3/sokoni/internal/rate"
	"github.com/dropDatabas3/sokoni/internal/session"
	"github.com/dropDatabas3/sokoni/internal/store/adapters/memory"
)

type fakeProvider struct{ last payment.Request }

func (p *fakeProvider) Name() string { return "fake" }
func (p *fakeProvider) Methods() []payment.Method { return []payment.Method{payment.MethodCard} }
func (p *fakeProvider) ProcessPayment(_ context.Context, req payment.Request, _ payment.MethodDetails) (payment.Result, error) {
	p.last = req
	if req.Amount > 1000 {
		return payment.Result{Success: false, Message: "limit exceeded"}, nil
	}
	return payment.Result{Success: true, TransactionID: "tx-1", Status: "pending"}, nil
}

type apiFixture struct {
	router   stdhttp.Handler
	backend  *memory.Backend
	mgr      *session.Manager
	provider *fakeProvider
}

func newAPI(t *testing.T, limiter rate.Limiter) *apiFixture {
	t.Helper()
	b := memory.New(memory.Options{Secret: "test", BcryptCost: bcrypt.MinCost, Tables: memory.DefaultTables()})
	mgr := session.NewManager(b, session.NewStore(), profile.NewResolver(b, profile.Config{}))
	mgr.Initialize(context.Background())
	t.Cleanup(mgr.Teardown)

	buf := notify.NewBuffer(10)
	prov := &fakeProvider{}
	router := NewRouter(Deps{
		Gateway:       auth.NewGateway(b, mgr, auth.Options{Notify: buf}),
		Payments:      &payment.Flow{Registry: payment.NewRegistry(prov), DefaultCurrency: "KES"},
		Notices:       buf,
		SignInLimiter: limiter,
		Gatherer:      prometheus.NewRegistry(),
	})
	return &apiFixture{router: router, backend: b, mgr: mgr, provider: prov}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rd bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&rd).Encode(body))
	}
	req := httptest.NewRequest(method, path, &rd)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "198.51.100.7:4000"
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func signUpBody() map[string]any {
	return map[string]any{
		"email":      "Shop@Duka.co.ke",
		"password":   "secret12",
		"first_name": "Wanjiru",
		"last_name":  "Kamau",
		"phone":      "0712345678",
		"user_type":  "retailer",
		"location":   map[string]string{"county": "Nakuru", "town": "Naivasha"},
	}
}

func TestHealthAndState(t *testing.T) {
	f := newAPI(t, nil)

	rec, body := f.do(t, stdhttp.MethodGet, "/healthz", nil)
	assert.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.Equal(t, false, body["loading"])

	rec, _ = f.do(t, stdhttp.MethodGet, "/readyz", nil)
	assert.Equal(t, stdhttp.StatusOK, rec.Code)

	rec, body = f.do(t, stdhttp.MethodGet, "/v1/state", nil)
	assert.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.Equal(t, false, body["authenticated"])
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec, body = f.do(t, stdhttp.MethodGet, "/nope", nil)
	assert.Equal(t, stdhttp.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", body["code"])
}

func TestReadyz_Unavailable(t *testing.T) {
	b := memory.New(memory.Options{Tables: memory.DefaultTables()})
	mgr := session.NewManager(b, session.NewStore(), nil)
	router := NewRouter(Deps{
		Gateway:  auth.NewGateway(b, mgr, auth.Options{}),
		Ready:    func(context.Context) error { return errors.New("backend down") },
		Gatherer: prometheus.NewRegistry(),
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(stdhttp.MethodGet, "/readyz", nil))
	assert.Equal(t, stdhttp.StatusServiceUnavailable, rec.Code)
}

type brokenCache struct{ cache.Client }

func (brokenCache) Stats(context.Context) (cache.Stats, error) {
	return cache.Stats{}, errors.New("dial tcp: connection refused")
}

func TestReadyz_ReportsCache(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory("test:", time.Minute)
	require.NoError(t, c.Set(ctx, "sb:auth:session", "{}", 0))
	_, err := c.Get(ctx, "sb:auth:session")
	require.NoError(t, err)
	_, err = c.Get(ctx, "missing")
	require.True(t, cache.IsNotFound(err))

	b := memory.New(memory.Options{Tables: memory.DefaultTables()})
	mgr := session.NewManager(b, session.NewStore(), nil)
	deps := Deps{Gateway: auth.NewGateway(b, mgr, auth.Options{}), Cache: c, Gatherer: prometheus.NewRegistry()}

	rec := httptest.NewRecorder()
	NewRouter(deps).ServeHTTP(rec, httptest.NewRequest(stdhttp.MethodGet, "/readyz", nil))
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	var out readyView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.NotNil(t, out.Cache)
	assert.Equal(t, "memory", out.Cache.Driver)
	assert.Equal(t, int64(1), out.Cache.Keys)
	assert.Equal(t, int64(1), out.Cache.Hits)
	assert.Equal(t, int64(1), out.Cache.Misses)

	deps.Cache = brokenCache{}
	rec = httptest.NewRecorder()
	NewRouter(deps).ServeHTTP(rec, httptest.NewRequest(stdhttp.MethodGet, "/readyz", nil))
	assert.Equal(t, stdhttp.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "cache: dial tcp")
}

func TestAuthFlow(t *testing.T) {
	f := newAPI(t, nil)

	rec, body := f.do(t, stdhttp.MethodPost, "/v1/auth/signup", signUpBody())
	require.Equal(t, stdhttp.StatusOK, rec.Code, rec.Body.String())
	st := body["state"].(map[string]any)
	assert.Equal(t, true, st["authenticated"])
	assert.Equal(t, "Wanjiru Kamau", st["display_name"])
	assert.NotEmpty(t, body["notices"])

	rec, body = f.do(t, stdhttp.MethodPost, "/v1/auth/signout", nil)
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.Equal(t, false, body["state"].(map[string]any)["authenticated"])

	rec, body = f.do(t, stdhttp.MethodPost, "/v1/auth/signin", map[string]string{"email": "shop@duka.co.ke", "password": "wrong-pass"})
	assert.Equal(t, stdhttp.StatusUnauthorized, rec.Code)
	assert.Equal(t, "credentials_error", body["code"])

	rec, body = f.do(t, stdhttp.MethodPost, "/v1/auth/signin", map[string]string{"email": " SHOP@duka.co.ke ", "password": "secret12"})
	require.Equal(t, stdhttp.StatusOK, rec.Code, rec.Body.String())
	st = body["state"].(map[string]any)
	assert.Equal(t, "shop@duka.co.ke", st["user"].(map[string]any)["email"])
	assert.Len(t, f.backend.Rows("profiles"), 1)
}

func TestSignIn_ValidationAndBadBodies(t *testing.T) {
	f := newAPI(t, nil)

	rec, body := f.do(t, stdhttp.MethodPost, "/v1/auth/signin", map[string]string{"email": "not-an-email", "password": "secret12"})
	assert.Equal(t, stdhttp.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", body["code"])
	assert.Equal(t, "email", body["detail"])

	req := httptest.NewRequest(stdhttp.MethodPost, "/v1/auth/signin", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	out := httptest.NewRecorder()
	f.router.ServeHTTP(out, req)
	assert.Equal(t, stdhttp.StatusBadRequest, out.Code)
	assert.Contains(t, out.Body.String(), "INVALID_JSON")

	req = httptest.NewRequest(stdhttp.MethodPost, "/v1/auth/signin", bytes.NewBufferString("email=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	out = httptest.NewRecorder()
	f.router.ServeHTTP(out, req)
	assert.Equal(t, stdhttp.StatusBadRequest, out.Code)

	rec, _ = f.do(t, stdhttp.MethodGet, "/v1/auth/signin", nil)
	assert.Equal(t, stdhttp.StatusMethodNotAllowed, rec.Code)
}

func TestSignIn_RateLimited(t *testing.T) {
	f := newAPI(t, rate.NewMemoryLimiter(2, time.Minute))
	creds := map[string]string{"email": "x@duka.co.ke", "password": "secret12"}

	for i := 0; i < 2; i++ {
		rec, _ := f.do(t, stdhttp.MethodPost, "/v1/auth/signin", creds)
		assert.Equal(t, stdhttp.StatusUnauthorized, rec.Code)
	}
	rec, body := f.do(t, stdhttp.MethodPost, "/v1/auth/signin", creds)
	assert.Equal(t, stdhttp.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", body["code"])

	rec, _ = f.do(t, stdhttp.MethodPost, "/v1/auth/demo", map[string]string{"user_type": "retailer"})
	assert.Equal(t, stdhttp.StatusOK, rec.Code, "only sign-in is limited")
}

func TestSignIn_RateLimitKeysOnPeerNotForwardedFor(t *testing.T) {
	f := newAPI(t, rate.NewMemoryLimiter(2, time.Minute))
	body := []byte(`{"email":"x@duka.co.ke","password":"secret12"}`)

	limited := 0
	for i := 0; i < 20; i++ {
		req := httptest.NewRequest(stdhttp.MethodPost, "/v1/auth/signin", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))
		req.RemoteAddr = "203.0.113.9:40000"
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		if rec.Code == stdhttp.StatusTooManyRequests {
			limited++
		}
	}
	assert.Equal(t, 18, limited, "rotating the header does not reset the limit")
}

func TestDemo(t *testing.T) {
	f := newAPI(t, nil)

	rec, body := f.do(t, stdhttp.MethodPost, "/v1/auth/demo", map[string]string{"user_type": "supplier"})
	require.Equal(t, stdhttp.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "demo-supplier", body["demo_user"].(map[string]any)["id"])
	st := body["state"].(map[string]any)
	assert.Equal(t, true, st["demo"])

	rec, body = f.do(t, stdhttp.MethodPost, "/v1/auth/demo", map[string]string{"user_type": "admin"})
	assert.Equal(t, stdhttp.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", body["code"])
}

func TestPayments(t *testing.T) {
	f := newAPI(t, nil)
	order := map[string]any{"provider": "fake", "amount": 250, "orderId": "ord-1"}

	rec, _ := f.do(t, stdhttp.MethodPost, "/v1/payments", order)
	assert.Equal(t, stdhttp.StatusUnauthorized, rec.Code, "checkout needs a session")

	rec, _ = f.do(t, stdhttp.MethodPost, "/v1/auth/demo", map[string]string{"user_type": "retailer"})
	require.Equal(t, stdhttp.StatusOK, rec.Code)

	rec, body := f.do(t, stdhttp.MethodPost, "/v1/payments", order)
	require.Equal(t, stdhttp.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "tx-1", body["transactionId"])
	assert.Equal(t, "KES", f.provider.last.Currency)
	assert.Equal(t, "demo-retailer", f.provider.last.CustomerID)

	order["amount"] = 5000
	rec, body = f.do(t, stdhttp.MethodPost, "/v1/payments", order)
	assert.Equal(t, stdhttp.StatusPaymentRequired, rec.Code)
	assert.Equal(t, "limit exceeded", body["error"])

	rec, body = f.do(t, stdhttp.MethodPost, "/v1/payments", map[string]any{"provider": "fake", "amount": 0, "orderId": "ord-1"})
	assert.Equal(t, stdhttp.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_PAYMENT", body["code"])

	rec, body = f.do(t, stdhttp.MethodPost, "/v1/payments", map[string]any{"provider": "paypal", "amount": 10, "orderId": "ord-1"})
	assert.Equal(t, stdhttp.StatusBadRequest, rec.Code)
	assert.Equal(t, "UNKNOWN_PROVIDER", body["code"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := newAPI(t, nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(stdhttp.MethodGet, "/metrics", nil))
	assert.Equal(t, stdhttp.StatusOK, rec.Code)
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	srv := NewServer("127.0.0.1:0", stdhttp.NotFoundHandler())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
