package ratelimit_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-offers/internal/common"
	"github.com/noah-isme/toko-offers/internal/ratelimit"
)

func newClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestWindowSlides(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	w := ratelimit.Window{
		Client: newClient(t),
		Prefix: "rl:",
		Size:   time.Minute,
		Max:    2,
		Now:    func() time.Time { return now },
	}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := w.Allow(ctx, "basket")
		require.NoError(t, err)
		require.True(t, d.Allowed)
		require.Equal(t, 1-i, d.Remaining)
	}
	d, err := w.Allow(ctx, "basket")
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, now.Add(time.Minute), d.ResetAt)

	d, err = w.Allow(ctx, "other")
	require.NoError(t, err)
	require.True(t, d.Allowed, "keys are independent")

	now = now.Add(time.Minute + time.Second)
	d, err = w.Allow(ctx, "basket")
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestMiddlewareThrottlesByBasket(t *testing.T) {
	h := ratelimit.Handler{
		Limiter: ratelimit.Window{Client: newClient(t), Prefix: "rl:", Size: time.Minute, Max: 1},
		Key:     ratelimit.KeyByUserOrParam("id"),
	}
	next := h.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	request := func(basket, user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/baskets/"+basket+"/vouchers", nil)
		rc := chi.NewRouteContext()
		rc.URLParams.Add("id", basket)
		ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rc)
		if user != "" {
			ctx = common.WithUserID(ctx, user)
		}
		rec := httptest.NewRecorder()
		next.ServeHTTP(rec, req.WithContext(ctx))
		return rec
	}

	require.Equal(t, http.StatusNoContent, request("b1", "").Code)
	rec := request("b1", "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))
	require.NotEmpty(t, rec.Header().Get("Retry-After"))

	require.Equal(t, http.StatusNoContent, request("b1", "u-7").Code)
}

func TestMiddlewareFailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = client.Close() })
	h := ratelimit.Handler{
		Limiter: ratelimit.Window{Client: client, Size: time.Minute, Max: 1},
		Key:     func(*http.Request) string { return "k" },
	}
	next := h.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	next.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestFixedLimiter(t *testing.T) {
	fixed, err := ratelimit.NewFixed(newClient(t), "2-M", "rl:test")
	require.NoError(t, err)

	h := ratelimit.Handler{Limiter: fixed, Key: ratelimit.KeyByClient}
	next := h.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/items", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		next.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	require.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	_, err = ratelimit.NewFixed(newClient(t), "lots", "")
	require.Error(t, err)
}
