package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-offers/internal/common"
)

// Handler throttles requests sharing a key. The API applies a Fixed limit per
// client and a Window on voucher submission so a caller cannot enumerate codes
// against one basket.
type Handler struct {
	Limiter Limiter
	Key     func(*http.Request) string
	Logger  zerolog.Logger
}

// KeyByClient keys on the caller's user id, else the remote address.
func KeyByClient(r *http.Request) string {
	if id, ok := common.UserID(r.Context()); ok {
		return "user:" + id
	}
	return "ip:" + clientIP(r)
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// KeyByUserOrParam keys on the caller's user id, falling back to the named
// route parameter for anonymous callers.
func KeyByUserOrParam(param string) func(*http.Request) string {
	return func(r *http.Request) string {
		if id, ok := common.UserID(r.Context()); ok {
			return "user:" + id
		}
		if v := chi.URLParam(r, param); v != "" {
			return param + ":" + v
		}
		return "ip:" + clientIP(r)
	}
}

// Middleware implements chi middleware. Redis failures let the request
// through.
func (h Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Key == nil || h.Limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		key := h.Key(r)
		d, err := h.Limiter.Allow(r.Context(), key)
		if err != nil {
			h.Logger.Warn().Err(err).Str("key", key).Msg("rate limit check failed")
			next.ServeHTTP(w, r)
			return
		}

		headers := w.Header()
		headers.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		headers.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

		if !d.Allowed {
			retryAfter := int(time.Until(d.ResetAt).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			headers.Set("Retry-After", strconv.Itoa(retryAfter))
			common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many attempts, retry later", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
