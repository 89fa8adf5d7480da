package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/noah-isme/toko-offers/internal/common"
)

type claimsKey struct{}

// ClaimsFrom returns the verified claims attached by Middleware.
func ClaimsFrom(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(Claims)
	return c, ok
}

// Middleware authenticates callers. A bearer token, when present, must be
// valid. Without one the request continues anonymously, or with the gateway's
// X-User-ID when TrustUserHeader is set.
type Middleware struct {
	Verifier        *Verifier
	TrustUserHeader bool
}

// Authenticate attaches the caller identity to the request context.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	header := common.UserFromHeader(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearer(r)
		if raw == "" || m.Verifier == nil {
			if m.TrustUserHeader {
				header.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
			return
		}
		claims, err := m.Verifier.Verify(raw)
		if err != nil {
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid token", nil)
			return
		}
		ctx := common.WithUserID(r.Context(), claims.Subject)
		ctx = context.WithValue(ctx, claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole refuses callers whose verified token lacks role.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFrom(r.Context())
			if !ok {
				common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
				return
			}
			if !claims.HasRole(role) {
				common.JSONError(w, http.StatusForbidden, "FORBIDDEN", "insufficient role", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearer(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
