package partner

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
)

// Selector picks the strategy for a request and user. userID may be empty.
type Selector interface {
	StrategyFor(r *http.Request, userID string) *Strategy
}

type requestKey struct{}

// WithRequest attaches r to ctx so code below the HTTP layer can hand it to a
// Selector.
func WithRequest(ctx context.Context, r *http.Request) context.Context {
	return context.WithValue(ctx, requestKey{}, r)
}

// RequestFrom returns the request attached by WithRequest, or nil.
func RequestFrom(ctx context.Context) *http.Request {
	r, _ := ctx.Value(requestKey{}).(*http.Request)
	return r
}

// DefaultSelector always returns Default().
type DefaultSelector struct{}

// StrategyFor implements Selector.
func (DefaultSelector) StrategyFor(*http.Request, string) *Strategy { return Default() }

// FixedSelector returns the same configured strategy for every request.
type FixedSelector struct {
	Strategy *Strategy
}

// StrategyFor implements Selector.
func (s FixedSelector) StrategyFor(*http.Request, string) *Strategy {
	if s.Strategy == nil {
		return Default()
	}
	return s.Strategy
}

// NewSelector builds a selector from the STRATEGY config value.
func NewSelector(name string, taxRate decimal.Decimal) (Selector, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "default":
		return DefaultSelector{}, nil
	case "uk":
		if taxRate.IsNegative() {
			return nil, fmt.Errorf("partner: negative tax rate %s", taxRate)
		}
		return FixedSelector{Strategy: UK(taxRate)}, nil
	case "us":
		return FixedSelector{Strategy: US()}, nil
	default:
		return nil, fmt.Errorf("partner: unknown strategy %q", name)
	}
}
