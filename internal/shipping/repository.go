package shipping

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrUnknownMethod is returned when a method code is not offered for a basket.
var ErrUnknownMethod = errors.New("shipping: unknown method")

// Repository lists the shipping methods available to a basket.
type Repository struct {
	methods []Method
}

// NewRepository offers methods in the given order. With no methods, shipping
// is free.
func NewRepository(methods ...Method) *Repository {
	if len(methods) == 0 {
		methods = []Method{Free{}}
	}
	return &Repository{methods: methods}
}

// Methods returns the methods for b with its shipping offer applied. Baskets
// that need no shipping only get NoShippingRequired.
func (r *Repository) Methods(b Basket) []Method {
	if !b.IsShippingRequired() {
		return []Method{NoShippingRequired{}}
	}
	out := make([]Method, 0, len(r.methods))
	for _, m := range r.methods {
		out = append(out, ApplyShippingOffer(m, b))
	}
	return out
}

// Default returns the first available method.
func (r *Repository) Default(b Basket) Method {
	return r.Methods(b)[0]
}

// Method finds an available method by code.
func (r *Repository) Method(b Basket, code string) (Method, error) {
	for _, m := range r.Methods(b) {
		if m.Code() == code {
			return m, nil
		}
	}
	return nil, ErrUnknownMethod
}

// Quote is a priced shipping option.
type Quote struct {
	Code     string          `json:"code"`
	Name     string          `json:"name"`
	Currency string          `json:"currency"`
	Charge   decimal.Decimal `json:"charge"`
	Discount decimal.Decimal `json:"discount"`
	Total    decimal.Decimal `json:"total"`
}

// Quotes prices every available method for b. Methods that cannot price the
// basket are skipped.
func (r *Repository) Quotes(b Basket) []Quote {
	var out []Quote
	for _, m := range r.Methods(b) {
		c, err := m.Calculate(b)
		if err != nil {
			continue
		}
		out = append(out, Quote{
			Code:     m.Code(),
			Name:     m.Name(),
			Currency: c.Currency,
			Charge:   c.Amount,
			Discount: c.Discount,
			Total:    c.Net(),
		})
	}
	return out
}
