package pricing

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Price is an immutable snapshot of what an item costs in a given currency.
// A zero Price does not exist: callers check Exists before reading amounts.
type Price struct {
	Currency string
	ExclTax  decimal.NullDecimal
	Tax      decimal.NullDecimal
	// TaxInclusive marks prices whose tax was resolved by the pricing policy
	// itself rather than deferred to a later stage.
	TaxInclusive bool
}

// Unavailable returns a price that does not exist.
func Unavailable() Price {
	return Price{}
}

// FixedPrice returns a price with an optional tax component. A nil tax means
// the tax is not known yet.
func FixedPrice(currency string, exclTax decimal.Decimal, tax *decimal.Decimal) Price {
	p := Price{
		Currency: currency,
		ExclTax:  decimal.NewNullDecimal(exclTax),
	}
	if tax != nil {
		p.Tax = decimal.NewNullDecimal(*tax)
	}
	return p
}

// TaxInclusiveFixedPrice returns a price whose tax is always known.
func TaxInclusiveFixedPrice(currency string, exclTax, tax decimal.Decimal) Price {
	p := FixedPrice(currency, exclTax, &tax)
	p.TaxInclusive = true
	return p
}

// Exists reports whether the price has a tax-exclusive amount.
func (p Price) Exists() bool {
	return p.ExclTax.Valid
}

// IsTaxKnown reports whether the tax component has been resolved.
func (p Price) IsTaxKnown() bool {
	return p.Exists() && p.Tax.Valid
}

// InclTax returns the tax-inclusive amount, invalid when tax is unknown.
func (p Price) InclTax() decimal.NullDecimal {
	if !p.IsTaxKnown() {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(p.ExclTax.Decimal.Add(p.Tax.Decimal))
}

// EffectivePrice is the amount used for offer arithmetic: tax-inclusive when
// the tax is known, tax-exclusive otherwise. Zero when the price does not exist.
func (p Price) EffectivePrice() decimal.Decimal {
	if incl := p.InclTax(); incl.Valid {
		return incl.Decimal
	}
	if p.ExclTax.Valid {
		return p.ExclTax.Decimal
	}
	return decimal.Zero
}

// MarshalJSON renders unknown amounts as null.
func (p Price) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Currency     string              `json:"currency,omitempty"`
		Exists       bool                `json:"exists"`
		ExclTax      decimal.NullDecimal `json:"excl_tax"`
		Tax          decimal.NullDecimal `json:"tax"`
		InclTax      decimal.NullDecimal `json:"incl_tax"`
		IsTaxKnown   bool                `json:"is_tax_known"`
		TaxInclusive bool                `json:"tax_inclusive"`
	}{
		Currency:     p.Currency,
		Exists:       p.Exists(),
		ExclTax:      p.ExclTax,
		Tax:          p.Tax,
		InclTax:      p.InclTax(),
		IsTaxKnown:   p.IsTaxKnown(),
		TaxInclusive: p.TaxInclusive,
	})
}
