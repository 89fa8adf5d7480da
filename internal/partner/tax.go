package partner

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-offers/internal/catalog"
	"github.com/noah-isme/toko-offers/internal/pricing"
)

// PricingPolicy computes the price of an item from its stock record.
type PricingPolicy interface {
	PriceFor(item *catalog.Item, sr *catalog.StockRecord) pricing.Price
	ParentPriceFor(item *catalog.Item, children []ChildStock) pricing.Price
}

// NoTax prices items with a known tax of zero.
type NoTax struct{}

// PriceFor implements PricingPolicy.
func (NoTax) PriceFor(_ *catalog.Item, sr *catalog.StockRecord) pricing.Price {
	if sr == nil || !sr.Price.Valid {
		return pricing.Unavailable()
	}
	return pricing.TaxInclusiveFixedPrice(sr.Currency, sr.Price.Decimal, decimal.Zero)
}

// ParentPriceFor implements PricingPolicy.
func (p NoTax) ParentPriceFor(_ *catalog.Item, children []ChildStock) pricing.Price {
	sr := firstPricedChild(children)
	if sr == nil {
		return pricing.Unavailable()
	}
	return p.PriceFor(nil, sr)
}

// FixedRateTax applies a single tax rate. RateFor and ExponentFor override the
// rate and rounding exponent per item or stock record when set.
type FixedRateTax struct {
	Rate        decimal.Decimal
	RateFor     func(item *catalog.Item, sr *catalog.StockRecord) decimal.Decimal
	ExponentFor func(sr *catalog.StockRecord) int32
}

// PriceFor implements PricingPolicy.
func (p FixedRateTax) PriceFor(item *catalog.Item, sr *catalog.StockRecord) pricing.Price {
	if sr == nil || !sr.Price.Valid {
		return pricing.Unavailable()
	}
	tax := p.tax(item, sr)
	return pricing.TaxInclusiveFixedPrice(sr.Currency, sr.Price.Decimal, tax)
}

// ParentPriceFor implements PricingPolicy. Parents get a plain fixed price.
func (p FixedRateTax) ParentPriceFor(item *catalog.Item, children []ChildStock) pricing.Price {
	for _, cs := range children {
		if cs.StockRecord == nil || !cs.StockRecord.Price.Valid {
			continue
		}
		tax := p.tax(cs.Item, cs.StockRecord)
		return pricing.FixedPrice(cs.StockRecord.Currency, cs.StockRecord.Price.Decimal, &tax)
	}
	return pricing.Unavailable()
}

func (p FixedRateTax) tax(item *catalog.Item, sr *catalog.StockRecord) decimal.Decimal {
	rate := p.Rate
	if p.RateFor != nil {
		rate = p.RateFor(item, sr)
	}
	exp := pricing.Exponent(sr.Currency)
	if p.ExponentFor != nil {
		exp = p.ExponentFor(sr)
	}
	return pricing.Quantize(sr.Price.Decimal.Mul(rate), exp)
}

// DeferredTax leaves tax unknown for a later pipeline stage to resolve.
type DeferredTax struct{}

// PriceFor implements PricingPolicy.
func (DeferredTax) PriceFor(_ *catalog.Item, sr *catalog.StockRecord) pricing.Price {
	if sr == nil || !sr.Price.Valid {
		return pricing.Unavailable()
	}
	return pricing.FixedPrice(sr.Currency, sr.Price.Decimal, nil)
}

// ParentPriceFor implements PricingPolicy.
func (DeferredTax) ParentPriceFor(_ *catalog.Item, children []ChildStock) pricing.Price {
	sr := firstPricedChild(children)
	if sr == nil {
		return pricing.Unavailable()
	}
	return pricing.FixedPrice(sr.Currency, sr.Price.Decimal, nil)
}

func firstPricedChild(children []ChildStock) *catalog.StockRecord {
	for _, cs := range children {
		if cs.StockRecord != nil && cs.StockRecord.Price.Valid {
			return cs.StockRecord
		}
	}
	return nil
}
