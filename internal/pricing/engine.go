package pricing

import "github.com/shopspring/decimal"

// Line describes a priced basket line used for summary calculation.
type Line struct {
	Quantity  int
	UnitPrice decimal.Decimal
	// UnitTax is invalid when the line's tax has not been resolved.
	UnitTax  decimal.NullDecimal
	Discount decimal.Decimal
}

// Summary aggregates computed pricing components.
type Summary struct {
	Currency         string          `json:"currency"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	Discount         decimal.Decimal `json:"discount"`
	Tax              decimal.Decimal `json:"tax"`
	TaxKnown         bool            `json:"tax_known"`
	Shipping         decimal.Decimal `json:"shipping"`
	ShippingDiscount decimal.Decimal `json:"shipping_discount"`
	Total            decimal.Decimal `json:"total"`
}

// Compute calculates basket totals given the provided inputs. Tax is reported
// as unknown when any counted line lacks a resolved tax.
func Compute(currency string, lines []Line, shipping, shippingDiscount decimal.Decimal) Summary {
	subtotal := decimal.Zero
	discount := decimal.Zero
	tax := decimal.Zero
	taxKnown := true
	for _, ln := range lines {
		if ln.Quantity <= 0 {
			continue
		}
		qty := decimal.NewFromInt(int64(ln.Quantity))
		subtotal = subtotal.Add(ln.UnitPrice.Mul(qty))
		discount = discount.Add(ln.Discount)
		if ln.UnitTax.Valid {
			tax = tax.Add(ln.UnitTax.Decimal.Mul(qty))
		} else {
			taxKnown = false
		}
	}
	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}
	if shippingDiscount.GreaterThan(shipping) {
		shippingDiscount = shipping
	}
	if !taxKnown {
		tax = decimal.Zero
	}
	total := subtotal.Sub(discount).Add(tax).Add(shipping).Sub(shippingDiscount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	return Summary{
		Currency:         currency,
		Subtotal:         subtotal,
		Discount:         discount,
		Tax:              tax,
		TaxKnown:         taxKnown,
		Shipping:         shipping,
		ShippingDiscount: shippingDiscount,
		Total:            total,
	}
}
