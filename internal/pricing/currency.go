package pricing

import (
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultExponent is the number of minor-unit places used for currencies not
// listed in the exponent table.
const DefaultExponent int32 = 2

var currencyExponents = map[string]int32{
	"JPY": 0,
	"KRW": 0,
	"IDR": 0,
	"VND": 0,
	"BHD": 3,
	"JOD": 3,
	"KWD": 3,
	"OMR": 3,
	"TND": 3,
}

// Exponent returns the number of decimal places for the currency.
func Exponent(currency string) int32 {
	if exp, ok := currencyExponents[strings.ToUpper(strings.TrimSpace(currency))]; ok {
		return exp
	}
	return DefaultExponent
}

// Quantize rounds amount to exp decimal places using round-half-to-even.
func Quantize(amount decimal.Decimal, exp int32) decimal.Decimal {
	return amount.RoundBank(exp)
}

// QuantizeCurrency rounds amount to the currency's exponent (half-to-even).
func QuantizeCurrency(amount decimal.Decimal, currency string) decimal.Decimal {
	return Quantize(amount, Exponent(currency))
}

// RoundDown truncates amount towards zero at the currency's exponent. Discount
// splitting uses it so that allocated shares never exceed the total.
func RoundDown(amount decimal.Decimal, currency string) decimal.Decimal {
	return amount.RoundDown(Exponent(currency))
}

var currencySymbols = map[string]string{
	"GBP": "£",
	"USD": "$",
	"EUR": "€",
	"IDR": "Rp",
	"JPY": "¥",
}

// Format renders amount in the currency's minor units with its symbol, or the
// ISO code followed by a space when no symbol is known.
func Format(amount decimal.Decimal, currency string) string {
	code := strings.ToUpper(strings.TrimSpace(currency))
	text := amount.StringFixedBank(Exponent(code))
	if symbol, ok := currencySymbols[code]; ok {
		if amount.IsNegative() {
			return "-" + symbol + strings.TrimPrefix(text, "-")
		}
		return symbol + text
	}
	if code == "" {
		return text
	}
	return code + " " + text
}
