package pricing_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-offers/internal/pricing"
)

func TestUnavailablePrice(t *testing.T) {
	p := pricing.Unavailable()
	require.False(t, p.Exists())
	require.False(t, p.IsTaxKnown())
	require.False(t, p.InclTax().Valid)
	require.True(t, p.EffectivePrice().IsZero())
}

func TestFixedPriceWithUnknownTax(t *testing.T) {
	p := pricing.FixedPrice("GBP", decimal.RequireFromString("12.00"), nil)
	require.True(t, p.Exists())
	require.False(t, p.IsTaxKnown())
	require.False(t, p.InclTax().Valid)
	require.Equal(t, "12", p.EffectivePrice().String())
}

func TestTaxInclusivePrice(t *testing.T) {
	p := pricing.TaxInclusiveFixedPrice("GBP", decimal.RequireFromString("10.00"), decimal.RequireFromString("2.00"))
	require.True(t, p.IsTaxKnown())
	require.True(t, p.TaxInclusive)
	require.True(t, p.InclTax().Decimal.Equal(decimal.RequireFromString("12.00")))
	require.True(t, p.EffectivePrice().Equal(decimal.RequireFromString("12.00")))
}

func TestQuantizeRoundsHalfToEven(t *testing.T) {
	cases := map[string]string{
		"0.125": "0.12",
		"0.135": "0.14",
		"2.5":   "2.5",
		"1.005": "1",
	}
	for in, want := range cases {
		got := pricing.Quantize(decimal.RequireFromString(in), 2)
		require.True(t, got.Equal(decimal.RequireFromString(want)), "%s -> %s", in, got)
	}
}

func TestExponentTable(t *testing.T) {
	require.Equal(t, int32(2), pricing.Exponent("GBP"))
	require.Equal(t, int32(0), pricing.Exponent("jpy"))
	require.Equal(t, int32(3), pricing.Exponent("KWD"))
	require.Equal(t, "100", pricing.QuantizeCurrency(decimal.RequireFromString("99.5"), "JPY").String())
	require.Equal(t, "1.99", pricing.RoundDown(decimal.RequireFromString("1.999"), "USD").String())
}
