package basket

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-offers/internal/catalog"
	"github.com/noah-isme/toko-offers/internal/common"
	"github.com/noah-isme/toko-offers/internal/offer"
	"github.com/noah-isme/toko-offers/internal/partner"
	"github.com/noah-isme/toko-offers/internal/pricing"
)

// Line is one item/stock record/options combination in a basket. Prices are
// captured when the line is created so later changes can be reported.
type Line struct {
	reference   string
	item        *catalog.Item
	stockRecord *catalog.StockRecord
	quantity    int
	currency    string
	priceExcl   decimal.NullDecimal
	priceIncl   decimal.NullDecimal
	options     map[string]string
	info        partner.PurchaseInfo
	consumer    *offer.LineConsumer
	discount    decimal.Decimal
	discounted  int
	createdAt   time.Time
}

// LineReference identifies a line by item, stock record and options.
func LineReference(item *catalog.Item, sr *catalog.StockRecord, options map[string]string) string {
	ref := item.ID.String()
	if sr != nil {
		ref += "_" + sr.ID.String()
	}
	if len(options) == 0 {
		return ref
	}
	return ref + "_" + common.Fingerprint(options)[:16]
}

func newLine(item *catalog.Item, info partner.PurchaseInfo, quantity int, options map[string]string, now time.Time) *Line {
	return &Line{
		reference:   LineReference(item, info.StockRecord, options),
		item:        item,
		stockRecord: info.StockRecord,
		quantity:    quantity,
		currency:    info.Price.Currency,
		priceExcl:   info.Price.ExclTax,
		priceIncl:   info.Price.InclTax(),
		options:     options,
		info:        info,
		consumer:    offer.NewLineConsumer(),
		discount:    decimal.Zero,
		createdAt:   now,
	}
}

// Reference returns the line's identity within its basket.
func (l *Line) Reference() string { return l.reference }

// Item implements offer.Line and partner.Line.
func (l *Line) Item() *catalog.Item { return l.item }

// StockRecord implements offer.Line and partner.Line.
func (l *Line) StockRecord() *catalog.StockRecord { return l.stockRecord }

// Quantity implements offer.Line.
func (l *Line) Quantity() int { return l.quantity }

// Currency is the currency the line was priced in.
func (l *Line) Currency() string { return l.currency }

// Options returns the line options.
func (l *Line) Options() map[string]string { return l.options }

// PurchaseInfo returns the most recently fetched purchase info.
func (l *Line) PurchaseInfo() partner.PurchaseInfo { return l.info }

// Consumer implements offer.Line.
func (l *Line) Consumer() *offer.LineConsumer { return l.consumer }

// CreatedAt is when the line was added.
func (l *Line) CreatedAt() time.Time { return l.createdAt }

// refresh re-resolves purchase info through strategy.
func (l *Line) refresh(strategy *partner.Strategy) {
	l.info = strategy.FetchForLine(l, l.stockRecord)
}

// UnitPriceExclTax is the current unit price before tax.
func (l *Line) UnitPriceExclTax() decimal.NullDecimal { return l.info.Price.ExclTax }

// UnitPriceInclTax is the current unit price after tax, unknown when the tax is.
func (l *Line) UnitPriceInclTax() decimal.NullDecimal { return l.info.Price.InclTax() }

// UnitTax is the current unit tax, unknown until resolved.
func (l *Line) UnitTax() decimal.NullDecimal {
	if !l.info.Price.IsTaxKnown() {
		return decimal.NullDecimal{}
	}
	return l.info.Price.Tax
}

// IsTaxKnown reports whether the line's tax has been resolved.
func (l *Line) IsTaxKnown() bool { return l.info.Price.IsTaxKnown() }

// UnitEffectivePrice implements offer.Line.
func (l *Line) UnitEffectivePrice() decimal.Decimal { return l.info.Price.EffectivePrice() }

func (l *Line) times(v decimal.NullDecimal) decimal.NullDecimal {
	if !v.Valid {
		return v
	}
	return decimal.NewNullDecimal(v.Decimal.Mul(decimal.NewFromInt(int64(l.quantity))))
}

// LinePriceExclTax is the unit price before tax times the quantity.
func (l *Line) LinePriceExclTax() decimal.NullDecimal { return l.times(l.UnitPriceExclTax()) }

// LinePriceInclTax is unknown when the tax is.
func (l *Line) LinePriceInclTax() decimal.NullDecimal { return l.times(l.UnitPriceInclTax()) }

// LineTax is unknown when the tax is.
func (l *Line) LineTax() decimal.NullDecimal { return l.times(l.UnitTax()) }

// Discount implements offer.Line. It records amount against affected units
// and consumes them for o.
func (l *Line) Discount(amount decimal.Decimal, affected int, o *offer.ConditionalOffer) {
	l.discount = l.discount.Add(amount)
	l.discounted += affected
	l.consumer.Consume(l.quantity, affected, o)
}

// DiscountValue is the total offer discount on the line.
func (l *Line) DiscountValue() decimal.Decimal { return l.discount }

// DiscountedQuantity is the number of units that received a price discount.
func (l *Line) DiscountedQuantity() int { return min(l.discounted, l.quantity) }

// UndiscountedQuantity is the number of units sold at full price.
func (l *Line) UndiscountedQuantity() int { return l.quantity - l.DiscountedQuantity() }

// HasDiscount reports whether any offer discounted the line.
func (l *Line) HasDiscount() bool { return l.discount.IsPositive() }

// LinePriceExclTaxInclDiscounts subtracts the discount from the line total,
// never dropping below zero.
func (l *Line) LinePriceExclTaxInclDiscounts() decimal.NullDecimal {
	excl := l.LinePriceExclTax()
	if !excl.Valid {
		return excl
	}
	d := l.discount
	// Discounts are computed on the effective price; scale them back when tax
	// is included in it.
	if incl := l.LinePriceInclTax(); incl.Valid && incl.Decimal.IsPositive() {
		d = d.Mul(excl.Decimal).Div(incl.Decimal)
		d = pricing.QuantizeCurrency(d, l.currency)
	}
	return decimal.NewNullDecimal(decimal.Max(excl.Decimal.Sub(d), decimal.Zero))
}

// LinePriceInclTaxInclDiscounts is unknown when the tax is.
func (l *Line) LinePriceInclTaxInclDiscounts() decimal.NullDecimal {
	incl := l.LinePriceInclTax()
	if !incl.Valid {
		return incl
	}
	return decimal.NewNullDecimal(decimal.Max(incl.Decimal.Sub(l.discount), decimal.Zero))
}

func (l *Line) clearDiscount() {
	l.discount = decimal.Zero
	l.discounted = 0
	l.consumer.Reset()
}

// Warning describes a change since the line was added: the item became
// unavailable or its price moved. It is empty when nothing changed.
func (l *Line) Warning() string {
	title := l.item.DisplayTitle()
	if !l.info.Availability.IsAvailableToBuy() {
		return fmt.Sprintf("'%s' is no longer available", title)
	}
	if !l.info.Price.Exists() {
		return ""
	}
	was, now := l.priceExcl, l.info.Price.ExclTax
	if l.priceIncl.Valid && l.info.Price.IsTaxKnown() {
		was, now = l.priceIncl, l.info.Price.InclTax()
	}
	if !was.Valid || !now.Valid || was.Decimal.Equal(now.Decimal) {
		return ""
	}
	direction := "increased"
	if now.Decimal.LessThan(was.Decimal) {
		direction = "decreased"
	}
	return fmt.Sprintf("The price of '%s' has %s from %s to %s since you added it to your basket",
		title, direction, pricing.Format(was.Decimal, l.currency), pricing.Format(now.Decimal, l.currency))
}

// IsAvailableForPurchase checks the current availability for the line quantity.
func (l *Line) IsAvailableForPurchase() (bool, string) {
	return l.info.Availability.IsPurchasePermitted(l.quantity)
}

// LineSnapshot is the persisted form of a line.
type LineSnapshot struct {
	Reference     string              `json:"reference"`
	ItemID        uuid.UUID           `json:"item_id"`
	StockRecordID *uuid.UUID          `json:"stock_record_id,omitempty"`
	Quantity      int                 `json:"quantity"`
	Currency      string              `json:"currency"`
	PriceExclTax  decimal.NullDecimal `json:"price_excl_tax"`
	PriceInclTax  decimal.NullDecimal `json:"price_incl_tax"`
	Options       map[string]string   `json:"options,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
}

func (l *Line) snapshot() LineSnapshot {
	s := LineSnapshot{
		Reference:    l.reference,
		ItemID:       l.item.ID,
		Quantity:     l.quantity,
		Currency:     l.currency,
		PriceExclTax: l.priceExcl,
		PriceInclTax: l.priceIncl,
		Options:      l.options,
		CreatedAt:    l.createdAt,
	}
	if l.stockRecord != nil {
		id := l.stockRecord.ID
		s.StockRecordID = &id
	}
	return s
}
