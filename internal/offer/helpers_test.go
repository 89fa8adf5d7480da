package offer_test

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-offers/internal/catalog"
	"github.com/noah-isme/toko-offers/internal/offer"
)

var books = &catalog.ItemClass{ID: uuid.New(), Name: "Books", Slug: "books", TrackStock: true, RequiresShipping: true}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func product(title, price string) *catalog.Item {
	item := &catalog.Item{ID: uuid.New(), Structure: catalog.StructureStandalone, Title: title, Class: books, IsPublic: true}
	item.StockRecords = []*catalog.StockRecord{{
		ID:       uuid.New(),
		ItemID:   item.ID,
		Currency: "GBP",
		Price:    decimal.NewNullDecimal(d(price)),
	}}
	return item
}

// testLine is a basket line carrying its own consumer and discount tally.
type testLine struct {
	item       *catalog.Item
	quantity   int
	price      decimal.Decimal
	consumer   *offer.LineConsumer
	discount   decimal.Decimal
	discounted int
}

func (l *testLine) Item() *catalog.Item { return l.item }

func (l *testLine) StockRecord() *catalog.StockRecord {
	if len(l.item.StockRecords) == 0 {
		return nil
	}
	return l.item.StockRecords[0]
}

func (l *testLine) Quantity() int { return l.quantity }

func (l *testLine) UnitEffectivePrice() decimal.Decimal { return l.price }

func (l *testLine) Consumer() *offer.LineConsumer { return l.consumer }

func (l *testLine) Discount(amount decimal.Decimal, affected int, o *offer.ConditionalOffer) {
	l.discount = l.discount.Add(amount)
	l.discounted += affected
	l.consumer.Consume(l.quantity, affected, o)
}

type testBasket struct {
	lines []*testLine
	apps  *offer.Applications
}

func newBasket() *testBasket {
	return &testBasket{apps: offer.NewApplications()}
}

func (b *testBasket) add(item *catalog.Item, qty int) *testLine {
	price := decimal.Zero
	if len(item.StockRecords) > 0 {
		price = item.StockRecords[0].Price.Decimal
	}
	line := &testLine{item: item, quantity: qty, price: price, consumer: offer.NewLineConsumer()}
	b.lines = append(b.lines, line)
	return line
}

func (b *testBasket) OfferLines() []offer.Line {
	out := make([]offer.Line, 0, len(b.lines))
	for _, l := range b.lines {
		out = append(out, l)
	}
	return out
}

func (b *testBasket) Currency() string { return "GBP" }

func (b *testBasket) OfferApplications() *offer.Applications { return b.apps }

func (b *testBasket) totalDiscount() decimal.Decimal {
	total := decimal.Zero
	for _, l := range b.lines {
		total = total.Add(l.discount)
	}
	return total
}

func allRange(name string) *offer.Range {
	return &offer.Range{ID: uuid.New(), Name: name, IncludesAll: true}
}

func newOffer(name string, cond *offer.Condition, ben *offer.Benefit) *offer.ConditionalOffer {
	return &offer.ConditionalOffer{
		ID:        uuid.New(),
		Name:      name,
		Type:      offer.SiteOffer,
		Status:    offer.StatusOpen,
		Condition: cond,
		Benefit:   ben,
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}
