package offer

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-offers/internal/catalog"
)

// Line is the view of a basket line that conditions and benefits operate on.
type Line interface {
	Item() *catalog.Item
	StockRecord() *catalog.StockRecord
	Quantity() int
	// UnitEffectivePrice is the unit price used for offer arithmetic.
	UnitEffectivePrice() decimal.Decimal
	Consumer() *LineConsumer
	// Discount records a discount of amount spread over affected units and
	// consumes those units for offer.
	Discount(amount decimal.Decimal, affected int, offer *ConditionalOffer)
}

// Basket is the view of a basket needed to apply offers.
type Basket interface {
	OfferLines() []Line
	Currency() string
	OfferApplications() *Applications
}

// LineConsumer tracks how many units of a line each offer has consumed.
type LineConsumer struct {
	consumed map[uuid.UUID]int
	offers   map[uuid.UUID]*ConditionalOffer
}

// NewLineConsumer returns an empty consumer.
func NewLineConsumer() *LineConsumer {
	return &LineConsumer{
		consumed: make(map[uuid.UUID]int),
		offers:   make(map[uuid.UUID]*ConditionalOffer),
	}
}

// Consume marks up to quantity units of a line of size lineQuantity as used
// by offer and returns how many were actually taken.
func (c *LineConsumer) Consume(lineQuantity, quantity int, offer *ConditionalOffer) int {
	take := min(quantity, c.Available(lineQuantity, offer))
	if take <= 0 {
		return 0
	}
	c.offers[offer.ID] = offer
	c.consumed[offer.ID] += take
	return take
}

// Consumed returns the units consumed by offer. A nil offer returns the
// largest consumption by any offer.
func (c *LineConsumer) Consumed(offer *ConditionalOffer) int {
	if offer != nil {
		return c.consumed[offer.ID]
	}
	most := 0
	for _, n := range c.consumed {
		most = max(most, n)
	}
	return most
}

// Available returns the units of the line still open to offer. Exclusive
// offers cannot share a line with any other offer.
func (c *LineConsumer) Available(lineQuantity int, offer *ConditionalOffer) int {
	if offer == nil {
		return max(lineQuantity-c.Consumed(nil), 0)
	}
	for id, n := range c.consumed {
		if id == offer.ID || n == 0 {
			continue
		}
		if offer.Exclusive || c.offers[id].Exclusive {
			return 0
		}
	}
	return max(lineQuantity-c.consumed[offer.ID], 0)
}

// Offers returns the offers that consumed part of the line.
func (c *LineConsumer) Offers() map[uuid.UUID]*ConditionalOffer {
	out := make(map[uuid.UUID]*ConditionalOffer, len(c.offers))
	for id, o := range c.offers {
		out[id] = o
	}
	return out
}

// Reset forgets all consumption.
func (c *LineConsumer) Reset() {
	clear(c.consumed)
	clear(c.offers)
}

// availableFor is the number of units of line that offer may still use.
func availableFor(line Line, offer *ConditionalOffer) int {
	return line.Consumer().Available(line.Quantity(), offer)
}

// consume takes units of line for offer without recording a discount.
func consume(line Line, quantity int, offer *ConditionalOffer) int {
	return line.Consumer().Consume(line.Quantity(), quantity, offer)
}
