package partner

import "github.com/noah-isme/toko-offers/internal/catalog"

// AvailabilityPolicy decides whether an item may be bought.
type AvailabilityPolicy interface {
	AvailabilityFor(item *catalog.Item, sr *catalog.StockRecord) Availability
	ParentAvailabilityFor(item *catalog.Item, children []ChildStock) Availability
}

// StockRequiredPolicy requires a stock record and, for classes that track
// stock, a positive net stock level.
type StockRequiredPolicy struct{}

// AvailabilityFor implements AvailabilityPolicy.
func (StockRequiredPolicy) AvailabilityFor(item *catalog.Item, sr *catalog.StockRecord) Availability {
	if sr == nil {
		return Unavailable()
	}
	if item != nil && !item.TracksStock() {
		return Available()
	}
	return StockRequired(sr.NetStockLevel())
}

// ParentAvailabilityFor implements AvailabilityPolicy. A parent is available
// when any public child is.
func (p StockRequiredPolicy) ParentAvailabilityFor(_ *catalog.Item, children []ChildStock) Availability {
	for _, cs := range children {
		if p.AvailabilityFor(cs.Item, cs.StockRecord).IsAvailableToBuy() {
			return Available()
		}
	}
	return Unavailable()
}
