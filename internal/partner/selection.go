package partner

import (
	"sort"

	"github.com/noah-isme/toko-offers/internal/catalog"
)

// StockSelector chooses the stock record that governs purchase of an item.
type StockSelector interface {
	SelectStockRecord(item *catalog.Item) *catalog.StockRecord
}

// ChildStock pairs a public child with its selected stock record, which may be nil.
type ChildStock struct {
	Item        *catalog.Item
	StockRecord *catalog.StockRecord
}

// FirstStockRecord selects the oldest stock record. Records created at the
// same instant are ordered by id so the choice never depends on storage order.
type FirstStockRecord struct{}

// SelectStockRecord implements StockSelector.
func (FirstStockRecord) SelectStockRecord(item *catalog.Item) *catalog.StockRecord {
	if item == nil || len(item.StockRecords) == 0 {
		return nil
	}
	return ordered(item.StockRecords)[0]
}

// CheapestStockRecord selects the lowest priced record, falling back to the
// FirstStockRecord order for ties and for records without a price.
type CheapestStockRecord struct{}

// SelectStockRecord implements StockSelector.
func (CheapestStockRecord) SelectStockRecord(item *catalog.Item) *catalog.StockRecord {
	if item == nil || len(item.StockRecords) == 0 {
		return nil
	}
	var best *catalog.StockRecord
	for _, sr := range ordered(item.StockRecords) {
		if !sr.Price.Valid {
			continue
		}
		if best == nil || sr.Price.Decimal.LessThan(best.Price.Decimal) {
			best = sr
		}
	}
	if best == nil {
		return ordered(item.StockRecords)[0]
	}
	return best
}

// SelectChildrenStockRecords resolves a stock record for every public child
// of item, in catalogue order.
func SelectChildrenStockRecords(selector StockSelector, item *catalog.Item) []ChildStock {
	children := item.PublicChildren()
	out := make([]ChildStock, 0, len(children))
	for _, child := range children {
		out = append(out, ChildStock{Item: child, StockRecord: selector.SelectStockRecord(child)})
	}
	return out
}

func ordered(records []*catalog.StockRecord) []*catalog.StockRecord {
	out := make([]*catalog.StockRecord, 0, len(records))
	for _, sr := range records {
		if sr != nil {
			out = append(out, sr)
		}
	}
	if len(out) == 0 {
		return []*catalog.StockRecord{nil}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
