package basket_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-offers/internal/catalog"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func intp(v int) *int { return &v }

type shop struct {
	store *catalog.MemoryStore
	books *catalog.ItemClass
}

func newShop() *shop {
	store := catalog.NewMemoryStore()
	books := store.AddClass(&catalog.ItemClass{Name: "Books", Slug: "books", TrackStock: true, RequiresShipping: true})
	return &shop{store: store, books: books}
}

// item adds a book with one stock record. An empty price leaves it unpriced.
func (s *shop) item(t *testing.T, title, currency, price string, inStock int) (*catalog.Item, *catalog.StockRecord) {
	t.Helper()
	item := &catalog.Item{
		Structure:  catalog.StructureStandalone,
		Title:      title,
		Class:      s.books,
		IsPublic:   true,
		Attributes: map[string]string{"weight": "0.5"},
	}
	require.NoError(t, s.store.AddItem(item))
	sr := &catalog.StockRecord{
		ItemID:     item.ID,
		Currency:   currency,
		PartnerSKU: title,
		NumInStock: intp(inStock),
	}
	if price != "" {
		sr.Price = decimal.NewNullDecimal(d(price))
	}
	require.NoError(t, s.store.AddStockRecord(sr))
	return item, sr
}
