package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/toko-offers/internal/catalog"
)

// CatalogSnapshot is a full catalogue to import.
type CatalogSnapshot struct {
	Classes    []*catalog.ItemClass
	Categories []*catalog.Category
	// Items holds standalone and parent items; children hang off their parents.
	Items []*catalog.Item
}

// ImportCatalog upserts snapshot in one transaction. Stock levels of records
// that already exist are left alone so a reseed never resets allocations.
func (s *CatalogStore) ImportCatalog(ctx context.Context, snapshot CatalogSnapshot) error {
	if s == nil || s.DB == nil {
		return ErrStoreUnavailable
	}
	return pgx.BeginFunc(ctx, s.DB, func(tx pgx.Tx) error {
		for _, c := range snapshot.Classes {
			if _, err := tx.Exec(ctx, `
INSERT INTO item_classes (id, name, slug, requires_shipping, track_stock)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, slug = EXCLUDED.slug,
  requires_shipping = EXCLUDED.requires_shipping, track_stock = EXCLUDED.track_stock`,
				c.ID, c.Name, c.Slug, c.RequiresShipping, c.TrackStock); err != nil {
				return fmt.Errorf("upsert class %s: %w", c.Slug, err)
			}
		}
		for _, c := range snapshot.Categories {
			if _, err := tx.Exec(ctx, `
INSERT INTO categories (id, name, slug, path, depth)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, slug = EXCLUDED.slug, path = EXCLUDED.path, depth = EXCLUDED.depth`,
				c.ID, c.Name, c.Slug, c.Path, c.Depth); err != nil {
				return fmt.Errorf("upsert category %s: %w", c.Slug, err)
			}
		}
		for _, item := range snapshot.Items {
			if err := upsertItem(ctx, tx, item); err != nil {
				return err
			}
			for _, child := range item.Children {
				if err := upsertItem(ctx, tx, child); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func upsertItem(ctx context.Context, tx pgx.Tx, item *catalog.Item) error {
	var classID, parentID any
	if item.Class != nil {
		classID = item.Class.ID
	}
	if item.Parent != nil {
		parentID = item.Parent.ID
	}
	var upc any
	if item.UPC != "" {
		upc = item.UPC
	}
	attrs := item.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	if _, err := tx.Exec(ctx, `
INSERT INTO items (id, structure, upc, title, slug, class_id, parent_id, is_discountable, is_public, attributes, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO UPDATE SET structure = EXCLUDED.structure, upc = EXCLUDED.upc, title = EXCLUDED.title,
  slug = EXCLUDED.slug, class_id = EXCLUDED.class_id, parent_id = EXCLUDED.parent_id,
  is_discountable = EXCLUDED.is_discountable, is_public = EXCLUDED.is_public, attributes = EXCLUDED.attributes`,
		item.ID, string(item.Structure), upc, item.Title, item.Slug, classID, parentID, item.Discountable, item.IsPublic, attrs, item.CreatedAt); err != nil {
		return fmt.Errorf("upsert item %s: %w", item.ID, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM item_categories WHERE item_id = $1`, item.ID); err != nil {
		return err
	}
	for _, c := range item.Categories {
		if _, err := tx.Exec(ctx, `INSERT INTO item_categories (item_id, category_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, item.ID, c.ID); err != nil {
			return fmt.Errorf("link item %s to %s: %w", item.ID, c.Slug, err)
		}
	}
	for _, sr := range item.StockRecords {
		if _, err := tx.Exec(ctx, `
INSERT INTO stock_records (id, item_id, partner_id, partner_name, partner_sku, currency, price, num_in_stock, num_allocated, low_stock_threshold, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (id) DO UPDATE SET partner_name = EXCLUDED.partner_name, currency = EXCLUDED.currency,
  price = EXCLUDED.price, low_stock_threshold = EXCLUDED.low_stock_threshold, updated_at = now()`,
			sr.ID, item.ID, sr.PartnerID, sr.PartnerName, sr.PartnerSKU, sr.Currency, sr.Price,
			sr.NumInStock, sr.NumAllocated, sr.LowStockThreshold, sr.CreatedAt, sr.UpdatedAt); err != nil {
			return fmt.Errorf("upsert stock record %s: %w", sr.PartnerSKU, err)
		}
	}
	return nil
}
