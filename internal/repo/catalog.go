package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/toko-offers/internal/catalog"
)

const stockRecordColumns = `id, item_id, partner_id, partner_name, partner_sku, currency, price, num_in_stock, num_allocated, low_stock_threshold, created_at, updated_at`

const itemColumns = `id, structure, COALESCE(upc, ''), title, slug, class_id, parent_id, is_discountable, is_public, attributes, created_at`

// CatalogStore reads the catalogue from Postgres and applies stock record
// mutations as single conditional statements.
type CatalogStore struct {
	DB DB
}

// NewCatalogStore wraps db.
func NewCatalogStore(db DB) *CatalogStore {
	return &CatalogStore{DB: db}
}

// Item implements catalog.Repository.
func (s *CatalogStore) Item(ctx context.Context, id uuid.UUID) (*catalog.Item, error) {
	if s == nil || s.DB == nil {
		return nil, ErrStoreUnavailable
	}
	var parentID *uuid.UUID
	err := s.DB.QueryRow(ctx, `SELECT parent_id FROM items WHERE id = $1`, id).Scan(&parentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("item %s: %w", id, catalog.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	root := id
	if parentID != nil {
		root = *parentID
	}
	families, err := s.loadFamilies(ctx, []uuid.UUID{root})
	if err != nil {
		return nil, err
	}
	if len(families) == 0 {
		return nil, fmt.Errorf("item %s: %w", id, catalog.ErrNotFound)
	}
	return findInFamily(families[0], id), nil
}

// ItemByCode implements catalog.Repository.
func (s *CatalogStore) ItemByCode(ctx context.Context, code string) (*catalog.Item, error) {
	if s == nil || s.DB == nil {
		return nil, ErrStoreUnavailable
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("empty code: %w", catalog.ErrNotFound)
	}
	var id uuid.UUID
	err := s.DB.QueryRow(ctx, `
SELECT id FROM items WHERE upc = $1
UNION ALL
SELECT item_id FROM stock_records WHERE partner_sku = $1
LIMIT 1`, code).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("code %q: %w", code, catalog.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return s.Item(ctx, id)
}

// Items implements catalog.Repository.
func (s *CatalogStore) Items(ctx context.Context) ([]*catalog.Item, error) {
	if s == nil || s.DB == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.DB.Query(ctx, `SELECT id FROM items WHERE parent_id IS NULL ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*catalog.Item{}, nil
	}
	return s.loadFamilies(ctx, ids)
}

// Categories implements catalog.Repository.
func (s *CatalogStore) Categories(ctx context.Context) ([]*catalog.Category, error) {
	if s == nil || s.DB == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.DB.Query(ctx, `SELECT id, name, slug, path, depth FROM categories ORDER BY path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*catalog.Category, 0)
	for rows.Next() {
		var c catalog.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Slug, &c.Path, &c.Depth); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// Classes lists item classes ordered by slug.
func (s *CatalogStore) Classes(ctx context.Context) ([]*catalog.ItemClass, error) {
	if s == nil || s.DB == nil {
		return nil, ErrStoreUnavailable
	}
	classes, err := s.classes(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*catalog.ItemClass, 0, len(classes))
	for _, c := range classes {
		out = append(out, c)
	}
	return out, nil
}

// loadFamilies loads the given root items with their children, classes,
// categories and stock records, preserving the order of roots.
func (s *CatalogStore) loadFamilies(ctx context.Context, roots []uuid.UUID) ([]*catalog.Item, error) {
	classes, err := s.classes(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.Query(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ANY($1) OR parent_id = ANY($1) ORDER BY created_at, id`, roots)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*catalog.Item)
	parents := make(map[uuid.UUID]uuid.UUID)
	var order []*catalog.Item
	for rows.Next() {
		item, classID, parentID, err := scanItem(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		if classID != nil {
			item.Class = classes[*classID]
		}
		if parentID != nil {
			parents[item.ID] = *parentID
		}
		byID[item.ID] = item
		order = append(order, item)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, item := range order {
		parentID, ok := parents[item.ID]
		if !ok {
			continue
		}
		if parent, ok := byID[parentID]; ok {
			item.Parent = parent
			parent.Children = append(parent.Children, item)
		}
	}
	ids := make([]uuid.UUID, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	if err := s.attachCategories(ctx, ids, byID); err != nil {
		return nil, err
	}
	if err := s.attachStockRecords(ctx, ids, byID); err != nil {
		return nil, err
	}
	out := make([]*catalog.Item, 0, len(roots))
	for _, id := range roots {
		if item, ok := byID[id]; ok {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *CatalogStore) classes(ctx context.Context) (map[uuid.UUID]*catalog.ItemClass, error) {
	rows, err := s.DB.Query(ctx, `SELECT id, name, slug, requires_shipping, track_stock FROM item_classes ORDER BY slug`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[uuid.UUID]*catalog.ItemClass)
	for rows.Next() {
		var c catalog.ItemClass
		if err := rows.Scan(&c.ID, &c.Name, &c.Slug, &c.RequiresShipping, &c.TrackStock); err != nil {
			return nil, err
		}
		out[c.ID] = &c
	}
	return out, rows.Err()
}

func (s *CatalogStore) attachCategories(ctx context.Context, ids []uuid.UUID, byID map[uuid.UUID]*catalog.Item) error {
	rows, err := s.DB.Query(ctx, `
SELECT ic.item_id, c.id, c.name, c.slug, c.path, c.depth
FROM item_categories ic
JOIN categories c ON c.id = ic.category_id
WHERE ic.item_id = ANY($1)
ORDER BY c.path`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var itemID uuid.UUID
		var c catalog.Category
		if err := rows.Scan(&itemID, &c.ID, &c.Name, &c.Slug, &c.Path, &c.Depth); err != nil {
			return err
		}
		if item, ok := byID[itemID]; ok {
			item.Categories = append(item.Categories, &c)
		}
	}
	return rows.Err()
}

func (s *CatalogStore) attachStockRecords(ctx context.Context, ids []uuid.UUID, byID map[uuid.UUID]*catalog.Item) error {
	rows, err := s.DB.Query(ctx, `SELECT `+stockRecordColumns+` FROM stock_records WHERE item_id = ANY($1) ORDER BY created_at, id`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		sr, err := scanStockRecord(rows)
		if err != nil {
			return err
		}
		if item, ok := byID[sr.ItemID]; ok {
			item.StockRecords = append(item.StockRecords, sr)
		}
	}
	return rows.Err()
}

func findInFamily(root *catalog.Item, id uuid.UUID) *catalog.Item {
	if root.ID == id {
		return root
	}
	for _, child := range root.Children {
		if child.ID == id {
			return child
		}
	}
	return root
}

func scanItem(row pgx.Row) (*catalog.Item, *uuid.UUID, *uuid.UUID, error) {
	var (
		item      catalog.Item
		structure string
		classID   *uuid.UUID
		parentID  *uuid.UUID
		attrs     map[string]string
	)
	if err := row.Scan(&item.ID, &structure, &item.UPC, &item.Title, &item.Slug, &classID, &parentID, &item.Discountable, &item.IsPublic, &attrs, &item.CreatedAt); err != nil {
		return nil, nil, nil, err
	}
	item.Structure = catalog.Structure(structure)
	if len(attrs) > 0 {
		item.Attributes = attrs
	}
	return &item, classID, parentID, nil
}

func scanStockRecord(row pgx.Row) (*catalog.StockRecord, error) {
	var sr catalog.StockRecord
	err := row.Scan(&sr.ID, &sr.ItemID, &sr.PartnerID, &sr.PartnerName, &sr.PartnerSKU, &sr.Currency, &sr.Price,
		&sr.NumInStock, &sr.NumAllocated, &sr.LowStockThreshold, &sr.CreatedAt, &sr.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &sr, nil
}
