package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/toko-offers/internal/catalog"
)

// StockRecord implements stock.Store.
func (s *CatalogStore) StockRecord(ctx context.Context, id uuid.UUID) (*catalog.StockRecord, error) {
	if s == nil || s.DB == nil {
		return nil, ErrStoreUnavailable
	}
	sr, err := scanStockRecord(s.DB.QueryRow(ctx, `SELECT `+stockRecordColumns+` FROM stock_records WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("stock record %s: %w", id, catalog.ErrNotFound)
	}
	return sr, err
}

// Allocate implements stock.Store. The net level check and the increment
// happen in one statement.
func (s *CatalogStore) Allocate(ctx context.Context, id uuid.UUID, quantity int) (*catalog.StockRecord, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("allocate %d: %w", quantity, catalog.ErrInvalidStockAdjustment)
	}
	return s.update(ctx, id, catalog.ErrInsufficientStock, `
UPDATE stock_records
SET num_allocated = num_allocated + $2, updated_at = now()
WHERE id = $1 AND (num_in_stock IS NULL OR num_in_stock - num_allocated >= $2)
RETURNING `+stockRecordColumns, id, quantity)
}

// ConsumeAllocation implements stock.Store.
func (s *CatalogStore) ConsumeAllocation(ctx context.Context, id uuid.UUID, quantity int) (*catalog.StockRecord, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("consume %d: %w", quantity, catalog.ErrInvalidStockAdjustment)
	}
	return s.update(ctx, id, catalog.ErrInvalidStockAdjustment, `
UPDATE stock_records
SET num_allocated = num_allocated - $2,
    num_in_stock = CASE WHEN num_in_stock IS NULL THEN NULL ELSE num_in_stock - $2 END,
    updated_at = now()
WHERE id = $1 AND num_allocated >= $2 AND (num_in_stock IS NULL OR num_in_stock >= $2)
RETURNING `+stockRecordColumns, id, quantity)
}

// CancelAllocation implements stock.Store. It never releases more than is allocated.
func (s *CatalogStore) CancelAllocation(ctx context.Context, id uuid.UUID, quantity int) (*catalog.StockRecord, error) {
	if quantity <= 0 {
		return s.StockRecord(ctx, id)
	}
	return s.update(ctx, id, nil, `
UPDATE stock_records
SET num_allocated = num_allocated - LEAST(num_allocated, $2), updated_at = now()
WHERE id = $1
RETURNING `+stockRecordColumns, id, quantity)
}

// SetNumInStock implements stock.Store.
func (s *CatalogStore) SetNumInStock(ctx context.Context, id uuid.UUID, numInStock int) (*catalog.StockRecord, error) {
	if numInStock < 0 {
		return nil, fmt.Errorf("stock count %d: %w", numInStock, catalog.ErrInvalidStockAdjustment)
	}
	return s.update(ctx, id, nil, `
UPDATE stock_records SET num_in_stock = $2, updated_at = now()
WHERE id = $1
RETURNING `+stockRecordColumns, id, numInStock)
}

// update runs a conditional UPDATE ... RETURNING. When no row comes back it
// tells a missing record apart from a refused change.
func (s *CatalogStore) update(ctx context.Context, id uuid.UUID, refused error, sql string, args ...any) (*catalog.StockRecord, error) {
	if s == nil || s.DB == nil {
		return nil, ErrStoreUnavailable
	}
	sr, err := scanStockRecord(s.DB.QueryRow(ctx, sql, args...))
	if err == nil {
		return sr, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	current, lookupErr := s.StockRecord(ctx, id)
	if lookupErr != nil {
		return nil, lookupErr
	}
	if refused == nil {
		return current, nil
	}
	return nil, fmt.Errorf("stock record %s at net %d: %w", id, current.NetStockLevel(), refused)
}
