package catalog

import (
	"context"

	"github.com/google/uuid"
)

// Repository supplies items with their family and stock records loaded. The
// returned graph is a snapshot: later stock changes are not reflected in it.
type Repository interface {
	Item(ctx context.Context, id uuid.UUID) (*Item, error)
	// ItemByCode resolves a UPC or a partner SKU.
	ItemByCode(ctx context.Context, code string) (*Item, error)
	// Items lists standalone and parent items in creation order.
	Items(ctx context.Context) ([]*Item, error)
	Categories(ctx context.Context) ([]*Category, error)
}
