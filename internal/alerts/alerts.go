package alerts

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status values shared by stock alerts and subscriptions.
type Status string

const (
	StatusOpen      Status = "open"
	StatusActive    Status = "active"
	StatusClosed    Status = "closed"
	StatusCancelled Status = "cancelled"
)

var (
	// ErrNotFound is returned when an alert or subscription does not exist.
	ErrNotFound = errors.New("alert not found")
	// ErrAlreadySubscribed is returned when the recipient already waits for the item.
	ErrAlreadySubscribed = errors.New("already subscribed to this item")
	// ErrInStock is returned when subscribing to an item that can be bought now.
	ErrInStock = errors.New("item is in stock")
)

// StockAlert flags a stock record whose net level fell below its threshold.
// At most one alert per record is open at a time.
type StockAlert struct {
	ID            uuid.UUID  `json:"id"`
	StockRecordID uuid.UUID  `json:"stock_record_id"`
	ItemID        uuid.UUID  `json:"item_id"`
	Threshold     int        `json:"threshold"`
	Status        Status     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
}

// Subscription asks for an email once an item is back in stock.
type Subscription struct {
	ID        uuid.UUID  `json:"id"`
	ItemID    uuid.UUID  `json:"item_id"`
	UserID    string     `json:"user_id,omitempty"`
	Email     string     `json:"email"`
	Status    Status     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

// Store persists alerts and subscriptions.
type Store interface {
	// RaiseAlert inserts a when no open alert exists for its stock record
	// and reports whether it did.
	RaiseAlert(ctx context.Context, a *StockAlert) (bool, error)
	// CloseAlerts closes the open alerts of a stock record.
	CloseAlerts(ctx context.Context, stockRecordID uuid.UUID, at time.Time) (int, error)
	ListAlerts(ctx context.Context, status Status) ([]StockAlert, error)

	InsertSubscription(ctx context.Context, s *Subscription) error
	Subscription(ctx context.Context, id uuid.UUID) (*Subscription, error)
	ActiveSubscriptions(ctx context.Context, itemID uuid.UUID) ([]Subscription, error)
	SetSubscriptionStatus(ctx context.Context, id uuid.UUID, status Status, at time.Time) error
}
