package events

import "github.com/google/uuid"

// Topic constants for domain events emitted by the platform.
const (
	TopicStockChanged    = "stock.changed"
	TopicBasketLineAdded = "basket.line_added"
	TopicOrderPlaced     = "order.placed"
	TopicItemViewed      = "item.viewed"
)

// DefaultTopics returns the canonical list of topics.
func DefaultTopics() []string {
	return []string{
		TopicStockChanged,
		TopicBasketLineAdded,
		TopicOrderPlaced,
		TopicItemViewed,
	}
}

// StockChanged is the payload of TopicStockChanged.
type StockChanged struct {
	StockRecordID     uuid.UUID `json:"stock_record_id"`
	ItemID            uuid.UUID `json:"item_id"`
	Reason            string    `json:"reason"`
	Quantity          int       `json:"quantity"`
	NetBefore         int       `json:"net_before"`
	NetAfter          int       `json:"net_after"`
	LowStockThreshold *int      `json:"low_stock_threshold,omitempty"`
}

// BasketLineAdded is the payload of TopicBasketLineAdded.
type BasketLineAdded struct {
	BasketID uuid.UUID `json:"basket_id"`
	ItemID   uuid.UUID `json:"item_id"`
	UserID   string    `json:"user_id,omitempty"`
	Quantity int       `json:"quantity"`
}

// OrderLine is one purchased line inside OrderPlaced.
type OrderLine struct {
	ItemID        uuid.UUID `json:"item_id"`
	StockRecordID uuid.UUID `json:"stock_record_id"`
	Quantity      int       `json:"quantity"`
}

// OrderPlaced is the payload of TopicOrderPlaced.
type OrderPlaced struct {
	BasketID uuid.UUID   `json:"basket_id"`
	UserID   string      `json:"user_id,omitempty"`
	Currency string      `json:"currency"`
	Total    string      `json:"total"`
	Lines    []OrderLine `json:"lines"`
}

// ItemViewed is the payload of TopicItemViewed.
type ItemViewed struct {
	ItemID uuid.UUID `json:"item_id"`
	UserID string    `json:"user_id,omitempty"`
}
