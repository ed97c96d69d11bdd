package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const EventTypeOrderPlaced = "OrderPlaced"

type OutboxEvent struct {
	ID          string
	AggregateID string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// OrderedLine is the quantity of one cart line that went into an order.
type OrderedLine struct {
	CartItemID string `json:"cart_item_id"`
	Quantity   int    `json:"quantity"`
}

// OrderPlacedEvent is published once an order and its lines are persisted.
// CartLines lets consumers take exactly the ordered units out of the cart.
type OrderPlacedEvent struct {
	OrderID   string          `json:"order_id"`
	UserID    string          `json:"user_id"`
	Total     decimal.Decimal `json:"total"`
	CartLines []OrderedLine   `json:"cart_lines"`
	Items     []OrderItem     `json:"items"`
	PlacedAt  time.Time       `json:"placed_at"`
}

func NewOrderPlacedOutboxEvent(order *Order, cartLines []OrderedLine) (*OutboxEvent, error) {
	payload, err := json.Marshal(OrderPlacedEvent{
		OrderID:   order.ID,
		UserID:    order.UserID,
		Total:     order.Total,
		CartLines: cartLines,
		Items:     order.Items,
		PlacedAt:  order.CreatedAt,
	})
	if err != nil {
		return nil, err
	}
	return &OutboxEvent{
		AggregateID: order.ID,
		EventType:   EventTypeOrderPlaced,
		Payload:     payload,
		CreatedAt:   order.CreatedAt,
	}, nil
}
