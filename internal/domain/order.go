package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending OrderStatus = "pending"
)

// OrderItem is one ordered line. Price is the unit price captured when the
// order was created and is never re-read from the catalog.
type OrderItem struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

type Order struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	Total           decimal.Decimal `json:"total"`
	Status          OrderStatus     `json:"status"`
	CustomerName    string          `json:"customer_name"`
	CustomerEmail   string          `json:"customer_email"`
	CustomerAddress string          `json:"customer_address"`
	IdempotencyKey  string          `json:"idempotency_key,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	Items           []OrderItem     `json:"items"`
}

// ShippingDetails is the checkout form snapshot copied onto the order.
type ShippingDetails struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Address string `json:"address"`
}

// Validate requires every field to be non-blank.
func (s ShippingDetails) Validate() error {
	fields := []struct {
		name, value string
	}{
		{"name", s.Name},
		{"email", s.Email},
		{"address", s.Address},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return &FieldError{Field: f.name, Reason: "must not be blank"}
		}
	}
	return nil
}

// NewOrderItems snapshots each cart line into an order line.
func NewOrderItems(orderID string, view CartView) []OrderItem {
	items := make([]OrderItem, len(view.Items))
	for i, line := range view.Items {
		items[i] = OrderItem{
			OrderID:   orderID,
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			Price:     line.Product.Price,
		}
	}
	return items
}
