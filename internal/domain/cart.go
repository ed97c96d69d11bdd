package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartItem is one line of a user's cart. Product is a joined snapshot and is
// never stored with the line itself.
type CartItem struct {
	ID        string    `json:"id" bson:"_id"`
	UserID    string    `json:"user_id" bson:"user_id"`
	ProductID string    `json:"product_id" bson:"product_id"`
	Quantity  int       `json:"quantity" bson:"quantity"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	Product   Product   `json:"product" bson:"-"`
}

// Subtotal is unit price times quantity using the joined price snapshot.
func (i CartItem) Subtotal() decimal.Decimal {
	return i.Product.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// CartView is the server-confirmed content of one user's cart.
type CartView struct {
	UserID string     `json:"user_id"`
	Items  []CartItem `json:"items"`
}

// Total sums the line subtotals of the view. An empty view totals zero.
func (v CartView) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range v.Items {
		total = total.Add(item.Subtotal())
	}
	return total
}

func (v CartView) IsEmpty() bool {
	return len(v.Items) == 0
}

// Find returns the line holding productID, if any.
func (v CartView) Find(productID string) (CartItem, bool) {
	for _, item := range v.Items {
		if item.ProductID == productID {
			return item, true
		}
	}
	return CartItem{}, false
}

// OrderedLines lists the id and quantity of every line in the view.
func (v CartView) OrderedLines() []OrderedLine {
	lines := make([]OrderedLine, len(v.Items))
	for i, item := range v.Items {
		lines[i] = OrderedLine{CartItemID: item.ID, Quantity: item.Quantity}
	}
	return lines
}
