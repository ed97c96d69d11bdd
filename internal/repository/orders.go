package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/google/uuid"
)

const orderColumns = `id, user_id, total, status, customer_name, customer_email, customer_address, idempotency_key, created_at`

func (r *Repository) CreateOrder(ctx context.Context, order *domain.Order) error {
	return createOrder(ctx, r.db, order)
}

func (r *Repository) CreateOrderItems(ctx context.Context, items []domain.OrderItem) error {
	return createOrderItems(ctx, r.db, items)
}

// createOrder inserts the order header and assigns its id when unset.
func createOrder(ctx context.Context, q execer, order *domain.Order) error {
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	if order.Status == "" {
		order.Status = domain.OrderStatusPending
	}

	query := `INSERT INTO orders (` + orderColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := q.ExecContext(ctx, query,
		order.ID,
		order.UserID,
		order.Total,
		order.Status,
		order.CustomerName,
		order.CustomerEmail,
		order.CustomerAddress,
		nullString(order.IdempotencyKey),
		order.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateCheckout
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// createOrderItems inserts the lines of one order, assigning ids when unset.
func createOrderItems(ctx context.Context, q execer, items []domain.OrderItem) error {
	query := `INSERT INTO order_items (id, order_id, product_id, quantity, price)
	          VALUES ($1, $2, $3, $4, $5)`

	for i := range items {
		item := &items[i]
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		_, err := q.ExecContext(ctx, query,
			item.ID,
			item.OrderID,
			item.ProductID,
			item.Quantity,
			item.Price)
		if err != nil {
			return fmt.Errorf("insert order item for product %s: %w", item.ProductID, err)
		}
	}
	return nil
}

// DeleteOrder removes an order together with its lines.
func (r *Repository) DeleteOrder(ctx context.Context, orderID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, orderID)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	return expectAffected(res, ErrOrderNotFound)
}

func (r *Repository) GetOrder(ctx context.Context, userID, orderID string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 AND user_id = $2`
	return r.getOrder(ctx, query, orderID, userID)
}

func (r *Repository) GetOrderByIdempotencyKey(ctx context.Context, userID, key string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 AND idempotency_key = $2`
	return r.getOrder(ctx, query, userID, key)
}

func (r *Repository) getOrder(ctx context.Context, query string, args ...any) (*domain.Order, error) {
	var order domain.Order
	err := scanOrder(r.db.QueryRowContext(ctx, query, args...), &order)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}

	items, err := r.listOrderItems(ctx, []string{order.ID})
	if err != nil {
		return nil, err
	}
	order.Items = items[order.ID]
	return &order, nil
}

// ListOrdersByUser returns the user's orders, newest first, with their lines.
func (r *Repository) ListOrdersByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}

	orders := []domain.Order{}
	for rows.Next() {
		var order domain.Order
		if err := scanOrder(rows, &order); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]string, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
	}
	items, err := r.listOrderItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, nil
}

func (r *Repository) listOrderItems(ctx context.Context, orderIDs []string) (map[string][]domain.OrderItem, error) {
	query := `SELECT id, order_id, product_id, quantity, price FROM order_items
	          WHERE order_id IN (` + placeholders(1, len(orderIDs)) + `) ORDER BY order_id, product_id`

	rows, err := r.db.QueryContext(ctx, query, stringArgs(orderIDs)...)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	byOrder := make(map[string][]domain.OrderItem, len(orderIDs))
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.Price); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		byOrder[item.OrderID] = append(byOrder[item.OrderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return byOrder, nil
}

func scanOrder(row rowScanner, order *domain.Order) error {
	var key sql.NullString
	err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.Total,
		&order.Status,
		&order.CustomerName,
		&order.CustomerEmail,
		&order.CustomerAddress,
		&key,
		&order.CreatedAt,
	)
	order.IdempotencyKey = key.String
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
