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

const cartItemJoin = `SELECT ci.id, ci.user_id, ci.product_id, ci.quantity, ci.created_at,
	       p.id, p.name, p.description, p.price, p.image_url, p.category, p.stock, p.featured, p.created_at
	FROM cart_items ci
	JOIN products p ON p.id = ci.product_id`

func scanCartItem(row rowScanner, item *domain.CartItem) error {
	p := &item.Product
	return row.Scan(
		&item.ID,
		&item.UserID,
		&item.ProductID,
		&item.Quantity,
		&item.CreatedAt,
		&p.ID,
		&p.Name,
		&p.Description,
		&p.Price,
		&p.ImageURL,
		&p.Category,
		&p.Stock,
		&p.Featured,
		&p.CreatedAt,
	)
}

// ListItems returns every line of the user's cart in insertion order.
func (r *Repository) ListItems(ctx context.Context, userID string) ([]domain.CartItem, error) {
	query := cartItemJoin + ` WHERE ci.user_id = $1 ORDER BY ci.created_at, ci.id`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query cart items: %w", err)
	}
	defer rows.Close()

	items := []domain.CartItem{}
	for rows.Next() {
		var item domain.CartItem
		if err := scanCartItem(rows, &item); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart items: %w", err)
	}
	return items, nil
}

func (r *Repository) GetItemByProduct(ctx context.Context, userID, productID string) (*domain.CartItem, error) {
	query := cartItemJoin + ` WHERE ci.user_id = $1 AND ci.product_id = $2`

	var item domain.CartItem
	err := scanCartItem(r.db.QueryRowContext(ctx, query, userID, productID), &item)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCartItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query cart item: %w", err)
	}
	return &item, nil
}

// InsertItem stores a new line and assigns its id. A second line for the same
// (user, product) pair fails with ErrDuplicateCartItem.
func (r *Repository) InsertItem(ctx context.Context, item *domain.CartItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO cart_items (id, user_id, product_id, quantity, created_at)
	          VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.ExecContext(ctx, query,
		item.ID,
		item.UserID,
		item.ProductID,
		item.Quantity,
		item.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateCartItem
		}
		return fmt.Errorf("insert cart item: %w", err)
	}
	return nil
}

func (r *Repository) UpdateItemQuantity(ctx context.Context, userID, itemID string, quantity int) error {
	query := `UPDATE cart_items SET quantity = $1 WHERE id = $2 AND user_id = $3`

	res, err := r.db.ExecContext(ctx, query, quantity, itemID, userID)
	if err != nil {
		return fmt.Errorf("update cart item quantity: %w", err)
	}
	return expectAffected(res, ErrCartItemNotFound)
}

func (r *Repository) DeleteItem(ctx context.Context, userID, itemID string) error {
	query := `DELETE FROM cart_items WHERE id = $1 AND user_id = $2`

	res, err := r.db.ExecContext(ctx, query, itemID, userID)
	if err != nil {
		return fmt.Errorf("delete cart item: %w", err)
	}
	return expectAffected(res, ErrCartItemNotFound)
}

// SubtractItems lowers each listed line by its quantity inside one
// transaction. A line left with nothing is deleted; unknown lines are skipped.
func (r *Repository) SubtractItems(ctx context.Context, userID string, lines []domain.OrderedLine) (int64, error) {
	if len(lines) == 0 {
		return 0, nil
	}
	// quantity > 0 is a table constraint, so a line is either reduced or deleted
	reduce := `UPDATE cart_items SET quantity = quantity - $1
	           WHERE id = $2 AND user_id = $3 AND quantity > $1`
	remove := `DELETE FROM cart_items WHERE id = $1 AND user_id = $2 AND quantity <= $3`

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var changed int64
	for _, line := range lines {
		if line.Quantity <= 0 {
			continue
		}
		res, err := tx.ExecContext(ctx, reduce, line.Quantity, line.CartItemID, userID)
		if err != nil {
			return 0, fmt.Errorf("reduce cart item %s: %w", line.CartItemID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			res, err = tx.ExecContext(ctx, remove, line.CartItemID, userID, line.Quantity)
			if err != nil {
				return 0, fmt.Errorf("delete cart item %s: %w", line.CartItemID, err)
			}
			if n, err = res.RowsAffected(); err != nil {
				return 0, fmt.Errorf("rows affected: %w", err)
			}
		}
		changed += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return changed, nil
}

// DeleteCart removes every line of the user. An already empty cart is not an
// error.
func (r *Repository) DeleteCart(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete cart: %w", err)
	}
	return nil
}

func expectAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
