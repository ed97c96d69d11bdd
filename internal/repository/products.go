package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/storefront/internal/domain"
)

const productColumns = `id, name, description, price, image_url, category, stock, featured, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner, p *domain.Product) error {
	return row.Scan(
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

func (r *Repository) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	var p domain.Product
	err := scanProduct(r.db.QueryRowContext(ctx, query, id), &p)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query product %s: %w", id, err)
	}
	return &p, nil
}

// GetProducts returns the products that exist among ids. Unknown ids are
// silently skipped.
func (r *Repository) GetProducts(ctx context.Context, ids []string) ([]domain.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + productColumns + ` FROM products WHERE id IN (` + placeholders(1, len(ids)) + `) ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, stringArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, len(ids))
	for rows.Next() {
		var p domain.Product
		if err := scanProduct(rows, &p); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

// UpsertProducts loads catalog rows, replacing existing ones by id. The
// storefront never edits the catalog; this backs the seed command and tests.
func (r *Repository) UpsertProducts(ctx context.Context, products []domain.Product) error {
	query := `INSERT INTO products (` + productColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	          ON CONFLICT (id) DO UPDATE SET
	              name = excluded.name,
	              description = excluded.description,
	              price = excluded.price,
	              image_url = excluded.image_url,
	              category = excluded.category,
	              stock = excluded.stock,
	              featured = excluded.featured`

	for i := range products {
		p := &products[i]
		if p.CreatedAt.IsZero() {
			p.CreatedAt = time.Now().UTC()
		}
		_, err := r.db.ExecContext(ctx, query,
			p.ID,
			p.Name,
			p.Description,
			p.Price,
			p.ImageURL,
			p.Category,
			p.Stock,
			p.Featured,
			p.CreatedAt)
		if err != nil {
			return fmt.Errorf("upsert product %s: %w", p.ID, err)
		}
	}
	return nil
}
