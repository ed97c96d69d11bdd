package repository

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/fjod/storefront/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCatalog = []domain.Product{
	{ID: "prod-a", Name: "Kettle", Price: decimal.RequireFromString("10.00"), Category: "kitchen", Stock: 5},
	{ID: "prod-b", Name: "Mug", Price: decimal.RequireFromString("5.50"), Category: "kitchen", Stock: 20, Featured: true},
	{ID: "prod-c", Name: "Teapot", Price: decimal.RequireFromString("32.99"), Category: "kitchen", Stock: 1},
}

func setupSQLite(t *testing.T) *Repository {
	t.Helper()

	repo, err := NewRepository(&Credentials{
		Driver:     DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "storefront.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	require.NoError(t, repo.RunMigrations(""))
	seedCatalog(t, repo)
	return repo
}

func seedCatalog(t *testing.T, repo *Repository) {
	t.Helper()
	products := make([]domain.Product, len(testCatalog))
	copy(products, testCatalog)
	require.NoError(t, repo.UpsertProducts(context.Background(), products))
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func newTestOrder(userID, key string) *domain.Order {
	return &domain.Order{
		UserID:          userID,
		Total:           decimal.RequireFromString("25.50"),
		CustomerName:    "Ada Lovelace",
		CustomerEmail:   "ada@example.com",
		CustomerAddress: "12 Analytical St",
		IdempotencyKey:  key,
	}
}
