package cache

import (
	"context"
	"errors"

	"github.com/fjod/storefront/internal/domain"
)

// CartCache holds the last confirmed view of a user's cart. Entries are
// dropped after every mutation and never patched.
type CartCache interface {
	Get(ctx context.Context, userID string) (*domain.CartView, error)
	Set(ctx context.Context, userID string, view *domain.CartView) error
	Delete(ctx context.Context, userID string) error
}

var ErrCacheMiss = errors.New("cache miss")
