package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/storefront/internal/domain"
)

var (
	ErrCartItemNotFound  = fmt.Errorf("cart item %w", domain.ErrNotFound)
	ErrProductNotFound   = fmt.Errorf("product %w", domain.ErrNotFound)
	ErrOrderNotFound     = fmt.Errorf("order %w", domain.ErrNotFound)
	ErrDuplicateCartItem = fmt.Errorf("cart item for product %w", domain.ErrAlreadyExists)
	ErrDuplicateCheckout = fmt.Errorf("order with idempotency key %w", domain.ErrAlreadyExists)

	errUnsupportedDriver = errors.New("unsupported database driver")
)

// CartRepository stores cart lines. Lines returned by ListItems and
// GetItemByProduct carry their joined product snapshot.
type CartRepository interface {
	ListItems(ctx context.Context, userID string) ([]domain.CartItem, error)
	GetItemByProduct(ctx context.Context, userID, productID string) (*domain.CartItem, error)
	InsertItem(ctx context.Context, item *domain.CartItem) error
	UpdateItemQuantity(ctx context.Context, userID, itemID string, quantity int) error
	DeleteItem(ctx context.Context, userID, itemID string) error
	// SubtractItems takes the given quantities out of the listed lines and
	// deletes lines that reach zero. It reports how many lines changed.
	SubtractItems(ctx context.Context, userID string, lines []domain.OrderedLine) (int64, error)
	DeleteCart(ctx context.Context, userID string) error
}

// ProductRepository is the read side of the catalog.
type ProductRepository interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProducts(ctx context.Context, ids []string) ([]domain.Product, error)
}

// OrderWriter is the set of writes a checkout performs. It is implemented both
// by the repository itself and by the transaction handed to WithinTx.
type OrderWriter interface {
	CreateOrder(ctx context.Context, order *domain.Order) error
	CreateOrderItems(ctx context.Context, items []domain.OrderItem) error
	AppendOutboxEvent(ctx context.Context, event *domain.OutboxEvent) error
}

type OrderRepository interface {
	OrderWriter
	WithinTx(ctx context.Context, fn func(w OrderWriter) error) error
	DeleteOrder(ctx context.Context, orderID string) error
	GetOrder(ctx context.Context, userID, orderID string) (*domain.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, userID, key string) (*domain.Order, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]domain.Order, error)
}

type OutboxRepository interface {
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*domain.OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id string) error
}

type Credentials struct {
	Driver            string
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	SQLitePath        string
	MigrationsDirPath string
}
