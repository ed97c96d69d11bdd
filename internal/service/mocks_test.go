package service

import (
	"context"
	"sync"
	"time"

	"github.com/fjod/storefront/internal/cache"
	"github.com/fjod/storefront/internal/circuitbreaker"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/logger"
	"github.com/fjod/storefront/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// mockStore is an in-memory persistence layer. hook runs before every
// operation and fails it by returning an error.
type mockStore struct {
	m        sync.Mutex
	products map[string]domain.Product
	items    []domain.CartItem
	orders   map[string]domain.Order
	lines    []domain.OrderItem
	events   []domain.OutboxEvent
	calls    map[string]int
	hook     func(ctx context.Context, op string) error
}

func newMockStore(products ...domain.Product) *mockStore {
	s := &mockStore{
		products: map[string]domain.Product{},
		orders:   map[string]domain.Order{},
		calls:    map[string]int{},
	}
	for _, p := range products {
		s.products[p.ID] = p
	}
	return s
}

func (s *mockStore) before(ctx context.Context, op string) error {
	s.m.Lock()
	s.calls[op]++
	hook := s.hook
	s.m.Unlock()
	if hook != nil {
		return hook(ctx, op)
	}
	return nil
}

func (s *mockStore) callCount(op string) int {
	s.m.Lock()
	defer s.m.Unlock()
	return s.calls[op]
}

func (s *mockStore) setPrice(productID, price string) {
	s.m.Lock()
	defer s.m.Unlock()
	p := s.products[productID]
	p.Price = decimal.RequireFromString(price)
	s.products[productID] = p
}

func (s *mockStore) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	if err := s.before(ctx, "GetProduct"); err != nil {
		return nil, err
	}
	s.m.Lock()
	defer s.m.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, repository.ErrProductNotFound
	}
	return &p, nil
}

func (s *mockStore) GetProducts(ctx context.Context, ids []string) ([]domain.Product, error) {
	if err := s.before(ctx, "GetProducts"); err != nil {
		return nil, err
	}
	s.m.Lock()
	defer s.m.Unlock()
	var out []domain.Product
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *mockStore) ListItems(ctx context.Context, userID string) ([]domain.CartItem, error) {
	if err := s.before(ctx, "ListItems"); err != nil {
		return nil, err
	}
	s.m.Lock()
	defer s.m.Unlock()
	out := []domain.CartItem{}
	for _, item := range s.items {
		if item.UserID == userID {
			item.Product = s.products[item.ProductID]
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *mockStore) GetItemByProduct(ctx context.Context, userID, productID string) (*domain.CartItem, error) {
	if err := s.before(ctx, "GetItemByProduct"); err != nil {
		return nil, err
	}
	s.m.Lock()
	defer s.m.Unlock()
	for _, item := range s.items {
		if item.UserID == userID && item.ProductID == productID {
			item.Product = s.products[item.ProductID]
			return &item, nil
		}
	}
	return nil, repository.ErrCartItemNotFound
}

func (s *mockStore) InsertItem(ctx context.Context, item *domain.CartItem) error {
	if err := s.before(ctx, "InsertItem"); err != nil {
		return err
	}
	s.m.Lock()
	defer s.m.Unlock()
	return s.insertLocked(item)
}

func (s *mockStore) insertLocked(item *domain.CartItem) error {
	for _, existing := range s.items {
		if existing.UserID == item.UserID && existing.ProductID == item.ProductID {
			return repository.ErrDuplicateCartItem
		}
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	item.CreatedAt = time.Now()
	stored := *item
	stored.Product = domain.Product{}
	s.items = append(s.items, stored)
	return nil
}

func (s *mockStore) UpdateItemQuantity(ctx context.Context, userID, itemID string, quantity int) error {
	if err := s.before(ctx, "UpdateItemQuantity"); err != nil {
		return err
	}
	s.m.Lock()
	defer s.m.Unlock()
	for i := range s.items {
		if s.items[i].ID == itemID && s.items[i].UserID == userID {
			s.items[i].Quantity = quantity
			return nil
		}
	}
	return repository.ErrCartItemNotFound
}

func (s *mockStore) DeleteItem(ctx context.Context, userID, itemID string) error {
	if err := s.before(ctx, "DeleteItem"); err != nil {
		return err
	}
	s.m.Lock()
	defer s.m.Unlock()
	for i, item := range s.items {
		if item.ID == itemID && item.UserID == userID {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return nil
		}
	}
	return repository.ErrCartItemNotFound
}

func (s *mockStore) SubtractItems(ctx context.Context, userID string, lines []domain.OrderedLine) (int64, error) {
	if err := s.before(ctx, "SubtractItems"); err != nil {
		return 0, err
	}
	s.m.Lock()
	defer s.m.Unlock()
	ordered := map[string]int{}
	for _, line := range lines {
		ordered[line.CartItemID] += line.Quantity
	}
	var n int64
	kept := s.items[:0]
	for _, item := range s.items {
		q, ok := ordered[item.ID]
		if item.UserID == userID && ok && q > 0 {
			n++
			if item.Quantity <= q {
				continue
			}
			item.Quantity -= q
		}
		kept = append(kept, item)
	}
	s.items = kept
	return n, nil
}

func (s *mockStore) DeleteCart(ctx context.Context, userID string) error {
	if err := s.before(ctx, "DeleteCart"); err != nil {
		return err
	}
	s.m.Lock()
	defer s.m.Unlock()
	kept := s.items[:0]
	for _, item := range s.items {
		if item.UserID != userID {
			kept = append(kept, item)
		}
	}
	s.items = kept
	return nil
}

func (s *mockStore) CreateOrder(ctx context.Context, order *domain.Order) error {
	if err := s.before(ctx, "CreateOrder"); err != nil {
		return err
	}
	s.m.Lock()
	defer s.m.Unlock()
	if order.IdempotencyKey != "" {
		for _, o := range s.orders {
			if o.UserID == order.UserID && o.IdempotencyKey == order.IdempotencyKey {
				return repository.ErrDuplicateCheckout
			}
		}
	}
	stored := *order
	stored.Items = nil
	s.orders[order.ID] = stored
	return nil
}

func (s *mockStore) CreateOrderItems(ctx context.Context, items []domain.OrderItem) error {
	if err := s.before(ctx, "CreateOrderItems"); err != nil {
		return err
	}
	s.m.Lock()
	defer s.m.Unlock()
	s.lines = append(s.lines, items...)
	return nil
}

func (s *mockStore) AppendOutboxEvent(ctx context.Context, event *domain.OutboxEvent) error {
	if err := s.before(ctx, "AppendOutboxEvent"); err != nil {
		return err
	}
	s.m.Lock()
	defer s.m.Unlock()
	s.events = append(s.events, *event)
	return nil
}

// WithinTx restores the order tables when fn fails.
func (s *mockStore) WithinTx(ctx context.Context, fn func(w repository.OrderWriter) error) error {
	if err := s.before(ctx, "WithinTx"); err != nil {
		return err
	}
	s.m.Lock()
	orders := make(map[string]domain.Order, len(s.orders))
	for k, v := range s.orders {
		orders[k] = v
	}
	lines := append([]domain.OrderItem(nil), s.lines...)
	events := append([]domain.OutboxEvent(nil), s.events...)
	s.m.Unlock()

	if err := fn(s); err != nil {
		s.m.Lock()
		s.orders, s.lines, s.events = orders, lines, events
		s.m.Unlock()
		return err
	}
	return nil
}

func (s *mockStore) DeleteOrder(ctx context.Context, orderID string) error {
	if err := s.before(ctx, "DeleteOrder"); err != nil {
		return err
	}
	s.m.Lock()
	defer s.m.Unlock()
	if _, ok := s.orders[orderID]; !ok {
		return repository.ErrOrderNotFound
	}
	delete(s.orders, orderID)
	kept := s.lines[:0]
	for _, l := range s.lines {
		if l.OrderID != orderID {
			kept = append(kept, l)
		}
	}
	s.lines = kept
	return nil
}

func (s *mockStore) GetOrder(ctx context.Context, userID, orderID string) (*domain.Order, error) {
	if err := s.before(ctx, "GetOrder"); err != nil {
		return nil, err
	}
	s.m.Lock()
	defer s.m.Unlock()
	o, ok := s.orders[orderID]
	if !ok || o.UserID != userID {
		return nil, repository.ErrOrderNotFound
	}
	return s.withLinesLocked(o), nil
}

func (s *mockStore) GetOrderByIdempotencyKey(ctx context.Context, userID, key string) (*domain.Order, error) {
	if err := s.before(ctx, "GetOrderByIdempotencyKey"); err != nil {
		return nil, err
	}
	s.m.Lock()
	defer s.m.Unlock()
	for _, o := range s.orders {
		if o.UserID == userID && o.IdempotencyKey == key {
			return s.withLinesLocked(o), nil
		}
	}
	return nil, repository.ErrOrderNotFound
}

func (s *mockStore) ListOrdersByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	if err := s.before(ctx, "ListOrdersByUser"); err != nil {
		return nil, err
	}
	s.m.Lock()
	defer s.m.Unlock()
	out := []domain.Order{}
	for _, o := range s.orders {
		if o.UserID == userID {
			out = append(out, *s.withLinesLocked(o))
		}
	}
	return out, nil
}

func (s *mockStore) withLinesLocked(o domain.Order) *domain.Order {
	for _, l := range s.lines {
		if l.OrderID == o.ID {
			o.Items = append(o.Items, l)
		}
	}
	return &o
}

func (s *mockStore) orderCount() int {
	s.m.Lock()
	defer s.m.Unlock()
	return len(s.orders)
}

func (s *mockStore) lineCount() int {
	s.m.Lock()
	defer s.m.Unlock()
	return len(s.lines)
}

type mockCache struct {
	m      sync.Mutex
	views  map[string]domain.CartView
	getErr error
}

func newMockCache() *mockCache {
	return &mockCache{views: map[string]domain.CartView{}}
}

func (c *mockCache) Get(_ context.Context, userID string) (*domain.CartView, error) {
	c.m.Lock()
	defer c.m.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	v, ok := c.views[userID]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return &v, nil
}

func (c *mockCache) Set(_ context.Context, userID string, view *domain.CartView) error {
	c.m.Lock()
	defer c.m.Unlock()
	c.views[userID] = copyView(*view)
	return nil
}

func (c *mockCache) Delete(_ context.Context, userID string) error {
	c.m.Lock()
	defer c.m.Unlock()
	delete(c.views, userID)
	return nil
}

func (c *mockCache) has(userID string) bool {
	c.m.Lock()
	defer c.m.Unlock()
	_, ok := c.views[userID]
	return ok
}

type mockIdempotency struct {
	m      sync.Mutex
	locks  map[string]bool
	values map[string]string
}

func newMockIdempotency() *mockIdempotency {
	return &mockIdempotency{locks: map[string]bool{}, values: map[string]string{}}
}

func (s *mockIdempotency) TryLock(_ context.Context, scope, key string) (bool, error) {
	s.m.Lock()
	defer s.m.Unlock()
	if s.locks[scope+key] {
		return false, nil
	}
	s.locks[scope+key] = true
	return true, nil
}

func (s *mockIdempotency) Release(_ context.Context, scope, key string) error {
	s.m.Lock()
	defer s.m.Unlock()
	delete(s.locks, scope+key)
	return nil
}

func (s *mockIdempotency) Remember(_ context.Context, scope, key, value string) error {
	s.m.Lock()
	defer s.m.Unlock()
	s.values[scope+key] = value
	return nil
}

func (s *mockIdempotency) Recall(_ context.Context, scope, key string) (string, bool, error) {
	s.m.Lock()
	defer s.m.Unlock()
	v, ok := s.values[scope+key]
	return v, ok, nil
}

var (
	productA = domain.Product{ID: "prod-a", Name: "Kettle", Price: decimal.RequireFromString("10.00")}
	productB = domain.Product{ID: "prod-b", Name: "Mug", Price: decimal.RequireFromString("5.50")}
	productC = domain.Product{ID: "prod-c", Name: "Spoon", Price: decimal.RequireFromString("0.10")}

	alice = &domain.User{ID: "alice", Email: "alice@example.com"}
	bob   = &domain.User{ID: "bob", Email: "bob@example.com"}
)

func testGuard() *circuitbreaker.Guard {
	return circuitbreaker.New(circuitbreaker.Settings{
		Name:        "test",
		CallTimeout: 200 * time.Millisecond,
		MaxFailures: 100,
		Logger:      logger.Discard(),
	})
}

func newTestCartService(store *mockStore, c cache.CartCache) *CartService {
	return NewCartService(CartServiceOptions{
		Repo:     store,
		Products: store,
		Cache:    c,
		Guard:    testGuard(),
		Logger:   logger.Discard(),
	})
}
