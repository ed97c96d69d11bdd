package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fjod/storefront/internal/cache"
	"github.com/fjod/storefront/internal/circuitbreaker"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/identity"
	"github.com/fjod/storefront/internal/logger"
	"github.com/fjod/storefront/internal/repository"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

const (
	cacheOpTimeout     = time.Second
	sharedFetchTimeout = 10 * time.Second
)

// CartService holds what every cart session shares: persistence, catalog,
// cache and the persistence guard.
type CartService struct {
	repo     repository.CartRepository
	products repository.ProductRepository
	cache    cache.CartCache
	guard    *circuitbreaker.Guard
	log      *slog.Logger
	sfg      singleflight.Group // collapses concurrent loads of one cart
}

type CartServiceOptions struct {
	Repo     repository.CartRepository
	Products repository.ProductRepository
	// Cache is optional.
	Cache  cache.CartCache
	Guard  *circuitbreaker.Guard
	Logger *slog.Logger
}

func NewCartService(opts CartServiceOptions) *CartService {
	if opts.Logger == nil {
		opts.Logger = logger.New("cart")
	}
	if opts.Guard == nil {
		opts.Guard = circuitbreaker.New(circuitbreaker.Settings{Name: "cart", Logger: opts.Logger})
	}
	return &CartService{
		repo:     opts.Repo,
		products: opts.Products,
		cache:    opts.Cache,
		guard:    opts.Guard,
		log:      opts.Logger,
	}
}

// NewStore opens a cart session with an empty view.
func (s *CartService) NewStore() *CartStore {
	return &CartStore{svc: s}
}

// fetch reads the cart through the cache. Cache failures are logged and the
// persistence layer is used instead. Concurrent reads of one cart share a
// single load that does not stop when one of its callers gives up.
func (s *CartService) fetch(ctx context.Context, userID string) (domain.CartView, error) {
	ch := s.sfg.DoChan(userID, func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedFetchTimeout)
		defer cancel()

		if s.cache != nil {
			view, err := s.cache.Get(ctx, userID)
			if err == nil {
				return *view, nil
			}
			if !errors.Is(err, cache.ErrCacheMiss) {
				logger.FromCtx(ctx).Warn("cart cache get failed", "user_id", userID, "err", err)
			}
		}

		view, err := s.fetchFresh(ctx, userID)
		if err != nil {
			return nil, err
		}
		s.remember(ctx, view)
		return view, nil
	})

	select {
	case <-ctx.Done():
		return domain.CartView{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return domain.CartView{}, res.Err
		}
		return res.Val.(domain.CartView), nil
	}
}

func (s *CartService) fetchFresh(ctx context.Context, userID string) (domain.CartView, error) {
	var items []domain.CartItem
	err := s.guard.Do(ctx, func(ctx context.Context) error {
		var err error
		items, err = s.repo.ListItems(ctx, userID)
		return err
	})
	if err != nil {
		return domain.CartView{}, err
	}
	if items == nil {
		items = []domain.CartItem{}
	}
	return domain.CartView{UserID: userID, Items: items}, nil
}

func (s *CartService) remember(ctx context.Context, view domain.CartView) {
	if s.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheOpTimeout)
	defer cancel()
	if err := s.cache.Set(ctx, view.UserID, &view); err != nil {
		logger.FromCtx(ctx).Warn("cart cache set failed", "user_id", view.UserID, "err", err)
	}
}

func (s *CartService) invalidate(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheOpTimeout)
	defer cancel()
	if err := s.cache.Delete(ctx, userID); err != nil {
		logger.FromCtx(ctx).Warn("cart cache invalidate failed", "user_id", userID, "err", err)
	}
}

// Invalidate drops the cached view of userID. It is used by writers outside
// a cart session, such as the order reconciler.
func (s *CartService) Invalidate(ctx context.Context, userID string) {
	s.invalidate(ctx, userID)
}

// CartStore is the cart of one client session. It keeps the last view
// confirmed by the persistence layer; mutations persist first and then
// replace the view with a fresh read, never patching it locally.
type CartStore struct {
	svc *CartService

	mu      sync.Mutex
	view    domain.CartView
	watched *domain.User
}

// View returns a copy of the current view.
func (c *CartStore) View() domain.CartView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyView(c.view)
}

// Total is the total of the current view.
func (c *CartStore) Total() decimal.Decimal {
	return Total(c.View())
}

// Total sums price times quantity over the view's product snapshots.
func Total(view domain.CartView) decimal.Decimal {
	return view.Total()
}

// Load replaces the view with the persisted cart of user. An absent user
// yields an empty view.
func (c *CartStore) Load(ctx context.Context, user *domain.User) (domain.CartView, error) {
	if user == nil {
		c.setView(domain.CartView{Items: []domain.CartItem{}})
		return c.View(), nil
	}

	view, err := c.svc.fetch(ctx, user.ID)
	if err != nil {
		return domain.CartView{}, fmt.Errorf("load cart: %w", err)
	}
	c.setView(view)
	return c.View(), nil
}

// Add puts quantity units of productID into the user's cart, merging into
// the existing line for that product when there is one.
func (c *CartStore) Add(ctx context.Context, user *domain.User, productID string, quantity int) (domain.CartView, error) {
	if user == nil {
		return domain.CartView{}, domain.ErrNotAuthenticated
	}
	if strings.TrimSpace(productID) == "" {
		return domain.CartView{}, &domain.FieldError{Field: "product_id", Reason: "must not be blank"}
	}
	if quantity <= 0 {
		return domain.CartView{}, &domain.FieldError{Field: "quantity", Reason: "must be positive"}
	}

	err := c.svc.guard.Do(ctx, func(ctx context.Context) error {
		_, err := c.svc.products.GetProduct(ctx, productID)
		return err
	})
	if err != nil {
		return domain.CartView{}, fmt.Errorf("add to cart: %w", err)
	}

	existing, err := c.existingLine(ctx, user.ID, productID)
	if err != nil {
		return domain.CartView{}, fmt.Errorf("add to cart: %w", err)
	}
	if existing != nil {
		return c.SetQuantity(ctx, *existing, existing.Quantity+quantity)
	}

	item := &domain.CartItem{UserID: user.ID, ProductID: productID, Quantity: quantity}
	err = c.svc.guard.Do(ctx, func(ctx context.Context) error {
		return c.svc.repo.InsertItem(ctx, item)
	})
	if errors.Is(err, repository.ErrDuplicateCartItem) {
		// lost a race with a concurrent add; merge into the winner's line
		existing, err = c.existingLine(ctx, user.ID, productID)
		if err != nil {
			return domain.CartView{}, fmt.Errorf("add to cart: %w", err)
		}
		if existing == nil {
			return domain.CartView{}, fmt.Errorf("add to cart: %w", repository.ErrCartItemNotFound)
		}
		return c.SetQuantity(ctx, *existing, existing.Quantity+quantity)
	}
	if err != nil {
		return domain.CartView{}, fmt.Errorf("add to cart: %w", err)
	}

	c.svc.log.Info("cart line added", "user_id", user.ID, "product_id", productID, "quantity", quantity)
	return c.refresh(ctx, user.ID)
}

func (c *CartStore) existingLine(ctx context.Context, userID, productID string) (*domain.CartItem, error) {
	var existing *domain.CartItem
	err := c.svc.guard.Do(ctx, func(ctx context.Context) error {
		var err error
		existing, err = c.svc.repo.GetItemByProduct(ctx, userID, productID)
		return err
	})
	if errors.Is(err, repository.ErrCartItemNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return existing, nil
}

// SetQuantity changes the quantity of item. A quantity of zero or less
// removes the line.
func (c *CartStore) SetQuantity(ctx context.Context, item domain.CartItem, quantity int) (domain.CartView, error) {
	if quantity <= 0 {
		return c.Remove(ctx, item)
	}
	if item.UserID == "" || item.ID == "" {
		return domain.CartView{}, fmt.Errorf("set quantity: %w", repository.ErrCartItemNotFound)
	}

	err := c.svc.guard.Do(ctx, func(ctx context.Context) error {
		return c.svc.repo.UpdateItemQuantity(ctx, item.UserID, item.ID, quantity)
	})
	if err != nil {
		return domain.CartView{}, fmt.Errorf("set quantity: %w", err)
	}

	c.svc.log.Info("cart line quantity set", "user_id", item.UserID, "item_id", item.ID, "quantity", quantity)
	return c.refresh(ctx, item.UserID)
}

// Remove deletes item. Removing a line that no longer exists succeeds.
func (c *CartStore) Remove(ctx context.Context, item domain.CartItem) (domain.CartView, error) {
	if item.UserID == "" {
		return c.View(), nil
	}

	err := c.svc.guard.Do(ctx, func(ctx context.Context) error {
		return c.svc.repo.DeleteItem(ctx, item.UserID, item.ID)
	})
	if err != nil && !errors.Is(err, repository.ErrCartItemNotFound) {
		return domain.CartView{}, fmt.Errorf("remove from cart: %w", err)
	}

	c.svc.log.Info("cart line removed", "user_id", item.UserID, "item_id", item.ID)
	return c.refresh(ctx, item.UserID)
}

// Clear deletes every line of user. Clearing with no user is a no-op.
func (c *CartStore) Clear(ctx context.Context, user *domain.User) (domain.CartView, error) {
	if user == nil {
		return c.View(), nil
	}

	err := c.svc.guard.Do(ctx, func(ctx context.Context) error {
		return c.svc.repo.DeleteCart(ctx, user.ID)
	})
	if err != nil {
		return domain.CartView{}, fmt.Errorf("clear cart: %w", err)
	}

	c.svc.log.Info("cart cleared", "user_id", user.ID)
	return c.refresh(ctx, user.ID)
}

// Watch reloads the cart whenever provider reports a different user,
// including sign-out. It loads the current user's cart before returning and
// stops when ctx is done or stop is called.
func (c *CartStore) Watch(ctx context.Context, provider identity.Provider) (stop func(), err error) {
	current := provider.CurrentUser()
	c.mu.Lock()
	c.watched = current
	c.mu.Unlock()

	_, loadErr := c.Load(ctx, current)

	cancel := provider.Subscribe(func(user *domain.User) {
		c.mu.Lock()
		changed := !domain.SameUser(c.watched, user)
		c.watched = user
		c.mu.Unlock()
		if !changed {
			return
		}
		if _, err := c.Load(ctx, user); err != nil {
			logger.FromCtx(ctx).Warn("cart reload after identity change failed", "err", err)
		}
	})

	done := make(chan struct{})
	var once sync.Once
	stop = func() {
		once.Do(func() {
			cancel()
			close(done)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-done:
		}
	}()
	return stop, loadErr
}

// refresh replaces the view with a direct read after a successful mutation.
// On failure the previous view is kept and the error reports the store as
// unavailable even though the mutation itself went through.
func (c *CartStore) refresh(ctx context.Context, userID string) (domain.CartView, error) {
	c.svc.invalidate(ctx, userID)

	view, err := c.svc.fetchFresh(ctx, userID)
	if err != nil {
		if !errors.Is(err, domain.ErrUnavailable) {
			err = fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
		}
		return domain.CartView{}, fmt.Errorf("refresh cart: %w", err)
	}
	c.svc.remember(ctx, view)
	c.setView(view)
	return c.View(), nil
}

func (c *CartStore) setView(view domain.CartView) {
	c.mu.Lock()
	c.view = copyView(view)
	c.mu.Unlock()
}

func copyView(v domain.CartView) domain.CartView {
	items := make([]domain.CartItem, len(v.Items))
	copy(items, v.Items)
	return domain.CartView{UserID: v.UserID, Items: items}
}
