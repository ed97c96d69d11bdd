package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/identity"
	"github.com/fjod/storefront/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("connection reset by peer")

func failOn(op string, err error) func(context.Context, string) error {
	return func(_ context.Context, got string) error {
		if got == op {
			return err
		}
		return nil
	}
}

func newTestStore(t *testing.T) (*CartStore, *mockStore) {
	t.Helper()
	store := newMockStore(productA, productB, productC)
	return newTestCartService(store, nil).NewStore(), store
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func TestLoad_AnonymousIsEmpty(t *testing.T) {
	cart, store := newTestStore(t)

	view, err := cart.Load(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, view.IsEmpty())
	assert.Zero(t, store.callCount("ListItems"))
}

func TestAdd_SameProductTwiceMerges(t *testing.T) {
	cart, _ := newTestStore(t)
	ctx := context.Background()

	_, err := cart.Add(ctx, alice, "prod-a", 2)
	require.NoError(t, err)
	view, err := cart.Add(ctx, alice, "prod-a", 3)
	require.NoError(t, err)

	require.Len(t, view.Items, 1)
	assert.Equal(t, 5, view.Items[0].Quantity)
	assert.Equal(t, "Kettle", view.Items[0].Product.Name)
	assert.Equal(t, view, cart.View())
}

func TestAdd_ConcurrentInsertFallsBackToMerge(t *testing.T) {
	cart, store := newTestStore(t)
	ctx := context.Background()

	store.hook = func(_ context.Context, op string) error {
		if op == "InsertItem" && store.callCount("InsertItem") == 1 {
			// another session inserts the same product first
			store.m.Lock()
			_ = store.insertLocked(&domain.CartItem{UserID: "alice", ProductID: "prod-b", Quantity: 4})
			store.m.Unlock()
		}
		return nil
	}

	view, err := cart.Add(ctx, alice, "prod-b", 1)
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assert.Equal(t, 5, view.Items[0].Quantity)
}

func TestAdd_Validation(t *testing.T) {
	cart, store := newTestStore(t)
	ctx := context.Background()

	_, err := cart.Add(ctx, nil, "prod-a", 1)
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)

	tests := []struct {
		name      string
		productID string
		quantity  int
		field     string
	}{
		{"zero quantity", "prod-a", 0, "quantity"},
		{"negative quantity", "prod-a", -1, "quantity"},
		{"blank product", "  ", 1, "product_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := cart.Add(ctx, alice, tt.productID, tt.quantity)
			require.ErrorIs(t, err, domain.ErrInvalidArgument)
			var fe *domain.FieldError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.field, fe.Field)
		})
	}
	assert.Zero(t, store.callCount("InsertItem"))
}

func TestAdd_UnknownProduct(t *testing.T) {
	cart, store := newTestStore(t)

	_, err := cart.Add(context.Background(), alice, "missing", 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Zero(t, store.callCount("InsertItem"))
}

func TestSetQuantity_NonPositiveRemoves(t *testing.T) {
	for _, q := range []int{0, -5} {
		cart, _ := newTestStore(t)
		ctx := context.Background()

		view, err := cart.Add(ctx, alice, "prod-a", 2)
		require.NoError(t, err)
		_, err = cart.Add(ctx, alice, "prod-b", 1)
		require.NoError(t, err)

		view, err = cart.SetQuantity(ctx, view.Items[0], q)
		require.NoError(t, err)
		require.Len(t, view.Items, 1)
		assert.Equal(t, "prod-b", view.Items[0].ProductID)
	}
}

func TestSetQuantity_Updates(t *testing.T) {
	cart, _ := newTestStore(t)
	ctx := context.Background()

	view, err := cart.Add(ctx, alice, "prod-a", 2)
	require.NoError(t, err)

	view, err = cart.SetQuantity(ctx, view.Items[0], 9)
	require.NoError(t, err)
	assert.Equal(t, 9, view.Items[0].Quantity)
	assertDecimal(t, "90", cart.Total())
}

func TestSetQuantity_UnknownItem(t *testing.T) {
	cart, _ := newTestStore(t)

	_, err := cart.SetQuantity(context.Background(), domain.CartItem{ID: "missing", UserID: "alice"}, 3)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRemove_MissingItemIsNoop(t *testing.T) {
	cart, _ := newTestStore(t)
	ctx := context.Background()

	before, err := cart.Add(ctx, alice, "prod-a", 1)
	require.NoError(t, err)

	after, err := cart.Remove(ctx, domain.CartItem{ID: "does-not-exist", UserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, before.Items, after.Items)
}

func TestTotal(t *testing.T) {
	view := domain.CartView{Items: []domain.CartItem{
		{Quantity: 2, Product: productA},
		{Quantity: 1, Product: productB},
		{Quantity: 3, Product: productC},
	}}

	assertDecimal(t, "25.80", Total(view))
	assertDecimal(t, "0", Total(domain.CartView{}))
}

func TestClear_ThenLoadIsEmpty(t *testing.T) {
	cart, _ := newTestStore(t)
	ctx := context.Background()

	_, err := cart.Add(ctx, alice, "prod-a", 1)
	require.NoError(t, err)
	_, err = cart.Add(ctx, alice, "prod-b", 1)
	require.NoError(t, err)

	view, err := cart.Clear(ctx, alice)
	require.NoError(t, err)
	assert.True(t, view.IsEmpty())

	view, err = cart.Load(ctx, alice)
	require.NoError(t, err)
	assert.True(t, view.IsEmpty())
}

func TestClear_NoUserIsNoop(t *testing.T) {
	cart, store := newTestStore(t)

	_, err := cart.Clear(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, store.callCount("DeleteCart"))
}

func TestMutationFailure_LeavesViewUntouched(t *testing.T) {
	cart, store := newTestStore(t)
	ctx := context.Background()

	before, err := cart.Add(ctx, alice, "prod-a", 1)
	require.NoError(t, err)

	store.hook = failOn("DeleteCart", errBoom)
	_, err = cart.Clear(ctx, alice)
	require.ErrorIs(t, err, domain.ErrUnavailable)
	assert.Equal(t, before, cart.View())
}

func TestRefreshFailure_ReportsUnavailableAndKeepsStaleView(t *testing.T) {
	cart, store := newTestStore(t)
	ctx := context.Background()

	before, err := cart.Add(ctx, alice, "prod-a", 1)
	require.NoError(t, err)

	store.hook = failOn("ListItems", errBoom)
	_, err = cart.Add(ctx, alice, "prod-b", 1)
	require.ErrorIs(t, err, domain.ErrUnavailable)
	assert.Equal(t, before, cart.View())

	// the write itself went through
	store.hook = nil
	view, err := cart.Load(ctx, alice)
	require.NoError(t, err)
	assert.Len(t, view.Items, 2)
}

func TestPersistenceTimeout_IsUnavailable(t *testing.T) {
	cart, store := newTestStore(t)
	store.hook = func(ctx context.Context, op string) error {
		<-ctx.Done()
		return ctx.Err()
	}

	start := time.Now()
	_, err := cart.Load(context.Background(), alice)
	assert.ErrorIs(t, err, domain.ErrUnavailable)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestLoad_SharedReadOutlivesCancelledCaller(t *testing.T) {
	store := newMockStore(productA)
	svc := newTestCartService(store, nil)
	require.NoError(t, store.InsertItem(context.Background(), &domain.CartItem{UserID: "alice", ProductID: "prod-a", Quantity: 1}))

	started := make(chan struct{})
	release := make(chan struct{})
	seen := make(chan error, 1)
	store.hook = func(ctx context.Context, op string) error {
		if op == "ListItems" && store.callCount("ListItems") == 1 {
			close(started)
			<-release
			seen <- ctx.Err()
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := svc.NewStore().Load(ctx, alice)
		errs <- err
	}()

	<-started
	cancel()
	assert.ErrorIs(t, <-errs, context.Canceled)

	close(release)
	assert.NoError(t, <-seen)

	view, err := svc.NewStore().Load(context.Background(), alice)
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
}

func TestLoad_ServedFromCache(t *testing.T) {
	store := newMockStore(productA)
	c := newMockCache()
	cart := newTestCartService(store, c).NewStore()
	ctx := context.Background()

	_, err := cart.Add(ctx, alice, "prod-a", 1)
	require.NoError(t, err)
	assert.True(t, c.has("alice"))
	calls := store.callCount("ListItems")

	view, err := cart.Load(ctx, alice)
	require.NoError(t, err)
	assert.Len(t, view.Items, 1)
	assert.Equal(t, calls, store.callCount("ListItems"))
}

func TestMutation_ReplacesCachedView(t *testing.T) {
	store := newMockStore(productA, productB)
	c := newMockCache()
	cart := newTestCartService(store, c).NewStore()
	ctx := context.Background()

	_, err := cart.Add(ctx, alice, "prod-a", 1)
	require.NoError(t, err)
	_, err = cart.Add(ctx, alice, "prod-b", 1)
	require.NoError(t, err)

	cached, err := c.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, cached.Items, 2)
}

func TestLoad_CacheErrorFallsBackToRepository(t *testing.T) {
	store := newMockStore(productA)
	c := newMockCache()
	c.getErr = errBoom
	cart := newTestCartService(store, c).NewStore()
	ctx := context.Background()

	require.NoError(t, store.InsertItem(ctx, &domain.CartItem{UserID: "alice", ProductID: "prod-a", Quantity: 1}))

	view, err := cart.Load(ctx, alice)
	require.NoError(t, err)
	assert.Len(t, view.Items, 1)
}

func TestInvalidate_DropsCachedView(t *testing.T) {
	store := newMockStore(productA)
	c := newMockCache()
	svc := newTestCartService(store, c)
	ctx := context.Background()

	_, err := svc.NewStore().Load(ctx, alice)
	require.NoError(t, err)
	require.True(t, c.has("alice"))

	svc.Invalidate(ctx, "alice")
	assert.False(t, c.has("alice"))
}

func TestWatch_ReloadsOnIdentityChange(t *testing.T) {
	cart, store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertItem(ctx, &domain.CartItem{UserID: "alice", ProductID: "prod-a", Quantity: 1}))
	require.NoError(t, store.InsertItem(ctx, &domain.CartItem{UserID: "bob", ProductID: "prod-b", Quantity: 2}))

	session := identity.NewSession(nil)
	stop, err := cart.Watch(ctx, session)
	require.NoError(t, err)
	defer stop()
	assert.True(t, cart.View().IsEmpty())

	session.SignIn(alice)
	assert.Equal(t, "alice", cart.View().UserID)
	assert.Len(t, cart.View().Items, 1)

	session.SignIn(bob)
	assert.Equal(t, "bob", cart.View().UserID)
	assert.Equal(t, 2, cart.View().Items[0].Quantity)

	session.SignOut()
	assert.True(t, cart.View().IsEmpty())

	stop()
	session.SignIn(alice)
	assert.True(t, cart.View().IsEmpty())
}

func TestWatch_StopsWithContext(t *testing.T) {
	cart, store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	session := identity.NewSession(nil)
	_, err := cart.Watch(ctx, session)
	require.NoError(t, err)
	cancel()

	require.Eventually(t, func() bool {
		loads := store.callCount("ListItems")
		session.SignIn(alice)
		session.SignOut()
		return store.callCount("ListItems") == loads
	}, time.Second, 10*time.Millisecond)
}

func TestCartErrors_UseRepositoryTypes(t *testing.T) {
	cart, _ := newTestStore(t)

	_, err := cart.SetQuantity(context.Background(), domain.CartItem{ID: "x", UserID: "alice"}, 1)
	assert.ErrorIs(t, err, repository.ErrCartItemNotFound)
}
