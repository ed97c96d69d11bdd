package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fjod/storefront/internal/circuitbreaker"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/logger"
	"github.com/fjod/storefront/internal/repository"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/fjod/storefront/internal/service")

// Placement decides how the order header and its lines are written.
type Placement string

const (
	// PlacementAtomic writes the order, its lines and the outbox event in
	// one transaction.
	PlacementAtomic Placement = "atomic"
	// PlacementCompensating writes them separately and deletes the order
	// when its lines cannot be written.
	PlacementCompensating Placement = "compensating"
	// PlacementSequential writes them separately and leaves an order without
	// lines behind when the second write fails.
	PlacementSequential Placement = "sequential"
)

func ParsePlacement(s string) (Placement, error) {
	switch p := Placement(s); p {
	case PlacementAtomic, PlacementCompensating, PlacementSequential:
		return p, nil
	case "":
		return PlacementAtomic, nil
	default:
		return "", fmt.Errorf("unknown placement %q", s)
	}
}

// ErrCheckoutInProgress is returned while another attempt holds the same
// idempotency key.
var ErrCheckoutInProgress = fmt.Errorf("%w: checkout with this idempotency key is in progress", domain.ErrUnavailable)

// IdempotencyStore remembers the order produced by each checkout key.
type IdempotencyStore interface {
	TryLock(ctx context.Context, scope, key string) (bool, error)
	Release(ctx context.Context, scope, key string) error
	Remember(ctx context.Context, scope, key, value string) error
	Recall(ctx context.Context, scope, key string) (string, bool, error)
}

type Transition struct {
	From domain.CheckoutStatus `json:"from"`
	To   domain.CheckoutStatus `json:"to"`
	At   time.Time             `json:"at"`
}

type CheckoutResult struct {
	Order       *domain.Order         `json:"order,omitempty"`
	Status      domain.CheckoutStatus `json:"status"`
	Transitions []Transition          `json:"transitions"`
	// Warning is set when the order was placed but a follow-up step failed.
	Warning string `json:"warning,omitempty"`
	// Replayed marks a result answered from an earlier attempt with the same
	// idempotency key.
	Replayed bool `json:"replayed"`
}

type CheckoutOptions struct {
	Orders repository.OrderRepository
	// Idempotency is optional; without it keys are still enforced by the
	// orders table.
	Idempotency IdempotencyStore
	Placement   Placement
	Guard       *circuitbreaker.Guard
	Logger      *slog.Logger
}

// Checkout turns the cart of one session into an order.
type Checkout struct {
	store     *CartStore
	orders    repository.OrderRepository
	idem      IdempotencyStore
	placement Placement
	guard     *circuitbreaker.Guard
	log       *slog.Logger
	now       func() time.Time

	mu sync.Mutex // one attempt at a time per session
}

func NewCheckout(store *CartStore, opts CheckoutOptions) *Checkout {
	if opts.Placement == "" {
		opts.Placement = PlacementAtomic
	}
	if opts.Logger == nil {
		opts.Logger = logger.New("checkout")
	}
	if opts.Guard == nil {
		opts.Guard = circuitbreaker.New(circuitbreaker.Settings{Name: "checkout", Logger: opts.Logger})
	}
	return &Checkout{
		store:     store,
		orders:    opts.Orders,
		idem:      opts.Idempotency,
		placement: opts.Placement,
		guard:     opts.Guard,
		log:       opts.Logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// checkoutRun tracks the state machine of one attempt.
type checkoutRun struct {
	c      *Checkout
	ctx    context.Context
	userID string
	result *CheckoutResult
}

func (r *checkoutRun) to(next domain.CheckoutStatus) error {
	from := r.result.Status
	if !domain.CanTransitionTo(from, next) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, from, next)
	}
	r.result.Status = next
	r.result.Transitions = append(r.result.Transitions, Transition{From: from, To: next, At: r.c.now()})
	logger.FromCtx(r.ctx).Debug("checkout transition", "user_id", r.userID, "from", from.String(), "to", next.String())
	return nil
}

// fail moves the attempt to Failed and returns err for the caller.
func (r *checkoutRun) fail(err error) (*CheckoutResult, error) {
	if terr := r.to(domain.CheckoutStatusFailed); terr != nil {
		err = errors.Join(err, terr)
	}
	checkoutOutcomes.WithLabelValues("failed").Inc()
	span := trace.SpanFromContext(r.ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, "checkout failed")
	logger.FromCtx(r.ctx).Warn("checkout failed", "user_id", r.userID, "err", err)
	return r.result, fmt.Errorf("checkout: %w", err)
}

// PlaceOrder converts the session's cart into a pending order, then clears
// the cart. A failure to clear does not undo the order; the result carries a
// warning instead. On error the returned result still lists the transitions
// that happened.
func (c *Checkout) PlaceOrder(ctx context.Context, user *domain.User, shipping domain.ShippingDetails, idempotencyKey string) (*CheckoutResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, span := tracer.Start(ctx, "checkout.PlaceOrder")
	defer span.End()
	span.SetAttributes(attribute.String("checkout.placement", string(c.placement)))

	start := time.Now()
	defer func() {
		checkoutDuration.WithLabelValues(string(c.placement)).Observe(float64(time.Since(start).Milliseconds()))
	}()

	run := &checkoutRun{c: c, ctx: ctx, result: &CheckoutResult{Status: domain.CheckoutStatusIdle}}
	if user != nil {
		run.userID = user.ID
	}
	if err := run.to(domain.CheckoutStatusValidating); err != nil {
		return run.result, err
	}

	if user == nil {
		return run.fail(domain.ErrNotAuthenticated)
	}
	if idempotencyKey != "" {
		order, err := c.replay(ctx, user.ID, idempotencyKey)
		if err != nil {
			return run.fail(err)
		}
		if order != nil {
			run.result.Order = order
			run.result.Replayed = true
			if err := run.to(domain.CheckoutStatusDone); err != nil {
				return run.result, err
			}
			checkoutOutcomes.WithLabelValues("replayed").Inc()
			logger.FromCtx(ctx).Info("checkout replayed", "user_id", user.ID, "order_id", order.ID)
			return run.result, nil
		}

		release, err := c.lock(ctx, user.ID, idempotencyKey)
		if err != nil {
			return run.fail(err)
		}
		defer release(run.result)
	}

	view := c.store.View()
	if view.UserID != user.ID {
		loaded, err := c.store.Load(ctx, user)
		if err != nil {
			return run.fail(err)
		}
		view = loaded
	}
	if view.IsEmpty() {
		return run.fail(domain.ErrEmptyCart)
	}
	if err := shipping.Validate(); err != nil {
		return run.fail(err)
	}

	order := &domain.Order{
		ID:              uuid.NewString(),
		UserID:          user.ID,
		Total:           Total(view),
		Status:          domain.OrderStatusPending,
		CustomerName:    shipping.Name,
		CustomerEmail:   shipping.Email,
		CustomerAddress: shipping.Address,
		IdempotencyKey:  idempotencyKey,
		CreatedAt:       c.now(),
	}
	order.Items = domain.NewOrderItems(order.ID, view)
	for i := range order.Items {
		order.Items[i].ID = uuid.NewString()
	}
	event, err := domain.NewOrderPlacedOutboxEvent(order, view.OrderedLines())
	if err != nil {
		return run.fail(fmt.Errorf("build order event: %w", err))
	}

	if err := c.persist(run, order, event); err != nil {
		return run.fail(err)
	}
	run.result.Order = order
	logger.FromCtx(ctx).Info("order placed",
		"user_id", user.ID,
		"order_id", order.ID,
		"total", order.Total.String(),
		"lines", len(order.Items),
		"placement", string(c.placement))

	if err := run.to(domain.CheckoutStatusClearingCart); err != nil {
		return run.result, err
	}
	if _, err := c.store.Clear(ctx, user); err != nil {
		run.result.Warning = fmt.Sprintf("order placed but the cart could not be cleared: %v", err)
		cartClearFailures.Inc()
		logger.FromCtx(ctx).Warn("cart clear after checkout failed", "user_id", user.ID, "order_id", order.ID, "err", err)
	}
	if err := run.to(domain.CheckoutStatusDone); err != nil {
		return run.result, err
	}

	if idempotencyKey != "" && c.idem != nil {
		if err := c.idem.Remember(context.WithoutCancel(ctx), user.ID, idempotencyKey, order.ID); err != nil {
			logger.FromCtx(ctx).Warn("idempotency remember failed", "user_id", user.ID, "err", err)
		}
	}
	checkoutOutcomes.WithLabelValues("done").Inc()
	return run.result, nil
}

// persist runs the CreatingOrder and CreatingOrderItems steps according to
// the placement mode.
func (c *Checkout) persist(run *checkoutRun, order *domain.Order, event *domain.OutboxEvent) error {
	ctx := run.ctx
	if err := run.to(domain.CheckoutStatusCreatingOrder); err != nil {
		return err
	}

	if c.placement == PlacementAtomic {
		return c.guard.Do(ctx, func(ctx context.Context) error {
			return c.orders.WithinTx(ctx, func(w repository.OrderWriter) error {
				if err := w.CreateOrder(ctx, order); err != nil {
					return fmt.Errorf("create order: %w", err)
				}
				if err := run.to(domain.CheckoutStatusCreatingOrderItems); err != nil {
					return err
				}
				return writeLines(ctx, w, order, event)
			})
		})
	}

	err := c.guard.Do(ctx, func(ctx context.Context) error {
		if err := c.orders.CreateOrder(ctx, order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := run.to(domain.CheckoutStatusCreatingOrderItems); err != nil {
		return err
	}
	err = c.guard.Do(ctx, func(ctx context.Context) error {
		return writeLines(ctx, c.orders, order, event)
	})
	if err == nil {
		return nil
	}

	if c.placement == PlacementSequential {
		logger.FromCtx(ctx).Error("order left without lines", "order_id", order.ID, "err", err)
		return err
	}

	cerr := c.guard.Do(context.WithoutCancel(ctx), func(ctx context.Context) error {
		return c.orders.DeleteOrder(ctx, order.ID)
	})
	if cerr != nil {
		logger.FromCtx(ctx).Error("compensation failed, order left without lines", "order_id", order.ID, "err", cerr)
		return errors.Join(err, fmt.Errorf("compensate order %s: %w", order.ID, cerr))
	}
	logger.FromCtx(ctx).Info("order compensated", "order_id", order.ID)
	return err
}

func writeLines(ctx context.Context, w repository.OrderWriter, order *domain.Order, event *domain.OutboxEvent) error {
	if err := w.CreateOrderItems(ctx, order.Items); err != nil {
		return fmt.Errorf("create order items: %w", err)
	}
	if err := w.AppendOutboxEvent(ctx, event); err != nil {
		return fmt.Errorf("append order event: %w", err)
	}
	return nil
}

// replay returns the order an earlier attempt with key produced, if any.
func (c *Checkout) replay(ctx context.Context, userID, key string) (*domain.Order, error) {
	var orderID string
	if c.idem != nil {
		id, ok, err := c.idem.Recall(ctx, userID, key)
		if err != nil {
			logger.FromCtx(ctx).Warn("idempotency recall failed", "user_id", userID, "err", err)
		}
		if ok {
			orderID = id
		}
	}

	var order *domain.Order
	err := c.guard.Do(ctx, func(ctx context.Context) error {
		var err error
		if orderID != "" {
			order, err = c.orders.GetOrder(ctx, userID, orderID)
		} else {
			order, err = c.orders.GetOrderByIdempotencyKey(ctx, userID, key)
		}
		return err
	})
	if errors.Is(err, repository.ErrOrderNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return order, nil
}

// lock claims key for this attempt. The returned func releases the claim
// unless the attempt reached Done.
func (c *Checkout) lock(ctx context.Context, userID, key string) (func(*CheckoutResult), error) {
	noop := func(*CheckoutResult) {}
	if c.idem == nil {
		return noop, nil
	}

	ok, err := c.idem.TryLock(ctx, userID, key)
	if err != nil {
		// the orders table still rejects a duplicate key
		logger.FromCtx(ctx).Warn("idempotency lock failed", "user_id", userID, "err", err)
		return noop, nil
	}
	if !ok {
		return nil, ErrCheckoutInProgress
	}

	return func(res *CheckoutResult) {
		if res.Status == domain.CheckoutStatusDone {
			return
		}
		if err := c.idem.Release(context.WithoutCancel(ctx), userID, key); err != nil {
			logger.FromCtx(ctx).Warn("idempotency release failed", "user_id", userID, "err", err)
		}
	}, nil
}
