package http

import (
	"context"
	"net/http"
	"time"

	"github.com/fjod/storefront/internal/circuitbreaker"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/repository"
	"github.com/go-chi/chi/v5"
)

type OrdersHandler struct {
	orders  repository.OrderRepository
	guard   *circuitbreaker.Guard
	timeout time.Duration
}

func NewOrdersHandler(orders repository.OrderRepository, guard *circuitbreaker.Guard, timeout time.Duration) *OrdersHandler {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &OrdersHandler{
		orders:  orders,
		guard:   guard,
		timeout: timeout,
	}
}

func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	user := userFromContext(r.Context())
	if user == nil {
		respondError(w, http.StatusUnauthorized, "unauthenticated", "sign in required")
		return
	}

	var orders []domain.Order
	err := h.guard.Do(ctx, func(ctx context.Context) error {
		var err error
		orders, err = h.orders.ListOrdersByUser(ctx, user.ID)
		return err
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"orders": orders})
}

// GetOrder answers 404 for orders of other users.
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	user := userFromContext(r.Context())
	if user == nil {
		respondError(w, http.StatusUnauthorized, "unauthenticated", "sign in required")
		return
	}

	var order *domain.Order
	err := h.guard.Do(ctx, func(ctx context.Context) error {
		var err error
		order, err = h.orders.GetOrder(ctx, user.ID, chi.URLParam(r, "order_id"))
		return err
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}
