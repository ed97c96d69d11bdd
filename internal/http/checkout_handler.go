package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/service"
)

type CheckoutHandler struct {
	carts   *service.CartService
	opts    service.CheckoutOptions
	timeout time.Duration
}

func NewCheckoutHandler(carts *service.CartService, opts service.CheckoutOptions, timeout time.Duration) *CheckoutHandler {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &CheckoutHandler{
		carts:   carts,
		opts:    opts,
		timeout: timeout,
	}
}

type CheckoutRequestDTO struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	Address        string `json:"address"`
	IdempotencyKey string `json:"idempotency_key"`
}

// Checkout places an order from the caller's cart. The idempotency key may
// come from the body or the Idempotency-Key header; the body wins.
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	user := userFromContext(r.Context())
	if user == nil {
		respondError(w, http.StatusUnauthorized, "unauthenticated", "sign in required")
		return
	}

	var req CheckoutRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	}

	checkout := service.NewCheckout(h.carts.NewStore(), h.opts)
	result, err := checkout.PlaceOrder(ctx, user, domain.ShippingDetails{
		Name:    req.Name,
		Email:   req.Email,
		Address: req.Address,
	}, key)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	respondJSON(w, status, result)
}
