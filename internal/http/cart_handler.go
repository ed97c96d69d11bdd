package http

import (
	"context"
	"net/http"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/repository"
	"github.com/fjod/storefront/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type CartHandler struct {
	carts   *service.CartService
	timeout time.Duration
}

func NewCartHandler(carts *service.CartService, timeout time.Duration) *CartHandler {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &CartHandler{
		carts:   carts,
		timeout: timeout,
	}
}

type AddItemRequestDTO struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type UpdateQuantityRequestDTO struct {
	Quantity int `json:"quantity"`
}

type CartResponseDTO struct {
	UserID string            `json:"user_id"`
	Items  []domain.CartItem `json:"items"`
	Total  decimal.Decimal   `json:"total"`
}

func newCartResponse(view domain.CartView) CartResponseDTO {
	items := view.Items
	if items == nil {
		items = []domain.CartItem{}
	}
	return CartResponseDTO{UserID: view.UserID, Items: items, Total: service.Total(view)}
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	view, err := h.carts.NewStore().Load(ctx, userFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newCartResponse(view))
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	user := userFromContext(r.Context())
	if user == nil {
		respondError(w, http.StatusUnauthorized, "unauthenticated", "sign in required")
		return
	}

	var req AddItemRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}

	view, err := h.carts.NewStore().Add(ctx, user, req.ProductID, req.Quantity)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, newCartResponse(view))
}

// UpdateQuantity sets the quantity of one line; zero or less removes it.
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	user := userFromContext(r.Context())
	if user == nil {
		respondError(w, http.StatusUnauthorized, "unauthenticated", "sign in required")
		return
	}

	var req UpdateQuantityRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}

	store := h.carts.NewStore()
	current, err := store.Load(ctx, user)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	item, ok := findLine(current, chi.URLParam(r, "item_id"))
	if !ok {
		handleServiceError(w, r, repository.ErrCartItemNotFound)
		return
	}

	view, err := store.SetQuantity(ctx, item, req.Quantity)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newCartResponse(view))
}

// RemoveItem succeeds for lines that are already gone.
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	user := userFromContext(r.Context())
	if user == nil {
		respondError(w, http.StatusUnauthorized, "unauthenticated", "sign in required")
		return
	}

	item := domain.CartItem{ID: chi.URLParam(r, "item_id"), UserID: user.ID}
	view, err := h.carts.NewStore().Remove(ctx, item)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newCartResponse(view))
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	user := userFromContext(r.Context())
	if user == nil {
		respondError(w, http.StatusUnauthorized, "unauthenticated", "sign in required")
		return
	}

	view, err := h.carts.NewStore().Clear(ctx, user)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newCartResponse(view))
}

func findLine(view domain.CartView, itemID string) (domain.CartItem, bool) {
	for _, item := range view.Items {
		if item.ID == itemID {
			return item, true
		}
	}
	return domain.CartItem{}, false
}
