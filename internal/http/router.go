package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/fjod/storefront/internal/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	maxRequestBodySize    = 1 << 20 // 1MB
	defaultRequestTimeout = 30 * time.Second
)

type RouterOptions struct {
	Cart           *CartHandler
	Checkout       *CheckoutHandler
	Orders         *OrdersHandler
	Verifier       TokenVerifier
	Logger         *slog.Logger
	RequestTimeout time.Duration
}

// NewRouter builds the storefront API. The returned handler is wrapped for
// OpenTelemetry tracing.
func NewRouter(opts RouterOptions) http.Handler {
	if opts.Logger == nil {
		opts.Logger = logger.New("http")
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(LoggingMiddleware(opts.Logger))
	if opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(opts.RequestTimeout))
	}
	r.Use(middleware.RequestSize(maxRequestBodySize))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(opts.Verifier))

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", opts.Cart.GetCart)
			r.Delete("/", opts.Cart.ClearCart)
			r.Post("/items", opts.Cart.AddItem)
			r.Put("/items/{item_id}", opts.Cart.UpdateQuantity)
			r.Delete("/items/{item_id}", opts.Cart.RemoveItem)
		})
		r.Post("/checkout", opts.Checkout.Checkout)
		r.Route("/orders", func(r chi.Router) {
			r.Get("/", opts.Orders.ListOrders)
			r.Get("/{order_id}", opts.Orders.GetOrder)
		})
	})

	return otelhttp.NewHandler(r, "storefront-http")
}
