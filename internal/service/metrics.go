package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	checkoutOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_checkout_total",
			Help: "Checkout attempts by outcome",
		},
		[]string{"outcome"},
	)

	checkoutDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storefront_checkout_duration_ms",
			Help:    "Duration of checkout attempts in ms",
			Buckets: []float64{5, 10, 25, 50, 100, 200, 400, 800, 1600},
		},
		[]string{"placement"},
	)

	cartClearFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storefront_checkout_cart_clear_failures_total",
			Help: "Orders placed whose cart could not be cleared afterwards",
		},
	)
)
