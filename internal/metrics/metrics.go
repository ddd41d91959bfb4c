// Package metrics exposes the Prometheus collectors for checkout, refunds
// and order creation. A nil *Collectors is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collectors struct {
	registry        *prometheus.Registry
	captures        *prometheus.CounterVec
	captureDuration prometheus.Histogram
	refundDecisions *prometheus.CounterVec
	ordersCreated   prometheus.Counter
	loyaltyPoints   *prometheus.CounterVec
}

// New registers the storefront collectors plus the Go runtime and process
// collectors on a fresh registry.
func New() *Collectors {
	reg := prometheus.NewRegistry()
	c := &Collectors{
		registry: reg,
		captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storefront",
			Name:      "payment_captures_total",
			Help:      "Payment capture attempts by outcome.",
		}, []string{"outcome"}),
		captureDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "storefront",
			Name:      "payment_capture_duration_seconds",
			Help:      "Latency of payment capture including the transient retry.",
			Buckets:   prometheus.DefBuckets,
		}),
		refundDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storefront",
			Name:      "refund_decisions_total",
			Help:      "Refund decisions by resulting status.",
		}, []string{"status"}),
		ordersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storefront",
			Name:      "orders_created_total",
			Help:      "Orders committed after a successful payment.",
		}),
		loyaltyPoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storefront",
			Name:      "loyalty_points_total",
			Help:      "Loyalty points moved through the ledger by event kind.",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.captures,
		c.captureDuration,
		c.refundDecisions,
		c.ordersCreated,
		c.loyaltyPoints,
	)
	return c
}

func (c *Collectors) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collectors) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// ObserveCapture records one capture call. outcome is succeeded or the
// gateway failure class.
func (c *Collectors) ObserveCapture(outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.captures.WithLabelValues(outcome).Inc()
	c.captureDuration.Observe(elapsed.Seconds())
}

func (c *Collectors) RefundDecided(status string) {
	if c == nil {
		return
	}
	c.refundDecisions.WithLabelValues(status).Inc()
}

func (c *Collectors) OrderCreated() {
	if c == nil {
		return
	}
	c.ordersCreated.Inc()
}

func (c *Collectors) LoyaltyPoints(kind string, points int) {
	if c == nil || points <= 0 {
		return
	}
	c.loyaltyPoints.WithLabelValues(kind).Add(float64(points))
}
