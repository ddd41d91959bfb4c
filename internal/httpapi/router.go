// Package httpapi exposes the storefront services over HTTP with chi.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/safar/go-storefront/internal/metrics"
	"github.com/safar/go-storefront/internal/observability"
	"github.com/safar/go-storefront/internal/service"
	"go.uber.org/zap"
)

const requestTimeout = 60 * time.Second

// Pinger reports database reachability for /healthz.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Deps struct {
	DB             Pinger
	Payments       *service.PaymentService
	Orders         *service.OrderService
	Refunds        *service.RefundWorkflow
	Reports        *service.ReportService
	PaymentMethods *service.PaymentMethodService
	Catalog        *service.CatalogService
	Loyalty        *service.LoyaltyService
	Metrics        *metrics.Collectors
	Logger         *zap.Logger
}

type handlers struct {
	Deps
}

func NewRouter(deps Deps) (http.Handler, error) {
	switch {
	case deps.Payments == nil, deps.Orders == nil, deps.Refunds == nil, deps.Reports == nil:
		return nil, errors.New("httpapi: payment, order, refund and report services are required")
	case deps.PaymentMethods == nil, deps.Catalog == nil, deps.Loyalty == nil:
		return nil, errors.New("httpapi: payment method, catalog and loyalty services are required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	h := &handlers{Deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.RequestLogger(deps.Logger))
	r.Use(observability.Recoverer(deps.Logger))
	r.Use(middleware.Timeout(requestTimeout))

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeError(req.Context(), w, newError("route_not_found", fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		writeError(req.Context(), w, newError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", h.healthz)
	r.Handle("/metrics", deps.Metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(requireCustomer)

		r.Post("/checkout/quote", h.quote)
		r.Post("/payment/pay", h.pay)
		r.Get("/payment/{paymentID}", h.getPayment)
		r.Route("/payment/methods", func(r chi.Router) {
			r.Get("/", h.listPaymentMethods)
			r.Post("/", h.addPaymentMethod)
			r.Put("/{methodID}/default", h.setDefaultPaymentMethod)
			r.Delete("/{methodID}", h.removePaymentMethod)
		})
		r.Post("/orders", h.createOrder)
		r.Get("/orders", h.listOrders)
		r.Get("/orders/{orderID}", h.getOrder)
		r.Post("/refund/request/{paymentID}", h.requestRefund)
		r.Get("/refund/requests", h.listCustomerRefunds)
		r.Get("/loyalty/balance", h.loyaltyBalance)
	})

	r.Group(func(r chi.Router) {
		r.Use(requireStaff)

		r.Put("/refund/handle/{requestID}", h.decideRefund)
		r.Get("/refund/admin", h.listRefunds)
		r.Put("/orders/{orderID}/status", h.updateOrderStatus)
		r.Post("/payment/{paymentID}/verify", h.verifyPayment)
		r.Get("/payment/unreconciled", h.unreconciledPayments)
		r.Get("/reports/monthly", h.monthlyReport)
		r.Get("/reports/yearly", h.yearlyReport)

		r.Post("/customers", h.createCustomer)
		r.Get("/customers", h.listCustomers)
		r.Get("/customers/{customerID}", h.getCustomer)
		r.Post("/products", h.createProduct)
		r.Get("/products", h.listProducts)
		r.Get("/products/{code}", h.getProduct)
		r.Put("/products/{code}/stock", h.adjustStock)
		r.Post("/promotions", h.createPromotion)
		r.Get("/promotions", h.listPromotions)
		r.Put("/promotions/{promotionID}", h.updatePromotion)
		r.Delete("/promotions/{promotionID}", h.deletePromotion)
	})

	return r, nil
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	if h.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.DB.PingContext(ctx); err != nil {
			observability.FromContext(r.Context()).Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
