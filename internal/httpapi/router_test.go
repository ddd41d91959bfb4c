package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/safar/go-storefront/internal/metrics"
	"github.com/safar/go-storefront/internal/payments"
	"github.com/safar/go-storefront/internal/pricing"
	"github.com/safar/go-storefront/internal/service"
	"github.com/safar/go-storefront/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type stubGateway struct {
	seq     atomic.Int64
	refunds atomic.Int64
}

func (g *stubGateway) EnsureCustomer(_ context.Context, req payments.CustomerRequest) (string, error) {
	return fmt.Sprintf("cus_%d", req.CustomerID), nil
}

func (g *stubGateway) AttachMethod(context.Context, string, string) (payments.MethodDetails, error) {
	return payments.MethodDetails{ExternalID: fmt.Sprintf("pm_%d", g.seq.Add(1)), Brand: "visa", Last4: "4242", ExpMonth: 1, ExpYear: 2031}, nil
}

func (g *stubGateway) DetachMethod(context.Context, string) error { return nil }

func (g *stubGateway) Capture(_ context.Context, req payments.CaptureRequest) (payments.CaptureResult, error) {
	return payments.CaptureResult{ExternalID: fmt.Sprintf("pi_%d", g.seq.Add(1)), Status: payments.StatusSucceeded, Amount: req.Amount}, nil
}

func (g *stubGateway) Refund(_ context.Context, req payments.RefundRequest) (payments.RefundResult, error) {
	g.refunds.Add(1)
	return payments.RefundResult{ExternalID: "re_" + req.Reference, Status: payments.StatusSucceeded}, nil
}

func (g *stubGateway) Lookup(_ context.Context, id string) (payments.CaptureResult, error) {
	return payments.CaptureResult{ExternalID: id, Status: payments.StatusSucceeded}, nil
}

type apiClient struct {
	t       *testing.T
	handler http.Handler
}

func (c apiClient) do(method, path string, headers map[string]string, body any) (*httptest.ResponseRecorder, map[string]any) {
	c.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)

	var decoded map[string]any
	if strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		require.NoError(c.t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func newTestRouter(t *testing.T) (http.Handler, *stubGateway) {
	t.Helper()
	db := testutil.NewPostgres(t)
	logger := zaptest.NewLogger(t)
	collectors := metrics.New()
	gateway := &stubGateway{}
	pricer := pricing.NewCheckoutPricer(pricing.DefaultLoyaltyPolicy())
	tolerance := decimal.RequireFromString("0.01")

	paymentsSvc, err := service.NewPaymentService(service.PaymentServiceDeps{
		DB:        db,
		Gateway:   gateway,
		Pricer:    pricer,
		Tolerance: tolerance,
		Logger:    logger,
		Metrics:   collectors,
		Retry:     payments.RetryPolicy{Timeout: time.Second, Backoff: time.Millisecond},
	})
	require.NoError(t, err)
	orders, err := service.NewOrderService(service.OrderServiceDeps{DB: db, Pricer: pricer, Tolerance: tolerance, Logger: logger, Metrics: collectors})
	require.NoError(t, err)
	refunds, err := service.NewRefundWorkflow(service.RefundWorkflowDeps{DB: db, Gateway: gateway, Logger: logger, Metrics: collectors})
	require.NoError(t, err)
	reports, err := service.NewReportService(db)
	require.NoError(t, err)
	methods, err := service.NewPaymentMethodService(service.PaymentMethodServiceDeps{DB: db, Gateway: gateway, Logger: logger})
	require.NoError(t, err)
	catalog, err := service.NewCatalogService(db)
	require.NoError(t, err)
	loyalty, err := service.NewLoyaltyService(db, pricer.Loyalty())
	require.NoError(t, err)

	router, err := NewRouter(Deps{
		DB:             db,
		Payments:       paymentsSvc,
		Orders:         orders,
		Refunds:        refunds,
		Reports:        reports,
		PaymentMethods: methods,
		Catalog:        catalog,
		Loyalty:        loyalty,
		Metrics:        collectors,
		Logger:         logger,
	})
	require.NoError(t, err)
	return router, gateway
}

func TestNewRouterRequiresServices(t *testing.T) {
	_, err := NewRouter(Deps{})
	assert.Error(t, err)
}

func TestRouterEndToEnd(t *testing.T) {
	router, gateway := newTestRouter(t)
	c := apiClient{t: t, handler: router}
	staff := map[string]string{headerStaffID: "ops-1"}

	rec, body := c.do(http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	rec, body = c.do(http.MethodGet, "/nowhere", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "route_not_found", body["error"])

	rec, _ = c.do(http.MethodGet, "/orders", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = c.do(http.MethodGet, "/refund/admin", map[string]string{headerCustomerID: "1"}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, body = c.do(http.MethodPost, "/customers", staff, service.CreateCustomerInput{Email: "ada@example.com", Name: "Ada"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	customer := map[string]string{headerCustomerID: fmt.Sprint(int64(body["id"].(float64)))}

	rec, body = c.do(http.MethodPost, "/customers", staff, service.CreateCustomerInput{Email: "ada@example.com", Name: "Ada"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "customer_exists", body["error"])

	rec, _ = c.do(http.MethodPost, "/products", staff, service.CreateProductInput{
		Code:     "HAT-1",
		Name:     "Hat",
		Price:    decimal.RequireFromString("100.00"),
		Variants: []service.VariantInput{{Size: "L", Color: "red", Quantity: 1}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	now := time.Now().UTC()
	rec, _ = c.do(http.MethodPost, "/promotions", staff, service.PromotionInput{
		Title:       "Launch",
		ProductCode: "HAT-1",
		DiscountPct: decimal.NewFromInt(20),
		StartsAt:    now.Add(-time.Hour),
		EndsAt:      now.Add(time.Hour),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec, body = c.do(http.MethodPost, "/payment/methods", customer, service.AddPaymentMethodInput{Token: "tok_visa"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	methodID := int64(body["id"].(float64))
	assert.Equal(t, true, body["is_default"])
	assert.NotContains(t, rec.Body.String(), "pm_")

	item := service.LineItem{ProductCode: "HAT-1", Size: "L", Color: "red", Quantity: 1}

	rec, body = c.do(http.MethodPost, "/checkout/quote", customer, item)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "80", body["total"])

	rec, body = c.do(http.MethodPost, "/checkout/quote", customer, service.LineItem{ProductCode: "HAT-1", Size: "L", Color: "red", Quantity: 1, UseLoyalty: true})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "insufficient_loyalty_points", body["error"])

	payHeaders := map[string]string{headerCustomerID: customer[headerCustomerID], "Idempotency-Key": "hat-order"}
	rec, body = c.do(http.MethodPost, "/payment/pay", payHeaders, service.PayInput{LineItem: item, PaymentMethodID: methodID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	paymentID := int64(body["payment"].(map[string]any)["id"].(float64))

	rec, body = c.do(http.MethodPost, "/payment/pay", payHeaders, service.PayInput{LineItem: item, PaymentMethodID: methodID})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["replayed"])

	rec, body = c.do(http.MethodPost, "/orders", customer, service.CheckoutInput{
		LineItem:           item,
		ShippingName:       "Ada",
		ShippingPhone:      "555-0101",
		ShippingAddress:    "12 Analytical Way",
		ShippingCity:       "London",
		ShippingPostalCode: "N1",
		PaymentID:          paymentID,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	orderID := int64(body["id"].(float64))
	assert.Equal(t, "Processing", body["status"])

	rec, body = c.do(http.MethodPut, fmt.Sprintf("/orders/%d/status", orderID), staff, map[string]string{"status": "Delivered"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_status_transition", body["error"])

	rec, _ = c.do(http.MethodPut, fmt.Sprintf("/orders/%d/status", orderID), staff, map[string]string{"status": "Delivering"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, body = c.do(http.MethodGet, "/orders", customer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["items"], 1)

	rec, body = c.do(http.MethodPost, fmt.Sprintf("/refund/request/%d", paymentID), customer, map[string]string{"reason": "wrong size"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	requestID := int64(body["id"].(float64))

	rec, body = c.do(http.MethodPost, fmt.Sprintf("/refund/request/%d", paymentID), customer, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "refund_already_requested", body["error"])

	rec, body = c.do(http.MethodPut, fmt.Sprintf("/refund/handle/%d", requestID), staff, map[string]string{"action": "approve", "response": "refund issued"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "approved", body["status"])
	assert.Equal(t, "refund issued", body["admin_response"])
	assert.Equal(t, int64(1), gateway.refunds.Load())

	rec, body = c.do(http.MethodPut, fmt.Sprintf("/refund/handle/%d", requestID), staff, map[string]string{"action": "reject"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "refund_already_decided", body["error"])

	rec, body = c.do(http.MethodGet, fmt.Sprintf("/reports/monthly?year=%d&month=%d", now.Year(), int(now.Month())), staff, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 1, body["total_payments_count"])
	assert.EqualValues(t, 1, body["refund_approved_count"])
	assert.Equal(t, "0", body["net_income"])

	rec, body = c.do(http.MethodGet, "/reports/monthly?year=2024&month=13", staff, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_failed", body["error"])

	rec, body = c.do(http.MethodGet, "/loyalty/balance", customer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["balance"])

	rec, _ = c.do(http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "storefront_orders_created_total 1")
}
