package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/safar/go-storefront/internal/metrics"
	"github.com/safar/go-storefront/internal/models"
	"github.com/safar/go-storefront/internal/payments"
	"github.com/safar/go-storefront/internal/pricing"
	"github.com/safar/go-storefront/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var seq atomic.Int64

// fakeGateway records every call. Behaviour is swapped per test through the
// xxxFn hooks; nil hooks succeed.
type fakeGateway struct {
	mu        sync.Mutex
	captures  []payments.CaptureRequest
	refunds   []payments.RefundRequest
	detached  []string
	captureFn func(payments.CaptureRequest) (payments.CaptureResult, error)
	refundFn  func(payments.RefundRequest) (payments.RefundResult, error)
	lookupFn  func(string) (payments.CaptureResult, error)
}

func (g *fakeGateway) reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.captures = nil
	g.refunds = nil
	g.detached = nil
	g.captureFn = nil
	g.refundFn = nil
	g.lookupFn = nil
}

func (g *fakeGateway) EnsureCustomer(_ context.Context, req payments.CustomerRequest) (string, error) {
	return fmt.Sprintf("cus_%d", req.CustomerID), nil
}

func (g *fakeGateway) AttachMethod(_ context.Context, customerRef, token string) (payments.MethodDetails, error) {
	return payments.MethodDetails{
		ExternalID: fmt.Sprintf("pm_%s_%d", token, seq.Add(1)),
		Brand:      "visa",
		Last4:      "4242",
		ExpMonth:   12,
		ExpYear:    2030,
	}, nil
}

func (g *fakeGateway) DetachMethod(_ context.Context, methodRef string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.detached = append(g.detached, methodRef)
	return nil
}

func (g *fakeGateway) Capture(_ context.Context, req payments.CaptureRequest) (payments.CaptureResult, error) {
	g.mu.Lock()
	g.captures = append(g.captures, req)
	fn := g.captureFn
	g.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return payments.CaptureResult{
		ExternalID: fmt.Sprintf("pi_%d", seq.Add(1)),
		Status:     payments.StatusSucceeded,
		Amount:     req.Amount,
		Currency:   req.Currency,
	}, nil
}

func (g *fakeGateway) Refund(_ context.Context, req payments.RefundRequest) (payments.RefundResult, error) {
	g.mu.Lock()
	g.refunds = append(g.refunds, req)
	fn := g.refundFn
	g.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return payments.RefundResult{ExternalID: "re_" + req.Reference, Status: payments.StatusSucceeded}, nil
}

func (g *fakeGateway) Lookup(_ context.Context, externalID string) (payments.CaptureResult, error) {
	g.mu.Lock()
	fn := g.lookupFn
	g.mu.Unlock()
	if fn != nil {
		return fn(externalID)
	}
	return payments.CaptureResult{ExternalID: externalID, Status: payments.StatusSucceeded}, nil
}

func (g *fakeGateway) captureCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.captures)
}

func (g *fakeGateway) refundCalls() []payments.RefundRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]payments.RefundRequest(nil), g.refunds...)
}

type harness struct {
	db       *sql.DB
	gateway  *fakeGateway
	payments *PaymentService
	orders   *OrderService
	refunds  *RefundWorkflow
	reports  *ReportService
	methods  *PaymentMethodService
	catalog  *CatalogService
	loyalty  *LoyaltyService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := testutil.NewPostgres(t)
	logger := zaptest.NewLogger(t)
	collectors := metrics.New()
	gateway := &fakeGateway{}
	pricer := pricing.NewCheckoutPricer(pricing.DefaultLoyaltyPolicy())
	tolerance := decimal.RequireFromString("0.01")

	h := &harness{db: db, gateway: gateway}
	var err error

	h.payments, err = NewPaymentService(PaymentServiceDeps{
		DB:        db,
		Gateway:   gateway,
		Pricer:    pricer,
		Retry:     payments.RetryPolicy{Timeout: 5 * time.Second, Backoff: time.Millisecond},
		Currency:  "usd",
		Tolerance: tolerance,
		Logger:    logger,
		Metrics:   collectors,
	})
	require.NoError(t, err)

	h.orders, err = NewOrderService(OrderServiceDeps{
		DB:        db,
		Pricer:    pricer,
		Tolerance: tolerance,
		Logger:    logger,
		Metrics:   collectors,
	})
	require.NoError(t, err)

	h.refunds, err = NewRefundWorkflow(RefundWorkflowDeps{DB: db, Gateway: gateway, Logger: logger, Metrics: collectors})
	require.NoError(t, err)

	h.reports, err = NewReportService(db)
	require.NoError(t, err)

	h.methods, err = NewPaymentMethodService(PaymentMethodServiceDeps{DB: db, Gateway: gateway, Logger: logger})
	require.NoError(t, err)

	h.catalog, err = NewCatalogService(db)
	require.NoError(t, err)

	h.loyalty, err = NewLoyaltyService(db, pricer.Loyalty())
	require.NoError(t, err)

	return h
}

func (h *harness) customerWithCard(t *testing.T) (*models.Customer, *models.PaymentMethod) {
	t.Helper()
	ctx := context.Background()
	n := seq.Add(1)
	customer, err := h.catalog.CreateCustomer(ctx, CreateCustomerInput{
		Email: fmt.Sprintf("shopper%d@example.com", n),
		Name:  fmt.Sprintf("Shopper %d", n),
	})
	require.NoError(t, err)

	method, err := h.methods.Add(ctx, customer.ID, AddPaymentMethodInput{Token: "tok_visa"})
	require.NoError(t, err)
	return customer, method
}

func (h *harness) product(t *testing.T, price string, stock int) *models.Product {
	t.Helper()
	product, err := h.catalog.CreateProduct(context.Background(), CreateProductInput{
		Code:     fmt.Sprintf("TEE-%d", seq.Add(1)),
		Name:     "Tee",
		Price:    decimal.RequireFromString(price),
		Variants: []VariantInput{{Size: "M", Color: "black", Quantity: stock}},
	})
	require.NoError(t, err)
	return product
}

func (h *harness) promote(t *testing.T, product *models.Product, pct int64) {
	t.Helper()
	now := time.Now().UTC()
	_, err := h.catalog.CreatePromotion(context.Background(), PromotionInput{
		Title:       "Sale",
		ProductCode: product.Code,
		DiscountPct: decimal.NewFromInt(pct),
		StartsAt:    now.Add(-24 * time.Hour),
		EndsAt:      now.Add(24 * time.Hour),
	})
	require.NoError(t, err)
}

func (h *harness) grantPoints(t *testing.T, customerID int64, points int) {
	t.Helper()
	_, err := h.db.Exec(`INSERT INTO loyalty_events (customer_id, kind, points) VALUES ($1, 'accrual', $2)`, customerID, points)
	require.NoError(t, err)
}

func line(product *models.Product, quantity int, loyalty bool) LineItem {
	return LineItem{ProductCode: product.Code, Size: "M", Color: "black", Quantity: quantity, UseLoyalty: loyalty}
}

func (h *harness) pay(t *testing.T, customer *models.Customer, method *models.PaymentMethod, item LineItem) *models.Payment {
	t.Helper()
	res, err := h.payments.Pay(context.Background(), customer.ID, PayInput{
		LineItem:        item,
		PaymentMethodID: method.ID,
		IdempotencyKey:  fmt.Sprintf("pay-%d", seq.Add(1)),
	})
	require.NoError(t, err)
	return res.Payment
}

func checkout(payment *models.Payment, item LineItem) CheckoutInput {
	return CheckoutInput{
		LineItem:           item,
		ShippingName:       "Pat Doe",
		ShippingPhone:      "555-0100",
		ShippingAddress:    "1 Main St",
		ShippingCity:       "Springfield",
		ShippingPostalCode: "12345",
		PaymentID:          payment.ID,
	}
}
