package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/metrics"
	"github.com/safar/go-storefront/internal/models"
	"github.com/safar/go-storefront/internal/payments"
	"github.com/safar/go-storefront/internal/pricing"
	"github.com/safar/go-storefront/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type PaymentServiceDeps struct {
	DB        *sql.DB
	Gateway   payments.Gateway
	Pricer    *pricing.CheckoutPricer
	Retry     payments.RetryPolicy
	Currency  string
	Tolerance decimal.Decimal
	Logger    *zap.Logger
	Metrics   *metrics.Collectors
	Clock     func() time.Time
}

type PaymentService struct {
	db        *sql.DB
	gateway   payments.Gateway
	pricer    *pricing.CheckoutPricer
	retry     payments.RetryPolicy
	currency  string
	tolerance decimal.Decimal
	logger    *zap.Logger
	metrics   *metrics.Collectors
	now       func() time.Time
}

// PayInput charges a stored card for one line item. Amount is the total the
// client displayed; it is only compared with the server quote. An empty
// IdempotencyKey gets a generated one, which disables replay detection.
type PayInput struct {
	LineItem
	PaymentMethodID int64            `json:"payment_method_id"`
	Amount          *decimal.Decimal `json:"amount,omitempty"`
	IdempotencyKey  string           `json:"idempotency_key"`
}

type PayResult struct {
	Payment      *models.Payment `json:"payment"`
	Quote        pricing.Quote   `json:"quote"`
	ClientSecret string          `json:"client_secret,omitempty"`
	Status       string          `json:"status"`
	Replayed     bool            `json:"replayed,omitempty"`
}

func NewPaymentService(deps PaymentServiceDeps) (*PaymentService, error) {
	if deps.DB == nil {
		return nil, errors.New("payment service: db is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("payment service: gateway is required")
	}
	if deps.Pricer == nil {
		return nil, errors.New("payment service: pricer is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	currency := strings.ToLower(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "usd"
	}
	retry := deps.Retry
	if retry.Logger == nil {
		retry.Logger = logger
	}

	return &PaymentService{
		db:        deps.DB,
		gateway:   deps.Gateway,
		pricer:    deps.Pricer,
		retry:     retry,
		currency:  currency,
		tolerance: deps.Tolerance,
		logger:    logger.Named("payments"),
		metrics:   deps.Metrics,
		now: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

// Quote prices a line for display. The result is advisory; Pay and
// CreateOrder quote again.
func (s *PaymentService) Quote(ctx context.Context, customerID int64, line LineItem) (pricing.Quote, error) {
	line.normalise()
	if err := line.validate(); err != nil {
		return pricing.Quote{}, err
	}

	priced, err := priceLine(ctx, s.db, s.pricer, customerID, line, s.now())
	if err != nil {
		return pricing.Quote{}, err
	}
	return priced.quote, nil
}

// Pay quotes the line server-side, captures the quoted total and records
// the payment. Replaying an idempotency key returns the stored payment
// without charging again. An unknown capture outcome is stored as
// pending_verification and returned together with
// ErrPaymentPendingVerification.
func (s *PaymentService) Pay(ctx context.Context, customerID int64, in PayInput) (*PayResult, error) {
	in.normalise()
	if err := in.validate(); err != nil {
		return nil, err
	}
	if in.PaymentMethodID <= 0 {
		return nil, invalid("payment_method_id", "is required")
	}

	clientKey := strings.TrimSpace(in.IdempotencyKey)
	if clientKey == "" {
		clientKey = uuid.NewString()
	}
	key := fmt.Sprintf("customer-%d:%s", customerID, clientKey)

	existing, err := store.GetPaymentByIdempotencyKey(ctx, s.db, key)
	switch {
	case err == nil:
		return s.replay(existing), nil
	case !errors.Is(err, database.ErrPaymentNotFound):
		return nil, err
	}

	customer, err := store.GetCustomer(ctx, s.db, customerID)
	if err != nil {
		return nil, err
	}
	method, err := store.GetPaymentMethod(ctx, s.db, customerID, in.PaymentMethodID)
	if err != nil {
		return nil, err
	}
	if customer.GatewayCustomerID == "" {
		return nil, invalid("payment_method_id", "no card on file")
	}

	priced, err := priceLine(ctx, s.db, s.pricer, customerID, in.LineItem, s.now())
	if err != nil {
		return nil, err
	}
	if err := checkStock(priced.variant, in.Quantity); err != nil {
		return nil, err
	}
	if in.Amount != nil {
		if err := pricing.CheckTotal(priced.quote, *in.Amount, s.tolerance); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPriceMismatch, err)
		}
	}

	payment := models.Payment{
		CustomerID:      customerID,
		PaymentMethodID: method.ID,
		Amount:          priced.quote.Total,
		Currency:        s.currency,
		IdempotencyKey:  key,
		ProductCode:     priced.product.Code,
		Size:            in.Size,
		Color:           in.Color,
		Quantity:        in.Quantity,
		UseLoyalty:      in.UseLoyalty,
	}

	var clientSecret string
	var captureErr error
	if priced.quote.Total.IsZero() {
		payment.Status = models.PaymentStatusSucceeded
	} else {
		start := time.Now()
		result, err := payments.CaptureWithRetry(ctx, s.gateway, payments.CaptureRequest{
			CustomerRef:    customer.GatewayCustomerID,
			MethodRef:      method.ExternalID,
			Amount:         priced.quote.Total,
			Currency:       s.currency,
			IdempotencyKey: key,
			Description:    fmt.Sprintf("%s x%d", priced.product.Code, in.Quantity),
			Metadata: map[string]string{
				"customer_id":  fmt.Sprint(customerID),
				"product_code": priced.product.Code,
			},
		}, s.retry)
		s.metrics.ObserveCapture(captureOutcome(result, err), time.Since(start))

		switch {
		case err == nil:
			payment.ExternalID = result.ExternalID
			payment.Status = paymentStatus(result.Status)
			clientSecret = result.ClientSecret
		case payments.ClassOf(err) == payments.ClassUnknown:
			var gwErr *payments.GatewayError
			if errors.As(err, &gwErr) {
				payment.ExternalID = gwErr.ExternalID
			}
			if payment.ExternalID == "" {
				// Nothing to look up later, so nothing is recorded.
				s.logger.Warn("capture outcome unknown without gateway reference",
					zap.String("idempotency_key", key),
					zap.Int64("customer_id", customerID),
					zap.Error(err),
				)
				return nil, err
			}
			payment.Status = models.PaymentStatusPendingVerification
			captureErr = err
			s.logger.Warn("capture outcome unknown",
				zap.String("payment_external_id", payment.ExternalID),
				zap.String("idempotency_key", key),
				zap.Int64("customer_id", customerID),
				zap.Error(err),
			)
		default:
			return nil, err
		}
	}

	stored, err := store.CreatePayment(ctx, s.db, payment)
	if errors.Is(err, database.ErrDuplicateIdempotencyKey) {
		// A concurrent request with the same key recorded first.
		existing, getErr := store.GetPaymentByIdempotencyKey(ctx, s.db, key)
		if getErr == nil {
			return s.replay(existing), nil
		}
		err = getErr
	}
	if err != nil {
		s.logger.Error("payment captured but not recorded",
			zap.String("payment_external_id", payment.ExternalID),
			zap.String("idempotency_key", key),
			zap.Int64("customer_id", customerID),
			zap.String("amount", payment.Amount.StringFixed(pricing.MinorUnitPlaces)),
			zap.String("status", payment.Status),
			zap.Error(err),
		)
		return nil, fmt.Errorf("record payment %s: %w", payment.ExternalID, err)
	}

	res := &PayResult{
		Payment:      stored,
		Quote:        priced.quote,
		ClientSecret: clientSecret,
		Status:       stored.Status,
	}
	if captureErr != nil {
		return res, fmt.Errorf("%w: %w", ErrPaymentPendingVerification, captureErr)
	}
	return res, nil
}

func (s *PaymentService) replay(p *models.Payment) *PayResult {
	return &PayResult{Payment: p, Status: p.Status, Replayed: true}
}

// Get returns a payment owned by customerID.
func (s *PaymentService) Get(ctx context.Context, customerID, paymentID int64) (*models.Payment, error) {
	payment, err := store.GetPayment(ctx, s.db, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.CustomerID != customerID {
		return nil, database.ErrPaymentNotFound
	}
	return payment, nil
}

// Verify asks the gateway for the settlement status of a payment and stores
// it. It is how pending_verification payments are resolved.
func (s *PaymentService) Verify(ctx context.Context, paymentID int64) (*models.Payment, error) {
	payment, err := store.GetPayment(ctx, s.db, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.ExternalID == "" {
		return nil, invalid("payment_id", "payment has no gateway reference")
	}

	result, err := s.gateway.Lookup(ctx, payment.ExternalID)
	if err != nil {
		return nil, err
	}

	status := paymentStatus(result.Status)
	if status == payment.Status {
		return payment, nil
	}

	updated, err := store.UpdatePaymentStatus(ctx, s.db, payment.ID, status, result.ExternalID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment verified",
		zap.Int64("payment_id", payment.ID),
		zap.String("payment_external_id", payment.ExternalID),
		zap.String("from", payment.Status),
		zap.String("to", status),
	)
	return updated, nil
}

// Unreconciled lists captured payments that have no order and were not
// refunded. They are the charges an operator must resolve by hand.
func (s *PaymentService) Unreconciled(ctx context.Context, limit int) ([]models.Payment, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return store.ListUnreconciledPayments(ctx, s.db, limit)
}

func paymentStatus(status payments.Status) string {
	switch status {
	case payments.StatusSucceeded:
		return models.PaymentStatusSucceeded
	case payments.StatusFailed:
		return models.PaymentStatusFailed
	case payments.StatusRefunded:
		return models.PaymentStatusRefunded
	default:
		return models.PaymentStatusPending
	}
}

func captureOutcome(result payments.CaptureResult, err error) string {
	if err != nil {
		if class := payments.ClassOf(err); class != "" {
			return string(class)
		}
		return "error"
	}
	return string(result.Status)
}
