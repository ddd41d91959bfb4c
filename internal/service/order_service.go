package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/metrics"
	"github.com/safar/go-storefront/internal/models"
	"github.com/safar/go-storefront/internal/pricing"
	"github.com/safar/go-storefront/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type OrderServiceDeps struct {
	DB        *sql.DB
	Pricer    *pricing.CheckoutPricer
	Tolerance decimal.Decimal
	Logger    *zap.Logger
	Metrics   *metrics.Collectors
	Clock     func() time.Time
}

type OrderService struct {
	db        *sql.DB
	pricer    *pricing.CheckoutPricer
	tolerance decimal.Decimal
	logger    *zap.Logger
	metrics   *metrics.Collectors
	now       func() time.Time
}

// CheckoutInput creates an order from a captured payment.
type CheckoutInput struct {
	LineItem
	ShippingName       string `json:"shipping_name"`
	ShippingPhone      string `json:"shipping_phone"`
	ShippingAddress    string `json:"shipping_address"`
	ShippingCity       string `json:"shipping_city"`
	ShippingPostalCode string `json:"shipping_postal_code"`
	PaymentType        string `json:"payment_type"`
	PaymentID          int64  `json:"payment_id"`
}

func (in *CheckoutInput) normalise() {
	in.LineItem.normalise()
	in.ShippingName = strings.TrimSpace(in.ShippingName)
	in.ShippingPhone = strings.TrimSpace(in.ShippingPhone)
	in.ShippingAddress = strings.TrimSpace(in.ShippingAddress)
	in.ShippingCity = strings.TrimSpace(in.ShippingCity)
	in.ShippingPostalCode = strings.TrimSpace(in.ShippingPostalCode)
	in.PaymentType = strings.TrimSpace(in.PaymentType)
	if in.PaymentType == "" {
		in.PaymentType = "card"
	}
}

func (in CheckoutInput) validate() error {
	required := []struct {
		field string
		value string
	}{
		{"shipping_name", in.ShippingName},
		{"shipping_phone", in.ShippingPhone},
		{"shipping_address", in.ShippingAddress},
		{"shipping_city", in.ShippingCity},
		{"shipping_postal_code", in.ShippingPostalCode},
	}
	for _, r := range required {
		if r.value == "" {
			return invalid(r.field, "is required")
		}
	}
	if err := in.LineItem.validate(); err != nil {
		return err
	}
	if in.PaymentID <= 0 {
		return invalid("payment_id", "is required")
	}
	return nil
}

func NewOrderService(deps OrderServiceDeps) (*OrderService, error) {
	if deps.DB == nil {
		return nil, errors.New("order service: db is required")
	}
	if deps.Pricer == nil {
		return nil, errors.New("order service: pricer is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &OrderService{
		db:        deps.DB,
		pricer:    deps.Pricer,
		tolerance: deps.Tolerance,
		logger:    logger.Named("orders"),
		metrics:   deps.Metrics,
		now: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

// CreateOrder turns a captured payment into an order. Pricing is recomputed
// and must agree with the captured amount. Stock decrement, loyalty
// redemption, the order insert and loyalty accrual commit together or not
// at all.
func (s *OrderService) CreateOrder(ctx context.Context, customerID int64, in CheckoutInput) (*models.Order, error) {
	in.normalise()
	if err := in.validate(); err != nil {
		return nil, err
	}

	payment, err := store.GetPayment(ctx, s.db, in.PaymentID)
	if err != nil {
		return nil, err
	}
	if payment.CustomerID != customerID {
		return nil, database.ErrPaymentNotFound
	}
	if err := matchPayment(payment, in.LineItem); err != nil {
		return nil, err
	}

	policy := s.pricer.Loyalty()
	var order *models.Order

	err = database.WithRetry(ctx, s.db, database.SerializableTxOptions(), func(tx *sql.Tx) error {
		locked, err := store.LockPayment(ctx, tx, payment.ID)
		if err != nil {
			return err
		}
		switch locked.Status {
		case models.PaymentStatusSucceeded:
		case models.PaymentStatusPendingVerification:
			return ErrPaymentPendingVerification
		default:
			return ErrPaymentNotSettled
		}

		priced, err := priceLine(ctx, tx, s.pricer, customerID, in.LineItem, s.now())
		if err != nil {
			return err
		}
		if err := pricing.CheckTotal(priced.quote, locked.Amount, s.tolerance); err != nil {
			return fmt.Errorf("%w: %w", ErrPriceMismatch, err)
		}

		if err := store.DecrementVariantStock(ctx, tx, priced.product.ID, in.Size, in.Color, in.Quantity); err != nil {
			return err
		}

		q := priced.quote
		order, err = store.InsertOrder(ctx, tx, models.Order{
			CustomerID:         customerID,
			ShippingName:       in.ShippingName,
			ShippingPhone:      in.ShippingPhone,
			ShippingAddress:    in.ShippingAddress,
			ShippingCity:       in.ShippingCity,
			ShippingPostalCode: in.ShippingPostalCode,
			ProductID:          priced.product.ID,
			Size:               in.Size,
			Color:              in.Color,
			Quantity:           in.Quantity,
			PaymentType:        in.PaymentType,
			BasePrice:          q.BasePrice,
			PromotionDiscount:  q.PromotionDiscount,
			LoyaltyDiscount:    q.LoyaltyDiscount,
			TotalPrice:         q.Total,
			PaymentID:          locked.ID,
		})
		if err != nil {
			return err
		}

		if in.UseLoyalty {
			if err := store.RedeemLoyalty(ctx, tx, customerID, order.ID, policy.RedemptionCost, policy.RequiredBalance()); err != nil {
				return err
			}
		}
		return store.AccrueLoyalty(ctx, tx, customerID, order.ID, policy.AccrualPoints)
	})
	if err != nil {
		if payment.Status != models.PaymentStatusSucceeded || errors.Is(err, database.ErrPaymentAlreadyUsed) {
			return nil, err
		}
		s.logger.Error("order not created for captured payment",
			zap.Int64("payment_id", payment.ID),
			zap.String("payment_external_id", payment.ExternalID),
			zap.Int64("customer_id", customerID),
			zap.String("amount", payment.Amount.StringFixed(pricing.MinorUnitPlaces)),
			zap.Error(err),
		)
		return nil, err
	}

	s.metrics.OrderCreated()
	s.metrics.LoyaltyPoints(models.LoyaltyEventAccrual, policy.AccrualPoints)
	if in.UseLoyalty {
		s.metrics.LoyaltyPoints(models.LoyaltyEventRedemption, policy.RedemptionCost)
	}

	s.logger.Info("order created",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.Int64("payment_id", payment.ID),
	)
	return order, nil
}

// matchPayment checks that the payment was captured for this exact line.
func matchPayment(p *models.Payment, line LineItem) error {
	if p.ProductCode != line.ProductCode || p.Size != line.Size || p.Color != line.Color ||
		p.Quantity != line.Quantity || p.UseLoyalty != line.UseLoyalty {
		return invalid("payment_id", "payment was captured for a different item")
	}
	return nil
}

// UpdateStatus advances an order by exactly one step.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID int64, next string) (*models.Order, error) {
	order, err := store.GetOrder(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}

	expected, ok := models.NextOrderStatus(order.Status)
	if !ok || expected != next {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, order.Status, next)
	}

	updated, err := store.UpdateOrderStatus(ctx, s.db, order.ID, order.Status, next, order.Version)
	if err != nil {
		return nil, err
	}

	s.logger.Info("order status updated",
		zap.Int64("order_id", order.ID),
		zap.String("from", order.Status),
		zap.String("to", next),
	)
	return updated, nil
}

// Get returns an order owned by customerID.
func (s *OrderService) Get(ctx context.Context, customerID, orderID int64) (*models.Order, error) {
	order, err := store.GetOrder(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	if order.CustomerID != customerID {
		return nil, database.ErrOrderNotFound
	}
	return order, nil
}

func (s *OrderService) List(ctx context.Context, customerID int64, cursor string, limit int) (*store.CursorPage, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return store.ListOrdersCursor(ctx, s.db, customerID, cursor, limit)
}
