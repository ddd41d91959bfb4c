package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/models"
	"github.com/safar/go-storefront/internal/payments"
	"github.com/safar/go-storefront/internal/pricing"
	"github.com/safar/go-storefront/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckoutFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	t.Run("QuoteAppliesPromotion", func(t *testing.T) {
		customer, _ := h.customerWithCard(t)
		product := h.product(t, "100.00", 5)
		h.promote(t, product, 20)

		quote, err := h.payments.Quote(ctx, customer.ID, line(product, 2, false))
		require.NoError(t, err)
		assert.Equal(t, "200.00", quote.BasePrice.StringFixed(2))
		assert.Equal(t, "40.00", quote.PromotionDiscount.StringFixed(2))
		assert.True(t, quote.LoyaltyDiscount.IsZero())
		assert.Equal(t, "160.00", quote.Total.StringFixed(2))
	})

	t.Run("PayAndOrderWithLoyalty", func(t *testing.T) {
		h.gateway.reset()
		customer, method := h.customerWithCard(t)
		product := h.product(t, "100.00", 5)
		h.promote(t, product, 20)
		h.grantPoints(t, customer.ID, 6)

		item := line(product, 2, true)
		res, err := h.payments.Pay(ctx, customer.ID, PayInput{
			LineItem:        item,
			PaymentMethodID: method.ID,
			IdempotencyKey:  "loyal-1",
		})
		require.NoError(t, err)
		assert.Equal(t, "152.00", res.Payment.Amount.StringFixed(2))
		assert.Equal(t, models.PaymentStatusSucceeded, res.Status)
		require.Equal(t, 1, h.gateway.captureCount())
		assert.Equal(t, fmt.Sprintf("customer-%d:loyal-1", customer.ID), h.gateway.captures[0].IdempotencyKey)

		order, err := h.orders.CreateOrder(ctx, customer.ID, checkout(res.Payment, item))
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusProcessing, order.Status)
		assert.Equal(t, "8.00", order.LoyaltyDiscount.StringFixed(2))
		assert.Equal(t, "152.00", order.TotalPrice.StringFixed(2))

		summary, err := h.loyalty.Summary(ctx, customer.ID)
		require.NoError(t, err)
		assert.Equal(t, 6-5+1, summary.Balance)
		assert.False(t, summary.CanRedeem)

		variant, err := store.GetVariant(ctx, h.db, product.ID, "M", "black")
		require.NoError(t, err)
		assert.Equal(t, 3, variant.Quantity)

		_, err = h.orders.CreateOrder(ctx, customer.ID, checkout(res.Payment, item))
		assert.ErrorIs(t, err, database.ErrPaymentAlreadyUsed)
	})

	t.Run("LoyaltyBelowMinimumRefusedBeforeCharge", func(t *testing.T) {
		h.gateway.reset()
		customer, method := h.customerWithCard(t)
		product := h.product(t, "100.00", 5)
		h.grantPoints(t, customer.ID, 3)

		_, err := h.payments.Pay(ctx, customer.ID, PayInput{
			LineItem:        line(product, 1, true),
			PaymentMethodID: method.ID,
			IdempotencyKey:  "low-points",
		})
		assert.ErrorIs(t, err, pricing.ErrInsufficientLoyaltyPoints)
		assert.Zero(t, h.gateway.captureCount())
	})

	t.Run("ReplayReturnsStoredPayment", func(t *testing.T) {
		h.gateway.reset()
		customer, method := h.customerWithCard(t)
		product := h.product(t, "25.00", 5)
		in := PayInput{LineItem: line(product, 1, false), PaymentMethodID: method.ID, IdempotencyKey: "same-key"}

		first, err := h.payments.Pay(ctx, customer.ID, in)
		require.NoError(t, err)
		second, err := h.payments.Pay(ctx, customer.ID, in)
		require.NoError(t, err)

		assert.True(t, second.Replayed)
		assert.Equal(t, first.Payment.ID, second.Payment.ID)
		assert.Equal(t, 1, h.gateway.captureCount())
	})

	t.Run("SuppliedAmountMismatch", func(t *testing.T) {
		h.gateway.reset()
		customer, method := h.customerWithCard(t)
		product := h.product(t, "100.00", 5)
		wrong := decimal.RequireFromString("99.00")

		_, err := h.payments.Pay(ctx, customer.ID, PayInput{
			LineItem:        line(product, 1, false),
			PaymentMethodID: method.ID,
			Amount:          &wrong,
			IdempotencyKey:  "mismatch",
		})
		assert.ErrorIs(t, err, ErrPriceMismatch)
		assert.Zero(t, h.gateway.captureCount())
	})

	t.Run("OrderRejectsPriceChangedSinceCapture", func(t *testing.T) {
		h.gateway.reset()
		customer, method := h.customerWithCard(t)
		product := h.product(t, "100.00", 5)
		item := line(product, 1, false)
		payment := h.pay(t, customer, method, item)

		h.promote(t, product, 50)

		_, err := h.orders.CreateOrder(ctx, customer.ID, checkout(payment, item))
		assert.ErrorIs(t, err, ErrPriceMismatch)
	})

	t.Run("DeclinedIsNotPersisted", func(t *testing.T) {
		h.gateway.reset()
		h.gateway.captureFn = func(payments.CaptureRequest) (payments.CaptureResult, error) {
			return payments.CaptureResult{}, &payments.GatewayError{Op: "capture", Class: payments.ClassDeclined, Code: "card_declined"}
		}
		customer, method := h.customerWithCard(t)
		product := h.product(t, "10.00", 5)

		_, err := h.payments.Pay(ctx, customer.ID, PayInput{
			LineItem:        line(product, 1, false),
			PaymentMethodID: method.ID,
			IdempotencyKey:  "declined",
		})
		assert.ErrorIs(t, err, payments.ErrDeclined)

		_, err = store.GetPaymentByIdempotencyKey(ctx, h.db, fmt.Sprintf("customer-%d:declined", customer.ID))
		assert.ErrorIs(t, err, database.ErrPaymentNotFound)
	})

	t.Run("UnknownOutcomeNeedsVerification", func(t *testing.T) {
		h.gateway.reset()
		h.gateway.captureFn = func(payments.CaptureRequest) (payments.CaptureResult, error) {
			return payments.CaptureResult{}, &payments.GatewayError{Op: "capture", Class: payments.ClassUnknown, ExternalID: "pi_unsure"}
		}
		customer, method := h.customerWithCard(t)
		product := h.product(t, "10.00", 5)
		item := line(product, 1, false)

		res, err := h.payments.Pay(ctx, customer.ID, PayInput{LineItem: item, PaymentMethodID: method.ID, IdempotencyKey: "unsure"})
		require.ErrorIs(t, err, ErrPaymentPendingVerification)
		require.NotNil(t, res)
		assert.Equal(t, models.PaymentStatusPendingVerification, res.Payment.Status)
		assert.Equal(t, "pi_unsure", res.Payment.ExternalID)
		assert.Equal(t, 1, h.gateway.captureCount())

		_, err = h.orders.CreateOrder(ctx, customer.ID, checkout(res.Payment, item))
		assert.ErrorIs(t, err, ErrPaymentPendingVerification)

		unreconciled, err := h.payments.Unreconciled(ctx, 0)
		require.NoError(t, err)
		assert.True(t, containsPayment(unreconciled, res.Payment.ID))

		verified, err := h.payments.Verify(ctx, res.Payment.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStatusSucceeded, verified.Status)

		_, err = h.orders.CreateOrder(ctx, customer.ID, checkout(verified, item))
		require.NoError(t, err)

		unreconciled, err = h.payments.Unreconciled(ctx, 0)
		require.NoError(t, err)
		assert.False(t, containsPayment(unreconciled, res.Payment.ID))
	})

	t.Run("UnknownOutcomeWithoutReferenceIsNotRecorded", func(t *testing.T) {
		h.gateway.reset()
		h.gateway.captureFn = func(payments.CaptureRequest) (payments.CaptureResult, error) {
			return payments.CaptureResult{}, &payments.GatewayError{Op: "capture", Class: payments.ClassUnknown}
		}
		customer, method := h.customerWithCard(t)
		product := h.product(t, "10.00", 5)

		res, err := h.payments.Pay(ctx, customer.ID, PayInput{LineItem: line(product, 1, false), PaymentMethodID: method.ID, IdempotencyKey: "no-ref"})
		assert.ErrorIs(t, err, payments.ErrUnknownOutcome)
		assert.NotErrorIs(t, err, ErrPaymentPendingVerification)
		assert.Nil(t, res)

		_, err = store.GetPaymentByIdempotencyKey(ctx, h.db, fmt.Sprintf("customer-%d:no-ref", customer.ID))
		assert.ErrorIs(t, err, database.ErrPaymentNotFound)
	})

	t.Run("TransientRetriedOnceWithSameKey", func(t *testing.T) {
		h.gateway.reset()
		var calls int
		h.gateway.captureFn = func(req payments.CaptureRequest) (payments.CaptureResult, error) {
			calls++
			if calls == 1 {
				return payments.CaptureResult{}, &payments.GatewayError{Op: "capture", Class: payments.ClassTransient}
			}
			return payments.CaptureResult{ExternalID: "pi_retry", Status: payments.StatusSucceeded, Amount: req.Amount}, nil
		}
		customer, method := h.customerWithCard(t)
		product := h.product(t, "10.00", 5)

		res, err := h.payments.Pay(ctx, customer.ID, PayInput{LineItem: line(product, 1, false), PaymentMethodID: method.ID, IdempotencyKey: "flaky"})
		require.NoError(t, err)
		assert.Equal(t, "pi_retry", res.Payment.ExternalID)
		require.Equal(t, 2, h.gateway.captureCount())
		assert.Equal(t, h.gateway.captures[0].IdempotencyKey, h.gateway.captures[1].IdempotencyKey)
	})

	t.Run("FreeOrderSkipsGateway", func(t *testing.T) {
		h.gateway.reset()
		customer, method := h.customerWithCard(t)
		product := h.product(t, "0.00", 5)

		res, err := h.payments.Pay(ctx, customer.ID, PayInput{LineItem: line(product, 1, false), PaymentMethodID: method.ID})
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStatusSucceeded, res.Payment.Status)
		assert.Zero(t, h.gateway.captureCount())
	})

	t.Run("OtherCustomersPaymentIsHidden", func(t *testing.T) {
		h.gateway.reset()
		owner, method := h.customerWithCard(t)
		other, _ := h.customerWithCard(t)
		product := h.product(t, "10.00", 5)
		item := line(product, 1, false)
		payment := h.pay(t, owner, method, item)

		_, err := h.payments.Get(ctx, other.ID, payment.ID)
		assert.ErrorIs(t, err, database.ErrPaymentNotFound)

		_, err = h.orders.CreateOrder(ctx, other.ID, checkout(payment, item))
		assert.ErrorIs(t, err, database.ErrPaymentNotFound)
	})

	t.Run("ConcurrentOrdersNeverOversell", func(t *testing.T) {
		h.gateway.reset()
		const stock = 3
		const buyers = 6
		product := h.product(t, "10.00", stock)
		item := line(product, 1, false)

		type attempt struct {
			customerID int64
			payment    *models.Payment
		}
		attempts := make([]attempt, buyers)
		for i := range attempts {
			customer, method := h.customerWithCard(t)
			attempts[i] = attempt{customerID: customer.ID, payment: h.pay(t, customer, method, item)}
		}

		var wg sync.WaitGroup
		var mu sync.Mutex
		succeeded := 0
		for _, a := range attempts {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := h.orders.CreateOrder(ctx, a.customerID, checkout(a.payment, item))
				if err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
					return
				}
				if !errors.Is(err, database.ErrInsufficientStock) && !database.IsRetryable(err) {
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		assert.LessOrEqual(t, succeeded, stock)
		assert.Positive(t, succeeded)

		variant, err := store.GetVariant(ctx, h.db, product.ID, "M", "black")
		require.NoError(t, err)
		assert.Equal(t, stock-succeeded, variant.Quantity)
	})

	t.Run("OrderStatusAdvancesOneStep", func(t *testing.T) {
		h.gateway.reset()
		customer, method := h.customerWithCard(t)
		product := h.product(t, "10.00", 5)
		item := line(product, 1, false)
		order, err := h.orders.CreateOrder(ctx, customer.ID, checkout(h.pay(t, customer, method, item), item))
		require.NoError(t, err)

		_, err = h.orders.UpdateStatus(ctx, order.ID, models.OrderStatusDelivered)
		assert.ErrorIs(t, err, ErrInvalidTransition)

		updated, err := h.orders.UpdateStatus(ctx, order.ID, models.OrderStatusDelivering)
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusDelivering, updated.Status)

		updated, err = h.orders.UpdateStatus(ctx, order.ID, models.OrderStatusDelivered)
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusDelivered, updated.Status)

		_, err = h.orders.UpdateStatus(ctx, order.ID, models.OrderStatusProcessing)
		assert.ErrorIs(t, err, ErrInvalidTransition)

		page, err := h.orders.List(ctx, customer.ID, "", 0)
		require.NoError(t, err)
		orders, ok := page.Items.([]models.Order)
		require.True(t, ok)
		require.Len(t, orders, 1)
		assert.Equal(t, order.ID, orders[0].ID)
	})

	t.Run("RemoveCardDetachesAtGateway", func(t *testing.T) {
		h.gateway.reset()
		customer, method := h.customerWithCard(t)
		second, err := h.methods.Add(ctx, customer.ID, AddPaymentMethodInput{Token: "tok_mc", MakeDefault: true})
		require.NoError(t, err)
		assert.True(t, second.IsDefault)

		require.NoError(t, h.methods.Remove(ctx, customer.ID, method.ID))
		assert.Contains(t, h.gateway.detached, method.ExternalID)

		methods, err := h.methods.List(ctx, customer.ID)
		require.NoError(t, err)
		require.Len(t, methods, 1)
		assert.Equal(t, second.ID, methods[0].ID)
	})
}

func containsPayment(list []models.Payment, id int64) bool {
	for _, p := range list {
		if p.ID == id {
			return true
		}
	}
	return false
}
