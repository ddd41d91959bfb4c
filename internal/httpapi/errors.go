package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/observability"
	"github.com/safar/go-storefront/internal/payments"
	"github.com/safar/go-storefront/internal/pricing"
	"github.com/safar/go-storefront/internal/service"
	"github.com/safar/go-storefront/internal/store"
	"go.uber.org/zap"
)

// apiError is the JSON error envelope: {error, message, status, request_id}.
type apiError struct {
	Code    string
	Message string
	Status  int
	Details map[string]any
}

func newError(code, message string, status int) apiError {
	return apiError{Code: code, Message: message, Status: status}
}

func writeError(ctx context.Context, w http.ResponseWriter, e apiError) {
	payload := map[string]any{
		"error":   e.Code,
		"message": e.Message,
		"status":  e.Status,
	}
	if id := middleware.GetReqID(ctx); id != "" {
		payload["request_id"] = id
	}
	for k, v := range e.Details {
		payload[k] = v
	}
	writeJSON(w, e.Status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type audience int

const (
	audienceCustomer audience = iota
	audienceStaff
)

// respondError maps err to its envelope and writes it. Internal errors are
// logged with the request logger and answered without detail.
func respondError(w http.ResponseWriter, r *http.Request, err error, who audience) {
	e := mapError(err, who)
	if e.Status >= http.StatusInternalServerError && e.Status != http.StatusBadGateway {
		observability.FromContext(r.Context()).Error("request failed", zap.Error(err))
	}
	writeError(r.Context(), w, e)
}

func mapError(err error, who audience) apiError {
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		return newError("validation_failed", verr.Error(), http.StatusBadRequest)
	}

	if class := payments.ClassOf(err); class != "" {
		e := gatewayError(class)
		if who == audienceStaff {
			var gwErr *payments.GatewayError
			errors.As(err, &gwErr)
			e.Details = map[string]any{"gateway_class": string(gwErr.Class)}
			if gwErr.Code != "" {
				e.Details["gateway_code"] = gwErr.Code
			}
		}
		return e
	}

	for _, m := range errorTable {
		if errors.Is(err, m.target) {
			return newError(m.code, m.message, m.status)
		}
	}

	return newError("internal_error", "internal server error", http.StatusInternalServerError)
}

func gatewayError(class payments.Class) apiError {
	switch class {
	case payments.ClassDeclined:
		return newError("payment_declined", "the payment was declined", http.StatusPaymentRequired)
	case payments.ClassInvalidMethod:
		return newError("invalid_payment_method", "the payment method cannot be used", http.StatusBadRequest)
	case payments.ClassInvalidRequest:
		return newError("payment_rejected", "the payment request was rejected", http.StatusBadRequest)
	default:
		return newError("payment_gateway_error", "the payment processor is unavailable, try again later", http.StatusBadGateway)
	}
}

type errorMapping struct {
	target  error
	code    string
	message string
	status  int
}

var errorTable = []errorMapping{
	{service.ErrPaymentPendingVerification, "payment_pending_verification", "payment outcome is being verified", http.StatusAccepted},

	{database.ErrCustomerNotFound, "customer_not_found", "customer not found", http.StatusNotFound},
	{database.ErrProductNotFound, "product_not_found", "product not found", http.StatusNotFound},
	{database.ErrVariantNotFound, "variant_not_found", "product variant not found", http.StatusNotFound},
	{database.ErrPromotionNotFound, "promotion_not_found", "promotion not found", http.StatusNotFound},
	{database.ErrOrderNotFound, "order_not_found", "order not found", http.StatusNotFound},
	{database.ErrPaymentNotFound, "payment_not_found", "payment not found", http.StatusNotFound},
	{database.ErrPaymentMethodNotFound, "payment_method_not_found", "payment method not found", http.StatusNotFound},
	{database.ErrRefundRequestNotFound, "refund_request_not_found", "refund request not found", http.StatusNotFound},

	{database.ErrDuplicateRefundRequest, "refund_already_requested", "a refund was already requested for this payment", http.StatusBadRequest},
	{database.ErrRefundAlreadyDecided, "refund_already_decided", "the refund request was already decided", http.StatusBadRequest},
	{database.ErrDuplicateCustomerEmail, "customer_exists", "a customer with this email already exists", http.StatusBadRequest},
	{database.ErrDuplicateProductCode, "product_exists", "a product with this code already exists", http.StatusBadRequest},
	{database.ErrDuplicateIdempotencyKey, "duplicate_request", "a payment with this idempotency key already exists", http.StatusBadRequest},
	{store.ErrInvalidCursor, "invalid_cursor", "invalid cursor", http.StatusBadRequest},

	{database.ErrInsufficientStock, "insufficient_stock", "not enough stock for this item", http.StatusConflict},
	{database.ErrInsufficientLoyaltyPoints, "insufficient_loyalty_points", "not enough loyalty points to redeem", http.StatusConflict},
	{pricing.ErrInsufficientLoyaltyPoints, "insufficient_loyalty_points", "not enough loyalty points to redeem", http.StatusConflict},
	{service.ErrPriceMismatch, "price_mismatch", "the price changed, review the order and try again", http.StatusConflict},
	{service.ErrInvalidTransition, "invalid_status_transition", "the order cannot move to that status", http.StatusConflict},
	{database.ErrOptimisticLockFailed, "concurrent_update", "the record was changed concurrently, try again", http.StatusConflict},
	{database.ErrPaymentAlreadyUsed, "payment_already_used", "the payment already has an order", http.StatusConflict},
	{service.ErrPaymentNotSettled, "payment_not_settled", "the payment is not settled", http.StatusConflict},
	{service.ErrPaymentNotRefundable, "payment_not_refundable", "the payment cannot be refunded", http.StatusConflict},
	{service.ErrRefundDecisionInProgress, "refund_decision_in_progress", "another decision on this request is in progress", http.StatusConflict},
	{database.ErrLockTimeout, "resource_busy", "the resource is busy, try again", http.StatusConflict},
}
