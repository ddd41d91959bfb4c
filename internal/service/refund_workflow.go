package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/metrics"
	"github.com/safar/go-storefront/internal/models"
	"github.com/safar/go-storefront/internal/payments"
	"github.com/safar/go-storefront/internal/store"
	"go.uber.org/zap"
)

const (
	RefundActionApprove = "approve"
	RefundActionReject  = "reject"
)

type RefundWorkflowDeps struct {
	DB      *sql.DB
	Gateway payments.Gateway
	Logger  *zap.Logger
	Metrics *metrics.Collectors
}

type RefundWorkflow struct {
	db      *sql.DB
	gateway payments.Gateway
	logger  *zap.Logger
	metrics *metrics.Collectors
}

func NewRefundWorkflow(deps RefundWorkflowDeps) (*RefundWorkflow, error) {
	if deps.DB == nil {
		return nil, errors.New("refund workflow: db is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("refund workflow: gateway is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RefundWorkflow{
		db:      deps.DB,
		gateway: deps.Gateway,
		logger:  logger.Named("refunds"),
		metrics: deps.Metrics,
	}, nil
}

// Request opens a refund request for a settled payment of the customer.
// Only one request per payment may ever exist.
func (w *RefundWorkflow) Request(ctx context.Context, customerID, paymentID int64, reason string) (*models.RefundRequest, error) {
	payment, err := store.GetPayment(ctx, w.db, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.CustomerID != customerID {
		return nil, database.ErrPaymentNotFound
	}
	if payment.Status != models.PaymentStatusSucceeded {
		return nil, ErrPaymentNotRefundable
	}

	request, err := store.CreateRefundRequest(ctx, w.db, customerID, paymentID, strings.TrimSpace(reason))
	if err != nil {
		return nil, err
	}

	w.logger.Info("refund requested",
		zap.Int64("refund_request_id", request.ID),
		zap.Int64("payment_id", paymentID),
		zap.Int64("customer_id", customerID),
	)
	return request, nil
}

// Decide approves or rejects a pending request. The request row is locked
// without waiting, so a concurrent decision fails fast with
// ErrRefundDecisionInProgress. On approval the gateway refund runs before
// anything is written; if it fails the request stays pending and the
// decision may be retried. The refund is keyed by the request id, so a
// retry never refunds twice.
func (w *RefundWorkflow) Decide(ctx context.Context, requestID int64, action, response, staffID string) (*models.RefundRequest, error) {
	action = strings.ToLower(strings.TrimSpace(action))
	if action != RefundActionApprove && action != RefundActionReject {
		return nil, invalid("action", "must be approve or reject")
	}
	if strings.TrimSpace(staffID) == "" {
		return nil, invalid("staff_id", "is required")
	}

	var decided *models.RefundRequest
	err := database.WithTransaction(ctx, w.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		request, err := store.LockRefundRequestNoWait(ctx, tx, requestID)
		if err != nil {
			if errors.Is(err, database.ErrLockTimeout) {
				return ErrRefundDecisionInProgress
			}
			return err
		}
		if request.Status != models.RefundStatusPending {
			return database.ErrRefundAlreadyDecided
		}

		decision := store.RefundDecision{
			Status:        models.RefundStatusRejected,
			AdminResponse: strings.TrimSpace(response),
			DecidedBy:     staffID,
		}

		var payment *models.Payment
		if action == RefundActionApprove {
			payment, err = store.LockPayment(ctx, tx, request.PaymentID)
			if err != nil {
				return err
			}

			decision.Status = models.RefundStatusApproved
			decision.RefundAmount = payment.Amount
			if payment.ExternalID != "" {
				result, err := w.gateway.Refund(ctx, payments.RefundRequest{
					ExternalPaymentID: payment.ExternalID,
					Reference:         fmt.Sprintf("refund-request-%d", request.ID),
					Reason:            request.Reason,
				})
				if err != nil {
					w.logger.Warn("gateway refund failed, request left pending",
						zap.Int64("refund_request_id", request.ID),
						zap.String("payment_external_id", payment.ExternalID),
						zap.String("class", string(payments.ClassOf(err))),
						zap.Error(err),
					)
					return err
				}
				decision.RefundExternalID = result.ExternalID
				if result.Amount.IsPositive() {
					decision.RefundAmount = result.Amount
				}
			}
		}

		decided, err = store.DecideRefundRequest(ctx, tx, request.ID, request.Version, decision)
		if err != nil {
			return err
		}

		if payment != nil {
			if _, err := store.UpdatePaymentStatus(ctx, tx, payment.ID, models.PaymentStatusRefunded, ""); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	w.metrics.RefundDecided(decided.Status)
	w.logger.Info("refund decided",
		zap.Int64("refund_request_id", decided.ID),
		zap.String("status", decided.Status),
		zap.String("decided_by", staffID),
		zap.String("refund_external_id", decided.RefundExternalID),
	)
	return decided, nil
}

// List returns requests for staff, filtered by status when given.
func (w *RefundWorkflow) List(ctx context.Context, status string) ([]models.RefundRequest, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	switch status {
	case "", models.RefundStatusPending, models.RefundStatusApproved, models.RefundStatusRejected:
	default:
		return nil, invalid("status", "must be pending, approved or rejected")
	}
	return store.ListRefundRequests(ctx, w.db, 0, status)
}

func (w *RefundWorkflow) ListForCustomer(ctx context.Context, customerID int64) ([]models.RefundRequest, error) {
	return store.ListRefundRequests(ctx, w.db, customerID, "")
}
