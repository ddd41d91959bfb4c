package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/models"
	"github.com/shopspring/decimal"
)

const refundColumns = `id, customer_id, payment_id, reason, status, admin_response, refund_external_id, refund_amount,
	decided_by, decided_at, created_at, updated_at, version`

func scanRefundRequest(row rowScanner, r *models.RefundRequest) error {
	return row.Scan(
		&r.ID,
		&r.CustomerID,
		&r.PaymentID,
		&r.Reason,
		&r.Status,
		&r.AdminResponse,
		&r.RefundExternalID,
		&r.RefundAmount,
		&r.DecidedBy,
		&r.DecidedAt,
		&r.CreatedAt,
		&r.UpdatedAt,
		&r.Version,
	)
}

// RefundDecision is the terminal outcome written by DecideRefundRequest.
type RefundDecision struct {
	Status           string
	AdminResponse    string
	RefundExternalID string
	RefundAmount     decimal.Decimal
	DecidedBy        string
}

// CreateRefundRequest opens a pending request. The unique constraint on
// (customer, payment) rejects a second request with ErrDuplicateRefundRequest.
func CreateRefundRequest(ctx context.Context, db *sql.DB, customerID, paymentID int64, reason string) (*models.RefundRequest, error) {
	request := &models.RefundRequest{}

	query := `
		INSERT INTO refund_requests (customer_id, payment_id, reason, status, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, NOW(), NOW(), 1)
		RETURNING ` + refundColumns

	row := db.QueryRowContext(ctx, query, customerID, paymentID, reason, models.RefundStatusPending)
	if err := scanRefundRequest(row, request); err != nil {
		if database.IsUniqueViolation(err, "refund_requests_customer_payment_key") {
			return nil, database.ErrDuplicateRefundRequest
		}
		return nil, fmt.Errorf("create refund request: %w", err)
	}

	return request, nil
}

func GetRefundRequest(ctx context.Context, q DBTX, id int64) (*models.RefundRequest, error) {
	request := &models.RefundRequest{}

	query := `SELECT ` + refundColumns + ` FROM refund_requests WHERE id = $1`

	if err := scanRefundRequest(q.QueryRowContext(ctx, query, id), request); err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrRefundRequestNotFound
		}
		return nil, fmt.Errorf("get refund request: %w", err)
	}

	return request, nil
}

// LockRefundRequestNoWait locks the request for the rest of tx, failing fast
// with ErrLockTimeout when another decision holds it.
func LockRefundRequestNoWait(ctx context.Context, tx *sql.Tx, id int64) (*models.RefundRequest, error) {
	request := &models.RefundRequest{}

	query := `SELECT ` + refundColumns + ` FROM refund_requests WHERE id = $1 FOR UPDATE NOWAIT`

	if err := scanRefundRequest(tx.QueryRowContext(ctx, query, id), request); err != nil {
		if database.IsLockNotAvailable(err) {
			return nil, database.ErrLockTimeout
		}
		if err == sql.ErrNoRows {
			return nil, database.ErrRefundRequestNotFound
		}
		return nil, fmt.Errorf("lock refund request (nowait): %w", err)
	}

	return request, nil
}

// DecideRefundRequest writes the decision only if the request is still
// pending at the version the caller read. Otherwise it returns
// ErrRefundAlreadyDecided and nothing changes.
func DecideRefundRequest(ctx context.Context, tx *sql.Tx, id int64, version int, d RefundDecision) (*models.RefundRequest, error) {
	request := &models.RefundRequest{}

	query := `
		UPDATE refund_requests
		SET status = $1,
		    admin_response = $2,
		    refund_external_id = $3,
		    refund_amount = $4,
		    decided_by = $5,
		    decided_at = NOW(),
		    updated_at = NOW(),
		    version = version + 1
		WHERE id = $6 AND status = $7 AND version = $8
		RETURNING ` + refundColumns

	row := tx.QueryRowContext(ctx, query,
		d.Status, d.AdminResponse, d.RefundExternalID, d.RefundAmount, d.DecidedBy,
		id, models.RefundStatusPending, version)
	if err := scanRefundRequest(row, request); err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrRefundAlreadyDecided
		}
		return nil, fmt.Errorf("decide refund request: %w", err)
	}

	return request, nil
}

// ListRefundRequests returns requests for staff, optionally filtered by
// status, oldest first. customerID > 0 restricts to one customer.
func ListRefundRequests(ctx context.Context, db *sql.DB, customerID int64, status string) ([]models.RefundRequest, error) {
	query := `
		SELECT ` + refundColumns + `
		FROM refund_requests
		WHERE ($1 = 0 OR customer_id = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at, id`

	rows, err := db.QueryContext(ctx, query, customerID, status)
	if err != nil {
		return nil, fmt.Errorf("list refund requests: %w", err)
	}
	defer rows.Close()

	requests := []models.RefundRequest{}
	for rows.Next() {
		var r models.RefundRequest
		if err := scanRefundRequest(rows, &r); err != nil {
			return nil, fmt.Errorf("scan refund request: %w", err)
		}
		requests = append(requests, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return requests, nil
}
