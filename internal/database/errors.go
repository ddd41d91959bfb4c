package database

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

type ErrorClass int

const (
	ErrorClassPermanent ErrorClass = iota
	ErrorClassTransient
	ErrorClassDeadlock
	ErrorClassSerialization
)

const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeNotNullViolation     = "23502"
	codeCheckViolation       = "23514"
)

func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassPermanent
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeSerializationFailure:
			return ErrorClassSerialization
		case codeDeadlockDetected:
			return ErrorClassDeadlock
		case codeLockNotAvailable:
			return ErrorClassTransient
		}
	}

	return ErrorClassPermanent
}

func IsRetryable(err error) bool {
	class := ClassifyError(err)
	return class == ErrorClassTransient ||
		class == ErrorClassDeadlock ||
		class == ErrorClassSerialization
}

// IsUniqueViolation reports whether err is a unique constraint failure,
// optionally restricted to the named constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != codeUniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

func IsLockNotAvailable(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == codeLockNotAvailable
}

func IsCheckViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != codeCheckViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

var (
	ErrCustomerNotFound      = errors.New("customer not found")
	ErrProductNotFound       = errors.New("product not found")
	ErrVariantNotFound       = errors.New("product variant not found")
	ErrPromotionNotFound     = errors.New("promotion not found")
	ErrOrderNotFound         = errors.New("order not found")
	ErrPaymentNotFound       = errors.New("payment not found")
	ErrPaymentMethodNotFound = errors.New("payment method not found")
	ErrRefundRequestNotFound = errors.New("refund request not found")

	ErrInsufficientStock         = errors.New("insufficient stock")
	ErrInsufficientLoyaltyPoints = errors.New("insufficient loyalty points")
	ErrDuplicateProductCode      = errors.New("product code already exists")
	ErrDuplicateCustomerEmail    = errors.New("customer email already exists")
	ErrDuplicateRefundRequest    = errors.New("refund already requested for payment")
	ErrDuplicateIdempotencyKey   = errors.New("payment idempotency key already used")
	ErrPaymentAlreadyUsed        = errors.New("payment already attached to an order")
	ErrRefundAlreadyDecided      = errors.New("refund request already decided")
	ErrOptimisticLockFailed      = errors.New("optimistic lock failed")
	ErrLockTimeout               = errors.New("lock timeout")
)
