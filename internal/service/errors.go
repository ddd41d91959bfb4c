// Package service implements checkout, payment capture, order creation,
// refunds and reporting on top of the store and the payment gateway.
package service

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrPriceMismatch means the server quote disagrees with a supplied or
	// captured amount by more than the configured tolerance.
	ErrPriceMismatch = errors.New("price mismatch")
	// ErrInvalidTransition rejects order status changes other than
	// Processing -> Delivering -> Delivered.
	ErrInvalidTransition = errors.New("invalid order status transition")
	// ErrPaymentPendingVerification is returned with the stored payment when
	// the capture outcome is unknown. The payment must be verified, not
	// retried.
	ErrPaymentPendingVerification = errors.New("payment pending verification")
	ErrPaymentNotSettled          = errors.New("payment is not settled")
	ErrPaymentNotRefundable       = errors.New("payment cannot be refunded")
	ErrRefundDecisionInProgress   = errors.New("refund decision already in progress")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
