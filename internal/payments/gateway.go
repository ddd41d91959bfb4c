// Package payments defines the payment gateway contract used by checkout and
// refunds, and its Stripe implementation.
package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Status enumerates the normalised settlement states shared across gateways.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusPending   Status = "pending"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

// Class tells callers how to react to a gateway failure.
type Class string

const (
	// ClassDeclined means the processor refused the charge. Not retryable.
	ClassDeclined Class = "declined"
	// ClassInvalidMethod means the stored payment method is missing or unusable.
	ClassInvalidMethod Class = "invalid_method"
	// ClassInvalidRequest covers other requests the processor rejected outright.
	ClassInvalidRequest Class = "invalid_request"
	// ClassTransient means the request did not reach settlement and may be retried.
	ClassTransient Class = "transient"
	// ClassUnknown means the charge may or may not have settled. It must be
	// resolved by looking the payment up, never by charging again.
	ClassUnknown Class = "unknown"
)

var (
	ErrDeclined       = errors.New("payments: declined")
	ErrInvalidMethod  = errors.New("payments: invalid payment method")
	ErrInvalidRequest = errors.New("payments: invalid request")
	ErrTransient      = errors.New("payments: transient failure")
	ErrUnknownOutcome = errors.New("payments: unknown outcome")
)

// GatewayError wraps a processor failure with its class. ExternalID is set
// when the processor already assigned an identifier to the attempt.
type GatewayError struct {
	Op         string
	Class      Class
	Code       string
	ExternalID string
	Err        error
}

func (e *GatewayError) Error() string {
	msg := fmt.Sprintf("payments: %s failed (%s", e.Op, e.Class)
	if e.Code != "" {
		msg += ", " + e.Code
	}
	msg += ")"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Is lets callers match on the class sentinels with errors.Is.
func (e *GatewayError) Is(target error) bool {
	switch target {
	case ErrDeclined:
		return e.Class == ClassDeclined
	case ErrInvalidMethod:
		return e.Class == ClassInvalidMethod
	case ErrInvalidRequest:
		return e.Class == ClassInvalidRequest
	case ErrTransient:
		return e.Class == ClassTransient
	case ErrUnknownOutcome:
		return e.Class == ClassUnknown
	}
	return false
}

// ClassOf returns the class of a gateway error, or "" for any other error.
func ClassOf(err error) Class {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Class
	}
	return ""
}

type CustomerRequest struct {
	CustomerID int64
	Email      string
	Name       string
}

// MethodDetails holds the display-only attributes of a stored card.
type MethodDetails struct {
	ExternalID string
	Brand      string
	Last4      string
	ExpMonth   int
	ExpYear    int
}

type CaptureRequest struct {
	CustomerRef    string
	MethodRef      string
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
	Description    string
	Metadata       map[string]string
}

type CaptureResult struct {
	ExternalID   string
	Status       Status
	ClientSecret string
	Amount       decimal.Decimal
	Currency     string
}

// RefundRequest refunds a captured payment. Reference is the idempotency
// handle: repeated calls with the same reference refund at most once.
type RefundRequest struct {
	ExternalPaymentID string
	Reference         string
	Amount            *decimal.Decimal
	Reason            string
}

type RefundResult struct {
	ExternalID string
	Status     Status
	Amount     decimal.Decimal
}

// Gateway is the payment processor capability injected into services.
type Gateway interface {
	EnsureCustomer(ctx context.Context, req CustomerRequest) (string, error)
	AttachMethod(ctx context.Context, customerRef, methodToken string) (MethodDetails, error)
	DetachMethod(ctx context.Context, methodRef string) error
	Capture(ctx context.Context, req CaptureRequest) (CaptureResult, error)
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
	Lookup(ctx context.Context, externalID string) (CaptureResult, error)
}

// ToMinorUnits converts a two-decimal amount to the integer minor units the
// processor expects.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func FromMinorUnits(units int64) decimal.Decimal {
	return decimal.New(units, -2)
}
