package payments

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy bounds a capture attempt. Only transient failures are retried,
// once, with the same idempotency key.
type RetryPolicy struct {
	Timeout time.Duration
	Backoff time.Duration
	Logger  *zap.Logger
	sleep   func(context.Context, time.Duration) error
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Timeout: 20 * time.Second,
		Backoff: 250 * time.Millisecond,
	}
}

// CaptureWithRetry captures through gw, retrying a ClassTransient failure
// exactly once. Declined, invalid-method and unknown outcomes are returned
// immediately.
func CaptureWithRetry(ctx context.Context, gw Gateway, req CaptureRequest, policy RetryPolicy) (CaptureResult, error) {
	if req.IdempotencyKey == "" {
		return CaptureResult{}, &GatewayError{Op: "capture", Class: ClassInvalidRequest, Err: errors.New("idempotency key is required")}
	}

	logger := policy.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sleep := policy.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	result, err := captureOnce(ctx, gw, req, policy.Timeout)
	if err == nil || ClassOf(err) != ClassTransient {
		return result, err
	}

	logger.Warn("capture failed transiently, retrying once",
		zap.String("idempotency_key", req.IdempotencyKey),
		zap.Error(err),
	)

	backoff := policy.Backoff
	if backoff > 0 {
		backoff += time.Duration(rand.Int63n(int64(backoff/4) + 1))
	}
	if serr := sleep(ctx, backoff); serr != nil {
		return CaptureResult{}, err
	}

	return captureOnce(ctx, gw, req, policy.Timeout)
}

func captureOnce(ctx context.Context, gw Gateway, req CaptureRequest, timeout time.Duration) (CaptureResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return gw.Capture(ctx, req)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
