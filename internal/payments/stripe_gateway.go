package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"go.uber.org/zap"
)

type stripeCustomerAPI interface {
	New(params *stripe.CustomerParams) (*stripe.Customer, error)
}

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Confirm(id string, params *stripe.PaymentIntentConfirmParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripePaymentMethodAPI interface {
	Attach(id string, params *stripe.PaymentMethodAttachParams) (*stripe.PaymentMethod, error)
	Detach(id string, params *stripe.PaymentMethodDetachParams) (*stripe.PaymentMethod, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type stripeClients struct {
	customers      stripeCustomerAPI
	intents        stripePaymentIntentAPI
	paymentMethods stripePaymentMethodAPI
	refunds        stripeRefundAPI
}

// StripeConfig configures the Stripe gateway. HTTPTimeout bounds a single
// API call; network retries are disabled in the SDK so the capture retry
// policy stays in CaptureWithRetry.
type StripeConfig struct {
	APIKey      string
	AccountID   string
	HTTPTimeout time.Duration
	Logger      *zap.Logger

	clients *stripeClients
}

type StripeGateway struct {
	api     stripeClients
	account string
	logger  *zap.Logger
}

var _ Gateway = (*StripeGateway)(nil)

func NewStripeGateway(cfg StripeConfig) (*StripeGateway, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.clients != nil {
		clients = *cfg.clients
	} else {
		sc := client.New(apiKey, stripeBackends(cfg.HTTPTimeout))
		clients = stripeClients{
			customers:      sc.Customers,
			intents:        sc.PaymentIntents,
			paymentMethods: sc.PaymentMethods,
			refunds:        sc.Refunds,
		}
	}

	if clients.customers == nil || clients.intents == nil || clients.paymentMethods == nil || clients.refunds == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &StripeGateway{
		api:     clients,
		account: strings.TrimSpace(cfg.AccountID),
		logger:  logger.Named("stripe"),
	}, nil
}

func stripeBackends(timeout time.Duration) *stripe.Backends {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}
	config := func() *stripe.BackendConfig {
		return &stripe.BackendConfig{
			HTTPClient:        httpClient,
			MaxNetworkRetries: stripe.Int64(0),
		}
	}
	return &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, config()),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, config()),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, config()),
	}
}

func (g *StripeGateway) prepare(ctx context.Context, params *stripe.Params, idempotencyKey string) {
	params.Context = ctx
	if key := strings.TrimSpace(idempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if g.account != "" {
		params.SetStripeAccount(g.account)
	}
}

// EnsureCustomer creates the Stripe customer for a local customer. The call
// is keyed on the local id so concurrent first-time card attachments share
// one Stripe customer.
func (g *StripeGateway) EnsureCustomer(ctx context.Context, req CustomerRequest) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(req.Email),
		Name:  stripe.String(req.Name),
		Metadata: map[string]string{
			"customer_id": strconv.FormatInt(req.CustomerID, 10),
		},
	}
	g.prepare(ctx, &params.Params, fmt.Sprintf("customer:%d", req.CustomerID))

	cust, err := g.api.customers.New(params)
	if err != nil {
		return "", classifyStripeError("create customer", err, false)
	}

	g.logger.Info("customer created", zap.String("stripe_customer", cust.ID), zap.Int64("customer_id", req.CustomerID))
	return cust.ID, nil
}

func (g *StripeGateway) AttachMethod(ctx context.Context, customerRef, methodToken string) (MethodDetails, error) {
	if strings.TrimSpace(methodToken) == "" {
		return MethodDetails{}, &GatewayError{Op: "attach method", Class: ClassInvalidMethod, Err: errors.New("method token is empty")}
	}

	params := &stripe.PaymentMethodAttachParams{
		Customer: stripe.String(customerRef),
	}
	g.prepare(ctx, &params.Params, "")

	pm, err := g.api.paymentMethods.Attach(methodToken, params)
	if err != nil {
		gwErr := classifyStripeError("attach method", err, false)
		if gwErr.Class == ClassInvalidRequest {
			gwErr.Class = ClassInvalidMethod
		}
		return MethodDetails{}, gwErr
	}

	details := MethodDetails{ExternalID: pm.ID}
	if pm.Card != nil {
		details.Brand = string(pm.Card.Brand)
		details.Last4 = pm.Card.Last4
		details.ExpMonth = int(pm.Card.ExpMonth)
		details.ExpYear = int(pm.Card.ExpYear)
	}
	return details, nil
}

func (g *StripeGateway) DetachMethod(ctx context.Context, methodRef string) error {
	params := &stripe.PaymentMethodDetachParams{}
	g.prepare(ctx, &params.Params, "")

	if _, err := g.api.paymentMethods.Detach(methodRef, params); err != nil {
		if isResourceMissing(err) {
			return nil
		}
		return classifyStripeError("detach method", err, false)
	}
	return nil
}

// Capture charges a stored card in two steps: create an unconfirmed intent,
// then confirm it off-session. Nothing can settle before the confirm call,
// so only its failures can leave the outcome unknown; in that case the
// returned GatewayError carries the intent id for a later Lookup.
func (g *StripeGateway) Capture(ctx context.Context, req CaptureRequest) (CaptureResult, error) {
	if req.IdempotencyKey == "" {
		return CaptureResult{}, &GatewayError{Op: "capture", Class: ClassInvalidRequest, Err: errors.New("idempotency key is required")}
	}
	if !req.Amount.IsPositive() {
		return CaptureResult{}, &GatewayError{Op: "capture", Class: ClassInvalidRequest, Err: errors.New("amount must be positive")}
	}

	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(ToMinorUnits(req.Amount)),
		Currency:           stripe.String(strings.ToLower(req.Currency)),
		Customer:           stripe.String(req.CustomerRef),
		PaymentMethod:      stripe.String(req.MethodRef),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	if len(req.Metadata) > 0 {
		params.Metadata = make(map[string]string, len(req.Metadata))
		for k, v := range req.Metadata {
			params.Metadata[k] = v
		}
	}
	g.prepare(ctx, &params.Params, req.IdempotencyKey+":create")

	intent, err := g.api.intents.New(params)
	if err != nil {
		return CaptureResult{}, classifyStripeError("create payment intent", err, false)
	}

	confirm := &stripe.PaymentIntentConfirmParams{
		OffSession: stripe.Bool(true),
	}
	g.prepare(ctx, &confirm.Params, req.IdempotencyKey+":confirm")

	confirmed, err := g.api.intents.Confirm(intent.ID, confirm)
	if err != nil {
		gwErr := classifyStripeError("confirm payment intent", err, true)
		gwErr.ExternalID = intent.ID
		g.logger.Warn("confirm failed",
			zap.String("payment_intent", intent.ID),
			zap.String("class", string(gwErr.Class)),
			zap.String("code", gwErr.Code),
		)
		return CaptureResult{ExternalID: intent.ID, Status: StatusFailed}, gwErr
	}

	result := stripeCaptureResult(confirmed)
	g.logger.Info("payment intent confirmed",
		zap.String("payment_intent", result.ExternalID),
		zap.String("status", string(result.Status)),
	)
	return result, nil
}

// Refund refunds the full intent unless Amount is set. A payment that is
// already refunded is reported as succeeded so retries are harmless.
func (g *StripeGateway) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	if req.ExternalPaymentID == "" {
		return RefundResult{}, &GatewayError{Op: "refund", Class: ClassInvalidRequest, Err: errors.New("external payment id is required")}
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.ExternalPaymentID),
	}
	if req.Amount != nil {
		params.Amount = stripe.Int64(ToMinorUnits(*req.Amount))
	}
	if reason := mapStripeRefundReason(req.Reason); reason != "" {
		params.Reason = stripe.String(reason)
	}
	key := req.Reference
	if key == "" {
		key = req.ExternalPaymentID
	}
	g.prepare(ctx, &params.Params, "refund:"+key)

	refund, err := g.api.refunds.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeChargeAlreadyRefunded {
			g.logger.Info("payment already refunded", zap.String("payment_intent", req.ExternalPaymentID))
			return RefundResult{Status: StatusSucceeded}, nil
		}
		return RefundResult{}, classifyStripeError("refund", err, false)
	}

	status := StatusPending
	switch refund.Status {
	case stripe.RefundStatusSucceeded:
		status = StatusSucceeded
	case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
		status = StatusFailed
	}

	g.logger.Info("refund created",
		zap.String("payment_intent", req.ExternalPaymentID),
		zap.String("refund", refund.ID),
		zap.String("status", string(refund.Status)),
	)

	if status == StatusFailed {
		return RefundResult{ExternalID: refund.ID, Status: status}, &GatewayError{
			Op:    "refund",
			Class: ClassDeclined,
			Code:  string(refund.Status),
			Err:   errors.New("refund was not accepted by the processor"),
		}
	}

	return RefundResult{
		ExternalID: refund.ID,
		Status:     status,
		Amount:     FromMinorUnits(refund.Amount),
	}, nil
}

func (g *StripeGateway) Lookup(ctx context.Context, externalID string) (CaptureResult, error) {
	params := &stripe.PaymentIntentParams{}
	g.prepare(ctx, &params.Params, "")
	params.AddExpand("latest_charge")

	intent, err := g.api.intents.Get(externalID, params)
	if err != nil {
		return CaptureResult{}, classifyStripeError("lookup payment intent", err, false)
	}
	return stripeCaptureResult(intent), nil
}

func stripeCaptureResult(intent *stripe.PaymentIntent) CaptureResult {
	if intent == nil {
		return CaptureResult{}
	}

	status := StatusPending
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		status = StatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		status = StatusFailed
	}

	if charge := intent.LatestCharge; charge != nil {
		if charge.AmountRefunded >= charge.Amount && charge.Amount > 0 {
			status = StatusRefunded
		}
	}

	return CaptureResult{
		ExternalID:   intent.ID,
		Status:       status,
		ClientSecret: intent.ClientSecret,
		Amount:       FromMinorUnits(intent.Amount),
		Currency:     strings.ToLower(string(intent.Currency)),
	}
}

// classifyStripeError maps an SDK error to a GatewayError. afterConfirm
// marks calls whose failure may hide a settled charge.
func classifyStripeError(op string, err error, afterConfirm bool) *GatewayError {
	ambiguous := ClassTransient
	if afterConfirm {
		ambiguous = ClassUnknown
	}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		gwErr := &GatewayError{Op: op, Code: string(stripeErr.Code), Err: err}
		switch {
		case stripeErr.Type == stripe.ErrorTypeCard:
			gwErr.Class = ClassDeclined
			if stripeErr.DeclineCode != "" {
				gwErr.Code = string(stripeErr.DeclineCode)
			}
		case stripeErr.HTTPStatusCode == http.StatusTooManyRequests:
			gwErr.Class = ClassTransient
		case stripeErr.Type == stripe.ErrorTypeAPI || stripeErr.HTTPStatusCode >= http.StatusInternalServerError:
			gwErr.Class = ambiguous
		case stripeErr.Type == stripe.ErrorTypeIdempotency && afterConfirm:
			gwErr.Class = ClassUnknown
		case stripeErr.Code == stripe.ErrorCodeResourceMissing && strings.Contains(stripeErr.Param, "payment_method"):
			gwErr.Class = ClassInvalidMethod
		default:
			gwErr.Class = ClassInvalidRequest
		}
		return gwErr
	}

	// Network failures and timeouts carry no processor response.
	return &GatewayError{Op: op, Class: ambiguous, Err: err}
}

func isResourceMissing(err error) bool {
	var stripeErr *stripe.Error
	return errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing
}

func mapStripeRefundReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case string(stripe.RefundReasonDuplicate):
		return string(stripe.RefundReasonDuplicate)
	case string(stripe.RefundReasonFraudulent):
		return string(stripe.RefundReasonFraudulent)
	case string(stripe.RefundReasonRequestedByCustomer):
		return string(stripe.RefundReasonRequestedByCustomer)
	default:
		return ""
	}
}
