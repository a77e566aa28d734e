package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/googleapis/gax-go/v2"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/fernmarket/api/internal/domain"
)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Capture(id string, params *stripe.PaymentIntentCaptureParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type stripeClients struct {
	intents stripePaymentIntentAPI
	refunds stripeRefundAPI
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey   string
	Backends *stripe.Backends
	// Timeout bounds a single Authorize call end to end. Expiry maps
	// to ErrPaymentTimeout.
	Timeout time.Duration
	// Attempts caps retries of transient gateway failures within the
	// Timeout window.
	Attempts int
	Logger   Logger
	Clock    func() time.Time
	Clients  *stripeClients
}

// StripeProvider implements Provider on Stripe Payment Intents.
type StripeProvider struct {
	api      stripeClients
	timeout  time.Duration
	attempts int
	clock    func() time.Time
	logger   Logger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			intents: sc.PaymentIntents,
			refunds: sc.Refunds,
		}
	}
	if clients.intents == nil || clients.refunds == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = 3
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		api:      clients,
		timeout:  timeout,
		attempts: attempts,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Authorize charges the buyer through a Payment Intent. Card charges
// capture immediately, bank transfers draw on the customer balance,
// installments defer collection to the financing plan, and escrow
// places a manual-capture hold that ReleaseEscrow later captures.
func (p *StripeProvider) Authorize(ctx context.Context, req AuthorizeRequest) (AuthorizeResult, error) {
	if p == nil {
		return AuthorizeResult{}, errors.New("stripe: provider is nil")
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		Confirm:  stripe.Bool(true),
	}
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}

	params.Metadata = map[string]string{
		"orderId":     req.OrderID,
		"orderNumber": req.OrderNumber,
		"buyerId":     req.BuyerID,
	}
	for k, v := range req.Metadata {
		params.Metadata[k] = v
	}

	held := false
	switch req.Method {
	case domain.PaymentMethodCard:
		params.PaymentMethodTypes = stripe.StringSlice([]string{"card"})
	case domain.PaymentMethodBankTransfer:
		params.PaymentMethodTypes = stripe.StringSlice([]string{"customer_balance"})
		params.PaymentMethodData = &stripe.PaymentIntentPaymentMethodDataParams{
			Type: stripe.String("customer_balance"),
		}
	case domain.PaymentMethodInstallments:
		params.PaymentMethodTypes = stripe.StringSlice([]string{"card"})
		params.PaymentMethodOptions = &stripe.PaymentIntentPaymentMethodOptionsParams{
			Card: &stripe.PaymentIntentPaymentMethodOptionsCardParams{
				Installments: &stripe.PaymentIntentPaymentMethodOptionsCardInstallmentsParams{
					Enabled: stripe.Bool(true),
				},
			},
		}
	case domain.PaymentMethodEscrow:
		params.PaymentMethodTypes = stripe.StringSlice([]string{"card"})
		params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
		held = true
	default:
		return AuthorizeResult{}, fmt.Errorf("stripe: unsupported payment method %q", req.Method)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	params.Context = callCtx

	var intent *stripe.PaymentIntent
	err := gax.Invoke(callCtx, func(ctx context.Context, _ gax.CallSettings) error {
		var callErr error
		intent, callErr = p.api.intents.New(params)
		return callErr
	}, gax.WithRetry(func() gax.Retryer {
		return &stripeRetryer{
			attempts: p.attempts,
			backoff: gax.Backoff{
				Initial:    200 * time.Millisecond,
				Max:        2 * time.Second,
				Multiplier: 2,
			},
		}
	}))
	if err != nil {
		return AuthorizeResult{}, p.classifyAuthorizeError(ctx, req, err)
	}

	if intent.Status == stripe.PaymentIntentStatusCanceled {
		return AuthorizeResult{}, fmt.Errorf("%w: intent %s canceled", ErrPaymentDeclined, intent.ID)
	}

	p.logger(ctx, "payments.stripe.authorized", map[string]any{
		"orderId":       req.OrderID,
		"paymentIntent": intent.ID,
		"method":        string(req.Method),
		"held":          held,
	})

	return AuthorizeResult{
		TransactionID: intent.ID,
		Held:          held,
		ChargedAt:     p.clock(),
	}, nil
}

// Refund returns funds for a prior charge. The Stripe idempotency key
// makes retries of the same refund collapse into one gateway refund.
func (p *StripeProvider) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	if p == nil {
		return RefundResult{}, errors.New("stripe: provider is nil")
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.TransactionID),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if req.Amount > 0 {
		params.Amount = stripe.Int64(req.Amount)
	}
	if reason := mapStripeRefundReason(req.Reason); reason != "" {
		params.Reason = stripe.String(reason)
	}

	refund, err := p.api.refunds.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeChargeAlreadyRefunded {
			p.logger(ctx, "payments.stripe.refund.duplicate", map[string]any{
				"paymentIntent": req.TransactionID,
			})
			return RefundResult{RefundRef: req.TransactionID, RefundedAt: p.clock()}, nil
		}
		return RefundResult{}, fmt.Errorf("%w: %v", ErrRefundFailed, err)
	}
	if refund.Status == stripe.RefundStatusFailed {
		return RefundResult{}, fmt.Errorf("%w: refund %s failed", ErrRefundFailed, refund.ID)
	}

	p.logger(ctx, "payments.stripe.refunded", map[string]any{
		"paymentIntent": req.TransactionID,
		"refund":        refund.ID,
	})

	return RefundResult{
		RefundRef:  refund.ID,
		RefundedAt: p.clock(),
	}, nil
}

// ReleaseEscrow captures a held escrow charge. Stripe rejects a second
// capture of the same intent, which we treat as already released.
func (p *StripeProvider) ReleaseEscrow(ctx context.Context, transactionID string) error {
	if p == nil {
		return errors.New("stripe: provider is nil")
	}

	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx

	intent, err := p.api.intents.Capture(transactionID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodePaymentIntentUnexpectedState {
			current, lookupErr := p.api.intents.Get(transactionID, &stripe.PaymentIntentParams{Params: stripe.Params{Context: ctx}})
			if lookupErr == nil && current.Status == stripe.PaymentIntentStatusSucceeded {
				p.logger(ctx, "payments.stripe.escrow.already_released", map[string]any{
					"paymentIntent": transactionID,
				})
				return nil
			}
		}
		return fmt.Errorf("stripe: capture escrow hold: %w", err)
	}

	p.logger(ctx, "payments.stripe.escrow.released", map[string]any{
		"paymentIntent":  intent.ID,
		"amountReceived": intent.AmountReceived,
	})
	return nil
}

func (p *StripeProvider) classifyAuthorizeError(ctx context.Context, req AuthorizeRequest, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		p.logger(ctx, "payments.stripe.authorize.timeout", map[string]any{
			"orderId": req.OrderID,
		})
		return fmt.Errorf("%w: no settlement within %s", ErrPaymentTimeout, p.timeout)
	}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch stripeErr.Type {
		case stripe.ErrorTypeCard, stripe.ErrorTypeInvalidRequest:
			p.logger(ctx, "payments.stripe.authorize.declined", map[string]any{
				"orderId": req.OrderID,
				"code":    string(stripeErr.Code),
			})
			return fmt.Errorf("%w: %s", ErrPaymentDeclined, stripeErr.Code)
		}
	}
	return fmt.Errorf("stripe: authorize payment: %w", err)
}

// stripeRetryer retries transient gateway failures a bounded number of
// times. Declines and invalid requests are final on the first answer.
type stripeRetryer struct {
	attempts int
	tried    int
	backoff  gax.Backoff
}

func (r *stripeRetryer) Retry(err error) (time.Duration, bool) {
	r.tried++
	if r.tried >= r.attempts {
		return 0, false
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.Type == stripe.ErrorTypeAPI || stripeErr.Code == stripe.ErrorCodeRateLimit {
			return r.backoff.Pause(), true
		}
		return 0, false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return 0, false
	}
	// Network level failures without a Stripe body are retryable.
	return r.backoff.Pause(), true
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
