package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v78"

	"github.com/fernmarket/api/internal/domain"
)

type stubIntentAPI struct {
	newFn     func(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	captureFn func(id string, params *stripe.PaymentIntentCaptureParams) (*stripe.PaymentIntent, error)
	getFn     func(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)

	newCalls     int
	captureCalls int
}

func (s *stubIntentAPI) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	s.newCalls++
	if s.newFn == nil {
		return &stripe.PaymentIntent{ID: "pi_stub", Status: stripe.PaymentIntentStatusSucceeded}, nil
	}
	return s.newFn(params)
}

func (s *stubIntentAPI) Capture(id string, params *stripe.PaymentIntentCaptureParams) (*stripe.PaymentIntent, error) {
	s.captureCalls++
	if s.captureFn == nil {
		return &stripe.PaymentIntent{ID: id, Status: stripe.PaymentIntentStatusSucceeded}, nil
	}
	return s.captureFn(id, params)
}

func (s *stubIntentAPI) Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	if s.getFn == nil {
		return &stripe.PaymentIntent{ID: id, Status: stripe.PaymentIntentStatusSucceeded}, nil
	}
	return s.getFn(id, params)
}

type stubRefundAPI struct {
	newFn func(params *stripe.RefundParams) (*stripe.Refund, error)
	calls int
}

func (s *stubRefundAPI) New(params *stripe.RefundParams) (*stripe.Refund, error) {
	s.calls++
	if s.newFn == nil {
		return &stripe.Refund{ID: "re_stub", Status: stripe.RefundStatusSucceeded}, nil
	}
	return s.newFn(params)
}

func newTestProvider(t *testing.T, intents *stubIntentAPI, refunds *stubRefundAPI) *StripeProvider {
	t.Helper()
	provider, err := NewStripeProvider(StripeProviderConfig{
		Timeout:  2 * time.Second,
		Attempts: 3,
		Clock:    func() time.Time { return time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC) },
		Clients:  &stripeClients{intents: intents, refunds: refunds},
	})
	if err != nil {
		t.Fatalf("NewStripeProvider: %v", err)
	}
	return provider
}

func cardRequest() AuthorizeRequest {
	return AuthorizeRequest{
		OrderID:        "ord_01",
		OrderNumber:    "FM-2026-000042",
		BuyerID:        "user_buyer",
		Method:         domain.PaymentMethodCard,
		Amount:         4500,
		Currency:       "NZD",
		IdempotencyKey: "pay-ord_01",
	}
}

func TestAuthorizeCardCapturesImmediately(t *testing.T) {
	var captured *stripe.PaymentIntentParams
	intents := &stubIntentAPI{
		newFn: func(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
			captured = params
			return &stripe.PaymentIntent{ID: "pi_card", Status: stripe.PaymentIntentStatusSucceeded}, nil
		},
	}
	provider := newTestProvider(t, intents, &stubRefundAPI{})

	result, err := provider.Authorize(context.Background(), cardRequest())
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if result.TransactionID != "pi_card" {
		t.Fatalf("unexpected transaction id: %s", result.TransactionID)
	}
	if result.Held {
		t.Fatal("card charges must capture immediately")
	}
	if captured.CaptureMethod != nil {
		t.Fatalf("card charge should not set a capture method: %v", *captured.CaptureMethod)
	}
	if got := *captured.Currency; got != "nzd" {
		t.Fatalf("currency should be lowercased for the gateway, got %s", got)
	}
	if captured.Metadata["orderId"] != "ord_01" {
		t.Fatalf("order id missing from metadata: %#v", captured.Metadata)
	}
}

func TestAuthorizeEscrowPlacesHold(t *testing.T) {
	var captured *stripe.PaymentIntentParams
	intents := &stubIntentAPI{
		newFn: func(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
			captured = params
			return &stripe.PaymentIntent{ID: "pi_escrow", Status: stripe.PaymentIntentStatusRequiresCapture}, nil
		},
	}
	provider := newTestProvider(t, intents, &stubRefundAPI{})

	req := cardRequest()
	req.Method = domain.PaymentMethodEscrow
	result, err := provider.Authorize(context.Background(), req)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if !result.Held {
		t.Fatal("escrow charges must report held funds")
	}
	if captured.CaptureMethod == nil || *captured.CaptureMethod != string(stripe.PaymentIntentCaptureMethodManual) {
		t.Fatal("escrow charge must request manual capture")
	}
}

func TestAuthorizeDeclineMapsToPaymentDeclined(t *testing.T) {
	intents := &stubIntentAPI{
		newFn: func(*stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
			return nil, &stripe.Error{Type: stripe.ErrorTypeCard, Code: stripe.ErrorCodeCardDeclined}
		},
	}
	provider := newTestProvider(t, intents, &stubRefundAPI{})

	_, err := provider.Authorize(context.Background(), cardRequest())
	if !errors.Is(err, ErrPaymentDeclined) {
		t.Fatalf("expected ErrPaymentDeclined, got %v", err)
	}
	if intents.newCalls != 1 {
		t.Fatalf("declines are final, expected 1 attempt, got %d", intents.newCalls)
	}
}

func TestAuthorizeDeadlineMapsToPaymentTimeout(t *testing.T) {
	intents := &stubIntentAPI{
		newFn: func(*stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
			return nil, context.DeadlineExceeded
		},
	}
	provider := newTestProvider(t, intents, &stubRefundAPI{})

	_, err := provider.Authorize(context.Background(), cardRequest())
	if !errors.Is(err, ErrPaymentTimeout) {
		t.Fatalf("expected ErrPaymentTimeout, got %v", err)
	}
}

func TestAuthorizeRetriesTransientGatewayErrors(t *testing.T) {
	intents := &stubIntentAPI{}
	intents.newFn = func(*stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
		if intents.newCalls == 1 {
			return nil, &stripe.Error{Type: stripe.ErrorTypeAPI}
		}
		return &stripe.PaymentIntent{ID: "pi_retry", Status: stripe.PaymentIntentStatusSucceeded}, nil
	}
	provider := newTestProvider(t, intents, &stubRefundAPI{})

	result, err := provider.Authorize(context.Background(), cardRequest())
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if result.TransactionID != "pi_retry" {
		t.Fatalf("unexpected transaction id: %s", result.TransactionID)
	}
	if intents.newCalls != 2 {
		t.Fatalf("expected retry after transient error, got %d attempts", intents.newCalls)
	}
}

func TestAuthorizeUnsupportedMethod(t *testing.T) {
	provider := newTestProvider(t, &stubIntentAPI{}, &stubRefundAPI{})

	req := cardRequest()
	req.Method = domain.PaymentMethod("barter")
	if _, err := provider.Authorize(context.Background(), req); err == nil {
		t.Fatal("expected error for unsupported method")
	}
}

func TestRefundSuccess(t *testing.T) {
	var captured *stripe.RefundParams
	refunds := &stubRefundAPI{
		newFn: func(params *stripe.RefundParams) (*stripe.Refund, error) {
			captured = params
			return &stripe.Refund{ID: "re_01", Status: stripe.RefundStatusSucceeded}, nil
		},
	}
	provider := newTestProvider(t, &stubIntentAPI{}, refunds)

	result, err := provider.Refund(context.Background(), RefundRequest{
		TransactionID:  "pi_card",
		Amount:         4500,
		Reason:         "requested_by_customer",
		IdempotencyKey: "refund-ord_01",
	})
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if result.RefundRef != "re_01" {
		t.Fatalf("unexpected refund ref: %s", result.RefundRef)
	}
	if *captured.PaymentIntent != "pi_card" {
		t.Fatalf("refund should target the payment intent, got %s", *captured.PaymentIntent)
	}
	if captured.Reason == nil || *captured.Reason != string(stripe.RefundReasonRequestedByCustomer) {
		t.Fatal("refund reason not forwarded")
	}
}

func TestRefundAlreadyRefundedIsSuccess(t *testing.T) {
	refunds := &stubRefundAPI{
		newFn: func(*stripe.RefundParams) (*stripe.Refund, error) {
			return nil, &stripe.Error{Type: stripe.ErrorTypeInvalidRequest, Code: stripe.ErrorCodeChargeAlreadyRefunded}
		},
	}
	provider := newTestProvider(t, &stubIntentAPI{}, refunds)

	if _, err := provider.Refund(context.Background(), RefundRequest{TransactionID: "pi_card"}); err != nil {
		t.Fatalf("duplicate refund should be treated as success, got %v", err)
	}
}

func TestRefundFailureMapsToRefundFailed(t *testing.T) {
	refunds := &stubRefundAPI{
		newFn: func(*stripe.RefundParams) (*stripe.Refund, error) {
			return nil, &stripe.Error{Type: stripe.ErrorTypeAPI}
		},
	}
	provider := newTestProvider(t, &stubIntentAPI{}, refunds)

	_, err := provider.Refund(context.Background(), RefundRequest{TransactionID: "pi_card"})
	if !errors.Is(err, ErrRefundFailed) {
		t.Fatalf("expected ErrRefundFailed, got %v", err)
	}
}

func TestReleaseEscrowCaptures(t *testing.T) {
	intents := &stubIntentAPI{}
	provider := newTestProvider(t, intents, &stubRefundAPI{})

	if err := provider.ReleaseEscrow(context.Background(), "pi_escrow"); err != nil {
		t.Fatalf("ReleaseEscrow: %v", err)
	}
	if intents.captureCalls != 1 {
		t.Fatalf("expected one capture call, got %d", intents.captureCalls)
	}
}

func TestReleaseEscrowAlreadyCaptured(t *testing.T) {
	intents := &stubIntentAPI{
		captureFn: func(string, *stripe.PaymentIntentCaptureParams) (*stripe.PaymentIntent, error) {
			return nil, &stripe.Error{Type: stripe.ErrorTypeInvalidRequest, Code: stripe.ErrorCodePaymentIntentUnexpectedState}
		},
		getFn: func(id string, _ *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
			return &stripe.PaymentIntent{ID: id, Status: stripe.PaymentIntentStatusSucceeded}, nil
		},
	}
	provider := newTestProvider(t, intents, &stubRefundAPI{})

	if err := provider.ReleaseEscrow(context.Background(), "pi_escrow"); err != nil {
		t.Fatalf("second release should be a no-op, got %v", err)
	}
}
