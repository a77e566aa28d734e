package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	domain "github.com/fernmarket/api/internal/domain"
	"github.com/fernmarket/api/internal/payments"
)

type settlementFixture struct {
	orders   *memOrderRepo
	payments *stubPaymentProvider
	notifier *captureNotifier
}

func newTestSettlementService(t *testing.T, fixture *settlementFixture) SettlementService {
	t.Helper()
	svc, err := NewSettlementService(SettlementServiceDeps{
		Orders:   fixture.orders,
		Payments: fixture.payments,
		Notifier: fixture.notifier,
		Clock:    func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("NewSettlementService: %v", err)
	}
	return svc
}

func TestProcessRefundSettlesOrder(t *testing.T) {
	seed := seedOrder(domain.OrderStatusCancelled, withPayment(domain.PaymentMethodCard))
	fixture := &settlementFixture{
		orders:   newMemOrderRepo(seed),
		payments: &stubPaymentProvider{},
		notifier: &captureNotifier{},
	}
	svc := newTestSettlementService(t, fixture)

	order, err := svc.ProcessRefund(context.Background(), RefundCommand{
		OrderID: seed.ID,
		Reason:  "requested_by_customer",
		ActorID: seed.BuyerID,
	})
	if err != nil {
		t.Fatalf("ProcessRefund: %v", err)
	}

	if order.Status != domain.OrderStatusRefunded {
		t.Fatalf("expected refunded, got %s", order.Status)
	}
	if order.Payment.RefundedAt == nil || order.Payment.RefundRef == nil {
		t.Fatalf("refund annotations missing: %+v", order.Payment)
	}
	if *order.Payment.RefundRef != "re_test" {
		t.Fatalf("refund ref %s", *order.Payment.RefundRef)
	}
	if order.Payment.RefundPending {
		t.Fatal("settled refund must clear pending flag")
	}
	if order.Version != seed.Version+1 {
		t.Fatalf("expected one version bump, got %d", order.Version)
	}
	if len(order.Timeline) != 1 || order.Timeline[0].Status != domain.OrderStatusRefunded {
		t.Fatalf("expected refunded timeline entry, got %+v", order.Timeline)
	}

	if len(fixture.payments.refundCalls) != 1 {
		t.Fatalf("expected one gateway refund, got %d", len(fixture.payments.refundCalls))
	}
	req := fixture.payments.refundCalls[0]
	if req.IdempotencyKey != "refund-"+seed.ID {
		t.Fatalf("unexpected idempotency key %s", req.IdempotencyKey)
	}
	if req.TransactionID != "pi_seed" || req.Amount != seed.Item.Total {
		t.Fatalf("unexpected refund request %+v", req)
	}
	if len(fixture.notifier.statuses) != 1 || fixture.notifier.statuses[0] != domain.OrderStatusRefunded {
		t.Fatalf("unexpected notifications %v", fixture.notifier.statuses)
	}
}

func TestProcessRefundIdempotent(t *testing.T) {
	t.Run("already refunded status", func(t *testing.T) {
		seed := seedOrder(domain.OrderStatusRefunded, withPayment(domain.PaymentMethodCard))
		fixture := &settlementFixture{
			orders:   newMemOrderRepo(seed),
			payments: &stubPaymentProvider{},
			notifier: &captureNotifier{},
		}
		svc := newTestSettlementService(t, fixture)

		order, err := svc.ProcessRefund(context.Background(), RefundCommand{OrderID: seed.ID})
		if err != nil {
			t.Fatalf("ProcessRefund: %v", err)
		}
		if order.Status != domain.OrderStatusRefunded {
			t.Fatalf("expected refunded, got %s", order.Status)
		}
		if order.Version != seed.Version {
			t.Fatalf("retry must not bump version, got %d", order.Version)
		}
		if len(fixture.payments.refundCalls) != 0 {
			t.Fatalf("retry must not call the gateway, got %d calls", len(fixture.payments.refundCalls))
		}
	})

	t.Run("refund already annotated", func(t *testing.T) {
		refundedAt := testNow.Add(-time.Hour)
		seed := seedOrder(domain.OrderStatusCancelled, withPayment(domain.PaymentMethodCard), func(o *domain.Order) {
			o.Payment.RefundedAt = &refundedAt
		})
		fixture := &settlementFixture{
			orders:   newMemOrderRepo(seed),
			payments: &stubPaymentProvider{},
			notifier: &captureNotifier{},
		}
		svc := newTestSettlementService(t, fixture)

		if _, err := svc.ProcessRefund(context.Background(), RefundCommand{OrderID: seed.ID}); err != nil {
			t.Fatalf("ProcessRefund: %v", err)
		}
		if len(fixture.payments.refundCalls) != 0 {
			t.Fatalf("annotated refund must not call the gateway, got %d calls", len(fixture.payments.refundCalls))
		}
	})
}

func TestProcessRefundFailureFlagsPending(t *testing.T) {
	seed := seedOrder(domain.OrderStatusCancelled, withPayment(domain.PaymentMethodCard))
	fixture := &settlementFixture{
		orders:   newMemOrderRepo(seed),
		payments: &stubPaymentProvider{},
		notifier: &captureNotifier{},
	}
	fixture.payments.refundFn = func(payments.RefundRequest) (payments.RefundResult, error) {
		return payments.RefundResult{}, fmt.Errorf("%w: gateway down", payments.ErrRefundFailed)
	}
	svc := newTestSettlementService(t, fixture)

	_, err := svc.ProcessRefund(context.Background(), RefundCommand{OrderID: seed.ID, Reason: "requested_by_customer"})
	if !errors.Is(err, payments.ErrRefundFailed) {
		t.Fatalf("expected refund failure, got %v", err)
	}

	stored := fixture.orders.stored(t, seed.ID)
	if stored.Status != domain.OrderStatusCancelled {
		t.Fatalf("failed refund changed status to %s", stored.Status)
	}
	if !stored.Payment.RefundPending {
		t.Fatal("failed refund must flag pending reconciliation")
	}
	if stored.Payment.RefundedAt != nil {
		t.Fatal("failed refund must not record a refund timestamp")
	}
}

func TestProcessRefundGuards(t *testing.T) {
	t.Run("no payment", func(t *testing.T) {
		seed := seedOrder(domain.OrderStatusCancelled)
		fixture := &settlementFixture{
			orders:   newMemOrderRepo(seed),
			payments: &stubPaymentProvider{},
			notifier: &captureNotifier{},
		}
		svc := newTestSettlementService(t, fixture)
		if _, err := svc.ProcessRefund(context.Background(), RefundCommand{OrderID: seed.ID}); !errors.Is(err, ErrOrderInvalidState) {
			t.Fatalf("expected invalid state, got %v", err)
		}
	})

	t.Run("refund unreachable", func(t *testing.T) {
		seed := seedOrder(domain.OrderStatusCompleted, withPayment(domain.PaymentMethodCard))
		fixture := &settlementFixture{
			orders:   newMemOrderRepo(seed),
			payments: &stubPaymentProvider{},
			notifier: &captureNotifier{},
		}
		svc := newTestSettlementService(t, fixture)
		if _, err := svc.ProcessRefund(context.Background(), RefundCommand{OrderID: seed.ID}); !errors.Is(err, ErrOrderInvalidState) {
			t.Fatalf("expected invalid state, got %v", err)
		}
	})

	t.Run("missing order", func(t *testing.T) {
		fixture := &settlementFixture{
			orders:   newMemOrderRepo(),
			payments: &stubPaymentProvider{},
			notifier: &captureNotifier{},
		}
		svc := newTestSettlementService(t, fixture)
		if _, err := svc.ProcessRefund(context.Background(), RefundCommand{OrderID: "ord_missing"}); !errors.Is(err, ErrOrderNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})
}

func TestReleaseEscrowExactlyOnce(t *testing.T) {
	seed := seedOrder(domain.OrderStatusCompleted, withPayment(domain.PaymentMethodEscrow))
	fixture := &settlementFixture{
		orders:   newMemOrderRepo(seed),
		payments: &stubPaymentProvider{},
		notifier: &captureNotifier{},
	}
	svc := newTestSettlementService(t, fixture)

	order, err := svc.ReleaseEscrow(context.Background(), seed.ID)
	if err != nil {
		t.Fatalf("ReleaseEscrow: %v", err)
	}
	if order.Payment.EscrowReleasedAt == nil {
		t.Fatal("release marker not recorded")
	}
	if len(fixture.payments.releaseCalls) != 1 || fixture.payments.releaseCalls[0] != "pi_seed" {
		t.Fatalf("unexpected release calls %v", fixture.payments.releaseCalls)
	}

	again, err := svc.ReleaseEscrow(context.Background(), seed.ID)
	if err != nil {
		t.Fatalf("second ReleaseEscrow: %v", err)
	}
	if len(fixture.payments.releaseCalls) != 1 {
		t.Fatalf("second release reached the gateway, %d calls", len(fixture.payments.releaseCalls))
	}
	if again.Version != order.Version {
		t.Fatalf("second release bumped version to %d", again.Version)
	}
}

func TestReleaseEscrowWithoutHold(t *testing.T) {
	seed := seedOrder(domain.OrderStatusCompleted, withPayment(domain.PaymentMethodCard))
	fixture := &settlementFixture{
		orders:   newMemOrderRepo(seed),
		payments: &stubPaymentProvider{},
		notifier: &captureNotifier{},
	}
	svc := newTestSettlementService(t, fixture)

	if _, err := svc.ReleaseEscrow(context.Background(), seed.ID); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if len(fixture.payments.releaseCalls) != 0 {
		t.Fatalf("card payment reached the gateway, %d calls", len(fixture.payments.releaseCalls))
	}
}

func TestReleaseEscrowGatewayFailure(t *testing.T) {
	seed := seedOrder(domain.OrderStatusCompleted, withPayment(domain.PaymentMethodEscrow))
	fixture := &settlementFixture{
		orders:   newMemOrderRepo(seed),
		payments: &stubPaymentProvider{releaseErr: errors.New("stripe unavailable")},
		notifier: &captureNotifier{},
	}
	svc := newTestSettlementService(t, fixture)

	if _, err := svc.ReleaseEscrow(context.Background(), seed.ID); err == nil {
		t.Fatal("expected release failure")
	}

	stored := fixture.orders.stored(t, seed.ID)
	if stored.Payment.EscrowReleasedAt != nil {
		t.Fatal("failed release must not record the marker")
	}
}
