package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/fernmarket/api/internal/domain"
	"github.com/fernmarket/api/internal/payments"
	"github.com/fernmarket/api/internal/repositories"
)

// SettlementServiceDeps bundles collaborators for the settlement service.
type SettlementServiceDeps struct {
	Orders   repositories.OrderRepository
	Payments payments.Provider
	Notifier TransitionNotifier
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type settlementService struct {
	orders   repositories.OrderRepository
	payments payments.Provider
	notifier TransitionNotifier
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewSettlementService wires dependencies into a concrete SettlementService.
func NewSettlementService(deps SettlementServiceDeps) (SettlementService, error) {
	if deps.Orders == nil {
		return nil, errors.New("settlement service: order repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("settlement service: payment provider is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &settlementService{
		orders:   deps.Orders,
		payments: deps.Payments,
		notifier: deps.Notifier,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// ProcessRefund refunds the order's payment and settles the order into
// refunded. Retries collapse: an already refunded order returns as-is,
// and the gateway idempotency key absorbs duplicate refund calls.
func (s *settlementService) ProcessRefund(ctx context.Context, cmd RefundCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapSettlementRepositoryError(err)
	}

	if order.Status == domain.OrderStatusRefunded {
		return order, nil
	}
	if order.Payment == nil {
		return Order{}, fmt.Errorf("%w: order has no payment to refund", ErrOrderInvalidState)
	}
	if order.Payment.RefundedAt != nil {
		return order, nil
	}
	if !domain.CanTransition(order.Status, domain.OrderStatusRefunded) {
		return Order{}, fmt.Errorf("%w: refund not reachable from %s", ErrOrderInvalidState, order.Status)
	}

	result, err := s.payments.Refund(ctx, payments.RefundRequest{
		TransactionID:  order.Payment.TransactionID,
		Amount:         order.Payment.Amount,
		Currency:       order.Payment.Currency,
		Reason:         strings.TrimSpace(cmd.Reason),
		IdempotencyKey: "refund-" + order.ID,
	})
	if err != nil {
		// Keep the failed attempt visible so reconciliation can retry.
		now := s.now()
		order.Payment.RefundPending = true
		if persistErr := s.annotate(ctx, &order, cmd.ActorID, now); persistErr != nil {
			s.logger(ctx, "settlement.refund.flag.failed", map[string]any{
				"orderId": order.ID,
				"error":   persistErr.Error(),
			})
		}
		return Order{}, err
	}

	now := s.now()
	order.Payment.RefundedAt = valuePtr(result.RefundedAt)
	order.Payment.RefundRef = valuePtr(result.RefundRef)
	order.Payment.RefundPending = false

	order.Status = domain.OrderStatusRefunded
	order.Timeline = append(order.Timeline, TimelineEntry{
		Status:     domain.OrderStatusRefunded,
		Message:    domain.StatusMessage(domain.OrderStatusRefunded),
		ActorID:    strings.TrimSpace(cmd.ActorID),
		OccurredAt: now,
		Extra:      map[string]any{"refundRef": result.RefundRef},
	})
	if err := s.annotate(ctx, &order, cmd.ActorID, now); err != nil {
		return Order{}, err
	}

	s.notifyTransition(ctx, order, domain.OrderStatusRefunded)
	return order, nil
}

// ReleaseEscrow captures the held escrow charge exactly once. The
// released marker commits in the same version-checked write that
// follows the capture, and a marked order short-circuits before calling
// the gateway again.
func (s *settlementService) ReleaseEscrow(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapSettlementRepositoryError(err)
	}
	if order.Payment == nil || order.Payment.Method != domain.PaymentMethodEscrow {
		return Order{}, fmt.Errorf("%w: order has no escrow hold", ErrOrderInvalidState)
	}
	if order.Payment.EscrowReleasedAt != nil {
		return order, nil
	}

	if err := s.payments.ReleaseEscrow(ctx, order.Payment.TransactionID); err != nil {
		return Order{}, fmt.Errorf("settlement: release escrow: %w", err)
	}

	now := s.now()
	order.Payment.EscrowReleasedAt = &now
	if err := s.annotate(ctx, &order, systemActorID, now); err != nil {
		return Order{}, err
	}

	s.logger(ctx, "settlement.escrow.released", map[string]any{
		"orderId":       order.ID,
		"transactionId": order.Payment.TransactionID,
	})
	return order, nil
}

// annotate persists a settlement annotation guarded by the optimistic
// version check.
func (s *settlementService) annotate(ctx context.Context, order *Order, actorID string, now time.Time) error {
	expected := order.Version
	order.Version = expected + 1
	order.UpdatedAt = now
	if actor := strings.TrimSpace(actorID); actor != "" {
		order.Audit.UpdatedBy = valuePtr(actor)
	}
	if err := s.orders.Update(ctx, *order, expected); err != nil {
		order.Version = expected
		return mapSettlementRepositoryError(err)
	}
	return nil
}

func (s *settlementService) notifyTransition(ctx context.Context, order Order, status domain.OrderStatus) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyTransition(ctx, &order, status); err != nil {
		s.logger(ctx, "settlement.notify.failed", map[string]any{
			"orderId": order.ID,
			"status":  string(status),
			"error":   err.Error(),
		})
	}
}

func (s *settlementService) now() time.Time {
	return s.clock()
}

func mapSettlementRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		}
	}
	return err
}
