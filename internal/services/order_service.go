package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/fernmarket/api/internal/domain"
	"github.com/fernmarket/api/internal/payments"
	"github.com/fernmarket/api/internal/repositories"
	"github.com/fernmarket/api/internal/shipping"
)

const (
	orderIDPrefix      = "ord_"
	transitionIDPrefix = "sched_"

	defaultPrepDelay       = 30 * time.Minute
	defaultCompletionGrace = 7 * 24 * time.Hour

	systemActorID = "system"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates optimistic concurrency conflicts or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderForbidden indicates the actor is not a party allowed to act.
	ErrOrderForbidden = errors.New("order: actor not permitted")
)

// freeTextPolicy strips all markup from user-supplied text before it is
// stored or echoed back in notifications.
var freeTextPolicy = bluemonday.StrictPolicy()

// TransitionNotifier fans a committed transition out to the interested
// parties. Invoked strictly after the owning write commits.
type TransitionNotifier interface {
	NotifyTransition(ctx context.Context, order *domain.Order, status domain.OrderStatus) error
}

// shipmentProgress orders the fulfilment states so late carrier events
// cannot move an order backwards.
var shipmentProgress = map[domain.OrderStatus]int{
	domain.OrderStatusShipped:        1,
	domain.OrderStatusInTransit:      2,
	domain.OrderStatusOutForDelivery: 3,
	domain.OrderStatusDelivered:      4,
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Transitions repositories.ScheduledTransitionRepository
	Counters    repositories.CounterRepository
	Payments    payments.Provider
	Settlement  SettlementService
	Carriers    *shipping.Registry
	Notifier    TransitionNotifier
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)

	// PrepDelay is how long a confirmed order waits before it moves to
	// preparing automatically.
	PrepDelay time.Duration
	// CompletionGrace is how long a delivered order waits before it
	// completes automatically.
	CompletionGrace time.Duration
}

type orderService struct {
	orders      repositories.OrderRepository
	transitions repositories.ScheduledTransitionRepository
	counters    repositories.CounterRepository
	payments    payments.Provider
	settlement  SettlementService
	carriers    *shipping.Registry
	notifier    TransitionNotifier
	unitOfWork  repositories.UnitOfWork
	clock       func() time.Time
	newID       func() string
	logger      func(context.Context, string, map[string]any)

	prepDelay       time.Duration
	completionGrace time.Duration
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Transitions == nil {
		return nil, errors.New("order service: transition repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("order service: payment provider is required")
	}
	if deps.Carriers == nil {
		deps.Carriers = shipping.DefaultRegistry()
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	prepDelay := deps.PrepDelay
	if prepDelay <= 0 {
		prepDelay = defaultPrepDelay
	}
	completionGrace := deps.CompletionGrace
	if completionGrace <= 0 {
		completionGrace = defaultCompletionGrace
	}

	return &orderService{
		orders:      deps.Orders,
		transitions: deps.Transitions,
		counters:    deps.Counters,
		payments:    deps.Payments,
		settlement:  deps.Settlement,
		carriers:    deps.Carriers,
		notifier:    deps.Notifier,
		unitOfWork:  unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:           idGen,
		logger:          logger,
		prepDelay:       prepDelay,
		completionGrace: completionGrace,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	buyerID := strings.TrimSpace(cmd.BuyerID)
	sellerID := strings.TrimSpace(cmd.SellerID)
	if buyerID == "" {
		return Order{}, fmt.Errorf("%w: buyer id is required", ErrOrderInvalidInput)
	}
	if sellerID == "" {
		return Order{}, fmt.Errorf("%w: seller id is required", ErrOrderInvalidInput)
	}
	if buyerID == sellerID {
		return Order{}, fmt.Errorf("%w: buyer and seller must differ", ErrOrderInvalidInput)
	}

	item := cmd.Item
	item.ListingID = strings.TrimSpace(item.ListingID)
	item.Title = sanitizeText(item.Title)
	item.Currency = strings.ToUpper(strings.TrimSpace(item.Currency))
	if item.ListingID == "" {
		return Order{}, fmt.Errorf("%w: listing id is required", ErrOrderInvalidInput)
	}
	if item.Title == "" {
		return Order{}, fmt.Errorf("%w: item title is required", ErrOrderInvalidInput)
	}
	if item.Quantity < 1 {
		return Order{}, fmt.Errorf("%w: quantity must be at least 1", ErrOrderInvalidInput)
	}
	if item.UnitPrice <= 0 {
		return Order{}, fmt.Errorf("%w: unit price must be positive", ErrOrderInvalidInput)
	}
	if item.WeightKg < 0 {
		return Order{}, fmt.Errorf("%w: weight cannot be negative", ErrOrderInvalidInput)
	}
	if item.Currency == "" {
		item.Currency = "NZD"
	}
	item.Total = item.UnitPrice * int64(item.Quantity)

	now := s.now()
	number, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		return Order{}, err
	}

	order := Order{
		ID:          s.nextOrderID(),
		OrderNumber: number,
		BuyerID:     buyerID,
		SellerID:    sellerID,
		Item:        item,
		Status:      domain.OrderStatusPendingPayment,
		Version:     1,
		Metadata:    cloneMap(cmd.Metadata),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	order.Timeline = []TimelineEntry{{
		Status:     domain.OrderStatusPendingPayment,
		Message:    domain.StatusMessage(domain.OrderStatusPendingPayment),
		ActorID:    strings.TrimSpace(cmd.ActorID),
		OccurredAt: now,
	}}
	if actor := strings.TrimSpace(cmd.ActorID); actor != "" {
		order.Audit.CreatedBy = valuePtr(actor)
		order.Audit.UpdatedBy = valuePtr(actor)
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Insert(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.notify(ctx, order, domain.OrderStatusPendingPayment)
	return order, nil
}

func (s *orderService) ProcessPayment(ctx context.Context, cmd ProcessPaymentCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if !domain.ValidPaymentMethod(cmd.Method) {
		return Order{}, fmt.Errorf("%w: unsupported payment method %q", ErrOrderInvalidInput, cmd.Method)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if order.Status != domain.OrderStatusPendingPayment {
		return Order{}, fmt.Errorf("%w: payment requires pending_payment, order is %s", ErrOrderInvalidState, order.Status)
	}
	if actor := strings.TrimSpace(cmd.ActorID); actor != "" && actor != order.BuyerID {
		return Order{}, fmt.Errorf("%w: only the buyer can pay for the order", ErrOrderForbidden)
	}

	now := s.now()
	if err := s.commitTransition(ctx, &order, domain.OrderStatusPaymentProcessing, transitionDetails{
		actorID: cmd.ActorID,
		now:     now,
		extra:   map[string]any{"method": string(cmd.Method)},
	}); err != nil {
		return Order{}, err
	}

	result, payErr := s.payments.Authorize(ctx, payments.AuthorizeRequest{
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		BuyerID:        order.BuyerID,
		Method:         cmd.Method,
		Amount:         order.Item.Total,
		Currency:       order.Item.Currency,
		IdempotencyKey: "pay-" + order.ID,
	})
	if payErr != nil {
		// Any payment failure voids the order rather than parking it in
		// a retryable state.
		now = s.now()
		order.Cancellation = &domain.CancellationRecord{
			Reason:      "payment_failed",
			ActorID:     systemActorID,
			Notes:       payErr.Error(),
			CancelledAt: now,
		}
		if err := s.commitTransition(ctx, &order, domain.OrderStatusCancelled, transitionDetails{
			actorID: systemActorID,
			now:     now,
			extra:   map[string]any{"reason": "payment_failed"},
		}); err != nil {
			s.logger(ctx, "order.payment.cancel.failed", map[string]any{
				"orderId": order.ID,
				"error":   err.Error(),
			})
		}
		return Order{}, payErr
	}

	now = s.now()
	order.Payment = &domain.PaymentDetails{
		Method:        cmd.Method,
		TransactionID: result.TransactionID,
		Amount:        order.Item.Total,
		Currency:      order.Item.Currency,
		PaidAt:        now,
	}
	if err := s.commitTransition(ctx, &order, domain.OrderStatusPaid, transitionDetails{
		actorID: cmd.ActorID,
		now:     now,
		extra:   map[string]any{"transactionId": result.TransactionID},
	}); err != nil {
		return Order{}, err
	}

	return order, nil
}

func (s *orderService) ConfirmOrder(ctx context.Context, cmd ConfirmOrderCommand) (Order, error) {
	order, err := s.loadOrder(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if order.Status != domain.OrderStatusPaid {
		return Order{}, fmt.Errorf("%w: confirmation requires paid, order is %s", ErrOrderInvalidState, order.Status)
	}
	if actor := strings.TrimSpace(cmd.ActorID); actor != "" && actor != order.SellerID {
		return Order{}, fmt.Errorf("%w: only the seller can confirm the order", ErrOrderForbidden)
	}
	if cmd.PrepTime != nil && *cmd.PrepTime <= 0 {
		return Order{}, fmt.Errorf("%w: preparation time must be positive", ErrOrderInvalidInput)
	}

	now := s.now()
	order.Confirmation = &domain.ConfirmationRecord{
		EstimatedDelivery: cmd.EstimatedDelivery,
		Notes:             sanitizeText(cmd.Notes),
		ActorID:           strings.TrimSpace(cmd.ActorID),
		ConfirmedAt:       now,
	}

	var extra map[string]any
	if cmd.EstimatedDelivery != nil {
		extra = map[string]any{"estimatedDelivery": cmd.EstimatedDelivery.UTC().Format(time.RFC3339)}
	}
	if err := s.commitTransition(ctx, &order, domain.OrderStatusConfirmed, transitionDetails{
		actorID: cmd.ActorID,
		now:     now,
		extra:   extra,
	}); err != nil {
		return Order{}, err
	}

	prep := s.prepDelay
	if cmd.PrepTime != nil {
		prep = *cmd.PrepTime
	}
	s.arm(ctx, domain.ScheduledTransition{
		ID:         s.nextTransitionID(),
		OrderID:    order.ID,
		FromStatus: domain.OrderStatusConfirmed,
		ToStatus:   domain.OrderStatusPreparing,
		DueAt:      now.Add(prep),
		ArmedAt:    now,
	})

	return order, nil
}

func (s *orderService) AddShippingDetails(ctx context.Context, cmd AddShippingCommand) (Order, error) {
	order, err := s.loadOrder(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if order.Status != domain.OrderStatusPreparing {
		return Order{}, fmt.Errorf("%w: shipping requires preparing, order is %s", ErrOrderInvalidState, order.Status)
	}
	if actor := strings.TrimSpace(cmd.ActorID); actor != "" && actor != order.SellerID {
		return Order{}, fmt.Errorf("%w: only the seller can ship the order", ErrOrderForbidden)
	}

	trackingNumber := strings.TrimSpace(cmd.TrackingNumber)
	if trackingNumber == "" {
		return Order{}, fmt.Errorf("%w: tracking number is required", ErrOrderInvalidInput)
	}

	carrier, err := s.carriers.Resolve(cmd.Carrier)
	if err != nil {
		return Order{}, err
	}

	now := s.now()
	estimated := now.Add(time.Duration(carrier.TransitDays) * 24 * time.Hour)
	if cmd.EstimatedDelivery != nil {
		estimated = *cmd.EstimatedDelivery
	}
	order.Shipping = &domain.ShippingInfo{
		Carrier:           carrier.ID,
		CarrierName:       carrier.DisplayName,
		TrackingNumber:    trackingNumber,
		TrackingURL:       carrier.TrackingURL(trackingNumber),
		Address:           sanitizeText(cmd.Address),
		ShippedAt:         now,
		EstimatedDelivery: &estimated,
	}

	if err := s.commitTransition(ctx, &order, domain.OrderStatusShipped, transitionDetails{
		actorID: cmd.ActorID,
		now:     now,
		extra: map[string]any{
			"carrier":        carrier.ID,
			"trackingNumber": trackingNumber,
		},
	}); err != nil {
		return Order{}, err
	}

	s.disarm(ctx, order.ID)
	return order, nil
}

func (s *orderService) UpdateDeliveryStatus(ctx context.Context, cmd DeliveryUpdateCommand) (Order, error) {
	order, err := s.loadOrder(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if order.Shipping == nil {
		return Order{}, fmt.Errorf("%w: order has no shipment on record", ErrOrderInvalidState)
	}

	target, ok := domain.StatusForDeliveryEvent(cmd.Event)
	if !ok {
		return Order{}, fmt.Errorf("%w: unknown delivery event %q", ErrOrderInvalidInput, cmd.Event)
	}

	now := s.now()
	occurredAt := cmd.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = now
	}
	order.Shipping.Updates = append(order.Shipping.Updates, domain.CarrierUpdate{
		Event:       cmd.Event,
		Description: sanitizeText(cmd.Description),
		Location:    sanitizeText(cmd.Location),
		OccurredAt:  occurredAt.UTC(),
	})

	// Late or duplicate carrier events keep their audit trail but never
	// move the order backwards.
	currentRank, inShipment := shipmentProgress[order.Status]
	targetRank := shipmentProgress[target]
	if !inShipment || targetRank <= currentRank {
		if err := s.persist(ctx, &order, cmd.Source, now); err != nil {
			return Order{}, err
		}
		return order, nil
	}

	if target == domain.OrderStatusDelivered {
		order.Shipping.DeliveredAt = &occurredAt
	}
	if err := s.commitTransition(ctx, &order, target, transitionDetails{
		actorID: cmd.Source,
		now:     now,
		extra:   map[string]any{"event": string(cmd.Event)},
	}); err != nil {
		return Order{}, err
	}

	if target == domain.OrderStatusDelivered {
		s.arm(ctx, domain.ScheduledTransition{
			ID:           s.nextTransitionID(),
			OrderID:      order.ID,
			FromStatus:   domain.OrderStatusDelivered,
			ToStatus:     domain.OrderStatusCompleted,
			AutoComplete: true,
			DueAt:        now.Add(s.completionGrace),
			ArmedAt:      now,
		})
	}

	return order, nil
}

func (s *orderService) CompleteOrder(ctx context.Context, cmd CompleteOrderCommand) (Order, error) {
	order, err := s.loadOrder(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if order.Status != domain.OrderStatusDelivered {
		return Order{}, fmt.Errorf("%w: completion requires delivered, order is %s", ErrOrderInvalidState, order.Status)
	}
	if actor := strings.TrimSpace(cmd.ActorID); actor != "" && actor != order.BuyerID {
		return Order{}, fmt.Errorf("%w: only the buyer can complete the order", ErrOrderForbidden)
	}
	if cmd.Rating != nil && (*cmd.Rating < 1 || *cmd.Rating > 5) {
		return Order{}, fmt.Errorf("%w: rating must be between 1 and 5", ErrOrderInvalidInput)
	}

	now := s.now()
	order.Completion = &domain.CompletionRecord{
		ActorID:     strings.TrimSpace(cmd.ActorID),
		Feedback:    sanitizeText(cmd.Feedback),
		Rating:      cmd.Rating,
		CompletedAt: now,
	}
	if err := s.commitTransition(ctx, &order, domain.OrderStatusCompleted, transitionDetails{
		actorID: cmd.ActorID,
		now:     now,
	}); err != nil {
		return Order{}, err
	}

	s.disarm(ctx, order.ID)
	return s.settleCompletion(ctx, order), nil
}

func (s *orderService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	order, err := s.loadOrder(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if !domain.IsCancellable(order.Status) {
		return Order{}, fmt.Errorf("%w: order status %s cannot be cancelled", ErrOrderInvalidState, order.Status)
	}
	actor := strings.TrimSpace(cmd.ActorID)
	if actor != "" && actor != order.BuyerID && actor != order.SellerID {
		return Order{}, fmt.Errorf("%w: only a party to the order can cancel it", ErrOrderForbidden)
	}
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		return Order{}, fmt.Errorf("%w: cancellation reason is required", ErrOrderInvalidInput)
	}

	now := s.now()
	order.Cancellation = &domain.CancellationRecord{
		Reason:      reason,
		ActorID:     actor,
		Notes:       sanitizeText(cmd.Notes),
		CancelledAt: now,
	}
	if err := s.commitTransition(ctx, &order, domain.OrderStatusCancelled, transitionDetails{
		actorID: actor,
		now:     now,
		extra:   map[string]any{"reason": reason},
	}); err != nil {
		return Order{}, err
	}

	s.disarm(ctx, order.ID)

	if order.Payment != nil && s.settlement != nil {
		refunded, err := s.settlement.ProcessRefund(ctx, RefundCommand{
			OrderID: order.ID,
			Reason:  "requested_by_customer",
			ActorID: actor,
		})
		if err != nil {
			return Order{}, err
		}
		return refunded, nil
	}

	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	return s.loadOrder(ctx, orderID)
}

func (s *orderService) ListUserOrders(ctx context.Context, query UserOrdersQuery) (domain.CursorPage[Order], error) {
	userID := strings.TrimSpace(query.UserID)
	if userID == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}

	role := repositories.OrderRole(strings.ToLower(strings.TrimSpace(query.Role)))
	switch role {
	case repositories.OrderRoleBuyer, repositories.OrderRoleSeller, repositories.OrderRoleAny:
	case "":
		role = repositories.OrderRoleAny
	default:
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown role %q", ErrOrderInvalidInput, query.Role)
	}

	for _, status := range query.Status {
		if !domain.ValidOrderStatus(domain.OrderStatus(strings.ToLower(strings.TrimSpace(status)))) {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, status)
		}
	}

	page, err := s.orders.ListByUser(ctx, userID, repositories.OrderListFilter{
		Role:       role,
		Status:     query.Status,
		Pagination: query.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) WatchOrder(ctx context.Context, orderID string, handle func(ctx context.Context, order Order) error) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if handle == nil {
		return fmt.Errorf("%w: watch handler is required", ErrOrderInvalidInput)
	}
	if err := s.orders.Watch(ctx, orderID, handle); err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

// ApplyScheduledTransition fires a deferred transition. The order is
// re-validated first: anything that moved the order off the armed
// from-status since arming voids the job silently.
func (s *orderService) ApplyScheduledTransition(ctx context.Context, transition ScheduledTransition) error {
	order, err := s.orders.FindByID(ctx, transition.OrderID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return s.transitions.Delete(ctx, transition.ID)
		}
		return s.mapRepositoryError(err)
	}

	if order.Status != transition.FromStatus {
		s.logger(ctx, "order.schedule.voided", map[string]any{
			"orderId":    order.ID,
			"fromStatus": string(transition.FromStatus),
			"status":     string(order.Status),
		})
		return s.transitions.Delete(ctx, transition.ID)
	}

	now := s.now()
	if transition.AutoComplete {
		order.Completion = &domain.CompletionRecord{
			AutoCompleted: true,
			CompletedAt:   now,
		}
	}

	if err := s.commitTransition(ctx, &order, transition.ToStatus, transitionDetails{
		actorID: systemActorID,
		now:     now,
		extra:   map[string]any{"scheduled": true},
	}); err != nil {
		return err
	}

	if err := s.transitions.Delete(ctx, transition.ID); err != nil {
		s.logger(ctx, "order.schedule.cleanup.failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}

	if transition.AutoComplete {
		s.settleCompletion(ctx, order)
	}
	return nil
}

// transitionDetails carries the audit metadata for a single transition.
type transitionDetails struct {
	actorID string
	now     time.Time
	extra   map[string]any
}

// commitTransition validates the edge, appends the timeline entry,
// bumps the version, persists with the optimistic check, and notifies.
// Exactly one timeline entry and one version increment per call.
func (s *orderService) commitTransition(ctx context.Context, order *Order, target domain.OrderStatus, details transitionDetails) error {
	if !domain.CanTransition(order.Status, target) {
		return fmt.Errorf("%w: %s to %s", ErrOrderInvalidState, order.Status, target)
	}

	order.Status = target
	order.Timeline = append(order.Timeline, TimelineEntry{
		Status:     target,
		Message:    domain.StatusMessage(target),
		ActorID:    strings.TrimSpace(details.actorID),
		OccurredAt: details.now,
		Extra:      cloneMap(details.extra),
	})

	if err := s.persist(ctx, order, details.actorID, details.now); err != nil {
		return err
	}

	s.notify(ctx, *order, target)
	return nil
}

// persist bumps the version and writes the order guarded by the
// optimistic check against the version it was loaded at.
func (s *orderService) persist(ctx context.Context, order *Order, actorID string, now time.Time) error {
	expected := order.Version
	order.Version = expected + 1
	order.UpdatedAt = now
	if actor := strings.TrimSpace(actorID); actor != "" {
		order.Audit.UpdatedBy = valuePtr(actor)
	}

	err := s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Update(txCtx, *order, expected); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		order.Version = expected
		return err
	}
	return nil
}

// settleCompletion releases held escrow funds after a completion
// commits. A release failure is logged for reconciliation; the
// completion itself stands.
func (s *orderService) settleCompletion(ctx context.Context, order Order) Order {
	if order.Payment == nil || order.Payment.Method != domain.PaymentMethodEscrow {
		return order
	}
	if s.settlement == nil {
		s.logger(ctx, "order.escrow.release.skipped", map[string]any{
			"orderId": order.ID,
		})
		return order
	}

	released, err := s.settlement.ReleaseEscrow(ctx, order.ID)
	if err != nil {
		s.logger(ctx, "order.escrow.release.failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return order
	}
	return released
}

func (s *orderService) loadOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) arm(ctx context.Context, transition domain.ScheduledTransition) {
	if err := s.transitions.Upsert(ctx, transition); err != nil {
		s.logger(ctx, "order.schedule.arm.failed", map[string]any{
			"orderId":  transition.OrderID,
			"toStatus": string(transition.ToStatus),
			"error":    err.Error(),
		})
	}
}

func (s *orderService) disarm(ctx context.Context, orderID string) {
	if err := s.transitions.DeleteByOrder(ctx, orderID); err != nil {
		s.logger(ctx, "order.schedule.disarm.failed", map[string]any{
			"orderId": orderID,
			"error":   err.Error(),
		})
	}
}

func (s *orderService) notify(ctx context.Context, order Order, status domain.OrderStatus) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyTransition(ctx, &order, status); err != nil {
		s.logger(ctx, "order.notify.failed", map[string]any{
			"orderId": order.ID,
			"status":  string(status),
			"error":   err.Error(),
		})
	}
}

func (s *orderService) mapRepositoryError(err error) error {
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
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *orderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, "orders", 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("FM-%04d-%06d", now.Year(), seq), nil
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

func (s *orderService) nextTransitionID() string {
	return transitionIDPrefix + s.newID()
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func sanitizeText(value string) string {
	return strings.TrimSpace(freeTextPolicy.Sanitize(value))
}

func cloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	return maps.Clone(src)
}

func valuePtr[T any](v T) *T {
	return &v
}
