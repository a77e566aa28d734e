package services

import (
	"context"
	"time"

	domain "github.com/fernmarket/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination          = domain.Pagination
	Order               = domain.Order
	OrderStatus         = domain.OrderStatus
	ItemSnapshot        = domain.ItemSnapshot
	TimelineEntry       = domain.TimelineEntry
	ShippingInfo        = domain.ShippingInfo
	CarrierUpdate       = domain.CarrierUpdate
	Dispute             = domain.Dispute
	DisputeStatus       = domain.DisputeStatus
	ScheduledTransition = domain.ScheduledTransition
	SystemHealthReport  = domain.SystemHealthReport
)

// OrderService drives the order lifecycle from creation to settlement.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	ProcessPayment(ctx context.Context, cmd ProcessPaymentCommand) (Order, error)
	ConfirmOrder(ctx context.Context, cmd ConfirmOrderCommand) (Order, error)
	AddShippingDetails(ctx context.Context, cmd AddShippingCommand) (Order, error)
	UpdateDeliveryStatus(ctx context.Context, cmd DeliveryUpdateCommand) (Order, error)
	CompleteOrder(ctx context.Context, cmd CompleteOrderCommand) (Order, error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	ListUserOrders(ctx context.Context, query UserOrdersQuery) (domain.CursorPage[Order], error)
	// WatchOrder streams the order to the handler on every committed
	// change until the context ends.
	WatchOrder(ctx context.Context, orderID string, handle func(ctx context.Context, order Order) error) error
	// ApplyScheduledTransition fires a durable deferred transition. It
	// re-validates the order first; invoked by the scheduler worker.
	ApplyScheduledTransition(ctx context.Context, transition ScheduledTransition) error
}

// DisputeService opens and resolves disputes against orders.
type DisputeService interface {
	OpenDispute(ctx context.Context, cmd OpenDisputeCommand) (Dispute, error)
	ResolveDispute(ctx context.Context, cmd ResolveDisputeCommand) (Dispute, error)
	GetDispute(ctx context.Context, disputeID string) (Dispute, error)
}

// SettlementService moves money after terminal decisions: refunds for
// cancellations and dispute outcomes, escrow release on completion.
type SettlementService interface {
	// ProcessRefund refunds the order's payment. Safe to retry; a second
	// call after a settled refund is a no-op.
	ProcessRefund(ctx context.Context, cmd RefundCommand) (Order, error)
	// ReleaseEscrow releases held escrow funds to the seller exactly once.
	ReleaseEscrow(ctx context.Context, orderID string) (Order, error)
}

// SystemService exposes operational metadata for health endpoints.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// CreateOrderCommand captures the listing snapshot and parties for a new order.
type CreateOrderCommand struct {
	BuyerID  string
	SellerID string
	Item     ItemSnapshot
	Metadata map[string]any
	ActorID  string
}

// ProcessPaymentCommand initiates payment collection for a pending order.
type ProcessPaymentCommand struct {
	OrderID string
	Method  domain.PaymentMethod
	ActorID string
}

// ConfirmOrderCommand records the seller accepting the order. PrepTime
// overrides the default delay before the order moves to preparing.
type ConfirmOrderCommand struct {
	OrderID           string
	ActorID           string
	EstimatedDelivery *time.Time
	PrepTime          *time.Duration
	Notes             string
}

// AddShippingCommand records the seller handing the parcel to a carrier.
// A caller-supplied EstimatedDelivery wins over the carrier transit estimate.
type AddShippingCommand struct {
	OrderID           string
	Carrier           string
	TrackingNumber    string
	EstimatedDelivery *time.Time
	Address           string
	ActorID           string
}

// DeliveryUpdateCommand carries a carrier-reported shipment milestone.
type DeliveryUpdateCommand struct {
	OrderID     string
	Event       domain.DeliveryEvent
	Description string
	Location    string
	OccurredAt  time.Time
	// Source identifies the reporting carrier for the audit trail.
	Source string
}

// CompleteOrderCommand records the buyer confirming receipt.
type CompleteOrderCommand struct {
	OrderID  string
	ActorID  string
	Feedback string
	Rating   *int
}

// CancelOrderCommand cancels an order before fulfilment starts.
type CancelOrderCommand struct {
	OrderID string
	ActorID string
	Reason  string
	Notes   string
}

// UserOrdersQuery filters a user's order listing.
type UserOrdersQuery struct {
	UserID     string
	Role       string
	Status     []string
	Pagination Pagination
}

// OpenDisputeCommand opens a dispute against an order.
type OpenDisputeCommand struct {
	OrderID     string
	Reason      domain.DisputeReason
	Description string
	Evidence    []string
	ActorID     string
}

// ResolveDisputeCommand closes a dispute with a moderation outcome.
type ResolveDisputeCommand struct {
	DisputeID string
	Outcome   DisputeStatus
	Notes     string
	ActorID   string
}

// RefundCommand asks settlement to refund an order's payment.
type RefundCommand struct {
	OrderID string
	Reason  string
	ActorID string
}
