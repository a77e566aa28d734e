package domain

import (
	"time"
)

// Pagination carries cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with the token for the next page.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// OrderStatus enumerates the lifecycle states of an order.
type OrderStatus string

const (
	// OrderStatusPendingPayment indicates the order awaits payment.
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	// OrderStatusPaymentProcessing indicates a payment attempt is in flight.
	OrderStatusPaymentProcessing OrderStatus = "payment_processing"
	// OrderStatusPaid indicates payment succeeded and the seller can confirm.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusConfirmed indicates the seller accepted the order.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusPreparing indicates the seller is preparing the shipment.
	OrderStatusPreparing OrderStatus = "preparing"
	// OrderStatusShipped indicates the order was handed to a carrier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusInTransit indicates the carrier reports the parcel moving.
	OrderStatusInTransit OrderStatus = "in_transit"
	// OrderStatusOutForDelivery indicates the parcel is on its final leg.
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	// OrderStatusDelivered indicates the carrier reported delivery.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCompleted indicates the buyer confirmed receipt or the
	// grace period lapsed. Terminal.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCancelled indicates the order was cancelled before shipment. Terminal.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded indicates a refund settled the order. Terminal.
	OrderStatusRefunded OrderStatus = "refunded"
	// OrderStatusDisputed indicates a dispute suspended the normal flow.
	OrderStatusDisputed OrderStatus = "disputed"
)

// PaymentMethod enumerates the supported payment instruments.
type PaymentMethod string

const (
	// PaymentMethodCard captures a card payment immediately.
	PaymentMethodCard PaymentMethod = "card"
	// PaymentMethodBankTransfer settles through a bank transfer.
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	// PaymentMethodInstallments settles through a deferred installment plan.
	PaymentMethodInstallments PaymentMethod = "installments"
	// PaymentMethodEscrow holds funds until the order completes.
	PaymentMethodEscrow PaymentMethod = "escrow"
)

// DeliveryEvent enumerates carrier-reported shipment milestones.
type DeliveryEvent string

const (
	// DeliveryEventInTransit reports the parcel moving through the carrier network.
	DeliveryEventInTransit DeliveryEvent = "in_transit"
	// DeliveryEventOutForDelivery reports the parcel on its final delivery leg.
	DeliveryEventOutForDelivery DeliveryEvent = "out_for_delivery"
	// DeliveryEventDelivered reports successful delivery.
	DeliveryEventDelivered DeliveryEvent = "delivered"
)

// Order is the aggregate record of a single buyer/seller transaction.
type Order struct {
	ID          string
	OrderNumber string
	BuyerID     string
	SellerID    string
	Item        ItemSnapshot
	Status      OrderStatus
	// Version increases by exactly one per committed mutation and backs
	// the optimistic conflict check on every write.
	Version      int64
	Timeline     []TimelineEntry
	Payment      *PaymentDetails
	Confirmation *ConfirmationRecord
	Shipping     *ShippingInfo
	DisputeID    *string
	Cancellation *CancellationRecord
	Completion   *CompletionRecord
	Audit        OrderAudit
	Metadata     map[string]any
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ItemSnapshot freezes the listing at order creation so later listing
// edits never alter a placed order.
type ItemSnapshot struct {
	ListingID string
	Title     string
	// UnitPrice and Total are in the smallest currency unit.
	UnitPrice int64
	Quantity  int
	Total     int64
	Currency  string
	WeightKg  float64
}

// TimelineEntry is one immutable line of the order's audit timeline.
type TimelineEntry struct {
	Status     OrderStatus
	Message    string
	ActorID    string
	OccurredAt time.Time
	Extra      map[string]any
}

// PaymentDetails is recorded when payment succeeds and only annotated
// afterwards by refund and escrow settlement.
type PaymentDetails struct {
	Method        PaymentMethod
	TransactionID string
	Amount        int64
	Currency      string
	PaidAt        time.Time
	RefundedAt    *time.Time
	RefundRef     *string
	// RefundPending marks a failed refund awaiting manual reconciliation.
	RefundPending    bool
	EscrowReleasedAt *time.Time
}

// ConfirmationRecord captures what the seller promised when accepting
// the order.
type ConfirmationRecord struct {
	EstimatedDelivery *time.Time
	Notes             string
	ActorID           string
	ConfirmedAt       time.Time
}

// ShippingInfo is recorded when the order ships.
type ShippingInfo struct {
	Carrier           string
	CarrierName       string
	TrackingNumber    string
	TrackingURL       string
	Address           string
	ShippedAt         time.Time
	EstimatedDelivery *time.Time
	DeliveredAt       *time.Time
	// Updates is append-only; carrier events are never rewritten.
	Updates []CarrierUpdate
}

// CarrierUpdate preserves a raw carrier-reported event.
type CarrierUpdate struct {
	Event       DeliveryEvent
	Description string
	Location    string
	OccurredAt  time.Time
}

// CancellationRecord captures terminal cancellation metadata.
type CancellationRecord struct {
	Reason      string
	ActorID     string
	Notes       string
	CancelledAt time.Time
}

// CompletionRecord captures terminal completion metadata.
type CompletionRecord struct {
	ActorID       string
	Feedback      string
	Rating        *int
	AutoCompleted bool
	CompletedAt   time.Time
}

// OrderAudit records the actors responsible for creating and last
// updating the order document.
type OrderAudit struct {
	CreatedBy *string
	UpdatedBy *string
}

// DisputeReason enumerates why a dispute may be opened.
type DisputeReason string

const (
	// DisputeReasonNotReceived indicates the buyer never received the item.
	DisputeReasonNotReceived DisputeReason = "item_not_received"
	// DisputeReasonNotAsDescribed indicates the item differs from the listing.
	DisputeReasonNotAsDescribed DisputeReason = "item_not_as_described"
	// DisputeReasonDamaged indicates the item arrived damaged.
	DisputeReasonDamaged DisputeReason = "item_damaged"
	// DisputeReasonPayment indicates a payment or billing disagreement.
	DisputeReasonPayment DisputeReason = "payment_issue"
	// DisputeReasonOther covers anything else, described in free text.
	DisputeReasonOther DisputeReason = "other"
)

// DisputeStatus enumerates the dispute lifecycle.
type DisputeStatus string

const (
	// DisputeStatusOpen indicates the dispute awaits moderation.
	DisputeStatusOpen DisputeStatus = "open"
	// DisputeStatusResolvedRefund indicates moderation settled with a refund.
	DisputeStatusResolvedRefund DisputeStatus = "resolved_refund"
	// DisputeStatusResolvedRelease indicates moderation released funds to the seller.
	DisputeStatusResolvedRelease DisputeStatus = "resolved_release"
	// DisputeStatusDismissed indicates moderation dismissed the dispute.
	DisputeStatusDismissed DisputeStatus = "dismissed"
)

// Dispute contests the outcome of an order and is handled outside the
// automatic transition flow.
type Dispute struct {
	ID          string
	OrderID     string
	Reason      DisputeReason
	Description string
	Evidence    []string
	OpenedBy    string
	Status      DisputeStatus
	Resolution  *DisputeResolution
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DisputeResolution is nil until moderation closes the dispute.
type DisputeResolution struct {
	Outcome    DisputeStatus
	Notes      string
	ResolvedBy string
	ResolvedAt time.Time
}

// ScheduledTransition is a durable deferred transition armed for an
// order. It survives restarts and is re-validated at fire time.
type ScheduledTransition struct {
	ID         string
	OrderID    string
	FromStatus OrderStatus
	ToStatus   OrderStatus
	// AutoComplete marks the grace-period completion job so the fired
	// transition records an auto-completed completion.
	AutoComplete bool
	DueAt        time.Time
	ArmedAt      time.Time
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of one dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
