package domain

// orderTransitions lists the allowed successor statuses for each state.
// Carrier milestones may skip forward (a parcel can be scanned delivered
// without an out_for_delivery scan) so shipment states allow skips.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPendingPayment:    {OrderStatusPaymentProcessing, OrderStatusCancelled, OrderStatusDisputed},
	OrderStatusPaymentProcessing: {OrderStatusPaid, OrderStatusCancelled, OrderStatusDisputed},
	OrderStatusPaid:              {OrderStatusConfirmed, OrderStatusCancelled, OrderStatusDisputed},
	OrderStatusConfirmed:         {OrderStatusPreparing, OrderStatusCancelled, OrderStatusDisputed},
	OrderStatusPreparing:         {OrderStatusShipped, OrderStatusDisputed},
	OrderStatusShipped:           {OrderStatusInTransit, OrderStatusOutForDelivery, OrderStatusDelivered, OrderStatusDisputed},
	OrderStatusInTransit:         {OrderStatusOutForDelivery, OrderStatusDelivered, OrderStatusDisputed},
	OrderStatusOutForDelivery:    {OrderStatusDelivered, OrderStatusDisputed},
	OrderStatusDelivered:         {OrderStatusCompleted, OrderStatusDisputed},
	OrderStatusDisputed:          {OrderStatusRefunded, OrderStatusCompleted, OrderStatusCancelled},
	OrderStatusCancelled:         {OrderStatusRefunded},
	OrderStatusCompleted:         {},
	OrderStatusRefunded:          {},
}

// cancellableStatuses are the states a caller may cancel from. Once the
// seller starts preparing, cancellation gives way to disputes; the
// payment_processing auto-cancel on failure is an engine-internal path.
var cancellableStatuses = []OrderStatus{
	OrderStatusPendingPayment,
	OrderStatusPaid,
	OrderStatusConfirmed,
}

var terminalStatuses = []OrderStatus{
	OrderStatusCompleted,
	OrderStatusCancelled,
	OrderStatusRefunded,
}

// deliveryEventStatuses maps carrier milestones onto order statuses.
var deliveryEventStatuses = map[DeliveryEvent]OrderStatus{
	DeliveryEventInTransit:      OrderStatusInTransit,
	DeliveryEventOutForDelivery: OrderStatusOutForDelivery,
	DeliveryEventDelivered:      OrderStatusDelivered,
}

// ValidOrderStatus reports whether the value is a known lifecycle state.
func ValidOrderStatus(status OrderStatus) bool {
	_, ok := orderTransitions[status]
	return ok
}

// CanTransition reports whether the lifecycle permits moving from one
// status to another.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStatuses returns the allowed successor statuses for a state.
func NextStatuses(from OrderStatus) []OrderStatus {
	next := orderTransitions[from]
	out := make([]OrderStatus, len(next))
	copy(out, next)
	return out
}

// IsTerminal reports whether the status ends the lifecycle.
func IsTerminal(status OrderStatus) bool {
	for _, terminal := range terminalStatuses {
		if status == terminal {
			return true
		}
	}
	return false
}

// IsCancellable reports whether an order in the status may still be
// cancelled rather than disputed.
func IsCancellable(status OrderStatus) bool {
	for _, cancellable := range cancellableStatuses {
		if status == cancellable {
			return true
		}
	}
	return false
}

// IsDisputable reports whether a dispute may be opened from the status.
func IsDisputable(status OrderStatus) bool {
	return ValidOrderStatus(status) && !IsTerminal(status) && status != OrderStatusDisputed
}

// StatusForDeliveryEvent resolves a carrier milestone to the order
// status it implies. ok is false for unknown events.
func StatusForDeliveryEvent(event DeliveryEvent) (OrderStatus, bool) {
	status, ok := deliveryEventStatuses[event]
	return status, ok
}

// ValidPaymentMethod reports whether the value is a supported instrument.
func ValidPaymentMethod(method PaymentMethod) bool {
	switch method {
	case PaymentMethodCard, PaymentMethodBankTransfer, PaymentMethodInstallments, PaymentMethodEscrow:
		return true
	}
	return false
}

// ValidDisputeReason reports whether the value is a known dispute reason.
func ValidDisputeReason(reason DisputeReason) bool {
	switch reason {
	case DisputeReasonNotReceived, DisputeReasonNotAsDescribed, DisputeReasonDamaged, DisputeReasonPayment, DisputeReasonOther:
		return true
	}
	return false
}

// StatusMessage returns the human-facing message recorded on the
// timeline for each status. The switch is exhaustive on purpose: adding
// a status without a message is a gap reviewers should see here.
func StatusMessage(status OrderStatus) string {
	switch status {
	case OrderStatusPendingPayment:
		return "Order placed, awaiting payment"
	case OrderStatusPaymentProcessing:
		return "Payment is being processed"
	case OrderStatusPaid:
		return "Payment received, awaiting seller confirmation"
	case OrderStatusConfirmed:
		return "Seller confirmed the order"
	case OrderStatusPreparing:
		return "Seller is preparing your order"
	case OrderStatusShipped:
		return "Order shipped"
	case OrderStatusInTransit:
		return "Parcel is in transit"
	case OrderStatusOutForDelivery:
		return "Parcel is out for delivery"
	case OrderStatusDelivered:
		return "Parcel delivered"
	case OrderStatusCompleted:
		return "Order completed"
	case OrderStatusCancelled:
		return "Order cancelled"
	case OrderStatusRefunded:
		return "Order refunded"
	case OrderStatusDisputed:
		return "Order is under dispute"
	}
	return "Order status updated"
}
