package notifications

import (
	"context"

	"github.com/fernmarket/api/internal/domain"
)

// Fanout decides which parties hear about an order transition and
// composes the messages. Callers invoke it strictly after the owning
// transaction commits; failures are reported back for logging only.
type Fanout struct {
	dispatcher Dispatcher
}

// NewFanout constructs a Fanout over the given dispatcher.
func NewFanout(dispatcher Dispatcher) *Fanout {
	return &Fanout{dispatcher: dispatcher}
}

// NotifyTransition fans the committed transition out to the interested
// parties. It returns the first dispatch error for logging; partial
// delivery is acceptable.
func (f *Fanout) NotifyTransition(ctx context.Context, order *domain.Order, status domain.OrderStatus) error {
	if f == nil || f.dispatcher == nil || order == nil {
		return nil
	}

	var firstErr error
	for _, recipient := range recipientsFor(order, status) {
		notification := Notification{
			UserID: recipient,
			Type:   "order_" + string(status),
			Title:  "Order " + order.OrderNumber,
			Body:   domain.StatusMessage(status),
			Payload: map[string]string{
				"orderId": order.ID,
				"status":  string(status),
			},
		}
		if err := f.dispatcher.Dispatch(ctx, notification); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// recipientsFor encodes who cares about each transition: the seller
// hears about demand-side events, the buyer about fulfilment progress,
// and both about terminal settlements.
func recipientsFor(order *domain.Order, status domain.OrderStatus) []string {
	switch status {
	case domain.OrderStatusPendingPayment, domain.OrderStatusPaymentProcessing, domain.OrderStatusPaid, domain.OrderStatusDisputed:
		return []string{order.SellerID}
	case domain.OrderStatusConfirmed, domain.OrderStatusPreparing, domain.OrderStatusShipped,
		domain.OrderStatusInTransit, domain.OrderStatusOutForDelivery, domain.OrderStatusDelivered:
		return []string{order.BuyerID}
	case domain.OrderStatusCompleted, domain.OrderStatusCancelled, domain.OrderStatusRefunded:
		return []string{order.BuyerID, order.SellerID}
	}
	return nil
}
