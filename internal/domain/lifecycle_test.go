package domain

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		name string
		from OrderStatus
		to   OrderStatus
		want bool
	}{
		{name: "pending to processing", from: OrderStatusPendingPayment, to: OrderStatusPaymentProcessing, want: true},
		{name: "processing to paid", from: OrderStatusPaymentProcessing, to: OrderStatusPaid, want: true},
		{name: "paid to confirmed", from: OrderStatusPaid, to: OrderStatusConfirmed, want: true},
		{name: "confirmed to preparing", from: OrderStatusConfirmed, to: OrderStatusPreparing, want: true},
		{name: "preparing to shipped", from: OrderStatusPreparing, to: OrderStatusShipped, want: true},
		{name: "shipped skips to delivered", from: OrderStatusShipped, to: OrderStatusDelivered, want: true},
		{name: "delivered to completed", from: OrderStatusDelivered, to: OrderStatusCompleted, want: true},
		{name: "delivered to disputed", from: OrderStatusDelivered, to: OrderStatusDisputed, want: true},
		{name: "cancelled to refunded", from: OrderStatusCancelled, to: OrderStatusRefunded, want: true},
		{name: "no skipping payment", from: OrderStatusPendingPayment, to: OrderStatusPaid, want: false},
		{name: "no backward move", from: OrderStatusShipped, to: OrderStatusPreparing, want: false},
		{name: "completed is terminal", from: OrderStatusCompleted, to: OrderStatusDisputed, want: false},
		{name: "refunded is terminal", from: OrderStatusRefunded, to: OrderStatusCompleted, want: false},
		{name: "preparing cannot cancel", from: OrderStatusPreparing, to: OrderStatusCancelled, want: false},
		{name: "unknown status", from: OrderStatus("archived"), to: OrderStatusCompleted, want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanTransition(tc.from, tc.to); got != tc.want {
				t.Fatalf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
			}
		})
	}
}

func TestIsCancellable(t *testing.T) {
	for _, status := range []OrderStatus{OrderStatusPendingPayment, OrderStatusPaid, OrderStatusConfirmed} {
		if !IsCancellable(status) {
			t.Fatalf("expected %s to be cancellable", status)
		}
	}
	for _, status := range []OrderStatus{OrderStatusPreparing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCompleted, OrderStatusCancelled} {
		if IsCancellable(status) {
			t.Fatalf("expected %s to not be cancellable", status)
		}
	}
}

func TestIsDisputable(t *testing.T) {
	if !IsDisputable(OrderStatusDelivered) {
		t.Fatal("expected delivered order to be disputable")
	}
	if !IsDisputable(OrderStatusPendingPayment) {
		t.Fatal("expected pending order to be disputable")
	}
	for _, status := range []OrderStatus{OrderStatusCompleted, OrderStatusCancelled, OrderStatusRefunded, OrderStatusDisputed} {
		if IsDisputable(status) {
			t.Fatalf("expected %s to not be disputable", status)
		}
	}
}

func TestStatusForDeliveryEvent(t *testing.T) {
	cases := map[DeliveryEvent]OrderStatus{
		DeliveryEventInTransit:      OrderStatusInTransit,
		DeliveryEventOutForDelivery: OrderStatusOutForDelivery,
		DeliveryEventDelivered:      OrderStatusDelivered,
	}
	for event, want := range cases {
		got, ok := StatusForDeliveryEvent(event)
		if !ok || got != want {
			t.Fatalf("StatusForDeliveryEvent(%s) = %s, %v; want %s", event, got, ok, want)
		}
	}
	if _, ok := StatusForDeliveryEvent(DeliveryEvent("returned")); ok {
		t.Fatal("expected unknown event to be rejected")
	}
}

func TestStatusMessageCoversEveryStatus(t *testing.T) {
	for status := range orderTransitions {
		if msg := StatusMessage(status); msg == "" || msg == "Order status updated" {
			t.Fatalf("missing status message for %s", status)
		}
	}
}
