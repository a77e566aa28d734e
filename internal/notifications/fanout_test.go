package notifications

import (
	"context"
	"errors"
	"testing"

	"github.com/fernmarket/api/internal/domain"
)

type recordingDispatcher struct {
	sent []Notification
	err  error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, notification Notification) error {
	d.sent = append(d.sent, notification)
	return d.err
}

func testOrder() *domain.Order {
	return &domain.Order{
		ID:          "ord_01",
		OrderNumber: "FM-2026-000042",
		BuyerID:     "user_buyer",
		SellerID:    "user_seller",
	}
}

func TestNotifyTransitionRecipients(t *testing.T) {
	cases := []struct {
		status domain.OrderStatus
		want   []string
	}{
		{status: domain.OrderStatusPendingPayment, want: []string{"user_seller"}},
		{status: domain.OrderStatusPaid, want: []string{"user_seller"}},
		{status: domain.OrderStatusDisputed, want: []string{"user_seller"}},
		{status: domain.OrderStatusConfirmed, want: []string{"user_buyer"}},
		{status: domain.OrderStatusShipped, want: []string{"user_buyer"}},
		{status: domain.OrderStatusDelivered, want: []string{"user_buyer"}},
		{status: domain.OrderStatusCompleted, want: []string{"user_buyer", "user_seller"}},
		{status: domain.OrderStatusCancelled, want: []string{"user_buyer", "user_seller"}},
		{status: domain.OrderStatusRefunded, want: []string{"user_buyer", "user_seller"}},
	}

	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			dispatcher := &recordingDispatcher{}
			fanout := NewFanout(dispatcher)

			if err := fanout.NotifyTransition(context.Background(), testOrder(), tc.status); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(dispatcher.sent) != len(tc.want) {
				t.Fatalf("expected %d notifications, got %d", len(tc.want), len(dispatcher.sent))
			}
			for i, recipient := range tc.want {
				if dispatcher.sent[i].UserID != recipient {
					t.Fatalf("notification %d sent to %s, want %s", i, dispatcher.sent[i].UserID, recipient)
				}
			}
		})
	}
}

func TestNotifyTransitionComposesMessage(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	fanout := NewFanout(dispatcher)

	if err := fanout.NotifyTransition(context.Background(), testOrder(), domain.OrderStatusShipped); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sent := dispatcher.sent[0]
	if sent.Type != "order_shipped" {
		t.Fatalf("unexpected type: %s", sent.Type)
	}
	if sent.Body != domain.StatusMessage(domain.OrderStatusShipped) {
		t.Fatalf("unexpected body: %s", sent.Body)
	}
	if sent.Payload["orderId"] != "ord_01" {
		t.Fatalf("unexpected payload: %#v", sent.Payload)
	}
}

func TestNotifyTransitionReturnsDispatchError(t *testing.T) {
	dispatcher := &recordingDispatcher{err: errors.New("broker down")}
	fanout := NewFanout(dispatcher)

	err := fanout.NotifyTransition(context.Background(), testOrder(), domain.OrderStatusCompleted)
	if err == nil {
		t.Fatal("expected error to surface for logging")
	}
	if len(dispatcher.sent) != 2 {
		t.Fatalf("dispatch should still attempt every recipient, got %d", len(dispatcher.sent))
	}
}
