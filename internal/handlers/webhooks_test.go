package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/fernmarket/api/internal/domain"
	"github.com/fernmarket/api/internal/platform/auth"
	"github.com/fernmarket/api/internal/services"
	"github.com/fernmarket/api/internal/shipping"
)

func newWebhookRouter(orders services.OrderService, opts ...WebhookOption) http.Handler {
	opts = append([]WebhookOption{WithWebhookClock(func() time.Time { return handlerNow })}, opts...)
	webhooks := NewWebhookHandlers(orders, shipping.DefaultRegistry(), opts...)
	return NewRouter(WithWebhookRoutes(webhooks.Routes))
}

func TestCarrierWebhookEndpoint(t *testing.T) {
	var captured services.DeliveryUpdateCommand
	orders := &stubOrderService{
		deliveryFn: func(_ context.Context, cmd services.DeliveryUpdateCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder()
			order.Status = domain.OrderStatusInTransit
			order.Version = 5
			return order, nil
		},
	}
	router := newWebhookRouter(orders)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/webhooks/carriers/NZPost", "", map[string]any{
		"order_id":    "ord_01ABC",
		"event":       "in_transit",
		"description": "Parcel accepted at Auckland depot",
		"location":    "Auckland",
		"occurred_at": "2025-03-14T08:00:00Z",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if captured.OrderID != "ord_01ABC" || captured.Event != domain.DeliveryEventInTransit {
		t.Fatalf("command %+v", captured)
	}
	if captured.Source != "nzpost" {
		t.Fatalf("source %q", captured.Source)
	}
	if !captured.OccurredAt.Equal(time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("occurred at %v", captured.OccurredAt)
	}

	var resp carrierEventResponse
	decodeBody(t, rec, &resp)
	if resp.Status != "in_transit" || resp.Version != 5 {
		t.Fatalf("payload %+v", resp)
	}
}

func TestCarrierWebhookDefaultsOccurredAt(t *testing.T) {
	var captured services.DeliveryUpdateCommand
	orders := &stubOrderService{
		deliveryFn: func(_ context.Context, cmd services.DeliveryUpdateCommand) (services.Order, error) {
			captured = cmd
			return sampleOrder(), nil
		},
	}
	router := newWebhookRouter(orders)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/webhooks/carriers/nzpost", "", map[string]any{
		"order_id": "ord_01ABC",
		"event":    "delivered",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if !captured.OccurredAt.Equal(handlerNow) {
		t.Fatalf("occurred at %v, want clock time", captured.OccurredAt)
	}
}

func TestCarrierWebhookUnknownCarrier(t *testing.T) {
	router := newWebhookRouter(&stubOrderService{})

	rec := doJSON(t, router, http.MethodPost, "/api/v1/webhooks/carriers/pigeon", "", map[string]any{
		"order_id": "ord_01ABC",
		"event":    "in_transit",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestCarrierWebhookRejectsBadTimestamp(t *testing.T) {
	router := newWebhookRouter(&stubOrderService{})

	rec := doJSON(t, router, http.MethodPost, "/api/v1/webhooks/carriers/nzpost", "", map[string]any{
		"order_id":    "ord_01ABC",
		"event":       "in_transit",
		"occurred_at": "last tuesday",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestCarrierWebhookRequiresOrderID(t *testing.T) {
	router := newWebhookRouter(&stubOrderService{})

	rec := doJSON(t, router, http.MethodPost, "/api/v1/webhooks/carriers/nzpost", "", map[string]any{
		"event": "in_transit",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestCarrierWebhookRateLimited(t *testing.T) {
	orders := &stubOrderService{
		deliveryFn: func(context.Context, services.DeliveryUpdateCommand) (services.Order, error) {
			return sampleOrder(), nil
		},
	}
	limiter := newFixedWindowLimiter(2, time.Minute, func() time.Time { return handlerNow })
	router := newWebhookRouter(orders, WithWebhookRateLimiter(limiter))

	body := map[string]any{"order_id": "ord_01ABC", "event": "in_transit"}
	for i := 0; i < 2; i++ {
		if rec := doJSON(t, router, http.MethodPost, "/api/v1/webhooks/carriers/nzpost", "", body); rec.Code != http.StatusOK {
			t.Fatalf("delivery %d status %d", i, rec.Code)
		}
	}

	rec := doJSON(t, router, http.MethodPost, "/api/v1/webhooks/carriers/nzpost", "", body)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status %d", rec.Code)
	}

	// A different carrier gets its own budget.
	if rec := doJSON(t, router, http.MethodPost, "/api/v1/webhooks/carriers/dhl", "", body); rec.Code != http.StatusOK {
		t.Fatalf("status %d for unrelated carrier", rec.Code)
	}
}

func TestCarrierWebhookBehindHMAC(t *testing.T) {
	secrets := map[string]string{"nzpost": "s3cret"}
	validator := auth.NewHMACValidator(
		func(key string) (string, bool) {
			secret, ok := secrets[key]
			return secret, ok
		},
		auth.WithHMACClock(func() time.Time { return handlerNow }),
	)

	delivered := false
	orders := &stubOrderService{
		deliveryFn: func(context.Context, services.DeliveryUpdateCommand) (services.Order, error) {
			delivered = true
			return sampleOrder(), nil
		},
	}
	webhooks := NewWebhookHandlers(orders, shipping.DefaultRegistry(), WithWebhookClock(func() time.Time { return handlerNow }))
	router := NewRouter(
		WithWebhookRoutes(webhooks.Routes),
		WithWebhookMiddlewares(validator.RequireHMAC(CarrierFromPath)),
	)

	body, err := json.Marshal(map[string]any{"order_id": "ord_01ABC", "event": "delivered"})
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}

	path := "/api/v1/webhooks/carriers/nzpost"
	timestamp := handlerNow.Format(time.RFC3339)

	send := func(signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Signature-Timestamp", timestamp)
		if signature != "" {
			req.Header.Set("X-Signature", signature)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	if rec := send(""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned request status %d", rec.Code)
	}
	if delivered {
		t.Fatal("unsigned request must not reach the handler")
	}

	signature := auth.SignRequest("s3cret", http.MethodPost, path, timestamp, body)
	if rec := send(signature); rec.Code != http.StatusOK {
		t.Fatalf("signed request status %d: %s", rec.Code, rec.Body.String())
	}
	if !delivered {
		t.Fatal("signed request did not reach the handler")
	}
}
