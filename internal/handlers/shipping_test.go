package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fernmarket/api/internal/shipping"
)

func newShippingRouter() http.Handler {
	return NewRouter(WithShippingRoutes(NewShippingHandlers(shipping.DefaultRegistry()).Routes))
}

func TestShippingQuoteEndpoint(t *testing.T) {
	router := newShippingRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/shipping/quote?method=courier&weight_kg=2.4&distance_km=120&rural=true", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}

	var resp shippingQuoteResponse
	decodeBody(t, rec, &resp)
	if resp.Method != "courier" || resp.Currency != "NZD" {
		t.Fatalf("payload %+v", resp)
	}
	// 899 base + 2 extra kg + 70 km beyond metro + rural.
	want := int64(899 + 2*150 + 70*12 + 450)
	if resp.Cost != want {
		t.Fatalf("cost %d, want %d", resp.Cost, want)
	}
}

func TestShippingQuotePickupIsFree(t *testing.T) {
	router := newShippingRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/shipping/quote?method=pickup&weight_kg=12", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}

	var resp shippingQuoteResponse
	decodeBody(t, rec, &resp)
	if resp.Cost != 0 {
		t.Fatalf("cost %d", resp.Cost)
	}
}

func TestShippingQuoteRejectsBadInput(t *testing.T) {
	router := newShippingRouter()

	cases := []string{
		"/api/v1/shipping/quote?method=drone",
		"/api/v1/shipping/quote?method=post&weight_kg=heavy",
		"/api/v1/shipping/quote?method=post&weight_kg=-1",
		"/api/v1/shipping/quote?method=post&rural=sometimes",
	}
	for _, target := range cases {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status %d", target, rec.Code)
		}

		var resp map[string]any
		decodeBody(t, rec, &resp)
		if resp["error"] != "invalid_request" {
			t.Fatalf("%s: error code %v", target, resp["error"])
		}
	}
}

func TestShippingCarriersEndpoint(t *testing.T) {
	router := newShippingRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/shipping/carriers", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}

	var resp carrierListResponse
	decodeBody(t, rec, &resp)
	if len(resp.Items) != 4 {
		t.Fatalf("carrier count %d", len(resp.Items))
	}
	if resp.Items[0].ID != "aramex" {
		t.Fatalf("expected id ordering, got %q first", resp.Items[0].ID)
	}
	for _, item := range resp.Items {
		if item.DisplayName == "" || item.TransitDays <= 0 {
			t.Fatalf("carrier %+v", item)
		}
	}
}
