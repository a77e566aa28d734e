package domain

import (
	"errors"
	"testing"
)

func TestEstimateShippingCost(t *testing.T) {
	cases := []struct {
		name     string
		method   ShippingMethod
		weightKg float64
		distance float64
		rural    bool
		want     int64
	}{
		{name: "pickup is free", method: ShippingMethodPickup, weightKg: 12, distance: 300, rural: true, want: 0},
		{name: "post base", method: ShippingMethodPost, weightKg: 0.5, distance: 10, want: 650},
		{name: "courier base", method: ShippingMethodCourier, weightKg: 1, distance: 50, want: 899},
		{name: "freight base", method: ShippingMethodFreight, weightKg: 1, distance: 10, want: 2500},
		{name: "weight surcharge per started kg", method: ShippingMethodPost, weightKg: 2.3, distance: 10, want: 650 + 2*150},
		{name: "courier distance surcharge", method: ShippingMethodCourier, weightKg: 1, distance: 120, want: 899 + 70*12},
		{name: "distance ignored for post", method: ShippingMethodPost, weightKg: 1, distance: 500, want: 650},
		{name: "rural surcharge", method: ShippingMethodPost, weightKg: 1, distance: 10, rural: true, want: 650 + 450},
		{name: "fractional distance rounds half up", method: ShippingMethodCourier, weightKg: 1, distance: 50.5, want: 899 + 6},
		{name: "everything combined", method: ShippingMethodCourier, weightKg: 3, distance: 100, rural: true, want: 899 + 2*150 + 50*12 + 450},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := EstimateShippingCost(tc.method, tc.weightKg, tc.distance, tc.rural)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("EstimateShippingCost = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestEstimateShippingCostInvalidInput(t *testing.T) {
	cases := []struct {
		name     string
		method   ShippingMethod
		weightKg float64
		distance float64
	}{
		{name: "negative weight", method: ShippingMethodPost, weightKg: -1, distance: 10},
		{name: "negative distance", method: ShippingMethodCourier, weightKg: 1, distance: -5},
		{name: "unknown method", method: ShippingMethod("drone"), weightKg: 1, distance: 10},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := EstimateShippingCost(tc.method, tc.weightKg, tc.distance, false); !errors.Is(err, ErrInvalidShippingInput) {
				t.Fatalf("expected ErrInvalidShippingInput, got %v", err)
			}
		})
	}
}
