package domain

import (
	"errors"
	"math"
)

// ShippingMethod enumerates the delivery options priced by the estimator.
type ShippingMethod string

const (
	// ShippingMethodPickup is a buyer pickup, always free.
	ShippingMethodPickup ShippingMethod = "pickup"
	// ShippingMethodCourier is a door-to-door courier delivery.
	ShippingMethodCourier ShippingMethod = "courier"
	// ShippingMethodPost is a standard postal delivery.
	ShippingMethodPost ShippingMethod = "post"
	// ShippingMethodFreight is a bulky-item freight delivery.
	ShippingMethodFreight ShippingMethod = "freight"
)

// ErrInvalidShippingInput flags negative or unrecognised estimator inputs.
var ErrInvalidShippingInput = errors.New("shipping: invalid estimate input")

// Shipping rates in cents, NZD.
const (
	courierBaseCents = 899
	postBaseCents    = 650
	freightBaseCents = 2500

	// Weight above 1 kg is surcharged per started kilogram.
	includedWeightKg    = 1.0
	perExtraKgCents     = 150
	ruralSurchargeCents = 450

	// Courier trips beyond the metro radius pay a per-km surcharge.
	courierFreeDistanceKm = 50.0
	courierPerKmCents     = 12
)

// EstimateShippingCost prices a delivery from method, parcel weight and
// trip distance. The result is in cents and rounded half up. The
// function is pure; the only failure mode is invalid input.
func EstimateShippingCost(method ShippingMethod, weightKg, distanceKm float64, rural bool) (int64, error) {
	if weightKg < 0 || distanceKm < 0 {
		return 0, ErrInvalidShippingInput
	}

	var base float64
	switch method {
	case ShippingMethodPickup:
		return 0, nil
	case ShippingMethodCourier:
		base = courierBaseCents
	case ShippingMethodPost:
		base = postBaseCents
	case ShippingMethodFreight:
		base = freightBaseCents
	default:
		return 0, ErrInvalidShippingInput
	}

	cost := base
	if weightKg > includedWeightKg {
		cost += math.Ceil(weightKg-includedWeightKg) * perExtraKgCents
	}
	if method == ShippingMethodCourier && distanceKm > courierFreeDistanceKm {
		cost += (distanceKm - courierFreeDistanceKm) * courierPerKmCents
	}
	if rural {
		cost += ruralSurchargeCents
	}

	return int64(math.Floor(cost + 0.5)), nil
}
