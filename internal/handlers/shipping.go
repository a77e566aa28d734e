package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/fernmarket/api/internal/domain"
	"github.com/fernmarket/api/internal/platform/httpx"
	"github.com/fernmarket/api/internal/shipping"
)

// ShippingHandlers exposes the carrier table and the delivery cost quote.
type ShippingHandlers struct {
	carriers *shipping.Registry
}

// NewShippingHandlers constructs a new ShippingHandlers instance.
func NewShippingHandlers(carriers *shipping.Registry) *ShippingHandlers {
	return &ShippingHandlers{carriers: carriers}
}

// Routes registers the /shipping endpoints.
func (h *ShippingHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/carriers", h.listCarriers)
	r.Get("/quote", h.quote)
}

type carrierPayload struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	TransitDays int    `json:"transit_days"`
}

type carrierListResponse struct {
	Items []carrierPayload `json:"items"`
}

func (h *ShippingHandlers) listCarriers(w http.ResponseWriter, r *http.Request) {
	carriers := h.carriers.List()
	resp := carrierListResponse{Items: make([]carrierPayload, 0, len(carriers))}
	for _, carrier := range carriers {
		resp.Items = append(resp.Items, carrierPayload{
			ID:          carrier.ID,
			DisplayName: carrier.DisplayName,
			TransitDays: carrier.TransitDays,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

type shippingQuoteResponse struct {
	Method     string  `json:"method"`
	WeightKg   float64 `json:"weight_kg"`
	DistanceKm float64 `json:"distance_km"`
	Rural      bool    `json:"rural"`
	Cost       int64   `json:"cost"`
	Currency   string  `json:"currency"`
}

func (h *ShippingHandlers) quote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	method := domain.ShippingMethod(strings.ToLower(strings.TrimSpace(query.Get("method"))))
	weightKg, ok := queryFloat(ctx, w, query.Get("weight_kg"), "weight_kg")
	if !ok {
		return
	}
	distanceKm, ok := queryFloat(ctx, w, query.Get("distance_km"), "distance_km")
	if !ok {
		return
	}
	rural := false
	if raw := strings.TrimSpace(query.Get("rural")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "rural must be a boolean", http.StatusBadRequest))
			return
		}
		rural = parsed
	}

	cost, err := domain.EstimateShippingCost(method, weightKg, distanceKm, rural)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidShippingInput) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("shipping_error", "unable to price delivery", http.StatusInternalServerError))
		return
	}

	httpx.WriteJSON(w, http.StatusOK, shippingQuoteResponse{
		Method:     string(method),
		WeightKg:   weightKg,
		DistanceKm: distanceKm,
		Rural:      rural,
		Cost:       cost,
		Currency:   "NZD",
	})
}

func queryFloat(ctx context.Context, w http.ResponseWriter, raw, field string) (float64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, true
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", field+" must be a number", http.StatusBadRequest))
		return 0, false
	}
	return value, true
}
