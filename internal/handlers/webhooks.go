package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/fernmarket/api/internal/domain"
	"github.com/fernmarket/api/internal/platform/httpx"
	"github.com/fernmarket/api/internal/services"
	"github.com/fernmarket/api/internal/shipping"
)

const (
	defaultWebhookRateLimit  = 120
	defaultWebhookRateWindow = time.Minute
)

type carrierEventRequest struct {
	OrderID        string `json:"order_id"`
	Event          string `json:"event"`
	TrackingNumber string `json:"tracking_number"`
	Description    string `json:"description"`
	Location       string `json:"location"`
	OccurredAt     string `json:"occurred_at"`
}

// WebhookHandlers ingests carrier delivery callbacks. The router mounts
// these behind the HMAC middleware, so by the time a request lands here
// the signature has already been verified.
type WebhookHandlers struct {
	orders   services.OrderService
	carriers *shipping.Registry
	limiter  rateLimiter
	clock    func() time.Time
}

// WebhookOption customises the webhook handlers.
type WebhookOption func(*WebhookHandlers)

// WithWebhookRateLimiter overrides the per-carrier rate limiter.
func WithWebhookRateLimiter(limiter rateLimiter) WebhookOption {
	return func(h *WebhookHandlers) {
		h.limiter = limiter
	}
}

// WithWebhookClock injects a custom clock, primarily for tests.
func WithWebhookClock(clock func() time.Time) WebhookOption {
	return func(h *WebhookHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewWebhookHandlers constructs the carrier webhook endpoints.
func NewWebhookHandlers(orders services.OrderService, carriers *shipping.Registry, opts ...WebhookOption) *WebhookHandlers {
	h := &WebhookHandlers{
		orders:   orders,
		carriers: carriers,
		clock:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.limiter == nil {
		h.limiter = newFixedWindowLimiter(defaultWebhookRateLimit, defaultWebhookRateWindow, h.clock)
	}
	return h
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/carriers/{carrier}", h.carrierEvent)
}

func (h *WebhookHandlers) carrierEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	carrier := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "carrier")))
	if h.carriers != nil {
		if _, err := h.carriers.Resolve(carrier); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("unknown_carrier", err.Error(), http.StatusUnprocessableEntity))
			return
		}
	}

	if h.limiter != nil && !h.limiter.Allow(carrier) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many webhook deliveries, retry later", http.StatusTooManyRequests))
		return
	}

	var req carrierEventRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}
	if strings.TrimSpace(req.OrderID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order_id is required", http.StatusBadRequest))
		return
	}

	occurredAt := h.clock().UTC()
	if raw := strings.TrimSpace(req.OccurredAt); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "occurred_at must be RFC 3339", http.StatusBadRequest))
			return
		}
		occurredAt = parsed.UTC()
	}

	order, err := h.orders.UpdateDeliveryStatus(ctx, services.DeliveryUpdateCommand{
		OrderID:     strings.TrimSpace(req.OrderID),
		Event:       domain.DeliveryEvent(strings.ToLower(strings.TrimSpace(req.Event))),
		Description: strings.TrimSpace(req.Description),
		Location:    strings.TrimSpace(req.Location),
		OccurredAt:  occurredAt,
		Source:      carrier,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, carrierEventResponse{
		OrderID: order.ID,
		Status:  string(order.Status),
		Version: order.Version,
	})
}

// CarrierFromPath extracts the carrier id from a webhook request path.
// The HMAC middleware needs the carrier before chi binds URL params, so
// the path is parsed directly.
func CarrierFromPath(r *http.Request) string {
	if r == nil || r.URL == nil {
		return ""
	}
	const marker = "/carriers/"
	path := r.URL.Path
	idx := strings.LastIndex(path, marker)
	if idx < 0 {
		return ""
	}
	carrier := path[idx+len(marker):]
	if slash := strings.IndexByte(carrier, '/'); slash >= 0 {
		carrier = carrier[:slash]
	}
	return strings.ToLower(strings.TrimSpace(carrier))
}

type carrierEventResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Version int64  `json:"version"`
}
