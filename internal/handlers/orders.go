package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/fernmarket/api/internal/domain"
	"github.com/fernmarket/api/internal/payments"
	"github.com/fernmarket/api/internal/platform/httpx"
	"github.com/fernmarket/api/internal/platform/requestctx"
	"github.com/fernmarket/api/internal/services"
	"github.com/fernmarket/api/internal/shipping"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 16 * 1024
)

type createOrderRequest struct {
	BuyerID  string           `json:"buyer_id"`
	SellerID string           `json:"seller_id"`
	Item     orderItemRequest `json:"item"`
	Metadata map[string]any   `json:"metadata"`
}

type orderItemRequest struct {
	ListingID string  `json:"listing_id"`
	Title     string  `json:"title"`
	UnitPrice int64   `json:"unit_price"`
	Quantity  int     `json:"quantity"`
	Currency  string  `json:"currency"`
	WeightKg  float64 `json:"weight_kg"`
}

type payOrderRequest struct {
	Method string `json:"method"`
}

type confirmOrderRequest struct {
	EstimatedDelivery string `json:"estimated_delivery"`
	PrepTimeMinutes   *int   `json:"prep_time_minutes"`
	Notes             string `json:"notes"`
}

type shipOrderRequest struct {
	Carrier           string `json:"carrier"`
	TrackingNumber    string `json:"tracking_number"`
	EstimatedDelivery string `json:"estimated_delivery"`
	Address           string `json:"address"`
}

type completeOrderRequest struct {
	Feedback string `json:"feedback"`
	Rating   *int   `json:"rating"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
	Notes  string `json:"notes"`
}

type openDisputeRequest struct {
	Reason      string   `json:"reason"`
	Description string   `json:"description"`
	Evidence    []string `json:"evidence"`
}

// OrderHandlers exposes the order lifecycle endpoints.
type OrderHandlers struct {
	orders   services.OrderService
	disputes services.DisputeService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService, disputes services.DisputeService) *OrderHandlers {
	return &OrderHandlers{
		orders:   orders,
		disputes: disputes,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Get("/{orderID}/watch", h.watchOrder)
	r.Post("/{orderID}:pay", h.payOrder)
	r.Post("/{orderID}:confirm", h.confirmOrder)
	r.Post("/{orderID}:ship", h.shipOrder)
	r.Post("/{orderID}:complete", h.completeOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
	r.Post("/{orderID}/disputes", h.openDispute)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.requireActor(ctx, w)
	if !ok {
		return
	}

	var req createOrderRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	order, err := h.orders.CreateOrder(ctx, services.CreateOrderCommand{
		BuyerID:  req.BuyerID,
		SellerID: req.SellerID,
		Item: services.ItemSnapshot{
			ListingID: req.Item.ListingID,
			Title:     req.Item.Title,
			UnitPrice: req.Item.UnitPrice,
			Quantity:  req.Item.Quantity,
			Currency:  req.Item.Currency,
			WeightKg:  req.Item.WeightKg,
		},
		Metadata: cloneMap(req.Metadata),
		ActorID:  actor,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.requireActor(ctx, w)
	if !ok {
		return
	}

	query := r.URL.Query()

	pageSize := defaultOrderPageSize
	if sizeRaw := strings.TrimSpace(query.Get("page_size")); sizeRaw != "" {
		size, err := strconv.Atoi(sizeRaw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
			return
		}
		switch {
		case size <= 0:
			pageSize = defaultOrderPageSize
		case size > maxOrderPageSize:
			pageSize = maxOrderPageSize
		default:
			pageSize = size
		}
	}

	page, err := h.orders.ListUserOrders(ctx, services.UserOrdersQuery{
		UserID: actor,
		Role:   strings.TrimSpace(query.Get("role")),
		Status: filterValues(query["status"]),
		Pagination: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}

	httpx.WriteJSON(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

// watchOrder streams order snapshots as server-sent events until the
// client disconnects.
func (h *OrderHandlers) watchOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("streaming_unsupported", "response writer does not support streaming", http.StatusInternalServerError))
		return
	}

	// Verify the order exists before committing to the stream; once the
	// SSE headers are written there is no way to send a JSON error.
	if _, err := h.orders.GetOrder(ctx, orderID); err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	err := h.orders.WatchOrder(ctx, orderID, func(_ context.Context, order services.Order) error {
		data, err := json.Marshal(buildOrderPayload(order))
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: order\ndata: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger := requestctx.Logger(ctx)
		logger.Warn("order watch terminated: " + err.Error())
	}
}

func (h *OrderHandlers) payOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.requireActor(ctx, w)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}

	var req payOrderRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	order, err := h.orders.ProcessPayment(ctx, services.ProcessPaymentCommand{
		OrderID: orderID,
		Method:  domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.Method))),
		ActorID: actor,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) confirmOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.requireActor(ctx, w)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}

	var req confirmOrderRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	estimated, ok := optionalTimestamp(ctx, w, req.EstimatedDelivery, "estimated_delivery")
	if !ok {
		return
	}
	var prepTime *time.Duration
	if req.PrepTimeMinutes != nil {
		d := time.Duration(*req.PrepTimeMinutes) * time.Minute
		prepTime = &d
	}

	order, err := h.orders.ConfirmOrder(ctx, services.ConfirmOrderCommand{
		OrderID:           orderID,
		ActorID:           actor,
		EstimatedDelivery: estimated,
		PrepTime:          prepTime,
		Notes:             req.Notes,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) shipOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.requireActor(ctx, w)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}

	var req shipOrderRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	estimated, ok := optionalTimestamp(ctx, w, req.EstimatedDelivery, "estimated_delivery")
	if !ok {
		return
	}

	order, err := h.orders.AddShippingDetails(ctx, services.AddShippingCommand{
		OrderID:           orderID,
		Carrier:           req.Carrier,
		TrackingNumber:    req.TrackingNumber,
		EstimatedDelivery: estimated,
		Address:           req.Address,
		ActorID:           actor,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) completeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.requireActor(ctx, w)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}

	var req completeOrderRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	order, err := h.orders.CompleteOrder(ctx, services.CompleteOrderCommand{
		OrderID:  orderID,
		ActorID:  actor,
		Feedback: req.Feedback,
		Rating:   req.Rating,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.requireActor(ctx, w)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}

	var req cancelOrderRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	order, err := h.orders.CancelOrder(ctx, services.CancelOrderCommand{
		OrderID: orderID,
		ActorID: actor,
		Reason:  req.Reason,
		Notes:   req.Notes,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) openDispute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.disputes == nil {
		httpx.WriteError(ctx, w, httpx.NewError("dispute_service_unavailable", "dispute service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := h.requireActor(ctx, w)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}

	var req openDisputeRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	dispute, err := h.disputes.OpenDispute(ctx, services.OpenDisputeCommand{
		OrderID:     orderID,
		Reason:      domain.DisputeReason(strings.ToLower(strings.TrimSpace(req.Reason))),
		Description: req.Description,
		Evidence:    req.Evidence,
		ActorID:     actor,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, disputeResponse{Dispute: buildDisputePayload(dispute)})
}

func (h *OrderHandlers) requireActor(ctx context.Context, w http.ResponseWriter) (string, bool) {
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return "", false
	}
	actor := strings.TrimSpace(requestctx.Actor(ctx))
	if actor == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return "", false
	}
	return actor, true
}

func orderIDParam(ctx context.Context, w http.ResponseWriter, r *http.Request) (string, bool) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return "", false
	}
	return orderID, true
}

func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, target any) bool {
	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		} else {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return false
	}
	if len(body) == 0 {
		return true
	}
	if err := json.Unmarshal(body, target); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

func optionalTimestamp(ctx context.Context, w http.ResponseWriter, raw, field string) (*time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, true
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", field+" must be RFC 3339", http.StatusBadRequest))
		return nil, false
	}
	return &parsed, true
}

func filterValues(values []string) []string {
	var out []string
	for _, raw := range values {
		for _, value := range strings.Split(raw, ",") {
			if value = strings.TrimSpace(value); value != "" {
				out = append(out, value)
			}
		}
	}
	return out
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID          string `json:"id"`
	OrderNumber string `json:"order_number"`
	BuyerID     string `json:"buyer_id"`
	SellerID    string `json:"seller_id"`
	Status      string `json:"status"`
	Title       string `json:"title"`
	Total       int64  `json:"total"`
	Currency    string `json:"currency"`
	CreatedAt   string `json:"created_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID           string                 `json:"id"`
	OrderNumber  string                 `json:"order_number"`
	BuyerID      string                 `json:"buyer_id"`
	SellerID     string                 `json:"seller_id"`
	Status       string                 `json:"status"`
	Version      int64                  `json:"version"`
	Item         orderItemPayload       `json:"item"`
	Timeline     []timelineEntryPayload `json:"timeline"`
	Payment      *paymentPayload        `json:"payment,omitempty"`
	Confirmation *confirmationPayload   `json:"confirmation,omitempty"`
	Shipping     *shippingPayload       `json:"shipping,omitempty"`
	DisputeID    string                 `json:"dispute_id,omitempty"`
	Cancellation *cancellationPayload   `json:"cancellation,omitempty"`
	Completion   *completionPayload     `json:"completion,omitempty"`
	Metadata     map[string]any         `json:"metadata,omitempty"`
	CreatedAt    string                 `json:"created_at"`
	UpdatedAt    string                 `json:"updated_at,omitempty"`
}

type orderItemPayload struct {
	ListingID string  `json:"listing_id"`
	Title     string  `json:"title"`
	UnitPrice int64   `json:"unit_price"`
	Quantity  int     `json:"quantity"`
	Total     int64   `json:"total"`
	Currency  string  `json:"currency"`
	WeightKg  float64 `json:"weight_kg,omitempty"`
}

type timelineEntryPayload struct {
	Status     string         `json:"status"`
	Message    string         `json:"message"`
	ActorID    string         `json:"actor_id,omitempty"`
	OccurredAt string         `json:"occurred_at"`
	Extra      map[string]any `json:"extra,omitempty"`
}

type paymentPayload struct {
	Method           string `json:"method"`
	TransactionID    string `json:"transaction_id"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	PaidAt           string `json:"paid_at"`
	RefundedAt       string `json:"refunded_at,omitempty"`
	RefundRef        string `json:"refund_ref,omitempty"`
	RefundPending    bool   `json:"refund_pending,omitempty"`
	EscrowReleasedAt string `json:"escrow_released_at,omitempty"`
}

type confirmationPayload struct {
	EstimatedDelivery string `json:"estimated_delivery,omitempty"`
	Notes             string `json:"notes,omitempty"`
	ActorID           string `json:"actor_id,omitempty"`
	ConfirmedAt       string `json:"confirmed_at"`
}

type shippingPayload struct {
	Carrier           string                 `json:"carrier"`
	CarrierName       string                 `json:"carrier_name,omitempty"`
	TrackingNumber    string                 `json:"tracking_number"`
	TrackingURL       string                 `json:"tracking_url,omitempty"`
	Address           string                 `json:"address,omitempty"`
	ShippedAt         string                 `json:"shipped_at"`
	EstimatedDelivery string                 `json:"estimated_delivery,omitempty"`
	DeliveredAt       string                 `json:"delivered_at,omitempty"`
	Updates           []carrierUpdatePayload `json:"updates,omitempty"`
}

type carrierUpdatePayload struct {
	Event       string `json:"event"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
	OccurredAt  string `json:"occurred_at"`
}

type cancellationPayload struct {
	Reason      string `json:"reason"`
	ActorID     string `json:"actor_id,omitempty"`
	Notes       string `json:"notes,omitempty"`
	CancelledAt string `json:"cancelled_at"`
}

type completionPayload struct {
	ActorID       string `json:"actor_id,omitempty"`
	Feedback      string `json:"feedback,omitempty"`
	Rating        *int   `json:"rating,omitempty"`
	AutoCompleted bool   `json:"auto_completed,omitempty"`
	CompletedAt   string `json:"completed_at"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		BuyerID:     order.BuyerID,
		SellerID:    order.SellerID,
		Status:      string(order.Status),
		Title:       order.Item.Title,
		Total:       order.Item.Total,
		Currency:    order.Item.Currency,
		CreatedAt:   formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		BuyerID:     order.BuyerID,
		SellerID:    order.SellerID,
		Status:      string(order.Status),
		Version:     order.Version,
		Item: orderItemPayload{
			ListingID: order.Item.ListingID,
			Title:     order.Item.Title,
			UnitPrice: order.Item.UnitPrice,
			Quantity:  order.Item.Quantity,
			Total:     order.Item.Total,
			Currency:  order.Item.Currency,
			WeightKg:  order.Item.WeightKg,
		},
		Timeline:  make([]timelineEntryPayload, 0, len(order.Timeline)),
		Metadata:  cloneMap(order.Metadata),
		CreatedAt: formatTime(order.CreatedAt),
		UpdatedAt: formatTime(order.UpdatedAt),
	}

	for _, entry := range order.Timeline {
		payload.Timeline = append(payload.Timeline, timelineEntryPayload{
			Status:     string(entry.Status),
			Message:    entry.Message,
			ActorID:    entry.ActorID,
			OccurredAt: formatTime(entry.OccurredAt),
			Extra:      cloneMap(entry.Extra),
		})
	}

	if order.Payment != nil {
		payload.Payment = &paymentPayload{
			Method:           string(order.Payment.Method),
			TransactionID:    order.Payment.TransactionID,
			Amount:           order.Payment.Amount,
			Currency:         order.Payment.Currency,
			PaidAt:           formatTime(order.Payment.PaidAt),
			RefundedAt:       formatTimePtr(order.Payment.RefundedAt),
			RefundPending:    order.Payment.RefundPending,
			EscrowReleasedAt: formatTimePtr(order.Payment.EscrowReleasedAt),
		}
		if order.Payment.RefundRef != nil {
			payload.Payment.RefundRef = *order.Payment.RefundRef
		}
	}

	if order.Confirmation != nil {
		payload.Confirmation = &confirmationPayload{
			EstimatedDelivery: formatTimePtr(order.Confirmation.EstimatedDelivery),
			Notes:             order.Confirmation.Notes,
			ActorID:           order.Confirmation.ActorID,
			ConfirmedAt:       formatTime(order.Confirmation.ConfirmedAt),
		}
	}

	if order.Shipping != nil {
		shippingInfo := &shippingPayload{
			Carrier:           order.Shipping.Carrier,
			CarrierName:       order.Shipping.CarrierName,
			TrackingNumber:    order.Shipping.TrackingNumber,
			TrackingURL:       order.Shipping.TrackingURL,
			Address:           order.Shipping.Address,
			ShippedAt:         formatTime(order.Shipping.ShippedAt),
			EstimatedDelivery: formatTimePtr(order.Shipping.EstimatedDelivery),
			DeliveredAt:       formatTimePtr(order.Shipping.DeliveredAt),
		}
		for _, update := range order.Shipping.Updates {
			shippingInfo.Updates = append(shippingInfo.Updates, carrierUpdatePayload{
				Event:       string(update.Event),
				Description: update.Description,
				Location:    update.Location,
				OccurredAt:  formatTime(update.OccurredAt),
			})
		}
		payload.Shipping = shippingInfo
	}

	if order.DisputeID != nil {
		payload.DisputeID = *order.DisputeID
	}

	if order.Cancellation != nil {
		payload.Cancellation = &cancellationPayload{
			Reason:      order.Cancellation.Reason,
			ActorID:     order.Cancellation.ActorID,
			Notes:       order.Cancellation.Notes,
			CancelledAt: formatTime(order.Cancellation.CancelledAt),
		}
	}

	if order.Completion != nil {
		payload.Completion = &completionPayload{
			ActorID:       order.Completion.ActorID,
			Feedback:      order.Completion.Feedback,
			Rating:        order.Completion.Rating,
			AutoCompleted: order.Completion.AutoCompleted,
			CompletedAt:   formatTime(order.Completion.CompletedAt),
		}
	}

	return payload
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput), errors.Is(err, services.ErrDisputeInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", err.Error(), http.StatusForbidden))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrDisputeNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("dispute_not_found", "dispute not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidState), errors.Is(err, services.ErrDisputeInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, payments.ErrPaymentDeclined):
		httpx.WriteError(ctx, w, httpx.NewError("payment_declined", err.Error(), http.StatusPaymentRequired))
	case errors.Is(err, payments.ErrPaymentTimeout):
		httpx.WriteError(ctx, w, httpx.NewError("payment_timeout", "payment provider timed out", http.StatusGatewayTimeout))
	case errors.Is(err, payments.ErrRefundFailed):
		httpx.WriteError(ctx, w, httpx.NewError("refund_failed", "refund could not be processed", http.StatusBadGateway))
	case errors.Is(err, shipping.ErrUnknownCarrier):
		httpx.WriteError(ctx, w, httpx.NewError("unknown_carrier", err.Error(), http.StatusUnprocessableEntity))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
