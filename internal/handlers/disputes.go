package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/fernmarket/api/internal/domain"
	"github.com/fernmarket/api/internal/platform/httpx"
	"github.com/fernmarket/api/internal/platform/requestctx"
	"github.com/fernmarket/api/internal/services"
)

type resolveDisputeRequest struct {
	Outcome string `json:"outcome"`
	Notes   string `json:"notes"`
}

// DisputeHandlers exposes dispute lookup and moderation endpoints.
type DisputeHandlers struct {
	disputes services.DisputeService
}

// NewDisputeHandlers constructs a new DisputeHandlers instance.
func NewDisputeHandlers(disputes services.DisputeService) *DisputeHandlers {
	return &DisputeHandlers{disputes: disputes}
}

// Routes registers the public /disputes endpoints.
func (h *DisputeHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{disputeID}", h.getDispute)
}

// InternalRoutes registers the moderation endpoints mounted under the
// operator-only group.
func (h *DisputeHandlers) InternalRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/disputes/{disputeID}:resolve", h.resolveDispute)
}

func (h *DisputeHandlers) getDispute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	disputeID, ok := h.disputeIDParam(ctx, w, r)
	if !ok {
		return
	}

	dispute, err := h.disputes.GetDispute(ctx, disputeID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, disputeResponse{Dispute: buildDisputePayload(dispute)})
}

func (h *DisputeHandlers) resolveDispute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	disputeID, ok := h.disputeIDParam(ctx, w, r)
	if !ok {
		return
	}

	var req resolveDisputeRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	dispute, err := h.disputes.ResolveDispute(ctx, services.ResolveDisputeCommand{
		DisputeID: disputeID,
		Outcome:   domain.DisputeStatus(strings.ToLower(strings.TrimSpace(req.Outcome))),
		Notes:     req.Notes,
		ActorID:   strings.TrimSpace(requestctx.Actor(ctx)),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, disputeResponse{Dispute: buildDisputePayload(dispute)})
}

func (h *DisputeHandlers) disputeIDParam(ctx context.Context, w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.disputes == nil {
		httpx.WriteError(ctx, w, httpx.NewError("dispute_service_unavailable", "dispute service unavailable", http.StatusServiceUnavailable))
		return "", false
	}
	disputeID := strings.TrimSpace(chi.URLParam(r, "disputeID"))
	if disputeID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "dispute id is required", http.StatusBadRequest))
		return "", false
	}
	return disputeID, true
}

type disputeResponse struct {
	Dispute disputePayload `json:"dispute"`
}

type disputePayload struct {
	ID          string                    `json:"id"`
	OrderID     string                    `json:"order_id"`
	Reason      string                    `json:"reason"`
	Description string                    `json:"description"`
	Evidence    []string                  `json:"evidence,omitempty"`
	OpenedBy    string                    `json:"opened_by,omitempty"`
	Status      string                    `json:"status"`
	Resolution  *disputeResolutionPayload `json:"resolution,omitempty"`
	CreatedAt   string                    `json:"created_at"`
	UpdatedAt   string                    `json:"updated_at,omitempty"`
}

type disputeResolutionPayload struct {
	Outcome    string `json:"outcome"`
	Notes      string `json:"notes,omitempty"`
	ResolvedBy string `json:"resolved_by,omitempty"`
	ResolvedAt string `json:"resolved_at"`
}

func buildDisputePayload(dispute services.Dispute) disputePayload {
	payload := disputePayload{
		ID:          dispute.ID,
		OrderID:     dispute.OrderID,
		Reason:      string(dispute.Reason),
		Description: dispute.Description,
		Evidence:    append([]string(nil), dispute.Evidence...),
		OpenedBy:    dispute.OpenedBy,
		Status:      string(dispute.Status),
		CreatedAt:   formatTime(dispute.CreatedAt),
		UpdatedAt:   formatTime(dispute.UpdatedAt),
	}
	if dispute.Resolution != nil {
		payload.Resolution = &disputeResolutionPayload{
			Outcome:    string(dispute.Resolution.Outcome),
			Notes:      dispute.Resolution.Notes,
			ResolvedBy: dispute.Resolution.ResolvedBy,
			ResolvedAt: formatTime(dispute.Resolution.ResolvedAt),
		}
	}
	return payload
}
