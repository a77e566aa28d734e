package handlers

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	domain "github.com/fernmarket/api/internal/domain"
	"github.com/fernmarket/api/internal/services"
)

func sampleDispute() services.Dispute {
	return services.Dispute{
		ID:          "dsp_01XYZ",
		OrderID:     "ord_01ABC",
		Reason:      domain.DisputeReasonNotReceived,
		Description: "three weeks and nothing arrived",
		Evidence:    []string{"https://example.test/chat-log"},
		OpenedBy:    "user_buyer",
		Status:      domain.DisputeStatusOpen,
		CreatedAt:   handlerNow,
		UpdatedAt:   handlerNow,
	}
}

func TestGetDisputeEndpoint(t *testing.T) {
	disputes := &stubDisputeService{
		getFn: func(_ context.Context, disputeID string) (services.Dispute, error) {
			if disputeID != "dsp_01XYZ" {
				t.Fatalf("dispute id %q", disputeID)
			}
			return sampleDispute(), nil
		},
	}
	router := newTestRouter(&stubOrderService{}, disputes)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/disputes/dsp_01XYZ", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}

	var resp disputeResponse
	decodeBody(t, rec, &resp)
	if resp.Dispute.OrderID != "ord_01ABC" || resp.Dispute.Reason != "item_not_received" {
		t.Fatalf("payload %+v", resp.Dispute)
	}
	if resp.Dispute.Resolution != nil {
		t.Fatalf("open dispute must not carry a resolution: %+v", resp.Dispute.Resolution)
	}
}

func TestGetDisputeNotFound(t *testing.T) {
	disputes := &stubDisputeService{
		getFn: func(context.Context, string) (services.Dispute, error) {
			return services.Dispute{}, fmt.Errorf("%w: dsp_missing", services.ErrDisputeNotFound)
		},
	}
	router := newTestRouter(&stubOrderService{}, disputes)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/disputes/dsp_missing", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d", rec.Code)
	}

	var resp map[string]any
	decodeBody(t, rec, &resp)
	if resp["error"] != "dispute_not_found" {
		t.Fatalf("error code %v", resp["error"])
	}
}

func TestResolveDisputeEndpoint(t *testing.T) {
	var captured services.ResolveDisputeCommand
	disputes := &stubDisputeService{
		resolveFn: func(_ context.Context, cmd services.ResolveDisputeCommand) (services.Dispute, error) {
			captured = cmd
			dispute := sampleDispute()
			dispute.Status = cmd.Outcome
			dispute.Resolution = &domain.DisputeResolution{
				Outcome:    cmd.Outcome,
				Notes:      cmd.Notes,
				ResolvedBy: cmd.ActorID,
				ResolvedAt: handlerNow,
			}
			return dispute, nil
		},
	}
	router := newTestRouter(&stubOrderService{}, disputes)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/internal/disputes/dsp_01XYZ:resolve", "mod_kiri", map[string]any{
		"outcome": "Resolved_Refund",
		"notes":   "tracking shows the parcel never left the depot",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if captured.DisputeID != "dsp_01XYZ" {
		t.Fatalf("dispute id %q", captured.DisputeID)
	}
	if captured.Outcome != domain.DisputeStatusResolvedRefund {
		t.Fatalf("outcome %q not normalised", captured.Outcome)
	}
	if captured.ActorID != "mod_kiri" {
		t.Fatalf("actor %q", captured.ActorID)
	}

	var resp disputeResponse
	decodeBody(t, rec, &resp)
	if resp.Dispute.Status != "resolved_refund" {
		t.Fatalf("status %q", resp.Dispute.Status)
	}
	if resp.Dispute.Resolution == nil || resp.Dispute.Resolution.ResolvedBy != "mod_kiri" {
		t.Fatalf("resolution %+v", resp.Dispute.Resolution)
	}
}

func TestResolveDisputeUnknownOutcome(t *testing.T) {
	disputes := &stubDisputeService{
		resolveFn: func(context.Context, services.ResolveDisputeCommand) (services.Dispute, error) {
			return services.Dispute{}, fmt.Errorf("%w: unknown outcome", services.ErrDisputeInvalidInput)
		},
	}
	router := newTestRouter(&stubOrderService{}, disputes)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/internal/disputes/dsp_01XYZ:resolve", "mod_kiri", map[string]any{
		"outcome": "split_the_difference",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestResolveDisputeAlreadyClosed(t *testing.T) {
	disputes := &stubDisputeService{
		resolveFn: func(context.Context, services.ResolveDisputeCommand) (services.Dispute, error) {
			return services.Dispute{}, fmt.Errorf("%w: dispute already dismissed", services.ErrDisputeInvalidState)
		},
	}
	router := newTestRouter(&stubOrderService{}, disputes)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/internal/disputes/dsp_01XYZ:resolve", "mod_kiri", map[string]any{
		"outcome": "dismissed",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status %d", rec.Code)
	}
}
