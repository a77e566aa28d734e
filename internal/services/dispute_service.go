package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/fernmarket/api/internal/domain"
	"github.com/fernmarket/api/internal/repositories"
)

const disputeIDPrefix = "dsp_"

var (
	// ErrDisputeInvalidInput signals the caller provided invalid data.
	ErrDisputeInvalidInput = errors.New("dispute: invalid input")
	// ErrDisputeNotFound indicates the dispute could not be located.
	ErrDisputeNotFound = errors.New("dispute: not found")
	// ErrDisputeInvalidState indicates the dispute or order state forbids the operation.
	ErrDisputeInvalidState = errors.New("dispute: invalid state")
)

// DisputeServiceDeps bundles collaborators for the dispute service.
type DisputeServiceDeps struct {
	Orders      repositories.OrderRepository
	Disputes    repositories.DisputeRepository
	Transitions repositories.ScheduledTransitionRepository
	Settlement  SettlementService
	Notifier    TransitionNotifier
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type disputeService struct {
	orders      repositories.OrderRepository
	disputes    repositories.DisputeRepository
	transitions repositories.ScheduledTransitionRepository
	settlement  SettlementService
	notifier    TransitionNotifier
	clock       func() time.Time
	newID       func() string
	logger      func(context.Context, string, map[string]any)
}

// NewDisputeService wires dependencies into a concrete DisputeService.
func NewDisputeService(deps DisputeServiceDeps) (DisputeService, error) {
	if deps.Orders == nil {
		return nil, errors.New("dispute service: order repository is required")
	}
	if deps.Disputes == nil {
		return nil, errors.New("dispute service: dispute repository is required")
	}
	if deps.Transitions == nil {
		return nil, errors.New("dispute service: transition repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &disputeService{
		orders:      deps.Orders,
		disputes:    deps.Disputes,
		transitions: deps.Transitions,
		settlement:  deps.Settlement,
		notifier:    deps.Notifier,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// OpenDispute records the dispute, parks the order in disputed, and
// disarms every pending scheduled transition so nothing auto-fires
// while moderation runs.
func (s *disputeService) OpenDispute(ctx context.Context, cmd OpenDisputeCommand) (Dispute, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Dispute{}, fmt.Errorf("%w: order id is required", ErrDisputeInvalidInput)
	}
	if !domain.ValidDisputeReason(cmd.Reason) {
		return Dispute{}, fmt.Errorf("%w: unknown reason %q", ErrDisputeInvalidInput, cmd.Reason)
	}
	description := sanitizeText(cmd.Description)
	if description == "" {
		return Dispute{}, fmt.Errorf("%w: description is required", ErrDisputeInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Dispute{}, mapDisputeRepositoryError(err)
	}
	if !domain.IsDisputable(order.Status) {
		return Dispute{}, fmt.Errorf("%w: order status %s cannot be disputed", ErrDisputeInvalidState, order.Status)
	}
	if order.DisputeID != nil {
		return Dispute{}, fmt.Errorf("%w: order already has dispute %s", ErrOrderConflict, *order.DisputeID)
	}
	actor := strings.TrimSpace(cmd.ActorID)
	if actor != "" && actor != order.BuyerID && actor != order.SellerID {
		return Dispute{}, fmt.Errorf("%w: only a party to the order can open a dispute", ErrOrderForbidden)
	}

	now := s.now()
	dispute := Dispute{
		ID:          disputeIDPrefix + s.newID(),
		OrderID:     order.ID,
		Reason:      cmd.Reason,
		Description: description,
		Evidence:    sanitizeEvidence(cmd.Evidence),
		OpenedBy:    actor,
		Status:      domain.DisputeStatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.disputes.Insert(ctx, dispute); err != nil {
		return Dispute{}, mapDisputeRepositoryError(err)
	}

	order.DisputeID = valuePtr(dispute.ID)
	if err := s.transitionOrder(ctx, &order, domain.OrderStatusDisputed, actor, now, map[string]any{
		"disputeId": dispute.ID,
		"reason":    string(cmd.Reason),
	}); err != nil {
		return Dispute{}, err
	}

	if err := s.transitions.DeleteByOrder(ctx, order.ID); err != nil {
		s.logger(ctx, "dispute.disarm.failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}

	return dispute, nil
}

// ResolveDispute records the moderation outcome and settles the order:
// a refund outcome refunds the buyer, any other outcome completes the
// order (releasing held escrow funds to the seller).
func (s *disputeService) ResolveDispute(ctx context.Context, cmd ResolveDisputeCommand) (Dispute, error) {
	disputeID := strings.TrimSpace(cmd.DisputeID)
	if disputeID == "" {
		return Dispute{}, fmt.Errorf("%w: dispute id is required", ErrDisputeInvalidInput)
	}

	switch cmd.Outcome {
	case domain.DisputeStatusResolvedRefund, domain.DisputeStatusResolvedRelease, domain.DisputeStatusDismissed:
	default:
		return Dispute{}, fmt.Errorf("%w: unknown outcome %q", ErrDisputeInvalidInput, cmd.Outcome)
	}

	dispute, err := s.disputes.FindByID(ctx, disputeID)
	if err != nil {
		return Dispute{}, mapDisputeRepositoryError(err)
	}
	if dispute.Status != domain.DisputeStatusOpen {
		return Dispute{}, fmt.Errorf("%w: dispute already %s", ErrDisputeInvalidState, dispute.Status)
	}

	now := s.now()
	dispute.Status = cmd.Outcome
	dispute.UpdatedAt = now
	dispute.Resolution = &domain.DisputeResolution{
		Outcome:    cmd.Outcome,
		Notes:      sanitizeText(cmd.Notes),
		ResolvedBy: strings.TrimSpace(cmd.ActorID),
		ResolvedAt: now,
	}
	if err := s.disputes.Update(ctx, dispute); err != nil {
		return Dispute{}, mapDisputeRepositoryError(err)
	}

	if err := s.settleOrder(ctx, dispute, cmd); err != nil {
		return Dispute{}, err
	}
	return dispute, nil
}

// GetDispute fetches a single dispute.
func (s *disputeService) GetDispute(ctx context.Context, disputeID string) (Dispute, error) {
	disputeID = strings.TrimSpace(disputeID)
	if disputeID == "" {
		return Dispute{}, fmt.Errorf("%w: dispute id is required", ErrDisputeInvalidInput)
	}
	dispute, err := s.disputes.FindByID(ctx, disputeID)
	if err != nil {
		return Dispute{}, mapDisputeRepositoryError(err)
	}
	return dispute, nil
}

func (s *disputeService) settleOrder(ctx context.Context, dispute Dispute, cmd ResolveDisputeCommand) error {
	if cmd.Outcome == domain.DisputeStatusResolvedRefund {
		if s.settlement == nil {
			return errors.New("dispute service: settlement service is required for refunds")
		}
		_, err := s.settlement.ProcessRefund(ctx, RefundCommand{
			OrderID: dispute.OrderID,
			Reason:  "fraudulent",
			ActorID: cmd.ActorID,
		})
		return err
	}

	order, err := s.orders.FindByID(ctx, dispute.OrderID)
	if err != nil {
		return mapDisputeRepositoryError(err)
	}
	if order.Status != domain.OrderStatusDisputed {
		// Already settled by a concurrent moderation action.
		return nil
	}

	now := s.now()
	order.Completion = &domain.CompletionRecord{
		ActorID:     strings.TrimSpace(cmd.ActorID),
		CompletedAt: now,
	}
	if err := s.transitionOrder(ctx, &order, domain.OrderStatusCompleted, cmd.ActorID, now, map[string]any{
		"disputeId": dispute.ID,
		"outcome":   string(cmd.Outcome),
	}); err != nil {
		return err
	}

	if order.Payment != nil && order.Payment.Method == domain.PaymentMethodEscrow && s.settlement != nil {
		if _, err := s.settlement.ReleaseEscrow(ctx, order.ID); err != nil {
			s.logger(ctx, "dispute.escrow.release.failed", map[string]any{
				"orderId": order.ID,
				"error":   err.Error(),
			})
		}
	}
	return nil
}

func (s *disputeService) transitionOrder(ctx context.Context, order *Order, target domain.OrderStatus, actorID string, now time.Time, extra map[string]any) error {
	if !domain.CanTransition(order.Status, target) {
		return fmt.Errorf("%w: %s to %s", ErrOrderInvalidState, order.Status, target)
	}

	order.Status = target
	order.Timeline = append(order.Timeline, TimelineEntry{
		Status:     target,
		Message:    domain.StatusMessage(target),
		ActorID:    strings.TrimSpace(actorID),
		OccurredAt: now,
		Extra:      extra,
	})

	expected := order.Version
	order.Version = expected + 1
	order.UpdatedAt = now
	if actor := strings.TrimSpace(actorID); actor != "" {
		order.Audit.UpdatedBy = valuePtr(actor)
	}
	if err := s.orders.Update(ctx, *order, expected); err != nil {
		order.Version = expected
		return mapDisputeRepositoryError(err)
	}

	if s.notifier != nil {
		if err := s.notifier.NotifyTransition(ctx, order, target); err != nil {
			s.logger(ctx, "dispute.notify.failed", map[string]any{
				"orderId": order.ID,
				"status":  string(target),
				"error":   err.Error(),
			})
		}
	}
	return nil
}

func (s *disputeService) now() time.Time {
	return s.clock()
}

func sanitizeEvidence(evidence []string) []string {
	out := make([]string, 0, len(evidence))
	for _, item := range evidence {
		if cleaned := sanitizeText(item); cleaned != "" {
			out = append(out, cleaned)
		}
	}
	return out
}

func mapDisputeRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrDisputeNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		}
	}
	return err
}
