package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/fernmarket/api/internal/domain"
	pfirestore "github.com/fernmarket/api/internal/platform/firestore"
	"github.com/fernmarket/api/internal/repositories"
)

const transitionsCollection = "scheduled_transitions"

type transitionDocument struct {
	OrderID      string    `firestore:"orderId"`
	FromStatus   string    `firestore:"fromStatus"`
	ToStatus     string    `firestore:"toStatus"`
	AutoComplete bool      `firestore:"autoComplete"`
	DueAt        time.Time `firestore:"dueAt"`
	ArmedAt      time.Time `firestore:"armedAt"`
}

// TransitionRepository implements repositories.ScheduledTransitionRepository
// backed by Firestore.
type TransitionRepository struct {
	base *pfirestore.BaseRepository[transitionDocument]
}

var _ repositories.ScheduledTransitionRepository = (*TransitionRepository)(nil)

// NewTransitionRepository constructs a Firestore-backed scheduled transition repository.
func NewTransitionRepository(provider *pfirestore.Provider) (*TransitionRepository, error) {
	if provider == nil {
		return nil, errors.New("transition repository requires firestore provider")
	}
	return &TransitionRepository{
		base: pfirestore.NewBaseRepository[transitionDocument](provider, transitionsCollection, nil),
	}, nil
}

// Upsert arms or re-arms the scheduled transition.
func (r *TransitionRepository) Upsert(ctx context.Context, transition domain.ScheduledTransition) error {
	if r == nil || r.base == nil {
		return errors.New("transition repository not initialised")
	}
	transitionID := strings.TrimSpace(transition.ID)
	if transitionID == "" {
		return errors.New("transition repository: transition id is required")
	}
	_, err := r.base.Set(ctx, transitionID, transitionDocument{
		OrderID:      transition.OrderID,
		FromStatus:   string(transition.FromStatus),
		ToStatus:     string(transition.ToStatus),
		AutoComplete: transition.AutoComplete,
		DueAt:        transition.DueAt.UTC(),
		ArmedAt:      transition.ArmedAt.UTC(),
	})
	return err
}

// Delete disarms a single scheduled transition. Deleting an already
// fired transition is a no-op.
func (r *TransitionRepository) Delete(ctx context.Context, transitionID string) error {
	if r == nil || r.base == nil {
		return errors.New("transition repository not initialised")
	}
	return r.base.Delete(ctx, transitionID)
}

// DeleteByOrder disarms every pending transition for the order.
func (r *TransitionRepository) DeleteByOrder(ctx context.Context, orderID string) error {
	if r == nil || r.base == nil {
		return errors.New("transition repository not initialised")
	}
	transitions, err := r.FindByOrder(ctx, orderID)
	if err != nil {
		return err
	}
	for _, transition := range transitions {
		if err := r.base.Delete(ctx, transition.ID); err != nil {
			return err
		}
	}
	return nil
}

// DueBefore returns up to limit transitions due before the cutoff, oldest first.
func (r *TransitionRepository) DueBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.ScheduledTransition, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("transition repository not initialised")
	}
	if limit <= 0 {
		limit = 50
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("dueAt", "<=", cutoff.UTC()).
			OrderBy("dueAt", firestore.Asc).
			Limit(limit)
	})
	if err != nil {
		return nil, err
	}
	return decodeTransitions(docs), nil
}

// FindByOrder returns the pending transitions armed for the order.
func (r *TransitionRepository) FindByOrder(ctx context.Context, orderID string) ([]domain.ScheduledTransition, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("transition repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("transition repository: order id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", orderID)
	})
	if err != nil {
		return nil, err
	}
	return decodeTransitions(docs), nil
}

func decodeTransitions(docs []pfirestore.Document[transitionDocument]) []domain.ScheduledTransition {
	transitions := make([]domain.ScheduledTransition, 0, len(docs))
	for _, doc := range docs {
		transitions = append(transitions, domain.ScheduledTransition{
			ID:           doc.ID,
			OrderID:      doc.Data.OrderID,
			FromStatus:   domain.OrderStatus(doc.Data.FromStatus),
			ToStatus:     domain.OrderStatus(doc.Data.ToStatus),
			AutoComplete: doc.Data.AutoComplete,
			DueAt:        doc.Data.DueAt,
			ArmedAt:      doc.Data.ArmedAt,
		})
	}
	return transitions
}
