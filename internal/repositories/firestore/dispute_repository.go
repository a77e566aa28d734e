package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/fernmarket/api/internal/domain"
	pfirestore "github.com/fernmarket/api/internal/platform/firestore"
	"github.com/fernmarket/api/internal/repositories"
)

const disputesCollection = "disputes"

type disputeDocument struct {
	OrderID     string              `firestore:"orderId"`
	Reason      string              `firestore:"reason"`
	Description string              `firestore:"description"`
	Evidence    []string            `firestore:"evidence,omitempty"`
	OpenedBy    string              `firestore:"openedBy"`
	Status      string              `firestore:"status"`
	Resolution  *resolutionDocument `firestore:"resolution,omitempty"`
	CreatedAt   time.Time           `firestore:"createdAt"`
	UpdatedAt   time.Time           `firestore:"updatedAt"`
}

type resolutionDocument struct {
	Outcome    string    `firestore:"outcome"`
	Notes      string    `firestore:"notes,omitempty"`
	ResolvedBy string    `firestore:"resolvedBy"`
	ResolvedAt time.Time `firestore:"resolvedAt"`
}

// DisputeRepository implements repositories.DisputeRepository backed by Firestore.
type DisputeRepository struct {
	base *pfirestore.BaseRepository[disputeDocument]
}

var _ repositories.DisputeRepository = (*DisputeRepository)(nil)

// NewDisputeRepository constructs a Firestore-backed dispute repository.
func NewDisputeRepository(provider *pfirestore.Provider) (*DisputeRepository, error) {
	if provider == nil {
		return nil, errors.New("dispute repository requires firestore provider")
	}
	return &DisputeRepository{
		base: pfirestore.NewBaseRepository[disputeDocument](provider, disputesCollection, nil),
	}, nil
}

// Insert creates the dispute document. Duplicate ids surface as conflicts.
func (r *DisputeRepository) Insert(ctx context.Context, dispute domain.Dispute) error {
	if r == nil || r.base == nil {
		return errors.New("dispute repository not initialised")
	}
	disputeID := strings.TrimSpace(dispute.ID)
	if disputeID == "" {
		return errors.New("dispute repository: dispute id is required")
	}
	ref, err := r.base.DocumentRef(ctx, disputeID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, encodeDispute(dispute)); err != nil {
		return pfirestore.WrapError("disputes.insert", err)
	}
	return nil
}

// Update overwrites the dispute document.
func (r *DisputeRepository) Update(ctx context.Context, dispute domain.Dispute) error {
	if r == nil || r.base == nil {
		return errors.New("dispute repository not initialised")
	}
	disputeID := strings.TrimSpace(dispute.ID)
	if disputeID == "" {
		return errors.New("dispute repository: dispute id is required")
	}
	_, err := r.base.Set(ctx, disputeID, encodeDispute(dispute))
	return err
}

// FindByID fetches a single dispute.
func (r *DisputeRepository) FindByID(ctx context.Context, disputeID string) (domain.Dispute, error) {
	if r == nil || r.base == nil {
		return domain.Dispute{}, errors.New("dispute repository not initialised")
	}
	disputeID = strings.TrimSpace(disputeID)
	if disputeID == "" {
		return domain.Dispute{}, errors.New("dispute repository: dispute id is required")
	}
	doc, err := r.base.Get(ctx, disputeID)
	if err != nil {
		return domain.Dispute{}, err
	}
	return decodeDispute(doc.ID, doc.Data), nil
}

// FindByOrder returns the dispute attached to the order, if any.
func (r *DisputeRepository) FindByOrder(ctx context.Context, orderID string) (domain.Dispute, error) {
	if r == nil || r.base == nil {
		return domain.Dispute{}, errors.New("dispute repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Dispute{}, errors.New("dispute repository: order id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", orderID).Limit(1)
	})
	if err != nil {
		return domain.Dispute{}, err
	}
	if len(docs) == 0 {
		return domain.Dispute{}, pfirestore.NotFoundError("disputes.findByOrder",
			fmt.Errorf("no dispute for order %s", orderID))
	}
	return decodeDispute(docs[0].ID, docs[0].Data), nil
}

func encodeDispute(dispute domain.Dispute) disputeDocument {
	doc := disputeDocument{
		OrderID:     dispute.OrderID,
		Reason:      string(dispute.Reason),
		Description: dispute.Description,
		Evidence:    dispute.Evidence,
		OpenedBy:    dispute.OpenedBy,
		Status:      string(dispute.Status),
		CreatedAt:   dispute.CreatedAt.UTC(),
		UpdatedAt:   dispute.UpdatedAt.UTC(),
	}
	if dispute.Resolution != nil {
		doc.Resolution = &resolutionDocument{
			Outcome:    string(dispute.Resolution.Outcome),
			Notes:      dispute.Resolution.Notes,
			ResolvedBy: dispute.Resolution.ResolvedBy,
			ResolvedAt: dispute.Resolution.ResolvedAt.UTC(),
		}
	}
	return doc
}

func decodeDispute(id string, doc disputeDocument) domain.Dispute {
	dispute := domain.Dispute{
		ID:          id,
		OrderID:     doc.OrderID,
		Reason:      domain.DisputeReason(doc.Reason),
		Description: doc.Description,
		Evidence:    doc.Evidence,
		OpenedBy:    doc.OpenedBy,
		Status:      domain.DisputeStatus(doc.Status),
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}
	if doc.Resolution != nil {
		dispute.Resolution = &domain.DisputeResolution{
			Outcome:    domain.DisputeStatus(doc.Resolution.Outcome),
			Notes:      doc.Resolution.Notes,
			ResolvedBy: doc.Resolution.ResolvedBy,
			ResolvedAt: doc.Resolution.ResolvedAt,
		}
	}
	return dispute
}
