package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/fernmarket/api/internal/domain"
	pfirestore "github.com/fernmarket/api/internal/platform/firestore"
	"github.com/fernmarket/api/internal/platform/pagination"
	"github.com/fernmarket/api/internal/repositories"
)

const ordersCollection = "orders"

type orderDocument struct {
	OrderNumber  string                 `firestore:"orderNumber"`
	BuyerID      string                 `firestore:"buyerId"`
	SellerID     string                 `firestore:"sellerId"`
	Item         itemSnapshotDocument   `firestore:"item"`
	Status       string                 `firestore:"status"`
	Version      int64                  `firestore:"version"`
	Timeline     []timelineDocument     `firestore:"timeline"`
	Payment      *paymentDocument       `firestore:"payment,omitempty"`
	Confirmation *confirmationDocument  `firestore:"confirmation,omitempty"`
	Shipping     *shippingDocument      `firestore:"shipping,omitempty"`
	DisputeID    *string                `firestore:"disputeId,omitempty"`
	Cancellation *cancellationDocument  `firestore:"cancellation,omitempty"`
	Completion   *completionDocument    `firestore:"completion,omitempty"`
	CreatedBy    *string                `firestore:"createdBy,omitempty"`
	UpdatedBy    *string                `firestore:"updatedBy,omitempty"`
	Metadata     map[string]any         `firestore:"metadata,omitempty"`
	CreatedAt    time.Time              `firestore:"createdAt"`
	UpdatedAt    time.Time              `firestore:"updatedAt"`
}

type itemSnapshotDocument struct {
	ListingID string  `firestore:"listingId"`
	Title     string  `firestore:"title"`
	UnitPrice int64   `firestore:"unitPrice"`
	Quantity  int     `firestore:"quantity"`
	Total     int64   `firestore:"total"`
	Currency  string  `firestore:"currency"`
	WeightKg  float64 `firestore:"weightKg"`
}

type timelineDocument struct {
	Status     string         `firestore:"status"`
	Message    string         `firestore:"message"`
	ActorID    string         `firestore:"actorId,omitempty"`
	OccurredAt time.Time      `firestore:"occurredAt"`
	Extra      map[string]any `firestore:"extra,omitempty"`
}

type paymentDocument struct {
	Method           string     `firestore:"method"`
	TransactionID    string     `firestore:"transactionId"`
	Amount           int64      `firestore:"amount"`
	Currency         string     `firestore:"currency"`
	PaidAt           time.Time  `firestore:"paidAt"`
	RefundedAt       *time.Time `firestore:"refundedAt,omitempty"`
	RefundRef        *string    `firestore:"refundRef,omitempty"`
	RefundPending    bool       `firestore:"refundPending"`
	EscrowReleasedAt *time.Time `firestore:"escrowReleasedAt,omitempty"`
}

type confirmationDocument struct {
	EstimatedDelivery *time.Time `firestore:"estimatedDelivery,omitempty"`
	Notes             string     `firestore:"notes,omitempty"`
	ActorID           string     `firestore:"actorId,omitempty"`
	ConfirmedAt       time.Time  `firestore:"confirmedAt"`
}

type shippingDocument struct {
	Carrier           string                  `firestore:"carrier"`
	CarrierName       string                  `firestore:"carrierName"`
	TrackingNumber    string                  `firestore:"trackingNumber"`
	TrackingURL       string                  `firestore:"trackingUrl"`
	Address           string                  `firestore:"address,omitempty"`
	ShippedAt         time.Time               `firestore:"shippedAt"`
	EstimatedDelivery *time.Time              `firestore:"estimatedDelivery,omitempty"`
	DeliveredAt       *time.Time              `firestore:"deliveredAt,omitempty"`
	Updates           []carrierUpdateDocument `firestore:"updates,omitempty"`
}

type carrierUpdateDocument struct {
	Event       string    `firestore:"event"`
	Description string    `firestore:"description,omitempty"`
	Location    string    `firestore:"location,omitempty"`
	OccurredAt  time.Time `firestore:"occurredAt"`
}

type cancellationDocument struct {
	Reason      string    `firestore:"reason"`
	ActorID     string    `firestore:"actorId"`
	Notes       string    `firestore:"notes,omitempty"`
	CancelledAt time.Time `firestore:"cancelledAt"`
}

type completionDocument struct {
	ActorID       string    `firestore:"actorId,omitempty"`
	Feedback      string    `firestore:"feedback,omitempty"`
	Rating        *int      `firestore:"rating,omitempty"`
	AutoCompleted bool      `firestore:"autoCompleted"`
	CompletedAt   time.Time `firestore:"completedAt"`
}

// OrderRepository implements repositories.OrderRepository backed by Firestore.
type OrderRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil),
	}, nil
}

// Insert creates the order document. Duplicate ids surface as conflicts.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}

	ref, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, encodeOrder(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update writes the order only when the stored version still matches
// expectedVersion. The read and write share one transaction so two
// concurrent mutations cannot both win.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order, expectedVersion int64) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}

		snapshot, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return pfirestore.NotFoundError("orders.update", fmt.Errorf("order %s not found", orderID))
		}
		if err != nil {
			return pfirestore.WrapError("orders.update", err)
		}

		doc, err := r.base.Decode(ctx, snapshot)
		if err != nil {
			return fmt.Errorf("orders.update: decode %s: %w", orderID, err)
		}
		if doc.Data.Version != expectedVersion {
			return pfirestore.ConflictError("orders.update",
				fmt.Errorf("order %s version %d does not match expected %d", orderID, doc.Data.Version, expectedVersion))
		}

		if err := tx.Set(ref, encodeOrder(order)); err != nil {
			return pfirestore.WrapError("orders.update", err)
		}
		return nil
	})
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(err, &repoErr) {
			return repoErr
		}
		return pfirestore.WrapError("orders.update", err)
	}
	return nil
}

// FindByID fetches a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(doc.ID, doc.Data), nil
}

// ListByUser returns the user's orders newest first. OrderRoleAny merges
// the buyer and seller sides of the same user.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository: user id is required")
	}

	limit := filter.Pagination.PageSize
	if limit <= 0 {
		limit = pagination.DefaultPageSize
	}
	fetchLimit := limit + 1

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tokenTime, tokenID, err := decodeOrderListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("order repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	role := filter.Role
	if role == "" {
		role = repositories.OrderRoleAny
	}

	fields := make([]string, 0, 2)
	if role == repositories.OrderRoleBuyer || role == repositories.OrderRoleAny {
		fields = append(fields, "buyerId")
	}
	if role == repositories.OrderRoleSeller || role == repositories.OrderRoleAny {
		fields = append(fields, "sellerId")
	}

	statusFilters := normaliseOrderStatuses(filter.Status)

	var docs []pfirestore.Document[orderDocument]
	seen := make(map[string]struct{})
	for _, field := range fields {
		field := field
		results, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
			q = q.Where(field, "==", userID)
			if len(statusFilters) == 1 {
				q = q.Where("status", "==", statusFilters[0])
			} else if len(statusFilters) > 1 {
				// Firestore in clause supports up to 10 values.
				if len(statusFilters) > 10 {
					statusFilters = statusFilters[:10]
				}
				q = q.Where("status", "in", statusFilters)
			}
			q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
			if len(startAfter) == 2 {
				q = q.StartAfter(startAfter...)
			}
			return q.Limit(fetchLimit)
		})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		for _, doc := range results {
			if _, ok := seen[doc.ID]; ok {
				continue
			}
			seen[doc.ID] = struct{}{}
			docs = append(docs, doc)
		}
	}

	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].Data.CreatedAt.Equal(docs[j].Data.CreatedAt) {
			return docs[i].Data.CreatedAt.After(docs[j].Data.CreatedAt)
		}
		return docs[i].ID > docs[j].ID
	})

	nextToken := ""
	if len(docs) >= fetchLimit {
		docs = docs[:limit]
		last := docs[len(docs)-1]
		token, err := encodeOrderListToken(last.Data.CreatedAt, last.ID)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		nextToken = token
	}

	items := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		items = append(items, decodeOrder(doc.ID, doc.Data))
	}

	return domain.CursorPage[domain.Order]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

// Watch streams the order to the handler on every committed change.
func (r *OrderRepository) Watch(ctx context.Context, orderID string, handle func(ctx context.Context, order domain.Order) error) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	if handle == nil {
		return errors.New("order repository: watch handler is required")
	}

	ref, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}

	return pfirestore.WatchDocument(ctx, ref, func(ctx context.Context, snapshot *firestore.DocumentSnapshot) error {
		if !snapshot.Exists() {
			return pfirestore.NotFoundError("orders.watch", fmt.Errorf("order %s not found", orderID))
		}
		doc, err := r.base.Decode(ctx, snapshot)
		if err != nil {
			return fmt.Errorf("orders.watch: decode %s: %w", orderID, err)
		}
		return handle(ctx, decodeOrder(doc.ID, doc.Data))
	})
}

func encodeOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber: order.OrderNumber,
		BuyerID:     order.BuyerID,
		SellerID:    order.SellerID,
		Item: itemSnapshotDocument{
			ListingID: order.Item.ListingID,
			Title:     order.Item.Title,
			UnitPrice: order.Item.UnitPrice,
			Quantity:  order.Item.Quantity,
			Total:     order.Item.Total,
			Currency:  order.Item.Currency,
			WeightKg:  order.Item.WeightKg,
		},
		Status:    string(order.Status),
		Version:   order.Version,
		DisputeID: order.DisputeID,
		CreatedBy: order.Audit.CreatedBy,
		UpdatedBy: order.Audit.UpdatedBy,
		Metadata:  order.Metadata,
		CreatedAt: order.CreatedAt.UTC(),
		UpdatedAt: order.UpdatedAt.UTC(),
	}

	doc.Timeline = make([]timelineDocument, 0, len(order.Timeline))
	for _, entry := range order.Timeline {
		doc.Timeline = append(doc.Timeline, timelineDocument{
			Status:     string(entry.Status),
			Message:    entry.Message,
			ActorID:    entry.ActorID,
			OccurredAt: entry.OccurredAt.UTC(),
			Extra:      entry.Extra,
		})
	}

	if order.Payment != nil {
		doc.Payment = &paymentDocument{
			Method:           string(order.Payment.Method),
			TransactionID:    order.Payment.TransactionID,
			Amount:           order.Payment.Amount,
			Currency:         order.Payment.Currency,
			PaidAt:           order.Payment.PaidAt.UTC(),
			RefundedAt:       order.Payment.RefundedAt,
			RefundRef:        order.Payment.RefundRef,
			RefundPending:    order.Payment.RefundPending,
			EscrowReleasedAt: order.Payment.EscrowReleasedAt,
		}
	}

	if order.Confirmation != nil {
		doc.Confirmation = &confirmationDocument{
			EstimatedDelivery: order.Confirmation.EstimatedDelivery,
			Notes:             order.Confirmation.Notes,
			ActorID:           order.Confirmation.ActorID,
			ConfirmedAt:       order.Confirmation.ConfirmedAt.UTC(),
		}
	}

	if order.Shipping != nil {
		shipping := &shippingDocument{
			Carrier:           order.Shipping.Carrier,
			CarrierName:       order.Shipping.CarrierName,
			TrackingNumber:    order.Shipping.TrackingNumber,
			TrackingURL:       order.Shipping.TrackingURL,
			Address:           order.Shipping.Address,
			ShippedAt:         order.Shipping.ShippedAt.UTC(),
			EstimatedDelivery: order.Shipping.EstimatedDelivery,
			DeliveredAt:       order.Shipping.DeliveredAt,
		}
		for _, update := range order.Shipping.Updates {
			shipping.Updates = append(shipping.Updates, carrierUpdateDocument{
				Event:       string(update.Event),
				Description: update.Description,
				Location:    update.Location,
				OccurredAt:  update.OccurredAt.UTC(),
			})
		}
		doc.Shipping = shipping
	}

	if order.Cancellation != nil {
		doc.Cancellation = &cancellationDocument{
			Reason:      order.Cancellation.Reason,
			ActorID:     order.Cancellation.ActorID,
			Notes:       order.Cancellation.Notes,
			CancelledAt: order.Cancellation.CancelledAt.UTC(),
		}
	}

	if order.Completion != nil {
		doc.Completion = &completionDocument{
			ActorID:       order.Completion.ActorID,
			Feedback:      order.Completion.Feedback,
			Rating:        order.Completion.Rating,
			AutoCompleted: order.Completion.AutoCompleted,
			CompletedAt:   order.Completion.CompletedAt.UTC(),
		}
	}

	return doc
}

func decodeOrder(id string, doc orderDocument) domain.Order {
	order := domain.Order{
		ID:          id,
		OrderNumber: doc.OrderNumber,
		BuyerID:     doc.BuyerID,
		SellerID:    doc.SellerID,
		Item: domain.ItemSnapshot{
			ListingID: doc.Item.ListingID,
			Title:     doc.Item.Title,
			UnitPrice: doc.Item.UnitPrice,
			Quantity:  doc.Item.Quantity,
			Total:     doc.Item.Total,
			Currency:  doc.Item.Currency,
			WeightKg:  doc.Item.WeightKg,
		},
		Status:    domain.OrderStatus(doc.Status),
		Version:   doc.Version,
		DisputeID: doc.DisputeID,
		Audit: domain.OrderAudit{
			CreatedBy: doc.CreatedBy,
			UpdatedBy: doc.UpdatedBy,
		},
		Metadata:  doc.Metadata,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}

	order.Timeline = make([]domain.TimelineEntry, 0, len(doc.Timeline))
	for _, entry := range doc.Timeline {
		order.Timeline = append(order.Timeline, domain.TimelineEntry{
			Status:     domain.OrderStatus(entry.Status),
			Message:    entry.Message,
			ActorID:    entry.ActorID,
			OccurredAt: entry.OccurredAt,
			Extra:      entry.Extra,
		})
	}

	if doc.Payment != nil {
		order.Payment = &domain.PaymentDetails{
			Method:           domain.PaymentMethod(doc.Payment.Method),
			TransactionID:    doc.Payment.TransactionID,
			Amount:           doc.Payment.Amount,
			Currency:         doc.Payment.Currency,
			PaidAt:           doc.Payment.PaidAt,
			RefundedAt:       doc.Payment.RefundedAt,
			RefundRef:        doc.Payment.RefundRef,
			RefundPending:    doc.Payment.RefundPending,
			EscrowReleasedAt: doc.Payment.EscrowReleasedAt,
		}
	}

	if doc.Confirmation != nil {
		order.Confirmation = &domain.ConfirmationRecord{
			EstimatedDelivery: doc.Confirmation.EstimatedDelivery,
			Notes:             doc.Confirmation.Notes,
			ActorID:           doc.Confirmation.ActorID,
			ConfirmedAt:       doc.Confirmation.ConfirmedAt,
		}
	}

	if doc.Shipping != nil {
		shipping := &domain.ShippingInfo{
			Carrier:           doc.Shipping.Carrier,
			CarrierName:       doc.Shipping.CarrierName,
			TrackingNumber:    doc.Shipping.TrackingNumber,
			TrackingURL:       doc.Shipping.TrackingURL,
			Address:           doc.Shipping.Address,
			ShippedAt:         doc.Shipping.ShippedAt,
			EstimatedDelivery: doc.Shipping.EstimatedDelivery,
			DeliveredAt:       doc.Shipping.DeliveredAt,
		}
		for _, update := range doc.Shipping.Updates {
			shipping.Updates = append(shipping.Updates, domain.CarrierUpdate{
				Event:       domain.DeliveryEvent(update.Event),
				Description: update.Description,
				Location:    update.Location,
				OccurredAt:  update.OccurredAt,
			})
		}
		order.Shipping = shipping
	}

	if doc.Cancellation != nil {
		order.Cancellation = &domain.CancellationRecord{
			Reason:      doc.Cancellation.Reason,
			ActorID:     doc.Cancellation.ActorID,
			Notes:       doc.Cancellation.Notes,
			CancelledAt: doc.Cancellation.CancelledAt,
		}
	}

	if doc.Completion != nil {
		order.Completion = &domain.CompletionRecord{
			ActorID:       doc.Completion.ActorID,
			Feedback:      doc.Completion.Feedback,
			Rating:        doc.Completion.Rating,
			AutoCompleted: doc.Completion.AutoCompleted,
			CompletedAt:   doc.Completion.CompletedAt,
		}
	}

	return order
}

func normaliseOrderStatuses(statuses []string) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}

func encodeOrderListToken(createdAt time.Time, id string) (string, error) {
	return pagination.EncodeToken(pagination.Cursor{
		StartAfter: []any{createdAt.UTC().Format(time.RFC3339Nano), id},
	})
}

func decodeOrderListToken(token string) (time.Time, string, error) {
	cursor, err := pagination.DecodeToken(token)
	if err != nil {
		return time.Time{}, "", err
	}
	if len(cursor.StartAfter) != 2 {
		return time.Time{}, "", errors.New("unexpected cursor shape")
	}
	rawTime, ok := cursor.StartAfter[0].(string)
	if !ok {
		return time.Time{}, "", errors.New("unexpected cursor timestamp")
	}
	createdAt, err := time.Parse(time.RFC3339Nano, rawTime)
	if err != nil {
		return time.Time{}, "", err
	}
	id, ok := cursor.StartAfter[1].(string)
	if !ok {
		return time.Time{}, "", errors.New("unexpected cursor id")
	}
	return createdAt, id, nil
}
