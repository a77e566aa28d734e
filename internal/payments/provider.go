package payments

import (
	"context"
	"errors"
	"time"

	"github.com/fernmarket/api/internal/domain"
)

// Logger defines the logging contract for payment provider operations.
type Logger func(ctx context.Context, event string, fields map[string]any)

// Sentinel errors returned by providers. Callers branch on these to
// decide whether an order auto-cancels or a refund stays pending.
var (
	// ErrPaymentDeclined marks a charge the provider rejected outright.
	ErrPaymentDeclined = errors.New("payments: payment declined")
	// ErrPaymentTimeout marks a charge that did not settle before the
	// configured deadline. The eventual outcome is unknown.
	ErrPaymentTimeout = errors.New("payments: payment timed out")
	// ErrRefundFailed marks a refund the provider could not process.
	// The order keeps its refund flagged pending for retry.
	ErrRefundFailed = errors.New("payments: refund failed")
)

// AuthorizeRequest carries everything a provider needs to charge the
// buyer for an order.
type AuthorizeRequest struct {
	OrderID        string
	OrderNumber    string
	BuyerID        string
	Method         domain.PaymentMethod
	Amount         int64
	Currency       string
	IdempotencyKey string
	Metadata       map[string]string
}

// AuthorizeResult reports a settled (or held) charge.
type AuthorizeResult struct {
	TransactionID string
	// Held reports that the funds are authorised but not captured.
	// Escrow charges stay held until ReleaseEscrow captures them.
	Held     bool
	ChargedAt time.Time
}

// RefundRequest asks the provider to return funds for a prior charge.
type RefundRequest struct {
	TransactionID  string
	Amount         int64
	Currency       string
	Reason         string
	IdempotencyKey string
}

// RefundResult reports a processed refund.
type RefundResult struct {
	RefundRef  string
	RefundedAt time.Time
}

// Provider is the payment gateway contract. Implementations map their
// gateway's failure modes onto the sentinel errors above.
type Provider interface {
	// Authorize charges the buyer. For escrow the funds are held, not
	// captured; every other method captures immediately.
	Authorize(ctx context.Context, req AuthorizeRequest) (AuthorizeResult, error)

	// Refund returns funds for a prior charge. Implementations must be
	// safe to call repeatedly with the same idempotency key.
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)

	// ReleaseEscrow captures a held escrow charge, moving the funds to
	// the seller. Capturing an already-captured charge is a no-op at
	// the gateway, so retries are harmless.
	ReleaseEscrow(ctx context.Context, transactionID string) error
}
