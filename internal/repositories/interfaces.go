package repositories

import (
	"context"
	"time"

	domain "github.com/fernmarket/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Disputes() DisputeRepository
	Transitions() ScheduledTransitionRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRole selects which side of the transaction a listing filters on.
type OrderRole string

const (
	// OrderRoleBuyer lists orders the user placed.
	OrderRoleBuyer OrderRole = "buyer"
	// OrderRoleSeller lists orders the user received.
	OrderRoleSeller OrderRole = "seller"
	// OrderRoleAny lists both sides merged.
	OrderRoleAny OrderRole = "any"
)

// OrderListFilter controls user-scoped order listings.
type OrderListFilter struct {
	Role       OrderRole
	Status     []string
	Pagination domain.Pagination
}

// OrderRepository persists order aggregates with optimistic concurrency.
type OrderRepository interface {
	// Insert creates the order. A duplicate id reports a conflict.
	Insert(ctx context.Context, order domain.Order) error
	// Update writes the order only if the stored version still equals
	// expectedVersion. A mismatch reports a conflict.
	Update(ctx context.Context, order domain.Order, expectedVersion int64) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	ListByUser(ctx context.Context, userID string, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	// Watch streams the order to the handler on every committed change
	// until the context ends or the handler returns an error.
	Watch(ctx context.Context, orderID string, handle func(ctx context.Context, order domain.Order) error) error
}

// DisputeRepository persists disputes alongside their orders.
type DisputeRepository interface {
	Insert(ctx context.Context, dispute domain.Dispute) error
	Update(ctx context.Context, dispute domain.Dispute) error
	FindByID(ctx context.Context, disputeID string) (domain.Dispute, error)
	FindByOrder(ctx context.Context, orderID string) (domain.Dispute, error)
}

// ScheduledTransitionRepository stores durable deferred transitions so
// they survive process restarts.
type ScheduledTransitionRepository interface {
	// Upsert arms or re-arms a scheduled transition.
	Upsert(ctx context.Context, transition domain.ScheduledTransition) error
	Delete(ctx context.Context, transitionID string) error
	// DeleteByOrder disarms every pending transition for the order.
	DeleteByOrder(ctx context.Context, orderID string) error
	// DueBefore returns up to limit transitions whose due time has passed,
	// oldest first.
	DueBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.ScheduledTransition, error)
	FindByOrder(ctx context.Context, orderID string) ([]domain.ScheduledTransition, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
