package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/fernmarket/api/internal/platform/firestore"
	"github.com/fernmarket/api/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the
// repositories.Registry contract.
type Registry struct {
	provider    *pfirestore.Provider
	orders      *OrderRepository
	disputes    *DisputeRepository
	transitions *TransitionRepository
	counters    *CounterRepository
	health      repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs the repository registry over a shared provider.
// The health repository is injected because its probe set reaches beyond
// Firestore.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	disputes, err := NewDisputeRepository(provider)
	if err != nil {
		return nil, err
	}
	transitions, err := NewTransitionRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:    provider,
		orders:      orders,
		disputes:    disputes,
		transitions: transitions,
		counters:    counters,
		health:      health,
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close()
}

// Orders returns the order repository.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// Disputes returns the dispute repository.
func (r *Registry) Disputes() repositories.DisputeRepository { return r.disputes }

// Transitions returns the scheduled transition repository.
func (r *Registry) Transitions() repositories.ScheduledTransitionRepository { return r.transitions }

// Counters returns the counter repository.
func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

// Health returns the health repository.
func (r *Registry) Health() repositories.HealthRepository { return r.health }

// RunInTx groups repository calls. Individual write methods already run
// their read-check-write cycles inside Firestore transactions, so the
// grouping here is advisory.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("registry: transaction function is required")
	}
	return fn(ctx)
}
