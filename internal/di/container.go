package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fernmarket/api/internal/payments"
	"github.com/fernmarket/api/internal/platform/config"
	"github.com/fernmarket/api/internal/repositories"
	"github.com/fernmarket/api/internal/services"
	"github.com/fernmarket/api/internal/shipping"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Orders     services.OrderService
	Disputes   services.DisputeService
	Settlement services.SettlementService
	System     services.SystemService
}

// Deps carries the collaborators the container cannot build itself:
// external gateways and the notification fan-out.
type Deps struct {
	Payments payments.Provider
	Notifier services.TransitionNotifier
	Carriers *shipping.Registry
	Build    services.BuildInfo
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	Scheduler    *services.TransitionScheduler
}

// NewContainer constructs the runtime dependencies. Production wiring provides real
// implementations, while tests can supply in-memory registries.
func NewContainer(_ context.Context, cfg config.Config, reg repositories.Registry, deps Deps) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("payment provider is required")
	}

	svc, scheduler, err := buildServices(reg, cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
		Scheduler:    scheduler,
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(reg repositories.Registry, cfg config.Config, deps Deps) (Services, *services.TransitionScheduler, error) {
	var svc Services

	settlement, err := services.NewSettlementService(services.SettlementServiceDeps{
		Orders:   reg.Orders(),
		Payments: deps.Payments,
		Notifier: deps.Notifier,
		Logger:   deps.Logger,
	})
	if err != nil {
		return Services{}, nil, fmt.Errorf("build settlement service: %w", err)
	}
	svc.Settlement = settlement

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:          reg.Orders(),
		Transitions:     reg.Transitions(),
		Counters:        reg.Counters(),
		Payments:        deps.Payments,
		Settlement:      settlement,
		Carriers:        deps.Carriers,
		Notifier:        deps.Notifier,
		UnitOfWork:      reg,
		Logger:          deps.Logger,
		PrepDelay:       cfg.Scheduler.PrepDelay,
		CompletionGrace: cfg.Scheduler.CompletionGrace,
	})
	if err != nil {
		return Services{}, nil, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orders

	disputes, err := services.NewDisputeService(services.DisputeServiceDeps{
		Orders:      reg.Orders(),
		Disputes:    reg.Disputes(),
		Transitions: reg.Transitions(),
		Settlement:  settlement,
		Notifier:    deps.Notifier,
		Logger:      deps.Logger,
	})
	if err != nil {
		return Services{}, nil, fmt.Errorf("build dispute service: %w", err)
	}
	svc.Disputes = disputes

	if healthRepo := reg.Health(); healthRepo != nil {
		build := deps.Build
		if build.Environment == "" {
			build.Environment = cfg.Environment
		}
		if build.StartedAt.IsZero() {
			build.StartedAt = time.Now().UTC()
		}
		system, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Build:            build,
		})
		if err != nil {
			return Services{}, nil, fmt.Errorf("build system service: %w", err)
		}
		svc.System = system
	}

	scheduler, err := services.NewTransitionScheduler(services.TransitionSchedulerDeps{
		Transitions:  reg.Transitions(),
		Orders:       orders,
		Logger:       deps.Logger,
		PollInterval: cfg.Scheduler.PollInterval,
		BatchSize:    cfg.Scheduler.BatchSize,
	})
	if err != nil {
		return Services{}, nil, fmt.Errorf("build transition scheduler: %w", err)
	}

	return svc, scheduler, nil
}
