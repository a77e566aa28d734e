package di

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/fernmarket/api/internal/domain"
	"github.com/fernmarket/api/internal/payments"
	"github.com/fernmarket/api/internal/platform/config"
	"github.com/fernmarket/api/internal/repositories"
)

type stubRegistry struct {
	health repositories.HealthRepository
}

func (r *stubRegistry) Close(context.Context) error { return nil }

func (r *stubRegistry) Orders() repositories.OrderRepository { return stubOrders{} }

func (r *stubRegistry) Disputes() repositories.DisputeRepository { return stubDisputes{} }

func (r *stubRegistry) Transitions() repositories.ScheduledTransitionRepository {
	return stubTransitions{}
}

func (r *stubRegistry) Counters() repositories.CounterRepository { return stubCounters{} }

func (r *stubRegistry) Health() repositories.HealthRepository { return r.health }

func (r *stubRegistry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type stubOrders struct{}

func (stubOrders) Insert(context.Context, domain.Order) error        { return nil }
func (stubOrders) Update(context.Context, domain.Order, int64) error { return nil }
func (stubOrders) FindByID(context.Context, string) (domain.Order, error) {
	return domain.Order{}, errors.New("not implemented")
}
func (stubOrders) ListByUser(context.Context, string, repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	return domain.CursorPage[domain.Order]{}, nil
}
func (stubOrders) Watch(context.Context, string, func(ctx context.Context, order domain.Order) error) error {
	return nil
}

type stubDisputes struct{}

func (stubDisputes) Insert(context.Context, domain.Dispute) error { return nil }
func (stubDisputes) Update(context.Context, domain.Dispute) error { return nil }
func (stubDisputes) FindByID(context.Context, string) (domain.Dispute, error) {
	return domain.Dispute{}, errors.New("not implemented")
}
func (stubDisputes) FindByOrder(context.Context, string) (domain.Dispute, error) {
	return domain.Dispute{}, errors.New("not implemented")
}

type stubTransitions struct{}

func (stubTransitions) Upsert(context.Context, domain.ScheduledTransition) error { return nil }
func (stubTransitions) Delete(context.Context, string) error                     { return nil }
func (stubTransitions) DeleteByOrder(context.Context, string) error              { return nil }
func (stubTransitions) DueBefore(context.Context, time.Time, int) ([]domain.ScheduledTransition, error) {
	return nil, nil
}
func (stubTransitions) FindByOrder(context.Context, string) ([]domain.ScheduledTransition, error) {
	return nil, nil
}

type stubCounters struct{}

func (stubCounters) Next(context.Context, string, int64) (int64, error) { return 1, nil }
func (stubCounters) Configure(context.Context, string, repositories.CounterConfig) error {
	return nil
}

type stubHealth struct{}

func (stubHealth) Collect(context.Context) (domain.SystemHealthReport, error) {
	return domain.SystemHealthReport{Status: domain.HealthStatusOK}, nil
}

type stubProvider struct{}

func (stubProvider) Authorize(context.Context, payments.AuthorizeRequest) (payments.AuthorizeResult, error) {
	return payments.AuthorizeResult{TransactionID: "pi_test"}, nil
}
func (stubProvider) Refund(context.Context, payments.RefundRequest) (payments.RefundResult, error) {
	return payments.RefundResult{RefundRef: "re_test"}, nil
}
func (stubProvider) ReleaseEscrow(context.Context, string) error { return nil }

func testConfig() config.Config {
	return config.Config{
		Scheduler: config.SchedulerConfig{
			PollInterval:    time.Minute,
			BatchSize:       10,
			PrepDelay:       30 * time.Minute,
			CompletionGrace: 7 * 24 * time.Hour,
		},
		Environment: "test",
	}
}

func TestNewContainerWiresServices(t *testing.T) {
	container, err := NewContainer(context.Background(), testConfig(), &stubRegistry{health: stubHealth{}}, Deps{
		Payments: stubProvider{},
	})
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}

	if container.Services.Orders == nil {
		t.Fatal("order service missing")
	}
	if container.Services.Disputes == nil {
		t.Fatal("dispute service missing")
	}
	if container.Services.Settlement == nil {
		t.Fatal("settlement service missing")
	}
	if container.Services.System == nil {
		t.Fatal("system service missing")
	}
	if container.Scheduler == nil {
		t.Fatal("scheduler missing")
	}

	report, err := container.Services.System.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Environment != "test" {
		t.Fatalf("environment %q", report.Environment)
	}
}

func TestNewContainerWithoutHealthRepo(t *testing.T) {
	container, err := NewContainer(context.Background(), testConfig(), &stubRegistry{}, Deps{
		Payments: stubProvider{},
	})
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	if container.Services.System != nil {
		t.Fatal("system service should be nil without a health repository")
	}
}

func TestNewContainerRequiresRegistryAndProvider(t *testing.T) {
	if _, err := NewContainer(context.Background(), testConfig(), nil, Deps{Payments: stubProvider{}}); err == nil {
		t.Fatal("expected error without registry")
	}
	if _, err := NewContainer(context.Background(), testConfig(), &stubRegistry{}, Deps{}); err == nil {
		t.Fatal("expected error without payment provider")
	}
}
