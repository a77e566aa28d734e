package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/fernmarket/api/internal/domain"
)

type stubHealthRepo struct {
	report domain.SystemHealthReport
	err    error
}

func (r *stubHealthRepo) Collect(context.Context) (domain.SystemHealthReport, error) {
	return r.report, r.err
}

func TestHealthReport(t *testing.T) {
	repo := &stubHealthRepo{report: domain.SystemHealthReport{
		Checks: map[string]domain.SystemHealthCheck{
			"firestore": {Status: domain.HealthStatusOK},
			"pubsub":    {Status: domain.HealthStatusOK},
		},
	}}
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Clock:            func() time.Time { return testNow },
		Build: BuildInfo{
			Version:     "1.4.2",
			Environment: "test",
			StartedAt:   testNow.Add(-2 * time.Hour),
		},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected ok, got %s", report.Status)
	}
	if report.Version != "1.4.2" || report.Environment != "test" {
		t.Fatalf("build metadata missing: %+v", report)
	}
	if report.Uptime != 2*time.Hour {
		t.Fatalf("uptime %v", report.Uptime)
	}
	if report.GeneratedAt.IsZero() {
		t.Fatal("generated at not set")
	}
}

func TestHealthReportDerivesStatus(t *testing.T) {
	cases := []struct {
		name   string
		checks map[string]domain.SystemHealthCheck
		want   string
	}{
		{"empty", nil, domain.HealthStatusOK},
		{"degraded wins over ok", map[string]domain.SystemHealthCheck{
			"firestore": {Status: domain.HealthStatusOK},
			"stripe":    {Status: domain.HealthStatusDegraded},
		}, domain.HealthStatusDegraded},
		{"error wins over degraded", map[string]domain.SystemHealthCheck{
			"firestore": {Status: domain.HealthStatusError},
			"stripe":    {Status: domain.HealthStatusDegraded},
		}, domain.HealthStatusError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, err := NewSystemService(SystemServiceDeps{
				HealthRepository: &stubHealthRepo{report: domain.SystemHealthReport{Checks: tc.checks}},
				Clock:            func() time.Time { return testNow },
			})
			if err != nil {
				t.Fatalf("NewSystemService: %v", err)
			}
			report, err := svc.HealthReport(context.Background())
			if err != nil {
				t.Fatalf("HealthReport: %v", err)
			}
			if report.Status != tc.want {
				t.Fatalf("status %s, want %s", report.Status, tc.want)
			}
		})
	}
}

func TestHealthReportCollectFailure(t *testing.T) {
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &stubHealthRepo{err: errors.New("probe failed")},
		Clock:            func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	if _, err := svc.HealthReport(context.Background()); err == nil {
		t.Fatal("expected collect failure to surface")
	}
}
