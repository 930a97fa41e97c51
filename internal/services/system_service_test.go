package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/sqaleshop/api/internal/domain"
	"github.com/sqaleshop/api/internal/repositories"
)

type stubHealthRepository struct {
	report domain.SystemHealthReport
	err    error
	calls  int
}

var _ repositories.HealthRepository = (*stubHealthRepository)(nil)

func (s *stubHealthRepository) Collect(context.Context) (domain.SystemHealthReport, error) {
	s.calls++
	return s.report, s.err
}

func checks(statuses map[string]string) map[string]domain.SystemHealthCheck {
	out := make(map[string]domain.SystemHealthCheck, len(statuses))
	for name, status := range statuses {
		out[name] = domain.SystemHealthCheck{Status: status}
	}
	return out
}

func TestSystemServiceStampsBuildAndCapabilities(t *testing.T) {
	started := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	now := started.Add(90 * time.Second)
	capabilities := map[string]string{"payments": "stripe", "notifications": "none"}
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &stubHealthRepository{report: domain.SystemHealthReport{Checks: checks(map[string]string{"firestore": "ok"})}},
		Clock:            func() time.Time { return now },
		Build:            BuildInfo{Version: "2.4.0", CommitSHA: "9f1c", Environment: "stg", StartedAt: started},
		Capabilities:     capabilities,
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	capabilities["payments"] = "mutated"

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusOK || report.Version != "2.4.0" || report.CommitSHA != "9f1c" || report.Environment != "stg" {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Uptime != 90*time.Second || !report.GeneratedAt.Equal(now) {
		t.Fatalf("unexpected timing uptime=%s generated=%s", report.Uptime, report.GeneratedAt)
	}
	if report.Capabilities["payments"] != "stripe" || report.Capabilities["notifications"] != "none" {
		t.Fatalf("expected capabilities copied at construction, got %v", report.Capabilities)
	}
}

func TestSystemServiceOverallStatus(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]string
		want   string
	}{
		{name: "no checks", want: domain.HealthStatusOK},
		{name: "all ok", checks: map[string]string{"firestore": "ok", "redis": "ok"}, want: domain.HealthStatusOK},
		{name: "degraded optional", checks: map[string]string{"firestore": "ok", "redis": "degraded"}, want: domain.HealthStatusDegraded},
		{name: "error wins", checks: map[string]string{"firestore": "error", "redis": "degraded"}, want: domain.HealthStatusError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc, err := NewSystemService(SystemServiceDeps{
				HealthRepository: &stubHealthRepository{report: domain.SystemHealthReport{Checks: checks(tc.checks)}},
			})
			if err != nil {
				t.Fatalf("NewSystemService: %v", err)
			}
			report, err := svc.HealthReport(context.Background())
			if err != nil {
				t.Fatalf("HealthReport: %v", err)
			}
			if report.Status != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, report.Status)
			}
		})
	}
}

func TestSystemServiceCachesReports(t *testing.T) {
	now := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	repo := &stubHealthRepository{report: domain.SystemHealthReport{Checks: checks(map[string]string{"firestore": "ok"})}}
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Clock:            func() time.Time { return now },
		CacheTTL:         5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := svc.HealthReport(context.Background()); err != nil {
			t.Fatalf("HealthReport: %v", err)
		}
		now = now.Add(time.Second)
	}
	if repo.calls != 1 {
		t.Fatalf("expected one collect within ttl, got %d", repo.calls)
	}

	now = now.Add(5 * time.Second)
	if _, err := svc.HealthReport(context.Background()); err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if repo.calls != 2 {
		t.Fatalf("expected refresh after ttl, got %d", repo.calls)
	}
}

func TestSystemServiceDoesNotCacheFailures(t *testing.T) {
	repo := &stubHealthRepository{err: errors.New("collect failed")}
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: repo, CacheTTL: time.Minute})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := svc.HealthReport(context.Background()); err == nil {
			t.Fatalf("expected collect error")
		}
	}
	if repo.calls != 2 {
		t.Fatalf("expected every call to collect, got %d", repo.calls)
	}
}

func TestNewSystemServiceRequiresRepository(t *testing.T) {
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatalf("expected error when repository missing")
	}
}
