package services

import (
	"context"
	"errors"
	"maps"
	"sync"
	"time"

	domain "github.com/sqaleshop/api/internal/domain"
	"github.com/sqaleshop/api/internal/repositories"
)

// BuildInfo is the release metadata printed by /healthz and /readyz.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps configures NewSystemService.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Clock            func() time.Time
	Build            BuildInfo
	// Capabilities names the optional integrations this instance runs with,
	// e.g. payments=stripe or notifications=none.
	Capabilities map[string]string
	// CacheTTL reuses a collected report for load balancer probes arriving in bursts.
	CacheTTL time.Duration
}

type systemService struct {
	health       repositories.HealthRepository
	now          func() time.Time
	build        BuildInfo
	capabilities map[string]string
	cacheTTL     time.Duration

	mu       sync.Mutex
	cached   domain.SystemHealthReport
	cachedAt time.Time
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the readiness reporter.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	svc := &systemService{
		health:       deps.HealthRepository,
		now:          func() time.Time { return clock().UTC() },
		build:        deps.Build,
		capabilities: maps.Clone(deps.Capabilities),
		cacheTTL:     deps.CacheTTL,
	}
	if svc.build.StartedAt.IsZero() {
		svc.build.StartedAt = svc.now()
	}
	return svc, nil
}

func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	now := s.now()
	if report, ok := s.fromCache(now); ok {
		return report, nil
	}

	report, err := s.health.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, err
	}
	if report.Checks == nil {
		report.Checks = map[string]domain.SystemHealthCheck{}
	}
	if report.Status == "" {
		report.Status = overallStatus(report.Checks)
	}
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	report.Version = s.build.Version
	report.CommitSHA = s.build.CommitSHA
	report.Environment = s.build.Environment
	report.Uptime = now.Sub(s.build.StartedAt)
	report.Capabilities = maps.Clone(s.capabilities)

	if s.cacheTTL > 0 {
		s.mu.Lock()
		s.cached, s.cachedAt = report, now
		s.mu.Unlock()
	}
	return report, nil
}

func (s *systemService) fromCache(now time.Time) (SystemHealthReport, bool) {
	if s.cacheTTL <= 0 {
		return SystemHealthReport{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cachedAt.IsZero() || now.Sub(s.cachedAt) >= s.cacheTTL {
		return SystemHealthReport{}, false
	}
	report := s.cached
	report.Uptime = now.Sub(s.build.StartedAt)
	return report, true
}

// overallStatus is error if any check errored, degraded if any is neither ok nor error.
func overallStatus(checks map[string]domain.SystemHealthCheck) string {
	status := domain.HealthStatusOK
	for _, check := range checks {
		switch check.Status {
		case domain.HealthStatusOK, "":
		case domain.HealthStatusError:
			return domain.HealthStatusError
		default:
			status = domain.HealthStatusDegraded
		}
	}
	return status
}
