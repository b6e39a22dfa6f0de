package services

import (
	"context"
	"time"

	"github.com/nimasrn/esim-gateway/internal/provider"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

type ProviderStats interface {
	Stats() provider.Stats
}

type HealthReport struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
	Provider   *provider.Stats   `json:"provider,omitempty"`
}

func (r *HealthReport) Healthy() bool {
	return r.Status != "unavailable"
}

type HealthService struct {
	checks   map[string]Pinger
	provider ProviderStats
	timeout  time.Duration
}

func NewHealthService(checks map[string]Pinger, provider ProviderStats) *HealthService {
	return &HealthService{checks: checks, provider: provider, timeout: 2 * time.Second}
}

// Check pings every dependency. An open provider circuit degrades the report but does not fail it.
func (s *HealthService) Check(ctx context.Context) *HealthReport {
	report := &HealthReport{Status: "ok", Components: make(map[string]string, len(s.checks))}

	for name, p := range s.checks {
		cctx, cancel := context.WithTimeout(ctx, s.timeout)
		err := p.Ping(cctx)
		cancel()
		if err != nil {
			report.Components[name] = err.Error()
			report.Status = "unavailable"
			continue
		}
		report.Components[name] = "ok"
	}

	if s.provider != nil {
		stats := s.provider.Stats()
		report.Provider = &stats
		if stats.State == provider.StateCircuitOpen.String() && report.Status == "ok" {
			report.Status = "degraded"
		}
	}
	return report
}
