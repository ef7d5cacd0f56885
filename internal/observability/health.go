package observability

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const healthCheckTimeout = 3 * time.Second

// HealthChecker aggregates readiness from multiple dependencies.
type HealthChecker struct {
	mu     sync.RWMutex
	checks []HealthCheck
	logger *slog.Logger
}

// HealthCheck is a named dependency check.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthStatus is the JSON response for health/readiness endpoints.
type HealthStatus struct {
	Status string                 `json:"status"` // "ok" or "degraded"
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// HTTPStatus maps the status to a probe response code.
func (s HealthStatus) HTTPStatus() int {
	if s.Status == "ok" {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}

// CheckResult is the status of a single dependency check.
type CheckResult struct {
	Status   string `json:"status"`            // "ok" or "fail"
	Message  string `json:"message,omitempty"` // Error message on failure.
	Duration string `json:"duration"`
}

// NewHealthChecker creates a HealthChecker with no checks registered.
func NewHealthChecker(logger *slog.Logger) *HealthChecker {
	return &HealthChecker{logger: logger}
}

// AddCheck registers a named readiness check.
func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, HealthCheck{Name: name, Check: check})
}

// CheckHealth returns liveness status. Always "ok" while the process runs.
func (h *HealthChecker) CheckHealth() HealthStatus {
	return HealthStatus{Status: "ok"}
}

// CheckReady runs all registered checks concurrently and returns aggregate
// readiness: "ok" only if every check passes.
func (h *HealthChecker) CheckReady(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	if len(checks) == 0 {
		return HealthStatus{Status: "ok"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	results := make([]CheckResult, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			err := c.Check(checkCtx)
			res := CheckResult{Status: "ok", Duration: time.Since(start).Round(time.Microsecond).String()}
			if err != nil {
				res.Status, res.Message = "fail", err.Error()
			}
			results[i] = res
		}()
	}
	wg.Wait()

	status := HealthStatus{Status: "ok", Checks: make(map[string]CheckResult, len(checks))}
	for i, c := range checks {
		status.Checks[c.Name] = results[i]
		if results[i].Status == "ok" {
			continue
		}
		status.Status = "degraded"
		if h.logger != nil {
			h.logger.Warn("readiness check failed",
				slog.String("check", c.Name),
				slog.String("error", results[i].Message),
			)
		}
	}
	return status
}
