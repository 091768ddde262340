package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/conneroisu/modserve/internal/logging"
	"github.com/conneroisu/modserve/internal/version"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
)

// HealthCheck represents a single health check
type HealthCheck struct {
	Name        string                 `json:"name"`
	Status      HealthStatus           `json:"status"`
	Message     string                 `json:"message,omitempty"`
	LastChecked time.Time              `json:"last_checked"`
	Duration    time.Duration          `json:"duration"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Critical    bool                   `json:"critical"`
}

// HealthChecker defines the interface for health check functions
type HealthChecker interface {
	Check(ctx context.Context) HealthCheck
	Name() string
	IsCritical() bool
}

// HealthCheckFunc is a function that implements HealthChecker
type HealthCheckFunc struct {
	name     string
	checkFn  func(ctx context.Context) HealthCheck
	critical bool
}

// Check executes the health check function
func (h *HealthCheckFunc) Check(ctx context.Context) HealthCheck {
	return h.checkFn(ctx)
}

// Name returns the health check name
func (h *HealthCheckFunc) Name() string {
	return h.name
}

// IsCritical returns whether this check is critical
func (h *HealthCheckFunc) IsCritical() bool {
	return h.critical
}

// NewHealthCheckFunc creates a new health check function
func NewHealthCheckFunc(
	name string,
	critical bool,
	checkFn func(ctx context.Context) HealthCheck,
) *HealthCheckFunc {
	return &HealthCheckFunc{
		name:     name,
		checkFn:  checkFn,
		critical: critical,
	}
}

// HealthMonitor runs registered checks on demand.
type HealthMonitor struct {
	checks  []HealthChecker
	mutex   sync.RWMutex
	logger  logging.Logger
	timeout time.Duration
	started time.Time
}

// HealthResponse represents the overall health response
type HealthResponse struct {
	Status    HealthStatus           `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]HealthCheck `json:"checks"`
	Platform  string                 `json:"platform"`
	PID       int                    `json:"pid"`
}

// NewHealthMonitor creates a new health monitor
func NewHealthMonitor(logger logging.Logger) *HealthMonitor {
	if logger == nil {
		logger = logging.Nop()
	}

	return &HealthMonitor{
		logger:  logger.WithComponent("health_monitor"),
		timeout: 5 * time.Second,
		started: time.Now(),
	}
}

// RegisterCheck registers a health check
func (hm *HealthMonitor) RegisterCheck(checker HealthChecker) {
	hm.mutex.Lock()
	defer hm.mutex.Unlock()

	hm.checks = append(hm.checks, checker)
}

// Check runs every registered check concurrently and aggregates the result.
func (hm *HealthMonitor) Check(ctx context.Context) HealthResponse {
	hm.mutex.RLock()
	checks := append([]HealthChecker(nil), hm.checks...)
	hm.mutex.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, hm.timeout)
	defer cancel()

	results := make([]HealthCheck, len(checks))
	var wg sync.WaitGroup
	for i, checker := range checks {
		wg.Add(1)
		go func(i int, checker HealthChecker) {
			defer wg.Done()

			start := time.Now()
			result := checker.Check(ctx)
			result.Name = checker.Name()
			result.Critical = checker.IsCritical()
			result.Duration = time.Since(start)
			result.LastChecked = time.Now()
			results[i] = result
		}(i, checker)
	}
	wg.Wait()

	byName := make(map[string]HealthCheck, len(results))
	for _, result := range results {
		byName[result.Name] = result
		if result.Status != HealthStatusHealthy {
			hm.logger.Warn(ctx, nil, "Health check failed",
				"name", result.Name,
				"status", string(result.Status),
				"message", result.Message)
		}
	}

	return HealthResponse{
		Status:    overallStatus(results),
		Timestamp: time.Now(),
		Version:   version.GetShortVersion(),
		Uptime:    time.Since(hm.started).Round(time.Second).String(),
		Checks:    byName,
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		PID:       os.Getpid(),
	}
}

// overallStatus is unhealthy if a critical check is unhealthy, degraded if
// any other check is not healthy.
func overallStatus(checks []HealthCheck) HealthStatus {
	status := HealthStatusHealthy
	for _, check := range checks {
		switch {
		case check.Critical && check.Status == HealthStatusUnhealthy:
			return HealthStatusUnhealthy
		case check.Status != HealthStatusHealthy:
			status = HealthStatusDegraded
		}
	}

	return status
}

// HTTPHandler returns an HTTP handler for health checks
func (hm *HealthMonitor) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := hm.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if health.Status == HealthStatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(health); err != nil {
			hm.logger.Error(r.Context(), err, "Failed to encode health response")
		}
	}
}

// RootsHealthChecker checks that every mapped root directory is readable.
func RootsHealthChecker(roots []string) HealthChecker {
	return NewHealthCheckFunc("static_roots", true, func(ctx context.Context) HealthCheck {
		var missing []string
		for _, root := range roots {
			info, err := os.Stat(root)
			if err != nil || !info.IsDir() {
				missing = append(missing, root)
			}
		}
		sort.Strings(missing)

		if len(missing) == len(roots) && len(roots) > 0 {
			return HealthCheck{
				Status:   HealthStatusUnhealthy,
				Message:  "No mapped root directory is readable",
				Metadata: map[string]interface{}{"missing": missing},
			}
		}
		if len(missing) > 0 {
			return HealthCheck{
				Status:   HealthStatusDegraded,
				Message:  fmt.Sprintf("%d mapped root(s) missing", len(missing)),
				Metadata: map[string]interface{}{"missing": missing},
			}
		}

		return HealthCheck{
			Status:   HealthStatusHealthy,
			Message:  "All mapped roots are readable",
			Metadata: map[string]interface{}{"roots": len(roots)},
		}
	})
}

// GoroutineHealthChecker checks for goroutine leaks, typically from
// streams that never observed client disconnects.
func GoroutineHealthChecker() HealthChecker {
	return NewHealthCheckFunc("goroutines", false, func(ctx context.Context) HealthCheck {
		goroutines := runtime.NumGoroutine()

		status := HealthStatusHealthy
		message := "Goroutine count is normal"

		if goroutines > 1000 {
			status = HealthStatusDegraded
			message = fmt.Sprintf("High goroutine count: %d", goroutines)
		}

		if goroutines > 10000 {
			status = HealthStatusUnhealthy
			message = fmt.Sprintf("Very high goroutine count: %d", goroutines)
		}

		return HealthCheck{
			Status:   status,
			Message:  message,
			Metadata: map[string]interface{}{"count": goroutines},
		}
	})
}
