package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthMonitor_Check(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name  string
		roots []string
		want  HealthStatus
	}{
		{"all roots present", []string{dir}, HealthStatusHealthy},
		{"some roots missing", []string{dir, filepath.Join(dir, "missing")}, HealthStatusDegraded},
		{"all roots missing", []string{filepath.Join(dir, "missing")}, HealthStatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hm := NewHealthMonitor(nil)
			hm.RegisterCheck(RootsHealthChecker(tt.roots))
			hm.RegisterCheck(GoroutineHealthChecker())

			health := hm.Check(context.Background())
			assert.Equal(t, tt.want, health.Status)
			assert.Len(t, health.Checks, 2)
			assert.True(t, health.Checks["static_roots"].Critical)
		})
	}
}

func TestHealthMonitor_NonCriticalFailureDegrades(t *testing.T) {
	hm := NewHealthMonitor(nil)
	hm.RegisterCheck(NewHealthCheckFunc("flaky", false, func(context.Context) HealthCheck {
		return HealthCheck{Status: HealthStatusUnhealthy}
	}))

	assert.Equal(t, HealthStatusDegraded, hm.Check(context.Background()).Status)
}

func TestHealthMonitor_HTTPHandler(t *testing.T) {
	hm := NewHealthMonitor(nil)
	hm.RegisterCheck(RootsHealthChecker([]string{"/definitely/not/here"}))

	rec := httptest.NewRecorder()
	hm.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/_modserve/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, HealthStatusUnhealthy, body.Status)
	assert.NotEmpty(t, body.Version)
}
