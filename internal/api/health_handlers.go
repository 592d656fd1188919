package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

// HealthChecker defines the interface for components that can be health checked.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ReadyTimeout bounds the combined readiness checks.
const ReadyTimeout = 5 * time.Second

// HealthHandlers provides health and readiness check endpoints for Kubernetes.
type HealthHandlers struct {
	checkers       map[string]HealthChecker
	metricsEnabled bool
}

// HealthHandlersConfig configures the health check handlers. Checkers is keyed
// by the name reported in the readiness response (database, dynamodb, redis,
// bucket, identify). Nil entries are skipped.
type HealthHandlersConfig struct {
	Checkers       map[string]HealthChecker
	MetricsEnabled bool
}

// NewHealthHandlers creates a new health check handler.
func NewHealthHandlers(config HealthHandlersConfig) *HealthHandlers {
	checkers := make(map[string]HealthChecker, len(config.Checkers))
	for name, c := range config.Checkers {
		if c != nil {
			checkers[name] = c
		}
	}
	return &HealthHandlers{
		checkers:       checkers,
		metricsEnabled: config.MetricsEnabled,
	}
}

// HealthResponse represents the JSON response for health checks.
type HealthResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Health handles GET /health (liveness).
// Returns 200 if the process can serve requests; dependencies are not checked.
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Checks:    map[string]string{"runtime": "ok"},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	writeHealth(w, http.StatusOK, response)
}

// Ready handles GET /ready (readiness).
// Returns 503 if any configured dependency fails its check.
func (h *HealthHandlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), ReadyTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checkers))
	for name := range h.checkers {
		names = append(names, name)
	}
	sort.Strings(names)

	checks := make(map[string]string, len(names)+1)
	healthy := true
	for _, name := range names {
		if err := h.checkers[name].HealthCheck(ctx); err != nil {
			checks[name] = "error"
			healthy = false
			slog.WarnContext(ctx, "health check failed", "check", name, "error", err)
			continue
		}
		checks[name] = "ok"
	}

	if h.metricsEnabled {
		checks["metrics"] = "ok"
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !healthy {
		status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	}

	writeHealth(w, statusCode, HealthResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func writeHealth(w http.ResponseWriter, status int, response HealthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("failed to encode health response", "error", err)
	}
}
