package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
)

// HealthChecker provides health check functionality
type HealthChecker struct {
	db    *sql.DB
	redis *redis.Client
}

// NewHealthChecker creates a new health checker. The redis client may be nil
// when caching is disabled.
func NewHealthChecker(db *sql.DB, redis *redis.Client) *HealthChecker {
	return &HealthChecker{
		db:    db,
		redis: redis,
	}
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Healthy   bool                       `json:"healthy"`
	Timestamp time.Time                  `json:"timestamp"`
	Checks    map[string]ComponentStatus `json:"checks"`
}

// ComponentStatus represents the status of a single component
type ComponentStatus struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency"`
}

// Check runs all health checks
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Healthy:   true,
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]ComponentStatus),
	}

	status.Checks["postgres"] = h.checkPostgres(ctx)
	if h.redis != nil {
		status.Checks["redis"] = h.checkRedis(ctx)
	}

	for _, check := range status.Checks {
		if !check.Healthy {
			status.Healthy = false
		}
	}

	return status
}

func (h *HealthChecker) checkPostgres(ctx context.Context) ComponentStatus {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		return ComponentStatus{Healthy: false, Message: err.Error(), Latency: time.Since(start).String()}
	}
	return ComponentStatus{Healthy: true, Latency: time.Since(start).String()}
}

func (h *HealthChecker) checkRedis(ctx context.Context) ComponentStatus {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := h.redis.Ping(ctx).Err(); err != nil {
		return ComponentStatus{Healthy: false, Message: err.Error(), Latency: time.Since(start).String()}
	}
	return ComponentStatus{Healthy: true, Latency: time.Since(start).String()}
}

// Handler returns an HTTP handler serving the health status as JSON.
// Unhealthy status maps to 503.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := h.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if !status.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(status)
	})
}
