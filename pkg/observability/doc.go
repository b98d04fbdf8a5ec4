// Package observability provides logging, metrics, health checks,
// OpenTelemetry setup and graceful shutdown for the gatehouse service.
//
// The Logger is a thin wrapper around log/slog that emits JSON and
// supports structured fields:
//
//	logger := observability.NewLogger(observability.LogLevelInfo, os.Stdout)
//	logger.WithField("organization_id", orgID).Info("invitation created")
//
// Metrics are registered against a Prometheus registry and exposed via
// Metrics.Handler(). HealthChecker reports database and Redis
// connectivity for readiness probes. ShutdownManager coordinates
// signal handling and ordered teardown of servers and background jobs.
package observability
